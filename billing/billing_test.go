package billing_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vecinal/billing-engine/billing"
	"github.com/vecinal/billing-engine/engine"
)

var testUnit = engine.UnitRef{ClientID: "club-1", UnitID: "unit-7"}

var duesCategory = billing.Category{
	Key:         "dues-regular",
	Module:      engine.ModuleDues,
	Label:       "Regular dues",
	MonthlyBase: 48000,
}

var waterCategory = billing.Category{
	Key:         "water",
	Module:      engine.ModuleWater,
	Label:       "Water",
	RatePerUnit: 1500,
}

// =============================================================================
// GENERATION
// =============================================================================

func TestDuesMonth_DueFirstOfMonth(t *testing.T) {
	// GIVEN: A dues category
	// WHEN: Generating March 2026
	// THEN: The bucket is due March 1 with the monthly base and no penalty

	b := billing.DuesMonth(testUnit, duesCategory, engine.FiscalPeriod{Year: 2026, Month: time.March})

	assert.Equal(t, engine.ModuleDues, b.Module)
	assert.Equal(t, time.Date(2026, time.March, 1, 0, 0, 0, 0, time.UTC), b.DueDate)
	assert.Equal(t, engine.Centavos(48000), b.Base)
	assert.Equal(t, engine.Centavos(0), b.Penalty)
	assert.Equal(t, engine.StatusUnpaid, b.Status())
}

func TestDuesYear_TwelveDistinctBuckets(t *testing.T) {
	// GIVEN: A dues category
	// WHEN: Generating a full year
	// THEN: Twelve buckets with unique IDs, one per month

	buckets := billing.DuesYear(testUnit, duesCategory, 2026)
	require.Len(t, buckets, 12)

	seen := make(map[engine.BucketID]bool)
	for i, b := range buckets {
		assert.Equal(t, time.Month(i+1), b.Period.Month)
		assert.False(t, seen[b.ID], "duplicate bucket id %s", b.ID)
		seen[b.ID] = true
	}
}

func TestWaterBill_RateTimesConsumption(t *testing.T) {
	// GIVEN: A 1500 centavos/m³ rate
	// WHEN: Billing 12 m³ on January 20
	// THEN: Base is 18000 and the period follows the bill date

	billDate := time.Date(2026, time.January, 20, 0, 0, 0, 0, time.UTC)
	b := billing.WaterBill(testUnit, waterCategory, billDate, 12)

	assert.Equal(t, engine.ModuleWater, b.Module)
	assert.Equal(t, engine.Centavos(18000), b.Base)
	assert.Equal(t, engine.FiscalPeriod{Year: 2026, Month: time.January}, b.Period)
	assert.Equal(t, billDate, b.DueDate)
}

// =============================================================================
// PENALTIES
// =============================================================================

func TestApplyLatePenalty_SkipsPaidBuckets(t *testing.T) {
	// GIVEN: An open bucket and a fully paid one
	// WHEN: Applying a late penalty
	// THEN: Only the open bucket's penalty grows

	open := billing.DuesMonth(testUnit, duesCategory, engine.FiscalPeriod{Year: 2026, Month: time.January})
	paid := open
	paid.Paid = paid.Base
	paid.PaidBase = paid.Base

	assert.Equal(t, engine.Centavos(2000), billing.ApplyLatePenalty(open, 2000).Penalty)
	assert.Equal(t, engine.Centavos(0), billing.ApplyLatePenalty(paid, 2000).Penalty)
	assert.Equal(t, engine.Centavos(0), billing.ApplyLatePenalty(open, -5).Penalty)
}

// =============================================================================
// LEGACY NORMALIZATION
// =============================================================================

func TestNormalizeBucket_SpanishAliases(t *testing.T) {
	// GIVEN: A legacy document using Spanish field names
	// WHEN: Normalizing
	// THEN: One canonical bucket with paid attributed penalty-first

	doc := billing.LegacyDoc{
		"folio":   "F-1001",
		"monto":   float64(480000),
		"recargo": float64(20000),
		"pagado":  float64(30000),
		"fecha":   "2025-11-01",
		"modulo":  "cuotas",
	}

	b, err := billing.NormalizeBucket(testUnit, doc)
	require.NoError(t, err)

	assert.Equal(t, engine.BucketID("F-1001"), b.ID)
	assert.Equal(t, engine.ModuleDues, b.Module)
	assert.Equal(t, engine.Centavos(480000), b.Base)
	assert.Equal(t, engine.Centavos(20000), b.Penalty)
	assert.Equal(t, engine.Centavos(30000), b.Paid)
	assert.Equal(t, engine.Centavos(20000), b.PaidPenalty)
	assert.Equal(t, engine.Centavos(10000), b.PaidBase)
	assert.Equal(t, engine.FiscalPeriod{Year: 2025, Month: time.November}, b.Period)
}

func TestNormalizeBucket_WaterModuleAndDateFormats(t *testing.T) {
	// GIVEN: A water document with a DD/MM/YYYY date
	// WHEN: Normalizing
	// THEN: The module and date parse correctly

	doc := billing.LegacyDoc{
		"id":     "W-7",
		"amount": float64(9000),
		"date":   "15/01/2026",
		"tipo":   "agua",
	}

	b, err := billing.NormalizeBucket(testUnit, doc)
	require.NoError(t, err)
	assert.Equal(t, engine.ModuleWater, b.Module)
	assert.Equal(t, time.Date(2026, time.January, 15, 0, 0, 0, 0, time.UTC), b.DueDate)
}

func TestNormalizeBucket_RejectsBrokenDocuments(t *testing.T) {
	// GIVEN: Documents missing required fields or with impossible paid
	// WHEN: Normalizing
	// THEN: Each is rejected with a reason, never guessed at

	cases := map[string]billing.LegacyDoc{
		"no id":        {"monto": float64(100), "fecha": "2025-01-01"},
		"no amount":    {"id": "X", "fecha": "2025-01-01"},
		"no date":      {"id": "X", "monto": float64(100)},
		"bad date":     {"id": "X", "monto": float64(100), "fecha": "soon"},
		"fractional":   {"id": "X", "monto": 100.5, "fecha": "2025-01-01"},
		"paid > total": {"id": "X", "monto": float64(100), "pagado": float64(500), "fecha": "2025-01-01"},
	}
	for name, doc := range cases {
		_, err := billing.NormalizeBucket(testUnit, doc)
		assert.Error(t, err, name)
	}
}
