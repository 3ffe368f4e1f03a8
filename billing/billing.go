/*
Package billing generates charge buckets for the dues and water
modules.

PURPOSE:
  The allocation engine consumes charge buckets; this package is
  where they come from. It builds dues months for a fiscal year,
  water bills from metered consumption, and applies late penalties.

CATEGORY TABLE:
  Charge categories (regular dues, maintenance fund, water) live in a
  constructor-injected CategoryTable value, not process-wide state, so
  each association configures its own rates.
*/
package billing

import (
	"fmt"
	"time"

	"github.com/vecinal/billing-engine/engine"
)

// =============================================================================
// CATEGORY TABLE - Injected charge-category lookup
// =============================================================================

// Category describes one configured charge kind.
type Category struct {
	Key    string
	Module engine.Module
	Label  string
	// MonthlyBase applies to dues categories.
	MonthlyBase engine.Centavos
	// RatePerUnit applies to metered categories (centavos per m³).
	RatePerUnit engine.Centavos
}

// CategoryTable is the injected lookup of configured categories.
type CategoryTable struct {
	categories map[string]Category
}

func NewCategoryTable(categories []Category) *CategoryTable {
	t := &CategoryTable{categories: make(map[string]Category, len(categories))}
	for _, c := range categories {
		t.categories[c.Key] = c
	}
	return t
}

func (t *CategoryTable) Get(key string) (Category, bool) {
	c, ok := t.categories[key]
	return c, ok
}

// =============================================================================
// DUES GENERATION
// =============================================================================

// DuesMonth builds one dues bucket for a unit and fiscal period.
// Due date is the first of the month; penalties start at zero and are
// applied later by ApplyLatePenalty.
func DuesMonth(unit engine.UnitRef, category Category, period engine.FiscalPeriod) engine.ChargeBucket {
	dueDate := time.Date(period.Year, period.Month, 1, 0, 0, 0, 0, time.UTC)
	return engine.ChargeBucket{
		ID:      engine.BucketID(fmt.Sprintf("dues-%s-%s-%s", unit.ClientID, unit.UnitID, period)),
		Unit:    unit,
		Module:  engine.ModuleDues,
		Period:  period,
		DueDate: dueDate,
		Base:    category.MonthlyBase,
	}
}

// DuesYear builds the twelve dues buckets for a fiscal year.
func DuesYear(unit engine.UnitRef, category Category, year int) []engine.ChargeBucket {
	buckets := make([]engine.ChargeBucket, 0, 12)
	for m := time.January; m <= time.December; m++ {
		buckets = append(buckets, DuesMonth(unit, category, engine.FiscalPeriod{Year: year, Month: m}))
	}
	return buckets
}

// =============================================================================
// WATER BILLS
// =============================================================================

// WaterBill builds a water bucket from metered consumption.
// consumed is in the meter's unit (m³); the bill's fiscal period is
// derived from the bill date.
func WaterBill(unit engine.UnitRef, category Category, billDate time.Time, consumed int64) engine.ChargeBucket {
	return engine.ChargeBucket{
		ID: engine.BucketID(fmt.Sprintf("water-%s-%s-%s", unit.ClientID, unit.UnitID,
			billDate.Format("2006-01-02"))),
		Unit:    unit,
		Module:  engine.ModuleWater,
		Period:  engine.PeriodOf(billDate),
		DueDate: billDate,
		Base:    category.RatePerUnit * engine.Centavos(consumed),
	}
}

// =============================================================================
// PENALTIES
// =============================================================================

// ApplyLatePenalty adds a flat late penalty to an unpaid or partial
// bucket. Paid buckets are returned unchanged; penalties on settled
// charges would break the paid <= total invariant.
func ApplyLatePenalty(b engine.ChargeBucket, penalty engine.Centavos) engine.ChargeBucket {
	if b.Status() == engine.StatusPaid || penalty <= 0 {
		return b
	}
	b.Penalty += penalty
	return b
}
