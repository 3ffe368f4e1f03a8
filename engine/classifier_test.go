package engine_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/vecinal/billing-engine/engine"
)

// =============================================================================
// DUAL-BASIS CLASSIFICATION
// =============================================================================

func paymentWith(day time.Time, allocs ...engine.Allocation) engine.Payment {
	var sum engine.Centavos
	for _, a := range allocs {
		sum += a.Amount
	}
	return engine.Payment{
		ID:          "p-1",
		Unit:        testUnit,
		Amount:      sum,
		Date:        day,
		Allocations: allocs,
	}
}

func TestClassifier_BucketAllocations_FollowBucketPeriod(t *testing.T) {
	// GIVEN: A January 2026 payment applied to a December 2025 dues month
	// WHEN: Classifying 2025 and 2026
	// THEN: The bucket allocation counts for 2025 (accrual rule), not
	//       for 2026, regardless of when the money arrived

	c := engine.NewClassifier(engine.DefaultFiscalCalendar())
	p := paymentWith(date(2026, time.January, 10),
		engine.Allocation{
			Target:       engine.TargetBucket,
			BucketID:     "b-dec",
			Amount:       5000,
			Base:         5000,
			BucketPeriod: engine.FiscalPeriod{Year: 2025, Month: time.December},
			BucketModule: engine.ModuleDues,
		},
	)

	totals2025 := c.Classify([]engine.Payment{p}, 2025)
	assert.Equal(t, engine.Centavos(5000), totals2025.Accrued)
	assert.Equal(t, engine.Centavos(0), totals2025.Cash)

	totals2026 := c.Classify([]engine.Payment{p}, 2026)
	assert.Equal(t, engine.Centavos(0), totals2026.Accrued)
	assert.Equal(t, engine.Centavos(0), totals2026.Cash)
}

func TestClassifier_CreditAllocations_FollowPaymentDate(t *testing.T) {
	// GIVEN: A December 2025 overpayment banking 2000 credit, and a
	//        January 2026 payment drawing 500 of it
	// WHEN: Classifying each year
	// THEN: The banked credit counts cash-basis for 2025 and the
	//       drawdown counts negative for 2026

	c := engine.NewClassifier(engine.DefaultFiscalCalendar())
	banked := paymentWith(date(2025, time.December, 20),
		engine.Allocation{Target: engine.TargetCredit, Amount: 2000},
	)
	drawn := paymentWith(date(2026, time.January, 15),
		engine.Allocation{
			Target:       engine.TargetBucket,
			BucketID:     "b-jan",
			Amount:       1500,
			Base:         1500,
			BucketPeriod: engine.FiscalPeriod{Year: 2026, Month: time.January},
		},
		engine.Allocation{Target: engine.TargetCredit, Amount: -500},
	)
	payments := []engine.Payment{banked, drawn}

	totals2025 := c.Classify(payments, 2025)
	assert.Equal(t, engine.Centavos(0), totals2025.Accrued)
	assert.Equal(t, engine.Centavos(2000), totals2025.Cash)

	totals2026 := c.Classify(payments, 2026)
	assert.Equal(t, engine.Centavos(1500), totals2026.Accrued)
	assert.Equal(t, engine.Centavos(-500), totals2026.Cash)
	assert.Equal(t, engine.Centavos(1000), totals2026.Counted())
}

func TestClassifier_ShiftedFiscalYear(t *testing.T) {
	// GIVEN: A fiscal calendar starting in July
	// WHEN: Classifying a credit banked in March 2026
	// THEN: It counts for fiscal 2025 (Jul 2025 - Jun 2026)

	c := engine.NewClassifier(engine.FiscalCalendar{StartMonth: time.July})
	p := paymentWith(date(2026, time.March, 1),
		engine.Allocation{Target: engine.TargetCredit, Amount: 800},
	)

	assert.Equal(t, engine.Centavos(800), c.Classify([]engine.Payment{p}, 2025).Cash)
	assert.Equal(t, engine.Centavos(0), c.Classify([]engine.Payment{p}, 2026).Cash)
}

func TestFiscalCalendar_BoundsAndYearOf(t *testing.T) {
	// GIVEN: A July-start calendar
	// WHEN: Resolving bounds and containing years
	// THEN: Fiscal 2025 spans Jul 1 2025 through Jun 30 2026

	c := engine.FiscalCalendar{StartMonth: time.July}
	start, end := c.Bounds(2025)
	assert.Equal(t, date(2025, time.July, 1), start)
	assert.Equal(t, date(2026, time.June, 30), end)

	assert.True(t, c.Contains(2025, date(2026, time.June, 30)))
	assert.False(t, c.Contains(2025, date(2026, time.July, 1)))
	assert.Equal(t, 2025, c.YearOf(date(2026, time.June, 15)))
	assert.Equal(t, 2026, c.YearOf(date(2026, time.July, 15)))
}
