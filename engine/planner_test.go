package engine_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vecinal/billing-engine/engine"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

var testUnit = engine.UnitRef{ClientID: "club-1", UnitID: "unit-7"}

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func duesBucket(id string, y int, m time.Month, base, penalty engine.Centavos) engine.ChargeBucket {
	return engine.ChargeBucket{
		ID:      engine.BucketID(id),
		Unit:    testUnit,
		Module:  engine.ModuleDues,
		Period:  engine.FiscalPeriod{Year: y, Month: m},
		DueDate: date(y, m, 1),
		Base:    base,
		Penalty: penalty,
	}
}

func waterBucket(id string, billDate time.Time, base engine.Centavos) engine.ChargeBucket {
	return engine.ChargeBucket{
		ID:      engine.BucketID(id),
		Unit:    testUnit,
		Module:  engine.ModuleWater,
		Period:  engine.PeriodOf(billDate),
		DueDate: billDate,
		Base:    base,
	}
}

func bucketAllocs(plan *engine.Plan) map[engine.BucketID]engine.Allocation {
	out := make(map[engine.BucketID]engine.Allocation)
	for _, a := range plan.Allocations {
		if a.Target == engine.TargetBucket {
			out[a.BucketID] = a
		}
	}
	return out
}

// =============================================================================
// CANONICAL SCENARIOS
// =============================================================================

func TestPlanner_PartialPayment_PenaltyFirst(t *testing.T) {
	// GIVEN: One dues month owing 200 penalty + 4800 base
	// WHEN: Paying 3000
	// THEN: Penalty is cleared first, the rest goes to base, no credit moves

	planner := engine.NewPlanner(nil)
	buckets := []engine.ChargeBucket{
		duesBucket("b-jan", 2026, time.January, 4800, 200),
	}

	plan, err := planner.Plan(buckets, 0, 3000, date(2026, time.February, 10))
	require.NoError(t, err)

	allocs := bucketAllocs(plan)
	require.Len(t, allocs, 1)
	a := allocs["b-jan"]
	assert.Equal(t, engine.Centavos(3000), a.Amount)
	assert.Equal(t, engine.Centavos(200), a.Penalty)
	assert.Equal(t, engine.Centavos(2800), a.Base)

	assert.Equal(t, engine.Centavos(0), plan.CreditUsed)
	assert.Equal(t, engine.Centavos(0), plan.CreditAdded)
	assert.Equal(t, engine.Centavos(0), plan.NewCreditBalance)
}

func TestPlanner_CreditCoversShortfall(t *testing.T) {
	// GIVEN: One bucket with 2200 remaining and a 1000 credit balance
	// WHEN: Paying 1500
	// THEN: The bucket is fully covered; 700 is drawn from credit,
	//       leaving a 300 balance

	planner := engine.NewPlanner(nil)
	b := duesBucket("b-feb", 2026, time.February, 2200, 0)

	plan, err := planner.Plan([]engine.ChargeBucket{b}, 1000, 1500, date(2026, time.March, 5))
	require.NoError(t, err)

	allocs := bucketAllocs(plan)
	require.Len(t, allocs, 1)
	assert.Equal(t, engine.Centavos(2200), allocs["b-feb"].Amount)

	assert.Equal(t, engine.Centavos(700), plan.CreditUsed)
	assert.Equal(t, engine.Centavos(0), plan.CreditAdded)
	assert.Equal(t, engine.Centavos(300), plan.NewCreditBalance)
}

func TestPlanner_SurplusBankedAsCredit(t *testing.T) {
	// GIVEN: One bucket with 4000 remaining and no credit
	// WHEN: Paying 10000
	// THEN: 4000 goes to the bucket and 6000 is banked as credit

	planner := engine.NewPlanner(nil)
	b := duesBucket("b-mar", 2026, time.March, 4000, 0)

	plan, err := planner.Plan([]engine.ChargeBucket{b}, 0, 10000, date(2026, time.March, 20))
	require.NoError(t, err)

	assert.Equal(t, engine.Centavos(0), plan.CreditUsed)
	assert.Equal(t, engine.Centavos(6000), plan.CreditAdded)
	assert.Equal(t, engine.Centavos(6000), plan.NewCreditBalance)

	// The credit line is the last allocation and carries the surplus.
	last := plan.Allocations[len(plan.Allocations)-1]
	assert.Equal(t, engine.TargetCredit, last.Target)
	assert.Equal(t, engine.Centavos(6000), last.Amount)
}

func TestPlanner_NoBuckets_EverythingBecomesCredit(t *testing.T) {
	// GIVEN: No outstanding buckets
	// WHEN: Paying 5000
	// THEN: The whole payment is banked as credit

	planner := engine.NewPlanner(nil)

	plan, err := planner.Plan(nil, 0, 5000, date(2026, time.April, 1))
	require.NoError(t, err)

	assert.Empty(t, bucketAllocs(plan))
	assert.Equal(t, engine.Centavos(5000), plan.CreditAdded)
	assert.Equal(t, engine.Centavos(5000), plan.NewCreditBalance)
}

// =============================================================================
// QUEUE ORDERING
// =============================================================================

func TestPlanner_AllPenaltiesBeforeAnyBase(t *testing.T) {
	// GIVEN: Two dues months, both with penalties
	// WHEN: Paying just enough to cover both penalties plus a bit
	// THEN: Both penalties are cleared before any base is touched,
	//       and the leftover lands on the oldest base

	planner := engine.NewPlanner(nil)
	buckets := []engine.ChargeBucket{
		duesBucket("b-jan", 2026, time.January, 5000, 300),
		duesBucket("b-feb", 2026, time.February, 5000, 150),
	}

	plan, err := planner.Plan(buckets, 0, 550, date(2026, time.March, 1))
	require.NoError(t, err)

	allocs := bucketAllocs(plan)
	require.Len(t, allocs, 2)
	assert.Equal(t, engine.Centavos(300), allocs["b-jan"].Penalty)
	assert.Equal(t, engine.Centavos(150), allocs["b-feb"].Penalty)
	assert.Equal(t, engine.Centavos(100), allocs["b-jan"].Base)
	assert.Equal(t, engine.Centavos(0), allocs["b-feb"].Base)
}

func TestPlanner_OldestFirstAcrossModules(t *testing.T) {
	// GIVEN: A January dues month and an older December water bill
	// WHEN: Paying enough to cover only one
	// THEN: The older water bill is paid first

	planner := engine.NewPlanner(nil)
	water := waterBucket("w-dec", date(2025, time.December, 15), 1200)
	dues := duesBucket("b-jan", 2026, time.January, 1200, 0)

	plan, err := planner.Plan([]engine.ChargeBucket{dues, water}, 0, 1200, date(2026, time.February, 1))
	require.NoError(t, err)

	allocs := bucketAllocs(plan)
	require.Len(t, allocs, 1)
	assert.Equal(t, engine.Centavos(1200), allocs["w-dec"].Amount)
}

func TestPlanner_SameDateTie_DuesBeforeWater(t *testing.T) {
	// GIVEN: A dues month and a water bill due the same day
	// WHEN: Paying enough to cover only one
	// THEN: The module priority table breaks the tie: dues wins

	planner := engine.NewPlanner(nil)
	dueDay := date(2026, time.January, 1)
	dues := duesBucket("b-jan", 2026, time.January, 1000, 0)
	water := waterBucket("w-jan", dueDay, 1000)

	plan, err := planner.Plan([]engine.ChargeBucket{water, dues}, 0, 1000, date(2026, time.January, 10))
	require.NoError(t, err)

	allocs := bucketAllocs(plan)
	require.Len(t, allocs, 1)
	assert.Contains(t, allocs, engine.BucketID("b-jan"))
}

func TestPlanner_SameDateTie_RespectsInjectedPriority(t *testing.T) {
	// GIVEN: A priority table that ranks water above dues
	// WHEN: Both are due the same day and money covers only one
	// THEN: Water is paid first

	planner := engine.NewPlanner(engine.ModulePriority{
		engine.ModuleWater: 0,
		engine.ModuleDues:  1,
	})
	dueDay := date(2026, time.January, 1)
	dues := duesBucket("b-jan", 2026, time.January, 1000, 0)
	water := waterBucket("w-jan", dueDay, 1000)

	plan, err := planner.Plan([]engine.ChargeBucket{dues, water}, 0, 1000, date(2026, time.January, 10))
	require.NoError(t, err)

	allocs := bucketAllocs(plan)
	require.Len(t, allocs, 1)
	assert.Contains(t, allocs, engine.BucketID("w-jan"))
}

// =============================================================================
// INVARIANTS
// =============================================================================

func TestPlanner_SumInvariant(t *testing.T) {
	// GIVEN: A mixed set of buckets and a credit balance
	// WHEN: Planning any payment
	// THEN: The signed sum of allocations equals the payment amount

	planner := engine.NewPlanner(nil)
	buckets := []engine.ChargeBucket{
		duesBucket("b-jan", 2026, time.January, 4800, 200),
		duesBucket("b-feb", 2026, time.February, 4800, 0),
		waterBucket("w-jan", date(2026, time.January, 20), 900),
	}

	for _, amount := range []engine.Centavos{1, 500, 5000, 10700, 50000} {
		plan, err := planner.Plan(buckets, 1000, amount, date(2026, time.March, 1))
		require.NoError(t, err)

		var sum engine.Centavos
		for _, a := range plan.Allocations {
			sum += a.Amount
		}
		assert.Equal(t, amount, sum, "amount %d", amount)
		assert.False(t, plan.CreditUsed > 0 && plan.CreditAdded > 0,
			"credit used and added must never both be set")
	}
}

func TestPlanner_RejectsNonPositiveAmount(t *testing.T) {
	// GIVEN: Any state
	// WHEN: Planning a zero or negative payment
	// THEN: ErrInvalidAmount

	planner := engine.NewPlanner(nil)

	_, err := planner.Plan(nil, 0, 0, date(2026, time.January, 1))
	assert.ErrorIs(t, err, engine.ErrInvalidAmount)

	_, err = planner.Plan(nil, 0, -100, date(2026, time.January, 1))
	assert.ErrorIs(t, err, engine.ErrInvalidAmount)
}

func TestPlanner_DoesNotMutateInputs(t *testing.T) {
	// GIVEN: A bucket slice
	// WHEN: Planning
	// THEN: The input buckets are unchanged

	planner := engine.NewPlanner(nil)
	b := duesBucket("b-jan", 2026, time.January, 4800, 200)
	buckets := []engine.ChargeBucket{b}

	_, err := planner.Plan(buckets, 0, 3000, date(2026, time.February, 1))
	require.NoError(t, err)

	assert.Equal(t, b, buckets[0])
}

func TestPlanner_ObservedSnapshotCoversAllBuckets(t *testing.T) {
	// GIVEN: Several outstanding buckets
	// WHEN: Planning
	// THEN: The plan snapshots each bucket's remaining for the
	//       recorder's staleness check

	planner := engine.NewPlanner(nil)
	buckets := []engine.ChargeBucket{
		duesBucket("b-jan", 2026, time.January, 1000, 0),
		duesBucket("b-feb", 2026, time.February, 1000, 0),
	}

	plan, err := planner.Plan(buckets, 0, 500, date(2026, time.March, 1))
	require.NoError(t, err)

	require.Len(t, plan.Observed, 2)
	for i, obs := range plan.Observed {
		assert.Equal(t, buckets[i].ID, obs.BucketID)
		assert.Equal(t, buckets[i].Remaining(), obs.Remaining)
	}
}

func TestValidatePlan_RejectsBrokenBreakdown(t *testing.T) {
	// GIVEN: A hand-built plan whose penalty/base breakdown disagrees
	//        with the allocation amount
	// WHEN: Validating
	// THEN: ErrPlanMismatch

	plan := &engine.Plan{
		Unit:   testUnit,
		Amount: 1000,
		Allocations: []engine.Allocation{
			{Target: engine.TargetBucket, BucketID: "b-1", Amount: 1000, Penalty: 100, Base: 800},
		},
	}
	assert.ErrorIs(t, engine.ValidatePlan(plan), engine.ErrPlanMismatch)
}

func TestValidatePlan_RejectsCreditDrawBeyondObservedBalance(t *testing.T) {
	// GIVEN: A hand-built plan drawing 700 credit against a unit that
	//        observed a zero balance
	// WHEN: Validating
	// THEN: ErrPlanMismatch, even though the signed sum checks out

	plan := &engine.Plan{
		Unit:            testUnit,
		Amount:          300,
		CreditUsed:      700,
		ObservedBalance: 0,
		Allocations: []engine.Allocation{
			{Target: engine.TargetBucket, BucketID: "b-1", Amount: 1000, Base: 1000},
			{Target: engine.TargetCredit, Amount: -700},
		},
	}
	assert.ErrorIs(t, engine.ValidatePlan(plan), engine.ErrPlanMismatch)
}

func TestValidatePlan_CreditLinesMustMatchCreditFields(t *testing.T) {
	// GIVEN: A plan with a +500 credit line but zeroed credit fields
	// WHEN: Validating
	// THEN: ErrPlanMismatch; otherwise the recorder would persist a
	//       payment claiming a credit movement that never hits the ledger

	plan := &engine.Plan{
		Unit:   testUnit,
		Amount: 1500,
		Allocations: []engine.Allocation{
			{Target: engine.TargetBucket, BucketID: "b-1", Amount: 1000, Base: 1000},
			{Target: engine.TargetCredit, Amount: 500},
		},
	}
	assert.ErrorIs(t, engine.ValidatePlan(plan), engine.ErrPlanMismatch)
}

func TestValidatePlan_RejectsUnknownTarget(t *testing.T) {
	// GIVEN: A plan with an allocation targeting neither bucket nor credit
	// WHEN: Validating
	// THEN: ErrPlanMismatch

	plan := &engine.Plan{
		Unit:   testUnit,
		Amount: 100,
		Allocations: []engine.Allocation{
			{Target: "refund", Amount: 100},
		},
	}
	assert.ErrorIs(t, engine.ValidatePlan(plan), engine.ErrPlanMismatch)
}

func TestValidatePlan_RejectsBothCreditMovements(t *testing.T) {
	// GIVEN: A plan claiming both credit used and credit added
	// WHEN: Validating
	// THEN: ErrPlanMismatch

	plan := &engine.Plan{
		Unit:        testUnit,
		Amount:      1000,
		CreditUsed:  200,
		CreditAdded: 300,
		Allocations: []engine.Allocation{
			{Target: engine.TargetCredit, Amount: 1000},
		},
	}
	assert.ErrorIs(t, engine.ValidatePlan(plan), engine.ErrPlanMismatch)
}
