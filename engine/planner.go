/*
planner.go - Pure allocation planning

PURPOSE:
  Computes how one payment should be split across a unit's outstanding
  charge buckets and its credit balance. Planning is side-effect-free:
  any number of previews can run concurrently, and nothing is
  persisted until the recorder commits a plan.

ALGORITHM:
  1. Merge both modules' buckets into one priority queue:
     all penalty remainders oldest-first, then all base remainders
     oldest-first. Same-date cross-module ties break by the injected
     module priority table (dues before water by default).
  2. available = payment amount + current credit balance.
  3. Walk the queue taking min(remainder, available) from each claim.
  4. The difference between what was applied to buckets and the
     payment amount becomes exactly one credit movement: surplus is
     banked (credit_added), shortfall covered from credit is drawn
     down (credit_used). Never both.

INVARIANT:
  The signed sum of all emitted allocations equals the payment amount.
  The planner checks this before returning.
*/
package engine

import (
	"fmt"
	"sort"
	"time"
)

// =============================================================================
// MODULE PRIORITY - Injected tie-break table
// =============================================================================

// ModulePriority orders modules when claims share the same due date.
// Lower rank wins. This is an explicit, constructor-injected table
// rather than process-wide state so deployments can reorder modules
// without rebuilding.
type ModulePriority map[Module]int

// DefaultModulePriority pays dues before water on same-date ties.
func DefaultModulePriority() ModulePriority {
	return ModulePriority{ModuleDues: 0, ModuleWater: 1}
}

func (mp ModulePriority) rank(m Module) int {
	if r, ok := mp[m]; ok {
		return r
	}
	// Unknown modules sort after all configured ones.
	return len(mp) + 1
}

// =============================================================================
// PLAN - Proposed split plus the state snapshot it was computed from
// =============================================================================

// BucketObservation records what the planner saw for one bucket, so
// the recorder can detect staleness before committing.
type BucketObservation struct {
	BucketID  BucketID
	Remaining Centavos
}

// Plan is an ordered list of proposed allocations plus the projected
// credit movement. Plans are values: computing one mutates nothing.
type Plan struct {
	Unit   UnitRef
	Amount Centavos
	Date   time.Time

	Allocations []Allocation

	CreditUsed       Centavos
	CreditAdded      Centavos
	ObservedBalance  Centavos
	NewCreditBalance Centavos

	Observed []BucketObservation
}

// =============================================================================
// PLANNER
// =============================================================================

// Planner computes allocation plans. Pure and safe for concurrent use.
type Planner struct {
	priority ModulePriority
}

func NewPlanner(priority ModulePriority) *Planner {
	if priority == nil {
		priority = DefaultModulePriority()
	}
	return &Planner{priority: priority}
}

// claim is one remainder waiting in the queue: the penalty or base
// portion of a single bucket.
type claim struct {
	bucket    *ChargeBucket
	penalty   bool
	remaining Centavos
}

// Plan computes the split of amount across the given outstanding
// buckets and the current credit balance. It rejects amount <= 0 and
// never mutates its inputs.
func (p *Planner) Plan(buckets []ChargeBucket, creditBalance Centavos, amount Centavos, date time.Time) (*Plan, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidAmount, amount)
	}

	var unit UnitRef
	if len(buckets) > 0 {
		unit = buckets[0].Unit
	}

	queue := p.buildQueue(buckets)

	available := amount + creditBalance
	taken := make(map[BucketID]*Allocation)
	var order []BucketID
	var applied Centavos

	for i := range queue {
		if available == 0 {
			break
		}
		c := &queue[i]
		take := MinCentavos(c.remaining, available)
		if take == 0 {
			continue
		}
		available -= take
		applied += take

		alloc, ok := taken[c.bucket.ID]
		if !ok {
			alloc = &Allocation{
				Target:       TargetBucket,
				BucketID:     c.bucket.ID,
				BucketPeriod: c.bucket.Period,
				BucketModule: c.bucket.Module,
			}
			taken[c.bucket.ID] = alloc
			order = append(order, c.bucket.ID)
		}
		alloc.Amount += take
		if c.penalty {
			alloc.Penalty += take
		} else {
			alloc.Base += take
		}
	}

	plan := &Plan{
		Unit:            unit,
		Amount:          amount,
		Date:            date,
		ObservedBalance: creditBalance,
	}
	for _, id := range order {
		plan.Allocations = append(plan.Allocations, *taken[id])
	}
	for _, b := range buckets {
		plan.Observed = append(plan.Observed, BucketObservation{BucketID: b.ID, Remaining: b.Remaining()})
	}

	// Exactly one of creditUsed / creditAdded is non-zero.
	if applied > amount {
		plan.CreditUsed = applied - amount
		plan.Allocations = append(plan.Allocations, Allocation{Target: TargetCredit, Amount: -plan.CreditUsed})
	} else if applied < amount {
		plan.CreditAdded = amount - applied
		plan.Allocations = append(plan.Allocations, Allocation{Target: TargetCredit, Amount: plan.CreditAdded})
	}
	plan.NewCreditBalance = creditBalance - plan.CreditUsed + plan.CreditAdded

	if err := ValidatePlan(plan); err != nil {
		return nil, err
	}
	return plan, nil
}

// buildQueue merges both modules' buckets into allocation order:
// penalty remainders first, then base remainders, each oldest-first.
func (p *Planner) buildQueue(buckets []ChargeBucket) []claim {
	var penalties, bases []claim
	for i := range buckets {
		b := &buckets[i]
		if r := b.PenaltyRemaining(); r > 0 {
			penalties = append(penalties, claim{bucket: b, penalty: true, remaining: r})
		}
		if r := b.BaseRemaining(); r > 0 {
			bases = append(bases, claim{bucket: b, penalty: false, remaining: r})
		}
	}
	p.sortClaims(penalties)
	p.sortClaims(bases)
	return append(penalties, bases...)
}

func (p *Planner) sortClaims(claims []claim) {
	sort.SliceStable(claims, func(i, j int) bool {
		a, b := claims[i].bucket, claims[j].bucket
		if !a.DueDate.Equal(b.DueDate) {
			return a.DueDate.Before(b.DueDate)
		}
		ra, rb := p.priority.rank(a.Module), p.priority.rank(b.Module)
		if ra != rb {
			return ra < rb
		}
		return a.Seq < b.Seq
	})
}

// =============================================================================
// PLAN VALIDATION
// =============================================================================

// ValidatePlan checks the sum invariant: bucket allocations positive,
// credit_used negative and credit_added positive must net to the
// payment amount. The recorder re-runs this on submitted plans, so
// every check here guards against hand-built plans too: the credit
// lines must agree with the CreditUsed/CreditAdded fields, and a plan
// may never draw more credit than the balance it observed (revalidate
// pins ObservedBalance to the actual ledger before commit).
func ValidatePlan(plan *Plan) error {
	if plan.Amount <= 0 {
		return fmt.Errorf("%w: got %d", ErrInvalidAmount, plan.Amount)
	}
	if plan.CreditUsed < 0 || plan.CreditAdded < 0 {
		return fmt.Errorf("%w: negative credit movement", ErrPlanMismatch)
	}
	if plan.CreditUsed > 0 && plan.CreditAdded > 0 {
		return fmt.Errorf("%w: both credit used and credit added are set", ErrPlanMismatch)
	}
	if plan.CreditUsed > plan.ObservedBalance {
		return fmt.Errorf("%w: credit used %d exceeds observed balance %d",
			ErrPlanMismatch, plan.CreditUsed, plan.ObservedBalance)
	}
	var sum, creditSum Centavos
	for _, a := range plan.Allocations {
		switch a.Target {
		case TargetBucket:
			if a.Amount <= 0 {
				return fmt.Errorf("%w: non-positive bucket allocation", ErrPlanMismatch)
			}
			if a.Penalty+a.Base != a.Amount {
				return fmt.Errorf("%w: penalty/base breakdown does not match amount for bucket %s",
					ErrPlanMismatch, a.BucketID)
			}
		case TargetCredit:
			creditSum += a.Amount
		default:
			return fmt.Errorf("%w: unknown allocation target %q", ErrPlanMismatch, a.Target)
		}
		sum += a.Amount
	}
	if sum != plan.Amount {
		return fmt.Errorf("%w: allocations sum to %d, payment is %d", ErrPlanMismatch, sum, plan.Amount)
	}
	if creditSum != plan.CreditAdded-plan.CreditUsed {
		return fmt.Errorf("%w: credit lines sum to %d, plan claims added %d used %d",
			ErrPlanMismatch, creditSum, plan.CreditAdded, plan.CreditUsed)
	}
	return nil
}
