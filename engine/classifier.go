/*
classifier.go - Dual-basis fiscal year classification

PURPOSE:
  Decides, for reporting, which fiscal year each persisted allocation
  counts toward. Two different rules apply depending on the target:

  ACCRUAL RULE (bucket allocations):
    Counted iff the target bucket's own assigned fiscal period falls
    in year Y — regardless of when the money arrived. A January 2026
    payment against a December 2025 dues month counts for 2025.

  CASH RULE (credit allocations):
    Counted iff the payment date falls within year Y's bounds —
    regardless of what the money is logically tied to.

  The result is "total counted for fiscal year Y", which is distinct
  from raw money received during Y.
*/
package engine

// =============================================================================
// CLASSIFIER
// =============================================================================

// Classifier applies the dual-basis rules against a fiscal calendar.
// Read-only and safe for concurrent use.
type Classifier struct {
	calendar FiscalCalendar
}

func NewClassifier(calendar FiscalCalendar) *Classifier {
	return &Classifier{calendar: calendar}
}

// ClassifiedTotals breaks the counted total down by rule.
type ClassifiedTotals struct {
	FiscalYear int

	// Accrued is the sum of bucket allocations assigned to the year.
	Accrued Centavos

	// Cash is the signed sum of credit allocations whose payment date
	// falls in the year (credit banked positive, credit drawn negative).
	Cash Centavos
}

// Counted is the total recognized for the fiscal year.
func (t ClassifiedTotals) Counted() Centavos { return t.Accrued + t.Cash }

// Classify computes the counted totals for fiscal year y over a set
// of persisted payments.
func (c *Classifier) Classify(payments []Payment, y int) ClassifiedTotals {
	totals := ClassifiedTotals{FiscalYear: y}
	for _, p := range payments {
		for _, a := range p.Allocations {
			switch a.Target {
			case TargetBucket:
				if a.BucketPeriod.Year == y {
					totals.Accrued += a.Amount
				}
			default:
				if c.calendar.Contains(y, p.Date) {
					totals.Cash += a.Amount
				}
			}
		}
	}
	return totals
}

// CountedTotal is the single-number form of Classify.
func (c *Classifier) CountedTotal(payments []Payment, y int) Centavos {
	return c.Classify(payments, y).Counted()
}
