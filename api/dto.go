/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  JSON structures for API communication, decoupling the engine's
  types from the wire contract. Amounts cross the boundary as integer
  centavos, never floats.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
*/
package api

import (
	"time"

	"github.com/vecinal/billing-engine/engine"
)

// =============================================================================
// PLAN / PREVIEW
// =============================================================================

// PreviewRequest asks for an allocation plan. Amount is in centavos.
type PreviewRequest struct {
	Amount int64  `json:"amount"`
	Date   string `json:"date"` // YYYY-MM-DD
}

// AllocationDTO is one line of a plan or recorded payment.
type AllocationDTO struct {
	Target       string `json:"target"` // bucket | credit
	BucketID     string `json:"bucket_id,omitempty"`
	Amount       int64  `json:"amount"`
	Penalty      int64  `json:"penalty,omitempty"`
	Base         int64  `json:"base,omitempty"`
	BucketYear   int    `json:"bucket_year,omitempty"`
	BucketMonth  int    `json:"bucket_month,omitempty"`
	BucketModule string `json:"bucket_module,omitempty"`
}

// ObservationDTO snapshots what the planner saw for one bucket.
type ObservationDTO struct {
	BucketID  string `json:"bucket_id"`
	Remaining int64  `json:"remaining"`
}

// PlanDTO carries a full plan, including the observed state the
// recorder uses for staleness checks, so it can round-trip through
// the client between preview and record.
type PlanDTO struct {
	ClientID         string           `json:"client_id"`
	UnitID           string           `json:"unit_id"`
	Amount           int64            `json:"amount"`
	Date             string           `json:"date"`
	Allocations      []AllocationDTO  `json:"allocations"`
	CreditUsed       int64            `json:"credit_used"`
	CreditAdded      int64            `json:"credit_added"`
	ObservedBalance  int64            `json:"observed_balance"`
	NewCreditBalance int64            `json:"new_credit_balance"`
	Observed         []ObservationDTO `json:"observed"`
}

// =============================================================================
// RECORD
// =============================================================================

// RecordRequest commits a previously previewed plan.
type RecordRequest struct {
	Plan           PlanDTO `json:"plan"`
	IdempotencyKey string  `json:"idempotency_key"`
	Method         string  `json:"method,omitempty"`
	Reference      string  `json:"reference,omitempty"`
}

// RecordResultDTO identifies what a commit created.
type RecordResultDTO struct {
	PaymentID        string   `json:"payment_id"`
	TouchedBucketIDs []string `json:"touched_bucket_ids"`
	LedgerEntryID    string   `json:"ledger_entry_id,omitempty"`
	Replayed         bool     `json:"replayed"`
}

// =============================================================================
// BUCKETS
// =============================================================================

// BucketDTO represents a charge bucket in responses.
type BucketDTO struct {
	ID        string `json:"id"`
	Module    string `json:"module"`
	Year      int    `json:"year"`
	Month     int    `json:"month"`
	DueDate   string `json:"due_date"`
	Base      int64  `json:"base"`
	Penalty   int64  `json:"penalty"`
	Paid      int64  `json:"paid"`
	Remaining int64  `json:"remaining"`
	Status    string `json:"status"`
}

// CreateBucketRequest creates one charge bucket (billing generation).
type CreateBucketRequest struct {
	ID      string `json:"id"`
	Module  string `json:"module"`
	Year    int    `json:"year"`
	Month   int    `json:"month"`
	DueDate string `json:"due_date"`
	Base    int64  `json:"base"`
	Penalty int64  `json:"penalty"`
}

// ImportBucketsRequest normalizes and imports legacy documents.
type ImportBucketsRequest struct {
	Docs []map[string]any `json:"docs"`
}

// ImportBucketsResponse reports what was imported and what needs
// manual review.
type ImportBucketsResponse struct {
	Imported int      `json:"imported"`
	Rejected []string `json:"rejected,omitempty"`
}

// =============================================================================
// LEDGER
// =============================================================================

// EntryDTO represents one credit ledger entry.
type EntryDTO struct {
	ID            string `json:"id"`
	Timestamp     string `json:"timestamp"`
	Type          string `json:"type"`
	Amount        int64  `json:"amount"`
	BalanceBefore int64  `json:"balance_before"`
	BalanceAfter  int64  `json:"balance_after"`
	PaymentID     string `json:"payment_id,omitempty"`
}

// RebuildRequest replays legacy free-text credit history into the
// typed ledger. One-time migration path.
type RebuildRequest struct {
	StartingBalance int64           `json:"starting_balance"`
	StartingAt      string          `json:"starting_at"`
	Notes           []LegacyNoteDTO `json:"notes"`
	// Persist false previews the rebuild without writing entries.
	Persist bool `json:"persist"`
}

type LegacyNoteDTO struct {
	Timestamp string `json:"timestamp"`
	Text      string `json:"text"`
}

// RebuildResponse reports the replayed ledger and anything unparsed.
type RebuildResponse struct {
	Entries      []EntryDTO        `json:"entries"`
	FinalBalance int64             `json:"final_balance"`
	Unparsed     []UnparsedNoteDTO `json:"unparsed,omitempty"`
}

type UnparsedNoteDTO struct {
	Timestamp string `json:"timestamp"`
	Text      string `json:"text"`
	Reason    string `json:"reason"`
}

// =============================================================================
// STATEMENT / REPORTING
// =============================================================================

// StatementLineDTO is one statement row.
type StatementLineDTO struct {
	Date           string `json:"date"`
	Kind           string `json:"kind"`
	Label          string `json:"label"`
	Amount         int64  `json:"amount"`
	RunningBalance int64  `json:"running_balance"`
}

// StatementDTO is the reconstructed statement of account.
type StatementDTO struct {
	ClientID         string             `json:"client_id"`
	UnitID           string             `json:"unit_id"`
	Lines            []StatementLineDTO `json:"lines"`
	FinalBalance     int64              `json:"final_balance"`
	CreditBalance    int64              `json:"credit_balance"`
	TotalDue         int64              `json:"total_due"`
	TotalPaid        int64              `json:"total_paid"`
	TotalOutstanding int64              `json:"total_outstanding"`
}

// ReportDTO is the dual-basis fiscal year report.
type ReportDTO struct {
	FiscalYear int   `json:"fiscal_year"`
	Accrued    int64 `json:"accrued"`
	Cash       int64 `json:"cash"`
	Counted    int64 `json:"counted"`
}

// =============================================================================
// CONVERSIONS
// =============================================================================

func planToDTO(p *engine.Plan) PlanDTO {
	dto := PlanDTO{
		ClientID:         string(p.Unit.ClientID),
		UnitID:           string(p.Unit.UnitID),
		Amount:           int64(p.Amount),
		Date:             p.Date.Format("2006-01-02"),
		CreditUsed:       int64(p.CreditUsed),
		CreditAdded:      int64(p.CreditAdded),
		ObservedBalance:  int64(p.ObservedBalance),
		NewCreditBalance: int64(p.NewCreditBalance),
	}
	for _, a := range p.Allocations {
		dto.Allocations = append(dto.Allocations, allocationToDTO(a))
	}
	for _, o := range p.Observed {
		dto.Observed = append(dto.Observed, ObservationDTO{
			BucketID:  string(o.BucketID),
			Remaining: int64(o.Remaining),
		})
	}
	return dto
}

func planFromDTO(dto PlanDTO) (*engine.Plan, error) {
	date, err := time.Parse("2006-01-02", dto.Date)
	if err != nil {
		return nil, err
	}
	p := &engine.Plan{
		Unit:             engine.UnitRef{ClientID: engine.ClientID(dto.ClientID), UnitID: engine.UnitID(dto.UnitID)},
		Amount:           engine.Centavos(dto.Amount),
		Date:             date,
		CreditUsed:       engine.Centavos(dto.CreditUsed),
		CreditAdded:      engine.Centavos(dto.CreditAdded),
		ObservedBalance:  engine.Centavos(dto.ObservedBalance),
		NewCreditBalance: engine.Centavos(dto.NewCreditBalance),
	}
	for _, a := range dto.Allocations {
		p.Allocations = append(p.Allocations, allocationFromDTO(a))
	}
	for _, o := range dto.Observed {
		p.Observed = append(p.Observed, engine.BucketObservation{
			BucketID:  engine.BucketID(o.BucketID),
			Remaining: engine.Centavos(o.Remaining),
		})
	}
	return p, nil
}

func allocationToDTO(a engine.Allocation) AllocationDTO {
	return AllocationDTO{
		Target:       string(a.Target),
		BucketID:     string(a.BucketID),
		Amount:       int64(a.Amount),
		Penalty:      int64(a.Penalty),
		Base:         int64(a.Base),
		BucketYear:   a.BucketPeriod.Year,
		BucketMonth:  int(a.BucketPeriod.Month),
		BucketModule: string(a.BucketModule),
	}
}

func allocationFromDTO(dto AllocationDTO) engine.Allocation {
	return engine.Allocation{
		Target:       engine.TargetKind(dto.Target),
		BucketID:     engine.BucketID(dto.BucketID),
		Amount:       engine.Centavos(dto.Amount),
		Penalty:      engine.Centavos(dto.Penalty),
		Base:         engine.Centavos(dto.Base),
		BucketPeriod: engine.FiscalPeriod{Year: dto.BucketYear, Month: time.Month(dto.BucketMonth)},
		BucketModule: engine.Module(dto.BucketModule),
	}
}

func bucketToDTO(b engine.ChargeBucket) BucketDTO {
	return BucketDTO{
		ID:        string(b.ID),
		Module:    string(b.Module),
		Year:      b.Period.Year,
		Month:     int(b.Period.Month),
		DueDate:   b.DueDate.Format("2006-01-02"),
		Base:      int64(b.Base),
		Penalty:   int64(b.Penalty),
		Paid:      int64(b.Paid),
		Remaining: int64(b.Remaining()),
		Status:    string(b.Status()),
	}
}

func entryToDTO(e engine.CreditEntry) EntryDTO {
	return EntryDTO{
		ID:            string(e.ID),
		Timestamp:     e.Timestamp.Format(time.RFC3339),
		Type:          string(e.Type),
		Amount:        int64(e.Amount),
		BalanceBefore: int64(e.BalanceBefore),
		BalanceAfter:  int64(e.BalanceAfter),
		PaymentID:     string(e.PaymentID),
	}
}

func statementToDTO(st engine.Statement) StatementDTO {
	dto := StatementDTO{
		ClientID:         string(st.Unit.ClientID),
		UnitID:           string(st.Unit.UnitID),
		FinalBalance:     int64(st.FinalBalance),
		CreditBalance:    int64(st.CreditBalance),
		TotalDue:         int64(st.TotalDue),
		TotalPaid:        int64(st.TotalPaid),
		TotalOutstanding: int64(st.TotalOutstanding),
	}
	for _, line := range st.Lines {
		dto.Lines = append(dto.Lines, StatementLineDTO{
			Date:           line.Date.Format("2006-01-02"),
			Kind:           string(line.Kind),
			Label:          line.Label,
			Amount:         int64(line.Amount),
			RunningBalance: int64(line.RunningBalance),
		})
	}
	return dto
}
