/*
handlers.go - HTTP API handlers for the billing engine

PURPOSE:
  Exposes the allocation engine via REST. Handles HTTP
  request/response, JSON serialization, and delegates to the engine.

ENDPOINTS:
  Units:
    GET  /api/units/{clientID}/{unitID}/buckets     List charge buckets
    POST /api/units/{clientID}/{unitID}/buckets     Create a bucket
    POST /api/units/{clientID}/{unitID}/buckets/import  Import legacy docs
    POST /api/units/{clientID}/{unitID}/preview    Preview an allocation plan
    POST /api/units/{clientID}/{unitID}/payments   Record (commit) a plan
    GET  /api/units/{clientID}/{unitID}/statement  Reconstruct statement
    GET  /api/units/{clientID}/{unitID}/ledger     Credit ledger history
    POST /api/units/{clientID}/{unitID}/ledger/rebuild  Legacy rebuild
    GET  /api/units/{clientID}/{unitID}/report     Dual-basis year report

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: validation errors, invalid input
  - 404: unknown unit/bucket/payment
  - 409: stale plan (caller must re-preview)
  - 500: internal errors

SEE ALSO:
  - dto.go: request/response data structures
  - server.go: router setup and middleware
*/
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/vecinal/billing-engine/billing"
	"github.com/vecinal/billing-engine/engine"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store      engine.TxStore
	Planner    *engine.Planner
	Recorder   *engine.Recorder
	Ledger     *engine.CreditLedger
	Classifier *engine.Classifier
}

// NewHandler wires the engine components around one store.
func NewHandler(store engine.TxStore, priority engine.ModulePriority, calendar engine.FiscalCalendar) *Handler {
	return &Handler{
		Store:      store,
		Planner:    engine.NewPlanner(priority),
		Recorder:   engine.NewRecorder(store),
		Ledger:     engine.NewCreditLedger(store),
		Classifier: engine.NewClassifier(calendar),
	}
}

func unitFromRequest(r *http.Request) engine.UnitRef {
	return engine.UnitRef{
		ClientID: engine.ClientID(chi.URLParam(r, "clientID")),
		UnitID:   engine.UnitID(chi.URLParam(r, "unitID")),
	}
}

// =============================================================================
// BUCKET HANDLERS
// =============================================================================

// ListBuckets returns the unit's charge buckets.
func (h *Handler) ListBuckets(w http.ResponseWriter, r *http.Request) {
	unit := unitFromRequest(r)
	buckets, err := h.Store.Buckets(r.Context(), unit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list buckets", err)
		return
	}

	dtos := make([]BucketDTO, len(buckets))
	for i, b := range buckets {
		dtos[i] = bucketToDTO(b)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateBucket creates one charge bucket (billing generation path).
func (h *Handler) CreateBucket(w http.ResponseWriter, r *http.Request) {
	unit := unitFromRequest(r)

	var req CreateBucketRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	dueDate, err := time.Parse("2006-01-02", req.DueDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid due_date format (use YYYY-MM-DD)", err)
		return
	}
	if req.Base < 0 || req.Penalty < 0 {
		writeError(w, http.StatusBadRequest, "Amounts must be non-negative", nil)
		return
	}

	id := req.ID
	if id == "" {
		id = uuid.NewString()
	}
	b := engine.ChargeBucket{
		ID:      engine.BucketID(id),
		Unit:    unit,
		Module:  engine.Module(req.Module),
		Period:  engine.FiscalPeriod{Year: req.Year, Month: time.Month(req.Month)},
		DueDate: dueDate,
		Base:    engine.Centavos(req.Base),
		Penalty: engine.Centavos(req.Penalty),
	}
	if err := h.Store.PutBucket(r.Context(), b); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to create bucket", err)
		return
	}
	writeJSON(w, http.StatusCreated, bucketToDTO(b))
}

// ImportBuckets normalizes legacy documents into canonical buckets.
// Documents that don't normalize are reported, never guessed at.
func (h *Handler) ImportBuckets(w http.ResponseWriter, r *http.Request) {
	unit := unitFromRequest(r)

	var req ImportBucketsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	var resp ImportBucketsResponse
	err := h.Store.WithTx(r.Context(), func(s engine.Store) error {
		for _, doc := range req.Docs {
			b, err := billing.NormalizeBucket(unit, doc)
			if err != nil {
				resp.Rejected = append(resp.Rejected, err.Error())
				continue
			}
			if err := s.PutBucket(r.Context(), b); err != nil {
				return err
			}
			resp.Imported++
		}
		return nil
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to import buckets", err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// =============================================================================
// PREVIEW / RECORD
// =============================================================================

// Preview computes an allocation plan without mutating anything.
func (h *Handler) Preview(w http.ResponseWriter, r *http.Request) {
	unit := unitFromRequest(r)

	var req PreviewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	date, err := time.Parse("2006-01-02", req.Date)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid date format (use YYYY-MM-DD)", err)
		return
	}

	ctx := r.Context()
	buckets, err := h.Store.OutstandingBuckets(ctx, unit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load buckets", err)
		return
	}
	balance, err := h.Ledger.CurrentBalance(ctx, unit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load credit balance", err)
		return
	}

	plan, err := h.Planner.Plan(buckets, balance, engine.Centavos(req.Amount), date)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid payment amount", err)
		return
	}
	// Unit ends up empty when the unit has no outstanding buckets.
	plan.Unit = unit

	previewsTotal.Inc()
	writeJSON(w, http.StatusOK, planToDTO(plan))
}

// Record commits a previously previewed plan.
func (h *Handler) Record(w http.ResponseWriter, r *http.Request) {
	unit := unitFromRequest(r)
	start := time.Now()

	var req RecordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		recordsTotal.WithLabelValues("invalid").Inc()
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	plan, err := planFromDTO(req.Plan)
	if err != nil {
		recordsTotal.WithLabelValues("invalid").Inc()
		writeError(w, http.StatusBadRequest, "Invalid plan", err)
		return
	}
	plan.Unit = unit

	result, err := h.Recorder.Record(r.Context(), plan, engine.PaymentDetails{
		IdempotencyKey: req.IdempotencyKey,
		Method:         req.Method,
		Reference:      req.Reference,
	})
	recordDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		switch {
		case engine.IsStale(err):
			recordsTotal.WithLabelValues("stale").Inc()
			writeError(w, http.StatusConflict, "Plan is stale, re-preview and retry", err)
		case engine.IsClientError(err):
			recordsTotal.WithLabelValues("invalid").Inc()
			writeError(w, http.StatusBadRequest, "Invalid plan", err)
		default:
			recordsTotal.WithLabelValues("error").Inc()
			writeError(w, http.StatusInternalServerError, "Failed to record payment", err)
		}
		return
	}

	outcome := "committed"
	status := http.StatusCreated
	if result.Replayed {
		outcome = "replayed"
		status = http.StatusOK
	}
	recordsTotal.WithLabelValues(outcome).Inc()
	slog.Info("payment recorded",
		"unit", plan.Unit.String(),
		"payment_id", result.PaymentID,
		"amount", int64(plan.Amount),
		"replayed", result.Replayed,
	)

	dto := RecordResultDTO{
		PaymentID:     string(result.PaymentID),
		LedgerEntryID: string(result.LedgerEntryID),
		Replayed:      result.Replayed,
	}
	for _, id := range result.TouchedBucketIDs {
		dto.TouchedBucketIDs = append(dto.TouchedBucketIDs, string(id))
	}
	writeJSON(w, status, dto)
}

// =============================================================================
// LEDGER HANDLERS
// =============================================================================

// GetLedger returns the unit's credit ledger history.
func (h *Handler) GetLedger(w http.ResponseWriter, r *http.Request) {
	unit := unitFromRequest(r)
	entries, err := h.Ledger.Entries(r.Context(), unit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load ledger", err)
		return
	}

	dtos := make([]EntryDTO, len(entries))
	for i, e := range entries {
		dtos[i] = entryToDTO(e)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// RebuildLedger replays legacy free-text history into typed entries.
// One-time migration path; with persist=true the replayed entries are
// written in one transaction.
func (h *Handler) RebuildLedger(w http.ResponseWriter, r *http.Request) {
	unit := unitFromRequest(r)

	var req RebuildRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	startingAt, err := time.Parse(time.RFC3339, req.StartingAt)
	if err != nil && req.StartingAt != "" {
		writeError(w, http.StatusBadRequest, "Invalid starting_at (use RFC3339)", err)
		return
	}

	notes := make([]engine.LegacyNote, 0, len(req.Notes))
	for _, n := range req.Notes {
		ts, err := time.Parse(time.RFC3339, n.Timestamp)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid note timestamp (use RFC3339)", err)
			return
		}
		notes = append(notes, engine.LegacyNote{Timestamp: ts, Text: n.Text})
	}

	result := engine.RebuildLedger(unit, engine.Centavos(req.StartingBalance), startingAt, notes, uuid.NewString)

	if req.Persist {
		err := h.Store.WithTx(r.Context(), func(s engine.Store) error {
			for _, e := range result.Entries {
				if err := s.AppendEntry(r.Context(), e); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			writeError(w, http.StatusInternalServerError, "Failed to persist rebuilt ledger", err)
			return
		}
	}

	resp := RebuildResponse{FinalBalance: int64(result.FinalBalance)}
	for _, e := range result.Entries {
		resp.Entries = append(resp.Entries, entryToDTO(e))
	}
	for _, u := range result.Unparsed {
		resp.Unparsed = append(resp.Unparsed, UnparsedNoteDTO{
			Timestamp: u.Note.Timestamp.Format(time.RFC3339),
			Text:      u.Note.Text,
			Reason:    u.Reason,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

// =============================================================================
// STATEMENT / REPORT HANDLERS
// =============================================================================

// GetStatement reconstructs the unit's statement of account.
// Query params from/to (YYYY-MM-DD) bound the window; both optional.
func (h *Handler) GetStatement(w http.ResponseWriter, r *http.Request) {
	unit := unitFromRequest(r)

	var window engine.Window
	if from := r.URL.Query().Get("from"); from != "" {
		t, err := time.Parse("2006-01-02", from)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid from date", err)
			return
		}
		window.From = t
	}
	if to := r.URL.Query().Get("to"); to != "" {
		t, err := time.Parse("2006-01-02", to)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid to date", err)
			return
		}
		window.To = t
	}

	ctx := r.Context()
	buckets, err := h.Store.Buckets(ctx, unit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load buckets", err)
		return
	}
	payments, err := h.Store.Payments(ctx, unit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load payments", err)
		return
	}
	balance, err := h.Ledger.CurrentBalance(ctx, unit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load credit balance", err)
		return
	}

	st := engine.BuildStatement(unit, buckets, payments, balance, window)
	statementsTotal.Inc()
	writeJSON(w, http.StatusOK, statementToDTO(st))
}

// GetReport returns the dual-basis counted total for a fiscal year.
func (h *Handler) GetReport(w http.ResponseWriter, r *http.Request) {
	unit := unitFromRequest(r)

	year, err := strconv.Atoi(r.URL.Query().Get("year"))
	if err != nil || year < 1900 {
		writeError(w, http.StatusBadRequest, "Invalid or missing year", err)
		return
	}

	payments, err := h.Store.Payments(r.Context(), unit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load payments", err)
		return
	}

	totals := h.Classifier.Classify(payments, year)
	writeJSON(w, http.StatusOK, ReportDTO{
		FiscalYear: totals.FiscalYear,
		Accrued:    int64(totals.Accrued),
		Cash:       int64(totals.Cash),
		Counted:    int64(totals.Counted()),
	})
}

// =============================================================================
// RESPONSE HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

type errorResponse struct {
	Error  string `json:"error"`
	Detail string `json:"detail,omitempty"`
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := errorResponse{Error: message}
	if err != nil {
		resp.Detail = err.Error()
	}
	if status >= http.StatusInternalServerError {
		slog.Error(message, "error", err)
	}
	writeJSON(w, status, resp)
}
