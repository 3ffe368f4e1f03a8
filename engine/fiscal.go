package engine

import "time"

// =============================================================================
// FISCAL YEAR - Calendar bounds for the cash-basis rule
// =============================================================================

// FiscalCalendar resolves a fiscal year to concrete date bounds.
// The default calendar starts years in January; associations that
// bill on a shifted fiscal year configure StartMonth.
type FiscalCalendar struct {
	StartMonth time.Month
}

func DefaultFiscalCalendar() FiscalCalendar {
	return FiscalCalendar{StartMonth: time.January}
}

// Bounds returns the inclusive [start, end] dates of fiscal year y.
func (c FiscalCalendar) Bounds(y int) (time.Time, time.Time) {
	start := time.Date(y, c.StartMonth, 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(1, 0, -1)
	return start, end
}

// Contains reports whether a date falls within fiscal year y.
func (c FiscalCalendar) Contains(y int, t time.Time) bool {
	start, end := c.Bounds(y)
	day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	return !day.Before(start) && !day.After(end)
}

// YearOf returns the fiscal year containing a date.
func (c FiscalCalendar) YearOf(t time.Time) int {
	if t.Month() < c.StartMonth {
		return t.Year() - 1
	}
	return t.Year()
}

// =============================================================================
// STATEMENT WINDOW
// =============================================================================

// Window is an inclusive date range for statement reconstruction.
type Window struct {
	From time.Time
	To   time.Time
}

// Contains reports whether t falls within the window. A zero From or
// To leaves that side unbounded.
func (w Window) Contains(t time.Time) bool {
	if !w.From.IsZero() && t.Before(w.From) {
		return false
	}
	if !w.To.IsZero() && t.After(w.To) {
		return false
	}
	return true
}
