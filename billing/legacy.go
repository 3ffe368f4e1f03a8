/*
legacy.go - Normalization of legacy document shapes

PURPOSE:
  Historical documents use inconsistent key names for the same logical
  field ("monto" vs "amount" vs "importe", "recargo" vs "penalty").
  This is the single normalization step at the store boundary: legacy
  maps come in, one canonical ChargeBucket shape comes out, and the
  engine never sees the old key soup.
*/
package billing

import (
	"fmt"
	"time"

	"github.com/vecinal/billing-engine/engine"
)

// LegacyDoc is one raw document from the old system's export.
type LegacyDoc map[string]any

// Field aliases observed in historical exports, first match wins.
var (
	amountKeys  = []string{"amount", "monto", "importe", "base"}
	penaltyKeys = []string{"penalty", "recargo", "mora"}
	paidKeys    = []string{"paid", "pagado", "abonado"}
	dateKeys    = []string{"due_date", "fecha", "fecha_limite", "date"}
	moduleKeys  = []string{"module", "modulo", "tipo"}
	idKeys      = []string{"id", "_id", "folio"}
)

// NormalizeBucket converts one legacy document into a canonical
// charge bucket. Documents missing an amount or date are rejected;
// the import surfaces them for manual review rather than guessing.
func NormalizeBucket(unit engine.UnitRef, doc LegacyDoc) (engine.ChargeBucket, error) {
	id, ok := firstString(doc, idKeys)
	if !ok {
		return engine.ChargeBucket{}, fmt.Errorf("legacy document has no id field")
	}
	base, ok := firstCentavos(doc, amountKeys)
	if !ok {
		return engine.ChargeBucket{}, fmt.Errorf("legacy document %s has no amount field", id)
	}
	dueDate, ok := firstDate(doc, dateKeys)
	if !ok {
		return engine.ChargeBucket{}, fmt.Errorf("legacy document %s has no parseable date", id)
	}

	penalty, _ := firstCentavos(doc, penaltyKeys)
	paid, _ := firstCentavos(doc, paidKeys)

	module := engine.ModuleDues
	if m, ok := firstString(doc, moduleKeys); ok && normalizeModule(m) == engine.ModuleWater {
		module = engine.ModuleWater
	}

	b := engine.ChargeBucket{
		ID:      engine.BucketID(id),
		Unit:    unit,
		Module:  module,
		Period:  engine.PeriodOf(dueDate),
		DueDate: dueDate,
		Base:    base,
		Penalty: penalty,
		Paid:    paid,
	}
	// Legacy data has no penalty/base paid split; attribute paid to
	// penalty first, matching allocation order.
	b.PaidPenalty = engine.MinCentavos(paid, penalty)
	b.PaidBase = paid - b.PaidPenalty

	if b.Paid > b.Total() {
		return engine.ChargeBucket{}, fmt.Errorf("legacy document %s: paid %d exceeds total %d",
			id, b.Paid, b.Total())
	}
	return b, nil
}

func normalizeModule(s string) engine.Module {
	switch s {
	case "water", "agua", "agua_potable":
		return engine.ModuleWater
	default:
		return engine.ModuleDues
	}
}

func firstString(doc LegacyDoc, keys []string) (string, bool) {
	for _, k := range keys {
		if v, ok := doc[k]; ok {
			if s, ok := v.(string); ok && s != "" {
				return s, true
			}
		}
	}
	return "", false
}

// firstCentavos accepts the numeric shapes JSON decoding produces.
// Floats are accepted only when they are whole centavo counts; legacy
// exports stored minor units as numbers.
func firstCentavos(doc LegacyDoc, keys []string) (engine.Centavos, bool) {
	for _, k := range keys {
		v, ok := doc[k]
		if !ok {
			continue
		}
		switch n := v.(type) {
		case int:
			return engine.Centavos(n), true
		case int64:
			return engine.Centavos(n), true
		case float64:
			if n == float64(int64(n)) {
				return engine.Centavos(int64(n)), true
			}
		}
	}
	return 0, false
}

var legacyDateFormats = []string{"2006-01-02", time.RFC3339, "02/01/2006"}

func firstDate(doc LegacyDoc, keys []string) (time.Time, bool) {
	for _, k := range keys {
		v, ok := doc[k]
		if !ok {
			continue
		}
		s, ok := v.(string)
		if !ok {
			continue
		}
		for _, layout := range legacyDateFormats {
			if t, err := time.Parse(layout, s); err == nil {
				return t.UTC(), true
			}
		}
	}
	return time.Time{}, false
}
