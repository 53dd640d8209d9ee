// Package fillvalidate classifies and repairs externally-supplied Fill
// records. Grounded on the defensive-default idiom used throughout the
// stack's config/cache readers: never panic on a bad input, coerce to a
// safe default and keep going.
package fillvalidate

import (
	"fmt"
	"math"
	"math/rand"
	"strings"
	"time"

	"copybridge/internal/domain"
	"copybridge/internal/signalparser"
)

// Result is the outcome of Validate.
type Result struct {
	IsValid  bool
	Critical bool
	Errors   []string
}

// Validate classifies a fill. Critical errors (missing/empty symbol or
// action) mean the fill must be dropped; non-critical errors mean it can be
// sanitised and proceed.
func Validate(f domain.Fill) Result {
	var res Result
	res.IsValid = true

	if strings.TrimSpace(f.Symbol) == "" {
		res.Critical = true
		res.IsValid = false
		res.Errors = append(res.Errors, "Missing symbol")
	}
	if strings.TrimSpace(string(f.Action)) == "" {
		res.Critical = true
		res.IsValid = false
		res.Errors = append(res.Errors, "Missing action")
	}

	if !isFiniteNonNegative(f.FilledQuantity) {
		res.IsValid = false
		res.Errors = append(res.Errors, "Invalid filledQuantity")
	}
	if !isFiniteNonNegative(f.FillPrice) {
		res.IsValid = false
		res.Errors = append(res.Errors, "Invalid fillPrice")
	}
	if f.FilledAt.IsZero() {
		res.IsValid = false
		res.Errors = append(res.Errors, "Invalid filledAt")
	}

	return res
}

func isFiniteNonNegative(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0) && f >= 0
}

// aliasActionTable extends SignalParser's normalisation table with the
// BOUGHT/SOLD aliases Sanitise additionally recognises.
var aliasActionTable = map[string]string{
	"BOUGHT": "BuyToOpen",
	"SOLD":   "SellToClose",
}

// Sanitise is total and idempotent: it always produces a Fill with valid,
// non-negative numeric fields, an uppercase+trimmed symbol, a normalised
// action, and a valid filledAt. Sanitise(Sanitise(x)) == Sanitise(x).
func Sanitise(f domain.Fill, now func() time.Time) domain.Fill {
	if now == nil {
		now = time.Now
	}

	out := f
	out.Symbol = strings.ToUpper(strings.TrimSpace(f.Symbol))

	action := strings.ToUpper(strings.TrimSpace(string(f.Action)))
	if v, ok := aliasActionTable[action]; ok {
		out.Action = domain.Action(v)
	} else {
		out.Action = domain.Action(signalparser.NormaliseAction(string(f.Action)))
	}

	out.FilledQuantity = sanitiseNumber(f.FilledQuantity)
	out.FillPrice = sanitiseNumber(f.FillPrice)
	out.Fees = sanitiseNumber(f.Fees)

	if f.TotalQuantity <= 0 || !isFiniteNonNegative(f.TotalQuantity) {
		out.TotalQuantity = out.FilledQuantity
	} else {
		out.TotalQuantity = f.TotalQuantity
	}

	if f.FilledAt.IsZero() {
		out.FilledAt = now()
	}

	if out.Status == "" {
		out.Status = domain.Filled
	}

	if out.InstrumentType == "" {
		if out.Strike != nil || out.Expiration != "" || out.OptionType != "" {
			out.InstrumentType = domain.EquityOption
		} else {
			out.InstrumentType = domain.Equity
		}
	}

	if out.OrderID == "" {
		out.OrderID = fmt.Sprintf("fill_%d_%d", now().UnixNano(), rand.Intn(1_000_000))
	}

	return out
}

func sanitiseNumber(f float64) float64 {
	if !isFiniteNonNegative(f) {
		return 0
	}
	return f
}
