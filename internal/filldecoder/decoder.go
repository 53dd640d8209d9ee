// Package filldecoder normalises the three account-stream message shapes
// the broker's event source emits into a canonical domain.Fill. Grounded
// directly on an account-stream handler shape: peek a discriminant field
// via map[string]json.RawMessage, then type-switch into the concrete
// shape.
package filldecoder

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"copybridge/internal/domain"
	"copybridge/internal/signalparser"
)

// rawLeg mirrors one leg of an order/trade record as the broker emits it.
type rawLeg struct {
	InstrumentType string  `json:"instrument-type"`
	Symbol         string  `json:"symbol"`
	Quantity       float64 `json:"quantity"`
	Action         string  `json:"action"`
	Strike         *float64 `json:"strike"`
	Expiration     string  `json:"expiration"`
	OptionType     string  `json:"option-type"`
}

type rawOrder struct {
	ID               string   `json:"id"`
	Status           string   `json:"status"`
	FilledQuantity   float64  `json:"filled-quantity"`
	Quantity         float64  `json:"quantity"`
	Price            float64  `json:"price"`
	Fee              float64  `json:"fee"`
	Commission       float64  `json:"commission"`
	RegulatoryFees   float64  `json:"regulatory-fees"`
	ClearingFees     float64  `json:"clearing-fees"`
	AccountNumber    string   `json:"account-number"`
	FilledAt         string   `json:"filled-at"`
	OriginalSignalID string   `json:"original-signal-id"`
	Legs             []rawLeg `json:"legs"`
}

type rawFillRecord struct {
	Symbol           string  `json:"symbol"`
	Action           string  `json:"action"`
	FilledQuantity   float64 `json:"filled-quantity"`
	TotalQuantity    float64 `json:"total-quantity"`
	FillPrice        float64 `json:"fill-price"`
	Fees             float64 `json:"fees"`
	AccountNumber    string  `json:"account-number"`
	FilledAt         string  `json:"filled-at"`
	OrderID          string  `json:"order-id"`
	OriginalSignalID string  `json:"original-signal-id"`
}

type rawTradeRecord struct {
	Symbol           string  `json:"symbol"`
	Side             string  `json:"side"`
	Quantity         float64 `json:"quantity"`
	Price            float64 `json:"price"`
	AccountNumber    string  `json:"account-number"`
	Timestamp        string  `json:"timestamp"`
	OriginalSignalID string  `json:"original-signal-id"`
}

// Decode peeks the discriminant shape of raw and returns the canonical
// Fill. Any unrecognised shape returns (nil, nil) — dropped silently, never
// an error.
func Decode(raw []byte) (*domain.Fill, error) {
	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, fmt.Errorf("filldecoder: malformed message: %w", err)
	}

	// Shape 1: data.order or order, with status Filled/PartiallyFilled.
	if orderRaw, ok := pick(envelope, "data", "order"); ok {
		return decodeOrderShape(orderRaw)
	}
	if orderRaw, ok := envelope["order"]; ok {
		return decodeOrderShape(orderRaw)
	}

	// Shape 2: type == "Fill", at outer or data level.
	if typ, ok := stringField(envelope, "type"); ok && typ == "Fill" {
		body := envelope
		if dataRaw, ok := envelope["data"]; ok {
			var nested map[string]json.RawMessage
			if err := json.Unmarshal(dataRaw, &nested); err == nil {
				body = nested
			}
		}
		return decodeFillShape(body)
	}

	// Shape 3: type == "Trade".
	if typ, ok := stringField(envelope, "type"); ok && typ == "Trade" {
		return decodeTradeShape(envelope)
	}

	return nil, nil
}

// pick looks for envelope[outer][inner] as a nested object and returns its
// raw bytes.
func pick(envelope map[string]json.RawMessage, outer, inner string) (json.RawMessage, bool) {
	outerRaw, ok := envelope[outer]
	if !ok {
		return nil, false
	}
	var nested map[string]json.RawMessage
	if err := json.Unmarshal(outerRaw, &nested); err != nil {
		return nil, false
	}
	innerRaw, ok := nested[inner]
	return innerRaw, ok
}

func stringField(envelope map[string]json.RawMessage, key string) (string, bool) {
	raw, ok := envelope[key]
	if !ok {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", false
	}
	return s, true
}

func decodeOrderShape(raw json.RawMessage) (*domain.Fill, error) {
	var order rawOrder
	if err := json.Unmarshal(raw, &order); err != nil {
		return nil, nil
	}
	if order.Status != "Filled" && order.Status != "PartiallyFilled" {
		return nil, nil
	}

	fill := &domain.Fill{
		ID:               order.ID,
		Status:           domain.FillStatus(order.Status),
		FilledQuantity:   order.FilledQuantity,
		TotalQuantity:    order.Quantity,
		FillPrice:        order.Price,
		Fees:             order.Fee + order.Commission + order.RegulatoryFees + order.ClearingFees,
		AccountNumber:    order.AccountNumber,
		OrderID:          order.ID,
		OriginalSignalID: order.OriginalSignalID,
	}
	if t, err := time.Parse(time.RFC3339, order.FilledAt); err == nil {
		fill.FilledAt = t
	}

	if len(order.Legs) > 0 {
		leg := order.Legs[0]
		fill.Symbol = leg.Symbol
		fill.Action = domain.Action(signalparser.NormaliseAction(leg.Action))
		fill.Strike = leg.Strike
		fill.Expiration = leg.Expiration
		fill.OptionType = domain.OptionType(signalparser.NormaliseOptionType(leg.OptionType))
		fill.InstrumentType = guessInstrument(leg.Symbol, leg.Strike, leg.Expiration, leg.OptionType)
	}

	return fill, nil
}

func decodeFillShape(envelope map[string]json.RawMessage) (*domain.Fill, error) {
	raw, err := json.Marshal(envelope)
	if err != nil {
		return nil, nil
	}
	var rec rawFillRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, nil
	}

	fill := &domain.Fill{
		ID:               rec.OrderID,
		Symbol:           rec.Symbol,
		Action:           domain.Action(signalparser.NormaliseAction(rec.Action)),
		Status:           domain.Filled,
		FilledQuantity:   rec.FilledQuantity,
		TotalQuantity:    rec.TotalQuantity,
		FillPrice:        rec.FillPrice,
		Fees:             rec.Fees,
		AccountNumber:    rec.AccountNumber,
		OrderID:          rec.OrderID,
		OriginalSignalID: rec.OriginalSignalID,
	}
	if t, err := time.Parse(time.RFC3339, rec.FilledAt); err == nil {
		fill.FilledAt = t
	}
	fill.InstrumentType = guessInstrument(rec.Symbol, nil, "", "")
	return fill, nil
}

func decodeTradeShape(envelope map[string]json.RawMessage) (*domain.Fill, error) {
	raw, err := json.Marshal(envelope)
	if err != nil {
		return nil, nil
	}
	var rec rawTradeRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, nil
	}

	action := domain.SellToClose
	if strings.EqualFold(rec.Side, "Buy") {
		action = domain.BuyToOpen
	}

	fill := &domain.Fill{
		Symbol:           rec.Symbol,
		Action:           action,
		Status:           domain.Filled,
		FilledQuantity:   rec.Quantity,
		TotalQuantity:    rec.Quantity,
		FillPrice:        rec.Price,
		AccountNumber:    rec.AccountNumber,
		OriginalSignalID: rec.OriginalSignalID,
	}
	if t, err := time.Parse(time.RFC3339, rec.Timestamp); err == nil {
		fill.FilledAt = t
	}
	fill.InstrumentType = guessInstrument(rec.Symbol, nil, "", "")
	return fill, nil
}

// guessInstrument infers the instrument type: presence of strike/expiration/
// option-type implies EquityOption; otherwise Equity. The symbol is not
// inspected: a futures-like "/" symbol is reported as Equity, and
// IsFuturesLike is the separate check for it.
func guessInstrument(symbol string, strike *float64, expiration, optionType string) domain.InstrumentType {
	if strike != nil || expiration != "" || optionType != "" {
		return domain.EquityOption
	}
	return domain.Equity
}

// IsFuturesLike reports whether symbol carries the futures-like "/" tag.
// The instrument is still routed as Equity; this is advisory only.
func IsFuturesLike(symbol string) bool {
	return strings.Contains(symbol, "/")
}
