// Package bracket expands a bracket order (entry + optional take-profit/
// stop-loss) into the OTOCO structural form OrderQueue submits. Written in
// the plain-struct-construction style used for broker order payloads
// elsewhere in the stack — no fluent builder.
package bracket

import "copybridge/internal/domain"

// Leg is one order-payload leg.
type Leg struct {
	InstrumentType domain.InstrumentType `json:"instrument-type"`
	Symbol         string                `json:"symbol"`
	Quantity       int                   `json:"quantity"`
	Action         domain.Action         `json:"action"`
	Price          string                `json:"price,omitempty"` // two-decimal limit price string, empty for market
}

// OrderLeg is one entry/exit order within a bracket request.
type OrderLeg struct {
	OrderType domain.OrderType `json:"order-type"`
	Price     *float64         `json:"price,omitempty"`
	Legs      []Leg            `json:"legs"`
}

// BracketRequest is the input to Expand: an entry plus optional exits.
type BracketRequest struct {
	Entry       OrderLeg
	TimeInForce string // carried over from entry; defaults to Day
	TakeProfit  *OrderLeg
	StopLoss    *OrderLeg
}

// IsBracket reports whether a request carries exit legs and should be
// expanded rather than submitted as a plain order.
func IsBracket(req BracketRequest) bool {
	return req.TakeProfit != nil || req.StopLoss != nil
}

// OTOCOPayload is the envelope OrderQueue dispatches to
// BrokerGateway.createComplexOrder.
type OTOCOPayload struct {
	TimeInForce  string     `json:"time-in-force"`
	OrderType    string     `json:"order-type"`
	TriggerOrder OrderLeg   `json:"trigger-order"`
	Orders       []OrderLeg `json:"orders"`
}

// Expand builds the OTOCO payload: trigger-order is the entry (order-type
// defaults to Market), orders carries the provided exits (order-type
// defaults to Limit, action defaults to Sell to Close). The envelope's
// time-in-force equals the entry's (default Day).
func Expand(req BracketRequest) OTOCOPayload {
	entry := req.Entry
	if entry.OrderType == "" {
		entry.OrderType = domain.Market
	}

	tif := req.TimeInForce
	if tif == "" {
		tif = "Day"
	}

	payload := OTOCOPayload{
		TimeInForce:  tif,
		OrderType:    "OTOCO",
		TriggerOrder: entry,
	}

	if req.TakeProfit != nil {
		payload.Orders = append(payload.Orders, normaliseExit(*req.TakeProfit))
	}
	if req.StopLoss != nil {
		payload.Orders = append(payload.Orders, normaliseExit(*req.StopLoss))
	}
	return payload
}

func normaliseExit(leg OrderLeg) OrderLeg {
	if leg.OrderType == "" {
		leg.OrderType = domain.Limit
	}
	normLegs := make([]Leg, len(leg.Legs))
	for i, l := range leg.Legs {
		if l.Action == "" {
			l.Action = domain.SellToClose
		}
		normLegs[i] = l
	}
	leg.Legs = normLegs
	return leg
}
