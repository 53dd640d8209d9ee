// Package domain holds the shared record types that flow across component
// boundaries — Signal, Fill, TradingStatus, Balances — so that every stage
// of the pipeline speaks the same shapes without import cycles back to
// CopyEngine.
package domain

import "time"

// Action is a normalised trade action.
type Action string

const (
	BuyToOpen   Action = "BuyToOpen"
	SellToOpen  Action = "SellToOpen"
	BuyToClose  Action = "BuyToClose"
	SellToClose Action = "SellToClose"
)

// OrderType is the signal/fill order type.
type OrderType string

const (
	Market OrderType = "Market"
	Limit  OrderType = "Limit"
)

// InstrumentType distinguishes equities from equity options.
type InstrumentType string

const (
	Equity       InstrumentType = "Equity"
	EquityOption InstrumentType = "EquityOption"
)

// OptionType is Call or Put.
type OptionType string

const (
	Call OptionType = "Call"
	Put  OptionType = "Put"
)

// Signal is normalised trade intent.
type Signal struct {
	ID             string
	Symbol         string
	Action         Action
	Quantity       int
	OrderType      OrderType
	Price          *float64
	InstrumentType InstrumentType
	Strike         *float64
	Expiration     string
	OptionType     OptionType
	Timestamp      time.Time
	Source         string
	// Confidence is consulted by TierRouter's per-tier signal predicates.
	Confidence string
}

// IsOption reports whether the signal targets an equity option leg.
func (s Signal) IsOption() bool {
	return s.InstrumentType == EquityOption
}

// FillStatus is the realised broker execution status.
type FillStatus string

const (
	Filled          FillStatus = "Filled"
	PartiallyFilled FillStatus = "PartiallyFilled"
	Pending         FillStatus = "Pending"
	Cancelled       FillStatus = "Cancelled"
)

// Fill is a realised broker event, same identity shape as Signal plus
// execution-specific fields.
type Fill struct {
	ID             string
	Symbol         string
	Action         Action
	OrderType      OrderType
	InstrumentType InstrumentType
	Strike         *float64
	Expiration     string
	OptionType     OptionType
	Source         string

	Status          FillStatus
	FilledQuantity  float64
	TotalQuantity   float64
	FillPrice       float64
	Fees            float64
	AccountNumber   string
	FilledAt        time.Time
	OrderID         string
	OriginalSignalID string
}

// TradingStatus is the policy server's authorisation snapshot.
type TradingStatus struct {
	CanTrade          bool
	Tier              string
	MonthlyProfitUsed float64
	MonthlyCapLimit   float64
	MaxPositionSize   float64
	ValidUntil        time.Time
	Reason            string
	Message           string
}

// Balances is the coach/follower balance snapshot. Ratio is always
// recomputed alongside whichever balance changed; it is zero (undefined)
// when CoachBalance is zero.
type Balances struct {
	CoachBalance    float64
	FollowerBalance float64
	Ratio           float64
	RatioValid      bool
	CachedAt        time.Time
}

// LatencyKind distinguishes signal-stage latency from order-stage latency.
type LatencyKind string

const (
	LatencySignal LatencyKind = "signal"
	LatencyOrder  LatencyKind = "order"
)

// LatencySample is one ring entry for LatencyMonitor.
type LatencySample struct {
	Kind                LatencyKind
	Source              string
	TotalLatencyMs       float64
	QueueLatencyMs       *float64
	ProcessingLatencyMs  *float64
	At                  time.Time
}

// FillHistoryEntry is a Fill plus the time it was recorded.
type FillHistoryEntry struct {
	Fill       Fill
	RecordedAt time.Time
}
