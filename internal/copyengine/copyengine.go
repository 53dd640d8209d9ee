// Package copyengine binds SignalParser/FillDecoder through the policy
// gate, position sizer, bracket expander and order queue to the fill
// broadcaster, enforcing a strict per-trade gate order. Grounded on a
// single-owner orchestrator shape: one struct holding every collaborator
// by value/pointer, one method per pipeline stage, no shared mutable state
// beyond what each collaborator already guards itself.
package copyengine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"copybridge/internal/bracket"
	"copybridge/internal/brokererr"
	"copybridge/internal/domain"
	"copybridge/internal/orderqueue"
	"copybridge/internal/policy"
	"copybridge/internal/sizer"
	"copybridge/pkg/occ"
)

// GateResult is CopyEngine.ProcessSignal's outcome, per S8.
type GateResult struct {
	Success bool
	Reason  string
	OrderID string
	Future  *orderqueue.Future
}

// Config tunes CopyEngine's daily safety limits.
type Config struct {
	MaxDailyTrades int
	MaxDailyLoss   float64
	AccountNumber  string
}

// Engine binds the full signal-to-order pipeline.
type Engine struct {
	cfg     Config
	policy  *policy.Client // nil means the gate is unconditionally open
	sizer   *sizer.Sizer
	queue   *orderqueue.Queue

	mu          sync.Mutex
	currentDay  string
	tradesToday int
	lossToday   float64
}

func New(cfg Config, policyClient *policy.Client, sz *sizer.Sizer, queue *orderqueue.Queue) *Engine {
	return &Engine{cfg: cfg, policy: policyClient, sizer: sz, queue: queue}
}

// RecordLoss accumulates today's realised loss, consulted by the daily
// loss-limit gate. Callers pass a positive magnitude for a losing trade.
func (e *Engine) RecordLoss(amount float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.lossToday += amount
}

// rolloverIfNewDay resets tradesToday/lossToday on date change. Caller
// must hold e.mu.
func (e *Engine) rolloverIfNewDay(now time.Time) {
	day := now.Format("2006-01-02")
	if e.currentDay == "" {
		e.currentDay = day
		return
	}
	if day != e.currentDay {
		e.currentDay = day
		e.tradesToday = 0
		e.lossToday = 0
	}
}

// ProcessSignal runs the strict 7-step gate order and, on success,
// enqueues the resulting order.
func (e *Engine) ProcessSignal(ctx context.Context, signal domain.Signal) GateResult {
	e.mu.Lock()
	e.rolloverIfNewDay(time.Now())

	if e.policy != nil && !e.policy.CanTradeToday() {
		e.mu.Unlock()
		return GateResult{Success: false, Reason: brokererr.ReasonTierBlocked}
	}
	if e.cfg.MaxDailyTrades > 0 && e.tradesToday >= e.cfg.MaxDailyTrades {
		e.mu.Unlock()
		return GateResult{Success: false, Reason: brokererr.ReasonDailyLimit}
	}
	if e.cfg.MaxDailyLoss > 0 && e.lossToday >= e.cfg.MaxDailyLoss {
		e.mu.Unlock()
		return GateResult{Success: false, Reason: brokererr.ReasonLossLimit}
	}
	e.mu.Unlock()

	quantity := e.sizer.Calculate(signal)
	if quantity <= 0 {
		return GateResult{Success: false, Reason: brokererr.ReasonInvalidQuantity}
	}

	entry, err := buildEntryLeg(signal, quantity)
	if err != nil {
		return GateResult{Success: false, Reason: brokererr.ReasonInvalidQuantity}
	}

	future, err := e.queue.Enqueue(ctx, orderqueue.Request{
		Entry:            entry,
		OriginalSignalID: signal.ID,
	})
	if err != nil {
		return GateResult{Success: false, Reason: "enqueue_failed"}
	}

	e.mu.Lock()
	e.tradesToday++
	e.mu.Unlock()

	if e.policy != nil {
		price := 0.0
		if signal.Price != nil {
			price = *signal.Price
		}
		e.policy.ReportTrade(signal.Symbol, quantity, price, 0)
	}

	return GateResult{Success: true, Future: future}
}

// buildEntryLeg constructs the equity-or-option order leg, rendering the
// OCC symbol for option signals.
func buildEntryLeg(signal domain.Signal, quantity int) (bracket.OrderLeg, error) {
	symbol := signal.Symbol
	instrument := domain.Equity

	if signal.IsOption() {
		if signal.Strike == nil {
			return bracket.OrderLeg{}, fmt.Errorf("copyengine: option signal missing strike")
		}
		right, err := occ.ParseRight(string(signal.OptionType))
		if err != nil {
			return bracket.OrderLeg{}, err
		}
		expiration, err := occ.ParseExpiration(signal.Expiration, time.Now())
		if err != nil {
			return bracket.OrderLeg{}, err
		}
		symbol = occ.Render(signal.Symbol, expiration, right, *signal.Strike)
		instrument = domain.EquityOption
	}

	return bracket.OrderLeg{
		OrderType: signal.OrderType,
		Legs: []bracket.Leg{{
			InstrumentType: instrument,
			Symbol:         symbol,
			Quantity:       quantity,
			Action:         signal.Action,
		}},
	}, nil
}

// Status is CopyEngine's daily-counter snapshot, for the ops surface.
type Status struct {
	TradesToday int
	LossToday   float64
}

func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Status{TradesToday: e.tradesToday, LossToday: e.lossToday}
}
