// Package orderqueue implements the priority-ordered, rate-limited order
// execution engine. Grounded on the clock package's rolling Window counter
// for maxOrdersPerMinute and on a dispatcher goroutine shape (single-flight
// loop woken by a buffered signal channel, guarded by one mutex covering
// queue, counters and active-order count).
package orderqueue

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"copybridge/internal/bracket"
	"copybridge/internal/broker"
	"copybridge/internal/brokererr"
	"copybridge/internal/clock"
	"copybridge/internal/domain"
	"copybridge/internal/latency"
)

// Status is a QueueItem's lifecycle state.
type Status string

const (
	Queued     Status = "queued"
	Processing Status = "processing"
	Completed  Status = "completed"
	Failed     Status = "failed"
)

// Request is the caller-facing order intent: an entry plus optional bracket
// exits. SkipValidation bypasses dry-run validation even when the queue has
// it enabled.
type Request struct {
	Entry            bracket.OrderLeg
	TimeInForce      string
	TakeProfit       *bracket.OrderLeg
	StopLoss         *bracket.OrderLeg
	Priority         int
	ScheduledFor     *time.Time
	DryRun           bool
	SkipValidation   bool
	OriginalSignalID string
}

// Result is what a Future resolves to.
type Result struct {
	OrderID       string
	TimeInForce   string
	EstimatedFees float64
}

// Future is resolved exactly once, by either success or failure.
type Future struct {
	ch chan futureOutcome
}

type futureOutcome struct {
	result Result
	err    error
}

func newFuture() *Future {
	return &Future{ch: make(chan futureOutcome, 1)}
}

func (f *Future) resolve(r Result) {
	f.ch <- futureOutcome{result: r}
}

func (f *Future) reject(err error) {
	f.ch <- futureOutcome{err: err}
}

// Wait blocks until the future resolves or ctx is cancelled.
func (f *Future) Wait(ctx context.Context) (Result, error) {
	select {
	case o := <-f.ch:
		return o.result, o.err
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

// payload is the wire-shape abstraction over a simple order and an OTOCO
// bracket payload, so the dispatcher can rewrite time-in-force for the TIF
// retry without caring which shape it is submitting.
type payload interface {
	withTimeInForce(tif string) payload
	timeInForce() string
	legCount() int
	isComplex() bool
}

// simplePayload is a single (possibly multi-leg) order.
type simplePayload struct {
	TimeInForce string           `json:"time-in-force"`
	OrderType   domain.OrderType `json:"order-type"`
	Legs        []bracket.Leg    `json:"legs"`
}

func (p simplePayload) withTimeInForce(tif string) payload {
	p.TimeInForce = tif
	return p
}
func (p simplePayload) timeInForce() string { return p.TimeInForce }
func (p simplePayload) legCount() int       { return len(p.Legs) }
func (p simplePayload) isComplex() bool     { return false }

// otocoPayload wraps bracket.OTOCOPayload to satisfy the payload interface.
type otocoPayload struct {
	bracket.OTOCOPayload
}

func (p otocoPayload) withTimeInForce(tif string) payload {
	p.TimeInForce = tif
	return p
}
func (p otocoPayload) timeInForce() string { return p.TimeInForce }
func (p otocoPayload) legCount() int       { return len(p.TriggerOrder.Legs) }
func (p otocoPayload) isComplex() bool     { return true }

// ValidationResult is validateOrder's outcome.
type ValidationResult struct {
	Valid         bool
	Errors        []string
	EstimatedFees float64
}

// QueueItem is OrderQueue's internal execution record.
type QueueItem struct {
	ID               string
	Payload          payload
	Priority         int
	ScheduledFor     *time.Time
	DryRun           bool
	Status           Status
	CreatedAt        time.Time
	StartedAt        time.Time
	CompletedAt      time.Time
	Validation       *ValidationResult
	OriginalSignalID string
	future           *Future
}

// Config tunes the dispatcher's concurrency, rate limit and validation
// behaviour; pkg/config seeds its values from the queue profile.
type Config struct {
	MaxConcurrentOrders    int
	DelayBetweenOrders     time.Duration
	MaxOrdersPerMinute     int
	PriorityThreshold      int
	EnableDryRunValidation bool
	AccountNumber          string
}

// IDGenerator produces QueueItem ids; swappable for deterministic tests.
type IDGenerator func() string

// Queue is the execution engine: one owner of its internal queue, counters
// and dispatcher loop, all guarded by a single mutex.
type Queue struct {
	cfg     Config
	broker  *broker.Gateway
	clock   clock.Clock
	latency *latency.Monitor
	genID   IDGenerator

	mu           sync.Mutex
	items        []*QueueItem
	activeOrders int
	window       *clock.Window
	dryRunWindow *clock.Window

	wake chan struct{}
}

// New constructs a Queue. clk may be nil to use the real clock.
func New(cfg Config, gw *broker.Gateway, clk clock.Clock, lat *latency.Monitor, genID IDGenerator) *Queue {
	if clk == nil {
		clk = clock.Real{}
	}
	if genID == nil {
		var n int64
		genID = func() string {
			n++
			return fmt.Sprintf("order_%d", n)
		}
	}
	return &Queue{
		cfg:          cfg,
		broker:       gw,
		clock:        clk,
		latency:      lat,
		genID:        genID,
		window:       clock.NewWindow(time.Minute, clk),
		dryRunWindow: clock.NewWindow(time.Minute, clk),
		wake:         make(chan struct{}, 1),
	}
}

// Run is the dispatcher loop; it blocks until ctx is cancelled. It runs as
// a single goroutine per Queue; cmd/copybridge starts it directly, not as a
// supervisor role.
func (q *Queue) Run(ctx context.Context) error {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-q.wake:
		case <-ticker.C:
		}
		q.dispatchReady(ctx)
	}
}

func (q *Queue) signalWake() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// Enqueue builds a QueueItem from req and places it in priority order,
// expanding brackets and optionally dry-run validating first.
func (q *Queue) Enqueue(ctx context.Context, req Request) (*Future, error) {
	var p payload
	breq := bracket.BracketRequest{
		Entry:       req.Entry,
		TimeInForce: req.TimeInForce,
		TakeProfit:  req.TakeProfit,
		StopLoss:    req.StopLoss,
	}
	if bracket.IsBracket(breq) {
		p = otocoPayload{bracket.Expand(breq)}
	} else {
		tif := req.TimeInForce
		if tif == "" {
			tif = "Day"
		}
		orderType := req.Entry.OrderType
		if orderType == "" {
			orderType = domain.Market
		}
		p = simplePayload{TimeInForce: tif, OrderType: orderType, Legs: req.Entry.Legs}
	}

	var validation *ValidationResult
	if q.cfg.EnableDryRunValidation && !req.DryRun && !req.SkipValidation {
		v, err := q.validateOrder(ctx, p)
		if err != nil || !v.Valid {
			msg := "validation failed"
			if len(v.Errors) > 0 {
				msg = v.Errors[0]
			}
			return nil, brokererr.Validation(msg)
		}
		validation = &v
	}

	item := &QueueItem{
		ID:               q.genID(),
		Payload:          p,
		Priority:         req.Priority,
		ScheduledFor:     req.ScheduledFor,
		DryRun:           req.DryRun,
		Status:           Queued,
		CreatedAt:        q.clock.Now(),
		Validation:       validation,
		OriginalSignalID: req.OriginalSignalID,
		future:           newFuture(),
	}

	q.mu.Lock()
	q.insertByPriority(item)
	q.mu.Unlock()

	q.signalWake()
	return item.future, nil
}

// insertByPriority inserts by priority rule: items at or above the
// threshold jump to the front; others insert before the first incumbent of
// strictly lower priority, preserving FIFO among equal priorities. Caller
// must hold q.mu.
func (q *Queue) insertByPriority(item *QueueItem) {
	if item.Priority >= q.cfg.PriorityThreshold {
		q.items = append([]*QueueItem{item}, q.items...)
		return
	}
	idx := sort.Search(len(q.items), func(i int) bool {
		return q.items[i].Priority < item.Priority
	})
	q.items = append(q.items, nil)
	copy(q.items[idx+1:], q.items[idx:])
	q.items[idx] = item
}

// validateOrder performs structural checks plus a broker dry-run. Dry-run
// network errors are recorded as validation errors, never surfaced as
// fatal.
func (q *Queue) validateOrder(ctx context.Context, p payload) (ValidationResult, error) {
	var errs []string

	switch v := p.(type) {
	case simplePayload:
		if len(v.Legs) == 0 {
			errs = append(errs, "no legs")
		}
		for _, leg := range v.Legs {
			if leg.Symbol == "" {
				errs = append(errs, "missing symbol")
			}
			if leg.Quantity <= 0 {
				errs = append(errs, "size must be > 0")
			}
		}
	case otocoPayload:
		if len(v.TriggerOrder.Legs) == 0 {
			errs = append(errs, "no legs")
		}
	}
	if len(errs) > 0 {
		return ValidationResult{Valid: false, Errors: errs}, nil
	}

	q.dryRunWindow.Increment()
	dr, err := q.broker.DryRun(ctx, q.cfg.AccountNumber, p)
	if err != nil {
		return ValidationResult{Valid: false, Errors: []string{err.Error()}}, nil
	}
	if dr.BuyingPowerEffect < 0 {
		return ValidationResult{Valid: false, Errors: []string{"Insufficient buying power"}}, nil
	}
	return ValidationResult{Valid: true, EstimatedFees: dr.FeeCalculation}, nil
}

// ValidateMany dry-run validates payloads concurrently, bounded by
// maxConcurrentOrders, and returns the subset that pass structural and
// buying-power checks.
func (q *Queue) ValidateMany(ctx context.Context, reqs []Request) []Request {
	max := q.cfg.MaxConcurrentOrders
	if max <= 0 {
		max = 1
	}
	sem := make(chan struct{}, max)
	var wg sync.WaitGroup
	var mu sync.Mutex
	var valid []Request

	for _, req := range reqs {
		req := req
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()

			breq := bracket.BracketRequest{Entry: req.Entry, TimeInForce: req.TimeInForce, TakeProfit: req.TakeProfit, StopLoss: req.StopLoss}
			var p payload
			if bracket.IsBracket(breq) {
				p = otocoPayload{bracket.Expand(breq)}
			} else {
				p = simplePayload{TimeInForce: req.TimeInForce, OrderType: req.Entry.OrderType, Legs: req.Entry.Legs}
			}
			v, err := q.validateOrder(ctx, p)
			if err == nil && v.Valid {
				mu.Lock()
				valid = append(valid, req)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	return valid
}

// dispatchReady drains as many ready items as the concurrency and rate
// limits allow, spawning executeOrder for each.
func (q *Queue) dispatchReady(ctx context.Context) {
	for {
		q.mu.Lock()
		if len(q.items) == 0 || q.activeOrders >= q.cfg.MaxConcurrentOrders {
			q.mu.Unlock()
			return
		}
		if q.cfg.MaxOrdersPerMinute > 0 && q.window.Count() >= q.cfg.MaxOrdersPerMinute {
			q.mu.Unlock()
			return
		}

		item := q.items[0]
		if item.ScheduledFor != nil && item.ScheduledFor.After(q.clock.Now()) {
			q.mu.Unlock()
			return
		}
		q.items = q.items[1:]
		q.activeOrders++
		q.window.Increment()
		q.mu.Unlock()

		go q.executeOrder(ctx, item)
	}
}

// executeOrder submits one item, handling the single-shot TIF retry.
func (q *Queue) executeOrder(ctx context.Context, item *QueueItem) {
	item.Status = Processing
	item.StartedAt = q.clock.Now()

	result, err := q.submit(ctx, item.Payload, item.DryRun)
	if err != nil {
		if be, ok := err.(*brokererr.Error); ok && be.Kind() == brokererr.KindBrokerRejection && be.Discriminant == brokererr.TIFDayInvalidIntersession {
			retryPayload := item.Payload.withTimeInForce("GTC")
			retryResult, retryErr := q.submit(ctx, retryPayload, item.DryRun)
			if retryErr == nil {
				item.Payload = retryPayload
				result = retryResult
				err = nil
			}
		}
	}

	item.CompletedAt = q.clock.Now()
	if q.latency != nil {
		q.latency.RecordOrder(item.OriginalSignalID, item.CreatedAt, item.StartedAt, item.CompletedAt)
	}

	if err != nil {
		item.Status = Failed
		item.future.reject(err)
	} else {
		item.Status = Completed
		fees := 0.0
		if item.Validation != nil {
			fees = item.Validation.EstimatedFees
		}
		item.future.resolve(Result{OrderID: result.OrderID, TimeInForce: item.Payload.timeInForce(), EstimatedFees: fees})
	}

	q.mu.Lock()
	q.activeOrders--
	q.mu.Unlock()

	if q.cfg.DelayBetweenOrders > 0 {
		q.clock.Sleep(q.cfg.DelayBetweenOrders)
	}
	q.signalWake()
}

func (q *Queue) submit(ctx context.Context, p payload, dryRun bool) (broker.CreateOrderResult, error) {
	if dryRun {
		if _, err := q.broker.DryRun(ctx, q.cfg.AccountNumber, p); err != nil {
			return broker.CreateOrderResult{}, err
		}
		return broker.CreateOrderResult{OrderID: "dry-run"}, nil
	}
	if p.isComplex() || p.legCount() > 1 {
		return q.broker.CreateComplexOrder(ctx, q.cfg.AccountNumber, p)
	}
	return q.broker.CreateOrder(ctx, q.cfg.AccountNumber, p)
}

// Snapshot is a point-in-time view of the queue, per the ops surface.
type Snapshot struct {
	QueueLength  int
	ActiveOrders int
}

// QueueStatus returns the current length and active-order count.
func (q *Queue) QueueStatus() Snapshot {
	q.mu.Lock()
	defer q.mu.Unlock()
	return Snapshot{QueueLength: len(q.items), ActiveOrders: q.activeOrders}
}

// Clear rejects every pending item's future with a queue-cleared error and
// empties the queue; in-flight (already-dispatched) items are left alone.
func (q *Queue) Clear() {
	q.mu.Lock()
	pending := q.items
	q.items = nil
	q.mu.Unlock()

	for _, item := range pending {
		item.Status = Failed
		item.future.reject(brokererr.Validation("queue cleared"))
	}
}
