package orderqueue

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"copybridge/internal/bracket"
	"copybridge/internal/broker"
	"copybridge/internal/clock"
	"copybridge/internal/domain"
)

func testEntry(symbol string, qty int) bracket.OrderLeg {
	return bracket.OrderLeg{
		Legs: []bracket.Leg{{InstrumentType: domain.Equity, Symbol: symbol, Quantity: qty, Action: domain.BuyToOpen}},
	}
}

func newQueue(t *testing.T, cfg Config, clk clock.Clock, handler http.HandlerFunc) *Queue {
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	gw := broker.New(broker.Config{BaseURL: srv.URL})
	if cfg.MaxConcurrentOrders == 0 {
		cfg.MaxConcurrentOrders = 5
	}
	if cfg.AccountNumber == "" {
		cfg.AccountNumber = "ACC1"
	}
	return New(cfg, gw, clk, nil, nil)
}

func TestEnqueueS1FixedSizingHappyPath(t *testing.T) {
	q := newQueue(t, Config{MaxOrdersPerMinute: 100, PriorityThreshold: 9}, nil, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"orderId": "ORD1"})
	})

	future, err := q.Enqueue(context.Background(), Request{Entry: testEntry("SPY", 2)})
	require.NoError(t, err)

	go q.dispatchReady(context.Background())
	result, err := future.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "ORD1", result.OrderID)

	status := q.QueueStatus()
	assert.Equal(t, 0, status.QueueLength)
}

func TestPriorityOrderingThresholdJumpsQueue(t *testing.T) {
	q := newQueue(t, Config{MaxOrdersPerMinute: 100, PriorityThreshold: 5}, nil, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"orderId": "ORD1"})
	})

	_, err := q.Enqueue(context.Background(), Request{Entry: testEntry("A", 1), Priority: 1})
	require.NoError(t, err)
	_, err = q.Enqueue(context.Background(), Request{Entry: testEntry("B", 1), Priority: 2})
	require.NoError(t, err)
	_, err = q.Enqueue(context.Background(), Request{Entry: testEntry("C", 1), Priority: 9})
	require.NoError(t, err)

	q.mu.Lock()
	defer q.mu.Unlock()
	require.Len(t, q.items, 3)
	assert.Equal(t, 9, q.items[0].Priority)
}

func TestFIFOWithinEqualPriority(t *testing.T) {
	q := newQueue(t, Config{MaxOrdersPerMinute: 100, PriorityThreshold: 9}, nil, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"orderId": "ORD1"})
	})

	_, err := q.Enqueue(context.Background(), Request{Entry: testEntry("A", 1), Priority: 3})
	require.NoError(t, err)
	_, err = q.Enqueue(context.Background(), Request{Entry: testEntry("B", 1), Priority: 3})
	require.NoError(t, err)

	q.mu.Lock()
	defer q.mu.Unlock()
	require.Len(t, q.items, 2)
	assert.Equal(t, "A", q.items[0].Payload.(simplePayload).Legs[0].Symbol)
	assert.Equal(t, "B", q.items[1].Payload.(simplePayload).Legs[0].Symbol)
}

func TestRateLimitS5(t *testing.T) {
	fake := clock.NewFake(time.Unix(0, 0))
	q := newQueue(t, Config{MaxOrdersPerMinute: 2, PriorityThreshold: 9}, fake, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"orderId": "ORD1"})
	})

	var futures []*Future
	for i := 0; i < 3; i++ {
		f, err := q.Enqueue(context.Background(), Request{Entry: testEntry("SPY", 1)})
		require.NoError(t, err)
		futures = append(futures, f)
	}

	q.dispatchReady(context.Background())
	require.Eventually(t, func() bool {
		q.mu.Lock()
		defer q.mu.Unlock()
		return len(q.items) == 1
	}, time.Second, time.Millisecond)

	q.mu.Lock()
	remaining := len(q.items)
	q.mu.Unlock()
	assert.Equal(t, 1, remaining, "third item should stay queued under the rate limit")

	fake.Advance(61 * time.Second)
	q.dispatchReady(context.Background())

	require.Eventually(t, func() bool {
		q.mu.Lock()
		defer q.mu.Unlock()
		return len(q.items) == 0
	}, time.Second, time.Millisecond)

	for _, f := range futures {
		_, err := f.Wait(context.Background())
		assert.NoError(t, err)
	}
}

func TestTIFRetryS4(t *testing.T) {
	var calls int32
	q := newQueue(t, Config{MaxOrdersPerMinute: 100, PriorityThreshold: 9}, nil, func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		if n == 1 {
			w.WriteHeader(http.StatusUnprocessableEntity)
			json.NewEncoder(w).Encode(map[string]string{"code": "tif_day_invalid_intersession", "message": "invalid tif"})
			return
		}
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		assert.Equal(t, "GTC", body["time-in-force"])
		json.NewEncoder(w).Encode(map[string]string{"orderId": "ORD-RETRY"})
	})

	future, err := q.Enqueue(context.Background(), Request{Entry: testEntry("SPY", 1), TimeInForce: "Day"})
	require.NoError(t, err)

	q.dispatchReady(context.Background())
	result, err := future.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "ORD-RETRY", result.OrderID)
	assert.Equal(t, "GTC", result.TimeInForce)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestValidationFailureRejectsWithoutEnqueueing(t *testing.T) {
	q := newQueue(t, Config{MaxOrdersPerMinute: 100, PriorityThreshold: 9, EnableDryRunValidation: true}, nil, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(broker.DryRunResult{BuyingPowerEffect: -5})
	})

	_, err := q.Enqueue(context.Background(), Request{Entry: testEntry("SPY", 1)})
	require.Error(t, err)

	status := q.QueueStatus()
	assert.Equal(t, 0, status.QueueLength)
}

func TestBracketExpansionProducesComplexOrder(t *testing.T) {
	var sawComplex bool
	q := newQueue(t, Config{MaxOrdersPerMinute: 100, PriorityThreshold: 9}, nil, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/accounts/ACC1/complex-orders" {
			sawComplex = true
		}
		json.NewEncoder(w).Encode(map[string]string{"orderId": "ORD1"})
	})

	tp := bracket.OrderLeg{Legs: []bracket.Leg{{Symbol: "SPY", Quantity: 1}}}
	future, err := q.Enqueue(context.Background(), Request{Entry: testEntry("SPY", 1), TakeProfit: &tp})
	require.NoError(t, err)

	q.dispatchReady(context.Background())
	_, err = future.Wait(context.Background())
	require.NoError(t, err)
	assert.True(t, sawComplex)
}

func TestClearRejectsPendingFutures(t *testing.T) {
	q := newQueue(t, Config{MaxOrdersPerMinute: 100, PriorityThreshold: 9}, nil, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"orderId": "ORD1"})
	})

	future, err := q.Enqueue(context.Background(), Request{Entry: testEntry("SPY", 1)})
	require.NoError(t, err)

	q.Clear()
	_, err = future.Wait(context.Background())
	assert.Error(t, err)
}
