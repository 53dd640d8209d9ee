package bracket

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"copybridge/internal/domain"
)

func TestIsBracket(t *testing.T) {
	assert.False(t, IsBracket(BracketRequest{Entry: OrderLeg{}}))
	assert.True(t, IsBracket(BracketRequest{Entry: OrderLeg{}, TakeProfit: &OrderLeg{}}))
	assert.True(t, IsBracket(BracketRequest{Entry: OrderLeg{}, StopLoss: &OrderLeg{}}))
}

func TestExpandDefaultsEntryOrderType(t *testing.T) {
	tp := &OrderLeg{Legs: []Leg{{Symbol: "SPY", Quantity: 1}}}
	got := Expand(BracketRequest{
		Entry:      OrderLeg{Legs: []Leg{{Symbol: "SPY", Quantity: 1, Action: domain.BuyToOpen}}},
		TakeProfit: tp,
	})

	assert.Equal(t, "OTOCO", got.OrderType)
	assert.Equal(t, domain.Market, got.TriggerOrder.OrderType)
	assert.Equal(t, "Day", got.TimeInForce)
	requireLen(t, got.Orders, 1)
	assert.Equal(t, domain.Limit, got.Orders[0].OrderType)
	assert.Equal(t, domain.SellToClose, got.Orders[0].Legs[0].Action)
}

func TestExpandCarriesEntryTimeInForce(t *testing.T) {
	sl := &OrderLeg{Legs: []Leg{{Symbol: "SPY", Quantity: 1}}}
	got := Expand(BracketRequest{
		Entry:       OrderLeg{OrderType: domain.Limit},
		TimeInForce: "GTC",
		StopLoss:    sl,
	})
	assert.Equal(t, "GTC", got.TimeInForce)
	assert.Equal(t, domain.Limit, got.TriggerOrder.OrderType)
}

func TestExpandBothExits(t *testing.T) {
	tp := &OrderLeg{Legs: []Leg{{Symbol: "SPY", Quantity: 1}}}
	sl := &OrderLeg{Legs: []Leg{{Symbol: "SPY", Quantity: 1}}}
	got := Expand(BracketRequest{Entry: OrderLeg{}, TakeProfit: tp, StopLoss: sl})
	requireLen(t, got.Orders, 2)
}

func requireLen(t *testing.T, orders []OrderLeg, n int) {
	t.Helper()
	assert.Len(t, orders, n)
}
