package filldecoder

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"copybridge/internal/domain"
)

func TestDecodeOrderShapeFilled(t *testing.T) {
	raw := []byte(`{
		"order": {
			"id": "ORD1",
			"status": "Filled",
			"filled-quantity": 2,
			"quantity": 2,
			"price": 1.25,
			"fee": 0.1,
			"commission": 0.05,
			"regulatory-fees": 0.01,
			"clearing-fees": 0.02,
			"account-number": "ACCT123456",
			"filled-at": "2025-11-28T15:04:05Z",
			"legs": [{"instrument-type": "Equity", "symbol": "SPY", "quantity": 2, "action": "buy"}]
		}
	}`)
	fill, err := Decode(raw)
	require.NoError(t, err)
	require.NotNil(t, fill)
	assert.Equal(t, "SPY", fill.Symbol)
	assert.Equal(t, domain.BuyToOpen, fill.Action)
	assert.Equal(t, domain.Filled, fill.Status)
	assert.InDelta(t, 0.18, fill.Fees, 0.001)
	assert.Equal(t, domain.Equity, fill.InstrumentType)
}

func TestDecodeOrderShapeIgnoresPending(t *testing.T) {
	raw := []byte(`{"order": {"id": "ORD2", "status": "Pending"}}`)
	fill, err := Decode(raw)
	require.NoError(t, err)
	assert.Nil(t, fill)
}

func TestDecodeDataOrderNesting(t *testing.T) {
	raw := []byte(`{"data": {"order": {"id": "ORD3", "status": "PartiallyFilled", "legs":[{"symbol":"QQQ","action":"sell"}]}}}`)
	fill, err := Decode(raw)
	require.NoError(t, err)
	require.NotNil(t, fill)
	assert.Equal(t, domain.PartiallyFilled, fill.Status)
	assert.Equal(t, "QQQ", fill.Symbol)
}

func TestDecodeFillTypeShape(t *testing.T) {
	raw := []byte(`{"type":"Fill","symbol":"AAPL","action":"BTO","filled-quantity":5,"total-quantity":5,"fill-price":150.25,"order-id":"F1"}`)
	fill, err := Decode(raw)
	require.NoError(t, err)
	require.NotNil(t, fill)
	assert.Equal(t, "AAPL", fill.Symbol)
	assert.Equal(t, domain.BuyToOpen, fill.Action)
	assert.Equal(t, domain.Filled, fill.Status)
}

func TestDecodeFillTypeNestedInData(t *testing.T) {
	raw := []byte(`{"type":"Fill","data":{"symbol":"MSFT","action":"STC","filled-quantity":1,"total-quantity":1,"fill-price":300}}`)
	fill, err := Decode(raw)
	require.NoError(t, err)
	require.NotNil(t, fill)
	assert.Equal(t, "MSFT", fill.Symbol)
	assert.Equal(t, domain.SellToClose, fill.Action)
}

func TestDecodeTradeTypeBuySide(t *testing.T) {
	raw := []byte(`{"type":"Trade","symbol":"TSLA","side":"Buy","quantity":3,"price":220.5}`)
	fill, err := Decode(raw)
	require.NoError(t, err)
	require.NotNil(t, fill)
	assert.Equal(t, domain.BuyToOpen, fill.Action)
	assert.Equal(t, domain.Filled, fill.Status)
}

func TestDecodeTradeTypeSellSide(t *testing.T) {
	raw := []byte(`{"type":"Trade","symbol":"TSLA","side":"Sell","quantity":3,"price":220.5}`)
	fill, err := Decode(raw)
	require.NoError(t, err)
	require.NotNil(t, fill)
	assert.Equal(t, domain.SellToClose, fill.Action)
}

func TestDecodeUnknownShapeDroppedSilently(t *testing.T) {
	raw := []byte(`{"type":"Heartbeat","seq":1}`)
	fill, err := Decode(raw)
	require.NoError(t, err)
	assert.Nil(t, fill)
}

func TestDecodeMalformedJSONErrors(t *testing.T) {
	_, err := Decode([]byte(`not json`))
	assert.Error(t, err)
}

func TestGuessInstrumentOption(t *testing.T) {
	strike := 664.0
	assert.Equal(t, domain.EquityOption, guessInstrument("SPY", &strike, "", ""))
	assert.Equal(t, domain.EquityOption, guessInstrument("SPY", nil, "2025-11-28", ""))
	assert.Equal(t, domain.Equity, guessInstrument("SPY", nil, "", ""))
}

func TestIsFuturesLike(t *testing.T) {
	assert.True(t, IsFuturesLike("/ES"))
	assert.False(t, IsFuturesLike("SPY"))
}
