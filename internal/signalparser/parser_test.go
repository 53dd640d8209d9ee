package signalparser

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormaliseActionTable(t *testing.T) {
	assert.Equal(t, "BuyToOpen", NormaliseAction("buy"))
	assert.Equal(t, "BuyToOpen", NormaliseAction("BTO"))
	assert.Equal(t, "SellToOpen", NormaliseAction("sell"))
	assert.Equal(t, "SellToOpen", NormaliseAction("sto"))
	assert.Equal(t, "BuyToClose", NormaliseAction("btc"))
	assert.Equal(t, "SellToClose", NormaliseAction("STC"))
	assert.Equal(t, "HOLD", NormaliseAction("HOLD"), "unknown passes through")
}

func TestParseTextS1(t *testing.T) {
	sig, err := ParseText("BUY 10 SPY", MonotonicID(0))
	require.NoError(t, err)
	assert.Equal(t, "SPY", sig.Symbol)
	assert.Equal(t, "BuyToOpen", sig.Action)
	assert.Equal(t, 10, sig.Quantity)
	assert.Equal(t, "Market", sig.OrderType)
	assert.Equal(t, "text", sig.Source)
	assert.Equal(t, "signal_1", sig.ID)
}

func TestParseTextRequiresSignalOrTradePrefix(t *testing.T) {
	_, err := ParseText("hey did you see SPY today", nil)
	assert.Error(t, err)
}

func TestParseTextAllowsSignalPrefix(t *testing.T) {
	sig, err := ParseText("signal: BTO 5 NVDA", nil)
	require.NoError(t, err)
	assert.Equal(t, "NVDA", sig.Symbol)
	assert.Equal(t, "BuyToOpen", sig.Action)
	assert.Equal(t, 5, sig.Quantity)
}

func TestExtractSymbolFallback(t *testing.T) {
	assert.Equal(t, "SPY", ExtractSymbolFallback("entering SPY here, long"))
	assert.Equal(t, "", ExtractSymbolFallback("no tickers here"))
}

func TestIsSignalEmbed(t *testing.T) {
	assert.True(t, IsSignalEmbed(Embed{Title: "New Signal Alert"}))
	assert.True(t, IsSignalEmbed(Embed{Description: "this is a signal for SPY"}))
	assert.False(t, IsSignalEmbed(Embed{Title: "General chat"}))
}

func TestParseEmbedFields(t *testing.T) {
	e := Embed{
		Title: "SIGNAL",
		Fields: []Field{
			{Name: "Symbol", Value: "spy"},
			{Name: "Action", Value: "BTO"},
			{Name: "Quantity", Value: "3"},
			{Name: "Strike", Value: "664"},
			{Name: "Expiration", Value: "2025-11-28"},
			{Name: "Option Type", Value: "put"},
		},
		Footer: "ID: abc123",
	}
	sig, err := ParseEmbed(e, nil)
	require.NoError(t, err)
	assert.Equal(t, "SPY", sig.Symbol)
	assert.Equal(t, "BuyToOpen", sig.Action)
	assert.Equal(t, 3, sig.Quantity)
	require.NotNil(t, sig.Strike)
	assert.Equal(t, 664.0, *sig.Strike)
	assert.Equal(t, "Put", sig.OptionType)
	assert.Equal(t, "abc123", sig.ID)
}

func TestParseEmbedRejectsNonSignal(t *testing.T) {
	_, err := ParseEmbed(Embed{Title: "Announcement"}, nil)
	assert.Error(t, err)
}

func TestParseEmbedAssignsMonotonicIDWhenNoFooter(t *testing.T) {
	e := Embed{Title: "SIGNAL", Description: "buy AAPL"}
	sig, err := ParseEmbed(e, MonotonicID(100))
	require.NoError(t, err)
	assert.Equal(t, "signal_101", sig.ID)
}
