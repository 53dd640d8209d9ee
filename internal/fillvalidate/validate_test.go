package fillvalidate

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"copybridge/internal/domain"
)

func TestValidateCriticalMissingSymbolS7(t *testing.T) {
	f := domain.Fill{Action: domain.BuyToOpen, FilledQuantity: 1}
	res := Validate(f)
	assert.True(t, res.Critical)
	assert.False(t, res.IsValid)
	assert.Contains(t, res.Errors, "Missing symbol")
}

func TestValidateCriticalMissingAction(t *testing.T) {
	res := Validate(domain.Fill{Symbol: "SPY"})
	assert.True(t, res.Critical)
}

func TestValidateNonCriticalMissingPrice(t *testing.T) {
	f := domain.Fill{Symbol: "SPY", Action: domain.BuyToOpen, FillPrice: -1, FilledAt: time.Now()}
	res := Validate(f)
	assert.False(t, res.Critical)
	assert.False(t, res.IsValid)
	assert.Contains(t, res.Errors, "Invalid fillPrice")
}

func TestValidateAllGoodIsValid(t *testing.T) {
	f := domain.Fill{
		Symbol:         "SPY",
		Action:         domain.BuyToOpen,
		FilledQuantity: 1,
		FillPrice:      1.5,
		FilledAt:       time.Now(),
	}
	res := Validate(f)
	assert.True(t, res.IsValid)
	assert.False(t, res.Critical)
	assert.Empty(t, res.Errors)
}

func TestSanitiseFixesAllFields(t *testing.T) {
	f := domain.Fill{
		Symbol:         "  spy ",
		Action:         "bought",
		FilledQuantity: -5,
		FillPrice:      -1,
		Fees:           -0.5,
	}
	got := Sanitise(f, nil)
	assert.Equal(t, "SPY", got.Symbol)
	assert.Equal(t, domain.BuyToOpen, got.Action)
	assert.Equal(t, 0.0, got.FilledQuantity)
	assert.Equal(t, 0.0, got.FillPrice)
	assert.Equal(t, 0.0, got.Fees)
	assert.Equal(t, domain.Filled, got.Status)
	assert.False(t, got.FilledAt.IsZero())
	assert.NotEmpty(t, got.OrderID)
	assert.Equal(t, domain.Equity, got.InstrumentType)
}

func TestSanitiseIdempotenceInvariant7(t *testing.T) {
	f := domain.Fill{Symbol: " spy", Action: "sold", FilledQuantity: -1, FillPrice: 2}
	once := Sanitise(f, nil)
	twice := Sanitise(once, nil)
	assert.Equal(t, once, twice)
}

func TestSanitiseTotalQuantityDefaultsToFilled(t *testing.T) {
	f := domain.Fill{Symbol: "SPY", Action: domain.BuyToOpen, FilledQuantity: 3}
	got := Sanitise(f, nil)
	assert.Equal(t, 3.0, got.TotalQuantity)
}

func TestSanitiseInfersOptionInstrument(t *testing.T) {
	strike := 664.0
	f := domain.Fill{Symbol: "SPY", Action: domain.BuyToOpen, Strike: &strike}
	got := Sanitise(f, nil)
	assert.Equal(t, domain.EquityOption, got.InstrumentType)
}
