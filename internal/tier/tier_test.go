package tier

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"copybridge/internal/domain"
)

func TestRouteFillMajorSets(t *testing.T) {
	r := NewRouter(false)
	assert.ElementsMatch(t, []Tier{VIP, Premium}, r.RouteFill("AAPL"))
}

func TestRouteFillBasicTrades(t *testing.T) {
	r := NewRouter(false)
	assert.ElementsMatch(t, []Tier{VIP, Premium, Basic}, r.RouteFill("SPY"))
}

func TestRouteFillNonMajorOnlyVIP(t *testing.T) {
	r := NewRouter(false)
	assert.Equal(t, []Tier{VIP}, r.RouteFill("GME"))
}

func TestRouteFillDisabledFilteringAllTiers(t *testing.T) {
	r := NewRouter(true)
	assert.ElementsMatch(t, AllTiers, r.RouteFill("GME"))
}

func TestTierMemoryCoherenceInvariant9S6(t *testing.T) {
	r := NewRouter(false)
	r.TrackSignalTiers("sig42", []Tier{VIP, Premium})

	got := r.ResolveFillTiers("sig42", "NFLX")
	assert.ElementsMatch(t, []Tier{VIP, Premium}, got)
}

func TestResolveFillTiersFallsBackWhenUntracked(t *testing.T) {
	r := NewRouter(false)
	got := r.ResolveFillTiers("unknown-sig", "SPY")
	assert.ElementsMatch(t, []Tier{VIP, Premium, Basic}, got)
}

func TestTrackSignalTiersFIFOEviction(t *testing.T) {
	r := NewRouter(false)
	for i := 0; i < 1001; i++ {
		r.TrackSignalTiers(fmt.Sprintf("sig%d", i), []Tier{VIP})
	}
	_, ok := r.TiersFor("sig0")
	assert.False(t, ok, "oldest entry should have been evicted")
	_, ok = r.TiersFor("sig1000")
	assert.True(t, ok)
}

func TestRouteSignalDefaults(t *testing.T) {
	r := NewRouter(false)
	vipTiers := r.RouteSignal(domain.Signal{Confidence: "LOW", Symbol: "XYZ"})
	assert.Contains(t, vipTiers, VIP)
	assert.NotContains(t, vipTiers, Premium)

	premiumTiers := r.RouteSignal(domain.Signal{Confidence: "HIGH", Symbol: "SPY"})
	assert.Contains(t, premiumTiers, Basic)
}
