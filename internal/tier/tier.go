// Package tier decides which subscriber tiers see which signals and fills,
// and remembers the tiers a signal reached so its later fill reaches the
// same audience. The memory is a bounded FIFO guarded by a single lock,
// grounded on the gateway pool's bounded-map-with-eviction shape
// (repurposed here from LRU connection eviction to insertion-order eviction).
package tier

import (
	"sync"

	"copybridge/internal/domain"
)

// Tier is a subscriber class.
type Tier string

const (
	VIP     Tier = "vip"
	Premium Tier = "premium"
	Basic   Tier = "basic"
)

// AllTiers is the fixed tier set.
var AllTiers = []Tier{VIP, Premium, Basic}

// MajorSet gates premium-tier fill routing.
var MajorSet = map[string]bool{
	"SPY": true, "QQQ": true, "IWM": true, "DIA": true, "AAPL": true,
	"TSLA": true, "NVDA": true, "MSFT": true, "AMZN": true, "GOOGL": true,
}

// BasicMajorSet gates basic-tier fill routing.
var BasicMajorSet = map[string]bool{
	"SPY": true, "QQQ": true, "IWM": true, "DIA": true,
}

// SignalTierPredicate decides whether a tier should receive a given signal.
type SignalTierPredicate func(domain.Signal) bool

// Router decides tier membership for signals and fills, and remembers the
// tiers a signal reached.
type Router struct {
	tierFilteringDisabled bool
	signalPredicates      map[Tier]SignalTierPredicate

	mu     sync.Mutex
	memory map[string][]Tier
	order  []string // insertion order, for FIFO eviction
	maxLen int
}

// defaultBasicSignalSet is the symbol allowlist for basic-tier signal
// routing's default predicate.
var defaultBasicSignalSet = map[string]bool{
	"SPY": true, "QQQ": true, "IWM": true, "DIA": true, "AAPL": true,
	"TSLA": true, "NVDA": true,
}

// NewRouter builds a Router with the default per-tier signal predicates:
// vip always, premium confidence HIGH/MEDIUM, basic confidence HIGH and
// symbol in the basic-signal allowlist.
func NewRouter(tierFilteringDisabled bool) *Router {
	return &Router{
		tierFilteringDisabled: tierFilteringDisabled,
		signalPredicates: map[Tier]SignalTierPredicate{
			VIP: func(domain.Signal) bool { return true },
			Premium: func(s domain.Signal) bool {
				return s.Confidence == "HIGH" || s.Confidence == "MEDIUM"
			},
			Basic: func(s domain.Signal) bool {
				return s.Confidence == "HIGH" && defaultBasicSignalSet[s.Symbol]
			},
		},
		memory: make(map[string][]Tier),
		maxLen: 1000,
	}
}

// SetSignalPredicate overrides the default predicate for a tier.
func (r *Router) SetSignalPredicate(t Tier, pred SignalTierPredicate) {
	r.signalPredicates[t] = pred
}

// RouteSignal returns the tiers that should receive this signal.
func (r *Router) RouteSignal(s domain.Signal) []Tier {
	if r.tierFilteringDisabled {
		return append([]Tier{}, AllTiers...)
	}
	var out []Tier
	for _, t := range AllTiers {
		if pred, ok := r.signalPredicates[t]; ok && pred(s) {
			out = append(out, t)
		}
	}
	return out
}

// RouteFill returns the tiers that should receive this fill by symbol
// membership rules: vip always; premium iff symbol in MajorSet; basic iff
// symbol in BasicMajorSet.
func (r *Router) RouteFill(symbol string) []Tier {
	if r.tierFilteringDisabled {
		return append([]Tier{}, AllTiers...)
	}
	out := []Tier{VIP}
	if MajorSet[symbol] {
		out = append(out, Premium)
	}
	if BasicMajorSet[symbol] {
		out = append(out, Basic)
	}
	return out
}

// TrackSignalTiers records the set of tiers that received a signal, FIFO
// evicting the oldest entry once the memory exceeds 1000 entries.
func (r *Router) TrackSignalTiers(signalID string, tiers []Tier) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.memory[signalID]; !exists {
		r.order = append(r.order, signalID)
	}
	r.memory[signalID] = append([]Tier{}, tiers...)

	for len(r.order) > r.maxLen {
		oldest := r.order[0]
		r.order = r.order[1:]
		delete(r.memory, oldest)
	}
}

// TiersFor returns the remembered tier set for a signal id, and whether one
// was recorded.
func (r *Router) TiersFor(signalID string) ([]Tier, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	tiers, ok := r.memory[signalID]
	if !ok {
		return nil, false
	}
	return append([]Tier{}, tiers...), true
}

// ResolveFillTiers implements the tier-memory-coherence invariant: if the
// fill's signal id was tracked, the remembered tier set is used rather than
// recomputed from symbol membership.
func (r *Router) ResolveFillTiers(signalID, symbol string) []Tier {
	if signalID != "" {
		if tiers, ok := r.TiersFor(signalID); ok {
			return tiers
		}
	}
	return r.RouteFill(symbol)
}
