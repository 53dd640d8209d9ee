// Package sizer computes order quantities from signals under four sizing
// modes, caching the coach/follower balance ratio so the hot path does no I/O.
// Grounded on a balance-cache shape: RWMutex-guarded struct, periodic async
// refresh, atomic struct-swap so readers never see a torn (follower, coach,
// ratio) tuple.
package sizer

import (
	"log"
	"sync"
	"time"

	"copybridge/internal/domain"
)

// Method selects which of the four sizing algorithms calculate uses.
type Method string

const (
	Fixed         Method = "fixed"
	Multiplier    Method = "multiplier"
	Proportional  Method = "proportional"
	Percentage    Method = "percentage"
)

// BalanceFetcher resolves an account balance, used to back-fill the
// follower balance when it is not supplied directly.
type BalanceFetcher interface {
	GetBalance() (float64, error)
}

// PriceCache resolves a last-known mid price for a symbol, consulted by
// percentage sizing when a signal carries no explicit price.
type PriceCache interface {
	Get(symbol string) (float64, bool)
}

// Config configures a Sizer. MinQuantity/MaxQuantity of zero mean
// "unbounded" on that side.
type Config struct {
	Method       Method
	FixedQty     int
	Multiplier   float64
	Percentage   float64
	MinQuantity  int
	MaxQuantity  int
	CacheTTL     time.Duration
}

// Sizer computes position sizes and owns the coach/follower balance cache.
// The cache is single-writer, many-reader: calculate never blocks on I/O.
type Sizer struct {
	cfg    Config
	broker BalanceFetcher
	prices PriceCache

	mu       sync.RWMutex
	balances domain.Balances
}

func New(cfg Config, broker BalanceFetcher) *Sizer {
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 60 * time.Second
	}
	return &Sizer{cfg: cfg, broker: broker}
}

// SetPriceCache attaches the mid-price cache consulted by percentage
// sizing's pricePerContract fallback. Optional: Calculate falls back to
// signal.Price, then a conservative default, when unset.
func (s *Sizer) SetPriceCache(prices PriceCache) {
	s.prices = prices
}

// InitializeSizing resolves the follower balance via the broker when not
// provided, and pre-computes ratio. Coach balance, if zero, leaves ratio
// undefined (proportional sizing then falls back).
func (s *Sizer) InitializeSizing(coach, follower *float64) error {
	var followerBalance float64
	if follower != nil {
		followerBalance = *follower
	} else if s.broker != nil {
		bal, err := s.broker.GetBalance()
		if err != nil {
			return err
		}
		followerBalance = bal
	}

	var coachBalance float64
	if coach != nil {
		coachBalance = *coach
	}

	s.setBalances(coachBalance, followerBalance)
	return nil
}

func (s *Sizer) setBalances(coach, follower float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b := domain.Balances{
		CoachBalance:    coach,
		FollowerBalance: follower,
		CachedAt:        time.Now(),
	}
	if coach > 0 {
		b.Ratio = follower / coach
		b.RatioValid = true
	}
	s.balances = b
}

// UpdateCoachBalance updates the coach side of the cache and recomputes the
// ratio atomically. Never blocks on I/O.
func (s *Sizer) UpdateCoachBalance(coach float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	follower := s.balances.FollowerBalance
	s.balances = domain.Balances{CoachBalance: coach, FollowerBalance: follower, CachedAt: time.Now()}
	if coach > 0 {
		s.balances.Ratio = follower / coach
		s.balances.RatioValid = true
	}
}

// UpdateFollowerBalance updates the follower side of the cache and
// recomputes the ratio atomically. Never blocks on I/O.
func (s *Sizer) UpdateFollowerBalance(follower float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	coach := s.balances.CoachBalance
	s.balances = domain.Balances{CoachBalance: coach, FollowerBalance: follower, CachedAt: time.Now()}
	if coach > 0 {
		s.balances.Ratio = follower / coach
		s.balances.RatioValid = true
	}
}

// RefreshFollowerBalance asynchronously refreshes the follower balance from
// the broker. It is fire-and-forget: errors are logged, never propagated.
func (s *Sizer) RefreshFollowerBalance() {
	if s.broker == nil {
		return
	}
	go func() {
		bal, err := s.broker.GetBalance()
		if err != nil {
			log.Printf("⚠️ sizer: follower balance refresh failed: %v", err)
			return
		}
		s.UpdateFollowerBalance(bal)
	}()
}

// NeedsCacheRefresh reports whether the cached balances are older than the
// configured TTL.
func (s *Sizer) NeedsCacheRefresh() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.balances.CachedAt.IsZero() {
		return true
	}
	return time.Since(s.balances.CachedAt) > s.cfg.CacheTTL
}

// Balances returns a consistent snapshot of the coach/follower/ratio triple.
func (s *Sizer) Balances() domain.Balances {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.balances
}

// Calculate computes the order quantity for a signal under the configured
// method. The hot path (proportional) never performs I/O.
func (s *Sizer) Calculate(signal domain.Signal) int {
	var qty int
	switch s.cfg.Method {
	case Fixed:
		qty = s.cfg.FixedQty
	case Multiplier:
		qty = int(float64(signal.Quantity) * s.cfg.Multiplier)
	case Percentage:
		qty = s.calculatePercentage(signal)
	default: // Proportional
		qty = s.calculateProportional(signal)
	}
	return s.clamp(qty)
}

func (s *Sizer) calculateProportional(signal domain.Signal) int {
	b := s.Balances()
	if !b.RatioValid {
		log.Printf("⚠️ sizer: ratio uninitialised, falling back to signal quantity")
		fallback := signal.Quantity
		if fallback < 1 {
			fallback = 1
		}
		return fallback
	}
	return int(roundHalfAwayFromZero(float64(signal.Quantity) * b.Ratio))
}

// defaultPricePerContract is the fallback price used when a signal carries
// no explicit price and the price cache has no entry for its symbol.
const defaultPricePerContract = 100.0

func (s *Sizer) calculatePercentage(signal domain.Signal) int {
	b := s.Balances()
	price := 0.0
	switch {
	case signal.Price != nil && *signal.Price > 0:
		price = *signal.Price
	case s.prices != nil:
		if cached, ok := s.prices.Get(signal.Symbol); ok && cached > 0 {
			price = cached
		}
	}
	if price <= 0 {
		log.Printf("⚠️ sizer: no price available for %s, percentage sizing defaults to $%.0f", signal.Symbol, defaultPricePerContract)
		price = defaultPricePerContract
	}
	pricePerContract := price
	if signal.IsOption() {
		pricePerContract = price * 100
	}
	if pricePerContract <= 0 {
		return 0
	}
	notional := b.FollowerBalance * (s.cfg.Percentage / 100)
	return int(notional / pricePerContract)
}

// clamp applies min then max bounds, when configured (zero means unbounded
// on that side).
func (s *Sizer) clamp(qty int) int {
	if s.cfg.MinQuantity > 0 && qty < s.cfg.MinQuantity {
		qty = s.cfg.MinQuantity
	}
	if s.cfg.MaxQuantity > 0 && qty > s.cfg.MaxQuantity {
		qty = s.cfg.MaxQuantity
	}
	return qty
}

func roundHalfAwayFromZero(f float64) float64 {
	if f >= 0 {
		return float64(int64(f + 0.5))
	}
	return float64(int64(f - 0.5))
}
