// Package broadcast renders and delivers per-tier fill messages and
// maintains the bounded fill history. Tier sends dispatch concurrently,
// grounded on the pub/sub fan-out-without-blocking idiom used by
// internal/events.Bus, adapted here to a bounded worker
// pool since each tier send is an external I/O call awaiting a result.
package broadcast

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"copybridge/internal/domain"
	"copybridge/internal/fillvalidate"
	"copybridge/internal/tier"
)

// Transport is the opaque chat-transport port a tier send goes through.
// Only its interface is specified; the concrete transport is an external
// collaborator.
type Transport interface {
	SendMessage(channelID string, msg Message) (messageID string, err error)
}

// Message is a rendered per-tier structured message (a plain record; the
// transport renders it into whatever wire form the chat platform expects).
type Message struct {
	Symbol         string
	Action         string
	FilledQuantity float64
	TotalQuantity  float64
	FillPrice      float64
	InstrumentType string
	Strike         *float64
	Expiration     string
	OptionType     string
	TotalValue     float64
	Status         string
	Fees           float64
	MaskedAccount  string
	Venue          string
	Footer         string
}

// TierDelivery is the per-tier outcome of a broadcast.
type TierDelivery struct {
	Success   bool
	MessageID string
	ChannelID string
}

// BroadcastError is a per-tier failure; "all" is used for a critical
// validation failure that aborts the whole broadcast.
type BroadcastError struct {
	Tier  string
	Error string
}

// Result is the aggregated outcome of one broadcastFill call.
type Result struct {
	Deliveries map[tier.Tier]*TierDelivery
	Errors     []BroadcastError
}

// ChannelResolver maps a tier to its fills channel, falling back to the
// tier's signal channel when a dedicated fills channel isn't configured.
type ChannelResolver interface {
	FillsChannel(t tier.Tier) (channelID string, ok bool)
}

// Broadcaster renders and delivers fill notifications and maintains the
// bounded fill history ring.
type Broadcaster struct {
	router    *tier.Router
	transport Transport
	channels  ChannelResolver
	venue     string

	mu      sync.Mutex
	history []domain.FillHistoryEntry
	maxHist int
}

func New(router *tier.Router, transport Transport, channels ChannelResolver, venue string) *Broadcaster {
	return &Broadcaster{
		router:    router,
		transport: transport,
		channels:  channels,
		venue:     venue,
		maxHist:   1000,
	}
}

// BroadcastFill validates, sanitises, records, resolves tiers and dispatches
// concurrently.
func (b *Broadcaster) BroadcastFill(fill domain.Fill, signalID string) Result {
	validation := fillvalidate.Validate(fill)
	if validation.Critical {
		msg := "Critical validation failed"
		if len(validation.Errors) > 0 {
			msg = fmt.Sprintf("Critical validation failed: %s", validation.Errors[0])
		}
		return Result{Errors: []BroadcastError{{Tier: "all", Error: msg}}}
	}

	sanitised := fillvalidate.Sanitise(fill, nil)
	b.appendHistory(sanitised)

	tiers := b.router.ResolveFillTiers(signalID, sanitised.Symbol)

	result := Result{Deliveries: make(map[tier.Tier]*TierDelivery)}
	var mu sync.Mutex
	var wg sync.WaitGroup

	for _, t := range tiers {
		t := t
		wg.Add(1)
		go func() {
			defer wg.Done()
			channelID, ok := b.channels.FillsChannel(t)
			if !ok {
				return // missing target is a skip, not an error
			}
			msg := renderMessage(sanitised, t, b.venue)
			messageID, err := b.transport.SendMessage(channelID, msg)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				result.Errors = append(result.Errors, BroadcastError{Tier: string(t), Error: err.Error()})
				return
			}
			result.Deliveries[t] = &TierDelivery{Success: true, MessageID: messageID, ChannelID: channelID}
		}()
	}

	wg.Wait()
	return result
}

func (b *Broadcaster) appendHistory(f domain.Fill) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.history = append(b.history, domain.FillHistoryEntry{Fill: f, RecordedAt: time.Now()})
	if len(b.history) > b.maxHist {
		b.history = b.history[len(b.history)-b.maxHist:]
	}
}

// History returns a snapshot of the bounded fill history ring.
func (b *Broadcaster) History() []domain.FillHistoryEntry {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]domain.FillHistoryEntry, len(b.history))
	copy(out, b.history)
	return out
}

func renderMessage(f domain.Fill, t tier.Tier, venue string) Message {
	totalValue := f.FillPrice * f.FilledQuantity
	if f.InstrumentType == domain.EquityOption {
		totalValue *= 100
	}

	return Message{
		Symbol:         f.Symbol,
		Action:         string(f.Action),
		FilledQuantity: f.FilledQuantity,
		TotalQuantity:  f.TotalQuantity,
		FillPrice:      f.FillPrice,
		InstrumentType: string(f.InstrumentType),
		Strike:         f.Strike,
		Expiration:     f.Expiration,
		OptionType:     string(f.OptionType),
		TotalValue:     totalValue,
		Status:         string(f.Status),
		Fees:           f.Fees,
		MaskedAccount:  maskAccount(f.AccountNumber),
		Venue:          venue,
		Footer:         strings.ToUpper(string(t)),
	}
}

// maskAccount keeps only the last 4 digits visible.
func maskAccount(acct string) string {
	if len(acct) <= 4 {
		return acct
	}
	return strings.Repeat("*", len(acct)-4) + acct[len(acct)-4:]
}
