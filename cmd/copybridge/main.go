// Command copybridge wires the trade-signal copy bridge's pipeline:
// broker gateway, policy client, position sizer, order queue and copy
// engine, fronted by the ops HTTP surface and an operator chat router.
// Grounded on trading-core's main wiring shape: config.Load, an
// events.Bus, services constructed in dependency order, background
// goroutines per role, then block on an OS signal.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"copybridge/internal/bracket"
	"copybridge/internal/broadcast"
	"copybridge/internal/broker"
	"copybridge/internal/chat"
	"copybridge/internal/clock"
	"copybridge/internal/copyengine"
	"copybridge/internal/domain"
	"copybridge/internal/events"
	"copybridge/internal/filldecoder"
	"copybridge/internal/latency"
	"copybridge/internal/opsapi"
	"copybridge/internal/orderqueue"
	"copybridge/internal/policy"
	"copybridge/internal/signalparser"
	"copybridge/internal/sizer"
	"copybridge/internal/supervisor"
	"copybridge/internal/tier"
	"copybridge/pkg/cache"
	"copybridge/pkg/config"
)

// brokerBalance adapts broker.Gateway to sizer.BalanceFetcher for the
// follower account configured at startup.
type brokerBalance struct {
	gw      *broker.Gateway
	account string
}

func (b brokerBalance) GetBalance() (float64, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	balances, err := b.gw.GetBalances(ctx, b.account)
	if err != nil {
		return 0, err
	}
	return balances.NetLiquidation, nil
}

// channelResolver maps subscriber tiers to their configured fills
// channel, falling back to the tier's signal channel when no dedicated
// fills channel is configured.
type channelResolver struct {
	fills   map[tier.Tier]string
	signals map[tier.Tier]string
}

func (c channelResolver) FillsChannel(t tier.Tier) (string, bool) {
	if id, ok := c.fills[t]; ok && id != "" {
		return id, true
	}
	id, ok := c.signals[t]
	return id, ok && id != ""
}

// consoleTransport is the default chat/broadcast transport: it logs
// instead of delivering anywhere. The real messaging front-end is an
// external collaborator and is wired in by replacing this transport.
type consoleTransport struct {
	messages chan chat.Message
}

func newConsoleTransport() *consoleTransport {
	return &consoleTransport{messages: make(chan chat.Message)}
}

func (c *consoleTransport) Messages() <-chan chat.Message { return c.messages }

func (c *consoleTransport) Send(channelID, content string) error {
	log.Printf("chat -> [%s] %s", channelID, content)
	return nil
}

func (c *consoleTransport) SendMessage(channelID string, msg broadcast.Message) (string, error) {
	log.Printf("fill -> [%s] %s %s %.2f@%.2f", channelID, msg.Symbol, msg.Action, msg.FilledQuantity, msg.FillPrice)
	return fmt.Sprintf("console-%d", time.Now().UnixNano()), nil
}

// brokerBaseURL and brokerWSURL resolve the REST/stream endpoints for the
// configured broker environment.
func brokerBaseURL(env string) string {
	if env == "production" {
		return "https://api.brokerage.example.com/v3"
	}
	return "https://sandbox.brokerage.example.com/v3"
}

func brokerWSURL(env string) string {
	if env == "production" {
		return "wss://stream.brokerage.example.com/v3/accounts"
	}
	return "wss://sandbox-stream.brokerage.example.com/v3/accounts"
}

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}
	log.Printf("copybridge starting, queue profile=%s port=%s", cfg.QueueConfigProfile, cfg.Port)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bus := events.NewBus()
	clk := clock.Real{}
	lat := latency.New()

	gw := broker.New(broker.Config{
		BaseURL:       brokerBaseURL(cfg.BrokerEnv),
		WSURL:         brokerWSURL(cfg.BrokerEnv),
		ClientSecret:  cfg.BrokerClientSecret,
		RefreshToken:  cfg.BrokerRefreshToken,
		AccountNumber: cfg.BrokerAccountNumber,
	})
	if err := gw.Authenticate(ctx); err != nil {
		log.Printf("⚠️ broker authenticate failed at startup: %v", err)
	}

	policyClient := policy.New(policy.Config{
		ServerURL:     cfg.CentralServerURL,
		BotToken:      cfg.CentralBotToken,
		SubscriberID:  cfg.CentralSubscriberID,
		DeploymentID:  cfg.DeploymentID,
		DiscordUserID: cfg.CentralDiscordUserID,
	})
	if err := policyClient.Authenticate(ctx); err != nil {
		log.Printf("⚠️ policy authenticate failed at startup: %v", err)
	}

	sz := sizer.New(sizer.Config{
		Method:      sizer.Method(cfg.SizingMethod),
		FixedQty:    cfg.FixedQuantity,
		Multiplier:  cfg.Multiplier,
		Percentage:  cfg.Percentage,
		MinQuantity: cfg.MinQuantity,
		MaxQuantity: cfg.MaxQuantity,
		CacheTTL:    time.Duration(cfg.BalanceCacheTTL) * time.Second,
	}, brokerBalance{gw: gw, account: cfg.BrokerAccountNumber})
	coachBalance := cfg.CoachAccountBalance
	if err := sz.InitializeSizing(&coachBalance, nil); err != nil {
		log.Printf("⚠️ sizer balance initialisation failed: %v", err)
	}

	priceCache := cache.NewShardedPriceCache()
	sz.SetPriceCache(priceCache)

	queue := orderqueue.New(orderqueue.Config{
		MaxConcurrentOrders:    cfg.MaxConcurrentOrders,
		DelayBetweenOrders:     time.Duration(cfg.DelayBetweenOrdersMs) * time.Millisecond,
		MaxOrdersPerMinute:     cfg.MaxOrdersPerMinute,
		PriorityThreshold:      cfg.PriorityThreshold,
		EnableDryRunValidation: cfg.EnableDryRunValidation,
		AccountNumber:          cfg.BrokerAccountNumber,
	}, gw, clk, lat, nil)
	go func() {
		if err := queue.Run(ctx); err != nil && ctx.Err() == nil {
			log.Printf("⚠️ order queue dispatcher exited: %v", err)
		}
	}()

	engine := copyengine.New(copyengine.Config{
		MaxDailyTrades: cfg.MaxDailyTrades,
		MaxDailyLoss:   cfg.MaxDailyLoss,
		AccountNumber:  cfg.BrokerAccountNumber,
	}, policyClient, sz, queue)

	tierFilteringDisabled := len(cfg.EnabledSymbols) == 0
	tierRouter := tier.NewRouter(tierFilteringDisabled)

	resolver := channelResolver{
		fills: map[tier.Tier]string{
			tier.VIP:     cfg.VIPFillsChannelID,
			tier.Premium: cfg.PremiumFillsChannelID,
			tier.Basic:   cfg.BasicFillsChannelID,
		},
		signals: map[tier.Tier]string{
			tier.VIP:     cfg.VIPChannelID,
			tier.Premium: cfg.PremiumChannelID,
			tier.Basic:   cfg.BasicChannelID,
		},
	}
	transport := newConsoleTransport()
	broadcaster := broadcast.New(tierRouter, transport, resolver, cfg.BrokerEnv)

	sup := supervisor.New(supervisor.DefaultConfig())
	if overrides, err := supervisor.LoadRoleConfig("roles.yaml"); err != nil {
		log.Printf("⚠️ roles.yaml load failed, using defaults: %v", err)
	} else if len(overrides) > 0 {
		sup.ApplyOverrides(overrides)
		log.Printf("loaded %d role overrides from roles.yaml", len(overrides))
	}

	sup.Register("account-stream", func(ctx context.Context) error {
		streamEvents, unsubscribe := gw.AccountStream(ctx, cfg.BrokerAccountNumber)
		defer unsubscribe()
		for {
			select {
			case <-ctx.Done():
				return nil
			case evt, ok := <-streamEvents:
				if !ok {
					return fmt.Errorf("account stream closed")
				}
				fill, err := filldecoder.Decode(evt.Raw)
				if err != nil {
					log.Printf("⚠️ fill decode failed: %v", err)
					continue
				}
				if fill == nil {
					continue // unrecognised shape, dropped silently
				}
				bus.Publish(events.EventFillDecoded, *fill)
				result := broadcaster.BroadcastFill(*fill, fill.OriginalSignalID)
				for _, e := range result.Errors {
					log.Printf("⚠️ broadcast failed for tier %s: %s", e.Tier, e.Error)
				}
				bus.Publish(events.EventFillBroadcast, result)
			}
		}
	})

	sup.Register("quote-stream", func(ctx context.Context) error {
		if len(cfg.EnabledSymbols) == 0 {
			<-ctx.Done()
			return nil
		}
		quotes, unsubscribe := gw.QuoteStream(ctx, cfg.EnabledSymbols)
		defer unsubscribe()
		for {
			select {
			case <-ctx.Done():
				return nil
			case q, ok := <-quotes:
				if !ok {
					return fmt.Errorf("quote stream closed")
				}
				mid := (q.Bid + q.Ask) / 2
				if mid > 0 {
					priceCache.Set(q.Symbol, mid)
				}
			}
		}
	})

	opsServer := opsapi.New(opsapi.Config{
		Queue:     queue,
		Latency:   lat,
		Policy:    policyClient,
		Prices:    priceCache,
		JWTSecret: cfg.JWTSecret,
	})
	sup.Register("opsapi", func(ctx context.Context) error {
		errCh := make(chan error, 1)
		go func() { errCh <- opsServer.Run(":" + cfg.Port) }()
		select {
		case <-ctx.Done():
			return nil
		case err := <-errCh:
			return err
		}
	})

	chatRouter := chat.NewRouter()
	registerChatCommands(chatRouter, engine, queue, lat, policyClient, bus, broadcaster, gw, priceCache, cfg.BrokerAccountNumber)
	sup.Register("chat", func(ctx context.Context) error {
		chatRouter.Run(ctx, transport)
		return nil
	})

	sup.Start(ctx)
	log.Println("copybridge started")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan
	log.Println("shutting down")
	cancel()
	sup.Shutdown()
	queue.Clear()
}

// toDomainSignal lifts a signalparser.Signal into the pipeline-wide
// domain.Signal shape CopyEngine consumes.
func toDomainSignal(s signalparser.Signal) domain.Signal {
	instrument := domain.Equity
	if s.Strike != nil {
		instrument = domain.EquityOption
	}
	return domain.Signal{
		ID:             s.ID,
		Symbol:         s.Symbol,
		Action:         domain.Action(s.Action),
		Quantity:       s.Quantity,
		OrderType:      domain.OrderType(s.OrderType),
		InstrumentType: instrument,
		Strike:         s.Strike,
		Expiration:     s.Expiration,
		OptionType:     domain.OptionType(s.OptionType),
		Source:         s.Source,
		Timestamp:      time.Now(),
	}
}

// registerChatCommands wires the operator chat commands to the live
// pipeline for manual testing and status queries.
func registerChatCommands(r *chat.Router, engine *copyengine.Engine, queue *orderqueue.Queue, lat *latency.Monitor, policyClient *policy.Client, bus *events.Bus, broadcaster *broadcast.Broadcaster, gw *broker.Gateway, priceCache *cache.ShardedPriceCache, account string) {
	r.Register("queue-status", func(ctx context.Context, msg chat.Message, args []string) (string, error) {
		snap := queue.QueueStatus()
		return fmt.Sprintf("queue length=%d active=%d dropped-events=%d", snap.QueueLength, snap.ActiveOrders, bus.Dropped()), nil
	})

	r.Register("latency-stats", func(ctx context.Context, msg chat.Message, args []string) (string, error) {
		stats := lat.Stats()
		return fmt.Sprintf("p50=%.0fms p95=%.0fms p99=%.0fms", stats.P50, stats.P95, stats.P99), nil
	})

	r.Register("central-status", func(ctx context.Context, msg chat.Message, args []string) (string, error) {
		status, ok := policyClient.Status()
		if !ok {
			return "policy status unavailable", nil
		}
		return fmt.Sprintf("canTrade=%v tier=%s validUntil=%s", status.CanTrade, status.Tier, status.ValidUntil.Format(time.RFC3339)), nil
	})

	r.Register("queue-order", func(ctx context.Context, msg chat.Message, args []string) (string, error) {
		if len(args) < 3 {
			return "usage: !queue-order SYMBOL QTY ACTION [PRIORITY]", nil
		}
		symbol := strings.ToUpper(args[0])
		qty, err := strconv.Atoi(args[1])
		if err != nil {
			return "", fmt.Errorf("invalid quantity %q: %w", args[1], err)
		}
		action := signalparser.NormaliseAction(args[2])
		priority := 0
		if len(args) >= 4 {
			priority, err = strconv.Atoi(args[3])
			if err != nil {
				return "", fmt.Errorf("invalid priority %q: %w", args[3], err)
			}
		}

		entry := bracket.OrderLeg{
			OrderType: domain.Market,
			Legs: []bracket.Leg{{
				InstrumentType: domain.Equity,
				Symbol:         symbol,
				Quantity:       qty,
				Action:         domain.Action(action),
			}},
		}
		if _, err := queue.Enqueue(ctx, orderqueue.Request{Entry: entry, Priority: priority, OriginalSignalID: "chat-manual"}); err != nil {
			return "", err
		}
		bus.Publish(events.EventOrderEnqueued, symbol)
		return fmt.Sprintf("queued %s %s x%d priority=%d", action, symbol, qty, priority), nil
	})

	r.Register("test-fill", func(ctx context.Context, msg chat.Message, args []string) (string, error) {
		if len(args) < 3 {
			return "usage: !test-fill SYMBOL QTY PRICE [ACTION]", nil
		}
		symbol := strings.ToUpper(args[0])
		qty, err := strconv.ParseFloat(args[1], 64)
		if err != nil {
			return "", fmt.Errorf("invalid quantity %q: %w", args[1], err)
		}
		price, err := strconv.ParseFloat(args[2], 64)
		if err != nil {
			return "", fmt.Errorf("invalid price %q: %w", args[2], err)
		}
		action := "BuyToOpen"
		if len(args) >= 4 {
			action = signalparser.NormaliseAction(args[3])
		}

		fill := domain.Fill{
			ID:               fmt.Sprintf("test-fill-%d", time.Now().UnixNano()),
			Symbol:           symbol,
			Action:           domain.Action(action),
			OrderType:        domain.Market,
			InstrumentType:   domain.Equity,
			Source:           "chat-test",
			Status:           domain.Filled,
			FilledQuantity:   qty,
			TotalQuantity:    qty,
			FillPrice:        price,
			AccountNumber:    account,
			FilledAt:         time.Now(),
			OrderID:          fmt.Sprintf("test-%d", time.Now().UnixNano()),
			OriginalSignalID: "test-fill",
		}
		result := broadcaster.BroadcastFill(fill, fill.OriginalSignalID)
		bus.Publish(events.EventFillBroadcast, result)
		return fmt.Sprintf("test fill broadcast: %d tier deliveries, %d errors", len(result.Deliveries), len(result.Errors)), nil
	})

	r.Register("live-status", func(ctx context.Context, msg chat.Message, args []string) (string, error) {
		status := gw.StreamStatus()
		return fmt.Sprintf("account-stream connected=%v quote-stream connected=%v cached-symbols=%d", status.AccountStreamConnected, status.QuoteStreamConnected, priceCache.Len()), nil
	})

	r.Register("reconnect", func(ctx context.Context, msg chat.Message, args []string) (string, error) {
		n := gw.Reconnect()
		bus.Publish(events.EventStreamDropped, n)
		return fmt.Sprintf("reconnect triggered: %d connection(s) closed, redialing", n), nil
	})

	r.Register("sim", func(ctx context.Context, msg chat.Message, args []string) (string, error) {
		if len(args) == 0 {
			return "usage: !sim <signal text>", nil
		}
		text := ""
		for i, a := range args {
			if i > 0 {
				text += " "
			}
			text += a
		}
		signal, err := signalparser.ParseText(text, signalparser.MonotonicID(time.Now().UnixNano()))
		if err != nil {
			return "", err
		}
		domainSignal := toDomainSignal(signal)
		bus.Publish(events.EventSignalReceived, domainSignal)
		result := engine.ProcessSignal(ctx, domainSignal)
		if !result.Success {
			bus.Publish(events.EventSignalGated, result.Reason)
			return fmt.Sprintf("rejected: %s", result.Reason), nil
		}
		bus.Publish(events.EventOrderEnqueued, domainSignal.Symbol)
		return "queued", nil
	})
}
