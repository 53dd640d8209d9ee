// Package broker implements typed operations over the broker RPC surface
// plus its reconnectable account/quote event streams. Grounded on the
// signed REST client shape (Config, New, doSigned request builder, typed
// response decode) and the gorilla/websocket reconnecting reader
// goroutine with keepalive ticker used elsewhere in the stack for
// exchange connectivity.
package broker

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"copybridge/internal/brokererr"
)

// Account is a brokerage account summary.
type Account struct {
	AccountNumber string
	AccountType   string
}

// Balances is the broker's reported account balance snapshot.
type Balances struct {
	CashBalance    float64
	BuyingPower    float64
	NetLiquidation float64
}

// Position is one held instrument position.
type Position struct {
	Symbol   string
	Quantity float64
}

// DryRunResult is the pre-flight buying-power/fee estimate, per the
// glossary's "Dry-run" entry.
type DryRunResult struct {
	BuyingPowerEffect float64
	FeeCalculation    float64
}

// CreateOrderResult is returned by createOrder/createComplexOrder.
type CreateOrderResult struct {
	OrderID string
}

// Event is an opaque account-stream record forwarded to FillDecoder
// unparsed; BrokerGateway never interprets its shape.
type Event struct {
	Raw []byte
}

// Quote is a single quoteStream tick.
type Quote struct {
	Symbol string
	Bid    float64
	Ask    float64
	At     time.Time
}

// Config configures a Gateway connection.
type Config struct {
	BaseURL       string
	WSURL         string
	ClientSecret  string
	RefreshToken  string
	AccountNumber string
	Timeout       time.Duration
}

// Gateway is the concrete signed-REST + websocket-stream BrokerGateway
// implementation.
type Gateway struct {
	cfg        Config
	httpClient *http.Client
	sessionTok string

	acctConnected  atomic.Bool
	quoteConnected atomic.Bool

	connMu    sync.Mutex
	acctConn  *websocket.Conn
	quoteConn *websocket.Conn
}

// StreamStatus is a point-in-time read of the account/quote stream
// connection state, for operator status commands.
type StreamStatus struct {
	AccountStreamConnected bool
	QuoteStreamConnected   bool
}

// StreamStatus reports whether the account and quote streams currently
// hold a live websocket connection.
func (g *Gateway) StreamStatus() StreamStatus {
	return StreamStatus{
		AccountStreamConnected: g.acctConnected.Load(),
		QuoteStreamConnected:   g.quoteConnected.Load(),
	}
}

// Reconnect force-closes any active account/quote stream connections. Each
// stream's reconnect-with-backoff loop redials immediately afterward, since
// the backoff delay only applies on a failed dial, not a closed read.
// Returns the number of connections closed.
func (g *Gateway) Reconnect() int {
	g.connMu.Lock()
	defer g.connMu.Unlock()
	n := 0
	if g.acctConn != nil {
		g.acctConn.Close()
		n++
	}
	if g.quoteConn != nil {
		g.quoteConn.Close()
		n++
	}
	return n
}

func New(cfg Config) *Gateway {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	return &Gateway{cfg: cfg, httpClient: &http.Client{Timeout: cfg.Timeout}}
}

// Authenticate refreshes the session token. Idempotent: calling it again
// simply re-derives a fresh token.
func (g *Gateway) Authenticate(ctx context.Context) error {
	body := map[string]string{"refresh-token": g.cfg.RefreshToken}
	var resp struct {
		SessionToken string `json:"session-token"`
	}
	if err := g.doSigned(ctx, http.MethodPost, "/oauth/token", body, &resp); err != nil {
		return brokererr.Auth("broker authenticate failed", err)
	}
	g.sessionTok = resp.SessionToken
	return nil
}

func (g *Gateway) GetAccounts(ctx context.Context) ([]Account, error) {
	var resp struct {
		Accounts []Account `json:"accounts"`
	}
	if err := g.doSigned(ctx, http.MethodGet, "/accounts", nil, &resp); err != nil {
		return nil, brokererr.TransientRPC("getAccounts failed", err)
	}
	return resp.Accounts, nil
}

func (g *Gateway) GetBalances(ctx context.Context, acct string) (Balances, error) {
	var bal Balances
	path := fmt.Sprintf("/accounts/%s/balances", acct)
	if err := g.doSigned(ctx, http.MethodGet, path, nil, &bal); err != nil {
		return Balances{}, brokererr.TransientRPC("getBalances failed", err)
	}
	return bal, nil
}

func (g *Gateway) GetPositions(ctx context.Context, acct string) ([]Position, error) {
	var resp struct {
		Positions []Position `json:"positions"`
	}
	path := fmt.Sprintf("/accounts/%s/positions", acct)
	if err := g.doSigned(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, brokererr.TransientRPC("getPositions failed", err)
	}
	return resp.Positions, nil
}

// DryRun pre-flights an order payload without submitting it.
func (g *Gateway) DryRun(ctx context.Context, acct string, payload any) (DryRunResult, error) {
	var result DryRunResult
	path := fmt.Sprintf("/accounts/%s/orders/dry-run", acct)
	if err := g.doSigned(ctx, http.MethodPost, path, payload, &result); err != nil {
		return DryRunResult{}, brokererr.Validation(fmt.Sprintf("dry run failed: %v", err))
	}
	return result, nil
}

// CreateOrder submits a simple (single-leg) order.
func (g *Gateway) CreateOrder(ctx context.Context, acct string, payload any) (CreateOrderResult, error) {
	return g.submit(ctx, acct, "/orders", payload)
}

// CreateComplexOrder submits a multi-leg or OTOCO payload.
func (g *Gateway) CreateComplexOrder(ctx context.Context, acct string, payload any) (CreateOrderResult, error) {
	return g.submit(ctx, acct, "/complex-orders", payload)
}

func (g *Gateway) submit(ctx context.Context, acct, suffix string, payload any) (CreateOrderResult, error) {
	var result CreateOrderResult
	path := fmt.Sprintf("/accounts/%s%s", acct, suffix)
	if err := g.doSigned(ctx, http.MethodPost, path, payload, &result); err != nil {
		if rej, ok := err.(*brokerRejection); ok {
			return CreateOrderResult{}, brokererr.BrokerRejection(rej.discriminant, rej.message)
		}
		return CreateOrderResult{}, brokererr.TransientRPC("order submission failed", err)
	}
	return result, nil
}

func (g *Gateway) CancelOrder(ctx context.Context, acct, orderID string) error {
	path := fmt.Sprintf("/accounts/%s/orders/%s", acct, orderID)
	if err := g.doSigned(ctx, http.MethodDelete, path, nil, nil); err != nil {
		return brokererr.TransientRPC("cancelOrder failed", err)
	}
	return nil
}

func (g *Gateway) GetLiveOrders(ctx context.Context, acct string) ([]CreateOrderResult, error) {
	var resp struct {
		Orders []CreateOrderResult `json:"orders"`
	}
	path := fmt.Sprintf("/accounts/%s/orders/live", acct)
	if err := g.doSigned(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, brokererr.TransientRPC("getLiveOrders failed", err)
	}
	return resp.Orders, nil
}

// brokerRejection carries a discriminated 422 response so submit() can
// translate it into brokererr.BrokerRejection with the right code.
type brokerRejection struct {
	discriminant string
	message      string
}

func (r *brokerRejection) Error() string { return r.message }

// doSigned builds an HMAC-SHA256 signed request and decodes a typed JSON
// response, following the signed-REST-client shape used elsewhere in the
// stack for exchange connectivity.
func (g *Gateway) doSigned(ctx context.Context, method, path string, body any, out any) error {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, g.cfg.BaseURL+path, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if g.sessionTok != "" {
		req.Header.Set("Authorization", "Bearer "+g.sessionTok)
	}

	timestamp := time.Now().UTC().Format(time.RFC3339)
	req.Header.Set("X-Timestamp", timestamp)
	req.Header.Set("X-Signature", g.sign(method, path, timestamp, buf.Bytes()))

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	if resp.StatusCode == http.StatusUnprocessableEntity {
		var rej struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		}
		if jsonErr := json.Unmarshal(respBody, &rej); jsonErr == nil && rej.Code != "" {
			return &brokerRejection{discriminant: rej.Code, message: rej.Message}
		}
	}

	if resp.StatusCode >= 400 {
		return fmt.Errorf("broker: %s %s returned %d: %s", method, path, resp.StatusCode, string(respBody))
	}

	if out == nil || len(respBody) == 0 {
		return nil
	}
	return json.Unmarshal(respBody, out)
}

func (g *Gateway) sign(method, path, timestamp string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(g.cfg.ClientSecret))
	mac.Write([]byte(method))
	mac.Write([]byte(path))
	mac.Write([]byte(timestamp))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// AccountStream connects to the account event websocket and forwards raw
// events to the returned channel, reconnecting with back-off on drop. The
// returned cancel function stops the reader goroutine.
func (g *Gateway) AccountStream(ctx context.Context, acct string) (<-chan Event, func()) {
	events := make(chan Event, 256)
	streamCtx, cancel := context.WithCancel(ctx)

	go g.runAccountStream(streamCtx, acct, events)

	return events, cancel
}

func (g *Gateway) runAccountStream(ctx context.Context, acct string, events chan<- Event) {
	defer close(events)

	backoff := time.Second
	const maxBackoff = 30 * time.Second

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		conn, _, err := websocket.DefaultDialer.DialContext(ctx, g.cfg.WSURL+"/accounts/"+acct+"/stream", nil)
		if err != nil {
			log.Printf("⚠️ broker: account stream dial failed: %v, retrying in %s", err, backoff)
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			backoff = minDuration(backoff*2, maxBackoff)
			continue
		}
		backoff = time.Second

		g.readLoop(ctx, conn, events)
	}
}

func (g *Gateway) readLoop(ctx context.Context, conn *websocket.Conn, events chan<- Event) {
	defer conn.Close()

	g.connMu.Lock()
	g.acctConn = conn
	g.connMu.Unlock()
	g.acctConnected.Store(true)
	defer func() {
		g.acctConnected.Store(false)
		g.connMu.Lock()
		if g.acctConn == conn {
			g.acctConn = nil
		}
		g.connMu.Unlock()
	}()

	keepalive := time.NewTicker(30 * time.Minute)
	defer keepalive.Stop()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			_, raw, err := conn.ReadMessage()
			if err != nil {
				log.Printf("⚠️ broker: account stream read error: %v", err)
				return
			}
			select {
			case events <- Event{Raw: raw}:
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-done:
			return
		case <-keepalive.C:
			_ = conn.WriteMessage(websocket.PingMessage, nil)
		}
	}
}

func minDuration(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	return b
}

// quoteTick is the wire shape of one quote stream message.
type quoteTick struct {
	Symbol string  `json:"symbol"`
	Bid    float64 `json:"bid"`
	Ask    float64 `json:"ask"`
}

// QuoteStream connects to the quote websocket for the given symbols and
// forwards decoded ticks to the returned channel, reconnecting with
// back-off on drop, mirroring AccountStream's reconnect discipline. The
// returned cancel function stops the reader goroutine.
func (g *Gateway) QuoteStream(ctx context.Context, symbols []string) (<-chan Quote, func()) {
	quotes := make(chan Quote, 256)
	streamCtx, cancel := context.WithCancel(ctx)

	go g.runQuoteStream(streamCtx, symbols, quotes)

	return quotes, cancel
}

func (g *Gateway) runQuoteStream(ctx context.Context, symbols []string, quotes chan<- Quote) {
	defer close(quotes)

	backoff := time.Second
	const maxBackoff = 30 * time.Second

	query := ""
	for i, sym := range symbols {
		if i > 0 {
			query += ","
		}
		query += sym
	}

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		conn, _, err := websocket.DefaultDialer.DialContext(ctx, g.cfg.WSURL+"/quotes/stream?symbols="+query, nil)
		if err != nil {
			log.Printf("⚠️ broker: quote stream dial failed: %v, retrying in %s", err, backoff)
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			backoff = minDuration(backoff*2, maxBackoff)
			continue
		}
		backoff = time.Second

		g.readQuoteLoop(ctx, conn, quotes)
	}
}

func (g *Gateway) readQuoteLoop(ctx context.Context, conn *websocket.Conn, quotes chan<- Quote) {
	defer conn.Close()

	g.connMu.Lock()
	g.quoteConn = conn
	g.connMu.Unlock()
	g.quoteConnected.Store(true)
	defer func() {
		g.quoteConnected.Store(false)
		g.connMu.Lock()
		if g.quoteConn == conn {
			g.quoteConn = nil
		}
		g.connMu.Unlock()
	}()

	keepalive := time.NewTicker(30 * time.Minute)
	defer keepalive.Stop()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			_, raw, err := conn.ReadMessage()
			if err != nil {
				log.Printf("⚠️ broker: quote stream read error: %v", err)
				return
			}
			var tick quoteTick
			if err := json.Unmarshal(raw, &tick); err != nil {
				continue
			}
			select {
			case quotes <- Quote{Symbol: tick.Symbol, Bid: tick.Bid, Ask: tick.Ask, At: time.Now()}:
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-done:
			return
		case <-keepalive.C:
			_ = conn.WriteMessage(websocket.PingMessage, nil)
		}
	}
}
