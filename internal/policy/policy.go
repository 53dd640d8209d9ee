// Package policy implements the central policy client: day-valid trading
// authorisation, cached locally, plus fire-and-forget trade reporting.
// Grounded on the risk manager's config-cache-with-mutex shape and the
// license manager's session-token/claims pattern (golang-jwt/jwt/v5,
// denisbrodbeck/machineid) for deployment identification.
package policy

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/denisbrodbeck/machineid"

	"copybridge/internal/brokererr"
	"copybridge/internal/domain"
)

// Config configures a Client.
type Config struct {
	ServerURL     string
	BotToken      string
	SubscriberID  string
	DeploymentID  string // falls back to machine id when empty
	DiscordUserID string
	AuthTimeout   time.Duration
	ReportTimeout time.Duration
}

// Client is the central policy client. TradingStatus is immutable once
// installed; refresh swaps it atomically, never partially.
type Client struct {
	cfg        Config
	httpClient *http.Client

	mu            sync.RWMutex
	status        *domain.TradingStatus
	authenticated bool
	sessionToken  string
}

func New(cfg Config) *Client {
	if cfg.AuthTimeout <= 0 {
		cfg.AuthTimeout = 10 * time.Second
	}
	if cfg.ReportTimeout <= 0 {
		cfg.ReportTimeout = 5 * time.Second
	}
	if cfg.DeploymentID == "" {
		if id, err := machineid.ID(); err == nil {
			cfg.DeploymentID = id
		}
	}
	return &Client{cfg: cfg, httpClient: &http.Client{}}
}

type authRequest struct {
	SubscriberID  string `json:"subscriberId"`
	BotToken      string `json:"botToken"`
	DiscordUserID string `json:"discordUserId"`
	DeploymentID  string `json:"deploymentId,omitempty"`
}

type statusPayload struct {
	CanTrade          bool      `json:"canTrade"`
	Tier              string    `json:"tier"`
	MonthlyProfitUsed float64   `json:"monthlyProfitUsed"`
	MonthlyCapLimit   float64   `json:"monthlyCapLimit"`
	MaxPositionSize   float64   `json:"maxPositionSize"`
	ValidUntil        time.Time `json:"validUntil"`
	Reason            string    `json:"reason"`
	Message           string    `json:"message"`
}

type authResponse struct {
	SessionToken string        `json:"sessionToken"`
	BotID        string        `json:"botId"`
	SubscriberID string        `json:"subscriberId"`
	Status       statusPayload `json:"status"`
}

// Authenticate performs the once-per-day authentication handshake. Error
// taxonomy: HTTP 401 -> AuthError (fatal for this cycle), 403 -> account
// inactive (PolicyBlocked, not fatal), 404 -> subscriber not found
// (PolicyBlocked), other 5xx/network -> TransientRPC.
func (c *Client) Authenticate(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.AuthTimeout)
	defer cancel()

	reqBody := authRequest{
		SubscriberID:  c.cfg.SubscriberID,
		BotToken:      c.cfg.BotToken,
		DiscordUserID: c.cfg.DiscordUserID,
		DeploymentID:  c.cfg.DeploymentID,
	}
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(reqBody); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.ServerURL+"/api/v1/bot/authenticate", &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return brokererr.TransientRPC("policy authenticate network error", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		var out authResponse
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return brokererr.TransientRPC("policy authenticate decode failed", err)
		}
		c.install(out)
		return nil
	case http.StatusUnauthorized:
		return brokererr.Auth("policy auth rejected", fmt.Errorf("401"))
	case http.StatusForbidden:
		return brokererr.PolicyBlocked(brokererr.ReasonTierBlocked, "account inactive")
	case http.StatusNotFound:
		return brokererr.PolicyBlocked(brokererr.ReasonTierBlocked, "subscriber not found")
	default:
		return brokererr.TransientRPC(fmt.Sprintf("policy authenticate returned %d", resp.StatusCode), nil)
	}
}

func (c *Client) install(resp authResponse) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sessionToken = resp.SessionToken
	c.authenticated = true
	status := domain.TradingStatus{
		CanTrade:          resp.Status.CanTrade,
		Tier:              resp.Status.Tier,
		MonthlyProfitUsed: resp.Status.MonthlyProfitUsed,
		MonthlyCapLimit:   resp.Status.MonthlyCapLimit,
		MaxPositionSize:   resp.Status.MaxPositionSize,
		ValidUntil:        resp.Status.ValidUntil,
		Reason:            resp.Status.Reason,
		Message:           resp.Status.Message,
	}
	c.status = &status
}

// CanTradeToday is a pure local check, no I/O: authenticated and the cached
// status is still valid and permits trading.
func (c *Client) CanTradeToday() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.authenticated || c.status == nil {
		return false
	}
	return time.Now().Before(c.status.ValidUntil) && c.status.CanTrade
}

// CanExecutePosition additionally checks the position's USD value against
// the cached max position size.
func (c *Client) CanExecutePosition(valueUSD float64) bool {
	if !c.CanTradeToday() {
		return false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return valueUSD <= c.status.MaxPositionSize
}

// Status returns a copy of the currently installed status, if any.
func (c *Client) Status() (domain.TradingStatus, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.status == nil {
		return domain.TradingStatus{}, false
	}
	return *c.status, true
}

// RefreshStatus re-fetches status from the server. It never overwrites a
// valid status on failure — only a successful response installs a new
// snapshot.
func (c *Client) RefreshStatus(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.ServerURL+"/api/v1/bot/status", nil)
	if err != nil {
		return err
	}
	c.mu.RLock()
	token := c.sessionToken
	c.mu.RUnlock()
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		log.Printf("⚠️ policy: refreshStatus network error, keeping cached status: %v", err)
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		log.Printf("⚠️ policy: refreshStatus returned %d, keeping cached status", resp.StatusCode)
		return fmt.Errorf("policy: refreshStatus returned %d", resp.StatusCode)
	}

	var out struct {
		Status statusPayload `json:"status"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		log.Printf("⚠️ policy: refreshStatus decode failed, keeping cached status: %v", err)
		return err
	}

	c.mu.Lock()
	c.status = &domain.TradingStatus{
		CanTrade:          out.Status.CanTrade,
		Tier:              out.Status.Tier,
		MonthlyProfitUsed: out.Status.MonthlyProfitUsed,
		MonthlyCapLimit:   out.Status.MonthlyCapLimit,
		MaxPositionSize:   out.Status.MaxPositionSize,
		ValidUntil:        out.Status.ValidUntil,
		Reason:            out.Status.Reason,
		Message:           out.Status.Message,
	}
	c.mu.Unlock()
	return nil
}

// ReportTrade is fire-and-forget: failures are logged and never affect the
// order path.
func (c *Client) ReportTrade(symbol string, quantity int, fillPrice, pnl float64) {
	go func() {
		body := map[string]any{
			"symbol":    symbol,
			"quantity":  quantity,
			"fillPrice": fillPrice,
			"pnl":       pnl,
			"timestamp": time.Now().Unix(),
		}
		if err := c.postFireAndForget(timeoutCtx(c.cfg.ReportTimeout), "/api/v1/report-trade", body); err != nil {
			log.Printf("⚠️ policy: reportTrade failed (ignored): %v", err)
		}
	}()
}

// UpdatePnL is fire-and-forget: failures are logged and never affect the
// order path.
func (c *Client) UpdatePnL(tradeID string, pnl float64) {
	go func() {
		body := map[string]any{"tradeId": tradeID, "pnl": pnl}
		if err := c.postFireAndForget(timeoutCtx(c.cfg.ReportTimeout), "/api/v1/update-pnl", body); err != nil {
			log.Printf("⚠️ policy: updatePnL failed (ignored): %v", err)
		}
	}()
}

func timeoutCtx(timeout time.Duration) context.Context {
	c, _ := context.WithTimeout(context.Background(), timeout)
	return c
}

func (c *Client) postFireAndForget(ctx context.Context, path string, body map[string]any) error {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(body); err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.ServerURL+path, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	c.mu.RLock()
	token := c.sessionToken
	c.mu.RUnlock()
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("policy: %s returned %d", path, resp.StatusCode)
	}
	return nil
}
