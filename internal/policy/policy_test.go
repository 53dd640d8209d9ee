package policy

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *httptest.Server) {
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c := New(Config{ServerURL: srv.URL, SubscriberID: "sub1", BotToken: "tok"})
	return c, srv
}

func TestAuthenticateInstallsStatus(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/bot/authenticate", r.URL.Path)
		json.NewEncoder(w).Encode(authResponse{
			SessionToken: "sess1",
			Status: statusPayload{
				CanTrade:        true,
				MaxPositionSize: 5000,
				ValidUntil:      time.Now().Add(24 * time.Hour),
			},
		})
	})

	err := c.Authenticate(context.Background())
	require.NoError(t, err)
	assert.True(t, c.CanTradeToday())

	status, ok := c.Status()
	require.True(t, ok)
	assert.Equal(t, 5000.0, status.MaxPositionSize)
}

func TestAuthenticate401IsFatalAuthError(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})

	err := c.Authenticate(context.Background())
	require.Error(t, err)
	assert.False(t, c.CanTradeToday())
}

func TestAuthenticate403IsPolicyBlockedNotFatal(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	})

	err := c.Authenticate(context.Background())
	require.Error(t, err)
	assert.False(t, c.CanTradeToday())
}

func TestCanTradeTodayFalseBeforeAuthentication(t *testing.T) {
	c := New(Config{ServerURL: "http://unused"})
	assert.False(t, c.CanTradeToday())
	assert.False(t, c.CanExecutePosition(100))
}

func TestCanTradeTodayFalseAfterValidUntilExpires(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(authResponse{
			SessionToken: "sess1",
			Status: statusPayload{
				CanTrade:   true,
				ValidUntil: time.Now().Add(-time.Hour),
			},
		})
	})

	require.NoError(t, c.Authenticate(context.Background()))
	assert.False(t, c.CanTradeToday())
}

func TestCanExecutePositionRespectsMaxPositionSize(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(authResponse{
			Status: statusPayload{
				CanTrade:        true,
				MaxPositionSize: 1000,
				ValidUntil:      time.Now().Add(time.Hour),
			},
		})
	})

	require.NoError(t, c.Authenticate(context.Background()))
	assert.True(t, c.CanExecutePosition(999))
	assert.False(t, c.CanExecutePosition(1001))
}

func TestRefreshStatusKeepsCachedOnFailure(t *testing.T) {
	calls := 0
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		if r.URL.Path == "/api/v1/bot/authenticate" {
			json.NewEncoder(w).Encode(authResponse{
				Status: statusPayload{CanTrade: true, MaxPositionSize: 42, ValidUntil: time.Now().Add(time.Hour)},
			})
			return
		}
		w.WriteHeader(http.StatusInternalServerError)
	})

	require.NoError(t, c.Authenticate(context.Background()))
	err := c.RefreshStatus(context.Background())
	assert.Error(t, err)

	status, ok := c.Status()
	require.True(t, ok)
	assert.Equal(t, 42.0, status.MaxPositionSize)
}

func TestReportTradeDoesNotBlockOnSlowServer(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(50 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	})

	start := time.Now()
	c.ReportTrade("SPY", 10, 450.0, 12.5)
	assert.Less(t, time.Since(start), 20*time.Millisecond)
}
