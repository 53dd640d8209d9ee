package opsapi

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"copybridge/internal/latency"
)

func TestHealthIsUnauthenticated(t *testing.T) {
	s := New(Config{JWTSecret: "secret"})
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	s.Engine().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestProtectedRouteRejectsMissingToken(t *testing.T) {
	s := New(Config{JWTSecret: "secret"})
	req := httptest.NewRequest(http.MethodGet, "/api/v1/queue/status", nil)
	rec := httptest.NewRecorder()
	s.Engine().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestProtectedRouteAcceptsValidToken(t *testing.T) {
	lat := latency.New()
	lat.RecordSignal("text", time.Now().Add(-100*time.Millisecond), time.Now())
	s := New(Config{JWTSecret: "secret", Latency: lat})

	token, err := IssueToken("secret", "operator", time.Hour)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/latency/stats", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	s.Engine().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestProtectedRouteRejectsTokenFromWrongSecret(t *testing.T) {
	s := New(Config{JWTSecret: "secret"})
	token, err := IssueToken("wrong-secret", "operator", time.Hour)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/central/status", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	s.Engine().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestQueueStatusReturnsServiceUnavailableWhenUnattached(t *testing.T) {
	s := New(Config{JWTSecret: "secret"})
	token, _ := IssueToken("secret", "operator", time.Hour)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/queue/status", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	s.Engine().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
