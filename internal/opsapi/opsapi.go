// Package opsapi exposes a small gin HTTP surface for operators and
// monitoring dashboards that do not speak the chat transport: health,
// queue status, latency stats, price-cache stats and central policy
// status. Grounded on a gin server + middleware stack
// (internal/api/{handler,middleware,auth}.go) minus the
// register/login/bcrypt user surface, which has no equivalent here.
package opsapi

import (
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"copybridge/internal/latency"
	"copybridge/internal/orderqueue"
	"copybridge/internal/policy"
	"copybridge/pkg/cache"
)

// Config wires the Server to the running pipeline's components.
type Config struct {
	Queue             *orderqueue.Queue
	Latency           *latency.Monitor
	Policy            *policy.Client
	Prices            *cache.ShardedPriceCache
	JWTSecret         string
	RequestsPerSecond float64
	Burst             int
}

// Server owns the gin engine and its dependencies.
type Server struct {
	cfg    Config
	engine *gin.Engine
}

// New builds the router with its full middleware stack and route table.
func New(cfg Config) *Server {
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = 20
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 50
	}

	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(requestIDMiddleware())
	engine.Use(requestLogger())

	s := &Server{cfg: cfg, engine: engine}

	engine.GET("/health", s.handleHealth)

	limiter := newRateLimiter(cfg.RequestsPerSecond, cfg.Burst)
	protected := engine.Group("/api/v1")
	protected.Use(rateLimitMiddleware(limiter))
	protected.Use(authMiddleware(cfg.JWTSecret))
	protected.GET("/queue/status", s.handleQueueStatus)
	protected.GET("/latency/stats", s.handleLatencyStats)
	protected.GET("/central/status", s.handleCentralStatus)
	protected.GET("/prices/stats", s.handlePriceStats)

	return s
}

// Engine returns the underlying gin engine, e.g. for httptest.
func (s *Server) Engine() *gin.Engine { return s.engine }

// Run starts the HTTP listener; it blocks until the server stops.
func (s *Server) Run(addr string) error {
	return s.engine.Run(addr)
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "time": time.Now().UTC().Format(time.RFC3339)})
}

func (s *Server) handleQueueStatus(c *gin.Context) {
	if s.cfg.Queue == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "queue not attached"})
		return
	}
	snap := s.cfg.Queue.QueueStatus()
	c.JSON(http.StatusOK, gin.H{
		"queueLength":  snap.QueueLength,
		"activeOrders": snap.ActiveOrders,
	})
}

func (s *Server) handleLatencyStats(c *gin.Context) {
	if s.cfg.Latency == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "latency monitor not attached"})
		return
	}
	stats := s.cfg.Latency.Stats()
	c.JSON(http.StatusOK, gin.H{
		"count": stats.Count,
		"min":   stats.Min,
		"max":   stats.Max,
		"mean":  stats.Mean,
		"p50":   stats.P50,
		"p95":   stats.P95,
		"p99":   stats.P99,
	})
}

func (s *Server) handleCentralStatus(c *gin.Context) {
	if s.cfg.Policy == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "policy client not attached"})
		return
	}
	status, ok := s.cfg.Policy.Status()
	if !ok {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "not yet authenticated"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"canTrade":          status.CanTrade,
		"tier":              status.Tier,
		"monthlyProfitUsed": status.MonthlyProfitUsed,
		"monthlyCapLimit":   status.MonthlyCapLimit,
		"maxPositionSize":   status.MaxPositionSize,
		"validUntil":        status.ValidUntil.UTC().Format(time.RFC3339),
	})
}

func (s *Server) handlePriceStats(c *gin.Context) {
	if s.cfg.Prices == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "price cache not attached"})
		return
	}
	stats := s.cfg.Prices.Stats()
	c.JSON(http.StatusOK, gin.H{
		"totalItems":  stats.TotalItems,
		"shardCounts": stats.ShardCounts,
		"oldestAge":   stats.OldestAge.String(),
	})
}

// serviceClaims is the bearer token shape operators present; there is no
// per-user identity here, only a service-level subject.
type serviceClaims struct {
	jwt.RegisteredClaims
}

// IssueToken mints a bearer token for operator tooling, signed with secret.
func IssueToken(secret, subject string, ttl time.Duration) (string, error) {
	claims := serviceClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

func authMiddleware(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"code": "INVALID_AUTH_HEADER", "error": "missing or malformed Authorization header"})
			return
		}

		token, err := jwt.ParseWithClaims(parts[1], &serviceClaims{}, func(*jwt.Token) (interface{}, error) {
			return []byte(secret), nil
		})
		if err != nil || !token.Valid {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"code": "INVALID_TOKEN", "error": "invalid or expired token"})
			return
		}
		c.Next()
	}
}

func requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		c.Set("RequestID", id)
		c.Writer.Header().Set("X-Request-ID", id)
		c.Next()
	}
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		method := c.Request.Method

		c.Next()

		log.Printf("[opsapi] %s %s | %d | %s", method, path, c.Writer.Status(), time.Since(start))
	}
}

type rateLimiterSet struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	rps      float64
	burst    int
}

func newRateLimiter(rps float64, burst int) *rateLimiterSet {
	return &rateLimiterSet{limiters: make(map[string]*rate.Limiter), rps: rps, burst: burst}
}

func (s *rateLimiterSet) get(key string) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()
	if l, ok := s.limiters[key]; ok {
		return l
	}
	l := rate.NewLimiter(rate.Limit(s.rps), s.burst)
	s.limiters[key] = l
	return l
}

func rateLimitMiddleware(set *rateLimiterSet) gin.HandlerFunc {
	return func(c *gin.Context) {
		limiter := set.get(c.ClientIP())
		if !limiter.Allow() {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
			return
		}
		c.Next()
	}
}
