package api

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/moltbunker/solverbond/internal/config"
	"github.com/moltbunker/solverbond/internal/engine"
	"github.com/moltbunker/solverbond/internal/logging"
	"github.com/moltbunker/solverbond/internal/reputation"
	"github.com/moltbunker/solverbond/internal/signal"
	"github.com/moltbunker/solverbond/internal/util"
)

// Server is the read-only HTTP API over the deployed contracts
type Server struct {
	config     *ServerConfig
	httpServer *http.Server
	listener   net.Listener
	served     <-chan struct{}
	mu         sync.RWMutex
	running    bool

	engine      *engine.Engine
	scorer      *reputation.Scorer
	broadcaster *signal.Broadcaster
	notifier    *signal.Notifier

	// Per-IP rate limiters
	rateLimiters sync.Map

	// Rate limiter cleanup control
	rateLimitCancel context.CancelFunc
	rateLimitDone   <-chan struct{}
}

// rateLimiterEntry holds a rate limiter and the last time it was used
type rateLimiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// ServerConfig configures the HTTP API server
type ServerConfig struct {
	ListenAddr string

	// Rate limiting: RateLimit requests per RateLimitWindow, per client IP
	RateLimit       int
	RateLimitWindow time.Duration
	RateLimitBurst  int

	// Proxy trust (only enable behind a trusted reverse proxy)
	TrustProxy bool

	ReadHeaderTimeout time.Duration
	IdleTimeout       time.Duration
}

// DefaultServerConfig returns the default server configuration
func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		ListenAddr:        "127.0.0.1:8545",
		RateLimit:         100,
		RateLimitWindow:   time.Minute,
		RateLimitBurst:    20,
		ReadHeaderTimeout: 30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
}

// ServerConfigFrom maps the daemon's API section onto a ServerConfig.
func ServerConfigFrom(c config.APIConfig) *ServerConfig {
	cfg := DefaultServerConfig()
	cfg.ListenAddr = c.ListenAddr
	if c.RateLimitRequests > 0 {
		cfg.RateLimit = c.RateLimitRequests
		cfg.RateLimitBurst = c.RateLimitRequests/5 + 1
	}
	if c.RateLimitWindowSecs > 0 {
		cfg.RateLimitWindow = time.Duration(c.RateLimitWindowSecs) * time.Second
	}
	if c.ReadTimeoutSecs > 0 {
		cfg.ReadHeaderTimeout = time.Duration(c.ReadTimeoutSecs) * time.Second
	}
	if c.IdleTimeoutSecs > 0 {
		cfg.IdleTimeout = time.Duration(c.IdleTimeoutSecs) * time.Second
	}
	return cfg
}

// NewServer creates a new HTTP API server over eng
func NewServer(cfg *ServerConfig, eng *engine.Engine) *Server {
	if cfg == nil {
		cfg = DefaultServerConfig()
	}
	return &Server{config: cfg, engine: eng}
}

// SetReputation enables the reputation endpoints
func (s *Server) SetReputation(scorer *reputation.Scorer) {
	s.scorer = scorer
}

// SetBroadcaster enables the outcome websocket
func (s *Server) SetBroadcaster(b *signal.Broadcaster) {
	s.broadcaster = b
}

// SetNotifier adds notifier counters to /v1/stats
func (s *Server) SetNotifier(n *signal.Notifier) {
	s.notifier = n
}

// Start binds the listen address and serves until Stop
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return fmt.Errorf("server already running")
	}

	ln, err := net.Listen("tcp", s.config.ListenAddr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.config.ListenAddr, err)
	}
	s.listener = ln

	// Start rate limiter cleanup goroutine
	if s.config.RateLimit > 0 {
		var cleanupCtx context.Context
		cleanupCtx, s.rateLimitCancel = context.WithCancel(ctx)
		s.rateLimitDone = util.SafeGoWithName("api-rate-limiter-cleanup", func() {
			s.runRateLimiterCleanup(cleanupCtx)
		})
	}

	// ReadHeaderTimeout bounds header parsing without killing long-lived
	// websocket subscribers; the websocket manages its own write deadlines.
	s.httpServer = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: s.config.ReadHeaderTimeout,
		IdleTimeout:       s.config.IdleTimeout,
	}

	srv := s.httpServer
	s.served = util.SafeGoWithName("api-server", func() {
		logging.Info("HTTP API server starting",
			"addr", ln.Addr().String(),
			logging.Component("api"))
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			logging.Error("HTTP server error",
				logging.Err(err),
				logging.Component("api"))
		}
	})
	s.running = true
	return nil
}

// Addr returns the bound address, valid after Start
func (s *Server) Addr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Stop stops the HTTP API server
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	srv, served := s.httpServer, s.served
	cancel, cleanupDone := s.rateLimitCancel, s.rateLimitDone
	s.mu.Unlock()

	// Websocket subscribers are hijacked connections Shutdown does not track.
	if s.broadcaster != nil {
		s.broadcaster.Close()
	}

	var err error
	if shutdownErr := srv.Shutdown(ctx); shutdownErr != nil {
		err = fmt.Errorf("HTTP server shutdown: %w", shutdownErr)
	}
	<-served

	if cancel != nil {
		cancel()
		<-cleanupDone
	}

	logging.Info("API server stopped", logging.Component("api"))
	return err
}

// Handler builds the HTTP router with all handlers
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Health endpoint (no rate limit, for probes)
	mux.HandleFunc("/healthz", s.handleHealthz)

	mux.HandleFunc("/v1/solvers", s.withMiddleware("solvers", s.handleSolvers))
	mux.HandleFunc("/v1/solvers/", s.withMiddleware("solver", s.handleSolverByID))
	mux.HandleFunc("/v1/receipts/", s.withMiddleware("receipt", s.handleReceiptByID))
	mux.HandleFunc("/v1/escrows/", s.withMiddleware("escrow", s.handleEscrowByID))
	mux.HandleFunc("/v1/arbitration/", s.withMiddleware("arbitration", s.handleArbitrationCase))
	mux.HandleFunc("/v1/optimistic/", s.withMiddleware("optimistic", s.handleOptimisticDispute))
	mux.HandleFunc("/v1/reputation", s.withMiddleware("reputation", s.handleLeaderboard))
	mux.HandleFunc("/v1/settings", s.withMiddleware("settings", s.handleSettings))
	mux.HandleFunc("/v1/stats", s.withMiddleware("stats", s.handleStats))

	mux.Handle("/metrics", s.engine.Metrics.PrometheusHandler())

	if s.broadcaster != nil {
		mux.HandleFunc("/ws/outcomes", s.withRateLimit(s.broadcaster.ServeHTTP))
	}
	return mux
}

// withMiddleware wraps a read handler with method filtering, rate limiting
// and request metrics under route
func (s *Server) withMiddleware(route string, handler http.HandlerFunc) http.HandlerFunc {
	limited := s.withRateLimit(handler)
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			w.Header().Set("Allow", "GET, HEAD")
			s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		start := time.Now()
		limited(w, r)
		s.engine.Metrics.RecordRequest(route, time.Since(start))
	}
}

// withRateLimit rejects clients over their per-IP budget
func (s *Server) withRateLimit(handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.config.RateLimit > 0 {
			ip := s.extractClientIP(r)
			limiter := s.getRateLimiter(ip)
			if !limiter.Allow() {
				logging.Warn("rate limit exceeded",
					"ip", ip,
					"path", r.URL.Path,
					logging.Component("api"))
				retryAfter := int(s.config.RateLimitWindow.Seconds())
				w.Header().Set("Retry-After", fmt.Sprint(retryAfter))
				s.writeJSON(w, http.StatusTooManyRequests, map[string]any{
					"error":       "rate limit exceeded",
					"retry_after": retryAfter,
				})
				return
			}
		}
		handler(w, r)
	}
}

// getRateLimiter returns the rate limiter for the given IP address.
// It creates a new limiter if one does not already exist.
func (s *Server) getRateLimiter(ip string) *rate.Limiter {
	now := time.Now()

	if val, ok := s.rateLimiters.Load(ip); ok {
		entry := val.(*rateLimiterEntry)
		entry.lastSeen = now
		return entry.limiter
	}

	window := s.config.RateLimitWindow
	if window <= 0 {
		window = time.Minute
	}
	burst := s.config.RateLimitBurst
	if burst <= 0 {
		burst = 1
	}
	limiter := rate.NewLimiter(rate.Limit(float64(s.config.RateLimit)/window.Seconds()), burst)

	entry := &rateLimiterEntry{
		limiter:  limiter,
		lastSeen: now,
	}
	actual, _ := s.rateLimiters.LoadOrStore(ip, entry)
	return actual.(*rateLimiterEntry).limiter
}

// extractClientIP extracts the client IP address from the request.
// Proxy headers are only trusted when TrustProxy is set.
func (s *Server) extractClientIP(r *http.Request) string {
	if s.config.TrustProxy {
		// X-Forwarded-For: use the first (leftmost) IP
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			if idx := strings.IndexByte(xff, ','); idx != -1 {
				return strings.TrimSpace(xff[:idx])
			}
			return strings.TrimSpace(xff)
		}
		if xri := r.Header.Get("X-Real-IP"); xri != "" {
			return strings.TrimSpace(xri)
		}
	}

	// Default: use TCP remote address (not spoofable)
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}

// runRateLimiterCleanup periodically removes stale rate limiters
func (s *Server) runRateLimiterCleanup(ctx context.Context) {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.cleanupRateLimiters(time.Now().Add(-10 * time.Minute))
		}
	}
}

// cleanupRateLimiters removes rate limiter entries not seen since staleBefore
func (s *Server) cleanupRateLimiters(staleBefore time.Time) int {
	var cleaned int
	s.rateLimiters.Range(func(key, value any) bool {
		entry := value.(*rateLimiterEntry)
		if entry.lastSeen.Before(staleBefore) {
			s.rateLimiters.Delete(key)
			cleaned++
		}
		return true
	})

	if cleaned > 0 {
		logging.Debug("cleaned up stale rate limiters",
			"count", cleaned,
			logging.Component("api"))
	}
	return cleaned
}
