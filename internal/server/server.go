package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	log "github.com/sirupsen/logrus"

	"bountyboard/internal/config"
	"bountyboard/internal/escrow"
	"bountyboard/internal/idempotency"
	"bountyboard/internal/ledger"
	"bountyboard/internal/sigauth"
)

const HeaderRequestID = "X-Request-Id"

// MonitorHealth is satisfied by the chain log monitor.
type MonitorHealth interface {
	Health() escrow.MonitorHealth
}

type Option func(*Server)

func WithClock(clock clockwork.Clock) Option {
	return func(s *Server) { s.clock = clock }
}

// WithEvents serves the given journal on /events instead of the client's.
func WithEvents(events *ledger.EventLog) Option {
	return func(s *Server) { s.events = events }
}

func WithMonitor(m MonitorHealth) Option {
	return func(s *Server) { s.monitor = m }
}

// WithStoreHealth reports the ledger store in /health.
func WithStoreHealth(fn func(context.Context) error) Option {
	return func(s *Server) { s.storeHealthFn = fn }
}

type Server struct {
	cfg        *config.Config
	escrow     escrow.Client
	guard      *idempotency.Guard
	auth       *sigauth.Verifier
	httpServer *http.Server
	metrics    *metricsRegistry
	clock      clockwork.Clock
	events     *ledger.EventLog
	monitor    MonitorHealth

	rpcHealthFn   func(context.Context) error
	idemHealthFn  func(context.Context) error
	storeHealthFn func(context.Context) error
}

func NewServer(cfg *config.Config, esc escrow.Client, store idempotency.Store, opts ...Option) *Server {
	s := &Server{
		cfg:     cfg,
		escrow:  esc,
		metrics: newMetricsRegistry(),
		clock:   clockwork.NewRealClock(),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.guard = idempotency.NewGuard(store, cfg.Service.IdempotencyWindow, s.clock)
	s.auth = &sigauth.Verifier{
		MaxSkew:  cfg.Service.ClockSkew,
		MaxBody:  maxBodyBytes,
		Now:      s.clock.Now,
		Insecure: cfg.Service.InsecureAuth,
	}

	if s.events == nil {
		if src, ok := esc.(escrow.EventSource); ok {
			s.events = src.Events()
		}
	}
	if checker, ok := store.(interface{ Ping(context.Context) error }); ok {
		s.idemHealthFn = checker.Ping
	}
	if checker, ok := esc.(escrow.HealthChecker); ok {
		s.rpcHealthFn = checker.Ping
	}

	s.httpServer = &http.Server{
		Addr:              ":" + strconv.Itoa(cfg.Service.HTTPPort),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 15 * time.Second,
	}
	return s
}

// Handler returns the routed API with request ids attached.
func (s *Server) Handler() http.Handler {
	signed := func(h http.HandlerFunc) http.Handler {
		return s.auth.Middleware(h)
	}

	mux := http.NewServeMux()
	mux.Handle("POST /api/v1/bounties", signed(s.idempotent(opCreate, http.StatusCreated, s.handleCreate)))
	mux.HandleFunc("GET /api/v1/bounties", s.handleList)
	mux.HandleFunc("GET /api/v1/bounties/{id}", s.handleBounty)
	mux.HandleFunc("GET /api/v1/bounties/{id}/summary", s.handleSummary)
	mux.Handle("POST /api/v1/bounties/{id}/submit", signed(s.idempotent(opSubmit, http.StatusOK, s.handleSubmit)))
	mux.Handle("POST /api/v1/bounties/{id}/approve", signed(s.idempotent(opApprove, http.StatusOK, s.handleApprove)))
	mux.Handle("POST /api/v1/bounties/{id}/reject", signed(s.idempotent(opReject, http.StatusOK, s.handleReject)))
	mux.Handle("POST /api/v1/bounties/{id}/cancel", signed(s.idempotent(opCancel, http.StatusOK, s.handleCancel)))
	mux.Handle("POST /api/v1/fees/withdraw", signed(s.idempotent(opWithdrawFees, http.StatusOK, s.handleWithdrawFees)))
	mux.HandleFunc("GET /api/v1/stats", s.handleStats)
	mux.HandleFunc("GET /api/v1/events", s.handleEvents)
	if faucet, ok := s.escrow.(escrow.Faucet); ok && s.cfg.Dev.Faucet {
		mux.HandleFunc("POST /api/v1/dev/faucet", s.handleFaucet(faucet))
		mux.HandleFunc("GET /api/v1/dev/balances/{address}", s.handleBalance(faucet))
	}
	mux.Handle("GET /api/v1/metrics", s.metricsHandler())
	mux.HandleFunc("GET /api/v1/health", s.handleHealth)

	return requestIDMiddleware(mux)
}

func (s *Server) Start() error {
	log.WithField("addr", s.httpServer.Addr).Info("[SERVER] API listening")
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

type dependencyHealth struct {
	Connected bool    `json:"connected"`
	LatencyMs float64 `json:"latency_ms,omitempty"`
	Error     string  `json:"error,omitempty"`
}

func (s *Server) probe(ctx context.Context, fn func(context.Context) error) dependencyHealth {
	if fn == nil {
		return dependencyHealth{Connected: true}
	}
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := fn(ctx); err != nil {
		return dependencyHealth{Error: err.Error()}
	}
	return dependencyHealth{Connected: true, LatencyMs: float64(time.Since(start).Microseconds()) / 1000.0}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	resp := struct {
		Status      string                `json:"status"`
		Mode        string                `json:"mode"`
		RPC         dependencyHealth      `json:"rpc"`
		Store       dependencyHealth      `json:"store"`
		Idempotency dependencyHealth      `json:"idempotency"`
		Monitor     *escrow.MonitorHealth `json:"monitor,omitempty"`
	}{
		Mode:        s.cfg.Chain.Mode,
		RPC:         s.probe(ctx, s.rpcHealthFn),
		Store:       s.probe(ctx, s.storeHealthFn),
		Idempotency: s.probe(ctx, s.idemHealthFn),
	}
	healthy := resp.RPC.Connected && resp.Store.Connected && resp.Idempotency.Connected
	if s.monitor != nil {
		h := s.monitor.Health()
		resp.Monitor = &h
		healthy = healthy && h.Healthy
	}

	resp.Status = "healthy"
	status := http.StatusOK
	if !healthy {
		resp.Status = "degraded"
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}

func (s *Server) metricsHandler() http.Handler {
	next := s.metrics.handler()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.refreshGauges(r.Context())
		next.ServeHTTP(w, r)
	})
}

func (s *Server) refreshGauges(ctx context.Context) {
	if sr, ok := s.escrow.(escrow.StatsReader); ok {
		if stats, err := sr.Stats(ctx); err == nil {
			s.metrics.setStats(stats)
		}
	} else if info, err := s.escrow.Info(ctx); err == nil {
		s.metrics.setFees(info.FeesCollected)
	}
	if s.monitor != nil {
		s.metrics.setMonitor(s.monitor.Health())
	}
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(HeaderRequestID)
		if id == "" {
			id = uuid.NewString()
			r.Header.Set(HeaderRequestID, id)
		}
		w.Header().Set(HeaderRequestID, id)
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
