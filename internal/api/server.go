// Package api provides the HTTP server for the capsule engine: submission
// lifecycle, moderation, the capsule ledger, trust scores, and the live
// release feed.
package api

import (
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/capsulemarket/capsule/internal/app/ledger"
	"github.com/capsulemarket/capsule/internal/app/submission"
	"github.com/capsulemarket/capsule/internal/domain"
)

// Version is the engine version reported on /api/version.
const Version = "0.1.0"

// Server is the capsule HTTP API server.
type Server struct {
	submissions    *submission.Service
	ledger         *ledger.Service
	hub            *CapsuleHub
	log            zerolog.Logger
	metricsEnabled bool
}

// NewServer creates an API server over the application services.
func NewServer(subs *submission.Service, led *ledger.Service, log zerolog.Logger) *Server {
	return &Server{
		submissions: subs,
		ledger:      led,
		hub:         NewCapsuleHub(),
		log:         log.With().Str("component", "api").Logger(),
	}
}

// EnableMetrics enables the /metrics Prometheus endpoint.
func (s *Server) EnableMetrics() { s.metricsEnabled = true }

// Hub returns the live capsule feed hub (for wiring into the submission
// service as its broadcaster).
func (s *Server) Hub() *CapsuleHub { return s.hub }

// Handler returns the chi router with all routes mounted.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(corsMiddleware)
	r.Use(perIPRateLimit(10, 30))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/api/status", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "capsule engine is running"})
	})
	r.Get("/api/version", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"version": Version})
	})

	// Submission lifecycle + moderation.
	r.Route("/api/submissions", func(r chi.Router) {
		r.Post("/", s.handleStart)
		r.Get("/{id}", s.handleGetSubmission)
		r.Post("/{id}/submit", s.handleSubmit)
		r.Post("/{id}/verify", s.handleVerify)
		r.Post("/{id}/reject", s.handleReject)
		r.Post("/{id}/release", s.handleRelease)
		r.Post("/{id}/reverse", s.handleReverse)
		r.Post("/{id}/flag", s.handleFlag)
		r.Post("/{id}/unflag", s.handleUnflag)
	})

	// Per-user ledger and trust.
	r.Route("/api/users/{id}", func(r chi.Router) {
		r.Get("/submissions", s.handleListSubmissions)
		r.Get("/balance", s.handleBalance)
		r.Get("/ledger", s.handleLedger)
		r.Post("/credit", s.handleCredit)
		r.Post("/debit", s.handleDebit)
		r.Post("/audit", s.handleAudit)
		r.Get("/trust", s.handleTrust)
		r.Post("/signals", s.handleSignal)
		r.Post("/cooldown", s.handleCooldown)
	})

	// Live capsule release feed.
	r.Get("/api/feed/live", s.hub.HandleFeedSSE)

	if s.metricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}

	return r
}

// ─── Helpers ────────────────────────────────────────────────────────────────

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]interface{}{
		"error": map[string]interface{}{
			"message": msg,
			"type":    "error",
		},
	})
}

// writeDomainError maps domain sentinel errors onto HTTP statuses. A
// validation failure additionally carries the full list of missing evidence.
func writeDomainError(w http.ResponseWriter, err error) {
	var incomplete *domain.ValidationIncompleteError
	if errors.As(err, &incomplete) {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]interface{}{
			"error": map[string]interface{}{
				"message": incomplete.Error(),
				"type":    "validation_incomplete",
				"missing": incomplete.Missing,
			},
		})
		return
	}

	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrSubmissionNotFound):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidTransition),
		errors.Is(err, domain.ErrInsufficientBalance):
		status = http.StatusConflict
	case errors.Is(err, domain.ErrMissingReviewNotes),
		errors.Is(err, domain.ErrInvalidAmount),
		errors.Is(err, domain.ErrUnknownTaskType):
		status = http.StatusBadRequest
	case errors.Is(err, domain.ErrTierBlocked),
		errors.Is(err, domain.ErrSubmissionFlagged):
		status = http.StatusForbidden
	case errors.Is(err, domain.ErrCooldownActive),
		errors.Is(err, domain.ErrDailyCapReached):
		status = http.StatusTooManyRequests
	case errors.Is(err, domain.ErrLedgerCorrupted):
		status = http.StatusServiceUnavailable
	}
	writeError(w, status, err.Error())
}

// decodeJSON decodes the request body into v, rejecting unknown fields.
func decodeJSON(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// corsMiddleware adds CORS headers for browser clients.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// limiterTTL is how long an idle client keeps its rate limiter. A bucket
// idle this long has fully refilled anyway, so evicting it changes nothing
// for the client while keeping the limiter map bounded.
const limiterTTL = 10 * time.Minute

// ipLimiterPool hands out one token-bucket limiter per client IP and
// evicts limiters that have been idle past the TTL.
type ipLimiterPool struct {
	rps   rate.Limit
	burst int
	ttl   time.Duration
	now   func() time.Time

	mu        sync.Mutex
	clients   map[string]*ipClient
	lastSweep time.Time
}

type ipClient struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func newIPLimiterPool(rps float64, burst int) *ipLimiterPool {
	return &ipLimiterPool{
		rps:     rate.Limit(rps),
		burst:   burst,
		ttl:     limiterTTL,
		now:     time.Now,
		clients: make(map[string]*ipClient),
	}
}

// get returns the limiter for ip, creating it on first sight. Idle entries
// are swept lazily, at most once per TTL, so hot paths pay no extra cost.
func (p *ipLimiterPool) get(ip string) *rate.Limiter {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	if now.Sub(p.lastSweep) >= p.ttl {
		for k, c := range p.clients {
			if now.Sub(c.lastSeen) >= p.ttl {
				delete(p.clients, k)
			}
		}
		p.lastSweep = now
	}

	c, ok := p.clients[ip]
	if !ok {
		c = &ipClient{limiter: rate.NewLimiter(p.rps, p.burst)}
		p.clients[ip] = c
	}
	c.lastSeen = now
	return c.limiter
}

func (p *ipLimiterPool) size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.clients)
}

// perIPRateLimit enforces a token-bucket rate limit per client IP.
func perIPRateLimit(rps float64, burst int) func(http.Handler) http.Handler {
	pool := newIPLimiterPool(rps, burst)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip, _, err := net.SplitHostPort(r.RemoteAddr)
			if err != nil {
				ip = r.RemoteAddr
			}
			if !pool.get(ip).Allow() {
				writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
