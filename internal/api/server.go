package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	mw "github.com/dialcast/dialcast/internal/api/middleware"
	"github.com/dialcast/dialcast/internal/callerid"
	"github.com/dialcast/dialcast/internal/conference"
	"github.com/dialcast/dialcast/internal/config"
	"github.com/dialcast/dialcast/internal/dialer"
	"github.com/dialcast/dialcast/internal/history"
	"github.com/dialcast/dialcast/internal/presence"
	"github.com/dialcast/dialcast/internal/sipprobe"
	"github.com/dialcast/dialcast/internal/store"
	"github.com/dialcast/dialcast/internal/telephony"
	"github.com/dialcast/dialcast/internal/token"
)

// Deps collects the server's collaborators. History, Probe and Metrics are
// optional; the matching endpoints degrade or disappear when nil.
type Deps struct {
	Config    *config.Config
	Dialer    *dialer.Orchestrator
	Transfers *conference.Orchestrator
	Locks     *callerid.Service
	Selector  *presence.Selector
	Tokens    *token.Issuer
	History   *history.Store
	Probe     *sipprobe.Prober
	Metrics   http.Handler
}

// Server holds HTTP handler dependencies and the chi router.
type Server struct {
	router    *chi.Mux
	cfg       *config.Config
	dialer    *dialer.Orchestrator
	transfers *conference.Orchestrator
	locks     *callerid.Service
	selector  *presence.Selector
	tokens    *token.Issuer
	history   *history.Store
	probe     *sipprobe.Prober
	metrics   http.Handler

	limiter      *mw.IPRateLimiter
	tokenLimiter *mw.IPRateLimiter
}

// NewServer creates the HTTP handler with all routes mounted.
func NewServer(d Deps) *Server {
	s := &Server{
		router:       chi.NewRouter(),
		cfg:          d.Config,
		dialer:       d.Dialer,
		transfers:    d.Transfers,
		locks:        d.Locks,
		selector:     d.Selector,
		tokens:       d.Tokens,
		history:      d.History,
		probe:        d.Probe,
		metrics:      d.Metrics,
		limiter:      mw.NewIPRateLimiter(mw.DefaultRateLimitConfig()),
		tokenLimiter: mw.NewIPRateLimiter(mw.TokenRateLimitConfig()),
	}

	s.routes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Close stops the rate limiters' background cleanup goroutines.
func (s *Server) Close() {
	s.limiter.Stop()
	s.tokenLimiter.Stop()
}

// routes configures all middleware and mounts all route groups.
func (s *Server) routes() {
	r := s.router

	// Global middleware stack.
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(mw.StructuredLogger)
	r.Use(mw.Recoverer)

	r.Get("/healthz", s.handleHealthz)
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics)
	}

	// Provider webhooks authenticate by URL knowledge, not API key: the
	// telephony provider cannot send custom headers.
	r.Route("/webhooks/telephony", func(r chi.Router) {
		r.Post("/status", s.handleStatusWebhook)
		r.Post("/answer", s.handleAnswerWebhook)
		r.Get("/answer", s.handleAnswerWebhook)
	})

	// Management API under /api/v1.
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(mw.RateLimit(s.limiter))
		r.Use(mw.RequireAPIKey(s.cfg.APIKeyHash))

		r.Route("/dial-groups", func(r chi.Router) {
			r.Post("/", s.handleCreateDialGroup)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetDialGroup)
				r.Delete("/", s.handleTerminateDialGroup)
				r.Get("/releasable-numbers", s.handleReleasableNumbers)
			})
		})

		r.Route("/transfers", func(r chi.Router) {
			r.Post("/", s.handleCreateTransfer)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetTransfer)
				r.Post("/complete", s.handleCompleteTransfer)
				r.Post("/cancel", s.handleCancelTransfer)
			})
		})

		r.Route("/conferences/{name}", func(r chi.Router) {
			r.Get("/participants", s.handleListParticipants)
			r.Get("/transfers", s.handleListConferenceTransfers)
			r.Post("/participants/{callRef}/hold", s.handleHoldParticipant)
			r.Post("/participants/{callRef}/mute", s.handleMuteParticipant)
		})

		r.Post("/number-selection", s.handleSelectNumber)

		r.Route("/caller-id-locks", func(r chi.Router) {
			r.Get("/", s.handleListLocks)
			r.Delete("/{phoneNumber}", s.handleReleaseLock)
		})

		// Token issuance carries a stricter rate limit.
		r.With(mw.RateLimit(s.tokenLimiter)).Post("/voice-tokens", s.handleIssueVoiceToken)

		r.Route("/call-history", func(r chi.Router) {
			r.Get("/", s.handleListCallHistory)
			r.Get("/transfers", s.handleListTransferHistory)
		})
	})

	slog.Info("api routes mounted")
}

// healthResponse is the /healthz payload.
type healthResponse struct {
	Status  string          `json:"status"`
	SIPEdge *sipprobe.State `json:"sip_edge,omitempty"`
}

// handleHealthz reports service health. The SIP edge probe, when enabled,
// can degrade the answer to 503.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "ok"}
	status := http.StatusOK

	if s.probe != nil {
		st := s.probe.State()
		resp.SIPEdge = &st
		if !s.probe.Healthy() {
			resp.Status = "degraded"
			status = http.StatusServiceUnavailable
		}
	}

	writeJSON(w, status, resp)
}

// webhookURL builds the externally reachable URL for a webhook path.
func (s *Server) webhookURL(path string) string {
	return strings.TrimRight(s.cfg.PublicURL, "/") + path
}

// writeDomainError maps orchestration errors onto HTTP statuses.
func writeDomainError(w http.ResponseWriter, err error) {
	var provErr *telephony.ProviderError

	switch {
	case errors.Is(err, dialer.ErrGroupNotFound),
		errors.Is(err, conference.ErrTransferNotFound),
		errors.Is(err, telephony.ErrConferenceNotFound),
		errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, dialer.ErrGroupTerminal),
		errors.Is(err, conference.ErrInvalidTransferState),
		errors.Is(err, dialer.ErrNoAvailableNumbers),
		errors.Is(err, callerid.ErrNumberInUse):
		writeError(w, http.StatusConflict, err.Error())
	case errors.As(err, &provErr):
		writeError(w, http.StatusBadGateway, "telephony provider rejected the request")
	default:
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
