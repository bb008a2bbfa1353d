// Package server exposes the FindIt REST API.
package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"gorm.io/gorm"

	"github.com/finditapp/findit-server/auth"
	"github.com/finditapp/findit-server/escrow"
	"github.com/finditapp/findit-server/lifecycle"
	fmw "github.com/finditapp/findit-server/middleware"
	"github.com/finditapp/findit-server/notify"
	"github.com/finditapp/findit-server/observability"
	"github.com/finditapp/findit-server/stripe"
)

const maxRequestBody = 1 << 20 // 1 MiB

// Config captures the dependencies required to construct the server.
type Config struct {
	DB            *gorm.DB
	Escrow        *escrow.Coordinator
	Items         *lifecycle.Manager
	Gateway       stripe.Client
	Notifier      notify.Dispatcher
	Verifier      *auth.Verifier
	WebhookSecret []byte
	FrontendURL   string
	Logger        *slog.Logger
	Now           func() time.Time
}

// Server encapsulates dependencies for the HTTP API.
type Server struct {
	db            *gorm.DB
	escrow        *escrow.Coordinator
	items         *lifecycle.Manager
	gateway       stripe.Client
	notifier      notify.Dispatcher
	verifier      *auth.Verifier
	webhookSecret []byte
	frontendURL   string
	log           *slog.Logger
	now           func() time.Time

	router http.Handler
}

// New constructs a configured HTTP router with authentication, idempotency,
// and metrics support.
func New(cfg Config) *Server {
	if cfg.DB == nil {
		panic("server: database required")
	}
	if cfg.Escrow == nil {
		panic("server: escrow coordinator required")
	}
	if cfg.Items == nil {
		panic("server: item lifecycle manager required")
	}
	if cfg.Verifier == nil {
		panic("server: auth verifier required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	srv := &Server{
		db:            cfg.DB,
		escrow:        cfg.Escrow,
		items:         cfg.Items,
		gateway:       cfg.Gateway,
		notifier:      cfg.Notifier,
		verifier:      cfg.Verifier,
		webhookSecret: cfg.WebhookSecret,
		frontendURL:   cfg.FrontendURL,
		log:           cfg.Logger,
		now:           cfg.Now,
	}
	srv.router = srv.buildRouter()
	return srv
}

// Handler exposes the configured HTTP router.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(metricsMiddleware)

	r.Get("/healthz", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", observability.MetricsHandler())

	r.Route("/api/v1", func(api chi.Router) {
		// Webhooks authenticate by signature, not bearer token.
		api.Post("/payments/webhook", s.handleWebhook)

		api.Group(func(protected chi.Router) {
			protected.Use(s.verifier.Middleware)

			protected.Route("/items", func(items chi.Router) {
				items.Get("/", s.handleListItems)
				items.Post("/", s.handleCreateItem)
				items.Get("/{id}", s.handleGetItem)
				items.Put("/{id}", s.handleUpdateItem)
				items.Delete("/{id}", s.handleDeleteItem)
				items.Post("/{id}/report", s.handleReportItem)
			})

			protected.Route("/payments", func(payments chi.Router) {
				payments.Use(func(next http.Handler) http.Handler { return fmw.WithIdempotency(s.db, next) })
				payments.Post("/create-intent", s.handleCreateIntent)
				payments.Post("/confirm", s.handleConfirmPayment)
				payments.Post("/payout", s.handlePayout)
				payments.Get("/history", s.handlePaymentHistory)
			})

			protected.Route("/users", func(users chi.Router) {
				users.Get("/me/items", s.handleMyItems)
				users.Get("/me/stats", s.handleMyStats)
				users.Post("/stripe-connect", s.handleStripeConnect)
				users.Get("/stripe-connect", s.handleStripeConnectStatus)
			})

			protected.Route("/notifications", func(n chi.Router) {
				n.Get("/", s.handleListNotifications)
				n.Get("/count", s.handleNotificationCount)
				n.Put("/{id}/read", s.handleMarkNotificationRead)
				n.Put("/read-all", s.handleMarkAllNotificationsRead)
			})
		})
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	sqlDB, err := s.db.DB()
	if err != nil || sqlDB.PingContext(r.Context()) != nil {
		s.writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded"})
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}

// writeDomainError maps sentinel errors from the escrow and lifecycle
// packages onto HTTP statuses. Unknown errors become opaque 500s; internals
// are logged, never echoed.
func (s *Server) writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, escrow.ErrItemNotFound),
		errors.Is(err, escrow.ErrPaymentNotFound),
		errors.Is(err, lifecycle.ErrItemNotFound):
		s.writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, escrow.ErrAmountMismatch):
		s.writeError(w, http.StatusBadRequest, "payment amount does not match bounty amount")
	case errors.Is(err, escrow.ErrFinderMismatch):
		s.writeError(w, http.StatusBadRequest, "finder does not match the item report")
	case errors.Is(err, escrow.ErrFinderNotPayable):
		s.writeError(w, http.StatusBadRequest, "finder has not set up a payout account")
	case errors.Is(err, escrow.ErrInvalidState),
		errors.Is(err, lifecycle.ErrInvalidTransition):
		s.writeError(w, http.StatusConflict, err.Error())
	default:
		var apiErr *stripe.APIError
		if errors.As(err, &apiErr) {
			if stripe.Retryable(err) {
				s.writeJSON(w, http.StatusBadGateway, map[string]any{
					"error":     "payment processor unavailable",
					"retryable": true,
				})
				return
			}
			s.writeJSON(w, http.StatusBadRequest, map[string]any{
				"error":     "payment processor rejected the request",
				"retryable": false,
			})
			return
		}
		s.log.Error("request failed", "error", err)
		s.writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON payload")
		return false
	}
	return true
}

func metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		route := chi.RouteContext(r.Context()).RoutePattern()
		observability.HTTP().Observe(route, r.Method, ww.Status(), time.Since(start))
	})
}
