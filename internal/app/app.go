// Package app exposes the HTTP surface of the service: registration,
// login, chat, balance, top-up, and history.
package app

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"chatmeter/internal/auth"
	"chatmeter/internal/billing"
	"chatmeter/internal/chat"
	"chatmeter/internal/idempotency"
	"chatmeter/internal/ledger"
	"chatmeter/pkg/utils"
)

// App holds the router and the services the handlers dispatch into.
type App struct {
	Router *http.ServeMux

	auth   *auth.Service
	chat   *chat.Service
	ledger ledger.Ledger

	limiter   *utils.RateLimiter
	chatLimit utils.Limit
	idem      *idempotency.Store
	billing   *billing.Reporter
	logger    *slog.Logger
}

// Option configures an App.
type Option func(*App)

// WithIdempotencyStore enables replay-safe top-ups.
func WithIdempotencyStore(s *idempotency.Store) Option {
	return func(a *App) { a.idem = s }
}

// WithBilling mirrors successful top-ups to Stripe.
func WithBilling(r *billing.Reporter) Option {
	return func(a *App) { a.billing = r }
}

// WithChatLimit overrides the per-user rate limit on /chat.
func WithChatLimit(l utils.Limit) Option {
	return func(a *App) { a.chatLimit = l }
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(a *App) { a.logger = logger }
}

// NewApp creates the application and registers its routes.
func NewApp(authSvc *auth.Service, chatSvc *chat.Service, l ledger.Ledger, opts ...Option) *App {
	a := &App{
		Router:    http.NewServeMux(),
		auth:      authSvc,
		chat:      chatSvc,
		ledger:    l,
		limiter:   utils.NewRateLimiter(),
		chatLimit: utils.PerMinute(30, "chat-requests"),
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}

	a.initializeRoutes()
	return a
}

func (a *App) initializeRoutes() {
	a.Router.HandleFunc("GET /status", a.handleStatus)
	a.Router.HandleFunc("POST /register", a.handleRegister)
	a.Router.HandleFunc("POST /login", a.handleLogin)
	a.Router.HandleFunc("POST /chat", a.requireAuth(a.handleChat))
	a.Router.HandleFunc("GET /tokens", a.requireAuth(a.handleTokens))
	a.Router.HandleFunc("POST /top-up", a.requireAuth(a.handleTopUp))
	a.Router.HandleFunc("GET /history", a.requireAuth(a.handleHistory))
}

// writeJSON serializes v and writes it with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

// writeError writes a JSON error body.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
