// Package api exposes fetching and the stored data over HTTP.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/time/rate"

	"fjacquet/bankfetch/internal/fetch"
	"fjacquet/bankfetch/internal/logging"
	"fjacquet/bankfetch/internal/models"
)

// Fetcher runs fetch requests.
type Fetcher interface {
	Fetch(ctx context.Context, req fetch.Request) (*fetch.Result, error)
}

// TransactionLister reads stored transactions. An empty account lists all.
type TransactionLister interface {
	List(ctx context.Context, accountName string) ([]models.Transaction, error)
}

// Catalog lists the configured accounts and categories.
type Catalog interface {
	Accounts() []models.Account
	Categories() []models.Category
}

// Deps wires a Handler. Transactions may be nil when no database is open.
type Deps struct {
	Fetcher      Fetcher
	Transactions TransactionLister
	Catalog      Catalog
	Logger       logging.Logger
}

// Handler serves the HTTP routes.
type Handler struct {
	fetcher      Fetcher
	transactions TransactionLister
	catalog      Catalog
	logger       logging.Logger
}

// NewHandler creates a handler.
func NewHandler(deps Deps) *Handler {
	return &Handler{
		fetcher:      deps.Fetcher,
		transactions: deps.Transactions,
		catalog:      deps.Catalog,
		logger:       logging.OrDefault(deps.Logger),
	}
}

// NewRouter mounts the routes behind panic recovery and a shared limiter
// allowing requestsPerMinute requests, bursting up to the same amount.
func NewRouter(h *Handler, requestsPerMinute int) http.Handler {
	if requestsPerMinute < 1 {
		requestsPerMinute = 1
	}
	limiter := rate.NewLimiter(rate.Every(time.Minute/time.Duration(requestsPerMinute)), requestsPerMinute)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(rateLimitMiddleware(limiter, h.logger))

	r.Post("/fetch/{backend}", h.HandleFetch)
	r.Get("/transactions", h.HandleListTransactions)
	r.Get("/transactions/{account}", h.HandleListTransactions)
	r.Get("/accounts", h.HandleListAccounts)
	r.Get("/categories", h.HandleListCategories)
	return r
}

func rateLimitMiddleware(limiter *rate.Limiter, logger logging.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiter.Allow() {
				logger.Warn("Rate limit exceeded", logging.F("path", r.URL.Path))
				sendJSONError(w, logger, "too many requests", http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// NewServer builds an http.Server for addr.
func NewServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
}

func sendJSON(w http.ResponseWriter, logger logging.Logger, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.WithError(err).Warn("Failed to encode response")
	}
}

func sendJSONError(w http.ResponseWriter, logger logging.Logger, message string, status int) {
	logger.Debug("Sending JSON error to client", logging.F("message", message), logging.F("status", status))
	sendJSON(w, logger, status, map[string]string{"error": message})
}
