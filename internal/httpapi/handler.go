// Package httpapi exposes the store over JSON/HTTP.
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/safar/electronics-store/internal/catalog"
	"github.com/safar/electronics-store/internal/config"
	"github.com/safar/electronics-store/internal/models"
	"github.com/safar/electronics-store/internal/pagination"
	"go.uber.org/zap"
)

type OrderService interface {
	Commit(ctx context.Context, req models.OrderRequest) (*models.OrderConfirmation, error)
	GetOrder(ctx context.Context, id int64) (*models.Order, error)
	ListOrders(ctx context.Context) ([]models.Order, error)
	ListOrdersPage(ctx context.Context, cursor string, limit int) (*pagination.CursorPage, error)
}

// IdempotencyStore remembers order confirmations by client-supplied key.
type IdempotencyStore interface {
	Lookup(ctx context.Context, key string) (*models.IdempotencyRecord, bool, error)
	Remember(ctx context.Context, key string, record models.IdempotencyRecord) error
}

type Handler struct {
	orders      OrderService
	catalog     catalog.Catalog
	idempotency IdempotencyStore
	logger      *zap.Logger

	commitRetries int
	retryBackoff  time.Duration
	timeout       time.Duration
}

type Option func(*Handler)

func WithIdempotency(store IdempotencyStore) Option {
	return func(h *Handler) {
		h.idempotency = store
	}
}

// WithCommitRetries makes order submission retry a commit that failed for a
// transient reason up to retries more times.
func WithCommitRetries(retries int, backoff time.Duration) Option {
	return func(h *Handler) {
		h.commitRetries = retries
		h.retryBackoff = backoff
	}
}

func WithRequestTimeout(d time.Duration) Option {
	return func(h *Handler) {
		h.timeout = d
	}
}

func New(orders OrderService, c catalog.Catalog, logger *zap.Logger, opts ...Option) *Handler {
	h := &Handler{
		orders:       orders,
		catalog:      c,
		logger:       logger,
		retryBackoff: 50 * time.Millisecond,
		timeout:      60 * time.Second,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(h.logger))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(h.timeout))

	r.Get("/", h.Index)
	r.Get("/health", h.HealthCheck)

	r.Route("/api", func(r chi.Router) {
		r.Get("/products", h.ListProducts)
		r.Post("/products", h.CreateProduct)
		r.Get("/products/{id}", h.GetProduct)
		r.Post("/products/{id}/restock", h.RestockProduct)
		r.Put("/products/{id}/price", h.UpdatePrice)

		r.Get("/categories", h.ListCategories)

		r.Get("/orders", h.ListOrders)
		r.Post("/orders", h.CreateOrder)
		r.Get("/orders/{id}", h.GetOrder)
	})

	return r
}

func (h *Handler) Index(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"service": "Electronics Store API",
		"version": config.ServiceVersion,
		"status":  "running",
		"endpoints": map[string]string{
			"GET /health":                      "Health check",
			"GET /api/products":                "List products",
			"GET /api/products?category=...":   "List products in a category",
			"GET /api/products/:id":            "Get a product",
			"POST /api/products":               "Create a product",
			"POST /api/products/:id/restock":   "Add stock to a product",
			"PUT /api/products/:id/price":      "Change a product price",
			"GET /api/categories":              "List categories",
			"GET /api/orders":                  "List orders",
			"GET /api/orders?limit=...&cursor": "Page through orders",
			"GET /api/orders/:id":              "Get an order",
			"POST /api/orders":                 "Place an order",
		},
	})
}

func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"service": config.ServiceName,
	})
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

func requestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()

			defer func() {
				logger.Info("http request",
					zap.String("method", r.Method),
					zap.String("path", r.URL.Path),
					zap.Int("status", ww.Status()),
					zap.Int("bytes", ww.BytesWritten()),
					zap.Duration("duration", time.Since(start)),
					zap.String("request_id", middleware.GetReqID(r.Context())))
			}()

			next.ServeHTTP(ww, r)
		})
	}
}
