package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/safar/electronics-store/internal/catalog"
	"github.com/safar/electronics-store/internal/database"
	"github.com/safar/electronics-store/internal/models"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

func parseID(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

func queryInt(r *http.Request, name string) int {
	v, err := strconv.Atoi(r.URL.Query().Get(name))
	if err != nil {
		return 0
	}
	return v
}

func (h *Handler) ListProducts(w http.ResponseWriter, r *http.Request) {
	page, err := h.catalog.ListProducts(r.Context(),
		r.URL.Query().Get("category"),
		queryInt(r, "page"),
		queryInt(r, "page_size"))
	if err != nil {
		h.internalError(w, "list products", err)
		return
	}

	writeJSON(w, http.StatusOK, page)
}

func (h *Handler) GetProduct(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid product id")
		return
	}

	product, err := h.catalog.GetProduct(r.Context(), id)
	if err != nil {
		h.productError(w, "get product", err)
		return
	}

	writeJSON(w, http.StatusOK, product)
}

// Prices are stored as NUMERIC(12, 2).
var maxPrice = decimal.RequireFromString("9999999999.99")

const invalidPriceMessage = "price must be positive, at most 9999999999.99 and have no more than 2 decimal places"

func validPrice(price decimal.Decimal) bool {
	return price.IsPositive() && price.LessThanOrEqual(maxPrice) && price.Equal(price.Round(2))
}

type createProductRequest struct {
	Name        string           `json:"name"`
	Description string           `json:"description"`
	Category    string           `json:"category"`
	Price       *decimal.Decimal `json:"price"`
	InStock     int              `json:"inStock"`
}

func (h *Handler) CreateProduct(w http.ResponseWriter, r *http.Request) {
	var req createProductRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	if strings.TrimSpace(req.Name) == "" || req.Price == nil {
		writeError(w, http.StatusBadRequest, "name and a positive price are required")
		return
	}
	if !validPrice(*req.Price) {
		writeError(w, http.StatusBadRequest, invalidPriceMessage)
		return
	}
	if req.InStock < 0 {
		writeError(w, http.StatusBadRequest, "inStock must not be negative")
		return
	}
	if req.Category == "" {
		req.Category = catalog.DefaultCategory
	}

	product, err := h.catalog.CreateProduct(r.Context(), models.NewProduct{
		Name:          strings.TrimSpace(req.Name),
		Description:   req.Description,
		Category:      req.Category,
		Price:         *req.Price,
		StockQuantity: req.InStock,
	})
	if err != nil {
		h.internalError(w, "create product", err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"success":   true,
		"productId": product.ID,
		"message":   "Product created successfully",
	})
}

type restockRequest struct {
	Quantity int `json:"quantity"`
}

func (h *Handler) RestockProduct(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid product id")
		return
	}

	var req restockRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	product, err := h.catalog.Restock(r.Context(), id, req.Quantity)
	if err != nil {
		h.productError(w, "restock product", err)
		return
	}

	writeJSON(w, http.StatusOK, product)
}

type updatePriceRequest struct {
	Price   *decimal.Decimal `json:"price"`
	Version int              `json:"version"`
}

func (h *Handler) UpdatePrice(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid product id")
		return
	}

	var req updatePriceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Price == nil || !validPrice(*req.Price) {
		writeError(w, http.StatusBadRequest, invalidPriceMessage)
		return
	}

	product, err := h.catalog.UpdatePrice(r.Context(), id, *req.Price, req.Version)
	if err != nil {
		h.productError(w, "update price", err)
		return
	}

	writeJSON(w, http.StatusOK, product)
}

func (h *Handler) ListCategories(w http.ResponseWriter, r *http.Request) {
	categories, err := h.catalog.ListCategories(r.Context())
	if err != nil {
		h.internalError(w, "list categories", err)
		return
	}

	writeJSON(w, http.StatusOK, categories)
}

func (h *Handler) productError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, database.ErrProductNotFound):
		writeError(w, http.StatusNotFound, "product not found")
	case errors.Is(err, database.ErrInvalidQuantity):
		writeError(w, http.StatusBadRequest, "quantity must be positive")
	case errors.Is(err, database.ErrOptimisticLockFailed):
		writeError(w, http.StatusConflict, "product was modified concurrently, reload and retry")
	default:
		h.internalError(w, op, err)
	}
}

func (h *Handler) internalError(w http.ResponseWriter, op string, err error) {
	h.logger.Error("request failed", zap.String("op", op), zap.Error(err))
	writeError(w, http.StatusInternalServerError, "internal server error")
}
