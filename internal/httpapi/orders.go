package httpapi

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/safar/electronics-store/internal/database"
	"github.com/safar/electronics-store/internal/models"
	"github.com/safar/electronics-store/internal/order"
	"github.com/safar/electronics-store/internal/pagination"
	"go.uber.org/zap"
)

const (
	HeaderIdempotencyKey = "Idempotency-Key"
	HeaderReplayed       = "Idempotent-Replayed"
)

type lineItemRequest struct {
	ProductID int64 `json:"productId"`
	Quantity  int   `json:"quantity"`
}

type createOrderRequest struct {
	ClientName  string            `json:"clientName"`
	ClientEmail string            `json:"clientEmail"`
	ClientPhone string            `json:"clientPhone"`
	Items       []lineItemRequest `json:"items"`
}

func (req createOrderRequest) toModel() models.OrderRequest {
	items := make([]models.LineItem, 0, len(req.Items))
	for _, item := range req.Items {
		items = append(items, models.LineItem{ProductID: item.ProductID, Quantity: item.Quantity})
	}
	return models.OrderRequest{
		ClientName:  req.ClientName,
		ClientEmail: req.ClientEmail,
		ClientPhone: req.ClientPhone,
		Items:       items,
	}
}

// fingerprint identifies the order a client asked for. Two submissions under
// one Idempotency-Key must have the same fingerprint.
func (req createOrderRequest) fingerprint() string {
	data, _ := json.Marshal(req)
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func (h *Handler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	var req createOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	ctx := r.Context()
	key := r.Header.Get(HeaderIdempotencyKey)
	hash := req.fingerprint()

	if key != "" && h.idempotency != nil {
		record, found, err := h.idempotency.Lookup(ctx, key)
		switch {
		case err != nil:
			h.logger.Warn("idempotency lookup failed", zap.String("key", key), zap.Error(err))
		case found && record.RequestHash != hash:
			writeError(w, http.StatusUnprocessableEntity, "Idempotency-Key was already used for a different order")
			return
		case found:
			w.Header().Set(HeaderReplayed, "true")
			writeOrderCreated(w, &record.Confirmation)
			return
		}
	}

	confirmation, err := h.commit(ctx, req.toModel())
	if err != nil {
		h.orderError(w, err)
		return
	}

	if key != "" && h.idempotency != nil {
		record := models.IdempotencyRecord{RequestHash: hash, Confirmation: *confirmation}
		if err := h.idempotency.Remember(ctx, key, record); err != nil {
			h.logger.Warn("failed to remember idempotency key",
				zap.String("key", key),
				zap.Int64("order_id", confirmation.OrderID),
				zap.Error(err))
		}
	}

	writeOrderCreated(w, confirmation)
}

// commit retries only commits that failed for a transient reason. Every
// attempt is a fresh unit of work.
func (h *Handler) commit(ctx context.Context, req models.OrderRequest) (*models.OrderConfirmation, error) {
	var confirmation *models.OrderConfirmation

	err := database.WithRetry(ctx, database.RetryOptions{
		MaxRetries:     h.commitRetries,
		InitialBackoff: h.retryBackoff,
		Retryable:      order.IsRetryable,
	}, func(ctx context.Context) error {
		c, err := h.orders.Commit(ctx, req)
		if err != nil {
			return err
		}
		confirmation = c
		return nil
	})
	if err != nil {
		return nil, err
	}

	return confirmation, nil
}

// writeOrderCreated always renders totalAmount as a JSON number, whatever
// decimal.MarshalJSONWithoutQuotes is set to.
func writeOrderCreated(w http.ResponseWriter, confirmation *models.OrderConfirmation) {
	writeJSON(w, http.StatusCreated, map[string]any{
		"success":     true,
		"orderId":     confirmation.OrderID,
		"totalAmount": json.Number(confirmation.TotalAmount.String()),
		"message":     "Order created successfully",
	})
}

func (h *Handler) orderError(w http.ResponseWriter, err error) {
	var (
		validationErr *order.ValidationError
		notFoundErr   *order.ProductNotFoundError
		stockErr      *order.InsufficientStockError
		commitErr     *order.CommitFailedError
	)

	switch {
	case errors.As(err, &validationErr):
		writeError(w, http.StatusBadRequest, validationErr.Error())
	case errors.As(err, &notFoundErr):
		writeError(w, http.StatusBadRequest, notFoundErr.Error())
	case errors.As(err, &stockErr):
		writeError(w, http.StatusBadRequest, stockErr.Error())
	case errors.As(err, &commitErr) && commitErr.Retryable():
		w.Header().Set("Retry-After", "1")
		writeError(w, http.StatusServiceUnavailable, "order could not be committed, please retry")
	default:
		h.internalError(w, "create order", err)
	}
}

func (h *Handler) ListOrders(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	if query.Has("limit") || query.Has("cursor") {
		limit, _ := strconv.Atoi(query.Get("limit"))
		page, err := h.orders.ListOrdersPage(r.Context(), query.Get("cursor"), limit)
		if errors.Is(err, pagination.ErrInvalidCursor) {
			writeError(w, http.StatusBadRequest, "invalid cursor")
			return
		}
		if err != nil {
			h.internalError(w, "list orders", err)
			return
		}
		writeJSON(w, http.StatusOK, page)
		return
	}

	orders, err := h.orders.ListOrders(r.Context())
	if err != nil {
		h.internalError(w, "list orders", err)
		return
	}

	writeJSON(w, http.StatusOK, orders)
}

func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid order id")
		return
	}

	o, err := h.orders.GetOrder(r.Context(), id)
	if err != nil {
		if errors.Is(err, database.ErrOrderNotFound) {
			writeError(w, http.StatusNotFound, "order not found")
			return
		}
		h.internalError(w, "get order", err)
		return
	}

	writeJSON(w, http.StatusOK, o)
}
