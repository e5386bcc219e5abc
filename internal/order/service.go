package order

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/safar/electronics-store/internal/database"
	"github.com/safar/electronics-store/internal/models"
	"github.com/safar/electronics-store/internal/pagination"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Service commits orders against the shared inventory.
type Service struct {
	tx     Transactor
	orders OrderReader
	logger *zap.Logger
	tracer trace.Tracer
	now    func() time.Time
}

func NewService(tx Transactor, orders OrderReader, logger *zap.Logger, tracer trace.Tracer) *Service {
	return &Service{
		tx:     tx,
		orders: orders,
		logger: logger,
		tracer: tracer,
		now:    time.Now,
	}
}

// Commit validates req, then in a single unit of work reads and locks every
// referenced product, prices the items at the observed prices, appends the
// order with its items, decrements stock and enqueues an order.created event.
//
// Failures are one of *ValidationError, *ProductNotFoundError,
// *InsufficientStockError or *CommitFailedError, and leave the store as it was.
func (s *Service) Commit(ctx context.Context, req models.OrderRequest) (*models.OrderConfirmation, error) {
	ctx, span := s.tracer.Start(ctx, "order.commit")
	defer span.End()

	span.SetAttributes(attribute.Int("order.item_count", len(req.Items)))

	if err := validateRequest(req); err != nil {
		s.recordFailure(span, err)
		return nil, err
	}

	var confirmation *models.OrderConfirmation
	err := s.tx.Transact(ctx, func(uow UnitOfWork) error {
		items, total, err := priceItems(ctx, uow.Inventory(), req.Items)
		if err != nil {
			return err
		}

		order := &models.Order{
			ClientName:  strings.TrimSpace(req.ClientName),
			ClientEmail: strings.TrimSpace(req.ClientEmail),
			ClientPhone: strings.TrimSpace(req.ClientPhone),
			Status:      models.OrderStatusPending,
			TotalAmount: total,
			CreatedAt:   s.now().UTC(),
		}

		orderID, err := uow.Ledger().AppendOrder(ctx, order, items)
		if err != nil {
			return fmt.Errorf("append order: %w", err)
		}

		for _, item := range req.Items {
			if err := uow.Inventory().DecrementStock(ctx, item.ProductID, item.Quantity); err != nil {
				return fmt.Errorf("decrement stock for product %d: %w", item.ProductID, err)
			}
		}

		event, err := newOrderCreatedEvent(order, items)
		if err != nil {
			return err
		}
		if err := uow.Outbox().Enqueue(ctx, event); err != nil {
			return fmt.Errorf("enqueue order event: %w", err)
		}

		confirmation = &models.OrderConfirmation{OrderID: orderID, TotalAmount: total}
		return nil
	})
	if err != nil {
		err = commitError(err)
		s.recordFailure(span, err)
		return nil, err
	}

	span.SetAttributes(
		attribute.Int64("order.id", confirmation.OrderID),
		attribute.String("order.total_amount", confirmation.TotalAmount.String()),
	)
	span.SetStatus(codes.Ok, "order committed")

	s.logger.Info("order committed",
		zap.Int64("order_id", confirmation.OrderID),
		zap.String("total_amount", confirmation.TotalAmount.String()),
		zap.Int("items", len(req.Items)))

	return confirmation, nil
}

func (s *Service) GetOrder(ctx context.Context, id int64) (*models.Order, error) {
	return s.orders.GetOrder(ctx, id)
}

// ListOrders returns every order, most recent first.
func (s *Service) ListOrders(ctx context.Context) ([]models.Order, error) {
	return s.orders.ListOrders(ctx)
}

func (s *Service) ListOrdersPage(ctx context.Context, cursor string, limit int) (*pagination.CursorPage, error) {
	_, limit = pagination.Normalize(1, limit)
	return s.orders.ListOrdersPage(ctx, cursor, limit)
}

func (s *Service) recordFailure(span trace.Span, err error) {
	kind := Kind(err)
	span.SetAttributes(attribute.String("order.error_kind", kind))
	span.SetStatus(codes.Error, err.Error())

	var commitErr *CommitFailedError
	if errors.As(err, &commitErr) {
		span.RecordError(err)
		s.logger.Error("order commit failed",
			zap.Bool("retryable", commitErr.Retryable()),
			zap.Error(err))
		return
	}

	s.logger.Info("order rejected", zap.String("reason", kind), zap.Error(err))
}

func validateRequest(req models.OrderRequest) error {
	if strings.TrimSpace(req.ClientName) == "" {
		return &ValidationError{Field: "clientName", Reason: "is required"}
	}
	if strings.TrimSpace(req.ClientEmail) == "" {
		return &ValidationError{Field: "clientEmail", Reason: "is required"}
	}
	if len(req.Items) == 0 {
		return &ValidationError{Field: "items", Reason: "must not be empty"}
	}

	for i, item := range req.Items {
		if item.ProductID <= 0 {
			return &ValidationError{Field: fmt.Sprintf("items[%d].productId", i), Reason: "must be positive"}
		}
		if item.Quantity <= 0 {
			return &ValidationError{Field: fmt.Sprintf("items[%d].quantity", i), Reason: "must be positive"}
		}
	}

	return nil
}

// priceItems locks the referenced products in ascending id order, so
// concurrent commits never wait on each other in a cycle, then checks the
// lines in request order. The first offending line decides the error. A
// product listed on several lines must cover their combined quantity.
func priceItems(ctx context.Context, inventory Inventory, lines []models.LineItem) ([]models.OrderItem, decimal.Decimal, error) {
	products := make(map[int64]*models.Product, len(lines))
	for _, id := range distinctProductIDs(lines) {
		product, err := inventory.GetProduct(ctx, id)
		if errors.Is(err, database.ErrProductNotFound) {
			continue
		}
		if err != nil {
			return nil, decimal.Zero, fmt.Errorf("read product %d: %w", id, err)
		}
		products[id] = product
	}

	total := decimal.Zero
	demand := make(map[int64]int, len(products))
	items := make([]models.OrderItem, 0, len(lines))

	for _, line := range lines {
		product, ok := products[line.ProductID]
		if !ok {
			return nil, decimal.Zero, &ProductNotFoundError{ProductID: line.ProductID}
		}

		demand[line.ProductID] += line.Quantity
		if product.StockQuantity < demand[line.ProductID] {
			return nil, decimal.Zero, &InsufficientStockError{
				ProductID: line.ProductID,
				Available: product.StockQuantity,
				Requested: demand[line.ProductID],
			}
		}

		subtotal := product.Price.Mul(decimal.NewFromInt(int64(line.Quantity)))
		total = total.Add(subtotal)

		items = append(items, models.OrderItem{
			ProductID:   line.ProductID,
			ProductName: product.Name,
			Quantity:    line.Quantity,
			UnitPrice:   product.Price,
			Subtotal:    subtotal,
		})
	}

	return items, total, nil
}

func distinctProductIDs(lines []models.LineItem) []int64 {
	seen := make(map[int64]struct{}, len(lines))
	ids := make([]int64, 0, len(lines))
	for _, line := range lines {
		if _, ok := seen[line.ProductID]; ok {
			continue
		}
		seen[line.ProductID] = struct{}{}
		ids = append(ids, line.ProductID)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func newOrderCreatedEvent(order *models.Order, items []models.OrderItem) (models.OutboxEvent, error) {
	eventID := uuid.NewString()

	payload := models.OrderCreatedEvent{
		EventID:     eventID,
		OrderID:     order.ID,
		ClientEmail: order.ClientEmail,
		TotalAmount: order.TotalAmount,
		Items:       make([]models.OrderCreatedItem, 0, len(items)),
		OccurredAt:  order.CreatedAt,
	}
	for _, item := range items {
		payload.Items = append(payload.Items, models.OrderCreatedItem{
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
		})
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return models.OutboxEvent{}, fmt.Errorf("marshal order event: %w", err)
	}

	return models.OutboxEvent{
		EventID:       eventID,
		AggregateType: models.AggregateOrder,
		AggregateID:   order.ID,
		EventType:     models.EventTypeOrderCreated,
		Payload:       data,
		Status:        models.OutboxStatusPending,
		CreatedAt:     order.CreatedAt,
	}, nil
}

// commitError keeps the protocol's client-input errors as they are and turns
// everything else the unit of work produced into a CommitFailedError.
func commitError(err error) error {
	var (
		validationErr *ValidationError
		notFoundErr   *ProductNotFoundError
		stockErr      *InsufficientStockError
		commitErr     *CommitFailedError
	)
	switch {
	case errors.As(err, &validationErr):
		return validationErr
	case errors.As(err, &notFoundErr):
		return notFoundErr
	case errors.As(err, &stockErr):
		return stockErr
	case errors.As(err, &commitErr):
		return commitErr
	default:
		return &CommitFailedError{Err: err}
	}
}
