package order

import (
	"context"

	"github.com/safar/electronics-store/internal/models"
	"github.com/safar/electronics-store/internal/pagination"
)

// Inventory is the product table as seen from inside a unit of work.
type Inventory interface {
	// GetProduct returns database.ErrProductNotFound for unknown ids. The row
	// stays locked against other units of work until this one ends.
	GetProduct(ctx context.Context, id int64) (*models.Product, error)
	// DecrementStock succeeds only if the product still has at least quantity
	// units; otherwise it returns database.ErrStockConflict.
	DecrementStock(ctx context.Context, id int64, quantity int) error
}

type Ledger interface {
	// AppendOrder stores the order and its items and fills in their ids.
	AppendOrder(ctx context.Context, order *models.Order, items []models.OrderItem) (int64, error)
}

type Outbox interface {
	Enqueue(ctx context.Context, event models.OutboxEvent) error
}

type UnitOfWork interface {
	Inventory() Inventory
	Ledger() Ledger
	Outbox() Outbox
}

// Transactor runs fn as one atomic unit of work. If fn returns an error, or
// the commit fails, nothing fn wrote is kept.
type Transactor interface {
	Transact(ctx context.Context, fn func(UnitOfWork) error) error
}

type OrderReader interface {
	GetOrder(ctx context.Context, id int64) (*models.Order, error)
	ListOrders(ctx context.Context) ([]models.Order, error)
	ListOrdersPage(ctx context.Context, cursor string, limit int) (*pagination.CursorPage, error)
}
