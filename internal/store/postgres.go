// Package store is the PostgreSQL storage engine: catalog, order ledger and
// outbox tables, plus the unit of work the order commit runs in.
package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/safar/electronics-store/internal/database"
	"github.com/safar/electronics-store/internal/models"
	"github.com/safar/electronics-store/internal/order"
	"github.com/safar/electronics-store/internal/pagination"
	"github.com/shopspring/decimal"
)

type Postgres struct {
	db          *sql.DB
	lockTimeout time.Duration
}

// NewPostgres wraps db. lockTimeout bounds every row-lock wait inside a unit
// of work; zero leaves the server setting in place.
func NewPostgres(db *sql.DB, lockTimeout time.Duration) *Postgres {
	return &Postgres{db: db, lockTimeout: lockTimeout}
}

// Transact runs fn in a READ COMMITTED transaction. Products read through the
// unit of work are locked FOR UPDATE until the transaction ends.
func (p *Postgres) Transact(ctx context.Context, fn func(order.UnitOfWork) error) error {
	opts := database.DefaultTxOptions()
	opts.LockTimeout = p.lockTimeout

	return database.WithTransaction(ctx, p.db, opts, func(tx *sql.Tx) error {
		return fn(&unitOfWork{tx: tx})
	})
}

func (p *Postgres) CreateProduct(ctx context.Context, np models.NewProduct) (*models.Product, error) {
	return CreateProduct(ctx, p.db, np)
}

func (p *Postgres) GetProduct(ctx context.Context, id int64) (*models.Product, error) {
	return GetProduct(ctx, p.db, id)
}

func (p *Postgres) ListProducts(ctx context.Context, category string, page, pageSize int) (*pagination.OffsetPage, error) {
	return ListProducts(ctx, p.db, category, page, pageSize)
}

func (p *Postgres) ListCategories(ctx context.Context) ([]string, error) {
	return ListCategories(ctx, p.db)
}

func (p *Postgres) Restock(ctx context.Context, id int64, quantity int) (*models.Product, error) {
	return Restock(ctx, p.db, id, quantity)
}

func (p *Postgres) UpdatePrice(ctx context.Context, id int64, price decimal.Decimal, version int) (*models.Product, error) {
	return UpdatePrice(ctx, p.db, id, price, version)
}

func (p *Postgres) GetOrder(ctx context.Context, id int64) (*models.Order, error) {
	return GetOrder(ctx, p.db, id)
}

func (p *Postgres) ListOrders(ctx context.Context) ([]models.Order, error) {
	return ListOrders(ctx, p.db)
}

func (p *Postgres) ListOrdersPage(ctx context.Context, cursor string, limit int) (*pagination.CursorPage, error) {
	return ListOrdersCursor(ctx, p.db, cursor, limit)
}

func (p *Postgres) Dispatch(ctx context.Context, limit int, publish func(context.Context, models.OutboxEvent) error) (int, error) {
	return DispatchEvents(ctx, p.db, limit, publish)
}

type unitOfWork struct {
	tx *sql.Tx
}

func (u *unitOfWork) Inventory() order.Inventory { return u }
func (u *unitOfWork) Ledger() order.Ledger       { return u }
func (u *unitOfWork) Outbox() order.Outbox       { return u }

func (u *unitOfWork) GetProduct(ctx context.Context, id int64) (*models.Product, error) {
	return LockProduct(ctx, u.tx, id)
}

func (u *unitOfWork) DecrementStock(ctx context.Context, id int64, quantity int) error {
	return DecrementStock(ctx, u.tx, id, quantity)
}

func (u *unitOfWork) AppendOrder(ctx context.Context, o *models.Order, items []models.OrderItem) (int64, error) {
	return AppendOrder(ctx, u.tx, o, items)
}

func (u *unitOfWork) Enqueue(ctx context.Context, event models.OutboxEvent) error {
	return EnqueueEvent(ctx, u.tx, event)
}
