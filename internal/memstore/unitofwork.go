package memstore

import (
	"context"

	"github.com/safar/electronics-store/internal/database"
	"github.com/safar/electronics-store/internal/models"
	"github.com/safar/electronics-store/internal/order"
)

// unitOfWork runs while Store.mu is held. Reads see staged writes first.
type unitOfWork struct {
	store *Store

	products map[int64]models.Product
	orders   []models.Order
	outbox   []models.OutboxEvent

	nextOrderID int64
	nextItemID  int64
	nextEventID int64
}

func (u *unitOfWork) Inventory() order.Inventory { return u }
func (u *unitOfWork) Ledger() order.Ledger       { return u }
func (u *unitOfWork) Outbox() order.Outbox       { return u }

func (u *unitOfWork) GetProduct(ctx context.Context, id int64) (*models.Product, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	product, ok := u.product(id)
	if !ok {
		return nil, database.ErrProductNotFound
	}
	return &product, nil
}

func (u *unitOfWork) DecrementStock(ctx context.Context, id int64, quantity int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if quantity <= 0 {
		return database.ErrInvalidQuantity
	}

	product, ok := u.product(id)
	if !ok {
		return database.ErrProductNotFound
	}
	if product.StockQuantity < quantity {
		return database.ErrStockConflict
	}

	product.StockQuantity -= quantity
	product.Version++
	product.UpdatedAt = u.store.now().UTC()
	u.products[id] = product

	return nil
}

func (u *unitOfWork) AppendOrder(ctx context.Context, o *models.Order, items []models.OrderItem) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	u.nextOrderID++
	o.ID = u.nextOrderID

	stored := *o
	stored.Items = make([]models.OrderItem, len(items))
	for i := range items {
		u.nextItemID++
		items[i].ID = u.nextItemID
		items[i].OrderID = o.ID

		item := items[i]
		item.ProductName = ""
		stored.Items[i] = item
	}
	o.Items = items

	u.orders = append(u.orders, stored)
	return o.ID, nil
}

func (u *unitOfWork) Enqueue(ctx context.Context, event models.OutboxEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	u.nextEventID++
	event.ID = u.nextEventID
	event.Status = models.OutboxStatusPending
	event.Payload = append([]byte(nil), event.Payload...)
	u.outbox = append(u.outbox, event)

	return nil
}

func (u *unitOfWork) product(id int64) (models.Product, bool) {
	if product, ok := u.products[id]; ok {
		return product, true
	}
	product, ok := u.store.products[id]
	return product, ok
}

func (u *unitOfWork) apply() {
	s := u.store
	for id, product := range u.products {
		s.products[id] = product
	}
	s.orders = append(s.orders, u.orders...)
	s.outbox = append(s.outbox, u.outbox...)
	s.nextOrderID = u.nextOrderID
	s.nextItemID = u.nextItemID
	s.nextEventID = u.nextEventID
}
