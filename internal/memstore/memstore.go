// Package memstore keeps the catalog, the order ledger and the outbox in
// process memory. Units of work run one at a time and stage their writes, so
// a failed unit leaves no trace.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/safar/electronics-store/internal/database"
	"github.com/safar/electronics-store/internal/models"
	"github.com/safar/electronics-store/internal/order"
	"github.com/safar/electronics-store/internal/pagination"
	"github.com/shopspring/decimal"
)

type Store struct {
	mu sync.Mutex

	products map[int64]models.Product
	orders   []models.Order
	outbox   []models.OutboxEvent

	nextProductID int64
	nextOrderID   int64
	nextItemID    int64
	nextEventID   int64

	beforeCommit func() error
	now          func() time.Time
}

type Option func(*Store)

// WithBeforeCommit installs a hook that runs after a unit of work finished
// and before its writes are applied. A non-nil error aborts the commit.
func WithBeforeCommit(fn func() error) Option {
	return func(s *Store) {
		s.beforeCommit = fn
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

func New(opts ...Option) *Store {
	s := &Store{
		products: make(map[int64]models.Product),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) Transact(ctx context.Context, fn func(order.UnitOfWork) error) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	uow := &unitOfWork{
		store:       s,
		products:    make(map[int64]models.Product),
		nextOrderID: s.nextOrderID,
		nextItemID:  s.nextItemID,
		nextEventID: s.nextEventID,
	}

	if err := fn(uow); err != nil {
		return err
	}

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	if s.beforeCommit != nil {
		if err := s.beforeCommit(); err != nil {
			return fmt.Errorf("commit transaction: %w", err)
		}
	}

	uow.apply()
	return nil
}

func (s *Store) CreateProduct(ctx context.Context, p models.NewProduct) (*models.Product, error) {
	if p.StockQuantity < 0 {
		return nil, fmt.Errorf("create product: %w", database.ErrInvalidQuantity)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextProductID++
	now := s.now().UTC()
	product := models.Product{
		ID:            s.nextProductID,
		Name:          p.Name,
		Description:   p.Description,
		Category:      p.Category,
		Price:         p.Price,
		StockQuantity: p.StockQuantity,
		CreatedAt:     now,
		UpdatedAt:     now,
		Version:       1,
	}
	s.products[product.ID] = product

	return &product, nil
}

func (s *Store) GetProduct(ctx context.Context, id int64) (*models.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	product, ok := s.products[id]
	if !ok {
		return nil, database.ErrProductNotFound
	}
	return &product, nil
}

func (s *Store) ListProducts(ctx context.Context, category string, page, pageSize int) (*pagination.OffsetPage, error) {
	page, pageSize = pagination.Normalize(page, pageSize)

	s.mu.Lock()
	defer s.mu.Unlock()

	var matching []models.Product
	for _, product := range s.products {
		if category == "" || product.Category == category {
			matching = append(matching, product)
		}
	}
	sort.Slice(matching, func(i, j int) bool { return matching[i].ID < matching[j].ID })

	total := int64(len(matching))
	start := (page - 1) * pageSize
	if start > len(matching) {
		start = len(matching)
	}
	end := start + pageSize
	if end > len(matching) {
		end = len(matching)
	}

	return &pagination.OffsetPage{
		Items:      append([]models.Product{}, matching[start:end]...),
		Total:      total,
		Page:       page,
		PageSize:   pageSize,
		TotalPages: pagination.TotalPages(total, pageSize),
	}, nil
}

func (s *Store) ListCategories(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	seen := make(map[string]struct{})
	categories := []string{}
	for _, product := range s.products {
		if product.Category == "" {
			continue
		}
		if _, ok := seen[product.Category]; ok {
			continue
		}
		seen[product.Category] = struct{}{}
		categories = append(categories, product.Category)
	}
	sort.Strings(categories)

	return categories, nil
}

func (s *Store) Restock(ctx context.Context, id int64, quantity int) (*models.Product, error) {
	if quantity <= 0 {
		return nil, database.ErrInvalidQuantity
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	product, ok := s.products[id]
	if !ok {
		return nil, database.ErrProductNotFound
	}
	product.StockQuantity += quantity
	product.Version++
	product.UpdatedAt = s.now().UTC()
	s.products[id] = product

	return &product, nil
}

func (s *Store) UpdatePrice(ctx context.Context, id int64, price decimal.Decimal, version int) (*models.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	product, ok := s.products[id]
	if !ok {
		return nil, database.ErrProductNotFound
	}
	if product.Version != version {
		return nil, database.ErrOptimisticLockFailed
	}
	product.Price = price
	product.Version++
	product.UpdatedAt = s.now().UTC()
	s.products[id] = product

	return &product, nil
}

func (s *Store) GetOrder(ctx context.Context, id int64) (*models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, o := range s.orders {
		if o.ID == id {
			result := s.withProductNames(o)
			return &result, nil
		}
	}
	return nil, database.ErrOrderNotFound
}

func (s *Store) ListOrders(ctx context.Context) ([]models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	orders := make([]models.Order, 0, len(s.orders))
	for i := len(s.orders) - 1; i >= 0; i-- {
		orders = append(orders, s.withProductNames(s.orders[i]))
	}
	sortNewestFirst(orders)

	return orders, nil
}

func (s *Store) ListOrdersPage(ctx context.Context, cursor string, limit int) (*pagination.CursorPage, error) {
	cursorData, err := pagination.DecodeCursor(cursor)
	if err != nil {
		return nil, fmt.Errorf("decode cursor: %w", err)
	}

	all, err := s.ListOrders(ctx)
	if err != nil {
		return nil, err
	}

	var orders []models.Order
	for _, o := range all {
		if cursorData.Before(o.CreatedAt, o.ID) {
			orders = append(orders, o)
		}
		if len(orders) > limit {
			break
		}
	}

	hasMore := len(orders) > limit
	if hasMore {
		orders = orders[:limit]
	}

	var nextCursor string
	if hasMore && len(orders) > 0 {
		last := orders[len(orders)-1]
		nextCursor = pagination.EncodeCursor(pagination.OrderCursor{CreatedAt: last.CreatedAt, ID: last.ID})
	}

	return &pagination.CursorPage{
		Items:      orders,
		NextCursor: nextCursor,
		HasMore:    hasMore,
	}, nil
}

// Dispatch hands up to limit pending outbox events to publish, oldest first,
// and marks the ones publish accepted. The store is not locked while publish
// runs, so a slow broker never holds up a commit.
func (s *Store) Dispatch(ctx context.Context, limit int, publish func(context.Context, models.OutboxEvent) error) (int, error) {
	pending := s.pendingEvents(limit)

	var (
		accepted []int64
		firstErr error
	)
	for _, evt := range pending {
		if ctx.Err() != nil {
			break
		}
		if err := publish(ctx, evt); err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("publish event %s: %w", evt.EventID, err)
			}
			continue
		}
		accepted = append(accepted, evt.ID)
	}

	return s.markPublished(accepted), firstErr
}

func (s *Store) pendingEvents(limit int) []models.OutboxEvent {
	s.mu.Lock()
	defer s.mu.Unlock()

	var pending []models.OutboxEvent
	for _, evt := range s.outbox {
		if len(pending) >= limit {
			break
		}
		if evt.Status != models.OutboxStatusPending {
			continue
		}
		evt.Payload = append([]byte(nil), evt.Payload...)
		pending = append(pending, evt)
	}
	return pending
}

// markPublished flips the given events to published. Events another
// dispatcher already marked are not counted twice.
func (s *Store) markPublished(ids []int64) int {
	if len(ids) == 0 {
		return 0
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	accepted := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		accepted[id] = struct{}{}
	}

	now := s.now().UTC()
	marked := 0
	for i := range s.outbox {
		if _, ok := accepted[s.outbox[i].ID]; !ok || s.outbox[i].Status != models.OutboxStatusPending {
			continue
		}
		s.outbox[i].Status = models.OutboxStatusPublished
		published := now
		s.outbox[i].PublishedAt = &published
		marked++
	}
	return marked
}

// Snapshot is a deep copy of everything the store holds.
type Snapshot struct {
	Products map[int64]models.Product
	Orders   []models.Order
	Outbox   []models.OutboxEvent
}

func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{
		Products: make(map[int64]models.Product, len(s.products)),
		Orders:   make([]models.Order, 0, len(s.orders)),
		Outbox:   make([]models.OutboxEvent, 0, len(s.outbox)),
	}
	for id, product := range s.products {
		snap.Products[id] = product
	}
	for _, o := range s.orders {
		o.Items = append([]models.OrderItem(nil), o.Items...)
		snap.Orders = append(snap.Orders, o)
	}
	for _, evt := range s.outbox {
		evt.Payload = append([]byte(nil), evt.Payload...)
		snap.Outbox = append(snap.Outbox, evt)
	}

	return snap
}

func (s *Store) withProductNames(o models.Order) models.Order {
	items := make([]models.OrderItem, len(o.Items))
	for i, item := range o.Items {
		if product, ok := s.products[item.ProductID]; ok {
			item.ProductName = product.Name
		}
		items[i] = item
	}
	o.Items = items
	return o
}

func sortNewestFirst(orders []models.Order) {
	sort.SliceStable(orders, func(i, j int) bool {
		if orders[i].CreatedAt.Equal(orders[j].CreatedAt) {
			return orders[i].ID > orders[j].ID
		}
		return orders[i].CreatedAt.After(orders[j].CreatedAt)
	})
}
