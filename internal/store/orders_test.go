package store

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/safar/electronics-store/internal/models"
	"github.com/safar/electronics-store/internal/order"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"
)

func newOrderService(db *sql.DB) (*Postgres, *order.Service) {
	pg := NewPostgres(db, 2*time.Second)
	return pg, order.NewService(pg, pg, zap.NewNop(), noop.NewTracerProvider().Tracer("test"))
}

func orderRequest(items ...models.LineItem) models.OrderRequest {
	return models.OrderRequest{
		ClientName:  "Test Client",
		ClientEmail: "client@example.com",
		Items:       items,
	}
}

func countRows(t *testing.T, db *sql.DB, table string) int {
	t.Helper()
	var n int
	if err := db.QueryRow(`SELECT COUNT(*) FROM ` + table).Scan(&n); err != nil {
		t.Fatalf("Count %s: %v", table, err)
	}
	return n
}

func TestCommitOrder(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	pg, svc := newOrderService(db)

	product1, err := pg.CreateProduct(ctx, newTestProduct("Product 1", 100, 50))
	if err != nil {
		t.Fatalf("Create product 1: %v", err)
	}
	product2, err := pg.CreateProduct(ctx, models.NewProduct{
		Name: "Product 2", Category: "Test", Price: decimal.RequireFromString("19.99"), StockQuantity: 30,
	})
	if err != nil {
		t.Fatalf("Create product 2: %v", err)
	}

	confirmation, err := svc.Commit(ctx, orderRequest(
		models.LineItem{ProductID: product1.ID, Quantity: 5},
		models.LineItem{ProductID: product2.ID, Quantity: 3},
	))
	if err != nil {
		t.Fatalf("Commit order: %v", err)
	}

	if confirmation.OrderID == 0 {
		t.Error("Order ID should not be 0")
	}

	expectedTotal := decimal.RequireFromString("559.97")
	if !confirmation.TotalAmount.Equal(expectedTotal) {
		t.Errorf("Expected total %s, got %s", expectedTotal, confirmation.TotalAmount)
	}

	product1After, err := GetProduct(ctx, db, product1.ID)
	if err != nil {
		t.Fatalf("Get product 1: %v", err)
	}
	if product1After.StockQuantity != 45 {
		t.Errorf("Expected product 1 stock 45, got %d", product1After.StockQuantity)
	}

	product2After, err := GetProduct(ctx, db, product2.ID)
	if err != nil {
		t.Fatalf("Get product 2: %v", err)
	}
	if product2After.StockQuantity != 27 {
		t.Errorf("Expected product 2 stock 27, got %d", product2After.StockQuantity)
	}

	stored, err := svc.GetOrder(ctx, confirmation.OrderID)
	if err != nil {
		t.Fatalf("Get order: %v", err)
	}
	if len(stored.Items) != 2 {
		t.Fatalf("Expected 2 items, got %d", len(stored.Items))
	}
	if stored.Items[1].ProductName != "Product 2" || !stored.Items[1].UnitPrice.Equal(decimal.RequireFromString("19.99")) {
		t.Errorf("Unexpected item: %+v", stored.Items[1])
	}
	if !stored.TotalAmount.Equal(expectedTotal) {
		t.Errorf("Stored total %s, expected %s", stored.TotalAmount, expectedTotal)
	}

	if n := countRows(t, db, "outbox_events"); n != 1 {
		t.Errorf("Expected 1 outbox event, got %d", n)
	}
}

func TestCommitOrderInsufficientStockWritesNothing(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	pg, svc := newOrderService(db)

	plenty, err := pg.CreateProduct(ctx, newTestProduct("Plenty", 100, 100))
	if err != nil {
		t.Fatalf("Create product: %v", err)
	}
	scarce, err := pg.CreateProduct(ctx, newTestProduct("Scarce", 100, 5))
	if err != nil {
		t.Fatalf("Create product: %v", err)
	}

	_, err = svc.Commit(ctx, orderRequest(
		models.LineItem{ProductID: plenty.ID, Quantity: 10},
		models.LineItem{ProductID: scarce.ID, Quantity: 10},
	))

	var stockErr *order.InsufficientStockError
	if !errors.As(err, &stockErr) {
		t.Fatalf("Expected insufficient stock error, got: %v", err)
	}
	if stockErr.ProductID != scarce.ID || stockErr.Available != 5 || stockErr.Requested != 10 {
		t.Errorf("Unexpected error details: %+v", stockErr)
	}

	plentyAfter, err := GetProduct(ctx, db, plenty.ID)
	if err != nil {
		t.Fatalf("Get product: %v", err)
	}
	if plentyAfter.StockQuantity != 100 {
		t.Errorf("Stock should remain unchanged at 100, got %d", plentyAfter.StockQuantity)
	}

	for _, table := range []string{"orders", "order_items", "outbox_events"} {
		if n := countRows(t, db, table); n != 0 {
			t.Errorf("Expected no rows in %s, got %d", table, n)
		}
	}
}

func TestCommitOrderUnknownProduct(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	_, svc := newOrderService(db)

	_, err := svc.Commit(ctx, orderRequest(models.LineItem{ProductID: 9999, Quantity: 1}))

	var notFound *order.ProductNotFoundError
	if !errors.As(err, &notFound) || notFound.ProductID != 9999 {
		t.Fatalf("Expected product 9999 not found, got: %v", err)
	}
	if n := countRows(t, db, "orders"); n != 0 {
		t.Errorf("Expected no orders, got %d", n)
	}
}

func TestConcurrentOrdersNeverOversell(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	pg, svc := newOrderService(db)

	product, err := pg.CreateProduct(ctx, newTestProduct("Product 4", 100, 20))
	if err != nil {
		t.Fatalf("Create product: %v", err)
	}

	concurrency := 15
	var wg sync.WaitGroup
	results := make(chan error, concurrency)

	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()

			_, err := svc.Commit(ctx, orderRequest(models.LineItem{ProductID: product.ID, Quantity: 2}))
			results <- err
		}()
	}

	wg.Wait()
	close(results)

	successCount := 0
	for err := range results {
		var stockErr *order.InsufficientStockError
		switch {
		case err == nil:
			successCount++
		case errors.As(err, &stockErr):
		default:
			t.Errorf("Unexpected error: %v", err)
		}
	}

	if successCount != 10 {
		t.Errorf("Expected 10 successful orders, got %d", successCount)
	}

	productAfter, err := GetProduct(ctx, db, product.ID)
	if err != nil {
		t.Fatalf("Get product: %v", err)
	}
	if productAfter.StockQuantity != 0 {
		t.Errorf("Expected final stock 0, got %d", productAfter.StockQuantity)
	}
	if n := countRows(t, db, "orders"); n != successCount {
		t.Errorf("Expected %d orders, got %d", successCount, n)
	}
}

func TestTwoOrdersRacingForTheSameStock(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	pg, svc := newOrderService(db)

	phone, err := pg.CreateProduct(ctx, newTestProduct("Phone", 25000, 15))
	if err != nil {
		t.Fatalf("Create product: %v", err)
	}

	var wg sync.WaitGroup
	results := make(chan error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Commit(ctx, orderRequest(models.LineItem{ProductID: phone.ID, Quantity: 10}))
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	successCount := 0
	for err := range results {
		if err == nil {
			successCount++
			continue
		}
		var stockErr *order.InsufficientStockError
		if !errors.As(err, &stockErr) {
			t.Errorf("Expected insufficient stock, got: %v", err)
			continue
		}
		if stockErr.Available != 5 || stockErr.Requested != 10 {
			t.Errorf("Expected available=5 requested=10, got %+v", stockErr)
		}
	}
	if successCount != 1 {
		t.Errorf("Expected exactly one success, got %d", successCount)
	}

	after, err := GetProduct(ctx, db, phone.ID)
	if err != nil {
		t.Fatalf("Get product: %v", err)
	}
	if after.StockQuantity != 5 {
		t.Errorf("Expected stock 5, got %d", after.StockQuantity)
	}
}

func TestCommittedPricesSurvivePriceChanges(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	pg, svc := newOrderService(db)

	product, err := pg.CreateProduct(ctx, newTestProduct("Tablet", 30000, 12))
	if err != nil {
		t.Fatalf("Create product: %v", err)
	}

	confirmation, err := svc.Commit(ctx, orderRequest(models.LineItem{ProductID: product.ID, Quantity: 2}))
	if err != nil {
		t.Fatalf("Commit order: %v", err)
	}

	current, err := pg.GetProduct(ctx, product.ID)
	if err != nil {
		t.Fatalf("Get product: %v", err)
	}
	if _, err := pg.UpdatePrice(ctx, product.ID, decimal.NewFromInt(27000), current.Version); err != nil {
		t.Fatalf("Update price: %v", err)
	}

	stored, err := svc.GetOrder(ctx, confirmation.OrderID)
	if err != nil {
		t.Fatalf("Get order: %v", err)
	}
	if !stored.Items[0].UnitPrice.Equal(decimal.NewFromInt(30000)) {
		t.Errorf("Expected frozen price 30000, got %s", stored.Items[0].UnitPrice)
	}
	if !stored.TotalAmount.Equal(decimal.NewFromInt(60000)) {
		t.Errorf("Expected total 60000, got %s", stored.TotalAmount)
	}
}

func TestCommitTimesOutOnLockedProduct(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	pg := NewPostgres(db, 200*time.Millisecond)
	svc := order.NewService(pg, pg, zap.NewNop(), noop.NewTracerProvider().Tracer("test"))

	product, err := pg.CreateProduct(ctx, newTestProduct("Locked", 100, 10))
	if err != nil {
		t.Fatalf("Create product: %v", err)
	}

	holder, err := db.BeginTx(ctx, nil)
	if err != nil {
		t.Fatalf("Begin holder tx: %v", err)
	}
	defer func() { _ = holder.Rollback() }()
	if _, err := LockProduct(ctx, holder, product.ID); err != nil {
		t.Fatalf("Lock product: %v", err)
	}

	_, err = svc.Commit(ctx, orderRequest(models.LineItem{ProductID: product.ID, Quantity: 1}))

	var commitErr *order.CommitFailedError
	if !errors.As(err, &commitErr) {
		t.Fatalf("Expected commit failure, got: %v", err)
	}
	if !commitErr.Retryable() {
		t.Errorf("Lock timeout should be retryable: %v", err)
	}
	if n := countRows(t, db, "orders"); n != 0 {
		t.Errorf("Expected no orders, got %d", n)
	}
}

func TestListOrdersCursor(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	pg, svc := newOrderService(db)

	product, err := pg.CreateProduct(ctx, newTestProduct("Product 5", 100, 100))
	if err != nil {
		t.Fatalf("Create product: %v", err)
	}

	for i := 0; i < 15; i++ {
		if _, err := svc.Commit(ctx, orderRequest(models.LineItem{ProductID: product.ID, Quantity: 1})); err != nil {
			t.Fatalf("Commit order %d: %v", i, err)
		}
	}

	page1, err := ListOrdersCursor(ctx, db, "", 10)
	if err != nil {
		t.Fatalf("List orders page 1: %v", err)
	}

	if !page1.HasMore {
		t.Error("Page 1 should have more results")
	}

	if page1.NextCursor == "" {
		t.Error("Page 1 should have a next cursor")
	}

	page2, err := ListOrdersCursor(ctx, db, page1.NextCursor, 10)
	if err != nil {
		t.Fatalf("List orders page 2: %v", err)
	}

	if page2.HasMore {
		t.Error("Page 2 should not have more results")
	}
	if items := page2.Items.([]models.Order); len(items) != 5 {
		t.Errorf("Expected 5 orders on page 2, got %d", len(items))
	}

	all, err := ListOrders(ctx, db)
	if err != nil {
		t.Fatalf("List orders: %v", err)
	}
	if len(all) != 15 {
		t.Fatalf("Expected 15 orders, got %d", len(all))
	}
	if all[0].ID < all[14].ID {
		t.Error("Orders should be listed most recent first")
	}
	for _, o := range all {
		if len(o.Items) != 1 {
			t.Errorf("Order %d should have 1 item, got %d", o.ID, len(o.Items))
		}
	}
}
