// Package catalog is the product side of the store: listing, creation,
// restocking and price changes.
package catalog

import (
	"context"
	"fmt"

	"github.com/safar/electronics-store/internal/models"
	"github.com/safar/electronics-store/internal/pagination"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// DefaultCategory is used when a product is created without one.
const DefaultCategory = "Other"

type Catalog interface {
	CreateProduct(ctx context.Context, p models.NewProduct) (*models.Product, error)
	GetProduct(ctx context.Context, id int64) (*models.Product, error)
	ListProducts(ctx context.Context, category string, page, pageSize int) (*pagination.OffsetPage, error)
	ListCategories(ctx context.Context) ([]string, error)
	// Restock adds quantity units to the product's stock.
	Restock(ctx context.Context, id int64, quantity int) (*models.Product, error)
	// UpdatePrice changes the price only if the product is still at version.
	// Prices already captured by orders are not affected.
	UpdatePrice(ctx context.Context, id int64, price decimal.Decimal, version int) (*models.Product, error)
}

func DefaultProducts() []models.NewProduct {
	return []models.NewProduct{
		{Name: "Samsung Galaxy Smartphone", Description: `Smartphone with a 6.5" display`, Category: "Smartphones", Price: decimal.NewFromInt(25000), StockQuantity: 15},
		{Name: "ASUS Laptop", Description: `15.6" laptop, Intel Core i5`, Category: "Laptops", Price: decimal.NewFromInt(45000), StockQuantity: 8},
		{Name: "Sony Headphones", Description: "Wireless headphones", Category: "Accessories", Price: decimal.NewFromInt(5000), StockQuantity: 25},
		{Name: "iPad Tablet", Description: `10.2" tablet`, Category: "Tablets", Price: decimal.NewFromInt(30000), StockQuantity: 12},
		{Name: "Logitech Mouse", Description: "Wireless mouse", Category: "Accessories", Price: decimal.NewFromInt(1500), StockQuantity: 30},
	}
}

// Seed fills an empty catalog with DefaultProducts. A catalog that already
// holds products is left alone.
func Seed(ctx context.Context, c Catalog, logger *zap.Logger) (int, error) {
	existing, err := c.ListProducts(ctx, "", 1, 1)
	if err != nil {
		return 0, fmt.Errorf("count products: %w", err)
	}
	if existing.Total > 0 {
		logger.Debug("catalog already seeded", zap.Int64("products", existing.Total))
		return 0, nil
	}

	created := 0
	for _, p := range DefaultProducts() {
		if _, err := c.CreateProduct(ctx, p); err != nil {
			return created, fmt.Errorf("seed product %q: %w", p.Name, err)
		}
		created++
	}

	logger.Info("catalog seeded", zap.Int("products", created))
	return created, nil
}
