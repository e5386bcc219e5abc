package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"
	"github.com/safar/electronics-store/internal/database"
	"github.com/safar/electronics-store/internal/models"
	"github.com/safar/electronics-store/internal/pagination"
	"github.com/shopspring/decimal"
)

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type rowScanner interface {
	Scan(dest ...any) error
}

const productColumns = `id, name, description, category, price, stock_quantity, created_at, updated_at, version`

func scanProduct(row rowScanner) (*models.Product, error) {
	product := &models.Product{}
	err := row.Scan(
		&product.ID,
		&product.Name,
		&product.Description,
		&product.Category,
		&product.Price,
		&product.StockQuantity,
		&product.CreatedAt,
		&product.UpdatedAt,
		&product.Version,
	)
	if err != nil {
		return nil, err
	}
	return product, nil
}

func CreateProduct(ctx context.Context, db querier, p models.NewProduct) (*models.Product, error) {
	if p.StockQuantity < 0 {
		return nil, fmt.Errorf("create product: %w", database.ErrInvalidQuantity)
	}

	query := `
		INSERT INTO products (name, description, category, price, stock_quantity, created_at, updated_at, version)
		VALUES ($1, $2, $3, $4, $5, NOW(), NOW(), 1)
		RETURNING ` + productColumns

	product, err := scanProduct(db.QueryRowContext(ctx, query, p.Name, p.Description, p.Category, p.Price, p.StockQuantity))
	if err != nil {
		return nil, fmt.Errorf("create product: %w", err)
	}

	return product, nil
}

func GetProduct(ctx context.Context, db querier, id int64) (*models.Product, error) {
	query := `SELECT ` + productColumns + ` FROM products WHERE id = $1`

	product, err := scanProduct(db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, database.ErrProductNotFound
		}
		return nil, fmt.Errorf("get product: %w", err)
	}

	return product, nil
}

// LockProduct reads the product and holds its row lock until tx ends. A wait
// longer than the transaction's lock_timeout fails with ErrLockTimeout.
func LockProduct(ctx context.Context, tx *sql.Tx, id int64) (*models.Product, error) {
	query := `SELECT ` + productColumns + ` FROM products WHERE id = $1 FOR UPDATE`

	product, err := scanProduct(tx.QueryRowContext(ctx, query, id))
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "55P03" {
			return nil, fmt.Errorf("lock product %d: %w (%s)", id, database.ErrLockTimeout, pqErr.Message)
		}
		if errors.Is(err, sql.ErrNoRows) {
			return nil, database.ErrProductNotFound
		}
		return nil, fmt.Errorf("lock product %d: %w", id, err)
	}

	return product, nil
}

// DecrementStock removes quantity units only if that many are still on hand.
func DecrementStock(ctx context.Context, tx *sql.Tx, productID int64, quantity int) error {
	if quantity <= 0 {
		return database.ErrInvalidQuantity
	}

	result, err := tx.ExecContext(ctx,
		`UPDATE products
		 SET stock_quantity = stock_quantity - $1,
		     version = version + 1,
		     updated_at = NOW()
		 WHERE id = $2
		   AND stock_quantity >= $1`,
		quantity, productID)
	if err != nil {
		return fmt.Errorf("decrement stock: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return database.ErrStockConflict
	}

	return nil
}

func Restock(ctx context.Context, db querier, productID int64, quantity int) (*models.Product, error) {
	if quantity <= 0 {
		return nil, database.ErrInvalidQuantity
	}

	query := `
		UPDATE products
		SET stock_quantity = stock_quantity + $1,
		    version = version + 1,
		    updated_at = NOW()
		WHERE id = $2
		RETURNING ` + productColumns

	product, err := scanProduct(db.QueryRowContext(ctx, query, quantity, productID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, database.ErrProductNotFound
		}
		return nil, fmt.Errorf("restock product: %w", err)
	}

	return product, nil
}

// UpdatePrice applies the new price only while the row is still at version.
func UpdatePrice(ctx context.Context, db querier, productID int64, price decimal.Decimal, version int) (*models.Product, error) {
	query := `
		UPDATE products
		SET price = $1, version = version + 1, updated_at = NOW()
		WHERE id = $2 AND version = $3
		RETURNING ` + productColumns

	product, err := scanProduct(db.QueryRowContext(ctx, query, price, productID, version))
	if err == nil {
		return product, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("update price: %w", err)
	}

	var exists bool
	err = db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM products WHERE id = $1)`, productID).Scan(&exists)
	if err != nil {
		return nil, fmt.Errorf("check product exists: %w", err)
	}
	if !exists {
		return nil, database.ErrProductNotFound
	}
	return nil, database.ErrOptimisticLockFailed
}

// ListProducts pages through the catalog in id order. An empty category
// matches every product.
func ListProducts(ctx context.Context, db querier, category string, page, pageSize int) (*pagination.OffsetPage, error) {
	page, pageSize = pagination.Normalize(page, pageSize)

	var total int64
	err := db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM products WHERE ($1 = '' OR category = $1)`,
		category).Scan(&total)
	if err != nil {
		return nil, fmt.Errorf("count products: %w", err)
	}

	offset := (page - 1) * pageSize
	query := `
		SELECT ` + productColumns + `
		FROM products
		WHERE ($1 = '' OR category = $1)
		ORDER BY id
		LIMIT $2 OFFSET $3`

	rows, err := db.QueryContext(ctx, query, category, pageSize, offset)
	if err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}
	defer rows.Close()

	products := []models.Product{}
	for rows.Next() {
		product, err := scanProduct(rows)
		if err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		products = append(products, *product)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return &pagination.OffsetPage{
		Items:      products,
		Total:      total,
		Page:       page,
		PageSize:   pageSize,
		TotalPages: pagination.TotalPages(total, pageSize),
	}, nil
}

func ListCategories(ctx context.Context, db querier) ([]string, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT DISTINCT category FROM products WHERE category <> '' ORDER BY category`)
	if err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	defer rows.Close()

	categories := []string{}
	for rows.Next() {
		var category string
		if err := rows.Scan(&category); err != nil {
			return nil, fmt.Errorf("scan category: %w", err)
		}
		categories = append(categories, category)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return categories, nil
}
