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
)

const orderColumns = `id, client_name, client_email, client_phone, status, total_amount, created_at`

func scanOrder(row rowScanner) (*models.Order, error) {
	order := &models.Order{}
	err := row.Scan(
		&order.ID,
		&order.ClientName,
		&order.ClientEmail,
		&order.ClientPhone,
		&order.Status,
		&order.TotalAmount,
		&order.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return order, nil
}

// AppendOrder inserts the order and its items within tx. It fills in the
// generated ids and the stored created_at.
func AppendOrder(ctx context.Context, tx *sql.Tx, order *models.Order, items []models.OrderItem) (int64, error) {
	err := tx.QueryRowContext(ctx,
		`INSERT INTO orders (client_name, client_email, client_phone, status, total_amount, created_at)
		 VALUES ($1, $2, $3, $4, $5, COALESCE($6, NOW()))
		 RETURNING id, created_at`,
		order.ClientName, order.ClientEmail, order.ClientPhone, order.Status, order.TotalAmount,
		nullTime(order),
	).Scan(&order.ID, &order.CreatedAt)
	if err != nil {
		return 0, fmt.Errorf("create order: %w", err)
	}

	for i := range items {
		items[i].OrderID = order.ID
		err := tx.QueryRowContext(ctx,
			`INSERT INTO order_items (order_id, product_id, quantity, unit_price, subtotal)
			 VALUES ($1, $2, $3, $4, $5)
			 RETURNING id`,
			order.ID, items[i].ProductID, items[i].Quantity, items[i].UnitPrice, items[i].Subtotal,
		).Scan(&items[i].ID)
		if err != nil {
			return 0, fmt.Errorf("create order item: %w", err)
		}
	}
	order.Items = items

	return order.ID, nil
}

func nullTime(order *models.Order) sql.NullTime {
	return sql.NullTime{Time: order.CreatedAt, Valid: !order.CreatedAt.IsZero()}
}

func GetOrder(ctx context.Context, db querier, id int64) (*models.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`

	order, err := scanOrder(db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, database.ErrOrderNotFound
		}
		return nil, fmt.Errorf("get order: %w", err)
	}

	items, err := loadItems(ctx, db, []int64{order.ID})
	if err != nil {
		return nil, err
	}
	order.Items = items[order.ID]

	return order, nil
}

// ListOrders returns every order with its items, most recent first.
func ListOrders(ctx context.Context, db querier) ([]models.Order, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT `+orderColumns+` FROM orders ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}

	orders, err := collectOrders(rows)
	if err != nil {
		return nil, err
	}

	if err := attachItems(ctx, db, orders); err != nil {
		return nil, err
	}

	return orders, nil
}

func ListOrdersCursor(ctx context.Context, db querier, cursor string, limit int) (*pagination.CursorPage, error) {
	cursorData, err := pagination.DecodeCursor(cursor)
	if err != nil {
		return nil, fmt.Errorf("decode cursor: %w", err)
	}

	query := `
		SELECT ` + orderColumns + `
		FROM orders
		WHERE (created_at, id) < ($1, $2)
		ORDER BY created_at DESC, id DESC
		LIMIT $3`

	rows, err := db.QueryContext(ctx, query, cursorData.CreatedAt, cursorData.ID, limit+1)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}

	orders, err := collectOrders(rows)
	if err != nil {
		return nil, err
	}

	hasMore := len(orders) > limit
	if hasMore {
		orders = orders[:limit]
	}

	if err := attachItems(ctx, db, orders); err != nil {
		return nil, err
	}

	var nextCursor string
	if hasMore && len(orders) > 0 {
		lastOrder := orders[len(orders)-1]
		nextCursor = pagination.EncodeCursor(pagination.OrderCursor{
			CreatedAt: lastOrder.CreatedAt,
			ID:        lastOrder.ID,
		})
	}

	return &pagination.CursorPage{
		Items:      orders,
		NextCursor: nextCursor,
		HasMore:    hasMore,
	}, nil
}

func collectOrders(rows *sql.Rows) ([]models.Order, error) {
	defer rows.Close()

	orders := []models.Order{}
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		orders = append(orders, *order)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return orders, nil
}

func attachItems(ctx context.Context, db querier, orders []models.Order) error {
	if len(orders) == 0 {
		return nil
	}

	ids := make([]int64, len(orders))
	for i := range orders {
		ids[i] = orders[i].ID
	}

	items, err := loadItems(ctx, db, ids)
	if err != nil {
		return err
	}
	for i := range orders {
		orders[i].Items = items[orders[i].ID]
	}

	return nil
}

// loadItems fetches the items of the given orders, keyed by order id. Product
// names come from the current catalog; prices are the ones frozen on the item.
func loadItems(ctx context.Context, db querier, orderIDs []int64) (map[int64][]models.OrderItem, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT oi.id, oi.order_id, oi.product_id, p.name, oi.quantity, oi.unit_price, oi.subtotal
		 FROM order_items oi
		 JOIN products p ON p.id = oi.product_id
		 WHERE oi.order_id = ANY($1)
		 ORDER BY oi.order_id, oi.id`,
		pq.Array(orderIDs))
	if err != nil {
		return nil, fmt.Errorf("get order items: %w", err)
	}
	defer rows.Close()

	items := make(map[int64][]models.OrderItem, len(orderIDs))
	for rows.Next() {
		var item models.OrderItem
		err := rows.Scan(
			&item.ID,
			&item.OrderID,
			&item.ProductID,
			&item.ProductName,
			&item.Quantity,
			&item.UnitPrice,
			&item.Subtotal,
		)
		if err != nil {
			return nil, fmt.Errorf("scan order item: %w", err)
		}
		items[item.OrderID] = append(items[item.OrderID], item)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return items, nil
}
