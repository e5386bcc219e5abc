package models

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

type Product struct {
	ID            int64           `json:"id"`
	Name          string          `json:"name"`
	Description   string          `json:"description,omitempty"`
	Category      string          `json:"category"`
	Price         decimal.Decimal `json:"price"`
	StockQuantity int             `json:"inStock"`
	CreatedAt     time.Time       `json:"createdAt"`
	UpdatedAt     time.Time       `json:"updatedAt"`
	Version       int             `json:"version"`
}

type NewProduct struct {
	Name          string
	Description   string
	Category      string
	Price         decimal.Decimal
	StockQuantity int
}

type Order struct {
	ID          int64           `json:"id"`
	ClientName  string          `json:"clientName"`
	ClientEmail string          `json:"clientEmail"`
	ClientPhone string          `json:"clientPhone,omitempty"`
	Status      string          `json:"status"`
	TotalAmount decimal.Decimal `json:"totalAmount"`
	CreatedAt   time.Time       `json:"createdAt"`
	Items       []OrderItem     `json:"items,omitempty"`
}

// OrderItem.UnitPrice is the product price captured when the order was
// committed. It is never recomputed from the catalog.
type OrderItem struct {
	ID          int64           `json:"id"`
	OrderID     int64           `json:"orderId"`
	ProductID   int64           `json:"productId"`
	ProductName string          `json:"productName,omitempty"`
	Quantity    int             `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"price"`
	Subtotal    decimal.Decimal `json:"subtotal"`
}

type OrderRequest struct {
	ClientName  string
	ClientEmail string
	ClientPhone string
	Items       []LineItem
}

type LineItem struct {
	ProductID int64
	Quantity  int
}

type OrderConfirmation struct {
	OrderID     int64           `json:"orderId"`
	TotalAmount decimal.Decimal `json:"totalAmount"`
}

// IdempotencyRecord ties a confirmation to the request that produced it.
type IdempotencyRecord struct {
	RequestHash  string            `json:"requestHash"`
	Confirmation OrderConfirmation `json:"confirmation"`
}

const (
	OrderStatusPending   = "pending"
	OrderStatusConfirmed = "confirmed"
	OrderStatusShipped   = "shipped"
	OrderStatusDelivered = "delivered"
	OrderStatusCancelled = "cancelled"
)

type OutboxEvent struct {
	ID            int64           `json:"id"`
	EventID       string          `json:"eventId"`
	AggregateType string          `json:"aggregateType"`
	AggregateID   int64           `json:"aggregateId"`
	EventType     string          `json:"eventType"`
	Payload       json.RawMessage `json:"payload"`
	Status        string          `json:"status"`
	CreatedAt     time.Time       `json:"createdAt"`
	PublishedAt   *time.Time      `json:"publishedAt,omitempty"`
}

const (
	OutboxStatusPending   = "pending"
	OutboxStatusPublished = "published"
)

const (
	AggregateOrder        = "order"
	EventTypeOrderCreated = "order.created"
)

type OrderCreatedEvent struct {
	EventID     string             `json:"eventId"`
	OrderID     int64              `json:"orderId"`
	ClientEmail string             `json:"clientEmail"`
	TotalAmount decimal.Decimal    `json:"totalAmount"`
	Items       []OrderCreatedItem `json:"items"`
	OccurredAt  time.Time          `json:"occurredAt"`
}

type OrderCreatedItem struct {
	ProductID int64           `json:"productId"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unitPrice"`
}
