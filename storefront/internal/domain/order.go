package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type OrderStatus string

const (
	OrderStatusProcessing OrderStatus = "Processing"
	OrderStatusShipped    OrderStatus = "Shipped"
	OrderStatusDelivered  OrderStatus = "Delivered"
	OrderStatusCancelled  OrderStatus = "Cancelled"
)

var orderTransitions = map[OrderStatus][]OrderStatus{
	OrderStatusProcessing: {OrderStatusShipped, OrderStatusCancelled},
	OrderStatusShipped:    {OrderStatusDelivered, OrderStatusCancelled},
}

func (s OrderStatus) IsTerminal() bool {
	return s == OrderStatusDelivered || s == OrderStatusCancelled
}

func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusProcessing, OrderStatusShipped, OrderStatusDelivered, OrderStatusCancelled:
		return true
	}
	return false
}

func (s OrderStatus) String() string {
	return string(s)
}

// CanTransitionTo reports whether an order may move from one status to the next.
func CanTransitionTo(from, to OrderStatus) bool {
	for _, allowed := range orderTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

type OrderItem struct {
	ProductID string          `json:"productId"`
	Name      string          `json:"name"`
	Price     decimal.Decimal `json:"price"`
	Quantity  int             `json:"quantity"`
	Image     string          `json:"image,omitempty"`
}

// Order items and shipping address are fixed at creation; only Status and
// UpdatedAt change afterwards.
type Order struct {
	ID               string         `json:"id"`
	UserID           string         `json:"userId"`
	Status           OrderStatus    `json:"status"`
	Items            []OrderItem    `json:"items"`
	ShippingAddress  ShippingForm   `json:"shippingAddress"`
	ShippingMethod   ShippingMethod `json:"shippingMethod"`
	Totals           Totals         `json:"totals"`
	PaymentMethod    string         `json:"paymentMethod"`
	PaymentIntentRef string         `json:"paymentIntentId"`
	IdempotencyKey   string         `json:"idempotencyKey"`
	CreatedAt        time.Time      `json:"createdAt"`
	UpdatedAt        time.Time      `json:"updatedAt"`
}

// ItemsFromCart snapshots cart line items for an order.
func ItemsFromCart(items []CartItem) []OrderItem {
	out := make([]OrderItem, len(items))
	for i, item := range items {
		out[i] = OrderItem{
			ProductID: item.ProductID,
			Name:      item.Name,
			Price:     item.UnitPrice,
			Quantity:  item.Quantity,
			Image:     item.ImageRef,
		}
	}
	return out
}

type OrderEventType string

const (
	OrderPlaced        OrderEventType = "order.placed"
	OrderStatusChanged OrderEventType = "order.status_changed"
)

// OrderEvent is published after an order is written or its status changes.
type OrderEvent struct {
	Type       OrderEventType  `json:"type"`
	OrderID    string          `json:"orderId"`
	UserID     string          `json:"userId"`
	Status     OrderStatus     `json:"status"`
	Total      decimal.Decimal `json:"total"`
	OccurredAt time.Time       `json:"occurredAt"`
}

func NewOrderEvent(t OrderEventType, o *Order) OrderEvent {
	return OrderEvent{
		Type:       t,
		OrderID:    o.ID,
		UserID:     o.UserID,
		Status:     o.Status,
		Total:      o.Totals.Total,
		OccurredAt: time.Now().UTC(),
	}
}
