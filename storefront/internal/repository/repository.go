// Package repository is the backing document store for orders.
package repository

import (
	"context"
	"errors"

	"github.com/fjod/shopfront/storefront/internal/domain"
)

var (
	ErrOrderNotFound  = errors.New("order not found")
	ErrDuplicateOrder = errors.New("order for this idempotency key already exists")
	// ErrStatusConflict means the order's status changed since it was read.
	ErrStatusConflict = errors.New("order status changed concurrently")
)

type Credentials struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	// Empty uses the migrations compiled into the binary.
	MigrationsDirPath string
}

// OrderRepository stores orders. Implementations enforce a unique
// idempotency key and return ErrDuplicateOrder when it is violated.
type OrderRepository interface {
	CreateOrder(ctx context.Context, order *domain.Order) error
	GetOrderByID(ctx context.Context, id string) (*domain.Order, error)
	GetOrderByIdempotencyKey(ctx context.Context, key string) (*domain.Order, error)
	// Newest first.
	ListOrdersByUserID(ctx context.Context, userID string) ([]*domain.Order, error)
	ListOrders(ctx context.Context) ([]*domain.Order, error)
	// UpdateStatus moves the order from one status to another only if it is
	// still in the from status.
	UpdateStatus(ctx context.Context, id string, from, to domain.OrderStatus) error
	Close() error
}
