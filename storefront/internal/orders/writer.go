// Package orders writes completed checkouts as orders and serves order
// history and status changes.
package orders

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/fjod/shopfront/storefront/internal/domain"
	"github.com/fjod/shopfront/storefront/internal/repository"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("shopfront.orders")

var ErrOrderInProgress = errors.New("an order for this checkout is already being placed")

type CartClearer interface {
	Clear()
}

type EventPublisher interface {
	Publish(ctx context.Context, event domain.OrderEvent) error
}

type Writer struct {
	repo     repository.OrderRepository
	cart     CartClearer
	events   EventPublisher
	log      *slog.Logger
	timeout  time.Duration
	inflight sync.Map
	now      func() time.Time
}

func NewWriter(repo repository.OrderRepository, cart CartClearer, events EventPublisher, timeout time.Duration, log *slog.Logger) *Writer {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Writer{
		repo:    repo,
		cart:    cart,
		events:  events,
		log:     log,
		timeout: timeout,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// PlaceOrder persists a completed checkout and clears the cart. Calls that
// share an idempotency key produce at most one order: a concurrent duplicate
// fails with ErrOrderInProgress and a later one returns the stored order.
func (w *Writer) PlaceOrder(ctx context.Context, req domain.PlaceOrderRequest) (order *domain.Order, err error) {
	ctx, span := tracer.Start(ctx, "orders.PlaceOrder",
		trace.WithAttributes(
			attribute.String("order.user_id", req.UserID),
			attribute.String("order.idempotency_key", req.IdempotencyKey),
			attribute.Int("order.item_count", len(req.Items)),
		),
	)
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetAttributes(attribute.String("order.id", order.ID))
		}
		span.End()
	}()

	if err := validateRequest(req); err != nil {
		return nil, err
	}

	if _, busy := w.inflight.LoadOrStore(req.IdempotencyKey, struct{}{}); busy {
		return nil, ErrOrderInProgress
	}
	defer w.inflight.Delete(req.IdempotencyKey)

	ctx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	existing, err := w.repo.GetOrderByIdempotencyKey(ctx, req.IdempotencyKey)
	switch {
	case err == nil:
		w.log.InfoContext(ctx, "duplicate order request, returning existing order",
			"order_id", existing.ID, "idempotency_key", req.IdempotencyKey)
		w.cart.Clear()
		return existing, nil
	case !errors.Is(err, repository.ErrOrderNotFound):
		return nil, &domain.NetworkError{Op: "check existing order", Err: err}
	}

	now := w.now()
	order = &domain.Order{
		ID:               uuid.NewString(),
		UserID:           req.UserID,
		Status:           domain.OrderStatusProcessing,
		Items:            domain.ItemsFromCart(req.Items),
		ShippingAddress:  req.ShippingAddress.Trimmed(),
		ShippingMethod:   req.ShippingMethod,
		Totals:           req.Totals,
		PaymentMethod:    req.PaymentMethod,
		PaymentIntentRef: req.PaymentIntentRef,
		IdempotencyKey:   req.IdempotencyKey,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	if err := w.repo.CreateOrder(ctx, order); err != nil {
		if !errors.Is(err, repository.ErrDuplicateOrder) {
			return nil, &domain.NetworkError{Op: "save order", Err: err}
		}
		// Another writer stored the same checkout first.
		existing, getErr := w.repo.GetOrderByIdempotencyKey(ctx, req.IdempotencyKey)
		if getErr != nil {
			return nil, &domain.NetworkError{Op: "load duplicate order", Err: getErr}
		}
		w.cart.Clear()
		return existing, nil
	}

	w.cart.Clear()
	w.log.InfoContext(ctx, "order placed", "order_id", order.ID, "user_id", order.UserID,
		"total", order.Totals.Total.StringFixed(2))

	if w.events != nil {
		if err := w.events.Publish(ctx, domain.NewOrderEvent(domain.OrderPlaced, order)); err != nil {
			w.log.WarnContext(ctx, "failed to publish order event", "order_id", order.ID, "error", err)
		}
	}
	return order, nil
}

func validateRequest(req domain.PlaceOrderRequest) error {
	var fields []string
	if len(req.Items) == 0 {
		return &domain.ValidationError{Fields: []string{"items"}, Message: "cart is empty"}
	}
	for _, item := range req.Items {
		if item.Quantity < 1 {
			return &domain.ValidationError{Fields: []string{"items"}, Message: fmt.Sprintf("invalid quantity for product %s", item.ProductID)}
		}
	}
	if err := req.ShippingAddress.Validate(); err != nil {
		return err
	}
	if strings.TrimSpace(req.UserID) == "" {
		fields = append(fields, "userId")
	}
	if strings.TrimSpace(req.PaymentIntentRef) == "" {
		fields = append(fields, "paymentIntentId")
	}
	if strings.TrimSpace(req.IdempotencyKey) == "" {
		fields = append(fields, "idempotencyKey")
	}
	if len(fields) > 0 {
		return &domain.ValidationError{Fields: fields, Message: "incomplete checkout"}
	}
	return nil
}
