package orders

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/fjod/shopfront/storefront/internal/domain"
	"github.com/fjod/shopfront/storefront/internal/relay"
	"github.com/fjod/shopfront/storefront/internal/repository"
)

var (
	ErrForbidden         = errors.New("not allowed to access this order")
	ErrInvalidTransition = errors.New("invalid order status transition")
	ErrRefundFailed      = errors.New("refund failed")
)

type Refunder interface {
	Refund(ctx context.Context, paymentIntentRef string) (*relay.Refund, error)
}

type Service struct {
	repo    repository.OrderRepository
	refunds Refunder
	events  EventPublisher
	log     *slog.Logger
	timeout time.Duration
}

func NewService(repo repository.OrderRepository, refunds Refunder, events EventPublisher, log *slog.Logger) *Service {
	return &Service{
		repo:    repo,
		refunds: refunds,
		events:  events,
		log:     log,
		timeout: 5 * time.Second,
	}
}

// GetOrder returns an order visible to the actor: its owner or an admin.
func (s *Service) GetOrder(ctx context.Context, actor domain.Identity, id string) (*domain.Order, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	order, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if !actor.Admin && order.UserID != actor.UserID {
		// Hide other users' orders behind the same error as a miss.
		return nil, &domain.NotFoundError{Kind: "order", ID: id}
	}
	return order, nil
}

// ListOrders returns the actor's orders, newest first.
func (s *Service) ListOrders(ctx context.Context, actor domain.Identity) ([]*domain.Order, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	orders, err := s.repo.ListOrdersByUserID(ctx, actor.UserID)
	if err != nil {
		return nil, &domain.NetworkError{Op: "list orders", Err: err}
	}
	return orders, nil
}

func (s *Service) ListAllOrders(ctx context.Context, actor domain.Identity) ([]*domain.Order, error) {
	if !actor.Admin {
		return nil, ErrForbidden
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	orders, err := s.repo.ListOrders(ctx)
	if err != nil {
		return nil, &domain.NetworkError{Op: "list all orders", Err: err}
	}
	return orders, nil
}

// CancelOrder cancels an order that has not been delivered. With refund set
// the payment is refunded after the status change; a failed refund leaves the
// order cancelled and returns it together with an ErrRefundFailed error.
func (s *Service) CancelOrder(ctx context.Context, actor domain.Identity, id string, refund bool) (*domain.Order, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	order, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if !actor.Admin && order.UserID != actor.UserID {
		return nil, ErrForbidden
	}

	updated, err := s.transition(ctx, order, domain.OrderStatusCancelled)
	if err != nil {
		return nil, err
	}

	if !refund || s.refunds == nil {
		return updated, nil
	}
	res, err := s.refunds.Refund(ctx, order.PaymentIntentRef)
	if err != nil {
		s.log.ErrorContext(ctx, "refund failed", "order_id", id, "error", err)
		return updated, fmt.Errorf("%w: %w", ErrRefundFailed, err)
	}
	s.log.InfoContext(ctx, "order refunded", "order_id", id, "refund_id", res.ID, "status", res.Status)
	return updated, nil
}

// SetStatus moves an order along its lifecycle. Admin only.
func (s *Service) SetStatus(ctx context.Context, actor domain.Identity, id string, to domain.OrderStatus) (*domain.Order, error) {
	if !actor.Admin {
		return nil, ErrForbidden
	}
	if !to.Valid() {
		return nil, &domain.ValidationError{Fields: []string{"status"}, Message: fmt.Sprintf("unknown status %q", to)}
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	order, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.transition(ctx, order, to)
}

func (s *Service) transition(ctx context.Context, order *domain.Order, to domain.OrderStatus) (*domain.Order, error) {
	from := order.Status
	if !domain.CanTransitionTo(from, to) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}

	if err := s.repo.UpdateStatus(ctx, order.ID, from, to); err != nil {
		switch {
		case errors.Is(err, repository.ErrStatusConflict):
			return nil, fmt.Errorf("%w: order %s changed concurrently", ErrInvalidTransition, order.ID)
		case errors.Is(err, repository.ErrOrderNotFound):
			return nil, &domain.NotFoundError{Kind: "order", ID: order.ID}
		default:
			return nil, &domain.NetworkError{Op: "update order status", Err: err}
		}
	}

	updated := *order
	updated.Status = to
	updated.UpdatedAt = time.Now().UTC()
	s.log.InfoContext(ctx, "order status changed", "order_id", order.ID, "from", from, "to", to)

	if s.events != nil {
		if err := s.events.Publish(ctx, domain.NewOrderEvent(domain.OrderStatusChanged, &updated)); err != nil {
			s.log.WarnContext(ctx, "failed to publish order event", "order_id", order.ID, "error", err)
		}
	}
	return &updated, nil
}

func (s *Service) load(ctx context.Context, id string) (*domain.Order, error) {
	order, err := s.repo.GetOrderByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrOrderNotFound) {
			return nil, &domain.NotFoundError{Kind: "order", ID: id}
		}
		return nil, &domain.NetworkError{Op: "get order", Err: err}
	}
	return order, nil
}
