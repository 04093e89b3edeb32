package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/fjod/shopfront/storefront/internal/domain"
	"golang.org/x/sync/singleflight"
)

type Service struct {
	repo    RepoInterface
	log     *slog.Logger
	timeout time.Duration
	sf      singleflight.Group
}

func NewService(repo RepoInterface, log *slog.Logger) *Service {
	return &Service{
		repo:    repo,
		log:     log,
		timeout: 5 * time.Second,
	}
}

func (s *Service) ListProducts(ctx context.Context) ([]domain.Product, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.repo.ListProducts(ctx)
}

// ListByCategory returns an empty list for a category with no products.
func (s *Service) ListByCategory(ctx context.Context, categoryID string) ([]domain.Product, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.repo.ListByCategory(ctx, categoryID)
}

func (s *Service) Search(ctx context.Context, query string) ([]domain.Product, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.repo.Search(ctx, query)
}

func (s *Service) ListCategories(ctx context.Context) ([]domain.Category, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.repo.ListCategories(ctx)
}

// GetProduct collapses concurrent lookups of the same id into one query.
func (s *Service) GetProduct(ctx context.Context, id string) (*domain.Product, error) {
	v, err, shared := s.sf.Do(id, func() (interface{}, error) {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
		defer cancel()
		return s.repo.GetProduct(ctx, id)
	})
	if shared {
		s.log.DebugContext(ctx, "product lookup shared", "product_id", id)
	}
	if errors.Is(err, ErrProductNotFound) {
		return nil, &domain.NotFoundError{Kind: "product", ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("get product %s: %w", id, err)
	}

	p := *v.(*domain.Product)
	return &p, nil
}
