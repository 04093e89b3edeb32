package catalog

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fjod/shopfront/pkg/logger"
	"github.com/fjod/shopfront/storefront/internal/domain"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupRepo(t *testing.T) *Repository {
	t.Helper()
	repo, err := NewRepository(filepath.Join(t.TempDir(), "catalog.db"))
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })
	require.NoError(t, repo.RunMigrations(""))
	return repo
}

func TestRepository_ListProducts(t *testing.T) {
	repo := setupRepo(t)

	products, err := repo.ListProducts(context.Background())
	require.NoError(t, err)
	require.Len(t, products, 12)
	assert.Equal(t, "1", products[0].ID)
	assert.Equal(t, "12", products[11].ID)
	assert.True(t, decimal.RequireFromString("299.99").Equal(products[0].Price))
	assert.Equal(t, "electronics", products[0].CategoryID)
	assert.True(t, products[0].InStock)
	assert.True(t, products[0].Featured)
	assert.False(t, products[0].CreatedAt.IsZero())
}

func TestRepository_MigrationsAreIdempotent(t *testing.T) {
	repo := setupRepo(t)
	require.NoError(t, repo.RunMigrations(""))
}

func TestRepository_ListByCategory(t *testing.T) {
	repo := setupRepo(t)

	products, err := repo.ListByCategory(context.Background(), "kitchen")
	require.NoError(t, err)
	require.Len(t, products, 2)
	assert.Equal(t, "Premium Coffee Maker", products[0].Name)
	assert.Equal(t, "Professional Blender", products[1].Name)

	empty, err := repo.ListByCategory(context.Background(), "garden")
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestRepository_Search(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()

	byName, err := repo.Search(ctx, "WIRELESS")
	require.NoError(t, err)
	require.Len(t, byName, 2)
	assert.Equal(t, "1", byName[0].ID)
	assert.Equal(t, "9", byName[1].ID)

	byCategory, err := repo.Search(ctx, "smart home")
	require.NoError(t, err)
	ids := make([]string, len(byCategory))
	for i, p := range byCategory {
		ids[i] = p.ID
	}
	assert.Contains(t, ids, "8")
	assert.Contains(t, ids, "12")

	none, err := repo.Search(ctx, "100%")
	require.NoError(t, err)
	assert.Empty(t, none)

	all, err := repo.Search(ctx, "   ")
	require.NoError(t, err)
	assert.Len(t, all, 12)
}

func TestRepository_GetProduct(t *testing.T) {
	repo := setupRepo(t)

	p, err := repo.GetProduct(context.Background(), "4")
	require.NoError(t, err)
	assert.Equal(t, "Professional Camera Kit", p.Name)

	_, err = repo.GetProduct(context.Background(), "404")
	assert.ErrorIs(t, err, ErrProductNotFound)
}

func TestRepository_ListCategories(t *testing.T) {
	repo := setupRepo(t)

	categories, err := repo.ListCategories(context.Background())
	require.NoError(t, err)
	require.Len(t, categories, 7)
	assert.Equal(t, "Electronics", categories[0].Name)
}

type slowRepo struct {
	RepoInterface
	calls   atomic.Int32
	release chan struct{}
	err     error
}

func (r *slowRepo) GetProduct(_ context.Context, id string) (*domain.Product, error) {
	r.calls.Add(1)
	<-r.release
	if r.err != nil {
		return nil, r.err
	}
	return &domain.Product{ID: id, Name: "Mug", Price: decimal.NewFromInt(10)}, nil
}

func TestService_GetProductCollapsesConcurrentLookups(t *testing.T) {
	repo := &slowRepo{release: make(chan struct{})}
	svc := NewService(repo, logger.Nop())

	var wg sync.WaitGroup
	results := make([]*domain.Product, 5)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			p, err := svc.GetProduct(context.Background(), "7")
			assert.NoError(t, err)
			results[i] = p
		}(i)
	}

	// Give every goroutine a chance to join the in-flight call.
	time.Sleep(50 * time.Millisecond)
	close(repo.release)
	wg.Wait()

	assert.LessOrEqual(t, repo.calls.Load(), int32(5))
	for _, p := range results {
		require.NotNil(t, p)
		assert.Equal(t, "7", p.ID)
	}
	results[0].Name = "changed"
	assert.Equal(t, "Mug", results[1].Name)
}

func TestService_GetProductNotFound(t *testing.T) {
	repo := &slowRepo{release: make(chan struct{}), err: ErrProductNotFound}
	close(repo.release)
	svc := NewService(repo, logger.Nop())

	_, err := svc.GetProduct(context.Background(), "missing")

	var nf *domain.NotFoundError
	require.True(t, errors.As(err, &nf))
	assert.Equal(t, "product", nf.Kind)
	assert.Equal(t, "missing", nf.ID)
}

func TestService_ListByCategory(t *testing.T) {
	svc := NewService(setupRepo(t), logger.Nop())

	products, err := svc.ListByCategory(context.Background(), "fashion")
	require.NoError(t, err)
	assert.Len(t, products, 2)
}
