package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/fjod/shopfront/pkg/logger"
	"github.com/fjod/shopfront/storefront/internal/cart"
	"github.com/fjod/shopfront/storefront/internal/domain"
	"github.com/fjod/shopfront/storefront/internal/storage"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openStore(t *testing.T) *storage.BadgerStore {
	t.Helper()
	store, err := storage.OpenBadger(storage.BadgerConfig{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

var jane = domain.Identity{UserID: "jane", Email: "jane@example.com", DisplayName: "Jane"}

func mug() domain.CartItem {
	return domain.CartItem{ProductID: "1", Name: "Mug", UnitPrice: decimal.RequireFromString("10"), Quantity: 2}
}

func TestLogin_CachesIdentityAndOpensCart(t *testing.T) {
	store := openStore(t)
	m := NewManager(store, store, logger.Nop())
	defer m.Close()
	ctx := context.Background()

	c, err := m.Login(ctx, jane)
	require.NoError(t, err)
	assert.Equal(t, "jane", c.UserID())

	cached, err := store.LoadIdentity(ctx)
	require.NoError(t, err)
	assert.Equal(t, jane, *cached)
}

func TestLogin_RequiresUserAndEmail(t *testing.T) {
	store := openStore(t)
	m := NewManager(store, store, logger.Nop())

	_, err := m.Login(context.Background(), domain.Identity{UserID: " "})
	var verr *domain.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, []string{"userId", "email"}, verr.Fields)

	_, err = store.LoadIdentity(context.Background())
	assert.ErrorIs(t, err, storage.ErrIdentityNotFound)
}

func TestRestore_ResumesCartAcrossManagers(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	first := NewManager(store, store, logger.Nop())
	c, err := first.Login(ctx, jane)
	require.NoError(t, err)
	c.AddItem(mug())
	first.Close()

	second := NewManager(store, store, logger.Nop())
	defer second.Close()
	id, restored, err := second.Restore(ctx)
	require.NoError(t, err)
	assert.Equal(t, "jane", id.UserID)
	require.Len(t, restored.Items(), 1)
	assert.Equal(t, 2, restored.ItemCount())
}

func TestRestore_NotSignedIn(t *testing.T) {
	store := openStore(t)
	m := NewManager(store, store, logger.Nop())

	_, _, err := m.Restore(context.Background())
	assert.ErrorIs(t, err, ErrNotSignedIn)
	assert.ErrorIs(t, m.Logout(context.Background()), ErrNotSignedIn)
}

func TestLogout_ClearsCartAndIdentity(t *testing.T) {
	store := openStore(t)
	m := NewManager(store, store, logger.Nop())
	ctx := context.Background()

	c, err := m.Login(ctx, jane)
	require.NoError(t, err)
	c.AddItem(mug())

	var last domain.Cart
	c.Subscribe(func(snap domain.Cart) { last = snap })

	require.NoError(t, m.Logout(ctx))
	assert.Empty(t, last.Items)

	_, err = store.LoadIdentity(ctx)
	assert.ErrorIs(t, err, storage.ErrIdentityNotFound)
	_, err = store.Load(ctx, "jane")
	assert.ErrorIs(t, err, cart.ErrSnapshotNotFound)

	_, _, err = m.Restore(ctx)
	assert.ErrorIs(t, err, ErrNotSignedIn)
}

func TestLogout_FromFreshProcess(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	first := NewManager(store, store, logger.Nop())
	c, err := first.Login(ctx, jane)
	require.NoError(t, err)
	c.AddItem(mug())
	first.Close()

	second := NewManager(store, store, logger.Nop())
	require.NoError(t, second.Logout(ctx))

	_, err = store.Load(ctx, "jane")
	assert.ErrorIs(t, err, cart.ErrSnapshotNotFound)
}

func TestLogin_SwitchUserKeepsCartsSeparate(t *testing.T) {
	store := openStore(t)
	m := NewManager(store, store, logger.Nop())
	defer m.Close()
	ctx := context.Background()

	c, err := m.Login(ctx, jane)
	require.NoError(t, err)
	c.AddItem(mug())

	other, err := m.Login(ctx, domain.Identity{UserID: "joe", Email: "joe@example.com"})
	require.NoError(t, err)
	assert.Equal(t, "joe", other.UserID())
	assert.Empty(t, other.Items())

	saved, err := store.Load(ctx, "jane")
	require.NoError(t, err)
	assert.Len(t, saved.Items, 1)
}

func TestLogin_SameUserKeepsCart(t *testing.T) {
	store := openStore(t)
	m := NewManager(store, store, logger.Nop())
	defer m.Close()
	ctx := context.Background()

	c, err := m.Login(ctx, jane)
	require.NoError(t, err)
	c.AddItem(mug())

	again, err := m.Login(ctx, jane)
	require.NoError(t, err)
	assert.Same(t, c, again)
	assert.Len(t, again.Items(), 1)
}

type failingIdentities struct{ err error }

func (f failingIdentities) LoadIdentity(context.Context) (*domain.Identity, error) { return nil, f.err }
func (f failingIdentities) SaveIdentity(context.Context, *domain.Identity) error  { return f.err }
func (f failingIdentities) DeleteIdentity(context.Context) error                  { return f.err }

func TestLogin_IdentityStoreFailure(t *testing.T) {
	store := openStore(t)
	boom := errors.New("disk full")
	m := NewManager(failingIdentities{err: boom}, store, logger.Nop())

	_, err := m.Login(context.Background(), jane)
	assert.ErrorIs(t, err, boom)

	_, _, err = m.Restore(context.Background())
	assert.ErrorIs(t, err, boom)
}

func TestClose_FlushesPendingWrite(t *testing.T) {
	store := openStore(t)
	m := NewManager(store, store, logger.Nop())
	ctx := context.Background()

	c, err := m.Login(ctx, jane)
	require.NoError(t, err)
	c.AddItem(mug())
	m.Close()

	require.Eventually(t, func() bool {
		saved, err := store.Load(ctx, "jane")
		return err == nil && len(saved.Items) == 1
	}, time.Second, 10*time.Millisecond)
}
