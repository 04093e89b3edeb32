// Package session holds the signed-in identity and the cart bound to it.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/fjod/shopfront/storefront/internal/cart"
	"github.com/fjod/shopfront/storefront/internal/domain"
	"github.com/fjod/shopfront/storefront/internal/storage"
)

var ErrNotSignedIn = errors.New("not signed in")

type IdentityStore interface {
	LoadIdentity(ctx context.Context) (*domain.Identity, error)
	SaveIdentity(ctx context.Context, id *domain.Identity) error
	DeleteIdentity(ctx context.Context) error
}

// Manager owns the process-wide session state. At most one identity is
// signed in at a time and the cart store always belongs to that identity.
type Manager struct {
	identities IdentityStore
	snapshots  cart.SnapshotStore
	log        *slog.Logger

	mu       sync.Mutex
	identity *domain.Identity
	cart     *cart.Store
}

func NewManager(identities IdentityStore, snapshots cart.SnapshotStore, log *slog.Logger) *Manager {
	return &Manager{identities: identities, snapshots: snapshots, log: log}
}

// Login caches the identity locally and opens that user's cart. Signing in
// as a different user first closes the previous user's cart.
func (m *Manager) Login(ctx context.Context, id domain.Identity) (*cart.Store, error) {
	id.UserID = strings.TrimSpace(id.UserID)
	id.Email = strings.TrimSpace(id.Email)
	if id.UserID == "" || id.Email == "" {
		var fields []string
		if id.UserID == "" {
			fields = append(fields, "userId")
		}
		if id.Email == "" {
			fields = append(fields, "email")
		}
		return nil, &domain.ValidationError{Fields: fields, Message: "incomplete identity"}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.identity != nil && m.identity.UserID == id.UserID {
		m.identity = &id
		if err := m.identities.SaveIdentity(ctx, &id); err != nil {
			return nil, fmt.Errorf("cache identity: %w", err)
		}
		return m.cart, nil
	}

	if err := m.identities.SaveIdentity(ctx, &id); err != nil {
		return nil, fmt.Errorf("cache identity: %w", err)
	}
	m.closeCartLocked()

	m.identity = &id
	m.cart = cart.Open(ctx, id.UserID, m.snapshots, m.log)
	m.log.InfoContext(ctx, "signed in", "user_id", id.UserID)
	return m.cart, nil
}

// Restore resumes the cached session, if any.
func (m *Manager) Restore(ctx context.Context) (domain.Identity, *cart.Store, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.identity != nil {
		return *m.identity, m.cart, nil
	}

	id, err := m.identities.LoadIdentity(ctx)
	if errors.Is(err, storage.ErrIdentityNotFound) {
		return domain.Identity{}, nil, ErrNotSignedIn
	}
	if err != nil {
		return domain.Identity{}, nil, fmt.Errorf("restore session: %w", err)
	}

	m.identity = id
	m.cart = cart.Open(ctx, id.UserID, m.snapshots, m.log)
	return *id, m.cart, nil
}

// Logout clears the cart, removes its snapshot and forgets the cached identity.
func (m *Manager) Logout(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.identity == nil {
		id, err := m.identities.LoadIdentity(ctx)
		if errors.Is(err, storage.ErrIdentityNotFound) {
			return ErrNotSignedIn
		}
		if err != nil {
			return fmt.Errorf("load identity: %w", err)
		}
		m.identity = id
		m.cart = cart.Open(ctx, id.UserID, m.snapshots, m.log)
	}

	userID := m.identity.UserID
	m.cart.Reset()
	m.closeCartLocked()
	m.identity = nil

	if err := m.identities.DeleteIdentity(ctx); err != nil {
		return fmt.Errorf("clear identity: %w", err)
	}
	m.log.InfoContext(ctx, "signed out", "user_id", userID)
	return nil
}

// Close flushes the current cart without signing out. The cached identity
// stays in the store and a later Restore resumes it.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closeCartLocked()
	m.identity = nil
}

func (m *Manager) closeCartLocked() {
	if m.cart != nil {
		m.cart.Close()
		m.cart = nil
	}
}
