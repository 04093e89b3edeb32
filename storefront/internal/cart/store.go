package cart

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/fjod/shopfront/storefront/internal/domain"
	"github.com/shopspring/decimal"
)

var ErrSnapshotNotFound = errors.New("cart snapshot not found")

// SnapshotStore persists the full cart of one user.
type SnapshotStore interface {
	Load(ctx context.Context, userID string) (*domain.Cart, error)
	Save(ctx context.Context, cart *domain.Cart) error
	Delete(ctx context.Context, userID string) error
}

type writeOp struct {
	cart   domain.Cart
	delete bool
}

// Store is the in-memory cart of one signed-in user. The in-memory state is
// authoritative: every mutation schedules an asynchronous write of the full
// snapshot, and a failed write is logged without affecting the session.
type Store struct {
	mu     sync.RWMutex
	userID string
	items  []domain.CartItem
	closed bool

	// notifyMu is taken before mu and held until subscribers return, so
	// snapshots are delivered in the order the mutations were applied.
	notifyMu sync.Mutex
	subsMu   sync.Mutex
	subs     map[int]func(domain.Cart)
	nextSub int

	snapshots   SnapshotStore
	log         *slog.Logger
	saveTimeout time.Duration
	writes      chan writeOp
	wg          sync.WaitGroup
}

// Open restores the user's cart from the snapshot store and starts the
// background writer. A missing or unreadable snapshot yields an empty cart.
func Open(ctx context.Context, userID string, snapshots SnapshotStore, log *slog.Logger) *Store {
	s := &Store{
		userID:      userID,
		subs:        make(map[int]func(domain.Cart)),
		snapshots:   snapshots,
		log:         log.With("user_id", userID),
		saveTimeout: 5 * time.Second,
		writes:      make(chan writeOp, 1),
	}

	saved, err := snapshots.Load(ctx, userID)
	switch {
	case err == nil:
		s.items = sanitize(saved.Items)
	case errors.Is(err, ErrSnapshotNotFound):
	default:
		s.log.WarnContext(ctx, "cart restore failed, starting empty", "error", err)
	}

	s.wg.Add(1)
	go s.writeLoop()
	return s
}

func (s *Store) UserID() string {
	return s.userID
}

// AddItem appends the line item, or increments the quantity when the product
// is already in the cart. A quantity below one is treated as one.
func (s *Store) AddItem(item domain.CartItem) {
	if item.Quantity < 1 {
		item.Quantity = 1
	}
	s.mutate(func(items []domain.CartItem) []domain.CartItem {
		if i := indexOf(items, item.ProductID); i >= 0 {
			items[i].Quantity += item.Quantity
			return items
		}
		return append(items, item)
	})
}

func (s *Store) AddProduct(p domain.Product, qty int) {
	s.AddItem(p.AsCartItem(qty))
}

// RemoveItem deletes the line item; unknown products are ignored.
func (s *Store) RemoveItem(productID string) {
	s.mutate(func(items []domain.CartItem) []domain.CartItem {
		if i := indexOf(items, productID); i >= 0 {
			return append(items[:i], items[i+1:]...)
		}
		return items
	})
}

// SetQuantity overwrites the quantity; qty <= 0 removes the item.
func (s *Store) SetQuantity(productID string, qty int) {
	if qty <= 0 {
		s.RemoveItem(productID)
		return
	}
	s.mutate(func(items []domain.CartItem) []domain.CartItem {
		if i := indexOf(items, productID); i >= 0 {
			items[i].Quantity = qty
		}
		return items
	})
}

func (s *Store) Clear() {
	s.mutate(func([]domain.CartItem) []domain.CartItem {
		return nil
	})
}

// Reset clears the cart and removes its persisted snapshot. Used on logout.
func (s *Store) Reset() {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()

	s.mu.Lock()
	s.items = nil
	snap := s.snapshotLocked()
	s.schedule(writeOp{cart: snap, delete: true})
	s.mu.Unlock()

	s.notify(snap)
}

func (s *Store) Items() []domain.CartItem {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return copyItems(s.items)
}

func (s *Store) Snapshot() domain.Cart {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked()
}

// Total is recomputed from the items on every call.
func (s *Store) Total() decimal.Decimal {
	return s.Snapshot().Subtotal()
}

func (s *Store) ItemCount() int {
	return s.Snapshot().ItemCount()
}

// Subscribe registers fn to receive the cart after every mutation, in
// mutation order. fn may read the cart but must not modify it. The returned
// function removes the subscription.
func (s *Store) Subscribe(fn func(domain.Cart)) func() {
	s.subsMu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	s.subsMu.Unlock()

	return func() {
		s.subsMu.Lock()
		delete(s.subs, id)
		s.subsMu.Unlock()
	}
}

// Close flushes the pending snapshot write and stops the writer. Mutations
// after Close only change the in-memory cart.
func (s *Store) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	close(s.writes)
	s.mu.Unlock()

	s.wg.Wait()
}

func (s *Store) mutate(fn func([]domain.CartItem) []domain.CartItem) {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()

	s.mu.Lock()
	s.items = fn(s.items)
	snap := s.snapshotLocked()
	s.schedule(writeOp{cart: snap})
	s.mu.Unlock()

	s.notify(snap)
}

// schedule replaces any write still queued with op. Callers hold s.mu, so
// there is a single producer and the send never blocks.
func (s *Store) schedule(op writeOp) {
	if s.closed {
		return
	}
	select {
	case <-s.writes:
	default:
	}
	s.writes <- op
}

func (s *Store) writeLoop() {
	defer s.wg.Done()
	for op := range s.writes {
		ctx, cancel := context.WithTimeout(context.Background(), s.saveTimeout)
		var err error
		if op.delete {
			err = s.snapshots.Delete(ctx, s.userID)
		} else {
			err = s.snapshots.Save(ctx, &op.cart)
		}
		cancel()
		if err != nil {
			s.log.Warn("cart snapshot write failed", "error", err, "delete", op.delete)
		}
	}
}

func (s *Store) notify(snap domain.Cart) {
	s.subsMu.Lock()
	subs := make([]func(domain.Cart), 0, len(s.subs))
	for _, fn := range s.subs {
		subs = append(subs, fn)
	}
	s.subsMu.Unlock()

	for _, fn := range subs {
		fn(snap)
	}
}

func (s *Store) snapshotLocked() domain.Cart {
	return domain.Cart{
		UserID:    s.userID,
		Items:     copyItems(s.items),
		UpdatedAt: time.Now().UTC(),
	}
}

func indexOf(items []domain.CartItem, productID string) int {
	for i := range items {
		if items[i].ProductID == productID {
			return i
		}
	}
	return -1
}

func copyItems(items []domain.CartItem) []domain.CartItem {
	if len(items) == 0 {
		return []domain.CartItem{}
	}
	out := make([]domain.CartItem, len(items))
	copy(out, items)
	return out
}

// sanitize drops zero-quantity lines and merges duplicate products from a
// restored snapshot.
func sanitize(items []domain.CartItem) []domain.CartItem {
	var out []domain.CartItem
	for _, item := range items {
		if item.Quantity < 1 {
			continue
		}
		if i := indexOf(out, item.ProductID); i >= 0 {
			out[i].Quantity += item.Quantity
			continue
		}
		out = append(out, item)
	}
	return out
}
