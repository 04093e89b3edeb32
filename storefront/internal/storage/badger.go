// Package storage holds the device-local and shared key-value stores backing
// cart snapshots and the cached identity.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/dgraph-io/badger/v4"
	"github.com/fjod/shopfront/storefront/internal/cart"
	"github.com/fjod/shopfront/storefront/internal/domain"
)

var ErrIdentityNotFound = errors.New("no cached identity")

const identityKey = "session:identity"

type BadgerConfig struct {
	// Path is ignored when InMemory is set.
	Path       string
	InMemory   bool
	SyncWrites bool
	Logger     *slog.Logger
}

// BadgerStore is the on-device store. It keeps one snapshot per user and the
// identity of the last signed-in user.
type BadgerStore struct {
	db *badger.DB
}

type badgerLogger struct {
	log *slog.Logger
}

func (l badgerLogger) Errorf(format string, args ...interface{}) {
	l.log.Error(fmt.Sprintf(format, args...))
}

func (l badgerLogger) Warningf(format string, args ...interface{}) {
	l.log.Warn(fmt.Sprintf(format, args...))
}

func (l badgerLogger) Infof(format string, args ...interface{}) {
	l.log.Debug(fmt.Sprintf(format, args...))
}

func (l badgerLogger) Debugf(format string, args ...interface{}) {
	l.log.Debug(fmt.Sprintf(format, args...))
}

func OpenBadger(cfg BadgerConfig) (*BadgerStore, error) {
	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if cfg.Path == "" {
			return nil, errors.New("badger path is required")
		}
		if err := os.MkdirAll(cfg.Path, 0o750); err != nil {
			return nil, fmt.Errorf("create data dir %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites).WithNumVersionsToKeep(1)
	if cfg.Logger != nil {
		opts = opts.WithLogger(badgerLogger{log: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}
	return &BadgerStore{db: db}, nil
}

func (b *BadgerStore) Close() error {
	return b.db.Close()
}

func (b *BadgerStore) Load(ctx context.Context, userID string) (*domain.Cart, error) {
	var c domain.Cart
	err := b.get(ctx, cartKey(userID), &c)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, cart.ErrSnapshotNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load cart snapshot: %w", err)
	}
	return &c, nil
}

func (b *BadgerStore) Save(ctx context.Context, c *domain.Cart) error {
	if err := b.set(ctx, cartKey(c.UserID), c); err != nil {
		return fmt.Errorf("save cart snapshot: %w", err)
	}
	return nil
}

func (b *BadgerStore) Delete(ctx context.Context, userID string) error {
	if err := b.del(ctx, cartKey(userID)); err != nil {
		return fmt.Errorf("delete cart snapshot: %w", err)
	}
	return nil
}

func (b *BadgerStore) LoadIdentity(ctx context.Context) (*domain.Identity, error) {
	var id domain.Identity
	err := b.get(ctx, identityKey, &id)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrIdentityNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load identity: %w", err)
	}
	return &id, nil
}

func (b *BadgerStore) SaveIdentity(ctx context.Context, id *domain.Identity) error {
	if err := b.set(ctx, identityKey, id); err != nil {
		return fmt.Errorf("save identity: %w", err)
	}
	return nil
}

func (b *BadgerStore) DeleteIdentity(ctx context.Context) error {
	if err := b.del(ctx, identityKey); err != nil {
		return fmt.Errorf("delete identity: %w", err)
	}
	return nil
}

func (b *BadgerStore) get(ctx context.Context, key string, v any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			if err := json.Unmarshal(val, v); err != nil {
				return fmt.Errorf("unmarshal %s: %w", key, err)
			}
			return nil
		})
	})
}

func (b *BadgerStore) set(ctx context.Context, key string, v any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), data)
	})
}

func (b *BadgerStore) del(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(key))
	})
}

func cartKey(userID string) string {
	return fmt.Sprintf("cart:%s", userID)
}
