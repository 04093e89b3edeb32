package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/fjod/shopfront/pkg/circuitbreaker"
	"github.com/fjod/shopfront/pkg/logger"
	"github.com/fjod/shopfront/storefront/internal/cart"
	"github.com/fjod/shopfront/storefront/internal/catalog"
	"github.com/fjod/shopfront/storefront/internal/config"
	"github.com/fjod/shopfront/storefront/internal/domain"
	"github.com/fjod/shopfront/storefront/internal/orders"
	"github.com/fjod/shopfront/storefront/internal/publisher"
	"github.com/fjod/shopfront/storefront/internal/relay"
	"github.com/fjod/shopfront/storefront/internal/repository"
	"github.com/fjod/shopfront/storefront/internal/session"
	"github.com/fjod/shopfront/storefront/internal/storage"
)

// app carries the dependencies of one CLI invocation. Backing stores are
// opened on first use so that a command only touches what it needs.
type app struct {
	cfg *config.Config
	log *slog.Logger

	badger   *storage.BadgerStore
	sessions *session.Manager

	catalogSvc *catalog.Service

	orderRepo repository.OrderRepository
	events    interface {
		orders.EventPublisher
		Close() error
	}
	relayClient *relay.Client

	closers []func() error
}

func newApp() (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	log := logger.New(logger.Config{Service: "storefront", Level: cfg.LogLevel, Format: cfg.LogFormat})

	a := &app{cfg: cfg, log: log}

	a.badger, err = storage.OpenBadger(storage.BadgerConfig{Path: cfg.BadgerDir(), Logger: log})
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, a.badger.Close)

	var snapshots cart.SnapshotStore = a.badger
	if cfg.CartStore == config.CartStoreRedis {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		a.closers = append(a.closers, client.Close)
		snapshots = storage.NewRedisStore(client, cfg.CartTTL)
	}

	a.sessions = session.NewManager(a.badger, snapshots, log)
	a.closers = append(a.closers, func() error {
		a.sessions.Close()
		return nil
	})
	return a, nil
}

// close releases resources in reverse order of acquisition.
func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.log.Warn("failed to release resource", "error", err)
		}
	}
}

func (a *app) restore(ctx context.Context) (domain.Identity, *cart.Store, error) {
	id, c, err := a.sessions.Restore(ctx)
	if errors.Is(err, session.ErrNotSignedIn) {
		return id, nil, errors.New("not signed in, run `storefront login` first")
	}
	return id, c, err
}

func (a *app) catalogService() (*catalog.Service, error) {
	if a.catalogSvc != nil {
		return a.catalogSvc, nil
	}
	if err := os.MkdirAll(a.cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	repo, err := catalog.NewRepository(a.cfg.CatalogDBPath)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, repo.Close)

	if err := repo.RunMigrations(catalogMigrations(a.cfg.MigrationsPath)); err != nil {
		return nil, err
	}
	a.catalogSvc = catalog.NewService(repo, a.log)
	return a.catalogSvc, nil
}

func (a *app) orderStore(ctx context.Context) (repository.OrderRepository, error) {
	if a.orderRepo != nil {
		return a.orderRepo, nil
	}

	switch a.cfg.OrderStore {
	case config.OrderStorePostgres:
		cred := &repository.Credentials{
			Host:              a.cfg.Postgres.Host,
			Port:              a.cfg.Postgres.Port,
			User:              a.cfg.Postgres.User,
			Password:          a.cfg.Postgres.Password,
			DBName:            a.cfg.Postgres.Name,
			MigrationsDirPath: orderMigrations(a.cfg.MigrationsPath),
		}
		repo, err := repository.NewPostgresRepository(cred)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, repo.Close)
		if err := repo.RunMigrations(cred); err != nil {
			return nil, err
		}
		a.orderRepo = repo
	default:
		db, err := repository.ConnectMongoDB(ctx, repository.MongoConfig{
			URI:            a.cfg.MongoURI,
			Database:       a.cfg.MongoDBName,
			MaxPoolSize:    uint64(a.cfg.MongoMaxPoolSize),
			ConnectTimeout: a.cfg.MongoConnectTimeout,
		})
		if err != nil {
			return nil, err
		}
		repo := repository.NewMongoRepository(db)
		a.closers = append(a.closers, repo.Close)
		if err := repo.EnsureIndexes(ctx); err != nil {
			return nil, err
		}
		a.orderRepo = repo
	}
	a.log.Debug("order store ready", "store", a.cfg.OrderStore)
	return a.orderRepo, nil
}

func (a *app) eventPublisher() orders.EventPublisher {
	if a.events != nil {
		return a.events
	}
	if len(a.cfg.KafkaBrokers) == 0 {
		a.events = publisher.Noop{}
	} else {
		a.events = publisher.NewKafkaPublisher(a.log, a.cfg.KafkaTopic, a.cfg.KafkaBrokers...)
	}
	a.closers = append(a.closers, a.events.Close)
	return a.events
}

func (a *app) relayAPI() *relay.Client {
	if a.relayClient == nil {
		a.relayClient = relay.NewClient(a.cfg.RelayURL, a.cfg.RelayTimeout, circuitbreaker.DefaultConfig(), a.log)
	}
	return a.relayClient
}

func (a *app) orderService(ctx context.Context) (*orders.Service, error) {
	repo, err := a.orderStore(ctx)
	if err != nil {
		return nil, err
	}
	return orders.NewService(repo, a.relayAPI(), a.eventPublisher(), a.log), nil
}

// MIGRATIONS_PATH points at a directory holding catalog/ and orders/
// subdirectories. Empty means the migrations embedded in the binary.
func catalogMigrations(base string) string {
	if base == "" {
		return ""
	}
	return base + "/catalog"
}

func orderMigrations(base string) string {
	if base == "" {
		return ""
	}
	return base + "/orders"
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c := &cli{}
	err := newRootCmd(c).ExecuteContext(ctx)
	c.close()
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// cli holds the app built for the running command.
type cli struct {
	app *app
}

func (c *cli) get() *app { return c.app }

func (c *cli) close() {
	if c.app != nil {
		c.app.close()
	}
}

func newRootCmd(c *cli) *cobra.Command {
	root := &cobra.Command{
		Use:           "storefront",
		Short:         "Browse the catalog, manage the cart and check out",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			var err error
			c.app, err = newApp()
			return err
		},
	}

	root.AddCommand(
		newLoginCmd(c.get),
		newLogoutCmd(c.get),
		newProductsCmd(c.get),
		newCartCmd(c.get),
		newCheckoutCmd(c.get),
		newOrdersCmd(c.get),
		newAdminCmd(c.get),
	)
	return root
}
