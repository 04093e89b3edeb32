package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var configEnv = []string{
	"STOREFRONT_CONFIG", "RELAY_URL", "RELAY_TIMEOUT", "STRIPE_PUBLISHABLE_KEY",
	"STRIPE_PAYMENT_METHOD", "CURRENCY", "DATA_DIR", "CART_STORE", "REDIS_ADDR",
	"CART_TTL", "ORDER_STORE", "MONGO_URI", "MONGO_DB_NAME", "MONGO_MAX_POOL_SIZE", "MONGO_CONNECT_TIMEOUT",
	"DB_HOST", "DB_PORT",
	"DB_USER", "DB_PASSWORD", "DB_NAME", "MIGRATIONS_PATH", "CATALOG_DB_PATH",
	"KAFKA_BROKERS", "KAFKA_TOPIC", "COMPANY_NAME", "COMPANY_ADDRESS", "COMPANY_TAX_ID",
	"COMPANY_EMAIL", "COMPANY_PHONE", "LOG_LEVEL", "LOG_FORMAT",
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range configEnv {
		t.Setenv(key, "")
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("DATA_DIR", "/tmp/shop")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "http://localhost:5000", cfg.RelayURL)
	assert.Equal(t, 15*time.Second, cfg.RelayTimeout)
	assert.Equal(t, "usd", cfg.Currency)
	assert.Equal(t, CartStoreBadger, cfg.CartStore)
	assert.Equal(t, OrderStoreMongo, cfg.OrderStore)
	assert.Equal(t, 5432, cfg.Postgres.Port)
	assert.Equal(t, 4, cfg.MongoMaxPoolSize)
	assert.Equal(t, 10*time.Second, cfg.MongoConnectTimeout)
	assert.Equal(t, filepath.Join("/tmp/shop", "catalog.db"), cfg.CatalogDBPath)
	assert.Equal(t, filepath.Join("/tmp/shop", "badger"), cfg.BadgerDir())
	assert.Empty(t, cfg.KafkaBrokers)
	assert.Equal(t, "order-events", cfg.KafkaTopic)
	assert.Equal(t, "Shopfront", cfg.Company.Name)
}

func TestLoad_EnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("RELAY_URL", "http://relay:5000")
	t.Setenv("RELAY_TIMEOUT", "3s")
	t.Setenv("CART_STORE", "REDIS")
	t.Setenv("ORDER_STORE", "postgres")
	t.Setenv("DB_PORT", "6543")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092,")
	t.Setenv("CATALOG_DB_PATH", "/data/catalog.db")
	t.Setenv("MONGO_MAX_POOL_SIZE", "16")
	t.Setenv("MONGO_CONNECT_TIMEOUT", "2s")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "http://relay:5000", cfg.RelayURL)
	assert.Equal(t, 3*time.Second, cfg.RelayTimeout)
	assert.Equal(t, CartStoreRedis, cfg.CartStore)
	assert.Equal(t, OrderStorePostgres, cfg.OrderStore)
	assert.Equal(t, 6543, cfg.Postgres.Port)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, "/data/catalog.db", cfg.CatalogDBPath)
	assert.Equal(t, 16, cfg.MongoMaxPoolSize)
	assert.Equal(t, 2*time.Second, cfg.MongoConnectTimeout)
}

func TestLoad_InvalidNumbersKeepDefaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("DB_PORT", "not-a-port")
	t.Setenv("RELAY_TIMEOUT", "soon")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 5432, cfg.Postgres.Port)
	assert.Equal(t, 15*time.Second, cfg.RelayTimeout)
}

func TestLoad_YAMLFileThenEnv(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "storefront.yaml")
	content := `
relay_url: http://file-relay:5000
relay_timeout: 20s
order_store: postgres
postgres:
  host: db.internal
  name: orders
kafka_brokers:
  - broker:9092
company:
  name: Acme Goods
  tax_id: 29ABCDE1234F1Z5
log_format: json
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	t.Setenv("STOREFRONT_CONFIG", path)
	t.Setenv("LOG_FORMAT", "text")
	t.Setenv("COMPANY_EMAIL", "help@acme.test")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "http://file-relay:5000", cfg.RelayURL)
	assert.Equal(t, 20*time.Second, cfg.RelayTimeout)
	assert.Equal(t, OrderStorePostgres, cfg.OrderStore)
	assert.Equal(t, "db.internal", cfg.Postgres.Host)
	assert.Equal(t, "orders", cfg.Postgres.Name)
	assert.Equal(t, "postgres", cfg.Postgres.User)
	assert.Equal(t, []string{"broker:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, "text", cfg.LogFormat)
	assert.Equal(t, Company{Name: "Acme Goods", TaxID: "29ABCDE1234F1Z5", Email: "help@acme.test"}, cfg.Company)
}

func TestLoad_Errors(t *testing.T) {
	t.Run("missing file", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("STOREFRONT_CONFIG", filepath.Join(t.TempDir(), "nope.yaml"))
		_, err := Load()
		assert.Error(t, err)
	})

	t.Run("bad yaml", func(t *testing.T) {
		clearEnv(t)
		path := filepath.Join(t.TempDir(), "bad.yaml")
		require.NoError(t, os.WriteFile(path, []byte("relay_url: [unclosed"), 0o600))
		t.Setenv("STOREFRONT_CONFIG", path)
		_, err := Load()
		assert.Error(t, err)
	})

	t.Run("unknown cart store", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("CART_STORE", "sqlite")
		_, err := Load()
		assert.ErrorContains(t, err, "CART_STORE")
	})

	t.Run("zero mongo pool", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("MONGO_MAX_POOL_SIZE", "0")
		_, err := Load()
		assert.ErrorContains(t, err, "MONGO_MAX_POOL_SIZE")
	})

	t.Run("unknown order store", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("ORDER_STORE", "dynamo")
		_, err := Load()
		assert.ErrorContains(t, err, "ORDER_STORE")
	})
}
