// Package config loads storefront settings from an optional YAML file and
// the environment. Environment variables win over the file.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	CartStoreBadger = "badger"
	CartStoreRedis  = "redis"

	OrderStoreMongo    = "mongo"
	OrderStorePostgres = "postgres"
)

type Postgres struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Name     string `yaml:"name"`
}

// Company is the seller printed on order receipts.
type Company struct {
	Name    string `yaml:"name"`
	Address string `yaml:"address"`
	TaxID   string `yaml:"tax_id"`
	Email   string `yaml:"email"`
	Phone   string `yaml:"phone"`
}

type Config struct {
	RelayURL             string        `yaml:"relay_url"`
	RelayTimeout         time.Duration `yaml:"relay_timeout"`
	StripePublishableKey string        `yaml:"stripe_publishable_key"`
	PaymentMethod        string        `yaml:"payment_method"`
	Currency             string        `yaml:"currency"`

	DataDir   string        `yaml:"data_dir"`
	CartStore string        `yaml:"cart_store"`
	RedisAddr string        `yaml:"redis_addr"`
	CartTTL   time.Duration `yaml:"cart_ttl"`

	OrderStore          string        `yaml:"order_store"`
	MongoURI            string        `yaml:"mongo_uri"`
	MongoDBName         string        `yaml:"mongo_db_name"`
	MongoMaxPoolSize    int           `yaml:"mongo_max_pool_size"`
	MongoConnectTimeout time.Duration `yaml:"mongo_connect_timeout"`
	Postgres            Postgres      `yaml:"postgres"`
	MigrationsPath      string        `yaml:"migrations_path"`

	CatalogDBPath string `yaml:"catalog_db_path"`

	KafkaBrokers []string `yaml:"kafka_brokers"`
	KafkaTopic   string   `yaml:"kafka_topic"`

	Company Company `yaml:"company"`

	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
}

func defaults() *Config {
	dataDir := ".shopfront"
	if home, err := os.UserHomeDir(); err == nil {
		dataDir = filepath.Join(home, ".shopfront")
	}
	return &Config{
		RelayURL:      "http://localhost:5000",
		RelayTimeout:  15 * time.Second,
		PaymentMethod: "pm_card_visa",
		Currency:      "usd",
		DataDir:       dataDir,
		CartStore:     CartStoreBadger,
		RedisAddr:     "localhost:6379",
		CartTTL:       30 * 24 * time.Hour,
		OrderStore:    OrderStoreMongo,
		MongoURI:      "mongodb://localhost:27017",
		MongoDBName:   "shopfront",

		// One CLI invocation issues a handful of sequential queries.
		MongoMaxPoolSize:    4,
		MongoConnectTimeout: 10 * time.Second,

		Postgres: Postgres{
			Host:     "localhost",
			Port:     5432,
			User:     "postgres",
			Password: "postgres",
			Name:     "shopfront",
		},
		Company: Company{
			Name:  "Shopfront",
			Email: "support@shopfront.local",
		},
		KafkaTopic: "order-events",
		LogLevel:   "info",
		LogFormat:  "text",
	}
}

// Load reads the file named by STOREFRONT_CONFIG, if set, and then applies
// environment overrides.
func Load() (*Config, error) {
	cfg := defaults()

	if path := os.Getenv("STOREFRONT_CONFIG"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	cfg.RelayURL = getEnv("RELAY_URL", cfg.RelayURL)
	cfg.RelayTimeout = getDuration("RELAY_TIMEOUT", cfg.RelayTimeout)
	cfg.StripePublishableKey = getEnv("STRIPE_PUBLISHABLE_KEY", cfg.StripePublishableKey)
	cfg.PaymentMethod = getEnv("STRIPE_PAYMENT_METHOD", cfg.PaymentMethod)
	cfg.Currency = getEnv("CURRENCY", cfg.Currency)
	cfg.DataDir = getEnv("DATA_DIR", cfg.DataDir)
	cfg.CartStore = strings.ToLower(getEnv("CART_STORE", cfg.CartStore))
	cfg.RedisAddr = getEnv("REDIS_ADDR", cfg.RedisAddr)
	cfg.CartTTL = getDuration("CART_TTL", cfg.CartTTL)
	cfg.OrderStore = strings.ToLower(getEnv("ORDER_STORE", cfg.OrderStore))
	cfg.MongoURI = getEnv("MONGO_URI", cfg.MongoURI)
	cfg.MongoDBName = getEnv("MONGO_DB_NAME", cfg.MongoDBName)
	cfg.MongoMaxPoolSize = getInt("MONGO_MAX_POOL_SIZE", cfg.MongoMaxPoolSize)
	cfg.MongoConnectTimeout = getDuration("MONGO_CONNECT_TIMEOUT", cfg.MongoConnectTimeout)
	cfg.Postgres.Host = getEnv("DB_HOST", cfg.Postgres.Host)
	cfg.Postgres.Port = getInt("DB_PORT", cfg.Postgres.Port)
	cfg.Postgres.User = getEnv("DB_USER", cfg.Postgres.User)
	cfg.Postgres.Password = getEnv("DB_PASSWORD", cfg.Postgres.Password)
	cfg.Postgres.Name = getEnv("DB_NAME", cfg.Postgres.Name)
	cfg.MigrationsPath = getEnv("MIGRATIONS_PATH", cfg.MigrationsPath)
	cfg.CatalogDBPath = getEnv("CATALOG_DB_PATH", cfg.CatalogDBPath)
	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.KafkaBrokers = splitList(brokers)
	}
	cfg.KafkaTopic = getEnv("KAFKA_TOPIC", cfg.KafkaTopic)
	cfg.Company.Name = getEnv("COMPANY_NAME", cfg.Company.Name)
	cfg.Company.Address = getEnv("COMPANY_ADDRESS", cfg.Company.Address)
	cfg.Company.TaxID = getEnv("COMPANY_TAX_ID", cfg.Company.TaxID)
	cfg.Company.Email = getEnv("COMPANY_EMAIL", cfg.Company.Email)
	cfg.Company.Phone = getEnv("COMPANY_PHONE", cfg.Company.Phone)
	cfg.LogLevel = getEnv("LOG_LEVEL", cfg.LogLevel)
	cfg.LogFormat = getEnv("LOG_FORMAT", cfg.LogFormat)

	if cfg.CatalogDBPath == "" {
		cfg.CatalogDBPath = filepath.Join(cfg.DataDir, "catalog.db")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	switch c.CartStore {
	case CartStoreBadger, CartStoreRedis:
	default:
		return fmt.Errorf("unknown CART_STORE %q, want %s or %s", c.CartStore, CartStoreBadger, CartStoreRedis)
	}
	switch c.OrderStore {
	case OrderStoreMongo, OrderStorePostgres:
	default:
		return fmt.Errorf("unknown ORDER_STORE %q, want %s or %s", c.OrderStore, OrderStoreMongo, OrderStorePostgres)
	}
	if c.MongoMaxPoolSize < 1 {
		return fmt.Errorf("MONGO_MAX_POOL_SIZE must be at least 1, got %d", c.MongoMaxPoolSize)
	}
	if c.RelayURL == "" {
		return fmt.Errorf("RELAY_URL is required")
	}
	return nil
}

// BadgerDir is where the device-local cart and identity live.
func (c *Config) BadgerDir() string {
	return filepath.Join(c.DataDir, "badger")
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
