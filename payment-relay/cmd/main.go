package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	h "github.com/fjod/shopfront/payment-relay/internal/http"
	"github.com/fjod/shopfront/payment-relay/internal/processor"
	"github.com/fjod/shopfront/pkg/logger"
)

type Config struct {
	Port                string
	StripeSecretKey     string
	EphemeralKeyVersion string
	RequestTimeout      time.Duration
	ShutdownTimeout     time.Duration
	MaxRequestBodySize  int64
	LogLevel            string
	LogFormat           string
}

func loadConfig() *Config {
	return &Config{
		Port:                getEnv("PORT", "5000"),
		StripeSecretKey:     os.Getenv("STRIPE_SECRET_KEY"),
		EphemeralKeyVersion: getEnv("EPHEMERAL_KEY_API_VERSION", "2025-04-30.basil"),
		RequestTimeout:      getDuration("REQUEST_TIMEOUT", 30*time.Second),
		ShutdownTimeout:     10 * time.Second,
		MaxRequestBodySize:  1 << 20, // 1MB
		LogLevel:            getEnv("LOG_LEVEL", "info"),
		LogFormat:           getEnv("LOG_FORMAT", "json"),
	}
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

func main() {
	cfg := loadConfig()
	log := logger.New(logger.Config{Service: "payment-relay", Level: cfg.LogLevel, Format: cfg.LogFormat})

	if cfg.StripeSecretKey == "" {
		log.Error("STRIPE_SECRET_KEY is required")
		os.Exit(1)
	}

	gateway := processor.NewStripeGateway(cfg.StripeSecretKey, cfg.EphemeralKeyVersion)
	service := processor.NewService(gateway, log)
	handler := h.NewPaymentHandler(service, cfg.RequestTimeout, log)

	router := h.NewRouter(handler, h.RouterConfig{
		RequestTimeout:     cfg.RequestTimeout,
		MaxRequestBodySize: cfg.MaxRequestBodySize,
	}, log)

	srv := &http.Server{
		Addr:         "0.0.0.0:" + cfg.Port,
		Handler:      otelhttp.NewHandler(router, "payment-relay"),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: cfg.RequestTimeout + 5*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info("payment relay listening", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down payment relay...")
	ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}

	log.Info("payment relay stopped")
}
