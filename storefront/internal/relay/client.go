// Package relay is the storefront's client for the payment relay.
package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/fjod/shopfront/pkg/circuitbreaker"
	"github.com/fjod/shopfront/storefront/internal/domain"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const DefaultTimeout = 15 * time.Second

// StatusError is a non-2xx answer from the relay.
type StatusError struct {
	Status  int
	Message string
	Details string
}

func (e *StatusError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("relay returned %d: %s: %s", e.Status, e.Message, e.Details)
	}
	return fmt.Sprintf("relay returned %d: %s", e.Status, e.Message)
}

// clientError reports 4xx answers; they do not count against the breaker.
func clientError(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Status >= 400 && se.Status < 500
}

type Refund struct {
	ID            string `json:"id"`
	Status        string `json:"status"`
	Amount        int64  `json:"amount"`
	Currency      string `json:"currency"`
	PaymentIntent string `json:"payment_intent"`
}

type paymentSheetRequest struct {
	Amount   json.Number `json:"amount"`
	Currency string      `json:"currency"`
}

type paymentSheetResponse struct {
	PaymentIntent string `json:"paymentIntent"`
	EphemeralKey  string `json:"ephemeralKey"`
	Customer      string `json:"customer"`
}

type refundRequest struct {
	PaymentIntentID string `json:"paymentIntentId"`
}

type refundResponse struct {
	Success bool    `json:"success"`
	Message string  `json:"message"`
	Refund  *Refund `json:"refund"`
}

type errorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details"`
}

type Client struct {
	baseURL    string
	httpClient *http.Client
	breaker    *circuitbreaker.Breaker[[]byte]
	log        *slog.Logger
}

func NewClient(baseURL string, timeout time.Duration, cb circuitbreaker.Config, log *slog.Logger) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	cb.Ignore = clientError
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		breaker: circuitbreaker.New[[]byte]("payment-relay", cb, log),
		log:     log,
	}
}

// CreatePaymentSheet asks the relay for a customer, ephemeral key and intent
// sized to amountMinor. The amount travels in major units with exactly two
// decimals so the relay's rounding gives back the same cents.
func (c *Client) CreatePaymentSheet(ctx context.Context, amountMinor int64, currency string) (*domain.PaymentIntent, error) {
	if amountMinor <= 0 || amountMinor > domain.MaxChargeMinor {
		return nil, &domain.ValidationError{Fields: []string{"amount"}, Message: "invalid amount provided"}
	}
	body := paymentSheetRequest{
		Amount:   json.Number(decimal.New(amountMinor, -2).StringFixed(2)),
		Currency: currency,
	}

	data, err := c.post(ctx, "/payment-sheet", body)
	if err != nil {
		return nil, c.classify("create payment sheet", err)
	}

	var resp paymentSheetResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, &domain.NetworkError{Op: "create payment sheet", Err: fmt.Errorf("decode response: %w", err)}
	}
	if resp.PaymentIntent == "" {
		return nil, &domain.NetworkError{Op: "create payment sheet", Err: errors.New("relay returned no payment intent")}
	}
	return &domain.PaymentIntent{
		ClientSecret: resp.PaymentIntent,
		EphemeralKey: resp.EphemeralKey,
		Customer:     resp.Customer,
	}, nil
}

// Refund refunds the intent behind paymentIntentRef, which may be an intent
// id or a client secret.
func (c *Client) Refund(ctx context.Context, paymentIntentRef string) (*Refund, error) {
	if strings.TrimSpace(paymentIntentRef) == "" {
		return nil, &domain.ValidationError{Fields: []string{"paymentIntentId"}, Message: "Payment Intent ID is required"}
	}

	data, err := c.post(ctx, "/refund-payment", refundRequest{PaymentIntentID: paymentIntentRef})
	if err != nil {
		return nil, c.classify("refund payment", err)
	}

	var resp refundResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, &domain.NetworkError{Op: "refund payment", Err: fmt.Errorf("decode response: %w", err)}
	}
	if !resp.Success || resp.Refund == nil {
		return nil, &domain.NetworkError{Op: "refund payment", Err: fmt.Errorf("relay reported failure: %s", resp.Message)}
	}
	return resp.Refund, nil
}

func (c *Client) BreakerState() string {
	return c.breaker.State()
}

func (c *Client) post(ctx context.Context, path string, body any) ([]byte, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	return c.breaker.Execute(func() ([]byte, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
		if err != nil {
			return nil, fmt.Errorf("build request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if err != nil {
			return nil, fmt.Errorf("read response: %w", err)
		}
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			se := &StatusError{Status: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
			var er errorResponse
			if json.Unmarshal(data, &er) == nil && er.Error != "" {
				se.Message = er.Error
				se.Details = er.Details
			}
			return nil, se
		}
		return data, nil
	})
}

// classify maps a relay failure onto the storefront error taxonomy: 4xx
// answers are validation errors, everything else is a network error.
func (c *Client) classify(op string, err error) error {
	var se *StatusError
	if errors.As(err, &se) && se.Status >= 400 && se.Status < 500 {
		return &domain.ValidationError{Message: se.Message}
	}
	c.log.Warn("payment relay call failed", "op", op, "error", err)
	return &domain.NetworkError{Op: op, Err: err}
}
