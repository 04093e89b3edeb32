package processor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

var (
	ErrInvalidAmount    = errors.New("invalid amount provided")
	ErrMissingReference = errors.New("payment intent id is required")
)

const DefaultCurrency = "usd"

// MaxAmountMinor is the largest charge the processor accepts, in minor units.
const MaxAmountMinor int64 = 99999999

// PaymentSheet holds the three opaque references a client needs to present
// and confirm a payment.
type PaymentSheet struct {
	PaymentIntent string `json:"paymentIntent"` // client secret of the intent
	EphemeralKey  string `json:"ephemeralKey"`
	Customer      string `json:"customer"`
}

type Refund struct {
	ID            string `json:"id"`
	Status        string `json:"status"`
	Amount        int64  `json:"amount"`
	Currency      string `json:"currency"`
	PaymentIntent string `json:"payment_intent"`
}

// Error is a failure reported by the hosted processor. Message is safe to
// return to clients.
type Error struct {
	Op      string
	Message string
	Err     error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Op, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Gateway is the hosted payment processor.
type Gateway interface {
	CreateCustomer(ctx context.Context) (string, error)
	CreateEphemeralKey(ctx context.Context, customerID string) (string, error)
	CreatePaymentIntent(ctx context.Context, customerID string, amountMinor int64, currency string) (string, error)
	Refund(ctx context.Context, paymentIntentID string) (*Refund, error)
}

// Service validates relay requests and passes them straight through to the
// gateway. It keeps no state between calls.
type Service struct {
	gateway Gateway
	log     *slog.Logger
}

func NewService(gateway Gateway, log *slog.Logger) *Service {
	return &Service{gateway: gateway, log: log}
}

func (s *Service) CreatePaymentSheet(ctx context.Context, amountMinor int64, currency string) (*PaymentSheet, error) {
	if amountMinor <= 0 || amountMinor > MaxAmountMinor {
		return nil, ErrInvalidAmount
	}
	currency = strings.ToLower(strings.TrimSpace(currency))
	if currency == "" {
		currency = DefaultCurrency
	}

	customerID, err := s.gateway.CreateCustomer(ctx)
	if err != nil {
		return nil, fmt.Errorf("create customer: %w", err)
	}

	ephemeralKey, err := s.gateway.CreateEphemeralKey(ctx, customerID)
	if err != nil {
		return nil, fmt.Errorf("create ephemeral key: %w", err)
	}

	clientSecret, err := s.gateway.CreatePaymentIntent(ctx, customerID, amountMinor, currency)
	if err != nil {
		return nil, fmt.Errorf("create payment intent: %w", err)
	}

	s.log.InfoContext(ctx, "payment sheet created", "customer", customerID, "amount", amountMinor, "currency", currency)

	return &PaymentSheet{
		PaymentIntent: clientSecret,
		EphemeralKey:  ephemeralKey,
		Customer:      customerID,
	}, nil
}

func (s *Service) Refund(ctx context.Context, paymentIntentRef string) (*Refund, error) {
	id := IntentID(strings.TrimSpace(paymentIntentRef))
	if id == "" {
		return nil, ErrMissingReference
	}

	refund, err := s.gateway.Refund(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("refund %s: %w", id, err)
	}

	s.log.InfoContext(ctx, "payment refunded", "payment_intent", id, "refund", refund.ID, "status", refund.Status)
	return refund, nil
}

// IntentID accepts either an intent id or its client secret
// ("pi_123_secret_abc") and returns the intent id.
func IntentID(ref string) string {
	if i := strings.Index(ref, "_secret_"); i > 0 {
		return ref[:i]
	}
	return ref
}

// Message extracts the processor's message from err, falling back to the
// error text.
func Message(err error) string {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Message
	}
	return err.Error()
}
