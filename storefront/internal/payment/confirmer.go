// Package payment confirms payment intents on the client side with the
// publishable key, standing in for the mobile payment sheet.
package payment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/fjod/shopfront/storefront/internal/domain"
	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/client"
)

var (
	ErrActionRequired = errors.New("payment requires additional customer action")
	ErrNotConfirmed   = errors.New("payment was not confirmed")
)

// DefaultPaymentMethod is the processor's test card.
const DefaultPaymentMethod = "pm_card_visa"

type intentAPI interface {
	Confirm(id string, params *stripe.PaymentIntentConfirmParams) (*stripe.PaymentIntent, error)
}

type StripeConfirmer struct {
	intents       intentAPI
	paymentMethod string
	returnURL     string
	log           *slog.Logger
}

func NewStripeConfirmer(publishableKey, paymentMethod, returnURL string, log *slog.Logger) *StripeConfirmer {
	api := &client.API{}
	api.Init(publishableKey, nil)
	return newConfirmer(api.PaymentIntents, paymentMethod, returnURL, log)
}

func newConfirmer(intents intentAPI, paymentMethod, returnURL string, log *slog.Logger) *StripeConfirmer {
	if paymentMethod == "" {
		paymentMethod = DefaultPaymentMethod
	}
	return &StripeConfirmer{
		intents:       intents,
		paymentMethod: paymentMethod,
		returnURL:     returnURL,
		log:           log,
	}
}

// Confirm confirms the intent identified by its client secret. Intents that
// are already succeeded, processing or awaiting capture count as confirmed.
func (c *StripeConfirmer) Confirm(ctx context.Context, intent domain.PaymentIntent) (*domain.PaymentConfirmation, error) {
	id := intent.ID()
	if id == "" || intent.ClientSecret == "" {
		return nil, &domain.ValidationError{Fields: []string{"paymentIntent"}, Message: "payment intent is missing"}
	}

	params := &stripe.PaymentIntentConfirmParams{
		PaymentMethod: stripe.String(c.paymentMethod),
	}
	if c.returnURL != "" {
		params.ReturnURL = stripe.String(c.returnURL)
	}
	params.Context = ctx
	params.AddExtra("client_secret", intent.ClientSecret)

	pi, err := c.intents.Confirm(id, params)
	if err != nil {
		var se *stripe.Error
		if errors.As(err, &se) && se.Msg != "" {
			return nil, &domain.NetworkError{Op: "confirm payment", Err: fmt.Errorf("%s: %w", se.Msg, err)}
		}
		return nil, &domain.NetworkError{Op: "confirm payment", Err: err}
	}

	switch pi.Status {
	case stripe.PaymentIntentStatusSucceeded, stripe.PaymentIntentStatusProcessing, stripe.PaymentIntentStatusRequiresCapture:
	case stripe.PaymentIntentStatusRequiresAction:
		return nil, &domain.NetworkError{Op: "confirm payment", Err: ErrActionRequired}
	default:
		return nil, &domain.NetworkError{Op: "confirm payment", Err: fmt.Errorf("%w: status %s", ErrNotConfirmed, pi.Status)}
	}

	method := "card"
	if pi.PaymentMethod != nil && pi.PaymentMethod.Type != "" {
		method = string(pi.PaymentMethod.Type)
	}
	c.log.InfoContext(ctx, "payment confirmed", "intent_id", pi.ID, "status", string(pi.Status))
	return &domain.PaymentConfirmation{IntentID: pi.ID, PaymentMethod: method}, nil
}
