package processor

import (
	"context"
	"errors"

	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/client"
)

type StripeGateway struct {
	api                 *client.API
	ephemeralKeyVersion string
}

// NewStripeGateway creates a gateway authenticated with the secret key.
// ephemeralKeyVersion must match the API version of the mobile SDK.
func NewStripeGateway(secretKey, ephemeralKeyVersion string) *StripeGateway {
	api := &client.API{}
	api.Init(secretKey, nil)
	return &StripeGateway{api: api, ephemeralKeyVersion: ephemeralKeyVersion}
}

func (g *StripeGateway) CreateCustomer(ctx context.Context) (string, error) {
	params := &stripe.CustomerParams{}
	params.Context = ctx

	c, err := g.api.Customers.New(params)
	if err != nil {
		return "", wrapStripe("create customer", err)
	}
	return c.ID, nil
}

func (g *StripeGateway) CreateEphemeralKey(ctx context.Context, customerID string) (string, error) {
	params := &stripe.EphemeralKeyParams{
		Customer:      stripe.String(customerID),
		StripeVersion: stripe.String(g.ephemeralKeyVersion),
	}
	params.Context = ctx

	k, err := g.api.EphemeralKeys.New(params)
	if err != nil {
		return "", wrapStripe("create ephemeral key", err)
	}
	return k.Secret, nil
}

func (g *StripeGateway) CreatePaymentIntent(ctx context.Context, customerID string, amountMinor int64, currency string) (string, error) {
	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(amountMinor),
		Currency: stripe.String(currency),
		Customer: stripe.String(customerID),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
	}
	params.Context = ctx

	pi, err := g.api.PaymentIntents.New(params)
	if err != nil {
		return "", wrapStripe("create payment intent", err)
	}
	return pi.ClientSecret, nil
}

func (g *StripeGateway) Refund(ctx context.Context, paymentIntentID string) (*Refund, error) {
	params := &stripe.RefundParams{
		PaymentIntent: stripe.String(paymentIntentID),
	}
	params.Context = ctx

	r, err := g.api.Refunds.New(params)
	if err != nil {
		return nil, wrapStripe("create refund", err)
	}

	out := &Refund{
		ID:       r.ID,
		Status:   string(r.Status),
		Amount:   r.Amount,
		Currency: string(r.Currency),
	}
	if r.PaymentIntent != nil {
		out.PaymentIntent = r.PaymentIntent.ID
	} else {
		out.PaymentIntent = paymentIntentID
	}
	return out, nil
}

func wrapStripe(op string, err error) error {
	var se *stripe.Error
	if errors.As(err, &se) && se.Msg != "" {
		return &Error{Op: op, Message: se.Msg, Err: err}
	}
	return &Error{Op: op, Message: err.Error(), Err: err}
}
