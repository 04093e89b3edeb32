package domain

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

type ShippingForm struct {
	Name    string `json:"name" validate:"required"`
	Street  string `json:"street" validate:"required"`
	City    string `json:"city" validate:"required"`
	State   string `json:"state" validate:"required"`
	Zip     string `json:"zip" validate:"required"`
	Country string `json:"country" validate:"required"`
}

const DefaultCountry = "United States"

// Trimmed returns a copy with surrounding whitespace removed from every
// field, so that a blank field counts as empty.
func (f ShippingForm) Trimmed() ShippingForm {
	return ShippingForm{
		Name:    strings.TrimSpace(f.Name),
		Street:  strings.TrimSpace(f.Street),
		City:    strings.TrimSpace(f.City),
		State:   strings.TrimSpace(f.State),
		Zip:     strings.TrimSpace(f.Zip),
		Country: strings.TrimSpace(f.Country),
	}
}

type ShippingMethod string

const (
	ShippingStandard ShippingMethod = "Standard"
	ShippingExpress  ShippingMethod = "Express"
)

func (m ShippingMethod) Valid() bool {
	return m == ShippingStandard || m == ShippingExpress
}

func (m ShippingMethod) String() string {
	return string(m)
}

// ParseShippingMethod accepts the method name in any case.
func ParseShippingMethod(s string) (ShippingMethod, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "standard", "":
		return ShippingStandard, true
	case "express":
		return ShippingExpress, true
	default:
		return "", false
	}
}

// Totals are kept at full precision; Display rounds to cents.
type Totals struct {
	Subtotal decimal.Decimal `json:"subtotal"`
	Shipping decimal.Decimal `json:"shipping"`
	Tax      decimal.Decimal `json:"tax"`
	Total    decimal.Decimal `json:"total"`
}

func (t Totals) Display() Totals {
	return Totals{
		Subtotal: t.Subtotal.Round(2),
		Shipping: t.Shipping.Round(2),
		Tax:      t.Tax.Round(2),
		Total:    t.Total.Round(2),
	}
}

// MaxChargeMinor is the largest total the payment processor will take.
const MaxChargeMinor int64 = 99999999

// MinorUnits is the total in whole cents, as sent to the payment relay.
// Totals above MaxChargeMinor are rejected rather than truncated.
func (t Totals) MinorUnits() (int64, error) {
	minor := t.Total.Mul(decimal.NewFromInt(100)).Round(0)
	if !minor.BigInt().IsInt64() || minor.IntPart() > MaxChargeMinor {
		return 0, &ValidationError{
			Fields:  []string{"total"},
			Message: fmt.Sprintf("order total %s exceeds the maximum charge", t.Total.StringFixed(2)),
		}
	}
	return minor.IntPart(), nil
}

// PaymentIntent is the reference triple returned by the payment relay.
type PaymentIntent struct {
	ClientSecret string
	EphemeralKey string
	Customer     string
}

// ID is the intent id embedded in the client secret ("pi_123_secret_abc").
func (p PaymentIntent) ID() string {
	if i := strings.Index(p.ClientSecret, "_secret_"); i > 0 {
		return p.ClientSecret[:i]
	}
	return p.ClientSecret
}

// PaymentConfirmation is the processor's answer to a successful client-side
// confirmation.
type PaymentConfirmation struct {
	IntentID      string
	PaymentMethod string
}

// PlaceOrderRequest is a completed checkout handed to the order writer.
type PlaceOrderRequest struct {
	UserID           string
	Items            []CartItem
	ShippingAddress  ShippingForm
	ShippingMethod   ShippingMethod
	Totals           Totals
	PaymentMethod    string
	PaymentIntentRef string
	IdempotencyKey   string
}
