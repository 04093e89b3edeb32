package checkout

import (
	"github.com/fjod/shopfront/storefront/internal/domain"
	"github.com/shopspring/decimal"
)

// Rates is the shipping and tax rule set applied to every checkout.
type Rates struct {
	Standard decimal.Decimal
	Express  decimal.Decimal
	// Standard shipping is free when the subtotal is strictly above this.
	FreeShippingOver decimal.Decimal
	TaxRate          decimal.Decimal
}

func DefaultRates() Rates {
	return Rates{
		Standard:         decimal.NewFromInt(10),
		Express:          decimal.NewFromInt(80),
		FreeShippingOver: decimal.NewFromInt(100),
		TaxRate:          decimal.RequireFromString("0.08"),
	}
}

// Compute derives the totals from the cart items. Values are not rounded.
func (r Rates) Compute(items []domain.CartItem, method domain.ShippingMethod) domain.Totals {
	subtotal := domain.Cart{Items: items}.Subtotal()

	shipping := r.Standard
	switch {
	case method == domain.ShippingExpress:
		shipping = r.Express
	case subtotal.GreaterThan(r.FreeShippingOver):
		shipping = decimal.Zero
	}

	tax := subtotal.Mul(r.TaxRate)
	return domain.Totals{
		Subtotal: subtotal,
		Shipping: shipping,
		Tax:      tax,
		Total:    subtotal.Add(shipping).Add(tax),
	}
}
