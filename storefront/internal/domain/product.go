package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type Product struct {
	ID          string
	Name        string
	Description string
	CategoryID  string
	Price       decimal.Decimal
	ImageURL    string
	InStock     bool
	Featured    bool
	CreatedAt   time.Time
}

// AsCartItem converts the product into a line item with the given quantity.
func (p Product) AsCartItem(qty int) CartItem {
	return CartItem{
		ProductID: p.ID,
		Name:      p.Name,
		UnitPrice: p.Price,
		Quantity:  qty,
		ImageRef:  p.ImageURL,
	}
}

type Category struct {
	ID       string
	Name     string
	ImageURL string
}
