package main

import (
	"io"
	"strings"
	"text/template"

	"github.com/shopspring/decimal"

	"github.com/fjod/shopfront/storefront/internal/config"
	"github.com/fjod/shopfront/storefront/internal/domain"
)

type receiptData struct {
	Company  config.Company
	Customer domain.Identity
	Order    *domain.Order
	Totals   domain.Totals
}

var receiptTmpl = template.Must(template.New("receipt").Funcs(template.FuncMap{
	"money": func(d decimal.Decimal) string { return "$" + d.StringFixed(2) },
	"line":  func(it domain.OrderItem) decimal.Decimal { return it.Price.Mul(decimal.NewFromInt(int64(it.Quantity))) },
	"short": func(id string, n int) string {
		if len(id) > n {
			return id[:n]
		}
		return id
	},
	"upper": strings.ToUpper,
}).Parse(`{{upper .Company.Name}}
Invoice #{{short .Order.ID 8}}
{{- with .Company.Address}}
{{.}}{{end}}
{{- with .Company.TaxID}}
Tax ID: {{.}}{{end}}
{{- if or .Company.Email .Company.Phone}}
{{with .Company.Email}}Email: {{.}}{{end}}{{if and .Company.Email .Company.Phone}} | {{end}}{{with .Company.Phone}}Phone: {{.}}{{end}}{{end}}

Order:    #{{.Order.ID}}
Placed:   {{.Order.CreatedAt.Format "2006-01-02 15:04"}}
Status:   {{.Order.Status}}
Customer: {{with .Customer.DisplayName}}{{.}}{{else}}{{.Order.ShippingAddress.Name}}{{end}}
{{- with .Customer.Email}}
Email:    {{.}}{{end}}

Ship to:
  {{.Order.ShippingAddress.Name}}
  {{.Order.ShippingAddress.Street}}
  {{.Order.ShippingAddress.City}}, {{.Order.ShippingAddress.State}} {{.Order.ShippingAddress.Zip}}
  {{.Order.ShippingAddress.Country}}

{{printf "%-30s %10s %5s %10s" "ITEM" "PRICE" "QTY" "TOTAL"}}
{{- range .Order.Items}}
{{printf "%-30s %10s %5d %10s" .Name (money .Price) .Quantity (money (line .))}}
{{- end}}

{{printf "%-30s %27s" "Subtotal" (money .Totals.Subtotal)}}
{{printf "%-30s %27s" (printf "Shipping (%s)" .Order.ShippingMethod) (money .Totals.Shipping)}}
{{printf "%-30s %27s" "Tax" (money .Totals.Tax)}}
{{printf "%-30s %27s" "Total" (money .Totals.Total)}}

Thank you for shopping with {{.Company.Name}}!
{{- with .Company.Email}}
For inquiries, contact us at {{.}}{{end}}
{{.Company.Name}} (c) {{.Order.CreatedAt.Year}}
`))

// renderReceipt writes a plain-text receipt. Customer details are printed
// only when customer owns the order.
func renderReceipt(out io.Writer, company config.Company, customer domain.Identity, o *domain.Order) error {
	if customer.UserID != o.UserID {
		customer = domain.Identity{UserID: o.UserID}
	}
	return receiptTmpl.Execute(out, receiptData{
		Company:  company,
		Customer: customer,
		Order:    o,
		Totals:   o.Totals.Display(),
	})
}
