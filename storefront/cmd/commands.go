package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/fjod/shopfront/storefront/internal/checkout"
	"github.com/fjod/shopfront/storefront/internal/domain"
	"github.com/fjod/shopfront/storefront/internal/orders"
	"github.com/fjod/shopfront/storefront/internal/payment"
)

type appFunc func() *app

func newLoginCmd(get appFunc) *cobra.Command {
	var email, name string
	var admin bool

	cmd := &cobra.Command{
		Use:   "login USER_ID",
		Short: "Sign in and restore the saved cart",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a := get()
			c, err := a.sessions.Login(cmd.Context(), domain.Identity{
				UserID:      args[0],
				Email:       email,
				DisplayName: name,
				Admin:       admin,
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Signed in as %s (%d items in cart)\n", args[0], c.ItemCount())
			return nil
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "account email (required)")
	cmd.Flags().StringVar(&name, "name", "", "display name")
	cmd.Flags().BoolVar(&admin, "admin", false, "sign in with operator rights")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func newLogoutCmd(get appFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Sign out, clearing the cart and the cached identity",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := get().sessions.Logout(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Signed out")
			return nil
		},
	}
}

func newProductsCmd(get appFunc) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "products",
		Short: "Browse the catalog",
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List all products",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				svc, err := get().catalogService()
				if err != nil {
					return err
				}
				products, err := svc.ListProducts(cmd.Context())
				if err != nil {
					return err
				}
				printProducts(cmd.OutOrStdout(), products)
				return nil
			},
		},
		&cobra.Command{
			Use:   "categories",
			Short: "List categories",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				svc, err := get().catalogService()
				if err != nil {
					return err
				}
				categories, err := svc.ListCategories(cmd.Context())
				if err != nil {
					return err
				}
				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "ID\tNAME")
				for _, c := range categories {
					fmt.Fprintf(w, "%s\t%s\n", c.ID, c.Name)
				}
				return w.Flush()
			},
		},
		&cobra.Command{
			Use:   "category CATEGORY_ID",
			Short: "List products in a category",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				svc, err := get().catalogService()
				if err != nil {
					return err
				}
				products, err := svc.ListByCategory(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				printProducts(cmd.OutOrStdout(), products)
				return nil
			},
		},
		&cobra.Command{
			Use:   "search QUERY",
			Short: "Search product names, descriptions and categories",
			Args:  cobra.MinimumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				svc, err := get().catalogService()
				if err != nil {
					return err
				}
				products, err := svc.Search(cmd.Context(), strings.Join(args, " "))
				if err != nil {
					return err
				}
				printProducts(cmd.OutOrStdout(), products)
				return nil
			},
		},
		&cobra.Command{
			Use:   "show PRODUCT_ID",
			Short: "Show one product",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				svc, err := get().catalogService()
				if err != nil {
					return err
				}
				p, err := svc.GetProduct(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "%s  %s\n", p.ID, p.Name)
				fmt.Fprintf(out, "Price:    $%s\n", p.Price.StringFixed(2))
				fmt.Fprintf(out, "Category: %s\n", p.CategoryID)
				fmt.Fprintf(out, "In stock: %t\n", p.InStock)
				fmt.Fprintf(out, "\n%s\n", p.Description)
				return nil
			},
		},
	)
	return cmd
}

func printProducts(out io.Writer, products []domain.Product) {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tCATEGORY\tPRICE")
	for _, p := range products {
		name := p.Name
		if p.Featured {
			name += " *"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t$%s\n", p.ID, name, p.CategoryID, p.Price.StringFixed(2))
	}
	w.Flush()
}

func newCartCmd(get appFunc) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cart",
		Short: "Manage the cart",
	}

	var qty int
	add := &cobra.Command{
		Use:   "add PRODUCT_ID",
		Short: "Add a product, or increase its quantity",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a := get()
			_, c, err := a.restore(cmd.Context())
			if err != nil {
				return err
			}
			svc, err := a.catalogService()
			if err != nil {
				return err
			}
			p, err := svc.GetProduct(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			c.AddProduct(*p, qty)
			printCart(cmd.OutOrStdout(), c.Snapshot())
			return nil
		},
	}
	add.Flags().IntVarP(&qty, "qty", "q", 1, "quantity to add")

	cmd.AddCommand(
		add,
		&cobra.Command{
			Use:   "remove PRODUCT_ID",
			Short: "Remove a product",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				_, c, err := get().restore(cmd.Context())
				if err != nil {
					return err
				}
				c.RemoveItem(args[0])
				printCart(cmd.OutOrStdout(), c.Snapshot())
				return nil
			},
		},
		&cobra.Command{
			Use:   "set PRODUCT_ID QUANTITY",
			Short: "Set the quantity of a product; 0 removes it",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				n, err := strconv.Atoi(args[1])
				if err != nil {
					return fmt.Errorf("invalid quantity %q", args[1])
				}
				_, c, err := get().restore(cmd.Context())
				if err != nil {
					return err
				}
				c.SetQuantity(args[0], n)
				printCart(cmd.OutOrStdout(), c.Snapshot())
				return nil
			},
		},
		&cobra.Command{
			Use:   "clear",
			Short: "Empty the cart",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				_, c, err := get().restore(cmd.Context())
				if err != nil {
					return err
				}
				c.Clear()
				fmt.Fprintln(cmd.OutOrStdout(), "Cart cleared")
				return nil
			},
		},
		&cobra.Command{
			Use:   "show",
			Short: "Show the cart",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				_, c, err := get().restore(cmd.Context())
				if err != nil {
					return err
				}
				printCart(cmd.OutOrStdout(), c.Snapshot())
				return nil
			},
		},
	)
	return cmd
}

func printCart(out io.Writer, c domain.Cart) {
	if c.IsEmpty() {
		fmt.Fprintln(out, "Cart is empty")
		return
	}
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tQTY\tPRICE\tLINE")
	for _, item := range c.Items {
		fmt.Fprintf(w, "%s\t%s\t%d\t$%s\t$%s\n", item.ProductID, item.Name, item.Quantity,
			item.UnitPrice.StringFixed(2), item.LineTotal().StringFixed(2))
	}
	fmt.Fprintf(w, "\t\t%d\t\t$%s\n", c.ItemCount(), c.Subtotal().StringFixed(2))
	w.Flush()
}

func newCheckoutCmd(get appFunc) *cobra.Command {
	var form domain.ShippingForm
	var method string
	var retries int

	cmd := &cobra.Command{
		Use:   "checkout",
		Short: "Pay for the cart and place the order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a := get()
			ctx := cmd.Context()
			out := cmd.OutOrStdout()

			if a.cfg.StripePublishableKey == "" {
				return errors.New("STRIPE_PUBLISHABLE_KEY is required for checkout")
			}
			shipping, ok := domain.ParseShippingMethod(method)
			if !ok {
				return &domain.ValidationError{Fields: []string{"method"}, Message: fmt.Sprintf("unknown shipping method %q", method)}
			}

			_, c, err := a.restore(ctx)
			if err != nil {
				return err
			}
			repo, err := a.orderStore(ctx)
			if err != nil {
				return err
			}

			flow := checkout.New(c, checkout.Deps{
				Intents:   a.relayAPI(),
				Confirmer: payment.NewStripeConfirmer(a.cfg.StripePublishableKey, a.cfg.PaymentMethod, "", a.log),
				Orders:    orders.NewWriter(repo, c, a.eventPublisher(), 0, a.log),
				Currency:  a.cfg.Currency,
				Log:       a.log,
			})
			defer flow.Close()

			if err := flow.SetShippingForm(form); err != nil {
				return err
			}
			if err := flow.SetShippingMethod(ctx, shipping); err != nil {
				return err
			}

			err = flow.ContinueToPayment(ctx)
			for attempt := 0; err != nil && attempt < retries; attempt++ {
				var nerr *domain.NetworkError
				if !errors.As(err, &nerr) {
					break
				}
				a.log.Warn("payment intent failed, retrying", "attempt", attempt+1, "error", err)
				err = flow.RetryIntent(ctx)
			}
			if err != nil {
				return err
			}

			printTotals(out, flow.Method(), flow.Totals())

			order, err := flow.Pay(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "\nOrder %s placed (%s)\n", order.ID, order.Status)
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVar(&form.Name, "name", "", "recipient name")
	f.StringVar(&form.Street, "street", "", "street address")
	f.StringVar(&form.City, "city", "", "city")
	f.StringVar(&form.State, "state", "", "state")
	f.StringVar(&form.Zip, "zip", "", "zip code")
	f.StringVar(&form.Country, "country", domain.DefaultCountry, "country")
	f.StringVar(&method, "method", string(domain.ShippingStandard), "shipping method: standard or express")
	f.IntVar(&retries, "retries", 2, "payment intent retries on network failure")
	return cmd
}

func printTotals(out io.Writer, method domain.ShippingMethod, t domain.Totals) {
	d := t.Display()
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintf(w, "Subtotal\t$%s\t\n", d.Subtotal.StringFixed(2))
	fmt.Fprintf(w, "Shipping (%s)\t$%s\t\n", method, d.Shipping.StringFixed(2))
	fmt.Fprintf(w, "Tax\t$%s\t\n", d.Tax.StringFixed(2))
	fmt.Fprintf(w, "Total\t$%s\t\n", d.Total.StringFixed(2))
	w.Flush()
}

func newOrdersCmd(get appFunc) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "orders",
		Short: "Order history",
	}

	var refund bool
	cancel := &cobra.Command{
		Use:   "cancel ORDER_ID",
		Short: "Cancel an order that has not been delivered",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a := get()
			id, _, err := a.restore(cmd.Context())
			if err != nil {
				return err
			}
			svc, err := a.orderService(cmd.Context())
			if err != nil {
				return err
			}
			order, err := svc.CancelOrder(cmd.Context(), id, args[0], refund)
			if order != nil {
				fmt.Fprintf(cmd.OutOrStdout(), "Order %s is %s\n", order.ID, order.Status)
			}
			return err
		},
	}
	cancel.Flags().BoolVar(&refund, "refund", false, "refund the payment")

	var receiptPath string
	receipt := &cobra.Command{
		Use:   "receipt ORDER_ID",
		Short: "Print a receipt for an order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a := get()
			id, _, err := a.restore(cmd.Context())
			if err != nil {
				return err
			}
			svc, err := a.orderService(cmd.Context())
			if err != nil {
				return err
			}
			order, err := svc.GetOrder(cmd.Context(), id, args[0])
			if err != nil {
				return err
			}
			if receiptPath == "" {
				return renderReceipt(cmd.OutOrStdout(), a.cfg.Company, id, order)
			}

			f, err := os.Create(receiptPath)
			if err != nil {
				return fmt.Errorf("create receipt file: %w", err)
			}
			if err := renderReceipt(f, a.cfg.Company, id, order); err != nil {
				f.Close()
				return err
			}
			if err := f.Close(); err != nil {
				return fmt.Errorf("write receipt file: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Receipt saved to %s\n", receiptPath)
			return nil
		},
	}
	receipt.Flags().StringVarP(&receiptPath, "out", "o", "", "write the receipt to a file instead of stdout")

	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List your orders, newest first",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				a := get()
				id, _, err := a.restore(cmd.Context())
				if err != nil {
					return err
				}
				svc, err := a.orderService(cmd.Context())
				if err != nil {
					return err
				}
				list, err := svc.ListOrders(cmd.Context(), id)
				if err != nil {
					return err
				}
				printOrders(cmd.OutOrStdout(), list)
				return nil
			},
		},
		&cobra.Command{
			Use:   "show ORDER_ID",
			Short: "Show one order",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				a := get()
				id, _, err := a.restore(cmd.Context())
				if err != nil {
					return err
				}
				svc, err := a.orderService(cmd.Context())
				if err != nil {
					return err
				}
				order, err := svc.GetOrder(cmd.Context(), id, args[0])
				if err != nil {
					return err
				}
				printOrder(cmd.OutOrStdout(), order)
				return nil
			},
		},
		receipt,
		cancel,
	)
	return cmd
}

func newAdminCmd(get appFunc) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "admin",
		Short: "Operator commands",
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "orders",
			Short: "List every order",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				a := get()
				id, _, err := a.restore(cmd.Context())
				if err != nil {
					return err
				}
				svc, err := a.orderService(cmd.Context())
				if err != nil {
					return err
				}
				list, err := svc.ListAllOrders(cmd.Context(), id)
				if err != nil {
					return err
				}
				printOrders(cmd.OutOrStdout(), list)
				return nil
			},
		},
		&cobra.Command{
			Use:   "set-status ORDER_ID STATUS",
			Short: "Move an order to Shipped, Delivered or Cancelled",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				a := get()
				id, _, err := a.restore(cmd.Context())
				if err != nil {
					return err
				}
				svc, err := a.orderService(cmd.Context())
				if err != nil {
					return err
				}
				order, err := svc.SetStatus(cmd.Context(), id, args[0], parseStatus(args[1]))
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Order %s is %s\n", order.ID, order.Status)
				return nil
			},
		},
	)
	return cmd
}

// parseStatus matches a status name in any case. Unknown names pass through
// and are rejected by the order service.
func parseStatus(s string) domain.OrderStatus {
	for _, st := range []domain.OrderStatus{
		domain.OrderStatusProcessing,
		domain.OrderStatusShipped,
		domain.OrderStatusDelivered,
		domain.OrderStatusCancelled,
	} {
		if strings.EqualFold(s, string(st)) {
			return st
		}
	}
	return domain.OrderStatus(s)
}

func printOrders(out io.Writer, list []*domain.Order) {
	if len(list) == 0 {
		fmt.Fprintln(out, "No orders")
		return
	}
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tDATE\tSTATUS\tITEMS\tTOTAL")
	for _, o := range list {
		n := 0
		for _, item := range o.Items {
			n += item.Quantity
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t$%s\n", o.ID, o.CreatedAt.Format("2006-01-02 15:04"),
			o.Status, n, o.Totals.Total.StringFixed(2))
	}
	w.Flush()
}

func printOrder(out io.Writer, o *domain.Order) {
	fmt.Fprintf(out, "Order %s\n", o.ID)
	fmt.Fprintf(out, "Status:  %s\n", o.Status)
	fmt.Fprintf(out, "Placed:  %s\n", o.CreatedAt.Format("2006-01-02 15:04"))
	a := o.ShippingAddress
	fmt.Fprintf(out, "Ship to: %s, %s, %s, %s %s, %s\n\n", a.Name, a.Street, a.City, a.State, a.Zip, a.Country)

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tQTY\tPRICE")
	for _, item := range o.Items {
		fmt.Fprintf(w, "%s\t%d\t$%s\n", item.Name, item.Quantity, item.Price.StringFixed(2))
	}
	w.Flush()
	fmt.Fprintln(out)
	printTotals(out, o.ShippingMethod, o.Totals)
}
