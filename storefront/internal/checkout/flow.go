// Package checkout drives one checkout attempt from shipping details to a
// placed order.
package checkout

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/fjod/shopfront/storefront/internal/domain"
	"github.com/google/uuid"
)

type Step int

const (
	StepShipping Step = iota
	StepPayment
	StepComplete
)

func (s Step) String() string {
	switch s {
	case StepShipping:
		return "shipping"
	case StepPayment:
		return "payment"
	case StepComplete:
		return "complete"
	}
	return fmt.Sprintf("step(%d)", int(s))
}

type CartReader interface {
	UserID() string
	Snapshot() domain.Cart
}

type IntentCreator interface {
	CreatePaymentSheet(ctx context.Context, amountMinor int64, currency string) (*domain.PaymentIntent, error)
}

type PaymentConfirmer interface {
	Confirm(ctx context.Context, intent domain.PaymentIntent) (*domain.PaymentConfirmation, error)
}

type OrderPlacer interface {
	PlaceOrder(ctx context.Context, req domain.PlaceOrderRequest) (*domain.Order, error)
}

type Deps struct {
	Intents   IntentCreator
	Confirmer PaymentConfirmer
	Orders    OrderPlacer
	Rates     Rates
	Currency  string
	Timeout   time.Duration
	Log       *slog.Logger
}

// Flow is one checkout session. It is not persisted; closing it drops any
// response still in flight.
type Flow struct {
	mu sync.Mutex

	step   Step
	cart   domain.Cart
	form   domain.ShippingForm
	method domain.ShippingMethod
	totals domain.Totals

	intent    *domain.PaymentIntent
	intentSeq uint64
	confirmed *domain.PaymentConfirmation
	order     *domain.Order

	idempotencyKey string
	paying         bool
	closed         bool

	source CartReader
	deps   Deps
	log    *slog.Logger
}

func New(source CartReader, deps Deps) *Flow {
	if deps.Rates == (Rates{}) {
		deps.Rates = DefaultRates()
	}
	if deps.Currency == "" {
		deps.Currency = "usd"
	}
	if deps.Timeout <= 0 {
		deps.Timeout = 30 * time.Second
	}
	log := deps.Log
	if log == nil {
		log = slog.Default()
	}

	f := &Flow{
		step:           StepShipping,
		form:           domain.ShippingForm{Country: domain.DefaultCountry},
		method:         domain.ShippingStandard,
		idempotencyKey: uuid.NewString(),
		source:         source,
		deps:           deps,
	}
	f.log = log.With("checkout", f.idempotencyKey, "user_id", source.UserID())
	f.cart = source.Snapshot()
	f.totals = deps.Rates.Compute(f.cart.Items, f.method)
	return f
}

func (f *Flow) Step() Step {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.step
}

// Totals are unrounded; call Display on the result for presentation.
func (f *Flow) Totals() domain.Totals {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.totals
}

func (f *Flow) Form() domain.ShippingForm {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.form
}

func (f *Flow) Method() domain.ShippingMethod {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.method
}

// Intent returns the current payment intent, or nil when none is ready.
func (f *Flow) Intent() *domain.PaymentIntent {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.intent == nil {
		return nil
	}
	cp := *f.intent
	return &cp
}

func (f *Flow) IdempotencyKey() string {
	return f.idempotencyKey
}

func (f *Flow) Order() *domain.Order {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.order
}

// SetShippingForm replaces the form. Only allowed in the shipping step.
func (f *Flow) SetShippingForm(form domain.ShippingForm) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.usableLocked(); err != nil {
		return err
	}
	if f.step != StepShipping {
		return ErrWrongStep
	}
	f.form = form
	return nil
}

// ContinueToPayment validates the shipping form and moves to the payment
// step, then requests a payment intent for the current total. A validation
// failure leaves the flow in the shipping step. An intent failure leaves the
// flow in the payment step with no intent; RetryIntent requests a new one.
func (f *Flow) ContinueToPayment(ctx context.Context) error {
	f.mu.Lock()
	if err := f.usableLocked(); err != nil {
		f.mu.Unlock()
		return err
	}
	if f.step != StepShipping {
		f.mu.Unlock()
		return ErrWrongStep
	}

	cart := f.source.Snapshot()
	if cart.IsEmpty() {
		f.mu.Unlock()
		return &domain.ValidationError{Message: "cart is empty"}
	}
	form := f.form.Trimmed()
	if err := form.Validate(); err != nil {
		f.mu.Unlock()
		return err
	}

	f.cart = cart
	f.form = form
	f.totals = f.deps.Rates.Compute(cart.Items, f.method)
	f.step = StepPayment
	seq, amount, err := f.invalidateIntentLocked()
	f.mu.Unlock()
	if err != nil {
		return err
	}

	f.log.InfoContext(ctx, "checkout entered payment step", "amount_minor", amount)
	return f.requestIntent(ctx, seq, amount)
}

// SetShippingMethod recomputes the totals. In the payment step the current
// intent is discarded before a new one is requested for the new total.
func (f *Flow) SetShippingMethod(ctx context.Context, method domain.ShippingMethod) error {
	if !method.Valid() {
		return &domain.ValidationError{Fields: []string{"shippingMethod"}, Message: "unknown shipping method"}
	}

	f.mu.Lock()
	if err := f.usableLocked(); err != nil {
		f.mu.Unlock()
		return err
	}
	if err := f.intentLockedErr(); err != nil {
		f.mu.Unlock()
		return err
	}
	if f.method == method && (f.step != StepPayment || f.intent != nil) {
		f.mu.Unlock()
		return nil
	}

	f.method = method
	f.totals = f.deps.Rates.Compute(f.cart.Items, method)
	if f.step != StepPayment {
		f.mu.Unlock()
		return nil
	}
	seq, amount, err := f.invalidateIntentLocked()
	f.mu.Unlock()
	if err != nil {
		return err
	}

	return f.requestIntent(ctx, seq, amount)
}

// RetryIntent requests a fresh intent after a failed attempt.
func (f *Flow) RetryIntent(ctx context.Context) error {
	f.mu.Lock()
	if err := f.usableLocked(); err != nil {
		f.mu.Unlock()
		return err
	}
	if f.step != StepPayment {
		f.mu.Unlock()
		return ErrWrongStep
	}
	if err := f.intentLockedErr(); err != nil {
		f.mu.Unlock()
		return err
	}
	seq, amount, err := f.invalidateIntentLocked()
	f.mu.Unlock()
	if err != nil {
		return err
	}

	return f.requestIntent(ctx, seq, amount)
}

// Back returns to the shipping step keeping the form. Any outstanding intent
// is discarded.
func (f *Flow) Back() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.usableLocked(); err != nil {
		return err
	}
	if err := f.intentLockedErr(); err != nil {
		return err
	}
	if f.step != StepPayment {
		return ErrWrongStep
	}
	f.invalidateIntentLocked()
	f.step = StepShipping
	return nil
}

// Pay confirms the payment and places the order. Only one call runs at a
// time. When confirmation succeeds but the order write fails, a retry reuses
// the confirmation and the idempotency key, so a second order is never
// created for the same payment.
func (f *Flow) Pay(ctx context.Context) (*domain.Order, error) {
	f.mu.Lock()
	if err := f.usableLocked(); err != nil {
		f.mu.Unlock()
		return nil, err
	}
	if f.paying {
		f.mu.Unlock()
		return nil, ErrPaymentInProgress
	}
	if f.step != StepPayment {
		f.mu.Unlock()
		return nil, ErrWrongStep
	}
	if f.intent == nil {
		f.mu.Unlock()
		return nil, ErrNoIntent
	}
	f.paying = true
	intent := *f.intent
	confirmed := f.confirmed
	f.mu.Unlock()

	defer func() {
		f.mu.Lock()
		f.paying = false
		f.mu.Unlock()
	}()

	ctx, cancel := context.WithTimeout(ctx, f.deps.Timeout)
	defer cancel()

	if confirmed == nil {
		c, err := f.deps.Confirmer.Confirm(ctx, intent)
		if err != nil {
			f.log.WarnContext(ctx, "payment confirmation failed", "intent_id", intent.ID(), "error", err)
			return nil, asNetworkError("confirm payment", err)
		}
		if c.IntentID == "" {
			c.IntentID = intent.ID()
		}
		confirmed = c

		f.mu.Lock()
		f.confirmed = c
		f.mu.Unlock()
	}

	f.mu.Lock()
	req := domain.PlaceOrderRequest{
		UserID:           f.source.UserID(),
		Items:            f.cart.Items,
		ShippingAddress:  f.form,
		ShippingMethod:   f.method,
		Totals:           f.totals,
		PaymentMethod:    confirmed.PaymentMethod,
		PaymentIntentRef: confirmed.IntentID,
		IdempotencyKey:   f.idempotencyKey,
	}
	f.mu.Unlock()

	order, err := f.deps.Orders.PlaceOrder(ctx, req)
	if err != nil {
		f.log.ErrorContext(ctx, "order placement failed", "intent_id", confirmed.IntentID, "error", err)
		return nil, err
	}

	f.mu.Lock()
	if f.closed {
		f.log.InfoContext(ctx, "order placed after checkout was closed", "order_id", order.ID)
	} else {
		f.order = order
		f.step = StepComplete
		f.intent = nil
	}
	f.mu.Unlock()

	f.log.InfoContext(ctx, "order placed", "order_id", order.ID, "total", order.Totals.Total.StringFixed(2))
	return order, nil
}

// Close abandons the session. Responses that arrive afterwards are ignored.
func (f *Flow) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	f.intentSeq++
	f.intent = nil
}

func (f *Flow) usableLocked() error {
	if f.closed {
		return ErrClosed
	}
	if f.step == StepComplete {
		return ErrOrderPlaced
	}
	return nil
}

// intentLockedErr reports whether the intent may still change. After a
// successful confirmation the intent is fixed until the order is placed.
func (f *Flow) intentLockedErr() error {
	if f.paying {
		return ErrPaymentInProgress
	}
	if f.confirmed != nil {
		return ErrPaymentConfirmed
	}
	return nil
}

// invalidateIntentLocked drops the current intent and returns the sequence
// number and amount for the next request.
func (f *Flow) invalidateIntentLocked() (uint64, int64, error) {
	f.intentSeq++
	f.intent = nil
	amount, err := f.totals.MinorUnits()
	return f.intentSeq, amount, err
}

// requestIntent applies the relay response only if no newer request was
// started and the session is still open.
func (f *Flow) requestIntent(ctx context.Context, seq uint64, amountMinor int64) error {
	ctx, cancel := context.WithTimeout(ctx, f.deps.Timeout)
	defer cancel()

	intent, err := f.deps.Intents.CreatePaymentSheet(ctx, amountMinor, f.deps.Currency)

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return ErrClosed
	}
	if seq != f.intentSeq {
		f.log.DebugContext(ctx, "dropping stale payment intent response", "seq", seq, "current", f.intentSeq)
		return ErrSuperseded
	}
	if err != nil {
		f.log.WarnContext(ctx, "payment intent request failed", "amount_minor", amountMinor, "error", err)
		return asNetworkError("create payment intent", err)
	}
	f.intent = intent
	return nil
}

// asNetworkError wraps err unless it is already a classified error.
func asNetworkError(op string, err error) error {
	var ne *domain.NetworkError
	var ve *domain.ValidationError
	if errors.As(err, &ne) || errors.As(err, &ve) {
		return err
	}
	return &domain.NetworkError{Op: op, Err: err}
}
