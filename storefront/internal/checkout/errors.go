package checkout

import "errors"

var (
	ErrWrongStep         = errors.New("operation not allowed in the current checkout step")
	ErrPaymentInProgress = errors.New("payment is already in progress")
	ErrPaymentConfirmed  = errors.New("payment is confirmed, the order must be placed")
	ErrNoIntent          = errors.New("no payment intent is ready")
	ErrSuperseded        = errors.New("payment intent request was superseded")
	ErrClosed            = errors.New("checkout session is closed")
	ErrOrderPlaced       = errors.New("order was already placed for this checkout")
)
