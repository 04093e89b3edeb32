package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/fjod/shopfront/payment-relay/internal/processor"
	"github.com/shopspring/decimal"
)

type PaymentService interface {
	CreatePaymentSheet(ctx context.Context, amountMinor int64, currency string) (*processor.PaymentSheet, error)
	Refund(ctx context.Context, paymentIntentRef string) (*processor.Refund, error)
}

type PaymentHandler struct {
	service PaymentService
	timeout time.Duration
	log     *slog.Logger
}

func NewPaymentHandler(service PaymentService, timeout time.Duration, log *slog.Logger) *PaymentHandler {
	return &PaymentHandler{
		service: service,
		timeout: timeout,
		log:     log,
	}
}

type PaymentSheetRequestDTO struct {
	Amount   json.RawMessage `json:"amount"`
	Currency string          `json:"currency"`
}

type RefundRequestDTO struct {
	PaymentIntentID string `json:"paymentIntentId"`
}

type RefundResponseDTO struct {
	Success bool              `json:"success"`
	Message string            `json:"message"`
	Refund  *processor.Refund `json:"refund"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// POST /payment-sheet
func (h *PaymentHandler) CreatePaymentSheet(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	var req PaymentSheetRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body", "")
		return
	}

	amountMinor, err := ToMinorUnits(req.Amount)
	if err != nil {
		respondError(w, http.StatusBadRequest, processor.ErrInvalidAmount.Error(), "")
		return
	}

	sheet, err := h.service.CreatePaymentSheet(ctx, amountMinor, req.Currency)
	if err != nil {
		if errors.Is(err, processor.ErrInvalidAmount) {
			respondError(w, http.StatusBadRequest, processor.ErrInvalidAmount.Error(), "")
			return
		}
		h.log.ErrorContext(ctx, "payment sheet failed", "error", err)
		respondError(w, http.StatusInternalServerError,
			"An error occurred while processing the payment", processor.Message(err))
		return
	}

	respondJSON(w, http.StatusOK, sheet)
}

// POST /refund-payment
func (h *PaymentHandler) RefundPayment(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	var req RefundRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body", "")
		return
	}

	refund, err := h.service.Refund(ctx, req.PaymentIntentID)
	if err != nil {
		if errors.Is(err, processor.ErrMissingReference) {
			respondError(w, http.StatusBadRequest, "Payment Intent ID is required", "")
			return
		}
		h.log.ErrorContext(ctx, "refund failed", "error", err)
		respondError(w, http.StatusInternalServerError, processor.Message(err), "")
		return
	}

	respondJSON(w, http.StatusOK, RefundResponseDTO{
		Success: true,
		Message: "Refund successful",
		Refund:  refund,
	})
}

var hundred = decimal.NewFromInt(100)

// ToMinorUnits parses a major-unit amount (JSON number or numeric string)
// and converts it to whole minor units. Missing, null, non-numeric and
// non-positive amounts are rejected, as is anything above the processor
// maximum.
func ToMinorUnits(raw json.RawMessage) (int64, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return 0, processor.ErrInvalidAmount
	}

	var amount decimal.Decimal
	if err := amount.UnmarshalJSON(raw); err != nil {
		return 0, processor.ErrInvalidAmount
	}

	minor := amount.Mul(hundred).Round(0)
	if !minor.IsPositive() || !minor.BigInt().IsInt64() || minor.IntPart() > processor.MaxAmountMinor {
		return 0, processor.ErrInvalidAmount
	}
	return minor.IntPart(), nil
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

func respondError(w http.ResponseWriter, status int, message, details string) {
	respondJSON(w, status, ErrorResponse{
		Error:   message,
		Details: details,
	})
}
