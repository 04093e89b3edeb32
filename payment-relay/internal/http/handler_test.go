package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/fjod/shopfront/payment-relay/internal/processor"
	"github.com/fjod/shopfront/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type ServiceMock struct {
	sheet     *processor.PaymentSheet
	refund    *processor.Refund
	err       error
	gotAmount int64
	gotCur    string
	gotRef    string
}

func (m *ServiceMock) CreatePaymentSheet(_ context.Context, amountMinor int64, currency string) (*processor.PaymentSheet, error) {
	m.gotAmount = amountMinor
	m.gotCur = currency
	if m.err != nil {
		return nil, m.err
	}
	return m.sheet, nil
}

func (m *ServiceMock) Refund(_ context.Context, ref string) (*processor.Refund, error) {
	m.gotRef = ref
	if m.err != nil {
		return nil, m.err
	}
	return m.refund, nil
}

func newTestRouter(svc PaymentService) http.Handler {
	h := NewPaymentHandler(svc, 5*time.Second, logger.Nop())
	return NewRouter(h, RouterConfig{RequestTimeout: 5 * time.Second, MaxRequestBodySize: 1 << 20}, logger.Nop())
}

func post(t *testing.T, router http.Handler, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	recorder := httptest.NewRecorder()
	request := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	request.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(recorder, request)
	return recorder
}

func TestCreatePaymentSheet_Success(t *testing.T) {
	svc := &ServiceMock{sheet: &processor.PaymentSheet{
		PaymentIntent: "pi_1_secret_x",
		EphemeralKey:  "ek_1",
		Customer:      "cus_1",
	}}

	recorder := post(t, newTestRouter(svc), "/payment-sheet", `{"amount": 37.00, "currency": "usd"}`)

	require.Equal(t, http.StatusOK, recorder.Code)
	var resp map[string]string
	require.NoError(t, json.NewDecoder(recorder.Body).Decode(&resp))
	assert.Equal(t, "pi_1_secret_x", resp["paymentIntent"])
	assert.Equal(t, "ek_1", resp["ephemeralKey"])
	assert.Equal(t, "cus_1", resp["customer"])
	assert.Equal(t, int64(3700), svc.gotAmount)
	assert.Equal(t, "usd", svc.gotCur)
}

func TestCreatePaymentSheet_InvalidAmount(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"missing", `{"currency": "usd"}`},
		{"null", `{"amount": null}`},
		{"non-numeric", `{"amount": "ten"}`},
		{"boolean", `{"amount": true}`},
		{"zero", `{"amount": 0}`},
		{"negative", `{"amount": -5}`},
		{"rounds to zero", `{"amount": 0.004}`},
		{"past int64", `{"amount": 1e20}`},
		{"wraps negative", `{"amount": 1e17}`},
		{"above processor maximum", `{"amount": 1000000}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &ServiceMock{}
			recorder := post(t, newTestRouter(svc), "/payment-sheet", tt.body)

			assert.Equal(t, http.StatusBadRequest, recorder.Code)
			var resp ErrorResponse
			require.NoError(t, json.NewDecoder(recorder.Body).Decode(&resp))
			assert.Equal(t, "invalid amount provided", resp.Error)
			assert.Zero(t, svc.gotAmount, "service must not be called")
		})
	}
}

func TestToMinorUnits_Bounds(t *testing.T) {
	got, err := ToMinorUnits(json.RawMessage(`999999.99`))
	require.NoError(t, err)
	assert.Equal(t, processor.MaxAmountMinor, got)

	_, err = ToMinorUnits(json.RawMessage(`1e20`))
	assert.ErrorIs(t, err, processor.ErrInvalidAmount)
}

func TestCreatePaymentSheet_NumericString(t *testing.T) {
	svc := &ServiceMock{sheet: &processor.PaymentSheet{}}
	recorder := post(t, newTestRouter(svc), "/payment-sheet", `{"amount": "12.345"}`)

	assert.Equal(t, http.StatusOK, recorder.Code)
	assert.Equal(t, int64(1235), svc.gotAmount)
	assert.Equal(t, "", svc.gotCur)
}

func TestCreatePaymentSheet_InvalidJSON(t *testing.T) {
	recorder := post(t, newTestRouter(&ServiceMock{}), "/payment-sheet", `{"amount":`)
	assert.Equal(t, http.StatusBadRequest, recorder.Code)
}

func TestCreatePaymentSheet_ProcessorError(t *testing.T) {
	svc := &ServiceMock{err: &processor.Error{Op: "create customer", Message: "Invalid API Key provided"}}
	recorder := post(t, newTestRouter(svc), "/payment-sheet", `{"amount": 10}`)

	assert.Equal(t, http.StatusInternalServerError, recorder.Code)
	var resp ErrorResponse
	require.NoError(t, json.NewDecoder(recorder.Body).Decode(&resp))
	assert.Equal(t, "Invalid API Key provided", resp.Details)
	assert.NotEmpty(t, resp.Error)
}

func TestRefundPayment_Success(t *testing.T) {
	svc := &ServiceMock{refund: &processor.Refund{ID: "re_1", Status: "succeeded", PaymentIntent: "pi_1"}}
	recorder := post(t, newTestRouter(svc), "/refund-payment", `{"paymentIntentId": "pi_1"}`)

	require.Equal(t, http.StatusOK, recorder.Code)
	var resp RefundResponseDTO
	require.NoError(t, json.NewDecoder(recorder.Body).Decode(&resp))
	assert.True(t, resp.Success)
	assert.Equal(t, "Refund successful", resp.Message)
	assert.Equal(t, "re_1", resp.Refund.ID)
	assert.Equal(t, "pi_1", svc.gotRef)
}

func TestRefundPayment_MissingReference(t *testing.T) {
	svc := &ServiceMock{err: processor.ErrMissingReference}
	recorder := post(t, newTestRouter(svc), "/refund-payment", `{}`)

	assert.Equal(t, http.StatusBadRequest, recorder.Code)
	var resp ErrorResponse
	require.NoError(t, json.NewDecoder(recorder.Body).Decode(&resp))
	assert.Equal(t, "Payment Intent ID is required", resp.Error)
}

func TestRefundPayment_ProcessorError(t *testing.T) {
	svc := &ServiceMock{err: &processor.Error{Op: "create refund", Message: "Charge ch_1 has already been refunded."}}
	recorder := post(t, newTestRouter(svc), "/refund-payment", `{"paymentIntentId": "pi_1"}`)

	assert.Equal(t, http.StatusInternalServerError, recorder.Code)
	var resp ErrorResponse
	require.NoError(t, json.NewDecoder(recorder.Body).Decode(&resp))
	assert.Equal(t, "Charge ch_1 has already been refunded.", resp.Error)
}

func TestHealth(t *testing.T) {
	recorder := httptest.NewRecorder()
	newTestRouter(&ServiceMock{}).ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, recorder.Code)
	assert.Contains(t, recorder.Body.String(), "ok")
}

func TestMetricsExposed(t *testing.T) {
	router := newTestRouter(&ServiceMock{sheet: &processor.PaymentSheet{}})
	post(t, router, "/payment-sheet", `{"amount": 1}`)

	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, recorder.Code)
	assert.Contains(t, recorder.Body.String(), "payment_relay_requests_total")
}
