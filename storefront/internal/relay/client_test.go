package relay

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fjod/shopfront/pkg/circuitbreaker"
	"github.com/fjod/shopfront/pkg/logger"
	"github.com/fjod/shopfront/storefront/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	cfg := circuitbreaker.Config{MaxFailures: 3, OpenTimeout: time.Minute, HalfOpenRequests: 1}
	return NewClient(srv.URL+"/", time.Second, cfg, logger.Nop())
}

func TestCreatePaymentSheet_Success(t *testing.T) {
	var gotBody string
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/payment-sheet", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		body, _ := io.ReadAll(r.Body)
		gotBody = string(body)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"paymentIntent":"pi_1_secret_a","ephemeralKey":"ek_1","customer":"cus_1"}`))
	})

	intent, err := client.CreatePaymentSheet(context.Background(), 3700, "usd")
	require.NoError(t, err)

	assert.JSONEq(t, `{"amount":37.00,"currency":"usd"}`, gotBody)
	assert.Equal(t, "pi_1_secret_a", intent.ClientSecret)
	assert.Equal(t, "ek_1", intent.EphemeralKey)
	assert.Equal(t, "cus_1", intent.Customer)
	assert.Equal(t, "pi_1", intent.ID())
}

func TestCreatePaymentSheet_SendsExactCents(t *testing.T) {
	var amount json.Number
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Amount json.Number `json:"amount"`
		}
		dec := json.NewDecoder(r.Body)
		dec.UseNumber()
		require.NoError(t, dec.Decode(&req))
		amount = req.Amount
		w.Write([]byte(`{"paymentIntent":"pi_1_secret_a","ephemeralKey":"ek","customer":"cus"}`))
	})

	_, err := client.CreatePaymentSheet(context.Background(), 3701, "usd")
	require.NoError(t, err)

	assert.Equal(t, json.Number("37.01"), amount)
}

func TestCreatePaymentSheet_RejectsOutOfRangeAmount(t *testing.T) {
	var calls atomic.Int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	})

	for _, amount := range []int64{0, domain.MaxChargeMinor + 1} {
		_, err := client.CreatePaymentSheet(context.Background(), amount, "usd")

		var verr *domain.ValidationError
		require.True(t, errors.As(err, &verr), amount)
	}
	assert.Zero(t, calls.Load())
}

func TestCreatePaymentSheet_BadRequestIsValidationError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":"invalid amount provided"}`))
	})

	_, err := client.CreatePaymentSheet(context.Background(), 100, "usd")

	var verr *domain.ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, "invalid amount provided", verr.Message)
}

func TestCreatePaymentSheet_ServerErrorIsNetworkError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"error":"An error occurred while processing the payment","details":"Your card was declined."}`))
	})

	_, err := client.CreatePaymentSheet(context.Background(), 100, "usd")

	var nerr *domain.NetworkError
	require.True(t, errors.As(err, &nerr))
	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusInternalServerError, se.Status)
	assert.Equal(t, "Your card was declined.", se.Details)
}

func TestCreatePaymentSheet_MalformedResponse(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"paymentIntent":`))
	})

	_, err := client.CreatePaymentSheet(context.Background(), 100, "usd")

	var nerr *domain.NetworkError
	assert.True(t, errors.As(err, &nerr))
}

func TestCreatePaymentSheet_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()
	client := NewClient(url, time.Second, circuitbreaker.DefaultConfig(), logger.Nop())

	_, err := client.CreatePaymentSheet(context.Background(), 100, "usd")

	var nerr *domain.NetworkError
	assert.True(t, errors.As(err, &nerr))
}

func TestBreaker_OpensOnServerErrors(t *testing.T) {
	var calls atomic.Int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	})

	for i := 0; i < 3; i++ {
		_, err := client.CreatePaymentSheet(context.Background(), 100, "usd")
		require.Error(t, err)
	}
	_, err := client.CreatePaymentSheet(context.Background(), 100, "usd")

	assert.ErrorIs(t, err, circuitbreaker.ErrOpen)
	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, "open", client.BreakerState())
}

func TestBreaker_IgnoresClientErrors(t *testing.T) {
	var calls atomic.Int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":"invalid amount provided"}`))
	})

	for i := 0; i < 5; i++ {
		_, err := client.CreatePaymentSheet(context.Background(), 100, "usd")
		require.Error(t, err)
	}

	assert.Equal(t, int32(5), calls.Load())
	assert.Equal(t, "closed", client.BreakerState())
}

func TestRefund_Success(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/refund-payment", r.URL.Path)
		var req map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "pi_1", req["paymentIntentId"])
		w.Write([]byte(`{"success":true,"message":"Refund successful","refund":{"id":"re_1","status":"succeeded","amount":3700,"currency":"usd","payment_intent":"pi_1"}}`))
	})

	refund, err := client.Refund(context.Background(), "pi_1")
	require.NoError(t, err)

	assert.Equal(t, "re_1", refund.ID)
	assert.Equal(t, int64(3700), refund.Amount)
	assert.Equal(t, "pi_1", refund.PaymentIntent)
}

func TestRefund_MissingReference(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("relay must not be called")
	})

	_, err := client.Refund(context.Background(), " ")

	var verr *domain.ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, "Payment Intent ID is required", verr.Message)
}

func TestRefund_ProcessorFailure(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"error":"Charge has already been refunded."}`))
	})

	_, err := client.Refund(context.Background(), "pi_1")

	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, "Charge has already been refunded.", se.Message)
}
