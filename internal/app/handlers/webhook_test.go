package handlers_test

import (
	"bytes"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/linemk/resale-orders/internal/app/handlers"
	"github.com/linemk/resale-orders/internal/domain/models"
	"github.com/linemk/resale-orders/internal/payment"
	"github.com/linemk/resale-orders/internal/service"
	"github.com/linemk/resale-orders/internal/shipping"
	"github.com/stretchr/testify/assert"
)

const carrierSecret = "carrier-secret"

func carrierRequest(body, signature string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/webhooks/carrier", bytes.NewBufferString(body))
	if signature != "" {
		req.Header.Set(shipping.SignatureHeader, signature)
	}
	return req
}

func TestCarrierWebhookHandler_Delivered(t *testing.T) {
	var gotCode string
	var gotUpdate models.CarrierUpdate
	svc := &fakeOrderService{onCarrierCode: func(code string, u models.CarrierUpdate) (*models.Order, error) {
		gotCode, gotUpdate = code, u
		return sampleOrder(models.StatusDelivered), nil
	}}
	body := `{"event":"order.delivered","data":{"status":"delivered","tracking":"BR123456789BR","delivered_at":"2026-10-14 15:30:00"}}`

	rr := httptest.NewRecorder()
	handlers.CarrierWebhookHandler(testLogger(), carrierSecret, svc).ServeHTTP(rr, carrierRequest(body, shipping.Sign([]byte(body), carrierSecret)))

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "BR123456789BR", gotCode)
	assert.Equal(t, models.TrackingDelivered, gotUpdate.Status)
	assert.False(t, gotUpdate.OccurredAt.IsZero())
}

func TestCarrierWebhookHandler_BadSignature(t *testing.T) {
	body := `{"event":"order.delivered","data":{"tracking":"BR1"}}`
	rr := httptest.NewRecorder()
	handlers.CarrierWebhookHandler(testLogger(), carrierSecret, &fakeOrderService{}).ServeHTTP(rr, carrierRequest(body, shipping.Sign([]byte(body), "other")))
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestCarrierWebhookHandler_IgnoresNonRetryable(t *testing.T) {
	for _, err := range []error{service.ErrOrderNotFound, service.ErrInvalidTransition} {
		svc := &fakeOrderService{onCarrierCode: func(string, models.CarrierUpdate) (*models.Order, error) {
			return nil, fmt.Errorf("op: %w", err)
		}}
		body := `{"event":"order.posted","data":{"status":"posted","tracking":"BR1234567890"}}`

		rr := httptest.NewRecorder()
		handlers.CarrierWebhookHandler(testLogger(), carrierSecret, svc).ServeHTTP(rr, carrierRequest(body, shipping.Sign([]byte(body), carrierSecret)))
		assert.Equal(t, http.StatusOK, rr.Code, "non-retryable %v must be acknowledged", err)
	}
}

func TestCarrierWebhookHandler_InternalErrorAsksForRetry(t *testing.T) {
	svc := &fakeOrderService{onCarrierCode: func(string, models.CarrierUpdate) (*models.Order, error) {
		return nil, assert.AnError
	}}
	body := `{"event":"order.posted","data":{"status":"posted","tracking":"BR1234567890"}}`

	rr := httptest.NewRecorder()
	handlers.CarrierWebhookHandler(testLogger(), carrierSecret, svc).ServeHTTP(rr, carrierRequest(body, shipping.Sign([]byte(body), carrierSecret)))
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
}

func TestCarrierWebhookHandler_Malformed(t *testing.T) {
	body := `{"event":`
	rr := httptest.NewRecorder()
	handlers.CarrierWebhookHandler(testLogger(), carrierSecret, &fakeOrderService{}).ServeHTTP(rr, carrierRequest(body, shipping.Sign([]byte(body), carrierSecret)))
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestCarrierWebhookHandler_NoSecretRejectsEverything(t *testing.T) {
	called := false
	svc := &fakeOrderService{onCarrierCode: func(string, models.CarrierUpdate) (*models.Order, error) {
		called = true
		return sampleOrder(models.StatusDelivered), nil
	}}
	body := `{"event":"order.delivered","data":{"status":"delivered","tracking":"BR123456789BR"}}`

	for _, sig := range []string{"", shipping.Sign([]byte(body), "")} {
		rr := httptest.NewRecorder()
		handlers.CarrierWebhookHandler(testLogger(), "", svc).ServeHTTP(rr, carrierRequest(body, sig))
		assert.Equal(t, http.StatusUnauthorized, rr.Code)
	}
	assert.False(t, called, "delivery must not be applied without a configured secret")
}

func paymentRequest() *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/webhooks/payment", bytes.NewBufferString(`{}`))
	req.Header.Set("Stripe-Signature", "t=1,v1=abc")
	return req
}

func TestPaymentWebhookHandler_ConfirmsPayment(t *testing.T) {
	orderID := uuid.New()
	var gotID uuid.UUID
	var gotRef string
	svc := &fakeOrderService{confirmPayment: func(id uuid.UUID, ref string) (*models.Order, error) {
		gotID, gotRef = id, ref
		return sampleOrder(models.StatusPendingShipment), nil
	}}
	parser := &fakeWebhookParser{conf: &payment.Confirmation{OrderID: orderID, Reference: "pi_9"}}

	rr := httptest.NewRecorder()
	handlers.PaymentWebhookHandler(testLogger(), parser, svc).ServeHTTP(rr, paymentRequest())

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, orderID, gotID)
	assert.Equal(t, "pi_9", gotRef)
}

func TestPaymentWebhookHandler_Rejections(t *testing.T) {
	svc := &fakeOrderService{}

	rr := httptest.NewRecorder()
	handlers.PaymentWebhookHandler(testLogger(), &fakeWebhookParser{err: payment.ErrInvalidSignature}, svc).ServeHTTP(rr, paymentRequest())
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = httptest.NewRecorder()
	handlers.PaymentWebhookHandler(testLogger(), &fakeWebhookParser{err: fmt.Errorf("x: %w", payment.ErrIgnoredEvent)}, svc).ServeHTTP(rr, paymentRequest())
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestPaymentWebhookHandler_CancelledOrderAcknowledged(t *testing.T) {
	svc := &fakeOrderService{confirmPayment: func(uuid.UUID, string) (*models.Order, error) {
		return nil, fmt.Errorf("op: %w", service.ErrInvalidTransition)
	}}
	parser := &fakeWebhookParser{conf: &payment.Confirmation{OrderID: uuid.New(), Reference: "pi_1"}}

	rr := httptest.NewRecorder()
	handlers.PaymentWebhookHandler(testLogger(), parser, svc).ServeHTTP(rr, paymentRequest())
	assert.Equal(t, http.StatusOK, rr.Code)
}
