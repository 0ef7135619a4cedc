package shipping_test

import (
	"testing"
	"time"

	"github.com/linemk/resale-orders/internal/domain/models"
	"github.com/linemk/resale-orders/internal/shipping"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseWebhook_Delivered(t *testing.T) {
	body := []byte(`{"event":"order.delivered","data":{"id":"9d1c","status":"delivered","tracking":"BR123456789BR",
		"posted_at":"2026-10-10 09:00:00","delivered_at":"2026-10-14 15:30:00"}}`)

	ev, err := shipping.ParseWebhook(body)
	require.NoError(t, err)
	assert.Equal(t, "BR123456789BR", ev.TrackingCode)
	assert.Equal(t, "9d1c", ev.LabelID)
	assert.Equal(t, models.TrackingDelivered, ev.Update.Status)
	assert.Equal(t, time.Date(2026, 10, 14, 15, 30, 0, 0, time.UTC), ev.Update.OccurredAt)
}

func TestParseWebhook_StatusFromEventName(t *testing.T) {
	ev, err := shipping.ParseWebhook([]byte(`{"event":"order.posted","data":{"tracking":"BR1","updated_at":"2026-10-11T10:00:00Z"}}`))
	require.NoError(t, err)
	assert.Equal(t, "posted", ev.RawStatus)
	assert.Equal(t, models.TrackingInTransit, ev.Update.Status)
	assert.False(t, ev.Update.OccurredAt.IsZero())
}

func TestParseWebhook_UnknownStatusIsException(t *testing.T) {
	ev, err := shipping.ParseWebhook([]byte(`{"event":"order.canceled","data":{"status":"canceled","tracking":"BR1"}}`))
	require.NoError(t, err)
	assert.Equal(t, models.TrackingException, ev.Update.Status)
}

func TestParseWebhook_Malformed(t *testing.T) {
	_, err := shipping.ParseWebhook([]byte(`{"event":`))
	assert.ErrorIs(t, err, shipping.ErrMalformedWebhook)

	_, err = shipping.ParseWebhook([]byte(`{"event":"order.posted","data":{"status":"posted"}}`))
	assert.ErrorIs(t, err, shipping.ErrMalformedWebhook)
}

func TestVerifySignature(t *testing.T) {
	body := []byte(`{"event":"order.posted"}`)
	sig := shipping.Sign(body, "whsec")

	assert.NoError(t, shipping.VerifySignature(body, sig, "whsec"))
	assert.ErrorIs(t, shipping.VerifySignature(body, sig, "other"), shipping.ErrInvalidSignature)
	assert.ErrorIs(t, shipping.VerifySignature(body, "%%%", "whsec"), shipping.ErrInvalidSignature)
	// без секрета проверка не отключается
	assert.ErrorIs(t, shipping.VerifySignature(body, "", ""), shipping.ErrNoWebhookSecret)
	assert.ErrorIs(t, shipping.VerifySignature(body, shipping.Sign(body, ""), ""), shipping.ErrInvalidSignature)
}
