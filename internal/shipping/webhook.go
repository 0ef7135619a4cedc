package shipping

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/linemk/resale-orders/internal/domain/models"
)

// SignatureHeader - заголовок с подписью вебхука перевозчика.
const SignatureHeader = "X-ME-Signature"

var (
	ErrInvalidSignature = errors.New("invalid webhook signature")
	ErrNoWebhookSecret  = errors.New("carrier webhook secret is not configured")
	ErrMalformedWebhook = errors.New("malformed webhook payload")
)

// WebhookEvent - уведомление перевозчика об изменении отправления.
type WebhookEvent struct {
	Event        string
	LabelID      string
	TrackingCode string
	RawStatus    string
	Update       models.CarrierUpdate
}

type webhookPayload struct {
	Event string `json:"event"`
	Data  struct {
		ID          string `json:"id"`
		Status      string `json:"status"`
		Tracking    string `json:"tracking"`
		PostedAt    string `json:"posted_at"`
		DeliveredAt string `json:"delivered_at"`
		UpdatedAt   string `json:"updated_at"`
	} `json:"data"`
}

// VerifySignature проверяет base64(HMAC-SHA256(body)). Без секрета уведомления не принимаются.
func VerifySignature(body []byte, signature, secret string) error {
	if secret == "" {
		return fmt.Errorf("%w: %w", ErrInvalidSignature, ErrNoWebhookSecret)
	}
	got, err := base64.StdEncoding.DecodeString(strings.TrimSpace(signature))
	if err != nil {
		return ErrInvalidSignature
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	if !hmac.Equal(got, mac.Sum(nil)) {
		return ErrInvalidSignature
	}
	return nil
}

// Sign считает подпись тела вебхука.
func Sign(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// ParseWebhook разбирает уведомление и нормализует статус.
// Время события: delivered_at, затем updated_at, затем posted_at.
func ParseWebhook(body []byte) (*WebhookEvent, error) {
	var p webhookPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedWebhook, err)
	}
	if strings.TrimSpace(p.Data.Tracking) == "" {
		return nil, fmt.Errorf("%w: tracking code is missing", ErrMalformedWebhook)
	}

	raw := p.Data.Status
	if raw == "" {
		raw = strings.TrimPrefix(p.Event, "order.")
	}

	ev := &WebhookEvent{
		Event:        p.Event,
		LabelID:      p.Data.ID,
		TrackingCode: p.Data.Tracking,
		RawStatus:    raw,
		Update:       models.CarrierUpdate{Status: Normalize(raw)},
	}
	for _, s := range []string{p.Data.DeliveredAt, p.Data.UpdatedAt, p.Data.PostedAt} {
		if t, ok := parseCarrierTime(s); ok {
			ev.Update.OccurredAt = t
			break
		}
	}
	return ev, nil
}
