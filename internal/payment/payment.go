// Package payment создаёт платёжные намерения и разбирает вебхуки провайдера.
package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/linemk/resale-orders/internal/domain/models"
	"github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/client"
	"github.com/stripe/stripe-go/v81/webhook"
)

var (
	ErrInvalidSignature = errors.New("invalid webhook signature")
	// ErrIgnoredEvent - событие провайдера, на которое заказ не реагирует.
	ErrIgnoredEvent = errors.New("event type not handled")
	// ErrPaymentNotVerified - провайдер не подтверждает оплату заказа по этой ссылке.
	ErrPaymentNotVerified = errors.New("payment is not confirmed by provider")
)

const metadataOrderID = "order_id"

// Intent - платёжное намерение, которое клиент подтверждает у провайдера.
type Intent struct {
	ID           string `json:"id"`
	ClientSecret string `json:"client_secret"`
}

// Confirmation - сигнал об успешной оплате заказа.
type Confirmation struct {
	OrderID   uuid.UUID
	Reference string
}

type StripeProcessor struct {
	log           *slog.Logger
	api           *client.API
	currency      string
	webhookSecret string
}

type StripeConfig struct {
	SecretKey     string
	WebhookSecret string
	Currency      string
	// Backends переопределяет адрес API; используется в тестах.
	Backends *stripe.Backends
}

func NewStripeProcessor(log *slog.Logger, cfg StripeConfig) *StripeProcessor {
	api := &client.API{}
	api.Init(cfg.SecretKey, cfg.Backends)
	return &StripeProcessor{
		log:           log,
		api:           api,
		currency:      cfg.Currency,
		webhookSecret: cfg.WebhookSecret,
	}
}

// CreateIntent создаёт намерение на total_amount заказа. id заказа уходит в metadata,
// по нему вебхук находит заказ.
func (p *StripeProcessor) CreateIntent(ctx context.Context, o *models.Order) (*Intent, error) {
	const op = "payment.StripeProcessor.CreateIntent"

	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(o.TotalAmount.Shift(2).Round(0).IntPart()),
		Currency: stripe.String(p.currency),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
		Description: stripe.String("Order " + o.OrderNumber),
	}
	params.Context = ctx
	params.AddMetadata(metadataOrderID, o.ID.String())
	params.AddMetadata("order_number", o.OrderNumber)
	params.SetIdempotencyKey("order-" + o.ID.String())

	pi, err := p.api.PaymentIntents.New(params)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	p.log.Info("payment intent created", slog.String("op", op), slog.String("order_id", o.ID.String()), slog.String("intent_id", pi.ID))
	return &Intent{ID: pi.ID, ClientSecret: pi.ClientSecret}, nil
}

// ParseWebhook проверяет подпись и извлекает подтверждение оплаты.
// Для остальных типов событий возвращает ErrIgnoredEvent.
func (p *StripeProcessor) ParseWebhook(payload []byte, signature string) (*Confirmation, error) {
	const op = "payment.StripeProcessor.ParseWebhook"

	event, err := webhook.ConstructEventWithOptions(payload, signature, p.webhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %v", op, ErrInvalidSignature, err)
	}

	if event.Type != stripe.EventTypePaymentIntentSucceeded {
		return nil, fmt.Errorf("%s: %w: %s", op, ErrIgnoredEvent, event.Type)
	}

	var pi stripe.PaymentIntent
	if err := json.Unmarshal(event.Data.Raw, &pi); err != nil {
		return nil, fmt.Errorf("%s: failed to decode payment intent: %w", op, err)
	}

	orderID, err := uuid.Parse(pi.Metadata[metadataOrderID])
	if err != nil {
		return nil, fmt.Errorf("%s: payment intent %s has no valid order_id: %w", op, pi.ID, err)
	}
	return &Confirmation{OrderID: orderID, Reference: pi.ID}, nil
}

// VerifyPayment сверяет ссылку на оплату с провайдером: намерение должно быть оплачено
// и принадлежать именно этому заказу.
func (p *StripeProcessor) VerifyPayment(ctx context.Context, orderID uuid.UUID, reference string) error {
	const op = "payment.StripeProcessor.VerifyPayment"

	params := &stripe.PaymentIntentParams{}
	params.Context = ctx
	pi, err := p.api.PaymentIntents.Get(reference, params)
	if err != nil {
		var stripeErr *stripe.Error
		if errors.As(err, &stripeErr) && stripeErr.HTTPStatusCode >= 400 && stripeErr.HTTPStatusCode < 500 {
			return fmt.Errorf("%s: %w: %s", op, ErrPaymentNotVerified, stripeErr.Msg)
		}
		return fmt.Errorf("%s: %w", op, err)
	}
	if pi.Status != stripe.PaymentIntentStatusSucceeded {
		return fmt.Errorf("%s: %w: intent %s is %s", op, ErrPaymentNotVerified, pi.ID, pi.Status)
	}
	if pi.Metadata[metadataOrderID] != orderID.String() {
		return fmt.Errorf("%s: %w: intent %s belongs to another order", op, ErrPaymentNotVerified, pi.ID)
	}
	return nil
}

// Disabled используется, когда ключ провайдера не настроен: заказы создаются без намерения.
type Disabled struct{}

func (Disabled) CreateIntent(context.Context, *models.Order) (*Intent, error) {
	return nil, nil
}

func (Disabled) ParseWebhook([]byte, string) (*Confirmation, error) {
	return nil, ErrInvalidSignature
}

// VerifyPayment без провайдера подтвердить оплату нельзя.
func (Disabled) VerifyPayment(context.Context, uuid.UUID, string) error {
	return ErrPaymentNotVerified
}
