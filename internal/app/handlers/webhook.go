package handlers

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/linemk/resale-orders/internal/payment"
	"github.com/linemk/resale-orders/internal/service"
	"github.com/linemk/resale-orders/internal/shipping"
)

const stripeSignatureHeader = "Stripe-Signature"

// PaymentWebhookParser проверяет подпись уведомления провайдера и извлекает подтверждение оплаты.
type PaymentWebhookParser interface {
	ParseWebhook(payload []byte, signature string) (*payment.Confirmation, error)
}

// CarrierWebhookHandler обрабатывает POST /webhooks/carrier.
// Уведомления приходят не по порядку и повторно; сервис применяет только продвижение статуса.
// Неповторяемые отказы отвечают 200, чтобы перевозчик не слал их снова.
func CarrierWebhookHandler(log *slog.Logger, secret string, orders service.OrderService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.CarrierWebhookHandler"
		logger := log.With(slog.String("op", op))

		body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
		if err != nil {
			badRequest(w, logger, "failed to read body")
			return
		}
		if err := shipping.VerifySignature(body, r.Header.Get(shipping.SignatureHeader), secret); err != nil {
			logger.Warn("carrier webhook rejected", slog.Any("error", err))
			http.Error(w, "invalid signature", http.StatusUnauthorized)
			return
		}

		ev, err := shipping.ParseWebhook(body)
		if err != nil {
			badRequest(w, logger, err.Error())
			return
		}
		logger = logger.With(
			slog.String("event", ev.Event),
			slog.String("tracking_code", ev.TrackingCode),
			slog.String("carrier_status", ev.RawStatus),
		)

		o, err := orders.OnCarrierUpdateByCode(r.Context(), ev.TrackingCode, ev.Update)
		if err != nil {
			switch service.Kind(err) {
			case service.KindOrderNotFound, service.KindInvalidTransition,
				service.KindMissingTrackingCode, service.KindInvalidTrackingCode:
				logger.Warn("carrier update ignored", slog.Any("error", err))
				w.WriteHeader(http.StatusOK)
				return
			}
			writeError(w, logger, err)
			return
		}

		logger.Info("carrier update processed", slog.String("order_id", o.ID.String()), slog.String("status", string(o.Status)))
		w.WriteHeader(http.StatusOK)
	}
}

// PaymentWebhookHandler обрабатывает POST /webhooks/payment.
// Провайдер доставляет событие минимум один раз: повтор подтверждения ничего не меняет.
func PaymentWebhookHandler(log *slog.Logger, parser PaymentWebhookParser, orders service.OrderService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.PaymentWebhookHandler"
		logger := log.With(slog.String("op", op))

		body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
		if err != nil {
			badRequest(w, logger, "failed to read body")
			return
		}

		conf, err := parser.ParseWebhook(body, r.Header.Get(stripeSignatureHeader))
		if err != nil {
			if errors.Is(err, payment.ErrIgnoredEvent) {
				logger.Debug("payment event ignored", slog.Any("error", err))
				w.WriteHeader(http.StatusOK)
				return
			}
			logger.Warn("payment webhook rejected", slog.Any("error", err))
			badRequest(w, logger, "invalid payment webhook")
			return
		}
		logger = logger.With(slog.String("order_id", conf.OrderID.String()), slog.String("reference", conf.Reference))

		o, err := orders.ConfirmPayment(r.Context(), conf.OrderID, conf.Reference)
		if err != nil {
			switch service.Kind(err) {
			case service.KindOrderNotFound, service.KindInvalidTransition:
				// оплата пришла для отменённого или чужого заказа: нужен ручной возврат
				logger.Error("payment confirmation not applied, manual refund required", slog.Any("error", err))
				w.WriteHeader(http.StatusOK)
				return
			}
			writeError(w, logger, err)
			return
		}

		logger.Info("payment confirmed", slog.String("status", string(o.Status)))
		w.WriteHeader(http.StatusOK)
	}
}
