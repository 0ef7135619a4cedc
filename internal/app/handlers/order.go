package handlers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/linemk/resale-orders/internal/domain/models"
	"github.com/linemk/resale-orders/internal/payment"
	"github.com/linemk/resale-orders/internal/service"
	"github.com/shopspring/decimal"
)

// CreateOrderRequest - тело POST /api/orders.
type CreateOrderRequest struct {
	ProductID     string           `json:"product_id" validate:"required,uuid"`
	AddressID     *string          `json:"address_id" validate:"omitempty,uuid"`
	PaymentMethod string           `json:"payment_method" validate:"omitempty,oneof=pix credit_card boleto"`
	ShippingPrice *decimal.Decimal `json:"shipping_price"`
}

type ConfirmPaymentRequest struct {
	PaymentReference string `json:"payment_reference" validate:"required,max=255"`
}

// MarkShippedRequest - пустой трек-номер проверяет сервис и отвечает MissingTrackingCode.
type MarkShippedRequest struct {
	TrackingCode string `json:"tracking_code" validate:"max=64"`
	Carrier      string `json:"carrier" validate:"max=100"`
}

type IssueLabelRequest struct {
	ServiceID int `json:"service_id" validate:"required,gt=0"`
}

type CancelOrderRequest struct {
	Reason string `json:"reason" validate:"max=500"`
}

// OrderResponse - снимок заказа после операции.
type OrderResponse struct {
	Order *models.Order `json:"order"`
}

type OrdersResponse struct {
	Orders []*models.Order `json:"orders"`
}

// CreateOrderHandler обрабатывает POST /api/orders.
func CreateOrderHandler(log *slog.Logger, orders service.OrderService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.CreateOrderHandler"
		logger := log.With(slog.String("op", op))

		buyerID, ok := actor(w, r, logger)
		if !ok {
			return
		}

		var req CreateOrderRequest
		if err := decodeRequest(r, &req, false); err != nil {
			badRequest(w, logger, err.Error())
			return
		}

		in := service.CreateOrderInput{
			BuyerID:       buyerID,
			ProductID:     uuid.MustParse(req.ProductID),
			PaymentMethod: req.PaymentMethod,
			ShippingPrice: req.ShippingPrice,
		}
		if req.AddressID != nil {
			addressID := uuid.MustParse(*req.AddressID)
			in.AddressID = &addressID
		}

		res, err := orders.Create(r.Context(), in)
		if err != nil {
			writeError(w, logger, err)
			return
		}
		writeJSON(w, logger, http.StatusCreated, res)
	}
}

// GetOrderHandler обрабатывает GET /api/orders/{id}.
func GetOrderHandler(log *slog.Logger, orders service.OrderService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.GetOrderHandler"
		logger := log.With(slog.String("op", op))

		userID, ok := actor(w, r, logger)
		if !ok {
			return
		}
		orderID, ok := orderIDParam(w, r, logger)
		if !ok {
			return
		}

		o, err := orders.Get(r.Context(), orderID, userID)
		if err != nil {
			writeError(w, logger, err)
			return
		}
		writeJSON(w, logger, http.StatusOK, OrderResponse{Order: o})
	}
}

// PaymentVerifier сверяет ссылку на оплату с платёжным провайдером.
type PaymentVerifier interface {
	VerifyPayment(ctx context.Context, orderID uuid.UUID, reference string) error
}

// ConfirmPaymentHandler обрабатывает POST /api/orders/{id}/confirm-payment.
// Ссылка от клиента принимается только после сверки с провайдером; повтор безопасен.
func ConfirmPaymentHandler(log *slog.Logger, orders service.OrderService, verifier PaymentVerifier) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.ConfirmPaymentHandler"
		logger := log.With(slog.String("op", op))

		userID, ok := actor(w, r, logger)
		if !ok {
			return
		}
		orderID, ok := orderIDParam(w, r, logger)
		if !ok {
			return
		}

		var req ConfirmPaymentRequest
		if err := decodeRequest(r, &req, false); err != nil {
			badRequest(w, logger, err.Error())
			return
		}

		if _, err := orders.Get(r.Context(), orderID, userID); err != nil {
			writeError(w, logger, err)
			return
		}
		if err := verifier.VerifyPayment(r.Context(), orderID, req.PaymentReference); err != nil {
			if errors.Is(err, payment.ErrPaymentNotVerified) {
				logger.Warn("payment reference rejected", slog.String("reference", req.PaymentReference), slog.Any("error", err))
				writeError(w, logger, fmt.Errorf("%w: %v", service.ErrPaymentNotVerified, err))
				return
			}
			writeError(w, logger, err)
			return
		}
		o, err := orders.ConfirmPayment(r.Context(), orderID, req.PaymentReference)
		if err != nil {
			writeError(w, logger, err)
			return
		}
		writeJSON(w, logger, http.StatusOK, OrderResponse{Order: o})
	}
}

// MarkShippedHandler обрабатывает POST /api/orders/{id}/mark-shipped.
func MarkShippedHandler(log *slog.Logger, orders service.OrderService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.MarkShippedHandler"
		logger := log.With(slog.String("op", op))

		sellerID, ok := actor(w, r, logger)
		if !ok {
			return
		}
		orderID, ok := orderIDParam(w, r, logger)
		if !ok {
			return
		}

		var req MarkShippedRequest
		if err := decodeRequest(r, &req, false); err != nil {
			badRequest(w, logger, err.Error())
			return
		}

		o, err := orders.MarkShipped(r.Context(), orderID, sellerID, req.TrackingCode, req.Carrier)
		if err != nil {
			writeError(w, logger, err)
			return
		}
		writeJSON(w, logger, http.StatusOK, OrderResponse{Order: o})
	}
}

// IssueLabelHandler обрабатывает POST /api/orders/{id}/label.
func IssueLabelHandler(log *slog.Logger, orders service.OrderService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.IssueLabelHandler"
		logger := log.With(slog.String("op", op))

		sellerID, ok := actor(w, r, logger)
		if !ok {
			return
		}
		orderID, ok := orderIDParam(w, r, logger)
		if !ok {
			return
		}

		var req IssueLabelRequest
		if err := decodeRequest(r, &req, false); err != nil {
			badRequest(w, logger, err.Error())
			return
		}

		res, err := orders.IssueLabelAndShip(r.Context(), orderID, sellerID, req.ServiceID)
		if err != nil {
			writeError(w, logger, err)
			return
		}
		writeJSON(w, logger, http.StatusOK, res)
	}
}

// ConfirmReceiptHandler обрабатывает POST /api/orders/{id}/confirm-receipt.
func ConfirmReceiptHandler(log *slog.Logger, orders service.OrderService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.ConfirmReceiptHandler"
		logger := log.With(slog.String("op", op))

		buyerID, ok := actor(w, r, logger)
		if !ok {
			return
		}
		orderID, ok := orderIDParam(w, r, logger)
		if !ok {
			return
		}

		o, err := orders.ConfirmReceipt(r.Context(), orderID, buyerID)
		if err != nil {
			writeError(w, logger, err)
			return
		}
		writeJSON(w, logger, http.StatusOK, OrderResponse{Order: o})
	}
}

// CancelOrderHandler обрабатывает POST /api/orders/{id}/cancel. Тело с причиной необязательно.
func CancelOrderHandler(log *slog.Logger, orders service.OrderService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.CancelOrderHandler"
		logger := log.With(slog.String("op", op))

		userID, ok := actor(w, r, logger)
		if !ok {
			return
		}
		orderID, ok := orderIDParam(w, r, logger)
		if !ok {
			return
		}

		var req CancelOrderRequest
		if err := decodeRequest(r, &req, true); err != nil {
			badRequest(w, logger, err.Error())
			return
		}

		o, err := orders.Cancel(r.Context(), orderID, userID, req.Reason)
		if err != nil {
			writeError(w, logger, err)
			return
		}
		writeJSON(w, logger, http.StatusOK, OrderResponse{Order: o})
	}
}

// TrackingHandler обрабатывает GET /api/orders/{id}/tracking.
func TrackingHandler(log *slog.Logger, orders service.OrderService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.TrackingHandler"
		logger := log.With(slog.String("op", op))

		userID, ok := actor(w, r, logger)
		if !ok {
			return
		}
		orderID, ok := orderIDParam(w, r, logger)
		if !ok {
			return
		}

		res, err := orders.Tracking(r.Context(), orderID, userID)
		if err != nil {
			writeError(w, logger, err)
			return
		}
		writeJSON(w, logger, http.StatusOK, res)
	}
}

// ListPurchasesHandler обрабатывает GET /api/orders/purchases?status=...
func ListPurchasesHandler(log *slog.Logger, orders service.OrderService) http.HandlerFunc {
	return listHandler(log, "handlers.ListPurchasesHandler", orders.ListPurchases)
}

// ListSalesHandler обрабатывает GET /api/orders/sales?status=...
func ListSalesHandler(log *slog.Logger, orders service.OrderService) http.HandlerFunc {
	return listHandler(log, "handlers.ListSalesHandler", orders.ListSales)
}

type listFunc func(ctx context.Context, userID uuid.UUID, status *models.OrderStatus) ([]*models.Order, error)

func listHandler(log *slog.Logger, op string, list listFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		logger := log.With(slog.String("op", op))

		userID, ok := actor(w, r, logger)
		if !ok {
			return
		}

		var status *models.OrderStatus
		if raw := r.URL.Query().Get("status"); raw != "" {
			st, err := models.ParseOrderStatus(raw)
			if err != nil {
				badRequest(w, logger, err.Error())
				return
			}
			status = &st
		}

		result, err := list(r.Context(), userID, status)
		if err != nil {
			writeError(w, logger, err)
			return
		}
		writeJSON(w, logger, http.StatusOK, OrdersResponse{Orders: result})
	}
}
