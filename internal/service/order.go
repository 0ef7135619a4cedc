package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/linemk/resale-orders/internal/commission"
	"github.com/linemk/resale-orders/internal/domain/models"
	"github.com/linemk/resale-orders/internal/events"
	"github.com/linemk/resale-orders/internal/payment"
	"github.com/linemk/resale-orders/internal/shipping"
	"github.com/linemk/resale-orders/internal/storage"
	"github.com/shopspring/decimal"
)

const maxOrderNumberAttempts = 3

var trackingCodePattern = regexp.MustCompile(`^[A-Z0-9]{8,40}$`)

// OrderService - машина состояний заказа. Только её методы меняют status.
type OrderService interface {
	Create(ctx context.Context, in CreateOrderInput) (*CreateOrderResult, error)
	ConfirmPayment(ctx context.Context, orderID uuid.UUID, reference string) (*models.Order, error)
	MarkShipped(ctx context.Context, orderID, sellerID uuid.UUID, trackingCode, carrier string) (*models.Order, error)
	IssueLabelAndShip(ctx context.Context, orderID, sellerID uuid.UUID, serviceID int) (*ShipmentResult, error)
	OnCarrierUpdate(ctx context.Context, orderID uuid.UUID, update models.CarrierUpdate) (*models.Order, error)
	OnCarrierUpdateByCode(ctx context.Context, trackingCode string, update models.CarrierUpdate) (*models.Order, error)
	ConfirmReceipt(ctx context.Context, orderID, buyerID uuid.UUID) (*models.Order, error)
	Cancel(ctx context.Context, orderID, actorID uuid.UUID, reason string) (*models.Order, error)
	Settle(ctx context.Context, orderID uuid.UUID) (bool, error)

	Get(ctx context.Context, orderID, actorID uuid.UUID) (*models.Order, error)
	ListPurchases(ctx context.Context, buyerID uuid.UUID, status *models.OrderStatus) ([]*models.Order, error)
	ListSales(ctx context.Context, sellerID uuid.UUID, status *models.OrderStatus) ([]*models.Order, error)
	Tracking(ctx context.Context, orderID, actorID uuid.UUID) (*TrackingResult, error)
	Quote(ctx context.Context, in QuoteInput) ([]shipping.Quote, error)
}

// PaymentProcessor создаёт платёжное намерение для нового заказа.
type PaymentProcessor interface {
	CreateIntent(ctx context.Context, o *models.Order) (*payment.Intent, error)
}

// EventPublisher доставляет события смены статуса внешним подписчикам.
type EventPublisher interface {
	Publish(ctx context.Context, e events.OrderStatusChanged) error
}

type OrderRepositories struct {
	Orders    storage.OrderStorage
	Products  storage.ProductStorage
	Accounts  storage.AccountStorage
	Ledger    storage.LedgerStorage
	Addresses storage.AddressStorage
}

type OrderConfig struct {
	MinCommission    decimal.Decimal
	FlatShipping     decimal.Decimal
	Promo            commission.Window
	GracePeriod      time.Duration
	OriginPostalCode string
	Package          shipping.Package
	// Now подменяет часы в тестах.
	Now func() time.Time
}

type CreateOrderInput struct {
	BuyerID       uuid.UUID
	ProductID     uuid.UUID
	AddressID     *uuid.UUID
	PaymentMethod string
	// ShippingPrice - цена выбранного тарифа; nil означает фиксированную доставку.
	ShippingPrice *decimal.Decimal
}

type CreateOrderResult struct {
	Order  *models.Order   `json:"order"`
	Intent *payment.Intent `json:"payment_intent,omitempty"`
}

type ShipmentResult struct {
	Order *models.Order   `json:"order"`
	Label *shipping.Label `json:"label"`
}

type TrackingResult struct {
	Order    *models.Order    `json:"order"`
	Tracking *models.Tracking `json:"tracking"`
}

type QuoteInput struct {
	FromPostalCode string
	ToPostalCode   string
	Package        *shipping.Package
	DeclaredValue  decimal.Decimal
}

type orderService struct {
	log      *slog.Logger
	db       *sql.DB
	repos    OrderRepositories
	gateway  shipping.Gateway
	payments PaymentProcessor
	events   EventPublisher
	cfg      OrderConfig
	locks    *orderLocks
	now      func() time.Time
}

func NewOrderService(log *slog.Logger, db *sql.DB, repos OrderRepositories, gateway shipping.Gateway,
	payments PaymentProcessor, publisher EventPublisher, cfg OrderConfig) OrderService {
	now := cfg.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &orderService{
		log:      log,
		db:       db,
		repos:    repos,
		gateway:  gateway,
		payments: payments,
		events:   publisher,
		cfg:      cfg,
		locks:    newOrderLocks(),
		now:      now,
	}
}

// Create резервирует товар и создаёт заказ в pending_payment с замороженным расчётом комиссии.
func (s *orderService) Create(ctx context.Context, in CreateOrderInput) (*CreateOrderResult, error) {
	const op = "service.OrderService.Create"
	logger := s.log.With(
		slog.String("op", op),
		slog.String("buyer_id", in.BuyerID.String()),
		slog.String("product_id", in.ProductID.String()),
	)

	if in.ShippingPrice != nil && in.ShippingPrice.IsNegative() {
		return nil, fmt.Errorf("%s: %w: negative shipping price", op, ErrInvalidRequest)
	}

	addressID, err := s.resolveAddress(ctx, in)
	if err != nil {
		logger.Warn("shipping address rejected", slog.Any("error", err))
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	var order *models.Order
	for attempt := 1; ; attempt++ {
		order, err = s.createOnce(ctx, logger, in, addressID)
		if errors.Is(err, storage.ErrOrderNumberTaken) && attempt < maxOrderNumberAttempts {
			logger.Warn("order number collision, retrying", slog.Int("attempt", attempt))
			continue
		}
		break
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	logger.Info("order created",
		slog.String("order_id", order.ID.String()),
		slog.String("order_number", order.OrderNumber),
		slog.String("commission_amount", order.CommissionAmount.StringFixed(2)),
	)
	s.publish(ctx, order, "")

	res := &CreateOrderResult{Order: order}
	intent, err := s.payments.CreateIntent(ctx, order)
	if err != nil {
		// заказ уже создан; клиент сможет оплатить его повторным запросом намерения
		logger.Error("failed to create payment intent", slog.Any("error", err))
		return res, nil
	}
	res.Intent = intent
	return res, nil
}

func (s *orderService) resolveAddress(ctx context.Context, in CreateOrderInput) (*uuid.UUID, error) {
	if in.AddressID == nil {
		addr, err := s.repos.Addresses.GetDefaultAddress(ctx, in.BuyerID)
		if errors.Is(err, storage.ErrAddressNotFound) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		return &addr.ID, nil
	}

	addr, err := s.repos.Addresses.GetAddressByID(ctx, *in.AddressID)
	if errors.Is(err, storage.ErrAddressNotFound) || (err == nil && addr.UserID != in.BuyerID) {
		return nil, fmt.Errorf("%w: unknown shipping address", ErrInvalidRequest)
	}
	if err != nil {
		return nil, err
	}
	return &addr.ID, nil
}

func (s *orderService) createOnce(ctx context.Context, logger *slog.Logger, in CreateOrderInput, addressID *uuid.UUID) (*models.Order, error) {
	now := s.now()
	number, err := newOrderNumber(now)
	if err != nil {
		return nil, fmt.Errorf("failed to generate order number: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		logger.Error("failed to begin transaction", slog.Any("error", err))
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}

	// Блокируем товар: две покупки одного объявления не пройдут обе
	product, err := s.repos.Products.LockProductTx(ctx, tx, in.ProductID)
	if err != nil {
		rollback(logger, tx)
		if errors.Is(err, storage.ErrProductNotFound) {
			return nil, fmt.Errorf("%w: %v", ErrProductUnavailable, err)
		}
		logger.Error("failed to lock product", slog.Any("error", err))
		return nil, fmt.Errorf("failed to lock product: %w", err)
	}
	if !product.Purchasable() {
		rollback(logger, tx)
		logger.Warn("product is not purchasable", slog.String("product_status", product.Status))
		return nil, ErrProductUnavailable
	}
	if product.SellerID == in.BuyerID {
		rollback(logger, tx)
		return nil, ErrSelfPurchase
	}

	sellerTier, err := s.repos.Accounts.GetTierTx(ctx, tx, product.SellerID)
	if err != nil {
		rollback(logger, tx)
		logger.Error("failed to get seller tier", slog.Any("error", err))
		return nil, fmt.Errorf("failed to get seller tier: %w", err)
	}
	buyerTier, err := s.repos.Accounts.GetTierTx(ctx, tx, in.BuyerID)
	if err != nil {
		rollback(logger, tx)
		logger.Error("failed to get buyer tier", slog.Any("error", err))
		return nil, fmt.Errorf("failed to get buyer tier: %w", err)
	}

	split := commission.ComputeSplit(commission.Input{
		ProductPrice:  product.Price,
		SellerTier:    sellerTier,
		BuyerTier:     buyerTier,
		PromoActive:   s.cfg.Promo.Active(now),
		MinCommission: s.cfg.MinCommission,
	})

	shippingPrice := s.cfg.FlatShipping
	if in.ShippingPrice != nil {
		shippingPrice = *in.ShippingPrice
	}
	shippingPrice = shippingPrice.Round(2)
	productPrice := product.Price.Round(2)

	order := &models.Order{
		ID:                uuid.New(),
		OrderNumber:       number,
		BuyerID:           in.BuyerID,
		SellerID:          product.SellerID,
		ProductID:         product.ID,
		ProductPrice:      productPrice,
		ShippingPrice:     shippingPrice,
		CommissionRate:    split.Rate,
		CommissionAmount:  split.CommissionAmount,
		SellerReceives:    split.SellerReceives,
		CashbackAmount:    split.CashbackAmount,
		TotalAmount:       productPrice.Add(shippingPrice),
		PaymentMethod:     in.PaymentMethod,
		ShippingAddressID: addressID,
		Status:            models.StatusPendingPayment,
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	if err := s.repos.Orders.CreateOrder(ctx, tx, order); err != nil {
		rollback(logger, tx)
		if errors.Is(err, storage.ErrOrderNumberTaken) {
			return nil, err
		}
		logger.Error("failed to create order", slog.Any("error", err))
		return nil, fmt.Errorf("failed to create order: %w", err)
	}

	if err := s.repos.Products.SetProductStatusTx(ctx, tx, product.ID, models.ProductSold); err != nil {
		rollback(logger, tx)
		logger.Error("failed to reserve product", slog.Any("error", err))
		return nil, fmt.Errorf("failed to reserve product: %w", err)
	}

	if err := tx.Commit(); err != nil {
		logger.Error("failed to commit transaction", slog.Any("error", err))
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return order, nil
}

// ConfirmPayment переводит pending_payment -> paid -> pending_shipment.
// Повторный сигнал для уже оплаченного заказа ничего не меняет.
func (s *orderService) ConfirmPayment(ctx context.Context, orderID uuid.UUID, reference string) (*models.Order, error) {
	const op = "service.OrderService.ConfirmPayment"
	reference = strings.TrimSpace(reference)
	if reference == "" {
		return nil, fmt.Errorf("%s: %w: payment reference is required", op, ErrInvalidRequest)
	}

	o, _, err := s.transition(ctx, op, orderID, func(_ context.Context, _ *sql.Tx, o *models.Order, now time.Time) (outcome, error) {
		switch o.Status {
		case models.StatusPaid, models.StatusPendingShipment:
			if o.PaymentReference != nil && *o.PaymentReference != reference {
				s.log.Warn("payment confirmed again with another reference",
					slog.String("op", op),
					slog.String("order_id", o.ID.String()),
					slog.String("stored_reference", *o.PaymentReference),
					slog.String("reference", reference),
				)
			}
			return unchanged, nil
		}

		if err := advance(o, models.StatusPaid, now); err != nil {
			return unchanged, err
		}
		o.PaymentReference = &reference
		o.PaidAt = &now
		if err := advance(o, models.StatusPendingShipment, now); err != nil {
			return unchanged, err
		}
		return updated, nil
	})
	return o, err
}

// MarkShipped - продавец сообщает трек-номер вручную.
func (s *orderService) MarkShipped(ctx context.Context, orderID, sellerID uuid.UUID, trackingCode, carrier string) (*models.Order, error) {
	const op = "service.OrderService.MarkShipped"

	code, err := normalizeTrackingCode(trackingCode)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	o, _, err := s.transition(ctx, op, orderID, shipMutation(sellerID, code, strings.TrimSpace(carrier), nil))
	return o, err
}

// IssueLabelAndShip покупает этикетку у перевозчика и переводит заказ в shipped.
// Если заказ уже нельзя отправить, этикетка отменяется.
func (s *orderService) IssueLabelAndShip(ctx context.Context, orderID, sellerID uuid.UUID, serviceID int) (*ShipmentResult, error) {
	const op = "service.OrderService.IssueLabelAndShip"
	logger := s.log.With(slog.String("op", op), slog.String("order_id", orderID.String()))

	o, err := s.getOrder(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if o.SellerID != sellerID {
		return nil, fmt.Errorf("%s: %w", op, ErrForbidden)
	}
	// быстрый отказ до платного вызова перевозчика; окончательная проверка под блокировкой
	if o.Status != models.StatusPendingShipment {
		return nil, fmt.Errorf("%s: %w: order is %s", op, ErrInvalidTransition, o.Status)
	}

	req, err := s.labelRequest(ctx, o, serviceID)
	if err != nil {
		logger.Warn("cannot build label request", slog.Any("error", err))
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	label, err := s.gateway.IssueLabel(ctx, req)
	if err != nil {
		logger.Error("failed to issue label", slog.Any("error", err))
		return nil, fmt.Errorf("%s: %w", op, gatewayError(err))
	}

	code, err := normalizeTrackingCode(label.TrackingCode)
	if err != nil {
		s.cancelLabel(ctx, logger, label.LabelID)
		return nil, fmt.Errorf("%s: %w: carrier returned no usable tracking code", op, ErrGatewayUnavailable)
	}

	labelID := label.LabelID
	shipped, _, err := s.transition(ctx, op, orderID, shipMutation(sellerID, code, label.Carrier, &labelID))
	if err != nil {
		s.cancelLabel(ctx, logger, label.LabelID)
		return nil, err
	}

	logger.Info("label issued", slog.String("label_id", label.LabelID), slog.String("tracking_code", code))
	return &ShipmentResult{Order: shipped, Label: label}, nil
}

func (s *orderService) labelRequest(ctx context.Context, o *models.Order, serviceID int) (shipping.LabelRequest, error) {
	if o.ShippingAddressID == nil {
		return shipping.LabelRequest{}, fmt.Errorf("%w: order has no shipping address", ErrAddressInvalid)
	}
	to, err := s.repos.Addresses.GetAddressByID(ctx, *o.ShippingAddressID)
	if err != nil {
		if errors.Is(err, storage.ErrAddressNotFound) {
			return shipping.LabelRequest{}, fmt.Errorf("%w: buyer address not found", ErrAddressInvalid)
		}
		return shipping.LabelRequest{}, err
	}
	from, err := s.repos.Addresses.GetDefaultAddress(ctx, o.SellerID)
	if err != nil {
		if errors.Is(err, storage.ErrAddressNotFound) {
			return shipping.LabelRequest{}, fmt.Errorf("%w: seller has no default address", ErrAddressInvalid)
		}
		return shipping.LabelRequest{}, err
	}

	return shipping.LabelRequest{
		ServiceID:     serviceID,
		From:          shipping.PartyFromAddress(from),
		To:            shipping.PartyFromAddress(to),
		Package:       s.cfg.Package,
		DeclaredValue: o.ProductPrice,
		OrderNumber:   o.OrderNumber,
		ProductTitle:  "Order " + o.OrderNumber,
	}, nil
}

func (s *orderService) cancelLabel(ctx context.Context, logger *slog.Logger, labelID string) {
	if labelID == "" {
		return
	}
	if err := s.gateway.CancelLabel(ctx, labelID); err != nil {
		logger.Error("failed to cancel label", slog.String("label_id", labelID), slog.Any("error", err))
	}
}

// OnCarrierUpdate - единая точка входа для вебхука и опроса перевозчика.
// Применяется, только если двигает заказ вперёд; повторы и опоздавшие события игнорируются.
func (s *orderService) OnCarrierUpdate(ctx context.Context, orderID uuid.UUID, update models.CarrierUpdate) (*models.Order, error) {
	const op = "service.OrderService.OnCarrierUpdate"
	logger := s.log.With(slog.String("op", op), slog.String("order_id", orderID.String()))

	var target models.OrderStatus
	switch update.Status {
	case models.TrackingInTransit:
		target = models.StatusInTransit
	case models.TrackingDelivered:
		target = models.StatusDelivered
	default:
		logger.Warn("carrier reported exception, manual review required", slog.String("carrier_status", string(update.Status)))
		o, err := s.getOrder(ctx, orderID)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		return o, nil
	}

	o, _, err := s.transition(ctx, op, orderID, func(_ context.Context, _ *sql.Tx, o *models.Order, now time.Time) (outcome, error) {
		if o.Status == models.StatusCancelled {
			return unchanged, fmt.Errorf("%w: carrier update for cancelled order", ErrInvalidTransition)
		}
		if !o.Status.Before(target) {
			return unchanged, nil
		}
		if err := advance(o, target, now); err != nil {
			return unchanged, err
		}
		if target == models.StatusDelivered {
			at := update.OccurredAt
			if at.IsZero() || at.After(now) {
				at = now
			}
			if o.ShippedAt != nil && at.Before(*o.ShippedAt) {
				at = *o.ShippedAt
			}
			o.DeliveredAt = &at
		}
		return updated, nil
	})
	return o, err
}

func (s *orderService) OnCarrierUpdateByCode(ctx context.Context, trackingCode string, update models.CarrierUpdate) (*models.Order, error) {
	const op = "service.OrderService.OnCarrierUpdateByCode"

	code, err := normalizeTrackingCode(trackingCode)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	id, err := s.repos.Orders.FindOrderIDByTrackingCode(ctx, code)
	if err != nil {
		if errors.Is(err, storage.ErrOrderNotFound) {
			return nil, fmt.Errorf("%s: %w", op, ErrOrderNotFound)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return s.OnCarrierUpdate(ctx, id, update)
}

// ConfirmReceipt - покупатель подтверждает получение; средства освобождаются сразу.
func (s *orderService) ConfirmReceipt(ctx context.Context, orderID, buyerID uuid.UUID) (*models.Order, error) {
	const op = "service.OrderService.ConfirmReceipt"

	o, _, err := s.transition(ctx, op, orderID, func(ctx context.Context, tx *sql.Tx, o *models.Order, now time.Time) (outcome, error) {
		if o.BuyerID != buyerID {
			return unchanged, ErrForbidden
		}
		if o.Status != models.StatusDelivered {
			return unchanged, fmt.Errorf("%w: order is %s", ErrInvalidTransition, o.Status)
		}
		if err := s.settleTx(ctx, tx, o, now); err != nil {
			return unchanged, err
		}
		return written, nil
	})
	// заказ остался delivered, покупатель может повторить подтверждение
	if errors.Is(err, ErrSettlementCreditFailure) {
		return nil, fmt.Errorf("%s: %w: %v", op, ErrTryAgain, err)
	}
	return o, err
}

// Settle освобождает средства по заказу, если истёк срок ожидания после доставки.
// Возвращает false, если заказ не в delivered или срок ещё не наступил.
func (s *orderService) Settle(ctx context.Context, orderID uuid.UUID) (bool, error) {
	const op = "service.OrderService.Settle"

	_, changed, err := s.transition(ctx, op, orderID, func(ctx context.Context, tx *sql.Tx, o *models.Order, now time.Time) (outcome, error) {
		if !o.SettlementDue(now, s.cfg.GracePeriod) {
			return unchanged, nil
		}
		if err := s.settleTx(ctx, tx, o, now); err != nil {
			return unchanged, err
		}
		return written, nil
	})
	if err != nil && !errors.Is(err, ErrSettlementCreditFailure) {
		err = fmt.Errorf("%w: %w", ErrSettlementCreditFailure, err)
	}
	return changed, err
}

// settleTx закрывает заказ и зачисляет средства в одной транзакции.
// Первым идёт условный UPDATE статуса: второй проход по тому же заказу ничего не зачислит.
func (s *orderService) settleTx(ctx context.Context, tx *sql.Tx, o *models.Order, now time.Time) error {
	if err := advance(o, models.StatusCompleted, now); err != nil {
		return err
	}
	if err := s.repos.Orders.CompleteOrderTx(ctx, tx, o.ID, now); err != nil {
		return fmt.Errorf("%w: complete order: %w", ErrSettlementCreditFailure, err)
	}
	o.CompletedAt = &now

	if err := s.repos.Accounts.CreditBalanceTx(ctx, tx, o.SellerID, o.SellerReceives); err != nil {
		return fmt.Errorf("%w: credit seller: %w", ErrSettlementCreditFailure, err)
	}
	if err := s.repos.Ledger.CreateEntryTx(ctx, tx, &models.LedgerEntry{
		ID:          uuid.New(),
		UserID:      o.SellerID,
		OrderID:     o.ID,
		Type:        models.LedgerSale,
		Amount:      o.SellerReceives,
		Description: "Sale " + o.OrderNumber,
		CreatedAt:   now,
	}); err != nil {
		return fmt.Errorf("%w: record sale: %w", ErrSettlementCreditFailure, err)
	}

	if o.CashbackAmount.IsPositive() {
		if err := s.repos.Accounts.CreditCashbackTx(ctx, tx, o.BuyerID, o.CashbackAmount); err != nil {
			return fmt.Errorf("%w: credit cashback: %w", ErrSettlementCreditFailure, err)
		}
		if err := s.repos.Ledger.CreateEntryTx(ctx, tx, &models.LedgerEntry{
			ID:          uuid.New(),
			UserID:      o.BuyerID,
			OrderID:     o.ID,
			Type:        models.LedgerCashback,
			Amount:      o.CashbackAmount,
			Description: "Cashback " + o.OrderNumber,
			CreatedAt:   now,
		}); err != nil {
			return fmt.Errorf("%w: record cashback: %w", ErrSettlementCreditFailure, err)
		}
	}

	if err := s.repos.Accounts.IncrementSalesTx(ctx, tx, o.SellerID); err != nil {
		return fmt.Errorf("%w: increment sales: %w", ErrSettlementCreditFailure, err)
	}
	return nil
}

// Cancel отменяет заказ до отправки и возвращает товар в продажу.
func (s *orderService) Cancel(ctx context.Context, orderID, actorID uuid.UUID, reason string) (*models.Order, error) {
	const op = "service.OrderService.Cancel"
	reason = strings.TrimSpace(reason)

	o, _, err := s.transition(ctx, op, orderID, func(ctx context.Context, tx *sql.Tx, o *models.Order, now time.Time) (outcome, error) {
		if !o.IsParty(actorID) {
			return unchanged, ErrForbidden
		}
		if !o.Status.Before(models.StatusShipped) {
			return unchanged, fmt.Errorf("%w: order is %s", ErrInvalidTransition, o.Status)
		}
		if err := advance(o, models.StatusCancelled, now); err != nil {
			return unchanged, err
		}
		o.CancelledAt = &now
		if reason != "" {
			o.CancelReason = &reason
		}
		if err := s.repos.Products.SetProductStatusTx(ctx, tx, o.ProductID, models.ProductActive); err != nil {
			return unchanged, fmt.Errorf("failed to release product: %w", err)
		}
		return updated, nil
	})
	return o, err
}

func (s *orderService) Get(ctx context.Context, orderID, actorID uuid.UUID) (*models.Order, error) {
	const op = "service.OrderService.Get"

	o, err := s.getOrder(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if !o.IsParty(actorID) {
		return nil, fmt.Errorf("%s: %w", op, ErrForbidden)
	}
	return o, nil
}

func (s *orderService) ListPurchases(ctx context.Context, buyerID uuid.UUID, status *models.OrderStatus) ([]*models.Order, error) {
	const op = "service.OrderService.ListPurchases"
	orders, err := s.repos.Orders.ListOrdersByBuyer(ctx, buyerID, status)
	if err != nil {
		s.log.Error("failed to list purchases", slog.String("op", op), slog.Any("error", err))
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return orders, nil
}

func (s *orderService) ListSales(ctx context.Context, sellerID uuid.UUID, status *models.OrderStatus) ([]*models.Order, error) {
	const op = "service.OrderService.ListSales"
	orders, err := s.repos.Orders.ListOrdersBySeller(ctx, sellerID, status)
	if err != nil {
		s.log.Error("failed to list sales", slog.String("op", op), slog.Any("error", err))
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return orders, nil
}

// Tracking запрашивает трекинг у перевозчика и применяет его к заказу (путь опроса).
func (s *orderService) Tracking(ctx context.Context, orderID, actorID uuid.UUID) (*TrackingResult, error) {
	const op = "service.OrderService.Tracking"
	logger := s.log.With(slog.String("op", op), slog.String("order_id", orderID.String()))

	o, err := s.Get(ctx, orderID, actorID)
	if err != nil {
		return nil, err
	}
	if o.ShippingCode == nil {
		return nil, fmt.Errorf("%s: %w: order has not been shipped", op, ErrMissingTrackingCode)
	}

	tr, err := s.gateway.Track(ctx, *o.ShippingCode)
	if err != nil {
		logger.Error("failed to track shipment", slog.Any("error", err))
		return nil, fmt.Errorf("%s: %w", op, gatewayError(err))
	}

	if o.Status.Before(models.StatusDelivered) && o.Status.Ordinal() >= models.StatusShipped.Ordinal() {
		updatedOrder, err := s.OnCarrierUpdate(ctx, o.ID, CarrierUpdateFrom(tr))
		if err != nil {
			logger.Warn("tracking not applied to order", slog.Any("error", err))
		} else {
			o = updatedOrder
		}
	}
	return &TrackingResult{Order: o, Tracking: tr}, nil
}

// Quote возвращает тарифы перевозчика; отправитель по умолчанию - склад из конфигурации.
func (s *orderService) Quote(ctx context.Context, in QuoteInput) ([]shipping.Quote, error) {
	const op = "service.OrderService.Quote"

	from := in.FromPostalCode
	if from == "" {
		from = s.cfg.OriginPostalCode
	}
	pkg := s.cfg.Package
	if in.Package != nil {
		pkg = *in.Package
	}

	quotes, err := s.gateway.Quote(ctx, shipping.QuoteRequest{
		FromPostalCode: from,
		ToPostalCode:   in.ToPostalCode,
		Package:        pkg,
		DeclaredValue:  in.DeclaredValue,
	})
	if err != nil {
		s.log.Error("failed to quote shipping", slog.String("op", op), slog.Any("error", err))
		return nil, fmt.Errorf("%s: %w", op, gatewayError(err))
	}
	return quotes, nil
}

// CarrierUpdateFrom берёт время доставки или самое позднее событие трекинга.
func CarrierUpdateFrom(tr *models.Tracking) models.CarrierUpdate {
	u := models.CarrierUpdate{Status: tr.Status}
	if tr.DeliveredAt != nil {
		u.OccurredAt = *tr.DeliveredAt
		return u
	}
	for _, e := range tr.Events {
		if e.OccurredAt.After(u.OccurredAt) {
			u.OccurredAt = e.OccurredAt
		}
	}
	return u
}

func (s *orderService) getOrder(ctx context.Context, orderID uuid.UUID) (*models.Order, error) {
	o, err := s.repos.Orders.GetOrderByID(ctx, orderID)
	if err != nil {
		if errors.Is(err, storage.ErrOrderNotFound) {
			return nil, ErrOrderNotFound
		}
		return nil, err
	}
	return o, nil
}

func (s *orderService) publish(ctx context.Context, o *models.Order, from models.OrderStatus) {
	if err := s.events.Publish(ctx, events.NewStatusChanged(o, from)); err != nil {
		s.log.Warn("failed to publish order event",
			slog.String("order_id", o.ID.String()),
			slog.String("status", string(o.Status)),
			slog.Any("error", err),
		)
	}
}

func normalizeTrackingCode(code string) (string, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return "", ErrMissingTrackingCode
	}
	if !trackingCodePattern.MatchString(code) {
		return "", ErrInvalidTrackingCode
	}
	return code, nil
}

func gatewayError(err error) error {
	if errors.Is(err, shipping.ErrAddressInvalid) {
		return fmt.Errorf("%w: %v", ErrAddressInvalid, err)
	}
	return fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
}
