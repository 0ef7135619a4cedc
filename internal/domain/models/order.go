package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Order - одна сделка между покупателем и продавцом по одному товару.
// Финансовые поля замораживаются при создании и дальше не пересчитываются.
type Order struct {
	ID          uuid.UUID `json:"id"`
	OrderNumber string    `json:"order_number"`

	BuyerID   uuid.UUID `json:"buyer_id"`
	SellerID  uuid.UUID `json:"seller_id"`
	ProductID uuid.UUID `json:"product_id"`

	ProductPrice     decimal.Decimal `json:"product_price"`
	ShippingPrice    decimal.Decimal `json:"shipping_price"`
	CommissionRate   decimal.Decimal `json:"commission_rate"`
	CommissionAmount decimal.Decimal `json:"commission_amount"`
	SellerReceives   decimal.Decimal `json:"seller_receives"`
	CashbackAmount   decimal.Decimal `json:"cashback_amount"`
	TotalAmount      decimal.Decimal `json:"total_amount"`

	PaymentMethod    string     `json:"payment_method,omitempty"`
	PaymentReference *string    `json:"payment_reference,omitempty"`
	PaidAt           *time.Time `json:"paid_at,omitempty"`

	ShippingAddressID *uuid.UUID `json:"shipping_address_id,omitempty"`
	ShippingCarrier   *string    `json:"shipping_carrier,omitempty"`
	ShippingCode      *string    `json:"shipping_code,omitempty"`
	ShippingLabelID   *string    `json:"shipping_label_id,omitempty"`
	ShippedAt         *time.Time `json:"shipped_at,omitempty"`
	DeliveredAt       *time.Time `json:"delivered_at,omitempty"`

	Status       OrderStatus `json:"status"`
	CompletedAt  *time.Time  `json:"completed_at,omitempty"`
	CancelledAt  *time.Time  `json:"cancelled_at,omitempty"`
	CancelReason *string     `json:"cancel_reason,omitempty"`
	CreatedAt    time.Time   `json:"created_at"`
	UpdatedAt    time.Time   `json:"updated_at"`
}

// IsParty - пользователь является покупателем или продавцом заказа.
func (o *Order) IsParty(userID uuid.UUID) bool {
	return o.BuyerID == userID || o.SellerID == userID
}

// Counterparty возвращает вторую сторону сделки.
func (o *Order) Counterparty(userID uuid.UUID) uuid.UUID {
	if o.BuyerID == userID {
		return o.SellerID
	}
	return o.BuyerID
}

// SettlementDue - наступил ли срок автоматического освобождения средств.
func (o *Order) SettlementDue(now time.Time, grace time.Duration) bool {
	if o.Status != StatusDelivered || o.DeliveredAt == nil {
		return false
	}
	return !o.DeliveredAt.Add(grace).After(now)
}
