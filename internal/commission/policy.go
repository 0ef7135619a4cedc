// Package commission считает комиссию площадки и кешбэк покупателя.
// Функции пакета чистые: никаких часов и глобального состояния,
// поэтому расчёт по старому заказу всегда воспроизводим.
package commission

import (
	"time"

	"github.com/linemk/resale-orders/internal/domain/models"
	"github.com/shopspring/decimal"
)

var (
	freeRate    = decimal.RequireFromString("0.20")
	premiumRate = decimal.RequireFromString("0.10")

	freeCashbackRate    = decimal.RequireFromString("0.02")
	premiumCashbackRate = decimal.RequireFromString("0.005")
)

// Split - финансовое разделение цены товара, фиксируется в заказе.
type Split struct {
	Rate             decimal.Decimal
	CommissionAmount decimal.Decimal
	SellerReceives   decimal.Decimal
	CashbackAmount   decimal.Decimal
}

// Input - всё, от чего зависит расчёт.
type Input struct {
	ProductPrice  decimal.Decimal
	SellerTier    models.Tier
	BuyerTier     models.Tier
	PromoActive   bool
	MinCommission decimal.Decimal
}

// ComputeSplit - политика комиссии.
//
// Ставка 20% для free и 10% для premium, во время промо 0% для всех.
// Комиссия округляется до копеек и не опускается ниже MinCommission
// (во время промо минимум не применяется), но и не превышает цену товара.
// Кешбэк зависит только от уровня покупателя.
func ComputeSplit(in Input) Split {
	price := in.ProductPrice.Round(2)

	rate := RateFor(in.SellerTier, in.PromoActive)
	amount := price.Mul(rate).Round(2)
	if !in.PromoActive && amount.LessThan(in.MinCommission) {
		amount = in.MinCommission.Round(2)
	}
	if amount.GreaterThan(price) {
		amount = price
	}

	return Split{
		Rate:             rate,
		CommissionAmount: amount,
		SellerReceives:   price.Sub(amount),
		CashbackAmount:   price.Mul(CashbackRateFor(in.BuyerTier)).Round(2),
	}
}

// RateFor возвращает ставку комиссии продавца.
func RateFor(tier models.Tier, promoActive bool) decimal.Decimal {
	if promoActive {
		return decimal.Zero
	}
	if tier == models.TierPremium {
		return premiumRate
	}
	return freeRate
}

// CashbackRateFor возвращает ставку кешбэка покупателя.
func CashbackRateFor(tier models.Tier) decimal.Decimal {
	if tier == models.TierPremium {
		return premiumCashbackRate
	}
	return freeCashbackRate
}

// Window - окно промоакции. Нулевая граница означает отсутствие ограничения с этой стороны,
// пустое окно (обе границы нулевые) - промо выключено.
type Window struct {
	Start time.Time
	End   time.Time
}

// Active сообщает, действует ли промо в момент at. Момент передаёт вызывающий.
func (w Window) Active(at time.Time) bool {
	if w.Start.IsZero() && w.End.IsZero() {
		return false
	}
	if !w.Start.IsZero() && at.Before(w.Start) {
		return false
	}
	if !w.End.IsZero() && !at.Before(w.End) {
		return false
	}
	return true
}
