package service

import (
	"errors"

	"github.com/linemk/resale-orders/internal/storage"
)

// Ошибки ядра заказов. Вызывающий различает их через errors.Is или Kind.
var (
	ErrInvalidTransition       = errors.New("transition not allowed from current status")
	ErrForbidden               = errors.New("actor is not allowed to perform this action")
	ErrProductUnavailable      = errors.New("product is not available for purchase")
	ErrSelfPurchase            = errors.New("buyer cannot purchase own product")
	ErrMissingTrackingCode     = errors.New("tracking code is required")
	ErrInvalidTrackingCode     = errors.New("tracking code has invalid format")
	ErrInvalidRating           = errors.New("rating must be between 1 and 5")
	ErrDuplicateReview         = errors.New("review already submitted for this order")
	ErrNotEligible             = errors.New("order is not eligible for review")
	ErrGatewayUnavailable      = errors.New("shipping carrier is unavailable")
	ErrAddressInvalid          = errors.New("address rejected by carrier")
	ErrSettlementCreditFailure = errors.New("settlement credit failed")
	ErrOrderNotFound           = errors.New("order not found")
	ErrInvalidRequest          = errors.New("invalid request")
	ErrPaymentNotVerified      = errors.New("payment is not confirmed by payment provider")
	// ErrTryAgain - временный сбой, заказ не изменён.
	ErrTryAgain = errors.New("temporary failure, please try again")
)

const (
	KindInvalidTransition       = "InvalidTransition"
	KindForbidden               = "Forbidden"
	KindProductUnavailable      = "ProductUnavailable"
	KindSelfPurchase            = "SelfPurchase"
	KindMissingTrackingCode     = "MissingTrackingCode"
	KindInvalidTrackingCode     = "InvalidTrackingCode"
	KindInvalidRating           = "InvalidRating"
	KindDuplicateReview         = "DuplicateReview"
	KindNotEligible             = "NotEligible"
	KindGatewayUnavailable      = "GatewayUnavailable"
	KindAddressInvalid          = "AddressInvalid"
	KindSettlementCreditFailure = "SettlementCreditFailure"
	KindOrderNotFound           = "OrderNotFound"
	KindInvalidRequest          = "InvalidRequest"
	KindPaymentNotVerified      = "PaymentNotVerified"
	KindTryAgain                = "TryAgain"
	KindInternal                = "Internal"
)

var kinds = []struct {
	err  error
	kind string
}{
	{ErrInvalidTransition, KindInvalidTransition},
	{ErrForbidden, KindForbidden},
	{ErrProductUnavailable, KindProductUnavailable},
	{ErrSelfPurchase, KindSelfPurchase},
	{ErrMissingTrackingCode, KindMissingTrackingCode},
	{ErrInvalidTrackingCode, KindInvalidTrackingCode},
	{ErrInvalidRating, KindInvalidRating},
	{ErrDuplicateReview, KindDuplicateReview},
	{ErrNotEligible, KindNotEligible},
	{ErrGatewayUnavailable, KindGatewayUnavailable},
	{ErrAddressInvalid, KindAddressInvalid},
	{ErrTryAgain, KindTryAgain},
	{ErrSettlementCreditFailure, KindSettlementCreditFailure},
	{ErrOrderNotFound, KindOrderNotFound},
	{storage.ErrOrderNotFound, KindOrderNotFound},
	{ErrInvalidRequest, KindInvalidRequest},
	{ErrPaymentNotVerified, KindPaymentNotVerified},
}

// Kind возвращает тег ошибки для ответа API. Неизвестные ошибки - Internal.
func Kind(err error) string {
	kind, _ := Describe(err)
	return kind
}

// Describe возвращает тег и текст ошибки, который можно показать клиенту.
// Детали внутренних ошибок наружу не отдаются.
func Describe(err error) (kind, message string) {
	if err == nil {
		return "", ""
	}
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.kind, k.err.Error()
		}
	}
	return KindInternal, "internal error"
}
