// Package shipping - адаптер внешнего API перевозчика: тарифы, этикетки, трекинг.
package shipping

import (
	"context"
	"errors"
	"strings"

	"github.com/linemk/resale-orders/internal/domain/models"
	"github.com/shopspring/decimal"
)

var (
	// ErrGatewayUnavailable - временный сбой перевозчика (таймаут, 5xx, сеть). Повтор безопасен.
	ErrGatewayUnavailable = errors.New("shipping gateway unavailable")
	// ErrAddressInvalid - перевозчик отклонил адрес отправителя или получателя.
	ErrAddressInvalid = errors.New("address rejected by carrier")
)

// Gateway - операции перевозчика. Все вызовы сетевые и ограничены таймаутом.
type Gateway interface {
	Quote(ctx context.Context, req QuoteRequest) ([]Quote, error)
	IssueLabel(ctx context.Context, req LabelRequest) (*Label, error)
	Track(ctx context.Context, trackingCode string) (*models.Tracking, error)
	CancelLabel(ctx context.Context, labelID string) error
}

// Package - габариты посылки в сантиметрах и килограммах.
type Package struct {
	Width  int     `json:"width" validate:"gt=0"`
	Height int     `json:"height" validate:"gt=0"`
	Length int     `json:"length" validate:"gt=0"`
	Weight float64 `json:"weight" validate:"gt=0"`
}

// DefaultPackage - типовая посылка с одеждой.
var DefaultPackage = Package{Width: 20, Height: 5, Length: 30, Weight: 0.3}

type QuoteRequest struct {
	FromPostalCode string
	ToPostalCode   string
	Package        Package
	DeclaredValue  decimal.Decimal
}

type Quote struct {
	ServiceID  int             `json:"service_id"`
	Service    string          `json:"service"`
	Carrier    string          `json:"carrier"`
	Price      decimal.Decimal `json:"price"`
	EtaMinDays int             `json:"eta_min_days"`
	EtaMaxDays int             `json:"eta_max_days"`
}

// Party - отправитель или получатель для этикетки.
type Party struct {
	Name       string
	Phone      string
	Street     string
	Number     string
	Complement string
	District   string
	City       string
	State      string
	PostalCode string
}

// PartyFromAddress переводит адрес профиля в формат перевозчика.
func PartyFromAddress(a *models.Address) Party {
	return Party{
		Name:       a.RecipientName,
		Phone:      digits(a.Phone),
		Street:     a.Street,
		Number:     a.Number,
		Complement: a.Complement,
		District:   a.Neighborhood,
		City:       a.City,
		State:      a.State,
		PostalCode: digits(a.Zipcode),
	}
}

type LabelRequest struct {
	ServiceID     int
	From          Party
	To            Party
	Package       Package
	DeclaredValue decimal.Decimal
	OrderNumber   string
	ProductTitle  string
}

type Label struct {
	LabelID      string `json:"label_id"`
	TrackingCode string `json:"tracking_code"`
	LabelURL     string `json:"label_url"`
	Carrier      string `json:"carrier"`
}

// Normalize сводит открытый набор кодов перевозчика к трём статусам.
// Неизвестный код считается исключением: такие заказы разбирают вручную.
func Normalize(raw string) models.TrackingStatus {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "delivered", "entregue":
		return models.TrackingDelivered
	case "pending", "released", "generated", "paid", "posted", "shipped",
		"in_transit", "out_for_delivery", "em_transito", "saiu_para_entrega":
		return models.TrackingInTransit
	default:
		return models.TrackingException
	}
}

func digits(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
