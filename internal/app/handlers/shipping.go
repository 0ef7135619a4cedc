package handlers

import (
	"log/slog"
	"net/http"

	"github.com/linemk/resale-orders/internal/service"
	"github.com/linemk/resale-orders/internal/shipping"
	"github.com/shopspring/decimal"
)

type PackageRequest struct {
	Width  int     `json:"width" validate:"gt=0,lte=100"`
	Height int     `json:"height" validate:"gt=0,lte=100"`
	Length int     `json:"length" validate:"gt=0,lte=100"`
	Weight float64 `json:"weight" validate:"gt=0,lte=30"`
}

// QuoteRequest - тело POST /api/shipping/quote. Отправитель по умолчанию - склад из конфигурации.
type QuoteRequest struct {
	FromPostalCode string          `json:"from_postal_code" validate:"omitempty,min=8,max=9"`
	ToPostalCode   string          `json:"to_postal_code" validate:"required,min=8,max=9"`
	Package        *PackageRequest `json:"package" validate:"omitempty"`
	DeclaredValue  decimal.Decimal `json:"declared_value"`
}

type QuoteResponse struct {
	Quotes []shipping.Quote `json:"quotes"`
}

// QuoteHandler обрабатывает POST /api/shipping/quote.
func QuoteHandler(log *slog.Logger, orders service.OrderService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.QuoteHandler"
		logger := log.With(slog.String("op", op))

		if _, ok := actor(w, r, logger); !ok {
			return
		}

		var req QuoteRequest
		if err := decodeRequest(r, &req, false); err != nil {
			badRequest(w, logger, err.Error())
			return
		}
		if req.DeclaredValue.IsNegative() {
			badRequest(w, logger, "declared_value must not be negative")
			return
		}

		in := service.QuoteInput{
			FromPostalCode: req.FromPostalCode,
			ToPostalCode:   req.ToPostalCode,
			DeclaredValue:  req.DeclaredValue,
		}
		if req.Package != nil {
			in.Package = &shipping.Package{
				Width:  req.Package.Width,
				Height: req.Package.Height,
				Length: req.Package.Length,
				Weight: req.Package.Weight,
			}
		}

		quotes, err := orders.Quote(r.Context(), in)
		if err != nil {
			writeError(w, logger, err)
			return
		}
		writeJSON(w, logger, http.StatusOK, QuoteResponse{Quotes: quotes})
	}
}
