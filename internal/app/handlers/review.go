package handlers

import (
	"log/slog"
	"net/http"

	"github.com/linemk/resale-orders/internal/domain/models"
	"github.com/linemk/resale-orders/internal/service"
)

// SubmitReviewRequest - оценку 1..5 проверяет сервис (InvalidRating).
type SubmitReviewRequest struct {
	Rating  int     `json:"rating"`
	Comment *string `json:"comment" validate:"omitempty,max=1000"`
}

type ReviewResponse struct {
	Review *models.Review `json:"review"`
}

// SubmitReviewHandler обрабатывает POST /api/orders/{id}/review.
func SubmitReviewHandler(log *slog.Logger, reviews service.ReviewService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.SubmitReviewHandler"
		logger := log.With(slog.String("op", op))

		reviewerID, ok := actor(w, r, logger)
		if !ok {
			return
		}
		orderID, ok := orderIDParam(w, r, logger)
		if !ok {
			return
		}

		var req SubmitReviewRequest
		if err := decodeRequest(r, &req, false); err != nil {
			badRequest(w, logger, err.Error())
			return
		}

		rv, err := reviews.Submit(r.Context(), service.SubmitReviewInput{
			OrderID:    orderID,
			ReviewerID: reviewerID,
			Rating:     req.Rating,
			Comment:    req.Comment,
		})
		if err != nil {
			writeError(w, logger, err)
			return
		}
		writeJSON(w, logger, http.StatusCreated, ReviewResponse{Review: rv})
	}
}
