package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/linemk/resale-orders/internal/domain/models"
	"github.com/linemk/resale-orders/internal/storage"
)

type ReviewService interface {
	Submit(ctx context.Context, in SubmitReviewInput) (*models.Review, error)
}

type SubmitReviewInput struct {
	OrderID    uuid.UUID
	ReviewerID uuid.UUID
	Rating     int
	Comment    *string
}

type reviewService struct {
	log     *slog.Logger
	db      *sql.DB
	orders  storage.OrderStorage
	reviews storage.ReviewStorage
	now     func() time.Time
}

func NewReviewService(log *slog.Logger, db *sql.DB, orders storage.OrderStorage, reviews storage.ReviewStorage, now func() time.Time) ReviewService {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &reviewService{log: log, db: db, orders: orders, reviews: reviews, now: now}
}

// Submit - отзыв одной стороны о другой, только после доставки и один раз на заказ.
// Рейтинг оцениваемого пересчитывается в той же транзакции.
func (s *reviewService) Submit(ctx context.Context, in SubmitReviewInput) (*models.Review, error) {
	const op = "service.ReviewService.Submit"
	logger := s.log.With(
		slog.String("op", op),
		slog.String("order_id", in.OrderID.String()),
		slog.String("reviewer_id", in.ReviewerID.String()),
	)

	if in.Rating < 1 || in.Rating > 5 {
		return nil, fmt.Errorf("%s: %w", op, ErrInvalidRating)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		logger.Error("failed to begin transaction", slog.Any("error", err))
		return nil, fmt.Errorf("%s: failed to begin transaction: %w", op, err)
	}

	// Блокировка заказа упорядочивает отзыв относительно переходов статуса
	o, err := s.orders.LockOrderByIDTx(ctx, tx, in.OrderID)
	if err != nil {
		rollback(logger, tx)
		if errors.Is(err, storage.ErrOrderNotFound) {
			return nil, fmt.Errorf("%s: %w", op, ErrOrderNotFound)
		}
		logger.Error("failed to lock order", slog.Any("error", err))
		return nil, fmt.Errorf("%s: failed to lock order: %w", op, err)
	}

	if !o.IsParty(in.ReviewerID) {
		rollback(logger, tx)
		return nil, fmt.Errorf("%s: %w: reviewer is not a party of the order", op, ErrNotEligible)
	}
	if o.Status != models.StatusDelivered && o.Status != models.StatusCompleted {
		rollback(logger, tx)
		return nil, fmt.Errorf("%s: %w: order is %s", op, ErrNotEligible, o.Status)
	}

	exists, err := s.reviews.ReviewExistsTx(ctx, tx, in.OrderID, in.ReviewerID)
	if err != nil {
		rollback(logger, tx)
		logger.Error("failed to check existing review", slog.Any("error", err))
		return nil, fmt.Errorf("%s: failed to check existing review: %w", op, err)
	}
	if exists {
		rollback(logger, tx)
		return nil, fmt.Errorf("%s: %w", op, ErrDuplicateReview)
	}

	review := &models.Review{
		ID:             uuid.New(),
		OrderID:        o.ID,
		ReviewerID:     in.ReviewerID,
		ReviewedUserID: o.Counterparty(in.ReviewerID),
		Rating:         in.Rating,
		Comment:        trimComment(in.Comment),
		CreatedAt:      s.now(),
	}

	if err := s.reviews.CreateReviewTx(ctx, tx, review); err != nil {
		rollback(logger, tx)
		if errors.Is(err, storage.ErrReviewExists) {
			return nil, fmt.Errorf("%s: %w", op, ErrDuplicateReview)
		}
		logger.Error("failed to create review", slog.Any("error", err))
		return nil, fmt.Errorf("%s: failed to create review: %w", op, err)
	}

	if err := s.reviews.RecalculateRatingTx(ctx, tx, review.ReviewedUserID); err != nil {
		rollback(logger, tx)
		logger.Error("failed to recalculate rating", slog.Any("error", err))
		return nil, fmt.Errorf("%s: failed to recalculate rating: %w", op, err)
	}

	if err := tx.Commit(); err != nil {
		logger.Error("failed to commit transaction", slog.Any("error", err))
		return nil, fmt.Errorf("%s: failed to commit transaction: %w", op, err)
	}

	logger.Info("review submitted", slog.Int("rating", review.Rating))
	return review, nil
}

func trimComment(c *string) *string {
	if c == nil {
		return nil
	}
	t := strings.TrimSpace(*c)
	if t == "" {
		return nil
	}
	return &t
}
