package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/linemk/resale-orders/internal/domain/models"
)

// ReviewStorage - отзывы по заказам, не больше одного на пару (order_id, reviewer_id).
type ReviewStorage interface {
	ReviewExistsTx(ctx context.Context, tx *sql.Tx, orderID, reviewerID uuid.UUID) (bool, error)
	CreateReviewTx(ctx context.Context, tx *sql.Tx, rv *models.Review) error
	// RecalculateRatingTx пересчитывает средний рейтинг пользователя.
	RecalculateRatingTx(ctx context.Context, tx *sql.Tx, userID uuid.UUID) error
}

type reviewRepository struct {
	db *sql.DB
}

func NewReviewRepository(db *sql.DB) ReviewStorage {
	return &reviewRepository{db: db}
}

func (r *reviewRepository) ReviewExistsTx(ctx context.Context, tx *sql.Tx, orderID, reviewerID uuid.UUID) (bool, error) {
	var exists bool
	query := "SELECT EXISTS (SELECT 1 FROM reviews WHERE order_id = $1 AND reviewer_id = $2)"
	if err := tx.QueryRowContext(ctx, query, orderID, reviewerID).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check review: %w", err)
	}
	return exists, nil
}

func (r *reviewRepository) CreateReviewTx(ctx context.Context, tx *sql.Tx, rv *models.Review) error {
	query := `INSERT INTO reviews (id, order_id, reviewer_id, reviewed_user_id, rating, comment, created_at)
	          VALUES ($1, $2, $3, $4, $5, $6, $7)`
	_, err := tx.ExecContext(ctx, query, rv.ID, rv.OrderID, rv.ReviewerID, rv.ReviewedUserID, rv.Rating, rv.Comment, rv.CreatedAt)
	if err != nil {
		if isUniqueViolation(err, "reviews_order_id_reviewer_id_key") {
			return ErrReviewExists
		}
		return fmt.Errorf("failed to create review: %w", err)
	}
	return nil
}

func (r *reviewRepository) RecalculateRatingTx(ctx context.Context, tx *sql.Tx, userID uuid.UUID) error {
	query := `UPDATE users SET
			rating = COALESCE((SELECT ROUND(AVG(rating), 1) FROM reviews WHERE reviewed_user_id = $1), 0),
			total_reviews = (SELECT COUNT(*) FROM reviews WHERE reviewed_user_id = $1)
		WHERE id = $1`
	res, err := tx.ExecContext(ctx, query, userID)
	if err != nil {
		return fmt.Errorf("failed to recalculate rating: %w", err)
	}
	return requireAffected(res, ErrUserNotFound)
}
