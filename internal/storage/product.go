package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/linemk/resale-orders/internal/domain/models"
)

// ProductStorage - то немногое из каталога, что нужно заказам.
type ProductStorage interface {
	// LockProductTx читает объявление и блокирует его до конца транзакции.
	LockProductTx(ctx context.Context, tx *sql.Tx, id uuid.UUID) (*models.Product, error)
	// SetProductStatusTx меняет статус объявления (active/sold).
	SetProductStatusTx(ctx context.Context, tx *sql.Tx, id uuid.UUID, status string) error
}

type productRepository struct {
	db *sql.DB
}

func NewProductRepository(db *sql.DB) ProductStorage {
	return &productRepository{db: db}
}

func (r *productRepository) LockProductTx(ctx context.Context, tx *sql.Tx, id uuid.UUID) (*models.Product, error) {
	p := &models.Product{}
	row := tx.QueryRowContext(ctx, "SELECT id, seller_id, title, price, status FROM products WHERE id = $1 FOR UPDATE", id)
	if err := row.Scan(&p.ID, &p.SellerID, &p.Title, &p.Price, &p.Status); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrProductNotFound
		}
		return nil, err
	}
	return p, nil
}

func (r *productRepository) SetProductStatusTx(ctx context.Context, tx *sql.Tx, id uuid.UUID, status string) error {
	res, err := tx.ExecContext(ctx, "UPDATE products SET status = $1, updated_at = NOW() WHERE id = $2", status, id)
	if err != nil {
		return fmt.Errorf("failed to update product status: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrProductNotFound
	}
	return nil
}
