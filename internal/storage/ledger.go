package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/linemk/resale-orders/internal/domain/models"
)

// LedgerStorage - журнал зачислений по заказам.
// Уникальность (order_id, type) не даёт зачислить одно и то же дважды.
type LedgerStorage interface {
	CreateEntryTx(ctx context.Context, tx *sql.Tx, e *models.LedgerEntry) error
	GetEntriesByUserID(ctx context.Context, userID uuid.UUID) ([]*models.LedgerEntry, error)
}

type ledgerRepository struct {
	db *sql.DB
}

func NewLedgerRepository(db *sql.DB) LedgerStorage {
	return &ledgerRepository{db: db}
}

func (r *ledgerRepository) CreateEntryTx(ctx context.Context, tx *sql.Tx, e *models.LedgerEntry) error {
	query := `INSERT INTO transactions (id, user_id, order_id, type, amount, description, created_at)
	          VALUES ($1, $2, $3, $4, $5, $6, $7)`
	_, err := tx.ExecContext(ctx, query, e.ID, e.UserID, e.OrderID, e.Type, e.Amount, e.Description, e.CreatedAt)
	if err != nil {
		if isUniqueViolation(err, "transactions_order_id_type_key") {
			return ErrDuplicateLedgerEntry
		}
		return fmt.Errorf("failed to create ledger entry: %w", err)
	}
	return nil
}

func (r *ledgerRepository) GetEntriesByUserID(ctx context.Context, userID uuid.UUID) ([]*models.LedgerEntry, error) {
	query := `
		SELECT id, user_id, order_id, type, amount, description, created_at
		FROM transactions
		WHERE user_id = $1
		ORDER BY created_at DESC`
	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query ledger entries: %w", err)
	}
	defer rows.Close()

	var entries []*models.LedgerEntry
	for rows.Next() {
		e := &models.LedgerEntry{}
		if err := rows.Scan(&e.ID, &e.UserID, &e.OrderID, &e.Type, &e.Amount, &e.Description, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan ledger entry: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}
