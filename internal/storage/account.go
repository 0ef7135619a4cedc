package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/linemk/resale-orders/internal/domain/models"
	"github.com/shopspring/decimal"
)

// AccountStorage - балансы и уровень подписки пользователей.
// Балансы меняются только внутри транзакции расчёта по заказу.
type AccountStorage interface {
	GetAccount(ctx context.Context, userID uuid.UUID) (*models.Account, error)
	GetTierTx(ctx context.Context, tx *sql.Tx, userID uuid.UUID) (models.Tier, error)
	// CreditBalanceTx зачисляет выручку продавцу.
	CreditBalanceTx(ctx context.Context, tx *sql.Tx, userID uuid.UUID, amount decimal.Decimal) error
	// CreditCashbackTx зачисляет кешбэк покупателю.
	CreditCashbackTx(ctx context.Context, tx *sql.Tx, userID uuid.UUID, amount decimal.Decimal) error
	// IncrementSalesTx увеличивает счётчик продаж продавца.
	IncrementSalesTx(ctx context.Context, tx *sql.Tx, userID uuid.UUID) error
}

type accountRepository struct {
	db *sql.DB
}

func NewAccountRepository(db *sql.DB) AccountStorage {
	return &accountRepository{db: db}
}

func (r *accountRepository) GetAccount(ctx context.Context, userID uuid.UUID) (*models.Account, error) {
	a := &models.Account{}
	row := r.db.QueryRowContext(ctx, "SELECT id, subscription_type, balance, cashback_balance FROM users WHERE id = $1", userID)
	if err := row.Scan(&a.UserID, &a.Tier, &a.Balance, &a.CashbackBalance); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return a, nil
}

func (r *accountRepository) GetTierTx(ctx context.Context, tx *sql.Tx, userID uuid.UUID) (models.Tier, error) {
	var tier sql.NullString
	if err := tx.QueryRowContext(ctx, "SELECT subscription_type FROM users WHERE id = $1", userID).Scan(&tier); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrUserNotFound
		}
		return "", err
	}
	if models.Tier(tier.String) == models.TierPremium {
		return models.TierPremium, nil
	}
	return models.TierFree, nil
}

// Суммирование на стороне БД: конкурирующие зачисления не теряются.
func (r *accountRepository) CreditBalanceTx(ctx context.Context, tx *sql.Tx, userID uuid.UUID, amount decimal.Decimal) error {
	return r.exec(ctx, tx, "UPDATE users SET balance = balance + $1 WHERE id = $2", amount, userID)
}

func (r *accountRepository) CreditCashbackTx(ctx context.Context, tx *sql.Tx, userID uuid.UUID, amount decimal.Decimal) error {
	return r.exec(ctx, tx, "UPDATE users SET cashback_balance = cashback_balance + $1 WHERE id = $2", amount, userID)
}

func (r *accountRepository) IncrementSalesTx(ctx context.Context, tx *sql.Tx, userID uuid.UUID) error {
	res, err := tx.ExecContext(ctx, "UPDATE users SET total_sales = total_sales + 1 WHERE id = $1", userID)
	if err != nil {
		return fmt.Errorf("failed to increment sales: %w", err)
	}
	return requireAffected(res, ErrUserNotFound)
}

func (r *accountRepository) exec(ctx context.Context, tx *sql.Tx, query string, amount decimal.Decimal, userID uuid.UUID) error {
	res, err := tx.ExecContext(ctx, query, amount, userID)
	if err != nil {
		return fmt.Errorf("failed to credit account: %w", err)
	}
	return requireAffected(res, ErrUserNotFound)
}

func requireAffected(res sql.Result, notFound error) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return notFound
	}
	return nil
}
