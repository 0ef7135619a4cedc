package storage

import (
	"errors"

	"github.com/lib/pq"
)

var (
	ErrOrderNotFound        = errors.New("order not found")
	ErrOrderStateChanged    = errors.New("order state changed concurrently")
	ErrOrderNumberTaken     = errors.New("order number already taken")
	ErrProductNotFound      = errors.New("product not found")
	ErrUserNotFound         = errors.New("user not found")
	ErrAddressNotFound      = errors.New("address not found")
	ErrReviewExists         = errors.New("review already exists")
	ErrDuplicateLedgerEntry = errors.New("ledger entry already exists")
	ErrTrackingCodeTaken    = errors.New("tracking code already used by another order")
)

const pqUniqueViolation = "23505"

// isUniqueViolation проверяет нарушение уникальности (опционально по имени ограничения).
func isUniqueViolation(err error, constraint string) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) || pqErr.Code != pqUniqueViolation {
		return false
	}
	return constraint == "" || pqErr.Constraint == constraint
}
