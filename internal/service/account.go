package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/linemk/resale-orders/internal/domain/models"
	"github.com/linemk/resale-orders/internal/storage"
)

type AccountService interface {
	Statement(ctx context.Context, userID uuid.UUID) (*Statement, error)
}

// Statement - балансы пользователя и зачисления, из которых они сложились.
type Statement struct {
	Account *models.Account       `json:"account"`
	Entries []*models.LedgerEntry `json:"entries"`
}

type accountService struct {
	log      *slog.Logger
	accounts storage.AccountStorage
	ledger   storage.LedgerStorage
}

func NewAccountService(log *slog.Logger, accounts storage.AccountStorage, ledger storage.LedgerStorage) AccountService {
	return &accountService{log: log, accounts: accounts, ledger: ledger}
}

func (s *accountService) Statement(ctx context.Context, userID uuid.UUID) (*Statement, error) {
	const op = "service.AccountService.Statement"
	logger := s.log.With(slog.String("op", op), slog.String("user_id", userID.String()))

	acc, err := s.accounts.GetAccount(ctx, userID)
	if err != nil {
		if errors.Is(err, storage.ErrUserNotFound) {
			return nil, fmt.Errorf("%s: %w", op, ErrForbidden)
		}
		logger.Error("failed to get account", slog.Any("error", err))
		return nil, fmt.Errorf("%s: failed to get account: %w", op, err)
	}

	entries, err := s.ledger.GetEntriesByUserID(ctx, userID)
	if err != nil {
		logger.Error("failed to get ledger entries", slog.Any("error", err))
		return nil, fmt.Errorf("%s: failed to get ledger entries: %w", op, err)
	}
	if entries == nil {
		entries = []*models.LedgerEntry{}
	}
	return &Statement{Account: acc, Entries: entries}, nil
}
