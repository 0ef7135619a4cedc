package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/linemk/resale-orders/internal/domain/models"
	"github.com/linemk/resale-orders/internal/storage"
)

type outcome int

const (
	unchanged outcome = iota
	// updated - поля заказа изменены в памяти, их нужно сохранить
	updated
	// written - мутация сама записала заказ
	written
)

// mutation применяет переход к заблокированному заказу.
type mutation func(ctx context.Context, tx *sql.Tx, o *models.Order, now time.Time) (outcome, error)

// transition выполняет один переход заказа: блокировка в процессе и в БД,
// проверка и изменение, сохранение, коммит, событие.
// Конкурирующий вызов ждёт и видит уже применённое состояние.
// Событие публикуется после снятия блокировки заказа.
func (s *orderService) transition(ctx context.Context, op string, orderID uuid.UUID, mutate mutation) (*models.Order, bool, error) {
	o, from, changed, err := s.applyLocked(ctx, op, orderID, mutate)
	if err != nil || !changed {
		return o, changed, err
	}
	s.publish(ctx, o, from)
	return o, true, nil
}

func (s *orderService) applyLocked(ctx context.Context, op string, orderID uuid.UUID, mutate mutation) (*models.Order, models.OrderStatus, bool, error) {
	logger := s.log.With(slog.String("op", op), slog.String("order_id", orderID.String()))

	unlock := s.locks.lock(orderID)
	defer unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		logger.Error("failed to begin transaction", slog.Any("error", err))
		return nil, "", false, fmt.Errorf("%s: failed to begin transaction: %w", op, err)
	}

	o, err := s.repos.Orders.LockOrderByIDTx(ctx, tx, orderID)
	if err != nil {
		rollback(logger, tx)
		if errors.Is(err, storage.ErrOrderNotFound) {
			return nil, "", false, fmt.Errorf("%s: %w", op, ErrOrderNotFound)
		}
		logger.Error("failed to lock order", slog.Any("error", err))
		return nil, "", false, fmt.Errorf("%s: failed to lock order: %w", op, err)
	}

	from := o.Status
	result, err := mutate(ctx, tx, o, s.now())
	if err != nil {
		rollback(logger, tx)
		if errors.Is(err, ErrSettlementCreditFailure) {
			logger.Error("settlement failed, order stays delivered", slog.Any("error", err))
		} else {
			logger.Warn("transition rejected", slog.String("status", string(from)), slog.Any("error", err))
		}
		return nil, "", false, fmt.Errorf("%s: %w", op, err)
	}

	if result == unchanged {
		rollback(logger, tx)
		logger.Debug("order unchanged", slog.String("status", string(from)))
		return o, from, false, nil
	}

	if result == updated {
		if err := s.repos.Orders.UpdateOrderTx(ctx, tx, o); err != nil {
			rollback(logger, tx)
			if errors.Is(err, storage.ErrTrackingCodeTaken) {
				return nil, "", false, fmt.Errorf("%s: %w: %v", op, ErrInvalidTrackingCode, err)
			}
			logger.Error("failed to update order", slog.Any("error", err))
			return nil, "", false, fmt.Errorf("%s: failed to update order: %w", op, err)
		}
	}

	if err := tx.Commit(); err != nil {
		logger.Error("failed to commit transaction", slog.Any("error", err))
		if o.Status == models.StatusCompleted {
			return nil, "", false, fmt.Errorf("%s: %w: commit: %w", op, ErrSettlementCreditFailure, err)
		}
		return nil, "", false, fmt.Errorf("%s: failed to commit transaction: %w", op, err)
	}

	logger.Info("order status changed", slog.String("from", string(from)), slog.String("to", string(o.Status)))
	return o, from, true, nil
}

// advance - единственное место, где меняется статус заказа.
func advance(o *models.Order, to models.OrderStatus, now time.Time) error {
	if !models.CanTransition(o.Status, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, o.Status, to)
	}
	o.Status = to
	o.UpdatedAt = now
	return nil
}

func shipMutation(sellerID uuid.UUID, code, carrier string, labelID *string) mutation {
	return func(_ context.Context, _ *sql.Tx, o *models.Order, now time.Time) (outcome, error) {
		if o.SellerID != sellerID {
			return unchanged, ErrForbidden
		}
		if err := advance(o, models.StatusShipped, now); err != nil {
			return unchanged, err
		}
		o.ShippingCode = &code
		if carrier != "" {
			o.ShippingCarrier = &carrier
		}
		o.ShippingLabelID = labelID
		o.ShippedAt = &now
		return updated, nil
	}
}

func rollback(logger *slog.Logger, tx *sql.Tx) {
	if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
		logger.Error("transaction rollback failed", slog.Any("error", rbErr))
	}
}
