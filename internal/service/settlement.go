package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/linemk/resale-orders/internal/storage"
)

// Settler - переход delivered -> completed с зачислением средств.
type Settler interface {
	Settle(ctx context.Context, orderID uuid.UUID) (bool, error)
}

type SettlementStats struct {
	Scanned int
	Settled int
	Failed  int
}

// SettlementScheduler периодически пересматривает все delivered-заказы с истёкшим сроком ожидания.
// Водяной знак не хранится: повторный проход безопасен, зачисление защищено переходом в completed.
type SettlementScheduler struct {
	log       *slog.Logger
	orders    storage.OrderStorage
	settler   Settler
	grace     time.Duration
	interval  time.Duration
	batchSize int
	now       func() time.Time
}

func NewSettlementScheduler(log *slog.Logger, orders storage.OrderStorage, settler Settler,
	grace, interval time.Duration, batchSize int, now func() time.Time) *SettlementScheduler {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &SettlementScheduler{
		log:       log,
		orders:    orders,
		settler:   settler,
		grace:     grace,
		interval:  interval,
		batchSize: batchSize,
		now:       now,
	}
}

// Run крутит сканирование до отмены контекста.
func (s *SettlementScheduler) Run(ctx context.Context) error {
	const op = "service.SettlementScheduler.Run"
	logger := s.log.With(slog.String("op", op))
	logger.Info("settlement scheduler started", slog.Duration("interval", s.interval), slog.Duration("grace_period", s.grace))

	t := time.NewTicker(s.interval)
	defer t.Stop()

	for {
		if _, err := s.RunOnce(ctx); err != nil {
			logger.Error("settlement scan failed", slog.Any("error", err))
		}
		select {
		case <-ctx.Done():
			logger.Info("settlement scheduler stopping")
			return nil
		case <-t.C:
		}
	}
}

// RunOnce - один проход. Ошибка по отдельному заказу не прерывает проход:
// заказ остаётся delivered и будет взят следующим сканированием.
func (s *SettlementScheduler) RunOnce(ctx context.Context) (SettlementStats, error) {
	const op = "service.SettlementScheduler.RunOnce"
	logger := s.log.With(slog.String("op", op))

	var stats SettlementStats
	cutoff := s.now().Add(-s.grace)
	ids, err := s.orders.ListDueForSettlement(ctx, cutoff, s.batchSize)
	if err != nil {
		return stats, fmt.Errorf("%s: %w", op, err)
	}
	stats.Scanned = len(ids)

	for _, id := range ids {
		if ctx.Err() != nil {
			break
		}
		settled, err := s.settler.Settle(ctx, id)
		if err != nil {
			stats.Failed++
			logger.Error("order settlement failed, will retry",
				slog.String("order_id", id.String()),
				slog.String("kind", Kind(err)),
				slog.Any("error", err),
			)
			continue
		}
		if settled {
			stats.Settled++
		}
	}

	if stats.Scanned > 0 {
		logger.Info("settlement scan finished",
			slog.Int("scanned", stats.Scanned),
			slog.Int("settled", stats.Settled),
			slog.Int("failed", stats.Failed),
		)
	}
	return stats, nil
}
