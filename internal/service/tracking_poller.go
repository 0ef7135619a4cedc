package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/linemk/resale-orders/internal/domain/models"
	"github.com/linemk/resale-orders/internal/shipping"
	"github.com/linemk/resale-orders/internal/storage"
)

// CarrierUpdater - точка входа обновлений от перевозчика.
type CarrierUpdater interface {
	OnCarrierUpdate(ctx context.Context, orderID uuid.UUID, update models.CarrierUpdate) (*models.Order, error)
}

type PollStats struct {
	Polled   int
	Advanced int
	Failed   int
}

// TrackingPoller опрашивает перевозчика по отправленным заказам на случай потерянных вебхуков.
type TrackingPoller struct {
	log       *slog.Logger
	orders    storage.OrderStorage
	gateway   shipping.Gateway
	updater   CarrierUpdater
	interval  time.Duration
	batchSize int
}

func NewTrackingPoller(log *slog.Logger, orders storage.OrderStorage, gateway shipping.Gateway, updater CarrierUpdater,
	interval time.Duration, batchSize int) *TrackingPoller {
	return &TrackingPoller{
		log:       log,
		orders:    orders,
		gateway:   gateway,
		updater:   updater,
		interval:  interval,
		batchSize: batchSize,
	}
}

func (p *TrackingPoller) Run(ctx context.Context) error {
	const op = "service.TrackingPoller.Run"
	logger := p.log.With(slog.String("op", op))
	logger.Info("tracking poller started", slog.Duration("interval", p.interval))

	t := time.NewTicker(p.interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("tracking poller stopping")
			return nil
		case <-t.C:
			if _, err := p.RunOnce(ctx); err != nil {
				logger.Error("tracking poll failed", slog.Any("error", err))
			}
		}
	}
}

func (p *TrackingPoller) RunOnce(ctx context.Context) (PollStats, error) {
	const op = "service.TrackingPoller.RunOnce"
	logger := p.log.With(slog.String("op", op))

	var stats PollStats
	orders, err := p.orders.ClaimForPolling(ctx, []models.OrderStatus{models.StatusShipped, models.StatusInTransit}, p.batchSize)
	if err != nil {
		return stats, fmt.Errorf("%s: %w", op, err)
	}

	for _, o := range orders {
		if ctx.Err() != nil {
			break
		}
		if o.ShippingCode == nil {
			continue
		}
		stats.Polled++

		tr, err := p.gateway.Track(ctx, *o.ShippingCode)
		if err != nil {
			stats.Failed++
			logger.Warn("tracking request failed", slog.String("order_id", o.ID.String()), slog.Any("error", err))
			continue
		}

		next, err := p.updater.OnCarrierUpdate(ctx, o.ID, CarrierUpdateFrom(tr))
		if err != nil {
			stats.Failed++
			logger.Warn("carrier update rejected", slog.String("order_id", o.ID.String()), slog.Any("error", err))
			continue
		}
		if next.Status != o.Status {
			stats.Advanced++
		}
	}
	return stats, nil
}
