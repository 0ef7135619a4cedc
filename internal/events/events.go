// Package events публикует изменения статуса заказа для внешних подписчиков (уведомления).
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/linemk/resale-orders/internal/domain/models"
	"github.com/segmentio/kafka-go"
)

const TypeOrderStatusChanged = "order.status_changed"

// OrderStatusChanged - полезная нагрузка события. From пуст для только что созданного заказа.
type OrderStatusChanged struct {
	OrderID     uuid.UUID          `json:"order_id"`
	OrderNumber string             `json:"order_number"`
	BuyerID     uuid.UUID          `json:"buyer_id"`
	SellerID    uuid.UUID          `json:"seller_id"`
	From        models.OrderStatus `json:"from,omitempty"`
	To          models.OrderStatus `json:"to"`
	OccurredAt  time.Time          `json:"occurred_at"`
}

// NewStatusChanged собирает событие из заказа после перехода.
func NewStatusChanged(o *models.Order, from models.OrderStatus) OrderStatusChanged {
	return OrderStatusChanged{
		OrderID:     o.ID,
		OrderNumber: o.OrderNumber,
		BuyerID:     o.BuyerID,
		SellerID:    o.SellerID,
		From:        from,
		To:          o.Status,
		OccurredAt:  o.UpdatedAt,
	}
}

// Producer - то, что нужно от kafka.Writer.
type Producer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// WriterBatchTimeout - сколько writer копит пачку перед отправкой. Publish ждёт отправки.
const WriterBatchTimeout = 10 * time.Millisecond

// NewWriter создаёт writer на указанные брокеры.
func NewWriter(brokers []string) *kafka.Writer {
	return &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		BatchTimeout:           WriterBatchTimeout,
		AllowAutoTopicCreation: true,
	}
}

type KafkaPublisher struct {
	log      *slog.Logger
	producer Producer
	topic    string
}

func NewKafkaPublisher(log *slog.Logger, producer Producer, topic string) *KafkaPublisher {
	return &KafkaPublisher{log: log, producer: producer, topic: topic}
}

// Publish пишет событие с ключом order_id: события одного заказа попадают в одну партицию.
func (p *KafkaPublisher) Publish(ctx context.Context, e OrderStatusChanged) error {
	const op = "events.KafkaPublisher.Publish"

	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("%s: failed to marshal event: %w", op, err)
	}

	msg := kafka.Message{
		Topic: p.topic,
		Key:   []byte(e.OrderID.String()),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(TypeOrderStatusChanged)},
		},
		Time: e.OccurredAt,
	}
	if err := p.producer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	p.log.Debug("event published", slog.String("op", op), slog.String("order_id", e.OrderID.String()), slog.String("to", string(e.To)))
	return nil
}

// Nop - публикация отключена.
type Nop struct{}

func (Nop) Publish(context.Context, OrderStatusChanged) error { return nil }
