package models

import "time"

// TrackingStatus - нормализованный статус перевозчика.
type TrackingStatus string

const (
	TrackingInTransit TrackingStatus = "in_transit"
	TrackingDelivered TrackingStatus = "delivered"
	TrackingException TrackingStatus = "exception"
)

// TrackingEvent - событие из трекинга перевозчика. Не хранится, только кешируется.
type TrackingEvent struct {
	OccurredAt time.Time `json:"occurred_at"`
	Location   string    `json:"location,omitempty"`
	Message    string    `json:"message"`
	RawStatus  string    `json:"raw_status"`
}

// Tracking - результат запроса трекинга.
type Tracking struct {
	TrackingCode string          `json:"tracking_code"`
	Status       TrackingStatus  `json:"status"`
	RawStatus    string          `json:"raw_status"`
	DeliveredAt  *time.Time      `json:"delivered_at,omitempty"`
	Events       []TrackingEvent `json:"events"`
}

// CarrierUpdate - вход onCarrierUpdate, одинаковый для вебхука и опроса.
type CarrierUpdate struct {
	Status     TrackingStatus
	OccurredAt time.Time
}
