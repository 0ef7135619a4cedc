package models

import "fmt"

// OrderStatus - закрытый набор статусов заказа.
type OrderStatus string

const (
	StatusPendingPayment  OrderStatus = "pending_payment"
	StatusPaid            OrderStatus = "paid"
	StatusPendingShipment OrderStatus = "pending_shipment"
	StatusShipped         OrderStatus = "shipped"
	StatusInTransit       OrderStatus = "in_transit"
	StatusDelivered       OrderStatus = "delivered"
	StatusCompleted       OrderStatus = "completed"
	StatusCancelled       OrderStatus = "cancelled"
)

// ordinals задают порядок статусов на пути заказа; cancelled вне этой шкалы.
var ordinals = map[OrderStatus]int{
	StatusPendingPayment:  1,
	StatusPaid:            2,
	StatusPendingShipment: 3,
	StatusShipped:         4,
	StatusInTransit:       5,
	StatusDelivered:       6,
	StatusCompleted:       7,
}

// transitions - единственная таблица допустимых переходов.
var transitions = map[OrderStatus][]OrderStatus{
	StatusPendingPayment:  {StatusPaid, StatusCancelled},
	StatusPaid:            {StatusPendingShipment, StatusCancelled},
	StatusPendingShipment: {StatusShipped, StatusCancelled},
	StatusShipped:         {StatusInTransit, StatusDelivered},
	StatusInTransit:       {StatusDelivered},
	StatusDelivered:       {StatusCompleted},
}

// ParseOrderStatus разбирает статус из строки (БД, query-параметры).
func ParseOrderStatus(s string) (OrderStatus, error) {
	st := OrderStatus(s)
	if st == StatusCancelled {
		return st, nil
	}
	if _, ok := ordinals[st]; !ok {
		return "", fmt.Errorf("unknown order status %q", s)
	}
	return st, nil
}

// CanTransition сообщает, есть ли ребро from -> to в графе переходов.
func CanTransition(from, to OrderStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Ordinal возвращает позицию статуса на пути заказа (0 для cancelled).
func (s OrderStatus) Ordinal() int {
	return ordinals[s]
}

// Before сообщает, что s строго раньше other на пути заказа.
func (s OrderStatus) Before(other OrderStatus) bool {
	return s.Ordinal() > 0 && s.Ordinal() < other.Ordinal()
}

func (s OrderStatus) String() string {
	return string(s)
}
