package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/linemk/resale-orders/internal/domain/models"
)

// OrderStorage описывает методы для работы с заказами.
// Статус меняет только машина состояний, через методы с транзакцией.
type OrderStorage interface {
	// CreateOrder вставляет новый заказ в таблицу orders.
	CreateOrder(ctx context.Context, tx *sql.Tx, o *models.Order) error
	// GetOrderByID читает заказ без блокировки.
	GetOrderByID(ctx context.Context, id uuid.UUID) (*models.Order, error)
	// LockOrderByIDTx читает заказ и блокирует строку до конца транзакции.
	LockOrderByIDTx(ctx context.Context, tx *sql.Tx, id uuid.UUID) (*models.Order, error)
	// UpdateOrderTx сохраняет изменяемые поля заказа.
	UpdateOrderTx(ctx context.Context, tx *sql.Tx, o *models.Order) error
	// CompleteOrderTx переводит delivered -> completed, только если заказ всё ещё delivered.
	CompleteOrderTx(ctx context.Context, tx *sql.Tx, id uuid.UUID, at time.Time) error
	// FindOrderIDByTrackingCode ищет заказ по трек-номеру.
	FindOrderIDByTrackingCode(ctx context.Context, code string) (uuid.UUID, error)
	// ListDueForSettlement возвращает delivered-заказы с delivered_at <= cutoff.
	ListDueForSettlement(ctx context.Context, cutoff time.Time, limit int) ([]uuid.UUID, error)
	// ClaimForPolling отмечает и возвращает заказы с трек-номером, которые дольше всех не опрашивались.
	ClaimForPolling(ctx context.Context, statuses []models.OrderStatus, limit int) ([]*models.Order, error)
	// ListOrdersByBuyer - покупки пользователя.
	ListOrdersByBuyer(ctx context.Context, buyerID uuid.UUID, status *models.OrderStatus) ([]*models.Order, error)
	// ListOrdersBySeller - продажи пользователя.
	ListOrdersBySeller(ctx context.Context, sellerID uuid.UUID, status *models.OrderStatus) ([]*models.Order, error)
}

// orderRepository - конкретная реализация OrderStorage.
type orderRepository struct {
	db *sql.DB
}

// NewOrderRepository создаёт новый репозиторий заказов.
func NewOrderRepository(db *sql.DB) OrderStorage {
	return &orderRepository{db: db}
}

const orderColumns = `id, order_number, buyer_id, seller_id, product_id,
	product_price, shipping_price, commission_rate, commission_amount, seller_receives, cashback_amount, total_amount,
	payment_method, payment_reference, paid_at,
	shipping_address_id, shipping_carrier, shipping_code, shipping_label_id, shipped_at, delivered_at,
	status, completed_at, cancelled_at, cancel_reason, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (*models.Order, error) {
	o := &models.Order{}
	var paymentMethod sql.NullString
	err := row.Scan(
		&o.ID, &o.OrderNumber, &o.BuyerID, &o.SellerID, &o.ProductID,
		&o.ProductPrice, &o.ShippingPrice, &o.CommissionRate, &o.CommissionAmount, &o.SellerReceives, &o.CashbackAmount, &o.TotalAmount,
		&paymentMethod, &o.PaymentReference, &o.PaidAt,
		&o.ShippingAddressID, &o.ShippingCarrier, &o.ShippingCode, &o.ShippingLabelID, &o.ShippedAt, &o.DeliveredAt,
		&o.Status, &o.CompletedAt, &o.CancelledAt, &o.CancelReason, &o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	o.PaymentMethod = paymentMethod.String
	return o, nil
}

// CreateOrder вставляет новый заказ. Повтор номера заказа возвращает ErrOrderNumberTaken.
func (r *orderRepository) CreateOrder(ctx context.Context, tx *sql.Tx, o *models.Order) error {
	query := `INSERT INTO orders (
			id, order_number, buyer_id, seller_id, product_id,
			product_price, shipping_price, commission_rate, commission_amount, seller_receives, cashback_amount, total_amount,
			payment_method, shipping_address_id, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`
	_, err := tx.ExecContext(ctx, query,
		o.ID, o.OrderNumber, o.BuyerID, o.SellerID, o.ProductID,
		o.ProductPrice, o.ShippingPrice, o.CommissionRate, o.CommissionAmount, o.SellerReceives, o.CashbackAmount, o.TotalAmount,
		nullString(o.PaymentMethod), o.ShippingAddressID, o.Status, o.CreatedAt, o.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err, "orders_order_number_key") {
			return ErrOrderNumberTaken
		}
		return fmt.Errorf("failed to create order: %w", err)
	}
	return nil
}

func (r *orderRepository) GetOrderByID(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	row := r.db.QueryRowContext(ctx, "SELECT "+orderColumns+" FROM orders WHERE id = $1", id)
	o, err := scanOrder(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, err
	}
	return o, nil
}

// LockOrderByIDTx ждёт освобождения строки: конкурирующий переход увидит уже применённое состояние.
func (r *orderRepository) LockOrderByIDTx(ctx context.Context, tx *sql.Tx, id uuid.UUID) (*models.Order, error) {
	row := tx.QueryRowContext(ctx, "SELECT "+orderColumns+" FROM orders WHERE id = $1 FOR UPDATE", id)
	o, err := scanOrder(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, err
	}
	return o, nil
}

func (r *orderRepository) UpdateOrderTx(ctx context.Context, tx *sql.Tx, o *models.Order) error {
	query := `UPDATE orders SET
			status = $2, payment_reference = $3, paid_at = $4,
			shipping_carrier = $5, shipping_code = $6, shipping_label_id = $7, shipped_at = $8, delivered_at = $9,
			completed_at = $10, cancelled_at = $11, cancel_reason = $12, updated_at = $13
		WHERE id = $1`
	res, err := tx.ExecContext(ctx, query,
		o.ID, o.Status, o.PaymentReference, o.PaidAt,
		o.ShippingCarrier, o.ShippingCode, o.ShippingLabelID, o.ShippedAt, o.DeliveredAt,
		o.CompletedAt, o.CancelledAt, o.CancelReason, o.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err, "orders_shipping_code_idx") {
			return ErrTrackingCodeTaken
		}
		return fmt.Errorf("failed to update order: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrOrderNotFound
	}
	return nil
}

// CompleteOrderTx - односторонний шлюз расчёта: проверка и запись статуса одним запросом.
func (r *orderRepository) CompleteOrderTx(ctx context.Context, tx *sql.Tx, id uuid.UUID, at time.Time) error {
	query := `UPDATE orders SET status = $2, completed_at = $3, updated_at = $3
		WHERE id = $1 AND status = $4`
	res, err := tx.ExecContext(ctx, query, id, models.StatusCompleted, at, models.StatusDelivered)
	if err != nil {
		return fmt.Errorf("failed to complete order: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrOrderStateChanged
	}
	return nil
}

func (r *orderRepository) FindOrderIDByTrackingCode(ctx context.Context, code string) (uuid.UUID, error) {
	var id uuid.UUID
	err := r.db.QueryRowContext(ctx, "SELECT id FROM orders WHERE shipping_code = $1", code).Scan(&id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return uuid.Nil, ErrOrderNotFound
		}
		return uuid.Nil, err
	}
	return id, nil
}

func (r *orderRepository) ListDueForSettlement(ctx context.Context, cutoff time.Time, limit int) ([]uuid.UUID, error) {
	query := `SELECT id FROM orders
		WHERE status = $1 AND delivered_at <= $2
		ORDER BY delivered_at
		LIMIT $3`
	rows, err := r.db.QueryContext(ctx, query, models.StatusDelivered, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query orders due for settlement: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return ids, nil
}

// ClaimForPolling сдвигает last_polled_at выбранных заказов: следующий проход берёт
// другие заказы, и каждый отправленный заказ опрашивается по кругу.
func (r *orderRepository) ClaimForPolling(ctx context.Context, statuses []models.OrderStatus, limit int) ([]*models.Order, error) {
	names := make([]string, 0, len(statuses))
	for _, s := range statuses {
		names = append(names, string(s))
	}
	query := `UPDATE orders SET last_polled_at = NOW()
		WHERE id IN (
			SELECT id FROM orders
			WHERE status = ANY($1) AND shipping_code IS NOT NULL
			ORDER BY last_polled_at NULLS FIRST, shipped_at
			LIMIT $2
			FOR UPDATE SKIP LOCKED)
		RETURNING ` + orderColumns
	rows, err := r.db.QueryContext(ctx, query, pq.Array(names), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to claim orders for polling: %w", err)
	}
	return collectOrders(rows)
}

func (r *orderRepository) ListOrdersByBuyer(ctx context.Context, buyerID uuid.UUID, status *models.OrderStatus) ([]*models.Order, error) {
	return r.listByParty(ctx, "buyer_id", buyerID, status)
}

func (r *orderRepository) ListOrdersBySeller(ctx context.Context, sellerID uuid.UUID, status *models.OrderStatus) ([]*models.Order, error) {
	return r.listByParty(ctx, "seller_id", sellerID, status)
}

// column - только константы из этого файла.
func (r *orderRepository) listByParty(ctx context.Context, column string, userID uuid.UUID, status *models.OrderStatus) ([]*models.Order, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if status != nil {
		query := "SELECT " + orderColumns + " FROM orders WHERE " + column + " = $1 AND status = $2 ORDER BY created_at DESC"
		rows, err = r.db.QueryContext(ctx, query, userID, *status)
	} else {
		query := "SELECT " + orderColumns + " FROM orders WHERE " + column + " = $1 ORDER BY created_at DESC"
		rows, err = r.db.QueryContext(ctx, query, userID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query orders: %w", err)
	}
	return collectOrders(rows)
}

func collectOrders(rows *sql.Rows) ([]*models.Order, error) {
	defer rows.Close()

	orders := []*models.Order{}
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan order: %w", err)
		}
		orders = append(orders, o)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return orders, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
