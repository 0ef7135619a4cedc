package service_test

import (
	"context"
	"database/sql"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/linemk/resale-orders/internal/domain/models"
	"github.com/linemk/resale-orders/internal/events"
	"github.com/linemk/resale-orders/internal/payment"
	"github.com/linemk/resale-orders/internal/shipping"
	"github.com/linemk/resale-orders/internal/storage"
	"github.com/shopspring/decimal"
)

// fakeStore - общее состояние фиктивных репозиториев. Записи применяются сразу,
// откат транзакции их не отменяет: атомарность проверяется тестами на sqlmock.
type fakeStore struct {
	mu sync.Mutex

	orders    map[uuid.UUID]*models.Order
	products  map[uuid.UUID]*models.Product
	tiers     map[uuid.UUID]models.Tier
	balances  map[uuid.UUID]decimal.Decimal
	cashback  map[uuid.UUID]decimal.Decimal
	sales     map[uuid.UUID]int
	ledger    []*models.LedgerEntry
	addresses map[uuid.UUID]*models.Address
	reviews   []*models.Review
	ratings   map[uuid.UUID]int
	// polledAt - номер прохода опроса, в котором заказ опрашивали последним
	polledAt map[uuid.UUID]int
	pollSeq  int

	// takenNumbers - сколько ближайших CreateOrder вернут ErrOrderNumberTaken
	takenNumbers int
	creditErr    error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		orders:    make(map[uuid.UUID]*models.Order),
		products:  make(map[uuid.UUID]*models.Product),
		tiers:     make(map[uuid.UUID]models.Tier),
		balances:  make(map[uuid.UUID]decimal.Decimal),
		cashback:  make(map[uuid.UUID]decimal.Decimal),
		sales:     make(map[uuid.UUID]int),
		addresses: make(map[uuid.UUID]*models.Address),
		ratings:   make(map[uuid.UUID]int),
		polledAt:  make(map[uuid.UUID]int),
	}
}

func (f *fakeStore) order(id uuid.UUID) *models.Order {
	f.mu.Lock()
	defer f.mu.Unlock()
	return cloneOrder(f.orders[id])
}

func (f *fakeStore) putOrder(o *models.Order) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.orders[o.ID] = cloneOrder(o)
}

func cloneOrder(o *models.Order) *models.Order {
	if o == nil {
		return nil
	}
	c := *o
	return &c
}

type fakeOrderRepo struct{ *fakeStore }

var _ storage.OrderStorage = (*fakeOrderRepo)(nil)

func (f *fakeOrderRepo) CreateOrder(ctx context.Context, tx *sql.Tx, o *models.Order) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.takenNumbers > 0 {
		f.takenNumbers--
		return storage.ErrOrderNumberTaken
	}
	f.orders[o.ID] = cloneOrder(o)
	return nil
}

func (f *fakeOrderRepo) GetOrderByID(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.orders[id]
	if !ok {
		return nil, storage.ErrOrderNotFound
	}
	return cloneOrder(o), nil
}

func (f *fakeOrderRepo) LockOrderByIDTx(ctx context.Context, tx *sql.Tx, id uuid.UUID) (*models.Order, error) {
	return f.GetOrderByID(ctx, id)
}

func (f *fakeOrderRepo) UpdateOrderTx(ctx context.Context, tx *sql.Tx, o *models.Order) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.orders[o.ID]; !ok {
		return storage.ErrOrderNotFound
	}
	if o.ShippingCode != nil {
		for id, other := range f.orders {
			if id != o.ID && other.ShippingCode != nil && *other.ShippingCode == *o.ShippingCode {
				return storage.ErrTrackingCodeTaken
			}
		}
	}
	f.orders[o.ID] = cloneOrder(o)
	return nil
}

func (f *fakeOrderRepo) CompleteOrderTx(ctx context.Context, tx *sql.Tx, id uuid.UUID, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.orders[id]
	if !ok || o.Status != models.StatusDelivered {
		return storage.ErrOrderStateChanged
	}
	o.Status = models.StatusCompleted
	o.CompletedAt = &at
	o.UpdatedAt = at
	return nil
}

func (f *fakeOrderRepo) FindOrderIDByTrackingCode(ctx context.Context, code string) (uuid.UUID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for id, o := range f.orders {
		if o.ShippingCode != nil && *o.ShippingCode == code {
			return id, nil
		}
	}
	return uuid.Nil, storage.ErrOrderNotFound
}

func (f *fakeOrderRepo) ListDueForSettlement(ctx context.Context, cutoff time.Time, limit int) ([]uuid.UUID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var due []*models.Order
	for _, o := range f.orders {
		if o.Status == models.StatusDelivered && o.DeliveredAt != nil && !o.DeliveredAt.After(cutoff) {
			due = append(due, o)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].DeliveredAt.Before(*due[j].DeliveredAt) })
	ids := make([]uuid.UUID, 0, len(due))
	for i, o := range due {
		if i == limit {
			break
		}
		ids = append(ids, o.ID)
	}
	return ids, nil
}

func (f *fakeOrderRepo) ClaimForPolling(ctx context.Context, statuses []models.OrderStatus, limit int) ([]*models.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var eligible []*models.Order
	for _, o := range f.orders {
		if o.ShippingCode == nil {
			continue
		}
		for _, st := range statuses {
			if o.Status == st {
				eligible = append(eligible, o)
			}
		}
	}
	// ни разу не опрошенные первыми, затем по давности опроса
	sort.Slice(eligible, func(i, j int) bool {
		pi, pj := f.polledAt[eligible[i].ID], f.polledAt[eligible[j].ID]
		if pi != pj {
			return pi < pj
		}
		return eligible[i].ID.String() < eligible[j].ID.String()
	})
	f.pollSeq++
	out := make([]*models.Order, 0, limit)
	for _, o := range eligible {
		if len(out) == limit {
			break
		}
		f.polledAt[o.ID] = f.pollSeq
		out = append(out, cloneOrder(o))
	}
	return out, nil
}

func (f *fakeOrderRepo) ListOrdersByBuyer(ctx context.Context, buyerID uuid.UUID, status *models.OrderStatus) ([]*models.Order, error) {
	return f.list(func(o *models.Order) bool { return o.BuyerID == buyerID }, status), nil
}

func (f *fakeOrderRepo) ListOrdersBySeller(ctx context.Context, sellerID uuid.UUID, status *models.OrderStatus) ([]*models.Order, error) {
	return f.list(func(o *models.Order) bool { return o.SellerID == sellerID }, status), nil
}

func (f *fakeOrderRepo) list(match func(*models.Order) bool, status *models.OrderStatus) []*models.Order {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []*models.Order{}
	for _, o := range f.orders {
		if match(o) && (status == nil || o.Status == *status) {
			out = append(out, cloneOrder(o))
		}
	}
	return out
}

type fakeProductRepo struct{ *fakeStore }

var _ storage.ProductStorage = (*fakeProductRepo)(nil)

func (f *fakeProductRepo) LockProductTx(ctx context.Context, tx *sql.Tx, id uuid.UUID) (*models.Product, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.products[id]
	if !ok {
		return nil, storage.ErrProductNotFound
	}
	c := *p
	return &c, nil
}

func (f *fakeProductRepo) SetProductStatusTx(ctx context.Context, tx *sql.Tx, id uuid.UUID, status string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.products[id]
	if !ok {
		return storage.ErrProductNotFound
	}
	p.Status = status
	return nil
}

type fakeAccountRepo struct{ *fakeStore }

var _ storage.AccountStorage = (*fakeAccountRepo)(nil)

func (f *fakeAccountRepo) GetAccount(ctx context.Context, userID uuid.UUID) (*models.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	tier, ok := f.tiers[userID]
	if !ok {
		return nil, storage.ErrUserNotFound
	}
	return &models.Account{UserID: userID, Tier: tier, Balance: f.balances[userID], CashbackBalance: f.cashback[userID]}, nil
}

func (f *fakeAccountRepo) GetTierTx(ctx context.Context, tx *sql.Tx, userID uuid.UUID) (models.Tier, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	tier, ok := f.tiers[userID]
	if !ok {
		return "", storage.ErrUserNotFound
	}
	return tier, nil
}

func (f *fakeAccountRepo) CreditBalanceTx(ctx context.Context, tx *sql.Tx, userID uuid.UUID, amount decimal.Decimal) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.creditErr != nil {
		return f.creditErr
	}
	f.balances[userID] = f.balances[userID].Add(amount)
	return nil
}

func (f *fakeAccountRepo) CreditCashbackTx(ctx context.Context, tx *sql.Tx, userID uuid.UUID, amount decimal.Decimal) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cashback[userID] = f.cashback[userID].Add(amount)
	return nil
}

func (f *fakeAccountRepo) IncrementSalesTx(ctx context.Context, tx *sql.Tx, userID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sales[userID]++
	return nil
}

type fakeLedgerRepo struct{ *fakeStore }

var _ storage.LedgerStorage = (*fakeLedgerRepo)(nil)

func (f *fakeLedgerRepo) CreateEntryTx(ctx context.Context, tx *sql.Tx, e *models.LedgerEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.ledger {
		if existing.OrderID == e.OrderID && existing.Type == e.Type {
			return storage.ErrDuplicateLedgerEntry
		}
	}
	f.ledger = append(f.ledger, e)
	return nil
}

func (f *fakeLedgerRepo) GetEntriesByUserID(ctx context.Context, userID uuid.UUID) ([]*models.LedgerEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.LedgerEntry
	for _, e := range f.ledger {
		if e.UserID == userID {
			out = append(out, e)
		}
	}
	return out, nil
}

type fakeAddressRepo struct{ *fakeStore }

var _ storage.AddressStorage = (*fakeAddressRepo)(nil)

func (f *fakeAddressRepo) GetAddressByID(ctx context.Context, id uuid.UUID) (*models.Address, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.addresses[id]
	if !ok {
		return nil, storage.ErrAddressNotFound
	}
	return a, nil
}

func (f *fakeAddressRepo) GetDefaultAddress(ctx context.Context, userID uuid.UUID) (*models.Address, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, a := range f.addresses {
		if a.UserID == userID {
			return a, nil
		}
	}
	return nil, storage.ErrAddressNotFound
}

type fakeReviewRepo struct{ *fakeStore }

var _ storage.ReviewStorage = (*fakeReviewRepo)(nil)

func (f *fakeReviewRepo) ReviewExistsTx(ctx context.Context, tx *sql.Tx, orderID, reviewerID uuid.UUID) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range f.reviews {
		if r.OrderID == orderID && r.ReviewerID == reviewerID {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeReviewRepo) CreateReviewTx(ctx context.Context, tx *sql.Tx, rv *models.Review) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reviews = append(f.reviews, rv)
	return nil
}

func (f *fakeReviewRepo) RecalculateRatingTx(ctx context.Context, tx *sql.Tx, userID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ratings[userID]++
	return nil
}

type fakeGateway struct {
	mu        sync.Mutex
	label     *shipping.Label
	labelErr  error
	onIssue   func()
	tracking  map[string]*models.Tracking
	trackErr  error
	quotes    []shipping.Quote
	cancelled []string
	tracked   int
	// trackedCodes - трек-номера в порядке запросов
	trackedCodes []string
}

var _ shipping.Gateway = (*fakeGateway)(nil)

func (g *fakeGateway) Quote(ctx context.Context, req shipping.QuoteRequest) ([]shipping.Quote, error) {
	return g.quotes, nil
}

func (g *fakeGateway) IssueLabel(ctx context.Context, req shipping.LabelRequest) (*shipping.Label, error) {
	if g.onIssue != nil {
		g.onIssue()
	}
	if g.labelErr != nil {
		return nil, g.labelErr
	}
	return g.label, nil
}

func (g *fakeGateway) Track(ctx context.Context, code string) (*models.Tracking, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.tracked++
	g.trackedCodes = append(g.trackedCodes, code)
	if g.trackErr != nil {
		return nil, g.trackErr
	}
	tr, ok := g.tracking[code]
	if !ok {
		return nil, shipping.ErrGatewayUnavailable
	}
	return tr, nil
}

func (g *fakeGateway) CancelLabel(ctx context.Context, labelID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.cancelled = append(g.cancelled, labelID)
	return nil
}

type fakePayments struct {
	err error
}

func (p *fakePayments) CreateIntent(ctx context.Context, o *models.Order) (*payment.Intent, error) {
	if p.err != nil {
		return nil, p.err
	}
	return &payment.Intent{ID: "pi_" + o.OrderNumber, ClientSecret: "secret"}, nil
}

type fakePublisher struct {
	mu     sync.Mutex
	events []events.OrderStatusChanged
}

func (p *fakePublisher) Publish(ctx context.Context, e events.OrderStatusChanged) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

func (p *fakePublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.events)
}

// fakeClock - управляемые часы.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}
