package shipping

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/linemk/resale-orders/internal/domain/models"
	"github.com/shopspring/decimal"
)

const carrierTimeLayout = "2006-01-02 15:04:05"

// Client - клиент агрегатора доставки Melhor Envio.
type Client struct {
	log       *slog.Logger
	baseURL   string
	token     string
	userAgent string
	timeout   time.Duration
	http      *http.Client
}

type ClientConfig struct {
	BaseURL   string
	Token     string
	UserAgent string
	Timeout   time.Duration
}

func NewClient(log *slog.Logger, cfg ClientConfig) *Client {
	return &Client{
		log:       log,
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		token:     cfg.Token,
		userAgent: cfg.UserAgent,
		timeout:   cfg.Timeout,
		http:      &http.Client{},
	}
}

var _ Gateway = (*Client)(nil)

// APIError - отказ перевозчика, не являющийся временным.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("carrier api error %d: %s", e.Status, e.Message)
}

type calculateOption struct {
	ID            int    `json:"id"`
	Name          string `json:"name"`
	Price         string `json:"price"`
	CustomPrice   string `json:"custom_price"`
	DeliveryTime  int    `json:"delivery_time"`
	DeliveryRange struct {
		Min int `json:"min"`
		Max int `json:"max"`
	} `json:"delivery_range"`
	Company struct {
		Name string `json:"name"`
	} `json:"company"`
	Error string `json:"error"`
}

// Quote запрашивает тарифы и возвращает их от дешёвого к дорогому.
func (c *Client) Quote(ctx context.Context, req QuoteRequest) ([]Quote, error) {
	const op = "shipping.Client.Quote"

	body := map[string]any{
		"from": map[string]string{"postal_code": digits(req.FromPostalCode)},
		"to":   map[string]string{"postal_code": digits(req.ToPostalCode)},
		"products": []map[string]any{{
			"id":              "1",
			"width":           req.Package.Width,
			"height":          req.Package.Height,
			"length":          req.Package.Length,
			"weight":          req.Package.Weight,
			"insurance_value": req.DeclaredValue,
			"quantity":        1,
		}},
		"options": map[string]any{
			"insurance_value": req.DeclaredValue,
			"receipt":         false,
			"own_hand":        false,
		},
	}

	var options []calculateOption
	if err := c.do(ctx, http.MethodPost, "/me/shipment/calculate", body, &options); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	quotes := make([]Quote, 0, len(options))
	for _, o := range options {
		if o.Error != "" {
			continue
		}
		raw := o.CustomPrice
		if raw == "" {
			raw = o.Price
		}
		price, err := decimal.NewFromString(raw)
		if err != nil {
			c.log.Warn("skipping quote with unparsable price", slog.String("op", op), slog.String("price", raw))
			continue
		}
		q := Quote{
			ServiceID:  o.ID,
			Service:    o.Name,
			Carrier:    o.Company.Name,
			Price:      price,
			EtaMinDays: o.DeliveryRange.Min,
			EtaMaxDays: o.DeliveryRange.Max,
		}
		if q.Carrier == "" {
			q.Carrier = o.Name
		}
		if q.EtaMinDays == 0 {
			q.EtaMinDays = o.DeliveryTime
		}
		if q.EtaMaxDays == 0 {
			q.EtaMaxDays = o.DeliveryTime + 3
		}
		quotes = append(quotes, q)
	}
	sort.SliceStable(quotes, func(i, j int) bool { return quotes[i].Price.LessThan(quotes[j].Price) })
	return quotes, nil
}

func partyBody(p Party) map[string]any {
	return map[string]any{
		"name":        p.Name,
		"phone":       p.Phone,
		"address":     p.Street,
		"number":      p.Number,
		"complement":  p.Complement,
		"district":    p.District,
		"city":        p.City,
		"state_abbr":  p.State,
		"country_id":  "BR",
		"postal_code": p.PostalCode,
	}
}

// IssueLabel покупает этикетку: корзина, оплата, генерация, печать.
func (c *Client) IssueLabel(ctx context.Context, req LabelRequest) (*Label, error) {
	const op = "shipping.Client.IssueLabel"

	cartBody := map[string]any{
		"service":  req.ServiceID,
		"from":     partyBody(req.From),
		"to":       partyBody(req.To),
		"products": []map[string]any{{"name": req.ProductTitle, "quantity": 1, "unitary_value": req.DeclaredValue}},
		"volumes": []map[string]any{{
			"width":  req.Package.Width,
			"height": req.Package.Height,
			"length": req.Package.Length,
			"weight": req.Package.Weight,
		}},
		"options": map[string]any{
			"insurance_value": req.DeclaredValue,
			"non_commercial":  true,
			"tags":            []map[string]string{{"tag": "Order #" + req.OrderNumber}},
		},
	}

	var cart struct {
		ID string `json:"id"`
	}
	if err := c.do(ctx, http.MethodPost, "/me/cart", cartBody, &cart); err != nil {
		return nil, fmt.Errorf("%s: add to cart: %w", op, err)
	}
	ids := map[string]any{"orders": []string{cart.ID}}

	if err := c.do(ctx, http.MethodPost, "/me/shipment/checkout", ids, nil); err != nil {
		return nil, fmt.Errorf("%s: checkout: %w", op, err)
	}
	// после checkout этикетка оплачена: при сбое дальше её нужно отменить
	if err := c.do(ctx, http.MethodPost, "/me/shipment/generate", ids, nil); err != nil {
		return nil, c.abortLabel(ctx, op, cart.ID, fmt.Errorf("generate: %w", err))
	}

	var printed struct {
		URL string `json:"url"`
	}
	printBody := map[string]any{"mode": "public", "orders": []string{cart.ID}}
	if err := c.do(ctx, http.MethodPost, "/me/shipment/print", printBody, &printed); err != nil {
		return nil, c.abortLabel(ctx, op, cart.ID, fmt.Errorf("print: %w", err))
	}

	var shipment struct {
		Tracking string `json:"tracking"`
		Service  struct {
			Company struct {
				Name string `json:"name"`
			} `json:"company"`
		} `json:"service"`
	}
	if err := c.do(ctx, http.MethodGet, "/me/orders/"+url.PathEscape(cart.ID), nil, &shipment); err != nil {
		return nil, c.abortLabel(ctx, op, cart.ID, fmt.Errorf("fetch shipment: %w", err))
	}

	return &Label{
		LabelID:      cart.ID,
		TrackingCode: shipment.Tracking,
		LabelURL:     printed.URL,
		Carrier:      shipment.Service.Company.Name,
	}, nil
}

type trackingResponse struct {
	Status      string `json:"status"`
	DeliveredAt string `json:"delivered_at"`
	Tracking    []struct {
		Status  string `json:"status"`
		Message string `json:"message"`
		Date    string `json:"date"`
		City    string `json:"city"`
		State   string `json:"state"`
	} `json:"tracking"`
}

// Track запрашивает трекинг и нормализует статус.
func (c *Client) Track(ctx context.Context, trackingCode string) (*models.Tracking, error) {
	const op = "shipping.Client.Track"

	var resp map[string]trackingResponse
	path := "/me/shipment/tracking?orders=" + url.QueryEscape(trackingCode)
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	tr, ok := resp[trackingCode]
	if !ok {
		return nil, fmt.Errorf("%s: %w", op, &APIError{Status: http.StatusNotFound, Message: "tracking code not found"})
	}

	out := &models.Tracking{
		TrackingCode: trackingCode,
		Status:       Normalize(tr.Status),
		RawStatus:    tr.Status,
		Events:       make([]models.TrackingEvent, 0, len(tr.Tracking)),
	}
	if t, ok := parseCarrierTime(tr.DeliveredAt); ok {
		out.DeliveredAt = &t
	}
	for _, e := range tr.Tracking {
		ev := models.TrackingEvent{Message: e.Message, RawStatus: e.Status}
		if t, ok := parseCarrierTime(e.Date); ok {
			ev.OccurredAt = t
		}
		if e.City != "" {
			ev.Location = e.City + "/" + e.State
		}
		out.Events = append(out.Events, ev)
	}
	return out, nil
}

// abortLabel отменяет оплаченную, но не выпущенную до конца этикетку.
// Если отмена не удалась, ID этикетки остаётся в логе для ручной отмены.
func (c *Client) abortLabel(ctx context.Context, op, labelID string, cause error) error {
	logger := c.log.With(slog.String("op", op), slog.String("label_id", labelID))
	if err := c.CancelLabel(context.WithoutCancel(ctx), labelID); err != nil {
		logger.Error("failed to cancel unfinished label", slog.Any("cause", cause), slog.Any("error", err))
		return fmt.Errorf("%s: %w (label %s not cancelled: %v)", op, cause, labelID, err)
	}
	logger.Warn("unfinished label cancelled", slog.Any("cause", cause))
	return fmt.Errorf("%s: %w", op, cause)
}

// CancelLabel отменяет этикетку. Ошибку вызывающий только логирует.
func (c *Client) CancelLabel(ctx context.Context, labelID string) error {
	const op = "shipping.Client.CancelLabel"
	if err := c.do(ctx, http.MethodPost, "/me/shipment/cancel", map[string]any{"orders": []string{labelID}}, nil); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// do выполняет один запрос с таймаутом клиента и классифицирует ошибки.
func (c *Client) do(ctx context.Context, method, path string, body any, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("%w: read body: %v", ErrGatewayUnavailable, err)
	}

	switch {
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return fmt.Errorf("%w: status %d", ErrGatewayUnavailable, resp.StatusCode)
	case resp.StatusCode == http.StatusUnprocessableEntity || resp.StatusCode == http.StatusBadRequest:
		return fmt.Errorf("%w: %s", ErrAddressInvalid, carrierMessage(data))
	case resp.StatusCode >= 400:
		return &APIError{Status: resp.StatusCode, Message: carrierMessage(data)}
	}

	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode carrier response: %w", err)
	}
	return nil
}

func carrierMessage(data []byte) string {
	var payload struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(data, &payload); err == nil && payload.Message != "" {
		return payload.Message
	}
	return strconv.Quote(string(data))
}

func parseCarrierTime(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	if t, err := time.ParseInLocation(carrierTimeLayout, s, time.UTC); err == nil {
		return t, true
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, true
	}
	return time.Time{}, false
}

// IsTemporary сообщает, можно ли повторить вызов.
func IsTemporary(err error) bool {
	return errors.Is(err, ErrGatewayUnavailable)
}
