package shipping

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/linemk/resale-orders/internal/domain/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memCache struct {
	mu     sync.Mutex
	items  map[string][]byte
	getErr error
}

func newMemCache() *memCache { return &memCache{items: map[string][]byte{}} }

func (c *memCache) Get(_ context.Context, key string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.getErr != nil {
		return nil, c.getErr
	}
	v, ok := c.items[key]
	if !ok {
		return nil, ErrCacheMiss
	}
	return v, nil
}

func (c *memCache) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[key] = value
	return nil
}

type countingGateway struct {
	Gateway
	tracks int
	err    error
}

func (g *countingGateway) Track(_ context.Context, code string) (*models.Tracking, error) {
	g.tracks++
	if g.err != nil {
		return nil, g.err
	}
	return &models.Tracking{TrackingCode: code, Status: models.TrackingInTransit, RawStatus: "posted"}, nil
}

func TestCachedGateway_Track_UsesCache(t *testing.T) {
	next := &countingGateway{}
	g := NewCachedGateway(slog.New(slog.NewTextHandler(io.Discard, nil)), next, newMemCache(), time.Minute)

	first, err := g.Track(context.Background(), "BR1")
	require.NoError(t, err)
	second, err := g.Track(context.Background(), "BR1")
	require.NoError(t, err)

	assert.Equal(t, 1, next.tracks)
	assert.Equal(t, first.Status, second.Status)
	assert.Equal(t, "posted", second.RawStatus)
}

func TestCachedGateway_Track_CacheFailureFallsThrough(t *testing.T) {
	next := &countingGateway{}
	cache := newMemCache()
	cache.getErr = errors.New("connection refused")
	g := NewCachedGateway(slog.New(slog.NewTextHandler(io.Discard, nil)), next, cache, time.Minute)

	tr, err := g.Track(context.Background(), "BR1")
	require.NoError(t, err)
	assert.Equal(t, "BR1", tr.TrackingCode)
	assert.Equal(t, 1, next.tracks)
}

func TestCachedGateway_Track_ErrorNotCached(t *testing.T) {
	next := &countingGateway{err: ErrGatewayUnavailable}
	cache := newMemCache()
	g := NewCachedGateway(slog.New(slog.NewTextHandler(io.Discard, nil)), next, cache, time.Minute)

	_, err := g.Track(context.Background(), "BR1")
	assert.ErrorIs(t, err, ErrGatewayUnavailable)
	assert.Empty(t, cache.items)
}

func TestCachedGateway_Track_CorruptEntryRefetched(t *testing.T) {
	next := &countingGateway{}
	cache := newMemCache()
	cache.items[trackingKey("AB123456789BR")] = []byte("{not json")
	g := NewCachedGateway(slog.New(slog.NewTextHandler(io.Discard, nil)), next, cache, time.Minute)

	var tr *models.Tracking
	var err error
	require.NotPanics(t, func() {
		tr, err = g.Track(context.Background(), "AB123456789BR")
	})
	require.NoError(t, err)
	assert.Equal(t, "AB123456789BR", tr.TrackingCode)
	assert.Equal(t, 1, next.tracks)
	assert.JSONEq(t, `{"tracking_code":"AB123456789BR","status":"in_transit","raw_status":"posted","events":null}`,
		string(cache.items[trackingKey("AB123456789BR")]), "corrupt entry should be overwritten")
}
