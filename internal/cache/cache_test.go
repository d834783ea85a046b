package cache

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shop_back_end/internal/database"
	"shop_back_end/internal/logger"
	"shop_back_end/internal/models"
	"shop_back_end/internal/store"
)

type fakeSource struct {
	mu       sync.Mutex
	products map[string]models.Product
	calls    int
}

func (f *fakeSource) GetProduct(ctx context.Context, id string) (models.Product, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	p, ok := f.products[id]
	if !ok {
		return models.Product{}, store.ErrNotFound
	}
	return p, nil
}

func TestLookupWithoutRedis(t *testing.T) {
	src := &fakeSource{products: map[string]models.Product{
		"p1": {ID: "p1", Name: "Lamp", ImageURLs: []string{"a.png", "b.png"}},
		"p2": {ID: "p2", Name: "Chair"},
	}}
	c := NewProductDisplay(nil, src, logger.Discard())

	got := c.Lookup(context.Background(), []string{"p1", "p2", "p1", "gone"})

	assert.Equal(t, map[string]Display{
		"p1": {Name: "Lamp", ImageURL: "a.png"},
		"p2": {Name: "Chair"},
	}, got)
	assert.Equal(t, 3, src.calls)

	c.Invalidate(context.Background(), "p1")
	assert.Empty(t, c.Lookup(context.Background(), nil))
}

func TestLookupWithRedis(t *testing.T) {
	addr := os.Getenv("REDIS_TEST_ADDR")
	if addr == "" {
		t.Skip("REDIS_TEST_ADDR not set")
	}
	ctx := context.Background()
	rdb, err := database.NewRedis(ctx, addr, "")
	require.NoError(t, err)
	t.Cleanup(func() { _ = rdb.Close() })

	id := uuid.NewString()
	src := &fakeSource{products: map[string]models.Product{id: {ID: id, Name: "Desk"}}}
	c := NewProductDisplay(rdb, src, logger.Discard())
	t.Cleanup(func() { c.Invalidate(ctx, id) })

	assert.Equal(t, "Desk", c.Lookup(ctx, []string{id})[id].Name)
	assert.Equal(t, "Desk", c.Lookup(ctx, []string{id})[id].Name)
	assert.Equal(t, 1, src.calls, "second lookup is served from redis")

	c.Invalidate(ctx, id)
	c.Lookup(ctx, []string{id})
	assert.Equal(t, 2, src.calls)
}

func TestRateLimiter(t *testing.T) {
	addr := os.Getenv("REDIS_TEST_ADDR")
	if addr == "" {
		t.Skip("REDIS_TEST_ADDR not set")
	}
	ctx := context.Background()
	rdb, err := database.NewRedis(ctx, addr, "")
	require.NoError(t, err)
	t.Cleanup(func() { _ = rdb.Close() })

	l := NewRateLimiter(rdb, "test_limit:", 2, time.Minute)
	key := uuid.NewString()

	ok, remaining, err := l.Allow(ctx, key)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.EqualValues(t, 1, remaining)

	ok, _, err = l.Allow(ctx, key)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, remaining, err = l.Allow(ctx, key)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.EqualValues(t, 0, remaining)
}
