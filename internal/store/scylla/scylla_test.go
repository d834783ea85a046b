package scylla

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shop_back_end/internal/config"
	"shop_back_end/internal/database"
	"shop_back_end/internal/logger"
	"shop_back_end/internal/models"
	"shop_back_end/internal/store"
	"shop_back_end/internal/store/storetest"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	hosts, redisAddr := os.Getenv("SCYLLA_TEST_HOSTS"), os.Getenv("REDIS_TEST_ADDR")
	if hosts == "" || redisAddr == "" {
		t.Skip("SCYLLA_TEST_HOSTS and REDIS_TEST_ADDR not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	sm, err := database.NewScyllaManager(config.ScyllaConfig{
		Hosts:            strings.Split(hosts, ","),
		ProductsKeyspace: envOr("SCYLLA_TEST_PRODUCTS_KEYSPACE", "shop_products_test"),
		OrdersKeyspace:   envOr("SCYLLA_TEST_ORDERS_KEYSPACE", "shop_orders_test"),
		UsersKeyspace:    envOr("SCYLLA_TEST_USERS_KEYSPACE", "shop_users_test"),
		Timeout:          10 * time.Second,
		NumConns:         2,
	}, logger.Discard())
	require.NoError(t, err)
	require.NoError(t, database.MigrateScylla(sm))

	rdb, err := database.NewRedis(ctx, redisAddr, "")
	require.NoError(t, err)
	t.Cleanup(func() { _ = rdb.Close() })

	s, err := New(sm, rdb, time.Hour)
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func TestStore(t *testing.T) {
	storetest.Run(t, newTestStore(t))
}

func TestCartWriteIsNotBroadcast(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	sub := s.rdb.PSubscribe(ctx, "cart*")
	t.Cleanup(func() { _ = sub.Close() })
	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	userID := uuid.NewString()
	require.NoError(t, store.Run(ctx, s, func(tx store.Tx) error {
		if _, err := tx.CreateCart(ctx, userID); err != nil {
			return err
		}
		return tx.ReplaceCartItems(ctx, userID, []models.CartItem{{ProductID: uuid.NewString(), Quantity: 1}})
	}))

	select {
	case msg := <-sub.Channel():
		t.Fatalf("cart write published on %s", msg.Channel)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestDecimalRoundTrip(t *testing.T) {
	for _, s := range []string{"0", "10.00", "19.99", "0.005", "123456789.123456789", "-4.2"} {
		d := decimal.RequireFromString(s)
		assert.True(t, d.Equal(fromInf(toInf(d))), s)
	}
	assert.True(t, fromInf(nil).IsZero())
}

func TestMalformedIDIsNotFound(t *testing.T) {
	_, err := parseID("not-a-uuid")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestInsertOrdersKeepsHalfWrittenOrder(t *testing.T) {
	orders := []models.Order{{ID: "o1"}, {ID: "o2"}, {ID: "o3"}}
	indexErr := errors.New("orders_by_user write timed out")

	var calls []string
	inserted, err := insertOrders(orders, func(o models.Order) (bool, error) {
		calls = append(calls, o.ID)
		if o.ID == "o2" {
			return true, indexErr
		}
		return true, nil
	})
	require.ErrorIs(t, err, indexErr)
	assert.Equal(t, []string{"o1", "o2"}, calls)

	ids := make([]string, 0, len(inserted))
	for _, o := range inserted {
		ids = append(ids, o.ID)
	}
	assert.Equal(t, []string{"o1", "o2"}, ids)
}

func TestInsertOrdersSkipsRejectedOrder(t *testing.T) {
	orders := []models.Order{{ID: "o1"}, {ID: "o2"}}

	inserted, err := insertOrders(orders, func(o models.Order) (bool, error) {
		if o.ID == "o2" {
			return false, store.ErrAlreadyExists
		}
		return true, nil
	})
	require.ErrorIs(t, err, store.ErrAlreadyExists)
	require.Len(t, inserted, 1)
	assert.Equal(t, "o1", inserted[0].ID)
}
