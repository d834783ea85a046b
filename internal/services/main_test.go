package services

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"shop_back_end/internal/cache"
	"shop_back_end/internal/logger"
	"shop_back_end/internal/models"
	"shop_back_end/internal/store"
	"shop_back_end/internal/store/memory"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type env struct {
	store    *memory.Store
	checkout *CheckoutService
	carts    *CartService
	products *ProductService
	orders   *OrderService
	users    *UserService
}

func newEnv(t *testing.T) *env {
	t.Helper()
	s := memory.New()
	log := logger.Discard()
	display := cache.NewProductDisplay(nil, s, log)
	return &env{
		store:    s,
		checkout: NewCheckoutService(s, time.Second, log),
		carts:    NewCartService(s, s, log),
		products: NewProductService(s, display, log),
		orders:   NewOrderService(s, s, display, log),
		users:    NewUserService(s, log),
	}
}

func (e *env) seedProduct(t *testing.T, name, price string, stock int) models.Product {
	t.Helper()
	now := time.Now().UTC()
	p := models.Product{
		ID:        uuid.NewString(),
		OwnerID:   "manager-1",
		Name:      name,
		Price:     decimal.RequireFromString(price),
		Stock:     stock,
		ImageURLs: []string{name + ".png"},
		CreatedAt: now,
		UpdatedAt: now,
	}
	require.NoError(t, e.store.CreateProduct(context.Background(), p))
	return p
}

// seedCart writes items straight to the store, bypassing the stock pre-check.
func (e *env) seedCart(t *testing.T, userID string, items ...models.CartItem) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, store.Run(ctx, e.store, func(tx store.Tx) error {
		if _, err := tx.CartByUser(ctx, userID); err != nil {
			if _, err := tx.CreateCart(ctx, userID); err != nil {
				return err
			}
		}
		return tx.ReplaceCartItems(ctx, userID, items)
	}))
}

func (e *env) cartItems(t *testing.T, userID string) []models.CartItem {
	t.Helper()
	c, err := e.carts.GetOrCreate(context.Background(), userID)
	require.NoError(t, err)
	return models.StoredItems(c.Items)
}

func (e *env) stock(t *testing.T, productID string) int {
	t.Helper()
	p, err := e.store.GetProduct(context.Background(), productID)
	require.NoError(t, err)
	return p.Stock
}

func (e *env) orderCount(t *testing.T, userID string) int {
	t.Helper()
	orders, err := e.store.OrdersByUser(context.Background(), userID)
	require.NoError(t, err)
	return len(orders)
}

func line(productID string, qty int) models.CartItem {
	return models.CartItem{ProductID: productID, Quantity: qty}
}
