package services

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shop_back_end/internal/cache"
	"shop_back_end/internal/logger"
	"shop_back_end/internal/models"
	"shop_back_end/internal/store"
)

var (
	shopper  = models.Actor{UserID: "u1", Role: models.RoleUser}
	manager  = models.Actor{UserID: "m1", Role: models.RoleShopManager}
	manager2 = models.Actor{UserID: "m2", Role: models.RoleShopManager}
	admin    = models.Actor{UserID: "a1", Role: models.RoleAdmin}
)

func lampInput() ProductInput {
	return ProductInput{Name: " Lamp ", Price: decimal.RequireFromString("12.50"), Stock: 3}
}

func TestCreateProduct(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	_, err := e.products.Create(ctx, shopper, lampInput())
	assert.ErrorIs(t, err, ErrForbidden)

	bad := lampInput()
	bad.Price = decimal.RequireFromString("-1")
	_, err = e.products.Create(ctx, manager, bad)
	assert.ErrorIs(t, err, ErrValidation)

	p, err := e.products.Create(ctx, manager, lampInput())
	require.NoError(t, err)
	assert.Equal(t, "Lamp", p.Name)
	assert.Equal(t, manager.UserID, p.OwnerID)

	got, err := e.products.Get(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, p.ID, got.ID)

	owned, err := e.products.Owned(ctx, manager)
	require.NoError(t, err)
	assert.Len(t, owned, 1)

	_, err = e.products.Owned(ctx, shopper)
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestUpdateProductOwnership(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	p, err := e.products.Create(ctx, manager, lampInput())
	require.NoError(t, err)

	stock := 10
	patch := models.ProductPatch{Stock: &stock}

	_, err = e.products.Update(ctx, manager2, p.ID, patch)
	assert.ErrorIs(t, err, ErrForbidden)

	updated, err := e.products.Update(ctx, manager, p.ID, patch)
	require.NoError(t, err)
	assert.Equal(t, 10, updated.Stock)

	price := decimal.RequireFromString("15")
	updated, err = e.products.Update(ctx, admin, p.ID, models.ProductPatch{Price: &price})
	require.NoError(t, err)
	assert.True(t, updated.Price.Equal(price))
	assert.Equal(t, 10, updated.Stock)

	negative := -1
	_, err = e.products.Update(ctx, admin, p.ID, models.ProductPatch{Stock: &negative})
	assert.ErrorIs(t, err, ErrValidation)

	_, err = e.products.Update(ctx, admin, "missing", patch)
	assert.ErrorIs(t, err, ErrProductNotFound)
}

func TestDeleteProduct(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	p, err := e.products.Create(ctx, manager, lampInput())
	require.NoError(t, err)

	assert.ErrorIs(t, e.products.Delete(ctx, manager2, p.ID), ErrForbidden)
	require.NoError(t, e.products.Delete(ctx, manager, p.ID))

	_, err = e.products.Get(ctx, p.ID)
	assert.ErrorIs(t, err, ErrProductNotFound)
	assert.ErrorIs(t, e.products.Delete(ctx, admin, p.ID), ErrProductNotFound)
}

// racingCatalog runs a checkout after the service has read the product and
// before its write reaches the store.
type racingCatalog struct {
	store.Catalog
	before func()
}

func (r racingCatalog) UpdateProduct(ctx context.Context, id string, patch models.ProductPatch, updatedAt time.Time) (models.Product, error) {
	r.before()
	return r.Catalog.UpdateProduct(ctx, id, patch, updatedAt)
}

func TestUpdateKeepsStockSoldDuringEdit(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	p := e.seedProduct(t, "lamp", "10.00", 5)
	e.seedCart(t, "u1", line(p.ID, 3))

	catalog := racingCatalog{Catalog: e.store, before: func() {
		_, err := e.checkout.Checkout(ctx, "u1", "1 Main St")
		require.NoError(t, err)
	}}
	log := logger.Discard()
	svc := NewProductService(catalog, cache.NewProductDisplay(nil, e.store, log), log)

	name := "Desk lamp"
	updated, err := svc.Update(ctx, admin, p.ID, models.ProductPatch{Name: &name})
	require.NoError(t, err)
	assert.Equal(t, "Desk lamp", updated.Name)
	assert.Equal(t, 2, updated.Stock)
	assert.Equal(t, 2, e.stock(t, p.ID))
	assert.Equal(t, 1, e.orderCount(t, "u1"))
}
