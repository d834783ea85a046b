// Package storetest holds behaviour tests every store backend must pass.
package storetest

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"shop_back_end/internal/models"
	"shop_back_end/internal/store"
)

// Run exercises s. The store must be empty or hold only unrelated rows.
func Run(t *testing.T, s store.Store) {
	t.Run("ProductLifecycle", func(t *testing.T) { testProductLifecycle(t, s) })
	t.Run("PatchKeepsCommittedStock", func(t *testing.T) { testPatchKeepsCommittedStock(t, s) })
	t.Run("ConditionalDecrement", func(t *testing.T) { testConditionalDecrement(t, s) })
	t.Run("RollbackDiscardsWrites", func(t *testing.T) { testRollback(t, s) })
	t.Run("CommitAppliesWrites", func(t *testing.T) { testCommit(t, s) })
	t.Run("RacingDecrementsNeverOversell", func(t *testing.T) { testRacingDecrements(t, s) })
	t.Run("CartCreateIsUnique", func(t *testing.T) { testCartUnique(t, s) })
	t.Run("OrderStatusCompareAndSet", func(t *testing.T) { testOrderStatus(t, s) })
	t.Run("OrderQueries", func(t *testing.T) { testOrderQueries(t, s) })
	t.Run("Users", func(t *testing.T) { testUsers(t, s) })
}

// NewProduct returns a product with a fresh id owned by owner.
func NewProduct(owner, price string, stock int) models.Product {
	now := time.Now().UTC().Truncate(time.Millisecond)
	return models.Product{
		ID:        uuid.NewString(),
		OwnerID:   owner,
		Name:      "product-" + uuid.NewString()[:8],
		Price:     decimal.RequireFromString(price),
		Stock:     stock,
		ImageURLs: []string{"https://img.example/p.png"},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// NewUser returns a user with a fresh id and a unique email.
func NewUser(role models.Role) models.User {
	now := time.Now().UTC().Truncate(time.Millisecond)
	id := uuid.NewString()
	return models.User{
		ID:           id,
		Name:         "user-" + id[:8],
		Email:        id[:8] + "@example.com",
		PasswordHash: "$2a$10$hash-" + id[:8],
		Role:         role,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

func seed(t *testing.T, s store.Store, p models.Product) models.Product {
	t.Helper()
	require.NoError(t, s.CreateProduct(context.Background(), p))
	return p
}

func stockOf(t *testing.T, s store.Store, id string) int {
	t.Helper()
	p, err := s.GetProduct(context.Background(), id)
	require.NoError(t, err)
	return p.Stock
}

func testProductLifecycle(t *testing.T, s store.Store) {
	ctx := context.Background()
	owner := uuid.NewString()
	p := seed(t, s, NewProduct(owner, "19.99", 4))

	assert.ErrorIs(t, s.CreateProduct(ctx, p), store.ErrAlreadyExists)

	got, err := s.GetProduct(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, p.Name, got.Name)
	assert.True(t, p.Price.Equal(got.Price), "price %s != %s", got.Price, p.Price)
	assert.Equal(t, 4, got.Stock)
	assert.Equal(t, p.ImageURLs, got.ImageURLs)

	price := decimal.RequireFromString("21.50")
	stock := 7
	updated, err := s.UpdateProduct(ctx, p.ID, models.ProductPatch{Price: &price, Stock: &stock}, time.Now().UTC())
	require.NoError(t, err)
	assert.Equal(t, 7, updated.Stock)
	assert.Equal(t, p.Name, updated.Name)

	again, err := s.GetProduct(ctx, p.ID)
	require.NoError(t, err)
	assert.True(t, again.Price.Equal(price))
	assert.Equal(t, 7, again.Stock)
	assert.Equal(t, p.ImageURLs, again.ImageURLs)

	owned, err := s.ProductsByOwner(ctx, owner)
	require.NoError(t, err)
	require.Len(t, owned, 1)
	assert.Equal(t, p.ID, owned[0].ID)

	require.NoError(t, s.DeleteProduct(ctx, p.ID))
	_, err = s.GetProduct(ctx, p.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.ErrorIs(t, s.DeleteProduct(ctx, p.ID), store.ErrNotFound)
	_, err = s.UpdateProduct(ctx, p.ID, models.ProductPatch{}, time.Now().UTC())
	assert.ErrorIs(t, err, store.ErrNotFound)
}

// A patch without stock must not undo a decrement committed after the
// editor read the product.
func testPatchKeepsCommittedStock(t *testing.T, s store.Store) {
	ctx := context.Background()
	p := seed(t, s, NewProduct("owner", "2.00", 5))

	require.NoError(t, store.Run(ctx, s, func(tx store.Tx) error {
		return tx.DecrementStock(ctx, p.ID, 3)
	}))

	name := "Renamed"
	updated, err := s.UpdateProduct(ctx, p.ID, models.ProductPatch{Name: &name}, time.Now().UTC())
	require.NoError(t, err)
	assert.Equal(t, "Renamed", updated.Name)
	assert.Equal(t, 2, updated.Stock)

	got, err := s.GetProduct(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.Stock)
	assert.True(t, got.Price.Equal(p.Price))
}

func testConditionalDecrement(t *testing.T, s store.Store) {
	ctx := context.Background()
	p := seed(t, s, NewProduct("owner", "3.00", 3))

	err := store.Run(ctx, s, func(tx store.Tx) error {
		return tx.DecrementStock(ctx, p.ID, 4)
	})
	assert.ErrorIs(t, err, store.ErrInsufficientStock)
	assert.Equal(t, 3, stockOf(t, s, p.ID))

	err = store.Run(ctx, s, func(tx store.Tx) error {
		return tx.DecrementStock(ctx, uuid.NewString(), 1)
	})
	assert.ErrorIs(t, err, store.ErrNotFound)

	require.NoError(t, store.Run(ctx, s, func(tx store.Tx) error {
		return tx.DecrementStock(ctx, p.ID, 3)
	}))
	assert.Equal(t, 0, stockOf(t, s, p.ID))
}

func testRollback(t *testing.T, s store.Store) {
	ctx := context.Background()
	p := seed(t, s, NewProduct("owner", "10.00", 5))
	user := uuid.NewString()
	items := []models.CartItem{{ProductID: p.ID, Quantity: 2}}

	require.NoError(t, store.Run(ctx, s, func(tx store.Tx) error {
		if _, err := tx.CreateCart(ctx, user); err != nil {
			return err
		}
		return tx.ReplaceCartItems(ctx, user, items)
	}))

	order := models.Order{
		ID:        uuid.NewString(),
		UserID:    user,
		Items:     []models.OrderItem{{ProductID: p.ID, Quantity: 2, Price: p.Price}},
		Total:     decimal.RequireFromString("20.00"),
		Address:   "1 Main St",
		Status:    models.OrderPending,
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}

	boom := errors.New("boom")
	err := store.Run(ctx, s, func(tx store.Tx) error {
		if err := tx.DecrementStock(ctx, p.ID, 2); err != nil {
			return err
		}
		if err := tx.InsertOrder(ctx, order); err != nil {
			return err
		}
		if err := tx.ReplaceCartItems(ctx, user, nil); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	assert.Equal(t, 5, stockOf(t, s, p.ID))
	_, err = s.OrderByID(ctx, order.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)

	require.NoError(t, store.Run(ctx, s, func(tx store.Tx) error {
		c, err := tx.CartByUser(ctx, user)
		if err != nil {
			return err
		}
		assert.Equal(t, items, c.Items)
		return nil
	}))
}

func testCommit(t *testing.T, s store.Store) {
	ctx := context.Background()
	p := seed(t, s, NewProduct("owner", "10.00", 5))
	user := uuid.NewString()

	order := models.Order{
		ID:        uuid.NewString(),
		UserID:    user,
		Items:     []models.OrderItem{{ProductID: p.ID, Quantity: 2, Price: p.Price}},
		Total:     decimal.RequireFromString("20.00"),
		Address:   "1 Main St",
		Status:    models.OrderPending,
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}

	require.NoError(t, store.Run(ctx, s, func(tx store.Tx) error {
		if _, err := tx.CreateCart(ctx, user); err != nil {
			return err
		}
		if err := tx.DecrementStock(ctx, p.ID, 2); err != nil {
			return err
		}
		if err := tx.InsertOrder(ctx, order); err != nil {
			return err
		}
		return tx.ReplaceCartItems(ctx, user, nil)
	}))

	assert.Equal(t, 3, stockOf(t, s, p.ID))

	got, err := s.OrderByID(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, user, got.UserID)
	assert.Equal(t, models.OrderPending, got.Status)
	assert.True(t, got.Total.Equal(order.Total))
	require.Len(t, got.Items, 1)
	assert.Equal(t, p.ID, got.Items[0].ProductID)
	assert.Equal(t, 2, got.Items[0].Quantity)
	assert.True(t, got.Items[0].Price.Equal(p.Price))
}

func testRacingDecrements(t *testing.T, s store.Store) {
	ctx := context.Background()
	const initial, perBuyer, buyers = 5, 3, 4
	p := seed(t, s, NewProduct("owner", "1.00", initial))

	var committed atomic.Int64
	var g errgroup.Group
	for i := 0; i < buyers; i++ {
		g.Go(func() error {
			err := store.Run(ctx, s, func(tx store.Tx) error {
				cur, err := tx.ProductByID(ctx, p.ID)
				if err != nil {
					return err
				}
				if cur.Stock < perBuyer {
					return store.ErrInsufficientStock
				}
				return tx.DecrementStock(ctx, p.ID, perBuyer)
			})
			switch {
			case err == nil:
				committed.Add(perBuyer)
			case errors.Is(err, store.ErrConflict), errors.Is(err, store.ErrInsufficientStock):
			default:
				return err
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	assert.Equal(t, int64(perBuyer), committed.Load())
	assert.Equal(t, initial-perBuyer, stockOf(t, s, p.ID))
}

func testCartUnique(t *testing.T, s store.Store) {
	ctx := context.Background()
	user := uuid.NewString()

	err := store.Run(ctx, s, func(tx store.Tx) error {
		_, err := tx.CartByUser(ctx, user)
		return err
	})
	require.ErrorIs(t, err, store.ErrNotFound)

	var first models.Cart
	require.NoError(t, store.Run(ctx, s, func(tx store.Tx) (err error) {
		first, err = tx.CreateCart(ctx, user)
		return err
	}))
	assert.Empty(t, first.Items)

	err = store.Run(ctx, s, func(tx store.Tx) error {
		_, err := tx.CreateCart(ctx, user)
		return err
	})
	assert.ErrorIs(t, err, store.ErrAlreadyExists)

	err = store.Run(ctx, s, func(tx store.Tx) error {
		return tx.ReplaceCartItems(ctx, uuid.NewString(), nil)
	})
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func testOrderStatus(t *testing.T, s store.Store) {
	ctx := context.Background()
	order := models.Order{
		ID:        uuid.NewString(),
		UserID:    uuid.NewString(),
		Items:     []models.OrderItem{{ProductID: uuid.NewString(), Quantity: 1, Price: decimal.RequireFromString("1.00")}},
		Total:     decimal.RequireFromString("1.00"),
		Address:   "2 Side St",
		Status:    models.OrderPending,
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}
	require.NoError(t, store.Run(ctx, s, func(tx store.Tx) error { return tx.InsertOrder(ctx, order) }))

	require.NoError(t, s.UpdateOrderStatus(ctx, order.ID, models.OrderPending, models.OrderPaid))
	assert.ErrorIs(t, s.UpdateOrderStatus(ctx, order.ID, models.OrderPending, models.OrderCancelled), store.ErrConflict)
	assert.ErrorIs(t, s.UpdateOrderStatus(ctx, uuid.NewString(), models.OrderPending, models.OrderPaid), store.ErrNotFound)

	got, err := s.OrderByID(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderPaid, got.Status)
}

func testOrderQueries(t *testing.T, s store.Store) {
	ctx := context.Background()
	user := uuid.NewString()
	productA, productB := uuid.NewString(), uuid.NewString()
	base := time.Now().UTC().Truncate(time.Millisecond)

	older := models.Order{
		ID: uuid.NewString(), UserID: user, Address: "a", Status: models.OrderPending,
		Items:     []models.OrderItem{{ProductID: productA, Quantity: 1, Price: decimal.RequireFromString("2.00")}},
		Total:     decimal.RequireFromString("2.00"),
		CreatedAt: base.Add(-time.Hour), UpdatedAt: base.Add(-time.Hour),
	}
	newer := models.Order{
		ID: uuid.NewString(), UserID: user, Address: "a", Status: models.OrderPending,
		Items:     []models.OrderItem{{ProductID: productB, Quantity: 3, Price: decimal.RequireFromString("1.50")}},
		Total:     decimal.RequireFromString("4.50"),
		CreatedAt: base, UpdatedAt: base,
	}
	for _, o := range []models.Order{older, newer} {
		require.NoError(t, store.Run(ctx, s, func(tx store.Tx) error { return tx.InsertOrder(ctx, o) }))
	}

	mine, err := s.OrdersByUser(ctx, user)
	require.NoError(t, err)
	require.Len(t, mine, 2)
	assert.Equal(t, newer.ID, mine[0].ID)
	assert.Equal(t, older.ID, mine[1].ID)

	withA, err := s.OrdersWithProducts(ctx, []string{productA})
	require.NoError(t, err)
	require.Len(t, withA, 1)
	assert.Equal(t, older.ID, withA[0].ID)

	none, err := s.OrdersWithProducts(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func testUsers(t *testing.T, s store.Store) {
	ctx := context.Background()

	older := NewUser(models.RoleUser)
	manager := NewUser(models.RoleShopManager)
	manager.Shop = &models.Shop{Name: "Corner Shop", Location: "Lyon"}
	manager.CreatedAt = older.CreatedAt.Add(time.Second)
	require.NoError(t, s.CreateUser(ctx, older))
	require.NoError(t, s.CreateUser(ctx, manager))

	dup := NewUser(models.RoleUser)
	dup.Email = older.Email
	assert.ErrorIs(t, s.CreateUser(ctx, dup), store.ErrAlreadyExists)

	got, err := s.GetUser(ctx, manager.ID)
	require.NoError(t, err)
	assert.Equal(t, manager.Email, got.Email)
	assert.Equal(t, manager.PasswordHash, got.PasswordHash)
	assert.Equal(t, models.RoleShopManager, got.Role)
	assert.Equal(t, manager.Shop, got.Shop)

	got, err = s.GetUser(ctx, older.ID)
	require.NoError(t, err)
	assert.Nil(t, got.Shop)

	all, err := s.ListUsers(ctx)
	require.NoError(t, err)
	pos := map[string]int{}
	for i, u := range all {
		pos[u.ID] = i
	}
	require.Contains(t, pos, older.ID)
	require.Contains(t, pos, manager.ID)
	assert.Less(t, pos[manager.ID], pos[older.ID], "newest first")

	taken := manager
	taken.Email = older.Email
	assert.ErrorIs(t, s.UpdateUser(ctx, taken), store.ErrAlreadyExists)

	oldEmail := manager.Email
	manager.Email = "moved-" + oldEmail
	manager.Name = "Renamed"
	manager.Shop = &models.Shop{Name: "Corner Shop", Location: "Paris"}
	manager.PasswordHash = "ignored"
	require.NoError(t, s.UpdateUser(ctx, manager))

	got, err = s.GetUser(ctx, manager.ID)
	require.NoError(t, err)
	assert.Equal(t, "Renamed", got.Name)
	assert.Equal(t, manager.Email, got.Email)
	assert.Equal(t, "Paris", got.Shop.Location)
	assert.NotEqual(t, "ignored", got.PasswordHash)

	// the old address is free again
	reuse := NewUser(models.RoleUser)
	reuse.Email = oldEmail
	require.NoError(t, s.CreateUser(ctx, reuse))

	require.NoError(t, s.DeleteUser(ctx, manager.ID))
	_, err = s.GetUser(ctx, manager.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.ErrorIs(t, s.DeleteUser(ctx, manager.ID), store.ErrNotFound)
	assert.ErrorIs(t, s.UpdateUser(ctx, manager), store.ErrNotFound)

	again := NewUser(models.RoleUser)
	again.Email = manager.Email
	require.NoError(t, s.CreateUser(ctx, again))
}
