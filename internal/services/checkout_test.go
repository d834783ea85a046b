package services

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
	"pgregory.net/rapid"

	"shop_back_end/internal/logger"
	"shop_back_end/internal/models"
	"shop_back_end/internal/store"
	"shop_back_end/internal/store/memory"
)

func TestCheckoutSucceeds(t *testing.T) {
	e := newEnv(t)
	a := e.seedProduct(t, "lamp", "10.00", 5)
	e.seedCart(t, "u1", line(a.ID, 2))

	order, err := e.checkout.Checkout(context.Background(), "u1", "  1 Main St  ")
	require.NoError(t, err)

	assert.NotEmpty(t, order.ID)
	assert.Equal(t, "u1", order.UserID)
	assert.Equal(t, "1 Main St", order.Address)
	assert.Equal(t, models.OrderPending, order.Status)
	assert.True(t, order.Total.Equal(decimal.RequireFromString("20.00")), "total %s", order.Total)
	require.Len(t, order.Items, 1)
	assert.Equal(t, 2, order.Items[0].Quantity)
	assert.True(t, order.Items[0].Price.Equal(a.Price))
	assert.Equal(t, "lamp", order.Items[0].Name)
	assert.Equal(t, "lamp.png", order.Items[0].ImageURL)

	assert.Equal(t, 3, e.stock(t, a.ID))
	assert.Empty(t, e.cartItems(t, "u1"))

	stored, err := e.store.OrderByID(context.Background(), order.ID)
	require.NoError(t, err)
	assert.True(t, stored.Total.Equal(order.Total))
	assert.Empty(t, stored.Items[0].Name, "display fields are not persisted")
}

func TestCheckoutInsufficientStock(t *testing.T) {
	e := newEnv(t)
	b := e.seedProduct(t, "chair", "7.50", 3)
	e.seedCart(t, "u1", line(b.ID, 10))

	_, err := e.checkout.Checkout(context.Background(), "u1", "1 Main St")
	require.ErrorIs(t, err, ErrInsufficientStock)

	var perr *ProductError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, b.ID, perr.ProductID)
	assert.Equal(t, "chair", perr.Name)
	assert.Equal(t, 3, perr.Available)
	assert.Equal(t, 10, perr.Requested)

	assert.Equal(t, 3, e.stock(t, b.ID))
	assert.Zero(t, e.orderCount(t, "u1"))
	assert.Equal(t, []models.CartItem{line(b.ID, 10)}, e.cartItems(t, "u1"))
}

func TestCheckoutSumsDuplicateLines(t *testing.T) {
	e := newEnv(t)
	p := e.seedProduct(t, "mug", "4.00", 3)
	e.seedCart(t, "u1", line(p.ID, 2), line(p.ID, 2))

	_, err := e.checkout.Checkout(context.Background(), "u1", "1 Main St")
	require.ErrorIs(t, err, ErrInsufficientStock)
	assert.Equal(t, 3, e.stock(t, p.ID))
}

func TestCheckoutEmptyCart(t *testing.T) {
	e := newEnv(t)

	_, err := e.checkout.Checkout(context.Background(), "nobody", "1 Main St")
	assert.ErrorIs(t, err, ErrEmptyCart)

	e.seedCart(t, "u1")
	_, err = e.checkout.Checkout(context.Background(), "u1", "1 Main St")
	assert.ErrorIs(t, err, ErrEmptyCart)
	assert.Zero(t, e.orderCount(t, "u1"))
}

func TestCheckoutValidation(t *testing.T) {
	e := newEnv(t)
	p := e.seedProduct(t, "lamp", "10.00", 5)
	e.seedCart(t, "u1", line(p.ID, 1))

	_, err := e.checkout.Checkout(context.Background(), "u1", "   ")
	assert.ErrorIs(t, err, ErrValidation)

	_, err = e.checkout.Checkout(context.Background(), "", "1 Main St")
	assert.ErrorIs(t, err, ErrValidation)

	assert.Equal(t, 5, e.stock(t, p.ID))
}

func TestCheckoutProductDeleted(t *testing.T) {
	e := newEnv(t)
	kept := e.seedProduct(t, "lamp", "10.00", 5)
	gone := e.seedProduct(t, "chair", "3.00", 5)
	e.seedCart(t, "u1", line(kept.ID, 1), line(gone.ID, 1))
	require.NoError(t, e.store.DeleteProduct(context.Background(), gone.ID))

	_, err := e.checkout.Checkout(context.Background(), "u1", "1 Main St")
	require.ErrorIs(t, err, ErrProductNotFound)

	var perr *ProductError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, gone.ID, perr.ProductID)

	assert.Equal(t, 5, e.stock(t, kept.ID))
	assert.Len(t, e.cartItems(t, "u1"), 2)
	assert.Zero(t, e.orderCount(t, "u1"))
}

func TestCheckoutConcurrentBuyersOfLastUnits(t *testing.T) {
	e := newEnv(t)
	p := e.seedProduct(t, "lamp", "10.00", 5)
	e.seedCart(t, "u1", line(p.ID, 3))
	e.seedCart(t, "u2", line(p.ID, 3))

	var ok atomic.Int32
	var g errgroup.Group
	for _, user := range []string{"u1", "u2"} {
		user := user
		g.Go(func() error {
			_, err := e.checkout.Checkout(context.Background(), user, "1 Main St")
			switch {
			case err == nil:
				ok.Add(1)
			case errors.Is(err, ErrInsufficientStock), errors.Is(err, ErrStorageConflict):
			default:
				return err
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	assert.EqualValues(t, 1, ok.Load())
	assert.Equal(t, 2, e.stock(t, p.ID))
}

func TestCheckoutNeverOversells(t *testing.T) {
	e := newEnv(t)
	const initial = 10
	p := e.seedProduct(t, "lamp", "1.00", initial)

	const buyers = 40
	for i := 0; i < buyers; i++ {
		e.seedCart(t, fmt.Sprintf("buyer-%d", i), line(p.ID, 1+i%3))
	}

	var sold atomic.Int64
	var g errgroup.Group
	for i := 0; i < buyers; i++ {
		i := i
		g.Go(func() error {
			order, err := e.checkout.Checkout(context.Background(), fmt.Sprintf("buyer-%d", i), "addr")
			switch {
			case err == nil:
				sold.Add(int64(order.Items[0].Quantity))
			case errors.Is(err, ErrInsufficientStock), errors.Is(err, ErrStorageConflict):
			default:
				return err
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	assert.LessOrEqual(t, sold.Load(), int64(initial))
	assert.Equal(t, initial-int(sold.Load()), e.stock(t, p.ID))
}

func TestCheckoutPriceSnapshot(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	p := e.seedProduct(t, "lamp", "10.00", 5)
	e.seedCart(t, "u1", line(p.ID, 1))

	order, err := e.checkout.Checkout(ctx, "u1", "1 Main St")
	require.NoError(t, err)

	price := decimal.RequireFromString("99.99")
	_, err = e.store.UpdateProduct(ctx, p.ID, models.ProductPatch{Price: &price}, time.Now())
	require.NoError(t, err)

	stored, err := e.store.OrderByID(ctx, order.ID)
	require.NoError(t, err)
	assert.True(t, stored.Items[0].Price.Equal(decimal.RequireFromString("10.00")))
	assert.True(t, stored.Total.Equal(decimal.RequireFromString("10.00")))
}

// failingUoW wraps a store and fails one step of every transaction.
type failingUoW struct {
	store.UnitOfWork
	failInsert error
	failCommit error
}

func (f failingUoW) Begin(ctx context.Context) (store.Tx, error) {
	tx, err := f.UnitOfWork.Begin(ctx)
	if err != nil {
		return nil, err
	}
	return &failingTx{Tx: tx, f: f}, nil
}

type failingTx struct {
	store.Tx
	f failingUoW
}

func (t *failingTx) InsertOrder(ctx context.Context, o models.Order) error {
	if t.f.failInsert != nil {
		return t.f.failInsert
	}
	return t.Tx.InsertOrder(ctx, o)
}

func (t *failingTx) Commit(ctx context.Context) error {
	if t.f.failCommit != nil {
		_ = t.Tx.Rollback(ctx)
		return t.f.failCommit
	}
	return t.Tx.Commit(ctx)
}

func TestCheckoutFailureLeavesNoTrace(t *testing.T) {
	e := newEnv(t)
	a := e.seedProduct(t, "lamp", "10.00", 5)
	b := e.seedProduct(t, "chair", "2.00", 5)
	e.seedCart(t, "u1", line(a.ID, 2), line(b.ID, 1))

	boom := errors.New("disk full")
	svc := NewCheckoutService(failingUoW{UnitOfWork: e.store, failInsert: boom}, time.Second, logger.Discard())

	_, err := svc.Checkout(context.Background(), "u1", "1 Main St")
	require.ErrorIs(t, err, boom)

	assert.Equal(t, 5, e.stock(t, a.ID))
	assert.Equal(t, 5, e.stock(t, b.ID))
	assert.Zero(t, e.orderCount(t, "u1"))
	assert.Len(t, e.cartItems(t, "u1"), 2)
}

func TestCheckoutConflictIsRetryable(t *testing.T) {
	e := newEnv(t)
	a := e.seedProduct(t, "lamp", "10.00", 5)
	e.seedCart(t, "u1", line(a.ID, 1))

	svc := NewCheckoutService(failingUoW{UnitOfWork: e.store, failCommit: store.ErrConflict}, time.Second, logger.Discard())

	_, err := svc.Checkout(context.Background(), "u1", "1 Main St")
	require.ErrorIs(t, err, ErrStorageConflict)
	assert.Equal(t, 5, e.stock(t, a.ID))

	_, err = e.checkout.Checkout(context.Background(), "u1", "1 Main St")
	require.NoError(t, err, "a retry by the caller goes through")
	assert.Equal(t, 4, e.stock(t, a.ID))
}

// sellOutUoW simulates a rival checkout that lands between pricing and the
// stock decrement: the decrement fails and later reads see what is left.
type sellOutUoW struct {
	store.UnitOfWork
	left int
}

func (u sellOutUoW) Begin(ctx context.Context) (store.Tx, error) {
	tx, err := u.UnitOfWork.Begin(ctx)
	if err != nil {
		return nil, err
	}
	return &sellOutTx{Tx: tx, left: u.left}, nil
}

type sellOutTx struct {
	store.Tx
	left    int
	soldOut bool
}

func (t *sellOutTx) DecrementStock(ctx context.Context, id string, amount int) error {
	t.soldOut = true
	return store.ErrInsufficientStock
}

func (t *sellOutTx) ProductByID(ctx context.Context, id string) (models.Product, error) {
	p, err := t.Tx.ProductByID(ctx, id)
	if err == nil && t.soldOut {
		p.Stock = t.left
	}
	return p, err
}

func TestCheckoutShortageReportsStockAtDecrement(t *testing.T) {
	e := newEnv(t)
	a := e.seedProduct(t, "lamp", "10.00", 5)
	e.seedCart(t, "u1", line(a.ID, 3))

	svc := NewCheckoutService(sellOutUoW{UnitOfWork: e.store, left: 1}, time.Second, logger.Discard())
	_, err := svc.Checkout(context.Background(), "u1", "1 Main St")

	var perr *ProductError
	require.ErrorAs(t, err, &perr)
	assert.ErrorIs(t, err, ErrInsufficientStock)
	assert.Equal(t, a.ID, perr.ProductID)
	assert.Equal(t, "lamp", perr.Name)
	assert.Equal(t, 1, perr.Available)
	assert.Equal(t, 3, perr.Requested)
}

type stalledUoW struct{}

func (stalledUoW) Begin(ctx context.Context) (store.Tx, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestCheckoutIsBounded(t *testing.T) {
	svc := NewCheckoutService(stalledUoW{}, 20*time.Millisecond, logger.Discard())

	start := time.Now()
	_, err := svc.Checkout(context.Background(), "u1", "1 Main St")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)
}

func TestCheckoutTotalIsSumOfLines(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		s := memory.New()
		svc := NewCheckoutService(s, time.Second, logger.Discard())
		ctx := context.Background()

		n := rapid.IntRange(1, 6).Draw(rt, "lines")
		items := make([]models.CartItem, 0, n)
		want := decimal.Zero
		for i := 0; i < n; i++ {
			cents := rapid.Int64Range(0, 1_000_000).Draw(rt, fmt.Sprintf("cents%d", i))
			qty := rapid.IntRange(1, 50).Draw(rt, fmt.Sprintf("qty%d", i))
			price := decimal.New(cents, -2)

			id := fmt.Sprintf("p%d", i)
			if err := s.CreateProduct(ctx, models.Product{ID: id, Name: id, Price: price, Stock: qty}); err != nil {
				rt.Fatalf("seed product: %v", err)
			}
			items = append(items, models.CartItem{ProductID: id, Quantity: qty})
			want = want.Add(price.Mul(decimal.NewFromInt(int64(qty))))
		}

		err := store.Run(ctx, s, func(tx store.Tx) error {
			if _, err := tx.CreateCart(ctx, "u"); err != nil {
				return err
			}
			return tx.ReplaceCartItems(ctx, "u", items)
		})
		if err != nil {
			rt.Fatalf("seed cart: %v", err)
		}

		order, err := svc.Checkout(ctx, "u", "addr")
		if err != nil {
			rt.Fatalf("checkout: %v", err)
		}
		if !order.Total.Equal(want) {
			rt.Fatalf("total %s, want %s", order.Total, want)
		}
		if !order.Total.Equal(models.SumItems(order.Items)) {
			rt.Fatalf("total %s does not match lines", order.Total)
		}
	})
}
