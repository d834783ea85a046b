// Package store defines the persistence contract shared by the memory,
// postgres and scylla backends.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"shop_back_end/internal/models"
)

var (
	ErrNotFound          = errors.New("store: not found")
	ErrConflict          = errors.New("store: concurrent modification")
	ErrInsufficientStock = errors.New("store: insufficient stock")
	ErrAlreadyExists     = errors.New("store: already exists")
)

// ProductRepo is the product side of a unit of work.
type ProductRepo interface {
	ProductByID(ctx context.Context, id string) (models.Product, error)
	// DecrementStock lowers stock by amount only if stock >= amount,
	// otherwise it returns ErrInsufficientStock and changes nothing.
	DecrementStock(ctx context.Context, id string, amount int) error
}

type CartRepo interface {
	CartByUser(ctx context.Context, userID string) (models.Cart, error)
	CreateCart(ctx context.Context, userID string) (models.Cart, error)
	ReplaceCartItems(ctx context.Context, userID string, items []models.CartItem) error
}

type OrderRepo interface {
	InsertOrder(ctx context.Context, o models.Order) error
}

// Tx is an open unit of work. Its writes become visible only after Commit.
// Rollback after a successful Commit is a no-op.
type Tx interface {
	ProductRepo
	CartRepo
	OrderRepo
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

type UnitOfWork interface {
	Begin(ctx context.Context) (Tx, error)
}

// Catalog holds the product operations that run outside a unit of work.
type Catalog interface {
	ListProducts(ctx context.Context) ([]models.Product, error)
	ProductsByOwner(ctx context.Context, ownerID string) ([]models.Product, error)
	GetProduct(ctx context.Context, id string) (models.Product, error)
	CreateProduct(ctx context.Context, p models.Product) error
	// UpdateProduct writes only the fields set in patch and returns the stored
	// row. Stock is left to checkout decrements unless patch.Stock is set.
	UpdateProduct(ctx context.Context, id string, patch models.ProductPatch, updatedAt time.Time) (models.Product, error)
	DeleteProduct(ctx context.Context, id string) error
}

type OrderQueries interface {
	OrderByID(ctx context.Context, id string) (models.Order, error)
	// OrdersByUser returns the user's orders, newest first.
	OrdersByUser(ctx context.Context, userID string) ([]models.Order, error)
	// OrdersWithProducts returns every order holding a line for one of productIDs, newest first.
	OrdersWithProducts(ctx context.Context, productIDs []string) ([]models.Order, error)
	// UpdateOrderStatus moves the order to next only if its status is still from.
	// A mismatch yields ErrConflict.
	UpdateOrderStatus(ctx context.Context, id string, from, next models.OrderStatus) error
}

// UserStore keeps user accounts. Emails are unique; a duplicate yields
// ErrAlreadyExists on create and update.
type UserStore interface {
	// ListUsers returns every user, newest first.
	ListUsers(ctx context.Context) ([]models.User, error)
	GetUser(ctx context.Context, id string) (models.User, error)
	CreateUser(ctx context.Context, u models.User) error
	// UpdateUser rewrites the profile fields. The password hash is kept.
	UpdateUser(ctx context.Context, u models.User) error
	DeleteUser(ctx context.Context, id string) error
}

type Store interface {
	UnitOfWork
	Catalog
	OrderQueries
	UserStore
	// Ping reports whether the backing databases answer.
	Ping(ctx context.Context) error
	Close()
}

// Run executes fn inside a unit of work. The transaction is rolled back when
// fn returns an error or panics and committed otherwise.
func Run(ctx context.Context, uow UnitOfWork, fn func(tx Tx) error) (err error) {
	tx, err := uow.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback(context.WithoutCancel(ctx))
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(context.WithoutCancel(ctx)); rbErr != nil {
			return fmt.Errorf("%w; rollback: %v", err, rbErr)
		}
		return err
	}

	return tx.Commit(ctx)
}
