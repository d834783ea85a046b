package services

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"shop_back_end/internal/models"
	"shop_back_end/internal/store"
)

const DefaultCheckoutTimeout = 10 * time.Second

// CheckoutService turns a user's cart into an order in one unit of work:
// stock is validated and decremented, the order is inserted and the cart is
// emptied, or nothing happens at all.
type CheckoutService struct {
	uow     store.UnitOfWork
	timeout time.Duration
	log     *slog.Logger
	now     func() time.Time
	newID   func() string
}

func NewCheckoutService(uow store.UnitOfWork, timeout time.Duration, log *slog.Logger) *CheckoutService {
	if timeout <= 0 {
		timeout = DefaultCheckoutTimeout
	}
	return &CheckoutService{
		uow:     uow,
		timeout: timeout,
		log:     log,
		now:     func() time.Time { return time.Now().UTC().Truncate(time.Millisecond) },
		newID:   uuid.NewString,
	}
}

// Checkout places an order for everything in the user's cart.
//
// Errors: ErrValidation for a blank user or address, ErrEmptyCart, a
// *ProductError wrapping ErrProductNotFound or ErrInsufficientStock, and
// ErrStorageConflict when a concurrent writer won. Conflicts are not retried.
func (s *CheckoutService) Checkout(ctx context.Context, userID, address string) (models.Order, error) {
	address = strings.TrimSpace(address)
	if userID == "" {
		return models.Order{}, validationf("user id is required")
	}
	if address == "" {
		return models.Order{}, validationf("address is required")
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var (
		order    models.Order
		products map[string]models.Product
	)
	err := store.Run(ctx, s.uow, func(tx store.Tx) error {
		cart, err := tx.CartByUser(ctx, userID)
		if errors.Is(err, store.ErrNotFound) {
			return ErrEmptyCart
		}
		if err != nil {
			return err
		}
		if len(cart.Items) == 0 {
			return ErrEmptyCart
		}

		items, lines, err := s.price(ctx, tx, cart.Items)
		if err != nil {
			return err
		}
		products = lines.products

		for _, id := range lines.order {
			err := tx.DecrementStock(ctx, id, lines.requested[id])
			switch {
			case errors.Is(err, store.ErrInsufficientStock):
				return shortage(ctx, tx, lines.products[id], lines.requested[id])
			case errors.Is(err, store.ErrNotFound):
				return &ProductError{Err: ErrProductNotFound, ProductID: id}
			case err != nil:
				return err
			}
		}

		now := s.now()
		order = models.Order{
			ID:        s.newID(),
			UserID:    userID,
			Items:     items,
			Total:     models.SumItems(items),
			Address:   address,
			Status:    models.OrderPending,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := tx.InsertOrder(ctx, order); err != nil {
			return err
		}
		return tx.ReplaceCartItems(ctx, userID, nil)
	})
	if err != nil {
		return models.Order{}, storageErr(err)
	}

	for i := range order.Items {
		p := products[order.Items[i].ProductID]
		order.Items[i].Name = p.Name
		order.Items[i].ImageURL = p.FirstImage()
	}

	s.log.Info("order created", "order_id", order.ID, "user_id", userID,
		"items", len(order.Items), "total", order.Total.String())
	return order, nil
}

// shortage reports the stock that made the decrement fail, not the value
// priced earlier in the attempt.
func shortage(ctx context.Context, tx store.Tx, p models.Product, requested int) error {
	if fresh, err := tx.ProductByID(ctx, p.ID); err == nil {
		p = fresh
	}
	return &ProductError{Err: ErrInsufficientStock, ProductID: p.ID, Name: p.Name,
		Available: p.Stock, Requested: requested}
}

type pricedLines struct {
	products  map[string]models.Product
	requested map[string]int
	order     []string // product ids in first-seen order
}

// price loads every product referenced by the cart inside tx, checks stock
// against the summed quantity per product and snapshots the current price.
func (s *CheckoutService) price(ctx context.Context, tx store.Tx, lines []models.CartItem) ([]models.OrderItem, pricedLines, error) {
	pl := pricedLines{
		products:  make(map[string]models.Product, len(lines)),
		requested: make(map[string]int, len(lines)),
	}
	items := make([]models.OrderItem, 0, len(lines))

	for _, line := range lines {
		if line.Quantity < 1 {
			return nil, pl, validationf("cart line %s has quantity %d", line.ProductID, line.Quantity)
		}

		p, seen := pl.products[line.ProductID]
		if !seen {
			var err error
			p, err = tx.ProductByID(ctx, line.ProductID)
			if errors.Is(err, store.ErrNotFound) {
				return nil, pl, &ProductError{Err: ErrProductNotFound, ProductID: line.ProductID}
			}
			if err != nil {
				return nil, pl, err
			}
			pl.products[line.ProductID] = p
			pl.order = append(pl.order, line.ProductID)
		}

		pl.requested[line.ProductID] += line.Quantity
		if want := pl.requested[line.ProductID]; p.Stock < want {
			return nil, pl, &ProductError{Err: ErrInsufficientStock, ProductID: p.ID, Name: p.Name,
				Available: p.Stock, Requested: want}
		}

		items = append(items, models.OrderItem{ProductID: line.ProductID, Quantity: line.Quantity, Price: p.Price})
	}
	return items, pl, nil
}
