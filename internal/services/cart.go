package services

import (
	"context"
	"errors"
	"log/slog"

	"shop_back_end/internal/models"
	"shop_back_end/internal/store"
)

// ProductReader is the read side of the catalog.
type ProductReader interface {
	GetProduct(ctx context.Context, id string) (models.Product, error)
}

type CartService struct {
	uow      store.UnitOfWork
	products ProductReader
	log      *slog.Logger
}

func NewCartService(uow store.UnitOfWork, products ProductReader, log *slog.Logger) *CartService {
	return &CartService{uow: uow, products: products, log: log}
}

// GetOrCreate returns the user's cart, creating an empty one on first use.
// Two concurrent first calls end up with the same cart.
func (s *CartService) GetOrCreate(ctx context.Context, userID string) (models.Cart, error) {
	if userID == "" {
		return models.Cart{}, validationf("user id is required")
	}

	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		var cart models.Cart
		err := store.Run(ctx, s.uow, func(tx store.Tx) error {
			c, err := tx.CartByUser(ctx, userID)
			if errors.Is(err, store.ErrNotFound) {
				c, err = tx.CreateCart(ctx, userID)
			}
			cart = c
			return err
		})
		if err == nil {
			return cart, nil
		}
		// another request created the cart first, read it back
		if errors.Is(err, store.ErrAlreadyExists) || errors.Is(err, store.ErrConflict) {
			lastErr = err
			continue
		}
		return models.Cart{}, storageErr(err)
	}
	return models.Cart{}, storageErr(lastErr)
}

// View returns the cart with live product fields filled in.
func (s *CartService) View(ctx context.Context, userID string) (models.Cart, error) {
	cart, err := s.GetOrCreate(ctx, userID)
	if err != nil {
		return models.Cart{}, err
	}
	return s.populate(ctx, cart), nil
}

// SetItem puts quantity of productID in the cart, replacing any previous
// quantity. The stock check here is advisory; checkout checks again.
func (s *CartService) SetItem(ctx context.Context, userID, productID string, quantity int) (models.Cart, error) {
	switch {
	case userID == "":
		return models.Cart{}, validationf("user id is required")
	case productID == "":
		return models.Cart{}, validationf("product id is required")
	case quantity < 1:
		return models.Cart{}, validationf("quantity must be at least 1, got %d", quantity)
	}

	var cart models.Cart
	err := store.Run(ctx, s.uow, func(tx store.Tx) error {
		p, err := tx.ProductByID(ctx, productID)
		if errors.Is(err, store.ErrNotFound) {
			return &ProductError{Err: ErrProductNotFound, ProductID: productID}
		}
		if err != nil {
			return err
		}
		if quantity > p.Stock {
			return &ProductError{Err: ErrInsufficientStock, ProductID: p.ID, Name: p.Name,
				Available: p.Stock, Requested: quantity}
		}

		cart, err = tx.CartByUser(ctx, userID)
		if errors.Is(err, store.ErrNotFound) {
			cart, err = tx.CreateCart(ctx, userID)
		}
		if err != nil {
			return err
		}
		cart.SetItem(productID, quantity)
		return tx.ReplaceCartItems(ctx, userID, cart.Items)
	})
	if err != nil {
		return models.Cart{}, storageErr(err)
	}
	return s.populate(ctx, cart), nil
}

// RemoveItem drops productID from the cart. Removing an absent line succeeds.
func (s *CartService) RemoveItem(ctx context.Context, userID, productID string) (models.Cart, error) {
	if userID == "" {
		return models.Cart{}, validationf("user id is required")
	}

	var cart models.Cart
	err := store.Run(ctx, s.uow, func(tx store.Tx) error {
		var err error
		cart, err = tx.CartByUser(ctx, userID)
		if errors.Is(err, store.ErrNotFound) {
			return ErrCartNotFound
		}
		if err != nil {
			return err
		}
		if !cart.RemoveItem(productID) {
			return nil
		}
		return tx.ReplaceCartItems(ctx, userID, cart.Items)
	})
	if err != nil {
		return models.Cart{}, storageErr(err)
	}
	return s.populate(ctx, cart), nil
}

// Clear empties the cart. It fails with ErrCartNotFound if the user never had one.
func (s *CartService) Clear(ctx context.Context, userID string) error {
	if userID == "" {
		return validationf("user id is required")
	}
	err := store.Run(ctx, s.uow, func(tx store.Tx) error {
		if _, err := tx.CartByUser(ctx, userID); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return ErrCartNotFound
			}
			return err
		}
		return tx.ReplaceCartItems(ctx, userID, nil)
	})
	return storageErr(err)
}

func (s *CartService) populate(ctx context.Context, cart models.Cart) models.Cart {
	if cart.Items == nil {
		cart.Items = []models.CartItem{}
	}
	for i := range cart.Items {
		it := &cart.Items[i]
		p, err := s.products.GetProduct(ctx, it.ProductID)
		if err != nil {
			if !errors.Is(err, store.ErrNotFound) {
				s.log.Warn("cart product lookup failed", "product_id", it.ProductID, "error", err)
			}
			continue
		}
		price, stock := p.Price, p.Stock
		it.Name = p.Name
		it.Price = &price
		it.ImageURL = p.FirstImage()
		it.Stock = &stock
	}
	return cart
}
