package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"shop_back_end/internal/models"
	"shop_back_end/internal/store"
)

// OwnedProducts lists a manager's products.
type OwnedProducts interface {
	ProductsByOwner(ctx context.Context, ownerID string) ([]models.Product, error)
}

type OrderService struct {
	orders   store.OrderQueries
	products OwnedProducts
	display  DisplayCache
	log      *slog.Logger
}

func NewOrderService(orders store.OrderQueries, products OwnedProducts, display DisplayCache, log *slog.Logger) *OrderService {
	return &OrderService{orders: orders, products: products, display: display, log: log}
}

// List returns the caller's orders, newest first.
func (s *OrderService) List(ctx context.Context, actor models.Actor) ([]models.Order, error) {
	orders, err := s.orders.OrdersByUser(ctx, actor.UserID)
	if err != nil {
		return nil, err
	}
	return s.expand(ctx, orders), nil
}

// Get returns one order. Orders of other users are reported as missing
// unless the caller manages orders.
func (s *OrderService) Get(ctx context.Context, actor models.Actor, id string) (models.Order, error) {
	o, err := s.orders.OrderByID(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return models.Order{}, ErrOrderNotFound
	}
	if err != nil {
		return models.Order{}, err
	}
	if o.UserID != actor.UserID && !models.CanManageOrders(actor.Role) {
		return models.Order{}, ErrOrderNotFound
	}
	return s.expand(ctx, []models.Order{o})[0], nil
}

// UpdateStatus moves an order along pending → paid → shipped → completed,
// or from pending to cancelled.
func (s *OrderService) UpdateStatus(ctx context.Context, actor models.Actor, id string, next models.OrderStatus) (models.Order, error) {
	if !models.CanManageOrders(actor.Role) {
		return models.Order{}, ErrForbidden
	}
	if !next.Valid() {
		return models.Order{}, validationf("unknown status %q", next)
	}

	o, err := s.orders.OrderByID(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return models.Order{}, ErrOrderNotFound
	}
	if err != nil {
		return models.Order{}, err
	}
	if !o.Status.CanTransitionTo(next) {
		return models.Order{}, validationf("order cannot go from %s to %s", o.Status, next)
	}

	switch err := s.orders.UpdateOrderStatus(ctx, id, o.Status, next); {
	case errors.Is(err, store.ErrNotFound):
		return models.Order{}, ErrOrderNotFound
	case errors.Is(err, store.ErrConflict):
		return models.Order{}, fmt.Errorf("%w: order %s changed status concurrently", ErrStorageConflict, id)
	case err != nil:
		return models.Order{}, err
	}

	s.log.Info("order status updated", "order_id", id, "from", o.Status, "to", next, "by", actor.UserID)
	o.Status = next
	return s.expand(ctx, []models.Order{o})[0], nil
}

// ShopOrders returns the orders that contain at least one of the caller's products.
func (s *OrderService) ShopOrders(ctx context.Context, actor models.Actor) ([]models.Order, error) {
	if !models.CanManageProducts(actor.Role) {
		return nil, ErrForbidden
	}
	owned, err := s.products.ProductsByOwner(ctx, actor.UserID)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(owned))
	for _, p := range owned {
		ids = append(ids, p.ID)
	}
	orders, err := s.orders.OrdersWithProducts(ctx, ids)
	if err != nil {
		return nil, err
	}
	return s.expand(ctx, orders), nil
}

// expand fills item display fields through the product cache.
func (s *OrderService) expand(ctx context.Context, orders []models.Order) []models.Order {
	var ids []string
	for _, o := range orders {
		for _, it := range o.Items {
			ids = append(ids, it.ProductID)
		}
	}
	display := s.display.Lookup(ctx, ids)

	for i := range orders {
		for j := range orders[i].Items {
			d := display[orders[i].Items[j].ProductID]
			orders[i].Items[j].Name = d.Name
			orders[i].Items[j].ImageURL = d.ImageURL
		}
	}
	return orders
}
