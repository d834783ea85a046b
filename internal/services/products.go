package services

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"shop_back_end/internal/cache"
	"shop_back_end/internal/models"
	"shop_back_end/internal/store"
)

// DisplayCache resolves product names and images for order and cart views.
type DisplayCache interface {
	Lookup(ctx context.Context, productIDs []string) map[string]cache.Display
	Invalidate(ctx context.Context, productID string)
}

type ProductInput struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Price       decimal.Decimal `json:"price"`
	Stock       int             `json:"stock"`
	ImageURLs   []string        `json:"image_urls"`
	CategoryID  string          `json:"category_id"`
}

type ProductService struct {
	catalog store.Catalog
	display DisplayCache
	log     *slog.Logger
	now     func() time.Time
}

func NewProductService(catalog store.Catalog, display DisplayCache, log *slog.Logger) *ProductService {
	return &ProductService{
		catalog: catalog,
		display: display,
		log:     log,
		now:     func() time.Time { return time.Now().UTC().Truncate(time.Millisecond) },
	}
}

func validateProduct(p models.Product) error {
	switch {
	case strings.TrimSpace(p.Name) == "":
		return validationf("name is required")
	case p.Price.IsNegative():
		return validationf("price must not be negative")
	case p.Stock < 0:
		return validationf("stock must not be negative")
	}
	return nil
}

func (s *ProductService) List(ctx context.Context) ([]models.Product, error) {
	return s.catalog.ListProducts(ctx)
}

func (s *ProductService) Get(ctx context.Context, id string) (models.Product, error) {
	p, err := s.catalog.GetProduct(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return models.Product{}, &ProductError{Err: ErrProductNotFound, ProductID: id}
	}
	return p, err
}

// Create adds a product owned by the caller.
func (s *ProductService) Create(ctx context.Context, actor models.Actor, in ProductInput) (models.Product, error) {
	if !models.CanManageProducts(actor.Role) {
		return models.Product{}, ErrForbidden
	}

	now := s.now()
	p := models.Product{
		ID:          uuid.NewString(),
		OwnerID:     actor.UserID,
		Name:        strings.TrimSpace(in.Name),
		Description: in.Description,
		Price:       in.Price,
		Stock:       in.Stock,
		ImageURLs:   in.ImageURLs,
		CategoryID:  in.CategoryID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if p.ImageURLs == nil {
		p.ImageURLs = []string{}
	}
	if err := validateProduct(p); err != nil {
		return models.Product{}, err
	}
	if err := s.catalog.CreateProduct(ctx, p); err != nil {
		return models.Product{}, err
	}

	s.log.Info("product created", "product_id", p.ID, "owner_id", p.OwnerID)
	return p, nil
}

// Update applies patch. Shop managers may only edit their own products.
// Only the patched fields reach the store, so stock sold between the
// ownership read and the write is kept.
func (s *ProductService) Update(ctx context.Context, actor models.Actor, id string, patch models.ProductPatch) (models.Product, error) {
	current, err := s.editable(ctx, actor, id)
	if err != nil {
		return models.Product{}, err
	}

	if patch.Name != nil {
		name := strings.TrimSpace(*patch.Name)
		patch.Name = &name
	}
	preview := current.Clone()
	patch.Apply(&preview)
	if err := validateProduct(preview); err != nil {
		return models.Product{}, err
	}

	p, err := s.catalog.UpdateProduct(ctx, id, patch, s.now())
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return models.Product{}, &ProductError{Err: ErrProductNotFound, ProductID: id}
		}
		return models.Product{}, err
	}
	s.display.Invalidate(ctx, id)
	return p, nil
}

func (s *ProductService) Delete(ctx context.Context, actor models.Actor, id string) error {
	if _, err := s.editable(ctx, actor, id); err != nil {
		return err
	}
	if err := s.catalog.DeleteProduct(ctx, id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return &ProductError{Err: ErrProductNotFound, ProductID: id}
		}
		return err
	}
	s.display.Invalidate(ctx, id)
	s.log.Info("product deleted", "product_id", id, "by", actor.UserID)
	return nil
}

// Owned lists the caller's own products.
func (s *ProductService) Owned(ctx context.Context, actor models.Actor) ([]models.Product, error) {
	if !models.CanManageProducts(actor.Role) {
		return nil, ErrForbidden
	}
	return s.catalog.ProductsByOwner(ctx, actor.UserID)
}

func (s *ProductService) editable(ctx context.Context, actor models.Actor, id string) (models.Product, error) {
	if !models.CanManageProducts(actor.Role) {
		return models.Product{}, ErrForbidden
	}
	p, err := s.Get(ctx, id)
	if err != nil {
		return models.Product{}, err
	}
	if !models.CanEditProduct(actor, p) {
		return models.Product{}, ErrForbidden
	}
	return p, nil
}
