package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"shop_back_end/internal/middleware"
	"shop_back_end/internal/models"
	"shop_back_end/internal/services"
)

type Products interface {
	List(ctx context.Context) ([]models.Product, error)
	Get(ctx context.Context, id string) (models.Product, error)
	Create(ctx context.Context, actor models.Actor, in services.ProductInput) (models.Product, error)
	Update(ctx context.Context, actor models.Actor, id string, patch models.ProductPatch) (models.Product, error)
	Delete(ctx context.Context, actor models.Actor, id string) error
	Owned(ctx context.Context, actor models.Actor) ([]models.Product, error)
}

type ProductHandler struct {
	products Products
	log      *slog.Logger
}

func NewProductHandler(products Products, log *slog.Logger) *ProductHandler {
	return &ProductHandler{products: products, log: log}
}

// GET /api/products
func (h *ProductHandler) List(c *gin.Context) {
	products, err := h.products.List(c.Request.Context())
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"products": nonNil(products), "count": len(products)})
}

// GET /api/products/:id
func (h *ProductHandler) Get(c *gin.Context) {
	p, err := h.products.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

// POST /api/products
func (h *ProductHandler) Create(c *gin.Context) {
	var input services.ProductInput
	if err := c.ShouldBindJSON(&input); err != nil {
		badRequest(c, err)
		return
	}

	p, err := h.products.Create(c.Request.Context(), middleware.Actor(c), input)
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusCreated, p)
}

// PUT /api/products/:id
func (h *ProductHandler) Update(c *gin.Context) {
	var patch models.ProductPatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		badRequest(c, err)
		return
	}

	p, err := h.products.Update(c.Request.Context(), middleware.Actor(c), c.Param("id"), patch)
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

// DELETE /api/products/:id
func (h *ProductHandler) Delete(c *gin.Context) {
	if err := h.products.Delete(c.Request.Context(), middleware.Actor(c), c.Param("id")); err != nil {
		writeError(c, h.log, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// GET /api/shop/products
func (h *ProductHandler) Owned(c *gin.Context) {
	products, err := h.products.Owned(c.Request.Context(), middleware.Actor(c))
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"products": nonNil(products), "count": len(products)})
}
