package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"shop_back_end/internal/middleware"
	"shop_back_end/internal/models"
)

// Carts is the cart use case served over HTTP.
type Carts interface {
	View(ctx context.Context, userID string) (models.Cart, error)
	SetItem(ctx context.Context, userID, productID string, quantity int) (models.Cart, error)
	RemoveItem(ctx context.Context, userID, productID string) (models.Cart, error)
	Clear(ctx context.Context, userID string) error
}

type CartHandler struct {
	carts Carts
	log   *slog.Logger
}

func NewCartHandler(carts Carts, log *slog.Logger) *CartHandler {
	return &CartHandler{carts: carts, log: log}
}

// GET /api/cart
func (h *CartHandler) Get(c *gin.Context) {
	cart, err := h.carts.View(c.Request.Context(), middleware.Actor(c).UserID)
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, cart)
}

type setItemRequest struct {
	ProductID string `json:"productId" binding:"required"`
	Quantity  int    `json:"quantity"`
}

// POST /api/cart
func (h *CartHandler) SetItem(c *gin.Context) {
	var input setItemRequest
	if err := c.ShouldBindJSON(&input); err != nil {
		badRequest(c, err)
		return
	}

	cart, err := h.carts.SetItem(c.Request.Context(), middleware.Actor(c).UserID, input.ProductID, input.Quantity)
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, cart)
}

// DELETE /api/cart/item/:productId
func (h *CartHandler) RemoveItem(c *gin.Context) {
	cart, err := h.carts.RemoveItem(c.Request.Context(), middleware.Actor(c).UserID, c.Param("productId"))
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, cart)
}

// DELETE /api/cart
func (h *CartHandler) Clear(c *gin.Context) {
	if err := h.carts.Clear(c.Request.Context(), middleware.Actor(c).UserID); err != nil {
		writeError(c, h.log, err)
		return
	}
	c.Status(http.StatusNoContent)
}
