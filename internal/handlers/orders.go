package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"shop_back_end/internal/middleware"
	"shop_back_end/internal/models"
)

type Orders interface {
	List(ctx context.Context, actor models.Actor) ([]models.Order, error)
	Get(ctx context.Context, actor models.Actor, id string) (models.Order, error)
	UpdateStatus(ctx context.Context, actor models.Actor, id string, next models.OrderStatus) (models.Order, error)
	ShopOrders(ctx context.Context, actor models.Actor) ([]models.Order, error)
}

type OrderHandler struct {
	orders Orders
	log    *slog.Logger
}

func NewOrderHandler(orders Orders, log *slog.Logger) *OrderHandler {
	return &OrderHandler{orders: orders, log: log}
}

// GET /api/orders
func (h *OrderHandler) List(c *gin.Context) {
	orders, err := h.orders.List(c.Request.Context(), middleware.Actor(c))
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"orders": nonNil(orders), "count": len(orders)})
}

// GET /api/orders/:id
func (h *OrderHandler) Get(c *gin.Context) {
	order, err := h.orders.Get(c.Request.Context(), middleware.Actor(c), c.Param("id"))
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

type statusRequest struct {
	Status models.OrderStatus `json:"status" binding:"required"`
}

// PATCH /api/orders/:id/status
func (h *OrderHandler) UpdateStatus(c *gin.Context) {
	var input statusRequest
	if err := c.ShouldBindJSON(&input); err != nil {
		badRequest(c, err)
		return
	}

	order, err := h.orders.UpdateStatus(c.Request.Context(), middleware.Actor(c), c.Param("id"), input.Status)
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

// GET /api/shop/orders
func (h *OrderHandler) ShopOrders(c *gin.Context) {
	orders, err := h.orders.ShopOrders(c.Request.Context(), middleware.Actor(c))
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"orders": nonNil(orders), "count": len(orders)})
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
