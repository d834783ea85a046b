package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"shop_back_end/internal/middleware"
	"shop_back_end/internal/models"
)

type Checkouts interface {
	Checkout(ctx context.Context, userID, address string) (models.Order, error)
}

type CheckoutHandler struct {
	checkout Checkouts
	log      *slog.Logger
}

func NewCheckoutHandler(checkout Checkouts, log *slog.Logger) *CheckoutHandler {
	return &CheckoutHandler{checkout: checkout, log: log}
}

type checkoutRequest struct {
	Address string `json:"address"`
}

// Checkout turns the caller's cart into an order.
// Served on both POST /api/checkout and POST /api/orders.
func (h *CheckoutHandler) Checkout(c *gin.Context) {
	var input checkoutRequest
	if err := c.ShouldBindJSON(&input); err != nil {
		badRequest(c, err)
		return
	}

	order, err := h.checkout.Checkout(c.Request.Context(), middleware.Actor(c).UserID, input.Address)
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusCreated, order)
}
