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

type Users interface {
	List(ctx context.Context, actor models.Actor) ([]models.User, error)
	Get(ctx context.Context, actor models.Actor, id string) (models.User, error)
	Create(ctx context.Context, actor models.Actor, in services.UserInput) (models.User, error)
	Update(ctx context.Context, actor models.Actor, id string, patch models.UserPatch) (models.User, error)
	Delete(ctx context.Context, actor models.Actor, id string) error
	Profile(ctx context.Context, actor models.Actor) (models.User, error)
	UpdateShop(ctx context.Context, actor models.Actor, in services.ShopUpdate) (models.User, error)
}

type UserHandler struct {
	users Users
	log   *slog.Logger
}

func NewUserHandler(users Users, log *slog.Logger) *UserHandler {
	return &UserHandler{users: users, log: log}
}

// GET /api/users
func (h *UserHandler) List(c *gin.Context) {
	users, err := h.users.List(c.Request.Context(), middleware.Actor(c))
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"users": nonNil(users), "count": len(users)})
}

// GET /api/users/:id
func (h *UserHandler) Get(c *gin.Context) {
	u, err := h.users.Get(c.Request.Context(), middleware.Actor(c), c.Param("id"))
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, u)
}

// POST /api/users
func (h *UserHandler) Create(c *gin.Context) {
	var input services.UserInput
	if err := c.ShouldBindJSON(&input); err != nil {
		badRequest(c, err)
		return
	}

	u, err := h.users.Create(c.Request.Context(), middleware.Actor(c), input)
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusCreated, u)
}

// PUT /api/users/:id
func (h *UserHandler) Update(c *gin.Context) {
	var patch models.UserPatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		badRequest(c, err)
		return
	}

	u, err := h.users.Update(c.Request.Context(), middleware.Actor(c), c.Param("id"), patch)
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, u)
}

// DELETE /api/users/:id
func (h *UserHandler) Delete(c *gin.Context) {
	if err := h.users.Delete(c.Request.Context(), middleware.Actor(c), c.Param("id")); err != nil {
		writeError(c, h.log, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// GET /api/shop/me
func (h *UserHandler) Profile(c *gin.Context) {
	u, err := h.users.Profile(c.Request.Context(), middleware.Actor(c))
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, u)
}

// PUT /api/shop/me
func (h *UserHandler) UpdateShop(c *gin.Context) {
	var input services.ShopUpdate
	if err := c.ShouldBindJSON(&input); err != nil {
		badRequest(c, err)
		return
	}

	u, err := h.users.UpdateShop(c.Request.Context(), middleware.Actor(c), input)
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, u)
}
