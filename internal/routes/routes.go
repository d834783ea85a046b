package routes

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"shop_back_end/internal/handlers"
	"shop_back_end/internal/middleware"
	"shop_back_end/internal/models"
)

type Deps struct {
	Log       *slog.Logger
	JWTSecret []byte
	// CartLimiter may be nil, which disables the cart rate limit.
	CartLimiter middleware.Limiter
	// Ready backs /readyz. Nil reports ready.
	Ready func(ctx context.Context) error

	Products *handlers.ProductHandler
	Carts    *handlers.CartHandler
	Checkout *handlers.CheckoutHandler
	Orders   *handlers.OrderHandler
	Users    *handlers.UserHandler
}

func RegisterRoutes(r *gin.Engine, d Deps) {
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/readyz", readyz(d.Ready, d.Log))

	api := r.Group("/api")

	// Public catalog
	api.GET("/products", d.Products.List)
	api.GET("/products/:id", d.Products.Get)

	auth := api.Group("")
	auth.Use(middleware.AuthRequired(d.JWTSecret, d.Log))

	manage := auth.Group("", middleware.RequireRole(models.CanManageProducts))
	manage.POST("/products", d.Products.Create)
	manage.PUT("/products/:id", d.Products.Update)
	manage.DELETE("/products/:id", d.Products.Delete)

	auth.GET("/cart", d.Carts.Get)
	cart := auth.Group("/cart", middleware.CartRateLimit(d.CartLimiter, d.Log))
	cart.POST("", d.Carts.SetItem)
	cart.DELETE("/item/:productId", d.Carts.RemoveItem)
	cart.DELETE("", d.Carts.Clear)

	auth.POST("/checkout", d.Checkout.Checkout)
	auth.POST("/orders", d.Checkout.Checkout)
	auth.GET("/orders", d.Orders.List)
	auth.GET("/orders/:id", d.Orders.Get)
	auth.PATCH("/orders/:id/status", middleware.RequireRole(models.CanManageOrders), d.Orders.UpdateStatus)

	users := auth.Group("/users", middleware.RequireRole(models.IsAdmin))
	users.GET("", d.Users.List)
	users.POST("", d.Users.Create)
	users.GET("/:id", d.Users.Get)
	users.PUT("/:id", d.Users.Update)
	users.DELETE("/:id", d.Users.Delete)

	shop := auth.Group("/shop", middleware.RequireRole(models.CanManageProducts))
	shop.GET("/products", d.Products.Owned)
	shop.GET("/orders", d.Orders.ShopOrders)

	me := auth.Group("/shop/me", middleware.RequireRole(models.IsShopManager))
	me.GET("", d.Users.Profile)
	me.PUT("", d.Users.UpdateShop)
}

func readyz(ready func(ctx context.Context) error, log *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if ready != nil {
			ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
			defer cancel()
			if err := ready(ctx); err != nil {
				log.Warn("readiness check failed", "error", err)
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	}
}
