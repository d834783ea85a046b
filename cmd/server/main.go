package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"shop_back_end/internal/cache"
	"shop_back_end/internal/config"
	"shop_back_end/internal/database"
	"shop_back_end/internal/handlers"
	"shop_back_end/internal/logger"
	"shop_back_end/internal/middleware"
	"shop_back_end/internal/routes"
	"shop_back_end/internal/services"
	"shop_back_end/internal/store"
	"shop_back_end/internal/store/memory"
	"shop_back_end/internal/store/postgres"
	"shop_back_end/internal/store/scylla"
)

// Used only when APP_ENV is dev and JWT_SECRET is unset.
const devJWTSecret = "super_secret"

func main() {
	boot := logger.New(logger.Options{Service: "shop-api", Env: os.Getenv("APP_ENV")})
	config.LoadDotEnv(boot)

	cfg := config.Load()
	log := logger.New(logger.Options{Service: "shop-api", Env: cfg.AppEnv, Level: cfg.LogLevel})
	if err := cfg.Validate(); err != nil {
		log.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("server stopped", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, log *slog.Logger) error {
	var rdb *redis.Client
	if cfg.RedisHost != "" {
		client, err := database.NewRedis(ctx, cfg.RedisHost, cfg.RedisPassword)
		if err != nil {
			return err
		}
		defer client.Close()
		rdb = client
		log.Info("redis connected", "addr", cfg.RedisHost)
	}

	st, err := openStore(ctx, cfg, rdb, log)
	if err != nil {
		return err
	}
	defer st.Close()

	display := cache.NewProductDisplay(rdb, st, log)
	productSvc := services.NewProductService(st, display, log)
	cartSvc := services.NewCartService(st, st, log)
	checkoutSvc := services.NewCheckoutService(st, cfg.CheckoutTimeout, log)
	orderSvc := services.NewOrderService(st, st, display, log)
	userSvc := services.NewUserService(st, log)

	secret := cfg.JWTSecret
	if secret == "" {
		log.Warn("JWT_SECRET not set, using the dev secret")
		secret = devJWTSecret
	}

	deps := routes.Deps{
		Log:       log,
		JWTSecret: []byte(secret),
		Products:  handlers.NewProductHandler(productSvc, log),
		Carts:     handlers.NewCartHandler(cartSvc, log),
		Checkout:  handlers.NewCheckoutHandler(checkoutSvc, log),
		Orders:    handlers.NewOrderHandler(orderSvc, log),
		Users:     handlers.NewUserHandler(userSvc, log),
		Ready: func(ctx context.Context) error {
			if err := st.Ping(ctx); err != nil {
				return err
			}
			if rdb != nil {
				return rdb.Ping(ctx).Err()
			}
			return nil
		},
	}
	if rdb != nil && cfg.CartRateLimit > 0 {
		deps.CartLimiter = cache.NewRateLimiter(rdb, "cart_add:", cfg.CartRateLimit, time.Minute)
	}

	if !cfg.IsDev() {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery(), middleware.RequestLogger(log))
	r.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.CORSOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		ExposeHeaders:    []string{"Content-Length", "X-RateLimit-Remaining"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))
	routes.RegisterRoutes(r, deps)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("server listening", "port", cfg.Port, "store", cfg.StoreDriver)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return <-errCh
}

func openStore(ctx context.Context, cfg config.Config, rdb *redis.Client, log *slog.Logger) (store.Store, error) {
	switch cfg.StoreDriver {
	case config.DriverPostgres:
		pool, err := database.NewPostgres(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, err
		}
		if err := database.MigratePostgres(ctx, pool); err != nil {
			pool.Close()
			return nil, err
		}
		log.Info("postgres store ready")
		return postgres.New(pool), nil

	case config.DriverScylla:
		sm, err := database.NewScyllaManager(cfg.Scylla, log)
		if err != nil {
			return nil, err
		}
		if err := database.MigrateScylla(sm); err != nil {
			sm.Close()
			return nil, err
		}
		st, err := scylla.New(sm, rdb, cfg.CartTTL)
		if err != nil {
			sm.Close()
			return nil, err
		}
		log.Info("scylla store ready", "hosts", cfg.Scylla.Hosts)
		return st, nil

	default:
		log.Warn("using the in-memory store, data is lost on restart")
		return memory.New(), nil
	}
}
