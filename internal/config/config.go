package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
	DriverScylla   = "scylla"
)

type ScyllaConfig struct {
	Hosts            []string
	ProductsKeyspace string
	OrdersKeyspace   string
	UsersKeyspace    string
	Username         string
	Password         string
	SSLEnabled       bool
	CACertPath       string
	Timeout          time.Duration
	NumConns         int
}

type Config struct {
	AppEnv   string
	LogLevel string
	Port     string

	StoreDriver string
	PostgresDSN string
	Scylla      ScyllaConfig

	RedisHost     string
	RedisPassword string

	JWTSecret       string
	CheckoutTimeout time.Duration
	CartTTL         time.Duration
	CartRateLimit   int
	CORSOrigins     []string
}

// LoadDotEnv reads .env into the process environment. A missing file is fine:
// the system environment is used as is.
func LoadDotEnv(log *slog.Logger) {
	if err := godotenv.Load(".env"); err != nil {
		log.Info("no .env file, using system environment")
		return
	}
	log.Info(".env loaded")
}

// Load builds a Config from the environment.
func Load() Config {
	return Config{
		AppEnv:      getEnv("APP_ENV", "dev"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		Port:        getEnv("PORT", "8080"),
		StoreDriver: strings.ToLower(getEnv("STORE_DRIVER", DriverMemory)),
		PostgresDSN: os.Getenv("POSTGRES_DSN"),
		Scylla: ScyllaConfig{
			Hosts:            getEnvList("SCYLLA_HOSTS"),
			ProductsKeyspace: os.Getenv("SCYLLA_KS_PRODUCTS_KEYSPACE"),
			OrdersKeyspace:   os.Getenv("SCYLLA_KS_ORDERS_KEYSPACE"),
			UsersKeyspace:    os.Getenv("SCYLLA_KS_USERS_KEYSPACE"),
			Username:         os.Getenv("SCYLLA_USERNAME"),
			Password:         os.Getenv("SCYLLA_PASSWORD"),
			SSLEnabled:       strings.EqualFold(os.Getenv("SCYLLA_SSL_ENABLED"), "true"),
			CACertPath:       os.Getenv("SCYLLA_SSL_CA_PATH"),
			Timeout:          getEnvDuration("SCYLLA_TIMEOUT", 5*time.Second),
			NumConns:         getEnvInt("SCYLLA_NUM_CONNS", 20),
		},
		RedisHost:       os.Getenv("REDIS_HOST"),
		RedisPassword:   os.Getenv("REDIS_PASSWORD"),
		JWTSecret:       os.Getenv("JWT_SECRET"),
		CheckoutTimeout: getEnvDuration("CHECKOUT_TIMEOUT", 10*time.Second),
		CartTTL:         getEnvDuration("CART_TTL", 30*24*time.Hour),
		CartRateLimit:   getEnvInt("CART_RATE_LIMIT", 20),
		CORSOrigins:     getEnvListDefault("CORS_ORIGINS", []string{"http://localhost:3000"}),
	}
}

func (c Config) IsDev() bool {
	return c.AppEnv == "dev" || c.AppEnv == "test"
}

// Validate reports every inconsistent setting at once.
func (c Config) Validate() error {
	var errs []error

	switch c.StoreDriver {
	case DriverMemory:
	case DriverPostgres:
		if c.PostgresDSN == "" {
			errs = append(errs, errors.New("POSTGRES_DSN is required for the postgres driver"))
		}
	case DriverScylla:
		if len(c.Scylla.Hosts) == 0 {
			errs = append(errs, errors.New("SCYLLA_HOSTS is required for the scylla driver"))
		}
		if c.Scylla.ProductsKeyspace == "" || c.Scylla.OrdersKeyspace == "" || c.Scylla.UsersKeyspace == "" {
			errs = append(errs, errors.New("SCYLLA_KS_PRODUCTS_KEYSPACE, SCYLLA_KS_ORDERS_KEYSPACE and SCYLLA_KS_USERS_KEYSPACE are required for the scylla driver"))
		}
		if c.RedisHost == "" {
			errs = append(errs, errors.New("REDIS_HOST is required for the scylla driver (carts live in redis)"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown STORE_DRIVER %q", c.StoreDriver))
	}

	if c.JWTSecret == "" && !c.IsDev() {
		errs = append(errs, errors.New("JWT_SECRET is required outside dev"))
	}
	if c.CheckoutTimeout <= 0 {
		errs = append(errs, errors.New("CHECKOUT_TIMEOUT must be positive"))
	}
	if c.CartRateLimit < 0 {
		errs = append(errs, errors.New("CART_RATE_LIMIT must not be negative"))
	}

	return errors.Join(errs...)
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}

func getEnvList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func getEnvListDefault(key string, def []string) []string {
	if list := getEnvList(key); len(list) > 0 {
		return list
	}
	return def
}
