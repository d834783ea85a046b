package database

import (
	"context"
	"fmt"

	"github.com/gocql/gocql"
	"github.com/jackc/pgx/v5/pgxpool"
)

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS products (
		id TEXT PRIMARY KEY,
		owner_id TEXT NOT NULL,
		name TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		price NUMERIC NOT NULL CHECK (price >= 0),
		stock INTEGER NOT NULL CHECK (stock >= 0),
		image_urls TEXT[] NOT NULL DEFAULT '{}',
		category_id TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_products_owner_id ON products(owner_id)`,
	`CREATE INDEX IF NOT EXISTS idx_products_created_at ON products(created_at)`,

	`CREATE TABLE IF NOT EXISTS carts (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL UNIQUE,
		items JSONB NOT NULL DEFAULT '[]',
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,

	`CREATE TABLE IF NOT EXISTS orders (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		total NUMERIC NOT NULL CHECK (total >= 0),
		address TEXT NOT NULL,
		status TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_orders_user_created ON orders(user_id, created_at DESC)`,

	`CREATE TABLE IF NOT EXISTS order_items (
		order_id TEXT NOT NULL REFERENCES orders(id) ON DELETE CASCADE,
		line INTEGER NOT NULL,
		product_id TEXT NOT NULL,
		quantity INTEGER NOT NULL CHECK (quantity > 0),
		price NUMERIC NOT NULL CHECK (price >= 0),
		PRIMARY KEY (order_id, line)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_order_items_product_id ON order_items(product_id)`,

	`CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		email TEXT NOT NULL UNIQUE,
		password_hash TEXT NOT NULL,
		role TEXT NOT NULL,
		shop_name TEXT,
		shop_location TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_users_created_at ON users(created_at DESC)`,
}

// MigratePostgres creates the tables if they do not exist.
func MigratePostgres(ctx context.Context, pool *pgxpool.Pool) error {
	for _, stmt := range postgresSchema {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("postgres migration: %w", err)
		}
	}
	return nil
}

var scyllaProductsSchema = []string{
	`CREATE TABLE IF NOT EXISTS products (
		product_id uuid PRIMARY KEY,
		owner_id text,
		name text,
		description text,
		price decimal,
		stock int,
		image_urls list<text>,
		category_id text,
		created_at timestamp,
		updated_at timestamp
	)`,
}

// Order lines are a JSON document: the row is written once and only its status changes.
var scyllaOrdersSchema = []string{
	`CREATE TABLE IF NOT EXISTS orders (
		order_id uuid PRIMARY KEY,
		user_id text,
		items text,
		product_ids set<text>,
		total decimal,
		address text,
		status text,
		created_at timestamp,
		updated_at timestamp
	)`,
	`CREATE TABLE IF NOT EXISTS orders_by_user (
		user_id text,
		created_at timestamp,
		order_id uuid,
		PRIMARY KEY (user_id, created_at, order_id)
	) WITH CLUSTERING ORDER BY (created_at DESC, order_id ASC)`,
}

// users_by_email is claimed with IF NOT EXISTS before a users row is written.
var scyllaUsersSchema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		user_id uuid PRIMARY KEY,
		name text,
		email text,
		password_hash text,
		role text,
		shop_name text,
		shop_location text,
		has_shop boolean,
		created_at timestamp,
		updated_at timestamp
	)`,
	`CREATE TABLE IF NOT EXISTS users_by_email (
		email text PRIMARY KEY,
		user_id uuid
	)`,
}

// MigrateScylla creates the tables in the products, orders and users keyspaces.
// The keyspaces themselves are provisioned outside the service.
func MigrateScylla(sm *ScyllaManager) error {
	for _, ks := range []struct {
		session func() (*gocql.Session, error)
		stmts   []string
	}{
		{sm.ProductsSession, scyllaProductsSchema},
		{sm.OrdersSession, scyllaOrdersSchema},
		{sm.UsersSession, scyllaUsersSchema},
	} {
		session, err := ks.session()
		if err != nil {
			return err
		}
		if err := execAll(session, ks.stmts); err != nil {
			return err
		}
	}
	return nil
}

func execAll(session *gocql.Session, stmts []string) error {
	for _, stmt := range stmts {
		if err := session.Query(stmt).Exec(); err != nil {
			return fmt.Errorf("scylla migration: %w", err)
		}
	}
	return nil
}
