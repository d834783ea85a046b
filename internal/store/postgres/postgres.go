// Package postgres implements store.Store on PostgreSQL through pgx.
// Units of work run at REPEATABLE READ; stock is decremented with a
// conditional UPDATE so a concurrent writer surfaces as a serialization
// failure instead of an oversell.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"shop_back_end/internal/models"
	"shop_back_end/internal/store"
)

type Store struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

var _ store.Store = (*Store)(nil)

func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool, now: func() time.Time { return time.Now().UTC() }}
}

func (s *Store) Close() {
	s.pool.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// querier is satisfied by both the pool and an open transaction.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// mapErr translates driver errors into store errors.
func mapErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return store.ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01":
			return fmt.Errorf("%w: %s", store.ErrConflict, pgErr.Message)
		case "23505":
			return fmt.Errorf("%w: %s", store.ErrAlreadyExists, pgErr.ConstraintName)
		}
	}
	return err
}

// --- products ---

const productColumns = `id, owner_id, name, description, price::text, stock, image_urls, category_id, created_at, updated_at`

func scanProduct(row pgx.Row) (models.Product, error) {
	var (
		p     models.Product
		price string
	)
	err := row.Scan(&p.ID, &p.OwnerID, &p.Name, &p.Description, &price, &p.Stock,
		&p.ImageURLs, &p.CategoryID, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return models.Product{}, err
	}
	if p.Price, err = decimal.NewFromString(price); err != nil {
		return models.Product{}, fmt.Errorf("product %s price: %w", p.ID, err)
	}
	return p, nil
}

func getProduct(ctx context.Context, q querier, id string) (models.Product, error) {
	p, err := scanProduct(q.QueryRow(ctx, `SELECT `+productColumns+` FROM products WHERE id = $1`, id))
	return p, mapErr(err)
}

func (s *Store) queryProducts(ctx context.Context, sql string, args ...any) ([]models.Product, error) {
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()

	out := make([]models.Product, 0)
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, mapErr(rows.Err())
}

func (s *Store) ListProducts(ctx context.Context) ([]models.Product, error) {
	return s.queryProducts(ctx, `SELECT `+productColumns+` FROM products ORDER BY created_at DESC`)
}

func (s *Store) ProductsByOwner(ctx context.Context, ownerID string) ([]models.Product, error) {
	return s.queryProducts(ctx,
		`SELECT `+productColumns+` FROM products WHERE owner_id = $1 ORDER BY created_at DESC`, ownerID)
}

func (s *Store) GetProduct(ctx context.Context, id string) (models.Product, error) {
	return getProduct(ctx, s.pool, id)
}

func imageURLs(p models.Product) []string {
	if p.ImageURLs == nil {
		return []string{}
	}
	return p.ImageURLs
}

func (s *Store) CreateProduct(ctx context.Context, p models.Product) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO products (id, owner_id, name, description, price, stock, image_urls, category_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5::numeric, $6, $7, $8, $9, $10)`,
		p.ID, p.OwnerID, p.Name, p.Description, p.Price.String(), p.Stock,
		imageURLs(p), p.CategoryID, p.CreatedAt, p.UpdatedAt)
	return mapErr(err)
}

// UpdateProduct sets only the patched columns so a concurrent stock
// decrement is never overwritten by a stale read.
func (s *Store) UpdateProduct(ctx context.Context, id string, patch models.ProductPatch, updatedAt time.Time) (models.Product, error) {
	sets := []string{"updated_at = $2"}
	args := []any{id, updatedAt}
	add := func(format string, v any) {
		args = append(args, v)
		sets = append(sets, fmt.Sprintf(format, len(args)))
	}
	if patch.Name != nil {
		add("name = $%d", *patch.Name)
	}
	if patch.Description != nil {
		add("description = $%d", *patch.Description)
	}
	if patch.Price != nil {
		add("price = $%d::numeric", patch.Price.String())
	}
	if patch.Stock != nil {
		add("stock = $%d", *patch.Stock)
	}
	if patch.ImageURLs != nil {
		add("image_urls = $%d", patch.ImageURLs)
	}
	if patch.CategoryID != nil {
		add("category_id = $%d", *patch.CategoryID)
	}

	row := s.pool.QueryRow(ctx,
		`UPDATE products SET `+strings.Join(sets, ", ")+` WHERE id = $1 RETURNING `+productColumns,
		args...)
	p, err := scanProduct(row)
	if err != nil {
		return models.Product{}, mapErr(err)
	}
	return p, nil
}

func (s *Store) DeleteProduct(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM products WHERE id = $1`, id)
	if err != nil {
		return mapErr(err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

// --- orders ---

const orderColumns = `id, user_id, total::text, address, status, created_at, updated_at`

func scanOrder(row pgx.Row) (models.Order, error) {
	var (
		o      models.Order
		total  string
		status string
	)
	if err := row.Scan(&o.ID, &o.UserID, &total, &o.Address, &status, &o.CreatedAt, &o.UpdatedAt); err != nil {
		return models.Order{}, err
	}
	var err error
	if o.Total, err = decimal.NewFromString(total); err != nil {
		return models.Order{}, fmt.Errorf("order %s total: %w", o.ID, err)
	}
	o.Status = models.OrderStatus(status)
	return o, nil
}

// loadItems fills the items of orders with one query.
func (s *Store) loadItems(ctx context.Context, orders []models.Order) error {
	if len(orders) == 0 {
		return nil
	}
	ids := make([]string, len(orders))
	index := make(map[string]int, len(orders))
	for i, o := range orders {
		ids[i] = o.ID
		index[o.ID] = i
		orders[i].Items = []models.OrderItem{}
	}

	rows, err := s.pool.Query(ctx, `
		SELECT order_id, product_id, quantity, price::text
		FROM order_items WHERE order_id = ANY($1) ORDER BY order_id, line`, ids)
	if err != nil {
		return mapErr(err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			orderID string
			it      models.OrderItem
			price   string
		)
		if err := rows.Scan(&orderID, &it.ProductID, &it.Quantity, &price); err != nil {
			return err
		}
		if it.Price, err = decimal.NewFromString(price); err != nil {
			return fmt.Errorf("order %s line price: %w", orderID, err)
		}
		i := index[orderID]
		orders[i].Items = append(orders[i].Items, it)
	}
	return mapErr(rows.Err())
}

func (s *Store) queryOrders(ctx context.Context, sql string, args ...any) ([]models.Order, error) {
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, mapErr(err)
	}
	out := make([]models.Order, 0)
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		out = append(out, o)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, mapErr(err)
	}

	if err := s.loadItems(ctx, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) OrderByID(ctx context.Context, id string) (models.Order, error) {
	o, err := scanOrder(s.pool.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id))
	if err != nil {
		return models.Order{}, mapErr(err)
	}
	orders := []models.Order{o}
	if err := s.loadItems(ctx, orders); err != nil {
		return models.Order{}, err
	}
	return orders[0], nil
}

func (s *Store) OrdersByUser(ctx context.Context, userID string) ([]models.Order, error) {
	return s.queryOrders(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE user_id = $1 ORDER BY created_at DESC`, userID)
}

func (s *Store) OrdersWithProducts(ctx context.Context, productIDs []string) ([]models.Order, error) {
	if len(productIDs) == 0 {
		return []models.Order{}, nil
	}
	return s.queryOrders(ctx, `
		SELECT `+orderColumns+` FROM orders o
		WHERE EXISTS (SELECT 1 FROM order_items i WHERE i.order_id = o.id AND i.product_id = ANY($1))
		ORDER BY created_at DESC`, productIDs)
}

func (s *Store) UpdateOrderStatus(ctx context.Context, id string, from, next models.OrderStatus) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE orders SET status = $3, updated_at = $4 WHERE id = $1 AND status = $2`,
		id, string(from), string(next), s.now())
	if err != nil {
		return mapErr(err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	var exists bool
	if err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM orders WHERE id = $1)`, id).Scan(&exists); err != nil {
		return mapErr(err)
	}
	if !exists {
		return store.ErrNotFound
	}
	return store.ErrConflict
}

// --- unit of work ---

func (s *Store) Begin(ctx context.Context) (store.Tx, error) {
	ptx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	if err != nil {
		return nil, mapErr(err)
	}
	return &tx{tx: ptx, now: s.now}, nil
}

type tx struct {
	tx  pgx.Tx
	now func() time.Time
}

func (t *tx) ProductByID(ctx context.Context, id string) (models.Product, error) {
	return getProduct(ctx, t.tx, id)
}

func (t *tx) DecrementStock(ctx context.Context, id string, amount int) error {
	tag, err := t.tx.Exec(ctx,
		`UPDATE products SET stock = stock - $2, updated_at = $3 WHERE id = $1 AND stock >= $2`,
		id, amount, t.now())
	if err != nil {
		return mapErr(err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	if _, err := getProduct(ctx, t.tx, id); err != nil {
		return err
	}
	return store.ErrInsufficientStock
}

func (t *tx) CartByUser(ctx context.Context, userID string) (models.Cart, error) {
	var (
		c   models.Cart
		raw []byte
	)
	err := t.tx.QueryRow(ctx,
		`SELECT id, user_id, items, updated_at FROM carts WHERE user_id = $1 FOR UPDATE`, userID).
		Scan(&c.ID, &c.UserID, &raw, &c.UpdatedAt)
	if err != nil {
		return models.Cart{}, mapErr(err)
	}
	if err := json.Unmarshal(raw, &c.Items); err != nil {
		return models.Cart{}, fmt.Errorf("cart %s items: %w", c.ID, err)
	}
	if c.Items == nil {
		c.Items = []models.CartItem{}
	}
	return c, nil
}

func (t *tx) CreateCart(ctx context.Context, userID string) (models.Cart, error) {
	c := models.Cart{
		ID:        uuid.NewString(),
		UserID:    userID,
		Items:     []models.CartItem{},
		UpdatedAt: t.now(),
	}
	_, err := t.tx.Exec(ctx,
		`INSERT INTO carts (id, user_id, items, updated_at) VALUES ($1, $2, '[]'::jsonb, $3)`,
		c.ID, c.UserID, c.UpdatedAt)
	if err != nil {
		return models.Cart{}, mapErr(err)
	}
	return c, nil
}

func (t *tx) ReplaceCartItems(ctx context.Context, userID string, items []models.CartItem) error {
	raw, err := json.Marshal(models.StoredItems(items))
	if err != nil {
		return err
	}
	tag, err := t.tx.Exec(ctx,
		`UPDATE carts SET items = $2::jsonb, updated_at = $3 WHERE user_id = $1`,
		userID, string(raw), t.now())
	if err != nil {
		return mapErr(err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (t *tx) InsertOrder(ctx context.Context, o models.Order) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO orders (id, user_id, total, address, status, created_at, updated_at)
		VALUES ($1, $2, $3::numeric, $4, $5, $6, $7)`,
		o.ID, o.UserID, o.Total.String(), o.Address, string(o.Status), o.CreatedAt, o.UpdatedAt)
	if err != nil {
		return mapErr(err)
	}

	batch := &pgx.Batch{}
	for i, it := range o.Items {
		batch.Queue(`
			INSERT INTO order_items (order_id, line, product_id, quantity, price)
			VALUES ($1, $2, $3, $4, $5::numeric)`,
			o.ID, i, it.ProductID, it.Quantity, it.Price.String())
	}
	return mapErr(t.tx.SendBatch(ctx, batch).Close())
}

func (t *tx) Commit(ctx context.Context) error {
	return mapErr(t.tx.Commit(ctx))
}

func (t *tx) Rollback(ctx context.Context) error {
	err := t.tx.Rollback(ctx)
	if errors.Is(err, pgx.ErrTxClosed) {
		return nil
	}
	return err
}
