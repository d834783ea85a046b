// Package scylla implements store.Store with products, orders and users in ScyllaDB
// and carts in Redis.
//
// Scylla has no multi-row transactions, so a unit of work is built from
// conditional writes and compensation: stock is decremented with a
// lightweight transaction (IF stock = ?) as soon as the caller asks, every
// applied decrement is recorded, and Rollback or a failed Commit puts the
// stock back. Orders are inserted at Commit, then the cart is replaced under
// a Redis WATCH against the value read earlier in the unit of work.
package scylla

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/gocql/gocql"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"gopkg.in/inf.v0"

	"shop_back_end/internal/database"
	"shop_back_end/internal/models"
	"shop_back_end/internal/store"
)

const (
	maxCASAttempts = 8
	CartKeyPrefix  = "cart:"
)

type Store struct {
	sm       *database.ScyllaManager
	products *gocql.Session
	orders   *gocql.Session
	users    *gocql.Session
	rdb      *redis.Client
	cartTTL  time.Duration
	now      func() time.Time
}

var _ store.Store = (*Store)(nil)

func New(sm *database.ScyllaManager, rdb *redis.Client, cartTTL time.Duration) (*Store, error) {
	products, err := sm.ProductsSession()
	if err != nil {
		return nil, err
	}
	orders, err := sm.OrdersSession()
	if err != nil {
		return nil, err
	}
	users, err := sm.UsersSession()
	if err != nil {
		return nil, err
	}
	return &Store{
		sm:       sm,
		products: products,
		orders:   orders,
		users:    users,
		rdb:      rdb,
		cartTTL:  cartTTL,
		now:      func() time.Time { return time.Now().UTC().Truncate(time.Millisecond) },
	}, nil
}

func (s *Store) Close() {
	s.sm.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	if err := s.sm.Ping(ctx); err != nil {
		return err
	}
	return s.rdb.Ping(ctx).Err()
}

// --- conversions ---

func toInf(d decimal.Decimal) *inf.Dec {
	return inf.NewDecBig(d.Coefficient(), inf.Scale(-d.Exponent()))
}

func fromInf(d *inf.Dec) decimal.Decimal {
	if d == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(d.UnscaledBig(), -int32(d.Scale()))
}

func parseID(id string) (gocql.UUID, error) {
	u, err := gocql.ParseUUID(id)
	if err != nil {
		return gocql.UUID{}, store.ErrNotFound
	}
	return u, nil
}

func mapErr(err error) error {
	if errors.Is(err, gocql.ErrNotFound) {
		return store.ErrNotFound
	}
	return err
}

// --- products ---

const productColumns = `product_id, owner_id, name, description, price, stock, image_urls, category_id, created_at, updated_at`

func scanProduct(sc func(dest ...interface{}) error) (models.Product, error) {
	var (
		p     models.Product
		id    gocql.UUID
		price inf.Dec
	)
	err := sc(&id, &p.OwnerID, &p.Name, &p.Description, &price, &p.Stock,
		&p.ImageURLs, &p.CategoryID, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return models.Product{}, err
	}
	p.ID = id.String()
	p.Price = fromInf(&price)
	if p.ImageURLs == nil {
		p.ImageURLs = []string{}
	}
	return p, nil
}

func (s *Store) getProduct(ctx context.Context, id string, consistency gocql.Consistency) (models.Product, error) {
	uid, err := parseID(id)
	if err != nil {
		return models.Product{}, err
	}
	q := s.products.Query(`SELECT `+productColumns+` FROM products WHERE product_id = ?`, uid).
		WithContext(ctx).Consistency(consistency)
	p, err := scanProduct(func(dest ...interface{}) error { return q.Scan(dest...) })
	return p, mapErr(err)
}

func (s *Store) GetProduct(ctx context.Context, id string) (models.Product, error) {
	return s.getProduct(ctx, id, gocql.Quorum)
}

func (s *Store) allProducts(ctx context.Context, keep func(models.Product) bool) ([]models.Product, error) {
	iter := s.products.Query(`SELECT ` + productColumns + ` FROM products`).WithContext(ctx).Iter()

	out := make([]models.Product, 0)
	for {
		p, err := scanProduct(func(dest ...interface{}) error {
			if !iter.Scan(dest...) {
				return errIterDone
			}
			return nil
		})
		if err != nil {
			break
		}
		if keep(p) {
			out = append(out, p)
		}
	}
	if err := iter.Close(); err != nil {
		return nil, err
	}

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

var errIterDone = errors.New("iterator exhausted")

func (s *Store) ListProducts(ctx context.Context) ([]models.Product, error) {
	return s.allProducts(ctx, func(models.Product) bool { return true })
}

func (s *Store) ProductsByOwner(ctx context.Context, ownerID string) ([]models.Product, error) {
	return s.allProducts(ctx, func(p models.Product) bool { return p.OwnerID == ownerID })
}

func (s *Store) CreateProduct(ctx context.Context, p models.Product) error {
	uid, err := gocql.ParseUUID(p.ID)
	if err != nil {
		return fmt.Errorf("product id %q: %w", p.ID, err)
	}
	applied, err := s.products.Query(`
		INSERT INTO products (`+productColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?) IF NOT EXISTS`,
		uid, p.OwnerID, p.Name, p.Description, toInf(p.Price), p.Stock,
		p.ImageURLs, p.CategoryID, p.CreatedAt, p.UpdatedAt).
		WithContext(ctx).MapScanCAS(map[string]interface{}{})
	if err != nil {
		return err
	}
	if !applied {
		return store.ErrAlreadyExists
	}
	return nil
}

// UpdateProduct writes only the patched columns. Stock is owned by the
// CAS loop in adjustStock unless the patch sets it explicitly.
func (s *Store) UpdateProduct(ctx context.Context, id string, patch models.ProductPatch, updatedAt time.Time) (models.Product, error) {
	uid, err := parseID(id)
	if err != nil {
		return models.Product{}, err
	}

	sets := []string{"updated_at = ?"}
	args := []interface{}{updatedAt}
	add := func(col string, v interface{}) {
		sets = append(sets, col+" = ?")
		args = append(args, v)
	}
	if patch.Name != nil {
		add("name", *patch.Name)
	}
	if patch.Description != nil {
		add("description", *patch.Description)
	}
	if patch.Price != nil {
		add("price", toInf(*patch.Price))
	}
	if patch.Stock != nil {
		add("stock", *patch.Stock)
	}
	if patch.ImageURLs != nil {
		add("image_urls", patch.ImageURLs)
	}
	if patch.CategoryID != nil {
		add("category_id", *patch.CategoryID)
	}
	args = append(args, uid)

	applied, err := s.products.Query(
		`UPDATE products SET `+strings.Join(sets, ", ")+` WHERE product_id = ? IF EXISTS`, args...).
		WithContext(ctx).MapScanCAS(map[string]interface{}{})
	if err != nil {
		return models.Product{}, err
	}
	if !applied {
		return models.Product{}, store.ErrNotFound
	}
	return s.getProduct(ctx, id, gocql.Consistency(gocql.Serial))
}

func (s *Store) DeleteProduct(ctx context.Context, id string) error {
	uid, err := parseID(id)
	if err != nil {
		return err
	}
	applied, err := s.products.Query(`DELETE FROM products WHERE product_id = ? IF EXISTS`, uid).
		WithContext(ctx).MapScanCAS(map[string]interface{}{})
	if err != nil {
		return err
	}
	if !applied {
		return store.ErrNotFound
	}
	return nil
}

// adjustStock adds delta to the product's stock with a compare-and-set loop.
// A negative delta fails with ErrInsufficientStock when stock would drop below zero.
func (s *Store) adjustStock(ctx context.Context, id string, delta int) error {
	uid, err := parseID(id)
	if err != nil {
		return err
	}

	for attempt := 0; attempt < maxCASAttempts; attempt++ {
		var stock int
		err := s.products.Query(`SELECT stock FROM products WHERE product_id = ?`, uid).
			WithContext(ctx).Consistency(gocql.Consistency(gocql.Serial)).Scan(&stock)
		if err != nil {
			return mapErr(err)
		}
		if stock+delta < 0 {
			return store.ErrInsufficientStock
		}

		applied, err := s.products.Query(
			`UPDATE products SET stock = ?, updated_at = ? WHERE product_id = ? IF stock = ?`,
			stock+delta, s.now(), uid, stock).
			WithContext(ctx).MapScanCAS(map[string]interface{}{})
		if err != nil {
			return err
		}
		if applied {
			return nil
		}
	}
	return fmt.Errorf("%w: stock of %s kept changing", store.ErrConflict, id)
}

// --- orders ---

const orderColumns = `order_id, user_id, items, total, address, status, created_at, updated_at`

func scanOrder(sc func(dest ...interface{}) error) (models.Order, error) {
	var (
		o      models.Order
		id     gocql.UUID
		items  string
		total  inf.Dec
		status string
	)
	if err := sc(&id, &o.UserID, &items, &total, &o.Address, &status, &o.CreatedAt, &o.UpdatedAt); err != nil {
		return models.Order{}, err
	}
	o.ID = id.String()
	o.Total = fromInf(&total)
	o.Status = models.OrderStatus(status)
	if err := json.Unmarshal([]byte(items), &o.Items); err != nil {
		return models.Order{}, fmt.Errorf("order %s items: %w", o.ID, err)
	}
	return o.Clone(), nil
}

func (s *Store) OrderByID(ctx context.Context, id string) (models.Order, error) {
	uid, err := parseID(id)
	if err != nil {
		return models.Order{}, err
	}
	q := s.orders.Query(`SELECT `+orderColumns+` FROM orders WHERE order_id = ?`, uid).WithContext(ctx)
	o, err := scanOrder(func(dest ...interface{}) error { return q.Scan(dest...) })
	return o, mapErr(err)
}

func (s *Store) OrdersByUser(ctx context.Context, userID string) ([]models.Order, error) {
	iter := s.orders.Query(`SELECT order_id FROM orders_by_user WHERE user_id = ?`, userID).
		WithContext(ctx).Iter()
	var (
		id  gocql.UUID
		ids []string
	)
	for iter.Scan(&id) {
		ids = append(ids, id.String())
	}
	if err := iter.Close(); err != nil {
		return nil, err
	}

	out := make([]models.Order, 0, len(ids))
	for _, id := range ids {
		o, err := s.OrderByID(ctx, id)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, nil
}

func (s *Store) OrdersWithProducts(ctx context.Context, productIDs []string) ([]models.Order, error) {
	out := make([]models.Order, 0)
	if len(productIDs) == 0 {
		return out, nil
	}
	wanted := make(map[string]struct{}, len(productIDs))
	for _, id := range productIDs {
		wanted[id] = struct{}{}
	}

	iter := s.orders.Query(`SELECT ` + orderColumns + ` FROM orders`).WithContext(ctx).Iter()
	for {
		o, err := scanOrder(func(dest ...interface{}) error {
			if !iter.Scan(dest...) {
				return errIterDone
			}
			return nil
		})
		if errors.Is(err, errIterDone) {
			break
		}
		if err != nil {
			iter.Close()
			return nil, err
		}
		if o.Contains(wanted) {
			out = append(out, o)
		}
	}
	if err := iter.Close(); err != nil {
		return nil, err
	}

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) UpdateOrderStatus(ctx context.Context, id string, from, next models.OrderStatus) error {
	uid, err := parseID(id)
	if err != nil {
		return err
	}
	current := map[string]interface{}{}
	applied, err := s.orders.Query(
		`UPDATE orders SET status = ?, updated_at = ? WHERE order_id = ? IF status = ?`,
		string(next), s.now(), uid, string(from)).
		WithContext(ctx).MapScanCAS(current)
	if err != nil {
		return err
	}
	if applied {
		return nil
	}
	if status, _ := current["status"].(string); status == "" {
		return store.ErrNotFound
	}
	return store.ErrConflict
}

// insertOrder reports whether the primary orders row was written, even when
// the orders_by_user write that follows it fails.
func (s *Store) insertOrder(ctx context.Context, o models.Order) (bool, error) {
	uid, err := gocql.ParseUUID(o.ID)
	if err != nil {
		return false, fmt.Errorf("order id %q: %w", o.ID, err)
	}
	stored := o.Clone()
	items, err := json.Marshal(stored.Items)
	if err != nil {
		return false, err
	}
	productIDs := make([]string, 0, len(stored.Items))
	for _, it := range stored.Items {
		productIDs = append(productIDs, it.ProductID)
	}

	applied, err := s.orders.Query(`
		INSERT INTO orders (order_id, user_id, items, product_ids, total, address, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?) IF NOT EXISTS`,
		uid, o.UserID, string(items), productIDs, toInf(o.Total), o.Address, string(o.Status), o.CreatedAt, o.UpdatedAt).
		WithContext(ctx).MapScanCAS(map[string]interface{}{})
	if err != nil {
		return false, err
	}
	if !applied {
		return false, store.ErrAlreadyExists
	}

	err = s.orders.Query(`INSERT INTO orders_by_user (user_id, created_at, order_id) VALUES (?, ?, ?)`,
		o.UserID, o.CreatedAt, uid).WithContext(ctx).Exec()
	return true, err
}

func (s *Store) deleteOrder(ctx context.Context, o models.Order) error {
	uid, err := gocql.ParseUUID(o.ID)
	if err != nil {
		return err
	}
	b := s.orders.NewBatch(gocql.LoggedBatch).WithContext(ctx)
	b.Query(`DELETE FROM orders WHERE order_id = ?`, uid)
	b.Query(`DELETE FROM orders_by_user WHERE user_id = ? AND created_at = ? AND order_id = ?`, o.UserID, o.CreatedAt, uid)
	return s.orders.ExecuteBatch(b)
}

// --- carts ---

func cartKey(userID string) string {
	return CartKeyPrefix + userID
}

func (s *Store) readCart(ctx context.Context, userID string) (raw string, err error) {
	raw, err = s.rdb.Get(ctx, cartKey(userID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	return raw, err
}

// --- unit of work ---

func (s *Store) Begin(ctx context.Context) (store.Tx, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &tx{
		s:          s,
		cartReads:  make(map[string]string),
		cartWrites: make(map[string]models.Cart),
	}, nil
}

type decrement struct {
	productID string
	amount    int
}

type tx struct {
	s *Store

	applied    []decrement       // already written to scylla, undone on rollback
	cartReads  map[string]string // raw redis value at first read, "" if absent
	cartWrites map[string]models.Cart
	orders     []models.Order
	done       bool
}

func (t *tx) ProductByID(ctx context.Context, id string) (models.Product, error) {
	if t.done {
		return models.Product{}, errTxDone
	}
	return t.s.getProduct(ctx, id, gocql.Consistency(gocql.Serial))
}

func (t *tx) DecrementStock(ctx context.Context, id string, amount int) error {
	if t.done {
		return errTxDone
	}
	if amount <= 0 {
		return nil
	}
	if err := t.s.adjustStock(ctx, id, -amount); err != nil {
		return err
	}
	t.applied = append(t.applied, decrement{productID: id, amount: amount})
	return nil
}

func (t *tx) CartByUser(ctx context.Context, userID string) (models.Cart, error) {
	if t.done {
		return models.Cart{}, errTxDone
	}
	if c, ok := t.cartWrites[userID]; ok {
		c.Items = models.StoredItems(c.Items)
		return c, nil
	}

	raw, err := t.s.readCart(ctx, userID)
	if err != nil {
		return models.Cart{}, err
	}
	if _, seen := t.cartReads[userID]; !seen {
		t.cartReads[userID] = raw
	}
	if raw == "" {
		return models.Cart{}, store.ErrNotFound
	}

	var c models.Cart
	if err := json.Unmarshal([]byte(raw), &c); err != nil {
		return models.Cart{}, fmt.Errorf("cart of %s: %w", userID, err)
	}
	if c.Items == nil {
		c.Items = []models.CartItem{}
	}
	return c, nil
}

func (t *tx) CreateCart(ctx context.Context, userID string) (models.Cart, error) {
	_, err := t.CartByUser(ctx, userID)
	switch {
	case err == nil:
		return models.Cart{}, store.ErrAlreadyExists
	case !errors.Is(err, store.ErrNotFound):
		return models.Cart{}, err
	}

	c := models.Cart{ID: uuid.NewString(), UserID: userID, Items: []models.CartItem{}, UpdatedAt: t.s.now()}
	t.cartWrites[userID] = c
	return c, nil
}

func (t *tx) ReplaceCartItems(ctx context.Context, userID string, items []models.CartItem) error {
	c, err := t.CartByUser(ctx, userID)
	if err != nil {
		return err
	}
	c.Items = models.StoredItems(items)
	c.UpdatedAt = t.s.now()
	t.cartWrites[userID] = c
	return nil
}

func (t *tx) InsertOrder(ctx context.Context, o models.Order) error {
	if t.done {
		return errTxDone
	}
	t.orders = append(t.orders, o.Clone())
	return nil
}

func (t *tx) Commit(ctx context.Context) error {
	if t.done {
		return errTxDone
	}
	t.done = true

	inserted, err := insertOrders(t.orders, func(o models.Order) (bool, error) {
		return t.s.insertOrder(ctx, o)
	})
	if err != nil {
		return t.abort(ctx, inserted, err)
	}

	if err := t.writeCarts(ctx); err != nil {
		return t.abort(ctx, inserted, err)
	}
	return nil
}

// insertOrders stops at the first failure and returns every order whose
// primary row was written, so the caller can delete them again.
func insertOrders(orders []models.Order, insert func(models.Order) (bool, error)) ([]models.Order, error) {
	var inserted []models.Order
	for _, o := range orders {
		applied, err := insert(o)
		if applied {
			inserted = append(inserted, o)
		}
		if err != nil {
			return inserted, err
		}
	}
	return inserted, nil
}

// writeCarts replaces every written cart only if none changed since it was read.
func (t *tx) writeCarts(ctx context.Context) error {
	if len(t.cartWrites) == 0 {
		return nil
	}
	keys := make([]string, 0, len(t.cartWrites))
	payloads := make(map[string][]byte, len(t.cartWrites))
	for userID, c := range t.cartWrites {
		raw, err := json.Marshal(c)
		if err != nil {
			return err
		}
		keys = append(keys, cartKey(userID))
		payloads[userID] = raw
	}

	err := t.s.rdb.Watch(ctx, func(rtx *redis.Tx) error {
		for userID := range t.cartWrites {
			cur, err := rtx.Get(ctx, cartKey(userID)).Result()
			if errors.Is(err, redis.Nil) {
				cur, err = "", nil
			}
			if err != nil {
				return err
			}
			if cur != t.cartReads[userID] {
				return store.ErrConflict
			}
		}
		_, err := rtx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			for userID, raw := range payloads {
				pipe.Set(ctx, cartKey(userID), raw, t.s.cartTTL)
			}
			return nil
		})
		return err
	}, keys...)
	if errors.Is(err, redis.TxFailedErr) {
		return store.ErrConflict
	}
	return err
}

// abort undoes whatever Commit or earlier calls already wrote and returns cause.
func (t *tx) abort(ctx context.Context, inserted []models.Order, cause error) error {
	ctx = context.WithoutCancel(ctx)
	var errs []error
	for _, o := range inserted {
		if err := t.s.deleteOrder(ctx, o); err != nil {
			errs = append(errs, fmt.Errorf("delete order %s: %w", o.ID, err))
		}
	}
	if err := t.restoreStock(ctx); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w; compensation: %v", cause, errors.Join(errs...))
	}
	return cause
}

func (t *tx) restoreStock(ctx context.Context) error {
	var errs []error
	for i := len(t.applied) - 1; i >= 0; i-- {
		d := t.applied[i]
		if err := t.s.adjustStock(ctx, d.productID, d.amount); err != nil {
			errs = append(errs, fmt.Errorf("restore stock of %s: %w", d.productID, err))
		}
	}
	t.applied = nil
	return errors.Join(errs...)
}

func (t *tx) Rollback(ctx context.Context) error {
	if t.done {
		return nil
	}
	t.done = true
	return t.restoreStock(context.WithoutCancel(ctx))
}

var errTxDone = errors.New("scylla: transaction already finished")
