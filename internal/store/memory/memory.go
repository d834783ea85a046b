// Package memory is an in-process store with snapshot isolation.
// Transactions record the version of every row they read and buffer their
// writes; Commit fails with store.ErrConflict if any of those rows changed.
package memory

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"shop_back_end/internal/models"
	"shop_back_end/internal/store"
)

var errTxDone = errors.New("memory: transaction already finished")

type productRow struct {
	p       models.Product
	version uint64
}

type cartRow struct {
	c       models.Cart
	version uint64
}

type Store struct {
	mu       sync.Mutex
	products map[string]*productRow
	carts    map[string]*cartRow // by user id
	orders   map[string]models.Order
	users    map[string]models.User
	emails   map[string]string // email -> user id
	clock    uint64
	now      func() time.Time
}

var _ store.Store = (*Store)(nil)

func New() *Store {
	return &Store{
		products: make(map[string]*productRow),
		carts:    make(map[string]*cartRow),
		orders:   make(map[string]models.Order),
		users:    make(map[string]models.User),
		emails:   make(map[string]string),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (s *Store) Close() {}

func (s *Store) Ping(ctx context.Context) error {
	return ctx.Err()
}

// nextVersion must be called with mu held.
func (s *Store) nextVersion() uint64 {
	s.clock++
	return s.clock
}

func (s *Store) Begin(ctx context.Context) (store.Tx, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &tx{
		s:            s,
		productReads: make(map[string]uint64),
		cartReads:    make(map[string]uint64),
		decrements:   make(map[string]int),
		cartWrites:   make(map[string]models.Cart),
	}, nil
}

// --- Catalog ---

func (s *Store) ListProducts(ctx context.Context) ([]models.Product, error) {
	return s.filterProducts(func(models.Product) bool { return true }), nil
}

func (s *Store) ProductsByOwner(ctx context.Context, ownerID string) ([]models.Product, error) {
	return s.filterProducts(func(p models.Product) bool { return p.OwnerID == ownerID }), nil
}

func (s *Store) filterProducts(keep func(models.Product) bool) []models.Product {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]models.Product, 0, len(s.products))
	for _, row := range s.products {
		if keep(row.p) {
			out = append(out, row.p.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

func (s *Store) GetProduct(ctx context.Context, id string) (models.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row, ok := s.products[id]
	if !ok {
		return models.Product{}, store.ErrNotFound
	}
	return row.p.Clone(), nil
}

func (s *Store) CreateProduct(ctx context.Context, p models.Product) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.products[p.ID]; ok {
		return store.ErrAlreadyExists
	}
	s.products[p.ID] = &productRow{p: p.Clone(), version: s.nextVersion()}
	return nil
}

func (s *Store) UpdateProduct(ctx context.Context, id string, patch models.ProductPatch, updatedAt time.Time) (models.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row, ok := s.products[id]
	if !ok {
		return models.Product{}, store.ErrNotFound
	}
	p := row.p.Clone()
	patch.Apply(&p)
	p.UpdatedAt = updatedAt
	s.products[id] = &productRow{p: p, version: s.nextVersion()}
	return p.Clone(), nil
}

func (s *Store) DeleteProduct(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.products[id]; !ok {
		return store.ErrNotFound
	}
	delete(s.products, id)
	return nil
}

// --- Orders ---

func (s *Store) OrderByID(ctx context.Context, id string) (models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.orders[id]
	if !ok {
		return models.Order{}, store.ErrNotFound
	}
	return o.Clone(), nil
}

func (s *Store) OrdersByUser(ctx context.Context, userID string) ([]models.Order, error) {
	return s.filterOrders(func(o models.Order) bool { return o.UserID == userID }), nil
}

func (s *Store) OrdersWithProducts(ctx context.Context, productIDs []string) ([]models.Order, error) {
	ids := make(map[string]struct{}, len(productIDs))
	for _, id := range productIDs {
		ids[id] = struct{}{}
	}
	return s.filterOrders(func(o models.Order) bool { return o.Contains(ids) }), nil
}

func (s *Store) filterOrders(keep func(models.Order) bool) []models.Order {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]models.Order, 0)
	for _, o := range s.orders {
		if keep(o) {
			out = append(out, o.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

func (s *Store) UpdateOrderStatus(ctx context.Context, id string, from, next models.OrderStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.orders[id]
	if !ok {
		return store.ErrNotFound
	}
	if o.Status != from {
		return store.ErrConflict
	}
	o.Status = next
	o.UpdatedAt = s.now()
	s.orders[id] = o
	return nil
}

// --- Unit of work ---

type tx struct {
	s *Store

	// Versions observed by this transaction. Zero means the row was absent.
	productReads map[string]uint64
	cartReads    map[string]uint64

	decrements map[string]int
	decOrder   []string
	cartWrites map[string]models.Cart
	orders     []models.Order
	done       bool
}

func (t *tx) ProductByID(ctx context.Context, id string) (models.Product, error) {
	if err := t.usable(ctx); err != nil {
		return models.Product{}, err
	}

	t.s.mu.Lock()
	row, ok := t.s.products[id]
	t.observeProduct(id, row)
	var p models.Product
	if ok {
		p = row.p.Clone()
	}
	t.s.mu.Unlock()

	if !ok {
		return models.Product{}, store.ErrNotFound
	}
	p.Stock -= t.decrements[id]
	return p, nil
}

// observeProduct keeps the first version seen. Must be called with mu held.
func (t *tx) observeProduct(id string, row *productRow) {
	if _, seen := t.productReads[id]; seen {
		return
	}
	if row == nil {
		t.productReads[id] = 0
		return
	}
	t.productReads[id] = row.version
}

func (t *tx) DecrementStock(ctx context.Context, id string, amount int) error {
	p, err := t.ProductByID(ctx, id)
	if err != nil {
		return err
	}
	if amount <= 0 {
		return nil
	}
	if p.Stock < amount {
		return store.ErrInsufficientStock
	}
	if _, ok := t.decrements[id]; !ok {
		t.decOrder = append(t.decOrder, id)
	}
	t.decrements[id] += amount
	return nil
}

func (t *tx) CartByUser(ctx context.Context, userID string) (models.Cart, error) {
	if err := t.usable(ctx); err != nil {
		return models.Cart{}, err
	}
	if c, ok := t.cartWrites[userID]; ok {
		return cloneCart(c), nil
	}

	t.s.mu.Lock()
	row, ok := t.s.carts[userID]
	t.observeCart(userID, row)
	var c models.Cart
	if ok {
		c = cloneCart(row.c)
	}
	t.s.mu.Unlock()

	if !ok {
		return models.Cart{}, store.ErrNotFound
	}
	return c, nil
}

// observeCart must be called with mu held.
func (t *tx) observeCart(userID string, row *cartRow) {
	if _, seen := t.cartReads[userID]; seen {
		return
	}
	if row == nil {
		t.cartReads[userID] = 0
		return
	}
	t.cartReads[userID] = row.version
}

func (t *tx) CreateCart(ctx context.Context, userID string) (models.Cart, error) {
	_, err := t.CartByUser(ctx, userID)
	switch {
	case err == nil:
		return models.Cart{}, store.ErrAlreadyExists
	case !errors.Is(err, store.ErrNotFound):
		return models.Cart{}, err
	}

	c := models.Cart{
		ID:        uuid.NewString(),
		UserID:    userID,
		Items:     []models.CartItem{},
		UpdatedAt: t.s.now(),
	}
	t.cartWrites[userID] = c
	return cloneCart(c), nil
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
	if err := t.usable(ctx); err != nil {
		return err
	}
	t.orders = append(t.orders, o.Clone())
	return nil
}

func (t *tx) Commit(ctx context.Context) error {
	if err := t.usable(ctx); err != nil {
		return err
	}
	t.done = true

	s := t.s
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, seen := range t.productReads {
		if productVersion(s.products[id]) != seen {
			return store.ErrConflict
		}
	}
	for userID, seen := range t.cartReads {
		if cartVersion(s.carts[userID]) != seen {
			return store.ErrConflict
		}
	}
	for _, o := range t.orders {
		if _, exists := s.orders[o.ID]; exists {
			return store.ErrAlreadyExists
		}
	}
	// Versions are unchanged, so every buffered decrement was checked against
	// the stock that is still current.
	for _, id := range t.decOrder {
		row := s.products[id]
		if row.p.Stock < t.decrements[id] {
			return store.ErrInsufficientStock
		}
	}

	for _, id := range t.decOrder {
		row := s.products[id]
		p := row.p.Clone()
		p.Stock -= t.decrements[id]
		s.products[id] = &productRow{p: p, version: s.nextVersion()}
	}
	for userID, c := range t.cartWrites {
		s.carts[userID] = &cartRow{c: cloneCart(c), version: s.nextVersion()}
	}
	for _, o := range t.orders {
		s.orders[o.ID] = o
	}
	return nil
}

func (t *tx) Rollback(ctx context.Context) error {
	t.done = true
	return nil
}

func (t *tx) usable(ctx context.Context) error {
	if t.done {
		return errTxDone
	}
	return ctx.Err()
}

func productVersion(row *productRow) uint64 {
	if row == nil {
		return 0
	}
	return row.version
}

func cartVersion(row *cartRow) uint64 {
	if row == nil {
		return 0
	}
	return row.version
}

func cloneCart(c models.Cart) models.Cart {
	c.Items = models.StoredItems(c.Items)
	return c
}

// --- users ---

func (s *Store) ListUsers(ctx context.Context) ([]models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]models.User, 0, len(s.users))
	for _, u := range s.users {
		out = append(out, u.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) GetUser(ctx context.Context, id string) (models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[id]
	if !ok {
		return models.User{}, store.ErrNotFound
	}
	return u.Clone(), nil
}

func (s *Store) CreateUser(ctx context.Context, u models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[u.ID]; ok {
		return store.ErrAlreadyExists
	}
	if _, ok := s.emails[u.Email]; ok {
		return store.ErrAlreadyExists
	}
	s.users[u.ID] = u.Clone()
	s.emails[u.Email] = u.ID
	return nil
}

func (s *Store) UpdateUser(ctx context.Context, u models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.users[u.ID]
	if !ok {
		return store.ErrNotFound
	}
	if owner, taken := s.emails[u.Email]; taken && owner != u.ID {
		return store.ErrAlreadyExists
	}
	delete(s.emails, cur.Email)
	s.emails[u.Email] = u.ID
	u = u.Clone()
	u.PasswordHash = cur.PasswordHash
	s.users[u.ID] = u
	return nil
}

func (s *Store) DeleteUser(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[id]
	if !ok {
		return store.ErrNotFound
	}
	delete(s.users, id)
	delete(s.emails, u.Email)
	return nil
}
