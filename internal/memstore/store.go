// Package memstore is an in-memory orders.Store. All operations are
// serialized by one mutex; a reservation stages its writes and applies them
// only if the unit of work succeeds.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/ariefcatur/go-order-stock/internal/orders"
)

type Store struct {
	mu sync.Mutex

	products map[int64]orders.Product
	orders   map[int64]orders.Order
	// referenced counts order items per product.
	referenced map[int64]int
	// keys maps idempotency keys to the order that claimed them.
	keys map[string]int64

	nextProductID int64
	nextOrderID   int64
	nextItemID    int64

	now  func() time.Time
	last time.Time
}

var _ orders.Store = (*Store)(nil)

func New() *Store {
	return &Store{
		products:   make(map[int64]orders.Product),
		orders:     make(map[int64]orders.Order),
		referenced: make(map[int64]int),
		keys:       make(map[string]int64),
		now:        func() time.Time { return time.Now().UTC() },
	}
}

func (s *Store) CreateProduct(_ context.Context, p *orders.Product) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextProductID++
	p.ID = s.nextProductID
	s.products[p.ID] = *p
	return nil
}

func (s *Store) GetProduct(_ context.Context, id int64) (orders.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.products[id]
	if !ok {
		return orders.Product{}, orders.NotFound(orders.EntityProduct, id)
	}
	return p, nil
}

func (s *Store) ListProducts(_ context.Context) ([]orders.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]orders.Product, 0, len(s.products))
	for _, p := range s.products {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) UpdateProduct(_ context.Context, id int64, patch orders.ProductPatch) (orders.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, err := s.unreferenced(id)
	if err != nil {
		return orders.Product{}, err
	}
	patch.Apply(&p)
	s.products[id] = p
	return p, nil
}

func (s *Store) DeleteProduct(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.unreferenced(id); err != nil {
		return err
	}
	delete(s.products, id)
	return nil
}

func (s *Store) unreferenced(id int64) (orders.Product, error) {
	p, ok := s.products[id]
	if !ok {
		return orders.Product{}, orders.NotFound(orders.EntityProduct, id)
	}
	if s.referenced[id] > 0 {
		return orders.Product{}, orders.Conflict(orders.EntityProduct, id, "referenced by order items")
	}
	return p, nil
}

func (s *Store) GetOrder(_ context.Context, id int64) (orders.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.orders[id]
	if !ok {
		return orders.Order{}, orders.NotFound(orders.EntityOrder, id)
	}
	return cloneOrder(o), nil
}

func (s *Store) GetOrderByIdempotencyKey(_ context.Context, key string) (orders.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.keys[key]
	if !ok {
		return orders.Order{}, orders.NotFound(orders.EntityOrder, 0)
	}
	return cloneOrder(s.orders[id]), nil
}

func (s *Store) ListOrders(_ context.Context) ([]orders.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]orders.Order, 0, len(s.orders))
	for _, o := range s.orders {
		out = append(out, cloneOrder(o))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) UpdateStatus(_ context.Context, id int64, to orders.Status, check orders.TransitionPolicy) (orders.Order, orders.Status, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.orders[id]
	if !ok {
		return orders.Order{}, "", orders.NotFound(orders.EntityOrder, id)
	}
	from := o.Status
	if err := check(from, to); err != nil {
		return orders.Order{}, "", err
	}
	o.Status = to
	o.StatusChangedAt = s.stamp()
	s.orders[id] = o
	return cloneOrder(o), from, nil
}

// WithinTx holds the store lock for the whole unit of work, which makes every
// reservation serializable against every other.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx orders.ReservationTx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &reservationTx{s: s, stock: make(map[int64]int)}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	tx.commit()
	return nil
}

// stamp returns a strictly increasing time. Callers hold s.mu.
func (s *Store) stamp() time.Time {
	t := s.now()
	if !t.After(s.last) {
		t = s.last.Add(time.Nanosecond)
	}
	s.last = t
	return t
}

func cloneOrder(o orders.Order) orders.Order {
	items := make([]orders.OrderItem, len(o.Items))
	copy(items, o.Items)
	o.Items = items
	return o
}
