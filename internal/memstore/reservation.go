package memstore

import (
	"context"
	"time"

	"github.com/ariefcatur/go-order-stock/internal/orders"
)

// reservationTx stages writes against a Store whose lock is already held.
// Nothing reaches the store maps until commit.
type reservationTx struct {
	s *Store

	order   *orders.Order
	key     string
	items   []orders.OrderItem
	stock   map[int64]int
	itemSeq int64
}

func (r *reservationTx) LockProducts(_ context.Context, ids []int64) (map[int64]orders.Product, error) {
	out := make(map[int64]orders.Product, len(ids))
	for _, id := range ids {
		if p, ok := r.s.products[id]; ok {
			out[id] = p
		}
	}
	return out, nil
}

func (r *reservationTx) InsertOrder(_ context.Context, status orders.Status, key string) (int64, time.Time, error) {
	if key != "" {
		if _, taken := r.s.keys[key]; taken {
			return 0, time.Time{}, orders.ErrIdempotencyKeyUsed
		}
	}
	now := r.s.stamp()
	o := orders.Order{
		ID:              r.s.nextOrderID + 1,
		CreatedAt:       now,
		Status:          status,
		StatusChangedAt: now,
	}
	r.order = &o
	r.key = key
	return o.ID, o.CreatedAt, nil
}

func (r *reservationTx) InsertItem(_ context.Context, item *orders.OrderItem) error {
	if _, ok := r.s.products[item.ProductID]; !ok {
		return orders.NotFound(orders.EntityProduct, item.ProductID)
	}
	r.itemSeq++
	item.ID = r.s.nextItemID + r.itemSeq
	r.items = append(r.items, *item)
	return nil
}

func (r *reservationTx) DecrementStock(_ context.Context, productID int64, qty int) (int, error) {
	p, ok := r.s.products[productID]
	if !ok {
		return 0, orders.NotFound(orders.EntityProduct, productID)
	}
	current, staged := r.stock[productID]
	if !staged {
		current = p.Stock
	}
	if current < qty {
		return 0, orders.InsufficientStock(productID, qty, current)
	}
	r.stock[productID] = current - qty
	return current - qty, nil
}

func (r *reservationTx) commit() {
	if r.order == nil {
		return
	}
	s := r.s
	for id, left := range r.stock {
		p := s.products[id]
		p.Stock = left
		s.products[id] = p
	}
	for _, it := range r.items {
		s.referenced[it.ProductID]++
	}

	o := *r.order
	o.Items = append([]orders.OrderItem{}, r.items...)
	s.orders[o.ID] = o
	if r.key != "" {
		s.keys[r.key] = o.ID
	}
	s.nextOrderID = o.ID
	s.nextItemID += r.itemSeq
}
