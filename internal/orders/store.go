package orders

import (
	"context"
	"time"
)

type ProductStore interface {
	CreateProduct(ctx context.Context, p *Product) error
	GetProduct(ctx context.Context, id int64) (Product, error)
	ListProducts(ctx context.Context) ([]Product, error)
	// UpdateProduct and DeleteProduct fail with Conflict once any order item
	// references the product.
	UpdateProduct(ctx context.Context, id int64, patch ProductPatch) (Product, error)
	DeleteProduct(ctx context.Context, id int64) error
}

type OrderRepository interface {
	GetOrder(ctx context.Context, id int64) (Order, error)
	// GetOrderByIdempotencyKey returns the order created under key, or NotFound.
	GetOrderByIdempotencyKey(ctx context.Context, key string) (Order, error)
	// ListOrders loads every order with its items without a query per order.
	ListOrders(ctx context.Context) ([]Order, error)
	// UpdateStatus locks the order, runs check against its current status and
	// writes to only if check passes. StatusChangedAt of the result is taken
	// while the lock is held.
	UpdateStatus(ctx context.Context, id int64, to Status, check TransitionPolicy) (order Order, from Status, err error)
}

// ReservationTx is the write side of one order-creation unit of work.
// Nothing done through it is visible to others until the surrounding
// WithinTx returns nil.
type ReservationTx interface {
	// LockProducts locks the given rows for the rest of the transaction and
	// returns the ones that exist. Missing ids are simply absent from the map.
	LockProducts(ctx context.Context, ids []int64) (map[int64]Product, error)
	// InsertOrder fails with ErrIdempotencyKeyUsed if a non-empty key already
	// belongs to another order.
	InsertOrder(ctx context.Context, status Status, idempotencyKey string) (id int64, createdAt time.Time, err error)
	InsertItem(ctx context.Context, item *OrderItem) error
	// DecrementStock subtracts qty only if enough stock remains and returns
	// the new stock level.
	DecrementStock(ctx context.Context, productID int64, qty int) (int, error)
}

type Transactor interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx ReservationTx) error) error
}

// Store is everything the service needs from persistence.
type Store interface {
	ProductStore
	OrderRepository
	Transactor
}

// Cache is an optional read-through cache in front of the store. Misses are
// reported as ok=false; implementations swallow their own failures.
// Set* overwrite and are used after a write commits; Fill* only populate an
// absent entry and are used by reads.
type Cache interface {
	GetOrder(ctx context.Context, id int64) (Order, bool)
	SetOrder(ctx context.Context, o Order)
	FillOrder(ctx context.Context, o Order)
	GetProduct(ctx context.Context, id int64) (Product, bool)
	SetProduct(ctx context.Context, p Product)
	FillProduct(ctx context.Context, p Product)
	InvalidateProduct(ctx context.Context, id int64)
	GetStatus(ctx context.Context, orderID int64) (Status, bool)
	// SetStatus keeps whichever of the cached entry and (s, at) is newer.
	SetStatus(ctx context.Context, orderID int64, s Status, at time.Time)
}

type EventPublisher interface {
	Publish(ctx context.Context, ev Envelope)
}

// Recorder receives reservation and lifecycle outcomes for metrics.
type Recorder interface {
	OrderCreated(items int, units int)
	OrderRejected(kind Kind)
	StatusChanged(from, to Status)
}
