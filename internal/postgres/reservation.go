package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ariefcatur/go-order-stock/internal/orders"
	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel/codes"
)

// WithinTx runs one order-creation unit of work. If fn fails at any item the
// transaction is rolled back, so no order, item or stock change survives.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx orders.ReservationTx) error) error {
	ctx, span := s.tracer.Start(ctx, "Store.WithinTx")
	defer span.End()

	err := s.inTx(ctx, "reserve", func(tx pgx.Tx) error {
		return fn(ctx, &reservationTx{tx: tx})
	})
	if err != nil && !orders.IsDomain(err) && !errors.Is(err, orders.ErrIdempotencyKeyUsed) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

type reservationTx struct {
	tx pgx.Tx
}

// LockProducts: lock stok per product (FOR UPDATE), urut id supaya dua order
// yang overlap tidak saling deadlock.
func (r *reservationTx) LockProducts(ctx context.Context, ids []int64) (map[int64]orders.Product, error) {
	rows, err := r.tx.Query(ctx, `
		SELECT id, name, description, price::text, stock
		FROM products
		WHERE id = ANY($1)
		ORDER BY id
		FOR UPDATE`, ids)
	if err != nil {
		return nil, fmt.Errorf("lock products: %w", err)
	}
	defer rows.Close()

	out := make(map[int64]orders.Product, len(ids))
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		out[p.ID] = p
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("lock products: %w", err)
	}
	return out, nil
}

// InsertOrder claims key through the unique constraint. A concurrent claim
// blocks on the index until the other transaction ends, then fails here.
func (r *reservationTx) InsertOrder(ctx context.Context, status orders.Status, key string) (int64, time.Time, error) {
	var (
		id        int64
		createdAt time.Time
	)
	err := r.tx.QueryRow(ctx, `
		INSERT INTO orders(status, idempotency_key, created_at, status_changed_at)
		VALUES ($1::order_status, NULLIF($2, ''), now(), now())
		RETURNING id, created_at`, string(status), key).Scan(&id, &createdAt)
	if err != nil {
		if pgCode(err) == codeUniqueViolation && pgConstraint(err) == constraintIdempotencyKey {
			return 0, time.Time{}, orders.ErrIdempotencyKeyUsed
		}
		return 0, time.Time{}, fmt.Errorf("insert order: %w", err)
	}
	return id, createdAt.UTC(), nil
}

func (r *reservationTx) InsertItem(ctx context.Context, item *orders.OrderItem) error {
	err := r.tx.QueryRow(ctx, `
		INSERT INTO order_items(order_id, product_id, quantity)
		VALUES ($1, $2, $3)
		RETURNING id`, item.OrderID, item.ProductID, item.Quantity).Scan(&item.ID)
	if err != nil {
		if pgCode(err) == codeForeignKeyViolation {
			return orders.NotFound(orders.EntityProduct, item.ProductID)
		}
		return fmt.Errorf("insert order item: %w", err)
	}
	return nil
}

// DecrementStock is conditional; with the row already locked the guard only
// trips if a caller skipped LockProducts.
func (r *reservationTx) DecrementStock(ctx context.Context, productID int64, qty int) (int, error) {
	var left int
	err := r.tx.QueryRow(ctx, `
		UPDATE products SET stock = stock - $2, updated_at = now()
		WHERE id = $1 AND stock >= $2
		RETURNING stock`, productID, qty).Scan(&left)
	if err == nil {
		return left, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return 0, fmt.Errorf("decrement stock: %w", err)
	}

	var stock int
	if err := r.tx.QueryRow(ctx, `SELECT stock FROM products WHERE id = $1`, productID).Scan(&stock); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, orders.NotFound(orders.EntityProduct, productID)
		}
		return 0, fmt.Errorf("read stock: %w", err)
	}
	return 0, orders.InsufficientStock(productID, qty, stock)
}
