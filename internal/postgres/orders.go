package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ariefcatur/go-order-stock/internal/orders"
	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel/attribute"
)

const (
	orderColumns             = "id, status::text, created_at, status_changed_at"
	constraintIdempotencyKey = "orders_idempotency_key_key"
)

// querier is the subset of pgxpool.Pool and pgx.Tx used by the read helpers.
type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func (s *Store) GetOrder(ctx context.Context, id int64) (orders.Order, error) {
	ctx, span := s.tracer.Start(ctx, "Store.GetOrder")
	defer span.End()
	span.SetAttributes(attribute.Int64("order_id", id))

	var o orders.Order
	err := s.retry(ctx, "get_order", func() error {
		var err error
		o, err = loadOrder(ctx, s.pool, id, false)
		return err
	})
	if err != nil {
		if orders.IsDomain(err) {
			return orders.Order{}, err
		}
		span.RecordError(err)
		return orders.Order{}, fmt.Errorf("get order: %w", err)
	}
	return o, nil
}

func (s *Store) GetOrderByIdempotencyKey(ctx context.Context, key string) (orders.Order, error) {
	ctx, span := s.tracer.Start(ctx, "Store.GetOrderByIdempotencyKey")
	defer span.End()

	var o orders.Order
	err := s.retry(ctx, "get_order_by_key", func() error {
		var id int64
		err := s.pool.QueryRow(ctx, `SELECT id FROM orders WHERE idempotency_key = $1`, key).Scan(&id)
		if errors.Is(err, pgx.ErrNoRows) {
			return orders.NotFound(orders.EntityOrder, 0)
		}
		if err != nil {
			return err
		}
		o, err = loadOrder(ctx, s.pool, id, false)
		return err
	})
	if err != nil {
		if orders.IsDomain(err) {
			return orders.Order{}, err
		}
		span.RecordError(err)
		return orders.Order{}, fmt.Errorf("get order by idempotency key: %w", err)
	}
	return o, nil
}

// ListOrders loads orders and their items in two queries.
func (s *Store) ListOrders(ctx context.Context) ([]orders.Order, error) {
	ctx, span := s.tracer.Start(ctx, "Store.ListOrders")
	defer span.End()

	var out []orders.Order
	err := s.retry(ctx, "list_orders", func() error {
		rows, err := s.pool.Query(ctx, `SELECT `+orderColumns+` FROM orders ORDER BY id`)
		if err != nil {
			return err
		}
		list, err := pgx.CollectRows(rows, scanOrder)
		if err != nil {
			return err
		}
		if len(list) == 0 {
			out = []orders.Order{}
			return nil
		}

		ids := make([]int64, len(list))
		index := make(map[int64]int, len(list))
		for i, o := range list {
			ids[i] = o.ID
			index[o.ID] = i
			list[i].Items = []orders.OrderItem{}
		}

		items, err := loadItems(ctx, s.pool, ids)
		if err != nil {
			return err
		}
		for _, it := range items {
			i := index[it.OrderID]
			list[i].Items = append(list[i].Items, it)
		}
		out = list
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("list orders: %w", err)
	}
	span.SetAttributes(attribute.Int("count", len(out)))
	return out, nil
}

// UpdateStatus holds the order row lock across the policy check and the write,
// so two concurrent transitions are serialized.
func (s *Store) UpdateStatus(ctx context.Context, id int64, to orders.Status, check orders.TransitionPolicy) (orders.Order, orders.Status, error) {
	ctx, span := s.tracer.Start(ctx, "Store.UpdateStatus")
	defer span.End()
	span.SetAttributes(attribute.Int64("order_id", id), attribute.String("to", string(to)))

	var (
		order orders.Order
		from  orders.Status
	)
	err := s.inTx(ctx, "update_status", func(tx pgx.Tx) error {
		current, err := loadOrder(ctx, tx, id, true)
		if err != nil {
			return err
		}
		from = current.Status
		if err := check(from, to); err != nil {
			return err
		}
		// clock_timestamp, not now(): the stamp must come after the lock was taken
		var changedAt time.Time
		err = tx.QueryRow(ctx, `
			UPDATE orders SET status = $2::order_status, status_changed_at = clock_timestamp()
			WHERE id = $1
			RETURNING status_changed_at`, id, string(to)).Scan(&changedAt)
		if err != nil {
			return err
		}
		current.Status = to
		current.StatusChangedAt = changedAt.UTC()
		order = current
		return nil
	})
	if err != nil {
		if orders.IsDomain(err) {
			return orders.Order{}, "", err
		}
		span.RecordError(err)
		return orders.Order{}, "", fmt.Errorf("update status: %w", err)
	}
	return order, from, nil
}

func loadOrder(ctx context.Context, q querier, id int64, forUpdate bool) (orders.Order, error) {
	sql := `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`
	if forUpdate {
		sql += ` FOR UPDATE`
	}
	rows, err := q.Query(ctx, sql, id)
	if err != nil {
		return orders.Order{}, err
	}
	o, err := pgx.CollectExactlyOneRow(rows, scanOrder)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return orders.Order{}, orders.NotFound(orders.EntityOrder, id)
		}
		return orders.Order{}, err
	}

	items, err := loadItems(ctx, q, []int64{id})
	if err != nil {
		return orders.Order{}, err
	}
	if items == nil {
		items = []orders.OrderItem{}
	}
	o.Items = items
	return o, nil
}

func loadItems(ctx context.Context, q querier, orderIDs []int64) ([]orders.OrderItem, error) {
	rows, err := q.Query(ctx, `
		SELECT id, order_id, product_id, quantity
		FROM order_items
		WHERE order_id = ANY($1)
		ORDER BY order_id, id`, orderIDs)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (orders.OrderItem, error) {
		var it orders.OrderItem
		err := row.Scan(&it.ID, &it.OrderID, &it.ProductID, &it.Quantity)
		return it, err
	})
}

func scanOrder(row pgx.CollectableRow) (orders.Order, error) {
	var (
		o         orders.Order
		status    string
		createdAt time.Time
		changedAt time.Time
	)
	if err := row.Scan(&o.ID, &status, &createdAt, &changedAt); err != nil {
		return orders.Order{}, err
	}
	o.Status = orders.Status(status)
	o.CreatedAt = createdAt.UTC()
	o.StatusChangedAt = changedAt.UTC()
	return o, nil
}
