package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/ariefcatur/go-order-stock/internal/orders"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
)

const productColumns = `id, name, description, price::text, stock`

const referencedReason = "referenced by order items"

func scanProduct(row pgx.Row) (orders.Product, error) {
	var (
		p     orders.Product
		price string
	)
	if err := row.Scan(&p.ID, &p.Name, &p.Description, &price, &p.Stock); err != nil {
		return orders.Product{}, err
	}
	d, err := decimal.NewFromString(price)
	if err != nil {
		return orders.Product{}, fmt.Errorf("decode price %q: %w", price, err)
	}
	p.Price = d
	return p, nil
}

func (s *Store) CreateProduct(ctx context.Context, p *orders.Product) error {
	ctx, span := s.tracer.Start(ctx, "Store.CreateProduct")
	defer span.End()
	span.SetAttributes(attribute.String("name", p.Name))

	err := s.retry(ctx, "create_product", func() error {
		return s.pool.QueryRow(ctx, `
			INSERT INTO products(name, description, price, stock)
			VALUES ($1, $2, $3::numeric, $4)
			RETURNING id`, p.Name, p.Description, p.Price.String(), p.Stock).Scan(&p.ID)
	})
	if err != nil {
		span.RecordError(err)
		if pgCode(err) == codeCheckViolation {
			return orders.InvalidArgument("price and stock must not be negative")
		}
		return fmt.Errorf("create product: %w", err)
	}
	return nil
}

func (s *Store) GetProduct(ctx context.Context, id int64) (orders.Product, error) {
	ctx, span := s.tracer.Start(ctx, "Store.GetProduct")
	defer span.End()
	span.SetAttributes(attribute.Int64("id", id))

	var p orders.Product
	err := s.retry(ctx, "get_product", func() error {
		var err error
		p, err = scanProduct(s.pool.QueryRow(ctx, `SELECT `+productColumns+` FROM products WHERE id = $1`, id))
		return err
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return orders.Product{}, orders.NotFound(orders.EntityProduct, id)
		}
		span.RecordError(err)
		return orders.Product{}, fmt.Errorf("get product: %w", err)
	}
	return p, nil
}

func (s *Store) ListProducts(ctx context.Context) ([]orders.Product, error) {
	ctx, span := s.tracer.Start(ctx, "Store.ListProducts")
	defer span.End()

	var out []orders.Product
	err := s.retry(ctx, "list_products", func() error {
		rows, err := s.pool.Query(ctx, `SELECT `+productColumns+` FROM products ORDER BY id`)
		if err != nil {
			return err
		}
		defer rows.Close()

		out = make([]orders.Product, 0)
		for rows.Next() {
			p, err := scanProduct(rows)
			if err != nil {
				return err
			}
			out = append(out, p)
		}
		return rows.Err()
	})
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("list products: %w", err)
	}
	return out, nil
}

// UpdateProduct replaces every patchable field. The row stays locked between
// the reference check and the write so an order cannot sneak in.
func (s *Store) UpdateProduct(ctx context.Context, id int64, patch orders.ProductPatch) (orders.Product, error) {
	ctx, span := s.tracer.Start(ctx, "Store.UpdateProduct")
	defer span.End()
	span.SetAttributes(attribute.Int64("id", id))

	var p orders.Product
	err := s.inTx(ctx, "update_product", func(tx pgx.Tx) error {
		if err := lockUnreferenced(ctx, tx, id); err != nil {
			return err
		}
		var err error
		p, err = scanProduct(tx.QueryRow(ctx, `
			UPDATE products
			SET name = $2, description = $3, price = $4::numeric, stock = $5, updated_at = now()
			WHERE id = $1
			RETURNING `+productColumns,
			id, patch.Name, patch.Description, patch.Price.String(), patch.Stock))
		return err
	})
	if err != nil {
		if orders.IsDomain(err) {
			return orders.Product{}, err
		}
		span.RecordError(err)
		if pgCode(err) == codeCheckViolation {
			return orders.Product{}, orders.InvalidArgument("price and stock must not be negative")
		}
		return orders.Product{}, fmt.Errorf("update product: %w", err)
	}
	return p, nil
}

func (s *Store) DeleteProduct(ctx context.Context, id int64) error {
	ctx, span := s.tracer.Start(ctx, "Store.DeleteProduct")
	defer span.End()
	span.SetAttributes(attribute.Int64("id", id))

	err := s.inTx(ctx, "delete_product", func(tx pgx.Tx) error {
		if err := lockUnreferenced(ctx, tx, id); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `DELETE FROM products WHERE id = $1`, id); err != nil {
			if pgCode(err) == codeForeignKeyViolation {
				return orders.Conflict(orders.EntityProduct, id, referencedReason)
			}
			return err
		}
		return nil
	})
	if err != nil {
		if orders.IsDomain(err) {
			return err
		}
		span.RecordError(err)
		return fmt.Errorf("delete product: %w", err)
	}
	return nil
}

// lockUnreferenced locks the product row and fails with NotFound or Conflict.
func lockUnreferenced(ctx context.Context, tx pgx.Tx, id int64) error {
	var referenced bool
	err := tx.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM order_items WHERE product_id = p.id)
		FROM products p
		WHERE p.id = $1
		FOR UPDATE OF p`, id).Scan(&referenced)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return orders.NotFound(orders.EntityProduct, id)
		}
		return err
	}
	if referenced {
		return orders.Conflict(orders.EntityProduct, id, referencedReason)
	}
	return nil
}
