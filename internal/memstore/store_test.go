package memstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ariefcatur/go-order-stock/internal/orders"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seed(t *testing.T, s *Store, stock int) orders.Product {
	t.Helper()
	p := orders.Product{Name: "Teh", Price: decimal.NewFromInt(5), Stock: stock}
	require.NoError(t, s.CreateProduct(context.Background(), &p))
	return p
}

func TestWithinTx_FailureDiscardsStagedWrites(t *testing.T) {
	s := New()
	ctx := context.Background()
	p := seed(t, s, 4)

	boom := errors.New("boom")
	err := s.WithinTx(ctx, func(ctx context.Context, tx orders.ReservationTx) error {
		id, _, err := tx.InsertOrder(ctx, orders.StatusInProcess, "")
		require.NoError(t, err)
		require.NoError(t, tx.InsertItem(ctx, &orders.OrderItem{OrderID: id, ProductID: p.ID, Quantity: 3}))
		left, err := tx.DecrementStock(ctx, p.ID, 3)
		require.NoError(t, err)
		assert.Equal(t, 1, left)
		return boom
	})
	assert.ErrorIs(t, err, boom)

	got, err := s.GetProduct(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 4, got.Stock)
	list, err := s.ListOrders(ctx)
	require.NoError(t, err)
	assert.Empty(t, list)

	// an unreferenced product can still be deleted
	require.NoError(t, s.DeleteProduct(ctx, p.ID))
}

func TestWithinTx_CommitAssignsSequentialIDs(t *testing.T) {
	s := New()
	ctx := context.Background()
	p := seed(t, s, 10)

	for i := 0; i < 2; i++ {
		err := s.WithinTx(ctx, func(ctx context.Context, tx orders.ReservationTx) error {
			id, _, err := tx.InsertOrder(ctx, orders.StatusInProcess, "")
			if err != nil {
				return err
			}
			for j := 0; j < 2; j++ {
				if err := tx.InsertItem(ctx, &orders.OrderItem{OrderID: id, ProductID: p.ID, Quantity: 1}); err != nil {
					return err
				}
				if _, err := tx.DecrementStock(ctx, p.ID, 1); err != nil {
					return err
				}
			}
			return nil
		})
		require.NoError(t, err)
	}

	list, err := s.ListOrders(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, int64(1), list[0].ID)
	assert.Equal(t, int64(2), list[1].ID)
	assert.Equal(t, []int64{1, 2}, []int64{list[0].Items[0].ID, list[0].Items[1].ID})
	assert.Equal(t, []int64{3, 4}, []int64{list[1].Items[0].ID, list[1].Items[1].ID})

	got, err := s.GetProduct(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 6, got.Stock)
	assert.ErrorIs(t, s.DeleteProduct(ctx, p.ID), orders.ErrConflict)
}

func TestWithinTx_DecrementNeverGoesNegative(t *testing.T) {
	s := New()
	ctx := context.Background()
	p := seed(t, s, 2)

	err := s.WithinTx(ctx, func(ctx context.Context, tx orders.ReservationTx) error {
		_, err := tx.DecrementStock(ctx, p.ID, 3)
		return err
	})
	var de *orders.Error
	require.ErrorAs(t, err, &de)
	assert.Equal(t, orders.KindInsufficientStock, de.Kind)
	assert.Equal(t, 2, de.Available)
}

func TestWithinTx_CancelledContext(t *testing.T) {
	s := New()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	err := s.WithinTx(ctx, func(context.Context, orders.ReservationTx) error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, called)
}

func TestGetOrder_ReturnsCopy(t *testing.T) {
	s := New()
	ctx := context.Background()
	p := seed(t, s, 1)
	require.NoError(t, s.WithinTx(ctx, func(ctx context.Context, tx orders.ReservationTx) error {
		id, _, _ := tx.InsertOrder(ctx, orders.StatusSent, "")
		return tx.InsertItem(ctx, &orders.OrderItem{OrderID: id, ProductID: p.ID, Quantity: 1})
	}))

	o, err := s.GetOrder(ctx, 1)
	require.NoError(t, err)
	o.Items[0].Quantity = 99

	again, err := s.GetOrder(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, again.Items[0].Quantity)

	_, err = s.GetOrder(ctx, 2)
	assert.ErrorIs(t, err, orders.ErrNotFound)
}

func TestWithinTx_IdempotencyKeyClaimedOnCommit(t *testing.T) {
	s := New()
	ctx := context.Background()
	p := seed(t, s, 5)

	insert := func(key string, fail bool) error {
		return s.WithinTx(ctx, func(ctx context.Context, tx orders.ReservationTx) error {
			id, _, err := tx.InsertOrder(ctx, orders.StatusInProcess, key)
			if err != nil {
				return err
			}
			if err := tx.InsertItem(ctx, &orders.OrderItem{OrderID: id, ProductID: p.ID, Quantity: 1}); err != nil {
				return err
			}
			if fail {
				return errors.New("abort")
			}
			return nil
		})
	}

	// a rolled back unit of work does not keep the key
	require.Error(t, insert("k1", true))
	_, err := s.GetOrderByIdempotencyKey(ctx, "k1")
	assert.ErrorIs(t, err, orders.ErrNotFound)

	require.NoError(t, insert("k1", false))
	assert.ErrorIs(t, insert("k1", false), orders.ErrIdempotencyKeyUsed)

	o, err := s.GetOrderByIdempotencyKey(ctx, "k1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), o.ID)

	// empty keys never collide
	require.NoError(t, insert("", false))
	require.NoError(t, insert("", false))
	list, err := s.ListOrders(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 3)
}

func TestUpdateStatus_StampsStrictlyIncreasingTimes(t *testing.T) {
	s := New()
	ctx := context.Background()
	p := seed(t, s, 1)
	fixed := s.now()
	s.now = func() time.Time { return fixed }

	require.NoError(t, s.WithinTx(ctx, func(ctx context.Context, tx orders.ReservationTx) error {
		id, _, _ := tx.InsertOrder(ctx, orders.StatusInProcess, "")
		return tx.InsertItem(ctx, &orders.OrderItem{OrderID: id, ProductID: p.ID, Quantity: 1})
	}))
	created, err := s.GetOrder(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, created.CreatedAt, created.StatusChangedAt)

	sent, _, err := s.UpdateStatus(ctx, 1, orders.StatusSent, orders.ForwardOnly)
	require.NoError(t, err)
	delivered, _, err := s.UpdateStatus(ctx, 1, orders.StatusDelivered, orders.ForwardOnly)
	require.NoError(t, err)

	assert.True(t, sent.StatusChangedAt.After(created.StatusChangedAt))
	assert.True(t, delivered.StatusChangedAt.After(sent.StatusChangedAt))
}
