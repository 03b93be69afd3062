package orders

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ariefcatur/go-order-stock/internal/logger"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Service is the order-placement core: stock reservation, status lifecycle
// and the read paths. Cache, Publisher and Recorder are optional.
type Service struct {
	Store       Store
	Cache       Cache
	Publisher   EventPublisher
	Recorder    Recorder
	Logger      *zap.Logger
	ServiceName string
	// AllowStatusCorrections lets SetStatus move an order to any known status.
	AllowStatusCorrections bool
}

// CreateOrder reserves stock for every item and persists the order with its
// items as one unit. On any failure nothing is reserved and no order exists.
func (s *Service) CreateOrder(ctx context.Context, status string, items []ItemInput) (Order, error) {
	o, _, err := s.CreateOrderWithKey(ctx, "", status, items)
	return o, err
}

// CreateOrderWithKey is CreateOrder bound to a client idempotency key. The key
// is claimed inside the reservation transaction, so of any number of
// concurrent calls with one key exactly one reserves stock; the others get
// that order back with replayed=true. An empty key disables the check.
func (s *Service) CreateOrderWithKey(ctx context.Context, key, status string, items []ItemInput) (order Order, replayed bool, err error) {
	st, err := ParseStatus(status)
	if err != nil {
		s.recorder().OrderRejected(KindOf(err))
		return Order{}, false, err
	}
	if err := validateItems(items); err != nil {
		s.recorder().OrderRejected(KindOf(err))
		return Order{}, false, err
	}

	if key != "" {
		o, err := s.Store.GetOrderByIdempotencyKey(ctx, key)
		if err == nil {
			return o, true, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return Order{}, false, err
		}
	}

	err = s.Store.WithinTx(ctx, func(ctx context.Context, tx ReservationTx) error {
		o, err := reserve(ctx, tx, st, key, items)
		if err != nil {
			return err
		}
		order = o
		return nil
	})
	if errors.Is(err, ErrIdempotencyKeyUsed) {
		o, err := s.Store.GetOrderByIdempotencyKey(ctx, key)
		if err != nil {
			return Order{}, false, err
		}
		logger.Info(ctx, s.log(), "idempotent replay", zap.Int64("order_id", o.ID))
		return o, true, nil
	}
	if err != nil {
		s.recorder().OrderRejected(KindOf(err))
		if IsDomain(err) {
			logger.Warn(ctx, s.log(), "order rejected", zap.Error(err))
		} else {
			logger.Error(ctx, s.log(), "create order failed", zap.Error(err))
		}
		return Order{}, false, err
	}

	units := 0
	for _, it := range order.Items {
		units += it.Quantity
	}
	s.recorder().OrderCreated(len(order.Items), units)

	c := s.cache()
	c.SetOrder(ctx, order)
	c.SetStatus(ctx, order.ID, order.Status, order.StatusChangedAt)
	for _, id := range DistinctProductIDs(items) {
		c.InvalidateProduct(ctx, id)
	}

	s.publish(ctx, EventOrderCreated, order.ID, order.CreatedAt, NewOrderCreatedPayload(order))
	logger.Info(ctx, s.log(), "order created",
		zap.Int64("order_id", order.ID),
		zap.Int("items", len(order.Items)),
		zap.Int("units", units),
	)
	return order, false, nil
}

// reserve runs inside the unit of work. Items are checked in caller order so
// the reported failure is the first offending item.
func reserve(ctx context.Context, tx ReservationTx, status Status, key string, items []ItemInput) (Order, error) {
	products, err := tx.LockProducts(ctx, DistinctProductIDs(items))
	if err != nil {
		return Order{}, err
	}

	id, createdAt, err := tx.InsertOrder(ctx, status, key)
	if err != nil {
		return Order{}, err
	}
	order := Order{
		ID:              id,
		CreatedAt:       createdAt,
		Status:          status,
		StatusChangedAt: createdAt,
		Items:           make([]OrderItem, 0, len(items)),
	}

	available := make(map[int64]int, len(products))
	for pid, p := range products {
		available[pid] = p.Stock
	}

	for _, it := range items {
		stock, ok := available[it.ProductID]
		if !ok {
			return Order{}, NotFound(EntityProduct, it.ProductID)
		}
		if stock < it.Quantity {
			return Order{}, InsufficientStock(it.ProductID, it.Quantity, stock)
		}

		item := OrderItem{OrderID: id, ProductID: it.ProductID, Quantity: it.Quantity}
		if err := tx.InsertItem(ctx, &item); err != nil {
			return Order{}, err
		}
		left, err := tx.DecrementStock(ctx, it.ProductID, it.Quantity)
		if err != nil {
			return Order{}, err
		}
		available[it.ProductID] = left
		order.Items = append(order.Items, item)
	}
	return order, nil
}

func validateItems(items []ItemInput) error {
	if len(items) == 0 {
		return InvalidArgument("order must contain at least one item")
	}
	for i, it := range items {
		if it.ProductID <= 0 {
			return InvalidArgument(fmt.Sprintf("items[%d]: invalid product_id %d", i, it.ProductID))
		}
		if it.Quantity <= 0 {
			return InvalidArgument(fmt.Sprintf("items[%d]: quantity must be positive", i))
		}
	}
	return nil
}

// SetStatus moves an order along its lifecycle.
func (s *Service) SetStatus(ctx context.Context, orderID int64, status string) (Order, error) {
	if strings.TrimSpace(status) == "" {
		return Order{}, InvalidArgument("status is required")
	}
	to, err := ParseStatus(status)
	if err != nil {
		return Order{}, err
	}

	order, from, err := s.Store.UpdateStatus(ctx, orderID, to, s.policy())
	if err != nil {
		if IsDomain(err) {
			logger.Warn(ctx, s.log(), "status change rejected", zap.Int64("order_id", orderID), zap.Error(err))
		}
		return Order{}, err
	}

	c := s.cache()
	c.SetOrder(ctx, order)
	c.SetStatus(ctx, orderID, order.Status, order.StatusChangedAt)
	s.recorder().StatusChanged(from, order.Status)

	s.publish(ctx, EventOrderStatusChanged, orderID, order.StatusChangedAt,
		OrderStatusChangedPayload{OrderID: orderID, From: from, To: order.Status})
	logger.Info(ctx, s.log(), "order status changed",
		zap.Int64("order_id", orderID),
		zap.String("from", string(from)),
		zap.String("to", string(order.Status)),
	)
	return order, nil
}

func (s *Service) policy() TransitionPolicy {
	if s.AllowStatusCorrections {
		return AllowCorrections
	}
	return ForwardOnly
}

// ---- read paths ----

func (s *Service) GetOrder(ctx context.Context, id int64) (Order, error) {
	if o, ok := s.cache().GetOrder(ctx, id); ok {
		return o, nil
	}
	o, err := s.Store.GetOrder(ctx, id)
	if err != nil {
		return Order{}, err
	}
	s.cache().FillOrder(ctx, o)
	return o, nil
}

func (s *Service) ListOrders(ctx context.Context) ([]Order, error) {
	return s.Store.ListOrders(ctx)
}

// GetOrderStatus answers from the status cache when possible.
func (s *Service) GetOrderStatus(ctx context.Context, id int64) (Status, error) {
	if st, ok := s.cache().GetStatus(ctx, id); ok {
		return st, nil
	}
	o, err := s.GetOrder(ctx, id)
	if err != nil {
		return "", err
	}
	s.cache().SetStatus(ctx, id, o.Status, o.StatusChangedAt)
	return o.Status, nil
}

func (s *Service) GetProduct(ctx context.Context, id int64) (Product, error) {
	if p, ok := s.cache().GetProduct(ctx, id); ok {
		return p, nil
	}
	p, err := s.Store.GetProduct(ctx, id)
	if err != nil {
		return Product{}, err
	}
	s.cache().FillProduct(ctx, p)
	return p, nil
}

func (s *Service) ListProducts(ctx context.Context) ([]Product, error) {
	return s.Store.ListProducts(ctx)
}

// ---- catalog writes ----

func (s *Service) CreateProduct(ctx context.Context, in ProductPatch) (Product, error) {
	if err := validateProduct(in); err != nil {
		return Product{}, err
	}
	p := Product{}
	in.Apply(&p)
	if err := s.Store.CreateProduct(ctx, &p); err != nil {
		return Product{}, err
	}
	logger.Info(ctx, s.log(), "product created", zap.Int64("product_id", p.ID), zap.Int("stock", p.Stock))
	return p, nil
}

func (s *Service) UpdateProduct(ctx context.Context, id int64, in ProductPatch) (Product, error) {
	if err := validateProduct(in); err != nil {
		return Product{}, err
	}
	p, err := s.Store.UpdateProduct(ctx, id, in)
	if err != nil {
		return Product{}, err
	}
	s.cache().SetProduct(ctx, p)
	return p, nil
}

func (s *Service) DeleteProduct(ctx context.Context, id int64) error {
	if err := s.Store.DeleteProduct(ctx, id); err != nil {
		return err
	}
	s.cache().InvalidateProduct(ctx, id)
	logger.Info(ctx, s.log(), "product deleted", zap.Int64("product_id", id))
	return nil
}

func validateProduct(p ProductPatch) error {
	if strings.TrimSpace(p.Name) == "" {
		return InvalidArgument("name is required")
	}
	if p.Price.LessThan(decimal.Zero) {
		return InvalidArgument("price must not be negative")
	}
	if p.Stock < 0 {
		return InvalidArgument("stock must not be negative")
	}
	return nil
}

// ---- events ----

// publish stamps the event with the store's time for the change, so consumers
// order it against direct cache writes on the same clock.
func (s *Service) publish(ctx context.Context, eventType string, orderID int64, at time.Time, payload any) {
	if s.Publisher == nil {
		return
	}
	b, err := json.Marshal(payload)
	if err != nil {
		logger.Error(ctx, s.log(), "encode event payload", zap.String("event_type", eventType), zap.Error(err))
		return
	}
	s.Publisher.Publish(ctx, Envelope{
		EventID:       uuid.NewString(),
		EventType:     eventType,
		EventVersion:  1,
		OccurredAt:    at.UTC(),
		Producer:      s.ServiceName,
		TraceID:       logger.TraceID(ctx),
		CorrelationID: strconv.FormatInt(orderID, 10),
		Payload:       b,
	})
}

func (s *Service) cache() Cache {
	if s.Cache == nil {
		return noopCache{}
	}
	return s.Cache
}

func (s *Service) recorder() Recorder {
	if s.Recorder == nil {
		return noopRecorder{}
	}
	return s.Recorder
}

func (s *Service) log() *zap.Logger {
	if s.Logger == nil {
		return zap.NewNop()
	}
	return s.Logger
}

type noopCache struct{}

func (noopCache) GetOrder(context.Context, int64) (Order, bool)     { return Order{}, false }
func (noopCache) SetOrder(context.Context, Order)                   {}
func (noopCache) FillOrder(context.Context, Order)                  {}
func (noopCache) GetProduct(context.Context, int64) (Product, bool) { return Product{}, false }
func (noopCache) SetProduct(context.Context, Product)               {}
func (noopCache) FillProduct(context.Context, Product)              {}
func (noopCache) InvalidateProduct(context.Context, int64)          {}
func (noopCache) GetStatus(context.Context, int64) (Status, bool)   { return "", false }
func (noopCache) SetStatus(context.Context, int64, Status, time.Time) {}

type noopRecorder struct{}

func (noopRecorder) OrderCreated(int, int)         {}
func (noopRecorder) OrderRejected(Kind)            {}
func (noopRecorder) StatusChanged(from, to Status) {}
