// Package projector folds order events into the Redis status cache.
package projector

import (
	"context"
	"fmt"
	"time"

	kafkax "github.com/ariefcatur/go-order-stock/internal/kafka"
	"github.com/ariefcatur/go-order-stock/internal/logger"
	"github.com/ariefcatur/go-order-stock/internal/orders"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
)

// StatusStore is the cache side the projector writes to.
type StatusStore interface {
	Seen(ctx context.Context, service, eventID string) (bool, error)
	MarkSeen(ctx context.Context, service, eventID string) error
	SetStatusIfNewer(ctx context.Context, orderID int64, s orders.Status, at time.Time) (bool, error)
}

type Projector struct {
	Store       StatusStore
	ServiceName string
	Logger      *zap.Logger
}

// HandleMessage is installed as the consumer handler. A returned error means
// the message should be retried.
func (p *Projector) HandleMessage(ctx context.Context, m kafka.Message) error {
	ctx = kafkax.ExtractTrace(ctx, m.Headers)
	ctx, span := otel.Tracer("projector").Start(ctx, "Projector.HandleMessage")
	defer span.End()

	// 1) decode envelope; a malformed message is never going to succeed
	env, err := kafkax.DecodeEnvelope(m.Value)
	if err != nil {
		logger.Warn(ctx, p.Logger, "dropping undecodable message",
			zap.String("topic", m.Topic),
			zap.Int64("offset", m.Offset),
			zap.Error(err),
		)
		return nil
	}

	orderID, status, ok, err := statusOf(env)
	if err != nil {
		logger.Warn(ctx, p.Logger, "dropping bad payload", zap.String("event_id", env.EventID), zap.Error(err))
		return nil
	}
	if !ok {
		return nil // ignore
	}

	// 2) dedup via Redis (pakai event_id)
	seen, err := p.Store.Seen(ctx, p.ServiceName, env.EventID)
	if err != nil {
		return fmt.Errorf("dedup lookup: %w", err)
	}
	if seen {
		logger.Debug(ctx, p.Logger, "duplicate event", zap.String("event_id", env.EventID))
		return nil
	}

	// 3) apply
	written, err := p.Store.SetStatusIfNewer(ctx, orderID, status, env.OccurredAt)
	if err != nil {
		return fmt.Errorf("set status: %w", err)
	}
	if err := p.Store.MarkSeen(ctx, p.ServiceName, env.EventID); err != nil {
		return fmt.Errorf("mark seen: %w", err)
	}

	logger.Info(ctx, p.Logger, "status projected",
		zap.String("event_id", env.EventID),
		zap.Int64("order_id", orderID),
		zap.String("status", string(status)),
		zap.Bool("written", written),
	)
	return nil
}

// statusOf extracts the order status an event implies; ok is false for event
// types the projector does not handle.
func statusOf(env orders.Envelope) (orderID int64, status orders.Status, ok bool, err error) {
	switch env.EventType {
	case orders.EventOrderCreated:
		p, err := kafkax.UnwrapPayload[orders.OrderCreatedPayload](env.Payload)
		if err != nil {
			return 0, "", false, err
		}
		return p.OrderID, p.Status, true, validate(p.OrderID, p.Status)
	case orders.EventOrderStatusChanged:
		p, err := kafkax.UnwrapPayload[orders.OrderStatusChangedPayload](env.Payload)
		if err != nil {
			return 0, "", false, err
		}
		return p.OrderID, p.To, true, validate(p.OrderID, p.To)
	}
	return 0, "", false, nil
}

func validate(orderID int64, s orders.Status) error {
	if orderID <= 0 {
		return fmt.Errorf("invalid order id %d", orderID)
	}
	if !s.Valid() {
		return fmt.Errorf("unknown status %q", s)
	}
	return nil
}
