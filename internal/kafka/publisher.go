package kafka

import (
	"context"
	"encoding/json"
	"strconv"

	"github.com/ariefcatur/go-order-stock/internal/logger"
	"github.com/ariefcatur/go-order-stock/internal/orders"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

const (
	HeaderEventType    = "x-event-type"
	HeaderEventVersion = "x-event-version"
)

// Publisher adapts Producer to orders.EventPublisher. Failures are logged and
// dropped; the order is already committed by the time an event is published.
type Publisher struct {
	producer *Producer
	logger   *zap.Logger
}

var _ orders.EventPublisher = (*Publisher)(nil)

func NewPublisher(p *Producer, logger *zap.Logger) *Publisher {
	return &Publisher{producer: p, logger: logger}
}

func (p *Publisher) Publish(ctx context.Context, ev orders.Envelope) {
	topic := orders.TopicFor(ev.EventType)
	if topic == "" {
		logger.Warn(ctx, p.logger, "no topic for event", zap.String("event_type", ev.EventType))
		return
	}
	value, err := json.Marshal(ev)
	if err != nil {
		logger.Error(ctx, p.logger, "encode envelope", zap.String("event_id", ev.EventID), zap.Error(err))
		return
	}
	headers := append([]kafka.Header{
		{Key: HeaderEventType, Value: []byte(ev.EventType)},
		{Key: HeaderEventVersion, Value: []byte(strconv.Itoa(ev.EventVersion))},
	}, InjectTrace(ctx)...)
	err = p.producer.Publish(topic, ev.PartitionKey(), value, headers...)
	if err != nil {
		logger.Warn(ctx, p.logger, "event dropped",
			zap.String("event_id", ev.EventID),
			zap.String("event_type", ev.EventType),
			zap.Error(err),
		)
	}
}
