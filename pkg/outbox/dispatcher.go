package outbox

import (
	"context"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/dmehra2102/order-inventory-choreography/pkg/metrics"
	"github.com/dmehra2102/order-inventory-choreography/pkg/tracing"
)

const (
	HeaderEventType = "event_type"
	HeaderMessageID = "message_id"
)

type Producer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

type Dispatcher struct {
	log      *zap.Logger
	producer Producer
	topic    string
	metrics  *metrics.Metrics
}

func NewDispatcher(log *zap.Logger, producer Producer, topic string, m *metrics.Metrics) *Dispatcher {
	return &Dispatcher{log: log, producer: producer, topic: topic, metrics: m}
}

func (d *Dispatcher) Topic() string { return d.topic }

// Dispatch writes one event keyed by its aggregate id so every message for an
// order lands on the same partition.
func (d *Dispatcher) Dispatch(ctx context.Context, event Event) error {
	headers := make([]kafka.Header, 0, len(event.Headers)+3)
	for k, v := range event.Headers {
		headers = append(headers, kafka.Header{Key: k, Value: []byte(v)})
	}
	headers = append(headers,
		kafka.Header{Key: HeaderEventType, Value: []byte(event.Type)},
		kafka.Header{Key: HeaderMessageID, Value: []byte(uuid.NewString())},
	)
	if event.Traceparent != "" {
		headers = append(headers, kafka.Header{Key: tracing.TraceparentHeader, Value: []byte(event.Traceparent)})
	}

	msg := kafka.Message{
		Topic:   d.topic,
		Key:     []byte(event.AggregateID),
		Value:   event.Payload,
		Headers: headers,
	}
	if err := d.producer.WriteMessages(ctx, msg); err != nil {
		d.metrics.Dispatch(d.topic, "error")
		d.log.Error("outbox dispatch failed", zap.Int64("event_id", event.ID), zap.Error(err))
		return err
	}
	d.metrics.Dispatch(d.topic, "sent")
	d.log.Debug("outbox dispatched", zap.Int64("event_id", event.ID), zap.String("type", event.Type))
	return nil
}
