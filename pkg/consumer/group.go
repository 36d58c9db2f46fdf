// Package consumer runs a bounded pool of Kafka readers for one topic. Each
// worker handles one message at a time to completion, retries transient
// failures with backoff and moves exhausted or poison messages to a
// dead-letter topic before committing.
package consumer

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/dmehra2102/order-inventory-choreography/pkg/idempotency"
	"github.com/dmehra2102/order-inventory-choreography/pkg/logging"
	"github.com/dmehra2102/order-inventory-choreography/pkg/metrics"
	"github.com/dmehra2102/order-inventory-choreography/pkg/tracing"
)

// ErrPermanent marks failures that retrying cannot fix, such as undecodable payloads.
var ErrPermanent = errors.New("permanent")

func Permanent(err error) error {
	return fmt.Errorf("%w: %w", ErrPermanent, err)
}

type Reader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type Handler interface {
	Handle(ctx context.Context, msg kafka.Message) error
}

type HandlerFunc func(ctx context.Context, msg kafka.Message) error

func (f HandlerFunc) Handle(ctx context.Context, msg kafka.Message) error { return f(ctx, msg) }

type Deduper interface {
	Seen(ctx context.Context, key string) (bool, error)
	Remember(ctx context.Context, key string) error
}

type Producer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

type Config struct {
	Topic           string
	Workers         int
	MaxAttempts     int
	InitialBackoff  time.Duration
	MaxBackoff      time.Duration
	DeadLetterTopic string
}

// KafkaReaders returns a factory of readers sharing one consumer group, so the
// broker spreads partitions across the pool.
func KafkaReaders(brokers []string, topic, groupID string) func() Reader {
	return func() Reader {
		return kafka.NewReader(kafka.ReaderConfig{
			Brokers:  brokers,
			Topic:    topic,
			GroupID:  groupID,
			MinBytes: 1,
			MaxBytes: 10e6,
		})
	}
}

type Group struct {
	log        *zap.Logger
	cfg        Config
	newReader  func() Reader
	handler    Handler
	dedupe     Deduper
	deadLetter Producer
	metrics    *metrics.Metrics
	tracer     trace.Tracer
}

type Option func(*Group)

func WithDeduper(d Deduper) Option { return func(g *Group) { g.dedupe = d } }

func WithDeadLetter(p Producer) Option { return func(g *Group) { g.deadLetter = p } }

func New(log *zap.Logger, cfg Config, newReader func() Reader, handler Handler, m *metrics.Metrics, opts ...Option) *Group {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = 200 * time.Millisecond
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 5 * time.Second
	}
	if cfg.DeadLetterTopic == "" {
		cfg.DeadLetterTopic = cfg.Topic + ".dlq"
	}
	g := &Group{
		log:       log.With(zap.String("topic", cfg.Topic)),
		cfg:       cfg,
		newReader: newReader,
		handler:   handler,
		metrics:   m,
		tracer:    otel.Tracer("consumer"),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Run blocks until ctx is cancelled or a worker hits an unrecoverable error.
func (g *Group) Run(ctx context.Context) error {
	eg, ctx := errgroup.WithContext(ctx)
	for i := 0; i < g.cfg.Workers; i++ {
		worker := i
		eg.Go(func() error { return g.work(ctx, worker) })
	}
	g.log.Info("consumer group started", zap.Int("workers", g.cfg.Workers))
	return eg.Wait()
}

func (g *Group) work(ctx context.Context, worker int) error {
	r := g.newReader()
	defer func() {
		if err := r.Close(); err != nil {
			g.log.Warn("reader close failed", zap.Int("worker", worker), zap.Error(err))
		}
	}()

	for {
		msg, err := r.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("worker %d fetch: %w", worker, err)
		}

		if err := g.process(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("worker %d: %w", worker, err)
		}

		if err := r.CommitMessages(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("worker %d commit: %w", worker, err)
		}
	}
}

// process returns an error only when the message must not be committed.
func (g *Group) process(ctx context.Context, msg kafka.Message) error {
	started := time.Now()
	key := idempotency.Key(msg.Topic, msg.Partition, msg.Offset)

	if g.dedupe != nil {
		seen, err := g.dedupe.Seen(ctx, key)
		if err != nil {
			g.log.Warn("dedupe lookup failed", zap.String("key", key), zap.Error(err))
		} else if seen {
			g.log.Info("duplicate delivery skipped", zap.String("key", key))
			g.metrics.Message(g.cfg.Topic, "duplicate", started)
			return nil
		}
	}

	msgCtx := tracing.ExtractKafkaHeaders(ctx, msg.Headers)
	msgCtx, span := g.tracer.Start(msgCtx, "consume "+g.cfg.Topic, trace.WithSpanKind(trace.SpanKindConsumer))
	span.SetAttributes(
		attribute.Int("messaging.kafka.partition", msg.Partition),
		attribute.Int64("messaging.kafka.offset", msg.Offset),
	)
	defer span.End()
	log := logging.WithTrace(msgCtx, g.log).With(zap.String("key", key))

	attempts := 0
	op := func() error {
		attempts++
		err := g.handler.Handle(msgCtx, msg)
		if err == nil {
			return nil
		}
		if errors.Is(err, ErrPermanent) {
			return backoff.Permanent(err)
		}
		log.Warn("handler failed, retrying", zap.Int("attempt", attempts), zap.Error(err))
		return err
	}

	err := backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(g.policy(), uint64(g.cfg.MaxAttempts-1)), ctx))
	if err != nil {
		if ctx.Err() != nil {
			span.SetStatus(codes.Error, "cancelled")
			return ctx.Err()
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if dlqErr := g.sendToDeadLetter(msgCtx, msg, err); dlqErr != nil {
			g.metrics.Message(g.cfg.Topic, "dead_letter_failed", started)
			return fmt.Errorf("dead-letter %s: %w", key, dlqErr)
		}
		log.Error("message dead-lettered", zap.Int("attempts", attempts), zap.Error(err))
		g.metrics.Message(g.cfg.Topic, "dead_letter", started)
	} else {
		g.metrics.Message(g.cfg.Topic, "ok", started)
	}

	if g.dedupe != nil {
		if err := g.dedupe.Remember(ctx, key); err != nil {
			log.Warn("dedupe remember failed", zap.Error(err))
		}
	}
	return nil
}

func (g *Group) policy() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = g.cfg.InitialBackoff
	b.MaxInterval = g.cfg.MaxBackoff
	b.MaxElapsedTime = 0
	return b
}

func (g *Group) sendToDeadLetter(ctx context.Context, msg kafka.Message, cause error) error {
	if g.deadLetter == nil {
		return errors.New("no dead-letter producer configured")
	}
	headers := append([]kafka.Header{}, msg.Headers...)
	headers = append(headers,
		kafka.Header{Key: "dlq_source_topic", Value: []byte(msg.Topic)},
		kafka.Header{Key: "dlq_partition", Value: []byte(strconv.Itoa(msg.Partition))},
		kafka.Header{Key: "dlq_offset", Value: []byte(strconv.FormatInt(msg.Offset, 10))},
		kafka.Header{Key: "dlq_error", Value: []byte(cause.Error())},
	)
	return g.deadLetter.WriteMessages(ctx, kafka.Message{
		Topic:   g.cfg.DeadLetterTopic,
		Key:     msg.Key,
		Value:   msg.Value,
		Headers: headers,
	})
}
