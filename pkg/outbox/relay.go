package outbox

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

type Store interface {
	LockBatch(ctx context.Context, relayID string, batchSize int, lease time.Duration) ([]Event, error)
	MarkSent(ctx context.Context, ids []int64) error
	// MarkFailed records a failed attempt and hides the row from LockBatch for
	// retryIn. Once maxAttempts is reached the row becomes StatusDead and dead
	// is true; maxAttempts <= 0 retries forever.
	MarkFailed(ctx context.Context, id int64, errMsg string, maxAttempts int, retryIn time.Duration) (dead bool, err error)
	ExtendLease(ctx context.Context, relayID string, ids []int64, lease time.Duration) error
}

type Relay struct {
	log         *zap.Logger
	store       Store
	dispatch    *Dispatcher
	relayID     string
	batchSize   int
	interval    time.Duration
	lease       time.Duration
	maxAttempts int
	minBackoff  time.Duration
	maxBackoff  time.Duration
}

type Option func(*Relay)

func WithBatchSize(n int) Option          { return func(r *Relay) { r.batchSize = n } }
func WithInterval(d time.Duration) Option { return func(r *Relay) { r.interval = d } }
func WithLease(d time.Duration) Option    { return func(r *Relay) { r.lease = d } }
func WithMaxAttempts(n int) Option        { return func(r *Relay) { r.maxAttempts = n } }

// WithBackoff bounds the exponential delay between publish attempts of one row.
func WithBackoff(initial, maxDelay time.Duration) Option {
	return func(r *Relay) { r.minBackoff, r.maxBackoff = initial, maxDelay }
}

func NewRelay(log *zap.Logger, store Store, dispatch *Dispatcher, relayID string, opts ...Option) *Relay {
	r := &Relay{
		log:        log.With(zap.String("relay_id", relayID), zap.String("topic", dispatch.Topic())),
		store:      store,
		dispatch:   dispatch,
		relayID:    relayID,
		batchSize:  100,
		interval:   500 * time.Millisecond,
		lease:      5 * time.Second,
		minBackoff: time.Second,
		maxBackoff: time.Minute,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Relay) Run(ctx context.Context) error {
	t := time.NewTicker(r.interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			r.log.Info("relay stopping")
			return nil
		case <-t.C:
			if _, err := r.RunOnce(ctx); err != nil && !errors.Is(err, context.Canceled) {
				r.log.Error("relay batch error", zap.Error(err))
			}
		}
	}
}

// RunOnce publishes one leased batch and returns how many rows were sent.
func (r *Relay) RunOnce(ctx context.Context) (int, error) {
	events, err := r.store.LockBatch(ctx, r.relayID, r.batchSize, r.lease)
	if err != nil {
		return 0, err
	}
	if len(events) == 0 {
		return 0, nil
	}

	leasedAt := time.Now()
	ids := make([]int64, 0, len(events))
	for i, e := range events {
		if time.Since(leasedAt) > r.lease/2 {
			if err := r.store.ExtendLease(ctx, r.relayID, pendingIDs(events[i:]), r.lease); err != nil {
				r.log.Warn("relay extend lease failed", zap.Error(err))
			}
			leasedAt = time.Now()
		}

		if err := r.dispatch.Dispatch(ctx, e); err != nil {
			if ctx.Err() != nil {
				break
			}
			retryIn := r.retryDelay(e.RetryCount)
			dead, markErr := r.store.MarkFailed(ctx, e.ID, err.Error(), r.maxAttempts, retryIn)
			if markErr != nil {
				r.log.Error("relay mark failed error", zap.Int64("event_id", e.ID), zap.Error(markErr))
			}
			switch {
			case dead:
				r.log.Error("outbox event dead-lettered",
					zap.Int64("event_id", e.ID),
					zap.String("aggregate_id", e.AggregateID),
					zap.String("type", e.Type),
					zap.Error(err),
				)
			default:
				r.log.Warn("outbox publish failed, will retry",
					zap.Int64("event_id", e.ID),
					zap.Int("attempt", e.RetryCount+1),
					zap.Duration("retry_in", retryIn),
					zap.Error(err),
				)
			}
			continue
		}
		ids = append(ids, e.ID)
	}

	if len(ids) > 0 {
		if err := r.store.MarkSent(ctx, ids); err != nil {
			return 0, err
		}
	}
	return len(ids), nil
}

// retryDelay is the wait after the (failures+1)th failed publish of a row.
func (r *Relay) retryDelay(failures int) time.Duration {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.minBackoff
	b.MaxInterval = r.maxBackoff
	b.Multiplier = 2
	b.MaxElapsedTime = 0
	b.Reset()

	d := b.NextBackOff()
	for i := 0; i < min(failures, 32); i++ {
		d = b.NextBackOff()
	}
	return d
}

func pendingIDs(events []Event) []int64 {
	ids := make([]int64, 0, len(events))
	for _, e := range events {
		ids = append(ids, e.ID)
	}
	return ids
}
