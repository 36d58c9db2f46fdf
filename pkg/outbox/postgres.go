package outbox

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

const Schema = `
CREATE TABLE IF NOT EXISTS outbox (
	id              BIGSERIAL PRIMARY KEY,
	aggregate_type  TEXT        NOT NULL,
	aggregate_id    TEXT        NOT NULL,
	type            TEXT        NOT NULL,
	payload         JSONB       NOT NULL,
	headers         JSONB       NOT NULL DEFAULT '{}',
	traceparent     TEXT        NOT NULL DEFAULT '',
	status          TEXT        NOT NULL DEFAULT 'pending',
	relay_id        TEXT,
	lease_until     TIMESTAMPTZ,
	retry_count     INT         NOT NULL DEFAULT 0,
	next_attempt_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	last_error      TEXT,
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);
ALTER TABLE outbox ADD COLUMN IF NOT EXISTS next_attempt_at TIMESTAMPTZ NOT NULL DEFAULT now();
CREATE INDEX IF NOT EXISTS outbox_status_id_idx ON outbox (status, id);
`

// Insert adds a pending row inside the caller's transaction, so it commits
// or rolls back together with the state change it announces.
func Insert(ctx context.Context, tx pgx.Tx, ev Event) error {
	headers := ev.Headers
	if headers == nil {
		headers = map[string]string{}
	}
	_, err := tx.Exec(ctx, `
		INSERT INTO outbox (aggregate_type, aggregate_id, type, payload, headers, traceparent, status)
		VALUES ($1, $2, $3, $4, $5, $6, 'pending')`,
		ev.AggregateType, ev.AggregateID, ev.Type, ev.Payload, headers, ev.Traceparent)
	if err != nil {
		return fmt.Errorf("insert outbox row: %w", err)
	}
	return nil
}

type PostgresStore struct {
	log  *zap.Logger
	pool *pgxpool.Pool
}

func NewPostgresStore(log *zap.Logger, pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{log: log, pool: pool}
}

// LockBatch leases pending rows plus in-progress rows whose lease ran out,
// which covers a relay that crashed between dispatch and MarkSent.
func (s *PostgresStore) LockBatch(ctx context.Context, relayID string, batchSize int, lease time.Duration) ([]Event, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	rows, err := tx.Query(ctx, `
		SELECT id, aggregate_type, aggregate_id, type, payload, headers, traceparent, created_at, retry_count
		FROM outbox
		WHERE (status = 'pending' AND next_attempt_at <= now())
		   OR (status = 'in_progress' AND lease_until < now())
		ORDER BY id
		FOR UPDATE SKIP LOCKED
		LIMIT $1`, batchSize)
	if err != nil {
		return nil, err
	}

	events, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Event, error) {
		var ev Event
		err := row.Scan(&ev.ID, &ev.AggregateType, &ev.AggregateID, &ev.Type, &ev.Payload,
			&ev.Headers, &ev.Traceparent, &ev.CreatedAt, &ev.RetryCount)
		ev.Status = StatusInProgress
		return ev, err
	})
	if err != nil {
		return nil, err
	}
	if len(events) == 0 {
		return nil, tx.Commit(ctx)
	}

	_, err = tx.Exec(ctx, `
		UPDATE outbox
		SET status = 'in_progress', relay_id = $1, lease_until = now() + make_interval(secs => $2)
		WHERE id = ANY($3)`, relayID, lease.Seconds(), pendingIDs(events))
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return events, nil
}

func (s *PostgresStore) MarkSent(ctx context.Context, ids []int64) error {
	_, err := s.pool.Exec(ctx, `UPDATE outbox SET status = 'sent', lease_until = NULL WHERE id = ANY($1)`, ids)
	return err
}

func (s *PostgresStore) MarkFailed(ctx context.Context, id int64, errMsg string, maxAttempts int, retryIn time.Duration) (bool, error) {
	var status string
	err := s.pool.QueryRow(ctx, `
		UPDATE outbox
		SET retry_count     = retry_count + 1,
		    last_error      = $2,
		    status          = CASE WHEN $3 > 0 AND retry_count + 1 >= $3 THEN 'dead' ELSE 'pending' END,
		    next_attempt_at = now() + make_interval(secs => $4),
		    relay_id        = NULL,
		    lease_until     = NULL
		WHERE id = $1
		RETURNING status`, id, errMsg, maxAttempts, retryIn.Seconds()).Scan(&status)
	if err != nil {
		return false, err
	}
	return Status(status) == StatusDead, nil
}

func (s *PostgresStore) ExtendLease(ctx context.Context, relayID string, ids []int64, lease time.Duration) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE outbox SET lease_until = now() + make_interval(secs => $1)
		WHERE id = ANY($2) AND relay_id = $3`, lease.Seconds(), ids, relayID)
	return err
}
