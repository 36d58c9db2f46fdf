package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/dmehra2102/order-inventory-choreography/internal/order/application"
	"github.com/dmehra2102/order-inventory-choreography/internal/order/domain"
	"github.com/dmehra2102/order-inventory-choreography/pkg/outbox"
)

const Schema = `
CREATE TABLE IF NOT EXISTS orders (
	id         BIGSERIAL PRIMARY KEY,
	total      NUMERIC(14, 2) NOT NULL,
	status     TEXT           NOT NULL,
	created_at TIMESTAMPTZ    NOT NULL,
	updated_at TIMESTAMPTZ    NOT NULL
);
CREATE TABLE IF NOT EXISTS order_lines (
	order_id   BIGINT         NOT NULL REFERENCES orders (id),
	line_no    INT            NOT NULL,
	product_id BIGINT         NOT NULL,
	quantity   INT            NOT NULL CHECK (quantity > 0),
	unit_price NUMERIC(14, 2) NOT NULL,
	PRIMARY KEY (order_id, line_no)
);
`

func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, Schema+outbox.Schema); err != nil {
		return fmt.Errorf("migrate order schema: %w", err)
	}
	return nil
}

type Repository struct {
	log  *zap.Logger
	pool *pgxpool.Pool
}

func NewRepository(log *zap.Logger, pool *pgxpool.Pool) *Repository {
	return &Repository{log: log, pool: pool}
}

var _ application.OrderRepository = (*Repository)(nil)

// Create stores the order, its lines and the announcing outbox row in one
// transaction.
func (r *Repository) Create(ctx context.Context, o domain.Order, announce application.Announce) (domain.Order, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return domain.Order{}, err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	err = tx.QueryRow(ctx, `
		INSERT INTO orders (total, status, created_at, updated_at)
		VALUES ($1::numeric, $2, $3, $4)
		RETURNING id`, o.Total.String(), string(o.Status), o.CreatedAt, o.UpdatedAt).Scan(&o.ID)
	if err != nil {
		return domain.Order{}, fmt.Errorf("insert order: %w", err)
	}

	batch := &pgx.Batch{}
	for i, l := range o.Lines {
		batch.Queue(`INSERT INTO order_lines (order_id, line_no, product_id, quantity, unit_price)
			VALUES ($1, $2, $3, $4, $5::numeric)`,
			o.ID, i, l.ProductID, l.Quantity, l.UnitPrice.String())
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return domain.Order{}, fmt.Errorf("insert order lines: %w", err)
	}

	ev, err := announce(o)
	if err != nil {
		return domain.Order{}, err
	}
	if err := outbox.Insert(ctx, tx, ev); err != nil {
		return domain.Order{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return domain.Order{}, err
	}
	return o, nil
}

func (r *Repository) Get(ctx context.Context, id int64) (domain.Order, error) {
	var (
		o      domain.Order
		total  string
		status string
	)
	err := r.pool.QueryRow(ctx, `
		SELECT id, total::text, status, created_at, updated_at FROM orders WHERE id = $1`, id).
		Scan(&o.ID, &total, &status, &o.CreatedAt, &o.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Order{}, fmt.Errorf("%w: %d", domain.ErrNotFound, id)
	}
	if err != nil {
		return domain.Order{}, err
	}
	if o.Total, err = decimal.NewFromString(total); err != nil {
		return domain.Order{}, err
	}
	o.Status = domain.Status(status)

	lines, err := r.lines(ctx, []int64{id})
	if err != nil {
		return domain.Order{}, err
	}
	o.Lines = lines[id]
	return o, nil
}

func (r *Repository) List(ctx context.Context) ([]domain.Order, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, total::text, status, created_at, updated_at FROM orders ORDER BY id`)
	if err != nil {
		return nil, err
	}
	orders, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.Order, error) {
		var (
			o      domain.Order
			total  string
			status string
		)
		if err := row.Scan(&o.ID, &total, &status, &o.CreatedAt, &o.UpdatedAt); err != nil {
			return o, err
		}
		o.Status = domain.Status(status)
		var err error
		o.Total, err = decimal.NewFromString(total)
		return o, err
	})
	if err != nil || len(orders) == 0 {
		return orders, err
	}

	ids := make([]int64, 0, len(orders))
	for _, o := range orders {
		ids = append(ids, o.ID)
	}
	lines, err := r.lines(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range orders {
		orders[i].Lines = lines[orders[i].ID]
	}
	return orders, nil
}

// TransitionStatus is a compare-and-set on the status column.
func (r *Repository) TransitionStatus(ctx context.Context, id int64, from, to domain.Status) (domain.Status, bool, error) {
	ct, err := r.pool.Exec(ctx, `
		UPDATE orders SET status = $3, updated_at = now()
		WHERE id = $1 AND status = $2`, id, string(from), string(to))
	if err != nil {
		return "", false, err
	}
	if ct.RowsAffected() == 1 {
		return to, true, nil
	}

	var current string
	err = r.pool.QueryRow(ctx, `SELECT status FROM orders WHERE id = $1`, id).Scan(&current)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, fmt.Errorf("%w: %d", domain.ErrNotFound, id)
	}
	if err != nil {
		return "", false, err
	}
	return domain.Status(current), false, nil
}

func (r *Repository) lines(ctx context.Context, ids []int64) (map[int64][]domain.Line, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT order_id, product_id, quantity, unit_price::text
		FROM order_lines WHERE order_id = ANY($1)
		ORDER BY order_id, line_no`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[int64][]domain.Line, len(ids))
	for rows.Next() {
		var (
			orderID int64
			l       domain.Line
			price   string
		)
		if err := rows.Scan(&orderID, &l.ProductID, &l.Quantity, &price); err != nil {
			return nil, err
		}
		if l.UnitPrice, err = decimal.NewFromString(price); err != nil {
			return nil, err
		}
		out[orderID] = append(out[orderID], l)
	}
	return out, rows.Err()
}
