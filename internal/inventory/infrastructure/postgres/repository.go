package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/dmehra2102/order-inventory-choreography/internal/inventory/application"
	"github.com/dmehra2102/order-inventory-choreography/internal/inventory/domain"
	"github.com/dmehra2102/order-inventory-choreography/pkg/outbox"
)

const Schema = `
CREATE TABLE IF NOT EXISTS products (
	id         BIGSERIAL PRIMARY KEY,
	name       TEXT           NOT NULL,
	price      NUMERIC(14, 2) NOT NULL,
	stock      INT            NOT NULL CHECK (stock >= 0),
	created_at TIMESTAMPTZ    NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ    NOT NULL DEFAULT now()
);
CREATE TABLE IF NOT EXISTS reservations (
	order_id     BIGINT PRIMARY KEY,
	result       TEXT        NOT NULL,
	message      TEXT        NOT NULL,
	shortages    JSONB       NOT NULL DEFAULT '[]',
	processed_at TIMESTAMPTZ NOT NULL
);
CREATE TABLE IF NOT EXISTS reservation_lines (
	order_id   BIGINT NOT NULL REFERENCES reservations (order_id),
	product_id BIGINT NOT NULL,
	quantity   BIGINT NOT NULL,
	PRIMARY KEY (order_id, product_id)
);
ALTER TABLE reservation_lines ALTER COLUMN quantity TYPE BIGINT;
`

const uniqueViolation = "23505"

// Migrate creates the inventory tables and the outbox table if missing.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, Schema+outbox.Schema); err != nil {
		return fmt.Errorf("migrate inventory schema: %w", err)
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

var (
	_ application.ProductRepository = (*Repository)(nil)
	_ application.StockStore        = (*Repository)(nil)
)

func (r *Repository) Create(ctx context.Context, p domain.Product) (domain.Product, error) {
	err := r.pool.QueryRow(ctx, `
		INSERT INTO products (name, price, stock, created_at, updated_at)
		VALUES ($1, $2::numeric, $3, $4, $4)
		RETURNING id`, p.Name, p.Price.String(), p.Stock, p.CreatedAt).Scan(&p.ID)
	if err != nil {
		return domain.Product{}, fmt.Errorf("insert product: %w", err)
	}
	return p, nil
}

func (r *Repository) Get(ctx context.Context, id int64) (domain.Product, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, name, price::text, stock, created_at, updated_at
		FROM products WHERE id = $1`, id)
	if err != nil {
		return domain.Product{}, err
	}
	p, err := pgx.CollectExactlyOneRow(rows, scanProduct)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Product{}, fmt.Errorf("%w: %d", domain.ErrNotFound, id)
	}
	return p, err
}

func (r *Repository) List(ctx context.Context) ([]domain.Product, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, name, price::text, stock, created_at, updated_at
		FROM products ORDER BY id`)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, scanProduct)
}

func (r *Repository) Update(ctx context.Context, p domain.Product) (domain.Product, error) {
	rows, err := r.pool.Query(ctx, `
		UPDATE products SET name = $2, price = $3::numeric, stock = $4, updated_at = now()
		WHERE id = $1
		RETURNING id, name, price::text, stock, created_at, updated_at`,
		p.ID, p.Name, p.Price.String(), p.Stock)
	if err != nil {
		return domain.Product{}, err
	}
	updated, err := pgx.CollectExactlyOneRow(rows, scanProduct)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Product{}, fmt.Errorf("%w: %d", domain.ErrNotFound, p.ID)
	}
	return updated, err
}

func (r *Repository) Delete(ctx context.Context, id int64) error {
	ct, err := r.pool.Exec(ctx, `DELETE FROM products WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return fmt.Errorf("%w: %d", domain.ErrNotFound, id)
	}
	return nil
}

func (r *Repository) ReserveOrder(ctx context.Context, orderID int64, lines []domain.Line, announce application.Announce) (domain.Reservation, bool, error) {
	res, replayed, err := r.reserveOrder(ctx, orderID, lines, announce)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		// A concurrent delivery of the same order committed first; our
		// decrements were rolled back, so replay its record instead.
		r.log.Info("concurrent duplicate reservation, replaying", zap.Int64("order_id", orderID))
		return r.reserveOrder(ctx, orderID, lines, announce)
	}
	return res, replayed, err
}

func (r *Repository) reserveOrder(ctx context.Context, orderID int64, lines []domain.Line, announce application.Announce) (domain.Reservation, bool, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return domain.Reservation{}, false, err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	prev, found, err := loadReservation(ctx, tx, orderID)
	if err != nil {
		return domain.Reservation{}, false, err
	}
	if found {
		if err := queue(ctx, tx, prev, announce); err != nil {
			return domain.Reservation{}, false, err
		}
		return prev, true, tx.Commit(ctx)
	}

	shortages, err := reserveLines(ctx, tx, lines)
	if err != nil {
		return domain.Reservation{}, false, err
	}
	res := domain.Decide(orderID, lines, shortages, time.Now())

	shortJSON, err := json.Marshal(res.Shortages)
	if err != nil {
		return domain.Reservation{}, false, err
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO reservations (order_id, result, message, shortages, processed_at)
		VALUES ($1, $2, $3, $4, $5)`,
		res.OrderID, string(res.Result), res.Message, shortJSON, res.ProcessedAt); err != nil {
		return domain.Reservation{}, false, fmt.Errorf("record reservation: %w", err)
	}

	batch := &pgx.Batch{}
	for _, l := range lines {
		batch.Queue(`INSERT INTO reservation_lines (order_id, product_id, quantity) VALUES ($1, $2, $3)`,
			orderID, l.ProductID, l.Quantity)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return domain.Reservation{}, false, fmt.Errorf("record reservation lines: %w", err)
	}

	if err := queue(ctx, tx, res, announce); err != nil {
		return domain.Reservation{}, false, err
	}
	if err := tx.Commit(ctx); err != nil {
		return domain.Reservation{}, false, err
	}
	return res, false, nil
}

func (r *Repository) ReserveNow(ctx context.Context, line domain.Line) ([]domain.Shortage, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	shortages, err := reserveLines(ctx, tx, []domain.Line{line})
	if err != nil {
		return nil, err
	}
	if len(shortages) > 0 {
		return shortages, nil
	}
	return nil, tx.Commit(ctx)
}

// reserveLines locks the product rows in id order, checks every line and only
// then decrements. It never commits; the caller's transaction decides.
func reserveLines(ctx context.Context, tx pgx.Tx, lines []domain.Line) ([]domain.Shortage, error) {
	ids := make([]int64, 0, len(lines))
	for _, l := range lines {
		ids = append(ids, l.ProductID)
	}
	rows, err := tx.Query(ctx, `
		SELECT id, name, price::text, stock, created_at, updated_at
		FROM products
		WHERE id = ANY($1)
		ORDER BY id
		FOR UPDATE`, ids)
	if err != nil {
		return nil, fmt.Errorf("lock products: %w", err)
	}
	locked, err := pgx.CollectRows(rows, scanProduct)
	if err != nil {
		return nil, fmt.Errorf("lock products: %w", err)
	}
	current := make(map[int64]domain.Product, len(locked))
	for _, p := range locked {
		current[p.ID] = p
	}

	if shortages := domain.Check(lines, current); len(shortages) > 0 {
		return shortages, nil
	}

	batch := &pgx.Batch{}
	for _, l := range lines {
		batch.Queue(`UPDATE products SET stock = stock - $2, updated_at = now() WHERE id = $1 AND stock >= $2`,
			l.ProductID, l.Quantity)
	}
	br := tx.SendBatch(ctx, batch)
	for _, l := range lines {
		ct, err := br.Exec()
		if err != nil {
			_ = br.Close()
			return nil, fmt.Errorf("decrement product %d: %w", l.ProductID, err)
		}
		if ct.RowsAffected() != 1 {
			_ = br.Close()
			return nil, fmt.Errorf("decrement product %d: row changed under lock", l.ProductID)
		}
	}
	return nil, br.Close()
}

func loadReservation(ctx context.Context, tx pgx.Tx, orderID int64) (domain.Reservation, bool, error) {
	var (
		res       domain.Reservation
		result    string
		shortJSON []byte
	)
	err := tx.QueryRow(ctx, `
		SELECT order_id, result, message, shortages, processed_at
		FROM reservations WHERE order_id = $1`, orderID).
		Scan(&res.OrderID, &result, &res.Message, &shortJSON, &res.ProcessedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Reservation{}, false, nil
	}
	if err != nil {
		return domain.Reservation{}, false, fmt.Errorf("load reservation %d: %w", orderID, err)
	}
	res.Result = domain.Result(result)
	if err := json.Unmarshal(shortJSON, &res.Shortages); err != nil {
		return domain.Reservation{}, false, fmt.Errorf("decode shortages for %d: %w", orderID, err)
	}
	return res, true, nil
}

func queue(ctx context.Context, tx pgx.Tx, res domain.Reservation, announce application.Announce) error {
	ev, err := announce(res)
	if err != nil {
		return err
	}
	return outbox.Insert(ctx, tx, ev)
}

func scanProduct(row pgx.CollectableRow) (domain.Product, error) {
	var (
		p     domain.Product
		price string
	)
	if err := row.Scan(&p.ID, &p.Name, &price, &p.Stock, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return domain.Product{}, err
	}
	d, err := decimal.NewFromString(price)
	if err != nil {
		return domain.Product{}, fmt.Errorf("product %d price %q: %w", p.ID, price, err)
	}
	p.Price = d
	return p, nil
}
