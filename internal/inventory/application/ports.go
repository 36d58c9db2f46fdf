package application

import (
	"context"

	"github.com/dmehra2102/order-inventory-choreography/internal/inventory/domain"
	"github.com/dmehra2102/order-inventory-choreography/pkg/outbox"
)

type ProductRepository interface {
	Create(ctx context.Context, p domain.Product) (domain.Product, error)
	Get(ctx context.Context, id int64) (domain.Product, error)
	List(ctx context.Context) ([]domain.Product, error)
	Update(ctx context.Context, p domain.Product) (domain.Product, error)
	Delete(ctx context.Context, id int64) error
}

// Announce turns a decided reservation into the outbox row that carries its
// outcome. Stores call it inside the same atomic step as the stock change.
type Announce func(domain.Reservation) (outbox.Event, error)

type StockStore interface {
	// ReserveOrder locks every product in lines (sorted by id), applies the
	// check-then-commit algorithm, records the reservation for orderID and
	// queues its outcome, all or nothing. If orderID was already processed the
	// stored reservation is queued again and returned with replayed set.
	ReserveOrder(ctx context.Context, orderID int64, lines []domain.Line, announce Announce) (res domain.Reservation, replayed bool, err error)
	// ReserveNow applies the same algorithm to one line with no ledger entry.
	ReserveNow(ctx context.Context, line domain.Line) ([]domain.Shortage, error)
}
