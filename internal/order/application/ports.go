package application

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/dmehra2102/order-inventory-choreography/internal/order/domain"
	"github.com/dmehra2102/order-inventory-choreography/pkg/outbox"
)

// Announce builds the outbox row for a freshly persisted order. It runs after
// the store assigned the id and inside the same transaction.
type Announce func(domain.Order) (outbox.Event, error)

type OrderRepository interface {
	Create(ctx context.Context, o domain.Order, announce Announce) (domain.Order, error)
	Get(ctx context.Context, id int64) (domain.Order, error)
	List(ctx context.Context) ([]domain.Order, error)
	// TransitionStatus moves the order from one status to another only if it is
	// currently in from. current is the status after the call.
	TransitionStatus(ctx context.Context, id int64, from, to domain.Status) (current domain.Status, applied bool, err error)
}

type CatalogProduct struct {
	ID    int64
	Name  string
	Price decimal.Decimal
}

type ProductCatalog interface {
	// Lookup returns domain.ErrProductNotFound for unknown ids.
	Lookup(ctx context.Context, productID int64) (CatalogProduct, error)
}
