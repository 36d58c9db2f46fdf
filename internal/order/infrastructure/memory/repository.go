package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/dmehra2102/order-inventory-choreography/internal/order/application"
	"github.com/dmehra2102/order-inventory-choreography/internal/order/domain"
	"github.com/dmehra2102/order-inventory-choreography/pkg/outbox"
)

type Repository struct {
	mu     sync.RWMutex
	nextID int64
	orders map[int64]domain.Order
	outbox *outbox.MemoryStore
	// failCreate makes Create fail before anything is stored.
	failCreate error
}

func NewRepository(ob *outbox.MemoryStore) *Repository {
	return &Repository{orders: make(map[int64]domain.Order), outbox: ob}
}

var _ application.OrderRepository = (*Repository)(nil)

// FailCreates makes every following Create return err; nil restores normal behaviour.
func (r *Repository) FailCreates(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failCreate = err
}

func (r *Repository) Create(_ context.Context, o domain.Order, announce application.Announce) (domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.failCreate != nil {
		return domain.Order{}, r.failCreate
	}
	o.ID = r.nextID + 1
	ev, err := announce(o)
	if err != nil {
		return domain.Order{}, err
	}
	r.nextID = o.ID
	r.orders[o.ID] = clone(o)
	r.outbox.Append(ev)
	return clone(o), nil
}

func (r *Repository) Get(_ context.Context, id int64) (domain.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	o, ok := r.orders[id]
	if !ok {
		return domain.Order{}, fmt.Errorf("%w: %d", domain.ErrNotFound, id)
	}
	return clone(o), nil
}

func (r *Repository) List(_ context.Context) ([]domain.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]domain.Order, 0, len(r.orders))
	for _, o := range r.orders {
		out = append(out, clone(o))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *Repository) TransitionStatus(_ context.Context, id int64, from, to domain.Status) (domain.Status, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	o, ok := r.orders[id]
	if !ok {
		return "", false, fmt.Errorf("%w: %d", domain.ErrNotFound, id)
	}
	if o.Status != from {
		return o.Status, false, nil
	}
	o.Status = to
	o.UpdatedAt = time.Now().UTC()
	r.orders[id] = o
	return to, true, nil
}

func clone(o domain.Order) domain.Order {
	o.Lines = append([]domain.Line(nil), o.Lines...)
	return o
}
