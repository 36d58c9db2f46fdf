// Package memory is an in-process Stock Store. Each product has its own
// mutex; reservations lock the products they touch in ascending id order and
// nothing else, so requests on disjoint products never contend.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/dmehra2102/order-inventory-choreography/internal/inventory/application"
	"github.com/dmehra2102/order-inventory-choreography/internal/inventory/domain"
	"github.com/dmehra2102/order-inventory-choreography/pkg/outbox"
)

type entry struct {
	mu      sync.Mutex
	product domain.Product
	deleted bool
}

type Store struct {
	mu       sync.RWMutex
	nextID   int64
	products map[int64]*entry

	ledgerMu   sync.Mutex
	ledger     map[int64]domain.Reservation
	orderLocks map[int64]*sync.Mutex

	outbox *outbox.MemoryStore
	// beforeWrite runs before each stock decrement; an error aborts the
	// reservation and every decrement already applied is undone.
	beforeWrite func(productID int64) error
}

type Option func(*Store)

func WithWriteHook(fn func(productID int64) error) Option {
	return func(s *Store) { s.beforeWrite = fn }
}

func NewStore(ob *outbox.MemoryStore, opts ...Option) *Store {
	s := &Store{
		products:   make(map[int64]*entry),
		ledger:     make(map[int64]domain.Reservation),
		orderLocks: make(map[int64]*sync.Mutex),
		outbox:     ob,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var (
	_ application.ProductRepository = (*Store)(nil)
	_ application.StockStore        = (*Store)(nil)
)

func (s *Store) Create(_ context.Context, p domain.Product) (domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	p.ID = s.nextID
	s.products[p.ID] = &entry{product: p}
	return p, nil
}

func (s *Store) Get(_ context.Context, id int64) (domain.Product, error) {
	e := s.lookup(id)
	if e == nil {
		return domain.Product{}, fmt.Errorf("%w: %d", domain.ErrNotFound, id)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.deleted {
		return domain.Product{}, fmt.Errorf("%w: %d", domain.ErrNotFound, id)
	}
	return e.product, nil
}

func (s *Store) List(ctx context.Context) ([]domain.Product, error) {
	s.mu.RLock()
	ids := make([]int64, 0, len(s.products))
	for id := range s.products {
		ids = append(ids, id)
	}
	s.mu.RUnlock()
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	out := make([]domain.Product, 0, len(ids))
	for _, id := range ids {
		if p, err := s.Get(ctx, id); err == nil {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *Store) Update(_ context.Context, p domain.Product) (domain.Product, error) {
	e := s.lookup(p.ID)
	if e == nil {
		return domain.Product{}, fmt.Errorf("%w: %d", domain.ErrNotFound, p.ID)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.deleted {
		return domain.Product{}, fmt.Errorf("%w: %d", domain.ErrNotFound, p.ID)
	}
	p.CreatedAt = e.product.CreatedAt
	p.UpdatedAt = time.Now().UTC()
	e.product = p
	return p, nil
}

func (s *Store) Delete(_ context.Context, id int64) error {
	s.mu.Lock()
	e, ok := s.products[id]
	if ok {
		delete(s.products, id)
	}
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %d", domain.ErrNotFound, id)
	}
	// A reservation may still hold the entry; mark it so it reads as missing.
	e.mu.Lock()
	e.deleted = true
	e.mu.Unlock()
	return nil
}

func (s *Store) ReserveOrder(_ context.Context, orderID int64, lines []domain.Line, announce application.Announce) (domain.Reservation, bool, error) {
	orderLock := s.orderLock(orderID)
	orderLock.Lock()
	defer orderLock.Unlock()

	s.ledgerMu.Lock()
	prev, done := s.ledger[orderID]
	s.ledgerMu.Unlock()
	if done {
		ev, err := announce(prev)
		if err != nil {
			return domain.Reservation{}, false, err
		}
		s.outbox.Append(ev)
		s.forgetOrderLock(orderID)
		return prev, true, nil
	}

	var res domain.Reservation
	err := s.withLocked(lines, func(current map[int64]*entry) error {
		shortages := domain.Check(lines, snapshot(current))
		res = domain.Decide(orderID, lines, shortages, time.Now())
		ev, err := announce(res)
		if err != nil {
			return err
		}
		if len(shortages) == 0 {
			if err := s.apply(lines, current); err != nil {
				return err
			}
		}
		s.ledgerMu.Lock()
		s.ledger[orderID] = res
		s.ledgerMu.Unlock()
		s.outbox.Append(ev)
		return nil
	})
	if err != nil {
		return domain.Reservation{}, false, err
	}
	s.forgetOrderLock(orderID)
	return res, false, nil
}

func (s *Store) ReserveNow(_ context.Context, line domain.Line) ([]domain.Shortage, error) {
	lines := []domain.Line{line}
	var shortages []domain.Shortage
	err := s.withLocked(lines, func(current map[int64]*entry) error {
		shortages = domain.Check(lines, snapshot(current))
		if len(shortages) > 0 {
			return nil
		}
		return s.apply(lines, current)
	})
	return shortages, err
}

// Reservation returns the ledger entry for an order, if any.
func (s *Store) Reservation(orderID int64) (domain.Reservation, bool) {
	s.ledgerMu.Lock()
	defer s.ledgerMu.Unlock()
	r, ok := s.ledger[orderID]
	return r, ok
}

// withLocked holds the mutex of every existing product in lines, acquired in
// ascending id order, for the duration of fn. lines must be sorted.
func (s *Store) withLocked(lines []domain.Line, fn func(map[int64]*entry) error) error {
	locked := make(map[int64]*entry, len(lines))
	order := make([]*entry, 0, len(lines))
	for _, l := range lines {
		e := s.lookup(l.ProductID)
		if e == nil {
			continue
		}
		e.mu.Lock()
		order = append(order, e)
		if !e.deleted {
			locked[l.ProductID] = e
		}
	}
	defer func() {
		for i := len(order) - 1; i >= 0; i-- {
			order[i].mu.Unlock()
		}
	}()
	return fn(locked)
}

func (s *Store) apply(lines []domain.Line, current map[int64]*entry) error {
	previous := make(map[int64]int32, len(lines))
	for _, l := range lines {
		if s.beforeWrite != nil {
			if err := s.beforeWrite(l.ProductID); err != nil {
				for id, stock := range previous {
					current[id].product.Stock = stock
				}
				return fmt.Errorf("decrement product %d: %w", l.ProductID, err)
			}
		}
		e := current[l.ProductID]
		previous[l.ProductID] = e.product.Stock
		// Check already bounded the quantity by the current stock.
		e.product.Stock -= int32(l.Quantity)
		e.product.UpdatedAt = time.Now().UTC()
	}
	return nil
}

func (s *Store) lookup(id int64) *entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.products[id]
}

func (s *Store) orderLock(orderID int64) *sync.Mutex {
	s.ledgerMu.Lock()
	defer s.ledgerMu.Unlock()
	m, ok := s.orderLocks[orderID]
	if !ok {
		m = &sync.Mutex{}
		s.orderLocks[orderID] = m
	}
	return m
}

// forgetOrderLock drops the per-order mutex once the ledger holds the order.
// Later deliveries, including ones already waiting on the old mutex, find the
// ledger entry and only replay it.
func (s *Store) forgetOrderLock(orderID int64) {
	s.ledgerMu.Lock()
	defer s.ledgerMu.Unlock()
	delete(s.orderLocks, orderID)
}

func snapshot(current map[int64]*entry) map[int64]domain.Product {
	out := make(map[int64]domain.Product, len(current))
	for id, e := range current {
		out[id] = e.product
	}
	return out
}
