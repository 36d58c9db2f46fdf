package domain

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/dmehra2102/order-inventory-choreography/pkg/messages"
)

type Result string

const (
	ResultConfirmed   Result = "CONFIRMED"
	ResultFailedStock Result = "FAILED_STOCK"
)

// Line is one consolidated product request. Quantity is wider than stock so
// a summed request larger than any possible stock still reads as a shortage.
type Line struct {
	ProductID int64
	Quantity  int64
}

// Shortage names a line that cannot be served. Missing is set when the
// product does not exist at all.
type Shortage struct {
	ProductID int64  `json:"productId"`
	Name      string `json:"name,omitempty"`
	Requested int64  `json:"requested"`
	Available int32  `json:"available"`
	Missing   bool   `json:"missing,omitempty"`
}

func (s Shortage) String() string {
	if s.Missing {
		return fmt.Sprintf("product %d not found", s.ProductID)
	}
	return fmt.Sprintf("%s (id %d): requested %d, available %d", s.Name, s.ProductID, s.Requested, s.Available)
}

// Reservation is the durable record of a processed request, kept per order id
// so a redelivered request replays it instead of touching stock again.
type Reservation struct {
	OrderID     int64
	Result      Result
	Message     string
	Lines       []Line
	Shortages   []Shortage
	ProcessedAt time.Time
}

// Consolidate merges duplicate products and sorts lines by product id, which
// is also the lock acquisition order.
func Consolidate(lines []Line) ([]Line, error) {
	if len(lines) == 0 {
		return nil, fmt.Errorf("%w: at least one line is required", ErrValidation)
	}
	totals := make(map[int64]int64, len(lines))
	for _, l := range lines {
		if l.ProductID <= 0 {
			return nil, fmt.Errorf("%w: invalid product id %d", ErrValidation, l.ProductID)
		}
		if l.Quantity <= 0 {
			return nil, fmt.Errorf("%w: quantity for product %d must be positive", ErrValidation, l.ProductID)
		}
		if totals[l.ProductID] > math.MaxInt64-l.Quantity {
			return nil, fmt.Errorf("%w: quantity for product %d overflows", ErrValidation, l.ProductID)
		}
		totals[l.ProductID] += l.Quantity
	}
	out := make([]Line, 0, len(totals))
	for id, qty := range totals {
		out = append(out, Line{ProductID: id, Quantity: qty})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProductID < out[j].ProductID })
	return out, nil
}

// Check compares every line against the current products without mutating
// anything. An empty result means every line can be served.
func Check(lines []Line, current map[int64]Product) []Shortage {
	var shortages []Shortage
	for _, l := range lines {
		p, ok := current[l.ProductID]
		if !ok {
			shortages = append(shortages, Shortage{ProductID: l.ProductID, Requested: l.Quantity, Missing: true})
			continue
		}
		if l.Quantity > int64(p.Stock) {
			shortages = append(shortages, Shortage{
				ProductID: l.ProductID,
				Name:      p.Name,
				Requested: l.Quantity,
				Available: p.Stock,
			})
		}
	}
	return shortages
}

func Decide(orderID int64, lines []Line, shortages []Shortage, at time.Time) Reservation {
	r := Reservation{
		OrderID:     orderID,
		Lines:       lines,
		Shortages:   shortages,
		ProcessedAt: at.UTC(),
	}
	if len(shortages) == 0 {
		r.Result = ResultConfirmed
		r.Message = messages.MessageConfirmed
		return r
	}
	parts := make([]string, 0, len(shortages))
	for _, s := range shortages {
		parts = append(parts, s.String())
	}
	r.Result = ResultFailedStock
	r.Message = messages.MessageInsufficient + " " + strings.Join(parts, "; ")
	return r
}

func (r Reservation) Outcome() messages.ReservationOutcome {
	status := messages.StatusConfirmed
	if r.Result != ResultConfirmed {
		status = messages.StatusFailedStock
	}
	return messages.ReservationOutcome{OrderID: r.OrderID, Status: status, Message: r.Message}
}
