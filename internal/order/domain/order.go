package domain

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/dmehra2102/order-inventory-choreography/pkg/messages"
)

var (
	ErrValidation        = errors.New("validation failed")
	ErrNotFound          = errors.New("order not found")
	ErrProductNotFound   = errors.New("product not found")
	ErrInvalidTransition = errors.New("invalid status transition")
)

type Status string

const (
	StatusCreated     Status = "CREATED"
	StatusPending     Status = "PENDING"
	StatusConfirmed   Status = "CONFIRMED"
	StatusCancelled   Status = "CANCELLED"
	StatusFailedStock Status = "FAILED_STOCK"
)

func (s Status) Terminal() bool {
	return s == StatusConfirmed || s == StatusCancelled || s == StatusFailedStock
}

// CanTransitionTo encodes CREATED -> PENDING -> {CONFIRMED, FAILED_STOCK, CANCELLED}.
func (s Status) CanTransitionTo(next Status) bool {
	switch s {
	case StatusCreated:
		return next == StatusPending
	case StatusPending:
		return next.Terminal()
	default:
		return false
	}
}

// StatusFromOutcome maps a reservation outcome to the terminal order status.
func StatusFromOutcome(s messages.OutcomeStatus) (Status, error) {
	switch s {
	case messages.StatusConfirmed:
		return StatusConfirmed, nil
	case messages.StatusFailedStock:
		return StatusFailedStock, nil
	default:
		return "", fmt.Errorf("%w: unknown outcome status %q", ErrValidation, s)
	}
}

type Line struct {
	ProductID int64
	Quantity  int32
	// UnitPrice is a snapshot taken at intake. Stock is not held by it and the
	// catalog price may change before the reservation runs.
	UnitPrice decimal.Decimal
}

func (l Line) Subtotal() decimal.Decimal {
	return l.UnitPrice.Mul(decimal.NewFromInt32(l.Quantity))
}

type Order struct {
	ID        int64
	Lines     []Line
	Total     decimal.Decimal
	Status    Status
	CreatedAt time.Time
	UpdatedAt time.Time
}

func ValidateLines(lines []Line) error {
	if len(lines) == 0 {
		return fmt.Errorf("%w: an order needs at least one line", ErrValidation)
	}
	for i, l := range lines {
		if l.ProductID <= 0 {
			return fmt.Errorf("%w: line %d has invalid product id %d", ErrValidation, i, l.ProductID)
		}
		if l.Quantity <= 0 {
			return fmt.Errorf("%w: line %d quantity must be positive", ErrValidation, i)
		}
	}
	return nil
}

// NewOrder builds a CREATED order and computes its total from the line prices.
func NewOrder(lines []Line) (Order, error) {
	if err := ValidateLines(lines); err != nil {
		return Order{}, err
	}
	total := decimal.Zero
	for _, l := range lines {
		total = total.Add(l.Subtotal())
	}
	now := time.Now().UTC()
	return Order{
		Lines:     append([]Line(nil), lines...),
		Total:     total,
		Status:    StatusCreated,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// Transition returns a copy of o in status next, or ErrInvalidTransition.
func (o Order) Transition(next Status) (Order, error) {
	if !o.Status.CanTransitionTo(next) {
		return o, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, o.Status, next)
	}
	o.Status = next
	o.UpdatedAt = time.Now().UTC()
	return o, nil
}

func (o Order) ReservationRequest() messages.ReservationRequest {
	items := make([]messages.ReservationItem, 0, len(o.Lines))
	for _, l := range o.Lines {
		items = append(items, messages.ReservationItem{ProductID: l.ProductID, Quantity: l.Quantity})
	}
	return messages.ReservationRequest{OrderID: o.ID, Items: items}
}
