// Package messages defines the payloads exchanged between the order and
// inventory services. Field names are part of the wire contract.
package messages

import (
	"encoding/json"
	"errors"
	"fmt"
)

const (
	DefaultRequestTopic  = "reservation.requests"
	DefaultResponseTopic = "reservation.outcomes"

	EventReservationRequested = "ReservationRequested"
	EventReservationOutcome   = "ReservationOutcome"
)

type OutcomeStatus string

const (
	StatusConfirmed   OutcomeStatus = "CONFIRMADO"
	StatusFailedStock OutcomeStatus = "FALHA_ESTOQUE"
)

const (
	MessageConfirmed    = "Estoque atualizado com sucesso."
	MessageInsufficient = "Erro ao atualizar estoque. Produto(s) insuficientes."
)

var ErrMalformed = errors.New("malformed message")

type ReservationItem struct {
	ProductID int64 `json:"productId"`
	Quantity  int32 `json:"quantity"`
}

type ReservationRequest struct {
	OrderID int64             `json:"orderId"`
	Items   []ReservationItem `json:"items"`
}

func (r ReservationRequest) Validate() error {
	if r.OrderID <= 0 {
		return fmt.Errorf("%w: orderId must be positive", ErrMalformed)
	}
	if len(r.Items) == 0 {
		return fmt.Errorf("%w: order %d has no items", ErrMalformed, r.OrderID)
	}
	for _, it := range r.Items {
		if it.ProductID <= 0 || it.Quantity <= 0 {
			return fmt.Errorf("%w: order %d has invalid item %+v", ErrMalformed, r.OrderID, it)
		}
	}
	return nil
}

type ReservationOutcome struct {
	OrderID int64         `json:"orderId"`
	Status  OutcomeStatus `json:"status"`
	Message string        `json:"message"`
}

func (o ReservationOutcome) Validate() error {
	if o.OrderID <= 0 {
		return fmt.Errorf("%w: orderId must be positive", ErrMalformed)
	}
	switch o.Status {
	case StatusConfirmed, StatusFailedStock:
		return nil
	default:
		return fmt.Errorf("%w: unknown status %q", ErrMalformed, o.Status)
	}
}

func DecodeRequest(b []byte) (ReservationRequest, error) {
	var r ReservationRequest
	if err := json.Unmarshal(b, &r); err != nil {
		return ReservationRequest{}, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	return r, r.Validate()
}

func DecodeOutcome(b []byte) (ReservationOutcome, error) {
	var o ReservationOutcome
	if err := json.Unmarshal(b, &o); err != nil {
		return ReservationOutcome{}, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	return o, o.Validate()
}
