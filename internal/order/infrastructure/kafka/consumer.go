package kafka

import (
	"context"

	"github.com/segmentio/kafka-go"

	"github.com/dmehra2102/order-inventory-choreography/pkg/consumer"
	"github.com/dmehra2102/order-inventory-choreography/pkg/messages"
)

type OutcomeApplier interface {
	ApplyOutcome(ctx context.Context, out messages.ReservationOutcome) error
}

// OutcomeHandler is the order status worker's entry point on the response channel.
type OutcomeHandler struct {
	svc OutcomeApplier
}

func NewOutcomeHandler(svc OutcomeApplier) *OutcomeHandler {
	return &OutcomeHandler{svc: svc}
}

func (h *OutcomeHandler) Handle(ctx context.Context, msg kafka.Message) error {
	out, err := messages.DecodeOutcome(msg.Value)
	if err != nil {
		return consumer.Permanent(err)
	}
	return h.svc.ApplyOutcome(ctx, out)
}
