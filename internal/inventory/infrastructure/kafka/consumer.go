package kafka

import (
	"context"
	"errors"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/dmehra2102/order-inventory-choreography/internal/inventory/domain"
	"github.com/dmehra2102/order-inventory-choreography/pkg/consumer"
	"github.com/dmehra2102/order-inventory-choreography/pkg/logging"
	"github.com/dmehra2102/order-inventory-choreography/pkg/messages"
)

type Reserver interface {
	Reserve(ctx context.Context, req messages.ReservationRequest) (messages.ReservationOutcome, error)
}

// RequestHandler feeds reservation requests from the request channel to the
// reservation service. The outcome leaves through the outbox, not from here.
type RequestHandler struct {
	log *zap.Logger
	svc Reserver
}

func NewRequestHandler(log *zap.Logger, svc Reserver) *RequestHandler {
	return &RequestHandler{log: log, svc: svc}
}

func (h *RequestHandler) Handle(ctx context.Context, msg kafka.Message) error {
	req, err := messages.DecodeRequest(msg.Value)
	if err != nil {
		return consumer.Permanent(err)
	}

	out, err := h.svc.Reserve(ctx, req)
	if errors.Is(err, domain.ErrValidation) {
		return consumer.Permanent(err)
	}
	if err != nil {
		return err
	}
	logging.WithTrace(ctx, h.log).Debug("reservation outcome queued",
		zap.Int64("order_id", out.OrderID),
		zap.String("status", string(out.Status)),
	)
	return nil
}
