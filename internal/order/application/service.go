package application

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/dmehra2102/order-inventory-choreography/internal/order/domain"
	"github.com/dmehra2102/order-inventory-choreography/pkg/logging"
	"github.com/dmehra2102/order-inventory-choreography/pkg/messages"
	"github.com/dmehra2102/order-inventory-choreography/pkg/metrics"
	"github.com/dmehra2102/order-inventory-choreography/pkg/outbox"
	"github.com/dmehra2102/order-inventory-choreography/pkg/tracing"
)

var ErrPersistence = errors.New("persistence failure")

type LineRequest struct {
	ProductID int64
	Quantity  int32
}

type Service struct {
	log     *zap.Logger
	repo    OrderRepository
	catalog ProductCatalog
	metrics *metrics.Metrics
	tracer  trace.Tracer
}

func NewService(log *zap.Logger, repo OrderRepository, catalog ProductCatalog, m *metrics.Metrics) *Service {
	return &Service{
		log:     log,
		repo:    repo,
		catalog: catalog,
		metrics: m,
		tracer:  otel.Tracer("order-service"),
	}
}

// CreateOrder validates the lines, snapshots unit prices, and persists the
// order as PENDING together with its reservation request. The request is
// published by the outbox relay after commit, never before.
func (s *Service) CreateOrder(ctx context.Context, req []LineRequest) (o domain.Order, err error) {
	ctx, span := s.tracer.Start(ctx, "CreateOrder")
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	lines := make([]domain.Line, 0, len(req))
	for _, l := range req {
		lines = append(lines, domain.Line{ProductID: l.ProductID, Quantity: l.Quantity})
	}
	if err := domain.ValidateLines(lines); err != nil {
		return domain.Order{}, err
	}

	prices := make(map[int64]CatalogProduct, len(lines))
	for i, l := range lines {
		p, ok := prices[l.ProductID]
		if !ok {
			p, err = s.catalog.Lookup(ctx, l.ProductID)
			if err != nil {
				return domain.Order{}, fmt.Errorf("price lookup for product %d: %w", l.ProductID, err)
			}
			prices[l.ProductID] = p
		}
		lines[i].UnitPrice = p.Price
	}

	o, err = domain.NewOrder(lines)
	if err != nil {
		return domain.Order{}, err
	}
	if o, err = o.Transition(domain.StatusPending); err != nil {
		return domain.Order{}, err
	}

	o, err = s.repo.Create(ctx, o, requestEvent(tracing.Traceparent(ctx)))
	if err != nil {
		return domain.Order{}, fmt.Errorf("%w: create order: %w", ErrPersistence, err)
	}

	span.SetAttributes(attribute.Int64("order.id", o.ID))
	s.metrics.Transition(string(domain.StatusPending), true)
	logging.WithTrace(ctx, s.log).Info("order accepted",
		zap.Int64("order_id", o.ID),
		zap.Int("lines", len(o.Lines)),
		zap.String("total", o.Total.StringFixed(2)),
	)
	return o, nil
}

func (s *Service) GetOrder(ctx context.Context, id int64) (domain.Order, error) {
	return s.repo.Get(ctx, id)
}

func (s *Service) ListOrders(ctx context.Context) ([]domain.Order, error) {
	return s.repo.List(ctx)
}

// ApplyOutcome closes the loop for one reservation outcome. Outcomes for
// unknown orders and for orders no longer PENDING are logged and dropped, so
// redelivery is harmless. Only store failures are returned.
func (s *Service) ApplyOutcome(ctx context.Context, out messages.ReservationOutcome) error {
	ctx, span := s.tracer.Start(ctx, "ApplyOutcome", trace.WithAttributes(attribute.Int64("order.id", out.OrderID)))
	defer span.End()
	log := logging.WithTrace(ctx, s.log).With(zap.Int64("order_id", out.OrderID), zap.String("outcome", string(out.Status)))

	target, err := domain.StatusFromOutcome(out.Status)
	if err != nil {
		log.Warn("outcome with unknown status dropped", zap.Error(err))
		return nil
	}

	current, applied, err := s.repo.TransitionStatus(ctx, out.OrderID, domain.StatusPending, target)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		log.Warn("outcome references unknown order")
		return nil
	case err != nil:
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("%w: apply outcome to order %d: %w", ErrPersistence, out.OrderID, err)
	}

	s.metrics.Transition(string(target), applied)
	if !applied {
		log.Info("outcome ignored", zap.String("current_status", string(current)))
		return nil
	}
	log.Info("order status updated", zap.String("status", string(current)), zap.String("message", out.Message))
	return nil
}

func requestEvent(traceparent string) Announce {
	return func(o domain.Order) (outbox.Event, error) {
		payload, err := json.Marshal(o.ReservationRequest())
		if err != nil {
			return outbox.Event{}, err
		}
		return outbox.Event{
			AggregateType: "order",
			AggregateID:   strconv.FormatInt(o.ID, 10),
			Type:          messages.EventReservationRequested,
			Payload:       payload,
			Headers:       map[string]string{"source": "order-service"},
			Traceparent:   traceparent,
		}, nil
	}
}
