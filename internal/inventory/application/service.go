package application

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/dmehra2102/order-inventory-choreography/internal/inventory/domain"
	"github.com/dmehra2102/order-inventory-choreography/pkg/logging"
	"github.com/dmehra2102/order-inventory-choreography/pkg/messages"
	"github.com/dmehra2102/order-inventory-choreography/pkg/metrics"
	"github.com/dmehra2102/order-inventory-choreography/pkg/outbox"
	"github.com/dmehra2102/order-inventory-choreography/pkg/tracing"
)

var ErrPersistence = errors.New("persistence failure")

type Service struct {
	log      *zap.Logger
	products ProductRepository
	stock    StockStore
	metrics  *metrics.Metrics
	tracer   trace.Tracer
}

func NewService(log *zap.Logger, products ProductRepository, stock StockStore, m *metrics.Metrics) *Service {
	return &Service{
		log:      log,
		products: products,
		stock:    stock,
		metrics:  m,
		tracer:   otel.Tracer("inventory-service"),
	}
}

// Reserve processes one reservation request. Insufficient or missing stock is
// a FAILED_STOCK outcome, never an error; errors mean the store could not
// commit and the request should be redelivered.
func (s *Service) Reserve(ctx context.Context, req messages.ReservationRequest) (out messages.ReservationOutcome, err error) {
	started := time.Now()
	ctx, span := s.tracer.Start(ctx, "Reserve", trace.WithAttributes(attribute.Int64("order.id", req.OrderID)))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			s.metrics.Reservation("worker", "error", started)
		}
		span.End()
	}()

	lines := make([]domain.Line, 0, len(req.Items))
	for _, it := range req.Items {
		lines = append(lines, domain.Line{ProductID: it.ProductID, Quantity: int64(it.Quantity)})
	}
	lines, err = domain.Consolidate(lines)
	if err != nil {
		return messages.ReservationOutcome{}, err
	}

	res, replayed, err := s.stock.ReserveOrder(ctx, req.OrderID, lines, outcomeEvent(tracing.Traceparent(ctx)))
	if err != nil {
		return messages.ReservationOutcome{}, fmt.Errorf("%w: reserve order %d: %w", ErrPersistence, req.OrderID, err)
	}

	log := logging.WithTrace(ctx, s.log).With(
		zap.Int64("order_id", req.OrderID),
		zap.String("result", string(res.Result)),
	)
	if replayed {
		log.Info("reservation replayed from ledger")
		s.metrics.Reservation("worker", "replayed", started)
	} else {
		log.Info("reservation processed", zap.Int("lines", len(lines)), zap.Int("shortages", len(res.Shortages)))
		s.metrics.Reservation("worker", resultLabel(res.Result), started)
	}
	span.SetAttributes(attribute.String("reservation.result", string(res.Result)), attribute.Bool("reservation.replayed", replayed))
	return res.Outcome(), nil
}

// ReserveNow is the synchronous single-product path. It reports false when
// stock is short and domain.ErrNotFound when the product does not exist.
func (s *Service) ReserveNow(ctx context.Context, productID int64, quantity int32) (bool, error) {
	started := time.Now()
	lines, err := domain.Consolidate([]domain.Line{{ProductID: productID, Quantity: int64(quantity)}})
	if err != nil {
		return false, err
	}
	shortages, err := s.stock.ReserveNow(ctx, lines[0])
	if err != nil {
		s.metrics.Reservation("direct", "error", started)
		return false, fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	if len(shortages) > 0 {
		if shortages[0].Missing {
			s.metrics.Reservation("direct", "not_found", started)
			return false, fmt.Errorf("%w: %d", domain.ErrNotFound, productID)
		}
		s.log.Info("direct reservation refused", zap.Int64("product_id", productID), zap.String("detail", shortages[0].String()))
		s.metrics.Reservation("direct", resultLabel(domain.ResultFailedStock), started)
		return false, nil
	}
	s.metrics.Reservation("direct", resultLabel(domain.ResultConfirmed), started)
	return true, nil
}

func (s *Service) CreateProduct(ctx context.Context, name string, price decimal.Decimal, stock int32) (domain.Product, error) {
	p, err := domain.NewProduct(name, price, stock)
	if err != nil {
		return domain.Product{}, err
	}
	return s.products.Create(ctx, p)
}

func (s *Service) GetProduct(ctx context.Context, id int64) (domain.Product, error) {
	return s.products.Get(ctx, id)
}

func (s *Service) ListProducts(ctx context.Context) ([]domain.Product, error) {
	return s.products.List(ctx)
}

func (s *Service) UpdateProduct(ctx context.Context, id int64, name string, price decimal.Decimal, stock int32) (domain.Product, error) {
	p, err := domain.NewProduct(name, price, stock)
	if err != nil {
		return domain.Product{}, err
	}
	p.ID = id
	return s.products.Update(ctx, p)
}

func (s *Service) DeleteProduct(ctx context.Context, id int64) error {
	return s.products.Delete(ctx, id)
}

func outcomeEvent(traceparent string) Announce {
	return func(res domain.Reservation) (outbox.Event, error) {
		payload, err := json.Marshal(res.Outcome())
		if err != nil {
			return outbox.Event{}, err
		}
		return outbox.Event{
			AggregateType: "reservation",
			AggregateID:   strconv.FormatInt(res.OrderID, 10),
			Type:          messages.EventReservationOutcome,
			Payload:       payload,
			Headers:       map[string]string{"source": "inventory-service"},
			Traceparent:   traceparent,
		}, nil
	}
}

func resultLabel(r domain.Result) string {
	if r == domain.ResultConfirmed {
		return "confirmed"
	}
	return "failed_stock"
}
