package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/dmehra2102/order-inventory-choreography/internal/order/application"
	ordergrpc "github.com/dmehra2102/order-inventory-choreography/internal/order/infrastructure/grpc"
	orderhttp "github.com/dmehra2102/order-inventory-choreography/internal/order/infrastructure/http"
	orderkafka "github.com/dmehra2102/order-inventory-choreography/internal/order/infrastructure/kafka"
	ordermemory "github.com/dmehra2102/order-inventory-choreography/internal/order/infrastructure/memory"
	orderpg "github.com/dmehra2102/order-inventory-choreography/internal/order/infrastructure/postgres"
	"github.com/dmehra2102/order-inventory-choreography/pkg/broker"
	"github.com/dmehra2102/order-inventory-choreography/pkg/catalog"
	"github.com/dmehra2102/order-inventory-choreography/pkg/consumer"
	"github.com/dmehra2102/order-inventory-choreography/pkg/httpapi"
	"github.com/dmehra2102/order-inventory-choreography/pkg/idempotency"
	"github.com/dmehra2102/order-inventory-choreography/pkg/logging"
	"github.com/dmehra2102/order-inventory-choreography/pkg/metrics"
	"github.com/dmehra2102/order-inventory-choreography/pkg/outbox"
	"github.com/dmehra2102/order-inventory-choreography/pkg/shutdown"
	"github.com/dmehra2102/order-inventory-choreography/pkg/tracing"
)

func main() {
	cfg, err := Load()
	if err != nil {
		zap.NewExample().Fatal("invalid configuration", zap.Error(err))
	}
	log := logging.MustNew(cfg.ServiceName, cfg.Env)
	defer func() { _ = log.Sync() }()
	zap.ReplaceGlobals(log)

	if err := run(cfg, log); err != nil {
		log.Error("order-service stopped", zap.Error(err))
		os.Exit(1)
	}
	log.Info("order-service shutdown complete")
}

func run(cfg Config, log *zap.Logger) error {
	ctx, cancel := shutdown.WithSignals(context.Background(), log)
	defer cancel()

	tp, err := tracing.Init(ctx, cfg.ServiceName, cfg.OTLPEndpoint, log)
	if err != nil {
		return err
	}
	defer shutdown.Drain(log, 5*time.Second, tp)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	var (
		repo        application.OrderRepository
		outboxStore outbox.Store
	)
	if cfg.PostgresURL != "" {
		pool, err := pgxpool.New(ctx, cfg.PostgresURL)
		if err != nil {
			return err
		}
		defer pool.Close()
		if err := orderpg.Migrate(ctx, pool); err != nil {
			return err
		}
		repo = orderpg.NewRepository(log, pool)
		outboxStore = outbox.NewPostgresStore(log, pool)
	} else {
		log.Warn("PG_URL empty, using in-memory stores")
		ob := outbox.NewMemoryStore()
		repo = ordermemory.NewRepository(ob)
		outboxStore = ob
	}

	if err := broker.EnsureTopics(ctx, cfg.KafkaBrokers,
		broker.Topic{Name: cfg.RequestTopic, Partitions: cfg.Workers},
		broker.Topic{Name: cfg.ResponseTopic, Partitions: cfg.Workers},
		broker.Topic{Name: cfg.ResponseTopic + cfg.DLQSuffix},
	); err != nil {
		return err
	}

	writer := broker.NewWriter(cfg.KafkaBrokers)
	defer writer.Close()

	var dedupe consumer.Deduper = idempotency.NewMemoryStore(cfg.DedupeTTL)
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			return err
		}
		dedupe = idempotency.NewRedisStore(rdb, cfg.DedupeTTL)
	}

	cat, err := catalog.Dial(cfg.CatalogAddr)
	if err != nil {
		return err
	}
	defer cat.Close()

	svc := application.NewService(log, repo, ordergrpc.NewCatalogClient(cat), m)

	relay := outbox.NewRelay(log, outboxStore,
		outbox.NewDispatcher(log, writer, cfg.RequestTopic, m),
		cfg.ServiceName+"-relay",
		outbox.WithInterval(cfg.RelayInterval),
		outbox.WithMaxAttempts(cfg.OutboxMaxAttempts),
		outbox.WithBackoff(time.Second, cfg.OutboxMaxBackoff),
	)

	group := consumer.New(log,
		consumer.Config{
			Topic:           cfg.ResponseTopic,
			Workers:         cfg.Workers,
			MaxAttempts:     cfg.MaxAttempts,
			DeadLetterTopic: cfg.ResponseTopic + cfg.DLQSuffix,
		},
		consumer.KafkaReaders(cfg.KafkaBrokers, cfg.ResponseTopic, cfg.ServiceName),
		orderkafka.NewOutcomeHandler(svc),
		m,
		consumer.WithDeduper(dedupe),
		consumer.WithDeadLetter(writer),
	)

	router := httpapi.NewRouter(log, m)
	router.Mount("/", orderhttp.NewHandler(log, svc).Routes())
	srv := httpapi.NewServer(cfg.HTTPAddr, router)

	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error { return relay.Run(ctx) })
	eg.Go(func() error { return group.Run(ctx) })
	eg.Go(func() error {
		log.Info("http listening", zap.String("addr", cfg.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	eg.Go(func() error {
		<-ctx.Done()
		shutdown.Drain(log, 10*time.Second, srv)
		return nil
	})

	if err := eg.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
