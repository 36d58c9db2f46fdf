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

	"github.com/dmehra2102/order-inventory-choreography/internal/inventory/application"
	invgrpc "github.com/dmehra2102/order-inventory-choreography/internal/inventory/infrastructure/grpc"
	invhttp "github.com/dmehra2102/order-inventory-choreography/internal/inventory/infrastructure/http"
	invkafka "github.com/dmehra2102/order-inventory-choreography/internal/inventory/infrastructure/kafka"
	invmemory "github.com/dmehra2102/order-inventory-choreography/internal/inventory/infrastructure/memory"
	invpg "github.com/dmehra2102/order-inventory-choreography/internal/inventory/infrastructure/postgres"
	"github.com/dmehra2102/order-inventory-choreography/pkg/broker"
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
		log.Error("inventory-service stopped", zap.Error(err))
		os.Exit(1)
	}
	log.Info("inventory-service shutdown complete")
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
		products    application.ProductRepository
		stock       application.StockStore
		outboxStore outbox.Store
	)
	if cfg.PostgresURL != "" {
		pool, err := pgxpool.New(ctx, cfg.PostgresURL)
		if err != nil {
			return err
		}
		defer pool.Close()
		if err := invpg.Migrate(ctx, pool); err != nil {
			return err
		}
		repo := invpg.NewRepository(log, pool)
		products, stock = repo, repo
		outboxStore = outbox.NewPostgresStore(log, pool)
	} else {
		log.Warn("PG_URL empty, using in-memory stores")
		ob := outbox.NewMemoryStore()
		store := invmemory.NewStore(ob)
		products, stock = store, store
		outboxStore = ob
	}

	if err := broker.EnsureTopics(ctx, cfg.KafkaBrokers,
		broker.Topic{Name: cfg.RequestTopic, Partitions: cfg.Workers},
		broker.Topic{Name: cfg.ResponseTopic, Partitions: cfg.Workers},
		broker.Topic{Name: cfg.RequestTopic + cfg.DLQSuffix},
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

	svc := application.NewService(log, products, stock, m)

	relay := outbox.NewRelay(log, outboxStore,
		outbox.NewDispatcher(log, writer, cfg.ResponseTopic, m),
		cfg.ServiceName+"-relay",
		outbox.WithInterval(cfg.RelayInterval),
		outbox.WithMaxAttempts(cfg.OutboxMaxAttempts),
		outbox.WithBackoff(time.Second, cfg.OutboxMaxBackoff),
	)

	group := consumer.New(log,
		consumer.Config{
			Topic:           cfg.RequestTopic,
			Workers:         cfg.Workers,
			MaxAttempts:     cfg.MaxAttempts,
			DeadLetterTopic: cfg.RequestTopic + cfg.DLQSuffix,
		},
		consumer.KafkaReaders(cfg.KafkaBrokers, cfg.RequestTopic, cfg.ServiceName),
		invkafka.NewRequestHandler(log, svc),
		m,
		consumer.WithDeduper(dedupe),
		consumer.WithDeadLetter(writer),
	)

	gs, err := invgrpc.Run(cfg.GRPCAddr, invgrpc.NewServer(log, svc))
	if err != nil {
		return err
	}
	log.Info("grpc listening", zap.String("addr", cfg.GRPCAddr))

	router := httpapi.NewRouter(log, m)
	router.Mount("/", invhttp.NewHandler(log, svc).Routes())
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
		gs.GracefulStop()
		return nil
	})

	if err := eg.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
