package main

import (
	"time"

	"github.com/dmehra2102/order-inventory-choreography/pkg/config"
	"github.com/dmehra2102/order-inventory-choreography/pkg/messages"
)

type Config struct {
	ServiceName   string
	Env           string
	HTTPAddr      string
	GRPCAddr      string
	PostgresURL   string
	KafkaBrokers  []string
	RedisAddr     string
	RequestTopic  string
	ResponseTopic string
	DLQSuffix     string
	Workers       int
	MaxAttempts   int
	// OutboxMaxAttempts of 0 keeps retrying a row until the broker takes it.
	OutboxMaxAttempts int
	OutboxMaxBackoff  time.Duration
	DedupeTTL         time.Duration
	RelayInterval     time.Duration
	OTLPEndpoint      string
}

// Load reads the environment once. An empty PG_URL selects the in-memory stores.
func Load() (Config, error) {
	cfg := Config{
		ServiceName:   config.String("SERVICE_NAME", "inventory-service"),
		Env:           config.String("ENV", "development"),
		HTTPAddr:      config.String("HTTP_ADDR", ":8081"),
		GRPCAddr:      config.String("GRPC_ADDR", ":50051"),
		PostgresURL:   config.String("PG_URL", ""),
		KafkaBrokers:  config.List("KAFKA_ADDR", "localhost:9092"),
		RedisAddr:     config.String("REDIS_ADDR", ""),
		RequestTopic:  config.String("REQUEST_TOPIC", messages.DefaultRequestTopic),
		ResponseTopic: config.String("RESPONSE_TOPIC", messages.DefaultResponseTopic),
		DLQSuffix:     config.String("DLQ_SUFFIX", ".dlq"),
		OTLPEndpoint:  config.String("OTLP_ENDPOINT", ""),
	}
	var err error
	if cfg.Workers, err = config.Int("WORKERS", 4); err != nil {
		return Config{}, err
	}
	if cfg.MaxAttempts, err = config.Int("MAX_ATTEMPTS", 5); err != nil {
		return Config{}, err
	}
	if cfg.OutboxMaxAttempts, err = config.Int("OUTBOX_MAX_ATTEMPTS", 0); err != nil {
		return Config{}, err
	}
	if cfg.OutboxMaxBackoff, err = config.Duration("OUTBOX_MAX_BACKOFF", time.Minute); err != nil {
		return Config{}, err
	}
	if cfg.DedupeTTL, err = config.Duration("DEDUPE_TTL", 24*time.Hour); err != nil {
		return Config{}, err
	}
	if cfg.RelayInterval, err = config.Duration("RELAY_INTERVAL", 500*time.Millisecond); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
