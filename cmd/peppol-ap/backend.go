package main

import (
	"context"
	"fmt"

	"github.com/sirosfoundation/go-peppol-ap/internal/config"
	"github.com/sirosfoundation/go-peppol-ap/internal/reporting"
	"github.com/sirosfoundation/go-peppol-ap/internal/reporting/kafka"
	"github.com/sirosfoundation/go-peppol-ap/internal/reporting/mongodb"
	"github.com/sirosfoundation/go-peppol-ap/internal/reporting/postgres"
	"github.com/sirosfoundation/go-peppol-ap/internal/reporting/redisstream"
)

// newBackend creates the configured reporting backend. It returns nil
// when reporting is disabled.
func newBackend(ctx context.Context, cfg *config.Config) (reporting.Backend, error) {
	rc := cfg.Reporting
	switch rc.Backend {
	case config.BackendNone:
		return nil, nil
	case config.BackendMemory:
		return reporting.NewMemoryBackend(), nil
	case config.BackendMongoDB:
		return mongodb.NewStore(ctx, &mongodb.Config{
			URI:        rc.MongoDB.URI,
			Database:   rc.MongoDB.Database,
			Collection: rc.MongoDB.Collection,
			Timeout:    rc.AttemptTimeout,
		})
	case config.BackendPostgres:
		return postgres.NewStore(ctx, rc.Postgres.DSN, rc.Postgres.MaxConns)
	case config.BackendRedis:
		return redisstream.NewStore(ctx, &redisstream.Config{
			Addr:     rc.Redis.Addr,
			Password: rc.Redis.Password,
			DB:       rc.Redis.DB,
			Stream:   rc.Redis.Stream,
			MaxLen:   rc.Redis.MaxLen,
		})
	case config.BackendKafka:
		return kafka.NewProducer(&kafka.Config{
			Brokers:  rc.Kafka.Brokers,
			Topic:    rc.Kafka.Topic,
			ClientID: rc.Kafka.ClientID,
		})
	default:
		return nil, fmt.Errorf("unknown reporting backend %q", rc.Backend)
	}
}
