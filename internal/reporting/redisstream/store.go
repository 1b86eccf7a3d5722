// Package redisstream appends reporting items to a Redis stream
package redisstream

import (
	"context"
	"fmt"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"

	"github.com/sirosfoundation/go-peppol-ap/internal/reporting"
)

// Config holds Redis settings
type Config struct {
	Addr     string
	Password string
	DB       int
	Stream   string
	// MaxLen trims the stream approximately to this length. Zero keeps all entries.
	MaxLen int64
}

type streamAdder interface {
	XAdd(ctx context.Context, a *redis.XAddArgs) *redis.StringCmd
}

// Store implements reporting.Backend on a Redis stream
type Store struct {
	client *redis.Client
	rdb    streamAdder
	stream string
	maxLen int64
}

// NewStore connects to Redis
func NewStore(ctx context.Context, cfg *Config) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("pinging Redis: %w", err)
	}
	return newStore(client, client, cfg), nil
}

func newStore(client *redis.Client, rdb streamAdder, cfg *Config) *Store {
	stream := cfg.Stream
	if stream == "" {
		stream = "peppol:reporting"
	}
	return &Store{client: client, rdb: rdb, stream: stream, maxLen: cfg.MaxLen}
}

// Store implements reporting.Backend. The entry carries the item ID,
// direction and the JSON encoded item.
func (s *Store) Store(ctx context.Context, item reporting.Item) error {
	data, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("encoding reporting item: %w", err)
	}
	args := &redis.XAddArgs{
		Stream: s.stream,
		Values: map[string]interface{}{
			"id":        item.ID,
			"direction": string(item.Direction),
			"item":      string(data),
		},
	}
	if s.maxLen > 0 {
		args.MaxLen = s.maxLen
		args.Approx = true
	}
	if err := s.rdb.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("adding reporting item %s to stream %s: %w", item.ID, s.stream, err)
	}
	return nil
}

// Close closes the Redis client
func (s *Store) Close(context.Context) error {
	if s.client == nil {
		return nil
	}
	return s.client.Close()
}
