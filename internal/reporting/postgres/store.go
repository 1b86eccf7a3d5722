// Package postgres stores reporting items in a PostgreSQL table
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sirosfoundation/go-peppol-ap/internal/reporting"
)

const schema = `CREATE TABLE IF NOT EXISTS reporting_items (
	id                  TEXT PRIMARY KEY,
	exchange_dt         TIMESTAMPTZ NOT NULL,
	direction           TEXT NOT NULL,
	c2_id               TEXT NOT NULL,
	c3_id               TEXT NOT NULL,
	doctype_id          TEXT NOT NULL,
	process_id          TEXT NOT NULL,
	transport_protocol  TEXT NOT NULL,
	c1_country_code     TEXT NOT NULL,
	c4_country_code     TEXT,
	end_user_id         TEXT NOT NULL,
	as4_message_id      TEXT NOT NULL,
	as4_conversation_id TEXT NOT NULL
)`

const insertItem = `INSERT INTO reporting_items (
	id, exchange_dt, direction, c2_id, c3_id, doctype_id, process_id,
	transport_protocol, c1_country_code, c4_country_code, end_user_id,
	as4_message_id, as4_conversation_id
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
ON CONFLICT (id) DO NOTHING`

type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Store implements reporting.Backend using a pgx connection pool
type Store struct {
	pool *pgxpool.Pool
	db   execer
}

// NewStore connects to PostgreSQL and creates the reporting table if needed
func NewStore(ctx context.Context, dsn string, maxConns int32) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parsing PostgreSQL DSN: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connecting to PostgreSQL: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging PostgreSQL: %w", err)
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("creating reporting table: %w", err)
	}
	return &Store{pool: pool, db: pool}, nil
}

// Store implements reporting.Backend
func (s *Store) Store(ctx context.Context, item reporting.Item) error {
	var c4 any
	if item.C4CountryCode != "" {
		c4 = item.C4CountryCode
	}
	_, err := s.db.Exec(ctx, insertItem,
		item.ID, item.ExchangeDateTime, string(item.Direction), item.C2ID, item.C3ID,
		item.DocTypeID, item.ProcessID, item.TransportProtocol, item.C1CountryCode, c4,
		item.EndUserID, item.AS4MessageID, item.AS4ConversationID)
	if err != nil {
		return fmt.Errorf("inserting reporting item %s: %w", item.ID, err)
	}
	return nil
}

// Close closes the pool
func (s *Store) Close(context.Context) error {
	if s.pool != nil {
		s.pool.Close()
	}
	return nil
}
