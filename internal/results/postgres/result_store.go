// Package postgres provides Postgres-backed persistence for extraction
// results.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/policy-orchestrator/internal/pipeline"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// ResultStoreConfig controls the Postgres connection pool used for result rows.
type ResultStoreConfig struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type pgxPool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Close()
}

// ResultStore writes extraction result rows into Postgres. The doc_key
// column carries a unique constraint, so duplicate writes are no-ops.
type ResultStore struct {
	pool  pgxPool
	table string
}

// NewResultStore creates a Postgres-backed ResultStore using the provided config.
func NewResultStore(ctx context.Context, cfg ResultStoreConfig) (*ResultStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	table := cfg.Table
	if table == "" {
		table = "extraction_results"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &ResultStore{pool: pool, table: table}, nil
}

// NewResultStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewResultStoreWithPool(pool pgxPool, table string) (*ResultStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = "extraction_results"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &ResultStore{pool: pool, table: table}, nil
}

// Close releases the underlying pool resources.
func (s *ResultStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// Exists reports whether a result row with the key is already persisted.
func (s *ResultStore) Exists(ctx context.Context, key string) (bool, error) {
	if s == nil || s.pool == nil {
		return false, fmt.Errorf("result store is not configured")
	}
	query := fmt.Sprintf(`SELECT EXISTS (SELECT 1 FROM %s WHERE doc_key = $1)`, s.table)
	var exists bool
	if err := s.pool.QueryRow(ctx, query, key).Scan(&exists); err != nil {
		return false, pipeline.Infrastructure(fmt.Errorf("check result exists: %w", err))
	}
	return exists, nil
}

// Write inserts the record unless the key already exists. The conditional
// insert makes two racing attempts of the same unit safe; the loser simply
// reports inserted=false.
func (s *ResultStore) Write(ctx context.Context, rec pipeline.ResultRecord) (bool, error) {
	if s == nil || s.pool == nil {
		return false, fmt.Errorf("result store is not configured")
	}
	if rec.Key == "" {
		return false, fmt.Errorf("record key is required")
	}
	codesJSON, err := json.Marshal(rec.Document.Codes)
	if err != nil {
		return false, fmt.Errorf("marshal codes: %w", err)
	}
	fieldsJSON, err := json.Marshal(rec.Document.Fields)
	if err != nil {
		return false, fmt.Errorf("marshal fields: %w", err)
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	doc_key,
	task_id,
	source_url,
	title,
	effective_at,
	codes,
	fields,
	extracted_at
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8
) ON CONFLICT (doc_key) DO NOTHING`, s.table)

	args := []any{
		rec.Key,
		rec.TaskID,
		rec.Document.SourceURL,
		rec.Document.Title,
		rec.Document.EffectiveAt,
		codesJSON,
		fieldsJSON,
		rec.ExtractedAt,
	}
	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return false, pipeline.Infrastructure(fmt.Errorf("insert result: %w", err))
	}
	return tag.RowsAffected() == 1, nil
}
