// Package postgres provides a Postgres-backed fetch history.
package postgres

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/satview/internal/imagery"
)

const defaultTable = "image_fetches"

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// FetchLogConfig controls the Postgres connection pool used for attempt rows.
type FetchLogConfig struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type queryExecCloser interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	Close()
}

// FetchLog writes refresh attempts into Postgres.
type FetchLog struct {
	pool  queryExecCloser
	table string
}

// NewFetchLog connects to Postgres using the provided config.
func NewFetchLog(ctx context.Context, cfg FetchLogConfig) (*FetchLog, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database.dsn is required")
	}
	table, err := tableName(cfg.Table)
	if err != nil {
		return nil, err
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
	return &FetchLog{pool: pool, table: table}, nil
}

// NewFetchLogWithPool constructs a log from an existing pool (primarily for testing).
func NewFetchLogWithPool(pool queryExecCloser, table string) (*FetchLog, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	name, err := tableName(table)
	if err != nil {
		return nil, err
	}
	return &FetchLog{pool: pool, table: name}, nil
}

func tableName(table string) (string, error) {
	if table == "" {
		table = defaultTable
	}
	if !validTableName.MatchString(table) {
		return "", fmt.Errorf("invalid table name %q", table)
	}
	return table, nil
}

// Close releases the underlying pool resources.
func (l *FetchLog) Close() {
	if l == nil || l.pool == nil {
		return
	}
	l.pool.Close()
}

// EnsureSchema creates the attempts table when it does not exist yet.
func (l *FetchLog) EnsureSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	id TEXT PRIMARY KEY,
	started_at TIMESTAMPTZ NOT NULL,
	duration_ms BIGINT NOT NULL,
	success BOOLEAN NOT NULL,
	status_code INTEGER NOT NULL DEFAULT 0,
	bytes INTEGER NOT NULL DEFAULT 0,
	digest TEXT NOT NULL DEFAULT '',
	blob_uri TEXT NOT NULL DEFAULT '',
	reason TEXT NOT NULL DEFAULT ''
)`, l.table)
	if _, err := l.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("create %s: %w", l.table, err)
	}
	return nil
}

// Record inserts one attempt row.
func (l *FetchLog) Record(ctx context.Context, attempt imagery.Attempt) error {
	if attempt.ID == "" {
		return fmt.Errorf("attempt id is required")
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	id,
	started_at,
	duration_ms,
	success,
	status_code,
	bytes,
	digest,
	blob_uri,
	reason
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9
)`, l.table)

	args := []any{
		attempt.ID,
		attempt.StartedAt,
		attempt.Duration.Milliseconds(),
		attempt.Success,
		int32(attempt.StatusCode),
		int32(attempt.Bytes),
		attempt.Digest,
		attempt.BlobURI,
		attempt.Reason,
	}
	if _, err := l.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("insert attempt: %w", err)
	}
	return nil
}

// Recent returns up to limit attempts, newest first.
func (l *FetchLog) Recent(ctx context.Context, limit int) ([]imagery.Attempt, error) {
	if limit <= 0 {
		limit = 20
	}
	query := fmt.Sprintf(`
SELECT id, started_at, duration_ms, success, status_code, bytes, digest, blob_uri, reason
FROM %s
ORDER BY started_at DESC
LIMIT $1`, l.table)

	rows, err := l.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("query attempts: %w", err)
	}
	defer rows.Close()

	var out []imagery.Attempt
	for rows.Next() {
		var (
			a          imagery.Attempt
			durationMs int64
			status     int32
			size       int32
		)
		if err := rows.Scan(
			&a.ID,
			&a.StartedAt,
			&durationMs,
			&a.Success,
			&status,
			&size,
			&a.Digest,
			&a.BlobURI,
			&a.Reason,
		); err != nil {
			return nil, fmt.Errorf("scan attempt: %w", err)
		}
		a.Duration = time.Duration(durationMs) * time.Millisecond
		a.StatusCode = int(status)
		a.Bytes = int(size)
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate attempts: %w", err)
	}
	return out, nil
}
