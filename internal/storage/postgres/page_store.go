// Package postgres provides Postgres-backed persistence for runs and pages.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/contentcollector/collector/internal/crawler"
)

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type execCloser interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Close()
}

// PageStore implements crawler.PageStore over pgx. Page writes are idempotent
// upserts on the page id, so a retried WritePage overwrites instead of
// duplicating.
//
// Expected schema:
//
//	CREATE TABLE runs (
//		id UUID PRIMARY KEY,
//		input_file TEXT NOT NULL,
//		status TEXT NOT NULL,
//		max_depth INT NOT NULL,
//		total_urls INT NOT NULL DEFAULT 0,
//		error_text TEXT NOT NULL DEFAULT '',
//		created_at TIMESTAMPTZ NOT NULL,
//		updated_at TIMESTAMPTZ NOT NULL
//	);
//
//	CREATE TABLE pages (
//		id UUID PRIMARY KEY,
//		run_id UUID NOT NULL REFERENCES runs(id),
//		url TEXT NOT NULL,
//		parent_id UUID REFERENCES pages(id),
//		domain TEXT NOT NULL,
//		status_code INT NOT NULL,
//		depth INT NOT NULL,
//		title TEXT NOT NULL DEFAULT '',
//		meta_description TEXT NOT NULL DEFAULT '',
//		content_type TEXT NOT NULL DEFAULT '',
//		content_length INT NOT NULL DEFAULT 0,
//		content_hash TEXT NOT NULL DEFAULT '',
//		retry_count INT NOT NULL DEFAULT 0,
//		last_error TEXT NOT NULL DEFAULT '',
//		scraped_at TIMESTAMPTZ NOT NULL,
//		raw_path TEXT NOT NULL DEFAULT '',
//		body_path TEXT NOT NULL DEFAULT '',
//		headers_path TEXT NOT NULL DEFAULT '',
//		metadata_path TEXT NOT NULL DEFAULT ''
//	);
type PageStore struct {
	pool execCloser
}

// NewPageStore connects a pool and verifies the server is reachable.
func NewPageStore(ctx context.Context, cfg Config) (*PageStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database.dsn is required")
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
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &PageStore{pool: pool}, nil
}

// NewPageStoreWithPool constructs a store from an existing pool, primarily
// for testing.
func NewPageStoreWithPool(pool execCloser) (*PageStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &PageStore{pool: pool}, nil
}

// Close releases the pool.
func (s *PageStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// CreateRun inserts the run row.
func (s *PageStore) CreateRun(ctx context.Context, run crawler.Run) error {
	query := `
INSERT INTO runs (id, input_file, status, max_depth, total_urls, error_text, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`
	_, err := s.pool.Exec(ctx, query,
		run.ID,
		run.InputFile,
		string(run.Status),
		run.MaxDepth,
		run.TotalURLs,
		run.ErrorText,
		run.CreatedAt,
		run.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// UpdateRunStatus sets the run's terminal (or current) status.
func (s *PageStore) UpdateRunStatus(ctx context.Context, runID string, status crawler.RunStatus, errText string) error {
	query := `UPDATE runs SET status = $2, error_text = $3, updated_at = NOW() WHERE id = $1`
	if _, err := s.pool.Exec(ctx, query, runID, string(status), errText); err != nil {
		return fmt.Errorf("update run status: %w", err)
	}
	return nil
}

// UpdateRunTotals records how many URLs the run admitted.
func (s *PageStore) UpdateRunTotals(ctx context.Context, runID string, totalURLs int) error {
	query := `UPDATE runs SET total_urls = $2, updated_at = NOW() WHERE id = $1`
	if _, err := s.pool.Exec(ctx, query, runID, totalURLs); err != nil {
		return fmt.Errorf("update run totals: %w", err)
	}
	return nil
}

// WritePage upserts a page row keyed by id.
func (s *PageStore) WritePage(ctx context.Context, page crawler.PageRecord) error {
	if page.ID == "" {
		return fmt.Errorf("page id is required")
	}
	query := `
INSERT INTO pages (
	id, run_id, url, parent_id, domain, status_code, depth,
	title, meta_description, content_type, content_length, content_hash,
	retry_count, last_error, scraped_at,
	raw_path, body_path, headers_path, metadata_path
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19
)
ON CONFLICT (id) DO UPDATE SET
	status_code = EXCLUDED.status_code,
	title = EXCLUDED.title,
	meta_description = EXCLUDED.meta_description,
	content_type = EXCLUDED.content_type,
	content_length = EXCLUDED.content_length,
	content_hash = EXCLUDED.content_hash,
	retry_count = EXCLUDED.retry_count,
	last_error = EXCLUDED.last_error,
	scraped_at = EXCLUDED.scraped_at,
	raw_path = EXCLUDED.raw_path,
	body_path = EXCLUDED.body_path,
	headers_path = EXCLUDED.headers_path,
	metadata_path = EXCLUDED.metadata_path`

	args := []any{
		page.ID,
		page.RunID,
		page.URL,
		nullable(page.ParentID),
		page.Domain,
		page.StatusCode,
		page.Depth,
		page.Title,
		page.MetaDescription,
		page.ContentType,
		page.ContentLength,
		page.ContentHash,
		page.RetryCount,
		page.LastError,
		page.ScrapedAt,
		page.Artifacts.Raw,
		page.Artifacts.Body,
		page.Artifacts.Headers,
		page.Artifacts.Metadata,
	}
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("upsert page: %w", err)
	}
	return nil
}

// nullable maps empty strings to NULL so root pages carry no parent edge.
func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
