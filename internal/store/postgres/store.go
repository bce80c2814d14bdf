// Package postgres provides the Postgres-backed page store.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mfalkin/sitefeeder/internal/crawler"
)

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type dbPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// Store implements crawler.PageStore on Postgres.
//
// Expected schema:
//
//	CREATE TABLE pages (
//	    id UUID PRIMARY KEY,
//	    domain TEXT NOT NULL,
//	    url TEXT NOT NULL UNIQUE,
//	    title TEXT,
//	    content TEXT NOT NULL,
//	    content_type TEXT NOT NULL,
//	    size_bytes INTEGER,
//	    checksum TEXT NOT NULL,
//	    page_number INTEGER,
//	    crawled_at TIMESTAMPTZ NOT NULL
//	);
//	CREATE TABLE crawl_logs (
//	    id BIGSERIAL PRIMARY KEY,
//	    ts TIMESTAMPTZ NOT NULL,
//	    domain TEXT NOT NULL,
//	    url TEXT NOT NULL,
//	    status TEXT NOT NULL,
//	    content_type TEXT,
//	    size_bytes INTEGER,
//	    error_text TEXT,
//	    duration_ms BIGINT
//	);
//	CREATE TABLE domains (
//	    domain TEXT PRIMARY KEY,
//	    base_url TEXT NOT NULL,
//	    crawl_interval_hours INTEGER NOT NULL DEFAULT 24,
//	    enabled BOOLEAN NOT NULL DEFAULT TRUE,
//	    last_crawl_at TIMESTAMPTZ
//	);
type Store struct {
	pool   dbPool
	hasher crawler.Hasher
	idGen  crawler.IDGenerator
	clock  crawler.Clock
}

// NewStore connects a pool and returns a Store.
func NewStore(
	ctx context.Context,
	cfg Config,
	hasher crawler.Hasher,
	idGen crawler.IDGenerator,
	clock crawler.Clock,
) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database dsn is required")
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
	return &Store{pool: pool, hasher: hasher, idGen: idGen, clock: clock}, nil
}

// NewStoreWithPool constructs a Store from an existing pool (primarily for testing).
func NewStoreWithPool(pool dbPool, hasher crawler.Hasher, idGen crawler.IDGenerator, clock crawler.Clock) (*Store, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &Store{pool: pool, hasher: hasher, idGen: idGen, clock: clock}, nil
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// GetApprovedDomains returns the normalized names of all registered domains.
func (s *Store) GetApprovedDomains(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT domain FROM domains`)
	if err != nil {
		return nil, fmt.Errorf("query domains: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan domain: %w", err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate domains: %w", err)
	}
	return names, nil
}

// UpsertPage creates or updates the page keyed by page.URL, idempotent on
// the content checksum.
func (s *Store) UpsertPage(ctx context.Context, page crawler.Page) (string, bool, error) {
	checksum, err := s.hasher.Hash([]byte(page.Content))
	if err != nil {
		return "", false, fmt.Errorf("checksum page content: %w", err)
	}

	var (
		existingID       string
		existingChecksum string
	)
	err = s.pool.QueryRow(ctx,
		`SELECT id, checksum FROM pages WHERE url = $1`, page.URL,
	).Scan(&existingID, &existingChecksum)

	switch {
	case err == nil:
		if existingChecksum == checksum {
			return existingID, false, nil
		}
		_, err = s.pool.Exec(ctx, `
UPDATE pages
SET content = $2, checksum = $3, title = $4, content_type = $5, size_bytes = $6, crawled_at = $7
WHERE id = $1`,
			existingID, page.Content, checksum, page.Title, page.ContentType, page.SizeBytes, s.clock.Now(),
		)
		if err != nil {
			return "", false, fmt.Errorf("update page: %w", err)
		}
		return existingID, true, nil

	case errors.Is(err, pgx.ErrNoRows):
		id, idErr := s.idGen.NewID()
		if idErr != nil {
			return "", false, fmt.Errorf("generate page id: %w", idErr)
		}
		_, err = s.pool.Exec(ctx, `
INSERT INTO pages (id, domain, url, title, content, content_type, size_bytes, checksum, page_number, crawled_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
			id, page.Domain, page.URL, page.Title, page.Content, page.ContentType,
			page.SizeBytes, checksum, page.PageNumber, s.clock.Now(),
		)
		if err != nil {
			return "", false, fmt.Errorf("insert page: %w", err)
		}
		return id, true, nil

	default:
		return "", false, fmt.Errorf("lookup page: %w", err)
	}
}

// AppendCrawlLog records one fetch attempt.
func (s *Store) AppendCrawlLog(ctx context.Context, entry crawler.CrawlLogEntry) error {
	_, err := s.pool.Exec(ctx, `
INSERT INTO crawl_logs (ts, domain, url, status, content_type, size_bytes, error_text, duration_ms)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		entry.Timestamp, entry.Domain, entry.URL, string(entry.Status),
		entry.ContentType, entry.SizeBytes, entry.ErrorText, entry.Duration.Milliseconds(),
	)
	if err != nil {
		return fmt.Errorf("insert crawl log: %w", err)
	}
	return nil
}

const pageColumns = `id, domain, url, COALESCE(title, ''), content, content_type, COALESCE(size_bytes, 0), checksum, COALESCE(page_number, 0), crawled_at`

// GetPagesByDomain returns all pages stored under the given domain.
func (s *Store) GetPagesByDomain(ctx context.Context, domain string) ([]crawler.Page, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+pageColumns+` FROM pages WHERE domain = $1 ORDER BY url`, domain)
	if err != nil {
		return nil, fmt.Errorf("query pages by domain: %w", err)
	}
	defer rows.Close()
	return scanPages(rows)
}

// GetPagesByIDs returns the pages matching the given IDs; unknown IDs are
// silently skipped.
func (s *Store) GetPagesByIDs(ctx context.Context, ids []string) ([]crawler.Page, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+pageColumns+` FROM pages WHERE id = ANY($1) ORDER BY url`, ids)
	if err != nil {
		return nil, fmt.Errorf("query pages by ids: %w", err)
	}
	defer rows.Close()
	return scanPages(rows)
}

// UpsertDomain registers or updates an allow-list entry.
func (s *Store) UpsertDomain(ctx context.Context, rec crawler.DomainRecord) error {
	if rec.Name == "" {
		return fmt.Errorf("domain name is required")
	}
	_, err := s.pool.Exec(ctx, `
INSERT INTO domains (domain, base_url, crawl_interval_hours, enabled)
VALUES ($1, $2, $3, $4)
ON CONFLICT (domain) DO UPDATE
SET base_url = EXCLUDED.base_url,
    crawl_interval_hours = EXCLUDED.crawl_interval_hours,
    enabled = EXCLUDED.enabled`,
		rec.Name, rec.BaseURL, rec.CrawlIntervalHours, rec.Enabled,
	)
	if err != nil {
		return fmt.Errorf("upsert domain: %w", err)
	}
	return nil
}

// ListDomains returns all registered domains sorted by name.
func (s *Store) ListDomains(ctx context.Context) ([]crawler.DomainRecord, error) {
	rows, err := s.pool.Query(ctx, `
SELECT domain, base_url, crawl_interval_hours, enabled, COALESCE(last_crawl_at, 'epoch'::timestamptz)
FROM domains ORDER BY domain`)
	if err != nil {
		return nil, fmt.Errorf("query domains: %w", err)
	}
	defer rows.Close()

	var recs []crawler.DomainRecord
	for rows.Next() {
		var rec crawler.DomainRecord
		if err := rows.Scan(&rec.Name, &rec.BaseURL, &rec.CrawlIntervalHours, &rec.Enabled, &rec.LastCrawlAt); err != nil {
			return nil, fmt.Errorf("scan domain record: %w", err)
		}
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate domain records: %w", err)
	}
	return recs, nil
}

func scanPages(rows pgx.Rows) ([]crawler.Page, error) {
	var pages []crawler.Page
	for rows.Next() {
		var p crawler.Page
		if err := rows.Scan(
			&p.ID, &p.Domain, &p.URL, &p.Title, &p.Content, &p.ContentType,
			&p.SizeBytes, &p.Checksum, &p.PageNumber, &p.CrawledAt,
		); err != nil {
			return nil, fmt.Errorf("scan page: %w", err)
		}
		pages = append(pages, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pages: %w", err)
	}
	return pages, nil
}
