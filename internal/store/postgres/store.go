// Package postgres provides Postgres-backed persistence for job records and
// domain rules.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/quarrylabs/quarry/internal/crawl"
)

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type dbConn interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// Store implements crawl.JobStore and crawl.DomainStore over Postgres.
type Store struct {
	pool dbConn
}

// NewStore creates a Store using the provided config.
func NewStore(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("store.dsn is required")
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
	return &Store{pool: pool}, nil
}

// NewStoreWithPool constructs a Store from an existing pool (primarily for
// testing).
func NewStoreWithPool(pool dbConn) (*Store, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &Store{pool: pool}, nil
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

const jobColumns = "id, url, status, extract_rules, data, error, created_at, started_at, finished_at"

const schema = `
CREATE TABLE IF NOT EXISTS crawl_jobs (
	id            TEXT PRIMARY KEY,
	url           TEXT NOT NULL,
	status        TEXT NOT NULL,
	extract_rules JSONB,
	data          JSONB,
	error         TEXT,
	created_at    TIMESTAMPTZ NOT NULL,
	started_at    TIMESTAMPTZ,
	finished_at   TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS crawl_jobs_created_at_idx ON crawl_jobs (created_at DESC);
CREATE TABLE IF NOT EXISTS domain_rules (
	domain         TEXT PRIMARY KEY,
	allowed        BOOLEAN NOT NULL,
	crawl_delay_ms BIGINT NOT NULL,
	user_agent     TEXT,
	updated_at     TIMESTAMPTZ NOT NULL
);`

// EnsureSchema creates the tables used by the store when they do not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// CreateJob inserts a new job row.
func (s *Store) CreateJob(ctx context.Context, job crawl.CrawlJob) error {
	rulesJSON, err := json.Marshal(job.ExtractRules)
	if err != nil {
		return fmt.Errorf("marshal extract rules: %w", err)
	}
	query := `
INSERT INTO crawl_jobs (id, url, status, extract_rules, created_at)
VALUES ($1, $2, $3, $4, $5)`
	if _, err := s.pool.Exec(ctx, query, job.ID, job.URL, string(job.Status), rulesJSON, job.CreatedAt); err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

// GetJob fetches a job row by ID.
func (s *Store) GetJob(ctx context.Context, id string) (crawl.CrawlJob, error) {
	query := fmt.Sprintf("SELECT %s FROM crawl_jobs WHERE id = $1", jobColumns)
	row := s.pool.QueryRow(ctx, query, id)
	job, err := scanJob(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return crawl.CrawlJob{}, crawl.ErrJobNotFound
		}
		return crawl.CrawlJob{}, fmt.Errorf("select job: %w", err)
	}
	return job, nil
}

// UpdateJob applies the non-nil fields of update and returns the new row.
func (s *Store) UpdateJob(ctx context.Context, id string, update crawl.JobUpdate) (crawl.CrawlJob, error) {
	sets := make([]string, 0, 5)
	args := make([]any, 0, 6)
	add := func(column string, value any) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}
	if update.Status != nil {
		add("status", string(*update.Status))
	}
	if update.Data != nil {
		dataJSON, err := json.Marshal(update.Data)
		if err != nil {
			return crawl.CrawlJob{}, fmt.Errorf("marshal job data: %w", err)
		}
		add("data", dataJSON)
	}
	if update.Error != nil {
		add("error", *update.Error)
	}
	if update.StartedAt != nil {
		add("started_at", *update.StartedAt)
	}
	if update.FinishedAt != nil {
		add("finished_at", *update.FinishedAt)
	}
	if len(sets) == 0 {
		return s.GetJob(ctx, id)
	}
	args = append(args, id)
	query := fmt.Sprintf(
		"UPDATE crawl_jobs SET %s WHERE id = $%d RETURNING %s",
		strings.Join(sets, ", "), len(args), jobColumns,
	)
	row := s.pool.QueryRow(ctx, query, args...)
	job, err := scanJob(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return crawl.CrawlJob{}, crawl.ErrJobNotFound
		}
		return crawl.CrawlJob{}, fmt.Errorf("update job: %w", err)
	}
	return job, nil
}

// ListJobs returns up to limit jobs ordered by creation time, newest first.
func (s *Store) ListJobs(ctx context.Context, limit int) ([]crawl.CrawlJob, error) {
	if limit <= 0 {
		limit = 50
	}
	query := fmt.Sprintf("SELECT %s FROM crawl_jobs ORDER BY created_at DESC LIMIT $1", jobColumns)
	rows, err := s.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()
	var jobs []crawl.CrawlJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job row: %w", err)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate job rows: %w", err)
	}
	return jobs, nil
}

// DeleteJob removes a job row.
func (s *Store) DeleteJob(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, "DELETE FROM crawl_jobs WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("delete job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return crawl.ErrJobNotFound
	}
	return nil
}

// DeleteJobs removes the listed job rows and returns how many existed.
func (s *Store) DeleteJobs(ctx context.Context, ids []string) (int64, error) {
	tag, err := s.pool.Exec(ctx, "DELETE FROM crawl_jobs WHERE id = ANY($1)", ids)
	if err != nil {
		return 0, fmt.Errorf("delete jobs: %w", err)
	}
	return tag.RowsAffected(), nil
}

// GetDomainRule fetches the cached rule for a domain.
func (s *Store) GetDomainRule(ctx context.Context, domain string) (crawl.DomainRule, bool, error) {
	query := "SELECT domain, allowed, crawl_delay_ms, user_agent FROM domain_rules WHERE domain = $1"
	var (
		rule      crawl.DomainRule
		delayMs   int64
		userAgent *string
	)
	err := s.pool.QueryRow(ctx, query, strings.ToLower(domain)).
		Scan(&rule.Domain, &rule.Allowed, &delayMs, &userAgent)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return crawl.DomainRule{}, false, nil
		}
		return crawl.DomainRule{}, false, fmt.Errorf("select domain rule: %w", err)
	}
	rule.CrawlDelay = time.Duration(delayMs) * time.Millisecond
	if userAgent != nil {
		rule.UserAgent = *userAgent
	}
	return rule, true, nil
}

// UpsertDomainRule inserts or replaces the rule for its domain.
func (s *Store) UpsertDomainRule(ctx context.Context, rule crawl.DomainRule) error {
	query := `
INSERT INTO domain_rules (domain, allowed, crawl_delay_ms, user_agent, updated_at)
VALUES ($1, $2, $3, $4, now())
ON CONFLICT (domain) DO UPDATE
SET allowed = EXCLUDED.allowed,
    crawl_delay_ms = EXCLUDED.crawl_delay_ms,
    user_agent = EXCLUDED.user_agent,
    updated_at = now()`
	_, err := s.pool.Exec(ctx, query,
		strings.ToLower(rule.Domain),
		rule.Allowed,
		rule.CrawlDelay.Milliseconds(),
		nullableString(rule.UserAgent),
	)
	if err != nil {
		return fmt.Errorf("upsert domain rule: %w", err)
	}
	return nil
}

func scanJob(row pgx.Row) (crawl.CrawlJob, error) {
	var (
		job        crawl.CrawlJob
		status     string
		rulesJSON  []byte
		dataJSON   []byte
		errText    *string
		startedAt  *time.Time
		finishedAt *time.Time
	)
	if err := row.Scan(
		&job.ID, &job.URL, &status, &rulesJSON, &dataJSON,
		&errText, &job.CreatedAt, &startedAt, &finishedAt,
	); err != nil {
		return crawl.CrawlJob{}, err
	}
	job.Status = crawl.JobStatus(status)
	if len(rulesJSON) > 0 {
		if err := json.Unmarshal(rulesJSON, &job.ExtractRules); err != nil {
			return crawl.CrawlJob{}, fmt.Errorf("unmarshal extract rules: %w", err)
		}
	}
	if len(dataJSON) > 0 {
		var data crawl.ScrapedData
		if err := json.Unmarshal(dataJSON, &data); err != nil {
			return crawl.CrawlJob{}, fmt.Errorf("unmarshal job data: %w", err)
		}
		job.Data = &data
	}
	if errText != nil {
		job.Error = *errText
	}
	job.StartedAt = startedAt
	job.FinishedAt = finishedAt
	return job, nil
}

func nullableString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
