// Package postgres provides the direct-storage fallback for job records.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"cloud.google.com/go/civil"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/realtime-jobs-crawler/internal/crawler"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// upsertColumns are written on insert; everything after the key pair is
// overwritten on conflict.
var upsertColumns = []string{
	"source",
	"source_id",
	"title",
	"company",
	"location",
	"salary_min",
	"salary_max",
	"education",
	"experience",
	"description",
	"requirements",
	"posted_date",
	"deadline",
	"url",
	"company_type",
	"company_size",
	"industry",
	"recruitment_type",
	"target_group",
	"metadata",
	"crawled_at",
}

// JobStoreConfig controls the Postgres connection pool used for job rows.
type JobStoreConfig struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type txPool interface {
	Begin(context.Context) (pgx.Tx, error)
	Ping(context.Context) error
	Close()
}

// JobStore upserts job records keyed on (source, source_id), one transaction per batch.
type JobStore struct {
	pool      txPool
	table     string
	upsertSQL string
}

var _ crawler.RecordStore = (*JobStore)(nil)

// NewJobStore connects a pool using cfg.
func NewJobStore(ctx context.Context, cfg JobStoreConfig) (*JobStore, error) {
	if cfg.DSN == "" {
		return nil, errors.New("storage.dsn is required")
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
	store, err := NewJobStoreWithPool(pool, cfg.Table)
	if err != nil {
		pool.Close()
		return nil, err
	}
	return store, nil
}

// NewJobStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewJobStoreWithPool(pool txPool, table string) (*JobStore, error) {
	if pool == nil {
		return nil, errors.New("pool is required")
	}
	if table == "" {
		table = "jobs"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &JobStore{pool: pool, table: table, upsertSQL: buildUpsertSQL(table)}, nil
}

// Close releases the underlying pool resources.
func (s *JobStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// Health pings the database.
func (s *JobStore) Health(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// UpsertBatch writes every record in one transaction. Any failure rolls the
// whole batch back.
func (s *JobStore) UpsertBatch(ctx context.Context, records []crawler.NormalizedRecord) error {
	if len(records) == 0 {
		return nil
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin upsert: %w", err)
	}
	for _, rec := range records {
		args, err := upsertArgs(rec)
		if err == nil {
			_, err = tx.Exec(ctx, s.upsertSQL, args...)
		}
		if err != nil {
			return rollback(ctx, tx, fmt.Errorf("upsert %s/%s: %w", rec.Source, rec.SourceExternalID, err))
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit upsert: %w", err)
	}
	return nil
}

func rollback(ctx context.Context, tx pgx.Tx, cause error) error {
	if err := tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		return errors.Join(cause, fmt.Errorf("rollback: %w", err))
	}
	return cause
}

func buildUpsertSQL(table string) string {
	placeholders := make([]string, len(upsertColumns))
	for i := range upsertColumns {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
	}
	updates := make([]string, 0, len(upsertColumns))
	for _, col := range upsertColumns[2:] {
		updates = append(updates, fmt.Sprintf("%s = EXCLUDED.%s", col, col))
	}
	updates = append(updates, "updated_at = now()")
	return fmt.Sprintf(`INSERT INTO %s (%s, updated_at)
VALUES (%s, now())
ON CONFLICT (source, source_id) DO UPDATE SET
	%s`,
		table,
		strings.Join(upsertColumns, ", "),
		strings.Join(placeholders, ", "),
		strings.Join(updates, ",\n\t"),
	)
}

func upsertArgs(rec crawler.NormalizedRecord) ([]any, error) {
	metadata := rec.Metadata
	if metadata == nil {
		metadata = map[string]string{}
	}
	metaJSON, err := json.Marshal(metadata)
	if err != nil {
		return nil, fmt.Errorf("marshal metadata: %w", err)
	}
	return []any{
		rec.Source,
		rec.SourceExternalID,
		rec.Title,
		rec.Company,
		rec.Location,
		rec.SalaryMin,
		rec.SalaryMax,
		string(rec.Education),
		string(rec.Experience),
		rec.Description,
		rec.Requirements,
		dateArg(rec.PostedDate),
		dateArg(rec.Deadline),
		rec.URL,
		rec.CompanyType,
		rec.CompanySize,
		rec.Industry,
		rec.RecruitmentType,
		rec.TargetGroup,
		metaJSON,
		rec.CrawledAt,
	}, nil
}

// dateArg maps an optional civil date onto a value pgx encodes as DATE or NULL.
func dateArg(d *civil.Date) *time.Time {
	if d == nil {
		return nil
	}
	t := d.In(time.UTC)
	return &t
}
