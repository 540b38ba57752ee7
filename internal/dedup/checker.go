// Package dedup suppresses records already persisted within the TTL window.
package dedup

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/JakeFAU/realtime-jobs-crawler/internal/crawler"
)

// DefaultTTL is how long a persisted record's key suppresses re-processing.
const DefaultTTL = 7 * 24 * time.Hour

// Checker wraps a DedupStore with the crawler's key format and TTL.
type Checker struct {
	store crawler.DedupStore
	ttl   time.Duration
}

// NewChecker builds a Checker; a non-positive ttl selects DefaultTTL.
func NewChecker(store crawler.DedupStore, ttl time.Duration) *Checker {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Checker{store: store, ttl: ttl}
}

// TTL returns the configured key lifetime.
func (c *Checker) TTL() time.Duration { return c.ttl }

// Seen reports whether the (source, id) key is present.
func (c *Checker) Seen(ctx context.Context, source, externalID string) (bool, error) {
	ok, err := c.store.Exists(ctx, crawler.DedupKey(source, externalID))
	if err != nil {
		return false, fmt.Errorf("check dedup key: %w", err)
	}
	return ok, nil
}

// Mark records (source, id) as processed for the TTL.
func (c *Checker) Mark(ctx context.Context, source, externalID string) error {
	if err := c.store.SetWithTTL(ctx, crawler.DedupKey(source, externalID), c.ttl); err != nil {
		return fmt.Errorf("mark dedup key: %w", err)
	}
	return nil
}

// MarkRecords marks every record, continuing past individual failures.
func (c *Checker) MarkRecords(ctx context.Context, records []crawler.NormalizedRecord) error {
	var errs []error
	for _, rec := range records {
		if err := c.Mark(ctx, rec.Source, rec.SourceExternalID); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// FilterUnseen drops records repeated within the batch or already present in
// the store, keeping input order. A failed lookup keeps the record and is
// reported in the joined error.
func (c *Checker) FilterUnseen(ctx context.Context, records []crawler.NormalizedRecord) ([]crawler.NormalizedRecord, error) {
	out := make([]crawler.NormalizedRecord, 0, len(records))
	batch := make(map[string]struct{}, len(records))
	var errs []error
	for _, rec := range records {
		key := rec.DedupKey()
		if _, dup := batch[key]; dup {
			continue
		}
		batch[key] = struct{}{}

		seen, err := c.Seen(ctx, rec.Source, rec.SourceExternalID)
		if err != nil {
			errs = append(errs, err)
		}
		if seen {
			continue
		}
		out = append(out, rec)
	}
	return out, errors.Join(errs...)
}

// LastRun reads the completion time written by TouchLastRun. ok is false when
// no pass has finished yet.
func (c *Checker) LastRun(ctx context.Context, key string) (at time.Time, ok bool, err error) {
	if key == "" {
		key = crawler.DefaultLastRunKey
	}
	v, err := c.store.Get(ctx, key)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("get last run: %w", err)
	}
	if v == "" {
		return time.Time{}, false, nil
	}
	at, err = time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("parse last run %q: %w", v, err)
	}
	return at, true, nil
}

// TouchLastRun stores the pass completion time under key in RFC 3339 form.
func (c *Checker) TouchLastRun(ctx context.Context, key string, at time.Time) error {
	if key == "" {
		key = crawler.DefaultLastRunKey
	}
	if err := c.store.Set(ctx, key, at.UTC().Format(time.RFC3339)); err != nil {
		return fmt.Errorf("set last run: %w", err)
	}
	return nil
}
