// Package extractor holds the capabilities shared by every source extractor.
package extractor

import (
	"context"
	"net/url"

	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-jobs-crawler/internal/crawler"
)

// DuplicateChecker answers whether a source id was already persisted.
type DuplicateChecker interface {
	Seen(ctx context.Context, source, externalID string) (bool, error)
}

// Base bundles the fetch primitive, the dedup checker and a logger for one source.
type Base struct {
	name    string
	fetcher crawler.Fetcher
	dedup   DuplicateChecker
	logger  *zap.Logger
}

// NewBase builds the shared capability set for the source called name.
// dedup may be nil, in which case nothing is skipped before detail fetches.
func NewBase(name string, fetcher crawler.Fetcher, dedup DuplicateChecker, logger *zap.Logger) Base {
	if logger == nil {
		logger = zap.NewNop()
	}
	return Base{
		name:    name,
		fetcher: fetcher,
		dedup:   dedup,
		logger:  logger.Named("extractor").With(zap.String("extractor", name)),
	}
}

// Name is the source name.
func (b Base) Name() string { return b.name }

// Logger returns the source-scoped logger.
func (b Base) Logger() *zap.Logger { return b.logger }

// Fetch delegates to the shared fetch primitive.
func (b Base) Fetch(ctx context.Context, target string, query url.Values) ([]byte, error) {
	return b.fetcher.Fetch(ctx, target, query)
}

// IsDuplicate reports whether id was already persisted for this source.
// Lookup failures count as unseen so the record gets another chance downstream.
func (b Base) IsDuplicate(ctx context.Context, externalID string) bool {
	if b.dedup == nil || externalID == "" {
		return false
	}
	seen, err := b.dedup.Seen(ctx, b.name, externalID)
	if err != nil {
		b.logger.Warn("dedup lookup failed", zap.String("source_id", externalID), zap.Error(err))
		return false
	}
	return seen
}
