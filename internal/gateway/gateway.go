// Package gateway persists normalized batches: the ingestion API first, direct
// storage second.
package gateway

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-jobs-crawler/internal/crawler"
	"github.com/JakeFAU/realtime-jobs-crawler/internal/metrics"
)

// Marker records persisted keys so later passes skip them.
type Marker interface {
	MarkRecords(ctx context.Context, records []crawler.NormalizedRecord) error
}

// Gateway implements the two-path save.
type Gateway struct {
	api    crawler.IngestClient
	store  crawler.RecordStore
	marker Marker
	logger *zap.Logger
}

// New builds a Gateway. api may be nil, in which case every batch goes straight
// to store. marker may be nil.
func New(api crawler.IngestClient, store crawler.RecordStore, marker Marker, logger *zap.Logger) *Gateway {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gateway{api: api, store: store, marker: marker, logger: logger.Named("gateway")}
}

// Save persists records and reports which path accepted them. When both paths
// fail the returned error is a *crawler.PersistenceError and nothing from the
// batch is committed to direct storage.
func (g *Gateway) Save(ctx context.Context, records []crawler.NormalizedRecord) (crawler.PersistPath, error) {
	if len(records) == 0 {
		return crawler.PersistPathNone, nil
	}

	var apiErr error
	if g.api != nil {
		apiErr = g.api.SubmitBatch(ctx, records)
		metrics.ObservePersist(string(crawler.PersistPathAPI), apiErr == nil)
		if apiErr == nil {
			g.logger.Info("saved batch via ingest api", zap.Int("count", len(records)))
			g.mark(ctx, records)
			return crawler.PersistPathAPI, nil
		}
		g.logger.Warn("ingest api failed; falling back to direct storage",
			zap.Int("count", len(records)), zap.Error(apiErr))
	} else {
		apiErr = errors.New("ingest api not configured")
	}

	if g.store == nil {
		return crawler.PersistPathNone, &crawler.PersistenceError{
			Records:  len(records),
			APIErr:   apiErr,
			StoreErr: errors.New("direct storage not configured"),
		}
	}
	storeErr := g.store.UpsertBatch(ctx, records)
	metrics.ObservePersist(string(crawler.PersistPathDirect), storeErr == nil)
	if storeErr != nil {
		g.logger.Error("direct storage failed", zap.Int("count", len(records)), zap.Error(storeErr))
		return crawler.PersistPathNone, &crawler.PersistenceError{
			Records:  len(records),
			APIErr:   apiErr,
			StoreErr: storeErr,
		}
	}
	g.logger.Info("saved batch directly", zap.Int("count", len(records)))
	g.mark(ctx, records)
	return crawler.PersistPathDirect, nil
}

func (g *Gateway) mark(ctx context.Context, records []crawler.NormalizedRecord) {
	if g.marker == nil {
		return
	}
	if err := g.marker.MarkRecords(ctx, records); err != nil {
		g.logger.Warn("mark dedup keys", zap.Int("count", len(records)), zap.Error(err))
	}
}
