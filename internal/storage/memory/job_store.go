package memory

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/JakeFAU/realtime-jobs-crawler/internal/crawler"
)

type jobKey struct {
	source string
	id     string
}

// JobStore is an in-memory RecordStore with the same upsert semantics as the
// Postgres store.
type JobStore struct {
	mu   sync.RWMutex
	rows map[jobKey]crawler.NormalizedRecord
	// fail, when set, is returned by the next UpsertBatch.
	fail error
}

var _ crawler.RecordStore = (*JobStore)(nil)

// NewJobStore constructs an empty JobStore.
func NewJobStore() *JobStore {
	return &JobStore{rows: make(map[jobKey]crawler.NormalizedRecord)}
}

// UpsertBatch inserts or replaces every record. A record with an empty key
// rejects the whole batch and nothing is written.
func (s *JobStore) UpsertBatch(_ context.Context, records []crawler.NormalizedRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		err := s.fail
		s.fail = nil
		return err
	}
	for _, rec := range records {
		if rec.Source == "" || rec.SourceExternalID == "" {
			return errors.New("upsert: source and source_external_id are required")
		}
	}
	for _, rec := range records {
		s.rows[jobKey{rec.Source, rec.SourceExternalID}] = cloneRecord(rec)
	}
	return nil
}

// FailNext makes the next UpsertBatch return err without writing.
func (s *JobStore) FailNext(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fail = err
}

// Get returns the stored row for a key.
func (s *JobStore) Get(source, id string) (crawler.NormalizedRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.rows[jobKey{source, id}]
	return cloneRecord(rec), ok
}

// Len reports the number of stored rows.
func (s *JobStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rows)
}

// All returns every row ordered by source then id.
func (s *JobStore) All() []crawler.NormalizedRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]crawler.NormalizedRecord, 0, len(s.rows))
	for _, rec := range s.rows {
		out = append(out, cloneRecord(rec))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Source != out[j].Source {
			return out[i].Source < out[j].Source
		}
		return out[i].SourceExternalID < out[j].SourceExternalID
	})
	return out
}

func cloneRecord(rec crawler.NormalizedRecord) crawler.NormalizedRecord {
	if rec.Metadata != nil {
		meta := make(map[string]string, len(rec.Metadata))
		for k, v := range rec.Metadata {
			meta[k] = v
		}
		rec.Metadata = meta
	}
	return rec
}
