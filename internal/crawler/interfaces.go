package crawler

import (
	"context"
	"io"
	"net/url"
	"time"
)

// Extractor is the per-source fetch-and-parse unit held by the orchestrator.
type Extractor interface {
	// Name is the source name; it prefixes dedup keys and keys run results.
	Name() string
	// Crawl pages through the source for keyword and returns raw records in page order.
	Crawl(ctx context.Context, keyword string) ([]RawRecord, error)
	// Parse extracts raw records from one fetched listing page.
	Parse(body []byte) ([]RawRecord, error)
}

// Fetcher performs one logical GET with identity rotation and retries.
type Fetcher interface {
	Fetch(ctx context.Context, target string, query url.Values) ([]byte, error)
}

// Identity is the outbound identity used for one attempt.
type Identity struct {
	UserAgent string
	// ProxyAddr is host:port, empty when the request goes direct.
	ProxyAddr string
}

// HasProxy reports whether the identity routes through a proxy.
func (i Identity) HasProxy() bool { return i.ProxyAddr != "" }

// IdentitySource hands out identities and receives health feedback for them.
type IdentitySource interface {
	Next(ctx context.Context) Identity
	MarkFailed(identity Identity)
	MarkSucceeded(identity Identity)
}

// DedupStore is the key-value service backing duplicate suppression.
type DedupStore interface {
	Exists(ctx context.Context, key string) (bool, error)
	SetWithTTL(ctx context.Context, key string, ttl time.Duration) error
	Set(ctx context.Context, key string, value string) error
	// Get returns "" for a missing key.
	Get(ctx context.Context, key string) (string, error)
}

// IngestClient submits a batch to the remote ingestion API.
type IngestClient interface {
	SubmitBatch(ctx context.Context, records []NormalizedRecord) error
}

// RecordStore upserts a batch keyed on (source, source_external_id) atomically.
type RecordStore interface {
	UpsertBatch(ctx context.Context, records []NormalizedRecord) error
}

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, r io.Reader) (string, error)
}

// Publisher pushes pass summaries to a topic.
type Publisher interface {
	Publish(ctx context.Context, payload any) (string, error)
}

// Clock returns the current time.
type Clock func() time.Time

// SystemClock is the wall clock in UTC.
func SystemClock() time.Time { return time.Now().UTC() }
