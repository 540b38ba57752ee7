// Package archive decorates a crawler.Fetcher so every fetched body is also
// written to a blob store for later replay and parser debugging.
package archive

import (
	"bytes"
	"context"
	"net/url"
	"path"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-jobs-crawler/internal/crawler"
	"github.com/JakeFAU/realtime-jobs-crawler/internal/hash/sha256"
)

const contentType = "text/html; charset=utf-8"

// Fetcher stores successful bodies under prefix/host/YYYY/MM/DD/<sha256>.html.
// Archive failures are logged and never fail the fetch.
type Fetcher struct {
	next   crawler.Fetcher
	blobs  crawler.BlobStore
	prefix string
	clock  crawler.Clock
	logger *zap.Logger
}

var _ crawler.Fetcher = (*Fetcher)(nil)

// New wraps next.
func New(next crawler.Fetcher, blobs crawler.BlobStore, prefix string, clock crawler.Clock, logger *zap.Logger) *Fetcher {
	if clock == nil {
		clock = crawler.SystemClock
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Fetcher{
		next:   next,
		blobs:  blobs,
		prefix: strings.Trim(prefix, "/"),
		clock:  clock,
		logger: logger.Named("archive"),
	}
}

// Fetch delegates to the wrapped fetcher and archives the body on success.
func (f *Fetcher) Fetch(ctx context.Context, target string, query url.Values) ([]byte, error) {
	body, err := f.next.Fetch(ctx, target, query)
	if err != nil {
		return nil, err
	}
	key := f.objectPath(target, body)
	uri, putErr := f.blobs.PutObject(ctx, key, contentType, bytes.NewReader(body))
	if putErr != nil {
		f.logger.Warn("archive page failed", zap.String("url", target), zap.Error(putErr))
		return body, nil
	}
	f.logger.Debug("page archived", zap.String("url", target), zap.String("uri", uri))
	return body, nil
}

func (f *Fetcher) objectPath(target string, body []byte) string {
	host := "unknown"
	if u, err := url.Parse(target); err == nil && u.Hostname() != "" {
		host = strings.ToLower(u.Hostname())
	}
	day := f.clock().UTC().Format("2006/01/02")
	return path.Join(f.prefix, host, day, sha256.Hex(body)+".html")
}
