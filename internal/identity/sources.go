package identity

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

// CandidateSource lists proxy addresses (host:port) to probe during a refresh.
type CandidateSource interface {
	Candidates(ctx context.Context) ([]string, error)
}

// StaticSource is a fixed candidate list.
type StaticSource []string

// Candidates returns the list with blanks removed.
func (s StaticSource) Candidates(context.Context) ([]string, error) {
	return dedupeAddrs(s), nil
}

// HTTPSource downloads newline-delimited candidates from each URL. A failing
// URL is logged and skipped.
type HTTPSource struct {
	URLs   []string
	Client *http.Client
	Logger *zap.Logger
}

// NewHTTPSource builds an HTTPSource with a bounded client timeout.
func NewHTTPSource(urls []string, timeout time.Duration, logger *zap.Logger) *HTTPSource {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPSource{
		URLs:   urls,
		Client: &http.Client{Timeout: timeout},
		Logger: logger.Named("proxy_source"),
	}
}

// Candidates fetches every source URL and merges the results in order.
func (s *HTTPSource) Candidates(ctx context.Context) ([]string, error) {
	var all []string
	for _, u := range s.URLs {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("fetch proxy sources: %w", err)
		}
		addrs, err := s.fetch(ctx, u)
		if err != nil {
			s.Logger.Warn("proxy source failed", zap.String("url", u), zap.Error(err))
			continue
		}
		s.Logger.Info("proxy source fetched", zap.String("url", u), zap.Int("count", len(addrs)))
		all = append(all, addrs...)
	}
	return dedupeAddrs(all), nil
}

func (s *HTTPSource) fetch(ctx context.Context, target string) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	resp, err := s.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("get: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	var out []string
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			out = append(out, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	return out, nil
}

// MultiSource concatenates several sources.
type MultiSource []CandidateSource

// Candidates merges each source's candidates, failing only on context errors.
func (m MultiSource) Candidates(ctx context.Context) ([]string, error) {
	var all []string
	for _, src := range m {
		addrs, err := src.Candidates(ctx)
		if err != nil {
			return nil, err
		}
		all = append(all, addrs...)
	}
	return dedupeAddrs(all), nil
}

func dedupeAddrs(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, a := range in {
		a = strings.TrimSpace(a)
		a = strings.TrimPrefix(a, "http://")
		if a == "" {
			continue
		}
		if _, ok := seen[a]; ok {
			continue
		}
		seen[a] = struct{}{}
		out = append(out, a)
	}
	return out
}
