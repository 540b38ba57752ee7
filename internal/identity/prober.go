package identity

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// HTTPProber checks a proxy by fetching an echo endpoint through it.
type HTTPProber struct {
	EchoURL   string
	Timeout   time.Duration
	UserAgent string
}

// NewHTTPProber builds a prober with defaults for empty fields.
func NewHTTPProber(echoURL string, timeout time.Duration) *HTTPProber {
	if echoURL == "" {
		echoURL = "http://httpbin.org/ip"
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPProber{EchoURL: echoURL, Timeout: timeout, UserAgent: DefaultUserAgents[0]}
}

// Probe returns the round-trip time of a 200 response fetched through addr.
func (p *HTTPProber) Probe(ctx context.Context, addr string) (time.Duration, error) {
	proxyURL, err := url.Parse("http://" + addr)
	if err != nil {
		return 0, fmt.Errorf("parse proxy %q: %w", addr, err)
	}
	transport := &http.Transport{
		Proxy:             http.ProxyURL(proxyURL),
		DisableKeepAlives: true,
	}
	defer transport.CloseIdleConnections()
	client := &http.Client{Transport: transport, Timeout: p.Timeout}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.EchoURL, nil)
	if err != nil {
		return 0, fmt.Errorf("build probe request: %w", err)
	}
	if p.UserAgent != "" {
		req.Header.Set("User-Agent", p.UserAgent)
	}

	start := time.Now()
	resp, err := client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("probe %s: %w", addr, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("probe %s: status %d", addr, resp.StatusCode)
	}
	return time.Since(start), nil
}
