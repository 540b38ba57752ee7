// Package collyfetcher implements crawler.Fetcher using gocolly, with identity
// rotation, retry/backoff, and post-success pacing.
package collyfetcher

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-jobs-crawler/internal/crawler"
	"github.com/JakeFAU/realtime-jobs-crawler/internal/metrics"
)

const (
	defaultAccept         = "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8"
	defaultAcceptLanguage = "zh-CN,zh;q=0.9,en;q=0.8"
)

// Config controls per-request behavior.
type Config struct {
	Timeout time.Duration
	// Delay and Jitter form the pause after each successful fetch: Delay + U[0, Jitter).
	Delay          time.Duration
	Jitter         time.Duration
	Retry          crawler.RetryPolicy
	AcceptLanguage string
}

// Pacer gates each attempt, typically a per-host rate limiter.
type Pacer interface {
	Wait(ctx context.Context, target string) error
}

// Sleeper waits for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// Fetcher implements crawler.Fetcher using a fresh Colly collector per attempt.
type Fetcher struct {
	cfg        Config
	identities crawler.IdentitySource
	pacer      Pacer
	sleep      Sleeper
	direct     http.RoundTripper
	logger     *zap.Logger
}

var _ crawler.Fetcher = (*Fetcher)(nil)

// Option customizes a Fetcher.
type Option func(*Fetcher)

// WithPacer gates every attempt on p.
func WithPacer(p Pacer) Option {
	return func(f *Fetcher) { f.pacer = p }
}

// WithSleeper replaces the backoff and pacing sleep.
func WithSleeper(s Sleeper) Option {
	return func(f *Fetcher) {
		if s != nil {
			f.sleep = s
		}
	}
}

// New builds a Fetcher.
func New(cfg Config, identities crawler.IdentitySource, logger *zap.Logger, opts ...Option) *Fetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.AcceptLanguage == "" {
		cfg.AcceptLanguage = defaultAcceptLanguage
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	f := &Fetcher{
		cfg:        cfg,
		identities: identities,
		sleep:      crawler.Sleep,
		direct:     newHTTPTransport(nil),
		logger:     logger.Named("fetcher"),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

type attemptResult struct {
	status int
	body   []byte
	err    error
}

func (r attemptResult) ok() bool {
	return r.err == nil && r.status >= 200 && r.status < 300
}

// Fetch performs one logical GET of target with query, retrying transient
// failures with exponential backoff and a fresh identity per attempt.
func (f *Fetcher) Fetch(ctx context.Context, target string, query url.Values) ([]byte, error) {
	full, err := buildURL(target, query)
	if err != nil {
		return nil, err
	}

	attempts := f.cfg.Retry.Attempts()
	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			metrics.ObserveFetch(full, metrics.FetchCanceled, 0)
			return nil, fmt.Errorf("fetch %s: %w", full, err)
		}
		if f.pacer != nil {
			if err := f.pacer.Wait(ctx, full); err != nil {
				return nil, fmt.Errorf("fetch %s: %w", full, err)
			}
		}

		id := f.identities.Next(ctx)
		res := f.attempt(ctx, full, id)
		if res.ok() {
			f.identities.MarkSucceeded(id)
			metrics.ObserveFetch(full, metrics.FetchSuccess, len(res.body))
			// Cancellation during the pause does not void a fetched body.
			_ = f.sleep(ctx, f.pause())
			return res.body, nil
		}

		if ctx.Err() != nil {
			metrics.ObserveFetch(full, metrics.FetchCanceled, 0)
			return nil, fmt.Errorf("fetch %s: %w", full, ctx.Err())
		}
		if !f.cfg.Retry.Retryable(res.status, res.err) {
			metrics.ObserveFetch(full, metrics.FetchStatus, 0)
			if res.status != 0 {
				return nil, &crawler.StatusError{Target: full, StatusCode: res.status}
			}
			return nil, fmt.Errorf("fetch %s: %w", full, res.err)
		}

		f.identities.MarkFailed(id)
		lastErr = res.err
		if lastErr == nil {
			lastErr = fmt.Errorf("status %d", res.status)
		}
		f.logger.Warn("fetch attempt failed",
			zap.String("url", full),
			zap.Int("attempt", attempt+1),
			zap.Int("status", res.status),
			zap.String("proxy", id.ProxyAddr),
			zap.Error(lastErr),
		)
		if attempt == attempts-1 {
			break
		}
		metrics.ObserveFetch(full, metrics.FetchRetry, 0)
		if err := f.sleep(ctx, f.cfg.Retry.Backoff(attempt)); err != nil {
			return nil, fmt.Errorf("fetch %s: %w", full, err)
		}
	}

	metrics.ObserveFetch(full, metrics.FetchExhausted, 0)
	return nil, &crawler.RetryExhaustedError{Target: full, Attempts: attempts, Err: lastErr}
}

func (f *Fetcher) attempt(ctx context.Context, target string, id crawler.Identity) attemptResult {
	collector, release := f.buildCollector(ctx, id)
	defer release()

	res := &attemptResult{}
	f.configureCollectorHooks(collector, id, res)

	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(target)
	}()

	select {
	case <-ctx.Done():
		return attemptResult{err: fmt.Errorf("colly fetch canceled: %w", ctx.Err())}
	case err := <-done:
		out := *res
		if out.err == nil && err != nil {
			out.err = fmt.Errorf("colly visit failed: %w", err)
		}
		return out
	}
}

// buildCollector returns a collector bound to the identity and a release func
// for any per-attempt transport. Requests made by the collector are cancelled
// with ctx.
func (f *Fetcher) buildCollector(ctx context.Context, id crawler.Identity) (*colly.Collector, func()) {
	collector := colly.NewCollector(
		colly.Async(false),
		colly.AllowURLRevisit(),
		colly.StdlibContext(ctx),
	)
	collector.UserAgent = id.UserAgent
	collector.SetRequestTimeout(f.cfg.Timeout)

	release := func() {}
	if id.HasProxy() {
		proxyURL, err := url.Parse("http://" + id.ProxyAddr)
		if err == nil {
			transport := newHTTPTransport(http.ProxyURL(proxyURL))
			collector.WithTransport(transport)
			return collector, transport.CloseIdleConnections
		}
		f.logger.Warn("invalid proxy address, going direct", zap.String("proxy", id.ProxyAddr), zap.Error(err))
	}
	collector.WithTransport(f.direct)
	return collector, release
}

type collectorHooks interface {
	OnRequest(colly.RequestCallback)
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

func (f *Fetcher) configureCollectorHooks(hooks collectorHooks, id crawler.Identity, res *attemptResult) {
	hooks.OnRequest(func(r *colly.Request) {
		if id.UserAgent != "" {
			r.Headers.Set("User-Agent", id.UserAgent)
		}
		r.Headers.Set("Accept", defaultAccept)
		r.Headers.Set("Accept-Language", f.cfg.AcceptLanguage)
	})

	hooks.OnResponse(func(r *colly.Response) {
		res.status = r.StatusCode
		res.body = append([]byte(nil), r.Body...)
	})

	hooks.OnError(func(r *colly.Response, err error) {
		if r != nil {
			res.status = r.StatusCode
		}
		res.err = err
	})
}

func (f *Fetcher) pause() time.Duration {
	d := f.cfg.Delay
	if f.cfg.Jitter > 0 {
		d += rand.N(f.cfg.Jitter)
	}
	return d
}

func buildURL(target string, query url.Values) (string, error) {
	u, err := url.Parse(target)
	if err != nil {
		return "", fmt.Errorf("parse target %q: %w", target, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", errors.New("target must be an absolute URL: " + target)
	}
	if len(query) > 0 {
		merged := u.Query()
		for k, vs := range query {
			for _, v := range vs {
				merged.Add(k, v)
			}
		}
		u.RawQuery = merged.Encode()
	}
	return strings.TrimSpace(u.String()), nil
}

func newHTTPTransport(proxy func(*http.Request) (*url.URL, error)) *http.Transport {
	if proxy == nil {
		proxy = http.ProxyFromEnvironment
	}
	return &http.Transport{
		Proxy: proxy,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
