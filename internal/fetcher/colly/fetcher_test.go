package collyfetcher

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gocolly/colly/v2"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/realtime-jobs-crawler/internal/crawler"
)

type fakeIdentities struct {
	mu        sync.Mutex
	proxy     string
	issued    int
	failed    []crawler.Identity
	succeeded []crawler.Identity
}

func (f *fakeIdentities) Next(context.Context) crawler.Identity {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.issued++
	return crawler.Identity{UserAgent: "test-agent/1.0", ProxyAddr: f.proxy}
}

func (f *fakeIdentities) MarkFailed(id crawler.Identity) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failed = append(f.failed, id)
}

func (f *fakeIdentities) MarkSucceeded(id crawler.Identity) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.succeeded = append(f.succeeded, id)
}

type sleepRecorder struct {
	mu    sync.Mutex
	waits []time.Duration
}

func (s *sleepRecorder) Sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.waits = append(s.waits, d)
	s.mu.Unlock()
	return ctx.Err()
}

type countingPacer struct{ calls atomic.Int32 }

func (p *countingPacer) Wait(context.Context, string) error {
	p.calls.Add(1)
	return nil
}

func newTestFetcher(ids *fakeIdentities, sleeper *sleepRecorder, attempts int, opts ...Option) *Fetcher {
	cfg := Config{
		Timeout: 2 * time.Second,
		Delay:   time.Second,
		Retry:   crawler.NewRetryPolicy(attempts),
	}
	opts = append([]Option{WithSleeper(sleeper.Sleep)}, opts...)
	return New(cfg, ids, nil, opts...)
}

// statusSequence serves the given statuses in order, then 200 "ok" forever.
func statusSequence(t *testing.T, hits *atomic.Int32, statuses ...int) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		n := int(hits.Add(1))
		if n <= len(statuses) {
			w.WriteHeader(statuses[n-1])
			return
		}
		_, _ = w.Write([]byte("ok"))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestFetch_SuccessPausesAndMarksIdentity(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	srv := statusSequence(t, &hits)
	ids := &fakeIdentities{}
	sleeper := &sleepRecorder{}
	pacer := &countingPacer{}
	f := newTestFetcher(ids, sleeper, 3, WithPacer(pacer))

	body, err := f.Fetch(context.Background(), srv.URL+"/list", nil)
	require.NoError(t, err)
	require.Equal(t, "ok", string(body))
	require.Len(t, ids.succeeded, 1)
	require.Empty(t, ids.failed)
	require.Equal(t, []time.Duration{time.Second}, sleeper.waits)
	require.EqualValues(t, 1, pacer.calls.Load())
}

func TestFetch_RetriesTransientStatusWithBackoff(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	srv := statusSequence(t, &hits, http.StatusServiceUnavailable, http.StatusTooManyRequests)
	ids := &fakeIdentities{}
	sleeper := &sleepRecorder{}
	f := newTestFetcher(ids, sleeper, 3)

	body, err := f.Fetch(context.Background(), srv.URL, nil)
	require.NoError(t, err)
	require.Equal(t, "ok", string(body))
	require.EqualValues(t, 3, hits.Load())
	require.Equal(t, 3, ids.issued, "each attempt rotates identity")
	require.Len(t, ids.failed, 2)
	require.Len(t, ids.succeeded, 1)
	require.Equal(t, []time.Duration{time.Second, 2 * time.Second, time.Second}, sleeper.waits)
}

func TestFetch_ExhaustsRetries(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	srv := statusSequence(t, &hits, 500, 500, 500, 500)
	ids := &fakeIdentities{}
	sleeper := &sleepRecorder{}
	f := newTestFetcher(ids, sleeper, 3)

	_, err := f.Fetch(context.Background(), srv.URL, nil)
	require.ErrorIs(t, err, crawler.ErrRetryExhausted)
	var exhausted *crawler.RetryExhaustedError
	require.ErrorAs(t, err, &exhausted)
	require.Equal(t, 3, exhausted.Attempts)
	require.Equal(t, srv.URL, exhausted.Target)
	require.EqualValues(t, 3, hits.Load())
	require.Len(t, ids.failed, 3)
	require.Equal(t, []time.Duration{time.Second, 2 * time.Second}, sleeper.waits, "no sleep after the last attempt")
}

func TestFetch_NonRetryableStatusFailsFast(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	srv := statusSequence(t, &hits, http.StatusNotFound)
	ids := &fakeIdentities{}
	f := newTestFetcher(ids, &sleepRecorder{}, 3)

	_, err := f.Fetch(context.Background(), srv.URL+"/gone", nil)
	var statusErr *crawler.StatusError
	require.ErrorAs(t, err, &statusErr)
	require.Equal(t, http.StatusNotFound, statusErr.StatusCode)
	require.EqualValues(t, 1, hits.Load())
	require.Empty(t, ids.failed)
}

func TestFetch_ConnectionErrorIsRetried(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	target := srv.URL
	srv.Close()

	ids := &fakeIdentities{}
	sleeper := &sleepRecorder{}
	f := newTestFetcher(ids, sleeper, 2)

	_, err := f.Fetch(context.Background(), target, nil)
	require.ErrorIs(t, err, crawler.ErrRetryExhausted)
	require.Len(t, ids.failed, 2)
	require.Equal(t, []time.Duration{time.Second}, sleeper.waits)
}

func TestFetch_CanceledContext(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	srv := statusSequence(t, &hits)
	f := newTestFetcher(&fakeIdentities{}, &sleepRecorder{}, 3)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := f.Fetch(ctx, srv.URL, nil)
	require.ErrorIs(t, err, context.Canceled)
	require.Zero(t, hits.Load())
}

func TestFetch_CancelAbortsInFlightRequest(t *testing.T) {
	t.Parallel()

	started := make(chan struct{})
	aborted := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		close(started)
		select {
		case <-r.Context().Done():
			close(aborted)
		case <-time.After(10 * time.Second):
		}
	}))
	t.Cleanup(srv.Close)

	f := New(Config{Timeout: 30 * time.Second, Retry: crawler.NewRetryPolicy(1)},
		&fakeIdentities{}, nil, WithSleeper((&sleepRecorder{}).Sleep))

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() {
		_, err := f.Fetch(ctx, srv.URL, nil)
		errc <- err
	}()

	<-started
	cancel()

	select {
	case <-aborted:
	case <-time.After(5 * time.Second):
		t.Fatal("server request was not cancelled")
	}
	require.ErrorIs(t, <-errc, context.Canceled)
}

func TestFetch_SendsIdentityHeadersAndQuery(t *testing.T) {
	t.Parallel()

	var (
		mu      sync.Mutex
		gotUA   string
		gotLang string
		gotQ    url.Values
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		gotUA = r.Header.Get("User-Agent")
		gotLang = r.Header.Get("Accept-Language")
		gotQ = r.URL.Query()
		mu.Unlock()
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	f := newTestFetcher(&fakeIdentities{}, &sleepRecorder{}, 1)
	_, err := f.Fetch(context.Background(), srv.URL+"/list?a=1", url.Values{"page": {"2"}})
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, "test-agent/1.0", gotUA)
	require.True(t, strings.HasPrefix(gotLang, "zh-CN"))
	require.Equal(t, "1", gotQ.Get("a"))
	require.Equal(t, "2", gotQ.Get("page"))
}

func TestFetch_RoutesThroughProxy(t *testing.T) {
	t.Parallel()

	var sawAbsolute atomic.Bool
	proxy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.IsAbs() && r.URL.Host == "jobs.example.invalid" {
			sawAbsolute.Store(true)
		}
		_, _ = w.Write([]byte("via proxy"))
	}))
	defer proxy.Close()

	ids := &fakeIdentities{proxy: strings.TrimPrefix(proxy.URL, "http://")}
	f := newTestFetcher(ids, &sleepRecorder{}, 1)

	body, err := f.Fetch(context.Background(), "http://jobs.example.invalid/list", nil)
	require.NoError(t, err)
	require.Equal(t, "via proxy", string(body))
	require.True(t, sawAbsolute.Load())
	require.Equal(t, ids.proxy, ids.succeeded[0].ProxyAddr)
}

func TestFetch_RejectsRelativeTarget(t *testing.T) {
	t.Parallel()

	f := newTestFetcher(&fakeIdentities{}, &sleepRecorder{}, 1)
	_, err := f.Fetch(context.Background(), "/relative", nil)
	require.Error(t, err)
}

func TestPause_StaysWithinJitter(t *testing.T) {
	t.Parallel()

	f := New(Config{Delay: time.Second, Jitter: 500 * time.Millisecond}, &fakeIdentities{}, nil)
	for i := 0; i < 50; i++ {
		d := f.pause()
		require.GreaterOrEqual(t, d, time.Second)
		require.Less(t, d, 1500*time.Millisecond)
	}
}

func TestConfigureCollectorHooks(t *testing.T) {
	t.Parallel()

	f := New(Config{}, &fakeIdentities{}, nil)
	hooks := &stubHooks{}
	res := &attemptResult{}
	f.configureCollectorHooks(hooks, crawler.Identity{UserAgent: "ua"}, res)
	require.NotNil(t, hooks.onRequest)
	require.NotNil(t, hooks.onResponse)
	require.NotNil(t, hooks.onError)

	req := &colly.Request{Headers: &http.Header{}}
	hooks.onRequest(req)
	require.Equal(t, "ua", req.Headers.Get("User-Agent"))
	require.Equal(t, defaultAcceptLanguage, req.Headers.Get("Accept-Language"))

	hooks.onResponse(&colly.Response{StatusCode: http.StatusOK, Body: []byte("body")})
	require.True(t, res.ok())
	require.Equal(t, "body", string(res.body))

	hooks.onError(&colly.Response{StatusCode: http.StatusBadGateway}, errors.New("Bad Gateway"))
	require.False(t, res.ok())
	require.Equal(t, http.StatusBadGateway, res.status)
}

type stubHooks struct {
	onRequest  colly.RequestCallback
	onResponse colly.ResponseCallback
	onError    colly.ErrorCallback
}

func (s *stubHooks) OnRequest(cb colly.RequestCallback) {
	s.onRequest = cb
}

func (s *stubHooks) OnResponse(cb colly.ResponseCallback) {
	s.onResponse = cb
}

func (s *stubHooks) OnError(cb colly.ErrorCallback) {
	s.onError = cb
}
