package identity

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/realtime-jobs-crawler/internal/crawler"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, time.January, 10, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type countingSource struct {
	addrs []string
	calls atomic.Int32
}

func (s *countingSource) Candidates(context.Context) ([]string, error) {
	s.calls.Add(1)
	return s.addrs, nil
}

// stubProber returns a fixed RTT per address; unknown addresses fail.
type stubProber map[string]time.Duration

func (p stubProber) Probe(_ context.Context, addr string) (time.Duration, error) {
	rtt, ok := p[addr]
	if !ok {
		return 0, errors.New("unreachable")
	}
	return rtt, nil
}

func newTestPool(t *testing.T, clock *fakeClock, addrs []string, prober Prober) (*ProxyPool, *countingSource) {
	t.Helper()
	src := &countingSource{addrs: addrs}
	pool := NewProxyPool(PoolConfig{MaxProxies: 10, CheckInterval: 5 * time.Minute, Workers: 4}, src, prober, clock.Now, nil)
	return pool, src
}

func TestProxyPool_Refresh_KeepsHealthyCandidates(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	pool, _ := newTestPool(t, clock, []string{"a:1", "b:2", "dead:3"}, stubProber{
		"a:1": 200 * time.Millisecond,
		"b:2": 100 * time.Millisecond,
	})

	require.NoError(t, pool.Refresh(context.Background()))
	stats := pool.Stats()
	require.Equal(t, 2, stats.Total)
	require.Equal(t, 2, stats.Active)
	require.Zero(t, stats.Inactive)
	require.Equal(t, clock.Now(), stats.LastRefresh)
}

func TestProxyPool_Refresh_StopsAtCap(t *testing.T) {
	t.Parallel()

	prober := stubProber{}
	var addrs []string
	for i := 0; i < 50; i++ {
		addr := fmt.Sprintf("10.0.0.%d:8080", i)
		addrs = append(addrs, addr)
		prober[addr] = time.Millisecond
	}
	src := &countingSource{addrs: addrs}
	pool := NewProxyPool(PoolConfig{MaxProxies: 5, CheckInterval: time.Minute, Workers: 3}, src, prober, newFakeClock().Now, nil)

	require.NoError(t, pool.Refresh(context.Background()))
	require.Equal(t, 5, pool.Stats().Total)
}

func TestProxyPool_Acquire_LeastRecentlyUsedThenFastest(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	pool, _ := newTestPool(t, clock, []string{"slow:1", "fast:2"}, stubProber{
		"slow:1": 300 * time.Millisecond,
		"fast:2": 50 * time.Millisecond,
	})
	ctx := context.Background()

	first, err := pool.Acquire(ctx)
	require.NoError(t, err)
	require.Equal(t, "fast:2", first.Address, "unused proxies tie on LastUsed; faster wins")

	clock.Advance(time.Second)
	second, err := pool.Acquire(ctx)
	require.NoError(t, err)
	require.Equal(t, "slow:1", second.Address)

	clock.Advance(time.Second)
	third, err := pool.Acquire(ctx)
	require.NoError(t, err)
	require.Equal(t, "fast:2", third.Address)
}

func TestProxyPool_Acquire_RefreshesAfterInterval(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	pool, src := newTestPool(t, clock, []string{"a:1"}, stubProber{"a:1": time.Millisecond})
	ctx := context.Background()

	_, err := pool.Acquire(ctx)
	require.NoError(t, err)
	_, err = pool.Acquire(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 1, src.calls.Load())

	clock.Advance(5*time.Minute + time.Second)
	_, err = pool.Acquire(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 2, src.calls.Load())
}

func TestProxyPool_ThreeFailuresDeactivateUntilRefresh(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	pool, _ := newTestPool(t, clock, []string{"bad:1", "good:2"}, stubProber{
		"bad:1":  time.Millisecond,
		"good:2": time.Second,
	})
	ctx := context.Background()
	require.NoError(t, pool.Refresh(ctx))

	pool.MarkFailed("bad:1")
	pool.MarkFailed("bad:1")
	pool.MarkFailed("bad:1")
	pool.MarkSucceeded("bad:1")

	for i := 0; i < 5; i++ {
		clock.Advance(time.Second)
		px, err := pool.Acquire(ctx)
		require.NoError(t, err)
		require.Equal(t, "good:2", px.Address)
	}
	require.Equal(t, 1, pool.Stats().Inactive)

	clock.Advance(10 * time.Minute)
	require.NoError(t, pool.Refresh(ctx))
	require.Equal(t, 2, pool.Stats().Active)
}

func TestProxyPool_SuccessForgivesOneFailure(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	pool, _ := newTestPool(t, clock, []string{"a:1"}, stubProber{"a:1": time.Millisecond})
	require.NoError(t, pool.Refresh(context.Background()))

	pool.MarkFailed("a:1")
	pool.MarkFailed("a:1")
	pool.MarkSucceeded("a:1")
	pool.MarkFailed("a:1")

	proxies := pool.Proxies()
	require.Len(t, proxies, 1)
	require.Equal(t, ProxyActive, proxies[0].Status)
	require.Equal(t, 2, proxies[0].FailCount)
	require.Equal(t, 1, proxies[0].SuccessCount)

	pool.MarkSucceeded("a:1")
	pool.MarkSucceeded("a:1")
	pool.MarkSucceeded("a:1")
	require.Zero(t, pool.Proxies()[0].FailCount)
}

func TestProxyPool_Acquire_EmptyPoolIsExhausted(t *testing.T) {
	t.Parallel()

	pool, _ := newTestPool(t, newFakeClock(), nil, stubProber{})
	_, err := pool.Acquire(context.Background())
	require.ErrorIs(t, err, crawler.ErrIdentityExhausted)
}

func TestProxyPool_Refresh_CanceledKeepsPool(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	pool, src := newTestPool(t, clock, []string{"a:1"}, stubProber{"a:1": time.Millisecond})
	require.NoError(t, pool.Refresh(context.Background()))

	src.addrs = []string{"b:2"}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, pool.Refresh(ctx), context.Canceled)
	require.Equal(t, "a:1", pool.Proxies()[0].Address)
}

func TestProxyPool_ConcurrentUse(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	pool, _ := newTestPool(t, clock, []string{"a:1", "b:2", "c:3"}, stubProber{
		"a:1": time.Millisecond, "b:2": time.Millisecond, "c:3": time.Millisecond,
	})
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			px, err := pool.Acquire(ctx)
			if err != nil {
				return
			}
			pool.MarkSucceeded(px.Address)
			_ = pool.Stats()
		}()
	}
	wg.Wait()
	require.Equal(t, 3, pool.Stats().Total)
}

func TestHTTPProber_Probe(t *testing.T) {
	t.Parallel()

	// A handler that answers any absolute-form request behaves as a forward proxy.
	var sawProxyRequest atomic.Bool
	proxy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.IsAbs() {
			sawProxyRequest.Store(true)
		}
		_, _ = w.Write([]byte(`{"origin":"203.0.113.7"}`))
	}))
	defer proxy.Close()

	prober := NewHTTPProber("http://echo.invalid/ip", time.Second)
	rtt, err := prober.Probe(context.Background(), strings.TrimPrefix(proxy.URL, "http://"))
	require.NoError(t, err)
	require.Positive(t, rtt)
	require.True(t, sawProxyRequest.Load())
}

func TestHTTPProber_ProbeRejectsNon200(t *testing.T) {
	t.Parallel()

	proxy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer proxy.Close()

	prober := NewHTTPProber("http://echo.invalid/ip", time.Second)
	_, err := prober.Probe(context.Background(), strings.TrimPrefix(proxy.URL, "http://"))
	require.Error(t, err)
}

func TestHTTPSource_Candidates(t *testing.T) {
	t.Parallel()

	good := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("1.1.1.1:80\n\n 2.2.2.2:8080 \n1.1.1.1:80\n"))
	}))
	defer good.Close()
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer bad.Close()

	src := NewHTTPSource([]string{bad.URL, good.URL}, time.Second, nil)
	addrs, err := src.Candidates(context.Background())
	require.NoError(t, err)
	require.Equal(t, []string{"1.1.1.1:80", "2.2.2.2:8080"}, addrs)

	merged, err := MultiSource{src, StaticSource{"http://3.3.3.3:3128", "2.2.2.2:8080"}}.Candidates(context.Background())
	require.NoError(t, err)
	require.Equal(t, []string{"1.1.1.1:80", "2.2.2.2:8080", "3.3.3.3:3128"}, merged)
}
