// Package identity pools and health-tracks the outbound identities (proxies and
// user agents) used by the fetcher.
package identity

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/JakeFAU/realtime-jobs-crawler/internal/crawler"
	"github.com/JakeFAU/realtime-jobs-crawler/internal/metrics"
)

// ProxyStatus is the health state of a pooled proxy.
type ProxyStatus string

// Proxy states. Inactive proxies only leave the pool on the next refresh.
const (
	ProxyActive   ProxyStatus = "active"
	ProxyInactive ProxyStatus = "inactive"
)

// FailureThreshold is the fail count at which a proxy is deactivated.
const FailureThreshold = 3

// Proxy is one pooled proxy and its health counters.
type Proxy struct {
	Address      string        `json:"address"`
	ResponseTime time.Duration `json:"response_time"`
	LastUsed     time.Time     `json:"last_used"`
	SuccessCount int           `json:"success_count"`
	FailCount    int           `json:"fail_count"`
	Status       ProxyStatus   `json:"status"`
}

// Stats summarizes pool composition.
type Stats struct {
	Total       int       `json:"total_proxies"`
	Active      int       `json:"active_proxies"`
	Inactive    int       `json:"inactive_proxies"`
	LastRefresh time.Time `json:"last_refresh"`
}

// Prober checks a candidate proxy and reports its round-trip time.
type Prober interface {
	Probe(ctx context.Context, addr string) (time.Duration, error)
}

// PoolConfig sizes the pool and its refresh cadence.
type PoolConfig struct {
	MaxProxies    int
	CheckInterval time.Duration
	Workers       int
}

// ProxyPool holds probed proxies and hands out the least recently used healthy one.
type ProxyPool struct {
	cfg     PoolConfig
	source  CandidateSource
	prober  Prober
	clock   crawler.Clock
	logger  *zap.Logger
	refresh singleflight.Group

	mu          sync.Mutex
	proxies     []*Proxy
	lastRefresh time.Time
}

// NewProxyPool constructs an empty pool; the first Acquire triggers a refresh.
func NewProxyPool(cfg PoolConfig, source CandidateSource, prober Prober, clock crawler.Clock, logger *zap.Logger) *ProxyPool {
	if cfg.MaxProxies <= 0 {
		cfg.MaxProxies = 100
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 20
	}
	if clock == nil {
		clock = crawler.SystemClock
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ProxyPool{
		cfg:    cfg,
		source: source,
		prober: prober,
		clock:  clock,
		logger: logger.Named("proxy_pool"),
	}
}

// Acquire returns the active proxy with the oldest LastUsed, breaking ties on
// response time, and stamps it as used. It returns crawler.ErrIdentityExhausted
// when no active proxy exists.
func (p *ProxyPool) Acquire(ctx context.Context) (Proxy, error) {
	if p.refreshDue() {
		if err := p.Refresh(ctx); err != nil {
			p.logger.Warn("proxy refresh failed", zap.Error(err))
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	var best *Proxy
	for _, px := range p.proxies {
		if px.Status != ProxyActive {
			continue
		}
		if best == nil || px.LastUsed.Before(best.LastUsed) ||
			(px.LastUsed.Equal(best.LastUsed) && px.ResponseTime < best.ResponseTime) {
			best = px
		}
	}
	if best == nil {
		return Proxy{}, crawler.ErrIdentityExhausted
	}
	best.LastUsed = p.clock()
	return *best, nil
}

// MarkFailed records a failure; the proxy goes inactive at FailureThreshold.
func (p *ProxyPool) MarkFailed(addr string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	px := p.findLocked(addr)
	if px == nil {
		return
	}
	px.FailCount++
	if px.FailCount >= FailureThreshold && px.Status == ProxyActive {
		px.Status = ProxyInactive
		p.logger.Info("proxy deactivated", zap.String("proxy", addr), zap.Int("fail_count", px.FailCount))
		p.publishLocked()
	}
}

// MarkSucceeded records a success and forgives one failure. It never reactivates.
func (p *ProxyPool) MarkSucceeded(addr string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	px := p.findLocked(addr)
	if px == nil {
		return
	}
	px.SuccessCount++
	if px.FailCount > 0 {
		px.FailCount--
	}
}

// Refresh replaces the pool with freshly probed candidates. Concurrent callers
// share one refresh.
func (p *ProxyPool) Refresh(ctx context.Context) error {
	_, err, _ := p.refresh.Do("refresh", func() (any, error) {
		return nil, p.doRefresh(ctx)
	})
	return err
}

// Stats returns the current pool composition.
func (p *ProxyPool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := Stats{Total: len(p.proxies), LastRefresh: p.lastRefresh}
	for _, px := range p.proxies {
		if px.Status == ProxyActive {
			s.Active++
		}
	}
	s.Inactive = s.Total - s.Active
	return s
}

// Proxies returns a copy of the pooled entries.
func (p *ProxyPool) Proxies() []Proxy {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Proxy, 0, len(p.proxies))
	for _, px := range p.proxies {
		out = append(out, *px)
	}
	return out
}

func (p *ProxyPool) doRefresh(ctx context.Context) error {
	start := p.clock()
	candidates, err := p.source.Candidates(ctx)
	if err != nil {
		return fmt.Errorf("list proxy candidates: %w", err)
	}

	probeCtx, stop := context.WithCancel(ctx)
	defer stop()

	var (
		mu    sync.Mutex
		valid = make([]*Proxy, 0, min(len(candidates), p.cfg.MaxProxies))
	)
	g, gctx := errgroup.WithContext(probeCtx)
	g.SetLimit(p.cfg.Workers)
	for _, addr := range candidates {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			rtt, err := p.prober.Probe(gctx, addr)
			if err != nil {
				p.logger.Debug("proxy probe failed", zap.String("proxy", addr), zap.Error(err))
				return nil
			}
			mu.Lock()
			defer mu.Unlock()
			if len(valid) >= p.cfg.MaxProxies {
				return nil
			}
			valid = append(valid, &Proxy{Address: addr, ResponseTime: rtt, Status: ProxyActive})
			if len(valid) >= p.cfg.MaxProxies {
				stop()
			}
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("refresh proxies: %w", err)
	}

	p.mu.Lock()
	p.proxies = valid
	p.lastRefresh = p.clock()
	p.publishLocked()
	p.mu.Unlock()

	p.logger.Info("proxy pool refreshed",
		zap.Int("candidates", len(candidates)),
		zap.Int("count", len(valid)),
		zap.Duration("elapsed", p.clock().Sub(start)),
	)
	return nil
}

func (p *ProxyPool) refreshDue() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastRefresh.IsZero() || p.clock().Sub(p.lastRefresh) > p.cfg.CheckInterval
}

func (p *ProxyPool) findLocked(addr string) *Proxy {
	for _, px := range p.proxies {
		if px.Address == addr {
			return px
		}
	}
	return nil
}

func (p *ProxyPool) publishLocked() {
	active := 0
	for _, px := range p.proxies {
		if px.Status == ProxyActive {
			active++
		}
	}
	metrics.SetProxyPool(active, len(p.proxies)-active)
}
