package identity

import (
	"context"
	"errors"
	"math/rand/v2"

	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-jobs-crawler/internal/crawler"
)

// DefaultUserAgents is the desktop browser set rotated when none is configured.
var DefaultUserAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:121.0) Gecko/20100101 Firefox/121.0",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.2 Safari/605.1.15",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36 Edg/120.0.0.0",
}

// UserAgents is a rotation set of user-agent strings.
type UserAgents []string

// Random picks a user agent uniformly; an empty set falls back to the defaults.
func (u UserAgents) Random() string {
	if len(u) == 0 {
		return DefaultUserAgents[rand.IntN(len(DefaultUserAgents))]
	}
	return u[rand.IntN(len(u))]
}

// ProxyLeaser is the part of ProxyPool the rotator needs.
type ProxyLeaser interface {
	Acquire(ctx context.Context) (Proxy, error)
	MarkFailed(addr string)
	MarkSucceeded(addr string)
}

// Rotator implements crawler.IdentitySource over a user-agent set and an
// optional proxy pool.
type Rotator struct {
	agents UserAgents
	pool   ProxyLeaser
	logger *zap.Logger
}

var _ crawler.IdentitySource = (*Rotator)(nil)

// NewRotator builds a Rotator. A nil pool means every request goes direct.
func NewRotator(agents UserAgents, pool ProxyLeaser, logger *zap.Logger) *Rotator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Rotator{agents: agents, pool: pool, logger: logger.Named("identity")}
}

// Next returns a fresh identity. An exhausted pool degrades to a direct request.
func (r *Rotator) Next(ctx context.Context) crawler.Identity {
	id := crawler.Identity{UserAgent: r.agents.Random()}
	if r.pool == nil {
		return id
	}
	px, err := r.pool.Acquire(ctx)
	if err != nil {
		if errors.Is(err, crawler.ErrIdentityExhausted) {
			r.logger.Debug("no active proxy, proceeding direct")
		} else {
			r.logger.Warn("acquire proxy", zap.Error(err))
		}
		return id
	}
	id.ProxyAddr = px.Address
	return id
}

// MarkFailed forwards a failure for the identity's proxy.
func (r *Rotator) MarkFailed(id crawler.Identity) {
	if r.pool != nil && id.HasProxy() {
		r.pool.MarkFailed(id.ProxyAddr)
	}
}

// MarkSucceeded forwards a success for the identity's proxy.
func (r *Rotator) MarkSucceeded(id crawler.Identity) {
	if r.pool != nil && id.HasProxy() {
		r.pool.MarkSucceeded(id.ProxyAddr)
	}
}
