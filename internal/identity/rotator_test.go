package identity

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/realtime-jobs-crawler/internal/crawler"
)

type fakeLeaser struct {
	proxy     Proxy
	err       error
	failed    []string
	succeeded []string
}

func (f *fakeLeaser) Acquire(context.Context) (Proxy, error) { return f.proxy, f.err }
func (f *fakeLeaser) MarkFailed(addr string) { f.failed = append(f.failed, addr) }
func (f *fakeLeaser) MarkSucceeded(addr string) { f.succeeded = append(f.succeeded, addr) }

func TestUserAgents_Random(t *testing.T) {
	t.Parallel()

	agents := UserAgents{"ua-1", "ua-2"}
	for i := 0; i < 20; i++ {
		require.Contains(t, agents, agents.Random())
	}
	require.Contains(t, DefaultUserAgents, UserAgents(nil).Random())
}

func TestRotator_NextWithProxy(t *testing.T) {
	t.Parallel()

	leaser := &fakeLeaser{proxy: Proxy{Address: "1.2.3.4:80"}}
	r := NewRotator(UserAgents{"ua"}, leaser, nil)

	id := r.Next(context.Background())
	require.Equal(t, "ua", id.UserAgent)
	require.Equal(t, "1.2.3.4:80", id.ProxyAddr)

	r.MarkFailed(id)
	r.MarkSucceeded(id)
	require.Equal(t, []string{"1.2.3.4:80"}, leaser.failed)
	require.Equal(t, []string{"1.2.3.4:80"}, leaser.succeeded)
}

func TestRotator_ExhaustedPoolGoesDirect(t *testing.T) {
	t.Parallel()

	for _, err := range []error{crawler.ErrIdentityExhausted, errors.New("boom")} {
		leaser := &fakeLeaser{err: err}
		r := NewRotator(UserAgents{"ua"}, leaser, nil)
		id := r.Next(context.Background())
		require.False(t, id.HasProxy())
		require.Equal(t, "ua", id.UserAgent)

		r.MarkFailed(id)
		require.Empty(t, leaser.failed)
	}
}

func TestRotator_NoPool(t *testing.T) {
	t.Parallel()

	r := NewRotator(nil, nil, nil)
	id := r.Next(context.Background())
	require.False(t, id.HasProxy())
	require.NotEmpty(t, id.UserAgent)
	r.MarkFailed(id)
	r.MarkSucceeded(id)
}
