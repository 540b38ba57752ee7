package archive

import (
	"context"
	"errors"
	"io"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/realtime-jobs-crawler/internal/storage/memory"
)

type stubFetcher struct {
	body []byte
	err  error
}

func (s stubFetcher) Fetch(context.Context, string, url.Values) ([]byte, error) {
	return s.body, s.err
}

type brokenBlobs struct{}

func (brokenBlobs) PutObject(context.Context, string, string, io.Reader) (string, error) {
	return "", errors.New("bucket gone")
}

func fixedClock() time.Time {
	return time.Date(2025, time.January, 10, 12, 0, 0, 0, time.UTC)
}

func TestFetcher_ArchivesBody(t *testing.T) {
	t.Parallel()

	blobs := memory.NewBlobStore()
	f := New(stubFetcher{body: []byte("<html/>")}, blobs, "/raw/", fixedClock, nil)

	body, err := f.Fetch(context.Background(), "https://Search.51job.com/list", nil)
	require.NoError(t, err)
	require.Equal(t, "<html/>", string(body))

	paths := blobs.Paths()
	require.Len(t, paths, 1)
	require.True(t, strings.HasPrefix(paths[0], "raw/search.51job.com/2025/01/10/"))
	require.True(t, strings.HasSuffix(paths[0], ".html"))
	stored, ct, ok := blobs.Object(paths[0])
	require.True(t, ok)
	require.Equal(t, "<html/>", string(stored))
	require.Equal(t, contentType, ct)
}

func TestFetcher_SameBodySameObject(t *testing.T) {
	t.Parallel()

	blobs := memory.NewBlobStore()
	f := New(stubFetcher{body: []byte("same")}, blobs, "", fixedClock, nil)
	for i := 0; i < 3; i++ {
		_, err := f.Fetch(context.Background(), "https://jobs.51job.com/1.html", nil)
		require.NoError(t, err)
	}
	require.Len(t, blobs.Paths(), 1)
}

func TestFetcher_PassesThroughErrors(t *testing.T) {
	t.Parallel()

	blobs := memory.NewBlobStore()
	boom := errors.New("boom")
	f := New(stubFetcher{err: boom}, blobs, "raw", fixedClock, nil)
	_, err := f.Fetch(context.Background(), "https://a.example", nil)
	require.ErrorIs(t, err, boom)
	require.Empty(t, blobs.Paths())
}

func TestFetcher_ArchiveFailureIsNotFatal(t *testing.T) {
	t.Parallel()

	f := New(stubFetcher{body: []byte("ok")}, brokenBlobs{}, "raw", fixedClock, nil)
	body, err := f.Fetch(context.Background(), "https://a.example", nil)
	require.NoError(t, err)
	require.Equal(t, "ok", string(body))
}
