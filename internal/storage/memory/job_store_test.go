package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/realtime-jobs-crawler/internal/crawler"
)

func record(id, title string) crawler.NormalizedRecord {
	return crawler.NormalizedRecord{
		Title:            title,
		Company:          "Acme",
		Source:           "51job",
		SourceExternalID: id,
		Metadata:         map[string]string{"k": "v"},
	}
}

func TestJobStore_UpsertIsIdempotent(t *testing.T) {
	t.Parallel()

	store := NewJobStore()
	ctx := context.Background()

	require.NoError(t, store.UpsertBatch(ctx, []crawler.NormalizedRecord{record("1", "first")}))
	require.NoError(t, store.UpsertBatch(ctx, []crawler.NormalizedRecord{record("1", "second")}))

	require.Equal(t, 1, store.Len())
	got, ok := store.Get("51job", "1")
	require.True(t, ok)
	require.Equal(t, "second", got.Title)
}

func TestJobStore_RejectsWholeBatchOnMissingKey(t *testing.T) {
	t.Parallel()

	store := NewJobStore()
	bad := record("", "no id")
	err := store.UpsertBatch(context.Background(), []crawler.NormalizedRecord{record("1", "ok"), bad})
	require.Error(t, err)
	require.Zero(t, store.Len())
}

func TestJobStore_FailNext(t *testing.T) {
	t.Parallel()

	store := NewJobStore()
	boom := errors.New("db down")
	store.FailNext(boom)

	err := store.UpsertBatch(context.Background(), []crawler.NormalizedRecord{record("1", "a")})
	require.ErrorIs(t, err, boom)
	require.Zero(t, store.Len())

	require.NoError(t, store.UpsertBatch(context.Background(), []crawler.NormalizedRecord{record("1", "a")}))
	require.Equal(t, 1, store.Len())
}

func TestJobStore_AllIsSortedAndCopied(t *testing.T) {
	t.Parallel()

	store := NewJobStore()
	other := record("9", "z")
	other.Source = "boss"
	require.NoError(t, store.UpsertBatch(context.Background(), []crawler.NormalizedRecord{
		other, record("2", "b"), record("1", "a"),
	}))

	all := store.All()
	require.Len(t, all, 3)
	require.Equal(t, []string{"1", "2", "9"}, []string{all[0].SourceExternalID, all[1].SourceExternalID, all[2].SourceExternalID})

	all[0].Metadata["k"] = "mutated"
	got, _ := store.Get("51job", "1")
	require.Equal(t, "v", got.Metadata["k"])
}
