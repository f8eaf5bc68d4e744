package explorer

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nicktill/tinylens/pkg/annotation"
	"github.com/nicktill/tinylens/pkg/config"
	"github.com/nicktill/tinylens/pkg/logger"
	"github.com/nicktill/tinylens/pkg/palette"
)

func dayKey() AnnotationKey {
	return AnnotationKey{
		StartDate:     t0,
		EndDate:       t0.Add(24 * time.Hour),
		FilterField:   "region",
		FilterValue:   "eu",
		SelectedIndex: "orders",
	}
}

func newTestFeed(t *testing.T) (*AnnotationFeed, *fakeBackend) {
	t.Helper()
	b := newFakeBackend(t)
	colors, err := palette.New(context.Background(), newKV(), config.AnnotationTypeColorKey, palette.Paired12, logger.Nop())
	require.NoError(t, err)
	return NewAnnotationFeed(b, colors, logger.Nop()), b
}

func TestFeedSync(t *testing.T) {
	ctx := context.Background()
	feed, b := newTestFeed(t)
	b.seed(t, 5)

	res, err := feed.Sync(ctx, AnnotationKey{})
	require.NoError(t, err)
	assert.False(t, res.Fetched, "no fetch without a range")

	res, err = feed.Sync(ctx, dayKey())
	require.NoError(t, err)
	require.True(t, res.Fetched)
	assert.Equal(t, uint64(1), res.Epoch)
	require.Len(t, res.Annotations, 5)
	for _, a := range res.Annotations {
		assert.NotEmpty(t, a.Color)
		assert.NotEqual(t, palette.Fallback, a.Color)
	}

	res, err = feed.Sync(ctx, dayKey())
	require.NoError(t, err)
	assert.False(t, res.Fetched, "unchanged key is not refetched")
	assert.Equal(t, 1, b.searches)

	other := dayKey()
	other.FilterValue = "us"
	res, err = feed.Sync(ctx, other)
	require.NoError(t, err)
	assert.True(t, res.Fetched)
	assert.Empty(t, feed.Annotations())

	res, err = feed.Sync(ctx, other)
	require.NoError(t, err)
	assert.True(t, res.Fetched, "an empty list is always refetched")
}

func TestFeedSyncInFlightGuard(t *testing.T) {
	ctx := context.Background()
	feed, b := newTestFeed(t)
	b.seed(t, 2)

	var inner FetchResult
	b.onSearch = func() {
		assert.True(t, feed.IsLoading())
		inner, _ = feed.Sync(ctx, dayKey())
	}

	res, err := feed.Sync(ctx, dayKey())
	require.NoError(t, err)
	assert.True(t, res.Fetched)
	assert.False(t, inner.Fetched)
	assert.Equal(t, 1, b.searches)
	assert.False(t, feed.IsLoading())
}

func TestFeedSupersededResultDiscarded(t *testing.T) {
	ctx := context.Background()
	feed, b := newTestFeed(t)
	b.seed(t, 5)

	narrow := dayKey()
	narrow.EndDate = t0.Add(2 * time.Hour)

	var inner FetchResult
	b.onSearch = func() {
		var err error
		inner, err = feed.Sync(ctx, narrow)
		require.NoError(t, err)
	}

	outer, err := feed.Sync(ctx, dayKey())
	require.NoError(t, err)

	assert.False(t, outer.Fetched, "older fetch completing last is ignored")
	assert.Equal(t, uint64(1), outer.Epoch)
	assert.True(t, inner.Fetched)
	assert.Equal(t, uint64(2), inner.Epoch)
	assert.Len(t, feed.Annotations(), 3)
}

func TestFeedUpdate(t *testing.T) {
	ctx := context.Background()
	feed, b := newTestFeed(t)
	seeded := b.seed(t, 3)
	_, err := feed.Sync(ctx, dayKey())
	require.NoError(t, err)

	before, ok := feed.Find(seeded[1].ID)
	require.True(t, ok)

	desc := "cache stampede"
	typ := annotation.TypeIncident
	res, err := feed.Update(ctx, seeded[1].ID, annotation.ActionUpdate,
		&annotation.Patch{Description: &desc, AnnotationType: &typ}, testUser)
	require.NoError(t, err)
	require.True(t, res.Success)
	require.NotNil(t, res.Updated)
	assert.Equal(t, desc, res.Updated.Description)
	assert.Len(t, res.Updated.History, 1)
	assert.NotEqual(t, before.Color, res.Updated.Color, "type change recolors")

	after, ok := feed.Find(seeded[1].ID)
	require.True(t, ok)
	assert.Equal(t, desc, after.Description)
}

func TestFeedUpdateFailureReloads(t *testing.T) {
	ctx := context.Background()
	feed, b := newTestFeed(t)
	seeded := b.seed(t, 3)
	_, err := feed.Sync(ctx, dayKey())
	require.NoError(t, err)

	b.updateErr = errBackend
	desc := "never saved"
	res, err := feed.Update(ctx, seeded[0].ID, annotation.ActionUpdate, &annotation.Patch{Description: &desc}, testUser)
	require.ErrorIs(t, err, errBackend)
	assert.False(t, res.Success)
	require.NotNil(t, res.Reloaded)
	assert.True(t, res.Reloaded.Fetched)

	got, ok := feed.Find(seeded[0].ID)
	require.True(t, ok)
	assert.Equal(t, "event 00", got.Description, "optimistic change rolled back")
}

func TestFeedDelete(t *testing.T) {
	ctx := context.Background()
	feed, b := newTestFeed(t)
	seeded := b.seed(t, 3)
	_, err := feed.Sync(ctx, dayKey())
	require.NoError(t, err)

	res, err := feed.Update(ctx, seeded[2].ID, annotation.ActionDelete, nil, testUser)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, seeded[2].ID, res.DeletedID)
	assert.Len(t, feed.Annotations(), 2)

	b.updateErr = errBackend
	_, err = feed.Update(ctx, seeded[0].ID, annotation.ActionDelete, nil, testUser)
	require.Error(t, err)
	assert.Len(t, feed.Annotations(), 2, "failed delete is restored by the reload")
}

func TestFeedUpdateRejectsBadInput(t *testing.T) {
	feed, _ := newTestFeed(t)
	_, err := feed.Update(context.Background(), "x", annotation.ActionUpdate, nil, testUser)
	assert.ErrorIs(t, err, annotation.ErrEmptyPayload)
	_, err = feed.Update(context.Background(), "x", "archive", nil, testUser)
	assert.ErrorIs(t, err, annotation.ErrInvalidAction)
}

func TestFeedCreateIsIdempotent(t *testing.T) {
	ctx := context.Background()
	feed, b := newTestFeed(t)

	draft := annotation.Annotation{
		SourceIndex: "orders",
		StartDate:   t0,
		EndDate:     t0.Add(time.Hour),
		CreatedBy:   testUser,
	}
	first, err := feed.Create(ctx, draft)
	require.NoError(t, err)
	require.Len(t, b.creates, 1)
	mutationID := b.creates[0].MutationID
	assert.NotEmpty(t, mutationID)

	draft.MutationID = mutationID
	retry, err := feed.Create(ctx, draft)
	require.NoError(t, err)
	assert.Equal(t, first.ID, retry.ID, "a retried create returns the original")
}
