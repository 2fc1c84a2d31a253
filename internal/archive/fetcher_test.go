package archive

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mxvault/mxvault/internal/matrix"
	"github.com/mxvault/mxvault/internal/store"
	"github.com/mxvault/mxvault/internal/testutil"
)

const (
	fetchRef = "mxc://example.org/abc123"
	fetchURL = "https://fake.example/media/example.org/abc123"
)

// newTestFetcher wires a fetcher to a fake source and a fresh store.
// maxBytes zero selects the default ceiling.
func newTestFetcher(t *testing.T, maxBytes int64) (*Fetcher, *testutil.FakeSource, *store.Store) {
	t.Helper()
	st := setupTestStore(t)
	source := testutil.NewFakeSource("@archiver:example.org")
	clock := testutil.NewFixedClock(time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC), 0)
	return NewFetcher(source, st, clock, maxBytes), source, st
}

func imageEvent(ref string) matrix.Event {
	return testutil.FileEvent("$img1", "@alice:example.org", 1000, "m.image", "photo.jpg", ref, 4, "image/jpeg")
}

func TestFetcher_IgnoresNonAttachments(t *testing.T) {
	f, source, st := newTestFetcher(t, 0)

	for _, ev := range []matrix.Event{
		testutil.TextEvent("$t1", "@alice:example.org", 1000, "hello"),
		testutil.StateEvent("$s1", "@alice:example.org", "m.room.member", 2000),
	} {
		outcome, err := f.MaybeFetch(context.Background(), ev)
		require.NoError(t, err)
		assert.Equal(t, FetchNotAttachment, outcome)
	}

	stats, err := st.AttachmentCacheStats(context.Background())
	require.NoError(t, err)
	assert.Zero(t, stats.Total)
	assert.Zero(t, source.Downloads(fetchURL))
}

func TestFetcher_DownloadsAndStores(t *testing.T) {
	f, source, st := newTestFetcher(t, 0)
	source.Media[fetchURL] = testutil.MediaObject{Data: []byte("jpeg")}

	outcome, err := f.MaybeFetch(context.Background(), imageEvent(fetchRef))
	require.NoError(t, err)
	assert.Equal(t, FetchCached, outcome)

	att, err := st.GetAttachment(context.Background(), fetchRef)
	require.NoError(t, err)
	require.NotNil(t, att)
	assert.True(t, att.IsCached)
	assert.Equal(t, []byte("jpeg"), att.Data)
	assert.Equal(t, fetchURL, att.FetchURLHTTP)
	assert.Equal(t, "photo.jpg", att.Filename)
	assert.True(t, att.IsImage)
	assert.Equal(t, int64(4), att.Size)
	require.NotNil(t, att.MimeType)
	assert.Equal(t, "image/jpeg", *att.MimeType)
	assert.Equal(t, "200 OK", att.LastFetchStatus)
}

func TestFetcher_FileMessageIsNotImage(t *testing.T) {
	f, source, st := newTestFetcher(t, 0)
	source.Media[fetchURL] = testutil.MediaObject{Data: []byte("%PDF")}
	ev := testutil.FileEvent("$f1", "@alice:example.org", 1000, "m.file", "notes.pdf", fetchRef, 4, "application/pdf")

	outcome, err := f.MaybeFetch(context.Background(), ev)
	require.NoError(t, err)
	assert.Equal(t, FetchCached, outcome)

	att, err := st.GetAttachment(context.Background(), fetchRef)
	require.NoError(t, err)
	require.NotNil(t, att)
	assert.False(t, att.IsImage)
}

func TestFetcher_NormalizesFilename(t *testing.T) {
	f, source, st := newTestFetcher(t, 0)
	source.Media[fetchURL] = testutil.MediaObject{Data: []byte("x")}
	ev := testutil.FileEvent("$f1", "@alice:example.org", 1000, "m.file", "résumé.pdf", fetchRef, 1, "application/pdf")

	_, err := f.MaybeFetch(context.Background(), ev)
	require.NoError(t, err)

	att, err := st.GetAttachment(context.Background(), fetchRef)
	require.NoError(t, err)
	require.NotNil(t, att)
	assert.Equal(t, "résumé.pdf", att.Filename)
}

func TestFetcher_RecordsFailureWithoutData(t *testing.T) {
	f, source, st := newTestFetcher(t, 0)
	source.Media[fetchURL] = testutil.MediaObject{Err: errors.New("connection reset")}

	outcome, err := f.MaybeFetch(context.Background(), imageEvent(fetchRef))
	require.NoError(t, err, "fetch failures are recorded, not raised")
	assert.Equal(t, FetchFailed, outcome)

	att, err := st.GetAttachment(context.Background(), fetchRef)
	require.NoError(t, err)
	require.NotNil(t, att)
	assert.False(t, att.IsCached)
	assert.Empty(t, att.Data)
	assert.Contains(t, att.LastFetchStatus, "connection reset")
}

func TestFetcher_RecordsMissingMedia(t *testing.T) {
	f, _, st := newTestFetcher(t, 0)

	outcome, err := f.MaybeFetch(context.Background(), imageEvent(fetchRef))
	require.NoError(t, err)
	assert.Equal(t, FetchFailed, outcome)

	att, err := st.GetAttachment(context.Background(), fetchRef)
	require.NoError(t, err)
	require.NotNil(t, att)
	assert.Contains(t, att.LastFetchStatus, "404")
}

func TestFetcher_RetryFlipsFailedRowToCached(t *testing.T) {
	f, source, st := newTestFetcher(t, 0)
	source.Media[fetchURL] = testutil.MediaObject{Err: errors.New("gateway timeout")}

	outcome, err := f.MaybeFetch(context.Background(), imageEvent(fetchRef))
	require.NoError(t, err)
	require.Equal(t, FetchFailed, outcome)

	source.Media[fetchURL] = testutil.MediaObject{Data: []byte("jpeg")}

	outcome, err = f.MaybeFetch(context.Background(), imageEvent(fetchRef))
	require.NoError(t, err)
	assert.Equal(t, FetchCached, outcome)
	assert.Equal(t, 2, source.Downloads(fetchURL))

	att, err := st.GetAttachment(context.Background(), fetchRef)
	require.NoError(t, err)
	require.NotNil(t, att)
	assert.True(t, att.IsCached)
	assert.Equal(t, []byte("jpeg"), att.Data)
	assert.Equal(t, "200 OK", att.LastFetchStatus)
}

func TestFetcher_SkipsAlreadyCachedRow(t *testing.T) {
	f, source, _ := newTestFetcher(t, 0)
	source.Media[fetchURL] = testutil.MediaObject{Data: []byte("jpeg")}

	outcome, err := f.MaybeFetch(context.Background(), imageEvent(fetchRef))
	require.NoError(t, err)
	require.Equal(t, FetchCached, outcome)

	outcome, err = f.MaybeFetch(context.Background(), imageEvent(fetchRef))
	require.NoError(t, err)
	assert.Equal(t, FetchAlreadyCached, outcome)
	assert.Equal(t, 1, source.Downloads(fetchURL), "cached content must not be re-downloaded")
}

func TestFetcher_CeilingOnDeclaredLength(t *testing.T) {
	f, source, st := newTestFetcher(t, 64)
	source.Media[fetchURL] = testutil.MediaObject{Data: []byte("tiny"), ContentLength: 64}

	outcome, err := f.MaybeFetch(context.Background(), imageEvent(fetchRef))
	require.NoError(t, err)
	assert.Equal(t, FetchSkippedTooLarge, outcome)

	att, err := st.GetAttachment(context.Background(), fetchRef)
	require.NoError(t, err)
	require.NotNil(t, att)
	assert.False(t, att.IsCached)
	assert.Contains(t, att.LastFetchStatus, "ceiling")
}

func TestFetcher_CeilingBoundsStreamWhenHeaderAbsent(t *testing.T) {
	f, source, st := newTestFetcher(t, 8)
	// ContentLength -1 models a response without a length header.
	source.Media[fetchURL] = testutil.MediaObject{Data: []byte("12345678"), ContentLength: -1}

	outcome, err := f.MaybeFetch(context.Background(), imageEvent(fetchRef))
	require.NoError(t, err)
	assert.Equal(t, FetchSkippedTooLarge, outcome)

	att, err := st.GetAttachment(context.Background(), fetchRef)
	require.NoError(t, err)
	require.NotNil(t, att)
	assert.False(t, att.IsCached)
}

func TestFetcher_JustUnderCeilingCaches(t *testing.T) {
	f, source, st := newTestFetcher(t, 9)
	source.Media[fetchURL] = testutil.MediaObject{Data: []byte("12345678")}

	outcome, err := f.MaybeFetch(context.Background(), imageEvent(fetchRef))
	require.NoError(t, err)
	assert.Equal(t, FetchCached, outcome)

	att, err := st.GetAttachment(context.Background(), fetchRef)
	require.NoError(t, err)
	require.NotNil(t, att)
	assert.True(t, att.IsCached)
}

func TestFetcher_MalformedReferenceLeavesNoRow(t *testing.T) {
	f, source, st := newTestFetcher(t, 0)

	outcome, err := f.MaybeFetch(context.Background(), imageEvent("not-an-mxc-uri"))
	require.NoError(t, err)
	assert.Equal(t, FetchFailed, outcome)

	stats, err := st.AttachmentCacheStats(context.Background())
	require.NoError(t, err)
	assert.Zero(t, stats.Total, "an unresolvable reference has no retry key, so no row")
	assert.Zero(t, source.Downloads(fetchURL))
}
