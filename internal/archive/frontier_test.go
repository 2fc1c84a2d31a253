package archive

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/mxvault/mxvault/internal/matrix"
	"github.com/mxvault/mxvault/internal/testutil"
)

func eventIDs(events []matrix.Event) []string {
	ids := make([]string, 0, len(events))
	for _, ev := range events {
		ids = append(ids, ev.ID)
	}
	return ids
}

// batchOf builds a newest-first batch of plain text events.
func batchOf(ids ...string) []matrix.Event {
	events := make([]matrix.Event, 0, len(ids))
	for i, id := range ids {
		events = append(events, testutil.TextEvent(id, "@alice:example.org", int64(10000-i*1000), "hello"))
	}
	return events
}

func TestFrontier_AllFreshIsNotTerminal(t *testing.T) {
	f := NewFrontier([]string{"$e5", "$e4", "$e3"})

	fresh, terminal := f.Partition(batchOf("$e10", "$e9", "$e8"))

	assert.False(t, terminal)
	assert.Equal(t, []string{"$e10", "$e9", "$e8"}, eventIDs(fresh))
}

func TestFrontier_KnownEventMarksTerminal(t *testing.T) {
	f := NewFrontier([]string{"$e5", "$e4"})

	fresh, terminal := f.Partition(batchOf("$e7", "$e6", "$e5"))

	assert.True(t, terminal)
	assert.Equal(t, []string{"$e7", "$e6"}, eventIDs(fresh))
}

func TestFrontier_KeepsFreshAfterKnownInSameBatch(t *testing.T) {
	// A known event in the middle of a batch must not hide the unknown
	// events that follow it.
	f := NewFrontier([]string{"$e5"})

	fresh, terminal := f.Partition(batchOf("$e7", "$e5", "$e6"))

	assert.True(t, terminal)
	assert.Equal(t, []string{"$e7", "$e6"}, eventIDs(fresh))
}

func TestFrontier_AllKnown(t *testing.T) {
	f := NewFrontier([]string{"$e2", "$e1"})

	fresh, terminal := f.Partition(batchOf("$e2", "$e1"))

	assert.True(t, terminal)
	assert.Empty(t, fresh)
}

func TestFrontier_EmptyWindowNeverTerminates(t *testing.T) {
	// No known events: the walk runs to pagination exhaustion.
	f := NewFrontier(nil)

	fresh, terminal := f.Partition(batchOf("$e2", "$e1"))

	assert.False(t, terminal)
	assert.Len(t, fresh, 2)
}

func TestFrontier_EmptyBatch(t *testing.T) {
	f := NewFrontier([]string{"$e1"})

	fresh, terminal := f.Partition(nil)

	assert.False(t, terminal)
	assert.Empty(t, fresh)
}
