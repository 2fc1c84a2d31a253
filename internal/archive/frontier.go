package archive

import "github.com/mxvault/mxvault/internal/matrix"

// KnownRecentWindow is the number of most recent stored event IDs used as
// the comparison set for frontier detection.
const KnownRecentWindow = 1000

// Frontier decides, batch by batch, which incoming events are genuinely
// new and when the backward walk has caught up with previously archived
// history.
//
// The walk runs newest to oldest, so the first already-stored ID marks
// the boundary between events new since the last run and events archived
// before. A batch straddling the boundary is still processed whole: every
// unknown ID in it is kept even though the batch ends the walk. Detection
// depends only on ID membership, never on timestamps, so out-of-order
// remote history does not break it.
type Frontier struct {
	known map[string]struct{}
}

// NewFrontier builds a detector over the known-recent window of stored
// event IDs. An empty window means the room has never been archived and
// the walk runs until the source exhausts.
func NewFrontier(knownIDs []string) *Frontier {
	known := make(map[string]struct{}, len(knownIDs))
	for _, id := range knownIDs {
		known[id] = struct{}{}
	}
	return &Frontier{known: known}
}

// Partition splits one batch into the events to persist, preserving batch
// order, and reports whether the batch is terminal. Terminal means at
// least one ID was already known: the caller persists the returned fresh
// events and then stops pulling batches.
func (f *Frontier) Partition(batch []matrix.Event) (fresh []matrix.Event, terminal bool) {
	for _, ev := range batch {
		if _, known := f.known[ev.ID]; known {
			terminal = true
			continue
		}
		fresh = append(fresh, ev)
	}
	return fresh, terminal
}
