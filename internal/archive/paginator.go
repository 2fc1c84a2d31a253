package archive

import (
	"context"

	"github.com/mxvault/mxvault/internal/matrix"
)

// DefaultBatchSize is the page size for backward pagination requests,
// empirically the largest value the homeserver honors.
const DefaultBatchSize = 1000

// Paginator walks one room's history backward from "now": the resident
// sync slice first, then fixed-size pages through the opaque prev-batch
// cursor. It hides cursor bookkeeping and never reorders, drops, or
// synthesizes events.
type Paginator struct {
	client    matrix.Client
	roomID    string
	resident  []matrix.Event
	cursor    string
	batchSize int
	started   bool
	done      bool
}

// NewPaginator returns a paginator positioned at view's timeline snapshot.
func NewPaginator(client matrix.Client, view matrix.RoomView, batchSize int) *Paginator {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &Paginator{
		client:    client,
		roomID:    view.ID,
		resident:  view.Events,
		cursor:    view.PrevBatch,
		batchSize: batchSize,
	}
}

// NextBatch returns the next batch of events, or (nil, nil) at end of
// stream. The first call yields the resident slice when it is non-empty;
// every later call is one pagination request. An empty page ends the
// stream. Request errors surface to the caller unretried; the room is
// abandoned, not resumed.
func (p *Paginator) NextBatch(ctx context.Context) ([]matrix.Event, error) {
	if p.done {
		return nil, nil
	}
	if !p.started {
		p.started = true
		if len(p.resident) > 0 {
			return p.resident, nil
		}
	}
	if p.cursor == "" {
		p.done = true
		return nil, nil
	}

	page, err := p.client.Messages(ctx, p.roomID, p.cursor, p.batchSize)
	if err != nil {
		return nil, err
	}
	if len(page.Chunk) == 0 {
		p.done = true
		return nil, nil
	}
	p.cursor = page.End
	return page.Chunk, nil
}
