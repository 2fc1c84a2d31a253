package archive

import (
	"sync"

	"github.com/google/uuid"
)

// RunTokenGenerator produces the token correlating one archival run's log
// lines and report. Implemented by UUIDv7Generator (production) and
// FixedGenerator (tests).
type RunTokenGenerator interface {
	Generate() string
}

// UUIDv7Generator generates time-sortable UUIDv7 run tokens.
//
// UUIDv7 embeds a timestamp in the most significant bits, so tokens sort
// by run start time across archive logs.
//
// Thread-safety: UUIDv7Generator is stateless and safe for concurrent use.
type UUIDv7Generator struct{}

// Generate creates a new UUIDv7 and returns it as a hyphenated string.
//
// Panics if UUID generation fails (should never happen in practice).
func (g UUIDv7Generator) Generate() string {
	return uuid.Must(uuid.NewV7()).String()
}

// FixedGenerator returns predetermined run tokens for testing.
//
// This enables deterministic run transcripts and golden comparison.
//
// Thread-safety: FixedGenerator is safe for concurrent use via internal
// mutex.
type FixedGenerator struct {
	mu     sync.Mutex
	tokens []string
	idx    int
}

// NewFixedGenerator creates a generator that returns tokens in order.
func NewFixedGenerator(tokens ...string) *FixedGenerator {
	return &FixedGenerator{tokens: tokens}
}

// Generate returns the next predetermined token.
//
// Panics once all tokens are consumed: a test asking for more runs than
// it declared is misconfigured and should fail fast.
func (g *FixedGenerator) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.idx >= len(g.tokens) {
		panic("FixedGenerator: all tokens exhausted")
	}
	token := g.tokens[g.idx]
	g.idx++
	return token
}

// RunReport summarizes one archival run: what was new this time, room by
// room, plus the device-list result.
type RunReport struct {
	RunToken   string       `json:"run_token"`
	StartedAt  string       `json:"started_at"`
	FinishedAt string       `json:"finished_at"`
	NewDevices int          `json:"new_devices"`
	Rooms      []RoomReport `json:"rooms"`
}

// RoomReport is the outcome of archiving one room.
type RoomReport struct {
	RoomID            string `json:"room_id"`
	DisplayName       string `json:"display_name"`
	Excluded          bool   `json:"excluded,omitempty"`
	NewEvents         int    `json:"new_events"`
	NewMembers        int    `json:"new_members"`
	AttachmentsCached int    `json:"attachments_cached,omitempty"`
	AttachmentsFailed int    `json:"attachments_failed,omitempty"`
	Error             string `json:"error,omitempty"`
}

// TotalNewEvents sums the per-room new-event counts.
func (r *RunReport) TotalNewEvents() int {
	total := 0
	for _, room := range r.Rooms {
		total += room.NewEvents
	}
	return total
}

// FailedRooms counts rooms abandoned by a room-scoped failure.
func (r *RunReport) FailedRooms() int {
	failed := 0
	for _, room := range r.Rooms {
		if room.Error != "" {
			failed++
		}
	}
	return failed
}
