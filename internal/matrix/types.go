package matrix

import (
	"encoding/json"
	"io"
)

// Event is one timeline event as delivered by the homeserver. Raw keeps the
// payload byte-for-byte as received; the typed fields are a parsed subset.
type Event struct {
	ID             string
	Sender         string
	Type           string
	OriginServerTS int64 // milliseconds since epoch
	Content        json.RawMessage
	Raw            json.RawMessage
}

// UnmarshalJSON parses the subset of fields the archiver needs and captures
// the original payload in Raw.
func (e *Event) UnmarshalJSON(data []byte) error {
	var wire struct {
		EventID        string          `json:"event_id"`
		Sender         string          `json:"sender"`
		Type           string          `json:"type"`
		OriginServerTS int64           `json:"origin_server_ts"`
		Content        json.RawMessage `json:"content"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	*e = Event{
		ID:             wire.EventID,
		Sender:         wire.Sender,
		Type:           wire.Type,
		OriginServerTS: wire.OriginServerTS,
		Content:        wire.Content,
		Raw:            append(json.RawMessage(nil), data...),
	}
	return nil
}

// RoomView is one joined room from the sync snapshot: resolved display name,
// the resident timeline slice (chronological order, as synced), and the
// pagination cursor pointing backward from just before that slice.
type RoomView struct {
	ID          string
	DisplayName string
	PrevBatch   string
	Events      []Event
}

// Member is one entry of a room's joined-member roster.
type Member struct {
	UserID      string
	DisplayName string
	AvatarURL   string // empty when the member has none
}

// Device is one session device of the archiving account.
type Device struct {
	ID          string `json:"device_id"`
	DisplayName string `json:"display_name"`
	LastSeenTS  *int64 `json:"last_seen_ts"` // ms epoch, nil when never seen
	LastSeenIP  string `json:"last_seen_ip"`
}

// MessagesPage is one backward pagination batch. End is the cursor for the
// next (older) request; an empty Chunk means the history is exhausted.
type MessagesPage struct {
	Chunk []Event `json:"chunk"`
	End   string  `json:"end"`
}

// Download is an open media stream. ContentLength is the remote-declared
// length, -1 when the header is absent. The caller owns Body.
type Download struct {
	Body          io.ReadCloser
	ContentLength int64
	Status        string
}
