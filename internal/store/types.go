package store

// Record types for the five archived entity kinds. Fields map 1:1 to the
// columns in schema.sql; pointer fields are nullable columns. Timestamp
// fields hold ISO-8601 UTC text at millisecond precision.

// Room is a chat room's metadata snapshot. Write-once: the first sighting
// wins and later runs never update it.
type Room struct {
	RoomID      string
	DisplayName string
	Topic       *string // nil when absent or lookup failed
	RetrievalTS string
}

// Member is a room membership record, unique per (room_id, user_id).
// Write-once.
type Member struct {
	RoomID      string
	UserID      string
	DisplayName string
	AvatarURL   *string
	RetrievalTS string
}

// Device is a session device record for the archiving account, unique per
// (user_id, device_id). Write-once: rediscovery is a no-op.
type Device struct {
	UserID      string
	DeviceID    string
	DisplayName *string
	LastSeenTS  *string // absolute timestamp, converted from ms epoch
	LastSeenIP  *string
	RetrievalTS string
}

// Event is one archived timeline event. Immutable once written; Raw holds
// the payload exactly as the remote delivered it.
type Event struct {
	EventID        string
	RoomID         string
	Sender         string
	Type           string
	Content        string
	OriginServerTS string
	Raw            string
	RetrievalTS    string
}

// Attachment is a binary referenced by an event, unique per content
// reference (fetch_url_matrix). Unlike the other kinds it is mutable:
// a failed fetch is re-attempted on a later run, which overwrites
// last_fetch_status/last_fetch_ts and, on success, Data.
type Attachment struct {
	FetchURLMatrix  string
	FetchURLHTTP    string
	Filename        string
	Size            int64
	MimeType        *string
	IsImage         bool
	IsCached        bool
	Data            []byte
	LastFetchStatus string
	LastFetchTS     string
	RetrievalTS     string
}

// AttachmentWrite tags the outcome of UpsertAttachment.
type AttachmentWrite int

const (
	// AttachmentInserted means no row existed for the content reference.
	AttachmentInserted AttachmentWrite = iota
	// AttachmentUpdated means an existing non-cached row was refreshed
	// (data on success, fetch status always).
	AttachmentUpdated
	// AttachmentUnchanged means the existing row is already cached and was
	// left untouched.
	AttachmentUnchanged
)

// String returns the tag name for logs and reports.
func (w AttachmentWrite) String() string {
	switch w {
	case AttachmentInserted:
		return "inserted"
	case AttachmentUpdated:
		return "updated"
	case AttachmentUnchanged:
		return "unchanged"
	default:
		return "unknown"
	}
}

// RoomSummary is a per-room aggregate for the status report.
type RoomSummary struct {
	RoomID      string `json:"room_id"`
	DisplayName string `json:"display_name"`
	Events      int64  `json:"events"`
	Members     int64  `json:"members"`
}

// AttachmentStats aggregates the attachment cache for the status report.
type AttachmentStats struct {
	Total       int64 `json:"total"`
	Cached      int64 `json:"cached"`
	Pending     int64 `json:"pending"`
	CachedBytes int64 `json:"cached_bytes"`
}
