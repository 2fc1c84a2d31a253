package harness

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Scenario is one end-to-end archival fixture: the remote homeserver state
// and the sequence of runs to execute against it.
type Scenario struct {
	// Name uniquely identifies this scenario; the golden file shares it.
	Name string `yaml:"name"`

	// Description explains what behavior this scenario pins down.
	Description string `yaml:"description"`

	// User is the archiving account's user ID.
	User string `yaml:"user"`

	// Devices is the account's device list, archived once per run.
	Devices []DeviceDef `yaml:"devices,omitempty"`

	// Rooms is the joined-room state, in sync order.
	Rooms []RoomDef `yaml:"rooms"`

	// Media holds downloadable content addressed by mxc reference.
	Media []MediaDef `yaml:"media,omitempty"`

	// Targets restricts runs to these room IDs; empty means all joined.
	Targets []string `yaml:"targets,omitempty"`

	// Excluded rooms are skipped even when targeted.
	Excluded []string `yaml:"excluded,omitempty"`

	// MaxAttachmentBytes overrides the download ceiling for every run.
	MaxAttachmentBytes int64 `yaml:"max_attachment_bytes,omitempty"`

	// Runs executes in order against the evolving remote state.
	Runs []RunDef `yaml:"runs"`
}

// DeviceDef is one device on the account.
type DeviceDef struct {
	DeviceID    string `yaml:"device_id"`
	DisplayName string `yaml:"display_name,omitempty"`
	LastSeenTS  *int64 `yaml:"last_seen_ts,omitempty"`
	LastSeenIP  string `yaml:"last_seen_ip,omitempty"`
}

// RoomDef is one joined room with its full chronological history.
type RoomDef struct {
	RoomID      string `yaml:"room_id"`
	DisplayName string `yaml:"display_name"`

	// Topic is the room topic; omitted means the room has none.
	Topic *string `yaml:"topic,omitempty"`

	// TopicFails makes the topic lookup error; the run records no topic.
	TopicFails bool `yaml:"topic_fails,omitempty"`

	Members []MemberDef `yaml:"members,omitempty"`

	// History is the room's events, oldest first.
	History []EventDef `yaml:"history"`

	// Resident is how many of the newest events the sync snapshot carries.
	Resident int `yaml:"resident"`

	// PageSize splits the rest of the history into backward pages.
	// Zero means one page for everything.
	PageSize int `yaml:"page_size,omitempty"`

	// PagingFails makes every pagination request for this room error.
	PagingFails bool `yaml:"paging_fails,omitempty"`
}

// MemberDef is one joined member.
type MemberDef struct {
	UserID      string `yaml:"user_id"`
	DisplayName string `yaml:"display_name"`
	AvatarURL   string `yaml:"avatar_url,omitempty"`
}

// EventDef is one timeline event. A plain message sets body; an attachment
// sets msgtype m.image or m.file plus ref.
type EventDef struct {
	EventID string `yaml:"event_id"`
	Sender  string `yaml:"sender"`
	TS      int64  `yaml:"ts"`

	Body string `yaml:"body,omitempty"`

	MsgType  string `yaml:"msgtype,omitempty"`
	Filename string `yaml:"filename,omitempty"`
	Ref      string `yaml:"ref,omitempty"`
	Size     int64  `yaml:"size,omitempty"`
	MimeType string `yaml:"mimetype,omitempty"`
}

// MediaDef is one downloadable media object.
type MediaDef struct {
	Ref  string `yaml:"ref"`
	Data string `yaml:"data"`

	// Fail makes the download error until a run heals it.
	Fail bool `yaml:"fail,omitempty"`
}

// RunDef is one archival run, with optional remote mutations applied first.
type RunDef struct {
	// Append adds events to room histories before the run.
	Append []AppendDef `yaml:"append,omitempty"`

	// HealMedia clears the failure flag on the given references.
	HealMedia []string `yaml:"heal_media,omitempty"`

	// Expect checks run totals; omitted fields are not checked.
	Expect *RunExpect `yaml:"expect,omitempty"`
}

// AppendDef appends events to one room's history.
type AppendDef struct {
	RoomID string     `yaml:"room_id"`
	Events []EventDef `yaml:"events"`
}

// RunExpect validates one run's report totals.
type RunExpect struct {
	NewDevices        *int `yaml:"new_devices,omitempty"`
	NewEvents         *int `yaml:"new_events,omitempty"`
	NewMembers        *int `yaml:"new_members,omitempty"`
	FailedRooms       *int `yaml:"failed_rooms,omitempty"`
	AttachmentsCached *int `yaml:"attachments_cached,omitempty"`
	AttachmentsFailed *int `yaml:"attachments_failed,omitempty"`
}

// LoadScenario reads and parses a scenario YAML file. Unknown fields are
// rejected so fixture typos fail loudly.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario file: %w", err)
	}

	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("parse scenario YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks required fields and cross-references.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if s.User == "" {
		return fmt.Errorf("user is required")
	}
	if len(s.Rooms) == 0 {
		return fmt.Errorf("rooms list is required and must be non-empty")
	}
	if len(s.Runs) == 0 {
		return fmt.Errorf("runs list is required and must be non-empty")
	}

	roomIDs := make(map[string]bool)
	for i, room := range s.Rooms {
		if room.RoomID == "" {
			return fmt.Errorf("rooms[%d]: room_id is required", i)
		}
		if roomIDs[room.RoomID] {
			return fmt.Errorf("rooms[%d]: duplicate room_id %s", i, room.RoomID)
		}
		roomIDs[room.RoomID] = true
		if room.DisplayName == "" {
			return fmt.Errorf("rooms[%d]: display_name is required", i)
		}
		if room.Resident < 0 || room.Resident > len(room.History) {
			return fmt.Errorf("rooms[%d]: resident %d out of range for %d history events",
				i, room.Resident, len(room.History))
		}
		if room.PageSize < 0 {
			return fmt.Errorf("rooms[%d]: page_size must be non-negative", i)
		}
		for j, ev := range room.History {
			if err := validateEvent(&ev); err != nil {
				return fmt.Errorf("rooms[%d].history[%d]: %w", i, j, err)
			}
		}
	}

	mediaRefs := make(map[string]bool)
	for i, m := range s.Media {
		if m.Ref == "" {
			return fmt.Errorf("media[%d]: ref is required", i)
		}
		if mediaRefs[m.Ref] {
			return fmt.Errorf("media[%d]: duplicate ref %s", i, m.Ref)
		}
		mediaRefs[m.Ref] = true
	}

	for i, run := range s.Runs {
		for j, app := range run.Append {
			if !roomIDs[app.RoomID] {
				return fmt.Errorf("runs[%d].append[%d]: unknown room %s", i, j, app.RoomID)
			}
			if len(app.Events) == 0 {
				return fmt.Errorf("runs[%d].append[%d]: events list must be non-empty", i, j)
			}
			for k, ev := range app.Events {
				if err := validateEvent(&ev); err != nil {
					return fmt.Errorf("runs[%d].append[%d].events[%d]: %w", i, j, k, err)
				}
			}
		}
		for j, ref := range run.HealMedia {
			if !mediaRefs[ref] {
				return fmt.Errorf("runs[%d].heal_media[%d]: unknown media ref %s", i, j, ref)
			}
		}
	}

	return nil
}

// validateEvent checks one event definition.
func validateEvent(ev *EventDef) error {
	if ev.EventID == "" {
		return fmt.Errorf("event_id is required")
	}
	if ev.Sender == "" {
		return fmt.Errorf("sender is required")
	}
	switch ev.MsgType {
	case "", "m.text":
	case "m.image", "m.file":
		if ev.Ref == "" {
			return fmt.Errorf("ref is required for msgtype %s", ev.MsgType)
		}
	default:
		return fmt.Errorf("unsupported msgtype %q", ev.MsgType)
	}
	return nil
}
