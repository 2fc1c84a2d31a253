package harness

import (
	"errors"
	"fmt"

	"github.com/mxvault/mxvault/internal/matrix"
	"github.com/mxvault/mxvault/internal/testutil"
)

// errPaging is the injected pagination failure for paging_fails rooms.
var errPaging = errors.New("paging unavailable")

// remoteState is the mutable homeserver side of a scenario. Runs append
// events and heal media here; the fake source is rebuilt from it before
// each run.
type remoteState struct {
	rooms []RoomDef
	media []MediaDef
}

// newRemoteState deep-copies the scenario's remote definitions so run
// mutations never touch the loaded scenario.
func newRemoteState(s *Scenario) *remoteState {
	state := &remoteState{
		rooms: make([]RoomDef, len(s.Rooms)),
		media: make([]MediaDef, len(s.Media)),
	}
	copy(state.media, s.Media)
	for i, room := range s.Rooms {
		room.History = append([]EventDef(nil), room.History...)
		room.Members = append([]MemberDef(nil), room.Members...)
		state.rooms[i] = room
	}
	return state
}

// apply performs one run's remote mutations.
func (r *remoteState) apply(run *RunDef) error {
	for _, app := range run.Append {
		found := false
		for i := range r.rooms {
			if r.rooms[i].RoomID == app.RoomID {
				r.rooms[i].History = append(r.rooms[i].History, app.Events...)
				found = true
				break
			}
		}
		if !found {
			return fmt.Errorf("append: unknown room %s", app.RoomID)
		}
	}
	for _, ref := range run.HealMedia {
		found := false
		for i := range r.media {
			if r.media[i].Ref == ref {
				r.media[i].Fail = false
				found = true
				break
			}
		}
		if !found {
			return fmt.Errorf("heal_media: unknown ref %s", ref)
		}
	}
	return nil
}

// buildSource creates the scripted source for a scenario's initial state.
func buildSource(s *Scenario, state *remoteState) (*testutil.FakeSource, error) {
	source := testutil.NewFakeSource(s.User)
	for _, d := range s.Devices {
		dev := matrix.Device{
			ID:          d.DeviceID,
			DisplayName: d.DisplayName,
			LastSeenIP:  d.LastSeenIP,
		}
		if d.LastSeenTS != nil {
			ts := *d.LastSeenTS
			dev.LastSeenTS = &ts
		}
		source.DeviceList = append(source.DeviceList, dev)
	}
	if err := refreshSource(source, state); err != nil {
		return nil, err
	}
	return source, nil
}

// refreshSource rewrites the source's room and media fixtures from the
// current remote state. Call counters survive so scenarios can be probed
// about request behavior.
func refreshSource(source *testutil.FakeSource, state *remoteState) error {
	source.Views = source.Views[:0]
	source.Pages = make(map[string]map[string]matrix.MessagesPage)
	source.Topics = make(map[string]string)
	source.Rosters = make(map[string][]matrix.Member)
	source.TopicErrs = make(map[string]error)
	source.MessageErrs = make(map[string]error)
	source.Media = make(map[string]testutil.MediaObject)

	for i := range state.rooms {
		if err := installRoom(source, &state.rooms[i]); err != nil {
			return err
		}
	}
	for _, m := range state.media {
		url, err := source.ContentURL(m.Ref)
		if err != nil {
			return fmt.Errorf("media %s: %w", m.Ref, err)
		}
		obj := testutil.MediaObject{Data: []byte(m.Data)}
		if m.Fail {
			obj.Err = fmt.Errorf("download %s: gateway timeout", m.Ref)
		}
		source.Media[url] = obj
	}
	return nil
}

// installRoom registers one room's view, roster, topic and pages.
func installRoom(source *testutil.FakeSource, room *RoomDef) error {
	events := make([]matrix.Event, len(room.History))
	for i, def := range room.History {
		events[i] = buildEvent(&def)
	}

	split := len(events) - room.Resident
	resident := events[split:]
	backlog := events[:split]

	view := matrix.RoomView{
		ID:          room.RoomID,
		DisplayName: room.DisplayName,
		PrevBatch:   pageCursor(room.RoomID, 1),
		Events:      resident,
	}
	source.Views = append(source.Views, view)

	if room.Topic != nil {
		source.Topics[room.RoomID] = *room.Topic
	}
	if room.TopicFails {
		source.TopicErrs[room.RoomID] = errors.New("topic lookup refused")
	}
	for _, m := range room.Members {
		source.Rosters[room.RoomID] = append(source.Rosters[room.RoomID], matrix.Member{
			UserID:      m.UserID,
			DisplayName: m.DisplayName,
			AvatarURL:   m.AvatarURL,
		})
	}

	if room.PagingFails {
		source.MessageErrs[room.RoomID] = errPaging
		return nil
	}

	// Backward pages: newest first, page_size events per cursor. The final
	// page's End cursor has no fixture, which reads as an empty page.
	pageSize := room.PageSize
	if pageSize <= 0 {
		pageSize = len(backlog)
	}
	pageNum := 1
	for i := len(backlog); i > 0; i -= pageSize {
		lo := i - pageSize
		if lo < 0 {
			lo = 0
		}
		chunk := make([]matrix.Event, 0, i-lo)
		for j := i - 1; j >= lo; j-- {
			chunk = append(chunk, backlog[j])
		}
		source.AddPage(room.RoomID, pageCursor(room.RoomID, pageNum), matrix.MessagesPage{
			Chunk: chunk,
			End:   pageCursor(room.RoomID, pageNum+1),
		})
		pageNum++
	}
	return nil
}

// buildEvent renders one event definition as a wire event.
func buildEvent(def *EventDef) matrix.Event {
	switch def.MsgType {
	case "m.image", "m.file":
		return testutil.FileEvent(def.EventID, def.Sender, def.TS,
			def.MsgType, def.Filename, def.Ref, def.Size, def.MimeType)
	default:
		return testutil.TextEvent(def.EventID, def.Sender, def.TS, def.Body)
	}
}

// pageCursor names a room's nth backward page.
func pageCursor(roomID string, n int) string {
	return fmt.Sprintf("%s|page-%d", roomID, n)
}
