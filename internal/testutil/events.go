package testutil

import (
	"encoding/json"
	"fmt"

	"github.com/mxvault/mxvault/internal/matrix"
)

// Event fixtures are built from raw JSON and parsed through the wire
// type, so Raw carries exactly what a homeserver would have delivered.

// TextEvent builds an m.room.message text event.
func TextEvent(eventID, sender string, originTS int64, body string) matrix.Event {
	return mustEvent(fmt.Sprintf(
		`{"event_id":%q,"sender":%q,"type":"m.room.message","origin_server_ts":%d,"content":{"msgtype":"m.text","body":%q}}`,
		eventID, sender, originTS, body))
}

// FileEvent builds an attachment-bearing message event. msgtype is
// m.image or m.file; ref is the mxc:// content reference.
func FileEvent(eventID, sender string, originTS int64, msgtype, filename, ref string, size int64, mimeType string) matrix.Event {
	return mustEvent(fmt.Sprintf(
		`{"event_id":%q,"sender":%q,"type":"m.room.message","origin_server_ts":%d,"content":{"msgtype":%q,"body":%q,"url":%q,"info":{"size":%d,"mimetype":%q}}}`,
		eventID, sender, originTS, msgtype, filename, ref, size, mimeType))
}

// StateEvent builds a non-message event of the given type with empty
// content.
func StateEvent(eventID, sender, eventType string, originTS int64) matrix.Event {
	return mustEvent(fmt.Sprintf(
		`{"event_id":%q,"sender":%q,"type":%q,"origin_server_ts":%d,"content":{}}`,
		eventID, sender, eventType, originTS))
}

func mustEvent(raw string) matrix.Event {
	var ev matrix.Event
	if err := json.Unmarshal([]byte(raw), &ev); err != nil {
		panic("testutil: invalid event fixture: " + err.Error())
	}
	return ev
}
