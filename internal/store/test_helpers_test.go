package store

import (
	"path/filepath"
	"testing"
)

// testTS is a fixed retrieval timestamp for deterministic rows.
const testTS = "2024-05-01T10:00:00.000"

// createTestStore creates a new on-disk store in a temp dir for testing.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// testRoom creates a room record with minimal required fields.
func testRoom(roomID string) Room {
	return Room{
		RoomID:      roomID,
		DisplayName: "Test Room",
		RetrievalTS: testTS,
	}
}

// testMember creates a member record with minimal required fields.
func testMember(roomID, userID string) Member {
	return Member{
		RoomID:      roomID,
		UserID:      userID,
		DisplayName: "Test User",
		RetrievalTS: testTS,
	}
}

// testDevice creates a device record with minimal required fields.
func testDevice(userID, deviceID string) Device {
	return Device{
		UserID:      userID,
		DeviceID:    deviceID,
		RetrievalTS: testTS,
	}
}

// testEvent creates an event record with the given origin timestamp.
func testEvent(eventID, roomID, originTS string) Event {
	return Event{
		EventID:        eventID,
		RoomID:         roomID,
		Sender:         "@alice:example.org",
		Type:           "m.room.message",
		Content:        `{"body":"hello","msgtype":"m.text"}`,
		OriginServerTS: originTS,
		Raw:            `{"event_id":"` + eventID + `","type":"m.room.message"}`,
		RetrievalTS:    testTS,
	}
}

// testAttachment creates a failed (not cached) attachment record.
func testAttachment(ref string) Attachment {
	return Attachment{
		FetchURLMatrix:  ref,
		FetchURLHTTP:    "https://example.org/_matrix/media/r0/download/" + ref,
		Filename:        "file.bin",
		Size:            42,
		IsCached:        false,
		LastFetchStatus: "connection refused",
		LastFetchTS:     testTS,
		RetrievalTS:     testTS,
	}
}
