package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mxvault/mxvault/internal/store"
)

// seedArchive builds a database with one room holding two events and a
// member, one device, and one cached plus one pending attachment.
func seedArchive(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "archive.sqlite")
	st, err := store.Open(path)
	require.NoError(t, err)
	defer func() { require.NoError(t, st.Close()) }()

	ctx := context.Background()
	ts := "2024-05-01T10:00:00.000"

	_, err = st.WriteRoom(ctx, store.Room{
		RoomID:      "!ops:example.org",
		DisplayName: "Ops Room",
		RetrievalTS: ts,
	})
	require.NoError(t, err)

	_, err = st.WriteEvents(ctx, []store.Event{
		{
			EventID: "$e1", RoomID: "!ops:example.org", Sender: "@alice:example.org",
			Type: "m.room.message", Content: `{"body":"one"}`,
			OriginServerTS: "2024-05-01T09:00:00.000", Raw: "{}", RetrievalTS: ts,
		},
		{
			EventID: "$e2", RoomID: "!ops:example.org", Sender: "@alice:example.org",
			Type: "m.room.message", Content: `{"body":"two"}`,
			OriginServerTS: "2024-05-01T09:01:00.000", Raw: "{}", RetrievalTS: ts,
		},
	})
	require.NoError(t, err)

	_, err = st.WriteMember(ctx, store.Member{
		RoomID: "!ops:example.org", UserID: "@alice:example.org",
		DisplayName: "Alice", RetrievalTS: ts,
	})
	require.NoError(t, err)

	_, err = st.WriteDevice(ctx, store.Device{
		UserID: "@archiver:example.org", DeviceID: "VAULT", RetrievalTS: ts,
	})
	require.NoError(t, err)

	_, err = st.UpsertAttachment(ctx, store.Attachment{
		FetchURLMatrix: "mxc://example.org/cached",
		FetchURLHTTP:   "https://hs.example.org/media/cached",
		Filename:       "a.png", Size: 4, IsImage: true, IsCached: true,
		Data: []byte("data"), LastFetchStatus: "200 OK", LastFetchTS: ts, RetrievalTS: ts,
	})
	require.NoError(t, err)

	_, err = st.UpsertAttachment(ctx, store.Attachment{
		FetchURLMatrix: "mxc://example.org/pending",
		FetchURLHTTP:   "https://hs.example.org/media/pending",
		Filename:       "b.pdf", Size: 9, IsCached: false,
		LastFetchStatus: "fetch failed: timeout", LastFetchTS: ts, RetrievalTS: ts,
	})
	require.NoError(t, err)

	return path
}

func runStatusCommand(t *testing.T, format, dbPath string) (string, error) {
	t.Helper()
	out := &bytes.Buffer{}
	rootOpts := &RootOptions{Format: format}
	cmd := NewStatusCommand(rootOpts)
	cmd.SetOut(out)
	cmd.SetErr(out)
	cmd.SetArgs([]string{"--db", dbPath})
	err := cmd.Execute()
	return out.String(), err
}

func TestStatus_TextReport(t *testing.T) {
	path := seedArchive(t)

	out, err := runStatusCommand(t, "text", path)
	require.NoError(t, err)

	assert.Contains(t, out, "Archive: "+path)
	assert.Contains(t, out, "Devices: 1")
	assert.Contains(t, out, `!ops:example.org "Ops Room": 2 events, 1 members`)
	assert.Contains(t, out, "Total:        2")
	assert.Contains(t, out, "Cached:       1")
	assert.Contains(t, out, "Pending:      1")
	assert.Contains(t, out, "Cached bytes: 4")
}

func TestStatus_JSONReport(t *testing.T) {
	path := seedArchive(t)

	out, err := runStatusCommand(t, "json", path)
	require.NoError(t, err)

	var resp struct {
		Status string       `json:"status"`
		Data   StatusResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, path, resp.Data.Database)
	assert.Equal(t, int64(1), resp.Data.Devices)
	require.Len(t, resp.Data.Rooms, 1)
	assert.Equal(t, "!ops:example.org", resp.Data.Rooms[0].RoomID)
	assert.Equal(t, "Ops Room", resp.Data.Rooms[0].DisplayName)
	assert.Equal(t, int64(2), resp.Data.Rooms[0].Events)
	assert.Equal(t, int64(1), resp.Data.Rooms[0].Members)
	assert.Equal(t, int64(2), resp.Data.Attachments.Total)
	assert.Equal(t, int64(1), resp.Data.Attachments.Cached)
	assert.Equal(t, int64(1), resp.Data.Attachments.Pending)
	assert.Equal(t, int64(4), resp.Data.Attachments.CachedBytes)
}

func TestStatus_EmptyArchive(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fresh.sqlite")
	st, err := store.Open(path)
	require.NoError(t, err)
	require.NoError(t, st.Close())

	out, err := runStatusCommand(t, "text", path)
	require.NoError(t, err)
	assert.Contains(t, out, "Devices: 0")
	assert.Contains(t, out, "(no rooms archived)")
	assert.Contains(t, out, "Total:        0")
}

func TestStatus_MissingDatabase(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "absent.sqlite")

	_, err := runStatusCommand(t, "text", missing)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "database not found")

	// The failed query must not have created an empty database.
	_, statErr := os.Stat(missing)
	assert.True(t, os.IsNotExist(statErr))
}

func TestStatus_RequiresDatabaseFlag(t *testing.T) {
	out := &bytes.Buffer{}
	cmd := NewStatusCommand(&RootOptions{Format: "text"})
	cmd.SetOut(out)
	cmd.SetErr(out)
	cmd.SetArgs([]string{})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "required flag")
	assert.Contains(t, err.Error(), "db")
}
