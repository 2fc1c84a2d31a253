package testutil

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/mxvault/mxvault/internal/matrix"
)

// FakeSource is an in-memory matrix.Client. Tests program it with room
// views, rosters, message pages, and media objects; it records call
// counts so tests can assert what the engine actually requested.
//
// Fixture maps are written during setup only; the call counters are
// mutex-guarded so rooms may be archived in parallel.
type FakeSource struct {
	User       string
	Views      []matrix.RoomView
	Rosters    map[string][]matrix.Member
	Topics     map[string]string // room ID -> topic; missing key = absent
	DeviceList []matrix.Device
	Pages      map[string]map[string]matrix.MessagesPage // room ID -> cursor -> page
	Media      map[string]MediaObject                    // http URL -> object

	RoomsErr    error
	DevicesErr  error
	TopicErrs   map[string]error
	RosterErrs  map[string]error
	MessageErrs map[string]error

	mu            sync.Mutex
	MessageCalls  map[string]int // per room ID
	DownloadCalls map[string]int // per http URL
}

// MediaObject is one downloadable fixture.
type MediaObject struct {
	Data          []byte
	ContentLength int64 // overrides len(Data) when non-zero
	Err           error // forces the download to fail
}

// NewFakeSource creates an empty source authenticated as user.
func NewFakeSource(user string) *FakeSource {
	return &FakeSource{
		User:          user,
		Rosters:       make(map[string][]matrix.Member),
		Topics:        make(map[string]string),
		Pages:         make(map[string]map[string]matrix.MessagesPage),
		Media:         make(map[string]MediaObject),
		TopicErrs:     make(map[string]error),
		RosterErrs:    make(map[string]error),
		MessageErrs:   make(map[string]error),
		MessageCalls:  make(map[string]int),
		DownloadCalls: make(map[string]int),
	}
}

// AddPage registers one pagination page for a room at the given cursor.
func (s *FakeSource) AddPage(roomID, cursor string, page matrix.MessagesPage) {
	if s.Pages[roomID] == nil {
		s.Pages[roomID] = make(map[string]matrix.MessagesPage)
	}
	s.Pages[roomID][cursor] = page
}

// Login implements matrix.Client. The fake accepts any credentials.
func (s *FakeSource) Login(ctx context.Context, user, password string) error {
	return nil
}

// Whoami implements matrix.Client.
func (s *FakeSource) Whoami(ctx context.Context) (string, error) {
	return s.User, nil
}

// UserID implements matrix.Client.
func (s *FakeSource) UserID() string {
	return s.User
}

// Rooms implements matrix.Client.
func (s *FakeSource) Rooms(ctx context.Context) ([]matrix.RoomView, error) {
	if s.RoomsErr != nil {
		return nil, s.RoomsErr
	}
	return s.Views, nil
}

// JoinedMembers implements matrix.Client.
func (s *FakeSource) JoinedMembers(ctx context.Context, roomID string) ([]matrix.Member, error) {
	if err := s.RosterErrs[roomID]; err != nil {
		return nil, err
	}
	return s.Rosters[roomID], nil
}

// Topic implements matrix.Client. A room without a fixture topic is
// reported as absent.
func (s *FakeSource) Topic(ctx context.Context, roomID string) (string, bool, error) {
	if err := s.TopicErrs[roomID]; err != nil {
		return "", false, err
	}
	topic, ok := s.Topics[roomID]
	return topic, ok, nil
}

// Devices implements matrix.Client.
func (s *FakeSource) Devices(ctx context.Context) ([]matrix.Device, error) {
	if s.DevicesErr != nil {
		return nil, s.DevicesErr
	}
	return s.DeviceList, nil
}

// Messages implements matrix.Client. The page fixtures define the batch
// boundaries; limit is not enforced. A cursor with no fixture returns an
// empty page, ending the walk.
func (s *FakeSource) Messages(ctx context.Context, roomID, from string, limit int) (*matrix.MessagesPage, error) {
	s.mu.Lock()
	s.MessageCalls[roomID]++
	s.mu.Unlock()

	if err := s.MessageErrs[roomID]; err != nil {
		return nil, err
	}
	page, ok := s.Pages[roomID][from]
	if !ok {
		return &matrix.MessagesPage{End: from}, nil
	}
	return &page, nil
}

// ContentURL implements matrix.Client with the same mxc parsing rules as
// the HTTP client.
func (s *FakeSource) ContentURL(ref string) (string, error) {
	rest, ok := strings.CutPrefix(ref, "mxc://")
	if !ok {
		return "", fmt.Errorf("content reference %q: missing mxc scheme", ref)
	}
	server, mediaID, ok := strings.Cut(rest, "/")
	if !ok || server == "" || mediaID == "" {
		return "", fmt.Errorf("content reference %q: want mxc://server/mediaID", ref)
	}
	return "https://fake.example/media/" + server + "/" + mediaID, nil
}

// Download implements matrix.Client from the media fixtures. An
// unregistered URL downloads as a 404.
func (s *FakeSource) Download(ctx context.Context, rawURL string) (*matrix.Download, error) {
	s.mu.Lock()
	s.DownloadCalls[rawURL]++
	s.mu.Unlock()

	obj, ok := s.Media[rawURL]
	if !ok {
		return nil, &matrix.HTTPError{StatusCode: http.StatusNotFound, Code: "M_NOT_FOUND", Message: "media not found"}
	}
	if obj.Err != nil {
		return nil, obj.Err
	}
	length := obj.ContentLength
	if length == 0 {
		length = int64(len(obj.Data))
	}
	return &matrix.Download{
		Body:          io.NopCloser(bytes.NewReader(obj.Data)),
		ContentLength: length,
		Status:        "200 OK",
	}, nil
}

// Logout implements matrix.Client.
func (s *FakeSource) Logout(ctx context.Context) error {
	return nil
}

// Calls returns how many pagination requests a room received.
func (s *FakeSource) Calls(roomID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.MessageCalls[roomID]
}

// Downloads returns how many times a media URL was fetched.
func (s *FakeSource) Downloads(rawURL string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.DownloadCalls[rawURL]
}
