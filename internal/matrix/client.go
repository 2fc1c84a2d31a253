// Package matrix is a thin typed client for the Matrix client-server r0
// API, covering exactly the calls the archiver makes: password login, a
// filtered sync for the joined-room list, member and topic lookups, the
// device list, backward message pagination, and media downloads.
package matrix

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"
)

// DefaultHost is the homeserver used when none is configured.
const DefaultHost = "https://matrix.org"

// deviceDisplayName labels the login session in the account's device list.
const deviceDisplayName = "Matrix Archiver"

const (
	defaultAPITimeout      = 30 * time.Second
	defaultDownloadTimeout = 10 * time.Minute
	defaultTimelineLimit   = 1000
)

// HTTPError is a non-2xx response from the homeserver, carrying the
// standard errcode/error payload when one was returned.
type HTTPError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *HTTPError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("http %d %s: %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("http %d: %s", e.StatusCode, e.Message)
}

// Client is the remote event-source capability the archive engine consumes.
// HTTPClient implements it over the client-server r0 API; the test harness
// substitutes an in-memory fake.
type Client interface {
	// Login authenticates with password credentials and retains the
	// access token and resolved user ID for subsequent calls.
	Login(ctx context.Context, user, password string) error
	// Whoami resolves the user ID owning the configured access token.
	Whoami(ctx context.Context) (string, error)
	// UserID returns the authenticated user, empty before Login/Whoami.
	UserID() string
	// Rooms returns the joined rooms with resolved display names, the
	// resident timeline slice, and a backward pagination cursor, ordered
	// by room ID.
	Rooms(ctx context.Context) ([]RoomView, error)
	// JoinedMembers returns a room's current roster, ordered by user ID.
	JoinedMembers(ctx context.Context, roomID string) ([]Member, error)
	// Topic returns (topic, true, nil) when the room has one, ("", false,
	// nil) when the state event is absent, and a non-nil error otherwise.
	Topic(ctx context.Context, roomID string) (string, bool, error)
	// Devices returns the session devices of the authenticated account.
	Devices(ctx context.Context) ([]Device, error)
	// Messages requests one backward pagination batch starting at the
	// opaque cursor from.
	Messages(ctx context.Context, roomID, from string, limit int) (*MessagesPage, error)
	// ContentURL resolves an mxc:// content reference to a download URL.
	ContentURL(ref string) (string, error)
	// Download opens a media stream for a previously resolved URL.
	Download(ctx context.Context, rawURL string) (*Download, error)
	// Logout invalidates the access token.
	Logout(ctx context.Context) error
}

// ClientOptions configures NewHTTPClient. Zero values select the defaults
// noted per field.
type ClientOptions struct {
	Host           string // homeserver base URL, default DefaultHost
	Token          string // access token; empty means Login will be called
	HTTPClient     *http.Client
	DownloadClient *http.Client // media downloads, longer timeout
	TimelineLimit  int          // resident events requested per room in sync
}

// HTTPClient talks to a Matrix homeserver. Methods are safe for concurrent
// use once authentication has completed.
type HTTPClient struct {
	baseURL        string
	token          string
	userID         string
	httpClient     *http.Client
	downloadClient *http.Client
	timelineLimit  int
}

// NewHTTPClient returns a client for the homeserver in opts. No network
// call is made until a method is invoked.
func NewHTTPClient(opts ClientOptions) *HTTPClient {
	baseURL := strings.TrimRight(strings.TrimSpace(opts.Host), "/")
	if baseURL == "" {
		baseURL = DefaultHost
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultAPITimeout}
	}
	downloadClient := opts.DownloadClient
	if downloadClient == nil {
		downloadClient = &http.Client{Timeout: defaultDownloadTimeout}
	}
	timelineLimit := opts.TimelineLimit
	if timelineLimit <= 0 {
		timelineLimit = defaultTimelineLimit
	}
	return &HTTPClient{
		baseURL:        baseURL,
		token:          strings.TrimSpace(opts.Token),
		httpClient:     httpClient,
		downloadClient: downloadClient,
		timelineLimit:  timelineLimit,
	}
}

// Login performs an m.login.password exchange and stores the returned
// access token and user ID on the client.
func (c *HTTPClient) Login(ctx context.Context, user, password string) error {
	body := map[string]any{
		"type":                        "m.login.password",
		"user":                        user,
		"password":                    password,
		"initial_device_display_name": deviceDisplayName,
	}
	var out struct {
		UserID      string `json:"user_id"`
		AccessToken string `json:"access_token"`
	}
	if err := c.doJSON(ctx, http.MethodPost, "/_matrix/client/r0/login", body, &out); err != nil {
		return fmt.Errorf("login: %w", err)
	}
	c.token = out.AccessToken
	c.userID = out.UserID
	return nil
}

// Whoami resolves and stores the user ID owning the configured token.
// Needed for token auth, where no login response supplies it.
func (c *HTTPClient) Whoami(ctx context.Context) (string, error) {
	var out struct {
		UserID string `json:"user_id"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/_matrix/client/r0/account/whoami", nil, &out); err != nil {
		return "", fmt.Errorf("whoami: %w", err)
	}
	c.userID = out.UserID
	return out.UserID, nil
}

// UserID returns the authenticated user, empty before Login/Whoami.
func (c *HTTPClient) UserID() string {
	return c.userID
}

type syncedRoom struct {
	State struct {
		Events []stateEvent `json:"events"`
	} `json:"state"`
	Timeline struct {
		Events    []Event `json:"events"`
		PrevBatch string  `json:"prev_batch"`
	} `json:"timeline"`
}

type stateEvent struct {
	Type    string `json:"type"`
	Content struct {
		Name  string `json:"name"`
		Alias string `json:"alias"`
	} `json:"content"`
}

// Rooms performs one filtered sync and returns the joined rooms, ordered
// by room ID. The filter requests only the naming state events and a
// bounded timeline slice; presence, ephemeral, and account data are
// excluded.
func (c *HTTPClient) Rooms(ctx context.Context) ([]RoomView, error) {
	filter := fmt.Sprintf(`{"room":{"timeline":{"limit":%d},"state":{"types":["m.room.name","m.room.canonical_alias"]},"ephemeral":{"types":[]}},"presence":{"types":[]},"account_data":{"types":[]}}`, c.timelineLimit)
	q := url.Values{}
	q.Set("filter", filter)
	q.Set("timeout", "0")

	var out struct {
		Rooms struct {
			Join map[string]syncedRoom `json:"join"`
		} `json:"rooms"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/_matrix/client/r0/sync?"+q.Encode(), nil, &out); err != nil {
		return nil, fmt.Errorf("sync: %w", err)
	}

	ids := make([]string, 0, len(out.Rooms.Join))
	for id := range out.Rooms.Join {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	views := make([]RoomView, 0, len(ids))
	for _, id := range ids {
		room := out.Rooms.Join[id]
		views = append(views, RoomView{
			ID:          id,
			DisplayName: displayName(id, room.State.Events),
			PrevBatch:   room.Timeline.PrevBatch,
			Events:      room.Timeline.Events,
		})
	}
	return views, nil
}

// displayName resolves a room's name from its state: m.room.name wins,
// then the canonical alias, then the raw room ID.
func displayName(roomID string, state []stateEvent) string {
	alias := ""
	for _, ev := range state {
		switch ev.Type {
		case "m.room.name":
			if ev.Content.Name != "" {
				return ev.Content.Name
			}
		case "m.room.canonical_alias":
			alias = ev.Content.Alias
		}
	}
	if alias != "" {
		return alias
	}
	return roomID
}

// JoinedMembers returns a room's current roster, ordered by user ID.
func (c *HTTPClient) JoinedMembers(ctx context.Context, roomID string) ([]Member, error) {
	var out struct {
		Joined map[string]struct {
			DisplayName string `json:"display_name"`
			AvatarURL   string `json:"avatar_url"`
		} `json:"joined"`
	}
	path := "/_matrix/client/r0/rooms/" + url.PathEscape(roomID) + "/joined_members"
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, fmt.Errorf("joined members %s: %w", roomID, err)
	}

	ids := make([]string, 0, len(out.Joined))
	for id := range out.Joined {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	members := make([]Member, 0, len(ids))
	for _, id := range ids {
		entry := out.Joined[id]
		members = append(members, Member{
			UserID:      id,
			DisplayName: entry.DisplayName,
			AvatarURL:   entry.AvatarURL,
		})
	}
	return members, nil
}

// Topic fetches the m.room.topic state event. A 404 means the room has no
// topic and is not an error.
func (c *HTTPClient) Topic(ctx context.Context, roomID string) (string, bool, error) {
	var out struct {
		Topic string `json:"topic"`
	}
	path := "/_matrix/client/r0/rooms/" + url.PathEscape(roomID) + "/state/m.room.topic"
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &out); err != nil {
		var httpErr *HTTPError
		if errors.As(err, &httpErr) && httpErr.StatusCode == http.StatusNotFound {
			return "", false, nil
		}
		return "", false, fmt.Errorf("topic %s: %w", roomID, err)
	}
	return out.Topic, true, nil
}

// Devices returns the session devices of the authenticated account.
func (c *HTTPClient) Devices(ctx context.Context) ([]Device, error) {
	var out struct {
		Devices []Device `json:"devices"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/_matrix/client/r0/devices", nil, &out); err != nil {
		return nil, fmt.Errorf("devices: %w", err)
	}
	return out.Devices, nil
}

// Messages requests one backward pagination batch of at most limit events,
// starting at the opaque cursor from.
func (c *HTTPClient) Messages(ctx context.Context, roomID, from string, limit int) (*MessagesPage, error) {
	q := url.Values{}
	q.Set("from", from)
	q.Set("dir", "b")
	q.Set("limit", strconv.Itoa(limit))
	path := "/_matrix/client/r0/rooms/" + url.PathEscape(roomID) + "/messages?" + q.Encode()

	var out MessagesPage
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, fmt.Errorf("messages %s: %w", roomID, err)
	}
	return &out, nil
}

// ContentURL resolves an mxc://server/mediaID content reference to the
// homeserver's media download URL.
func (c *HTTPClient) ContentURL(ref string) (string, error) {
	rest, ok := strings.CutPrefix(ref, "mxc://")
	if !ok {
		return "", fmt.Errorf("content reference %q: missing mxc scheme", ref)
	}
	server, mediaID, ok := strings.Cut(rest, "/")
	if !ok || server == "" || mediaID == "" {
		return "", fmt.Errorf("content reference %q: want mxc://server/mediaID", ref)
	}
	return c.baseURL + "/_matrix/media/r0/download/" + server + "/" + mediaID, nil
}

// Download opens a media stream. The caller must close Body. Uses the
// download client, whose timeout bounds the whole transfer.
func (c *HTTPClient) Download(ctx context.Context, rawURL string) (*Download, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("download: %w", err)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.downloadClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		_ = resp.Body.Close()
		var errPayload struct {
			Code    string `json:"errcode"`
			Message string `json:"error"`
		}
		_ = json.Unmarshal(payload, &errPayload)
		return nil, &HTTPError{
			StatusCode: resp.StatusCode,
			Code:       errPayload.Code,
			Message:    errPayload.Message,
		}
	}
	return &Download{
		Body:          resp.Body,
		ContentLength: resp.ContentLength,
		Status:        resp.Status,
	}, nil
}

// Logout invalidates the access token, which is cleared on success.
func (c *HTTPClient) Logout(ctx context.Context) error {
	if err := c.doJSON(ctx, http.MethodPost, "/_matrix/client/r0/logout", struct{}{}, nil); err != nil {
		return fmt.Errorf("logout: %w", err)
	}
	c.token = ""
	return nil
}

// doJSON performs one request and decodes a JSON response into out (when
// non-nil). Non-2xx responses come back as *HTTPError with the decoded
// errcode payload. There is no retry loop: pagination failures must
// surface to the caller immediately.
func (c *HTTPClient) doJSON(ctx context.Context, method, requestPath string, body, out any) error {
	var bodyReader io.Reader
	if body != nil {
		bodyBytes, err := json.Marshal(body)
		if err != nil {
			return err
		}
		bodyReader = bytes.NewReader(bodyBytes)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+requestPath, bodyReader)
	if err != nil {
		return err
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	payload, readErr := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if readErr != nil {
		return readErr
	}

	if resp.StatusCode >= 200 && resp.StatusCode <= 299 {
		if out == nil || len(payload) == 0 {
			return nil
		}
		return json.Unmarshal(payload, out)
	}

	var errPayload struct {
		Code    string `json:"errcode"`
		Message string `json:"error"`
	}
	_ = json.Unmarshal(payload, &errPayload)
	return &HTTPError{
		StatusCode: resp.StatusCode,
		Code:       errPayload.Code,
		Message:    errPayload.Message,
	}
}
