package archive

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"

	"github.com/mxvault/mxvault/internal/matrix"
	"github.com/mxvault/mxvault/internal/store"
)

// DefaultMaxAttachmentBytes is the download ceiling: a declared or actual
// content length at or above it aborts the fetch. A safety bound, not a
// typical limit.
const DefaultMaxAttachmentBytes = int64(1) << 40 // 1 TiB

// FetchOutcome classifies one attachment handling attempt.
type FetchOutcome int

const (
	// FetchNotAttachment means the event references no content.
	FetchNotAttachment FetchOutcome = iota

	// FetchAlreadyCached means a cached row existed; no network call made.
	FetchAlreadyCached

	// FetchCached means bytes were downloaded and stored this attempt.
	FetchCached

	// FetchFailed means the download failed; the recorded status row is
	// re-attempted on the next run that sees the same reference.
	FetchFailed

	// FetchSkippedTooLarge means the declared or streamed size met the
	// ceiling; recorded like a failure.
	FetchSkippedTooLarge
)

// String returns the outcome name for logs.
func (o FetchOutcome) String() string {
	switch o {
	case FetchNotAttachment:
		return "not_attachment"
	case FetchAlreadyCached:
		return "already_cached"
	case FetchCached:
		return "cached"
	case FetchFailed:
		return "failed"
	case FetchSkippedTooLarge:
		return "skipped_too_large"
	default:
		return "unknown"
	}
}

// messageContent is the subset of m.room.message content describing an
// attachment.
type messageContent struct {
	MsgType  string `json:"msgtype"`
	Body     string `json:"body"`
	Filename string `json:"filename"`
	URL      string `json:"url"`
	Info     struct {
		Size     int64  `json:"size"`
		MimeType string `json:"mimetype"`
	} `json:"info"`
}

// attachmentRef extracts the attachment descriptor from an event.
// ok is false when the event carries no downloadable content.
func attachmentRef(ev matrix.Event) (content messageContent, isImage bool, ok bool) {
	if ev.Type != "m.room.message" || len(ev.Content) == 0 {
		return messageContent{}, false, false
	}
	if err := json.Unmarshal(ev.Content, &content); err != nil {
		return messageContent{}, false, false
	}
	switch content.MsgType {
	case "m.image":
		isImage = true
	case "m.file":
	default:
		return messageContent{}, false, false
	}
	if content.URL == "" {
		return messageContent{}, false, false
	}
	return content, isImage, true
}

// Fetcher resolves content references on fresh message events, downloads
// the bytes under the size ceiling, and records every outcome through the
// store. Fetch failures never propagate: they become a persisted status
// and are retried on the next run that encounters the same reference.
type Fetcher struct {
	client   matrix.Client
	store    *store.Store
	clock    Clock
	maxBytes int64
}

// NewFetcher returns a fetcher bounded by maxBytes; a non-positive value
// selects DefaultMaxAttachmentBytes.
func NewFetcher(client matrix.Client, st *store.Store, clock Clock, maxBytes int64) *Fetcher {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxAttachmentBytes
	}
	return &Fetcher{
		client:   client,
		store:    st,
		clock:    clock,
		maxBytes: maxBytes,
	}
}

// MaybeFetch handles attachment content on one event. Network failures
// are classified into the returned outcome; the error is non-nil only for
// store failures, which must propagate.
func (f *Fetcher) MaybeFetch(ctx context.Context, ev matrix.Event) (FetchOutcome, error) {
	content, isImage, ok := attachmentRef(ev)
	if !ok {
		return FetchNotAttachment, nil
	}

	httpURL, err := f.client.ContentURL(content.URL)
	if err != nil {
		// A malformed reference can never resolve, so there is nothing
		// to retry and no row to key it by.
		slog.Warn("unresolvable content reference", "event_id", ev.ID, "error", err)
		return FetchFailed, nil
	}

	existing, err := f.store.GetAttachment(ctx, content.URL)
	if err != nil {
		return FetchFailed, err
	}
	if existing != nil && existing.IsCached {
		slog.Debug("attachment already cached", "fetch_url_matrix", content.URL)
		return FetchAlreadyCached, nil
	}

	filename := content.Filename
	if filename == "" {
		filename = content.Body
	}
	att := store.Attachment{
		FetchURLMatrix: content.URL,
		FetchURLHTTP:   httpURL,
		Filename:       normalizeText(filename),
		Size:           content.Info.Size,
		IsImage:        isImage,
		RetrievalTS:    Timestamp(f.clock.Now()),
	}
	if content.Info.MimeType != "" {
		mime := content.Info.MimeType
		att.MimeType = &mime
	}

	data, status, outcome := f.download(ctx, httpURL)
	att.LastFetchStatus = status
	att.LastFetchTS = Timestamp(f.clock.Now())
	if outcome == FetchCached {
		att.IsCached = true
		att.Data = data
	} else {
		slog.Warn("attachment fetch failed", "fetch_url_matrix", content.URL, "outcome", outcome, "status", status)
	}

	if _, err := f.store.UpsertAttachment(ctx, att); err != nil {
		return outcome, err
	}
	return outcome, nil
}

// download retrieves the bytes under the ceiling. Failures come back as
// an outcome plus a status descriptor, never an error: the descriptor is
// what gets persisted for the retry on a later run.
func (f *Fetcher) download(ctx context.Context, httpURL string) ([]byte, string, FetchOutcome) {
	dl, err := f.client.Download(ctx, httpURL)
	if err != nil {
		return nil, err.Error(), FetchFailed
	}
	defer dl.Body.Close()

	if dl.ContentLength >= f.maxBytes {
		return nil, fmt.Sprintf("skipped: %d bytes at or above ceiling %d", dl.ContentLength, f.maxBytes), FetchSkippedTooLarge
	}
	// The header can be absent or lie; the ceiling also bounds the stream.
	data, err := io.ReadAll(io.LimitReader(dl.Body, f.maxBytes))
	if err != nil {
		return nil, err.Error(), FetchFailed
	}
	if int64(len(data)) >= f.maxBytes {
		return nil, fmt.Sprintf("skipped: stream reached ceiling %d", f.maxBytes), FetchSkippedTooLarge
	}
	return data, dl.Status, FetchCached
}
