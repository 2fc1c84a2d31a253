package archive

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/mxvault/mxvault/internal/matrix"
	"github.com/mxvault/mxvault/internal/store"
)

// Engine drives one archival run: the account's device list once, then
// every target room through the metadata -> members -> events pipeline.
//
// INVARIANTS:
//   - Devices are archived before any room work.
//   - A room's events are persisted in paginator delivery order by a
//     single goroutine; only whole rooms fan out when jobs > 1.
//   - A room failure abandons that room only; committed batches stand.
type Engine struct {
	client   matrix.Client
	store    *store.Store
	clock    Clock
	tokens   RunTokenGenerator
	fetcher  *Fetcher
	targets  map[string]struct{}
	excluded map[string]struct{}

	batchSize int
	maxBytes  int64
	jobs      int
}

// EngineOption configures optional engine parameters.
type EngineOption func(*Engine)

// WithClock overrides the wall clock for deterministic timestamps.
func WithClock(clock Clock) EngineOption {
	return func(e *Engine) {
		e.clock = clock
	}
}

// WithRunTokens overrides the run token generator.
func WithRunTokens(gen RunTokenGenerator) EngineOption {
	return func(e *Engine) {
		e.tokens = gen
	}
}

// WithTargetRooms restricts the run to the given room IDs. An empty list
// means every joined room.
func WithTargetRooms(roomIDs []string) EngineOption {
	return func(e *Engine) {
		for _, id := range roomIDs {
			e.targets[id] = struct{}{}
		}
	}
}

// WithExcludedRooms skips the given room IDs even when targeted.
func WithExcludedRooms(roomIDs []string) EngineOption {
	return func(e *Engine) {
		for _, id := range roomIDs {
			e.excluded[id] = struct{}{}
		}
	}
}

// WithBatchSize overrides the pagination batch size.
func WithBatchSize(n int) EngineOption {
	return func(e *Engine) {
		if n > 0 {
			e.batchSize = n
		}
	}
}

// WithMaxAttachmentBytes overrides the attachment download ceiling.
func WithMaxAttachmentBytes(n int64) EngineOption {
	return func(e *Engine) {
		if n > 0 {
			e.maxBytes = n
		}
	}
}

// WithJobs archives up to n rooms in parallel. The default is 1,
// matching the sequential reference behavior.
func WithJobs(n int) EngineOption {
	return func(e *Engine) {
		if n > 0 {
			e.jobs = n
		}
	}
}

// New creates an Engine over an authenticated client and an open store.
func New(client matrix.Client, st *store.Store, opts ...EngineOption) *Engine {
	e := &Engine{
		client:    client,
		store:     st,
		clock:     SystemClock{},
		tokens:    UUIDv7Generator{},
		targets:   make(map[string]struct{}),
		excluded:  make(map[string]struct{}),
		batchSize: DefaultBatchSize,
		maxBytes:  DefaultMaxAttachmentBytes,
		jobs:      1,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.fetcher = NewFetcher(client, st, e.clock, e.maxBytes)
	return e
}

// Run executes one archival run and returns its report. Room-scoped
// failures are isolated on the report; the returned error is non-nil only
// for failures before room work starts (device list, room listing) or a
// cancelled context.
func (e *Engine) Run(ctx context.Context) (*RunReport, error) {
	report := &RunReport{
		RunToken:  e.tokens.Generate(),
		StartedAt: Timestamp(e.clock.Now()),
	}
	slog.Info("starting archival run", "run_token", report.RunToken)

	newDevices, err := e.archiveDevices(ctx)
	if err != nil {
		return nil, fmt.Errorf("archiving device list: %w", err)
	}
	report.NewDevices = newDevices

	rooms, err := e.client.Rooms(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing rooms: %w", err)
	}
	targets := e.selectRooms(rooms)
	report.Rooms = make([]RoomReport, len(targets))

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(e.jobs)
	for i, view := range targets {
		i, view := i, view
		group.Go(func() error {
			if err := groupCtx.Err(); err != nil {
				return err
			}
			report.Rooms[i] = e.archiveRoom(groupCtx, view)
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return report, err
	}

	report.FinishedAt = Timestamp(e.clock.Now())
	slog.Info("done with archiving run",
		"run_token", report.RunToken,
		"rooms", len(report.Rooms),
		"new_events", report.TotalNewEvents(),
		"failed_rooms", report.FailedRooms())
	return report, nil
}

// selectRooms applies the target list; an empty list selects every joined
// room. Exclusions are applied later so skips still appear on the report.
func (e *Engine) selectRooms(rooms []matrix.RoomView) []matrix.RoomView {
	if len(e.targets) == 0 {
		return rooms
	}
	var selected []matrix.RoomView
	for _, view := range rooms {
		if _, ok := e.targets[view.ID]; ok {
			selected = append(selected, view)
		}
	}
	return selected
}

// archiveDevices mirrors the account's device list, once per run.
func (e *Engine) archiveDevices(ctx context.Context) (int, error) {
	slog.Info("archiving device list")
	devices, err := e.client.Devices(ctx)
	if err != nil {
		return 0, err
	}

	userID := e.client.UserID()
	now := Timestamp(e.clock.Now())
	newDevices := 0
	for _, d := range devices {
		rec := store.Device{
			UserID:      userID,
			DeviceID:    d.ID,
			RetrievalTS: now,
		}
		if d.DisplayName != "" {
			name := normalizeText(d.DisplayName)
			rec.DisplayName = &name
		}
		if d.LastSeenTS != nil {
			ts := TimestampFromMillis(*d.LastSeenTS)
			rec.LastSeenTS = &ts
		}
		if d.LastSeenIP != "" {
			ip := d.LastSeenIP
			rec.LastSeenIP = &ip
		}

		inserted, err := e.store.WriteDevice(ctx, rec)
		if err != nil {
			return newDevices, err
		}
		if inserted {
			newDevices++
		} else {
			slog.Debug("device already archived", "device_id", d.ID)
		}
	}
	return newDevices, nil
}

// archiveRoom runs one room through the full pipeline and returns its
// report. Failures are recorded on the report, never returned.
func (e *Engine) archiveRoom(ctx context.Context, view matrix.RoomView) RoomReport {
	rep := RoomReport{RoomID: view.ID, DisplayName: view.DisplayName}

	if _, skip := e.excluded[view.ID]; skip {
		slog.Info("skipping excluded room", "room_id", view.ID)
		rep.Excluded = true
		return rep
	}
	slog.Info("archiving room", "room_id", view.ID, "display_name", view.DisplayName)

	if err := e.archiveMetadata(ctx, view); err != nil {
		return failRoom(rep, newRoomError(ErrCodeMetadata, view.ID, err))
	}
	newMembers, err := e.archiveMembers(ctx, view.ID)
	if err != nil {
		return failRoom(rep, newRoomError(ErrCodeMembers, view.ID, err))
	}
	rep.NewMembers = newMembers

	if err := e.archiveEvents(ctx, view, &rep); err != nil {
		return failRoom(rep, newRoomError(ErrCodePagination, view.ID, err))
	}

	slog.Info("read events", "room_id", view.ID, "new_events", rep.NewEvents)
	return rep
}

// failRoom records a room-scoped failure on the report. Progress counters
// accumulated before the failure are kept: those batches are committed.
func failRoom(rep RoomReport, roomErr *RoomError) RoomReport {
	slog.Error("abandoning room", "room_id", rep.RoomID, "stage", string(roomErr.Code), "error", roomErr.Err)
	rep.Error = roomErr.Error()
	return rep
}

// archiveMetadata upserts the room row. Topic lookup failure is tolerated
// and recorded as absent.
func (e *Engine) archiveMetadata(ctx context.Context, view matrix.RoomView) error {
	slog.Info("backing up metadata", "room_id", view.ID)

	topic, ok, topicErr := e.client.Topic(ctx, view.ID)
	var topicPtr *string
	if topicErr != nil {
		slog.Warn("topic lookup failed, treating as absent", "room_id", view.ID, "error", topicErr)
	} else if ok {
		t := normalizeText(topic)
		topicPtr = &t
	}

	inserted, err := e.store.WriteRoom(ctx, store.Room{
		RoomID:      view.ID,
		DisplayName: normalizeText(view.DisplayName),
		Topic:       topicPtr,
		RetrievalTS: Timestamp(e.clock.Now()),
	})
	if err != nil {
		return err
	}
	if !inserted {
		slog.Debug("room already archived", "room_id", view.ID)
	}
	return nil
}

// archiveMembers upserts the current joined roster and returns how many
// members were new.
func (e *Engine) archiveMembers(ctx context.Context, roomID string) (int, error) {
	slog.Info("backing up members", "room_id", roomID)
	members, err := e.client.JoinedMembers(ctx, roomID)
	if err != nil {
		return 0, err
	}

	now := Timestamp(e.clock.Now())
	newMembers := 0
	for _, m := range members {
		rec := store.Member{
			RoomID:      roomID,
			UserID:      m.UserID,
			DisplayName: normalizeText(m.DisplayName),
			RetrievalTS: now,
		}
		if m.AvatarURL != "" {
			avatar := m.AvatarURL
			rec.AvatarURL = &avatar
		}

		inserted, err := e.store.WriteMember(ctx, rec)
		if err != nil {
			return newMembers, err
		}
		if inserted {
			newMembers++
		} else {
			slog.Debug("member already archived", "room_id", roomID, "user_id", m.UserID)
		}
	}
	return newMembers, nil
}

// archiveEvents walks the room's history backward until the frontier
// detector stops it, committing one batch per transaction.
func (e *Engine) archiveEvents(ctx context.Context, view matrix.RoomView, rep *RoomReport) error {
	slog.Info("backing up events", "room_id", view.ID)
	knownIDs, err := e.store.RecentEventIDs(ctx, view.ID, KnownRecentWindow)
	if err != nil {
		return err
	}
	frontier := NewFrontier(knownIDs)
	paginator := NewPaginator(e.client, view, e.batchSize)

	for {
		batch, err := paginator.NextBatch(ctx)
		if err != nil {
			return err
		}
		if len(batch) == 0 {
			return nil
		}

		fresh, terminal := frontier.Partition(batch)
		if dup := len(batch) - len(fresh); dup > 0 {
			slog.Debug("events already archived", "room_id", view.ID, "count", dup)
		}
		if err := e.persistBatch(ctx, view.ID, fresh, rep); err != nil {
			return err
		}
		if terminal {
			return nil
		}
	}
}

// persistBatch writes one batch's fresh events in a single transaction,
// then runs attachment handling for each of them.
func (e *Engine) persistBatch(ctx context.Context, roomID string, fresh []matrix.Event, rep *RoomReport) error {
	if len(fresh) == 0 {
		return nil
	}

	now := Timestamp(e.clock.Now())
	records := make([]store.Event, 0, len(fresh))
	for _, ev := range fresh {
		records = append(records, store.Event{
			EventID:        ev.ID,
			RoomID:         roomID,
			Sender:         ev.Sender,
			Type:           ev.Type,
			Content:        string(ev.Content),
			OriginServerTS: TimestampFromMillis(ev.OriginServerTS),
			Raw:            string(ev.Raw),
			RetrievalTS:    now,
		})
	}
	inserted, err := e.store.WriteEvents(ctx, records)
	if err != nil {
		return err
	}
	rep.NewEvents += inserted

	for _, ev := range fresh {
		outcome, err := e.fetcher.MaybeFetch(ctx, ev)
		if err != nil {
			return err
		}
		switch outcome {
		case FetchCached:
			rep.AttachmentsCached++
		case FetchFailed, FetchSkippedTooLarge:
			rep.AttachmentsFailed++
		}
	}
	return nil
}
