package harness

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/mxvault/mxvault/internal/archive"
	"github.com/mxvault/mxvault/internal/store"
	"github.com/mxvault/mxvault/internal/testutil"
)

// scenarioEpoch is the frozen wall clock for every scenario run, so
// retrieval timestamps are byte-stable in golden transcripts.
var scenarioEpoch = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

// Result is one scenario execution: every run's report in order, plus the
// final store state. It doubles as the golden transcript.
type Result struct {
	Scenario string       `json:"scenario"`
	Pass     bool         `json:"pass"`
	Runs     []RunOutcome `json:"runs"`
	Errors   []string     `json:"errors,omitempty"`
	Store    StoreState   `json:"store"`
}

// RunOutcome is one archival run's result.
type RunOutcome struct {
	Report *archive.RunReport `json:"report,omitempty"`
	Error  string             `json:"error,omitempty"`
}

// StoreState summarizes the store after the last run.
type StoreState struct {
	Rooms       []store.RoomSummary   `json:"rooms"`
	Devices     int64                 `json:"devices"`
	Attachments store.AttachmentStats `json:"attachments"`
}

// AddError records an expectation failure and fails the result.
func (r *Result) AddError(msg string) {
	r.Errors = append(r.Errors, msg)
	r.Pass = false
}

// Run executes a scenario: a fresh in-memory store, a scripted source
// built from the scenario's remote state, and one engine run per entry in
// Runs, applying the declared remote mutations in between. The frozen
// clock and fixed run tokens make the transcript deterministic.
func Run(scenario *Scenario) (*Result, error) {
	st, err := store.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("open in-memory store: %w", err)
	}
	defer st.Close()

	state := newRemoteState(scenario)
	source, err := buildSource(scenario, state)
	if err != nil {
		return nil, fmt.Errorf("build source: %w", err)
	}

	tokens := make([]string, len(scenario.Runs))
	for i := range tokens {
		tokens[i] = fmt.Sprintf("run-%d", i+1)
	}
	eng := archive.New(source, st,
		archive.WithClock(testutil.NewFixedClock(scenarioEpoch, 0)),
		archive.WithRunTokens(archive.NewFixedGenerator(tokens...)),
		archive.WithTargetRooms(scenario.Targets),
		archive.WithExcludedRooms(scenario.Excluded),
		archive.WithMaxAttachmentBytes(scenario.MaxAttachmentBytes),
	)

	// Engine progress lines are noise inside a harness execution.
	restore := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(io.Discard, nil)))
	defer slog.SetDefault(restore)

	ctx := context.Background()
	result := &Result{Scenario: scenario.Name, Pass: true}

	for i := range scenario.Runs {
		run := &scenario.Runs[i]
		if err := state.apply(run); err != nil {
			return nil, fmt.Errorf("run %d: %w", i+1, err)
		}
		if err := refreshSource(source, state); err != nil {
			return nil, fmt.Errorf("run %d: %w", i+1, err)
		}

		report, err := eng.Run(ctx)
		outcome := RunOutcome{Report: report}
		if err != nil {
			outcome.Error = err.Error()
		}
		result.Runs = append(result.Runs, outcome)

		checkExpect(result, i, run.Expect, report, err)
	}

	if err := readStoreState(ctx, st, &result.Store); err != nil {
		return nil, fmt.Errorf("read store state: %w", err)
	}
	return result, nil
}

// checkExpect validates one run's report against its expect clause.
func checkExpect(result *Result, idx int, expect *RunExpect, report *archive.RunReport, runErr error) {
	if expect == nil {
		return
	}
	if runErr != nil {
		result.AddError(fmt.Sprintf("run %d: failed: %v", idx+1, runErr))
		return
	}

	cached, failed, members := 0, 0, 0
	for _, room := range report.Rooms {
		cached += room.AttachmentsCached
		failed += room.AttachmentsFailed
		members += room.NewMembers
	}

	check := func(field string, got int, want *int) {
		if want != nil && got != *want {
			result.AddError(fmt.Sprintf("run %d: %s = %d, want %d", idx+1, field, got, *want))
		}
	}
	check("new_devices", report.NewDevices, expect.NewDevices)
	check("new_events", report.TotalNewEvents(), expect.NewEvents)
	check("new_members", members, expect.NewMembers)
	check("failed_rooms", report.FailedRooms(), expect.FailedRooms)
	check("attachments_cached", cached, expect.AttachmentsCached)
	check("attachments_failed", failed, expect.AttachmentsFailed)
}

// readStoreState captures the final store summary for the transcript.
func readStoreState(ctx context.Context, st *store.Store, out *StoreState) error {
	rooms, err := st.RoomSummaries(ctx)
	if err != nil {
		return err
	}
	devices, err := st.CountDevices(ctx)
	if err != nil {
		return err
	}
	stats, err := st.AttachmentCacheStats(ctx)
	if err != nil {
		return err
	}
	out.Rooms = rooms
	out.Devices = devices
	out.Attachments = stats
	return nil
}
