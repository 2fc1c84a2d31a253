package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/mxvault/mxvault/internal/store"
)

// StatusOptions holds flags for the status command.
type StatusOptions struct {
	*RootOptions
	Database string
}

// StatusResult holds the archive report read from the local database.
type StatusResult struct {
	Database    string                `json:"database"`
	Devices     int64                 `json:"devices"`
	Rooms       []store.RoomSummary   `json:"rooms"`
	Attachments store.AttachmentStats `json:"attachments"`
}

// NewStatusCommand creates the status command.
func NewStatusCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &StatusOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Report what the archive holds",
		Long: `Report what the local archive database holds.

Shows per-room totals (archived events and members), the archived
device count, and attachment cache statistics, including how many
attachments are still pending a successful download. Reads only the
local database; the homeserver is never contacted.

Examples:
  mxvault status --db ./archive.sqlite
  mxvault status --db ./archive.sqlite --format json`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	_ = cmd.MarkFlagRequired("db")

	return cmd
}

func runStatus(opts *StatusOptions, cmd *cobra.Command) error {
	ctx := context.Background()

	// Opening would create an empty database; a status query should not.
	if _, err := os.Stat(opts.Database); os.IsNotExist(err) {
		return NewExitError(ExitCommandError, fmt.Sprintf("%s: database not found: %s", ErrCodeNotFound, opts.Database))
	}

	st, err := store.Open(opts.Database)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer st.Close()

	devices, err := st.CountDevices(ctx)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to count devices", err)
	}
	rooms, err := st.RoomSummaries(ctx)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read room summaries", err)
	}
	attachments, err := st.AttachmentCacheStats(ctx)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read attachment stats", err)
	}

	result := StatusResult{
		Database:    opts.Database,
		Devices:     devices,
		Rooms:       rooms,
		Attachments: attachments,
	}

	if opts.Format == "json" {
		return outputStatusJSON(cmd, result)
	}

	return outputStatusText(cmd, result)
}

// outputStatusJSON outputs the status result as JSON.
func outputStatusJSON(cmd *cobra.Command, result StatusResult) error {
	response := CLIResponse{
		Status: "ok",
		Data:   result,
	}

	encoder := json.NewEncoder(cmd.OutOrStdout())
	encoder.SetIndent("", "  ")
	return encoder.Encode(response)
}

// outputStatusText outputs the status result as text.
func outputStatusText(cmd *cobra.Command, result StatusResult) error {
	w := cmd.OutOrStdout()

	fmt.Fprintf(w, "Archive: %s\n", result.Database)
	fmt.Fprintf(w, "Devices: %d\n", result.Devices)
	fmt.Fprintln(w)

	fmt.Fprintln(w, "=== Rooms ===")
	if len(result.Rooms) == 0 {
		fmt.Fprintln(w, "  (no rooms archived)")
	} else {
		for _, room := range result.Rooms {
			fmt.Fprintf(w, "  %s %q: %d events, %d members\n", room.RoomID, room.DisplayName, room.Events, room.Members)
		}
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "=== Attachments ===")
	fmt.Fprintf(w, "  Total:        %d\n", result.Attachments.Total)
	fmt.Fprintf(w, "  Cached:       %d\n", result.Attachments.Cached)
	fmt.Fprintf(w, "  Pending:      %d\n", result.Attachments.Pending)
	fmt.Fprintf(w, "  Cached bytes: %d\n", result.Attachments.CachedBytes)

	return nil
}
