package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/mxvault/mxvault/internal/archive"
	"github.com/mxvault/mxvault/internal/matrix"
	"github.com/mxvault/mxvault/internal/store"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	ConfigFile         string
	Host               string
	User               string
	Password           string
	Token              string
	Database           string
	Rooms              []string
	ExcludedRooms      []string
	Jobs               int
	MaxAttachmentBytes int64
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one incremental archival pass",
		Long: `Run one incremental archival pass over the account's rooms.

Signs into the homeserver (or reuses an access token), archives the
account's device list, then walks every target room: metadata, the
joined-member roster, the event history back to the last archived
event, and any attachment media. Everything lands in one SQLite
database; re-running only picks up what is new.

Examples:
  mxvault run -u archiver -p secret --db ./archive.sqlite
  mxvault run --config archive.cue --room '!ops:example.org'
  mxvault run --token "$MATRIX_TOKEN" --host https://matrix.example.org`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runArchive(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.ConfigFile, "config", "", "path to CUE config file")
	cmd.Flags().StringVarP(&opts.User, "user", "u", "", "Matrix user for password login")
	cmd.Flags().StringVarP(&opts.Password, "password", "p", "", "password for password login")
	cmd.Flags().StringVar(&opts.Token, "token", "", "access token (skips login)")
	cmd.Flags().StringVar(&opts.Host, "host", "", "homeserver base URL")
	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database")
	cmd.Flags().StringArrayVar(&opts.Rooms, "room", nil, "room ID to archive (repeatable; default every joined room)")
	cmd.Flags().StringArrayVar(&opts.ExcludedRooms, "exclude-room", nil, "room ID to skip (repeatable)")
	cmd.Flags().IntVar(&opts.Jobs, "jobs", 0, "rooms archived in parallel")
	cmd.Flags().Int64Var(&opts.MaxAttachmentBytes, "max-attachment-bytes", 0, "attachment download ceiling in bytes")

	return cmd
}

// resolveConfig layers the configuration sources for one run, later wins:
// built-in defaults, config file, MATRIX_* environment, flags.
func resolveConfig(opts *RunOptions) (Config, error) {
	cfg := DefaultConfig()
	if opts.ConfigFile != "" {
		fileCfg, errs := LoadConfigFile(opts.ConfigFile)
		if len(errs) > 0 {
			return Config{}, errs[0]
		}
		cfg.Overlay(*fileCfg)
	}
	cfg.Overlay(envConfig())
	cfg.Overlay(Config{
		Host:               opts.Host,
		User:               opts.User,
		Password:           opts.Password,
		Token:              opts.Token,
		Database:           opts.Database,
		Rooms:              opts.Rooms,
		ExcludedRooms:      opts.ExcludedRooms,
		Jobs:               opts.Jobs,
		MaxAttachmentBytes: opts.MaxAttachmentBytes,
	})
	return cfg, nil
}

func runArchive(opts *RunOptions, cmd *cobra.Command) error {
	// Configure logging based on verbose flag
	logLevel := slog.LevelInfo
	if opts.Verbose {
		logLevel = slog.LevelDebug
	}
	handler := slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{
		Level: logLevel,
	})
	slog.SetDefault(slog.New(handler))

	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	cfg, err := resolveConfig(opts)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load config", err)
	}
	if err := cfg.ValidateCredentials(); err != nil {
		return WrapExitError(ExitCommandError, "invalid config", err)
	}

	// Open database (create if not exists)
	slog.Info("opening database", "path", cfg.Database)
	st, err := store.Open(cfg.Database)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer func() {
		if closeErr := st.Close(); closeErr != nil {
			slog.Error("error closing database", "error", closeErr)
		}
	}()

	// Setup signal handling for graceful shutdown
	// Use command's context if available (for testing), otherwise create one
	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan) // Prevent signal handler leak

	go func() {
		select {
		case sig := <-sigChan:
			slog.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
			// Parent context cancelled (e.g., from test)
		}
	}()

	client := matrix.NewHTTPClient(matrix.ClientOptions{
		Host:           cfg.Host,
		Token:          cfg.Token,
		HTTPClient:     timeoutClient(cfg.APITimeoutSeconds),
		DownloadClient: timeoutClient(cfg.DownloadTimeoutSeconds),
	})

	if cfg.Token != "" {
		slog.Info("using access token", "host", cfg.Host)
		if _, err := client.Whoami(ctx); err != nil {
			return WrapExitError(ExitCommandError, "failed to authenticate", err)
		}
	} else {
		slog.Info("signing in", "host", cfg.Host, "user", cfg.User)
		if err := client.Login(ctx, cfg.User, cfg.Password); err != nil {
			return WrapExitError(ExitCommandError, "failed to sign in", err)
		}
		// The run owns this session, so it ends it. A supplied token is
		// the caller's to keep.
		defer func() {
			if logoutErr := client.Logout(context.Background()); logoutErr != nil {
				slog.Warn("logout failed", "error", logoutErr)
			}
		}()
	}

	eng := archive.New(client, st,
		archive.WithTargetRooms(cfg.Rooms),
		archive.WithExcludedRooms(cfg.ExcludedRooms),
		archive.WithJobs(cfg.Jobs),
		archive.WithMaxAttachmentBytes(cfg.MaxAttachmentBytes),
	)

	report, err := eng.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		return WrapExitError(ExitFailure, "archival run failed", err)
	}
	if report == nil {
		// Cancelled before the run produced anything.
		slog.Info("run cancelled")
		return nil
	}

	if opts.Format == "json" {
		if err := formatter.Success(report); err != nil {
			return err
		}
	} else {
		writeReportText(cmd.OutOrStdout(), report)
	}

	if failed := report.FailedRooms(); failed > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("archival run finished with %d failed room(s)", failed))
	}
	return nil
}

// timeoutClient builds an HTTP client for a configured timeout override.
// Returns nil for no override, which selects the matrix client default.
func timeoutClient(seconds int) *http.Client {
	if seconds <= 0 {
		return nil
	}
	return &http.Client{Timeout: time.Duration(seconds) * time.Second}
}

// writeReportText renders the run report for humans.
func writeReportText(w io.Writer, report *archive.RunReport) {
	fmt.Fprintf(w, "Archival run %s\n", report.RunToken)
	fmt.Fprintf(w, "New devices: %d\n", report.NewDevices)
	fmt.Fprintln(w)

	fmt.Fprintln(w, "=== Rooms ===")
	if len(report.Rooms) == 0 {
		fmt.Fprintln(w, "  (no rooms)")
	}
	for _, room := range report.Rooms {
		switch {
		case room.Excluded:
			fmt.Fprintf(w, "  %s %q: excluded\n", room.RoomID, room.DisplayName)
		case room.Error != "":
			fmt.Fprintf(w, "  %s %q: FAILED: %s\n", room.RoomID, room.DisplayName, room.Error)
		default:
			line := fmt.Sprintf("  %s %q: %d new events, %d new members", room.RoomID, room.DisplayName, room.NewEvents, room.NewMembers)
			if room.AttachmentsCached > 0 {
				line += fmt.Sprintf(", %d attachments cached", room.AttachmentsCached)
			}
			if room.AttachmentsFailed > 0 {
				line += fmt.Sprintf(", %d attachments failed", room.AttachmentsFailed)
			}
			fmt.Fprintln(w, line)
		}
	}
	fmt.Fprintln(w)

	fmt.Fprintf(w, "Total new events: %d\n", report.TotalNewEvents())
	if failed := report.FailedRooms(); failed > 0 {
		fmt.Fprintf(w, "Failed rooms: %d\n", failed)
	}
}
