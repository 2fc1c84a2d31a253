package cli

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

// ConfigIssue is one config validation finding.
type ConfigIssue struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	File    string `json:"file,omitempty"`
	Line    int    `json:"line,omitempty"`
}

// CheckResult holds config validation results.
type CheckResult struct {
	Valid  bool          `json:"valid"`
	Errors []ConfigIssue `json:"errors,omitempty"`
}

// NewCheckCommand creates the check command.
func NewCheckCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "check <config-file>",
		Short: "Validate a config file without running",
		Long: `Validate a CUE config file against the config schema.

Reports every schema violation with its source position. Credentials
are not required in the file; they may arrive from flags or the
MATRIX_* environment at run time.

Examples:
  mxvault check archive.cue
  mxvault check archive.cue --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,  // Don't print usage on errors
		SilenceErrors: true,  // Don't print errors - we handle our own error output
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCheck(rootOpts, args[0], cmd)
		},
	}

	return cmd
}

func runCheck(opts *RootOptions, path string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(), // Verbose logs go to stderr to avoid corrupting JSON
		Verbose:   opts.Verbose,
	}

	fileCfg, loadErrors := LoadConfigFile(path)
	if len(loadErrors) > 0 {
		// A missing or unreadable file is a command error; anything the
		// schema rejected is a validation failure.
		var loadErr *LoadError
		if errors.As(loadErrors[0], &loadErr) && loadErr.Code == ErrCodeNotFound {
			return outputCheckError(formatter, loadErr.Code, loadErr.Message)
		}
		return outputCheckIssues(formatter, collectIssues(loadErrors))
	}

	resolved := DefaultConfig()
	resolved.Overlay(*fileCfg)
	formatter.VerboseLog("host: %s", resolved.Host)
	formatter.VerboseLog("database: %s", resolved.Database)
	formatter.VerboseLog("jobs: %d", resolved.Jobs)
	formatter.VerboseLog("rooms: %d targeted, %d excluded", len(resolved.Rooms), len(resolved.ExcludedRooms))
	if resolved.ValidateCredentials() != nil {
		formatter.VerboseLog("no credentials in file; expecting flags or MATRIX_* environment at run time")
	}

	return outputCheckSuccess(formatter)
}

// collectIssues converts loader errors into serializable issues.
func collectIssues(loadErrors []error) []ConfigIssue {
	issues := make([]ConfigIssue, 0, len(loadErrors))
	for _, err := range loadErrors {
		var loadErr *LoadError
		if !errors.As(err, &loadErr) {
			issues = append(issues, ConfigIssue{Code: ErrCodeGeneric, Message: err.Error()})
			continue
		}
		issue := ConfigIssue{Code: loadErr.Code, Message: loadErr.Message}
		if loadErr.Pos.IsValid() {
			issue.File = loadErr.Pos.Filename()
			issue.Line = loadErr.Pos.Line()
		}
		issues = append(issues, issue)
	}
	return issues
}

// outputCheckSuccess outputs a successful validation.
func outputCheckSuccess(formatter *OutputFormatter) error {
	if formatter.Format == "json" {
		return formatter.Success(CheckResult{Valid: true})
	}

	fmt.Fprintln(formatter.Writer, "✓ Config valid")
	return nil
}

// outputCheckError outputs a single file-level error.
func outputCheckError(formatter *OutputFormatter, code, message string) error {
	_ = formatter.Error(code, message, nil)
	// File-level problems are command-level errors (exit code 2)
	return NewExitError(ExitCommandError, fmt.Sprintf("%s: %s", code, message))
}

// outputCheckIssues outputs the collected validation failures.
func outputCheckIssues(formatter *OutputFormatter, issues []ConfigIssue) error {
	if formatter.Format == "json" {
		result := CheckResult{
			Valid:  false,
			Errors: issues,
		}

		response := CLIResponse{
			Status: "error",
			Data:   result,
			Error: &CLIError{
				Code:    issues[0].Code,
				Message: issues[0].Message,
			},
		}

		encoder := json.NewEncoder(formatter.Writer)
		encoder.SetIndent("", "  ")
		if err := encoder.Encode(response); err != nil {
			return err
		}

		// Validation failures = exit code 1
		return NewExitError(ExitFailure, fmt.Sprintf("config validation failed with %d error(s)", len(issues)))
	}

	// Text format
	fmt.Fprintln(formatter.Writer, "✗ Config invalid")
	fmt.Fprintln(formatter.Writer)

	for _, issue := range issues {
		if issue.Line > 0 {
			fmt.Fprintf(formatter.Writer, "%s:%d\n", issue.File, issue.Line)
		}
		fmt.Fprintf(formatter.Writer, "  %s: %s\n\n", issue.Code, issue.Message)
	}

	// Validation failures = exit code 1
	return NewExitError(ExitFailure, fmt.Sprintf("config validation failed with %d error(s)", len(issues)))
}
