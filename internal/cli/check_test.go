package cli

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runCheckCommand(t *testing.T, format string, verbose bool, path string) (string, string, error) {
	t.Helper()
	out := &bytes.Buffer{}
	errOut := &bytes.Buffer{}
	rootOpts := &RootOptions{Format: format, Verbose: verbose}
	cmd := NewCheckCommand(rootOpts)
	cmd.SetOut(out)
	cmd.SetErr(errOut)
	cmd.SetArgs([]string{path})
	err := cmd.Execute()
	return out.String(), errOut.String(), err
}

func TestCheck_ValidConfig(t *testing.T) {
	path := writeConfigFile(t, "host: \"https://hs.example.org\"\njobs: 2\n")

	out, _, err := runCheckCommand(t, "text", false, path)
	require.NoError(t, err)
	assert.Contains(t, out, "✓ Config valid")
}

func TestCheck_ValidConfigJSON(t *testing.T) {
	path := writeConfigFile(t, `database: "vault.sqlite"`)

	out, _, err := runCheckCommand(t, "json", false, path)
	require.NoError(t, err)

	var resp struct {
		Status string      `json:"status"`
		Data   CheckResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.True(t, resp.Data.Valid)
	assert.Empty(t, resp.Data.Errors)
}

func TestCheck_UnknownFieldFailsValidation(t *testing.T) {
	path := writeConfigFile(t, "host: \"https://hs.example.org\"\nhots: true\n")

	out, _, err := runCheckCommand(t, "text", false, path)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, err.Error(), "config validation failed")
	assert.Contains(t, out, "✗ Config invalid")
	assert.Contains(t, out, ErrCodeSchema)
	assert.Contains(t, out, "hots")
}

func TestCheck_ConstraintViolationJSON(t *testing.T) {
	path := writeConfigFile(t, "jobs: 0\n")

	out, _, err := runCheckCommand(t, "json", false, path)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	var resp struct {
		Status string      `json:"status"`
		Data   CheckResult `json:"data"`
		Error  *CLIError   `json:"error"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "error", resp.Status)
	assert.False(t, resp.Data.Valid)
	require.NotEmpty(t, resp.Data.Errors)
	assert.Equal(t, ErrCodeSchema, resp.Data.Errors[0].Code)
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodeSchema, resp.Error.Code)
}

func TestCheck_SyntaxError(t *testing.T) {
	path := writeConfigFile(t, "host: \"unterminated\n")

	out, _, err := runCheckCommand(t, "text", false, path)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, ErrCodeParseFailed)
}

func TestCheck_MissingFileIsCommandError(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "absent.cue")

	out, _, err := runCheckCommand(t, "text", false, missing)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, out, "config file not found")
}

func TestCheck_VerboseShowsResolvedSettings(t *testing.T) {
	path := writeConfigFile(t, "database: \"vault.sqlite\"\njobs: 3\n")

	_, errOut, err := runCheckCommand(t, "text", true, path)
	require.NoError(t, err)
	assert.Contains(t, errOut, "database: vault.sqlite")
	assert.Contains(t, errOut, "jobs: 3")
	assert.Contains(t, errOut, "no credentials in file")
}

func TestCheck_IssueCarriesFileAndLine(t *testing.T) {
	path := writeConfigFile(t, "host: \"https://hs.example.org\"\nbogus: 1\n")

	out, _, err := runCheckCommand(t, "json", false, path)
	require.Error(t, err)

	var resp struct {
		Data CheckResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	require.NotEmpty(t, resp.Data.Errors)
	assert.Equal(t, path, resp.Data.Errors[0].File)
	assert.Greater(t, resp.Data.Errors[0].Line, 0)
}
