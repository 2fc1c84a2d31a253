package cli

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"

	"github.com/mxvault/mxvault/internal/archive"
	"github.com/mxvault/mxvault/internal/matrix"
)

//go:embed config_schema.cue
var configSchemaCUE string

// Config holds the settings for an archival run. Sources are layered,
// later wins: built-in defaults, CUE config file, MATRIX_* environment,
// flags. Field names match the config file schema.
type Config struct {
	Host               string   `json:"host"`
	User               string   `json:"user"`
	Password           string   `json:"password"`
	Token              string   `json:"token"`
	Database           string   `json:"database"`
	Rooms              []string `json:"rooms"`
	ExcludedRooms      []string `json:"excluded_rooms"`
	Jobs               int      `json:"jobs"`
	MaxAttachmentBytes int64    `json:"max_attachment_bytes"`

	// Timeouts in seconds; zero selects the client defaults.
	APITimeoutSeconds      int `json:"api_timeout_seconds"`
	DownloadTimeoutSeconds int `json:"download_timeout_seconds"`
}

// DefaultConfig returns the built-in defaults: the public homeserver, a
// database in the working directory, sequential rooms, and the standard
// attachment ceiling.
func DefaultConfig() Config {
	return Config{
		Host:               matrix.DefaultHost,
		Database:           "archive.sqlite",
		Jobs:               1,
		MaxAttachmentBytes: archive.DefaultMaxAttachmentBytes,
	}
}

// Overlay applies the set fields of layer on top of c. Zero values mean
// "not set"; the schema forbids empty strings and zero counts, so no
// declared setting is lost to the convention.
func (c *Config) Overlay(layer Config) {
	if layer.Host != "" {
		c.Host = layer.Host
	}
	if layer.User != "" {
		c.User = layer.User
	}
	if layer.Password != "" {
		c.Password = layer.Password
	}
	if layer.Token != "" {
		c.Token = layer.Token
	}
	if layer.Database != "" {
		c.Database = layer.Database
	}
	if layer.Rooms != nil {
		c.Rooms = layer.Rooms
	}
	if layer.ExcludedRooms != nil {
		c.ExcludedRooms = layer.ExcludedRooms
	}
	if layer.Jobs > 0 {
		c.Jobs = layer.Jobs
	}
	if layer.MaxAttachmentBytes > 0 {
		c.MaxAttachmentBytes = layer.MaxAttachmentBytes
	}
	if layer.APITimeoutSeconds > 0 {
		c.APITimeoutSeconds = layer.APITimeoutSeconds
	}
	if layer.DownloadTimeoutSeconds > 0 {
		c.DownloadTimeoutSeconds = layer.DownloadTimeoutSeconds
	}
}

// ValidateCredentials checks that the config carries a usable credential
// set: an access token, or a user and password pair.
func (c *Config) ValidateCredentials() error {
	if c.Token != "" {
		return nil
	}
	if c.User != "" && c.Password != "" {
		return nil
	}
	return &LoadError{
		Code:    ErrCodeCredentials,
		Message: "credentials required: set token, or user and password (flags, config file, or MATRIX_* environment)",
	}
}

// envConfig reads the MATRIX_* environment variables. Room ID lists are
// comma separated.
func envConfig() Config {
	return Config{
		Host:          strings.TrimSpace(os.Getenv("MATRIX_HOST")),
		User:          strings.TrimSpace(os.Getenv("MATRIX_USER")),
		Password:      os.Getenv("MATRIX_PASSWORD"),
		Token:         strings.TrimSpace(os.Getenv("MATRIX_TOKEN")),
		Rooms:         splitRoomList(os.Getenv("MATRIX_ROOM_IDS")),
		ExcludedRooms: splitRoomList(os.Getenv("EXCLUDED_MATRIX_ROOM_IDS")),
	}
}

// splitRoomList parses a comma-separated room ID list, dropping empty
// entries.
func splitRoomList(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	var ids []string
	for _, part := range strings.Split(raw, ",") {
		if id := strings.TrimSpace(part); id != "" {
			ids = append(ids, id)
		}
	}
	return ids
}

// LoadError represents an error that occurred during config loading.
type LoadError struct {
	Code    string
	Message string
	Pos     token.Pos // CUE position if available
}

func (e *LoadError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s", e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(), e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// LoadConfigFile parses path as CUE, validates it against the embedded
// #Config schema, and decodes the declared fields. Absent fields stay at
// their zero values so the caller can overlay the result onto defaults.
// Schema violations are collected, not cut short at the first.
func LoadConfigFile(path string) (*Config, []error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, []error{&LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("config file not found: %s", path)}}
	}
	if err != nil {
		return nil, []error{&LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("reading config file: %v", err)}}
	}

	ctx := cuecontext.New()
	schema := ctx.CompileString(configSchemaCUE, cue.Filename("config_schema.cue"))
	if err := schema.Err(); err != nil {
		return nil, []error{&LoadError{Code: ErrCodeGeneric, Message: fmt.Sprintf("compiling config schema: %v", err)}}
	}

	value := ctx.CompileBytes(data, cue.Filename(path))
	if err := value.Err(); err != nil {
		return nil, convertCUEErrors(ErrCodeParseFailed, err)
	}

	unified := schema.LookupPath(cue.ParsePath("#Config")).Unify(value)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return nil, convertCUEErrors(ErrCodeSchema, err)
	}

	var cfg Config
	if err := unified.Decode(&cfg); err != nil {
		return nil, convertCUEErrors(ErrCodeSchema, err)
	}
	return &cfg, nil
}

// convertCUEErrors expands a CUE error (which may aggregate several) into
// LoadErrors carrying source positions where available.
func convertCUEErrors(code string, err error) []error {
	split := cueerrors.Errors(err)
	if len(split) == 0 {
		return []error{&LoadError{Code: code, Message: err.Error()}}
	}
	out := make([]error, 0, len(split))
	for _, cueErr := range split {
		loadErr := &LoadError{Code: code, Message: cueErr.Error()}
		if positions := cueerrors.Positions(cueErr); len(positions) > 0 {
			loadErr.Pos = positions[0]
		}
		out = append(out, loadErr)
	}
	return out
}

// Error code constants - unified across all CLI commands.
const (
	ErrCodeGeneric     = "E001" // Generic/unknown error
	ErrCodeNotFound    = "E002" // Config file or database not found
	ErrCodeParseFailed = "E003" // CUE parse failed
	ErrCodeSchema      = "E004" // Config rejected by the schema
	ErrCodeCredentials = "E005" // No usable credential set
	ErrCodeStore       = "E006" // Database open/query failure
	ErrCodeAuth        = "E007" // Homeserver authentication failure
	ErrCodeArchive     = "E008" // Archival run failure
)
