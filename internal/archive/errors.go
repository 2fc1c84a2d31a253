package archive

import (
	"errors"
	"fmt"
)

// RoomError is a failure that aborts archival of a single room. Batches
// committed before the failure stand; the run proceeds to the next room.
type RoomError struct {
	// Code identifies the stage that failed.
	Code RoomErrorCode

	// RoomID identifies the affected room.
	RoomID string

	// Err is the underlying cause.
	Err error
}

// RoomErrorCode categorizes room failures.
type RoomErrorCode string

const (
	// ErrCodeMetadata indicates the room metadata write failed.
	ErrCodeMetadata RoomErrorCode = "METADATA"

	// ErrCodeMembers indicates the roster fetch or a member write failed.
	ErrCodeMembers RoomErrorCode = "MEMBERS"

	// ErrCodePagination indicates a pagination request or an event write
	// failed mid-walk.
	ErrCodePagination RoomErrorCode = "PAGINATION"
)

// Error implements the error interface.
func (e *RoomError) Error() string {
	return fmt.Sprintf("%s: %v (room=%s)", e.Code, e.Err, e.RoomID)
}

// Unwrap exposes the underlying cause for errors.Is/errors.As.
func (e *RoomError) Unwrap() error {
	return e.Err
}

// IsRoomError returns true if the error is a room-scoped failure.
// Uses errors.As to handle wrapped errors.
func IsRoomError(err error) bool {
	var re *RoomError
	return errors.As(err, &re)
}

// newRoomError wraps a stage failure with its room context.
func newRoomError(code RoomErrorCode, roomID string, err error) *RoomError {
	return &RoomError{Code: code, RoomID: roomID, Err: err}
}
