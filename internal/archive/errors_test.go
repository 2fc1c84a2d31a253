package archive

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRoomError_Message(t *testing.T) {
	err := newRoomError(ErrCodePagination, "!a:example.org", errors.New("connection reset"))

	assert.Equal(t, "PAGINATION: connection reset (room=!a:example.org)", err.Error())
}

func TestRoomError_Unwrap(t *testing.T) {
	cause := errors.New("disk full")
	err := newRoomError(ErrCodeMetadata, "!a:example.org", cause)

	assert.ErrorIs(t, err, cause)
}

func TestIsRoomError(t *testing.T) {
	roomErr := newRoomError(ErrCodeMembers, "!a:example.org", errors.New("boom"))

	assert.True(t, IsRoomError(roomErr))
	assert.True(t, IsRoomError(fmt.Errorf("wrapped: %w", roomErr)))
	assert.False(t, IsRoomError(errors.New("boom")))
	assert.False(t, IsRoomError(nil))
}
