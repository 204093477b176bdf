// Package input holds the per-frame game input record and the per-device
// queue of confirmed and predicted inputs.
package input

import (
	"errors"
	"fmt"
)

// NoFrame is the sentinel frame value meaning "no frame yet".
const NoFrame int64 = -1

// ErrSizeMismatch is returned when caller-supplied bytes don't match the
// expected player_count * size_per_player length.
var ErrSizeMismatch = errors.New("input: size mismatch")

// GameInput is an immutable per-frame record of raw input bytes for one or
// more players of a single device.
type GameInput struct {
	Frame         int64
	SizePerPlayer int
	PlayerCount   int
	Bytes         []byte
}

// New returns a zero-filled GameInput for the given frame.
func New(frame int64, sizePerPlayer, playerCount int) GameInput {
	return GameInput{
		Frame:         frame,
		SizePerPlayer: sizePerPlayer,
		PlayerCount:   playerCount,
		Bytes:         make([]byte, sizePerPlayer*playerCount),
	}
}

// SetSlice writes playerCount*sizePerPlayer bytes at the given player
// offset. Fails with ErrSizeMismatch if bytes doesn't have exactly that
// length.
func (gi *GameInput) SetSlice(playerOffset, playerCount int, bytes []byte) error {
	want := playerCount * gi.SizePerPlayer
	if len(bytes) != want {
		return fmt.Errorf("input: set_slice player=%d count=%d len=%d want=%d: %w",
			playerOffset, playerCount, len(bytes), want, ErrSizeMismatch)
	}

	start := playerOffset * gi.SizePerPlayer
	copy(gi.Bytes[start:start+want], bytes)

	return nil
}

// Equal compares the payload byte-wise. If includeFrame is true, it also
// requires matching frames.
func (gi GameInput) Equal(other GameInput, includeFrame bool) bool {
	if includeFrame && gi.Frame != other.Frame {
		return false
	}

	if len(gi.Bytes) != len(other.Bytes) {
		return false
	}

	for i := range gi.Bytes {
		if gi.Bytes[i] != other.Bytes[i] {
			return false
		}
	}

	return true
}

// IsNil reports whether this is an absent/uninitialized slot.
func (gi GameInput) IsNil() bool {
	return gi.Frame == NoFrame
}

// nilInput returns the frame==-1 sentinel for the given shape.
func nilInput(sizePerPlayer, playerCount int) GameInput {
	gi := New(NoFrame, sizePerPlayer, playerCount)
	return gi
}
