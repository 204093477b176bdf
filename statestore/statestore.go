// Package statestore is the fixed-capacity ring buffer mapping frame ->
// opaque game-state blob that Save/Load directives read and write. The core
// never interprets the bytes (spec.md §1: state serialization is the
// host's concern).
package statestore

import "errors"

// ErrFrameOutOfWindow is returned when a requested frame's slot has been
// overwritten by a later frame, or was never written.
var ErrFrameOutOfWindow = errors.New("statestore: frame out of window")

// ErrMissingState is returned by Load when the slot for the requested frame
// is present in the window but was never written — a scheduler bug per
// spec.md §7.
var ErrMissingState = errors.New("statestore: missing state")

type slot struct {
	frame   int64
	blob    []byte
	written bool
}

// Store is a ring of MaxRollbackFrames+1 slots, one per in-flight frame,
// grounded on alex-yte-dendy's netplay.Game single-checkpoint save/rollback
// generalized here to a full ring per spec.md §3.
type Store struct {
	capacity int
	slots    []slot
}

// New creates a store sized for the given rollback window.
func New(maxRollbackFrames int) *Store {
	capacity := maxRollbackFrames + 1
	if capacity < 1 {
		capacity = 1
	}

	return &Store{
		capacity: capacity,
		slots:    make([]slot, capacity),
	}
}

func (s *Store) index(frame int64) int {
	idx := frame % int64(s.capacity)
	if idx < 0 {
		idx += int64(s.capacity)
	}
	return int(idx)
}

// Save writes blob to the slot keyed by frame, overwriting whatever frame
// previously occupied that slot. No alias of the old blob is retained.
func (s *Store) Save(frame int64, blob []byte) {
	idx := s.index(frame)
	s.slots[idx] = slot{frame: frame, blob: blob, written: true}
}

// Load returns the blob saved for frame. Returns ErrFrameOutOfWindow if the
// slot currently holds a different frame (it's been overwritten, or this
// frame was never in range), and ErrMissingState if the slot matches the
// frame but was never written (should not happen in a correctly driven
// session; spec.md §7 treats it as a scheduler bug).
func (s *Store) Load(frame int64) ([]byte, error) {
	idx := s.index(frame)
	sl := s.slots[idx]

	if sl.frame != frame {
		return nil, ErrFrameOutOfWindow
	}

	if !sl.written {
		return nil, ErrMissingState
	}

	return sl.blob, nil
}

// Has reports whether frame currently has a saved, in-window blob.
func (s *Store) Has(frame int64) bool {
	idx := s.index(frame)
	sl := s.slots[idx]
	return sl.frame == frame && sl.written
}
