package storage

import (
	"errors"
	"fmt"

	"github.com/opd-ai/lockframe/proto"
)

// ErrConflict indicates an AppendFrame call supplied a log index other than
// the next expected one: the in-memory sequencer state has drifted from
// durable storage and must be rehydrated.
var ErrConflict = errors.New("storage: log index conflict")

// ConflictError carries the expected and actual log indices for a failed
// AppendFrame call.
type ConflictError struct {
	Expected uint64
	Got      uint64
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("storage: log index conflict: expected %d, got %d", e.Expected, e.Got)
}

func (e *ConflictError) Unwrap() error { return ErrConflict }

// NewConflictError builds a ConflictError for a rejected AppendFrame call.
func NewConflictError(expected, got uint64) error {
	return &ConflictError{Expected: expected, Got: got}
}

// RoomMetadata is the durable record created alongside a room.
type RoomMetadata struct {
	Creator       uint64
	CreatedAtSecs uint64
}

// Store is the durable state contract every server-side (and, for its own
// MLS state, client-side) component depends on.
type Store interface {
	// LatestLogIndex returns the highest log index stored for roomID, and
	// false if the room has no frames yet.
	LatestLogIndex(roomID proto.RoomID) (logIndex uint64, ok bool, err error)

	// AppendFrame stores frame at logIndex, which must equal
	// LatestLogIndex+1 (or 0 for an empty room). A mismatch returns a
	// ConflictError.
	AppendFrame(roomID proto.RoomID, logIndex uint64, frame []byte) error

	// LoadFrames returns up to limit frames starting at fromLogIndex, in
	// ascending log-index order.
	LoadFrames(roomID proto.RoomID, fromLogIndex uint64, limit uint32) ([][]byte, error)

	// SaveRoomMetadata persists meta for roomID. Idempotent: a repeat call
	// with the same roomID overwrites silently.
	SaveRoomMetadata(roomID proto.RoomID, meta RoomMetadata) error

	// LoadRoomMetadata returns roomID's metadata, and false if none exists.
	LoadRoomMetadata(roomID proto.RoomID) (meta RoomMetadata, ok bool, err error)

	// SaveGroupInfo caches the room's current GroupInfo payload bytes, so
	// the server driver can answer a GroupInfoRequest without asking a
	// client.
	SaveGroupInfo(roomID proto.RoomID, groupInfo []byte) error

	// LoadGroupInfo returns the cached GroupInfo for roomID, and false if
	// none has been published yet.
	LoadGroupInfo(roomID proto.RoomID) (groupInfo []byte, ok bool, err error)

	// SaveGroupState persists a client's own exported MLS group state for
	// roomID, for reload across restarts.
	SaveGroupState(roomID proto.RoomID, state []byte) error

	// LoadGroupState returns a client's previously saved group state for
	// roomID, and false if none exists.
	LoadGroupState(roomID proto.RoomID) (state []byte, ok bool, err error)

	// Close releases any resources the store holds open.
	Close() error
}
