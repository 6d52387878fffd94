package client

import "errors"

var (
	// ErrAlreadyMember is returned by CreateRoom when roomID already has a
	// RoomState.
	ErrAlreadyMember = errors.New("client: already a member of this room")
	// ErrRoomAlreadyExists is returned when a Welcome or external join
	// targets a room this identity already belongs to.
	ErrRoomAlreadyExists = errors.New("client: room already exists")
	// ErrNotMember is returned by operations that require an existing
	// RoomState for a room this identity has not joined.
	ErrNotMember = errors.New("client: not a member of this room")
	// ErrNoPendingExternalJoin is returned when a GroupInfo frame arrives
	// for a room with no matching pending external join.
	ErrNoPendingExternalJoin = errors.New("client: no pending external join for this room")
)
