package proto

import "github.com/google/uuid"

// NewRoomID generates a fresh random RoomID backed by a version-4 UUID, so
// room identifiers stay human-legible in logs and the CLI (e.g.
// "a1b2c3d4-...") while remaining the same 16 opaque bytes on the wire.
func NewRoomID() RoomID {
	return RoomID(uuid.New())
}

// ParseRoomID decodes a UUID string (as produced by String) into a RoomID.
func ParseRoomID(s string) (RoomID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return RoomID{}, err
	}
	return RoomID(u), nil
}

// String renders r as a canonical UUID string for logs and CLI output.
func (r RoomID) String() string {
	return uuid.UUID(r).String()
}
