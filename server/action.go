package server

import "github.com/opd-ai/lockframe/proto"

// ActionKind enumerates the effects a Driver event asks its caller to
// carry out.
type ActionKind int

const (
	// ActionSendToSession asks the caller to send Frame to exactly one
	// session (SessionID).
	ActionSendToSession ActionKind = iota
	// ActionBroadcastToRoom asks the caller to send Frame to every
	// session subscribed to RoomID, excluding ExcludeSessionID when it is
	// non-nil.
	ActionBroadcastToRoom
	// ActionCloseConnection asks the caller to tear down SessionID's
	// transport connection.
	ActionCloseConnection
	// ActionLog is an informational event the driver has already logged
	// structurally; callers may ignore it.
	ActionLog
)

// Action is one effect emitted by a Driver method.
type Action struct {
	Kind             ActionKind
	SessionID        uint64
	ExcludeSessionID *uint64
	RoomID           proto.RoomID
	Frame            *proto.Frame
	Reason           string
}
