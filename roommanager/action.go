package roommanager

import "github.com/opd-ai/lockframe/proto"

// ActionKind enumerates the effects ProcessFrame and HandleSyncRequest ask
// their caller to carry out.
type ActionKind int

const (
	// ActionPersistFrame asks the caller to append Frame to storage at
	// LogIndex (the room manager does this itself via the storage
	// dependency passed to ProcessFrame; the action documents that it
	// happened, matching the sequencer's three-action shape one level
	// up).
	ActionPersistFrame ActionKind = iota
	// ActionBroadcast asks the caller to fan Frame out to every session
	// subscribed to RoomID. ExcludeSender is always false: the core
	// never excludes the sender's own other sessions from a room
	// broadcast.
	ActionBroadcast
	// ActionReject reports a frame this room manager refused.
	ActionReject
	// ActionSendSyncResponse asks the caller to send a SyncResponse
	// payload to the requesting session.
	ActionSendSyncResponse
)

// Action is one effect emitted by a room manager operation.
type Action struct {
	Kind          ActionKind
	RoomID        proto.RoomID
	LogIndex      uint64
	Frame         *proto.Frame
	ExcludeSender bool
	Reason        string
	SyncResponse  *proto.SyncResponsePayload
}
