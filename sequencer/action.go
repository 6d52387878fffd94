package sequencer

import "github.com/opd-ai/lockframe/proto"

// ActionKind enumerates the effects ProcessFrame asks its caller to carry
// out, in the order they must be applied.
type ActionKind int

const (
	// ActionAcceptFrame marks the frame as structurally valid and
	// log-index-assigned; carries no work of its own beyond sequencing.
	ActionAcceptFrame ActionKind = iota
	// ActionStoreFrame asks the caller to append Frame to the room's log
	// at LogIndex.
	ActionStoreFrame
	// ActionBroadcastToRoom asks the caller to fan Frame out to every
	// session subscribed to RoomID.
	ActionBroadcastToRoom
	// ActionReject reports a frame this sequencer refused, with Reason
	// naming why.
	ActionReject
)

// Action is one effect emitted by ProcessFrame.
type Action struct {
	Kind     ActionKind
	RoomID   proto.RoomID
	LogIndex uint64
	Frame    *proto.Frame
	Reason   string
}
