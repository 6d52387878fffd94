package client

import "github.com/opd-ai/lockframe/proto"

// ActionKind enumerates the effects a Client method or FrameReceived/Tick
// call asks its caller to carry out.
type ActionKind int

const (
	// ActionSend asks the caller to transmit Frame.
	ActionSend ActionKind = iota
	// ActionDeliverMessage reports a decrypted application message.
	ActionDeliverMessage
	// ActionPersistRoom asks the caller to durably store Snapshot as
	// RoomID's current MLS group state.
	ActionPersistRoom
	// ActionRequestSync asks the caller to emit a SyncRequest frame for
	// RoomID spanning FromEpoch..ToEpoch. FromEpoch/ToEpoch double as
	// FromLogIndex/ToLogIndex depending on context; callers read the
	// field meant for their opcode.
	ActionRequestSync
	// ActionRoomRemoved reports that RoomID's RoomState was torn down.
	ActionRoomRemoved
	// ActionRoomJoined reports a new or re-synced membership in RoomID
	// at Epoch.
	ActionRoomJoined
	// ActionMemberAdded reports a member successfully added to RoomID.
	ActionMemberAdded
	// ActionKeyPackagePublished reports a freshly generated KeyPackage.
	ActionKeyPackagePublished
	// ActionKeyPackageNeeded reports that a join or add attempt needs a
	// fresh KeyPackage it does not have, with Reason naming why.
	ActionKeyPackageNeeded
	// ActionLog asks the caller to record Reason for observability.
	ActionLog
)

// Action is one effect emitted by a Client operation.
type Action struct {
	Kind      ActionKind
	Frame     *proto.Frame
	RoomID    proto.RoomID
	SenderID  uint64
	MemberID  uint64
	Epoch     uint64
	FromEpoch uint64
	ToEpoch   uint64
	Plaintext []byte
	Snapshot  []byte
	Reason    string
}
