package mls

// ActionKind enumerates the effects a Group operation can ask its caller
// to carry out. Every exported Group method returns a slice of Actions
// instead of performing I/O itself, so the engine stays free of sequencer,
// transport, and storage concerns.
type ActionKind int

const (
	// ActionLog asks the caller to persist Payload as the next frame in
	// the room's log.
	ActionLog ActionKind = iota
	// ActionSendWelcome asks the caller to deliver Payload, a sealed
	// Welcome, to RecipientID.
	ActionSendWelcome
	// ActionPublishGroupInfo asks the caller to make Payload available to
	// answer future GroupInfoRequests for the room.
	ActionPublishGroupInfo
	// ActionDeliverMessage reports a plaintext recovered from
	// ProcessMessage, attributed to SenderID.
	ActionDeliverMessage
	// ActionRemoveGroup tells the caller this member has left or been
	// removed from the group and local state should be torn down.
	ActionRemoveGroup
)

// Action is one effect emitted by a Group operation.
type Action struct {
	Kind        ActionKind
	Payload     []byte
	RecipientID uint64
	SenderID    uint64
	Reason      string
}

func logAction(payload []byte) Action {
	return Action{Kind: ActionLog, Payload: payload}
}

func sendWelcomeAction(recipientID uint64, payload []byte) Action {
	return Action{Kind: ActionSendWelcome, RecipientID: recipientID, Payload: payload}
}

func publishGroupInfoAction(payload []byte) Action {
	return Action{Kind: ActionPublishGroupInfo, Payload: payload}
}

func deliverMessageAction(senderID uint64, plaintext []byte) Action {
	return Action{Kind: ActionDeliverMessage, SenderID: senderID, Payload: plaintext}
}

func removeGroupAction(reason string) Action {
	return Action{Kind: ActionRemoveGroup, Reason: reason}
}
