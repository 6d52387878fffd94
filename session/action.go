package session

import "github.com/opd-ai/lockframe/proto"

// ActionKind enumerates the effects a session state machine transition can
// ask its caller to carry out.
type ActionKind int

const (
	// ActionSendFrame asks the caller to send Frame to the peer.
	ActionSendFrame ActionKind = iota
	// ActionClose asks the caller to tear down the underlying transport.
	ActionClose
	// ActionLog is an informational event with no required side effect
	// beyond structured logging, which the machine already performs
	// itself; callers may ignore it.
	ActionLog
)

// Action is one effect emitted by a State transition.
type Action struct {
	Kind   ActionKind
	Frame  *proto.Frame
	Reason string
}
