package proto

// Opcode classifies a frame's payload. It is a closed enumeration: every
// value here must have exactly one payload variant, and the call sites
// that switch on Opcode (the client and server FrameReceived dispatch
// tables) must all be updated together when a new opcode is added.
type Opcode uint16

const (
	OpHello Opcode = iota + 1
	OpHelloReply
	OpGoodbye
	OpPing
	OpPong
	OpSyncRequest
	OpSyncResponse
	OpKeyPackage
	OpKeyPackagePublish
	OpKeyPackageFetch
	OpGroupInfoRequest
	OpGroupInfo
	OpProposal
	OpCommit
	OpExternalCommit
	OpWelcome
	OpAppMessage
	OpAppReceipt
	OpAppReaction
	OpRedact
	OpBan
	OpKick
	OpError
)

var opcodeNames = map[Opcode]string{
	OpHello:             "Hello",
	OpHelloReply:        "HelloReply",
	OpGoodbye:           "Goodbye",
	OpPing:              "Ping",
	OpPong:              "Pong",
	OpSyncRequest:       "SyncRequest",
	OpSyncResponse:      "SyncResponse",
	OpKeyPackage:        "KeyPackage",
	OpKeyPackagePublish: "KeyPackagePublish",
	OpKeyPackageFetch:   "KeyPackageFetch",
	OpGroupInfoRequest:  "GroupInfoRequest",
	OpGroupInfo:         "GroupInfo",
	OpProposal:          "Proposal",
	OpCommit:            "Commit",
	OpExternalCommit:    "ExternalCommit",
	OpWelcome:           "Welcome",
	OpAppMessage:        "AppMessage",
	OpAppReceipt:        "AppReceipt",
	OpAppReaction:       "AppReaction",
	OpRedact:            "Redact",
	OpBan:               "Ban",
	OpKick:              "Kick",
	OpError:             "Error",
}

// String returns the opcode's name, or "Unknown" for an unrecognized value.
func (o Opcode) String() string {
	if name, ok := opcodeNames[o]; ok {
		return name
	}
	return "Unknown"
}

// Valid reports whether o is a recognized opcode.
func (o Opcode) Valid() bool {
	_, ok := opcodeNames[o]
	return ok
}

// IsRoomSequenced reports whether frames of this opcode pass through the
// sequencer's log-index assignment. Welcome frames are explicitly excluded:
// they are routed point-to-point and never appear in a room's log.
func (o Opcode) IsRoomSequenced() bool {
	switch o {
	case OpProposal, OpCommit, OpExternalCommit, OpAppMessage,
		OpAppReceipt, OpAppReaction, OpRedact, OpBan, OpKick:
		return true
	default:
		return false
	}
}

// IsSessionLayer reports whether frames of this opcode terminate at the
// session state machine rather than flowing to the room manager.
func (o Opcode) IsSessionLayer() bool {
	switch o {
	case OpHello, OpHelloReply, OpGoodbye, OpPing, OpPong:
		return true
	default:
		return false
	}
}
