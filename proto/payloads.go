package proto

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	opts := cbor.CanonicalEncOptions()
	m, err := opts.EncMode()
	if err != nil {
		panic(fmt.Sprintf("proto: building canonical CBOR encoder: %v", err))
	}
	encMode = m

	d, err := cbor.DecOptions{}.DecMode()
	if err != nil {
		panic(fmt.Sprintf("proto: building CBOR decoder: %v", err))
	}
	decMode = d
}

// HelloPayload opens a session (opcode Hello).
type HelloPayload struct {
	Version      uint16   `cbor:"1,keyasint"`
	Capabilities []string `cbor:"2,keyasint"`
	SenderID     *uint64  `cbor:"3,keyasint,omitempty"`
	AuthToken    []byte   `cbor:"4,keyasint,omitempty"`
}

// HelloReplyPayload answers a Hello (opcode HelloReply).
type HelloReplyPayload struct {
	SessionID    uint64   `cbor:"1,keyasint"`
	Capabilities []string `cbor:"2,keyasint"`
	Challenge    []byte   `cbor:"3,keyasint,omitempty"`
}

// GoodbyePayload closes a session (opcode Goodbye).
type GoodbyePayload struct {
	Reason string `cbor:"1,keyasint"`
}

// SyncRequestPayload asks for frames from a log position (opcode SyncRequest).
type SyncRequestPayload struct {
	FromLogIndex uint64 `cbor:"1,keyasint"`
	Limit        uint32 `cbor:"2,keyasint"`
}

// SyncResponsePayload answers a SyncRequest (opcode SyncResponse). Frames
// carries whole encoded frames (header+payload), not decoded structures.
type SyncResponsePayload struct {
	Frames      [][]byte `cbor:"1,keyasint"`
	HasMore     bool     `cbor:"2,keyasint"`
	ServerEpoch uint64   `cbor:"3,keyasint"`
}

// KeyPackagePublishPayload publishes a one-time KeyPackage (opcode KeyPackagePublish).
type KeyPackagePublishPayload struct {
	KeyPackageBytes []byte `cbor:"1,keyasint"`
	HashRef         []byte `cbor:"2,keyasint"`
}

// KeyPackageFetchPayload requests or returns a published KeyPackage (opcode
// KeyPackageFetch). In requests KeyPackageBytes/HashRef are empty; an empty
// response means "not found".
type KeyPackageFetchPayload struct {
	UserID          uint64 `cbor:"1,keyasint"`
	KeyPackageBytes []byte `cbor:"2,keyasint,omitempty"`
	HashRef         []byte `cbor:"3,keyasint,omitempty"`
}

// GroupInfoRequestPayload asks the server to relay a room's current
// GroupInfo (opcode GroupInfoRequest).
type GroupInfoRequestPayload struct {
	RoomID RoomID `cbor:"1,keyasint"`
}

// GroupInfoPayload carries a room's current GroupInfo (opcode GroupInfo).
type GroupInfoPayload struct {
	RoomID         RoomID `cbor:"1,keyasint"`
	Epoch          uint64 `cbor:"2,keyasint"`
	GroupInfoBytes []byte `cbor:"3,keyasint"`
}

// MLSMessagePayload wraps opaque MLS-library bytes shared by the Proposal,
// Commit, ExternalCommit, and Welcome opcodes.
type MLSMessagePayload struct {
	MLSBytes []byte `cbor:"1,keyasint"`
}

// EncryptedMessagePayload is an application message sealed by the
// sender-key ratchet (opcode AppMessage). PushKeys is reserved for forward
// compatibility and is always omitted by this implementation.
type EncryptedMessagePayload struct {
	Epoch       uint64 `cbor:"1,keyasint"`
	SenderIndex uint32 `cbor:"2,keyasint"`
	Generation  uint32 `cbor:"3,keyasint"`
	Nonce       []byte `cbor:"4,keyasint"`
	Ciphertext  []byte `cbor:"5,keyasint"`
	PushKeys    []byte `cbor:"6,keyasint,omitempty"`
}

// AppReceiptPayload acknowledges delivery or read of a prior AppMessage
// (opcode AppReceipt). Kind is "delivered" or "read".
type AppReceiptPayload struct {
	LogIndex uint64 `cbor:"1,keyasint"`
	Kind     string `cbor:"2,keyasint"`
}

// AppReactionPayload attaches an emoji reaction to a prior AppMessage
// (opcode AppReaction).
type AppReactionPayload struct {
	LogIndex uint64 `cbor:"1,keyasint"`
	Emoji    string `cbor:"2,keyasint"`
}

// RedactPayload advisorily asks clients to hide a prior AppMessage (opcode
// Redact). Storage does not delete the referenced frame; the log stays
// append-only.
type RedactPayload struct {
	TargetLogIndex uint64 `cbor:"1,keyasint"`
}

// BanPayload is a room-moderation directive (opcode Ban). It does not
// itself remove the target from the MLS group; that is a separate
// RemoveMembers the application layer issues.
type BanPayload struct {
	TargetUserID uint64 `cbor:"1,keyasint"`
	Reason       string `cbor:"2,keyasint"`
	UntilSecs    uint64 `cbor:"3,keyasint"`
}

// KickPayload is a room-moderation directive (opcode Kick). See BanPayload.
type KickPayload struct {
	TargetUserID uint64 `cbor:"1,keyasint"`
	Reason       string `cbor:"2,keyasint"`
}

// ErrorPayload reports a sender-attributable failure (opcode Error).
type ErrorPayload struct {
	Code       uint16  `cbor:"1,keyasint"`
	Message    string  `cbor:"2,keyasint"`
	RetryAfter *uint64 `cbor:"3,keyasint,omitempty"`
}

// Error response codes, per the server driver's error taxonomy.
const (
	ErrCodeFrameRejected      uint16 = 1
	ErrCodeRoomNotFound       uint16 = 2
	ErrCodeStorageError       uint16 = 3
	ErrCodeInvalidPayload     uint16 = 4
	ErrCodeMLSError           uint16 = 5
	ErrCodeSequencerError     uint16 = 6
	ErrCodeKeyPackageNotFound uint16 = 7
)

// EncodePayload serializes v as canonical CBOR. Ping and Pong have no
// payload type; callers must not call this for those opcodes.
func EncodePayload(v interface{}) ([]byte, error) {
	b, err := encMode.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("proto: encode payload: %w", err)
	}
	return b, nil
}

// DecodePayload deserializes canonical CBOR bytes into v, which must be a
// pointer to one of the payload structs above.
func DecodePayload(data []byte, v interface{}) error {
	if err := decMode.Unmarshal(data, v); err != nil {
		return fmt.Errorf("proto: decode payload: %w", err)
	}
	return nil
}
