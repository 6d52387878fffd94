package proto

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/opd-ai/lockframe/limits"
	"github.com/sirupsen/logrus"
)

// HeaderSize is the fixed size of a frame header in bytes.
const HeaderSize = limits.HeaderSize

// Magic is the constant that opens every header.
const Magic uint32 = 0x4C4F4652

// CurrentVersion is the only version this implementation emits or accepts.
const CurrentVersion uint8 = 0x01

// Strict, when true, makes the opcode-gated context_id accessors
// (LogIndex/RecipientID) log a warning when called against the wrong kind
// of frame instead of silently returning the raw bytes. It is off by
// default, matching the release-build behavior the wire format assumes,
// and nothing in this module turns it on.
var Strict = false

var (
	ErrFrameTooShort     = errors.New("frame too short")
	ErrInvalidMagic      = errors.New("invalid magic")
	ErrUnsupportedVer    = errors.New("unsupported version")
	ErrPayloadSizeMismat = errors.New("payload_size does not match actual payload length")
	ErrPayloadTooLarge   = limits.ErrPayloadTooLarge
	ErrZeroRoomID        = errors.New("room_id must not be zero")
)

// RoomID is a 128-bit opaque room identifier. The zero value is reserved
// for "uninitialized" and is never a valid room.
type RoomID [16]byte

// IsZero reports whether r is the reserved uninitialized value.
func (r RoomID) IsZero() bool {
	return r == RoomID{}
}

// Header is a zero-copy view over a 128-byte frame header. It never
// allocates on parse: Raw aliases the caller's buffer.
type Header struct {
	Raw []byte
}

// ParseHeader views buf as a Header, validating structural invariants that
// do not require the payload. It does not copy buf.
func ParseHeader(buf []byte) (*Header, error) {
	if len(buf) < HeaderSize {
		return nil, fmt.Errorf("%w: got %d bytes", ErrFrameTooShort, len(buf))
	}
	h := &Header{Raw: buf[:HeaderSize]}
	if h.Magic() != Magic {
		return nil, fmt.Errorf("%w: got 0x%08x", ErrInvalidMagic, h.Magic())
	}
	if h.Version() != CurrentVersion {
		return nil, fmt.Errorf("%w: got %d", ErrUnsupportedVer, h.Version())
	}
	if h.PayloadSize() > limits.MaxPayloadSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrPayloadTooLarge, h.PayloadSize())
	}
	return h, nil
}

// NewHeader allocates a fresh, zeroed header with magic and version set.
func NewHeader() *Header {
	h := &Header{Raw: make([]byte, HeaderSize)}
	binary.BigEndian.PutUint32(h.Raw[0:4], Magic)
	h.Raw[4] = CurrentVersion
	return h
}

func (h *Header) Magic() uint32       { return binary.BigEndian.Uint32(h.Raw[0:4]) }
func (h *Header) Version() uint8      { return h.Raw[4] }
func (h *Header) Flags() uint8        { return h.Raw[5] }
func (h *Header) SetFlags(f uint8)    { h.Raw[5] = f }
func (h *Header) Opcode() Opcode      { return Opcode(binary.BigEndian.Uint16(h.Raw[6:8])) }
func (h *Header) SetOpcode(o Opcode)  { binary.BigEndian.PutUint16(h.Raw[6:8], uint16(o)) }
func (h *Header) RequestID() uint32   { return binary.BigEndian.Uint32(h.Raw[8:12]) }
func (h *Header) PayloadSize() uint32 { return binary.BigEndian.Uint32(h.Raw[12:16]) }

func (h *Header) SetRequestID(id uint32) {
	binary.BigEndian.PutUint32(h.Raw[8:12], id)
}

func (h *Header) SetPayloadSize(n uint32) {
	binary.BigEndian.PutUint32(h.Raw[12:16], n)
}

func (h *Header) RoomID() RoomID {
	var r RoomID
	copy(r[:], h.Raw[16:32])
	return r
}

func (h *Header) SetRoomID(r RoomID) {
	copy(h.Raw[16:32], r[:])
}

func (h *Header) SenderID() uint64 { return binary.BigEndian.Uint64(h.Raw[32:40]) }

func (h *Header) SetSenderID(id uint64) {
	binary.BigEndian.PutUint64(h.Raw[32:40], id)
}

// contextID reads the raw 8-byte context_id field without opcode gating.
func (h *Header) contextID() uint64 { return binary.BigEndian.Uint64(h.Raw[40:48]) }

func (h *Header) setContextID(v uint64) {
	binary.BigEndian.PutUint64(h.Raw[40:48], v)
}

// LogIndex reads context_id as a sequencer-assigned log index. Calling this
// on a Welcome frame is a bug; under Strict mode it is logged, never
// rejected, matching the release-build behavior the format assumes.
func (h *Header) LogIndex() uint64 {
	if Strict && h.Opcode() == OpWelcome {
		strictMisuse("LogIndex() called on a Welcome frame")
	}
	return h.contextID()
}

// SetLogIndex writes context_id as a log index.
func (h *Header) SetLogIndex(idx uint64) { h.setContextID(idx) }

// RecipientID reads context_id as a Welcome frame's routing target.
func (h *Header) RecipientID() uint64 {
	if Strict && h.Opcode() != OpWelcome {
		strictMisuse("RecipientID() called on a non-Welcome frame")
	}
	return h.contextID()
}

// SetRecipientID writes context_id as a Welcome recipient.
func (h *Header) SetRecipientID(id uint64) { h.setContextID(id) }

func (h *Header) HLCTimestamp() uint64 { return binary.BigEndian.Uint64(h.Raw[48:56]) }

func (h *Header) SetHLCTimestamp(ts uint64) {
	binary.BigEndian.PutUint64(h.Raw[48:56], ts)
}

func (h *Header) Epoch() uint64 { return binary.BigEndian.Uint64(h.Raw[56:64]) }

func (h *Header) SetEpoch(e uint64) {
	binary.BigEndian.PutUint64(h.Raw[56:64], e)
}

// Signature returns the 64-byte Ed25519 signature field.
func (h *Header) Signature() [64]byte {
	var sig [64]byte
	copy(sig[:], h.Raw[64:128])
	return sig
}

// SetSignature writes the 64-byte Ed25519 signature field. It does not
// invalidate a signature previously computed over SigningData, since
// SigningData excludes this field.
func (h *Header) SetSignature(sig [64]byte) {
	copy(h.Raw[64:128], sig[:])
}

// SigningData returns the 56 bytes a sender signs: bytes 0..40 (through
// sender_id) concatenated with bytes 48..64 (hlc_timestamp, epoch). It
// excludes context_id (mutated by the sequencer after signing) and the
// signature field itself.
func (h *Header) SigningData() []byte {
	buf := make([]byte, 56)
	copy(buf[0:40], h.Raw[0:40])
	copy(buf[40:56], h.Raw[48:64])
	return buf
}

// Encode returns a fresh copy of the header's 128 bytes.
func (h *Header) Encode() []byte {
	out := make([]byte, HeaderSize)
	copy(out, h.Raw)
	return out
}

// Clone returns a Header backed by a fresh copy of the underlying bytes,
// safe to mutate independently of h. The sequencer uses this to stamp a
// log index onto a copy without mutating the frame it received.
func (h *Header) Clone() *Header {
	return &Header{Raw: h.Encode()}
}

func strictMisuse(msg string) {
	// Logged rather than panicked: strict mode exists for tests to catch
	// accessor misuse, not to crash a running server.
	logrus.WithField("package", "proto").Warn(msg)
}
