package proto

import (
	"fmt"

	"github.com/opd-ai/lockframe/limits"
)

// Frame pairs a Header with its opaque payload bytes. Payload is never
// interpreted by the frame codec itself; decoding into a concrete payload
// type happens in payloads.go, keyed by Header.Opcode().
type Frame struct {
	Header  *Header
	Payload []byte
}

// ParseFrame splits buf into a Header (zero-copy) and the remaining
// payload bytes (also a view, not a copy), validating that payload_size
// matches the actual remaining length.
func ParseFrame(buf []byte) (*Frame, error) {
	h, err := ParseHeader(buf)
	if err != nil {
		return nil, err
	}
	payload := buf[HeaderSize:]
	if uint32(len(payload)) != h.PayloadSize() {
		return nil, fmt.Errorf("%w: header says %d, got %d", ErrPayloadSizeMismat, h.PayloadSize(), len(payload))
	}
	if h.RoomID().IsZero() && h.Opcode().IsRoomSequenced() {
		return nil, ErrZeroRoomID
	}
	return &Frame{Header: h, Payload: payload}, nil
}

// Encode concatenates the header and payload into a single fresh buffer,
// the wire representation sent over the transport.
func (f *Frame) Encode() []byte {
	f.Header.SetPayloadSize(uint32(len(f.Payload)))
	out := make([]byte, HeaderSize+len(f.Payload))
	copy(out[:HeaderSize], f.Header.Raw)
	copy(out[HeaderSize:], f.Payload)
	return out
}

// NewFrame builds a Frame with a fresh header carrying the given opcode and
// payload bytes; payload_size is computed automatically on Encode.
func NewFrame(opcode Opcode, roomID RoomID, senderID uint64, payload []byte) (*Frame, error) {
	if err := limits.ValidateFramePayload(payload); err != nil {
		return nil, err
	}
	h := NewHeader()
	h.SetOpcode(opcode)
	h.SetRoomID(roomID)
	h.SetSenderID(senderID)
	h.SetPayloadSize(uint32(len(payload)))
	return &Frame{Header: h, Payload: payload}, nil
}
