// Package proto implements the wire frame format shared by every client and
// the server: a fixed 128-byte header followed by an opaque, opcode-tagged
// payload encoded as canonical CBOR.
//
// The header is laid out so that the fields the sequencer needs to route a
// frame (room, sender, opcode) sit in the first cache line and the 64-byte
// signature sits alone in the second:
//
//	offset  size  field
//	0       4     magic
//	4       1     version
//	5       1     flags
//	6       2     opcode
//	8       4     request_id
//	12      4     payload_size
//	16      16    room_id
//	32      8     sender_id
//	40      8     context_id  (log_index, or recipient_id for Welcome)
//	48      8     hlc_timestamp
//	56      8     epoch
//	64      64    signature
//
// Parsing a header never copies the underlying bytes; Header wraps the
// caller's slice and its accessors read directly out of it. Encoding is
// exact: ParseHeader(header.Encode()) reproduces the same field values for
// any header satisfying the size invariant.
//
//	h, err := proto.ParseHeader(buf)
//	if err != nil { ... }
//	sig, _ := crypto.Sign(h.SigningData(), signingKey)
//	h.SetSignature(sig)
package proto
