package transport

import (
	"fmt"
	"io"
	"net"

	"github.com/opd-ai/lockframe/proto"
)

// ALPN is the single protocol identifier every lockframe QUIC connection
// negotiates. A peer offering a different ALPN set is not a lockframe peer
// and the handshake fails before any frame is exchanged.
const ALPN = "lockframe/1"

// Stream is the minimal duplex byte stream Conn is built over. *quic.Stream
// satisfies it directly; it is declared as its own interface so tests can
// substitute an in-memory pipe without pulling in QUIC.
type Stream interface {
	io.Reader
	io.Writer
	Close() error
}

// Conn wraps a single per-session Stream with the module's frame boundary:
// the 128-byte header's payload_size field makes a transport-level length
// prefix unnecessary, so ReadFrame reads exactly HeaderSize bytes, then
// exactly PayloadSize more.
type Conn struct {
	stream     Stream
	remoteAddr net.Addr
}

// NewConn wraps an already-established Stream. remoteAddr is carried for
// logging only; Conn never dials or listens itself (Dialer and Listener do).
func NewConn(stream Stream, remoteAddr net.Addr) *Conn {
	return &Conn{stream: stream, remoteAddr: remoteAddr}
}

// RemoteAddr returns the peer address this Conn was established with.
func (c *Conn) RemoteAddr() net.Addr { return c.remoteAddr }

// ReadFrame blocks until one complete frame has been read from the stream,
// or the stream errors (including EOF on a clean peer close).
func (c *Conn) ReadFrame() (*proto.Frame, error) {
	header := make([]byte, proto.HeaderSize)
	if _, err := io.ReadFull(c.stream, header); err != nil {
		return nil, fmt.Errorf("transport: read header: %w", err)
	}
	h, err := proto.ParseHeader(header)
	if err != nil {
		return nil, fmt.Errorf("transport: invalid header: %w", err)
	}

	payload := make([]byte, h.PayloadSize())
	if len(payload) > 0 {
		if _, err := io.ReadFull(c.stream, payload); err != nil {
			return nil, fmt.Errorf("transport: read payload: %w", err)
		}
	}

	raw := make([]byte, 0, len(header)+len(payload))
	raw = append(raw, header...)
	raw = append(raw, payload...)
	frame, err := proto.ParseFrame(raw)
	if err != nil {
		return nil, fmt.Errorf("transport: parse frame: %w", err)
	}
	return frame, nil
}

// WriteFrame encodes frame and writes it to the stream in a single Write
// call, preserving the frame as the unit of delivery.
func (c *Conn) WriteFrame(frame *proto.Frame) error {
	if _, err := c.stream.Write(frame.Encode()); err != nil {
		return fmt.Errorf("transport: write frame: %w", err)
	}
	return nil
}

// Close closes the underlying stream.
func (c *Conn) Close() error {
	return c.stream.Close()
}
