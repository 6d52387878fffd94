package transport

import (
	"context"
	"fmt"
	"time"

	quic "github.com/quic-go/quic-go"
	"github.com/sirupsen/logrus"
)

// DefaultConnectTimeout matches the module's documented "Transport
// connect: 5s default" timeout.
const DefaultConnectTimeout = 5 * time.Second

// Dialer opens outbound QUIC connections to a lockframe server.
type Dialer struct {
	mode       Mode
	serverName string
	logger     *logrus.Logger
}

// NewDialer builds a Dialer that verifies or skips verification of the
// server's certificate according to mode.
func NewDialer(mode Mode, serverName string, logger *logrus.Logger) *Dialer {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if mode == ModeInsecure {
		logger.WithField("component", "transport").Warn("dialing with certificate verification disabled")
	}
	return &Dialer{mode: mode, serverName: serverName, logger: logger}
}

// Dial connects to addr and opens the single bidirectional stream every
// lockframe session carries its frames over.
func (d *Dialer) Dial(ctx context.Context, addr string) (*Conn, error) {
	ctx, cancel := context.WithTimeout(ctx, DefaultConnectTimeout)
	defer cancel()

	qconn, err := quic.DialAddr(ctx, addr, DialerTLSConfig(d.mode, d.serverName), &quic.Config{})
	if err != nil {
		return nil, fmt.Errorf("transport: dial %s: %w", addr, err)
	}
	stream, err := qconn.OpenStreamSync(ctx)
	if err != nil {
		_ = qconn.CloseWithError(0, "stream setup failed")
		return nil, fmt.Errorf("transport: open stream: %w", err)
	}
	return NewConn(stream, qconn.RemoteAddr()), nil
}
