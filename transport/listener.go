package transport

import (
	"context"
	"crypto/tls"
	"fmt"

	quic "github.com/quic-go/quic-go"
	"github.com/sirupsen/logrus"
)

// QUICConfig holds the timeouts the module's concurrency model names for
// the transport layer (§5's "Transport connect" / "Transport idle" rows).
type QUICConfig struct {
	// IdleTimeout tears down a QUIC connection that has carried no traffic
	// for this long. Zero selects quic-go's own default.
	IdleTimeout int64 // seconds; 0 uses quic-go's default
}

// Listener accepts incoming QUIC connections and hands each one's single
// bidirectional stream back as a *Conn, one per accepted connection —
// mirroring the one-session-per-connection model the server driver
// expects from ConnectionAccepted.
type Listener struct {
	ql     *quic.Listener
	logger *logrus.Logger
}

// Listen starts a QUIC listener on addr with the given server certificate.
func Listen(addr string, cert tls.Certificate, logger *logrus.Logger) (*Listener, error) {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	ql, err := quic.ListenAddr(addr, ListenerTLSConfig(cert), &quic.Config{})
	if err != nil {
		return nil, fmt.Errorf("transport: listen %s: %w", addr, err)
	}
	logger.WithFields(logrus.Fields{
		"component": "transport",
		"addr":      ql.Addr().String(),
	}).Info("listening for QUIC connections")
	return &Listener{ql: ql, logger: logger}, nil
}

// Accept blocks until a new connection arrives, opens its session stream,
// and returns a Conn wrapping it. The caller (the server driver's I/O
// runtime) is responsible for running one per-connection read loop per
// accepted Conn.
func (l *Listener) Accept(ctx context.Context) (*Conn, error) {
	qconn, err := l.ql.Accept(ctx)
	if err != nil {
		return nil, fmt.Errorf("transport: accept: %w", err)
	}
	stream, err := qconn.AcceptStream(ctx)
	if err != nil {
		_ = qconn.CloseWithError(0, "stream setup failed")
		return nil, fmt.Errorf("transport: accept stream: %w", err)
	}
	return NewConn(stream, qconn.RemoteAddr()), nil
}

// Addr returns the listener's bound local address.
func (l *Listener) Addr() string { return l.ql.Addr().String() }

// Close stops accepting new connections.
func (l *Listener) Close() error { return l.ql.Close() }
