package transport

import (
	"crypto/tls"
	"fmt"
)

// Mode selects how a Dialer verifies the server's certificate. Verified is
// the only mode a production deployment should use; Insecure exists for
// local development against a self-signed certificate.
type Mode int

const (
	// ModeVerified validates the peer certificate against the system root
	// pool, exactly like any other TLS client.
	ModeVerified Mode = iota
	// ModeInsecure skips certificate verification entirely. NewDialer logs
	// a warning once when it builds a Dialer with it.
	ModeInsecure
)

// ListenerTLSConfig builds the server-side TLS config for Listen. cert must
// already be loaded (e.g. via tls.LoadX509KeyPair); the ALPN list is fixed
// to this module's single protocol identifier.
func ListenerTLSConfig(cert tls.Certificate) *tls.Config {
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		NextProtos:   []string{ALPN},
		MinVersion:   tls.VersionTLS13,
	}
}

// DialerTLSConfig builds the client-side TLS config for Dial, selecting
// certificate verification per mode.
func DialerTLSConfig(mode Mode, serverName string) *tls.Config {
	cfg := &tls.Config{
		NextProtos: []string{ALPN},
		MinVersion: tls.VersionTLS13,
		ServerName: serverName,
	}
	if mode == ModeInsecure {
		cfg.InsecureSkipVerify = true
	}
	return cfg
}

func (m Mode) String() string {
	switch m {
	case ModeVerified:
		return "verified"
	case ModeInsecure:
		return "insecure"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}
