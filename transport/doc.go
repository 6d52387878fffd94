// Package transport supplies the reliable, ordered, per-session duplex
// stream the core's wire protocol is carried over: a QUIC connection (TLS
// 1.3, a fixed ALPN identifier) with exactly one bidirectional stream per
// session. The core itself (client, server, session, roommanager, ...)
// never imports this package — it only produces and consumes whole
// frames, which Conn reads and writes over any Stream, so an embedder can
// carry them over another transport instead.
package transport
