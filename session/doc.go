// Package session implements the connection-level state machine shared by
// client and server: handshake, heartbeats, idle detection, and close. It
// knows nothing about rooms, MLS, or message content — only Hello,
// HelloReply, Ping, Pong, and Goodbye, plus the tick-driven timeouts that
// tear a session down when its peer goes quiet.
//
// Both sides run the same machine in mirrored roles, selected by Role at
// construction. Every method returns the Actions its caller must carry
// out (send a frame, close the transport, log); the machine never
// performs I/O itself.
package session
