// Package server implements the driver that wires the client-facing
// protocol together into a runnable system: a ConnectionRegistry tracking
// live sessions, a one-time KeyPackage registry, and event dispatch over
// the session state machine, the room manager, and its sequencer. Like
// every other state machine in this module, Driver performs no I/O
// itself — ConnectionAccepted, FrameReceived, ConnectionClosed, and Tick
// all return Actions for the embedding runtime (the transport's accept
// and read loops) to carry out.
package server
