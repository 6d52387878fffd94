// Package client implements the per-identity state machine that wraps one
// member's rooms: it owns the mls.Group and senderkey-backed encryption for
// every room this identity belongs to, plus the pending-join,
// pending-add, and pending-external-join bookkeeping a real client needs
// between issuing a request and seeing its answer. Like mls.Group and
// session.State, every exported method returns the Actions its caller must
// carry out; Client itself never touches a transport or storage directly.
package client
