// Package mls is a thin, opcode-producing group-membership engine. It is
// deliberately self-contained rather than a binding to a real RFC 9420
// implementation: no fetchable Go MLS library was available to depend on,
// so this package plays that role with Ed25519 credentials, X25519-sealed
// Welcomes, and HKDF-derived epoch secrets, in the same spirit as the one
// MLS-flavored reference implementation available to build from, which
// documents itself as a stand-in for a real MLS crate pending one that
// exposes the needed operations.
//
// The surface is intentionally narrow: Create, GenerateKeyPackage,
// JoinFromWelcome, JoinFromExternal, AddMembers, RemoveMembers,
// LeaveGroup, ProcessMessage, the Export* family, SignFrameHeader, and
// ValidateFrame. Swapping in a real MLS implementation later should only
// require rewriting this package; nothing above it should need to change.
//
// A known simplification: GroupInfo here carries the full exportable group
// state (including the current epoch secret) rather than the public-only
// snapshot a real MLS GroupInfo would contain, because this engine has no
// external-commit key schedule of its own to derive a fresh secret from. It
// is handed out exactly where the original protocol hands out GroupInfo
// (in response to GroupInfoRequest, to enable ExternalCommit) and is
// otherwise treated the same.
package mls
