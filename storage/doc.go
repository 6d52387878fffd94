// Package storage defines the contract the sequencer, room manager, and
// server driver depend on for durable state: an append-only per-room frame
// log, room metadata, and cached GroupInfo. Two implementations exist:
// memory (for tests and ephemeral deployments) and boltstore (on-disk, via
// go.etcd.io/bbolt). Callers depend on the Store interface, never on a
// concrete implementation.
package storage
