package server

import "github.com/opd-ai/lockframe/session"

// Config holds the driver's tunables. SessionConfig is handed to every
// per-connection session.State this driver constructs.
type Config struct {
	// MaxConnections bounds live connections; ConnectionAccepted refuses
	// new sessions once this many are registered.
	MaxConnections int
	// KeyPackageCapacity bounds the KeyPackage registry.
	KeyPackageCapacity int
	// SyncLimitDefault bounds frames returned by a SyncRequest that does
	// not specify its own limit (limit == 0).
	SyncLimitDefault uint32
	SessionConfig    session.Config
}

// DefaultConfig matches the module's documented defaults.
func DefaultConfig() Config {
	return Config{
		MaxConnections:     10000,
		KeyPackageCapacity: 10000,
		SyncLimitDefault:   256,
		SessionConfig:      session.DefaultConfig(),
	}
}
