// Package env abstracts the time and randomness capabilities the rest of
// the module depends on: one small interface injected into every
// component that needs a clock or a source of randomness, rather than a
// package-level global. Production code uses SystemEnvironment; tests use
// FakeEnvironment to drive deterministic timeouts and reproducible
// property-test sequences.
package env
