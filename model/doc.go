// Package model implements a reference oracle for this module's
// client-observable behavior — per-identity, per-room membership, epoch,
// and delivered-message order — and a harness that drives the real
// client/roommanager/server stack through the same event alphabet so the
// two can be asserted equivalent (SPEC_FULL.md §8 property 10, "oracle
// equivalence").
//
// Neither the oracle nor the harness is reachable from any other package;
// this is a test-support package, exercised entirely from its own _test.go
// files.
package model
