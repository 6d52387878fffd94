// Package roommanager owns room lifecycle and wraps the sequencer with
// room-presence checks and the sync-request service. It holds an
// in-memory room_metadata cache alongside a sequencer.Sequencer; nothing
// here talks to a transport or a connection registry directly, it only
// produces Actions for its caller (the server driver) to carry out.
package roommanager
