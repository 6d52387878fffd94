// Package sequencer assigns total order to room-sequenced frames. It owns
// nothing durable itself: next_log_index is an in-memory cache lazily
// hydrated from storage.Store, and every accepted frame's actual
// persistence is delegated back to the caller via the returned Actions.
// Welcome frames bypass sequencing entirely, since they are routed
// point-to-point rather than appended to a room's log.
package sequencer
