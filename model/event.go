package model

import (
	"time"

	"github.com/opd-ai/lockframe/proto"
)

// EventKind enumerates the client-observable operations both the Oracle
// and the real-system Harness are driven through.
type EventKind int

const (
	// EventCreateRoom: Actor creates Room as its sole initial member.
	EventCreateRoom EventKind = iota
	// EventExternalJoin: Actor joins Room via a GroupInfo round trip,
	// without an invitation.
	EventExternalJoin
	// EventAddMember: Actor (an existing member) adds Target to Room.
	EventAddMember
	// EventRemoveMember: Actor (an existing member) removes Target from
	// Room.
	EventRemoveMember
	// EventSendMessage: Actor sends Message to every other current,
	// non-partitioned member of Room.
	EventSendMessage
	// EventLeaveRoom: Actor removes itself from Room.
	EventLeaveRoom
	// EventPartition: Actor stops receiving anything sent to any room it
	// belongs to, until a matching EventHealPartition.
	EventPartition
	// EventHealPartition: Actor resumes receiving, and catches up on
	// everything queued while partitioned.
	EventHealPartition
	// EventDisconnect: like EventPartition, but models a clean transport
	// drop (connection closed) rather than an in-flight network split;
	// this model treats the two identically for delivery-ordering
	// purposes, since both simply stop inbound delivery until undone.
	EventDisconnect
	// EventDeliverPending: Actor catches up on queued messages without
	// clearing its partitioned/disconnected status, modeling a sync pass
	// over an otherwise still-degraded link.
	EventDeliverPending
	// EventAdvanceTime: advances the shared clock by Duration. The Oracle
	// itself has no timeouts to expire; this event exists so the same
	// sequence can also drive the real Harness's Tick-based timeout
	// sweeps without the two event streams diverging.
	EventAdvanceTime
)

// Event is one step in a sequence driving both the Oracle and a Harness.
type Event struct {
	Kind     EventKind
	Room     proto.RoomID
	Actor    uint64
	Target   uint64
	Message  []byte
	Duration time.Duration
}
