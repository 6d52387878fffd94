package model

import (
	"errors"
	"fmt"

	"github.com/opd-ai/lockframe/proto"
)

// ErrNotObserved is returned by Observable for an (actor, room) pair the
// Oracle never saw a CreateRoom/ExternalJoin/AddMember grant membership
// for.
var ErrNotObserved = errors.New("model: actor was never a member of room")

// ObservedMessage is one application message as seen by a single observer,
// in the order that observer received it.
type ObservedMessage struct {
	Sender    uint64
	Plaintext []byte
}

// Observation is one actor's observable view of one room: whether it is
// currently a member, the room's epoch as that actor last saw it, and the
// ordered sequence of messages it has received.
type Observation struct {
	IsMember bool
	Epoch    uint64
	Messages []ObservedMessage
}

type roomOracle struct {
	epoch   uint64
	members map[uint64]struct{}
}

// Oracle is a reference implementation of this module's client-observable
// semantics: plain maps and slices, no MLS, no wire frames, no storage. It
// exists purely to be compared against the real stack driven through the
// same Event sequence.
type Oracle struct {
	rooms        map[proto.RoomID]*roomOracle
	partitioned  map[uint64]bool
	pending      map[uint64]map[proto.RoomID][]ObservedMessage
	observations map[uint64]map[proto.RoomID]*Observation
}

// NewOracle creates an Oracle with no rooms and no members.
func NewOracle() *Oracle {
	return &Oracle{
		rooms:        make(map[proto.RoomID]*roomOracle),
		partitioned:  make(map[uint64]bool),
		pending:      make(map[uint64]map[proto.RoomID][]ObservedMessage),
		observations: make(map[uint64]map[proto.RoomID]*Observation),
	}
}

// Apply advances the Oracle's state by one Event.
func (o *Oracle) Apply(e Event) error {
	switch e.Kind {
	case EventCreateRoom:
		if _, ok := o.rooms[e.Room]; ok {
			return fmt.Errorf("model: room %s already exists", e.Room)
		}
		o.rooms[e.Room] = &roomOracle{epoch: 0, members: map[uint64]struct{}{e.Actor: {}}}
		o.setMembership(e.Actor, e.Room, true, 0)
		return nil

	case EventExternalJoin:
		ro, ok := o.rooms[e.Room]
		if !ok {
			return fmt.Errorf("model: external join into unknown room %s", e.Room)
		}
		ro.members[e.Actor] = struct{}{}
		ro.epoch++
		o.bumpEpochForMembers(e.Room, ro)
		o.setMembership(e.Actor, e.Room, true, ro.epoch)
		return nil

	case EventAddMember:
		ro, ok := o.rooms[e.Room]
		if !ok {
			return fmt.Errorf("model: add member into unknown room %s", e.Room)
		}
		ro.members[e.Target] = struct{}{}
		ro.epoch++
		o.bumpEpochForMembers(e.Room, ro)
		o.setMembership(e.Target, e.Room, true, ro.epoch)
		return nil

	case EventRemoveMember:
		ro, ok := o.rooms[e.Room]
		if !ok {
			return fmt.Errorf("model: remove member from unknown room %s", e.Room)
		}
		delete(ro.members, e.Target)
		ro.epoch++
		o.bumpEpochForMembers(e.Room, ro)
		o.observationFor(e.Target, e.Room).IsMember = false
		return nil

	case EventLeaveRoom:
		ro, ok := o.rooms[e.Room]
		if !ok {
			return fmt.Errorf("model: leave unknown room %s", e.Room)
		}
		delete(ro.members, e.Actor)
		ro.epoch++
		o.bumpEpochForMembers(e.Room, ro)
		o.observationFor(e.Actor, e.Room).IsMember = false
		return nil

	case EventSendMessage:
		ro, ok := o.rooms[e.Room]
		if !ok {
			return fmt.Errorf("model: send into unknown room %s", e.Room)
		}
		for member := range ro.members {
			if member == e.Actor {
				continue
			}
			msg := ObservedMessage{Sender: e.Actor, Plaintext: append([]byte{}, e.Message...)}
			if o.partitioned[member] {
				o.queue(member, e.Room, msg)
				continue
			}
			o.deliver(member, e.Room, msg)
		}
		return nil

	case EventPartition, EventDisconnect:
		o.partitioned[e.Actor] = true
		return nil

	case EventHealPartition:
		o.partitioned[e.Actor] = false
		o.flush(e.Actor)
		return nil

	case EventDeliverPending:
		o.flush(e.Actor)
		return nil

	case EventAdvanceTime:
		return nil

	default:
		return fmt.Errorf("model: unknown event kind %d", e.Kind)
	}
}

// bumpEpochForMembers refreshes every current member's last-known epoch to
// ro.epoch, mirroring how a real Commit updates every member's group state
// at once.
func (o *Oracle) bumpEpochForMembers(roomID proto.RoomID, ro *roomOracle) {
	for member := range ro.members {
		if obs := o.observationFor(member, roomID); obs != nil {
			obs.Epoch = ro.epoch
		}
	}
}

func (o *Oracle) setMembership(actor uint64, roomID proto.RoomID, isMember bool, epoch uint64) {
	obs := o.observationFor(actor, roomID)
	obs.IsMember = isMember
	obs.Epoch = epoch
}

func (o *Oracle) observationFor(actor uint64, roomID proto.RoomID) *Observation {
	rooms, ok := o.observations[actor]
	if !ok {
		rooms = make(map[proto.RoomID]*Observation)
		o.observations[actor] = rooms
	}
	obs, ok := rooms[roomID]
	if !ok {
		obs = &Observation{}
		rooms[roomID] = obs
	}
	return obs
}

func (o *Oracle) deliver(actor uint64, roomID proto.RoomID, msg ObservedMessage) {
	obs := o.observationFor(actor, roomID)
	obs.Messages = append(obs.Messages, msg)
}

func (o *Oracle) queue(actor uint64, roomID proto.RoomID, msg ObservedMessage) {
	rooms, ok := o.pending[actor]
	if !ok {
		rooms = make(map[proto.RoomID][]ObservedMessage)
		o.pending[actor] = rooms
	}
	rooms[roomID] = append(rooms[roomID], msg)
}

func (o *Oracle) flush(actor uint64) {
	rooms, ok := o.pending[actor]
	if !ok {
		return
	}
	for roomID, msgs := range rooms {
		for _, msg := range msgs {
			o.deliver(actor, roomID, msg)
		}
	}
	delete(o.pending, actor)
}

// Observable returns actor's current view of roomID.
func (o *Oracle) Observable(actor uint64, roomID proto.RoomID) (Observation, error) {
	rooms, ok := o.observations[actor]
	if !ok {
		return Observation{}, ErrNotObserved
	}
	obs, ok := rooms[roomID]
	if !ok {
		return Observation{}, ErrNotObserved
	}
	return *obs, nil
}
