package model

import (
	"fmt"
	"time"

	"github.com/opd-ai/lockframe/client"
	"github.com/opd-ai/lockframe/crypto"
	"github.com/opd-ai/lockframe/env"
	"github.com/opd-ai/lockframe/proto"
	"github.com/opd-ai/lockframe/server"
	"github.com/opd-ai/lockframe/session"
	"github.com/opd-ai/lockframe/storage"
	"github.com/opd-ai/lockframe/storage/memory"
)

// actorState is everything the Harness tracks for one simulated identity.
type actorState struct {
	id            uint64
	client        *client.Client
	sessionID     uint64
	queuedFrames  []*proto.Frame // withheld while partitioned/disconnected
	partitioned   bool
	observedRooms map[proto.RoomID]*Observation
}

// Harness drives the real client/roommanager/server stack through the same
// Event alphabet as Oracle, routing frames between actors the way a real
// transport+driver deployment would: client Actions carrying a frame are
// delivered to the Driver, and the Driver's resulting Actions are fanned
// out to whichever client sessions they target, recursively, until
// quiescent.
type Harness struct {
	env    *env.FakeEnvironment
	driver *server.Driver
	store  storage.Store
	actors map[uint64]*actorState
}

// NewHarness builds an empty Harness backed by an in-memory store and a
// fake, deterministic clock.
func NewHarness() *Harness {
	e := env.NewFakeEnvironment(time.Unix(1_700_000_000, 0), 29)
	store := memory.New(nil)
	return &Harness{
		env:    e,
		driver: server.New(store, e, server.DefaultConfig(), nil),
		store:  store,
		actors: make(map[uint64]*actorState),
	}
}

// Connect registers actorID as a brand-new session, authenticated with a
// fresh signing key. Connecting an actorID that is already connected
// returns an error; Disconnect does not remove the actor, so each actorID
// can be connected once.
func (h *Harness) Connect(actorID uint64) error {
	if _, ok := h.actors[actorID]; ok {
		return fmt.Errorf("model: actor %d already connected", actorID)
	}
	signing, err := crypto.GenerateSigningKeyPair()
	if err != nil {
		return fmt.Errorf("model: generate signing key: %w", err)
	}
	as := &actorState{
		id:            actorID,
		client:        client.New(actorID, signing, h.env, nil),
		sessionID:     actorID,
		observedRooms: make(map[proto.RoomID]*Observation),
	}
	h.actors[actorID] = as

	if actions := h.driver.ConnectionAccepted(as.sessionID); len(actions) != 0 {
		return fmt.Errorf("model: connection refused for actor %d", actorID)
	}

	sess := session.NewClient(session.DefaultConfig(), h.env, nil)
	sessActions, err := sess.StartHandshake(actorID, nil, nil)
	if err != nil {
		return fmt.Errorf("model: start handshake: %w", err)
	}
	for _, a := range sessActions {
		if a.Kind != session.ActionSendFrame {
			continue
		}
		h.routeServerActions(h.driver.FrameReceived(as.sessionID, a.Frame))
	}
	return nil
}

func (h *Harness) actor(id uint64) (*actorState, error) {
	as, ok := h.actors[id]
	if !ok {
		return nil, fmt.Errorf("model: actor %d is not connected", id)
	}
	return as, nil
}

func (h *Harness) obs(id uint64, roomID proto.RoomID) *Observation {
	as := h.actors[id]
	o, ok := as.observedRooms[roomID]
	if !ok {
		o = &Observation{}
		as.observedRooms[roomID] = o
	}
	return o
}

// Apply advances the Harness's real-stack state by one Event.
func (h *Harness) Apply(e Event) error {
	as, err := h.actor(e.Actor)
	if err != nil {
		return err
	}

	switch e.Kind {
	case EventCreateRoom:
		actions, err := as.client.CreateRoom(e.Room)
		if err != nil {
			return fmt.Errorf("model: create room: %w", err)
		}
		if err := h.driver.CreateRoom(as.sessionID, e.Room, as.client.MemberID()); err != nil {
			return fmt.Errorf("model: driver create room: %w", err)
		}
		h.routeClientActions(e.Actor, actions)
		h.syncRoomEpochs(e.Room)

	case EventExternalJoin:
		actions, err := as.client.ExternalJoin(e.Room)
		if err != nil {
			return fmt.Errorf("model: external join: %w", err)
		}
		h.routeClientActions(e.Actor, actions)
		h.syncRoomEpochs(e.Room)

	case EventAddMember:
		targetActor, err := h.actor(e.Target)
		if err != nil {
			return err
		}
		publishActions, err := targetActor.client.PublishKeyPackage()
		if err != nil {
			return fmt.Errorf("model: publish key package: %w", err)
		}
		h.routeClientActions(e.Target, publishActions)

		fetchActions, err := as.client.FetchAndAddMember(e.Room, e.Target)
		if err != nil {
			return fmt.Errorf("model: fetch and add member: %w", err)
		}
		h.routeClientActions(e.Actor, fetchActions)
		h.syncRoomEpochs(e.Room)

	case EventRemoveMember:
		actions, err := as.client.RemoveMembers(e.Room, []uint64{e.Target})
		if err != nil {
			return fmt.Errorf("model: remove member: %w", err)
		}
		h.routeClientActions(e.Actor, actions)
		h.syncRoomEpochs(e.Room)

	case EventSendMessage:
		actions, err := as.client.SendMessage(e.Room, e.Message)
		if err != nil {
			return fmt.Errorf("model: send message: %w", err)
		}
		h.routeClientActions(e.Actor, actions)

	case EventLeaveRoom:
		actions, err := as.client.LeaveRoom(e.Room)
		if err != nil {
			return fmt.Errorf("model: leave room: %w", err)
		}
		h.routeClientActions(e.Actor, actions)
		h.syncRoomEpochs(e.Room)

	case EventPartition, EventDisconnect:
		as.partitioned = true

	case EventHealPartition:
		as.partitioned = false
		h.flush(as)

	case EventDeliverPending:
		h.flush(as)

	case EventAdvanceTime:
		for _, other := range h.actors {
			other.client.Tick(h.env.Now())
		}
		h.env.Advance(e.Duration)

	default:
		return fmt.Errorf("model: unknown event kind %d", e.Kind)
	}
	return nil
}

// syncRoomEpochs refreshes every connected actor's (partitioned ones
// included) recorded Observation for roomID against its client's authoritative
// RoomEpoch. Membership changes apply synchronously to the committer and
// are delivered synchronously to every reachable member by
// routeClientActions/routeServerActions above, so by the time the
// triggering event's Apply call returns, every affected client already
// reflects the new epoch; this only needs to copy that state into the
// Observation map the way Oracle's bumpEpochForMembers does.
func (h *Harness) syncRoomEpochs(roomID proto.RoomID) {
	for id, as := range h.actors {
		epoch, isMember := as.client.RoomEpoch(roomID)
		o := h.obs(id, roomID)
		o.IsMember = isMember
		if isMember {
			o.Epoch = epoch
		}
	}
}

func (h *Harness) flush(as *actorState) {
	frames := as.queuedFrames
	as.queuedFrames = nil
	for _, frame := range frames {
		h.deliverToActor(as, frame)
	}
}

func (h *Harness) deliverToActor(as *actorState, frame *proto.Frame) {
	if as.partitioned {
		as.queuedFrames = append(as.queuedFrames, frame)
		return
	}
	actions, err := as.client.FrameReceived(frame)
	if err != nil {
		return
	}
	h.recordObservations(as, actions)
	h.routeClientActions(as.id, actions)
}

func (h *Harness) recordObservations(as *actorState, actions []client.Action) {
	for _, a := range actions {
		switch a.Kind {
		case client.ActionDeliverMessage:
			o := h.obs(as.id, a.RoomID)
			o.Messages = append(o.Messages, ObservedMessage{Sender: a.SenderID, Plaintext: append([]byte{}, a.Plaintext...)})
		case client.ActionRoomJoined:
			o := h.obs(as.id, a.RoomID)
			o.IsMember = true
			o.Epoch = a.Epoch
		case client.ActionRoomRemoved:
			o := h.obs(as.id, a.RoomID)
			o.IsMember = false
		}
	}
}

func (h *Harness) routeClientActions(actorID uint64, actions []client.Action) {
	as := h.actors[actorID]
	h.recordObservations(as, actions)
	for _, a := range actions {
		if a.Kind != client.ActionSend {
			continue
		}
		h.routeServerActions(h.driver.FrameReceived(as.sessionID, a.Frame))
	}
}

func (h *Harness) routeServerActions(serverActions []server.Action) {
	for _, sa := range serverActions {
		switch sa.Kind {
		case server.ActionSendToSession:
			if sa.Frame == nil {
				continue
			}
			target := h.actorBySession(sa.SessionID)
			if target == nil {
				continue
			}
			h.deliverToActor(target, sa.Frame)
		case server.ActionBroadcastToRoom:
			if sa.Frame == nil {
				continue
			}
			for _, subscriberSession := range h.driver.RoomSubscribers(sa.RoomID) {
				if sa.ExcludeSessionID != nil && subscriberSession == *sa.ExcludeSessionID {
					continue
				}
				target := h.actorBySession(subscriberSession)
				if target == nil {
					continue
				}
				h.deliverToActor(target, sa.Frame)
			}
		}
	}
}

func (h *Harness) actorBySession(sessionID uint64) *actorState {
	for _, as := range h.actors {
		if as.sessionID == sessionID {
			return as
		}
	}
	return nil
}

// Observable returns actor's current recorded view of roomID, matching
// Oracle.Observable's contract.
func (h *Harness) Observable(actorID uint64, roomID proto.RoomID) (Observation, error) {
	as, err := h.actor(actorID)
	if err != nil {
		return Observation{}, err
	}
	o, ok := as.observedRooms[roomID]
	if !ok {
		return Observation{}, ErrNotObserved
	}
	return *o, nil
}
