package server

import (
	"testing"
	"time"

	"github.com/opd-ai/lockframe/client"
	"github.com/opd-ai/lockframe/crypto"
	"github.com/opd-ai/lockframe/env"
	"github.com/opd-ai/lockframe/proto"
	"github.com/opd-ai/lockframe/storage"
	"github.com/opd-ai/lockframe/storage/memory"
	"github.com/stretchr/testify/require"
)

func testRoomID(b byte) proto.RoomID {
	var r proto.RoomID
	r[0] = b
	return r
}

func testEnvironment() *env.FakeEnvironment {
	return env.NewFakeEnvironment(time.Unix(1_700_000_000, 0), 11)
}

func testSigningKey(t *testing.T) *crypto.SigningKeyPair {
	t.Helper()
	kp, err := crypto.GenerateSigningKeyPair()
	require.NoError(t, err)
	return kp
}

func newTestDriver(t *testing.T) (*Driver, storage.Store) {
	t.Helper()
	store := memory.New(nil)
	d := New(store, testEnvironment(), DefaultConfig(), nil)
	return d, store
}

// harness feeds client ActionSend frames into the driver on behalf of a
// session, then fans the driver's response Actions back out to the
// sessions map exactly as a real transport layer would: ActionSendToSession
// goes to one client, ActionBroadcastToRoom goes to every subscriber except
// the excluded session, if any. routeClientActions returns every
// ActionDeliverMessage/ActionLog etc. produced along the way by the
// recipient clients, as one slice, for assertions.
type harness struct {
	t        *testing.T
	driver   *Driver
	sessions map[uint64]*client.Client // sessionID -> client
	registry *ConnectionRegistry
}

func (h *harness) deliverToServer(sessionID uint64, frame *proto.Frame) []Action {
	return h.driver.FrameReceived(sessionID, frame)
}

// routeClientActions walks a client's returned Actions, sending every
// ActionSend frame through the server and then delivering the server's
// response Actions to whichever client sessions they target, recursively,
// until no further frames are produced. It collects every non-ActionSend
// client action observed (across every recursive delivery) for the caller
// to assert against.
func (h *harness) routeClientActions(sessionID uint64, actions []client.Action) []client.Action {
	var collected []client.Action
	for _, a := range actions {
		if a.Kind != client.ActionSend {
			collected = append(collected, a)
			continue
		}
		serverActions := h.deliverToServer(sessionID, a.Frame)
		collected = append(collected, h.routeServerActions(serverActions)...)
	}
	return collected
}

func (h *harness) routeServerActions(serverActions []Action) []client.Action {
	var collected []client.Action
	for _, sa := range serverActions {
		switch sa.Kind {
		case ActionSendToSession:
			if sa.Frame == nil {
				continue
			}
			targetClient, ok := h.sessions[sa.SessionID]
			if !ok {
				continue
			}
			clientActions, err := targetClient.FrameReceived(sa.Frame)
			require.NoError(h.t, err)
			collected = append(collected, clientActions...)
			collected = append(collected, h.routeClientActions(sa.SessionID, clientActions)...)
		case ActionBroadcastToRoom:
			if sa.Frame == nil {
				continue
			}
			for _, subscriberID := range h.registry.SubscribersOf(sa.RoomID) {
				if sa.ExcludeSessionID != nil && subscriberID == *sa.ExcludeSessionID {
					continue
				}
				targetClient, ok := h.sessions[subscriberID]
				if !ok {
					continue
				}
				clientActions, err := targetClient.FrameReceived(sa.Frame)
				require.NoError(h.t, err)
				collected = append(collected, clientActions...)
				collected = append(collected, h.routeClientActions(subscriberID, clientActions)...)
			}
		}
	}
	return collected
}

func findClientAction(actions []client.Action, kind client.ActionKind) (client.Action, bool) {
	for _, a := range actions {
		if a.Kind == kind {
			return a, true
		}
	}
	return client.Action{}, false
}

// TestWelcomeAddEndToEnd exercises the Welcome-add path (§8 scenario
// "Welcome add") across client, roommanager, sequencer, storage and the
// driver together: Alice creates a room, Bob publishes a KeyPackage, Alice
// fetches it and adds him, and the resulting Commit/Welcome frames route
// through the driver so Bob ends up a member at epoch 1.
func TestWelcomeAddEndToEnd(t *testing.T) {
	d, _ := newTestDriver(t)
	room := testRoomID(1)

	alice := client.New(1, testSigningKey(t), testEnvironment(), nil)
	bob := client.New(2, testSigningKey(t), testEnvironment(), nil)

	h := &harness{t: t, driver: d, registry: d.registry, sessions: map[uint64]*client.Client{
		1: alice,
		2: bob,
	}}

	require.Nil(t, d.ConnectionAccepted(1))
	require.Nil(t, d.ConnectionAccepted(2))
	require.NoError(t, d.registry.SetUserID(1, alice.MemberID()))
	require.NoError(t, d.registry.SetUserID(2, bob.MemberID()))

	createActions, err := alice.CreateRoom(room)
	require.NoError(t, err)
	require.NoError(t, d.CreateRoom(1, room, alice.MemberID()))
	h.routeClientActions(1, createActions)

	epoch, ok := alice.RoomEpoch(room)
	require.True(t, ok)
	require.Equal(t, uint64(0), epoch)

	publishActions, err := bob.PublishKeyPackage()
	require.NoError(t, err)
	h.routeClientActions(2, publishActions)

	fetchActions, err := alice.FetchAndAddMember(room, bob.MemberID())
	require.NoError(t, err)
	collected := h.routeClientActions(1, fetchActions)

	memberAdded, ok := findClientAction(collected, client.ActionMemberAdded)
	require.True(t, ok, "expected alice to observe ActionMemberAdded")
	require.Equal(t, bob.MemberID(), memberAdded.MemberID)

	bobEpoch, ok := bob.RoomEpoch(room)
	require.True(t, ok, "bob should have joined the room via welcome")
	require.Equal(t, uint64(1), bobEpoch)

	aliceEpoch, ok := alice.RoomEpoch(room)
	require.True(t, ok)
	require.Equal(t, uint64(1), aliceEpoch)
}

// TestMessageFanoutExcludesSender confirms a room AppMessage reaches every
// other subscriber, and that its sender, who receives the broadcast too,
// never delivers its own message (§8 "echo suppression").
func TestMessageFanoutExcludesSender(t *testing.T) {
	d, _ := newTestDriver(t)
	room := testRoomID(2)

	alice := client.New(1, testSigningKey(t), testEnvironment(), nil)
	bob := client.New(2, testSigningKey(t), testEnvironment(), nil)
	h := &harness{t: t, driver: d, registry: d.registry, sessions: map[uint64]*client.Client{1: alice, 2: bob}}

	require.Nil(t, d.ConnectionAccepted(1))
	require.Nil(t, d.ConnectionAccepted(2))
	require.NoError(t, d.registry.SetUserID(1, alice.MemberID()))
	require.NoError(t, d.registry.SetUserID(2, bob.MemberID()))

	createActions, err := alice.CreateRoom(room)
	require.NoError(t, err)
	require.NoError(t, d.CreateRoom(1, room, alice.MemberID()))
	h.routeClientActions(1, createActions)

	publishActions, err := bob.PublishKeyPackage()
	require.NoError(t, err)
	h.routeClientActions(2, publishActions)

	fetchActions, err := alice.FetchAndAddMember(room, bob.MemberID())
	require.NoError(t, err)
	h.routeClientActions(1, fetchActions)
	require.True(t, func() bool { _, ok := bob.RoomEpoch(room); return ok }())

	sendActions, err := alice.SendMessage(room, []byte("hello bob"))
	require.NoError(t, err)
	collected := h.routeClientActions(1, sendActions)

	delivered, ok := findClientAction(collected, client.ActionDeliverMessage)
	require.True(t, ok, "bob should have received the message")
	require.Equal(t, []byte("hello bob"), delivered.Plaintext)
	require.Equal(t, alice.MemberID(), delivered.SenderID)

	// Alice herself must never see her own AppMessage delivered back.
	echoActions, err := alice.FrameReceived(sendActions[0].Frame)
	require.NoError(t, err)
	_, selfDelivered := findClientAction(echoActions, client.ActionDeliverMessage)
	require.False(t, selfDelivered, "sender should not self-deliver")
}

// TestKeyPackageFetchMissEmitsErrorAndEmptyResponse confirms a
// KeyPackageFetch for a user with nothing published returns both the
// spec-mandated empty-payload response and an ErrCodeKeyPackageNotFound
// Error frame (§4.8, §7 taxonomy code 7).
func TestKeyPackageFetchMissEmitsErrorAndEmptyResponse(t *testing.T) {
	d, _ := newTestDriver(t)
	room := testRoomID(3)
	require.Nil(t, d.ConnectionAccepted(1))

	payload, err := proto.EncodePayload(proto.KeyPackageFetchPayload{UserID: 99})
	require.NoError(t, err)
	frame, err := proto.NewFrame(proto.OpKeyPackageFetch, room, 1, payload)
	require.NoError(t, err)

	actions := d.FrameReceived(1, frame)
	require.Len(t, actions, 2)

	fetchResp := actions[0]
	require.Equal(t, ActionSendToSession, fetchResp.Kind)
	var resp proto.KeyPackageFetchPayload
	require.NoError(t, proto.DecodePayload(fetchResp.Frame.Payload, &resp))
	require.Empty(t, resp.KeyPackageBytes)

	errAction := actions[1]
	require.Equal(t, ActionSendToSession, errAction.Kind)
	var errPayload proto.ErrorPayload
	require.NoError(t, proto.DecodePayload(errAction.Frame.Payload, &errPayload))
	require.Equal(t, proto.ErrCodeKeyPackageNotFound, errPayload.Code)
}

// TestStorageConflictClearsSequencerCursor manufactures a drift between the
// room manager's in-memory sequencer cursor and storage's real next index
// (as would happen if something else appended to storage out of band) and
// confirms the driver reports ErrCodeStorageError with a retry hint and
// clears the cursor so the next frame rehydrates correctly (§8 "storage
// conflict recovery").
func TestStorageConflictClearsSequencerCursor(t *testing.T) {
	d, store := newTestDriver(t)
	room := testRoomID(4)
	alice := client.New(1, testSigningKey(t), testEnvironment(), nil)
	h := &harness{t: t, driver: d, registry: d.registry, sessions: map[uint64]*client.Client{1: alice}}

	require.Nil(t, d.ConnectionAccepted(1))
	require.NoError(t, d.registry.SetUserID(1, alice.MemberID()))

	createActions, err := alice.CreateRoom(room)
	require.NoError(t, err)
	require.NoError(t, d.CreateRoom(1, room, alice.MemberID()))
	h.routeClientActions(1, createActions)

	// First real message hydrates the sequencer's cursor to next=1 and
	// appends log index 0 to storage.
	sendActions, err := alice.SendMessage(room, []byte("first"))
	require.NoError(t, err)
	h.routeClientActions(1, sendActions)

	// Something else appends directly to storage at index 1, bypassing
	// the sequencer entirely, so storage's real next index becomes 2
	// while the room manager's cursor still believes it is 1.
	require.NoError(t, store.AppendFrame(room, 1, []byte("out-of-band")))

	sendActions2, err := alice.SendMessage(room, []byte("second"))
	require.NoError(t, err)
	require.Len(t, sendActions2, 1)

	serverActions := d.FrameReceived(1, sendActions2[0].Frame)
	require.Len(t, serverActions, 1)
	require.Equal(t, ActionSendToSession, serverActions[0].Kind)

	var errPayload proto.ErrorPayload
	require.NoError(t, proto.DecodePayload(serverActions[0].Frame.Payload, &errPayload))
	require.Equal(t, proto.ErrCodeStorageError, errPayload.Code)
	require.NotNil(t, errPayload.RetryAfter)

	// Retrying the same frame now succeeds: the failed attempt cleared the
	// cursor, so it rehydrates from storage's real state (next=2) and the
	// frame is persisted (logged) and broadcast.
	retryActions := d.FrameReceived(1, sendActions2[0].Frame)
	require.Len(t, retryActions, 2)
	require.Equal(t, ActionBroadcastToRoom, retryActions[1].Kind)
}

// TestConnectionClosedDropsRoomSubscription confirms Unregister via
// ConnectionClosed removes the session from every room it was subscribed
// to.
func TestConnectionClosedDropsRoomSubscription(t *testing.T) {
	d, _ := newTestDriver(t)
	room := testRoomID(5)
	alice := client.New(1, testSigningKey(t), testEnvironment(), nil)

	require.Nil(t, d.ConnectionAccepted(1))
	require.NoError(t, d.registry.SetUserID(1, alice.MemberID()))
	require.NoError(t, d.CreateRoom(1, room, alice.MemberID()))
	require.Contains(t, d.registry.SubscribersOf(room), uint64(1))

	closeActions := d.ConnectionClosed(1, "client disconnected")
	require.NotEmpty(t, closeActions)
	require.Empty(t, d.registry.SubscribersOf(room))
}

// TestConnectionAcceptedRefusesOverCapacity confirms ConnectionAccepted
// closes the connection once MaxConnections live sessions are registered.
func TestConnectionAcceptedRefusesOverCapacity(t *testing.T) {
	store := memory.New(nil)
	cfg := DefaultConfig()
	cfg.MaxConnections = 1
	d := New(store, testEnvironment(), cfg, nil)

	require.Nil(t, d.ConnectionAccepted(1))
	actions := d.ConnectionAccepted(2)
	require.Len(t, actions, 1)
	require.Equal(t, ActionCloseConnection, actions[0].Kind)
}
