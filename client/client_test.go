package client

import (
	"testing"
	"time"

	"github.com/opd-ai/lockframe/crypto"
	"github.com/opd-ai/lockframe/env"
	"github.com/opd-ai/lockframe/mls"
	"github.com/opd-ai/lockframe/proto"
	"github.com/stretchr/testify/require"
)

func testRoomID(b byte) proto.RoomID {
	var r proto.RoomID
	r[0] = b
	return r
}

func testEnvironment() *env.FakeEnvironment {
	return env.NewFakeEnvironment(time.Unix(1_700_000_000, 0), 7)
}

func testSigningKey(t *testing.T) *crypto.SigningKeyPair {
	t.Helper()
	kp, err := crypto.GenerateSigningKeyPair()
	require.NoError(t, err)
	return kp
}

func findAction(actions []Action, kind ActionKind) (Action, bool) {
	for _, a := range actions {
		if a.Kind == kind {
			return a, true
		}
	}
	return Action{}, false
}

func filterActions(actions []Action, kind ActionKind) []Action {
	var out []Action
	for _, a := range actions {
		if a.Kind == kind {
			out = append(out, a)
		}
	}
	return out
}

func TestCreateRoomJoinsAtEpochZero(t *testing.T) {
	e := testEnvironment()
	c := New(1, testSigningKey(t), e, nil)
	room := testRoomID(1)

	actions, err := c.CreateRoom(room)
	require.NoError(t, err)

	joined, ok := findAction(actions, ActionRoomJoined)
	require.True(t, ok)
	require.Equal(t, uint64(0), joined.Epoch)

	_, ok = findAction(actions, ActionPersistRoom)
	require.True(t, ok)
}

func TestCreateRoomRefusesDuplicate(t *testing.T) {
	e := testEnvironment()
	c := New(1, testSigningKey(t), e, nil)
	room := testRoomID(1)

	_, err := c.CreateRoom(room)
	require.NoError(t, err)
	_, err = c.CreateRoom(room)
	require.ErrorIs(t, err, ErrAlreadyMember)
}

// addMemberViaKeyPackage drives the full AddMembers -> Welcome handshake
// between two already-constructed clients, returning bob's resulting
// RoomJoined action.
func addMemberViaKeyPackage(t *testing.T, alice, bob *Client, room proto.RoomID) Action {
	t.Helper()

	bobActions, err := bob.PublishKeyPackage()
	require.NoError(t, err)
	sendAction, ok := findAction(bobActions, ActionSend)
	require.True(t, ok)

	var publish proto.KeyPackagePublishPayload
	require.NoError(t, proto.DecodePayload(sendAction.Frame.Payload, &publish))

	aliceActions, err := alice.AddMembers(room, [][]byte{publish.KeyPackageBytes})
	require.NoError(t, err)

	sendActions := filterActions(aliceActions, ActionSend)
	require.Len(t, sendActions, 2)

	var commitFrame, welcomeFrame *proto.Frame
	for _, a := range sendActions {
		switch a.Frame.Header.Opcode() {
		case proto.OpCommit:
			commitFrame = a.Frame
		case proto.OpWelcome:
			welcomeFrame = a.Frame
		}
	}
	require.NotNil(t, commitFrame)
	require.NotNil(t, welcomeFrame)

	bobJoinActions, err := bob.FrameReceived(welcomeFrame)
	require.NoError(t, err)
	joined, ok := findAction(bobJoinActions, ActionRoomJoined)
	require.True(t, ok)

	// Alice's own commit echoes back through the room log.
	_, err = alice.FrameReceived(commitFrame)
	require.NoError(t, err)

	return joined
}

func TestAddMemberThenWelcomeJoinsBob(t *testing.T) {
	e := testEnvironment()
	alice := New(1, testSigningKey(t), e, nil)
	bob := New(2, testSigningKey(t), e, nil)
	room := testRoomID(5)

	_, err := alice.CreateRoom(room)
	require.NoError(t, err)

	joined := addMemberViaKeyPackage(t, alice, bob, room)
	require.Equal(t, uint64(1), joined.Epoch)

	aliceEpoch, ok := alice.RoomEpoch(room)
	require.True(t, ok)
	require.Equal(t, uint64(1), aliceEpoch)
}

func TestSendMessageRoundTrip(t *testing.T) {
	e := testEnvironment()
	alice := New(1, testSigningKey(t), e, nil)
	bob := New(2, testSigningKey(t), e, nil)
	room := testRoomID(6)

	_, err := alice.CreateRoom(room)
	require.NoError(t, err)
	addMemberViaKeyPackage(t, alice, bob, room)

	actions, err := alice.SendMessage(room, []byte("hello bob"))
	require.NoError(t, err)
	sendAction, ok := findAction(actions, ActionSend)
	require.True(t, ok)

	bobActions, err := bob.FrameReceived(sendAction.Frame)
	require.NoError(t, err)
	deliver, ok := findAction(bobActions, ActionDeliverMessage)
	require.True(t, ok)
	require.Equal(t, "hello bob", string(deliver.Plaintext))
	require.Equal(t, uint64(1), deliver.SenderID)
}

func TestSendMessageEchoIsDroppedByOwnSender(t *testing.T) {
	e := testEnvironment()
	alice := New(1, testSigningKey(t), e, nil)
	room := testRoomID(7)
	_, err := alice.CreateRoom(room)
	require.NoError(t, err)

	actions, err := alice.SendMessage(room, []byte("solo"))
	require.NoError(t, err)
	sendAction, _ := findAction(actions, ActionSend)

	echoActions, err := alice.FrameReceived(sendAction.Frame)
	require.NoError(t, err)
	require.Empty(t, echoActions)
}

func TestSendMessageRequiresMembership(t *testing.T) {
	e := testEnvironment()
	c := New(1, testSigningKey(t), e, nil)
	_, err := c.SendMessage(testRoomID(9), []byte("x"))
	require.ErrorIs(t, err, ErrNotMember)
}

func TestLeaveRoomRemovesStateAndBroadcastsCommit(t *testing.T) {
	e := testEnvironment()
	alice := New(1, testSigningKey(t), e, nil)
	bob := New(2, testSigningKey(t), e, nil)
	room := testRoomID(8)
	_, err := alice.CreateRoom(room)
	require.NoError(t, err)
	addMemberViaKeyPackage(t, alice, bob, room)

	actions, err := bob.LeaveRoom(room)
	require.NoError(t, err)
	_, ok := findAction(actions, ActionRoomRemoved)
	require.True(t, ok)
	sendAction, ok := findAction(actions, ActionSend)
	require.True(t, ok)
	require.Equal(t, proto.OpCommit, sendAction.Frame.Header.Opcode())

	_, stillMember := bob.RoomEpoch(room)
	require.False(t, stillMember)

	// Alice applies Bob's leave commit and stays a member at the next epoch.
	aliceActions, err := alice.FrameReceived(sendAction.Frame)
	require.NoError(t, err)
	_, removed := findAction(aliceActions, ActionRoomRemoved)
	require.False(t, removed)
	aliceEpoch, ok := alice.RoomEpoch(room)
	require.True(t, ok)
	require.Equal(t, uint64(2), aliceEpoch)
}

func TestLeaveRoomRequiresMembership(t *testing.T) {
	e := testEnvironment()
	c := New(1, testSigningKey(t), e, nil)
	_, err := c.LeaveRoom(testRoomID(9))
	require.ErrorIs(t, err, ErrNotMember)
}

func TestExternalJoinThenGroupInfo(t *testing.T) {
	e := testEnvironment()
	alice := New(1, testSigningKey(t), e, nil)
	carol := New(3, testSigningKey(t), e, nil)
	room := testRoomID(10)
	_, err := alice.CreateRoom(room)
	require.NoError(t, err)

	joinActions, err := carol.ExternalJoin(room)
	require.NoError(t, err)
	reqAction, ok := findAction(joinActions, ActionSend)
	require.True(t, ok)
	require.Equal(t, proto.OpGroupInfoRequest, reqAction.Frame.Header.Opcode())

	aliceRoom, ok := alice.rooms[room]
	require.True(t, ok)
	groupInfoBytes, err := aliceRoom.Group.ExportGroupInfo()
	require.NoError(t, err)

	var gi proto.GroupInfoPayload
	require.NoError(t, proto.DecodePayload(groupInfoBytes, &gi))
	giFrame, err := proto.NewFrame(proto.OpGroupInfo, room, alice.MemberID(), groupInfoBytes)
	require.NoError(t, err)

	carolActions, err := carol.FrameReceived(giFrame)
	require.NoError(t, err)
	joined, ok := findAction(carolActions, ActionRoomJoined)
	require.True(t, ok)
	require.Equal(t, uint64(1), joined.Epoch)

	extCommit, ok := findAction(carolActions, ActionSend)
	require.True(t, ok)
	require.Equal(t, proto.OpExternalCommit, extCommit.Frame.Header.Opcode())

	_, err = alice.FrameReceived(extCommit.Frame)
	require.NoError(t, err)
	aliceEpoch, ok := alice.RoomEpoch(room)
	require.True(t, ok)
	require.Equal(t, uint64(1), aliceEpoch)
}

func TestGroupInfoWithoutPendingJoinIsRejected(t *testing.T) {
	e := testEnvironment()
	alice := New(1, testSigningKey(t), e, nil)
	room := testRoomID(11)
	_, err := alice.CreateRoom(room)
	require.NoError(t, err)

	groupInfoBytes, err := alice.rooms[room].Group.ExportGroupInfo()
	require.NoError(t, err)
	frame, err := proto.NewFrame(proto.OpGroupInfo, room, alice.MemberID(), groupInfoBytes)
	require.NoError(t, err)

	carol := New(3, testSigningKey(t), e, nil)
	_, err = carol.FrameReceived(frame)
	require.ErrorIs(t, err, ErrNoPendingExternalJoin)
}

func TestFetchAndAddMemberCompletesOnKeyPackageFetchResponse(t *testing.T) {
	e := testEnvironment()
	alice := New(1, testSigningKey(t), e, nil)
	room := testRoomID(12)
	_, err := alice.CreateRoom(room)
	require.NoError(t, err)

	fetchActions, err := alice.FetchAndAddMember(room, 2)
	require.NoError(t, err)
	fetchFrame, ok := findAction(fetchActions, ActionSend)
	require.True(t, ok)
	require.Equal(t, proto.OpKeyPackageFetch, fetchFrame.Frame.Header.Opcode())

	bobKP, _, _, err := mls.GenerateKeyPackage(2, testSigningKey(t))
	require.NoError(t, err)
	respPayload, err := proto.EncodePayload(proto.KeyPackageFetchPayload{UserID: 2, KeyPackageBytes: bobKP})
	require.NoError(t, err)
	respFrame, err := proto.NewFrame(proto.OpKeyPackageFetch, room, 0, respPayload)
	require.NoError(t, err)

	actions, err := alice.FrameReceived(respFrame)
	require.NoError(t, err)
	added, ok := findAction(actions, ActionMemberAdded)
	require.True(t, ok)
	require.Equal(t, uint64(2), added.MemberID)
}

func TestFetchAndAddMemberDropsPendingOnEmptyResponse(t *testing.T) {
	e := testEnvironment()
	alice := New(1, testSigningKey(t), e, nil)
	room := testRoomID(13)
	_, err := alice.CreateRoom(room)
	require.NoError(t, err)

	_, err = alice.FetchAndAddMember(room, 2)
	require.NoError(t, err)
	require.Len(t, alice.pendingAdds, 1)

	respPayload, err := proto.EncodePayload(proto.KeyPackageFetchPayload{UserID: 2})
	require.NoError(t, err)
	respFrame, err := proto.NewFrame(proto.OpKeyPackageFetch, room, 0, respPayload)
	require.NoError(t, err)

	actions, err := alice.FrameReceived(respFrame)
	require.NoError(t, err)
	require.Len(t, actions, 1)
	require.Equal(t, ActionLog, actions[0].Kind)
	require.Empty(t, alice.pendingAdds)
}

func TestTickExpiresPendingAdd(t *testing.T) {
	e := testEnvironment()
	alice := New(1, testSigningKey(t), e, nil)
	room := testRoomID(14)
	_, err := alice.CreateRoom(room)
	require.NoError(t, err)

	_, err = alice.FetchAndAddMember(room, 2)
	require.NoError(t, err)

	e.Advance(PendingAddTimeout + time.Second)
	actions := alice.Tick(e.Now())
	_, ok := findAction(actions, ActionLog)
	require.True(t, ok)
	require.Empty(t, alice.pendingAdds)
}

func TestTickExpiresPendingCommit(t *testing.T) {
	e := testEnvironment()
	alice := New(1, testSigningKey(t), e, nil)
	room := testRoomID(15)
	_, err := alice.CreateRoom(room)
	require.NoError(t, err)

	_, err = alice.AddMembers(room, nil)
	require.NoError(t, err)

	e.Advance(CommitTimeout + time.Second)
	actions := alice.Tick(e.Now())
	resync, ok := findAction(actions, ActionRequestSync)
	require.True(t, ok)
	require.Equal(t, room, resync.RoomID)
}
