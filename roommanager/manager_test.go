package roommanager

import (
	"testing"
	"time"

	"github.com/opd-ai/lockframe/env"
	"github.com/opd-ai/lockframe/proto"
	"github.com/opd-ai/lockframe/storage/memory"
	"github.com/stretchr/testify/require"
)

func testRoomID(n byte) proto.RoomID {
	var r proto.RoomID
	r[0] = n
	return r
}

func testEnv() *env.FakeEnvironment {
	return env.NewFakeEnvironment(time.Unix(1_700_000_000, 0), 1)
}

func TestCreateRoomPersistsMetadata(t *testing.T) {
	store := memory.New(nil)
	mgr := New(nil)
	room := testRoomID(1)

	require.NoError(t, mgr.CreateRoom(room, 42, testEnv(), store))

	meta, ok, err := store.LoadRoomMetadata(room)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint64(42), meta.Creator)
}

func TestCreateRoomRefusesDuplicate(t *testing.T) {
	store := memory.New(nil)
	mgr := New(nil)
	room := testRoomID(1)

	require.NoError(t, mgr.CreateRoom(room, 42, testEnv(), store))
	err := mgr.CreateRoom(room, 43, testEnv(), store)
	require.ErrorIs(t, err, ErrRoomAlreadyExists)
}

func TestProcessFrameRejectsUnknownRoom(t *testing.T) {
	store := memory.New(nil)
	mgr := New(nil)
	room := testRoomID(1)

	frame, err := proto.NewFrame(proto.OpAppMessage, room, 1, []byte("hi"))
	require.NoError(t, err)

	_, err = mgr.ProcessFrame(frame, room, store)
	require.ErrorIs(t, err, ErrRoomNotFound)
}

func TestProcessFrameMapsSequencerActions(t *testing.T) {
	store := memory.New(nil)
	mgr := New(nil)
	room := testRoomID(1)
	require.NoError(t, mgr.CreateRoom(room, 1, testEnv(), store))

	frame, err := proto.NewFrame(proto.OpAppMessage, room, 1, []byte("hi"))
	require.NoError(t, err)

	actions, err := mgr.ProcessFrame(frame, room, store)
	require.NoError(t, err)
	require.Len(t, actions, 2)
	require.Equal(t, ActionPersistFrame, actions[0].Kind)
	require.Equal(t, uint64(0), actions[0].LogIndex)
	require.Equal(t, ActionBroadcast, actions[1].Kind)
	require.False(t, actions[1].ExcludeSender)
}

func TestRecoverRoomRehydratesSequencer(t *testing.T) {
	store := memory.New(nil)
	room := testRoomID(1)

	mgr1 := New(nil)
	require.NoError(t, mgr1.CreateRoom(room, 1, testEnv(), store))
	frame, err := proto.NewFrame(proto.OpAppMessage, room, 1, []byte("a"))
	require.NoError(t, err)
	_, err = mgr1.ProcessFrame(frame, room, store)
	require.NoError(t, err)

	mgr2 := New(nil)
	require.NoError(t, mgr2.RecoverRoom(room, store))

	frame2, err := proto.NewFrame(proto.OpAppMessage, room, 1, []byte("b"))
	require.NoError(t, err)
	actions, err := mgr2.ProcessFrame(frame2, room, store)
	require.NoError(t, err)
	require.Equal(t, uint64(1), actions[0].LogIndex)
}

func TestRecoverRoomMissingMetadata(t *testing.T) {
	store := memory.New(nil)
	mgr := New(nil)
	err := mgr.RecoverRoom(testRoomID(9), store)
	require.ErrorIs(t, err, ErrRoomNotFound)
}

func TestHandleSyncRequestReturnsFramesAndHasMore(t *testing.T) {
	store := memory.New(nil)
	mgr := New(nil)
	room := testRoomID(1)
	require.NoError(t, mgr.CreateRoom(room, 1, testEnv(), store))

	for i := 0; i < 5; i++ {
		frame, err := proto.NewFrame(proto.OpAppMessage, room, 1, []byte{byte(i)})
		require.NoError(t, err)
		_, err = mgr.ProcessFrame(frame, room, store)
		require.NoError(t, err)
	}

	action, err := mgr.HandleSyncRequest(room, 1, 0, 3, store)
	require.NoError(t, err)
	require.Equal(t, ActionSendSyncResponse, action.Kind)
	require.Len(t, action.SyncResponse.Frames, 3)
	require.True(t, action.SyncResponse.HasMore)

	action2, err := mgr.HandleSyncRequest(room, 1, 3, 10, store)
	require.NoError(t, err)
	require.Len(t, action2.SyncResponse.Frames, 2)
	require.False(t, action2.SyncResponse.HasMore)
}

func TestHandleSyncRequestRejectsUnknownRoom(t *testing.T) {
	store := memory.New(nil)
	mgr := New(nil)
	_, err := mgr.HandleSyncRequest(testRoomID(9), 1, 0, 10, store)
	require.ErrorIs(t, err, ErrRoomNotFound)
}
