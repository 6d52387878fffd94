package sequencer

import (
	"testing"

	"github.com/opd-ai/lockframe/proto"
	"github.com/opd-ai/lockframe/storage/memory"
	"github.com/stretchr/testify/require"
)

func testRoom() proto.RoomID {
	var r proto.RoomID
	r[0] = 4
	return r
}

func buildFrame(t *testing.T, opcode proto.Opcode, roomID proto.RoomID, payload []byte) *proto.Frame {
	t.Helper()
	frame, err := proto.NewFrame(opcode, roomID, 1, payload)
	require.NoError(t, err)
	return frame
}

func TestProcessFrameAssignsSequentialLogIndices(t *testing.T) {
	store := memory.New(nil)
	seq := New(nil)
	room := testRoom()

	frame1 := buildFrame(t, proto.OpAppMessage, room, []byte("a"))
	actions, err := seq.ProcessFrame(frame1, room, store)
	require.NoError(t, err)
	require.Len(t, actions, 3)
	require.Equal(t, ActionAcceptFrame, actions[0].Kind)
	require.Equal(t, uint64(0), actions[0].LogIndex)
	require.Equal(t, ActionStoreFrame, actions[1].Kind)
	require.Equal(t, ActionBroadcastToRoom, actions[2].Kind)

	frame2 := buildFrame(t, proto.OpAppMessage, room, []byte("b"))
	actions2, err := seq.ProcessFrame(frame2, room, store)
	require.NoError(t, err)
	require.Equal(t, uint64(1), actions2[0].LogIndex)
}

func TestProcessFrameHydratesFromStorage(t *testing.T) {
	store := memory.New(nil)
	room := testRoom()
	require.NoError(t, store.AppendFrame(room, 0, []byte("existing")))

	seq := New(nil)
	frame := buildFrame(t, proto.OpAppMessage, room, []byte("next"))
	actions, err := seq.ProcessFrame(frame, room, store)
	require.NoError(t, err)
	require.Equal(t, uint64(1), actions[0].LogIndex)
}

func TestProcessFrameWelcomeBypassesSequencing(t *testing.T) {
	store := memory.New(nil)
	seq := New(nil)
	room := testRoom()

	welcome := buildFrame(t, proto.OpWelcome, room, []byte("sealed"))
	actions, err := seq.ProcessFrame(welcome, room, store)
	require.NoError(t, err)
	require.Len(t, actions, 1)
	require.Equal(t, ActionBroadcastToRoom, actions[0].Kind)
}

func TestProcessFrameRejectsZeroRoomID(t *testing.T) {
	store := memory.New(nil)
	seq := New(nil)

	h := proto.NewHeader()
	h.SetOpcode(proto.OpWelcome)
	h.SetPayloadSize(0)
	frame := &proto.Frame{Header: h, Payload: nil}

	actions, err := seq.ProcessFrame(frame, proto.RoomID{}, store)
	require.NoError(t, err)
	require.Len(t, actions, 1)
	require.Equal(t, ActionReject, actions[0].Kind)
}

func TestClearRoomForcesRehydration(t *testing.T) {
	store := memory.New(nil)
	seq := New(nil)
	room := testRoom()

	frame := buildFrame(t, proto.OpAppMessage, room, []byte("a"))
	_, err := seq.ProcessFrame(frame, room, store)
	require.NoError(t, err)

	// The sequencer does not persist; the caller stores the accepted frame
	// at index 0, then something else appends index 1 out of band.
	require.NoError(t, store.AppendFrame(room, 0, []byte("a")))
	require.NoError(t, store.AppendFrame(room, 1, []byte("out of band")))

	seq.ClearRoom(room)

	next := buildFrame(t, proto.OpAppMessage, room, []byte("b"))
	actions, err := seq.ProcessFrame(next, room, store)
	require.NoError(t, err)
	require.Equal(t, uint64(2), actions[0].LogIndex)
}
