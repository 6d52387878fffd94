package memory

import (
	"testing"

	"github.com/opd-ai/lockframe/proto"
	"github.com/opd-ai/lockframe/storage"
	"github.com/stretchr/testify/require"
)

func testRoom() proto.RoomID {
	var r proto.RoomID
	r[0] = 1
	return r
}

func TestAppendAndLoadFrames(t *testing.T) {
	s := New(nil)
	room := testRoom()

	require.NoError(t, s.AppendFrame(room, 0, []byte("a")))
	require.NoError(t, s.AppendFrame(room, 1, []byte("b")))

	idx, ok, err := s.LatestLogIndex(room)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint64(1), idx)

	frames, err := s.LoadFrames(room, 0, 0)
	require.NoError(t, err)
	require.Equal(t, [][]byte{[]byte("a"), []byte("b")}, frames)
}

func TestAppendFrameRejectsGap(t *testing.T) {
	s := New(nil)
	room := testRoom()

	require.NoError(t, s.AppendFrame(room, 0, []byte("a")))
	err := s.AppendFrame(room, 2, []byte("c"))
	require.ErrorIs(t, err, storage.ErrConflict)
}

func TestLatestLogIndexEmptyRoom(t *testing.T) {
	s := New(nil)
	_, ok, err := s.LatestLogIndex(testRoom())
	require.NoError(t, err)
	require.False(t, ok)
}

func TestLoadFramesRespectsLimit(t *testing.T) {
	s := New(nil)
	room := testRoom()
	for i := 0; i < 5; i++ {
		require.NoError(t, s.AppendFrame(room, uint64(i), []byte{byte(i)}))
	}

	frames, err := s.LoadFrames(room, 1, 2)
	require.NoError(t, err)
	require.Equal(t, [][]byte{{1}, {2}}, frames)
}

func TestRoomMetadataRoundTrip(t *testing.T) {
	s := New(nil)
	room := testRoom()

	_, ok, err := s.LoadRoomMetadata(room)
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, s.SaveRoomMetadata(room, storage.RoomMetadata{Creator: 7, CreatedAtSecs: 100}))
	meta, ok, err := s.LoadRoomMetadata(room)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint64(7), meta.Creator)
}

func TestGroupInfoAndGroupStateRoundTrip(t *testing.T) {
	s := New(nil)
	room := testRoom()

	require.NoError(t, s.SaveGroupInfo(room, []byte("info")))
	info, ok, err := s.LoadGroupInfo(room)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("info"), info)

	require.NoError(t, s.SaveGroupState(room, []byte("state")))
	state, ok, err := s.LoadGroupState(room)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("state"), state)
}
