package boltstore

import (
	"path/filepath"
	"testing"

	"github.com/opd-ai/lockframe/proto"
	"github.com/opd-ai/lockframe/storage"
	"github.com/stretchr/testify/require"
)

func testRoom() proto.RoomID {
	var r proto.RoomID
	r[0] = 9
	return r
}

func openTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "lockframe.db")
	s, err := Open(path, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestBoltAppendAndLoadFrames(t *testing.T) {
	s := openTestStore(t)
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

func TestBoltAppendFrameRejectsGap(t *testing.T) {
	s := openTestStore(t)
	room := testRoom()

	require.NoError(t, s.AppendFrame(room, 0, []byte("a")))
	err := s.AppendFrame(room, 5, []byte("c"))
	require.ErrorIs(t, err, storage.ErrConflict)
}

func TestBoltRoomMetadataRoundTrip(t *testing.T) {
	s := openTestStore(t)
	room := testRoom()

	require.NoError(t, s.SaveRoomMetadata(room, storage.RoomMetadata{Creator: 3, CreatedAtSecs: 500}))
	meta, ok, err := s.LoadRoomMetadata(room)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint64(3), meta.Creator)
	require.Equal(t, uint64(500), meta.CreatedAtSecs)
}

func TestBoltGroupInfoAndStateRoundTrip(t *testing.T) {
	s := openTestStore(t)
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

func TestBoltPersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lockframe.db")
	room := testRoom()

	s1, err := Open(path, nil)
	require.NoError(t, err)
	require.NoError(t, s1.AppendFrame(room, 0, []byte("a")))
	require.NoError(t, s1.Close())

	s2, err := Open(path, nil)
	require.NoError(t, err)
	defer s2.Close()

	idx, ok, err := s2.LatestLogIndex(room)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint64(0), idx)
}
