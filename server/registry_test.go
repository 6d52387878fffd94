package server

import (
	"testing"

	"github.com/opd-ai/lockframe/proto"
	"github.com/stretchr/testify/require"
)

func newTestConnection(sessionID uint64) *Connection {
	return &Connection{SessionID: sessionID, Rooms: make(map[proto.RoomID]struct{})}
}

func TestRegistryRefusesDuplicateSessionID(t *testing.T) {
	r := NewConnectionRegistry()
	require.NoError(t, r.Register(newTestConnection(1)))
	require.ErrorIs(t, r.Register(newTestConnection(1)), ErrSessionAlreadyRegistered)
}

func TestRegistryRefusesDuplicateUserID(t *testing.T) {
	r := NewConnectionRegistry()
	userID := uint64(42)
	conn1 := newTestConnection(1)
	conn1.UserID = &userID
	require.NoError(t, r.Register(conn1))

	require.NoError(t, r.Register(newTestConnection(2)))
	require.ErrorIs(t, r.SetUserID(2, userID), ErrUserIDInUse)
}

func TestRegistrySetUserIDUnknownSession(t *testing.T) {
	r := NewConnectionRegistry()
	require.ErrorIs(t, r.SetUserID(99, 1), ErrSessionNotFound)
}

func TestRegistryUnregisterClearsReverseAndRooms(t *testing.T) {
	r := NewConnectionRegistry()
	userID := uint64(7)
	conn := newTestConnection(1)
	conn.UserID = &userID
	require.NoError(t, r.Register(conn))

	room := testRoomID(1)
	require.True(t, r.Subscribe(1, room))
	require.Equal(t, []uint64{1}, r.SubscribersOf(room))

	r.Unregister(1)
	_, ok := r.Get(1)
	require.False(t, ok)
	_, ok = r.BySessionOfUser(userID)
	require.False(t, ok)
	require.Empty(t, r.SubscribersOf(room))
}

func TestRegistrySubscribeUnknownSessionIsNoop(t *testing.T) {
	r := NewConnectionRegistry()
	require.False(t, r.Subscribe(123, testRoomID(1)))
}
