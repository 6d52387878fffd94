package server

import (
	"errors"
	"sync"

	"github.com/opd-ai/lockframe/proto"
	"github.com/opd-ai/lockframe/session"
)

// ErrSessionAlreadyRegistered is returned by Register for a session id
// already tracked by this registry.
var ErrSessionAlreadyRegistered = errors.New("server: session already registered")

// ErrUserIDInUse is returned by Register or SetUserID when the requested
// user id already belongs to a different live session.
var ErrUserIDInUse = errors.New("server: user id already in use by another session")

// ErrSessionNotFound is returned by any registry lookup or mutation keyed
// by a session id this registry has no connection for.
var ErrSessionNotFound = errors.New("server: session not found")

// Connection is one live transport session tracked by the registry: its
// session state machine plus the set of rooms it is subscribed to.
type Connection struct {
	SessionID uint64
	UserID    *uint64
	Session   *session.State
	Rooms     map[proto.RoomID]struct{}
}

// ConnectionRegistry tracks every live session by id, a reverse index from
// authenticated user id to session id, and per-room subscriber sets. All
// three are mutated only together, under one lock, so the invariants in
// §4.8 hold: at most one live session per user id, and the forward/reverse
// indices never drift apart.
type ConnectionRegistry struct {
	mu      sync.Mutex
	forward map[uint64]*Connection
	reverse map[uint64]uint64 // userID -> sessionID
	rooms   map[proto.RoomID]map[uint64]struct{}
}

// NewConnectionRegistry creates an empty registry.
func NewConnectionRegistry() *ConnectionRegistry {
	return &ConnectionRegistry{
		forward: make(map[uint64]*Connection),
		reverse: make(map[uint64]uint64),
		rooms:   make(map[proto.RoomID]map[uint64]struct{}),
	}
}

// Register adds a brand-new connection. It refuses a duplicate session id
// and, if conn already carries a UserID, refuses one already bound to a
// different live session.
func (r *ConnectionRegistry) Register(conn *Connection) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.forward[conn.SessionID]; ok {
		return ErrSessionAlreadyRegistered
	}
	if conn.UserID != nil {
		if existing, ok := r.reverse[*conn.UserID]; ok && existing != conn.SessionID {
			return ErrUserIDInUse
		}
	}
	if conn.Rooms == nil {
		conn.Rooms = make(map[proto.RoomID]struct{})
	}
	r.forward[conn.SessionID] = conn
	if conn.UserID != nil {
		r.reverse[*conn.UserID] = conn.SessionID
	}
	return nil
}

// Unregister removes sessionID from the forward and reverse indices
// atomically and drops its room subscriptions.
func (r *ConnectionRegistry) Unregister(sessionID uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	conn, ok := r.forward[sessionID]
	if !ok {
		return
	}
	if conn.UserID != nil {
		if cur, ok := r.reverse[*conn.UserID]; ok && cur == sessionID {
			delete(r.reverse, *conn.UserID)
		}
	}
	for roomID := range conn.Rooms {
		if subs, ok := r.rooms[roomID]; ok {
			delete(subs, sessionID)
			if len(subs) == 0 {
				delete(r.rooms, roomID)
			}
		}
	}
	delete(r.forward, sessionID)
}

// Get returns the connection for sessionID.
func (r *ConnectionRegistry) Get(sessionID uint64) (*Connection, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	conn, ok := r.forward[sessionID]
	return conn, ok
}

// BySessionOfUser returns the live connection for userID, if any.
func (r *ConnectionRegistry) BySessionOfUser(userID uint64) (*Connection, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sessionID, ok := r.reverse[userID]
	if !ok {
		return nil, false
	}
	return r.forward[sessionID], true
}

// SetUserID authenticates sessionID as userID, refusing if userID already
// belongs to a different live session.
func (r *ConnectionRegistry) SetUserID(sessionID, userID uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	conn, ok := r.forward[sessionID]
	if !ok {
		return ErrSessionNotFound
	}
	if existing, ok := r.reverse[userID]; ok && existing != sessionID {
		return ErrUserIDInUse
	}
	conn.UserID = &userID
	r.reverse[userID] = sessionID
	return nil
}

// Subscribe adds sessionID to roomID's subscriber set. A no-op (returns
// false) if sessionID is not registered.
func (r *ConnectionRegistry) Subscribe(sessionID uint64, roomID proto.RoomID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	conn, ok := r.forward[sessionID]
	if !ok {
		return false
	}
	conn.Rooms[roomID] = struct{}{}
	if r.rooms[roomID] == nil {
		r.rooms[roomID] = make(map[uint64]struct{})
	}
	r.rooms[roomID][sessionID] = struct{}{}
	return true
}

// SubscribersOf returns every session id currently subscribed to roomID.
func (r *ConnectionRegistry) SubscribersOf(roomID proto.RoomID) []uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	subs := r.rooms[roomID]
	out := make([]uint64, 0, len(subs))
	for sessionID := range subs {
		out = append(out, sessionID)
	}
	return out
}

// Len returns the number of live connections.
func (r *ConnectionRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.forward)
}

// All returns every live connection's session id, for Tick sweeps.
func (r *ConnectionRegistry) All() []uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]uint64, 0, len(r.forward))
	for sessionID := range r.forward {
		out = append(out, sessionID)
	}
	return out
}
