package roommanager

import (
	"errors"
	"fmt"
	"sync"

	"github.com/opd-ai/lockframe/env"
	"github.com/opd-ai/lockframe/proto"
	"github.com/opd-ai/lockframe/sequencer"
	"github.com/opd-ai/lockframe/storage"
	"github.com/sirupsen/logrus"
)

// ErrRoomNotFound is returned by ProcessFrame and HandleSyncRequest for a
// room this manager has no metadata for, whether it never existed or this
// process has not yet recovered it.
var ErrRoomNotFound = errors.New("roommanager: room not found")

// ErrRoomAlreadyExists is returned by CreateRoom for a roomID already
// tracked in memory.
var ErrRoomAlreadyExists = errors.New("roommanager: room already exists")

// RoomManager owns room lifecycle: creation, recovery after restart, frame
// processing (delegated to a sequencer.Sequencer), and the sync-request
// service. It never talks to a transport or connection registry; it only
// reports Actions for its caller, the server driver, to carry out.
type RoomManager struct {
	mu     sync.Mutex
	rooms  map[proto.RoomID]storage.RoomMetadata
	seq    *sequencer.Sequencer
	logger *logrus.Logger
}

// New creates an empty RoomManager.
func New(logger *logrus.Logger) *RoomManager {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &RoomManager{
		rooms:  make(map[proto.RoomID]storage.RoomMetadata),
		seq:    sequencer.New(logger),
		logger: logger,
	}
}

// CreateRoom persists metadata for a brand new room and begins tracking it
// in memory. It refuses a roomID already known to this manager.
func (m *RoomManager) CreateRoom(roomID proto.RoomID, creator uint64, environment env.Environment, store storage.Store) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.rooms[roomID]; ok {
		return ErrRoomAlreadyExists
	}

	meta := storage.RoomMetadata{Creator: creator, CreatedAtSecs: environment.WallClockSecs()}
	if err := store.SaveRoomMetadata(roomID, meta); err != nil {
		return fmt.Errorf("roommanager: save room metadata: %w", err)
	}
	m.rooms[roomID] = meta

	m.logger.WithFields(logrus.Fields{
		"room_id": roomID,
		"creator": creator,
	}).Info("room created")
	return nil
}

// RecoverRoom loads roomID's metadata from store and, if present, begins
// tracking it in memory and hydrates its sequencer cursor. Idempotent: a
// room already tracked is left untouched. Returns ErrRoomNotFound if store
// has no metadata for roomID.
func (m *RoomManager) RecoverRoom(roomID proto.RoomID, store storage.Store) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.rooms[roomID]; ok {
		return nil
	}

	meta, ok, err := store.LoadRoomMetadata(roomID)
	if err != nil {
		return fmt.Errorf("roommanager: load room metadata: %w", err)
	}
	if !ok {
		return ErrRoomNotFound
	}

	if err := m.seq.InitializeRoom(roomID, store); err != nil {
		return fmt.Errorf("roommanager: initialize sequencer: %w", err)
	}
	m.rooms[roomID] = meta
	return nil
}

// ProcessFrame refuses frame with ErrRoomNotFound if roomID is not known to
// this manager, otherwise delegates to its sequencer and maps the result to
// room-manager Actions.
func (m *RoomManager) ProcessFrame(frame *proto.Frame, roomID proto.RoomID, store storage.Store) ([]Action, error) {
	m.mu.Lock()
	_, known := m.rooms[roomID]
	m.mu.Unlock()
	if !known {
		return nil, ErrRoomNotFound
	}

	seqActions, err := m.seq.ProcessFrame(frame, roomID, store)
	if err != nil {
		return nil, fmt.Errorf("roommanager: sequence frame: %w", err)
	}

	actions := make([]Action, 0, len(seqActions))
	for _, a := range seqActions {
		switch a.Kind {
		case sequencer.ActionAcceptFrame:
			// Acceptance carries no work of its own; the following
			// ActionStoreFrame and ActionBroadcastToRoom do.
			continue
		case sequencer.ActionStoreFrame:
			if err := store.AppendFrame(a.RoomID, a.LogIndex, a.Frame.Encode()); err != nil {
				return nil, fmt.Errorf("roommanager: persist frame: %w", err)
			}
			actions = append(actions, Action{
				Kind:     ActionPersistFrame,
				RoomID:   a.RoomID,
				LogIndex: a.LogIndex,
				Frame:    a.Frame,
			})
		case sequencer.ActionBroadcastToRoom:
			actions = append(actions, Action{
				Kind:          ActionBroadcast,
				RoomID:        a.RoomID,
				LogIndex:      a.LogIndex,
				Frame:         a.Frame,
				ExcludeSender: false,
			})
		case sequencer.ActionReject:
			actions = append(actions, Action{
				Kind:   ActionReject,
				RoomID: a.RoomID,
				Frame:  a.Frame,
				Reason: a.Reason,
			})
		}
	}
	return actions, nil
}

// ClearRoomSequencer drops roomID's in-memory sequencer cursor, forcing
// the next ProcessFrame call to rehydrate it from storage. The driver
// calls this after a storage Conflict error surfaces from ProcessFrame.
func (m *RoomManager) ClearRoomSequencer(roomID proto.RoomID) {
	m.seq.ClearRoom(roomID)
}

// HandleSyncRequest loads up to limit frames for roomID starting at
// fromLogIndex and builds the SendSyncResponse action answering it.
func (m *RoomManager) HandleSyncRequest(roomID proto.RoomID, senderID uint64, fromLogIndex uint64, limit uint32, store storage.Store) (Action, error) {
	m.mu.Lock()
	_, known := m.rooms[roomID]
	m.mu.Unlock()
	if !known {
		return Action{}, ErrRoomNotFound
	}

	frames, err := store.LoadFrames(roomID, fromLogIndex, limit)
	if err != nil {
		return Action{}, fmt.Errorf("roommanager: load frames: %w", err)
	}

	latest, ok, err := store.LatestLogIndex(roomID)
	if err != nil {
		return Action{}, fmt.Errorf("roommanager: load latest log index: %w", err)
	}

	lastLoaded := fromLogIndex
	if len(frames) > 0 {
		lastLoaded = fromLogIndex + uint64(len(frames)) - 1
	}
	hasMore := ok && latest > lastLoaded

	resp := &proto.SyncResponsePayload{
		Frames:      frames,
		HasMore:     hasMore,
		ServerEpoch: latest,
	}

	m.logger.WithFields(logrus.Fields{
		"room_id":        roomID,
		"sender_id":      senderID,
		"from_log_index": fromLogIndex,
		"returned":       len(frames),
		"has_more":       hasMore,
	}).Debug("sync request handled")

	return Action{
		Kind:         ActionSendSyncResponse,
		RoomID:       roomID,
		SyncResponse: resp,
	}, nil
}
