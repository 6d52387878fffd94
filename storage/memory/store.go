// Package memory implements storage.Store entirely in process memory, for
// tests and ephemeral deployments. Nothing survives process exit.
package memory

import (
	"sync"

	"github.com/opd-ai/lockframe/proto"
	"github.com/opd-ai/lockframe/storage"
	"github.com/sirupsen/logrus"
)

type roomLog struct {
	frames [][]byte
}

// Store is an in-memory storage.Store, safe for concurrent use.
type Store struct {
	mu         sync.RWMutex
	logs       map[proto.RoomID]*roomLog
	metadata   map[proto.RoomID]storage.RoomMetadata
	groupInfo  map[proto.RoomID][]byte
	groupState map[proto.RoomID][]byte
	logger     *logrus.Logger
}

var _ storage.Store = (*Store)(nil)

// New creates an empty Store.
func New(logger *logrus.Logger) *Store {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Store{
		logs:       make(map[proto.RoomID]*roomLog),
		metadata:   make(map[proto.RoomID]storage.RoomMetadata),
		groupInfo:  make(map[proto.RoomID][]byte),
		groupState: make(map[proto.RoomID][]byte),
		logger:     logger,
	}
}

func (s *Store) LatestLogIndex(roomID proto.RoomID) (uint64, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	log, ok := s.logs[roomID]
	if !ok || len(log.frames) == 0 {
		return 0, false, nil
	}
	return uint64(len(log.frames) - 1), true, nil
}

func (s *Store) AppendFrame(roomID proto.RoomID, logIndex uint64, frame []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	log, ok := s.logs[roomID]
	if !ok {
		log = &roomLog{}
		s.logs[roomID] = log
	}
	expected := uint64(len(log.frames))
	if logIndex != expected {
		s.logger.WithFields(logrus.Fields{
			"room_id":  roomID,
			"expected": expected,
			"got":      logIndex,
		}).Warn("append conflict")
		return storage.NewConflictError(expected, logIndex)
	}

	stored := make([]byte, len(frame))
	copy(stored, frame)
	log.frames = append(log.frames, stored)
	return nil
}

func (s *Store) LoadFrames(roomID proto.RoomID, fromLogIndex uint64, limit uint32) ([][]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	log, ok := s.logs[roomID]
	if !ok || fromLogIndex >= uint64(len(log.frames)) {
		return nil, nil
	}
	end := fromLogIndex + uint64(limit)
	if end > uint64(len(log.frames)) || limit == 0 {
		end = uint64(len(log.frames))
	}
	out := make([][]byte, 0, end-fromLogIndex)
	for _, f := range log.frames[fromLogIndex:end] {
		cp := make([]byte, len(f))
		copy(cp, f)
		out = append(out, cp)
	}
	return out, nil
}

func (s *Store) SaveRoomMetadata(roomID proto.RoomID, meta storage.RoomMetadata) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metadata[roomID] = meta
	return nil
}

func (s *Store) LoadRoomMetadata(roomID proto.RoomID) (storage.RoomMetadata, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	meta, ok := s.metadata[roomID]
	return meta, ok, nil
}

func (s *Store) SaveGroupInfo(roomID proto.RoomID, groupInfo []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]byte, len(groupInfo))
	copy(cp, groupInfo)
	s.groupInfo[roomID] = cp
	return nil
}

func (s *Store) LoadGroupInfo(roomID proto.RoomID) ([]byte, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	info, ok := s.groupInfo[roomID]
	return info, ok, nil
}

func (s *Store) SaveGroupState(roomID proto.RoomID, state []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]byte, len(state))
	copy(cp, state)
	s.groupState[roomID] = cp
	return nil
}

func (s *Store) LoadGroupState(roomID proto.RoomID) ([]byte, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	state, ok := s.groupState[roomID]
	return state, ok, nil
}

func (s *Store) Close() error { return nil }
