package sequencer

import (
	"fmt"
	"math"
	"sync"

	"github.com/opd-ai/lockframe/limits"
	"github.com/opd-ai/lockframe/proto"
	"github.com/opd-ai/lockframe/storage"
	"github.com/sirupsen/logrus"
)

type roomState struct {
	nextLogIndex uint64
}

// Sequencer assigns monotonic log indices to room-sequenced frames,
// lazily hydrating its per-room cursor from storage.Store on first use.
type Sequencer struct {
	mu     sync.Mutex
	rooms  map[proto.RoomID]*roomState
	logger *logrus.Logger
}

// New creates an empty Sequencer.
func New(logger *logrus.Logger) *Sequencer {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Sequencer{
		rooms:  make(map[proto.RoomID]*roomState),
		logger: logger,
	}
}

// InitializeRoom hydrates roomID's cursor from store, if not already
// present in memory. Idempotent.
func (s *Sequencer) InitializeRoom(roomID proto.RoomID, store storage.Store) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.initializeRoomLocked(roomID, store)
}

func (s *Sequencer) initializeRoomLocked(roomID proto.RoomID, store storage.Store) error {
	if _, ok := s.rooms[roomID]; ok {
		return nil
	}
	latest, ok, err := store.LatestLogIndex(roomID)
	if err != nil {
		return fmt.Errorf("sequencer: load latest log index: %w", err)
	}
	next := uint64(0)
	if ok {
		next = latest + 1
	}
	s.rooms[roomID] = &roomState{nextLogIndex: next}
	return nil
}

// ClearRoom drops roomID's in-memory cursor, forcing the next ProcessFrame
// call to rehydrate from storage. The driver calls this after a storage
// Conflict error, since it means this Sequencer's cursor has drifted.
func (s *Sequencer) ClearRoom(roomID proto.RoomID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.rooms, roomID)
}

// ProcessFrame validates and, for room-sequenced opcodes, assigns a log
// index to frame, returning the Actions the caller must carry out.
func (s *Sequencer) ProcessFrame(frame *proto.Frame, roomID proto.RoomID, store storage.Store) ([]Action, error) {
	if err := validateStructure(frame); err != nil {
		return []Action{{Kind: ActionReject, RoomID: roomID, Frame: frame, Reason: err.Error()}}, nil
	}

	if frame.Header.Opcode() == proto.OpWelcome {
		return []Action{{Kind: ActionBroadcastToRoom, RoomID: roomID, Frame: frame}}, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.initializeRoomLocked(roomID, store); err != nil {
		return nil, err
	}
	rs := s.rooms[roomID]

	if rs.nextLogIndex == math.MaxUint64 {
		return []Action{{Kind: ActionReject, RoomID: roomID, Frame: frame, Reason: "log_index overflow"}}, nil
	}

	logIndex := rs.nextLogIndex
	stamped := frame.Header.Clone()
	stamped.SetLogIndex(logIndex)
	stampedFrame := &proto.Frame{Header: stamped, Payload: frame.Payload}

	rs.nextLogIndex++

	s.logger.WithFields(logrus.Fields{
		"room_id":   roomID,
		"log_index": logIndex,
		"opcode":    frame.Header.Opcode().String(),
	}).Debug("frame sequenced")

	return []Action{
		{Kind: ActionAcceptFrame, RoomID: roomID, LogIndex: logIndex, Frame: stampedFrame},
		{Kind: ActionStoreFrame, RoomID: roomID, LogIndex: logIndex, Frame: stampedFrame},
		{Kind: ActionBroadcastToRoom, RoomID: roomID, LogIndex: logIndex, Frame: stampedFrame},
	}, nil
}

func validateStructure(frame *proto.Frame) error {
	h := frame.Header
	if h.Magic() != proto.Magic {
		return fmt.Errorf("validation: bad magic")
	}
	if h.Version() != proto.CurrentVersion {
		return fmt.Errorf("validation: unsupported version %d", h.Version())
	}
	if uint32(len(frame.Payload)) != h.PayloadSize() {
		return fmt.Errorf("validation: payload_size mismatch")
	}
	if h.RoomID().IsZero() {
		return fmt.Errorf("validation: room_id is zero")
	}
	if h.Epoch() > limits.MaxEpoch {
		return fmt.Errorf("validation: epoch exceeds max")
	}
	return nil
}
