// Package boltstore implements storage.Store on disk with
// go.etcd.io/bbolt: one file, four top-level buckets (frames, metadata,
// group info, group state), each keyed by room id with frames further
// keyed by an 8-byte big-endian log index so iteration order matches
// numeric order.
package boltstore

import (
	"encoding/binary"
	"fmt"

	"github.com/opd-ai/lockframe/proto"
	"github.com/opd-ai/lockframe/storage"
	"github.com/sirupsen/logrus"
	bolt "go.etcd.io/bbolt"
)

var (
	bucketFrames    = []byte("frames")
	bucketMetadata  = []byte("metadata")
	bucketGroupInfo = []byte("group_info")
	bucketGroupStat = []byte("group_state")
)

// Store is an on-disk storage.Store backed by a single bbolt database file.
type Store struct {
	db     *bolt.DB
	logger *logrus.Logger
}

var _ storage.Store = (*Store)(nil)

// Open opens (creating if needed) a bbolt database at path and ensures the
// top-level buckets exist.
func Open(path string, logger *logrus.Logger) (*Store, error) {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	db, err := bolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("boltstore: open %s: %w", path, err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{bucketFrames, bucketMetadata, bucketGroupInfo, bucketGroupStat} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("create bucket %s: %w", name, err)
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("boltstore: init buckets: %w", err)
	}

	logger.WithField("path", path).Info("opened bolt store")
	return &Store{db: db, logger: logger}, nil
}

func roomKey(roomID proto.RoomID) []byte {
	return roomID[:]
}

func frameKey(roomID proto.RoomID, logIndex uint64) []byte {
	key := make([]byte, 16+8)
	copy(key[:16], roomID[:])
	binary.BigEndian.PutUint64(key[16:], logIndex)
	return key
}

func (s *Store) LatestLogIndex(roomID proto.RoomID) (uint64, bool, error) {
	var idx uint64
	var found bool
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketFrames).Cursor()
		prefix := roomID[:]
		for k, _ := c.Seek(prefix); k != nil && hasPrefix(k, prefix); k, _ = c.Next() {
			idx = binary.BigEndian.Uint64(k[16:])
			found = true
		}
		return nil
	})
	if err != nil {
		return 0, false, fmt.Errorf("boltstore: latest log index: %w", err)
	}
	return idx, found, nil
}

func hasPrefix(k, prefix []byte) bool {
	if len(k) < len(prefix) {
		return false
	}
	for i := range prefix {
		if k[i] != prefix[i] {
			return false
		}
	}
	return true
}

func (s *Store) AppendFrame(roomID proto.RoomID, logIndex uint64, frame []byte) error {
	expected, ok, err := s.LatestLogIndex(roomID)
	if err != nil {
		return err
	}
	if ok {
		expected++
	} else {
		expected = 0
	}
	if logIndex != expected {
		s.logger.WithFields(logrus.Fields{
			"room_id":  roomID,
			"expected": expected,
			"got":      logIndex,
		}).Warn("append conflict")
		return storage.NewConflictError(expected, logIndex)
	}

	err = s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketFrames).Put(frameKey(roomID, logIndex), frame)
	})
	if err != nil {
		return fmt.Errorf("boltstore: append frame: %w", err)
	}
	return nil
}

func (s *Store) LoadFrames(roomID proto.RoomID, fromLogIndex uint64, limit uint32) ([][]byte, error) {
	var frames [][]byte
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketFrames).Cursor()
		start := frameKey(roomID, fromLogIndex)
		prefix := roomID[:]
		for k, v := c.Seek(start); k != nil && hasPrefix(k, prefix); k, v = c.Next() {
			cp := make([]byte, len(v))
			copy(cp, v)
			frames = append(frames, cp)
			if limit > 0 && uint32(len(frames)) >= limit {
				break
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("boltstore: load frames: %w", err)
	}
	return frames, nil
}

func (s *Store) SaveRoomMetadata(roomID proto.RoomID, meta storage.RoomMetadata) error {
	buf := make([]byte, 16)
	binary.BigEndian.PutUint64(buf[0:8], meta.Creator)
	binary.BigEndian.PutUint64(buf[8:16], meta.CreatedAtSecs)
	err := s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketMetadata).Put(roomKey(roomID), buf)
	})
	if err != nil {
		return fmt.Errorf("boltstore: save room metadata: %w", err)
	}
	return nil
}

func (s *Store) LoadRoomMetadata(roomID proto.RoomID) (storage.RoomMetadata, bool, error) {
	var meta storage.RoomMetadata
	var found bool
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketMetadata).Get(roomKey(roomID))
		if v == nil {
			return nil
		}
		if len(v) != 16 {
			return fmt.Errorf("corrupt room metadata record: %d bytes", len(v))
		}
		meta.Creator = binary.BigEndian.Uint64(v[0:8])
		meta.CreatedAtSecs = binary.BigEndian.Uint64(v[8:16])
		found = true
		return nil
	})
	if err != nil {
		return storage.RoomMetadata{}, false, fmt.Errorf("boltstore: load room metadata: %w", err)
	}
	return meta, found, nil
}

func (s *Store) SaveGroupInfo(roomID proto.RoomID, groupInfo []byte) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketGroupInfo).Put(roomKey(roomID), groupInfo)
	})
	if err != nil {
		return fmt.Errorf("boltstore: save group info: %w", err)
	}
	return nil
}

func (s *Store) LoadGroupInfo(roomID proto.RoomID) ([]byte, bool, error) {
	var out []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketGroupInfo).Get(roomKey(roomID))
		if v != nil {
			out = append([]byte{}, v...)
		}
		return nil
	})
	if err != nil {
		return nil, false, fmt.Errorf("boltstore: load group info: %w", err)
	}
	return out, out != nil, nil
}

func (s *Store) SaveGroupState(roomID proto.RoomID, state []byte) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketGroupStat).Put(roomKey(roomID), state)
	})
	if err != nil {
		return fmt.Errorf("boltstore: save group state: %w", err)
	}
	return nil
}

func (s *Store) LoadGroupState(roomID proto.RoomID) ([]byte, bool, error) {
	var out []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketGroupStat).Get(roomKey(roomID))
		if v != nil {
			out = append([]byte{}, v...)
		}
		return nil
	})
	if err != nil {
		return nil, false, fmt.Errorf("boltstore: load group state: %w", err)
	}
	return out, out != nil, nil
}

func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("boltstore: close: %w", err)
	}
	return nil
}
