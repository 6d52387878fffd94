package senderkey

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/opd-ai/lockframe/crypto"
	"github.com/sirupsen/logrus"
)

// EpochSecretLabel is the MLS exporter label the group wrapper uses to
// derive the sender-key seed at the start of every epoch.
const EpochSecretLabel = "lockframe sender keys v1"

// EncryptedMessage is the plaintext-adjacent structure the sender-key
// store produces and consumes; proto.EncryptedMessagePayload is its wire
// encoding.
type EncryptedMessage struct {
	Epoch       uint64
	SenderIndex uint32
	Generation  uint32
	Nonce       []byte
	Ciphertext  []byte
}

// Store holds every leaf's ratchet for one room epoch. It is rebuilt from
// scratch on every epoch transition (including the local member's own
// commits), seeded from the new epoch secret and the post-merge leaf
// index list.
type Store struct {
	mu       sync.Mutex
	epoch    uint64
	ownLeaf  uint32
	ratchets map[uint32]*ratchet
	logger   *logrus.Logger
}

// NewStore derives a fresh ratchet for every leaf index in leaves from
// epochSecret, seeding leaf i's chain key as DeriveSecret(epochSecret,
// EpochSecretLabel, leafIndexBytes(i), 32).
func NewStore(epoch uint64, epochSecret []byte, leaves []uint32, ownLeaf uint32, logger *logrus.Logger) (*Store, error) {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	s := &Store{
		epoch:    epoch,
		ownLeaf:  ownLeaf,
		ratchets: make(map[uint32]*ratchet, len(leaves)),
		logger:   logger,
	}
	for _, leaf := range leaves {
		var leafBytes [4]byte
		binary.BigEndian.PutUint32(leafBytes[:], leaf)
		seedBytes, err := crypto.DeriveSecret(epochSecret, EpochSecretLabel, leafBytes[:], 32)
		if err != nil {
			return nil, fmt.Errorf("seed ratchet for leaf %d: %w", leaf, err)
		}
		var seed [32]byte
		copy(seed[:], seedBytes)
		s.ratchets[leaf] = newRatchet(seed)
	}

	s.logger.WithFields(logrus.Fields{
		"epoch":    epoch,
		"own_leaf": ownLeaf,
		"leaves":   len(leaves),
	}).Debug("sender-key store rebuilt for epoch")

	return s, nil
}

// Encrypt seals plaintext with the store owner's own ratchet, advancing it.
func (s *Store) Encrypt(plaintext []byte, randomBytes func([]byte) error) (*EncryptedMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.ratchets[s.ownLeaf]
	if !ok {
		return nil, fmt.Errorf("no ratchet for own leaf %d", s.ownLeaf)
	}

	generation := r.generation
	msgKey, err := r.step()
	if err != nil {
		return nil, err
	}

	var random [NonceRandomSize]byte
	if err := randomBytes(random[:]); err != nil {
		return nil, fmt.Errorf("generate nonce randomness: %w", err)
	}
	nonce := buildNonce(random, generation)

	ciphertext, err := aeadSeal(msgKey, nonce, plaintext)
	if err != nil {
		return nil, err
	}

	return &EncryptedMessage{
		Epoch:       s.epoch,
		SenderIndex: s.ownLeaf,
		Generation:  generation,
		Nonce:       nonce,
		Ciphertext:  ciphertext,
	}, nil
}

// Decrypt opens a peer's EncryptedMessage, advancing that peer's ratchet
// forward as needed to reach the incoming generation.
func (s *Store) Decrypt(msg *EncryptedMessage) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.ratchets[msg.SenderIndex]
	if !ok {
		return nil, fmt.Errorf("no ratchet for sender leaf %d", msg.SenderIndex)
	}

	if msg.Generation < r.generation {
		return nil, ErrReplayOrOutOfOrder
	}
	jump := msg.Generation - r.generation
	if jump > MaxGenerationJump {
		return nil, fmt.Errorf("%w: jump of %d generations", ErrRatchetTooFarAhead, jump)
	}

	for r.generation < msg.Generation {
		if _, err := r.step(); err != nil {
			return nil, err
		}
	}
	msgKey, err := r.step()
	if err != nil {
		return nil, err
	}

	plaintext, err := aeadOpen(msgKey, msg.Nonce, msg.Ciphertext)
	if err != nil {
		s.logger.WithFields(logrus.Fields{
			"sender_index": msg.SenderIndex,
			"generation":   msg.Generation,
		}).Warn("sender-key decryption failed")
		return nil, err
	}
	return plaintext, nil
}

// Epoch returns the epoch this store was built for.
func (s *Store) Epoch() uint64 { return s.epoch }
