package mls

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"github.com/opd-ai/lockframe/proto"
)

// memberRecord is one leaf in the group's member list. Leaf index is the
// record's position in Members, not a stored field.
type memberRecord struct {
	MemberID  uint64   `cbor:"1,keyasint"`
	SigningPK [32]byte `cbor:"2,keyasint"`
	Active    bool     `cbor:"3,keyasint"`
}

// groupState is the full serializable state of a group: everything needed
// to reconstruct a Group on another member's machine, or to persist and
// reload locally. It doubles as the wire payload for Commit, Welcome (via
// welcomeSecrets, which embeds it), and GroupInfo.
type groupState struct {
	RoomID      proto.RoomID   `cbor:"1,keyasint"`
	Epoch       uint64         `cbor:"2,keyasint"`
	EpochSecret []byte         `cbor:"3,keyasint"`
	Members     []memberRecord `cbor:"4,keyasint"`
}

// treeHash is a deterministic digest of the member list, standing in for
// the MLS ratchet tree hash. Two members at the same (room, epoch) with
// identical member lists always compute identical tree hashes.
func (s groupState) treeHash() [32]byte {
	h := sha256.New()
	var epochBytes [8]byte
	binary.BigEndian.PutUint64(epochBytes[:], s.Epoch)
	h.Write(epochBytes[:])
	for _, m := range s.Members {
		var idBytes [8]byte
		binary.BigEndian.PutUint64(idBytes[:], m.MemberID)
		h.Write(idBytes[:])
		h.Write(m.SigningPK[:])
		if m.Active {
			h.Write([]byte{1})
		} else {
			h.Write([]byte{0})
		}
	}
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

func (s groupState) leafIndexOf(memberID uint64) (uint32, bool) {
	for i, m := range s.Members {
		if m.MemberID == memberID && m.Active {
			return uint32(i), true
		}
	}
	return 0, false
}

func (s groupState) activeLeaves() []uint32 {
	var leaves []uint32
	for i, m := range s.Members {
		if m.Active {
			leaves = append(leaves, uint32(i))
		}
	}
	return leaves
}

func (s groupState) marshal() ([]byte, error) {
	b, err := cbor.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("marshal group state: %w", err)
	}
	return b, nil
}

func unmarshalGroupState(data []byte) (groupState, error) {
	var s groupState
	if err := cbor.Unmarshal(data, &s); err != nil {
		return groupState{}, fmt.Errorf("unmarshal group state: %w", err)
	}
	return s, nil
}

// welcomeSecrets is the plaintext sealed to a joiner's init key.
type welcomeSecrets struct {
	State     groupState `cbor:"1,keyasint"`
	LeafIndex uint32     `cbor:"2,keyasint"`
}

func marshalWelcome(ws welcomeSecrets) ([]byte, error) {
	b, err := cbor.Marshal(ws)
	if err != nil {
		return nil, fmt.Errorf("marshal welcome secrets: %w", err)
	}
	return b, nil
}

func unmarshalInto(data []byte, ws *welcomeSecrets) error {
	if err := cbor.Unmarshal(data, ws); err != nil {
		return fmt.Errorf("unmarshal welcome secrets: %w", err)
	}
	return nil
}
