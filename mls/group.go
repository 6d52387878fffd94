package mls

import (
	"fmt"
	"sync"
	"time"

	"github.com/opd-ai/lockframe/crypto"
	"github.com/opd-ai/lockframe/env"
	"github.com/opd-ai/lockframe/proto"
	"github.com/opd-ai/lockframe/senderkey"
	"github.com/sirupsen/logrus"
)

const (
	epochSecretSize        = 32
	labelEpochUpdateAdd    = "lockframe epoch update: add"
	labelEpochUpdateRemove = "lockframe epoch update: remove"
	labelEpochUpdateExtern = "lockframe epoch update: external commit"
)

// pendingCommit tracks a commit this member sent but has not yet seen
// echoed back through the room's log. Until it is confirmed (or beaten by
// a competing commit for the same epoch), the group's authoritative state
// does not change.
type pendingCommit struct {
	targetEpoch uint64
	newState    groupState
	sentAt      time.Time
}

// ValidationState is a read-only snapshot of a group's current epoch, tree
// hash, and signer keys, exported for components (the sequencer, the room
// manager) that need to sanity-check frames without holding a full Group.
type ValidationState struct {
	Epoch    uint64
	TreeHash [32]byte
	Signers  map[uint64][32]byte
}

// Group is one member's view of one room's MLS-like group state. All
// mutation happens through its exported methods, each of which returns the
// Actions its caller must carry out; Group itself never touches storage,
// the sequencer, or the network.
type Group struct {
	mu          sync.Mutex
	state       groupState
	ownMemberID uint64
	ownLeaf     uint32
	sigKey      *crypto.SigningKeyPair
	senderKeys  *senderkey.Store
	pending     *pendingCommit
	environment env.Environment
	logger      *logrus.Logger
}

// Create starts a brand-new single-member group at epoch 0.
func Create(roomID proto.RoomID, memberID uint64, signing *crypto.SigningKeyPair, environment env.Environment, logger *logrus.Logger) (*Group, []Action, error) {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	secret := make([]byte, epochSecretSize)
	if err := environment.RandomBytes(secret); err != nil {
		return nil, nil, fmt.Errorf("generate epoch secret: %w", err)
	}

	state := groupState{
		RoomID:      roomID,
		Epoch:       0,
		EpochSecret: secret,
		Members: []memberRecord{
			{MemberID: memberID, SigningPK: signing.Public, Active: true},
		},
	}

	store, err := senderkey.NewStore(state.Epoch, state.EpochSecret, state.activeLeaves(), 0, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("build sender-key store: %w", err)
	}

	g := &Group{
		state:       state,
		ownMemberID: memberID,
		ownLeaf:     0,
		sigKey:      signing,
		senderKeys:  store,
		environment: environment,
		logger:      logger,
	}

	logAct, err := g.logCommitAction(state)
	if err != nil {
		return nil, nil, err
	}
	infoAct, err := g.publishGroupInfoAction()
	if err != nil {
		return nil, nil, err
	}

	logger.WithFields(logrus.Fields{
		"room_id":   roomID,
		"member_id": memberID,
	}).Info("group created")

	return g, []Action{logAct, infoAct}, nil
}

// JoinFromWelcome builds a Group from a Welcome opened with pending's init
// key. sealed is the raw sealed bytes carried in a Welcome frame's
// MLSMessagePayload.MLSBytes: an ephemeral X25519 public key, a nonce, and
// a box-sealed ciphertext.
func JoinFromWelcome(sealed []byte, pending *PendingJoinState, environment env.Environment, logger *logrus.Logger) (*Group, error) {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if len(sealed) < 32+24 {
		return nil, fmt.Errorf("%w: sealed welcome too short", ErrWelcomeUnopenable)
	}
	var ephemeralPK [32]byte
	copy(ephemeralPK[:], sealed[0:32])
	var nonce crypto.Nonce
	copy(nonce[:], sealed[32:56])
	ciphertext := sealed[56:]

	plaintext, err := crypto.Decrypt(ciphertext, nonce, ephemeralPK, pending.InitSK)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrWelcomeUnopenable, err)
	}

	var ws welcomeSecrets
	if err := unmarshalInto(plaintext, &ws); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrWelcomeUnopenable, err)
	}

	store, err := senderkey.NewStore(ws.State.Epoch, ws.State.EpochSecret, ws.State.activeLeaves(), ws.LeafIndex, logger)
	if err != nil {
		return nil, fmt.Errorf("build sender-key store: %w", err)
	}

	signing := &crypto.SigningKeyPair{Public: ws.State.Members[ws.LeafIndex].SigningPK, Private: pending.SigningSK}

	g := &Group{
		state:       ws.State,
		ownMemberID: pending.MemberID,
		ownLeaf:     ws.LeafIndex,
		sigKey:      signing,
		senderKeys:  store,
		environment: environment,
		logger:      logger,
	}

	logger.WithFields(logrus.Fields{
		"room_id":   ws.State.RoomID,
		"member_id": pending.MemberID,
		"epoch":     ws.State.Epoch,
	}).Info("joined group from welcome")

	return g, nil
}

// JoinFromExternal joins memberID into the group described by groupInfo
// (this engine's GroupInfo is the full serialized group state) by issuing
// its own commit that adds itself as a new leaf.
func JoinFromExternal(groupInfo []byte, memberID uint64, signing *crypto.SigningKeyPair, environment env.Environment, logger *logrus.Logger) (*Group, []Action, error) {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	base, err := unmarshalGroupState(groupInfo)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrGroupInfoStale, err)
	}
	if _, active := base.leafIndexOf(memberID); active {
		return nil, nil, ErrAlreadyMember
	}

	newState := base
	newState.Epoch = base.Epoch + 1
	newState.Members = append(append([]memberRecord{}, base.Members...), memberRecord{
		MemberID:  memberID,
		SigningPK: signing.Public,
		Active:    true,
	})
	treeHash := newState.treeHash()
	secret, err := crypto.DeriveSecret(base.EpochSecret, labelEpochUpdateExtern, treeHash[:], epochSecretSize)
	if err != nil {
		return nil, nil, fmt.Errorf("derive epoch secret: %w", err)
	}
	newState.EpochSecret = secret
	ownLeaf := uint32(len(newState.Members) - 1)

	store, err := senderkey.NewStore(newState.Epoch, newState.EpochSecret, newState.activeLeaves(), ownLeaf, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("build sender-key store: %w", err)
	}

	g := &Group{
		state:       newState,
		ownMemberID: memberID,
		ownLeaf:     ownLeaf,
		sigKey:      signing,
		senderKeys:  store,
		environment: environment,
		logger:      logger,
	}

	logAct, err := g.logCommitAction(newState)
	if err != nil {
		return nil, nil, err
	}

	logger.WithFields(logrus.Fields{
		"room_id":   newState.RoomID,
		"member_id": memberID,
		"epoch":     newState.Epoch,
	}).Info("joined group via external commit")

	return g, []Action{logAct}, nil
}

// AddMembers commits a new epoch that adds each KeyPackage's member as an
// active leaf, and seals a Welcome to each of them.
func (g *Group) AddMembers(keyPackages [][]byte) ([]Action, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	type parsed struct {
		kp keyPackageData
	}
	var joiners []parsed
	for _, raw := range keyPackages {
		kp, err := parseKeyPackage(raw)
		if err != nil {
			return nil, fmt.Errorf("parse key package: %w", err)
		}
		if _, active := g.state.leafIndexOf(kp.MemberID); active {
			return nil, fmt.Errorf("%w: member %d", ErrAlreadyMember, kp.MemberID)
		}
		joiners = append(joiners, parsed{kp: kp})
	}

	newState := g.state
	newState.Epoch = g.state.Epoch + 1
	newState.Members = append([]memberRecord{}, g.state.Members...)
	firstNewLeaf := uint32(len(newState.Members))
	for _, j := range joiners {
		newState.Members = append(newState.Members, memberRecord{
			MemberID:  j.kp.MemberID,
			SigningPK: j.kp.SigningPK,
			Active:    true,
		})
	}

	treeHash := newState.treeHash()
	secret, err := crypto.DeriveSecret(g.state.EpochSecret, labelEpochUpdateAdd, treeHash[:], epochSecretSize)
	if err != nil {
		return nil, fmt.Errorf("derive epoch secret: %w", err)
	}
	newState.EpochSecret = secret

	g.pending = &pendingCommit{
		targetEpoch: newState.Epoch,
		newState:    newState,
		sentAt:      g.environment.Now(),
	}

	logAct, err := g.logCommitAction(newState)
	if err != nil {
		return nil, err
	}
	actions := []Action{logAct}

	for i, j := range joiners {
		leaf := firstNewLeaf + uint32(i)
		welcomeAct, err := g.sealWelcome(newState, leaf, j.kp)
		if err != nil {
			return nil, fmt.Errorf("seal welcome for member %d: %w", j.kp.MemberID, err)
		}
		actions = append(actions, welcomeAct)
	}

	return actions, nil
}

// RemoveMembers commits a new epoch that marks each memberID inactive.
func (g *Group) RemoveMembers(memberIDs []uint64) ([]Action, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.commitRemoval(memberIDs)
}

// LeaveGroup commits a new epoch that removes the local member.
func (g *Group) LeaveGroup() ([]Action, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.commitRemoval([]uint64{g.ownMemberID})
}

func (g *Group) commitRemoval(memberIDs []uint64) ([]Action, error) {
	newState := g.state
	newState.Epoch = g.state.Epoch + 1
	newState.Members = append([]memberRecord{}, g.state.Members...)

	for _, id := range memberIDs {
		idx, active := newState.leafIndexOf(id)
		if !active {
			return nil, fmt.Errorf("%w: member %d", ErrNotMember, id)
		}
		newState.Members[idx].Active = false
	}

	treeHash := newState.treeHash()
	secret, err := crypto.DeriveSecret(g.state.EpochSecret, labelEpochUpdateRemove, treeHash[:], epochSecretSize)
	if err != nil {
		return nil, fmt.Errorf("derive epoch secret: %w", err)
	}
	newState.EpochSecret = secret

	g.pending = &pendingCommit{
		targetEpoch: newState.Epoch,
		newState:    newState,
		sentAt:      g.environment.Now(),
	}

	logAct, err := g.logCommitAction(newState)
	if err != nil {
		return nil, err
	}
	return []Action{logAct}, nil
}

// ProcessMessage applies a room-sequenced frame the caller has already
// passed through ValidateFrame, returning the Actions it produces.
func (g *Group) ProcessMessage(frame *proto.Frame) ([]Action, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	switch frame.Header.Opcode() {
	case proto.OpCommit, proto.OpExternalCommit:
		return g.applyCommit(frame)
	case proto.OpAppMessage:
		return g.applyAppMessage(frame)
	default:
		return nil, fmt.Errorf("mls: unsupported opcode for ProcessMessage: %s", frame.Header.Opcode())
	}
}

func (g *Group) applyCommit(frame *proto.Frame) ([]Action, error) {
	var mlsMsg proto.MLSMessagePayload
	if err := proto.DecodePayload(frame.Payload, &mlsMsg); err != nil {
		return nil, fmt.Errorf("%w: decode commit payload: %v", ErrValidationFailed, err)
	}
	incoming, err := unmarshalGroupState(mlsMsg.MLSBytes)
	if err != nil {
		return nil, fmt.Errorf("%w: decode commit state: %v", ErrValidationFailed, err)
	}

	if incoming.Epoch <= g.state.Epoch {
		return nil, fmt.Errorf("%w: commit epoch %d, group at %d", ErrStaleEpoch, incoming.Epoch, g.state.Epoch)
	}
	if incoming.Epoch > g.state.Epoch+1 {
		return nil, fmt.Errorf("%w: commit epoch %d, group at %d", ErrFutureEpoch, incoming.Epoch, g.state.Epoch)
	}

	if g.pending != nil && g.pending.targetEpoch == incoming.Epoch {
		g.pending = nil
	}
	g.state = incoming

	leaf, isMember := g.state.leafIndexOf(g.ownMemberID)
	if !isMember {
		g.logger.WithFields(logrus.Fields{
			"room_id":   g.state.RoomID,
			"member_id": g.ownMemberID,
			"epoch":     g.state.Epoch,
		}).Info("removed from group")
		return []Action{removeGroupAction("removed by commit")}, nil
	}
	g.ownLeaf = leaf

	store, err := senderkey.NewStore(g.state.Epoch, g.state.EpochSecret, g.state.activeLeaves(), g.ownLeaf, g.logger)
	if err != nil {
		return nil, fmt.Errorf("rebuild sender-key store: %w", err)
	}
	g.senderKeys = store

	infoAct, err := g.publishGroupInfoAction()
	if err != nil {
		return nil, err
	}
	return []Action{infoAct}, nil
}

func (g *Group) applyAppMessage(frame *proto.Frame) ([]Action, error) {
	var enc proto.EncryptedMessagePayload
	if err := proto.DecodePayload(frame.Payload, &enc); err != nil {
		return nil, fmt.Errorf("%w: decode app message: %v", ErrValidationFailed, err)
	}
	if enc.Epoch != g.state.Epoch {
		return nil, fmt.Errorf("%w: message epoch %d, group at %d", ErrStaleEpoch, enc.Epoch, g.state.Epoch)
	}
	if int(enc.SenderIndex) >= len(g.state.Members) || g.state.Members[enc.SenderIndex].MemberID != frame.Header.SenderID() {
		return nil, fmt.Errorf("%w: frame sender %d does not match sender_index %d", ErrUnknownSender, frame.Header.SenderID(), enc.SenderIndex)
	}

	msg := &senderkey.EncryptedMessage{
		Epoch:       enc.Epoch,
		SenderIndex: enc.SenderIndex,
		Generation:  enc.Generation,
		Nonce:       enc.Nonce,
		Ciphertext:  enc.Ciphertext,
	}
	plaintext, err := g.senderKeys.Decrypt(msg)
	if err != nil {
		return nil, err
	}

	senderMemberID := g.state.Members[enc.SenderIndex].MemberID
	return []Action{deliverMessageAction(senderMemberID, plaintext)}, nil
}

// EncryptMessage seals plaintext with this member's sender-key ratchet and
// returns a ready-to-sign AppMessage frame. The caller still owns sequencing
// and must call SignFrameHeader (or ValidateFrame on the receive side).
func (g *Group) EncryptMessage(plaintext []byte) (*proto.Frame, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	enc, err := g.senderKeys.Encrypt(plaintext, g.environment.RandomBytes)
	if err != nil {
		return nil, fmt.Errorf("encrypt message: %w", err)
	}
	payload, err := proto.EncodePayload(proto.EncryptedMessagePayload{
		Epoch:       enc.Epoch,
		SenderIndex: enc.SenderIndex,
		Generation:  enc.Generation,
		Nonce:       enc.Nonce,
		Ciphertext:  enc.Ciphertext,
	})
	if err != nil {
		return nil, fmt.Errorf("encode app message payload: %w", err)
	}
	frame, err := proto.NewFrame(proto.OpAppMessage, g.state.RoomID, g.ownMemberID, payload)
	if err != nil {
		return nil, fmt.Errorf("build app message frame: %w", err)
	}
	if err := g.signFrameHeaderLocked(frame.Header); err != nil {
		return nil, err
	}
	return frame, nil
}

// RoomID returns the room this group governs.
func (g *Group) RoomID() proto.RoomID {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state.RoomID
}

// Epoch returns the group's current epoch.
func (g *Group) Epoch() uint64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state.Epoch
}

// OwnMemberID returns this Group's local member id.
func (g *Group) OwnMemberID() uint64 {
	return g.ownMemberID
}

// HasPendingCommit reports whether a commit this member sent is still
// awaiting confirmation through the room's log.
func (g *Group) HasPendingCommit() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.pending != nil
}

// ExpirePendingCommit clears a pending commit older than timeout as of now,
// reporting whether one was cleared.
func (g *Group) ExpirePendingCommit(now time.Time, timeout time.Duration) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.pending == nil || now.Sub(g.pending.sentAt) < timeout {
		return false
	}
	g.pending = nil
	return true
}

// ExportSecret derives an application-defined secret from the group's
// current epoch secret, mirroring an MLS exporter.
func (g *Group) ExportSecret(label string, context []byte, length int) ([]byte, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return crypto.DeriveSecret(g.state.EpochSecret, label, context, length)
}

// ExportValidationState returns a read-only snapshot for callers that need
// to check frame signatures without a full Group.
func (g *Group) ExportValidationState() ValidationState {
	g.mu.Lock()
	defer g.mu.Unlock()
	signers := make(map[uint64][32]byte, len(g.state.Members))
	for _, m := range g.state.Members {
		if m.Active {
			signers[m.MemberID] = m.SigningPK
		}
	}
	return ValidationState{
		Epoch:    g.state.Epoch,
		TreeHash: g.state.treeHash(),
		Signers:  signers,
	}
}

// ExportGroupState returns the full serialized group state, suitable for
// local persistence and reload.
func (g *Group) ExportGroupState() ([]byte, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state.marshal()
}

// ExportGroupInfo returns a GroupInfo payload ready to answer a
// GroupInfoRequest.
func (g *Group) ExportGroupInfo() ([]byte, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.groupInfoPayload()
}

// SignFrameHeader stamps h with this member's sender id, the group's
// current epoch, and an Ed25519 signature over SigningData.
func (g *Group) SignFrameHeader(h *proto.Header) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.signFrameHeaderLocked(h)
}

func (g *Group) signFrameHeaderLocked(h *proto.Header) error {
	h.SetSenderID(g.ownMemberID)
	h.SetEpoch(g.state.Epoch)
	sig, err := crypto.Sign(h.SigningData(), g.sigKey.Private)
	if err != nil {
		return fmt.Errorf("sign frame header: %w", err)
	}
	h.SetSignature([64]byte(sig))
	return nil
}

// ValidateFrame checks a frame's signature against the group's known
// signer keys. ExternalCommit frames are validated against the signer
// named in the commit's own attached state, since the joiner is not yet a
// member of the pre-commit epoch.
func (g *Group) ValidateFrame(frame *proto.Frame) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	h := frame.Header
	var signerPK [32]byte

	if h.Opcode() == proto.OpExternalCommit {
		var mlsMsg proto.MLSMessagePayload
		if err := proto.DecodePayload(frame.Payload, &mlsMsg); err != nil {
			return fmt.Errorf("%w: %v", ErrValidationFailed, err)
		}
		incoming, err := unmarshalGroupState(mlsMsg.MLSBytes)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrValidationFailed, err)
		}
		mr, ok := findMemberRecord(incoming.Members, h.SenderID())
		if !ok {
			return ErrUnknownSender
		}
		signerPK = mr.SigningPK
	} else {
		mr, ok := findMemberRecord(g.state.Members, h.SenderID())
		if !ok || !mr.Active {
			return ErrUnknownSender
		}
		signerPK = mr.SigningPK
	}

	sig := h.Signature()
	ok, err := crypto.Verify(h.SigningData(), crypto.Signature(sig), signerPK)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrValidationFailed, err)
	}
	if !ok {
		return ErrValidationFailed
	}
	return nil
}

func findMemberRecord(members []memberRecord, id uint64) (memberRecord, bool) {
	for _, m := range members {
		if m.MemberID == id {
			return m, true
		}
	}
	return memberRecord{}, false
}

func (g *Group) logCommitAction(s groupState) (Action, error) {
	commitBytes, err := s.marshal()
	if err != nil {
		return Action{}, fmt.Errorf("marshal commit state: %w", err)
	}
	payload, err := wrapMLSPayload(commitBytes)
	if err != nil {
		return Action{}, err
	}
	return logAction(payload), nil
}

func (g *Group) publishGroupInfoAction() (Action, error) {
	payload, err := g.groupInfoPayload()
	if err != nil {
		return Action{}, err
	}
	return publishGroupInfoAction(payload), nil
}

func (g *Group) groupInfoPayload() ([]byte, error) {
	stateBytes, err := g.state.marshal()
	if err != nil {
		return nil, fmt.Errorf("marshal group state: %w", err)
	}
	payload, err := proto.EncodePayload(proto.GroupInfoPayload{
		RoomID:         g.state.RoomID,
		Epoch:          g.state.Epoch,
		GroupInfoBytes: stateBytes,
	})
	if err != nil {
		return nil, fmt.Errorf("encode group info payload: %w", err)
	}
	return payload, nil
}

// sealWelcome builds and seals a Welcome for one newly added member.
func (g *Group) sealWelcome(newState groupState, leaf uint32, kp keyPackageData) (Action, error) {
	ws := welcomeSecrets{State: newState, LeafIndex: leaf}
	wsBytes, err := marshalWelcome(ws)
	if err != nil {
		return Action{}, err
	}

	ephemeral, err := crypto.GenerateKeyPair()
	if err != nil {
		return Action{}, fmt.Errorf("generate ephemeral key: %w", err)
	}
	nonce, err := crypto.GenerateNonce()
	if err != nil {
		return Action{}, fmt.Errorf("generate nonce: %w", err)
	}
	ciphertext, err := crypto.Encrypt(wsBytes, nonce, kp.InitPK, ephemeral.Private)
	if err != nil {
		return Action{}, fmt.Errorf("seal welcome: %w", err)
	}

	sealed := make([]byte, 0, 32+24+len(ciphertext))
	sealed = append(sealed, ephemeral.Public[:]...)
	sealed = append(sealed, nonce[:]...)
	sealed = append(sealed, ciphertext...)

	payload, err := wrapMLSPayload(sealed)
	if err != nil {
		return Action{}, err
	}
	return sendWelcomeAction(kp.MemberID, payload), nil
}

func wrapMLSPayload(mlsBytes []byte) ([]byte, error) {
	payload, err := proto.EncodePayload(proto.MLSMessagePayload{MLSBytes: mlsBytes})
	if err != nil {
		return nil, fmt.Errorf("encode MLS message payload: %w", err)
	}
	return payload, nil
}
