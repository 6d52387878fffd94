package client

import (
	"fmt"
	"sort"
	"time"

	"github.com/opd-ai/lockframe/crypto"
	"github.com/opd-ai/lockframe/env"
	"github.com/opd-ai/lockframe/mls"
	"github.com/opd-ai/lockframe/proto"
	"github.com/sirupsen/logrus"
)

// Client is one identity's view across every room it belongs to. It holds
// no transport or storage handle; every method returns the Actions its
// caller (the application driving this identity) must carry out.
type Client struct {
	memberID uint64
	signing  *crypto.SigningKeyPair

	rooms                map[proto.RoomID]*RoomState
	pendingJoins         map[string]*mls.PendingJoinState
	pendingAdds          map[pendingAddKey]pendingAddEntry
	pendingExternalJoins map[proto.RoomID]struct{}

	environment env.Environment
	logger      *logrus.Logger
}

// New creates a Client for memberID, authenticated with signing.
func New(memberID uint64, signing *crypto.SigningKeyPair, environment env.Environment, logger *logrus.Logger) *Client {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Client{
		memberID:             memberID,
		signing:              signing,
		rooms:                make(map[proto.RoomID]*RoomState),
		pendingJoins:         make(map[string]*mls.PendingJoinState),
		pendingAdds:          make(map[pendingAddKey]pendingAddEntry),
		pendingExternalJoins: make(map[proto.RoomID]struct{}),
		environment:          environment,
		logger:               logger,
	}
}

// MemberID returns this identity's stable sender id.
func (c *Client) MemberID() uint64 { return c.memberID }

// RoomEpoch returns roomID's current epoch, if this identity is a member.
func (c *Client) RoomEpoch(roomID proto.RoomID) (uint64, bool) {
	rs, ok := c.rooms[roomID]
	if !ok {
		return 0, false
	}
	return rs.Group.Epoch(), true
}

// CreateRoom starts a brand-new group for roomID, with this identity as its
// sole member. It does not itself register the room with a server; that is
// a separate, server-side operation the caller performs alongside this one.
func (c *Client) CreateRoom(roomID proto.RoomID) ([]Action, error) {
	if _, ok := c.rooms[roomID]; ok {
		return nil, ErrAlreadyMember
	}

	g, groupActions, err := mls.Create(roomID, c.memberID, c.signing, c.environment, c.logger)
	if err != nil {
		return nil, fmt.Errorf("client: create room: %w", err)
	}
	c.rooms[roomID] = &RoomState{Group: g}

	snapshot, err := g.ExportGroupState()
	if err != nil {
		return nil, fmt.Errorf("client: export initial group state: %w", err)
	}

	actions := []Action{
		{Kind: ActionRoomJoined, RoomID: roomID, Epoch: g.Epoch()},
		{Kind: ActionPersistRoom, RoomID: roomID, Snapshot: snapshot},
	}
	for _, a := range groupActions {
		if a.Kind != mls.ActionPublishGroupInfo {
			// The initial single-member commit log entry has no room to
			// broadcast to yet; only the GroupInfo publish is useful here.
			continue
		}
		frame, err := c.buildGroupInfoFrame(roomID, g, a.Payload)
		if err != nil {
			return nil, err
		}
		actions = append(actions, Action{Kind: ActionSend, Frame: frame, RoomID: roomID})
	}
	return actions, nil
}

// ExternalJoin requests to join roomID without an invitation: it emits a
// GroupInfoRequest and records a pending external join, completed when the
// matching GroupInfo frame arrives.
func (c *Client) ExternalJoin(roomID proto.RoomID) ([]Action, error) {
	if _, ok := c.rooms[roomID]; ok {
		return nil, ErrRoomAlreadyExists
	}

	payload, err := proto.EncodePayload(proto.GroupInfoRequestPayload{RoomID: roomID})
	if err != nil {
		return nil, fmt.Errorf("client: encode group info request: %w", err)
	}
	frame, err := proto.NewFrame(proto.OpGroupInfoRequest, roomID, c.memberID, payload)
	if err != nil {
		return nil, fmt.Errorf("client: build group info request frame: %w", err)
	}

	c.pendingExternalJoins[roomID] = struct{}{}
	return []Action{{Kind: ActionSend, Frame: frame, RoomID: roomID}}, nil
}

// AddMembers passes keyPackages to roomID's group, emitting a Commit and a
// Welcome per new member.
func (c *Client) AddMembers(roomID proto.RoomID, keyPackages [][]byte) ([]Action, error) {
	rs, ok := c.rooms[roomID]
	if !ok {
		return nil, ErrNotMember
	}
	groupActions, err := rs.Group.AddMembers(keyPackages)
	if err != nil {
		return nil, fmt.Errorf("client: add members: %w", err)
	}
	return c.convertCommitActions(roomID, rs.Group, groupActions, proto.OpCommit)
}

// RemoveMembers passes memberIDs to roomID's group, emitting a Commit.
func (c *Client) RemoveMembers(roomID proto.RoomID, memberIDs []uint64) ([]Action, error) {
	rs, ok := c.rooms[roomID]
	if !ok {
		return nil, ErrNotMember
	}
	groupActions, err := rs.Group.RemoveMembers(memberIDs)
	if err != nil {
		return nil, fmt.Errorf("client: remove members: %w", err)
	}
	return c.convertCommitActions(roomID, rs.Group, groupActions, proto.OpCommit)
}

// FetchAndAddMember asks the server for userID's KeyPackage, recording a
// pending add that completes when the matching KeyPackageFetch response
// arrives.
func (c *Client) FetchAndAddMember(roomID proto.RoomID, userID uint64) ([]Action, error) {
	if _, ok := c.rooms[roomID]; !ok {
		return nil, ErrNotMember
	}

	payload, err := proto.EncodePayload(proto.KeyPackageFetchPayload{UserID: userID})
	if err != nil {
		return nil, fmt.Errorf("client: encode key package fetch: %w", err)
	}
	frame, err := proto.NewFrame(proto.OpKeyPackageFetch, roomID, c.memberID, payload)
	if err != nil {
		return nil, fmt.Errorf("client: build key package fetch frame: %w", err)
	}

	c.pendingAdds[pendingAddKey{RoomID: roomID, UserID: userID}] = pendingAddEntry{SentAt: c.environment.Now()}
	return []Action{{Kind: ActionSend, Frame: frame, RoomID: roomID}}, nil
}

// PublishKeyPackage generates a fresh one-time KeyPackage for this identity
// and emits a KeyPackagePublish frame for it.
func (c *Client) PublishKeyPackage() ([]Action, error) {
	kpBytes, hashRef, pending, err := mls.GenerateKeyPackage(c.memberID, c.signing)
	if err != nil {
		return nil, fmt.Errorf("client: generate key package: %w", err)
	}
	c.pendingJoins[string(hashRef)] = pending

	payload, err := proto.EncodePayload(proto.KeyPackagePublishPayload{KeyPackageBytes: kpBytes, HashRef: hashRef})
	if err != nil {
		return nil, fmt.Errorf("client: encode key package publish: %w", err)
	}
	frame, err := proto.NewFrame(proto.OpKeyPackagePublish, proto.RoomID{}, c.memberID, payload)
	if err != nil {
		return nil, fmt.Errorf("client: build key package publish frame: %w", err)
	}

	return []Action{
		{Kind: ActionSend, Frame: frame},
		{Kind: ActionKeyPackagePublished, MemberID: c.memberID},
	}, nil
}

// SendMessage encrypts plaintext for roomID via its sender-key ratchet and
// emits the resulting AppMessage frame.
func (c *Client) SendMessage(roomID proto.RoomID, plaintext []byte) ([]Action, error) {
	rs, ok := c.rooms[roomID]
	if !ok {
		return nil, ErrNotMember
	}
	frame, err := rs.Group.EncryptMessage(plaintext)
	if err != nil {
		return nil, fmt.Errorf("client: send message: %w", err)
	}
	return []Action{{Kind: ActionSend, Frame: frame, RoomID: roomID}}, nil
}

// LeaveRoom tears down roomID's RoomState immediately and broadcasts a
// Commit removing this member, without waiting for it to be echoed back.
func (c *Client) LeaveRoom(roomID proto.RoomID) ([]Action, error) {
	rs, ok := c.rooms[roomID]
	if !ok {
		return nil, ErrNotMember
	}
	groupActions, err := rs.Group.LeaveGroup()
	if err != nil {
		return nil, fmt.Errorf("client: leave room: %w", err)
	}
	actions, err := c.convertCommitActions(roomID, rs.Group, groupActions, proto.OpCommit)
	if err != nil {
		return nil, err
	}
	delete(c.rooms, roomID)
	actions = append(actions, Action{Kind: ActionRoomRemoved, RoomID: roomID, Reason: "left room"})
	return actions, nil
}

// FrameReceived dispatches an inbound frame by opcode.
func (c *Client) FrameReceived(frame *proto.Frame) ([]Action, error) {
	switch frame.Header.Opcode() {
	case proto.OpHelloReply, proto.OpPong:
		return nil, nil
	case proto.OpError:
		return []Action{{Kind: ActionLog, Reason: "received Error frame"}}, nil
	case proto.OpAppMessage:
		return c.handleAppMessage(frame)
	case proto.OpCommit, proto.OpExternalCommit:
		return c.handleCommit(frame)
	case proto.OpWelcome:
		return c.handleWelcome(frame)
	case proto.OpSyncResponse:
		return c.handleSyncResponse(frame)
	case proto.OpKeyPackageFetch:
		return c.handleKeyPackageFetchResponse(frame)
	case proto.OpGroupInfo:
		return c.handleGroupInfo(frame)
	default:
		return c.handleGeneric(frame)
	}
}

func (c *Client) handleAppMessage(frame *proto.Frame) ([]Action, error) {
	roomID := frame.Header.RoomID()
	rs, ok := c.rooms[roomID]
	if !ok {
		return []Action{{Kind: ActionLog, RoomID: roomID, Reason: "app message for unknown room"}}, nil
	}
	if frame.Header.SenderID() == c.memberID {
		return nil, nil
	}

	epoch := rs.Group.Epoch()
	if frame.Header.Epoch() != epoch {
		return []Action{
			{Kind: ActionRequestSync, RoomID: roomID, FromEpoch: epoch, ToEpoch: frame.Header.Epoch()},
			{Kind: ActionLog, RoomID: roomID, Reason: "app message epoch mismatch"},
		}, nil
	}

	if err := rs.Group.ValidateFrame(frame); err != nil {
		return nil, fmt.Errorf("client: validate app message: %w", err)
	}
	groupActions, err := rs.Group.ProcessMessage(frame)
	if err != nil {
		return nil, fmt.Errorf("client: process app message: %w", err)
	}
	return c.convertDeliverActions(roomID, groupActions), nil
}

func (c *Client) handleCommit(frame *proto.Frame) ([]Action, error) {
	roomID := frame.Header.RoomID()
	rs, ok := c.rooms[roomID]
	if !ok {
		return []Action{{Kind: ActionLog, RoomID: roomID, Reason: "commit for unknown room"}}, nil
	}

	isOwn := frame.Header.SenderID() == c.memberID
	if isOwn && !rs.Group.HasPendingCommit() {
		return []Action{{Kind: ActionLog, RoomID: roomID, Reason: "duplicate own commit, already applied"}}, nil
	}

	if err := rs.Group.ValidateFrame(frame); err != nil {
		return nil, fmt.Errorf("client: validate commit: %w", err)
	}
	groupActions, err := rs.Group.ProcessMessage(frame)
	if err != nil {
		return nil, fmt.Errorf("client: process commit: %w", err)
	}
	return c.convertDeliverActions(roomID, groupActions), nil
}

func (c *Client) handleWelcome(frame *proto.Frame) ([]Action, error) {
	roomID := frame.Header.RoomID()
	if _, ok := c.rooms[roomID]; ok {
		return nil, ErrRoomAlreadyExists
	}

	var mlsMsg proto.MLSMessagePayload
	if err := proto.DecodePayload(frame.Payload, &mlsMsg); err != nil {
		return nil, fmt.Errorf("client: decode welcome payload: %w", err)
	}

	keys := make([]string, 0, len(c.pendingJoins))
	for k := range c.pendingJoins {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		pending := c.pendingJoins[k]
		delete(c.pendingJoins, k)

		g, err := mls.JoinFromWelcome(mlsMsg.MLSBytes, pending, c.environment, c.logger)
		if err != nil {
			c.logger.WithFields(logrus.Fields{
				"room_id": roomID,
				"error":   err,
			}).Debug("pending join state could not open welcome")
			continue
		}

		c.rooms[roomID] = &RoomState{Group: g}
		snapshot, err := g.ExportGroupState()
		if err != nil {
			return nil, fmt.Errorf("client: export group state after welcome: %w", err)
		}
		epoch := g.Epoch()
		return []Action{
			{Kind: ActionRoomJoined, RoomID: roomID, Epoch: epoch},
			{Kind: ActionPersistRoom, RoomID: roomID, Snapshot: snapshot},
			{Kind: ActionRequestSync, RoomID: roomID, FromEpoch: epoch, ToEpoch: epoch},
		}, nil
	}

	return []Action{
		{Kind: ActionKeyPackageNeeded, RoomID: roomID, Reason: "no pending join state could open welcome"},
		{Kind: ActionLog, RoomID: roomID, Reason: "welcome rejected by every pending join"},
	}, nil
}

func (c *Client) handleSyncResponse(frame *proto.Frame) ([]Action, error) {
	var resp proto.SyncResponsePayload
	if err := proto.DecodePayload(frame.Payload, &resp); err != nil {
		return nil, fmt.Errorf("client: decode sync response: %w", err)
	}

	var actions []Action
	for _, raw := range resp.Frames {
		inner, err := proto.ParseFrame(raw)
		if err != nil {
			actions = append(actions, Action{Kind: ActionLog, Reason: fmt.Sprintf("sync response contained unparsable frame: %v", err)})
			continue
		}
		innerActions, err := c.FrameReceived(inner)
		if err != nil {
			actions = append(actions, Action{Kind: ActionLog, Reason: fmt.Sprintf("sync response frame processing failed: %v", err)})
			continue
		}
		actions = append(actions, innerActions...)
	}

	if resp.HasMore {
		roomID := frame.Header.RoomID()
		epoch := uint64(0)
		if rs, ok := c.rooms[roomID]; ok {
			epoch = rs.Group.Epoch()
		}
		actions = append(actions, Action{Kind: ActionRequestSync, RoomID: roomID, FromEpoch: epoch, ToEpoch: resp.ServerEpoch})
	}
	return actions, nil
}

func (c *Client) handleKeyPackageFetchResponse(frame *proto.Frame) ([]Action, error) {
	var resp proto.KeyPackageFetchPayload
	if err := proto.DecodePayload(frame.Payload, &resp); err != nil {
		return nil, fmt.Errorf("client: decode key package fetch response: %w", err)
	}

	if len(resp.KeyPackageBytes) == 0 {
		var actions []Action
		for key := range c.pendingAdds {
			if key.UserID == resp.UserID {
				delete(c.pendingAdds, key)
				actions = append(actions, Action{Kind: ActionLog, RoomID: key.RoomID, Reason: fmt.Sprintf("no key package available for user %d", resp.UserID)})
			}
		}
		return actions, nil
	}

	var keys []pendingAddKey
	for key := range c.pendingAdds {
		if key.UserID == resp.UserID {
			keys = append(keys, key)
		}
	}
	sort.Slice(keys, func(i, j int) bool { return string(keys[i].RoomID[:]) < string(keys[j].RoomID[:]) })

	var actions []Action
	for _, key := range keys {
		delete(c.pendingAdds, key)
		rs, ok := c.rooms[key.RoomID]
		if !ok {
			continue
		}
		groupActions, err := rs.Group.AddMembers([][]byte{resp.KeyPackageBytes})
		if err != nil {
			actions = append(actions, Action{Kind: ActionLog, RoomID: key.RoomID, Reason: fmt.Sprintf("add member %d failed: %v", resp.UserID, err)})
			continue
		}
		converted, err := c.convertCommitActions(key.RoomID, rs.Group, groupActions, proto.OpCommit)
		if err != nil {
			actions = append(actions, Action{Kind: ActionLog, RoomID: key.RoomID, Reason: fmt.Sprintf("add member %d failed: %v", resp.UserID, err)})
			continue
		}
		actions = append(actions, converted...)
		actions = append(actions, Action{Kind: ActionMemberAdded, RoomID: key.RoomID, MemberID: resp.UserID})
	}
	return actions, nil
}

func (c *Client) handleGroupInfo(frame *proto.Frame) ([]Action, error) {
	var gi proto.GroupInfoPayload
	if err := proto.DecodePayload(frame.Payload, &gi); err != nil {
		return nil, fmt.Errorf("client: decode group info: %w", err)
	}
	if _, ok := c.pendingExternalJoins[gi.RoomID]; !ok {
		return nil, ErrNoPendingExternalJoin
	}

	g, groupActions, err := mls.JoinFromExternal(gi.GroupInfoBytes, c.memberID, c.signing, c.environment, c.logger)
	if err != nil {
		return nil, fmt.Errorf("client: join from external: %w", err)
	}
	delete(c.pendingExternalJoins, gi.RoomID)
	c.rooms[gi.RoomID] = &RoomState{Group: g}

	actions, err := c.convertCommitActions(gi.RoomID, g, groupActions, proto.OpExternalCommit)
	if err != nil {
		return nil, err
	}
	snapshot, err := g.ExportGroupState()
	if err != nil {
		return nil, fmt.Errorf("client: export group state after external join: %w", err)
	}
	actions = append(actions,
		Action{Kind: ActionPersistRoom, RoomID: gi.RoomID, Snapshot: snapshot},
		Action{Kind: ActionRoomJoined, RoomID: gi.RoomID, Epoch: g.Epoch()},
	)
	return actions, nil
}

func (c *Client) handleGeneric(frame *proto.Frame) ([]Action, error) {
	roomID := frame.Header.RoomID()
	rs, ok := c.rooms[roomID]
	if !ok {
		return []Action{{Kind: ActionLog, RoomID: roomID, Reason: fmt.Sprintf("%s frame for unknown room", frame.Header.Opcode())}}, nil
	}
	groupActions, err := rs.Group.ProcessMessage(frame)
	if err != nil {
		return nil, fmt.Errorf("client: process message: %w", err)
	}
	return c.convertDeliverActions(roomID, groupActions), nil
}

// Tick sweeps pending adds and pending commits for timeouts.
func (c *Client) Tick(now time.Time) []Action {
	var actions []Action

	for key, entry := range c.pendingAdds {
		if now.Sub(entry.SentAt) > PendingAddTimeout {
			delete(c.pendingAdds, key)
			actions = append(actions, Action{Kind: ActionLog, RoomID: key.RoomID, Reason: fmt.Sprintf("pending add for user %d timed out", key.UserID)})
		}
	}

	roomIDs := make([]proto.RoomID, 0, len(c.rooms))
	for roomID := range c.rooms {
		roomIDs = append(roomIDs, roomID)
	}
	sort.Slice(roomIDs, func(i, j int) bool { return string(roomIDs[i][:]) < string(roomIDs[j][:]) })

	for _, roomID := range roomIDs {
		rs := c.rooms[roomID]
		if rs.Group.ExpirePendingCommit(now, CommitTimeout) {
			epoch := rs.Group.Epoch()
			actions = append(actions,
				Action{Kind: ActionRequestSync, RoomID: roomID, FromEpoch: epoch, ToEpoch: epoch + 1},
				Action{Kind: ActionLog, RoomID: roomID, Reason: "pending commit timed out"},
			)
		}
	}
	return actions
}

func (c *Client) convertCommitActions(roomID proto.RoomID, g *mls.Group, groupActions []mls.Action, commitOpcode proto.Opcode) ([]Action, error) {
	var out []Action
	for _, a := range groupActions {
		switch a.Kind {
		case mls.ActionLog:
			frame, err := proto.NewFrame(commitOpcode, roomID, g.OwnMemberID(), a.Payload)
			if err != nil {
				return nil, fmt.Errorf("client: build commit frame: %w", err)
			}
			if err := g.SignFrameHeader(frame.Header); err != nil {
				return nil, fmt.Errorf("client: sign commit frame: %w", err)
			}
			out = append(out, Action{Kind: ActionSend, Frame: frame, RoomID: roomID})
		case mls.ActionSendWelcome:
			frame, err := proto.NewFrame(proto.OpWelcome, roomID, g.OwnMemberID(), a.Payload)
			if err != nil {
				return nil, fmt.Errorf("client: build welcome frame: %w", err)
			}
			frame.Header.SetRecipientID(a.RecipientID)
			if err := g.SignFrameHeader(frame.Header); err != nil {
				return nil, fmt.Errorf("client: sign welcome frame: %w", err)
			}
			out = append(out, Action{Kind: ActionSend, Frame: frame, RoomID: roomID})
		case mls.ActionPublishGroupInfo:
			frame, err := c.buildGroupInfoFrame(roomID, g, a.Payload)
			if err != nil {
				return nil, err
			}
			out = append(out, Action{Kind: ActionSend, Frame: frame, RoomID: roomID})
		}
	}
	return out, nil
}

func (c *Client) convertDeliverActions(roomID proto.RoomID, groupActions []mls.Action) []Action {
	var out []Action
	rs, hasRoom := c.rooms[roomID]
	for _, a := range groupActions {
		switch a.Kind {
		case mls.ActionDeliverMessage:
			out = append(out, Action{Kind: ActionDeliverMessage, RoomID: roomID, SenderID: a.SenderID, Plaintext: a.Payload})
		case mls.ActionPublishGroupInfo:
			if !hasRoom {
				continue
			}
			frame, err := c.buildGroupInfoFrame(roomID, rs.Group, a.Payload)
			if err != nil {
				out = append(out, Action{Kind: ActionLog, RoomID: roomID, Reason: fmt.Sprintf("build group info frame: %v", err)})
				continue
			}
			out = append(out, Action{Kind: ActionSend, Frame: frame, RoomID: roomID})
		case mls.ActionRemoveGroup:
			delete(c.rooms, roomID)
			out = append(out, Action{Kind: ActionRoomRemoved, RoomID: roomID, Reason: a.Reason})
		}
	}
	if rs, ok := c.rooms[roomID]; ok {
		if snapshot, err := rs.Group.ExportGroupState(); err == nil {
			out = append(out, Action{Kind: ActionPersistRoom, RoomID: roomID, Snapshot: snapshot})
		}
	}
	return out
}

// buildGroupInfoFrame wraps an already-encoded GroupInfoPayload (produced
// by the group itself alongside a Commit) as an outgoing GroupInfo frame,
// so the server can cache it and answer a later GroupInfoRequest without
// asking any client.
func (c *Client) buildGroupInfoFrame(roomID proto.RoomID, g *mls.Group, payload []byte) (*proto.Frame, error) {
	frame, err := proto.NewFrame(proto.OpGroupInfo, roomID, g.OwnMemberID(), payload)
	if err != nil {
		return nil, fmt.Errorf("client: build group info frame: %w", err)
	}
	if err := g.SignFrameHeader(frame.Header); err != nil {
		return nil, fmt.Errorf("client: sign group info frame: %w", err)
	}
	return frame, nil
}
