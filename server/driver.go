package server

import (
	"errors"
	"fmt"
	"time"

	"github.com/opd-ai/lockframe/env"
	"github.com/opd-ai/lockframe/proto"
	"github.com/opd-ai/lockframe/roommanager"
	"github.com/opd-ai/lockframe/session"
	"github.com/opd-ai/lockframe/storage"
	"github.com/sirupsen/logrus"
)

// Driver is the server-side event loop: it owns the connection registry,
// the KeyPackage registry, and a room manager, and turns transport-level
// events (ConnectionAccepted, FrameReceived, ConnectionClosed, Tick) into
// Actions for its caller to carry out. It never touches a transport or a
// storage backend directly except through the Store interface passed to
// it at construction.
type Driver struct {
	registry    *ConnectionRegistry
	roomManager *roommanager.RoomManager
	keyPackages *KeyPackageRegistry
	store       storage.Store
	env         env.Environment
	config      Config
	logger      *logrus.Logger
}

// New builds a Driver over store, using environment for time/randomness
// and config for its tunables.
func New(store storage.Store, environment env.Environment, config Config, logger *logrus.Logger) *Driver {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Driver{
		registry:    NewConnectionRegistry(),
		roomManager: roommanager.New(logger),
		keyPackages: NewKeyPackageRegistry(config.KeyPackageCapacity),
		store:       store,
		env:         environment,
		config:      config,
		logger:      logger,
	}
}

// CreateRoom registers roomID with the room manager and, if creatorSession
// is already connected, subscribes it to the room. Room creation has no
// wire opcode of its own (the client's CreateRoom is a purely local MLS
// operation); an embedding application calls this alongside it.
func (d *Driver) CreateRoom(creatorSession uint64, roomID proto.RoomID, creator uint64) error {
	if err := d.roomManager.CreateRoom(roomID, creator, d.env, d.store); err != nil {
		return err
	}
	d.registry.Subscribe(creatorSession, roomID)
	return nil
}

// ConnectionAccepted registers a brand-new session, refusing it once
// MaxConnections live connections are already registered.
func (d *Driver) ConnectionAccepted(sessionID uint64) []Action {
	if d.config.MaxConnections > 0 && d.registry.Len() >= d.config.MaxConnections {
		d.logger.WithFields(logrus.Fields{
			"component":  "server",
			"session_id": sessionID,
		}).Warn("refusing connection: max connections exceeded")
		return []Action{{Kind: ActionCloseConnection, SessionID: sessionID, Reason: "max connections exceeded"}}
	}

	sess := session.NewServer(sessionID, d.config.SessionConfig, d.env, d.logger)
	conn := &Connection{SessionID: sessionID, Session: sess, Rooms: make(map[proto.RoomID]struct{})}
	if err := d.registry.Register(conn); err != nil {
		d.logger.WithFields(logrus.Fields{
			"component":  "server",
			"session_id": sessionID,
			"error":      err,
		}).Error("register connection")
		return []Action{{Kind: ActionCloseConnection, SessionID: sessionID, Reason: err.Error()}}
	}

	d.logger.WithFields(logrus.Fields{
		"component":  "server",
		"session_id": sessionID,
	}).Info("connection accepted")
	return nil
}

// ConnectionClosed unregisters sessionID, dropping its room subscriptions.
func (d *Driver) ConnectionClosed(sessionID uint64, reason string) []Action {
	d.registry.Unregister(sessionID)
	d.logger.WithFields(logrus.Fields{
		"component":  "server",
		"session_id": sessionID,
		"reason":     reason,
	}).Info("connection closed")
	return []Action{{Kind: ActionLog, SessionID: sessionID, Reason: reason}}
}

// FrameReceived dispatches an inbound frame by opcode, per §4.8's event
// table.
func (d *Driver) FrameReceived(sessionID uint64, frame *proto.Frame) []Action {
	conn, ok := d.registry.Get(sessionID)
	if !ok {
		d.logger.WithFields(logrus.Fields{
			"component":  "server",
			"session_id": sessionID,
		}).Warn("frame received for unregistered session")
		return []Action{{Kind: ActionLog, SessionID: sessionID, Reason: "frame for unregistered session"}}
	}

	opcode := frame.Header.Opcode()
	switch {
	case opcode.IsSessionLayer():
		return d.handleSessionFrame(conn, frame)
	case opcode == proto.OpSyncRequest:
		return d.handleSyncRequest(conn, frame)
	case opcode == proto.OpKeyPackagePublish:
		return d.handleKeyPackagePublish(conn, frame)
	case opcode == proto.OpKeyPackageFetch:
		return d.handleKeyPackageFetch(conn, frame)
	case opcode == proto.OpGroupInfoRequest:
		return d.handleGroupInfoRequest(conn, frame)
	case opcode == proto.OpGroupInfo:
		return d.handleGroupInfoPublish(conn, frame)
	case opcode == proto.OpWelcome:
		return d.handleWelcome(conn, frame)
	default:
		return d.handleRoomFrame(conn, frame)
	}
}

func (d *Driver) handleSessionFrame(conn *Connection, frame *proto.Frame) []Action {
	if frame.Header.Opcode() == proto.OpHello {
		var hello proto.HelloPayload
		if err := proto.DecodePayload(frame.Payload, &hello); err == nil && hello.SenderID != nil {
			if err := d.registry.SetUserID(conn.SessionID, *hello.SenderID); err != nil {
				d.logger.WithFields(logrus.Fields{
					"component":  "server",
					"session_id": conn.SessionID,
					"user_id":    *hello.SenderID,
				}).Warn("hello refused: user id already in use")
				return []Action{
					errorAction(conn.SessionID, proto.RoomID{}, proto.ErrCodeInvalidPayload, "user id %d already has a live session", *hello.SenderID),
					{Kind: ActionCloseConnection, SessionID: conn.SessionID, Reason: "duplicate user id"},
				}
			}
		}
	}

	sessActions, err := conn.Session.HandleFrame(frame)
	if err != nil {
		d.logger.WithFields(logrus.Fields{
			"component":  "server",
			"session_id": conn.SessionID,
			"opcode":     frame.Header.Opcode().String(),
			"error":      err,
		}).Warn("session frame rejected")
		return []Action{errorAction(conn.SessionID, proto.RoomID{}, proto.ErrCodeFrameRejected, "%v", err)}
	}
	return convertSessionActions(conn.SessionID, sessActions)
}

func convertSessionActions(sessionID uint64, sessActions []session.Action) []Action {
	out := make([]Action, 0, len(sessActions))
	for _, a := range sessActions {
		switch a.Kind {
		case session.ActionSendFrame:
			out = append(out, Action{Kind: ActionSendToSession, SessionID: sessionID, Frame: a.Frame})
		case session.ActionClose:
			out = append(out, Action{Kind: ActionCloseConnection, SessionID: sessionID, Reason: a.Reason})
		case session.ActionLog:
			out = append(out, Action{Kind: ActionLog, SessionID: sessionID, Reason: a.Reason})
		}
	}
	return out
}

func (d *Driver) handleSyncRequest(conn *Connection, frame *proto.Frame) []Action {
	var req proto.SyncRequestPayload
	if err := proto.DecodePayload(frame.Payload, &req); err != nil {
		return []Action{errorAction(conn.SessionID, frame.Header.RoomID(), proto.ErrCodeInvalidPayload, "decode sync request: %v", err)}
	}
	limit := req.Limit
	if limit == 0 {
		limit = d.config.SyncLimitDefault
	}
	roomID := frame.Header.RoomID()
	d.registry.Subscribe(conn.SessionID, roomID)

	action, err := d.roomManager.HandleSyncRequest(roomID, frame.Header.SenderID(), req.FromLogIndex, limit, d.store)
	if err != nil {
		return []Action{d.errorForRoomFailure(conn.SessionID, roomID, err)}
	}

	payload, err := proto.EncodePayload(*action.SyncResponse)
	if err != nil {
		return []Action{errorAction(conn.SessionID, roomID, proto.ErrCodeInvalidPayload, "encode sync response: %v", err)}
	}
	respFrame, err := proto.NewFrame(proto.OpSyncResponse, roomID, 0, payload)
	if err != nil {
		return []Action{errorAction(conn.SessionID, roomID, proto.ErrCodeInvalidPayload, "build sync response frame: %v", err)}
	}
	return []Action{{Kind: ActionSendToSession, SessionID: conn.SessionID, RoomID: roomID, Frame: respFrame}}
}

func (d *Driver) handleKeyPackagePublish(conn *Connection, frame *proto.Frame) []Action {
	var pub proto.KeyPackagePublishPayload
	if err := proto.DecodePayload(frame.Payload, &pub); err != nil {
		return []Action{errorAction(conn.SessionID, proto.RoomID{}, proto.ErrCodeInvalidPayload, "decode key package publish: %v", err)}
	}
	userID := frame.Header.SenderID()
	evicted := d.keyPackages.Store(userID, KeyPackageEntry{KeyPackageBytes: pub.KeyPackageBytes, HashRef: pub.HashRef})

	fields := logrus.Fields{"component": "server", "user_id": userID}
	if evicted != nil {
		fields["evicted_user_id"] = *evicted
	}
	d.logger.WithFields(fields).Debug("key package published")
	return []Action{{Kind: ActionLog, SessionID: conn.SessionID, Reason: "key package published"}}
}

func (d *Driver) handleKeyPackageFetch(conn *Connection, frame *proto.Frame) []Action {
	var req proto.KeyPackageFetchPayload
	if err := proto.DecodePayload(frame.Payload, &req); err != nil {
		return []Action{errorAction(conn.SessionID, proto.RoomID{}, proto.ErrCodeInvalidPayload, "decode key package fetch: %v", err)}
	}

	entry, found := d.keyPackages.Take(req.UserID)
	resp := proto.KeyPackageFetchPayload{UserID: req.UserID}
	if found {
		resp.KeyPackageBytes = entry.KeyPackageBytes
		resp.HashRef = entry.HashRef
	}

	payload, err := proto.EncodePayload(resp)
	if err != nil {
		return []Action{errorAction(conn.SessionID, frame.Header.RoomID(), proto.ErrCodeInvalidPayload, "encode key package fetch response: %v", err)}
	}
	respFrame, err := proto.NewFrame(proto.OpKeyPackageFetch, frame.Header.RoomID(), 0, payload)
	if err != nil {
		return []Action{errorAction(conn.SessionID, frame.Header.RoomID(), proto.ErrCodeInvalidPayload, "build key package fetch response: %v", err)}
	}

	actions := []Action{{Kind: ActionSendToSession, SessionID: conn.SessionID, RoomID: frame.Header.RoomID(), Frame: respFrame}}
	if !found {
		actions = append(actions, errorAction(conn.SessionID, frame.Header.RoomID(), proto.ErrCodeKeyPackageNotFound, "no key package published for user %d", req.UserID))
	}
	return actions
}

func (d *Driver) handleGroupInfoRequest(conn *Connection, frame *proto.Frame) []Action {
	var req proto.GroupInfoRequestPayload
	if err := proto.DecodePayload(frame.Payload, &req); err != nil {
		return []Action{errorAction(conn.SessionID, frame.Header.RoomID(), proto.ErrCodeInvalidPayload, "decode group info request: %v", err)}
	}

	cached, ok, err := d.store.LoadGroupInfo(req.RoomID)
	if err != nil {
		return []Action{errorAction(conn.SessionID, req.RoomID, proto.ErrCodeStorageError, "load group info: %v", err)}
	}
	if !ok {
		return []Action{errorAction(conn.SessionID, req.RoomID, proto.ErrCodeRoomNotFound, "no group info published yet for room")}
	}

	respFrame, err := proto.NewFrame(proto.OpGroupInfo, req.RoomID, 0, cached)
	if err != nil {
		return []Action{errorAction(conn.SessionID, req.RoomID, proto.ErrCodeInvalidPayload, "build group info response: %v", err)}
	}
	return []Action{{Kind: ActionSendToSession, SessionID: conn.SessionID, RoomID: req.RoomID, Frame: respFrame}}
}

// handleGroupInfoPublish caches a client-submitted GroupInfo frame (sent
// alongside the Commit that produced it) so a later GroupInfoRequest can
// be answered without asking any client.
func (d *Driver) handleGroupInfoPublish(conn *Connection, frame *proto.Frame) []Action {
	roomID := frame.Header.RoomID()
	if err := d.store.SaveGroupInfo(roomID, frame.Payload); err != nil {
		return []Action{errorAction(conn.SessionID, roomID, proto.ErrCodeStorageError, "save group info: %v", err)}
	}
	return []Action{{Kind: ActionLog, SessionID: conn.SessionID, RoomID: roomID, Reason: "group info cached"}}
}

func (d *Driver) handleWelcome(conn *Connection, frame *proto.Frame) []Action {
	roomID := frame.Header.RoomID()
	recipientID := frame.Header.RecipientID()

	if recipientConn, ok := d.registry.BySessionOfUser(recipientID); ok {
		d.registry.Subscribe(recipientConn.SessionID, roomID)
	} else {
		d.logger.WithFields(logrus.Fields{
			"component":    "server",
			"room_id":      roomID,
			"recipient_id": recipientID,
		}).Warn("welcome recipient has no live session")
	}

	roomActions, err := d.roomManager.ProcessFrame(frame, roomID, d.store)
	if err != nil {
		return []Action{d.errorForRoomFailure(conn.SessionID, roomID, err)}
	}

	out := make([]Action, 0, len(roomActions))
	for _, a := range roomActions {
		if a.Kind != roommanager.ActionBroadcast {
			out = append(out, convertRoomAction(conn.SessionID, a))
			continue
		}
		recipientConn, ok := d.registry.BySessionOfUser(recipientID)
		if !ok {
			d.logger.WithFields(logrus.Fields{
				"component":    "server",
				"room_id":      roomID,
				"recipient_id": recipientID,
			}).Warn("dropping welcome: recipient session not found")
			out = append(out, Action{Kind: ActionLog, RoomID: roomID, Reason: "welcome dropped: recipient not connected"})
			continue
		}
		out = append(out, Action{Kind: ActionSendToSession, SessionID: recipientConn.SessionID, RoomID: roomID, Frame: a.Frame})
	}
	return out
}

func (d *Driver) handleRoomFrame(conn *Connection, frame *proto.Frame) []Action {
	roomID := frame.Header.RoomID()
	d.registry.Subscribe(conn.SessionID, roomID)

	roomActions, err := d.roomManager.ProcessFrame(frame, roomID, d.store)
	if err != nil {
		return []Action{d.errorForRoomFailure(conn.SessionID, roomID, err)}
	}

	out := make([]Action, 0, len(roomActions))
	for _, a := range roomActions {
		out = append(out, convertRoomAction(conn.SessionID, a))
	}
	return out
}

func convertRoomAction(sessionID uint64, a roommanager.Action) Action {
	switch a.Kind {
	case roommanager.ActionPersistFrame:
		return Action{Kind: ActionLog, RoomID: a.RoomID, Reason: fmt.Sprintf("frame persisted at log index %d", a.LogIndex)}
	case roommanager.ActionBroadcast:
		return Action{Kind: ActionBroadcastToRoom, RoomID: a.RoomID, Frame: a.Frame}
	case roommanager.ActionReject:
		return errorAction(sessionID, a.RoomID, proto.ErrCodeFrameRejected, "%s", a.Reason)
	default:
		return Action{Kind: ActionLog, RoomID: a.RoomID, Reason: "unhandled room action"}
	}
}

// errorForRoomFailure maps a roommanager.ProcessFrame/HandleSyncRequest
// error to a sender-facing Error frame, triggering sequencer rehydration
// first when the underlying cause is a storage Conflict.
func (d *Driver) errorForRoomFailure(sessionID uint64, roomID proto.RoomID, err error) Action {
	if errors.Is(err, roommanager.ErrRoomNotFound) {
		return errorAction(sessionID, roomID, proto.ErrCodeRoomNotFound, "%v", err)
	}

	var conflict *storage.ConflictError
	if errors.As(err, &conflict) {
		d.roomManager.ClearRoomSequencer(roomID)
		d.logger.WithFields(logrus.Fields{
			"component": "server",
			"room_id":   roomID,
			"expected":  conflict.Expected,
			"got":       conflict.Got,
		}).Warn("storage conflict: cleared sequencer cursor for rehydration")
		retryAfter := uint64(1)
		return d.errorWithRetry(sessionID, roomID, proto.ErrCodeStorageError, retryAfter, "%v", err)
	}

	return errorAction(sessionID, roomID, proto.ErrCodeSequencerError, "%v", err)
}

func (d *Driver) errorWithRetry(sessionID uint64, roomID proto.RoomID, code uint16, retryAfter uint64, format string, args ...interface{}) Action {
	message := fmt.Sprintf(format, args...)
	payload, err := proto.EncodePayload(proto.ErrorPayload{Code: code, Message: message, RetryAfter: &retryAfter})
	if err != nil {
		return Action{Kind: ActionLog, SessionID: sessionID, RoomID: roomID, Reason: message}
	}
	frame, err := proto.NewFrame(proto.OpError, roomID, 0, payload)
	if err != nil {
		return Action{Kind: ActionLog, SessionID: sessionID, RoomID: roomID, Reason: message}
	}
	return Action{Kind: ActionSendToSession, SessionID: sessionID, RoomID: roomID, Frame: frame}
}

// RoomSubscribers returns every session id currently subscribed to roomID,
// for callers (an embedding transport loop, presence reporting, or a test
// harness) that need to fan out Actions this driver returns with an
// ActionBroadcastToRoom kind.
func (d *Driver) RoomSubscribers(roomID proto.RoomID) []uint64 {
	return d.registry.SubscribersOf(roomID)
}

// Tick drives every live session's timeout sweep, in addition to the
// application's own room-level tick logic (which lives in the client
// package, not here: the driver only mirrors the session layer).
func (d *Driver) Tick(now time.Time) []Action {
	var out []Action
	for _, sessionID := range d.registry.All() {
		conn, ok := d.registry.Get(sessionID)
		if !ok {
			continue
		}
		sessActions := conn.Session.Tick()
		out = append(out, convertSessionActions(sessionID, sessActions)...)
	}
	return out
}
