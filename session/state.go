package session

import (
	"fmt"
	"sync"
	"time"

	"github.com/opd-ai/lockframe/env"
	"github.com/opd-ai/lockframe/proto"
	"github.com/sirupsen/logrus"
)

// Phase is one of the four session lifecycle states.
type Phase int

const (
	Init Phase = iota
	Pending
	Authenticated
	Closed
)

func (p Phase) String() string {
	switch p {
	case Init:
		return "Init"
	case Pending:
		return "Pending"
	case Authenticated:
		return "Authenticated"
	case Closed:
		return "Closed"
	default:
		return "Unknown"
	}
}

// Role distinguishes the client and server sides of the shared machine:
// they react to the same opcodes in mirrored ways.
type Role int

const (
	RoleClient Role = iota
	RoleServer
)

// Config holds the session machine's three timing constants.
type Config struct {
	HandshakeTimeout  time.Duration
	IdleTimeout       time.Duration
	HeartbeatInterval time.Duration
}

// DefaultConfig matches the module's documented timeout table.
func DefaultConfig() Config {
	return Config{
		HandshakeTimeout:  30 * time.Second,
		IdleTimeout:       60 * time.Second,
		HeartbeatInterval: 20 * time.Second,
	}
}

// ErrUnexpectedFrame is returned by HandleFrame when (phase, opcode) is not
// one the machine accepts. The session is not closed: the spec only tears
// a session down for timeouts and explicit Goodbye/Error frames.
var ErrUnexpectedFrame = fmt.Errorf("unexpected frame for current session state")

// State is one connection's session state machine. Safe for concurrent
// use: HandleFrame and Tick both take an internal lock.
type State struct {
	mu sync.Mutex

	role   Role
	phase  Phase
	config Config
	env    env.Environment
	logger *logrus.Logger

	sessionID      uint64
	userID         *uint64
	lastActivity   time.Time
	lastHeartbeat  time.Time
	negotiatedCaps []string
}

// NewClient starts a session machine in Init, about to send Hello.
func NewClient(config Config, environment env.Environment, logger *logrus.Logger) *State {
	return newState(RoleClient, config, environment, logger)
}

// NewServer starts a session machine in Init, waiting to receive Hello.
// sessionID is the server-assigned id handed out in HelloReply.
func NewServer(sessionID uint64, config Config, environment env.Environment, logger *logrus.Logger) *State {
	s := newState(RoleServer, config, environment, logger)
	s.sessionID = sessionID
	return s
}

func newState(role Role, config Config, environment env.Environment, logger *logrus.Logger) *State {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	now := environment.Now()
	return &State{
		role:          role,
		phase:         Init,
		config:        config,
		env:           environment,
		logger:        logger,
		lastActivity:  now,
		lastHeartbeat: now,
	}
}

// Phase returns the machine's current phase.
func (s *State) Phase() Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

// SessionID returns the session id, valid once the machine has left Init
// on the server side, or left Pending on the client side.
func (s *State) SessionID() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessionID
}

// UserID returns the authenticated user id, if any.
func (s *State) UserID() (uint64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.userID == nil {
		return 0, false
	}
	return *s.userID, true
}

// StartHandshake builds the client's outgoing Hello and moves Init→Pending.
// senderID is this identity's stable member id; the server authenticates
// the session against it (ConnectionRegistry.SetUserID). Calling this from
// any other phase, or on the server role, is a caller bug.
func (s *State) StartHandshake(senderID uint64, capabilities []string, authToken []byte) ([]Action, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.role != RoleClient {
		return nil, fmt.Errorf("session: StartHandshake is client-only")
	}
	if s.phase != Init {
		return nil, fmt.Errorf("session: StartHandshake called in phase %s", s.phase)
	}

	payload, err := proto.EncodePayload(proto.HelloPayload{
		Version:      1,
		Capabilities: capabilities,
		SenderID:     &senderID,
		AuthToken:    authToken,
	})
	if err != nil {
		return nil, fmt.Errorf("encode hello: %w", err)
	}
	frame, err := proto.NewFrame(proto.OpHello, proto.RoomID{}, 0, payload)
	if err != nil {
		return nil, fmt.Errorf("build hello frame: %w", err)
	}

	s.phase = Pending
	s.touch()

	s.logger.WithFields(logrus.Fields{
		"component": "session",
		"phase":     s.phase.String(),
	}).Debug("sent hello, entering pending")

	return []Action{{Kind: ActionSendFrame, Frame: frame}}, nil
}

// HandleFrame applies an incoming session-layer frame and returns the
// resulting Actions.
func (s *State) HandleFrame(frame *proto.Frame) ([]Action, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	opcode := frame.Header.Opcode()

	if opcode == proto.OpGoodbye {
		return s.handleGoodbye()
	}
	if opcode == proto.OpError {
		s.phase = Closed
		return []Action{{Kind: ActionClose, Reason: "peer reported error"}}, nil
	}

	switch {
	case s.phase == Init && s.role == RoleServer && opcode == proto.OpHello:
		return s.handleHelloAsServer(frame)
	case s.phase == Pending && s.role == RoleClient && opcode == proto.OpHelloReply:
		return s.handleHelloReplyAsClient(frame)
	case s.phase == Authenticated && opcode == proto.OpPing:
		return s.handlePing()
	case s.phase == Authenticated && opcode == proto.OpPong:
		s.touch()
		return nil, nil
	default:
		s.logger.WithFields(logrus.Fields{
			"component": "session",
			"phase":     s.phase.String(),
			"opcode":    opcode.String(),
		}).Warn("unexpected frame for session state")
		return nil, fmt.Errorf("%w: phase=%s opcode=%s", ErrUnexpectedFrame, s.phase, opcode)
	}
}

func (s *State) handleHelloAsServer(frame *proto.Frame) ([]Action, error) {
	var hello proto.HelloPayload
	if err := proto.DecodePayload(frame.Payload, &hello); err != nil {
		return nil, fmt.Errorf("decode hello: %w", err)
	}
	if hello.Version != 1 {
		return nil, fmt.Errorf("session: unsupported hello version %d", hello.Version)
	}
	if s.sessionID == 0 {
		return nil, fmt.Errorf("session: server session id not set before handshake")
	}

	s.negotiatedCaps = hello.Capabilities
	s.phase = Authenticated
	s.touch()

	payload, err := proto.EncodePayload(proto.HelloReplyPayload{
		SessionID:    s.sessionID,
		Capabilities: hello.Capabilities,
	})
	if err != nil {
		return nil, fmt.Errorf("encode hello reply: %w", err)
	}
	replyFrame, err := proto.NewFrame(proto.OpHelloReply, proto.RoomID{}, 0, payload)
	if err != nil {
		return nil, fmt.Errorf("build hello reply frame: %w", err)
	}

	s.logger.WithFields(logrus.Fields{
		"component":  "session",
		"session_id": s.sessionID,
	}).Info("session authenticated")

	return []Action{{Kind: ActionSendFrame, Frame: replyFrame}}, nil
}

func (s *State) handleHelloReplyAsClient(frame *proto.Frame) ([]Action, error) {
	var reply proto.HelloReplyPayload
	if err := proto.DecodePayload(frame.Payload, &reply); err != nil {
		return nil, fmt.Errorf("decode hello reply: %w", err)
	}
	s.sessionID = reply.SessionID
	s.negotiatedCaps = reply.Capabilities
	s.phase = Authenticated
	s.touch()

	s.logger.WithFields(logrus.Fields{
		"component":  "session",
		"session_id": s.sessionID,
	}).Info("session authenticated")

	return nil, nil
}

func (s *State) handlePing() ([]Action, error) {
	s.touch()
	frame, err := proto.NewFrame(proto.OpPong, proto.RoomID{}, 0, nil)
	if err != nil {
		return nil, fmt.Errorf("build pong frame: %w", err)
	}
	return []Action{{Kind: ActionSendFrame, Frame: frame}}, nil
}

func (s *State) handleGoodbye() ([]Action, error) {
	if s.phase == Closed {
		return nil, nil
	}
	payload, err := proto.EncodePayload(proto.GoodbyePayload{Reason: "ack"})
	if err != nil {
		return nil, fmt.Errorf("encode goodbye ack: %w", err)
	}
	frame, err := proto.NewFrame(proto.OpGoodbye, proto.RoomID{}, 0, payload)
	if err != nil {
		return nil, fmt.Errorf("build goodbye frame: %w", err)
	}
	s.phase = Closed

	s.logger.WithFields(logrus.Fields{
		"component": "session",
	}).Info("session closed by peer goodbye")

	return []Action{
		{Kind: ActionSendFrame, Frame: frame},
		{Kind: ActionClose, Reason: "goodbye"},
	}, nil
}

// Tick drives timeout and heartbeat checks. Call it periodically (the
// server driver and client both run a ticker at a sub-interval of
// HeartbeatInterval).
func (s *State) Tick() []Action {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.phase == Closed {
		return nil
	}

	now := s.env.Now()

	if s.phase == Pending && now.Sub(s.lastActivity) > s.config.HandshakeTimeout {
		s.phase = Closed
		s.logger.WithField("component", "session").Warn("handshake timeout")
		return []Action{{Kind: ActionClose, Reason: "handshake timeout"}}
	}

	if s.phase == Authenticated {
		if now.Sub(s.lastActivity) > s.config.IdleTimeout {
			s.phase = Closed
			s.logger.WithField("component", "session").Warn("idle timeout")
			return []Action{{Kind: ActionClose, Reason: "idle timeout"}}
		}
		if now.Sub(s.lastHeartbeat) >= s.config.HeartbeatInterval {
			frame, err := proto.NewFrame(proto.OpPing, proto.RoomID{}, 0, nil)
			if err != nil {
				s.logger.WithField("component", "session").WithError(err).Error("build ping frame")
				return nil
			}
			s.lastHeartbeat = now
			s.lastActivity = now
			return []Action{{Kind: ActionSendFrame, Frame: frame}}
		}
	}

	return nil
}

// Close moves the machine to Closed and returns the Goodbye/Close actions
// for a locally initiated shutdown.
func (s *State) Close(reason string) ([]Action, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.phase == Closed {
		return nil, nil
	}
	payload, err := proto.EncodePayload(proto.GoodbyePayload{Reason: reason})
	if err != nil {
		return nil, fmt.Errorf("encode goodbye: %w", err)
	}
	frame, err := proto.NewFrame(proto.OpGoodbye, proto.RoomID{}, 0, payload)
	if err != nil {
		return nil, fmt.Errorf("build goodbye frame: %w", err)
	}
	s.phase = Closed

	return []Action{
		{Kind: ActionSendFrame, Frame: frame},
		{Kind: ActionClose, Reason: reason},
	}, nil
}

func (s *State) touch() {
	s.lastActivity = s.env.Now()
}
