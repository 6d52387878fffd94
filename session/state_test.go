package session

import (
	"testing"
	"time"

	"github.com/opd-ai/lockframe/env"
	"github.com/opd-ai/lockframe/proto"
	"github.com/stretchr/testify/require"
)

func testConfig() Config {
	return Config{
		HandshakeTimeout:  30 * time.Second,
		IdleTimeout:       60 * time.Second,
		HeartbeatInterval: 20 * time.Second,
	}
}

func testEnv() *env.FakeEnvironment {
	return env.NewFakeEnvironment(time.Unix(1_700_000_000, 0), 7)
}

func TestClientServerHandshake(t *testing.T) {
	e := testEnv()
	client := NewClient(testConfig(), e, nil)
	server := NewServer(42, testConfig(), e, nil)

	actions, err := client.StartHandshake(1, []string{"sync-v2"}, nil)
	require.NoError(t, err)
	require.Equal(t, Pending, client.Phase())
	require.Len(t, actions, 1)
	helloFrame := actions[0].Frame

	serverActions, err := server.HandleFrame(helloFrame)
	require.NoError(t, err)
	require.Equal(t, Authenticated, server.Phase())
	require.Len(t, serverActions, 1)
	replyFrame := serverActions[0].Frame
	require.Equal(t, proto.OpHelloReply, replyFrame.Header.Opcode())

	clientActions, err := client.HandleFrame(replyFrame)
	require.NoError(t, err)
	require.Nil(t, clientActions)
	require.Equal(t, Authenticated, client.Phase())
	require.Equal(t, uint64(42), client.SessionID())
}

func TestHandleFrameRejectsUnexpectedOpcode(t *testing.T) {
	e := testEnv()
	client := NewClient(testConfig(), e, nil)

	frame, err := proto.NewFrame(proto.OpPing, proto.RoomID{}, 0, nil)
	require.NoError(t, err)

	_, err = client.HandleFrame(frame)
	require.ErrorIs(t, err, ErrUnexpectedFrame)
	require.Equal(t, Init, client.Phase())
}

func TestPingProducesPong(t *testing.T) {
	e := testEnv()
	client := NewClient(testConfig(), e, nil)
	server := NewServer(1, testConfig(), e, nil)
	_, err := client.StartHandshake(1, nil, nil)
	require.NoError(t, err)

	actions, err := client.HandleFrame(mustHelloReply(t, server))
	require.NoError(t, err)
	require.Nil(t, actions)

	ping, err := proto.NewFrame(proto.OpPing, proto.RoomID{}, 0, nil)
	require.NoError(t, err)
	pongActions, err := client.HandleFrame(ping)
	require.NoError(t, err)
	require.Len(t, pongActions, 1)
	require.Equal(t, proto.OpPong, pongActions[0].Frame.Header.Opcode())
}

func mustHelloReply(t *testing.T, server *State) *proto.Frame {
	t.Helper()
	hello, err := proto.NewFrame(proto.OpHello, proto.RoomID{}, 0, mustEncodeHello(t))
	require.NoError(t, err)
	serverActions, err := server.HandleFrame(hello)
	require.NoError(t, err)
	require.Len(t, serverActions, 1)
	return serverActions[0].Frame
}

func mustEncodeHello(t *testing.T) []byte {
	t.Helper()
	payload, err := proto.EncodePayload(proto.HelloPayload{Version: 1})
	require.NoError(t, err)
	return payload
}

func TestTickClosesOnHandshakeTimeout(t *testing.T) {
	e := testEnv()
	client := NewClient(testConfig(), e, nil)
	_, err := client.StartHandshake(1, nil, nil)
	require.NoError(t, err)

	e.Advance(31 * time.Second)
	actions := client.Tick()
	require.Len(t, actions, 1)
	require.Equal(t, ActionClose, actions[0].Kind)
	require.Equal(t, Closed, client.Phase())
}

func TestTickClosesOnIdleTimeout(t *testing.T) {
	e := testEnv()
	client := NewClient(testConfig(), e, nil)
	server := NewServer(5, testConfig(), e, nil)
	_, err := client.StartHandshake(1, nil, nil)
	require.NoError(t, err)
	reply := mustHelloReply(t, server)
	_, err = client.HandleFrame(reply)
	require.NoError(t, err)

	e.Advance(61 * time.Second)
	actions := client.Tick()
	require.Len(t, actions, 1)
	require.Equal(t, ActionClose, actions[0].Kind)
	require.Equal(t, Closed, client.Phase())
}

func TestTickSendsHeartbeat(t *testing.T) {
	e := testEnv()
	client := NewClient(testConfig(), e, nil)
	server := NewServer(5, testConfig(), e, nil)
	_, err := client.StartHandshake(1, nil, nil)
	require.NoError(t, err)
	reply := mustHelloReply(t, server)
	_, err = client.HandleFrame(reply)
	require.NoError(t, err)

	e.Advance(21 * time.Second)
	actions := client.Tick()
	require.Len(t, actions, 1)
	require.Equal(t, ActionSendFrame, actions[0].Kind)
	require.Equal(t, proto.OpPing, actions[0].Frame.Header.Opcode())
	require.Equal(t, Authenticated, client.Phase())
}

func TestGoodbyeClosesSession(t *testing.T) {
	e := testEnv()
	client := NewClient(testConfig(), e, nil)
	server := NewServer(5, testConfig(), e, nil)
	_, err := client.StartHandshake(1, nil, nil)
	require.NoError(t, err)
	reply := mustHelloReply(t, server)
	_, err = client.HandleFrame(reply)
	require.NoError(t, err)

	goodbye, err := proto.NewFrame(proto.OpGoodbye, proto.RoomID{}, 0, nil)
	require.NoError(t, err)
	actions, err := client.HandleFrame(goodbye)
	require.NoError(t, err)
	require.Len(t, actions, 2)
	require.Equal(t, ActionSendFrame, actions[0].Kind)
	require.Equal(t, ActionClose, actions[1].Kind)
	require.Equal(t, Closed, client.Phase())
}

func TestLocalCloseEmitsGoodbye(t *testing.T) {
	e := testEnv()
	client := NewClient(testConfig(), e, nil)
	actions, err := client.Close("shutting down")
	require.NoError(t, err)
	require.Len(t, actions, 2)
	require.Equal(t, proto.OpGoodbye, actions[0].Frame.Header.Opcode())
}
