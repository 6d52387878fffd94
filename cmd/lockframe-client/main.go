// Package main is the lockframe client's command-line entrypoint: a thin,
// scriptable command surface over client.Client and transport.Dialer. Each
// subcommand is a standalone process: since this scaffold does not persist
// a client's MLS group state across invocations (client.Client keeps that
// state in memory only), commands that need room membership re-establish
// it via an external commit every time they run, which is a real,
// cryptographically valid operation rather than a shortcut.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/opd-ai/lockframe/client"
	"github.com/opd-ai/lockframe/crypto"
	"github.com/opd-ai/lockframe/env"
	"github.com/opd-ai/lockframe/proto"
	"github.com/opd-ai/lockframe/session"
	"github.com/opd-ai/lockframe/transport"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

type commonFlags struct {
	addr       string
	serverName string
	insecure   bool
	adminAddr  string
	identity   uint64
	timeout    time.Duration
	logLevel   string
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	flags := &commonFlags{}
	root := &cobra.Command{
		Use:   "lockframe-client",
		Short: "Drives a single lockframe identity through create-room, join, and send",
	}
	root.PersistentFlags().StringVar(&flags.addr, "addr", "127.0.0.1:4433", "server QUIC address")
	root.PersistentFlags().StringVar(&flags.serverName, "server-name", "localhost", "server name for TLS verification")
	root.PersistentFlags().BoolVar(&flags.insecure, "insecure", true, "skip TLS certificate verification (for a self-signed dev server)")
	root.PersistentFlags().StringVar(&flags.adminAddr, "admin-addr", "http://127.0.0.1:8081", "server admin HTTP base URL")
	root.PersistentFlags().Uint64Var(&flags.identity, "identity", 0, "this identity's member id (0 picks a random one)")
	root.PersistentFlags().DurationVar(&flags.timeout, "timeout", 10*time.Second, "how long to wait for a server response")
	root.PersistentFlags().StringVar(&flags.logLevel, "log-level", "warn", "log level: debug, info, warn, error")

	root.AddCommand(newCreateRoomCommand(flags))
	root.AddCommand(newJoinCommand(flags))
	root.AddCommand(newSendCommand(flags))
	return root
}

func newLogger(level string) *logrus.Logger {
	logger := logrus.New()
	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		parsed = logrus.WarnLevel
	}
	logger.SetLevel(parsed)
	return logger
}

func resolveIdentity(flags *commonFlags, environment env.Environment) uint64 {
	if flags.identity != 0 {
		return flags.identity
	}
	return environment.RandomUint64()
}

func transportMode(insecure bool) transport.Mode {
	if insecure {
		return transport.ModeInsecure
	}
	return transport.ModeVerified
}

// dialAndAuthenticate opens a QUIC connection and drives the session
// handshake to completion, returning a Conn ready for client.Client traffic.
func dialAndAuthenticate(ctx context.Context, flags *commonFlags, memberID uint64, environment env.Environment, logger *logrus.Logger) (*transport.Conn, error) {
	dialer := transport.NewDialer(transportMode(flags.insecure), flags.serverName, logger)
	conn, err := dialer.Dial(ctx, flags.addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", flags.addr, err)
	}

	sess := session.NewClient(session.DefaultConfig(), environment, logger)
	actions, err := sess.StartHandshake(memberID, nil, nil)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("start handshake: %w", err)
	}
	for _, a := range actions {
		if a.Kind != session.ActionSendFrame {
			continue
		}
		if err := conn.WriteFrame(a.Frame); err != nil {
			conn.Close()
			return nil, fmt.Errorf("send hello: %w", err)
		}
	}

	reply, err := conn.ReadFrame()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("read hello reply: %w", err)
	}
	if _, err := sess.HandleFrame(reply); err != nil {
		conn.Close()
		return nil, fmt.Errorf("handle hello reply: %w", err)
	}
	return conn, nil
}

// readUntil reads frames from conn until handle reports it is done, the
// deadline elapses, or a read error occurs. The reader goroutine it starts
// is abandoned on timeout; the process exits shortly after every call site
// that uses this, so the leak is bounded by the process's own lifetime.
func readUntil(conn *transport.Conn, deadline time.Duration, handle func(*proto.Frame) (bool, error)) error {
	type result struct {
		frame *proto.Frame
		err   error
	}
	frames := make(chan result, 1)
	timer := time.NewTimer(deadline)
	defer timer.Stop()

	for {
		go func() {
			frame, err := conn.ReadFrame()
			frames <- result{frame, err}
		}()

		select {
		case r := <-frames:
			if r.err != nil {
				return fmt.Errorf("read frame: %w", r.err)
			}
			done, err := handle(r.frame)
			if err != nil {
				return err
			}
			if done {
				return nil
			}
		case <-timer.C:
			return fmt.Errorf("timed out after %s waiting for server", deadline)
		}
	}
}

func parseRoomIDArg(raw string) (proto.RoomID, error) {
	roomID, err := proto.ParseRoomID(raw)
	if err != nil {
		return proto.RoomID{}, fmt.Errorf("invalid --room %q: %w", raw, err)
	}
	return roomID, nil
}

func newCreateRoomCommand(flags *commonFlags) *cobra.Command {
	var roomArg string
	cmd := &cobra.Command{
		Use:   "create-room",
		Short: "Create a new room and register it with the server",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger(flags.logLevel)
			environment := env.NewSystemEnvironment()
			memberID := resolveIdentity(flags, environment)

			roomID := proto.NewRoomID()
			if roomArg != "" {
				parsed, err := parseRoomIDArg(roomArg)
				if err != nil {
					return err
				}
				roomID = parsed
			}

			signing, err := crypto.GenerateSigningKeyPair()
			if err != nil {
				return fmt.Errorf("generate signing key: %w", err)
			}
			c := client.New(memberID, signing, environment, logger)
			if _, err := c.CreateRoom(roomID); err != nil {
				return fmt.Errorf("create room: %w", err)
			}

			if err := registerRoom(flags.adminAddr, roomID, memberID); err != nil {
				return fmt.Errorf("register room with server: %w", err)
			}

			ctx, cancel := context.WithTimeout(context.Background(), flags.timeout)
			defer cancel()
			conn, err := dialAndAuthenticate(ctx, flags, memberID, environment, logger)
			if err != nil {
				return fmt.Errorf("verify connectivity: %w", err)
			}
			defer conn.Close()

			fmt.Printf("room=%s creator=%d\n", roomID, memberID)
			return nil
		},
	}
	cmd.Flags().StringVar(&roomArg, "room", "", "room id to create (random UUID if omitted)")
	return cmd
}

// registerRoom calls the server's admin endpoint to register roomID, the
// out-of-band step the wire protocol itself has no opcode for.
func registerRoom(adminAddr string, roomID proto.RoomID, creator uint64) error {
	body, err := json.Marshal(struct {
		RoomID  string `json:"room_id"`
		Creator uint64 `json:"creator"`
	}{RoomID: roomID.String(), Creator: creator})
	if err != nil {
		return err
	}
	resp, err := http.Post(adminAddr+"/rooms", "application/json", bytes.NewReader(body))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		return fmt.Errorf("admin endpoint returned %s", resp.Status)
	}
	return nil
}

func newJoinCommand(flags *commonFlags) *cobra.Command {
	var roomArg string
	cmd := &cobra.Command{
		Use:   "join",
		Short: "Join an existing room via external commit",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger(flags.logLevel)
			environment := env.NewSystemEnvironment()
			memberID := resolveIdentity(flags, environment)

			roomID, err := parseRoomIDArg(roomArg)
			if err != nil {
				return err
			}

			signing, err := crypto.GenerateSigningKeyPair()
			if err != nil {
				return fmt.Errorf("generate signing key: %w", err)
			}
			c := client.New(memberID, signing, environment, logger)

			ctx, cancel := context.WithTimeout(context.Background(), flags.timeout)
			defer cancel()
			conn, err := dialAndAuthenticate(ctx, flags, memberID, environment, logger)
			if err != nil {
				return err
			}
			defer conn.Close()

			epoch, err := externalJoin(conn, c, roomID, flags.timeout)
			if err != nil {
				return err
			}
			fmt.Printf("joined room=%s member=%d epoch=%d\n", roomID, memberID, epoch)
			return nil
		},
	}
	cmd.Flags().StringVar(&roomArg, "room", "", "room id to join")
	cmd.MarkFlagRequired("room")
	return cmd
}

// externalJoin drives a GroupInfoRequest/GroupInfo round trip to
// completion, returning the room's epoch once c reports ActionRoomJoined.
func externalJoin(conn *transport.Conn, c *client.Client, roomID proto.RoomID, timeout time.Duration) (uint64, error) {
	actions, err := c.ExternalJoin(roomID)
	if err != nil {
		return 0, fmt.Errorf("external join: %w", err)
	}
	if err := sendAll(conn, actions); err != nil {
		return 0, err
	}

	var joinedEpoch uint64
	var joined bool
	err = readUntil(conn, timeout, func(frame *proto.Frame) (bool, error) {
		actions, err := c.FrameReceived(frame)
		if err != nil {
			return false, fmt.Errorf("process frame: %w", err)
		}
		for _, a := range actions {
			switch a.Kind {
			case client.ActionRoomJoined:
				joinedEpoch = a.Epoch
				joined = true
			case client.ActionKeyPackageNeeded:
				return false, fmt.Errorf("join failed: %s", a.Reason)
			}
		}
		return joined, nil
	})
	if err != nil {
		return 0, err
	}
	return joinedEpoch, nil
}

func sendAll(conn *transport.Conn, actions []client.Action) error {
	for _, a := range actions {
		if a.Kind != client.ActionSend {
			continue
		}
		if err := conn.WriteFrame(a.Frame); err != nil {
			return fmt.Errorf("write frame: %w", err)
		}
	}
	return nil
}

func newSendCommand(flags *commonFlags) *cobra.Command {
	var roomArg string
	var message string
	cmd := &cobra.Command{
		Use:   "send",
		Short: "Join a room via external commit and send one message",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger(flags.logLevel)
			environment := env.NewSystemEnvironment()
			memberID := resolveIdentity(flags, environment)

			roomID, err := parseRoomIDArg(roomArg)
			if err != nil {
				return err
			}

			signing, err := crypto.GenerateSigningKeyPair()
			if err != nil {
				return fmt.Errorf("generate signing key: %w", err)
			}
			c := client.New(memberID, signing, environment, logger)

			ctx, cancel := context.WithTimeout(context.Background(), flags.timeout)
			defer cancel()
			conn, err := dialAndAuthenticate(ctx, flags, memberID, environment, logger)
			if err != nil {
				return err
			}
			defer conn.Close()

			if _, err := externalJoin(conn, c, roomID, flags.timeout); err != nil {
				return fmt.Errorf("rejoin before send: %w", err)
			}

			actions, err := c.SendMessage(roomID, []byte(message))
			if err != nil {
				return fmt.Errorf("send message: %w", err)
			}
			if err := sendAll(conn, actions); err != nil {
				return err
			}
			fmt.Printf("sent room=%s member=%d bytes=%d\n", roomID, memberID, len(message))
			return nil
		},
	}
	cmd.Flags().StringVar(&roomArg, "room", "", "room id to send into")
	cmd.Flags().StringVar(&message, "message", "", "plaintext message to send")
	cmd.MarkFlagRequired("room")
	cmd.MarkFlagRequired("message")
	return cmd
}
