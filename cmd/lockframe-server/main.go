// Package main is the lockframe server's command-line entrypoint. It wires
// a transport.Listener, a server.Driver, and a storage.Store together into
// a runnable process and exposes a small local admin endpoint for the
// room-creation call the core intentionally leaves out of its wire
// protocol (room registration is an administrative act of the embedding
// application, not a client-initiated frame).
package main

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/json"
	"fmt"
	"math/big"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/opd-ai/lockframe/env"
	"github.com/opd-ai/lockframe/proto"
	"github.com/opd-ai/lockframe/server"
	"github.com/opd-ai/lockframe/storage"
	"github.com/opd-ai/lockframe/storage/boltstore"
	"github.com/opd-ai/lockframe/storage/memory"
	"github.com/opd-ai/lockframe/transport"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

type serveFlags struct {
	addr         string
	adminAddr    string
	storageKind  string
	boltPath     string
	certPath     string
	keyPath      string
	maxConns     int
	logLevel     string
	tickInterval time.Duration
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	flags := &serveFlags{}
	root := &cobra.Command{
		Use:   "lockframe-server",
		Short: "Runs the lockframe room-sequencing server",
	}
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Accept QUIC connections and sequence room traffic",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(flags)
		},
	}
	serveCmd.Flags().StringVar(&flags.addr, "addr", ":4433", "QUIC listen address")
	serveCmd.Flags().StringVar(&flags.adminAddr, "admin-addr", "127.0.0.1:8081", "local HTTP admin listen address")
	serveCmd.Flags().StringVar(&flags.storageKind, "storage", "memory", "storage backend: memory or bolt")
	serveCmd.Flags().StringVar(&flags.boltPath, "bolt-path", "lockframe.db", "bbolt database path, when --storage=bolt")
	serveCmd.Flags().StringVar(&flags.certPath, "cert", "", "TLS certificate path (generates a self-signed cert if empty)")
	serveCmd.Flags().StringVar(&flags.keyPath, "key", "", "TLS key path, required alongside --cert")
	serveCmd.Flags().IntVar(&flags.maxConns, "max-connections", 0, "override the default max live connections (0 keeps the default)")
	serveCmd.Flags().StringVar(&flags.logLevel, "log-level", "info", "log level: debug, info, warn, error")
	serveCmd.Flags().DurationVar(&flags.tickInterval, "tick-interval", time.Second, "interval between driver Tick sweeps")
	root.AddCommand(serveCmd)
	return root
}

func runServe(flags *serveFlags) error {
	logger := newLogger(flags.logLevel)

	store, err := openStore(flags, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	cert, err := loadOrGenerateCert(flags.certPath, flags.keyPath, logger)
	if err != nil {
		return fmt.Errorf("lockframe-server: %w", err)
	}

	config := server.DefaultConfig()
	if flags.maxConns > 0 {
		config.MaxConnections = flags.maxConns
	}
	environment := env.NewSystemEnvironment()
	driver := server.New(store, environment, config, logger)

	listener, err := transport.Listen(flags.addr, cert, logger)
	if err != nil {
		return fmt.Errorf("lockframe-server: %w", err)
	}
	defer listener.Close()

	adminSrv, err := newAdminServer(flags.adminAddr, driver, logger)
	if err != nil {
		return fmt.Errorf("lockframe-server: %w", err)
	}
	defer adminSrv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("received shutdown signal")
		cancel()
	}()

	conns := newLiveConns()
	go runTickLoop(ctx, driver, environment, conns, flags.tickInterval, logger)

	logger.WithFields(logrus.Fields{"addr": listener.Addr()}).Info("lockframe-server listening")
	return acceptLoop(ctx, listener, driver, conns, logger)
}

func newLogger(level string) *logrus.Logger {
	logger := logrus.New()
	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		parsed = logrus.InfoLevel
	}
	logger.SetLevel(parsed)
	return logger
}

func openStore(flags *serveFlags, logger *logrus.Logger) (storage.Store, error) {
	switch flags.storageKind {
	case "memory":
		return memory.New(logger), nil
	case "bolt":
		return boltstore.Open(flags.boltPath, logger)
	default:
		return nil, fmt.Errorf("lockframe-server: unknown --storage %q (want memory or bolt)", flags.storageKind)
	}
}

// loadOrGenerateCert loads an operator-supplied certificate, or generates
// an ephemeral self-signed one for local development. TLS certificate
// management proper (rotation, ACME, a trust store) is out of scope for
// this module's core; this covers exactly enough to run the QUIC listener.
func loadOrGenerateCert(certPath, keyPath string, logger *logrus.Logger) (tls.Certificate, error) {
	if certPath != "" && keyPath != "" {
		return tls.LoadX509KeyPair(certPath, keyPath)
	}
	logger.Warn("no --cert/--key given, generating an ephemeral self-signed certificate")
	return generateSelfSignedCert()
}

func generateSelfSignedCert() (tls.Certificate, error) {
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("generate key: %w", err)
	}
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("generate serial: %w", err)
	}
	template := &x509.Certificate{
		SerialNumber:          serial,
		Subject:               pkix.Name{Organization: []string{"lockframe"}},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(365 * 24 * time.Hour),
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		DNSNames:              []string{"localhost"},
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, &priv.PublicKey, priv)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("create certificate: %w", err)
	}
	return tls.Certificate{Certificate: [][]byte{der}, PrivateKey: priv}, nil
}

func runTickLoop(ctx context.Context, driver *server.Driver, environment env.Environment, conns *liveConns, interval time.Duration, logger *logrus.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			dispatch(conns, driver, logger, driver.Tick(environment.Now()))
		}
	}
}

// liveConns maps a session id to the Conn it was accepted on, so Actions
// naming a SessionID (rather than a frame this goroutine is already
// holding) can be routed.
type liveConns struct {
	mu    sync.Mutex
	conns map[uint64]*transport.Conn
}

func newLiveConns() *liveConns {
	return &liveConns{conns: make(map[uint64]*transport.Conn)}
}

func (l *liveConns) put(sessionID uint64, conn *transport.Conn) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.conns[sessionID] = conn
}

func (l *liveConns) remove(sessionID uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.conns, sessionID)
}

func (l *liveConns) get(sessionID uint64) (*transport.Conn, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	c, ok := l.conns[sessionID]
	return c, ok
}

func acceptLoop(ctx context.Context, listener *transport.Listener, driver *server.Driver, conns *liveConns, logger *logrus.Logger) error {
	var nextSessionID uint64
	var idMu sync.Mutex

	for {
		conn, err := listener.Accept(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			logger.WithError(err).Warn("accept failed")
			continue
		}

		idMu.Lock()
		nextSessionID++
		sessionID := nextSessionID
		idMu.Unlock()

		conns.put(sessionID, conn)
		go serveConnection(sessionID, conn, driver, conns, logger)
	}
}

func serveConnection(sessionID uint64, conn *transport.Conn, driver *server.Driver, conns *liveConns, logger *logrus.Logger) {
	defer func() {
		conns.remove(sessionID)
		conn.Close()
	}()

	dispatch(conns, driver, logger, driver.ConnectionAccepted(sessionID))

	for {
		frame, err := conn.ReadFrame()
		if err != nil {
			driver.ConnectionClosed(sessionID, err.Error())
			return
		}
		dispatch(conns, driver, logger, driver.FrameReceived(sessionID, frame))
	}
}

// dispatch carries out every Action a Driver call returned, following each
// SessionID/RoomID back to the live Conn(s) it names.
func dispatch(conns *liveConns, driver *server.Driver, logger *logrus.Logger, actions []server.Action) {
	for _, a := range actions {
		switch a.Kind {
		case server.ActionSendToSession:
			if a.Frame == nil {
				continue
			}
			if conn, ok := conns.get(a.SessionID); ok {
				if err := conn.WriteFrame(a.Frame); err != nil {
					logger.WithError(err).WithField("session_id", a.SessionID).Warn("write frame failed")
				}
			}
		case server.ActionBroadcastToRoom:
			if a.Frame == nil {
				continue
			}
			for _, sessionID := range driver.RoomSubscribers(a.RoomID) {
				if a.ExcludeSessionID != nil && sessionID == *a.ExcludeSessionID {
					continue
				}
				if conn, ok := conns.get(sessionID); ok {
					if err := conn.WriteFrame(a.Frame); err != nil {
						logger.WithError(err).WithField("session_id", sessionID).Warn("write frame failed")
					}
				}
			}
		case server.ActionCloseConnection:
			if conn, ok := conns.get(a.SessionID); ok {
				conn.Close()
			}
		case server.ActionLog:
			logger.WithField("reason", a.Reason).Debug("driver log action")
		}
	}
}

// createRoomRequest is the admin endpoint's request body for registering a
// brand-new room with the driver's room manager, the out-of-band act the
// core's wire protocol deliberately has no opcode for (room creation is the
// embedding application's call, per the driver.CreateRoom doc comment).
type createRoomRequest struct {
	RoomID  string `json:"room_id"`
	Creator uint64 `json:"creator"`
}

func newAdminServer(addr string, driver *server.Driver, logger *logrus.Logger) (*http.Server, error) {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/rooms", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		var req createRoomRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		roomID, err := proto.ParseRoomID(req.RoomID)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		// CreateRoom is keyed off a live session, but room registration can
		// legitimately precede the creator's first connection (e.g. a
		// pre-provisioned room); session zero is not a real session id, so
		// the driver simply has nothing to notify yet.
		if err := driver.CreateRoom(0, roomID, req.Creator); err != nil {
			http.Error(w, err.Error(), http.StatusConflict)
			return
		}
		logger.WithFields(logrus.Fields{"room_id": roomID, "creator": req.Creator}).Info("room registered via admin endpoint")
		w.WriteHeader(http.StatusCreated)
	})
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("admin listener: %w", err)
	}
	srv := &http.Server{Handler: mux}
	go func() {
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Error("admin server stopped")
		}
	}()
	logger.WithField("addr", ln.Addr().String()).Info("admin endpoint listening")
	return srv, nil
}
