package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/go-stream/relaykit/hlsrelay/config"
	"github.com/go-stream/relaykit/hlsrelay/protocol"
	"github.com/go-stream/relaykit/hlsrelay/service/relay"
	"github.com/go-stream/relaykit/hlsrelay/service/store"
)

const shutdownTimeout = 10 * time.Second

// DaemonFlags configures the daemon process. Zero values defer to the
// persisted configuration.
type DaemonFlags struct {
	WorkDir         string
	SessionTTL      time.Duration
	MaxSessions     int
	HistoryCapacity int
	DisableHistory  bool
}

// Server is the hlsrelay service daemon. It owns the loopback relay, the
// exchange history, and the unix-socket control API.
type Server struct {
	paths ServicePaths
	cfg   *config.Config

	relay   *relay.Relay
	flowLog *FlowLog

	// Runtime state
	listener   net.Listener
	httpServer *http.Server
	lockFile   *os.File
	started    chan struct{}
	startedAt  time.Time

	// Health metrics providers (registered by subsystems)
	mu             sync.RWMutex
	metricProvider map[string]HealthMetricProvider

	// Shutdown coordination
	shutdownCh chan struct{}
	wg         sync.WaitGroup
}

func NewServer(flags DaemonFlags) (*Server, error) {
	if flags.WorkDir == "" {
		return nil, errors.New("workdir is required for service mode")
	}

	paths := NewServicePaths(flags.WorkDir)
	cfg, err := config.Load(paths.ConfigPath)
	if errors.Is(err, os.ErrNotExist) {
		// Uninitialized workdir, run on defaults.
		cfg = config.DefaultConfig(config.Version)
	} else if err != nil {
		return nil, err
	}
	applyFlags(cfg, flags)

	s := &Server{
		paths:          paths,
		cfg:            cfg,
		metricProvider: make(map[string]HealthMetricProvider),
		started:        make(chan struct{}),
		shutdownCh:     make(chan struct{}),
	}

	if err := os.MkdirAll(s.paths.ServiceDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create service directory: %w", err)
	}

	if cfg.History.Enabled {
		storage, err := historyStorage(paths, cfg.History)
		if err != nil {
			return nil, fmt.Errorf("open history storage: %w", err)
		}
		s.flowLog = NewFlowLog(storage, cfg.History.Capacity, cfg.History.MaxBodyBytes)
	}

	rcfg := relay.Config{
		MaxSessions:    cfg.Relay.MaxSessions,
		SessionTTL:     cfg.Relay.SessionTTL.Std(),
		MaxHeaderBytes: cfg.Relay.MaxHeaderBytes,
		ConnectTimeout: cfg.Relay.ConnectTimeout.Std(),
		RequestTimeout: cfg.Relay.RequestTimeout.Std(),
		ReadTimeout:    cfg.Relay.ReadTimeout.Std(),
	}
	if s.flowLog != nil {
		rcfg.Recorder = s.flowLog
	}
	s.relay = relay.New(rcfg)

	s.RegisterHealthMetric("sessions", func() string {
		return strconv.Itoa(s.relay.Sessions().Len())
	})
	if s.flowLog != nil {
		s.RegisterHealthMetric("flows", func() string {
			return strconv.Itoa(s.flowLog.Len())
		})
	}

	return s, nil
}

// applyFlags layers command-line overrides over the persisted config.
func applyFlags(cfg *config.Config, flags DaemonFlags) {
	if flags.SessionTTL > 0 {
		cfg.Relay.SessionTTL = config.Duration(flags.SessionTTL)
	}
	if flags.MaxSessions > 0 {
		cfg.Relay.MaxSessions = flags.MaxSessions
	}
	if flags.HistoryCapacity > 0 {
		cfg.History.Capacity = flags.HistoryCapacity
	}
	if flags.DisableHistory {
		cfg.History.Enabled = false
	}
}

// historyStorage picks the history backend: the encrypted on-disk archive
// when configured, memory otherwise.
func historyStorage(paths ServicePaths, hc config.HistoryConfig) (store.Storage, error) {
	if !hc.DiskArchive {
		return store.NewMemStorage(), nil
	}
	cfg := store.DefaultArchiveConfig()
	cfg.Dir = paths.ArchiveDir
	return store.NewArchiveStore(cfg)
}

func (s *Server) WaitTillStarted() {
	<-s.started
}

// Run starts the daemon and blocks until shutdown.
func (s *Server) Run(ctx context.Context) error {
	markStarted := sync.OnceFunc(func() {
		s.startedAt = time.Now()
		close(s.started)
	})
	defer markStarted() // even on error we consider it started (then immediately stopped)

	// Acquire exclusive lock on PID file (non-blocking, fail fast if another instance is running)
	// This also writes the PID to the file
	if err := s.acquireLock(); err != nil {
		return fmt.Errorf("failed to acquire lock: %w", err)
	}
	defer s.releaseLock()

	// Create Unix socket listener
	if err := s.createListener(); err != nil {
		return fmt.Errorf("failed to create listener: %w", err)
	}
	defer func() { _ = s.listener.Close() }()
	defer func() { _ = os.Remove(s.paths.SocketPath) }()

	// Bring up the loopback relay before accepting control requests so
	// health can always report its port.
	if err := s.relay.Start(ctx); err != nil {
		return fmt.Errorf("failed to start relay: %w", err)
	}
	if err := s.relay.WaitReady(ctx); err != nil {
		return fmt.Errorf("relay not ready: %w", err)
	}
	log.Printf("relay listening on %s", s.relay.Addr())

	// Setup HTTP server with base context
	s.httpServer = &http.Server{
		Handler: s.routes(),
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}

	// Setup signal handling
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	// Run server in goroutine
	serverErr := make(chan error, 1)
	go func() {
		markStarted()
		if err := s.httpServer.Serve(s.listener); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case <-ctx.Done():
		log.Printf("context cancelled, initiating shutdown")
	case sig := <-sigCh:
		log.Printf("received signal %v, initiating shutdown", sig)
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	case <-s.shutdownCh:
		log.Printf("shutdown requested via API")
	}

	signal.Stop(sigCh)

	return s.shutdown()
}

// shutdown performs graceful shutdown.
func (s *Server) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
	}

	if err := s.relay.Close(); err != nil {
		log.Printf("relay shutdown error: %v", err)
	}
	if s.flowLog != nil {
		if err := s.flowLog.Close(); err != nil {
			log.Printf("history shutdown error: %v", err)
		}
	}

	// Wait for any ongoing operations
	s.wg.Wait()

	log.Printf("service stopped")
	return nil
}

// acquireLock acquires an exclusive flock on the PID file (non-blocking, fails fast).
// The lock is held for the lifetime of the server to prevent concurrent instances.
func (s *Server) acquireLock() error {
	f, err := os.OpenFile(s.paths.PIDPath, os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return err
	}

	// Acquire exclusive lock (non-blocking - fail fast if another instance is running)
	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		_ = f.Close()
		return fmt.Errorf("another service instance is running: %w", err)
	}

	// Write PID to the locked file
	if err := f.Truncate(0); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to truncate PID file: %w", err)
	} else if _, err := f.WriteString(strconv.Itoa(os.Getpid())); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to write PID: %w", err)
	}

	s.lockFile = f
	return nil
}

// releaseLock releases the lock file and removes the PID file.
func (s *Server) releaseLock() {
	if s.lockFile != nil {
		_ = s.lockFile.Close() // closing releases flock
		_ = os.Remove(s.paths.PIDPath)
		s.lockFile = nil
	}
}

func (s *Server) createListener() error {
	_ = os.Remove(s.paths.SocketPath)

	listener, err := net.Listen("unix", s.paths.SocketPath)
	if err != nil {
		return err
	}

	if err := os.Chmod(s.paths.SocketPath, 0600); err != nil {
		_ = listener.Close()
		return err
	}

	s.listener = listener
	return nil
}

// routes sets up the HTTP routes.
func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("POST /srv/stop", s.handleStop)

	mux.HandleFunc("POST /url/create", s.handleURLCreate)
	mux.HandleFunc("POST /session/list", s.handleSessionList)
	mux.HandleFunc("POST /session/delete", s.handleSessionDelete)

	mux.HandleFunc("POST /history/list", s.handleHistoryList)
	mux.HandleFunc("POST /history/get", s.handleHistoryGet)
	mux.HandleFunc("POST /history/diff", s.handleHistoryDiff)

	return mux
}

// RegisterHealthMetric registers a health metric provider for the given key.
// The provider function is called during health checks to get the current value.
func (s *Server) RegisterHealthMetric(key string, provider HealthMetricProvider) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metricProvider[key] = provider
}

// handleHealth handles GET /health
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	health := protocol.HealthResponse{
		Version:   config.Version,
		StartedAt: s.startedAt.UTC().Format(time.RFC3339),
		PID:       os.Getpid(),
		RelayAddr: s.relay.Addr(),
	}

	// Collect metrics from registered providers
	if len(s.metricProvider) > 0 {
		health.Metrics = make(map[string]string, len(s.metricProvider))
		for key, provider := range s.metricProvider {
			health.Metrics[key] = provider()
		}
	}
	s.mu.RUnlock()

	s.writeJSON(w, http.StatusOK, health)
}

// handleStop handles POST /srv/stop
func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	resp := protocol.StopResponse{
		Message: "shutdown initiated",
	}
	s.writeJSON(w, http.StatusOK, resp)

	// Signal shutdown after response is sent (use RequestShutdown for double-close protection)
	time.AfterFunc(100*time.Millisecond, s.RequestShutdown)
}

// writeJSON writes a successful JSON response
func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	resp, err := protocol.SuccessResponse(data)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, protocol.ErrCodeInternal, err.Error(), "")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		log.Printf("failed to encode response: %v", err)
	}
}

// writeError writes an error JSON response
func (s *Server) writeError(w http.ResponseWriter, status int, code, message, hint string) {
	resp := protocol.ErrorResponse(code, message, hint)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		log.Printf("failed to encode error response: %v", err)
	}
}

// RequestShutdown can be called internally to trigger shutdown
func (s *Server) RequestShutdown() {
	select {
	case <-s.shutdownCh:
		// Already shutting down
	default:
		close(s.shutdownCh)
	}
}
