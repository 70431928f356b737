package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"
)

// BatchServerConfig holds configuration for the Arrow batch server.
type BatchServerConfig struct {
	// Address to listen on (e.g., ":50052")
	Address string `yaml:"address"`

	// Concurrency bounds the rounds one batch runs in parallel
	Concurrency int `yaml:"concurrency"`

	// IdleTimeout closes connections that send nothing for this long
	IdleTimeout time.Duration `yaml:"idle_timeout"`

	// AuthTimeout bounds the handshake when auth is enabled
	AuthTimeout time.Duration `yaml:"auth_timeout"`
}

// DefaultBatchServerConfig returns a BatchServerConfig with sensible defaults.
func DefaultBatchServerConfig() *BatchServerConfig {
	return &BatchServerConfig{
		Address:     ":50052",
		Concurrency: DefaultBatchConcurrency,
		IdleTimeout: 5 * time.Minute,
		AuthTimeout: 10 * time.Second,
	}
}

// BatchServer is a TCP server that accepts length-prefixed Arrow IPC request
// batches and replies with Arrow IPC result batches.
type BatchServer struct {
	config  *BatchServerConfig
	handler *BatchHandler
	auth    *Authenticator
	logger  *zap.Logger

	listener net.Listener
	conns    map[net.Conn]struct{}
	running  bool
	mu       sync.Mutex
	quit     chan struct{}
	wg       sync.WaitGroup

	ctx    context.Context
	cancel context.CancelFunc
}

// NewBatchServer creates a new BatchServer. auth and metrics may be nil.
func NewBatchServer(engine Engine, config *BatchServerConfig, auth *Authenticator, metrics *Metrics, logger *zap.Logger) (*BatchServer, error) {
	if engine == nil {
		return nil, errors.New("engine is required")
	}
	if config == nil {
		config = DefaultBatchServerConfig()
	}
	if auth == nil {
		auth = NewAuthenticator(AuthConfig{})
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &BatchServer{
		config:  config,
		handler: NewBatchHandler(engine, config.Concurrency, metrics, logger),
		auth:    auth,
		logger:  logger,
		conns:   make(map[net.Conn]struct{}),
		quit:    make(chan struct{}),
		ctx:     ctx,
		cancel:  cancel,
	}, nil
}

// Start starts the batch server on the specified address.
// This method blocks until the server is stopped or fails.
func (s *BatchServer) Start(address string) error {
	lis, err := net.Listen("tcp", address)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", address, err)
	}
	return s.Serve(lis)
}

// StartAsync starts the server in a background goroutine.
func (s *BatchServer) StartAsync(address string) error {
	lis, err := net.Listen("tcp", address)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", address, err)
	}
	if err := s.markRunning(lis); err != nil {
		_ = lis.Close()
		return err
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.acceptLoop(lis)
	}()

	return nil
}

// Serve accepts connections on lis until Stop is called (blocking).
func (s *BatchServer) Serve(lis net.Listener) error {
	if err := s.markRunning(lis); err != nil {
		return err
	}

	s.wg.Add(1)
	defer s.wg.Done()
	s.acceptLoop(lis)
	return nil
}

func (s *BatchServer) markRunning(lis net.Listener) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return errors.New("server is already running")
	}
	select {
	case <-s.quit:
		return errors.New("server is stopped")
	default:
	}

	s.listener = lis
	s.running = true

	s.logger.Info("batch server listening",
		zap.String("address", lis.Addr().String()),
		zap.Bool("auth", s.auth.IsEnabled()),
	)
	return nil
}

// Addr returns the listening address, or nil before the server starts.
func (s *BatchServer) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Stop closes the listener and all open connections, cancels in-flight
// rounds and waits for connection handlers to return.
func (s *BatchServer) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}

	s.running = false
	close(s.quit)
	s.cancel()
	if s.listener != nil {
		if err := s.listener.Close(); err != nil {
			s.logger.Debug("listener close failed", zap.Error(err))
		}
	}
	for conn := range s.conns {
		_ = conn.Close()
	}
	s.mu.Unlock()

	s.wg.Wait()
}

func (s *BatchServer) acceptLoop(lis net.Listener) {
	for {
		conn, err := lis.Accept()
		if err != nil {
			select {
			case <-s.quit:
				return
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			s.logger.Warn("accept failed", zap.Error(err))
			time.Sleep(10 * time.Millisecond)
			continue
		}

		if !s.track(conn) {
			_ = conn.Close()
			return
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer s.untrack(conn)
			s.handleConnection(conn)
		}()
	}
}

func (s *BatchServer) track(conn net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return false
	}
	s.conns[conn] = struct{}{}
	return true
}

func (s *BatchServer) untrack(conn net.Conn) {
	s.mu.Lock()
	delete(s.conns, conn)
	s.mu.Unlock()

	_ = conn.Close()
}

// handleConnection serves one client: an optional auth handshake followed
// by request/reply frames until the client hangs up.
func (s *BatchServer) handleConnection(conn net.Conn) {
	log := s.logger.With(zap.String("remote", conn.RemoteAddr().String()))

	if s.auth.IsEnabled() {
		if err := s.authenticate(conn); err != nil {
			log.Warn("authentication failed", zap.Error(err))
			return
		}
	}

	for {
		if s.config.IdleTimeout > 0 {
			_ = conn.SetReadDeadline(time.Now().Add(s.config.IdleTimeout))
		}

		frame, err := ReadMessage(conn)
		if err != nil {
			if errors.Is(err, ErrMessageTooLarge) {
				s.replyError(conn, err)
			} else if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				log.Debug("read failed", zap.Error(err))
			}
			return
		}

		reply, err := s.handler.ProcessBatch(s.ctx, frame)
		if err != nil {
			log.Debug("batch rejected", zap.Error(err))
			s.replyError(conn, err)
			continue
		}

		if err := WriteMessage(conn, reply); err != nil {
			log.Debug("write failed", zap.Error(err))
			return
		}
	}
}

func (s *BatchServer) authenticate(conn net.Conn) error {
	if s.config.AuthTimeout > 0 {
		_ = conn.SetReadDeadline(time.Now().Add(s.config.AuthTimeout))
	}
	return s.auth.Accept(conn)
}

func (s *BatchServer) replyError(conn net.Conn, cause error) {
	reply, err := s.handler.ErrorReply(cause)
	if err != nil {
		s.logger.Error("failed to encode error reply", zap.Error(err))
		return
	}
	_ = WriteMessage(conn, reply)
}
