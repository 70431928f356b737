package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"

	"github.com/VanDung-dev/HieraChain-Consensus/consensus"
)

// Version is the current version of the consensus service.
const Version = "0.1.0"

// Engine is the part of *consensus.Engine served over the network.
type Engine interface {
	RunConsensus(ctx context.Context, req consensus.ConsensusRequest) (*consensus.ConsensusResult, error)
	GetNodeStats() []consensus.EvaluatorNode
	GetHistory() map[string]consensus.ConsensusResult
	DispatchStats() consensus.DispatchStats
}

var _ Engine = (*consensus.Engine)(nil)

// Server implements ConsensusServiceServer on top of an Engine.
type Server struct {
	engine  Engine
	metrics *Metrics
	logger  *zap.Logger

	// Server state
	grpcServer *grpc.Server
	health     *health.Server
	listener   net.Listener
	startTime  time.Time

	// Control
	running bool
	mu      sync.RWMutex
}

// ServerConfig holds configuration for the gRPC server.
type ServerConfig struct {
	// Address to listen on (e.g., ":50051")
	Address string `yaml:"address"`

	// MaxRecvMsgSize is the maximum message size in bytes
	MaxRecvMsgSize int `yaml:"max_recv_msg_size"`

	// MaxSendMsgSize is the maximum message size in bytes
	MaxSendMsgSize int `yaml:"max_send_msg_size"`
}

// DefaultServerConfig returns a ServerConfig with sensible defaults.
func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		Address:        ":50051",
		MaxRecvMsgSize: 16 * 1024 * 1024, // 16MB
		MaxSendMsgSize: 16 * 1024 * 1024, // 16MB
	}
}

// NewServer creates a new gRPC server for engine. metrics may be nil.
func NewServer(engine Engine, config *ServerConfig, metrics *Metrics, logger *zap.Logger) (*Server, error) {
	if engine == nil {
		return nil, errors.New("engine is required")
	}
	if config == nil {
		config = DefaultServerConfig()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Server{
		engine:  engine,
		metrics: metrics,
		logger:  logger,
		health:  health.NewServer(),
	}

	s.grpcServer = grpc.NewServer(
		grpc.MaxRecvMsgSize(config.MaxRecvMsgSize),
		grpc.MaxSendMsgSize(config.MaxSendMsgSize),
		grpc.ChainUnaryInterceptor(s.observe),
	)
	RegisterConsensusServiceServer(s.grpcServer, s)
	healthpb.RegisterHealthServer(s.grpcServer, s.health)

	return s, nil
}

// Start listens on address and serves until Stop is called (blocking).
func (s *Server) Start(address string) error {
	lis, err := net.Listen("tcp", address)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", address, err)
	}
	return s.Serve(lis)
}

// StartAsync starts the gRPC server asynchronously and returns immediately.
func (s *Server) StartAsync(address string) error {
	lis, err := net.Listen("tcp", address)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", address, err)
	}

	if err := s.markRunning(lis); err != nil {
		_ = lis.Close()
		return err
	}

	go func() {
		if err := s.grpcServer.Serve(lis); err != nil {
			s.logger.Error("gRPC server stopped", zap.Error(err))
		}
	}()

	return nil
}

// Serve serves on an existing listener (blocking).
func (s *Server) Serve(lis net.Listener) error {
	if err := s.markRunning(lis); err != nil {
		return err
	}
	return s.grpcServer.Serve(lis)
}

func (s *Server) markRunning(lis net.Listener) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return errors.New("server is already running")
	}

	s.listener = lis
	s.running = true
	s.startTime = time.Now()
	s.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	s.health.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)

	s.logger.Info("gRPC server listening", zap.String("address", lis.Addr().String()))
	return nil
}

// Addr returns the listening address, or nil before the server starts.
func (s *Server) Addr() net.Addr {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Uptime returns how long the server has been running.
func (s *Server) Uptime() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.running {
		return 0
	}
	return time.Since(s.startTime)
}

// Stop gracefully stops the gRPC server.
func (s *Server) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.mu.Unlock()

	// In-flight handlers may still take the read lock.
	s.health.Shutdown()
	s.grpcServer.GracefulStop()
}

// RunConsensus runs one consensus round.
func (s *Server) RunConsensus(ctx context.Context, req *consensus.ConsensusRequest) (*consensus.ConsensusResult, error) {
	if req == nil {
		return nil, status.Error(codes.InvalidArgument, "empty request")
	}

	result, err := s.engine.RunConsensus(ctx, *req)
	if err != nil {
		return nil, toStatus(err)
	}
	return result, nil
}

// GetNodeStats returns a snapshot of the registry and dispatcher counters.
func (s *Server) GetNodeStats(context.Context, *Empty) (*NodeStatsResponse, error) {
	return &NodeStatsResponse{
		Nodes:    s.engine.GetNodeStats(),
		Dispatch: s.engine.DispatchStats(),
		Version:  Version,
		Uptime:   s.Uptime().Seconds(),
	}, nil
}

// GetHistory returns the recorded results keyed by fingerprint.
func (s *Server) GetHistory(context.Context, *Empty) (*HistoryResponse, error) {
	return &HistoryResponse{Results: s.engine.GetHistory()}, nil
}

// observe logs and records every unary call.
func (s *Server) observe(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
	start := time.Now()
	resp, err := handler(ctx, req)
	code := status.Code(err)

	if s.metrics != nil {
		s.metrics.RecordGRPCRequest(info.FullMethod, code.String(), time.Since(start))
	}
	if err != nil {
		s.logger.Debug("gRPC request failed",
			zap.String("method", info.FullMethod),
			zap.String("code", code.String()),
			zap.Error(err),
		)
	}

	return resp, err
}

// toStatus maps engine errors to gRPC status errors.
func toStatus(err error) error {
	switch {
	case errors.Is(err, consensus.ErrInvalidRequest):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, consensus.ErrConsensusUnavailable):
		return status.Error(codes.Unavailable, err.Error())
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}
