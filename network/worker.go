package network

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-zeromq/zmq4"
	lru "github.com/hashicorp/golang-lru"
	"go.uber.org/zap"

	"github.com/VanDung-dev/HieraChain-Consensus/consensus"
)

// WorkerConfig defines configuration for a Worker.
type WorkerConfig struct {
	// Address is the ZeroMQ endpoint to bind (e.g., "tcp://127.0.0.1:5560")
	Address string `yaml:"address"`
	// MaxConcurrent bounds the calls executed at once
	MaxConcurrent int `yaml:"max_concurrent"`
	// DefaultTimeout applies to requests that carry no timeout
	DefaultTimeout time.Duration `yaml:"default_timeout"`
	// ReplayTolerance rejects requests older than this
	ReplayTolerance time.Duration `yaml:"replay_tolerance"`
	// ReplayCacheSize is the number of request IDs remembered for replay checks
	ReplayCacheSize int `yaml:"replay_cache_size"`
}

// DefaultWorkerConfig returns a configuration with sensible defaults.
func DefaultWorkerConfig() WorkerConfig {
	return WorkerConfig{
		Address:         "tcp://127.0.0.1:5560",
		MaxConcurrent:   64,
		DefaultTimeout:  30 * time.Second,
		ReplayTolerance: 60 * time.Second,
		ReplayCacheSize: 4096,
	}
}

// WorkerStats contains worker statistics.
type WorkerStats struct {
	Address   string `json:"address"`
	IsRunning bool   `json:"is_running"`
	Received  int64  `json:"received"`
	Served    int64  `json:"served"`
	Failed    int64  `json:"failed"`
	Dropped   int64  `json:"dropped"`
}

// Worker serves a consensus.TaskExecutor on a ZeroMQ ROUTER socket. Each
// ExecRequest is executed in its own goroutine and answered with an
// ExecReply routed back to the sender.
type Worker struct {
	config   WorkerConfig
	executor consensus.TaskExecutor
	logger   *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc

	router zmq4.Socket
	sendMu sync.Mutex
	sem    chan struct{}

	// Replay protection
	seen *lru.Cache

	running bool
	mu      sync.RWMutex
	wg      sync.WaitGroup

	received atomic.Int64
	served   atomic.Int64
	failed   atomic.Int64
	dropped  atomic.Int64
}

// NewWorker creates a worker for executor. logger may be nil.
func NewWorker(config WorkerConfig, executor consensus.TaskExecutor, logger *zap.Logger) (*Worker, error) {
	if executor == nil {
		return nil, fmt.Errorf("executor is required")
	}
	if config.MaxConcurrent <= 0 {
		config.MaxConcurrent = DefaultWorkerConfig().MaxConcurrent
	}
	if config.ReplayCacheSize <= 0 {
		config.ReplayCacheSize = DefaultWorkerConfig().ReplayCacheSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	seen, err := lru.New(config.ReplayCacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create replay cache: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		config:   config,
		executor: executor,
		logger:   logger,
		ctx:      ctx,
		cancel:   cancel,
		sem:      make(chan struct{}, config.MaxConcurrent),
		seen:     seen,
	}, nil
}

// Start binds the ROUTER socket and begins serving.
func (w *Worker) Start() error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return ErrAlreadyRunning
	}
	if w.ctx.Err() != nil {
		w.mu.Unlock()
		return ErrNotRunning
	}

	w.router = zmq4.NewRouter(w.ctx)
	if err := w.router.Listen(w.config.Address); err != nil {
		w.mu.Unlock()
		return fmt.Errorf("failed to bind router: %w", err)
	}

	w.running = true
	w.mu.Unlock()

	w.logger.Info("worker listening", zap.String("address", w.config.Address))

	w.wg.Add(1)
	go w.receiverLoop()

	return nil
}

// Stop closes the socket, cancels in-flight calls and waits for them.
func (w *Worker) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	w.mu.Unlock()

	w.cancel()

	// Best effort: errors are expected during shutdown.
	if err := w.router.Close(); err != nil {
		w.logger.Debug("router close failed", zap.Error(err))
	}

	w.wg.Wait()
}

// Addr returns the bound address, or nil when not running.
func (w *Worker) Addr() net.Addr {
	w.mu.RLock()
	defer w.mu.RUnlock()

	if !w.running {
		return nil
	}
	return w.router.Addr()
}

// Endpoint returns the bound address as a tcp:// endpoint.
func (w *Worker) Endpoint() string {
	addr := w.Addr()
	if addr == nil {
		return ""
	}
	return "tcp://" + addr.String()
}

// GetStats returns current worker statistics.
func (w *Worker) GetStats() WorkerStats {
	w.mu.RLock()
	running := w.running
	w.mu.RUnlock()

	return WorkerStats{
		Address:   w.config.Address,
		IsRunning: running,
		Received:  w.received.Load(),
		Served:    w.served.Load(),
		Failed:    w.failed.Load(),
		Dropped:   w.dropped.Load(),
	}
}

// receiverLoop continuously receives requests from the ROUTER socket.
func (w *Worker) receiverLoop() {
	defer w.wg.Done()

	for {
		msg, err := w.router.Recv()
		if err != nil {
			select {
			case <-w.ctx.Done():
				return
			default:
				w.logger.Debug("receive failed", zap.Error(err))
			}
			if !sleepCtx(w.ctx, recvRetryDelay) {
				return
			}
			continue
		}

		// ROUTER prepends the sender identity.
		if len(msg.Frames) < 2 {
			w.dropped.Add(1)
			continue
		}
		identity := msg.Frames[0]
		payload := msg.Frames[len(msg.Frames)-1]

		var req ExecRequest
		if err := decode(payload, &req); err != nil || req.ID == "" {
			w.dropped.Add(1)
			w.logger.Debug("invalid request dropped", zap.Error(err))
			continue
		}
		w.received.Add(1)

		if !w.isValidReplay(&req) {
			w.dropped.Add(1)
			w.logger.Debug("replayed request dropped", zap.String("id", req.ID))
			continue
		}

		select {
		case w.sem <- struct{}{}:
		case <-w.ctx.Done():
			return
		}

		w.wg.Add(1)
		go func() {
			defer w.wg.Done()
			defer func() { <-w.sem }()
			w.handle(identity, req)
		}()
	}
}

// isValidReplay rejects duplicate and stale requests.
func (w *Worker) isValidReplay(req *ExecRequest) bool {
	if w.config.ReplayTolerance > 0 && !req.Timestamp.IsZero() &&
		time.Since(req.Timestamp) > w.config.ReplayTolerance {
		return false
	}
	seen, _ := w.seen.ContainsOrAdd(req.ID, struct{}{})
	return !seen
}

func (w *Worker) handle(identity []byte, req ExecRequest) {
	timeout := w.config.DefaultTimeout
	if req.TimeoutMs > 0 {
		timeout = time.Duration(req.TimeoutMs) * time.Millisecond
	}

	ctx := w.ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(w.ctx, timeout)
		defer cancel()
	}

	reply := ExecReply{ID: req.ID}
	result, err := w.execute(ctx, req.Call)
	switch {
	case err != nil:
		reply.Error = err.Error()
	case result == nil:
		reply.Error = "executor returned no result"
	default:
		reply.Result = result
	}

	if reply.Error != "" {
		w.failed.Add(1)
		w.logger.Debug("call failed",
			zap.String("id", req.ID),
			zap.String("node", req.Call.NodeID),
			zap.String("error", reply.Error),
		)
	} else {
		w.served.Add(1)
	}

	if err := w.send(identity, reply); err != nil {
		w.logger.Warn("reply failed", zap.String("id", req.ID), zap.Error(err))
	}
}

func (w *Worker) execute(ctx context.Context, call consensus.Call) (result *consensus.RawResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("executor panicked: %v", r)
		}
	}()
	return w.executor.Execute(ctx, call)
}

func (w *Worker) send(identity []byte, reply ExecReply) error {
	data, err := encode(reply)
	if err != nil {
		return err
	}

	w.sendMu.Lock()
	defer w.sendMu.Unlock()

	if err := w.router.Send(zmq4.NewMsgFrom(identity, data)); err != nil {
		return fmt.Errorf("%w: %v", ErrSendFailed, err)
	}
	return nil
}
