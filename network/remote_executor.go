package network

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-zeromq/zmq4"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/VanDung-dev/HieraChain-Consensus/consensus"
)

// RemoteConfig defines where node calls are sent.
type RemoteConfig struct {
	// Endpoints maps node IDs to worker endpoints
	Endpoints map[string]string `yaml:"endpoints"`
	// FallbackEndpoint serves nodes without an entry, including the
	// fallback call
	FallbackEndpoint string `yaml:"fallback_endpoint"`
}

// Resolve returns the endpoint serving nodeID.
func (c RemoteConfig) Resolve(nodeID string) (string, error) {
	if ep, ok := c.Endpoints[nodeID]; ok && ep != "" {
		return ep, nil
	}
	if c.FallbackEndpoint != "" {
		return c.FallbackEndpoint, nil
	}
	return "", fmt.Errorf("%w: %s", ErrNoEndpoint, nodeID)
}

// RemoteStats contains client-side call statistics.
type RemoteStats struct {
	Endpoints int   `json:"endpoints"`
	Pending   int   `json:"pending"`
	Sent      int64 `json:"sent"`
	Replies   int64 `json:"replies"`
	Abandoned int64 `json:"abandoned"`
	Orphaned  int64 `json:"orphaned"`
}

// RemoteExecutor is a consensus.TaskExecutor that forwards calls to workers.
// One DEALER socket is kept per endpoint; replies are matched to calls by
// request ID. A call whose context ends is abandoned and its late reply
// dropped.
type RemoteExecutor struct {
	config RemoteConfig
	id     string
	logger *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc

	dealers map[string]*dealerConn
	mu      sync.Mutex

	pending   map[string]chan ExecReply
	pendingMu sync.Mutex

	closed bool
	wg     sync.WaitGroup

	sent      atomic.Int64
	replies   atomic.Int64
	abandoned atomic.Int64
	orphaned  atomic.Int64
}

type dealerConn struct {
	socket zmq4.Socket
	sendMu sync.Mutex
}

var _ consensus.TaskExecutor = (*RemoteExecutor)(nil)

// NewRemoteExecutor creates a RemoteExecutor. Sockets are dialed lazily on
// the first call to each endpoint. logger may be nil.
func NewRemoteExecutor(config RemoteConfig, logger *zap.Logger) *RemoteExecutor {
	if logger == nil {
		logger = zap.NewNop()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &RemoteExecutor{
		config:  config,
		id:      "consensus-" + uuid.NewString(),
		logger:  logger,
		ctx:     ctx,
		cancel:  cancel,
		dealers: make(map[string]*dealerConn),
		pending: make(map[string]chan ExecReply),
	}
}

// Execute sends call to the worker serving call.NodeID and waits for its
// reply or for ctx to end.
func (r *RemoteExecutor) Execute(ctx context.Context, call consensus.Call) (*consensus.RawResult, error) {
	endpoint, err := r.config.Resolve(call.NodeID)
	if err != nil {
		return nil, err
	}

	conn, err := r.dealer(endpoint)
	if err != nil {
		return nil, err
	}

	req := ExecRequest{
		ID:        uuid.NewString(),
		Call:      call,
		Timestamp: time.Now(),
	}
	if deadline, ok := ctx.Deadline(); ok {
		req.TimeoutMs = time.Until(deadline).Milliseconds()
		if req.TimeoutMs <= 0 {
			return nil, context.DeadlineExceeded
		}
	}

	data, err := encode(req)
	if err != nil {
		return nil, err
	}

	ch := make(chan ExecReply, 1)
	r.pendingMu.Lock()
	r.pending[req.ID] = ch
	r.pendingMu.Unlock()
	defer func() {
		r.pendingMu.Lock()
		delete(r.pending, req.ID)
		r.pendingMu.Unlock()
	}()

	conn.sendMu.Lock()
	err = conn.socket.Send(zmq4.NewMsg(data))
	conn.sendMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSendFailed, err)
	}
	r.sent.Add(1)

	select {
	case reply := <-ch:
		if reply.Error != "" {
			return nil, fmt.Errorf("%w: %s", ErrRemote, reply.Error)
		}
		if reply.Result == nil {
			return nil, fmt.Errorf("%w: empty result", ErrRemote)
		}
		return reply.Result, nil
	case <-ctx.Done():
		r.abandoned.Add(1)
		return nil, ctx.Err()
	case <-r.ctx.Done():
		return nil, ErrClosed
	}
}

// Close closes every socket and waits for the receive loops to exit.
func (r *RemoteExecutor) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	r.cancel()

	for endpoint, conn := range r.dealers {
		if err := conn.socket.Close(); err != nil {
			r.logger.Debug("dealer close failed", zap.String("endpoint", endpoint), zap.Error(err))
		}
	}
	r.mu.Unlock()

	r.wg.Wait()
	return nil
}

// GetStats returns current call statistics.
func (r *RemoteExecutor) GetStats() RemoteStats {
	r.mu.Lock()
	endpoints := len(r.dealers)
	r.mu.Unlock()

	r.pendingMu.Lock()
	pending := len(r.pending)
	r.pendingMu.Unlock()

	return RemoteStats{
		Endpoints: endpoints,
		Pending:   pending,
		Sent:      r.sent.Load(),
		Replies:   r.replies.Load(),
		Abandoned: r.abandoned.Load(),
		Orphaned:  r.orphaned.Load(),
	}
}

// dealer gets or creates the DEALER socket for endpoint.
func (r *RemoteExecutor) dealer(endpoint string) (*dealerConn, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, ErrClosed
	}
	if conn, ok := r.dealers[endpoint]; ok {
		return conn, nil
	}

	socket := zmq4.NewDealer(r.ctx, zmq4.WithID(zmq4.SocketIdentity(r.id)))
	if err := socket.Dial(endpoint); err != nil {
		_ = socket.Close()
		return nil, fmt.Errorf("failed to connect to %s: %w", endpoint, err)
	}

	conn := &dealerConn{socket: socket}
	r.dealers[endpoint] = conn
	r.logger.Debug("dealer connected", zap.String("endpoint", endpoint))

	r.wg.Add(1)
	go r.receiverLoop(endpoint, socket)

	return conn, nil
}

// receiverLoop routes replies from one DEALER socket to waiting calls.
func (r *RemoteExecutor) receiverLoop(endpoint string, socket zmq4.Socket) {
	defer r.wg.Done()

	for {
		msg, err := socket.Recv()
		if err != nil {
			select {
			case <-r.ctx.Done():
				return
			default:
				r.logger.Debug("receive failed", zap.String("endpoint", endpoint), zap.Error(err))
			}
			if !sleepCtx(r.ctx, recvRetryDelay) {
				return
			}
			continue
		}
		if len(msg.Frames) == 0 {
			continue
		}

		var reply ExecReply
		if err := decode(msg.Frames[len(msg.Frames)-1], &reply); err != nil {
			r.logger.Debug("invalid reply dropped", zap.String("endpoint", endpoint), zap.Error(err))
			continue
		}
		r.replies.Add(1)

		r.pendingMu.Lock()
		ch, ok := r.pending[reply.ID]
		r.pendingMu.Unlock()
		if !ok {
			r.orphaned.Add(1)
			continue
		}

		select {
		case ch <- reply:
		default:
		}
	}
}
