// Package config loads the service configuration of the consensus binaries.
//
// Values come from built-in defaults, then an optional YAML file, then
// CONSENSUS_* environment variables.
package config

import (
	"errors"
	"fmt"
	"math"
	"net"
	"os"
	"strconv"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.yaml.in/yaml/v2"

	"github.com/VanDung-dev/HieraChain-Consensus/api"
	"github.com/VanDung-dev/HieraChain-Consensus/consensus"
	"github.com/VanDung-dev/HieraChain-Consensus/network"
)

// Environment variables overriding file values.
const (
	EnvGRPCAddress        = "CONSENSUS_GRPC_ADDRESS"
	EnvBatchAddress       = "CONSENSUS_BATCH_ADDRESS"
	EnvMetricsAddress     = "CONSENSUS_METRICS_ADDRESS"
	EnvWorkerAddress      = "CONSENSUS_WORKER_ADDRESS"
	EnvFallbackEndpoint   = "CONSENSUS_FALLBACK_ENDPOINT"
	EnvLogLevel           = "CONSENSUS_LOG_LEVEL"
	EnvLogFormat          = "CONSENSUS_LOG_FORMAT"
	EnvHistoryCapacity    = "CONSENSUS_HISTORY_CAPACITY"
	EnvDisableReliability = "CONSENSUS_DISABLE_RELIABILITY_UPDATES"
)

// ErrInvalidConfig wraps every validation failure.
var ErrInvalidConfig = errors.New("invalid config")

// ServiceConfig is the full configuration of consensusd and consensus-worker.
type ServiceConfig struct {
	Engine   consensus.Config      `yaml:"engine"`
	Nodes    []consensus.NodeSeed  `yaml:"nodes"`
	GRPC     api.ServerConfig      `yaml:"grpc"`
	Batch    api.BatchServerConfig `yaml:"batch"`
	Metrics  MetricsConfig         `yaml:"metrics"`
	Auth     api.AuthConfig        `yaml:"auth"`
	Executor ExecutorConfig        `yaml:"executor"`
	Worker   network.WorkerConfig  `yaml:"worker"`
	Log      LogConfig             `yaml:"log"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	// Address of the /metrics server; empty disables it
	Address   string `yaml:"address"`
	Namespace string `yaml:"namespace"`
}

// ExecutorConfig selects the task executor of the engine.
type ExecutorConfig struct {
	// Mode is "echo" for the built-in executor or "remote" for ZMQ workers
	Mode   string               `yaml:"mode"`
	Remote network.RemoteConfig `yaml:"remote"`
}

// Executor modes.
const (
	ExecutorEcho   = "echo"
	ExecutorRemote = "remote"
)

// DefaultNodes returns the built-in evaluator roster.
func DefaultNodes() []consensus.NodeSeed {
	return []consensus.NodeSeed{
		{ID: "creative-1", Name: "Muse", Weight: 1.2, Specialty: consensus.SpecialtyCreative, InitialReliability: 0.95},
		{ID: "technical-1", Name: "Critic", Weight: 1.0, Specialty: consensus.SpecialtyTechnical, InitialReliability: 0.92},
		{ID: "aesthetic-1", Name: "Curator", Weight: 1.0, Specialty: consensus.SpecialtyAesthetic, InitialReliability: 0.88},
		{ID: "balanced-1", Name: "Arbiter", Weight: 0.9, Specialty: consensus.SpecialtyBalanced, InitialReliability: 0.85},
		{ID: "balanced-2", Name: "Scribe", Weight: 0.8, Specialty: consensus.SpecialtyBalanced, InitialReliability: 0.8},
	}
}

// DefaultMetricsConfig returns a MetricsConfig with sensible defaults.
func DefaultMetricsConfig() MetricsConfig {
	return MetricsConfig{Address: ":9090", Namespace: "consensus"}
}

// Default returns a ServiceConfig with sensible defaults.
func Default() *ServiceConfig {
	return &ServiceConfig{
		Engine:   consensus.DefaultConfig(),
		Nodes:    DefaultNodes(),
		GRPC:     *api.DefaultServerConfig(),
		Batch:    *api.DefaultBatchServerConfig(),
		Metrics:  DefaultMetricsConfig(),
		Executor: ExecutorConfig{Mode: ExecutorEcho},
		Worker:   network.DefaultWorkerConfig(),
		Log:      DefaultLogConfig(),
	}
}

// Load reads path on top of the defaults and applies environment
// overrides. An empty path skips the file.
func Load(path string) (*ServiceConfig, error) {
	cfg := Default()

	if path != "" {
		raw, err := os.ReadFile(path) // #nosec G304 - operator supplied path
		if err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		if err := yaml.UnmarshalStrict(raw, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}

	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overrides fields from CONSENSUS_* environment variables.
func (c *ServiceConfig) ApplyEnv() error {
	setString(&c.GRPC.Address, EnvGRPCAddress)
	setString(&c.Batch.Address, EnvBatchAddress)
	setString(&c.Metrics.Address, EnvMetricsAddress)
	setString(&c.Worker.Address, EnvWorkerAddress)
	setString(&c.Log.Level, EnvLogLevel)
	setString(&c.Log.Format, EnvLogFormat)

	if v, ok := os.LookupEnv(EnvFallbackEndpoint); ok {
		c.Executor.Remote.FallbackEndpoint = v
		if v != "" {
			c.Executor.Mode = ExecutorRemote
		}
	}

	if v, ok := os.LookupEnv(EnvHistoryCapacity); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%w: %s=%q: %v", ErrInvalidConfig, EnvHistoryCapacity, v, err)
		}
		c.Engine.HistoryCapacity = n
	}
	if v, ok := os.LookupEnv(EnvDisableReliability); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%w: %s=%q: %v", ErrInvalidConfig, EnvDisableReliability, v, err)
		}
		c.Engine.DisableReliabilityUpdates = b
	}

	// Auth follows the variables the batch server has always read.
	if v, ok := os.LookupEnv(api.EnvAuthEnabled); ok {
		c.Auth.Enabled = v == "true" || v == "1"
	}
	setString(&c.Auth.Token, api.EnvAuthToken)

	return nil
}

func setString(dst *string, env string) {
	if v, ok := os.LookupEnv(env); ok {
		*dst = v
	}
}

// Validate checks addresses, node seeds and executor endpoints.
func (c *ServiceConfig) Validate() error {
	if err := c.Engine.Validate(); err != nil {
		return fmt.Errorf("%w: engine: %v", ErrInvalidConfig, err)
	}

	if len(c.Nodes) == 0 {
		return fmt.Errorf("%w: at least one node is required", ErrInvalidConfig)
	}
	ids := make(map[string]struct{}, len(c.Nodes))
	for _, n := range c.Nodes {
		if n.ID == "" {
			return fmt.Errorf("%w: node with empty id", ErrInvalidConfig)
		}
		if _, dup := ids[n.ID]; dup {
			return fmt.Errorf("%w: duplicate node id %q", ErrInvalidConfig, n.ID)
		}
		ids[n.ID] = struct{}{}
		if math.IsNaN(n.Weight) || math.IsInf(n.Weight, 0) || n.Weight <= 0 {
			return fmt.Errorf("%w: node %q weight must be a positive number", ErrInvalidConfig, n.ID)
		}
		if math.IsNaN(n.InitialReliability) || n.InitialReliability < 0 || n.InitialReliability > 1 {
			return fmt.Errorf("%w: node %q reliability out of [0,1]", ErrInvalidConfig, n.ID)
		}
	}

	for name, addr := range map[string]string{"grpc": c.GRPC.Address, "batch": c.Batch.Address} {
		if err := checkHostPort(addr); err != nil {
			return fmt.Errorf("%w: %s address: %v", ErrInvalidConfig, name, err)
		}
	}
	if c.Metrics.Address != "" {
		if err := checkHostPort(c.Metrics.Address); err != nil {
			return fmt.Errorf("%w: metrics address: %v", ErrInvalidConfig, err)
		}
	}

	switch c.Executor.Mode {
	case ExecutorEcho:
	case ExecutorRemote:
		remote := c.Executor.Remote
		for id, ep := range remote.Endpoints {
			if _, ok := ids[id]; !ok {
				return fmt.Errorf("%w: endpoint for unknown node %q", ErrInvalidConfig, id)
			}
			if err := checkEndpoint(ep); err != nil {
				return fmt.Errorf("%w: node %q: %v", ErrInvalidConfig, id, err)
			}
		}
		if remote.FallbackEndpoint != "" {
			if err := checkEndpoint(remote.FallbackEndpoint); err != nil {
				return fmt.Errorf("%w: fallback endpoint: %v", ErrInvalidConfig, err)
			}
		}
		for id := range ids {
			if _, err := remote.Resolve(id); err != nil {
				return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
			}
		}
		if _, err := remote.Resolve(consensus.FallbackNodeID); err != nil {
			return fmt.Errorf("%w: fallback call has no endpoint", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown executor mode %q", ErrInvalidConfig, c.Executor.Mode)
	}

	if err := checkEndpoint(c.Worker.Address); err != nil {
		return fmt.Errorf("%w: worker address: %v", ErrInvalidConfig, err)
	}

	if _, err := c.Log.level(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if c.Log.Format != LogFormatJSON && c.Log.Format != LogFormatConsole {
		return fmt.Errorf("%w: unknown log format %q", ErrInvalidConfig, c.Log.Format)
	}
	if c.Batch.IdleTimeout < 0 || c.Batch.AuthTimeout < 0 {
		return fmt.Errorf("%w: batch timeouts must not be negative", ErrInvalidConfig)
	}

	return nil
}

func checkHostPort(addr string) error {
	if addr == "" {
		return errors.New("empty address")
	}
	_, port, err := net.SplitHostPort(addr)
	if err != nil {
		return err
	}
	if _, err := strconv.ParseUint(port, 10, 16); err != nil {
		return fmt.Errorf("invalid port %q", port)
	}
	return nil
}

// checkEndpoint accepts tcp://host:port and ipc:// or inproc:// endpoints.
func checkEndpoint(ep string) error {
	scheme, rest, ok := strings.Cut(ep, "://")
	if !ok || rest == "" {
		return fmt.Errorf("malformed endpoint %q", ep)
	}
	switch scheme {
	case "tcp":
		return checkHostPort(rest)
	case "ipc", "inproc":
		return nil
	default:
		return fmt.Errorf("unsupported transport %q", scheme)
	}
}

// Log formats.
const (
	LogFormatJSON    = "json"
	LogFormatConsole = "console"
)

// LogConfig configures the zap logger of the binaries.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// DefaultLogConfig returns info-level JSON logging.
func DefaultLogConfig() LogConfig {
	return LogConfig{Level: "info", Format: LogFormatJSON}
}

func (l LogConfig) level() (zapcore.Level, error) {
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(l.Level)); err != nil {
		return lvl, fmt.Errorf("unknown log level %q", l.Level)
	}
	return lvl, nil
}

// Build creates the logger described by l.
func (l LogConfig) Build() (*zap.Logger, error) {
	lvl, err := l.level()
	if err != nil {
		return nil, err
	}

	var zc zap.Config
	if l.Format == LogFormatConsole {
		zc = zap.NewDevelopmentConfig()
	} else {
		zc = zap.NewProductionConfig()
		zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}
	zc.Level = zap.NewAtomicLevelAt(lvl)
	zc.Sampling = nil

	return zc.Build()
}
