package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/VanDung-dev/HieraChain-Consensus/config"
	"github.com/VanDung-dev/HieraChain-Consensus/consensus"
	"github.com/VanDung-dev/HieraChain-Consensus/network"
)

const configFlag = "config"

// loadConfig reads the --config file and builds the logger it describes.
func loadConfig(c *cobra.Command) (*config.ServiceConfig, *zap.Logger, error) {
	path, err := c.Flags().GetString(configFlag)
	if err != nil {
		return nil, nil, err
	}

	cfg, err := config.Load(path)
	if err != nil {
		return nil, nil, err
	}

	logger, err := cfg.Log.Build()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to build logger: %w", err)
	}
	return cfg, logger, nil
}

// newEngine builds the engine and its executor. The returned cleanup
// releases executor sockets.
func newEngine(cfg *config.ServiceConfig, logger *zap.Logger, opts ...consensus.Option) (*consensus.Engine, func(), error) {
	var (
		executor consensus.TaskExecutor
		cleanup  = func() {}
	)

	switch cfg.Executor.Mode {
	case config.ExecutorRemote:
		remote := network.NewRemoteExecutor(cfg.Executor.Remote, logger.Named("remote"))
		executor = remote
		cleanup = func() { _ = remote.Close() }
	default:
		executor = consensus.NewEchoExecutor()
	}

	opts = append([]consensus.Option{consensus.WithLogger(logger.Named("engine"))}, opts...)
	engine, err := consensus.NewEngine(cfg.Engine, cfg.Nodes, executor, opts...)
	if err != nil {
		cleanup()
		return nil, nil, err
	}

	logger.Info("engine ready",
		zap.Int("nodes", len(cfg.Nodes)),
		zap.String("executor", cfg.Executor.Mode),
	)
	return engine, cleanup, nil
}
