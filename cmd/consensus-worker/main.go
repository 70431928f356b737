// Command consensus-worker serves the built-in echo executor to remote
// consensus engines over ZeroMQ.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/VanDung-dev/HieraChain-Consensus/config"
	"github.com/VanDung-dev/HieraChain-Consensus/consensus"
	"github.com/VanDung-dev/HieraChain-Consensus/network"
)

func main() {
	if err := command().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func command() *cobra.Command {
	c := &cobra.Command{
		Use:           "consensus-worker",
		Short:         "Runs a ZeroMQ task executor worker",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          workerFunc,
	}

	flags := c.Flags()
	flags.String("config", "", "path to a YAML config file")
	flags.String("address", "", "endpoint to bind, overrides worker.address")
	flags.Float64("min-score", 0.6, "lowest self-reported score of the echo executor")
	flags.Float64("spread", 0.35, "score range of the echo executor")
	return c
}

func workerFunc(c *cobra.Command, _ []string) error {
	flags := c.Flags()
	path, err := flags.GetString("config")
	if err != nil {
		return err
	}
	address, err := flags.GetString("address")
	if err != nil {
		return err
	}
	minScore, err := flags.GetFloat64("min-score")
	if err != nil {
		return err
	}
	spread, err := flags.GetFloat64("spread")
	if err != nil {
		return err
	}

	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	if address != "" {
		cfg.Worker.Address = address
	}

	logger, err := cfg.Log.Build()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	executor := &consensus.EchoExecutor{MinScore: minScore, Spread: spread}
	worker, err := network.NewWorker(cfg.Worker, executor, logger.Named("worker"))
	if err != nil {
		return err
	}
	if err := worker.Start(); err != nil {
		return err
	}

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	logger.Info("shutting down", zap.String("signal", sig.String()))
	worker.Stop()

	stats := worker.GetStats()
	logger.Info("worker stopped",
		zap.Int64("served", stats.Served),
		zap.Int64("failed", stats.Failed),
		zap.Int64("dropped", stats.Dropped),
	)
	return nil
}
