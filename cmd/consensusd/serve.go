package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/VanDung-dev/HieraChain-Consensus/api"
	"github.com/VanDung-dev/HieraChain-Consensus/consensus"
)

func serveCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serves the engine over gRPC and the Arrow batch endpoint",
		Args:  cobra.NoArgs,
		RunE:  serveFunc,
	}
}

func serveFunc(c *cobra.Command, _ []string) error {
	cfg, logger, err := loadConfig(c)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := api.NewMetrics(cfg.Metrics.Namespace, reg)

	engine, cleanup, err := newEngine(cfg, logger, consensus.WithRecorder(metrics))
	if err != nil {
		return err
	}
	defer cleanup()

	grpcServer, err := api.NewServer(engine, &cfg.GRPC, metrics, logger.Named("grpc"))
	if err != nil {
		return err
	}
	if err := grpcServer.StartAsync(cfg.GRPC.Address); err != nil {
		return err
	}
	defer grpcServer.Stop()

	auth := api.NewAuthenticator(cfg.Auth)
	if auth.IsEnabled() && cfg.Auth.Token == "" {
		logger.Warn("batch auth token generated", zap.String("token", auth.GetToken()))
	}

	batchServer, err := api.NewBatchServer(engine, &cfg.Batch, auth, metrics, logger.Named("batch"))
	if err != nil {
		return err
	}
	if err := batchServer.StartAsync(cfg.Batch.Address); err != nil {
		return err
	}
	defer batchServer.Stop()

	if cfg.Metrics.Address != "" {
		metricsServer := api.NewMetricsServer(cfg.Metrics.Address, reg)
		metricsServer.StartAsync()
		defer func() { _ = metricsServer.Stop() }()
		logger.Info("metrics server listening", zap.String("address", cfg.Metrics.Address))
	}

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-quit:
		logger.Info("shutting down", zap.String("signal", sig.String()))
	case <-c.Context().Done():
		logger.Info("shutting down")
	}

	return nil
}
