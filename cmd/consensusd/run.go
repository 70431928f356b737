package main

import (
	"context"
	"encoding/json"
	"time"

	"github.com/spf13/cobra"

	"github.com/VanDung-dev/HieraChain-Consensus/consensus"
)

func runCommand() *cobra.Command {
	c := &cobra.Command{
		Use:   "run [payload]",
		Short: "Runs a single consensus round and prints the result as JSON",
		Args:  cobra.ExactArgs(1),
		RunE:  runFunc,
	}

	flags := c.Flags()
	flags.String("type", string(consensus.RequestGenerate), "request type: generate, analyze, enhance or validate")
	flags.Float64("required-confidence", 0.7, "minimum confidence in [0,1]")
	flags.Int("max-nodes", 3, "maximum nodes to consult")
	flags.Int64("timeout-ms", 5000, "per-node timeout in milliseconds")
	return c
}

func runFunc(c *cobra.Command, args []string) error {
	flags := c.Flags()
	reqType, err := flags.GetString("type")
	if err != nil {
		return err
	}
	required, err := flags.GetFloat64("required-confidence")
	if err != nil {
		return err
	}
	maxNodes, err := flags.GetInt("max-nodes")
	if err != nil {
		return err
	}
	timeoutMs, err := flags.GetInt64("timeout-ms")
	if err != nil {
		return err
	}

	cfg, logger, err := loadConfig(c)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	engine, cleanup, err := newEngine(cfg, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	req := consensus.ConsensusRequest{
		Type:               consensus.RequestType(reqType),
		Payload:            []byte(args[0]),
		RequiredConfidence: required,
		MaxNodes:           maxNodes,
		TimeoutMs:          timeoutMs,
	}

	// The round itself is bounded per node; this only guards the fallback.
	ctx, cancel := context.WithTimeout(c.Context(), 2*req.Timeout()+time.Second)
	defer cancel()

	result, err := engine.RunConsensus(ctx, req)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(c.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}
