package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/VanDung-dev/HieraChain-Consensus/consensus"
	"github.com/VanDung-dev/HieraChain-Consensus/data"
)

func nodesCommand() *cobra.Command {
	c := &cobra.Command{
		Use:   "nodes",
		Short: "Prints the configured evaluator nodes",
		Args:  cobra.NoArgs,
		RunE:  nodesFunc,
	}
	c.Flags().String("arrow", "", "also write the node snapshot as an Arrow IPC stream to this file")
	return c
}

func nodesFunc(c *cobra.Command, _ []string) error {
	arrowPath, err := c.Flags().GetString("arrow")
	if err != nil {
		return err
	}

	cfg, logger, err := loadConfig(c)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	// The registry applies the same seeding rules as the engine.
	registry, err := consensus.NewRegistry(cfg.Nodes, cfg.Engine.ReliabilityFloor)
	if err != nil {
		return err
	}
	nodes := registry.List()

	w := tabwriter.NewWriter(c.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tSPECIALTY\tWEIGHT\tRELIABILITY")
	for _, n := range nodes {
		fmt.Fprintf(w, "%s\t%s\t%s\t%.2f\t%.3f\n", n.ID, n.Name, n.Specialty, n.Weight, n.Reliability)
	}
	if err := w.Flush(); err != nil {
		return err
	}

	if arrowPath == "" {
		return nil
	}
	return writeNodesArrow(arrowPath, nodes)
}

func writeNodesArrow(path string, nodes []consensus.EvaluatorNode) error {
	record, err := data.NewConverter().NodesToRecord(nodes)
	if err != nil {
		return err
	}
	defer record.Release()

	payload, err := data.NewIPCCodec().Serialize(record)
	if err != nil {
		return err
	}
	return os.WriteFile(path, payload, 0o600)
}
