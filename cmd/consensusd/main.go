// Command consensusd runs the weighted multi-agent consensus service.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version information
const (
	Version = "0.1.0"
	Name    = "HieraChain-Consensus"
)

func main() {
	if err := rootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCommand() *cobra.Command {
	c := &cobra.Command{
		Use:           "consensusd",
		Short:         "Weighted multi-agent consensus service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	c.PersistentFlags().String(configFlag, "", "path to a YAML config file")

	c.AddCommand(
		serveCommand(),
		runCommand(),
		nodesCommand(),
		versionCommand(),
	)
	return c
}

func versionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Prints the version",
		Run: func(c *cobra.Command, _ []string) {
			fmt.Fprintf(c.OutOrStdout(), "%s v%s\n", Name, Version)
		},
	}
}
