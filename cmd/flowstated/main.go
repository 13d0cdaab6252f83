package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	configPath string
	rootCmd    = &cobra.Command{
		Use:   "flowstated",
		Short: "Flowstate dispatcher - run ledger, fleet registry, and pod autoscaler",
		Long: `flowstated is the control-plane daemon for a Flowstate deployment.
It owns the run ledger, answers the poll-based worker-dispatcher
protocol, watches for stale runs, and drives the GPU pod autoscaler.`,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file path")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
