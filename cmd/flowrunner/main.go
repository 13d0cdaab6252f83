package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	configPath string
	rootCmd    = &cobra.Command{
		Use:   "flowrunner",
		Short: "Flowstate runner - claims and executes agent runs",
		Long: `flowrunner polls a flowstated dispatcher for work, spawns the
configured agent CLI in an isolated git worktree per run, and reports
progress and terminal outcomes back over the poll protocol.`,
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
