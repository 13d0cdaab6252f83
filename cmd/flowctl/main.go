package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	serverURL  string
	adminToken string

	rootCmd = &cobra.Command{
		Use:   "flowctl",
		Short: "Operate a Flowstate dispatcher",
		Long: `flowctl is the operator CLI for a running flowstated dispatcher:
inspect the fleet, enqueue work, and arm poll-interval or drain
changes on individual runners.`,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "http://127.0.0.1:8090", "dispatcher base URL")
	rootCmd.PersistentFlags().StringVar(&adminToken, "token", os.Getenv("FLOWSTATE_ADMIN_TOKEN"), "admin bearer token")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
