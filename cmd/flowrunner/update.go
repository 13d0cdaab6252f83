package main

import (
	"fmt"
	"runtime/debug"

	"github.com/flowstate/flowstate/internal/updater"
	"github.com/spf13/cobra"
)

const updateRepo = "flowstate/flowstate"

func init() {
	cmd := &cobra.Command{
		Use:   "update",
		Short: "Check for and install a newer flowrunner release",
		RunE:  runUpdate,
	}
	rootCmd.AddCommand(cmd)
}

func runUpdate(cmd *cobra.Command, args []string) error {
	u := updater.New(updateRepo, "flowrunner")

	latest, err := u.CheckLatestVersion()
	if err != nil {
		return fmt.Errorf("checking latest version: %w", err)
	}

	current := binaryVersion()
	if !updater.NeedsUpdate(current, latest) {
		fmt.Printf("flowrunner %s is up to date\n", current)
		return nil
	}

	fmt.Printf("updating flowrunner %s -> %s\n", current, latest)
	if err := u.SelfUpdate(latest); err != nil {
		return fmt.Errorf("self update: %w", err)
	}
	fmt.Println("update complete, restart flowrunner to pick it up")
	return nil
}

func binaryVersion() string {
	info, ok := debug.ReadBuildInfo()
	if !ok || info.Main.Version == "" {
		return "dev"
	}
	return info.Main.Version
}
