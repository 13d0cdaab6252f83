package main

import (
	"fmt"
	"time"

	"github.com/flowstate/flowstate/internal/fleetview"
	"github.com/flowstate/flowstate/internal/wire"
	"github.com/spf13/cobra"
)

func init() {
	fleetCmd := &cobra.Command{
		Use:   "fleet",
		Short: "Show the current fleet and queue depth",
		RunE:  runFleet,
	}
	rootCmd.AddCommand(fleetCmd)
}

func runFleet(cmd *cobra.Command, args []string) error {
	var view wire.FleetView
	if err := adminCall("GET", "/v1/admin/fleet", nil, &view); err != nil {
		return err
	}
	fmt.Print(fleetview.Render(view, time.Now()))
	return nil
}
