package main

import (
	"fmt"

	"github.com/flowstate/flowstate/internal/wire"
	"github.com/spf13/cobra"
)

var (
	enqueueAction     string
	enqueueCapability string
)

func init() {
	enqueueCmd := &cobra.Command{
		Use:   "enqueue TASK_ID",
		Short: "Queue a run for a task, subject to the ledger's phase gate",
		Args:  cobra.ExactArgs(1),
		RunE:  runEnqueue,
	}
	enqueueCmd.Flags().StringVar(&enqueueAction, "action", "build", "action to run (research|design|plan|build|verify or a *_distill variant)")
	enqueueCmd.Flags().StringVar(&enqueueCapability, "capability", "standard", "required capability (light|standard|heavy)")
	rootCmd.AddCommand(enqueueCmd)
}

func runEnqueue(cmd *cobra.Command, args []string) error {
	req := wire.EnqueueRequest{
		TaskID:     args[0],
		Action:     enqueueAction,
		Capability: enqueueCapability,
	}
	var resp wire.EnqueueResponse
	if err := adminCall("POST", "/v1/admin/enqueue", req, &resp); err != nil {
		return err
	}
	fmt.Println(resp.RunID)
	return nil
}
