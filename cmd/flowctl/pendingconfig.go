package main

import (
	"fmt"
	"time"

	"github.com/flowstate/flowstate/internal/wire"
	"github.com/spf13/cobra"
)

var (
	pendingDrain   bool
	pendingUndrain bool
	pendingPoll    time.Duration
)

func init() {
	cmd := &cobra.Command{
		Use:   "set-pending-config RUNNER_ID",
		Short: "Arm a runner's next poll response with a drain flag or poll interval",
		Args:  cobra.ExactArgs(1),
		RunE:  runSetPendingConfig,
	}
	cmd.Flags().BoolVar(&pendingDrain, "drain", false, "request the runner drain")
	cmd.Flags().BoolVar(&pendingUndrain, "undrain", false, "cancel a pending drain request")
	cmd.Flags().DurationVar(&pendingPoll, "poll-interval", 0, "new poll interval to push to the runner")
	rootCmd.AddCommand(cmd)
}

func runSetPendingConfig(cmd *cobra.Command, args []string) error {
	if pendingDrain && pendingUndrain {
		return fmt.Errorf("--drain and --undrain are mutually exclusive")
	}

	var config wire.PendingConfig
	if cmd.Flags().Changed("drain") || cmd.Flags().Changed("undrain") {
		drain := pendingDrain && !pendingUndrain
		config.Drain = &drain
	}
	if cmd.Flags().Changed("poll-interval") {
		config.PollInterval = &pendingPoll
	}

	req := wire.SetPendingConfigRequest{RunnerID: args[0], Config: config}
	var resp wire.Ack
	if err := adminCall("POST", "/v1/admin/pending_config", req, &resp); err != nil {
		return err
	}
	fmt.Println("ok")
	return nil
}
