package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/flowstate/flowstate/internal/artifactstore"
	"github.com/flowstate/flowstate/internal/config"
	"github.com/flowstate/flowstate/internal/domain"
	"github.com/flowstate/flowstate/internal/pipeline"
	"github.com/flowstate/flowstate/internal/repoprovider"
	"github.com/flowstate/flowstate/internal/runner"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var runnerIDFlag string

func init() {
	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Start the runner poll loop",
		RunE:  runRun,
	}
	runCmd.Flags().StringVar(&runnerIDFlag, "id", "", "runner id (defaults to a random uuid)")
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	cfgPath := configPath
	if cfgPath == "" {
		cfgPath = config.DefaultConfigPath()
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("loading config %s: %w", cfgPath, err)
	}

	runnerID := cfg.Runner.RunnerID
	if runnerIDFlag != "" {
		runnerID = runnerIDFlag
	}
	if runnerID == "" {
		runnerID = uuid.NewString()
	}

	if err := os.MkdirAll(cfg.Runner.WorktreeDir, 0o755); err != nil {
		return fmt.Errorf("creating worktree dir: %w", err)
	}
	if err := os.MkdirAll(cfg.General.ArtifactRoot, 0o755); err != nil {
		return fmt.Errorf("creating artifact root: %w", err)
	}

	artifacts, err := artifactstore.NewFSStore(cfg.General.ArtifactRoot)
	if err != nil {
		return fmt.Errorf("opening artifact store: %w", err)
	}

	client := runner.NewClient(cfg.Runner.ServerURL)

	pl := pipeline.New(pipeline.Config{
		WorkspaceRoot:   cfg.Runner.WorktreeDir,
		RepoURL:         cfg.Runner.RepoURL,
		RepoToken:       cfg.Runner.RepoToken,
		BaseBranch:      cfg.Runner.BaseBranch,
		AgentBinary:     cfg.Agent.BinaryPath,
		AgentBackend:    cfg.Agent.BackendName,
		EnvAllowlist:    cfg.Agent.EnvAllowlist,
		LightTimeout:    cfg.Agent.LightTimeout,
		BuildTimeout:    cfg.Agent.BuildTimeout,
		KillGracePeriod: cfg.Runner.KillGracePeriod,
		HeartbeatEvery:  10 * time.Second,
		MaxOutputBytes:  1 << 20,
	}, repoprovider.New(cfg.Runner.GitCacheDir), artifacts, client, log.New(os.Stderr, "[pipeline] ", log.LstdFlags))

	pool, err := runner.NewPool(runner.Config{
		RunnerID:        runnerID,
		Backend:         cfg.Runner.Backend,
		Capability:      domain.Capability(cfg.Runner.Capability),
		PollInterval:    cfg.Runner.PollInterval,
		MaxConcurrent:   cfg.Runner.MaxConcurrent,
		MaxBuilds:       cfg.Runner.MaxBuilds,
		ShutdownTimeout: cfg.Runner.ShutdownTimeout,
	}, client, pl, log.New(os.Stderr, "[runner] ", log.LstdFlags))
	if err != nil {
		return fmt.Errorf("configuring runner pool: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Fprintln(os.Stderr, "draining, waiting for active runs to finish...")
		pool.Drain()
		cancel()
	}()

	fmt.Fprintf(os.Stderr, "runner %s polling %s (capability=%s, max_concurrent=%d, max_builds=%d)\n",
		runnerID, cfg.Runner.ServerURL, cfg.Runner.Capability, cfg.Runner.MaxConcurrent, cfg.Runner.MaxBuilds)

	pool.Run(ctx)
	return nil
}
