package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/flowstate/flowstate/internal/artifactstore"
	"github.com/flowstate/flowstate/internal/autoscaler"
	"github.com/flowstate/flowstate/internal/config"
	"github.com/flowstate/flowstate/internal/dispatcher"
	"github.com/flowstate/flowstate/internal/domain"
	"github.com/flowstate/flowstate/internal/ledger"
	"github.com/flowstate/flowstate/internal/notify"
	"github.com/flowstate/flowstate/internal/podprovider"
	"github.com/flowstate/flowstate/web/adminws"
	"github.com/spf13/cobra"
)

func init() {
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the dispatcher daemon",
		RunE:  runServe,
	}
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfgPath := configPath
	if cfgPath == "" {
		cfgPath = config.DefaultConfigPath()
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("loading config %s: %w", cfgPath, err)
	}

	if err := os.MkdirAll(cfg.General.DataDir, 0o755); err != nil {
		return fmt.Errorf("creating data dir: %w", err)
	}

	store, err := ledger.New(cfg.General.LedgerPath)
	if err != nil {
		return fmt.Errorf("opening ledger: %w", err)
	}
	defer store.Close()

	logger := log.New(os.Stderr, "[flowstated] ", log.LstdFlags)

	d := dispatcher.New(store, log.New(os.Stderr, "[dispatcher] ", log.LstdFlags))
	d.Notifier = buildNotifier(cfg.Notify)

	staleAfter := time.Duration(float64(max(cfg.Agent.LightTimeout, cfg.Agent.BuildTimeout)) * cfg.Dispatcher.StaleMultiplier)
	watchdog := dispatcher.NewWatchdog(store, cfg.Dispatcher.WatchdogInterval, staleAfter, log.New(os.Stderr, "[watchdog] ", log.LstdFlags))
	watchdog.Notifier = d.Notifier

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go watchdog.Run(ctx)

	if cfg.Dispatcher.OverrideDir != "" {
		ow, err := dispatcher.NewOverrideWatcher(cfg.Dispatcher.OverrideDir, nil, d.Registry.SetPendingConfig)
		if err != nil {
			return fmt.Errorf("starting override watcher: %w", err)
		}
		ow.Start(ctx)
		defer ow.Stop()
	}

	if len(cfg.Dispatcher.MaintenanceEnqueues) > 0 {
		jobs := make([]dispatcher.ScheduledEnqueue, 0, len(cfg.Dispatcher.MaintenanceEnqueues))
		for _, j := range cfg.Dispatcher.MaintenanceEnqueues {
			jobs = append(jobs, dispatcher.ScheduledEnqueue{
				Name:       j.Name,
				Cron:       j.Cron,
				TaskID:     j.TaskID,
				Action:     domain.Action(j.Action),
				Capability: domain.Capability(j.Capability),
			})
		}
		sched, err := dispatcher.NewScheduler(store, jobs, log.New(os.Stderr, "[schedule] ", log.LstdFlags))
		if err != nil {
			return fmt.Errorf("configuring scheduler: %w", err)
		}
		stop := make(chan struct{})
		go sched.Run(stop)
		defer close(stop)
	}

	if cfg.Autoscaler.Enabled {
		as, err := buildAutoscaler(cfg, store, d)
		if err != nil {
			return fmt.Errorf("configuring autoscaler: %w", err)
		}
		go as.Run(ctx)
	}

	server := dispatcher.NewServer(d, cfg.Dispatcher.AdminToken)

	hub := adminws.NewHub(cfg.Dispatcher.AdminToken, d.FleetView, 5*time.Second, log.New(os.Stderr, "[adminws] ", log.LstdFlags))
	go hub.Run(ctx)

	mux := http.NewServeMux()
	mux.Handle("/", server)
	mux.HandleFunc("/v1/admin/ws", hub.HandleWebSocket)
	httpServer := &http.Server{Addr: cfg.Dispatcher.ListenAddr, Handler: mux}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Println("shutting down...")
		cancel()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		httpServer.Shutdown(shutdownCtx)
	}()

	logger.Printf("listening on %s", cfg.Dispatcher.ListenAddr)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// buildNotifier fans terminal run outcomes and watchdog reclaims out to
// every configured sink. With nothing configured it degrades to a
// no-op rather than making callers nil-check.
func buildNotifier(cfg config.NotifyConfig) notify.Notifier {
	var sinks []notify.Notifier
	if cfg.SlackWebhookURL != "" {
		sinks = append(sinks, notify.NewSlackNotifier(cfg.SlackWebhookURL))
	}
	if cfg.DesktopEnabled {
		sinks = append(sinks, notify.NewDesktopNotifier(true))
	}
	if len(sinks) == 0 {
		return notify.NoopNotifier{}
	}
	return notify.NewMultiNotifier(sinks...)
}

func buildAutoscaler(cfg *config.Config, store *ledger.Store, d *dispatcher.Dispatcher) (*autoscaler.Autoscaler, error) {
	artifacts, err := artifactstore.NewFSStore(cfg.General.ArtifactRoot)
	if err != nil {
		return nil, err
	}
	stateStore := autoscaler.NewArtifactStateStore(artifacts)

	provider := podprovider.Provider(podprovider.NewFakeProvider())
	if cfg.Autoscaler.ProviderBaseURL != "" {
		provider = podprovider.NewRESTProvider(cfg.Autoscaler.ProviderBaseURL, cfg.Autoscaler.ProviderKey)
	}

	queue := func() (int64, error) {
		return store.CountQueuedByCapability(domain.CapabilityHeavy)
	}

	drainer := dispatcher.RegistryDrainer{Registry: d.Registry}

	podEnv := map[string]string{
		"FLOWSTATE_SERVER_URL": "http://" + cfg.Dispatcher.ListenAddr,
		"FLOWSTATE_BACKEND":    cfg.Runner.Backend,
		"FLOWSTATE_CAPABILITY": "heavy",
	}
	for k, v := range cfg.Autoscaler.PodEnv {
		podEnv[k] = v
	}

	acCfg := autoscaler.Config{
		ScanInterval:    cfg.Autoscaler.TickInterval,
		QueueThreshold:  int64(cfg.Autoscaler.SpinUpThreshold),
		SpindownThresh:  int64(cfg.Autoscaler.SpindownThreshold),
		IdleTimeout:     cfg.Autoscaler.StayWarmFor,
		DrainTimeout:    cfg.Autoscaler.DrainTimeout,
		MaxDailySpend:   cfg.Autoscaler.DailyCostCapCents,
		MatchedRunnerID: cfg.Autoscaler.MatchedRunnerID,
		Template:        cfg.Autoscaler.Template,
		GPUType:         cfg.Autoscaler.GPUType,
		GPUCount:        cfg.Autoscaler.GPUCount,
		NetworkVolume:   cfg.Autoscaler.NetworkVolume,
		PodEnv:          podEnv,
		TokenFn:         mintRunnerToken,
	}

	return autoscaler.New(provider, stateStore, queue, drainer, acCfg, nil), nil
}

// mintRunnerToken generates a fresh runner auth token for a spun-up GPU
// pod, the FLOWSTATE_RUNNER_TOKEN it needs to claim work.
func mintRunnerToken() (string, error) {
	b := make([]byte, 24)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("minting runner token: %w", err)
	}
	return hex.EncodeToString(b), nil
}
