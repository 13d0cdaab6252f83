package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Config holds all application configuration.
type Config struct {
	General    GeneralConfig    `toml:"general"`
	Dispatcher DispatcherConfig `toml:"dispatcher"`
	Runner     RunnerConfig     `toml:"runner"`
	Autoscaler AutoscalerConfig `toml:"autoscaler"`
	Agent      AgentConfig      `toml:"agent"`
	Notify     NotifyConfig     `toml:"notify"`
}

// NotifyConfig configures where terminal run outcomes and watchdog
// reclaims get reported. All fields are optional; an unset Slack
// webhook or disabled desktop notifier is simply skipped.
type NotifyConfig struct {
	SlackWebhookURL string `toml:"slack_webhook_url"`
	DesktopEnabled  bool   `toml:"desktop_enabled"`
}

// GeneralConfig holds settings shared by every binary.
type GeneralConfig struct {
	DataDir      string `toml:"data_dir"`
	LedgerPath   string `toml:"ledger_path"`
	ArtifactRoot string `toml:"artifact_root"`
}

// DispatcherConfig configures cmd/flowstated.
type DispatcherConfig struct {
	ListenAddr          string           `toml:"listen_addr"`
	AdminToken          string           `toml:"admin_token"`
	WatchdogInterval    time.Duration    `toml:"watchdog_interval"`
	StaleMultiplier     float64          `toml:"stale_multiplier"`
	HeartbeatTTL        time.Duration    `toml:"heartbeat_ttl"`
	OverrideDir         string           `toml:"override_dir"`
	MaintenanceEnqueues []MaintenanceJob `toml:"maintenance_enqueues"`
}

// MaintenanceJob describes a cron-triggered enqueue the dispatcher's
// scheduler should fire, e.g. a nightly verification resweep.
type MaintenanceJob struct {
	Name       string `toml:"name"`
	Cron       string `toml:"cron"`
	TaskID     string `toml:"task_id"`
	Action     string `toml:"action"`
	Capability string `toml:"capability"`
}

// RunnerConfig configures cmd/flowrunner.
type RunnerConfig struct {
	ServerURL       string        `toml:"server_url"`
	RunnerID        string        `toml:"runner_id"`
	Backend         string        `toml:"backend"`
	Capability      string        `toml:"capability"`
	PollInterval    time.Duration `toml:"poll_interval"`
	MaxConcurrent   int           `toml:"max_concurrent"`
	MaxBuilds       int           `toml:"max_builds"`
	WorktreeDir     string        `toml:"worktree_dir"`
	GitCacheDir     string        `toml:"git_cache_dir"`
	ShutdownTimeout time.Duration `toml:"shutdown_timeout"`
	KillGracePeriod time.Duration `toml:"kill_grace_period"`
	RepoURL         string        `toml:"repo_url"`
	RepoToken       string        `toml:"repo_token"`
	BaseBranch      string        `toml:"base_branch"`
}

// AutoscalerConfig configures the GPU pod autoscaler loop.
type AutoscalerConfig struct {
	Enabled           bool              `toml:"enabled"`
	ProviderBaseURL   string            `toml:"provider_base_url"`
	ProviderKey       string            `toml:"provider_key"`
	SpinUpThreshold   int               `toml:"spin_up_threshold"`
	SpindownThreshold int               `toml:"spindown_threshold"`
	StayWarmFor       time.Duration     `toml:"stay_warm_for"`
	DrainTimeout      time.Duration     `toml:"drain_timeout"`
	DailyCostCapCents int64             `toml:"daily_cost_cap_cents"`
	TickInterval      time.Duration     `toml:"tick_interval"`
	MatchedRunnerID   string            `toml:"matched_runner_id"`
	Template          string            `toml:"template"`
	GPUType           string            `toml:"gpu_type"`
	GPUCount          int               `toml:"gpu_count"`
	NetworkVolume     string            `toml:"network_volume"`
	PodEnv            map[string]string `toml:"pod_env"`
}

// AgentConfig describes the agent CLI backend the runner spawns.
type AgentConfig struct {
	BackendName  string        `toml:"backend_name"`
	BinaryPath   string        `toml:"binary_path"`
	EnvAllowlist []string      `toml:"env_allowlist"`
	LightTimeout time.Duration `toml:"light_timeout"`
	BuildTimeout time.Duration `toml:"build_timeout"`
}

// Default returns a Config with sensible defaults for local use.
func Default() *Config {
	home, _ := os.UserHomeDir()
	dataDir := filepath.Join(home, ".flowstate")
	return &Config{
		General: GeneralConfig{
			DataDir:      dataDir,
			LedgerPath:   filepath.Join(dataDir, "flowstate.db"),
			ArtifactRoot: filepath.Join(dataDir, "artifacts"),
		},
		Dispatcher: DispatcherConfig{
			ListenAddr:       "127.0.0.1:8090",
			WatchdogInterval: 30 * time.Second,
			StaleMultiplier:  2.0,
			HeartbeatTTL:     90 * time.Second,
		},
		Runner: RunnerConfig{
			ServerURL:       "http://127.0.0.1:8090",
			Backend:         "claude",
			Capability:      "standard",
			PollInterval:    5 * time.Second,
			MaxConcurrent:   4,
			MaxBuilds:       1,
			WorktreeDir:     filepath.Join(dataDir, "worktrees"),
			GitCacheDir:     filepath.Join(dataDir, "git-cache"),
			ShutdownTimeout: 30 * time.Second,
			KillGracePeriod: 10 * time.Second,
			BaseBranch:      "main",
		},
		Autoscaler: AutoscalerConfig{
			SpinUpThreshold:   1,
			SpindownThreshold: 0,
			StayWarmFor:       10 * time.Minute,
			DrainTimeout:      5 * time.Minute,
			DailyCostCapCents: 5000,
			TickInterval:      15 * time.Second,
		},
		Agent: AgentConfig{
			BackendName: "claude",
			BinaryPath:  "claude",
			// Legacy "light action timeout" ambiguity resolved to 900s.
			LightTimeout: 900 * time.Second,
			BuildTimeout: 3600 * time.Second,
		},
	}
}

// Load reads configuration from a TOML file, falling back to defaults
// when the file does not exist.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}

	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	cfg.General.DataDir = ExpandPath(cfg.General.DataDir)
	cfg.General.LedgerPath = ExpandPath(cfg.General.LedgerPath)
	cfg.General.ArtifactRoot = ExpandPath(cfg.General.ArtifactRoot)
	cfg.Runner.WorktreeDir = ExpandPath(cfg.Runner.WorktreeDir)
	cfg.Runner.GitCacheDir = ExpandPath(cfg.Runner.GitCacheDir)
	cfg.Dispatcher.OverrideDir = ExpandPath(cfg.Dispatcher.OverrideDir)

	return cfg, nil
}

// ExpandPath expands ~ to the user's home directory.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[2:])
	}
	return path
}

// DefaultConfigPath returns the default config file location.
func DefaultConfigPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "flowstate", "config.toml")
}
