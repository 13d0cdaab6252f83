// Package autoscaler runs the single-pod GPU autoscaler loop: spin-up,
// stay-warm, drain, stop-after-drain, drain-timeout, and cost-cap rules
// over a persisted PodState, re-read fresh on every tick so decisions
// stay idempotent with respect to provider state.
package autoscaler

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/flowstate/flowstate/internal/domain"
	"github.com/flowstate/flowstate/internal/podprovider"
)

// StateStore persists PodState across ticks and server restarts, e.g.
// via the artifact store under a fixed key.
type StateStore interface {
	LoadPodState() (domain.PodState, error)
	SavePodState(domain.PodState) error
}

// QueueDepth reports how many queued runs require heavy capability
// (the tier the GPU pod serves).
type QueueDepth func() (int64, error)

// Drainer arms drain=true on the runner matched to the GPU pod, and
// reports whether that runner has finished draining.
type Drainer interface {
	RequestDrain(runnerID string) error
	IsDrained(runnerID string) (bool, error)
}

// Config parameterizes the autoscaler's thresholds, mirroring spec.md's
// named constants directly.
type Config struct {
	ScanInterval    time.Duration
	QueueThreshold  int64
	SpindownThresh  int64
	IdleTimeout     time.Duration
	DrainTimeout    time.Duration
	MaxDailySpend   int64 // cents
	MatchedRunnerID string

	// Template/GPUType/GPUCount/NetworkVolume describe the pod the
	// provider should boot; PodEnv supplies the fixed portion of the
	// runner's environment (server URL, agent backend, concurrency
	// limits, local-model config). TokenFn, when set, mints a runner token
	// fresh per spin-up, merged in under FLOWSTATE_RUNNER_TOKEN.
	Template      string
	GPUType       string
	GPUCount      int
	NetworkVolume string
	PodEnv        map[string]string
	TokenFn       func() (string, error)
}

// Autoscaler is the server-resident control loop. cmd/flowstated starts
// it whenever [autoscaler] enabled is true; a provider key is not
// required, and without a provider base URL it drives the in-memory
// FakeProvider.
type Autoscaler struct {
	Provider podprovider.Provider
	Store    StateStore
	Queue    QueueDepth
	Drain    Drainer
	Cfg      Config
	Logger   *log.Logger
}

// New builds an Autoscaler. logger may be nil to use a default prefix.
func New(provider podprovider.Provider, store StateStore, queue QueueDepth, drain Drainer, cfg Config, logger *log.Logger) *Autoscaler {
	if logger == nil {
		logger = log.New(log.Writer(), "[autoscaler] ", log.LstdFlags)
	}
	if cfg.ScanInterval <= 0 {
		cfg.ScanInterval = 30 * time.Second
	}
	return &Autoscaler{Provider: provider, Store: store, Queue: queue, Drain: drain, Cfg: cfg, Logger: logger}
}

// Run blocks, ticking at Cfg.ScanInterval, until ctx is cancelled.
func (a *Autoscaler) Run(ctx context.Context) {
	ticker := time.NewTicker(a.Cfg.ScanInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := a.Tick(ctx); err != nil {
				a.Logger.Printf("tick: %v", err)
			}
		}
	}
}

// Tick evaluates one round of the autoscaler rules against fresh state.
func (a *Autoscaler) Tick(ctx context.Context) error {
	state, err := a.Store.LoadPodState()
	if err != nil {
		return err
	}
	if state.Status == "" {
		state.Status = domain.PodNone
	}

	now := time.Now()
	if state.DayStart.IsZero() || now.Sub(state.DayStart) >= 24*time.Hour {
		state.DayStart = now
		state.DailyCostCents = 0
		state.CostCapped = false
	}

	queue, err := a.Queue()
	if err != nil {
		return err
	}

	a.applyCostReport(&state)

	if state.CostCapped {
		if state.Status == domain.PodRunning {
			a.beginDrain(&state, now)
		}
	} else if queue >= a.Cfg.QueueThreshold && (state.Status == domain.PodNone || state.Status == domain.PodStopped) {
		if err := a.spinUp(ctx, &state); err != nil {
			a.Logger.Printf("spin-up: %v", err)
		}
	} else if state.Status == domain.PodRunning && queue > 0 {
		state.LastWorkSeen = now
	} else if state.Status == domain.PodRunning && queue <= a.Cfg.SpindownThresh && now.Sub(state.LastWorkSeen) > a.Cfg.IdleTimeout {
		a.beginDrain(&state, now)
	}

	if state.Status == domain.PodDraining {
		drained, err := a.Drain.IsDrained(a.Cfg.MatchedRunnerID)
		if err != nil {
			a.Logger.Printf("checking drain status: %v", err)
		} else if drained {
			a.stopPod(ctx, &state)
		} else if state.DrainRequestedAt != nil && now.Sub(*state.DrainRequestedAt) > a.Cfg.DrainTimeout {
			a.Logger.Printf("drain timeout exceeded, force-stopping pod %s", state.PodID)
			a.stopPod(ctx, &state)
		}
	}

	return a.Store.SavePodState(state)
}

// applyCostReport polls the provider for accrued cost and folds it into
// the daily total, tripping the cost cap when exceeded.
func (a *Autoscaler) applyCostReport(state *domain.PodState) {
	if state.PodID == "" || a.Provider == nil {
		return
	}
	info, err := a.Provider.Get(context.Background(), state.PodID)
	if err != nil {
		a.Logger.Printf("cost report: %v", err)
		return
	}
	hourly := info.CostPerHour
	if hourly <= 0 {
		return
	}
	accrued := int64(hourly * a.Cfg.ScanInterval.Hours() * 100)
	state.DailyCostCents += accrued
	if state.DailyCostCents > a.Cfg.MaxDailySpend {
		state.CostCapped = true
	}
}

func (a *Autoscaler) spinUp(ctx context.Context, state *domain.PodState) error {
	state.Status = domain.PodStarting
	if state.PodID == "" {
		spec, err := a.buildSpec()
		if err != nil {
			return fmt.Errorf("building pod spec: %w", err)
		}
		info, err := a.Provider.Create(ctx, spec)
		if err != nil {
			return err
		}
		state.PodID = info.ID
	} else if err := a.Provider.Start(ctx, state.PodID); err != nil {
		return err
	}
	state.Status = domain.PodRunning
	state.LastWorkSeen = time.Now()
	return nil
}

// buildSpec assembles the PodSpec for a fresh pod, merging the fixed
// PodEnv with a freshly minted runner auth token so the pod can
// register and claim work as a distinct fleet member.
func (a *Autoscaler) buildSpec() (podprovider.PodSpec, error) {
	env := make(map[string]string, len(a.Cfg.PodEnv)+1)
	for k, v := range a.Cfg.PodEnv {
		env[k] = v
	}
	if a.Cfg.TokenFn != nil {
		token, err := a.Cfg.TokenFn()
		if err != nil {
			return podprovider.PodSpec{}, err
		}
		env["FLOWSTATE_RUNNER_TOKEN"] = token
	}
	return podprovider.PodSpec{
		Template:      a.Cfg.Template,
		GPUType:       a.Cfg.GPUType,
		GPUCount:      a.Cfg.GPUCount,
		NetworkVolume: a.Cfg.NetworkVolume,
		Env:           env,
	}, nil
}

func (a *Autoscaler) beginDrain(state *domain.PodState, now time.Time) {
	if err := a.Drain.RequestDrain(a.Cfg.MatchedRunnerID); err != nil {
		a.Logger.Printf("requesting drain: %v", err)
		return
	}
	state.Status = domain.PodDraining
	state.DrainRequestedAt = &now
}

func (a *Autoscaler) stopPod(ctx context.Context, state *domain.PodState) {
	if err := a.Provider.Stop(ctx, state.PodID); err != nil {
		a.Logger.Printf("stopping pod %s: %v", state.PodID, err)
		return
	}
	state.Status = domain.PodStopped
	state.DrainRequestedAt = nil
}
