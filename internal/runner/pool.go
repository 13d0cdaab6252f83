package runner

import (
	"context"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/flowstate/flowstate/internal/domain"
	"github.com/flowstate/flowstate/internal/pipeline"
	"github.com/flowstate/flowstate/internal/wire"
)

// Config configures a Pool. It mirrors config.RunnerConfig's shape so
// cmd/flowrunner can build one directly from loaded TOML.
type Config struct {
	RunnerID        string
	Backend         string
	Capability      domain.Capability
	PollInterval    time.Duration
	MaxConcurrent   int
	MaxBuilds       int
	ShutdownTimeout time.Duration
}

// Validate enforces the startup invariants spec.md requires of a
// runner's concurrency configuration.
func (c Config) Validate() error {
	if c.MaxConcurrent < 1 {
		return fmt.Errorf("max_concurrent must be >= 1, got %d", c.MaxConcurrent)
	}
	if c.MaxBuilds < 1 {
		return fmt.Errorf("max_builds must be >= 1, got %d", c.MaxBuilds)
	}
	if c.MaxBuilds > c.MaxConcurrent {
		return fmt.Errorf("max_builds (%d) must be <= max_concurrent (%d)", c.MaxBuilds, c.MaxConcurrent)
	}
	if !c.Capability.Valid() {
		return fmt.Errorf("invalid capability %q", c.Capability)
	}
	return nil
}

// Pipeline is the subset of *pipeline.Pipeline the pool depends on,
// narrowed to ease testing with a fake executor.
type Pipeline interface {
	Execute(ctx context.Context, spec pipeline.RunSpec)
}

// activeRun tracks one in-flight run so the pool can report accurate
// active_count/active_builds and honor per-run cancellation.
type activeRun struct {
	isBuild   bool
	cancel    context.CancelFunc
	forceStop *atomic.Bool
}

// Pool is the runner's fixed-capacity worker pool: it registers with
// the dispatcher on a poll_interval cadence, claims work up to its
// spare capacity, and hands each claim to a Pipeline in its own
// goroutine. It generalizes the teacher's buildworker.Pool (a slot
// counter) plus buildworker.Worker's job-tracking map into a single
// type, since the pull-based protocol collapses "connect, then react
// to pushed jobs" into "poll, then claim".
type Pool struct {
	cfg      Config
	client   *Client
	pipeline Pipeline
	logger   *log.Logger

	mu     sync.Mutex
	runs   map[string]*activeRun
	drain  atomic.Bool
	pollNs atomic.Int64 // current poll interval, hot-reloadable
}

// NewPool builds a Pool. logger may be nil to use a default prefix.
func NewPool(cfg Config, client *Client, pl Pipeline, logger *log.Logger) (*Pool, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = log.New(log.Writer(), "[runner] ", log.LstdFlags)
	}
	p := &Pool{
		cfg:      cfg,
		client:   client,
		pipeline: pl,
		logger:   logger,
		runs:     make(map[string]*activeRun),
	}
	p.pollNs.Store(int64(cfg.PollInterval))
	return p, nil
}

func (p *Pool) pollInterval() time.Duration {
	return time.Duration(p.pollNs.Load())
}

func (p *Pool) activeCounts() (active, builds int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, r := range p.runs {
		active++
		if r.isBuild {
			builds++
		}
	}
	return
}

// Run drives the register-claim-execute loop until ctx is cancelled or
// Drain is called and every active run finishes. It never returns an
// error: transient dispatcher-call failures are logged and retried on
// the next tick, matching spec.md's "a runner offline briefly does not
// lose queued work" property.
//
// Active runs are spawned against context.Background(), not ctx: ctx
// governs the polling loop only, so cancelling it to stop claiming new
// work (e.g. on SIGTERM) does not also kill runs already in flight.
// Drain's "wait for active runs" guarantee depends on that separation.
func (p *Pool) Run(ctx context.Context) {
	interval := p.pollInterval()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.awaitDrainOrTimeout()
			return
		default:
		}

		p.tick(ctx)

		if p.drain.Load() {
			if active, _ := p.activeCounts(); active == 0 {
				return
			}
		}

		if next := p.pollInterval(); next != interval && next > 0 {
			interval = next
			ticker.Reset(interval)
		}

		select {
		case <-ctx.Done():
			p.awaitDrainOrTimeout()
			return
		case <-ticker.C:
		}
	}
}

// awaitDrainOrTimeout polls active_count until it reaches zero or
// shutdown_timeout elapses. Until the timeout, active runs are left to
// finish on their own — drain alone never cancels a run. Only once
// shutdown_timeout is exhausted are the remaining runs signalled, per
// spec.md's "after the timeout, in-flight runs are signalled"; build
// runs are never signalled this way and instead run out their own
// build timeout, which is why the overall drain bound is
// shutdown_timeout plus the longest running action's own timeout.
//
// It runs after the polling loop itself has already stopped, so it
// cannot rely on that loop to observe the drained state for it.
func (p *Pool) awaitDrainOrTimeout() {
	timeout := p.cfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	deadline := time.Now().Add(timeout)
	poll := time.NewTicker(100 * time.Millisecond)
	defer poll.Stop()

	for time.Now().Before(deadline) {
		if active, _ := p.activeCounts(); active == 0 {
			return
		}
		<-poll.C
	}

	active, _ := p.activeCounts()
	if active == 0 {
		return
	}
	p.logger.Printf("shutdown timeout reached with %d run(s) still active, signalling", active)
	p.signalActive()

	for {
		if active, _ := p.activeCounts(); active == 0 {
			return
		}
		<-poll.C
	}
}

// signalActive force-cancels every still-active non-build run so it
// escalates to SIGTERM/SIGKILL at its next cancellation check.
func (p *Pool) signalActive() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, r := range p.runs {
		r.forceStop.Store(true)
	}
}

// Drain arms the pool to stop claiming new work. It is idempotent.
func (p *Pool) Drain() {
	p.drain.Store(true)
}

// tick performs one register+claim cycle, spawning a pipeline goroutine
// for anything claimed.
func (p *Pool) tick(ctx context.Context) {
	active, builds := p.activeCounts()
	status := string(domain.FleetActive)
	if p.drain.Load() {
		status = string(domain.FleetDrained)
	}

	pending, err := p.client.Register(ctx, wire.RegisterRequest{
		RunnerID:      p.cfg.RunnerID,
		Backend:       p.cfg.Backend,
		Capability:    string(p.cfg.Capability),
		PollInterval:  p.pollInterval(),
		MaxConcurrent: p.cfg.MaxConcurrent,
		MaxBuilds:     p.cfg.MaxBuilds,
		ActiveCount:   active,
		ActiveBuilds:  builds,
		Status:        status,
	})
	if err != nil {
		p.logger.Printf("register failed: %v", err)
		return
	}
	p.applyPendingConfig(pending)

	if p.drain.Load() {
		return
	}

	available := p.cfg.MaxConcurrent - active
	if available <= 0 {
		return
	}
	buildAvailable := p.cfg.MaxBuilds - builds

	for i := 0; i < available; i++ {
		resp, err := p.client.Claim(ctx, wire.ClaimRequest{
			RunnerID:   p.cfg.RunnerID,
			Capability: string(p.cfg.Capability),
			WantBuild:  buildAvailable > 0,
		})
		if err != nil {
			p.logger.Printf("claim failed: %v", err)
			return
		}
		if resp.Run == nil {
			return
		}
		p.applyPendingConfig(resp.PendingConfig)

		isBuild := domain.Action(resp.Run.Action).IsBuild()
		if isBuild {
			buildAvailable--
		}
		p.spawn(*resp.Run, isBuild)
	}
}

func (p *Pool) applyPendingConfig(pc *wire.PendingConfig) {
	if pc == nil {
		return
	}
	if pc.PollInterval != nil {
		p.pollNs.Store(int64(*pc.PollInterval))
	}
	if pc.Drain != nil && *pc.Drain {
		p.drain.Store(true)
	}
}

func (p *Pool) spawn(claimed wire.ClaimedRun, isBuild bool) {
	runCtx, cancel := context.WithCancel(context.Background())

	var forceStop atomic.Bool
	p.mu.Lock()
	p.runs[claimed.ID] = &activeRun{isBuild: isBuild, cancel: cancel, forceStop: &forceStop}
	p.mu.Unlock()

	spec := pipeline.RunSpec{
		RunID:     claimed.ID,
		TaskID:    claimed.TaskID,
		Action:    domain.Action(claimed.Action),
		RunnerID:  p.cfg.RunnerID,
		Cancelled: forceStop.Load,
	}

	go func() {
		defer func() {
			p.mu.Lock()
			delete(p.runs, claimed.ID)
			p.mu.Unlock()
			cancel()
		}()
		p.pipeline.Execute(runCtx, spec)
	}()
}
