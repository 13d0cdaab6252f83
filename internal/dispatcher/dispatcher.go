package dispatcher

import (
	"log"
	"sync"
	"time"

	"github.com/flowstate/flowstate/internal/domain"
	"github.com/flowstate/flowstate/internal/ferrors"
	"github.com/flowstate/flowstate/internal/notify"
	"github.com/flowstate/flowstate/internal/wire"
	"golang.org/x/sync/errgroup"
)

// Ledger is the subset of *ledger.Store the dispatcher depends on,
// narrowed to an interface so tests can substitute a fake.
type Ledger interface {
	Claim(runnerID string, capability domain.Capability, wantBuild bool) (*domain.Run, error)
	Progress(runID, runnerID, message string) error
	Complete(runID, runnerID string, outcome domain.Outcome) error
	CountQueued() (int64, error)
	CountQueuedByCapability(capability domain.Capability) (int64, error)
	StaleRunning(cutoff time.Time) ([]*domain.Run, error)
	Enqueue(taskID string, action domain.Action, capability domain.Capability) (string, error)
}

// Dispatcher wires the fleet Registry to the run Ledger and answers the
// poll-protocol requests coming from runners.
type Dispatcher struct {
	Ledger   Ledger
	Registry *Registry
	Logger   *log.Logger
	Notifier notify.Notifier
}

// New builds a Dispatcher over an existing ledger and a fresh registry.
// Failed and timed-out run outcomes are reported through the Notifier
// field, which starts as notify.NoopNotifier{}; assign a real notifier
// to enable them.
func New(l Ledger, logger *log.Logger) *Dispatcher {
	if logger == nil {
		logger = log.New(log.Writer(), "[dispatcher] ", log.LstdFlags)
	}
	return &Dispatcher{Ledger: l, Registry: NewRegistry(), Logger: logger, Notifier: notify.NoopNotifier{}}
}

// Register upserts a runner's advertised state and returns pending config.
func (d *Dispatcher) Register(req wire.RegisterRequest) wire.RegisterResponse {
	info := domain.RunnerInfo{
		ID:            req.RunnerID,
		BackendName:   req.Backend,
		Capability:    domain.Capability(req.Capability),
		PollInterval:  req.PollInterval,
		MaxConcurrent: req.MaxConcurrent,
		MaxBuilds:     req.MaxBuilds,
		ActiveCount:   req.ActiveCount,
		ActiveBuilds:  req.ActiveBuilds,
		Status:        domain.FleetStatus(req.Status),
	}
	pending := d.Registry.Register(info)
	return wire.RegisterResponse{PendingConfig: toWirePendingConfig(pending)}
}

// Claim admits a runner's request for one unit of work. Build actions
// are additionally gated by the runner's advertised MaxBuilds capacity
// so a single runner never accepts more concurrent builds than it
// declared it could run.
func (d *Dispatcher) Claim(req wire.ClaimRequest) (wire.ClaimResponse, error) {
	capability := domain.Capability(req.Capability)
	if !capability.Valid() {
		return wire.ClaimResponse{}, ferrors.Precondition("claim: invalid capability %q", req.Capability)
	}

	if d.Registry.IsDraining(req.RunnerID) {
		return wire.ClaimResponse{}, nil
	}

	wantBuild := req.WantBuild
	if info, ok := d.Registry.Get(req.RunnerID); ok && wantBuild {
		wantBuild = info.CanClaimBuild()
	}

	run, err := d.Ledger.Claim(req.RunnerID, capability, wantBuild)
	if err != nil {
		return wire.ClaimResponse{}, err
	}

	pending := d.Registry.ConsumePending(req.RunnerID)
	resp := wire.ClaimResponse{PendingConfig: toWirePendingConfig(pending)}
	if run == nil {
		return resp, nil
	}
	resp.Run = &wire.ClaimedRun{
		ID:                 run.ID,
		TaskID:             run.TaskID,
		Action:             string(run.Action),
		RequiredCapability: string(run.RequiredCapability),
	}
	return resp, nil
}

// Progress forwards a heartbeat/progress update to the ledger.
func (d *Dispatcher) Progress(req wire.ProgressRequest) error {
	return d.Ledger.Progress(req.RunID, req.RunnerID, req.Message)
}

// Complete forwards a terminal outcome to the ledger.
func (d *Dispatcher) Complete(req wire.CompleteRequest) error {
	outcome := domain.Outcome{
		Status:       domain.RunStatus(req.Status),
		ErrorMessage: req.ErrorMessage,
		ExitCode:     req.ExitCode,
		BranchName:   req.BranchName,
		PRURL:        req.PRURL,
		PRNumber:     req.PRNumber,
	}
	if err := d.Ledger.Complete(req.RunID, req.RunnerID, outcome); err != nil {
		return err
	}
	if outcome.Status == domain.RunFailed || outcome.Status == domain.RunTimedOut {
		d.Notifier.Send(notify.Notification{
			Title:   "run " + string(outcome.Status),
			Message: outcome.ErrorMessage,
			Type:    notify.NotifyError,
			TaskID:  req.RunID,
			PRURL:   outcome.PRURL,
		})
	}
	return nil
}

// Enqueue is the admin-side call flowctl enqueue drives, going straight
// to the ledger's phase-gated Enqueue.
func (d *Dispatcher) Enqueue(req wire.EnqueueRequest) (string, error) {
	return d.Ledger.Enqueue(req.TaskID, domain.Action(req.Action), domain.Capability(req.Capability))
}

// SetPendingConfig is the admin-side call that arms a runner's next poll.
func (d *Dispatcher) SetPendingConfig(req wire.SetPendingConfigRequest) bool {
	return d.Registry.SetPendingConfig(req.RunnerID, fromWirePendingConfig(req.Config))
}

// FleetView renders the current fleet + queue-depth snapshot for admin
// tooling (HTTP endpoint and flowctl fleet).
func (d *Dispatcher) FleetView() (wire.FleetView, error) {
	var view wire.FleetView
	view.QueueDepth = make(map[string]int)

	var mu sync.Mutex
	var g errgroup.Group
	for _, cap := range []domain.Capability{domain.CapabilityLight, domain.CapabilityStandard, domain.CapabilityHeavy} {
		cap := cap
		g.Go(func() error {
			n, err := d.Ledger.CountQueuedByCapability(cap)
			if err != nil {
				return err
			}
			mu.Lock()
			view.QueueDepth[string(cap)] = int(n)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return view, err
	}

	for _, r := range d.Registry.All() {
		view.Runners = append(view.Runners, wire.RunnerSummary{
			ID:            r.ID,
			Backend:       r.BackendName,
			Capability:    string(r.Capability),
			ActiveCount:   r.ActiveCount,
			MaxConcurrent: r.MaxConcurrent,
			ActiveBuilds:  r.ActiveBuilds,
			MaxBuilds:     r.MaxBuilds,
			Status:        string(r.Status),
			LastSeen:      r.LastSeen,
		})
	}
	return view, nil
}

func toWirePendingConfig(p domain.PendingConfig) *wire.PendingConfig {
	if p.PollInterval == nil && p.Drain == nil {
		return nil
	}
	return &wire.PendingConfig{PollInterval: p.PollInterval, Drain: p.Drain}
}

func fromWirePendingConfig(w wire.PendingConfig) domain.PendingConfig {
	return domain.PendingConfig{PollInterval: w.PollInterval, Drain: w.Drain}
}
