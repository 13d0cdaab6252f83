package domain

import "time"

// PendingConfig is a small record the dispatcher holds for a runner,
// delivered on the runner's next poll and cleared once acknowledged.
type PendingConfig struct {
	PollInterval *time.Duration
	Drain        *bool
}

// IsEmpty reports whether there is nothing pending for the runner.
func (p *PendingConfig) IsEmpty() bool {
	return p == nil || (p.PollInterval == nil && p.Drain == nil)
}

// RunnerInfo is the dispatcher's in-memory view of a fleet member.
// It exists only in the dispatcher process; it is not persisted.
type RunnerInfo struct {
	ID            string
	BackendName   string
	Capability    Capability
	PollInterval  time.Duration
	MaxConcurrent int
	MaxBuilds     int
	ActiveCount   int
	ActiveBuilds  int
	LastSeen      time.Time
	PendingConfig *PendingConfig
	Status        FleetStatus
}

// CanClaimBuild reports whether the runner has spare build capacity.
func (r *RunnerInfo) CanClaimBuild() bool {
	return r.ActiveBuilds < r.MaxBuilds
}

// HasCapacity reports whether the runner has any spare execution slot.
func (r *RunnerInfo) HasCapacity() bool {
	return r.ActiveCount < r.MaxConcurrent
}
