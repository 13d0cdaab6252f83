// Package dispatcher implements the fleet registry and the pull-based
// register/claim/progress/complete HTTP contract runners poll against.
package dispatcher

import (
	"sync"
	"time"

	"github.com/flowstate/flowstate/internal/domain"
)

// runnerEntry tracks one registered runner's advertised capacity and any
// pending config an admin has armed for its next poll response.
type runnerEntry struct {
	mu sync.Mutex
	domain.RunnerInfo
	pending domain.PendingConfig
}

// Registry tracks runners currently registered with the dispatcher.
// Entries expire (are dropped by Sweep) when a runner stops polling.
type Registry struct {
	mu      sync.RWMutex
	runners map[string]*runnerEntry
}

// NewRegistry creates an empty fleet registry.
func NewRegistry() *Registry {
	return &Registry{runners: make(map[string]*runnerEntry)}
}

// Register upserts a runner's advertised state and returns any config
// pending for it without clearing it; ConsumePending (called on claim)
// or ClearPending clears it.
func (r *Registry) Register(info domain.RunnerInfo) domain.PendingConfig {
	r.mu.Lock()
	entry, ok := r.runners[info.ID]
	if !ok {
		entry = &runnerEntry{}
		r.runners[info.ID] = entry
	}
	r.mu.Unlock()

	entry.mu.Lock()
	defer entry.mu.Unlock()
	info.LastSeen = time.Now()
	entry.RunnerInfo = info
	return entry.pending
}

// SetPendingConfig arms config for a runner to pick up on its next poll.
func (r *Registry) SetPendingConfig(runnerID string, cfg domain.PendingConfig) bool {
	r.mu.RLock()
	entry, ok := r.runners[runnerID]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	entry.pending = cfg
	return true
}

// ClearPending drops a runner's pending config once it has been served.
func (r *Registry) ClearPending(runnerID string) {
	r.mu.RLock()
	entry, ok := r.runners[runnerID]
	r.mu.RUnlock()
	if !ok {
		return
	}
	entry.mu.Lock()
	entry.pending = domain.PendingConfig{}
	entry.mu.Unlock()
}

// ConsumePending returns a runner's pending config and clears it in one
// step, so a config is delivered on exactly one poll response.
func (r *Registry) ConsumePending(runnerID string) domain.PendingConfig {
	r.mu.RLock()
	entry, ok := r.runners[runnerID]
	r.mu.RUnlock()
	if !ok {
		return domain.PendingConfig{}
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	cfg := entry.pending
	entry.pending = domain.PendingConfig{}
	return cfg
}

// Get returns a snapshot of a runner's info, and whether it is known.
func (r *Registry) Get(runnerID string) (domain.RunnerInfo, bool) {
	r.mu.RLock()
	entry, ok := r.runners[runnerID]
	r.mu.RUnlock()
	if !ok {
		return domain.RunnerInfo{}, false
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	return entry.RunnerInfo, true
}

// IsDraining reports whether the runner's own advertised status or an
// armed pending config says it should stop claiming builds/new work.
func (r *Registry) IsDraining(runnerID string) bool {
	info, ok := r.Get(runnerID)
	if !ok {
		return false
	}
	if info.Status == domain.FleetDrained {
		return true
	}
	r.mu.RLock()
	entry := r.runners[runnerID]
	r.mu.RUnlock()
	if entry == nil {
		return false
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	return entry.pending.Drain != nil && *entry.pending.Drain
}

// All returns a snapshot of every known runner.
func (r *Registry) All() []domain.RunnerInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.RunnerInfo, 0, len(r.runners))
	for _, entry := range r.runners {
		entry.mu.Lock()
		out = append(out, entry.RunnerInfo)
		entry.mu.Unlock()
	}
	return out
}

// Sweep drops runners that have not registered within ttl, returning
// the ids removed.
func (r *Registry) Sweep(ttl time.Duration) []string {
	cutoff := time.Now().Add(-ttl)
	r.mu.Lock()
	defer r.mu.Unlock()

	var removed []string
	for id, entry := range r.runners {
		entry.mu.Lock()
		stale := entry.LastSeen.Before(cutoff)
		entry.mu.Unlock()
		if stale {
			delete(r.runners, id)
			removed = append(removed, id)
		}
	}
	return removed
}
