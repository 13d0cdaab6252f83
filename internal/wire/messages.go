// Package wire defines the request/response payloads for the poll-based
// worker-dispatcher protocol. Unlike the push-envelope shape it is
// modeled on, every message here is a plain HTTP request/response body:
// the runner always initiates, the dispatcher only ever replies.
package wire

import "time"

// RegisterRequest is sent on runner startup and piggybacked on every
// poll cycle to keep the dispatcher's fleet map fresh.
type RegisterRequest struct {
	RunnerID      string        `json:"runner_id"`
	Backend       string        `json:"backend"`
	Capability    string        `json:"capability"`
	PollInterval  time.Duration `json:"poll_interval_ns"`
	MaxConcurrent int           `json:"max_concurrent"`
	MaxBuilds     int           `json:"max_builds"`
	ActiveCount   int           `json:"active_count"`
	ActiveBuilds  int           `json:"active_builds"`
	Status        string        `json:"status"`
}

// RegisterResponse carries any configuration the dispatcher wants the
// runner to pick up next.
type RegisterResponse struct {
	PendingConfig *PendingConfig `json:"pending_config,omitempty"`
}

// ClaimRequest asks the dispatcher for one unit of work.
type ClaimRequest struct {
	RunnerID   string `json:"runner_id"`
	Capability string `json:"capability"`
	WantBuild  bool   `json:"want_build"`
}

// ClaimResponse carries the claimed run, if any. Run is nil when there
// was no eligible work (the poll-protocol equivalent of a 204).
type ClaimResponse struct {
	Run           *ClaimedRun    `json:"run,omitempty"`
	PendingConfig *PendingConfig `json:"pending_config,omitempty"`
}

// ClaimedRun is the subset of run state a runner needs to execute it.
type ClaimedRun struct {
	ID                 string `json:"id"`
	TaskID             string `json:"task_id"`
	Action             string `json:"action"`
	RequiredCapability string `json:"required_capability"`
}

// ProgressRequest reports a heartbeat/progress line for an in-flight run.
type ProgressRequest struct {
	RunID    string `json:"run_id"`
	RunnerID string `json:"runner_id"`
	Message  string `json:"message"`
}

// CompleteRequest reports a run's terminal outcome.
type CompleteRequest struct {
	RunID        string `json:"run_id"`
	RunnerID     string `json:"runner_id"`
	Status       string `json:"status"` // completed | failed | timed_out | cancelled
	ErrorMessage string `json:"error_message,omitempty"`
	ExitCode     *int   `json:"exit_code,omitempty"`
	BranchName   string `json:"branch_name,omitempty"`
	PRURL        string `json:"pr_url,omitempty"`
	PRNumber     int    `json:"pr_number,omitempty"`
}

// Ack is the empty acknowledgement body for progress/complete calls.
type Ack struct {
	OK bool `json:"ok"`
}

// PendingConfig is the wire form of domain.PendingConfig.
type PendingConfig struct {
	PollInterval *time.Duration `json:"poll_interval_ns,omitempty"`
	Drain        *bool          `json:"drain,omitempty"`
}

// FleetView is the read-only response for the admin fleet_view contract.
type FleetView struct {
	Runners    []RunnerSummary `json:"runners"`
	QueueDepth map[string]int  `json:"queue_depth"`
	PodStatus  string          `json:"pod_status"`
}

// RunnerSummary is one fleet member as shown to admin tooling.
type RunnerSummary struct {
	ID            string    `json:"id"`
	Backend       string    `json:"backend"`
	Capability    string    `json:"capability"`
	ActiveCount   int       `json:"active_count"`
	MaxConcurrent int       `json:"max_concurrent"`
	ActiveBuilds  int       `json:"active_builds"`
	MaxBuilds     int       `json:"max_builds"`
	Status        string    `json:"status"`
	LastSeen      time.Time `json:"last_seen"`
}

// SetPendingConfigRequest is the admin call that arms a runner's next
// poll response.
type SetPendingConfigRequest struct {
	RunnerID string        `json:"runner_id"`
	Config   PendingConfig `json:"config"`
}

// EnqueueRequest is the admin call that queues a new run for a task,
// subject to the ledger's phase-gate precondition.
type EnqueueRequest struct {
	TaskID     string `json:"task_id"`
	Action     string `json:"action"`
	Capability string `json:"capability"`
}

// EnqueueResponse carries the newly queued run's id.
type EnqueueResponse struct {
	RunID string `json:"run_id"`
}
