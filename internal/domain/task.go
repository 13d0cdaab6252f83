package domain

import "time"

// Priority is a task's scheduling priority.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityNormal Priority = ""
	PriorityLow    Priority = "low"
)

// PhaseState is a task's approval record for one phase artifact.
type PhaseState struct {
	Approval     ApprovalStatus
	ApprovedHash string
}

// Task is a unit of work tracked through research/design/plan/build/verify.
type Task struct {
	ID        string
	ProjectID string
	ParentID  string // empty for top-level tasks
	Status    TaskStatus
	Priority  Priority
	SprintID  string

	Phases map[Phase]PhaseState

	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewTask returns a Task with all phases initialized to no approval.
func NewTask(id, projectID string) *Task {
	now := time.Now()
	return &Task{
		ID:        id,
		ProjectID: projectID,
		Status:    TaskTodo,
		Priority:  PriorityNormal,
		Phases: map[Phase]PhaseState{
			PhaseSpec:         {Approval: ApprovalNone},
			PhasePlan:         {Approval: ApprovalNone},
			PhaseResearch:     {Approval: ApprovalNone},
			PhaseVerification: {Approval: ApprovalNone},
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// PhaseApproved reports whether the given phase is approved with a hash
// matching currentHash (the hash of the phase's current artifact content).
func (t *Task) PhaseApproved(p Phase, currentHash string) bool {
	state, ok := t.Phases[p]
	if !ok {
		return false
	}
	return state.Approval == ApprovalApproved && state.ApprovedHash == currentHash
}

// DemotePhase clears a phase's approval back to pending, e.g. when its
// approved artifact is edited.
func (t *Task) DemotePhase(p Phase) {
	state := t.Phases[p]
	if state.Approval == ApprovalApproved {
		state.Approval = ApprovalPending
		state.ApprovedHash = ""
		t.Phases[p] = state
		t.UpdatedAt = time.Now()
	}
}
