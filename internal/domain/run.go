package domain

import "time"

// Run is a single queued or executed agent invocation against a task.
type Run struct {
	ID                  string
	TaskID              string
	Action              Action
	RequiredCapability  Capability
	Status              RunStatus
	RunnerID            string
	StartedAt           *time.Time
	FinishedAt          *time.Time
	ExitCode            *int
	ProgressMessage     string
	PRURL               string
	PRNumber            int
	BranchName          string
	ErrorMessage        string
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// Outcome is a terminal disposition reported by a runner via complete().
type Outcome struct {
	Status       RunStatus // one of RunCompleted, RunFailed, RunTimedOut, RunCancelled
	ErrorMessage string
	ExitCode     *int
	BranchName   string // set on salvage
	PRURL        string // set on salvage
	PRNumber     int    // set on salvage
}
