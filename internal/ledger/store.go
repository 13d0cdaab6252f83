// Package ledger is the persistent, race-free queue of agent invocations
// described by the run ledger contract: enqueue with phase-gate checks,
// atomic claim, progress updates, and idempotent terminal completion.
package ledger

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/flowstate/flowstate/internal/domain"
	"github.com/flowstate/flowstate/internal/ferrors"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// Store is the SQLite-backed run ledger. All exported methods are
// transactional and safe for concurrent use.
type Store struct {
	db *sql.DB
}

// New opens (and migrates) the ledger database at dbPath. Use ":memory:"
// for tests.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	// modernc.org/sqlite serializes writers; cap the pool so concurrent
	// callers queue on the driver instead of racing separate connections
	// into SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		return nil, err
	}
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("ledger: running migrations: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database handle.
func (s *Store) Close() error { return s.db.Close() }

// UpsertTask inserts or updates a task row.
func (s *Store) UpsertTask(t *domain.Task) error {
	_, err := s.db.Exec(`
		INSERT INTO tasks (id, project_id, parent_id, status, priority, sprint_id,
			spec_approval, spec_approved_hash, plan_approval, plan_approved_hash,
			research_approval, research_approved_hash,
			verification_approval, verification_approved_hash,
			created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			priority = excluded.priority,
			sprint_id = excluded.sprint_id,
			spec_approval = excluded.spec_approval,
			spec_approved_hash = excluded.spec_approved_hash,
			plan_approval = excluded.plan_approval,
			plan_approved_hash = excluded.plan_approved_hash,
			research_approval = excluded.research_approval,
			research_approved_hash = excluded.research_approved_hash,
			verification_approval = excluded.verification_approval,
			verification_approved_hash = excluded.verification_approved_hash,
			updated_at = excluded.updated_at
	`,
		t.ID, t.ProjectID, nullable(t.ParentID), string(t.Status), string(t.Priority), nullable(t.SprintID),
		string(t.Phases[domain.PhaseSpec].Approval), nullable(t.Phases[domain.PhaseSpec].ApprovedHash),
		string(t.Phases[domain.PhasePlan].Approval), nullable(t.Phases[domain.PhasePlan].ApprovedHash),
		string(t.Phases[domain.PhaseResearch].Approval), nullable(t.Phases[domain.PhaseResearch].ApprovedHash),
		string(t.Phases[domain.PhaseVerification].Approval), nullable(t.Phases[domain.PhaseVerification].ApprovedHash),
		t.CreatedAt, t.UpdatedAt,
	)
	return err
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// GetTask retrieves a task by id.
func (s *Store) GetTask(id string) (*domain.Task, error) {
	row := s.db.QueryRow(`
		SELECT id, project_id, parent_id, status, priority, sprint_id,
			spec_approval, spec_approved_hash, plan_approval, plan_approved_hash,
			research_approval, research_approved_hash,
			verification_approval, verification_approved_hash,
			created_at, updated_at
		FROM tasks WHERE id = ?`, id)
	return scanTask(row)
}

func scanTask(row *sql.Row) (*domain.Task, error) {
	var t domain.Task
	var parentID, sprintID sql.NullString
	var specAppr, planAppr, researchAppr, verifyAppr string
	var specHash, planHash, researchHash, verifyHash sql.NullString
	var status, priority string

	err := row.Scan(&t.ID, &t.ProjectID, &parentID, &status, &priority, &sprintID,
		&specAppr, &specHash, &planAppr, &planHash,
		&researchAppr, &researchHash, &verifyAppr, &verifyHash,
		&t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}
	t.ParentID = parentID.String
	t.SprintID = sprintID.String
	t.Status = domain.TaskStatus(status)
	t.Priority = domain.Priority(priority)
	t.Phases = map[domain.Phase]domain.PhaseState{
		domain.PhaseSpec:         {Approval: domain.ApprovalStatus(specAppr), ApprovedHash: specHash.String},
		domain.PhasePlan:         {Approval: domain.ApprovalStatus(planAppr), ApprovedHash: planHash.String},
		domain.PhaseResearch:     {Approval: domain.ApprovalStatus(researchAppr), ApprovedHash: researchHash.String},
		domain.PhaseVerification: {Approval: domain.ApprovalStatus(verifyAppr), ApprovedHash: verifyHash.String},
	}
	return &t, nil
}

// Enqueue creates a run in the queued state for taskID, after checking
// the action's phase-gate precondition. Returns the new run's id.
func (s *Store) Enqueue(taskID string, action domain.Action, capability domain.Capability) (string, error) {
	task, err := s.GetTask(taskID)
	if err != nil {
		if err == sql.ErrNoRows {
			return "", ferrors.Precondition("enqueue: task %q not found", taskID)
		}
		return "", err
	}

	if err := checkPhaseGate(task, action); err != nil {
		return "", err
	}

	id := uuid.NewString()
	now := time.Now()
	_, err = s.db.Exec(`
		INSERT INTO runs (id, task_id, action, required_capability, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, 'queued', ?, ?)`,
		id, taskID, string(action), string(capability), now, now)
	if err != nil {
		return "", err
	}
	return id, nil
}

// checkPhaseGate enforces spec.md's build/plan/design/research/distill
// preconditions against the task's currently recorded approvals.
func checkPhaseGate(task *domain.Task, action domain.Action) error {
	switch action {
	case domain.ActionBuild:
		if task.Phases[domain.PhaseSpec].Approval != domain.ApprovalApproved {
			return ferrors.Precondition("build requires spec to be approved, got %q", task.Phases[domain.PhaseSpec].Approval)
		}
		if task.Phases[domain.PhasePlan].Approval != domain.ApprovalApproved {
			return ferrors.Precondition("build requires plan to be approved, got %q", task.Phases[domain.PhasePlan].Approval)
		}
	case domain.ActionPlan:
		if task.Phases[domain.PhaseSpec].Approval != domain.ApprovalApproved {
			return ferrors.Precondition("plan requires spec to be approved, got %q", task.Phases[domain.PhaseSpec].Approval)
		}
	case domain.ActionDesign, domain.ActionResearch:
		// no gate
	case domain.ActionResearchDistil, domain.ActionDesignDistil, domain.ActionPlanDistil, domain.ActionVerifyDistil:
		phase := distillSourcePhase(action)
		state := task.Phases[phase]
		if state.Approval == domain.ApprovalNone {
			return ferrors.Precondition("%s requires an existing %s artifact to distill from", action, phase)
		}
	default:
		// verify has no gate beyond existing
	}
	return nil
}

// distillSourcePhase names the phase a *_distill action condenses.
// Design's output lands in the spec phase (there is no separate design
// phase in the four-phase approval model), so design_distill's source
// is PhaseSpec.
func distillSourcePhase(action domain.Action) domain.Phase {
	switch action {
	case domain.ActionResearchDistil:
		return domain.PhaseResearch
	case domain.ActionDesignDistil:
		return domain.PhaseSpec
	case domain.ActionPlanDistil:
		return domain.PhasePlan
	case domain.ActionVerifyDistil:
		return domain.PhaseVerification
	default:
		return domain.PhaseSpec
	}
}

// Claim selects the oldest queued run whose required capability the
// caller can satisfy and atomically transitions it to running. It
// returns (nil, nil) when no eligible run exists.
//
// Race-freedom relies on the sqlite driver serializing writers (a single
// pooled connection, above) combined with an UPDATE ... WHERE
// status='queued' check: the SELECT and UPDATE run inside one
// transaction on that connection, and an UPDATE that affects no row
// (the run was claimed in between) yields (nil, nil).
func (s *Store) Claim(runnerID string, capability domain.Capability, wantBuild bool) (*domain.Run, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	eligible := eligibleCapabilities(capability)
	query := `SELECT id, task_id, action, required_capability FROM runs
		WHERE status = 'queued' AND required_capability IN (` + placeholders(len(eligible)) + `)`
	args := make([]any, 0, len(eligible)+1)
	for _, c := range eligible {
		args = append(args, string(c))
	}
	if !wantBuild {
		query += ` AND action != ?`
		args = append(args, string(domain.ActionBuild))
	}
	query += ` ORDER BY created_at ASC, id ASC LIMIT 1`

	row := tx.QueryRow(query, args...)
	var run domain.Run
	var action, reqCap string
	if err := row.Scan(&run.ID, &run.TaskID, &action, &reqCap); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	run.Action = domain.Action(action)
	run.RequiredCapability = domain.Capability(reqCap)

	now := time.Now()
	res, err := tx.Exec(`UPDATE runs SET status = 'running', runner_id = ?, started_at = ?, updated_at = ?
		WHERE id = ? AND status = 'queued'`, runnerID, now, now, run.ID)
	if err != nil {
		return nil, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		// Lost the race to another transaction between SELECT and UPDATE.
		return nil, nil
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}

	run.Status = domain.RunRunning
	run.RunnerID = runnerID
	run.StartedAt = &now
	return &run, nil
}

func eligibleCapabilities(have domain.Capability) []domain.Capability {
	all := []domain.Capability{domain.CapabilityLight, domain.CapabilityStandard, domain.CapabilityHeavy}
	var out []domain.Capability
	for _, c := range all {
		if have.Satisfies(c) {
			out = append(out, c)
		}
	}
	return out
}

func placeholders(n int) string {
	s := ""
	for i := 0; i < n; i++ {
		if i > 0 {
			s += ","
		}
		s += "?"
	}
	return s
}

// Progress updates a run's progress_message. Fails if runnerID does not
// own the run or the run is already terminal.
func (s *Store) Progress(runID, runnerID, message string) error {
	res, err := s.db.Exec(`UPDATE runs SET progress_message = ?, updated_at = ?
		WHERE id = ? AND runner_id = ? AND status IN ('running', 'salvaging')`,
		message, time.Now(), runID, runnerID)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ferrors.ErrNotOwner
	}
	return nil
}

// Complete records a run's terminal outcome. Idempotent when called
// twice with the same outcome; returns ferrors.ErrConflict when called
// with a different outcome than the one already recorded.
func (s *Store) Complete(runID, runnerID string, outcome domain.Outcome) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var currentStatus, currentRunner string
	var currentErr sql.NullString
	err = tx.QueryRow(`SELECT status, runner_id, error_message FROM runs WHERE id = ?`, runID).
		Scan(&currentStatus, &currentRunner, &currentErr)
	if err != nil {
		if err == sql.ErrNoRows {
			return fmt.Errorf("ledger: run %q not found", runID)
		}
		return err
	}

	if domain.RunStatus(currentStatus).IsTerminal() {
		if currentStatus == string(outcome.Status) && currentErr.String == outcome.ErrorMessage {
			return tx.Commit() // idempotent replay
		}
		return ferrors.ErrConflict
	}

	if currentRunner != runnerID {
		return ferrors.ErrNotOwner
	}

	now := time.Now()
	_, err = tx.Exec(`UPDATE runs SET status = ?, finished_at = ?, exit_code = ?, error_message = ?,
			branch_name = ?, pr_url = ?, pr_number = ?, updated_at = ?
		WHERE id = ?`,
		string(outcome.Status), now, outcome.ExitCode, nullable(outcome.ErrorMessage),
		nullable(outcome.BranchName), nullable(outcome.PRURL), outcome.PRNumber, now, runID)
	if err != nil {
		return err
	}
	return tx.Commit()
}

// CountQueued returns the total number of queued runs.
func (s *Store) CountQueued() (int64, error) {
	var n int64
	err := s.db.QueryRow(`SELECT COUNT(*) FROM runs WHERE status = 'queued'`).Scan(&n)
	return n, err
}

// CountQueuedByCapability returns the number of queued runs requiring
// exactly the given capability tier.
func (s *Store) CountQueuedByCapability(capability domain.Capability) (int64, error) {
	var n int64
	err := s.db.QueryRow(`SELECT COUNT(*) FROM runs WHERE status = 'queued' AND required_capability = ?`,
		string(capability)).Scan(&n)
	return n, err
}

// StaleRunning returns runs in running or salvaging whose started_at
// predates the threshold cutoff, for the watchdog to reclaim.
func (s *Store) StaleRunning(cutoff time.Time) ([]*domain.Run, error) {
	rows, err := s.db.Query(`
		SELECT id, task_id, action, required_capability, status, runner_id, started_at
		FROM runs WHERE status IN ('running', 'salvaging') AND started_at < ?`, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.Run
	for rows.Next() {
		var r domain.Run
		var action, reqCap, status string
		var runnerID sql.NullString
		var startedAt sql.NullTime
		if err := rows.Scan(&r.ID, &r.TaskID, &action, &reqCap, &status, &runnerID, &startedAt); err != nil {
			return nil, err
		}
		r.Action = domain.Action(action)
		r.RequiredCapability = domain.Capability(reqCap)
		r.Status = domain.RunStatus(status)
		r.RunnerID = runnerID.String
		if startedAt.Valid {
			t := startedAt.Time
			r.StartedAt = &t
		}
		out = append(out, &r)
	}
	return out, rows.Err()
}

// GetRun retrieves a run by id.
func (s *Store) GetRun(id string) (*domain.Run, error) {
	row := s.db.QueryRow(`
		SELECT id, task_id, action, required_capability, status, runner_id, started_at, finished_at
		FROM runs WHERE id = ?`, id)
	var r domain.Run
	var action, reqCap, status string
	var runnerID sql.NullString
	var startedAt, finishedAt sql.NullTime
	if err := row.Scan(&r.ID, &r.TaskID, &action, &reqCap, &status, &runnerID, &startedAt, &finishedAt); err != nil {
		return nil, err
	}
	r.Action = domain.Action(action)
	r.RequiredCapability = domain.Capability(reqCap)
	r.Status = domain.RunStatus(status)
	r.RunnerID = runnerID.String
	if startedAt.Valid {
		t := startedAt.Time
		r.StartedAt = &t
	}
	if finishedAt.Valid {
		t := finishedAt.Time
		r.FinishedAt = &t
	}
	return &r, nil
}
