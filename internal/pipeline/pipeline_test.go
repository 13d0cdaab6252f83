package pipeline

import (
	"context"
	"encoding/json"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/flowstate/flowstate/internal/artifactstore"
	"github.com/flowstate/flowstate/internal/domain"
	"github.com/flowstate/flowstate/internal/repoprovider"
)

type fakeReporter struct {
	mu       sync.Mutex
	progress []string
	outcome  *domain.Outcome
}

func (f *fakeReporter) Progress(runID, runnerID, message string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.progress = append(f.progress, message)
	return nil
}

func (f *fakeReporter) Complete(runID, runnerID string, outcome domain.Outcome) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	o := outcome
	f.outcome = &o
	return nil
}

func (f *fakeReporter) result() domain.Outcome {
	f.mu.Lock()
	defer f.mu.Unlock()
	return *f.outcome
}

// newFixtureRepo creates a tiny local git repository to clone from,
// avoiding any network dependency in tests.
func newFixtureRepo(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	run := func(args ...string) {
		cmd := exec.Command("git", args...)
		cmd.Dir = dir
		if out, err := cmd.CombinedOutput(); err != nil {
			t.Fatalf("git %v: %s: %v", args, out, err)
		}
	}
	run("init", "-q", "-b", "main")
	run("config", "user.email", "test@example.com")
	run("config", "user.name", "test")
	if err := os.WriteFile(filepath.Join(dir, "README.md"), []byte("hello\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	run("add", "-A")
	run("commit", "-q", "-m", "initial")
	return dir
}

// fakeAgentScript writes an executable shell script standing in for the
// agent CLI: it answers --version, and otherwise runs body.
func fakeAgentScript(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "fake-agent")
	script := "#!/bin/sh\n" +
		"if [ \"$1\" = \"--version\" ]; then echo v0; exit 0; fi\n" +
		body + "\n"
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatal(err)
	}
	return path
}

func testPipeline(t *testing.T, agentBinary string, timeout, grace time.Duration) (*Pipeline, *fakeReporter, string) {
	t.Helper()
	fixture := newFixtureRepo(t)
	artifactRoot := t.TempDir()
	store, err := artifactstore.NewFSStore(artifactRoot)
	if err != nil {
		t.Fatal(err)
	}
	reporter := &fakeReporter{}
	cfg := Config{
		WorkspaceRoot:   t.TempDir(),
		RepoURL:         fixture,
		BaseBranch:      "main",
		AgentBinary:     agentBinary,
		AgentBackend:    "claude",
		EnvAllowlist:    nil,
		LightTimeout:    timeout,
		BuildTimeout:    timeout,
		KillGracePeriod: grace,
		HeartbeatEvery:  50 * time.Millisecond,
		MaxOutputBytes:  1 << 16,
	}
	p := New(cfg, repoprovider.New(t.TempDir()), store, reporter, nil)
	return p, reporter, artifactRoot
}

func TestPipeline_HappyPathPersistsArtifact(t *testing.T) {
	agent := fakeAgentScript(t, `printf '## Research\ndone\n' > .flowstate-output.md
echo "working" 1>&2
exit 0`)
	p, reporter, artifactRoot := testPipeline(t, agent, 5*time.Second, time.Second)

	spec := RunSpec{RunID: "run-1", TaskID: "task-1", Action: domain.ActionResearch, RunnerID: "runner-1"}
	p.Execute(context.Background(), spec)

	outcome := reporter.result()
	if outcome.Status != domain.RunCompleted {
		t.Fatalf("Status = %v, want completed (outcome=%+v)", outcome.Status, outcome)
	}

	data, err := os.ReadFile(filepath.Join(artifactRoot, "tasks", "task-1", "research.md"))
	if err != nil {
		t.Fatalf("expected research artifact to be persisted: %v", err)
	}
	if len(data) == 0 {
		t.Fatal("expected non-empty persisted artifact")
	}
}

func TestPipeline_PlanFinalizePersistsVerificationCommands(t *testing.T) {
	agent := fakeAgentScript(t, `cat > .flowstate-output.md <<'EOF'
## Plan

- Step one
` + "```bash" + `
cargo build --workspace
$ cargo test --workspace
EOF
exit 0`)
	p, reporter, artifactRoot := testPipeline(t, agent, 5*time.Second, time.Second)

	spec := RunSpec{RunID: "run-plan", TaskID: "task-plan", Action: domain.ActionPlan, RunnerID: "runner-1"}
	p.Execute(context.Background(), spec)

	outcome := reporter.result()
	if outcome.Status != domain.RunCompleted {
		t.Fatalf("Status = %v, want completed (outcome=%+v)", outcome.Status, outcome)
	}

	data, err := os.ReadFile(filepath.Join(artifactRoot, "tasks", "task-plan", "verification-commands.json"))
	if err != nil {
		t.Fatalf("expected verification commands artifact to be persisted: %v", err)
	}

	var commands []string
	if err := json.Unmarshal(data, &commands); err != nil {
		t.Fatalf("verification commands artifact is not valid JSON: %v", err)
	}
	want := []string{"cargo build --workspace", "cargo test --workspace"}
	if len(commands) != len(want) {
		t.Fatalf("commands = %v, want %v", commands, want)
	}
	for i, c := range want {
		if commands[i] != c {
			t.Fatalf("commands[%d] = %q, want %q", i, commands[i], c)
		}
	}
}

func TestPipeline_SalvageSkipsPRWhenVerificationFails(t *testing.T) {
	p, _, artifactRoot := testPipeline(t, "unused", time.Second, time.Second)

	workspace := t.TempDir()
	run := func(args ...string) {
		cmd := exec.Command("git", args...)
		cmd.Dir = workspace
		if out, err := cmd.CombinedOutput(); err != nil {
			t.Fatalf("git %v: %s: %v", args, out, err)
		}
	}
	run("init", "-q", "-b", "main")
	run("config", "user.email", "test@example.com")
	run("config", "user.name", "test")
	if err := os.WriteFile(filepath.Join(workspace, "README.md"), []byte("hello\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	run("add", "-A")
	run("commit", "-q", "-m", "initial")
	if err := os.WriteFile(filepath.Join(workspace, "changed.txt"), []byte("uncommitted work\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	encoded, err := json.Marshal([]string{"exit 1"})
	if err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(filepath.Join(artifactRoot, "tasks", "task-salvage"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(artifactRoot, "tasks", "task-salvage", "verification-commands.json"), encoded, 0o644); err != nil {
		t.Fatal(err)
	}

	spec := RunSpec{RunID: "run-salvage", TaskID: "task-salvage", Action: domain.ActionBuild, RunnerID: "runner-1"}
	_, ok := p.salvage(spec, workspace)
	if ok {
		t.Fatal("expected salvage to skip PR when verification commands fail")
	}
}

func TestPipeline_NonZeroExitReportsFailed(t *testing.T) {
	agent := fakeAgentScript(t, `exit 3`)
	p, reporter, _ := testPipeline(t, agent, 5*time.Second, time.Second)

	spec := RunSpec{RunID: "run-2", TaskID: "task-2", Action: domain.ActionDesign, RunnerID: "runner-1"}
	p.Execute(context.Background(), spec)

	outcome := reporter.result()
	if outcome.Status != domain.RunFailed {
		t.Fatalf("Status = %v, want failed", outcome.Status)
	}
	if outcome.ExitCode == nil || *outcome.ExitCode != 3 {
		t.Fatalf("ExitCode = %v, want 3", outcome.ExitCode)
	}
}

func TestPipeline_PreflightFailsWhenBinaryMissing(t *testing.T) {
	p, reporter, _ := testPipeline(t, "/nonexistent/agent-binary-xyz", 5*time.Second, time.Second)

	spec := RunSpec{RunID: "run-3", TaskID: "task-3", Action: domain.ActionResearch, RunnerID: "runner-1"}
	p.Execute(context.Background(), spec)

	outcome := reporter.result()
	if outcome.Status != domain.RunFailed {
		t.Fatalf("Status = %v, want failed", outcome.Status)
	}
}

func TestPipeline_TimeoutEscalatesToSIGKILL(t *testing.T) {
	// Traps SIGTERM and ignores it so escalation must fall through to
	// SIGKILL; a bare `sleep 10` would already die on SIGTERM and not
	// exercise the escalation path.
	agent := fakeAgentScript(t, `trap '' TERM
sleep 10 &
wait`)
	p, reporter, _ := testPipeline(t, agent, time.Second, time.Second)

	spec := RunSpec{RunID: "run-4", TaskID: "task-4", Action: domain.ActionBuild, RunnerID: "runner-1"}

	start := time.Now()
	p.Execute(context.Background(), spec)
	elapsed := time.Since(start)

	outcome := reporter.result()
	if outcome.Status != domain.RunTimedOut {
		t.Fatalf("Status = %v, want timed_out", outcome.Status)
	}
	if elapsed > 5*time.Second {
		t.Fatalf("escalation took %v, want well under 5s (timeout=1s + grace=1s)", elapsed)
	}
}

func TestPipeline_CancellationOfNonBuildActionStops(t *testing.T) {
	agent := fakeAgentScript(t, `sleep 10`)
	p, reporter, _ := testPipeline(t, agent, 30*time.Second, time.Second)

	var cancel bool
	var mu sync.Mutex
	spec := RunSpec{
		RunID: "run-5", TaskID: "task-5", Action: domain.ActionResearch, RunnerID: "runner-1",
		Cancelled: func() bool {
			mu.Lock()
			defer mu.Unlock()
			return cancel
		},
	}

	go func() {
		time.Sleep(300 * time.Millisecond)
		mu.Lock()
		cancel = true
		mu.Unlock()
	}()

	start := time.Now()
	p.Execute(context.Background(), spec)
	elapsed := time.Since(start)

	outcome := reporter.result()
	if outcome.Status != domain.RunCancelled {
		t.Fatalf("Status = %v, want cancelled", outcome.Status)
	}
	if elapsed > 5*time.Second {
		t.Fatalf("cancellation took %v, want well under 5s", elapsed)
	}
}

func TestTargetPhase(t *testing.T) {
	tests := []struct {
		action domain.Action
		want   domain.Phase
		ok     bool
	}{
		{domain.ActionResearch, domain.PhaseResearch, true},
		{domain.ActionResearchDistil, domain.PhaseResearch, true},
		{domain.ActionDesign, domain.PhaseSpec, true},
		{domain.ActionDesignDistil, domain.PhaseSpec, true},
		{domain.ActionPlan, domain.PhasePlan, true},
		{domain.ActionVerify, domain.PhaseVerification, true},
		{domain.ActionBuild, "", false},
	}
	for _, tt := range tests {
		got, ok := targetPhase(tt.action)
		if got != tt.want || ok != tt.ok {
			t.Errorf("targetPhase(%v) = (%v, %v), want (%v, %v)", tt.action, got, ok, tt.want, tt.ok)
		}
	}
}
