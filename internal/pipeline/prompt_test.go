package pipeline

import (
	"strings"
	"testing"

	"github.com/flowstate/flowstate/internal/domain"
)

func TestAssemblePrompt_IncludesPriorArtifactsAndInstruction(t *testing.T) {
	prompt := assemblePrompt(domain.ActionPlan, "task-9", artifactSet{
		Spec:     "Do the thing.",
		Research: "Prior art shows X.",
	})
	if !strings.Contains(prompt, "Do the thing.") {
		t.Error("expected spec content in prompt")
	}
	if !strings.Contains(prompt, "Prior art shows X.") {
		t.Error("expected research content in prompt")
	}
	if !strings.Contains(prompt, "implementation plan") {
		t.Error("expected plan instruction text in prompt")
	}
}

func TestAssemblePrompt_OmitsEmptySections(t *testing.T) {
	prompt := assemblePrompt(domain.ActionResearch, "task-1", artifactSet{})
	if strings.Contains(prompt, "## Plan") {
		t.Error("expected no Plan section when plan artifact is empty")
	}
}

func TestExtractVerificationCommands_FencedBlockAndBullets(t *testing.T) {
	plan := "# Plan\n\n" +
		"- `make test`\n" +
		"- update docs\n\n" +
		"```\ncargo test --all\n```\n"

	got := extractVerificationCommands(plan)
	if len(got) != 2 {
		t.Fatalf("extractVerificationCommands = %v, want 2 entries", got)
	}
	foundMake, foundCargo := false, false
	for _, c := range got {
		if strings.Contains(c, "make test") {
			foundMake = true
		}
		if strings.Contains(c, "cargo test") {
			foundCargo = true
		}
	}
	if !foundMake {
		t.Errorf("expected bullet make command among %v", got)
	}
	if !foundCargo {
		t.Errorf("expected fenced cargo command among %v", got)
	}
}

func TestExtractVerificationCommands_IgnoresNonVerbBullets(t *testing.T) {
	plan := "- update docs\n- review with team\n"
	got := extractVerificationCommands(plan)
	if len(got) != 0 {
		t.Fatalf("extractVerificationCommands = %v, want none", got)
	}
}
