package pipeline

import (
	"fmt"
	"strings"

	"github.com/flowstate/flowstate/internal/domain"
)

// artifactSet is the subset of a task's current artifacts an action's
// prompt is assembled from.
type artifactSet struct {
	Spec         string
	Plan         string
	Research     string
	Verification string
}

// assemblePrompt builds the agent prompt for action against the task's
// current artifacts, following the pattern the teacher's prompt
// templates use of concatenating prior phase output as context ahead of
// the instruction for the phase being produced.
func assemblePrompt(action domain.Action, taskID string, artifacts artifactSet) string {
	var b strings.Builder

	fmt.Fprintf(&b, "# Task %s — %s\n\n", taskID, action)

	writeSection := func(title, body string) {
		if body == "" {
			return
		}
		fmt.Fprintf(&b, "## %s\n\n%s\n\n", title, body)
	}

	writeSection("Research", artifacts.Research)
	writeSection("Spec", artifacts.Spec)
	writeSection("Plan", artifacts.Plan)
	writeSection("Verification", artifacts.Verification)

	b.WriteString("## Instruction\n\n")
	b.WriteString(instructionFor(action))

	return b.String()
}

func instructionFor(action domain.Action) string {
	switch action {
	case domain.ActionResearch:
		return "Research this task and produce a research document covering prior art, constraints, and open questions."
	case domain.ActionDesign:
		return "Propose a design for this task based on the research above."
	case domain.ActionPlan:
		return "Write an implementation plan for the approved spec above, broken into concrete steps with verification commands."
	case domain.ActionBuild:
		return "Implement the approved plan above. Make the smallest correct change that satisfies it, and leave the working tree ready to commit."
	case domain.ActionVerify:
		return "Run the plan's verification commands and report pass/fail with evidence for each."
	case domain.ActionResearchDistil, domain.ActionDesignDistil, domain.ActionPlanDistil, domain.ActionVerifyDistil:
		return "Condense the document above into its distilled form, preserving every decision and constraint while cutting exploratory narration."
	default:
		return "Complete this task."
	}
}

// verbHeuristic lists the command verbs Finalize recognizes when
// scanning a plan document for verification commands, in addition to
// fenced code blocks.
var verbHeuristic = []string{"cargo", "npm", "make", "pytest", "go", "python", "yarn", "pnpm"}

// extractVerificationCommands pulls candidate shell commands out of a
// plan document: lines inside a fenced code block, plus bullet lines,
// that look like shell invocations under looksLikeCommand.
func extractVerificationCommands(plan string) []string {
	var commands []string
	inFence := false
	for _, line := range strings.Split(plan, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "```") {
			inFence = !inFence
			continue
		}
		if inFence {
			if command, ok := looksLikeCommand(trimmed); ok {
				commands = append(commands, command)
			}
			continue
		}
		if bullet, ok := bulletCommand(trimmed); ok {
			commands = append(commands, bullet)
		}
	}
	return commands
}

// looksLikeCommand recognizes line as a shell invocation: a leading
// "$ " prompt marker, or a first word matching verbHeuristic.
func looksLikeCommand(line string) (string, bool) {
	if rest := strings.TrimPrefix(line, "$ "); rest != line {
		rest = strings.TrimSpace(rest)
		if rest != "" {
			return rest, true
		}
		return "", false
	}

	fields := strings.Fields(line)
	if len(fields) == 0 {
		return "", false
	}
	for _, verb := range verbHeuristic {
		if fields[0] == verb {
			return line, true
		}
	}
	return "", false
}

// bulletCommand recognizes a plan bullet line as a verification command
// under looksLikeCommand, after stripping the bullet marker.
func bulletCommand(line string) (string, bool) {
	line = strings.TrimPrefix(line, "- ")
	line = strings.TrimPrefix(line, "* ")
	line = strings.Trim(line, "`")
	return looksLikeCommand(line)
}
