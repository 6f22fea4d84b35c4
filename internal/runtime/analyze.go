package runtime

import (
	"fmt"
	"strings"

	"github.com/stewardlabs/steward/internal/core"
)

// Analyzer produces the structured task analysis consumed by the plan
// node. The default is deterministic so replays and cross-backend runs
// stay byte-identical.
type Analyzer interface {
	Analyze(goal string) (*core.TaskAnalysis, error)
}

// Planner turns a goal and its analysis into an ordered step list.
type Planner interface {
	Plan(goal string, analysis *core.TaskAnalysis) ([]*core.Step, error)
}

// HeuristicAnalyzer derives scope, constraints, risks, and complexity
// from the goal text alone.
type HeuristicAnalyzer struct{}

func (HeuristicAnalyzer) Analyze(goal string) (*core.TaskAnalysis, error) {
	goal = strings.TrimSpace(goal)
	if goal == "" {
		return nil, core.ErrValidation(core.CodeContractViolation, "goal text is empty")
	}

	analysis := &core.TaskAnalysis{Scope: goal}
	for _, clause := range splitClauses(goal) {
		lower := strings.ToLower(clause)
		switch {
		case strings.HasPrefix(lower, "must ") || strings.HasPrefix(lower, "without "):
			analysis.Constraints = append(analysis.Constraints, clause)
		case strings.Contains(lower, "migrat") || strings.Contains(lower, "delet") || strings.Contains(lower, "irreversib"):
			analysis.Risks = append(analysis.Risks, clause)
		}
	}

	words := len(strings.Fields(goal))
	clauses := len(splitClauses(goal))
	switch {
	case clauses >= 4 || words > 60:
		analysis.Complexity = "high"
	case clauses >= 2 || words > 20:
		analysis.Complexity = "medium"
	default:
		analysis.Complexity = "low"
	}
	return analysis, nil
}

// HeuristicPlanner emits one step per goal clause, each with acceptance
// criteria the verify node can evaluate against dispatch evidence.
type HeuristicPlanner struct{}

func (HeuristicPlanner) Plan(goal string, analysis *core.TaskAnalysis) ([]*core.Step, error) {
	clauses := splitClauses(goal)
	if len(clauses) == 0 {
		return nil, core.ErrValidation(core.CodeContractViolation, "goal yields no plannable steps")
	}

	steps := make([]*core.Step, 0, len(clauses))
	for i, clause := range clauses {
		step := &core.Step{
			ID:                 fmt.Sprintf("step-%d", i+1),
			Title:              stepTitle(clause),
			Goal:               clause,
			AcceptanceCriteria: []string{fmt.Sprintf("dispatch evidence addresses: %s", clause)},
			ExpectedOutputs:    []string{fmt.Sprintf("step-%d output", i+1)},
			Status:             core.StepStatusPending,
		}
		if i > 0 {
			step.DependsOn = []string{fmt.Sprintf("step-%d", i)}
		}
		steps = append(steps, step)
	}
	return steps, nil
}

// splitClauses breaks a goal into plannable units on the separators
// operators actually type.
func splitClauses(goal string) []string {
	normalized := strings.NewReplacer(
		"; ", "\n",
		", then ", "\n",
		" then ", "\n",
		" and then ", "\n",
	).Replace(goal)

	var out []string
	for _, part := range strings.Split(normalized, "\n") {
		part = strings.TrimSpace(strings.Trim(part, ";."))
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

func stepTitle(clause string) string {
	const max = 48
	if len(clause) <= max {
		return clause
	}
	return clause[:max-3] + "..."
}
