package policy

import (
	"fmt"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// compiledRule is a Rule with its condition pre-compiled, grounded on the
// teacher's own evalCondition shape: compile once with expr.AsBool(),
// evaluate repeatedly against a per-call environment map.
type compiledRule struct {
	name     string
	program  *vm.Program
	decision Decision
	reason   string
}

func compileRule(r Rule) (compiledRule, error) {
	program, err := expr.Compile(r.Condition, expr.Env(buildEnv(Input{})), expr.AsBool())
	if err != nil {
		return compiledRule{}, fmt.Errorf("policy: compiling rule %q: %w", r.Name, err)
	}
	return compiledRule{name: r.Name, program: program, decision: r.Decision, reason: r.Reason}, nil
}

func (c compiledRule) evaluate(input Input) (bool, error) {
	output, err := expr.Run(c.program, buildEnv(input))
	if err != nil {
		return false, fmt.Errorf("policy: evaluating rule %q: %w", c.name, err)
	}
	result, ok := output.(bool)
	if !ok {
		return false, fmt.Errorf("policy: rule %q did not evaluate to bool (got %T)", c.name, output)
	}
	return result, nil
}

// buildEnv exposes Input's fields to expr-lang rule conditions as a plain
// map, the same "flatten the struct into an env map" approach the teacher
// uses for its own condition evaluation.
func buildEnv(input Input) map[string]any {
	return map[string]any{
		"command":            input.Command,
		"target_host":        input.TargetHost,
		"environment":        input.Environment,
		"worker_id":          input.Worker.WorkerID,
		"worker_scoped_prod": input.WorkerScopedProd,
		"blast_radius":       string(input.BlastRadius),
		"marked_destructive": input.MarkedDestructive,
		"approved_by_admin":  input.ApprovedByAdmin,
		"approver_role":      input.ApproverRole,
	}
}
