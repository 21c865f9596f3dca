// Package policy implements the Policy Engine (§4.5): evaluate allow/deny/
// approval-required decisions over a step's realized command, environment,
// invoking worker, and blast radius. Rules run in a fixed order; the first
// rule to match decides, and the Engine never consults a later rule once
// one has fired.
package policy

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/codeready-toolchain/orchestrator/pkg/models"
)

// Decision is the Policy Engine's verdict (§4.5: "allow, deny-with-reason,
// require-approval, require-two-person").
type Decision string

const (
	DecisionAllow            Decision = "allow"
	DecisionDeny             Decision = "deny"
	DecisionRequireApproval  Decision = "require_approval"
	DecisionRequireTwoPerson Decision = "require_two_person"
)

// Input carries everything a rule may condition on (§4.5: "the step's
// realized command, target, environment, invoking worker, blast radius,
// approver role if present").
type Input struct {
	Command         string
	TargetHost      string
	Environment     string
	Worker          models.AgentWorker
	WorkerScopedProd bool // worker.TenantScope/NetworkSegment marks it eligible for production credentials
	BlastRadius     models.BlastRadius
	MarkedDestructive bool // the runbook step itself declares blast_radius == destructive
	ApprovedByAdmin bool   // the approval carries the explicit approved_by_admin claim
	ApproverRole    string
}

// Result is the Engine's verdict plus the reason to record on a deny
// (never empty for DecisionDeny — the reason is what gets attached to the
// step's failure and surfaced to the operator).
type Result struct {
	Decision Decision
	Reason   string
}

// Rule is one custom, operator-authored predicate evaluated with
// expr-lang/expr after the four mandatory rules. Condition must compile to
// a bool expression over the fields of Input (as a map — see buildEnv).
type Rule struct {
	Name      string
	Condition string
	Decision  Decision
	Reason    string
}

// Engine evaluates Input against the mandatory rules (§4.5) followed by
// any operator-supplied Rules, in that fixed order.
type Engine struct {
	destructiveLexicon      []*regexp.Regexp
	twoPersonApprovalRoles  map[string]bool
	registeredEgressTargets map[string]bool
	rules                   []compiledRule
}

// NewEngine compiles the destructive lexicon, the registered egress
// allowlist, and any operator-supplied rules once at startup.
func NewEngine(destructiveLexicon []string, twoPersonApprovalRoles []string, registeredEgressTargets []string, rules []Rule) (*Engine, error) {
	e := &Engine{
		twoPersonApprovalRoles:  toSet(normalizeAll(twoPersonApprovalRoles)),
		registeredEgressTargets: toSet(registeredEgressTargets),
	}

	for _, phrase := range destructiveLexicon {
		pattern, err := regexp.Compile("(?i)" + regexp.QuoteMeta(phrase))
		if err != nil {
			return nil, fmt.Errorf("policy: compiling destructive lexicon phrase %q: %w", phrase, err)
		}
		e.destructiveLexicon = append(e.destructiveLexicon, pattern)
	}

	for _, r := range rules {
		compiled, err := compileRule(r)
		if err != nil {
			return nil, err
		}
		e.rules = append(e.rules, compiled)
	}

	return e, nil
}

func toSet(items []string) map[string]bool {
	set := make(map[string]bool, len(items))
	for _, item := range items {
		set[item] = true
	}
	return set
}

// Evaluate runs Input through the mandatory rules in the order named by
// §4.5, then any operator-supplied Rules. The first rule to produce a
// non-allow decision wins; if nothing fires, the default is
// require_approval for medium+ blast radius steps, else allow.
func (e *Engine) Evaluate(input Input) (Result, error) {
	if result, fired := e.evaluateProductionScoping(input); fired {
		return result, nil
	}
	if result, fired := e.evaluateDestructiveTwoPerson(input); fired {
		return result, nil
	}
	if result, fired := e.evaluateDestructiveLexicon(input); fired {
		return result, nil
	}
	if result, fired := e.evaluateEgressAllowlist(input); fired {
		return result, nil
	}

	for _, rule := range e.rules {
		matched, err := rule.evaluate(input)
		if err != nil {
			return Result{}, err
		}
		if matched {
			return Result{Decision: rule.decision, Reason: rule.reason}, nil
		}
	}

	if input.BlastRadius.AtLeast(models.BlastRadiusMedium) {
		return Result{Decision: DecisionRequireApproval, Reason: "blast radius requires operator approval"}, nil
	}
	return Result{Decision: DecisionAllow}, nil
}

// evaluateProductionScoping enforces "production credentials are
// accessible only from workers scoped to production" (§4.5).
func (e *Engine) evaluateProductionScoping(input Input) (Result, bool) {
	if input.Environment != "production" {
		return Result{}, false
	}
	if input.WorkerScopedProd {
		return Result{}, false
	}
	return Result{
		Decision: DecisionDeny,
		Reason:   fmt.Sprintf("worker %s is not scoped for production credentials", input.Worker.WorkerID),
	}, true
}

// evaluateDestructiveTwoPerson enforces "destructive commands require a
// two-person approval and an explicit approved_by_admin claim" (§4.5).
func (e *Engine) evaluateDestructiveTwoPerson(input Input) (Result, bool) {
	if input.BlastRadius != models.BlastRadiusDestructive {
		return Result{}, false
	}
	if input.ApprovedByAdmin && e.twoPersonApprovalRoles[normalizeRole(input.ApproverRole)] {
		return Result{}, false
	}
	return Result{
		Decision: DecisionRequireTwoPerson,
		Reason:   "destructive step requires two-person approval with an approved_by_admin claim",
	}, true
}

// evaluateDestructiveLexicon enforces "any command matching the destructive
// command lexicon is denied unless the step is explicitly marked
// destructive and approved" (§4.5).
func (e *Engine) evaluateDestructiveLexicon(input Input) (Result, bool) {
	matched := e.matchesDestructiveLexicon(input.Command)
	if !matched {
		return Result{}, false
	}
	if input.MarkedDestructive && input.ApprovedByAdmin {
		return Result{}, false
	}
	return Result{
		Decision: DecisionDeny,
		Reason:   "command matches the destructive command lexicon and is not an approved destructive step",
	}, true
}

// matchesDestructiveLexicon reports whether command contains any phrase
// from the configured destructive lexicon.
func (e *Engine) matchesDestructiveLexicon(command string) bool {
	for _, pattern := range e.destructiveLexicon {
		if pattern.MatchString(command) {
			return true
		}
	}
	return false
}

// evaluateEgressAllowlist enforces "network egress from the worker is
// allowed only to registered targets" (§4.5).
func (e *Engine) evaluateEgressAllowlist(input Input) (Result, bool) {
	if len(e.registeredEgressTargets) == 0 {
		return Result{}, false
	}
	if input.TargetHost == "" || e.registeredEgressTargets[input.TargetHost] {
		return Result{}, false
	}
	return Result{
		Decision: DecisionDeny,
		Reason:   fmt.Sprintf("target %q is not a registered egress target", input.TargetHost),
	}, true
}

// normalizeRole canonicalizes a role claim for case/whitespace-insensitive
// comparison against the configured two-person-approval role set.
func normalizeRole(role string) string {
	return strings.ToLower(strings.TrimSpace(role))
}

func normalizeAll(roles []string) []string {
	out := make([]string, len(roles))
	for i, r := range roles {
		out[i] = normalizeRole(r)
	}
	return out
}
