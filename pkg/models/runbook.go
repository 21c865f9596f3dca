package models

import "time"

// BlastRadius is the qualitative severity of a step's effect. It governs
// approval and retry policy (§4.5, §7).
type BlastRadius string

const (
	BlastRadiusLow         BlastRadius = "low"
	BlastRadiusMedium      BlastRadius = "medium"
	BlastRadiusHigh        BlastRadius = "high"
	BlastRadiusDestructive BlastRadius = "destructive"
)

// IsValid reports whether b is one of the recognized blast radius tags.
func (b BlastRadius) IsValid() bool {
	switch b {
	case BlastRadiusLow, BlastRadiusMedium, BlastRadiusHigh, BlastRadiusDestructive:
		return true
	default:
		return false
	}
}

// AtLeast reports whether b is at least as severe as other, ordered
// low < medium < high < destructive.
func (b BlastRadius) AtLeast(other BlastRadius) bool {
	rank := map[BlastRadius]int{
		BlastRadiusLow: 0, BlastRadiusMedium: 1, BlastRadiusHigh: 2, BlastRadiusDestructive: 3,
	}
	return rank[b] >= rank[other]
}

// RunbookApprovalState is the lifecycle of a runbook specification.
type RunbookApprovalState string

const (
	RunbookDraft    RunbookApprovalState = "draft"
	RunbookApproved RunbookApprovalState = "approved"
	RunbookArchived RunbookApprovalState = "archived"
)

// StepPhase groups a runbook's steps into prechecks, main work, and
// postchecks (§3).
type StepPhase string

const (
	PhasePrecheck  StepPhase = "precheck"
	PhaseMain      StepPhase = "main"
	PhasePostcheck StepPhase = "postcheck"
)

// StepKind discriminates the tagged variant over step types (§9 DESIGN
// NOTES: "represent as a tagged variant over {CommandStep, ManualStep}").
type StepKind string

const (
	StepKindCommand StepKind = "command"
	StepKindManual  StepKind = "manual"
)

// ExpectedOutputKind discriminates the sum type over {None, LiteralSubstring,
// Regex} (§9 DESIGN NOTES: "make matching total").
type ExpectedOutputKind string

const (
	ExpectedOutputNone             ExpectedOutputKind = ""
	ExpectedOutputLiteralSubstring ExpectedOutputKind = "literal_substring"
	ExpectedOutputRegex            ExpectedOutputKind = "regex"
)

// ExpectedOutput is a total sum type: exactly one of its variants is active,
// discriminated by Kind. An empty/zero-value ExpectedOutput means "no
// expectation", modeled explicitly rather than as a nil pointer or an empty
// string with implicit meaning.
type ExpectedOutput struct {
	Kind    ExpectedOutputKind `json:"kind,omitempty" yaml:"kind,omitempty"`
	Pattern string             `json:"pattern,omitempty" yaml:"pattern,omitempty"`
}

// IsSatisfiedBy reports whether output matches this expectation. A None
// expectation is always satisfied.
func (e ExpectedOutput) IsSatisfiedBy(output string) (bool, error) {
	switch e.Kind {
	case ExpectedOutputNone, "":
		return true, nil
	case ExpectedOutputLiteralSubstring:
		return containsLiteral(output, e.Pattern), nil
	case ExpectedOutputRegex:
		return matchesRegex(output, e.Pattern)
	default:
		return false, nil
	}
}

// RetryPolicy governs whether a failed step may be retried (§3, §4.3, §7).
// Per spec default: zero retries for destructive steps, one retry for
// idempotent checks.
type RetryPolicy struct {
	Attempts   int  `json:"attempts" yaml:"attempts"`
	Idempotent bool `json:"idempotent" yaml:"idempotent"`
}

// DefaultRetryPolicy returns the spec default retry policy for a blast
// radius: zero retries for destructive, one retry for everything else,
// with Idempotent left false (the runbook step must mark itself idempotent
// explicitly — see RunbookStep.Idempotent).
func DefaultRetryPolicy(radius BlastRadius) RetryPolicy {
	if radius == BlastRadiusDestructive {
		return RetryPolicy{Attempts: 0}
	}
	return RetryPolicy{Attempts: 1}
}

// CommandStep is the command-executing variant of a runbook step.
type CommandStep struct {
	Command          string         `yaml:"command"`
	ExpectedOutput   ExpectedOutput `yaml:"expected_output,omitempty"`
	RollbackCommand  string         `yaml:"rollback_command,omitempty"`
	TimeoutSeconds   int            `yaml:"timeout_seconds,omitempty"`
	Shell            bool           `yaml:"shell,omitempty"`
}

// ManualStep is the human-acknowledgment variant of a runbook step. It
// carries no command; it requires an explicit operator "mark done" action
// (§9 Open Question, decided in DESIGN.md).
type ManualStep struct {
	Instructions string `yaml:"instructions,omitempty"`
}

// RunbookStep is one entry in a runbook's prechecks/main/postchecks list.
// Kind discriminates which of Command/Manual is populated; the other is the
// zero value. Accessors panic if asked for the wrong variant, matching the
// "total, never silently wrong" intent of the tagged-variant design.
type RunbookStep struct {
	Name             string         `json:"name" yaml:"name"`
	Kind             StepKind       `json:"type" yaml:"type"`
	Phase            StepPhase      `json:"-" yaml:"-"` // set by the loader from the containing list
	Command          CommandStep    `json:"command_step,omitempty" yaml:"-"`
	Manual           ManualStep     `json:"manual_step,omitempty" yaml:"-"`
	RequiresApproval *bool          `json:"requires_approval,omitempty" yaml:"requires_approval,omitempty"`
	RetryPolicy      *RetryPolicy   `json:"retry_policy,omitempty" yaml:"retry_policy,omitempty"`
}

// RequiresApprovalFor resolves RequiresApproval against its default: true
// for medium+ blast radius, per §3.
func (s RunbookStep) RequiresApprovalFor(radius BlastRadius) bool {
	if s.RequiresApproval != nil {
		return *s.RequiresApproval
	}
	return radius.AtLeast(BlastRadiusMedium)
}

// RunbookInput describes one named, typed input a runbook binds into its
// step command templates via {placeholder} substitution (§6).
type RunbookInput struct {
	Name        string `yaml:"name"`
	Type        string `yaml:"type"`
	Required    bool   `yaml:"required"`
	Description string `yaml:"description,omitempty"`
}

// RunbookSpec is an immutable-once-approved operational procedure (§3).
type RunbookSpec struct {
	RunbookID    string               `json:"runbook_id" yaml:"runbook_id"`
	Version      string               `json:"version" yaml:"version"` // semantic version
	Title        string               `json:"title" yaml:"title"`
	Service      string               `json:"service" yaml:"service"`
	Environment  string               `json:"env" yaml:"env"`
	BlastRadius  BlastRadius          `json:"risk" yaml:"risk"`
	Description  string               `json:"description" yaml:"description"`
	Inputs       []RunbookInput       `json:"inputs,omitempty" yaml:"inputs,omitempty"`
	Prechecks    []RunbookStep        `json:"prechecks,omitempty" yaml:"prechecks,omitempty"`
	Steps        []RunbookStep        `json:"steps" yaml:"steps"`
	Postchecks   []RunbookStep        `json:"postchecks,omitempty" yaml:"postchecks,omitempty"`
	Approval     RunbookApprovalState `json:"approval_state" yaml:"-"`
	ApprovedAt   *time.Time           `json:"approved_at,omitempty" yaml:"-"`
	SuccessCount int                  `json:"success_count" yaml:"-"`
	RunCount     int                  `json:"run_count" yaml:"-"`
}

// Ref identifies one version of a runbook.
type RunbookRef struct {
	RunbookID string `json:"runbook_id"`
	Version   string `json:"version"`
}

// AllSteps returns prechecks + main steps + postchecks in execution order,
// with Phase populated on each element's copy.
func (r RunbookSpec) AllSteps() []RunbookStep {
	out := make([]RunbookStep, 0, len(r.Prechecks)+len(r.Steps)+len(r.Postchecks))
	appendPhase := func(steps []RunbookStep, phase StepPhase) {
		for _, s := range steps {
			s.Phase = phase
			out = append(out, s)
		}
	}
	appendPhase(r.Prechecks, PhasePrecheck)
	appendPhase(r.Steps, PhaseMain)
	appendPhase(r.Postchecks, PhasePostcheck)
	return out
}

// SuccessRate returns the runbook's historical success rate in [0,1], used
// by the Matcher as a tie-break signal (§4.1). A runbook with no runs yet
// has a neutral rate of 0.5.
func (r RunbookSpec) SuccessRate() float64 {
	if r.RunCount == 0 {
		return 0.5
	}
	return float64(r.SuccessCount) / float64(r.RunCount)
}
