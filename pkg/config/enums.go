package config

// ExecutionMode is the global auto-execute mode (§6): "hil" pauses every
// runbook for approval per its own mode, "auto" lets the Matcher create and
// advance sessions without a human starting them.
type ExecutionMode string

const (
	ModeHIL  ExecutionMode = "hil"
	ModeAuto ExecutionMode = "auto"
)

// IsValid reports whether m is a recognized execution mode.
func (m ExecutionMode) IsValid() bool {
	return m == ModeHIL || m == ModeAuto
}
