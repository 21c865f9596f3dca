package config

import (
	"fmt"
	"time"
)

// Validator validates configuration comprehensively with clear error
// messages, fail-fast, matching the teacher's pkg/config.Validator shape.
type Validator struct {
	cfg *Config
}

// NewValidator creates a validator for the given configuration.
func NewValidator(cfg *Config) *Validator {
	return &Validator{cfg: cfg}
}

// ValidateAll validates in dependency order: system → queue → connector →
// policy → retention.
func (v *Validator) ValidateAll() error {
	if err := v.validateSystem(); err != nil {
		return fmt.Errorf("system: %w", err)
	}
	if err := v.validateQueue(); err != nil {
		return fmt.Errorf("queue: %w", err)
	}
	if err := v.validateConnector(); err != nil {
		return fmt.Errorf("connector: %w", err)
	}
	if err := v.validatePolicy(); err != nil {
		return fmt.Errorf("policy: %w", err)
	}
	return nil
}

func (v *Validator) validateSystem() error {
	s := v.cfg.System
	if !s.Mode.IsValid() {
		return NewValidationError("system", "mode", fmt.Errorf("must be %q or %q", ModeHIL, ModeAuto))
	}
	if s.MatchMinimum < 0 || s.MatchMinimum > 1 {
		return NewValidationError("system", "match_minimum", fmt.Errorf("must be in [0,1]"))
	}
	if s.AutoExecuteThreshold < 0 || s.AutoExecuteThreshold > 1 {
		return NewValidationError("system", "auto_execute_threshold", fmt.Errorf("must be in [0,1]"))
	}
	if s.AutoExecuteThreshold < s.MatchMinimum {
		return NewValidationError("system", "auto_execute_threshold", fmt.Errorf("must be >= match_minimum"))
	}
	if s.HeartbeatTimeout <= s.HeartbeatInterval {
		return NewValidationError("system", "heartbeat_timeout", fmt.Errorf("must exceed heartbeat_interval"))
	}
	if s.CredentialTTL <= 0 || s.CredentialTTL > 5*time.Minute {
		return NewValidationError("system", "credential_ttl", fmt.Errorf("must be in (0, 5m] per §4.6"))
	}
	return nil
}

func (v *Validator) validateQueue() error {
	q := v.cfg.Queue
	if q.WorkerCount < 1 {
		return NewValidationError("queue", "worker_count", fmt.Errorf("must be >= 1"))
	}
	if q.AckWindow <= 0 {
		return NewValidationError("queue", "ack_window", fmt.Errorf("must be > 0"))
	}
	return nil
}

func (v *Validator) validateConnector() error {
	c := v.cfg.Connector
	if c.RESTBodyCapBytes <= 0 {
		return NewValidationError("connector", "rest_body_cap_bytes", fmt.Errorf("must be > 0"))
	}
	if c.DatabaseRowCap <= 0 {
		return NewValidationError("connector", "database_row_cap", fmt.Errorf("must be > 0"))
	}
	if len(c.OutputMaskingPatternGroups) == 0 {
		return NewValidationError("connector", "output_masking_pattern_groups", fmt.Errorf("must not be empty (§4.2 mandatory output sanitization)"))
	}
	return nil
}

func (v *Validator) validatePolicy() error {
	if len(v.cfg.Policy.DestructiveLexicon) == 0 {
		return NewValidationError("policy", "destructive_command_lexicon", fmt.Errorf("must not be empty (§4.5 mandatory rule)"))
	}
	return nil
}
