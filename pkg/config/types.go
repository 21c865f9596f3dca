package config

import "time"

// Config is the umbrella configuration object returned by Initialize and
// used throughout the application (mirrors the teacher's pkg/config.Config
// shape: one object holding system defaults plus component settings).
type Config struct {
	configDir string

	System   SystemConfig
	Queue    QueueConfig
	Policy   PolicyConfig
	Connector ConnectorConfig
	Retention RetentionConfig
}

// ConfigDir returns the directory the configuration was loaded from.
func (c *Config) ConfigDir() string { return c.configDir }

// SystemConfig groups the environment configuration options named in §6.
type SystemConfig struct {
	Mode                 ExecutionMode            `yaml:"mode"`
	MatchMinimum         float64                  `yaml:"match_minimum"`
	AutoExecuteThreshold float64                  `yaml:"auto_execute_threshold"`
	HeartbeatInterval    time.Duration            `yaml:"heartbeat_interval"`
	HeartbeatTimeout     time.Duration            `yaml:"heartbeat_timeout"`
	ApprovalSLA          map[string]time.Duration `yaml:"approval_sla"` // keyed by environment
	MaxConcurrentPerTenant int                    `yaml:"max_concurrent_sessions_per_tenant"`
	CredentialTTL        time.Duration            `yaml:"credential_ttl"`
	SecretsStoreEndpoint string                   `yaml:"secrets_store_endpoint"`
	SecretsBootstrapPath string                   `yaml:"secrets_bootstrap_credentials_path"`
	AllowedWSOrigins     []string                 `yaml:"allowed_ws_origins"`

	// ApprovalSweepInterval is the cron schedule the Approval Gate uses to
	// scan for overdue approvals (§4.7), e.g. "@every 30s".
	ApprovalSweepInterval string `yaml:"approval_sweep_interval"`
	// EscalationSlackToken/Channel configure the Approval Gate's "notify a
	// configured escalation channel" requirement (§4.7); left empty,
	// escalation notification is a no-op.
	EscalationSlackToken   string `yaml:"escalation_slack_token"`
	EscalationSlackChannel string `yaml:"escalation_slack_channel"`
	DashboardURL           string `yaml:"dashboard_url"`
}

// ApprovalSLAFor returns the configured SLA for an environment, falling
// back to a 30 minute default when unset (matching the teacher's pattern
// of per-environment overrides over a system default).
func (s SystemConfig) ApprovalSLAFor(environment string) time.Duration {
	if d, ok := s.ApprovalSLA[environment]; ok {
		return d
	}
	return 30 * time.Minute
}

// QueueConfig controls the durable command queue and its worker pool.
type QueueConfig struct {
	WorkerCount    int           `yaml:"worker_count"`
	AckWindow      time.Duration `yaml:"ack_window"`       // default 5s (§4.3)
	PollInterval   time.Duration `yaml:"poll_interval"`
	ClaimRedeliveryLimit int     `yaml:"claim_redelivery_limit"`

	// RedisAddr is the backing Redis Streams instance for the durable
	// command queue (at-least-once delivery, per-message ACK, §5).
	RedisAddr     string        `yaml:"redis_addr"`
	RedisPassword string        `yaml:"redis_password"`
	RedisDB       int           `yaml:"redis_db"`
	StreamKey     string        `yaml:"stream_key"`
	ConsumerGroup string        `yaml:"consumer_group"`
	OrphanSweepInterval time.Duration `yaml:"orphan_sweep_interval"`
}

// ConnectorConfig controls per-connector-kind settings.
type ConnectorConfig struct {
	SSHKnownHostsPath string        `yaml:"ssh_known_hosts_path"`
	RESTTimeout       time.Duration `yaml:"rest_timeout"`
	RESTBodyCapBytes  int           `yaml:"rest_body_cap_bytes"`
	DatabaseRowCap    int           `yaml:"database_row_cap"`
	AzureRunCommandPollInterval time.Duration `yaml:"azure_run_command_poll_interval"`
	OutputMaskingPatternGroups  []string      `yaml:"output_masking_pattern_groups"` // §4.2 step 4: redact credential-shaped output
}

// PolicyConfig controls the Policy Engine's declarative rule inputs (§4.5).
type PolicyConfig struct {
	DestructiveLexicon  []string `yaml:"destructive_command_lexicon"`
	TwoPersonApprovalRoles []string `yaml:"two_person_approval_roles"`
	RegisteredEgressTargets []string `yaml:"registered_egress_targets"`
}

// RetentionConfig maps an event kind to how long it is retained (§6).
type RetentionConfig struct {
	Default       time.Duration            `yaml:"default"`
	ByEventKind   map[string]time.Duration `yaml:"by_event_kind"`
}

// For returns the retention period for the given event kind, falling back
// to Default.
func (r RetentionConfig) For(kind string) time.Duration {
	if d, ok := r.ByEventKind[kind]; ok {
		return d
	}
	return r.Default
}

// FileConfig is the top-level shape of orchestrator.yaml.
type FileConfig struct {
	System    *SystemConfig    `yaml:"system"`
	Queue     *QueueConfig     `yaml:"queue"`
	Policy    *PolicyConfig    `yaml:"policy"`
	Connector *ConnectorConfig `yaml:"connector"`
	Retention *RetentionConfig `yaml:"retention"`
}
