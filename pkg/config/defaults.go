package config

import "time"

// Defaults returns the system defaults applied before user overrides, per
// §6's recognized environment configuration options.
func Defaults() Config {
	return Config{
		System: SystemConfig{
			Mode:                   ModeHIL,
			MatchMinimum:           0.5,
			AutoExecuteThreshold:   0.8,
			HeartbeatInterval:      15 * time.Second,
			HeartbeatTimeout:       45 * time.Second,
			MaxConcurrentPerTenant: 10,
			CredentialTTL:          5 * time.Minute,
			ApprovalSweepInterval:  "@every 30s",
		},
		Queue: QueueConfig{
			WorkerCount:          4,
			AckWindow:            5 * time.Second,
			PollInterval:         1 * time.Second,
			ClaimRedeliveryLimit: 3,
			RedisAddr:            "localhost:6379",
			StreamKey:            "orchestrator:commands",
			ConsumerGroup:        "workers",
			OrphanSweepInterval:  10 * time.Second,
		},
		Connector: ConnectorConfig{
			RESTTimeout:                 30 * time.Second,
			RESTBodyCapBytes:            1 << 20, // 1 MiB
			DatabaseRowCap:              10000,
			AzureRunCommandPollInterval: 5 * time.Second,
			OutputMaskingPatternGroups:  []string{"secrets", "kubernetes"},
		},
		Policy: PolicyConfig{
			DestructiveLexicon: []string{
				"drop table", "drop database", "rm -rf /", "rm -rf /*",
				"mkfs", "shutdown -h now", "format c:", "truncate table",
			},
			TwoPersonApprovalRoles: []string{"admin"},
		},
		Retention: RetentionConfig{
			Default: 90 * 24 * time.Hour,
			ByEventKind: map[string]time.Duration{
				"step.output": 30 * 24 * time.Hour,
			},
		},
	}
}
