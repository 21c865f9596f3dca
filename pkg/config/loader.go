package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// Initialize loads, validates, and returns ready-to-use configuration. This
// is the primary entry point for configuration loading (mirrors the
// teacher's pkg/config.Initialize pipeline: load → expand → merge → default
// → validate).
func Initialize(_ context.Context, configDir string) (*Config, error) {
	log := slog.With("config_dir", configDir)
	log.Info("initializing configuration")

	cfg, err := load(configDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	if err := NewValidator(cfg).ValidateAll(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidationFailed, err)
	}

	log.Info("configuration initialized",
		"mode", cfg.System.Mode,
		"match_minimum", cfg.System.MatchMinimum,
		"auto_execute_threshold", cfg.System.AutoExecuteThreshold,
		"queue_workers", cfg.Queue.WorkerCount)

	return cfg, nil
}

func load(configDir string) (*Config, error) {
	defaults := Defaults()
	cfg := &defaults
	cfg.configDir = configDir

	path := filepath.Join(configDir, "orchestrator.yaml")
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			// No user file: defaults-only configuration is valid.
			return cfg, nil
		}
		return nil, fmt.Errorf("%w: %s: %v", ErrConfigNotFound, path, err)
	}

	expanded := ExpandEnv(raw)

	var fc FileConfig
	if err := yaml.Unmarshal(expanded, &fc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidYAML, err)
	}

	if err := mergeFileConfig(cfg, &fc); err != nil {
		return nil, fmt.Errorf("failed to merge configuration: %w", err)
	}

	return cfg, nil
}

// mergeFileConfig layers the user's FileConfig over the system defaults
// already in cfg, using mergo so a user who sets only one field of
// SystemConfig doesn't zero out the rest.
func mergeFileConfig(cfg *Config, fc *FileConfig) error {
	if fc.System != nil {
		if err := mergo.Merge(&cfg.System, *fc.System, mergo.WithOverride); err != nil {
			return err
		}
	}
	if fc.Queue != nil {
		if err := mergo.Merge(&cfg.Queue, *fc.Queue, mergo.WithOverride); err != nil {
			return err
		}
	}
	if fc.Policy != nil {
		if err := mergo.Merge(&cfg.Policy, *fc.Policy, mergo.WithOverride, mergo.WithAppendSlice); err != nil {
			return err
		}
	}
	if fc.Connector != nil {
		if err := mergo.Merge(&cfg.Connector, *fc.Connector, mergo.WithOverride); err != nil {
			return err
		}
	}
	if fc.Retention != nil {
		if err := mergo.Merge(&cfg.Retention, *fc.Retention, mergo.WithOverride); err != nil {
			return err
		}
	}
	return nil
}
