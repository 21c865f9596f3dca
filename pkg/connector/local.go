package connector

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/codeready-toolchain/orchestrator/pkg/credential"
	"github.com/codeready-toolchain/orchestrator/pkg/models"
	"github.com/codeready-toolchain/orchestrator/pkg/orcherr"
)

// LocalConnector runs a command as a child process of the worker itself,
// restricted to an operator-configured whitelist of executable names
// (§4.4: "Local restricted to a whitelist"). It takes no credential —
// local commands inherit the worker process's own identity.
type LocalConnector struct {
	// Allowed is the set of executable basenames this worker may invoke
	// locally (e.g. "systemctl", "docker"). Empty means nothing is allowed.
	Allowed map[string]bool
}

// NewLocalConnector builds a LocalConnector permitting exactly the given
// executable names.
func NewLocalConnector(allowed []string) *LocalConnector {
	set := make(map[string]bool, len(allowed))
	for _, name := range allowed {
		set[name] = true
	}
	return &LocalConnector{Allowed: set}
}

func (c *LocalConnector) Kind() models.ConnectorKind { return models.ConnectorLocal }

func (c *LocalConnector) Execute(ctx context.Context, target models.ConnectionTarget, cred *credential.Handle, cmd Command, sink OutputSink) (*ExecutionResult, error) {
	start := time.Now()

	fields := strings.Fields(cmd.Text)
	if len(fields) == 0 {
		return nil, fmt.Errorf("local: empty command")
	}
	if !c.Allowed[fields[0]] {
		return nil, fmt.Errorf("local: %q is not in the local connector whitelist", fields[0])
	}

	execCtx := ctx
	var cancel context.CancelFunc
	if cmd.Timeout > 0 {
		execCtx, cancel = context.WithTimeout(ctx, cmd.Timeout)
		defer cancel()
	}

	var command *exec.Cmd
	if cmd.Shell {
		command = exec.CommandContext(execCtx, "/bin/sh", "-c", cmd.Text)
	} else {
		command = exec.CommandContext(execCtx, fields[0], fields[1:]...)
	}

	var stdout, stderr bytes.Buffer
	command.Stdout = &streamWriter{buf: &stdout, kind: ChunkStdout, sink: sink}
	command.Stderr = &streamWriter{buf: &stderr, kind: ChunkStderr, sink: sink}

	runErr := command.Run()

	if execCtx.Err() != nil {
		return &ExecutionResult{
			Success:       false,
			Stdout:        stdout.String(),
			Stderr:        stderr.String(),
			Duration:      time.Since(start),
			ConnectorKind: models.ConnectorLocal,
			ErrKind:       orcherr.KindTimeout,
		}, nil
	}

	result := &ExecutionResult{
		Stdout:        stdout.String(),
		Stderr:        stderr.String(),
		Duration:      time.Since(start),
		ConnectorKind: models.ConnectorLocal,
	}
	if runErr == nil {
		result.Success = true
		return result, nil
	}
	var exitErr *exec.ExitError
	if asExecExitError(runErr, &exitErr) {
		result.ExitCode = exitErr.ExitCode()
		return result, nil
	}
	return nil, fmt.Errorf("local: running %q: %w", fields[0], runErr)
}

func asExecExitError(err error, target **exec.ExitError) bool {
	ee, ok := err.(*exec.ExitError)
	if ok {
		*target = ee
	}
	return ok
}
