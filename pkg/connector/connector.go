// Package connector implements the Connector Adapters component (§4.4): one
// uniform capability — establish a session to a target, execute one command
// with a timeout, stream output, close — behind adapters for SSH, WinRM,
// Azure Run Command, GCP IAP, Database, REST, and Local targets.
package connector

import (
	"context"
	"time"

	"github.com/codeready-toolchain/orchestrator/pkg/credential"
	"github.com/codeready-toolchain/orchestrator/pkg/models"
	"github.com/codeready-toolchain/orchestrator/pkg/orcherr"
)

// OutputChunkKind tags a streamed output chunk as stdout or stderr, so the
// Event Bus can carry the distinction through to `step.output` events
// (§4.3 step 3: "a chunk kind tag").
type OutputChunkKind string

const (
	ChunkStdout OutputChunkKind = "stdout"
	ChunkStderr OutputChunkKind = "stderr"
)

// OutputSink receives streamed output chunks as a command runs. Sequence
// numbering is the caller's responsibility (the Worker Runtime assigns the
// per-step monotonic chunk sequence, not the connector).
type OutputSink interface {
	Write(kind OutputChunkKind, data []byte) error
}

// NullSink discards everything written to it; useful for connectors
// invoked without a live subscriber (e.g. prechecks run before a session
// has any observers) and in tests.
type NullSink struct{}

func (NullSink) Write(OutputChunkKind, []byte) error { return nil }

// Command is one realized, ready-to-run command: its template has already
// been bound against runbook inputs by the caller (see BindTemplate) — a
// connector never re-interpolates Text.
type Command struct {
	Text    string
	Shell   bool // if true, Text is intended to run through a remote/local shell
	Timeout time.Duration
}

// ExecutionResult is the uniform result every connector returns (§4.4: "all
// connectors return a uniform ExecutionResult").
type ExecutionResult struct {
	Success       bool
	ExitCode      int
	Stdout        string
	Stderr        string
	Duration      time.Duration
	ConnectorKind models.ConnectorKind

	// ErrKind is set when Success is false due to a structured failure mode
	// the caller needs to branch on (e.g. KindTargetBusy). Zero value means
	// the caller should treat a non-zero ExitCode as the whole story.
	ErrKind orcherr.Kind
}

// Connector establishes a session to one target, runs one command, streams
// its output, and closes — the uniform capability named in §4.4.
type Connector interface {
	// Kind identifies which ConnectorKind this implementation serves.
	Kind() models.ConnectorKind

	// Execute runs cmd against target using the material behind cred,
	// streaming output chunks to sink as they arrive. ctx cancellation
	// must cause Execute to stop the remote/local command (kill process,
	// cancel a polling loop, close a query) and return promptly.
	Execute(ctx context.Context, target models.ConnectionTarget, cred *credential.Handle, cmd Command, sink OutputSink) (*ExecutionResult, error)
}

// Registry resolves a ConnectorKind to the Connector instance that serves
// it. Built once at worker startup from whichever connectors the process
// was configured to support.
type Registry struct {
	byKind map[models.ConnectorKind]Connector
}

// NewRegistry builds a Registry from the given connectors, keyed by each
// connector's own Kind().
func NewRegistry(connectors ...Connector) *Registry {
	r := &Registry{byKind: make(map[models.ConnectorKind]Connector, len(connectors))}
	for _, c := range connectors {
		r.byKind[c.Kind()] = c
	}
	return r
}

// Get returns the connector for kind, or false if this process has none
// registered for it (the worker should report this as a capability
// mismatch rather than claim the assignment — §4.4/§5).
func (r *Registry) Get(kind models.ConnectorKind) (Connector, bool) {
	c, ok := r.byKind[kind]
	return c, ok
}
