package connector

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/orchestrator/pkg/models"
)

type recordingSink struct {
	stdout, stderr []byte
}

func (s *recordingSink) Write(kind OutputChunkKind, data []byte) error {
	switch kind {
	case ChunkStdout:
		s.stdout = append(s.stdout, data...)
	case ChunkStderr:
		s.stderr = append(s.stderr, data...)
	}
	return nil
}

func TestLocalConnectorRejectsNonWhitelistedCommand(t *testing.T) {
	c := NewLocalConnector([]string{"echo"})
	_, err := c.Execute(context.Background(), models.ConnectionTarget{}, nil, Command{Text: "rm -rf /"}, NullSink{})
	assert.ErrorContains(t, err, "whitelist")
}

func TestLocalConnectorRunsWhitelistedCommand(t *testing.T) {
	c := NewLocalConnector([]string{"echo"})
	sink := &recordingSink{}

	result, err := c.Execute(context.Background(), models.ConnectionTarget{}, nil, Command{Text: "echo hello"}, sink)
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, 0, result.ExitCode)
	assert.Equal(t, "hello\n", result.Stdout)
	assert.Equal(t, "hello\n", string(sink.stdout))
}

func TestLocalConnectorCapturesNonZeroExit(t *testing.T) {
	c := NewLocalConnector([]string{"false"})
	result, err := c.Execute(context.Background(), models.ConnectionTarget{}, nil, Command{Text: "false"}, NullSink{})
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, 1, result.ExitCode)
}

func TestLocalConnectorRespectsTimeout(t *testing.T) {
	c := NewLocalConnector([]string{"sleep"})
	result, err := c.Execute(context.Background(), models.ConnectionTarget{}, nil, Command{Text: "sleep 5", Timeout: 20 * time.Millisecond}, NullSink{})
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, "timeout", string(result.ErrKind))
}

func TestLocalConnectorKind(t *testing.T) {
	assert.Equal(t, models.ConnectorLocal, NewLocalConnector(nil).Kind())
}
