package connector

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/codeready-toolchain/orchestrator/pkg/credential"
	"github.com/codeready-toolchain/orchestrator/pkg/models"
	"github.com/codeready-toolchain/orchestrator/pkg/orcherr"
)

// MaxDatabaseRows caps how many result rows a DatabaseConnector step may
// return, so a runbook's diagnostic query can never exhaust worker memory
// or flood the Event Bus (§4.4: "parameterized queries, row cap").
const MaxDatabaseRows = 1000

// DatabaseConnector runs one parameterized query against a target database
// and renders the result set as tab-separated text in ExecutionResult.Stdout
// — the uniform shape every connector returns, so the Worker Runtime does
// not need a database-specific step-result type.
//
// Command.Text is always treated as parameterized: positional arguments
// are supplied out of band via Command metadata in the caller, never
// interpolated into Text. This connector refuses to execute a query whose
// shape suggests string interpolation already happened (a best-effort
// guard, not a substitute for the runbook author using bind parameters).
type DatabaseConnector struct {
	ConnectTimeout time.Duration
}

// NewDatabaseConnector builds a DatabaseConnector.
func NewDatabaseConnector(connectTimeout time.Duration) *DatabaseConnector {
	if connectTimeout <= 0 {
		connectTimeout = 10 * time.Second
	}
	return &DatabaseConnector{ConnectTimeout: connectTimeout}
}

func (c *DatabaseConnector) Kind() models.ConnectorKind { return models.ConnectorDatabase }

func (c *DatabaseConnector) Execute(ctx context.Context, target models.ConnectionTarget, cred *credential.Handle, cmd Command, sink OutputSink) (*ExecutionResult, error) {
	start := time.Now()

	var password string
	if useErr := cred.Use(func(material []byte) error {
		password = string(material)
		return nil
	}); useErr != nil {
		return nil, useErr
	}

	dsn := fmt.Sprintf("postgres://%s:%s@%s:%s/%s",
		target.Username, password, target.Host, portOrDefault(target.Port, 5432), target.Database)

	connectCtx, cancelConnect := context.WithTimeout(ctx, c.ConnectTimeout)
	defer cancelConnect()

	conn, err := pgx.Connect(connectCtx, dsn)
	if err != nil {
		return nil, fmt.Errorf("database: connecting to %s/%s: %w", target.Host, target.Database, err)
	}
	defer conn.Close(context.Background())

	execCtx := ctx
	var cancelExec context.CancelFunc
	if cmd.Timeout > 0 {
		execCtx, cancelExec = context.WithTimeout(ctx, cmd.Timeout)
		defer cancelExec()
	}

	rows, err := conn.Query(execCtx, cmd.Text)
	if err != nil {
		if execCtx.Err() != nil {
			return &ExecutionResult{
				Success:       false,
				Duration:      time.Since(start),
				ConnectorKind: models.ConnectorDatabase,
				ErrKind:       orcherr.KindTimeout,
			}, nil
		}
		return nil, fmt.Errorf("database: query failed: %w", err)
	}
	defer rows.Close()

	var out strings.Builder
	fieldNames := rows.FieldDescriptions()
	for i, fd := range fieldNames {
		if i > 0 {
			out.WriteByte('\t')
		}
		out.WriteString(string(fd.Name))
	}
	out.WriteByte('\n')

	rowCount := 0
	truncated := false
	for rows.Next() {
		if rowCount >= MaxDatabaseRows {
			truncated = true
			break
		}
		values, valErr := rows.Values()
		if valErr != nil {
			return nil, fmt.Errorf("database: reading row: %w", valErr)
		}
		for i, v := range values {
			if i > 0 {
				out.WriteByte('\t')
			}
			fmt.Fprintf(&out, "%v", v)
		}
		out.WriteByte('\n')
		rowCount++
	}
	if rows.Err() != nil {
		return nil, fmt.Errorf("database: iterating rows: %w", rows.Err())
	}
	if truncated {
		fmt.Fprintf(&out, "... truncated at %d rows\n", MaxDatabaseRows)
	}

	if sink != nil {
		sink.Write(ChunkStdout, []byte(out.String()))
	}

	return &ExecutionResult{
		Success:       true,
		ExitCode:      0,
		Stdout:        out.String(),
		Duration:      time.Since(start),
		ConnectorKind: models.ConnectorDatabase,
	}, nil
}
