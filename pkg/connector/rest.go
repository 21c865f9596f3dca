package connector

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/codeready-toolchain/orchestrator/pkg/credential"
	"github.com/codeready-toolchain/orchestrator/pkg/models"
	"github.com/codeready-toolchain/orchestrator/pkg/orcherr"
)

// MaxRESTBodyBytes caps how much of a REST response body this connector
// will read, so a misbehaving endpoint cannot exhaust worker memory
// (§4.4: "per-endpoint timeout + byte-capped body").
const MaxRESTBodyBytes = 2 << 20 // 2 MiB

// RESTConnector issues one HTTP request against a REST target. Command.Text
// is a "METHOD path" pair (e.g. "POST /v1/incidents/123/ack"); the target's
// Endpoint supplies the scheme+host prefix, and the credential's material
// is sent as a bearer token.
type RESTConnector struct {
	HTTPClient *http.Client
}

// NewRESTConnector builds a RESTConnector. httpClient may be nil to use
// http.DefaultClient; callers normally supply one with a connector-wide
// per-request timeout already configured via http.Transport.
func NewRESTConnector(httpClient *http.Client) *RESTConnector {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &RESTConnector{HTTPClient: httpClient}
}

func (c *RESTConnector) Kind() models.ConnectorKind { return models.ConnectorREST }

func (c *RESTConnector) Execute(ctx context.Context, target models.ConnectionTarget, cred *credential.Handle, cmd Command, sink OutputSink) (*ExecutionResult, error) {
	start := time.Now()

	method, path, body := parseRESTCommand(cmd.Text)

	execCtx := ctx
	var cancel context.CancelFunc
	if cmd.Timeout > 0 {
		execCtx, cancel = context.WithTimeout(ctx, cmd.Timeout)
		defer cancel()
	}

	var token string
	if cred != nil {
		if useErr := cred.Use(func(material []byte) error {
			token = string(material)
			return nil
		}); useErr != nil {
			return nil, useErr
		}
	}

	req, err := http.NewRequestWithContext(execCtx, method, target.Endpoint+path, bytes.NewBufferString(body))
	if err != nil {
		return nil, fmt.Errorf("rest: building request: %w", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		if execCtx.Err() != nil {
			return &ExecutionResult{
				Success:       false,
				Duration:      time.Since(start),
				ConnectorKind: models.ConnectorREST,
				ErrKind:       orcherr.KindTimeout,
			}, nil
		}
		return nil, fmt.Errorf("rest: request to %s failed: %w", target.Endpoint+path, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, MaxRESTBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("rest: reading response: %w", err)
	}

	if sink != nil && len(respBody) > 0 {
		sink.Write(ChunkStdout, respBody)
	}

	result := &ExecutionResult{
		Success:       resp.StatusCode < 400,
		ExitCode:      resp.StatusCode,
		Stdout:        string(respBody),
		Duration:      time.Since(start),
		ConnectorKind: models.ConnectorREST,
	}
	if resp.StatusCode >= 500 {
		result.ErrKind = orcherr.KindConnectorTransient
	}
	return result, nil
}

// parseRESTCommand splits a "METHOD path\nbody" command into its parts,
// defaulting to GET with no body if the text carries no method prefix.
func parseRESTCommand(text string) (method, path, body string) {
	method, rest, found := cutFirst(text, ' ')
	if !found {
		return http.MethodGet, text, ""
	}
	path, body, _ = cutFirst(rest, '\n')
	return method, path, body
}

func cutFirst(s string, sep byte) (before, after string, found bool) {
	for i := 0; i < len(s); i++ {
		if s[i] == sep {
			return s[:i], s[i+1:], true
		}
	}
	return s, "", false
}
