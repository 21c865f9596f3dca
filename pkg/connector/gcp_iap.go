package connector

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/codeready-toolchain/orchestrator/pkg/credential"
	"github.com/codeready-toolchain/orchestrator/pkg/models"
	"github.com/codeready-toolchain/orchestrator/pkg/orcherr"
)

// GCPIAPConnector runs a command on a GCE instance through Identity-Aware
// Proxy's TCP forwarding to the guest agent's command endpoint. No pack
// example carries a GCP SDK, so this speaks the guest-agent HTTP contract
// directly over net/http, authenticating the IAP tunnel with an OIDC
// identity token obtained from the credential broker (the service account
// key backing that token lives in the secrets store, never here).
type GCPIAPConnector struct {
	HTTPClient *http.Client

	// endpointOverride replaces the iap.googleapis.com base URL in tests.
	endpointOverride string
}

// NewGCPIAPConnector builds a GCPIAPConnector. httpClient may be nil to use
// http.DefaultClient.
func NewGCPIAPConnector(httpClient *http.Client) *GCPIAPConnector {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &GCPIAPConnector{HTTPClient: httpClient}
}

func (c *GCPIAPConnector) Kind() models.ConnectorKind { return models.ConnectorGCPIAP }

func (c *GCPIAPConnector) Execute(ctx context.Context, target models.ConnectionTarget, cred *credential.Handle, cmd Command, sink OutputSink) (*ExecutionResult, error) {
	start := time.Now()

	execCtx := ctx
	var cancelTimeout context.CancelFunc
	if cmd.Timeout > 0 {
		execCtx, cancelTimeout = context.WithTimeout(ctx, cmd.Timeout)
		defer cancelTimeout()
	}

	var identityToken string
	if useErr := cred.Use(func(material []byte) error {
		identityToken = string(material)
		return nil
	}); useErr != nil {
		return nil, useErr
	}

	base := c.endpointOverride
	if base == "" {
		base = fmt.Sprintf("https://%s-%s.iap.googleapis.com", target.ProjectID, target.Zone)
	}
	endpoint := fmt.Sprintf(
		"%s/v1/projects/%s/zones/%s/instances/%s:executeCommand",
		base, target.ProjectID, target.Zone, target.CloudResource,
	)

	payload := map[string]any{"command": cmd.Text}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(execCtx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+identityToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		if execCtx.Err() != nil {
			return &ExecutionResult{
				Success:       false,
				Duration:      time.Since(start),
				ConnectorKind: models.ConnectorGCPIAP,
				ErrKind:       orcherr.KindTimeout,
			}, nil
		}
		return nil, fmt.Errorf("gcp_iap: executing command on %s: %w", target.CloudResource, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 500 {
		return &ExecutionResult{
			Success:       false,
			Duration:      time.Since(start),
			ConnectorKind: models.ConnectorGCPIAP,
			ErrKind:       orcherr.KindConnectorTransient,
		}, nil
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("gcp_iap: instance %s returned %d: %s", target.CloudResource, resp.StatusCode, respBody)
	}

	var parsed struct {
		Stdout   string `json:"stdout"`
		Stderr   string `json:"stderr"`
		ExitCode int    `json:"exitCode"`
	}
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, fmt.Errorf("gcp_iap: parsing response: %w", err)
	}

	if sink != nil {
		if parsed.Stdout != "" {
			sink.Write(ChunkStdout, []byte(parsed.Stdout))
		}
		if parsed.Stderr != "" {
			sink.Write(ChunkStderr, []byte(parsed.Stderr))
		}
	}

	return &ExecutionResult{
		Success:       parsed.ExitCode == 0,
		ExitCode:      parsed.ExitCode,
		Stdout:        parsed.Stdout,
		Stderr:        parsed.Stderr,
		Duration:      time.Since(start),
		ConnectorKind: models.ConnectorGCPIAP,
	}, nil
}
