package connector

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"

	"github.com/codeready-toolchain/orchestrator/pkg/credential"
	"github.com/codeready-toolchain/orchestrator/pkg/models"
	"github.com/codeready-toolchain/orchestrator/pkg/orcherr"
)

// AzureRunCommandConnector runs a script on an Azure VM via the Run Command
// extension. The management-plane call is a long-running operation: this
// connector polls until it completes, and — per §4.4 — surfaces the
// extension's "another operation is in progress" conflict as
// orcherr.KindTargetBusy rather than a generic failure, so the worker does
// not treat it as a step failure eligible for its own retry policy (the
// extension itself is already serializing the retry).
type AzureRunCommandConnector struct {
	// TokenCredential is typically an *azidentity.DefaultAzureCredential or
	// a managed-identity credential; accepted as the azcore interface so
	// tests can substitute a fake without reaching the Azure metadata
	// service.
	TokenCredential azcore.TokenCredential
	HTTPClient      *http.Client
	PollEvery       time.Duration

	// endpointOverride replaces the management.azure.com base URL in tests.
	endpointOverride string
}

const azureManagementBaseURL = "https://management.azure.com"

func (c *AzureRunCommandConnector) managementBaseURL() string {
	if c.endpointOverride != "" {
		return c.endpointOverride
	}
	return azureManagementBaseURL
}

// NewAzureRunCommandConnector builds a connector authenticating with cred.
// httpClient may be nil to use http.DefaultClient.
func NewAzureRunCommandConnector(cred azcore.TokenCredential, httpClient *http.Client, pollEvery time.Duration) *AzureRunCommandConnector {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if pollEvery <= 0 {
		pollEvery = 2 * time.Second
	}
	return &AzureRunCommandConnector{TokenCredential: cred, HTTPClient: httpClient, PollEvery: pollEvery}
}

func (c *AzureRunCommandConnector) Kind() models.ConnectorKind { return models.ConnectorAzureRun }

func (c *AzureRunCommandConnector) Execute(ctx context.Context, target models.ConnectionTarget, cred *credential.Handle, cmd Command, sink OutputSink) (*ExecutionResult, error) {
	start := time.Now()

	execCtx := ctx
	var cancel context.CancelFunc
	if cmd.Timeout > 0 {
		execCtx, cancel = context.WithTimeout(ctx, cmd.Timeout)
		defer cancel()
	}

	token, err := c.TokenCredential.GetToken(execCtx, policy.TokenRequestOptions{Scopes: []string{"https://management.azure.com/.default"}})
	if err != nil {
		return nil, fmt.Errorf("azure: acquiring token: %w", err)
	}

	requestURL := fmt.Sprintf(
		"%s/subscriptions/%s/resourceGroups/%s/providers/Microsoft.Compute/virtualMachines/%s/runCommand?api-version=2024-07-01",
		c.managementBaseURL(), target.SubscriptionID, target.ResourceGroup, target.CloudResource,
	)

	payload := map[string]any{
		"commandId": "RunShellScript",
		"script":    strings.Split(cmd.Text, "\n"),
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(execCtx, http.MethodPost, requestURL, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token.Token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("azure: submitting run command: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusConflict {
		return &ExecutionResult{
			Success:       false,
			Duration:      time.Since(start),
			ConnectorKind: models.ConnectorAzureRun,
			ErrKind:       orcherr.KindTargetBusy,
		}, nil
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		return nil, fmt.Errorf("azure: run command returned %d: %s", resp.StatusCode, respBody)
	}

	operationURL := resp.Header.Get("Azure-AsyncOperation")
	if operationURL == "" {
		operationURL = resp.Header.Get("Location")
	}
	if operationURL == "" {
		return c.parseResult(resp.Body, start)
	}

	return c.pollOperation(execCtx, operationURL, token.Token, start)
}

func (c *AzureRunCommandConnector) pollOperation(ctx context.Context, operationURL, token string, start time.Time) (*ExecutionResult, error) {
	ticker := time.NewTicker(c.PollEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return &ExecutionResult{
				Success:       false,
				Duration:      time.Since(start),
				ConnectorKind: models.ConnectorAzureRun,
				ErrKind:       orcherr.KindTimeout,
			}, nil
		case <-ticker.C:
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, operationURL, nil)
			if err != nil {
				return nil, err
			}
			req.Header.Set("Authorization", "Bearer "+token)

			resp, err := c.HTTPClient.Do(req)
			if err != nil {
				return nil, fmt.Errorf("azure: polling run command operation: %w", err)
			}

			if resp.StatusCode == http.StatusConflict {
				resp.Body.Close()
				return &ExecutionResult{
					Success:       false,
					Duration:      time.Since(start),
					ConnectorKind: models.ConnectorAzureRun,
					ErrKind:       orcherr.KindTargetBusy,
				}, nil
			}

			var status struct {
				Status string `json:"status"`
			}
			bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 256<<10))
			resp.Body.Close()
			_ = json.Unmarshal(bodyBytes, &status)

			if status.Status == "InProgress" || status.Status == "" {
				continue
			}
			return c.parseResult(bytes.NewReader(bodyBytes), start)
		}
	}
}

func (c *AzureRunCommandConnector) parseResult(body io.Reader, start time.Time) (*ExecutionResult, error) {
	var parsed struct {
		Properties struct {
			Output struct {
				Value []struct {
					Code    string `json:"code"`
					Level   string `json:"level"`
					Message string `json:"message"`
				} `json:"value"`
			} `json:"output"`
		} `json:"properties"`
	}
	raw, err := io.ReadAll(io.LimitReader(body, 1<<20))
	if err != nil {
		return nil, err
	}
	_ = json.Unmarshal(raw, &parsed)

	var stdout, stderr strings.Builder
	exitCode := 0
	for _, msg := range parsed.Properties.Output.Value {
		if strings.Contains(strings.ToLower(msg.Level), "error") {
			stderr.WriteString(msg.Message)
			stderr.WriteString("\n")
			exitCode = 1
		} else {
			stdout.WriteString(msg.Message)
			stdout.WriteString("\n")
		}
	}

	return &ExecutionResult{
		Success:       exitCode == 0,
		ExitCode:      exitCode,
		Stdout:        stdout.String(),
		Stderr:        stderr.String(),
		Duration:      time.Since(start),
		ConnectorKind: models.ConnectorAzureRun,
	}, nil
}
