package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/codeready-toolchain/orchestrator/pkg/models"
)

// RegisterRequest is what the Worker Runtime presents on startup (§6:
// "POST /workers/register {capabilities, network_segment} ->
// {worker_id, cert_serial}").
type RegisterRequest struct {
	Capabilities   []models.ConnectorKind
	NetworkSegment string
	TenantScope    []string
	MaxLoad        int
}

// OrchestratorClient is the Worker Runtime's narrow view of the orchestrator
// REST API: registration and heartbeat (§4.3, §6). Narrowed to an
// interface so tests substitute a fake without an HTTP server.
type OrchestratorClient interface {
	RegisterWorker(ctx context.Context, req RegisterRequest) (workerID, certSerial string, err error)
	Heartbeat(ctx context.Context, workerID string, load int) error
}

// HTTPOrchestratorClient is the default OrchestratorClient, speaking the
// orchestrator's own REST surface over mTLS (the worker's client
// certificate is configured on httpClient's Transport by the caller — this
// type only shapes the requests and responses).
type HTTPOrchestratorClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewHTTPOrchestratorClient builds a client against the orchestrator's base
// URL (e.g. "https://orchestrator.internal:8443").
func NewHTTPOrchestratorClient(baseURL string, httpClient *http.Client) *HTTPOrchestratorClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &HTTPOrchestratorClient{baseURL: baseURL, httpClient: httpClient}
}

type registerRequestBody struct {
	Capabilities   []models.ConnectorKind `json:"capabilities"`
	NetworkSegment string                  `json:"network_segment"`
	TenantScope    []string                `json:"tenant_scope"`
	MaxLoad        int                     `json:"max_load"`
}

type registerResponseBody struct {
	WorkerID   string `json:"worker_id"`
	CertSerial string `json:"cert_serial"`
}

// RegisterWorker posts to /workers/register and returns the assigned
// worker id and certificate serial.
func (c *HTTPOrchestratorClient) RegisterWorker(ctx context.Context, req RegisterRequest) (string, string, error) {
	body, err := json.Marshal(registerRequestBody{
		Capabilities:   req.Capabilities,
		NetworkSegment: req.NetworkSegment,
		TenantScope:    req.TenantScope,
		MaxLoad:        req.MaxLoad,
	})
	if err != nil {
		return "", "", fmt.Errorf("worker: encoding register request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/workers/register", bytes.NewReader(body))
	if err != nil {
		return "", "", fmt.Errorf("worker: building register request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", "", fmt.Errorf("worker: register request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return "", "", fmt.Errorf("worker: register returned %d", resp.StatusCode)
	}

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err != nil {
		return "", "", fmt.Errorf("worker: reading register response: %w", err)
	}

	var out registerResponseBody
	if err := json.Unmarshal(respBody, &out); err != nil {
		return "", "", fmt.Errorf("worker: decoding register response: %w", err)
	}
	return out.WorkerID, out.CertSerial, nil
}

type heartbeatRequestBody struct {
	Load int `json:"load"`
}

// Heartbeat posts to /workers/{id}/heartbeat carrying current load (§4.3:
// "heartbeat every heartbeat_interval; carry current load").
func (c *HTTPOrchestratorClient) Heartbeat(ctx context.Context, workerID string, load int) error {
	body, err := json.Marshal(heartbeatRequestBody{Load: load})
	if err != nil {
		return fmt.Errorf("worker: encoding heartbeat request: %w", err)
	}

	url := fmt.Sprintf("%s/workers/%s/heartbeat", c.baseURL, workerID)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("worker: building heartbeat request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("worker: heartbeat request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return fmt.Errorf("worker: heartbeat returned %d", resp.StatusCode)
	}
	return nil
}
