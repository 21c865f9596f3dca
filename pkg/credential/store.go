package credential

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/codeready-toolchain/orchestrator/pkg/models"
)

// Store fetches raw secret material for a CredentialReference from the
// external secrets store. The orchestrator process never retains what Store
// returns beyond the single call that hands it to a Handle — only the
// Broker (and, transitively, the Worker Runtime for the span of one step)
// touches this interface.
type Store interface {
	FetchSecret(ctx context.Context, ref models.CredentialReference) ([]byte, error)
}

// HTTPStore is the default Store backed by the secrets store endpoint named
// in SystemConfig.SecretsStoreEndpoint (§6). It speaks a minimal
// read-one-secret-by-id contract; no pack repo ships a Vault/KeyVault/
// Secrets-Manager SDK, so this boundary is justifiably a small hand-rolled
// HTTP client rather than an adopted third-party SDK (see DESIGN.md).
type HTTPStore struct {
	endpoint   string
	httpClient *http.Client
}

// NewHTTPStore creates a Store against the given secrets store endpoint.
func NewHTTPStore(endpoint string, httpClient *http.Client) *HTTPStore {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &HTTPStore{endpoint: endpoint, httpClient: httpClient}
}

type secretResponse struct {
	Value string `json:"value"` // base64 or plain material, store-defined
}

// FetchSecret retrieves the current value for ref from the secrets store.
func (s *HTTPStore) FetchSecret(ctx context.Context, ref models.CredentialReference) ([]byte, error) {
	url := fmt.Sprintf("%s/v1/secrets/%s", s.endpoint, ref.ID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("credential: building secrets store request: %w", err)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("credential: secrets store request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("credential: secrets store returned %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("credential: reading secrets store response: %w", err)
	}

	var sr secretResponse
	if err := json.Unmarshal(body, &sr); err != nil {
		return nil, fmt.Errorf("credential: decoding secrets store response: %w", err)
	}

	return []byte(sr.Value), nil
}
