// Command orchestratorctl is the operator control CLI for cmd/orchestrator's
// REST API (§6): create, inspect, approve, and cancel executions without
// hand-writing curl invocations.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var (
	serverURL string
	tenantID  string
	operator  string
	httpClient = &http.Client{Timeout: 10 * time.Second}
)

var rootCmd = &cobra.Command{
	Use:   "orchestratorctl",
	Short: "Operator control CLI for the runbook orchestrator",
}

func main() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", envOrDefault("ORCHESTRATORCTL_SERVER", "http://localhost:8080"), "orchestrator operator API base URL")
	rootCmd.PersistentFlags().StringVar(&tenantID, "tenant", os.Getenv("ORCHESTRATORCTL_TENANT"), "tenant ID (X-Tenant-ID)")
	rootCmd.PersistentFlags().StringVar(&operator, "operator", envOrDefault("ORCHESTRATORCTL_OPERATOR", "orchestratorctl"), "operator identity (X-Forwarded-User)")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func newRequest(method, path string, body any) (*http.Request, error) {
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encoding request body: %w", err)
		}
		r = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, serverURL+path, r)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if tenantID != "" {
		req.Header.Set("X-Tenant-ID", tenantID)
	}
	if operator != "" {
		req.Header.Set("X-Forwarded-User", operator)
	}
	return req, nil
}

// do sends req and decodes a JSON response into out (if non-nil),
// returning an error describing any non-2xx status.
func do(req *http.Request, out any) error {
	resp, err := httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		data, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("%s %s: %s: %s", req.Method, req.URL.Path, resp.Status, string(data))
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
