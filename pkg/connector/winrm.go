package connector

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/codeready-toolchain/orchestrator/pkg/credential"
	"github.com/codeready-toolchain/orchestrator/pkg/models"
	"github.com/codeready-toolchain/orchestrator/pkg/orcherr"
)

// WinRMConnector executes commands against Windows targets over WinRM's
// SOAP-over-HTTP(S) protocol. No pack example carries a WinRM client, so
// this speaks just enough of the wire protocol — create shell, run
// command, receive output, delete shell — directly over net/http
// (justified in the grounding ledger).
type WinRMConnector struct {
	HTTPClient *http.Client
	UseHTTPS   bool
}

// NewWinRMConnector builds a WinRMConnector. httpClient may be nil to use
// http.DefaultClient.
func NewWinRMConnector(httpClient *http.Client, useHTTPS bool) *WinRMConnector {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &WinRMConnector{HTTPClient: httpClient, UseHTTPS: useHTTPS}
}

func (c *WinRMConnector) Kind() models.ConnectorKind { return models.ConnectorWinRM }

func (c *WinRMConnector) Execute(ctx context.Context, target models.ConnectionTarget, cred *credential.Handle, cmd Command, sink OutputSink) (*ExecutionResult, error) {
	scheme := "http"
	if c.UseHTTPS {
		scheme = "https"
	}
	endpoint := fmt.Sprintf("%s://%s:%s/wsman", scheme, target.Host, portOrDefault(target.Port, 5985))

	var password string
	if useErr := cred.Use(func(material []byte) error {
		password = string(material)
		return nil
	}); useErr != nil {
		return nil, useErr
	}

	execCtx := ctx
	var cancel context.CancelFunc
	if cmd.Timeout > 0 {
		execCtx, cancel = context.WithTimeout(ctx, cmd.Timeout)
		defer cancel()
	}

	start := time.Now()

	shellID, err := c.openShell(execCtx, endpoint, target.Username, password)
	if err != nil {
		return nil, fmt.Errorf("winrm: opening shell on %s: %w", target.Host, err)
	}
	defer c.deleteShell(context.Background(), endpoint, target.Username, password, shellID)

	commandID, err := c.runCommand(execCtx, endpoint, target.Username, password, shellID, cmd.Text)
	if err != nil {
		return nil, fmt.Errorf("winrm: running command on %s: %w", target.Host, err)
	}

	stdout, stderr, exitCode, err := c.receiveOutput(execCtx, endpoint, target.Username, password, shellID, commandID, sink)
	if err != nil {
		if execCtx.Err() != nil {
			return &ExecutionResult{
				Success:       false,
				Stdout:        stdout,
				Stderr:        stderr,
				Duration:      time.Since(start),
				ConnectorKind: models.ConnectorWinRM,
				ErrKind:       orcherr.KindTimeout,
			}, nil
		}
		return nil, fmt.Errorf("winrm: receiving output on %s: %w", target.Host, err)
	}

	return &ExecutionResult{
		Success:       exitCode == 0,
		ExitCode:      exitCode,
		Stdout:        stdout,
		Stderr:        stderr,
		Duration:      time.Since(start),
		ConnectorKind: models.ConnectorWinRM,
	}, nil
}

const winrmNamespaces = `xmlns:s="http://www.w3.org/2003/05/soap-envelope" ` +
	`xmlns:w="http://schemas.dmtf.org/wbem/wsman/1/wsman.xsd" ` +
	`xmlns:rsp="http://schemas.microsoft.com/wbem/wsman/1/windows/shell"`

func (c *WinRMConnector) openShell(ctx context.Context, endpoint, user, pass string) (string, error) {
	body := fmt.Sprintf(`<s:Envelope %s><s:Header/><s:Body>
<rsp:Shell><rsp:InputStreams>stdin</rsp:InputStreams><rsp:OutputStreams>stdout stderr</rsp:OutputStreams></rsp:Shell>
</s:Body></s:Envelope>`, winrmNamespaces)

	respBody, err := c.post(ctx, endpoint, user, pass, body)
	if err != nil {
		return "", err
	}
	var parsed struct {
		Body struct {
			ShellResponse struct {
				ShellID string `xml:"ShellId"`
			} `xml:"ShellResponse"`
		} `xml:"Body"`
	}
	if err := xml.Unmarshal(respBody, &parsed); err != nil {
		return "", fmt.Errorf("parsing shell response: %w", err)
	}
	if parsed.Body.ShellResponse.ShellID == "" {
		return "", fmt.Errorf("no shell id in response")
	}
	return parsed.Body.ShellResponse.ShellID, nil
}

func (c *WinRMConnector) runCommand(ctx context.Context, endpoint, user, pass, shellID, command string) (string, error) {
	body := fmt.Sprintf(`<s:Envelope %s><s:Header><w:SelectorSet><w:Selector Name="ShellId">%s</w:Selector></w:SelectorSet></s:Header><s:Body>
<rsp:CommandLine><rsp:Command>%s</rsp:Command></rsp:CommandLine>
</s:Body></s:Envelope>`, winrmNamespaces, shellID, xmlEscape(command))

	respBody, err := c.post(ctx, endpoint, user, pass, body)
	if err != nil {
		return "", err
	}
	var parsed struct {
		Body struct {
			CommandResponse struct {
				CommandID string `xml:"CommandId"`
			} `xml:"CommandResponse"`
		} `xml:"Body"`
	}
	if err := xml.Unmarshal(respBody, &parsed); err != nil {
		return "", fmt.Errorf("parsing command response: %w", err)
	}
	return parsed.Body.CommandResponse.CommandID, nil
}

func (c *WinRMConnector) receiveOutput(ctx context.Context, endpoint, user, pass, shellID, commandID string, sink OutputSink) (stdout, stderr string, exitCode int, err error) {
	var stdoutBuf, stderrBuf bytes.Buffer
	for {
		body := fmt.Sprintf(`<s:Envelope %s><s:Header><w:SelectorSet><w:Selector Name="ShellId">%s</w:Selector></w:SelectorSet></s:Header><s:Body>
<rsp:Receive><rsp:DesiredStream CommandId="%s">stdout stderr</rsp:DesiredStream></rsp:Receive>
</s:Body></s:Envelope>`, winrmNamespaces, shellID, commandID)

		respBody, postErr := c.post(ctx, endpoint, user, pass, body)
		if postErr != nil {
			return stdoutBuf.String(), stderrBuf.String(), 0, postErr
		}

		var parsed struct {
			Body struct {
				ReceiveResponse struct {
					Stream []struct {
						Name string `xml:"Name,attr"`
						End  string `xml:"End,attr"`
						Text string `xml:",chardata"`
					} `xml:"Stream"`
					CommandState struct {
						State    string `xml:"State,attr"`
						ExitCode int    `xml:"ExitCode"`
					} `xml:"CommandState"`
				} `xml:"ReceiveResponse"`
			} `xml:"Body"`
		}
		if unmarshalErr := xml.Unmarshal(respBody, &parsed); unmarshalErr != nil {
			return stdoutBuf.String(), stderrBuf.String(), 0, fmt.Errorf("parsing receive response: %w", unmarshalErr)
		}

		for _, stream := range parsed.Body.ReceiveResponse.Stream {
			decoded, decodeErr := base64.StdEncoding.DecodeString(stream.Text)
			if decodeErr != nil || len(decoded) == 0 {
				continue
			}
			switch stream.Name {
			case "stdout":
				stdoutBuf.Write(decoded)
				if sink != nil {
					sink.Write(ChunkStdout, decoded)
				}
			case "stderr":
				stderrBuf.Write(decoded)
				if sink != nil {
					sink.Write(ChunkStderr, decoded)
				}
			}
		}

		if parsed.Body.ReceiveResponse.CommandState.State == "http://schemas.microsoft.com/wbem/wsman/1/windows/shell/CommandState/Done" {
			return stdoutBuf.String(), stderrBuf.String(), parsed.Body.ReceiveResponse.CommandState.ExitCode, nil
		}
		select {
		case <-ctx.Done():
			return stdoutBuf.String(), stderrBuf.String(), 0, ctx.Err()
		default:
		}
	}
}

func (c *WinRMConnector) deleteShell(ctx context.Context, endpoint, user, pass, shellID string) {
	body := fmt.Sprintf(`<s:Envelope %s><s:Header><w:SelectorSet><w:Selector Name="ShellId">%s</w:Selector></w:SelectorSet></s:Header><s:Body>
<rsp:Signal CommandId=""><rsp:Code>terminate</rsp:Code></rsp:Signal>
</s:Body></s:Envelope>`, winrmNamespaces, shellID)
	c.post(ctx, endpoint, user, pass, body)
}

func (c *WinRMConnector) post(ctx context.Context, endpoint, user, pass, body string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewBufferString(body))
	if err != nil {
		return nil, err
	}
	req.SetBasicAuth(user, pass)
	req.Header.Set("Content-Type", "application/soap+xml;charset=UTF-8")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("winrm endpoint returned %d: %s", resp.StatusCode, respBody)
	}
	return respBody, nil
}

func xmlEscape(s string) string {
	var buf bytes.Buffer
	xml.EscapeText(&buf, []byte(s))
	return buf.String()
}
