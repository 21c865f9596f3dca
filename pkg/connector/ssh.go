package connector

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/codeready-toolchain/orchestrator/pkg/credential"
	"github.com/codeready-toolchain/orchestrator/pkg/models"
	"github.com/codeready-toolchain/orchestrator/pkg/orcherr"
)

// SSHConnector executes commands over SSH, optionally hopping through a
// bastion host (§4.4). Host key verification is mandatory: there is no
// insecure-ignore-host-key mode, by design.
type SSHConnector struct {
	// KnownHostsPath is the known_hosts file used to verify every host key,
	// bastion and target alike.
	KnownHostsPath string

	// DialTimeout bounds TCP connect + SSH handshake, for both the bastion
	// hop and the final target.
	DialTimeout time.Duration
}

// NewSSHConnector builds an SSHConnector verifying host keys against
// knownHostsPath.
func NewSSHConnector(knownHostsPath string, dialTimeout time.Duration) *SSHConnector {
	if dialTimeout <= 0 {
		dialTimeout = 10 * time.Second
	}
	return &SSHConnector{KnownHostsPath: knownHostsPath, DialTimeout: dialTimeout}
}

func (c *SSHConnector) Kind() models.ConnectorKind { return models.ConnectorSSH }

func (c *SSHConnector) Execute(ctx context.Context, target models.ConnectionTarget, cred *credential.Handle, cmd Command, sink OutputSink) (*ExecutionResult, error) {
	hostKeyCallback, err := knownhosts.New(c.KnownHostsPath)
	if err != nil {
		return nil, fmt.Errorf("ssh: loading known_hosts %s: %w", c.KnownHostsPath, err)
	}

	var signer ssh.Signer
	useErr := cred.Use(func(material []byte) error {
		s, parseErr := ssh.ParsePrivateKey(material)
		if parseErr != nil {
			return fmt.Errorf("ssh: parsing private key: %w", parseErr)
		}
		signer = s
		return nil
	})
	if useErr != nil {
		return nil, useErr
	}

	clientConfig := &ssh.ClientConfig{
		User:            target.Username,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
		HostKeyCallback: hostKeyCallback,
		Timeout:         c.DialTimeout,
	}

	targetAddr := net.JoinHostPort(target.Host, portOrDefault(target.Port, 22))

	var client *ssh.Client
	if target.BastionHost != "" {
		bastionAddr := net.JoinHostPort(target.BastionHost, portOrDefault(target.BastionPort, 22))
		bastionClient, dialErr := ssh.Dial("tcp", bastionAddr, clientConfig)
		if dialErr != nil {
			return nil, fmt.Errorf("ssh: dialing bastion %s: %w", bastionAddr, dialErr)
		}
		defer bastionClient.Close()

		conn, dialErr := bastionClient.Dial("tcp", targetAddr)
		if dialErr != nil {
			return nil, fmt.Errorf("ssh: bastion %s dialing target %s: %w", bastionAddr, targetAddr, dialErr)
		}
		ncc, chans, reqs, handshakeErr := ssh.NewClientConn(conn, targetAddr, clientConfig)
		if handshakeErr != nil {
			conn.Close()
			return nil, fmt.Errorf("ssh: handshake through bastion to %s: %w", targetAddr, handshakeErr)
		}
		client = ssh.NewClient(ncc, chans, reqs)
	} else {
		var dialErr error
		client, dialErr = ssh.Dial("tcp", targetAddr, clientConfig)
		if dialErr != nil {
			return nil, fmt.Errorf("ssh: dialing %s: %w", targetAddr, dialErr)
		}
	}
	defer client.Close()

	session, err := client.NewSession()
	if err != nil {
		return nil, fmt.Errorf("ssh: opening session on %s: %w", targetAddr, err)
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer
	session.Stdout = &streamWriter{buf: &stdout, kind: ChunkStdout, sink: sink}
	session.Stderr = &streamWriter{buf: &stderr, kind: ChunkStderr, sink: sink}

	done := make(chan error, 1)
	start := time.Now()
	go func() { done <- session.Run(cmd.Text) }()

	execCtx := ctx
	var cancel context.CancelFunc
	if cmd.Timeout > 0 {
		execCtx, cancel = context.WithTimeout(ctx, cmd.Timeout)
		defer cancel()
	}

	select {
	case runErr := <-done:
		return c.toResult(start, stdout.String(), stderr.String(), runErr)
	case <-execCtx.Done():
		session.Signal(ssh.SIGKILL)
		session.Close()
		<-done
		return &ExecutionResult{
			Success:       false,
			Stdout:        stdout.String(),
			Stderr:        stderr.String(),
			Duration:      time.Since(start),
			ConnectorKind: models.ConnectorSSH,
			ErrKind:       orcherr.KindTimeout,
		}, nil
	}
}

func (c *SSHConnector) toResult(start time.Time, stdout, stderr string, runErr error) (*ExecutionResult, error) {
	result := &ExecutionResult{
		Stdout:        stdout,
		Stderr:        stderr,
		Duration:      time.Since(start),
		ConnectorKind: models.ConnectorSSH,
	}
	if runErr == nil {
		result.Success = true
		return result, nil
	}
	var exitErr *ssh.ExitError
	if asExitError(runErr, &exitErr) {
		result.ExitCode = exitErr.ExitStatus()
		return result, nil
	}
	return nil, fmt.Errorf("ssh: command failed: %w", runErr)
}

func asExitError(err error, target **ssh.ExitError) bool {
	ee, ok := err.(*ssh.ExitError)
	if ok {
		*target = ee
	}
	return ok
}

func portOrDefault(port int, def int) string {
	if port <= 0 {
		port = def
	}
	return fmt.Sprintf("%d", port)
}

// streamWriter fans writes out to both a buffer (so the final
// ExecutionResult still carries the whole transcript) and the live
// OutputSink (so subscribers see it as it arrives).
type streamWriter struct {
	buf  *bytes.Buffer
	kind OutputChunkKind
	sink OutputSink
}

func (w *streamWriter) Write(p []byte) (int, error) {
	w.buf.Write(p)
	if w.sink != nil {
		if err := w.sink.Write(w.kind, p); err != nil {
			return 0, err
		}
	}
	return len(p), nil
}

var _ io.Writer = (*streamWriter)(nil)
