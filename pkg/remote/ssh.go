package remote

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/hullside/cutover/pkg/log"
)

// SSHConfig describes how to reach a deployment host.
type SSHConfig struct {
	// Addr is host:port of the SSH endpoint.
	Addr string

	// User is the login user.
	User string

	// KeyFile is the path to the private key.
	KeyFile string

	// KnownHostsFile enables host key verification when set. When empty
	// the host key is not verified, which matches the behavior of
	// non-interactive CI deployments but should be set in production.
	KnownHostsFile string

	// ConnectTimeout bounds the TCP+handshake phase. Default 10s.
	ConnectTimeout time.Duration
}

// SSHRunner executes commands on a remote host over a single SSH
// connection, one session per command.
type SSHRunner struct {
	client *ssh.Client
	addr   string
}

// DialSSH opens the SSH connection described by cfg.
func DialSSH(cfg SSHConfig) (*SSHRunner, error) {
	key, err := os.ReadFile(cfg.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read key file: %w", err)
	}

	signer, err := ssh.ParsePrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}

	hostKeyCallback := ssh.InsecureIgnoreHostKey() //nolint:gosec // opt-in below
	if cfg.KnownHostsFile != "" {
		hostKeyCallback, err = knownhosts.New(cfg.KnownHostsFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load known_hosts: %w", err)
		}
	} else {
		log.Warn("SSH host key verification disabled (no known_hosts file configured)")
	}

	timeout := cfg.ConnectTimeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}

	client, err := ssh.Dial("tcp", cfg.Addr, &ssh.ClientConfig{
		User:            cfg.User,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
		HostKeyCallback: hostKeyCallback,
		Timeout:         timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", cfg.Addr, err)
	}

	return &SSHRunner{client: client, addr: cfg.Addr}, nil
}

// Run executes cmd in a fresh SSH session.
func (r *SSHRunner) Run(ctx context.Context, cmd Command) (Result, error) {
	session, err := r.client.NewSession()
	if err != nil {
		return Result{}, fmt.Errorf("failed to open session to %s: %w", r.addr, err)
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr
	if cmd.Stdin != nil {
		session.Stdin = cmd.Stdin
	}

	// ssh sessions have no native context support; close the session on
	// cancellation so the remote command is torn down.
	done := make(chan error, 1)
	go func() { done <- session.Run(cmd.Line) }()

	select {
	case <-ctx.Done():
		_ = session.Close()
		<-done
		return Result{}, ctx.Err()
	case err = <-done:
	}

	res := Result{
		Stdout: stdout.String(),
		Stderr: stderr.String(),
	}

	if err != nil {
		exitErr, isExit := err.(*ssh.ExitError)
		if !isExit {
			return res, fmt.Errorf("ssh command failed on %s: %w", r.addr, err)
		}
		res.ExitCode = exitErr.ExitStatus()
	}

	if !cmd.ok(res.ExitCode) {
		return res, &ExitError{Line: cmd.Line, ExitCode: res.ExitCode, Stderr: res.Stderr}
	}

	return res, nil
}

// WriteFile uploads data to path on the remote host.
func (r *SSHRunner) WriteFile(ctx context.Context, p string, data []byte, mode os.FileMode) error {
	line := fmt.Sprintf("mkdir -p %s && cat > %s && chmod %o %s",
		Quote(path.Dir(p)), Quote(p), mode.Perm(), Quote(p))

	_, err := r.Run(ctx, Command{Line: line, Stdin: bytes.NewReader(data)})
	if err != nil {
		return fmt.Errorf("failed to write %s on %s: %w", p, r.addr, err)
	}
	return nil
}

// Target returns the remote address.
func (r *SSHRunner) Target() string {
	return r.addr
}

// Close tears down the underlying SSH connection.
func (r *SSHRunner) Close() error {
	return r.client.Close()
}
