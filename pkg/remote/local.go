package remote

import (
	"bytes"
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
)

// LocalRunner executes commands on the machine cutover itself runs on.
// The image pipeline uses it for builds; it also makes every component
// that takes a Runner testable without a live SSH target.
type LocalRunner struct{}

// Run executes cmd through the local shell.
func (LocalRunner) Run(ctx context.Context, cmd Command) (Result, error) {
	c := exec.CommandContext(ctx, "sh", "-c", cmd.Line)

	var stdout, stderr bytes.Buffer
	c.Stdout = &stdout
	c.Stderr = &stderr
	if cmd.Stdin != nil {
		c.Stdin = cmd.Stdin
	}

	err := c.Run()
	res := Result{Stdout: stdout.String(), Stderr: stderr.String()}

	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return res, err
		}
		res.ExitCode = exitErr.ExitCode()
	}

	if !cmd.ok(res.ExitCode) {
		return res, &ExitError{Line: cmd.Line, ExitCode: res.ExitCode, Stderr: res.Stderr}
	}

	return res, nil
}

// WriteFile writes data to a local path.
func (LocalRunner) WriteFile(_ context.Context, path string, data []byte, mode os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, data, mode)
}

// Target identifies the local machine.
func (LocalRunner) Target() string {
	return "localhost"
}
