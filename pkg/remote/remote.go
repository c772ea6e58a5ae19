package remote

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
)

// Command is one shell command to execute on a target, together with
// the exit codes the caller considers success. Building commands as
// values keeps orchestration logic free of shell-quoting concerns.
type Command struct {
	// Line is the shell line executed on the target.
	Line string

	// Stdin, when non-nil, is streamed to the command's standard input.
	// Used for image transfer (docker load) and file uploads.
	Stdin io.Reader

	// OKExit lists exit codes treated as success. Empty means {0}.
	OKExit []int
}

// Result is the outcome of a command run.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Lines splits stdout into trimmed, non-empty lines.
func (r Result) Lines() []string {
	var out []string
	for _, l := range strings.Split(r.Stdout, "\n") {
		l = strings.TrimSpace(l)
		if l != "" {
			out = append(out, l)
		}
	}
	return out
}

// ok reports whether code is an accepted exit code for cmd.
func (c Command) ok(code int) bool {
	if len(c.OKExit) == 0 {
		return code == 0
	}
	for _, want := range c.OKExit {
		if code == want {
			return true
		}
	}
	return false
}

// ExitError is returned when a command exits with a code outside its
// accepted set. The stderr tail is included for diagnostics.
type ExitError struct {
	Line     string
	ExitCode int
	Stderr   string
}

func (e *ExitError) Error() string {
	msg := fmt.Sprintf("command %q exited %d", e.Line, e.ExitCode)
	if s := strings.TrimSpace(e.Stderr); s != "" {
		msg += ": " + tail(s, 300)
	}
	return msg
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return "..." + s[len(s)-n:]
}

// Runner executes commands on a target host. The SSH runner talks to
// remote deployment hosts; the local runner drives the build machine.
type Runner interface {
	// Run executes cmd and returns its result. An error is returned for
	// transport failures and for exit codes outside cmd.OKExit.
	Run(ctx context.Context, cmd Command) (Result, error)

	// WriteFile places data at path on the target with the given mode,
	// creating parent directories as needed.
	WriteFile(ctx context.Context, path string, data []byte, mode os.FileMode) error

	// Target names the host this runner talks to, for logging.
	Target() string
}

// Quote single-quotes s for safe interpolation into a shell line.
func Quote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
