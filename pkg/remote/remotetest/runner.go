// Package remotetest provides a scripted remote.Runner for tests.
package remotetest

import (
	"context"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/hullside/cutover/pkg/remote"
)

// Call records one command the fake runner received.
type Call struct {
	Line  string
	Stdin string
}

type rule struct {
	match string
	fn    func(cmd remote.Command) (remote.Result, error)
}

// Runner is an in-memory remote.Runner. Rules are matched by substring
// against the command line, first match wins; unmatched commands
// succeed with empty output so tests only script what they assert on.
type Runner struct {
	mu    sync.Mutex
	rules []rule

	// Calls is every command received, in order.
	Calls []Call

	// Files holds everything written through WriteFile, keyed by path.
	Files map[string][]byte
}

// NewRunner creates an empty fake runner.
func NewRunner() *Runner {
	return &Runner{Files: make(map[string][]byte)}
}

// On scripts a static result for command lines containing match.
func (r *Runner) On(match string, stdout string, exitCode int) {
	r.OnFunc(match, func(remote.Command) (remote.Result, error) {
		return remote.Result{Stdout: stdout, ExitCode: exitCode}, nil
	})
}

// OnError scripts a transport-level failure for matching commands.
func (r *Runner) OnError(match string, err error) {
	r.OnFunc(match, func(remote.Command) (remote.Result, error) {
		return remote.Result{}, err
	})
}

// OnFunc scripts a dynamic handler for matching commands.
func (r *Runner) OnFunc(match string, fn func(cmd remote.Command) (remote.Result, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rules = append(r.rules, rule{match: match, fn: fn})
}

// Run implements remote.Runner.
func (r *Runner) Run(_ context.Context, cmd remote.Command) (remote.Result, error) {
	var stdin string
	if cmd.Stdin != nil {
		b, _ := io.ReadAll(cmd.Stdin)
		stdin = string(b)
	}

	r.mu.Lock()
	r.Calls = append(r.Calls, Call{Line: cmd.Line, Stdin: stdin})
	rules := append([]rule(nil), r.rules...)
	r.mu.Unlock()

	for _, rl := range rules {
		if strings.Contains(cmd.Line, rl.match) {
			res, err := rl.fn(cmd)
			if err != nil {
				return res, err
			}
			if !exitOK(cmd, res.ExitCode) {
				return res, &remote.ExitError{Line: cmd.Line, ExitCode: res.ExitCode, Stderr: res.Stderr}
			}
			return res, nil
		}
	}

	return remote.Result{}, nil
}

// WriteFile implements remote.Runner.
func (r *Runner) WriteFile(_ context.Context, path string, data []byte, _ os.FileMode) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Files[path] = append([]byte(nil), data...)
	return nil
}

// Target implements remote.Runner.
func (r *Runner) Target() string {
	return "fake-host"
}

// Ran reports whether any received command line contains match.
func (r *Runner) Ran(match string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.Calls {
		if strings.Contains(c.Line, match) {
			return true
		}
	}
	return false
}

// CountRan returns how many received command lines contain match.
func (r *Runner) CountRan(match string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, c := range r.Calls {
		if strings.Contains(c.Line, match) {
			n++
		}
	}
	return n
}

func exitOK(cmd remote.Command, code int) bool {
	if len(cmd.OKExit) == 0 {
		return code == 0
	}
	for _, want := range cmd.OKExit {
		if code == want {
			return true
		}
	}
	return false
}
