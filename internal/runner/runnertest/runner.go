// Package runnertest provides a scripted runner for tests.
package runnertest

import (
	"context"
	"strings"
	"sync"

	"github.com/sigreer/jbodplan/internal/runner"
)

// Response is the scripted outcome of one command.
type Response struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Call records one invocation.
type Call struct {
	Target runner.Target
	Args   []string
}

// Command returns the invocation as a single space-joined string.
func (c Call) Command() string {
	return strings.Join(c.Args, " ")
}

// Runner answers commands from a script keyed by host and the space-joined
// argv. Unscripted commands succeed with empty output.
type Runner struct {
	mu        sync.Mutex
	responses map[string]Response
	calls     []Call
}

// New creates an empty scripted runner.
func New() *Runner {
	return &Runner{responses: make(map[string]Response)}
}

func key(host, command string) string {
	return host + "\x00" + command
}

// On scripts the response for command on host. An empty host matches any host.
func (r *Runner) On(host, command string, resp Response) *Runner {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.responses[key(host, command)] = resp
	return r
}

// Run implements runner.Runner.
func (r *Runner) Run(_ context.Context, target runner.Target, args ...string) (*runner.Result, error) {
	command := strings.Join(args, " ")

	r.mu.Lock()
	r.calls = append(r.calls, Call{Target: target, Args: append([]string(nil), args...)})
	resp, ok := r.responses[key(target.Host, command)]
	if !ok {
		resp = r.responses[key("", command)]
	}
	r.mu.Unlock()

	res := &runner.Result{Stdout: resp.Stdout, Stderr: resp.Stderr, ExitCode: resp.ExitCode}
	if resp.ExitCode != 0 {
		return res, &runner.CommandError{
			Args:     args,
			Host:     target.Host,
			ExitCode: resp.ExitCode,
			Stdout:   resp.Stdout,
			Stderr:   resp.Stderr,
		}
	}
	return res, nil
}

// Calls returns all invocations so far.
func (r *Runner) Calls() []Call {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Call(nil), r.calls...)
}

// Commands returns the space-joined argv of every invocation on host.
func (r *Runner) Commands(host string) []string {
	var out []string
	for _, c := range r.Calls() {
		if host == "" || c.Target.Host == host {
			out = append(out, c.Command())
		}
	}
	return out
}
