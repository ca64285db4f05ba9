// Package runner executes commands on discovered hosts, either locally or
// over SSH, and reports failures as structured CommandErrors.
package runner

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/kballard/go-shellquote"
	"github.com/rs/zerolog"
)

// Transport names accepted by New.
const (
	TransportLocal  = "local"
	TransportSSH    = "ssh"
	TransportNative = "native"
)

// Target identifies where and as whom a command runs.
type Target struct {
	Host string `json:"host"`
	User string `json:"user"`
}

// IsLocal reports whether the target refers to this machine.
func (t Target) IsLocal() bool {
	return t.Host == "" || t.Host == "localhost" || t.Host == "127.0.0.1"
}

func (t Target) String() string {
	if t.User == "" {
		return t.Host
	}
	return t.User + "@" + t.Host
}

// Result holds the captured output of a finished command.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Runner runs a command given as argv against a target.
//
// A non-zero exit status or a transport failure is returned as a
// *CommandError; the Result is still returned when output was captured.
type Runner interface {
	Run(ctx context.Context, target Target, args ...string) (*Result, error)
}

// CommandError describes a failed command.
type CommandError struct {
	Args     []string
	Host     string
	ExitCode int
	Stdout   string
	Stderr   string
	Message  string
	Err      error
}

func (e *CommandError) Error() string {
	var sb strings.Builder
	if e.Message != "" {
		sb.WriteString(e.Message)
		sb.WriteString(": ")
	}
	fmt.Fprintf(&sb, "command '%s'", strings.Join(e.Args, " "))
	if e.Host != "" {
		fmt.Fprintf(&sb, " on %s", e.Host)
	}
	if e.Err != nil {
		fmt.Fprintf(&sb, " failed: %v", e.Err)
	} else {
		fmt.Fprintf(&sb, " returned non-zero exit status %d", e.ExitCode)
	}
	if e.Stdout != "" {
		sb.WriteString("\n")
		sb.WriteString(e.Stdout)
	}
	if e.Stderr != "" {
		sb.WriteString("\n")
		sb.WriteString(e.Stderr)
	}
	return sb.String()
}

func (e *CommandError) Unwrap() error {
	return e.Err
}

// Contains reports whether either output stream contains s.
func (e *CommandError) Contains(s string) bool {
	return strings.Contains(e.Stdout, s) || strings.Contains(e.Stderr, s)
}

// Output runs args and returns trimmed stdout. On failure the returned
// *CommandError carries message as context.
func Output(ctx context.Context, r Runner, target Target, message string, args ...string) (string, error) {
	res, err := r.Run(ctx, target, args...)
	if err != nil {
		var cmdErr *CommandError
		if errors.As(err, &cmdErr) && cmdErr.Message == "" {
			cmdErr.Message = message
			return "", cmdErr
		}
		return "", err
	}
	return strings.TrimRight(res.Stdout, " \t\r\n"), nil
}

// Quote joins argv into a single shell command line.
func Quote(args []string) string {
	return shellquote.Join(args...)
}

// Options configures the remote transports.
type Options struct {
	Binary         string
	Port           int
	IdentityFile   string
	KnownHosts     string
	ConnectTimeout int // seconds
	ExtraOptions   []string
}

// New returns the runner for the given transport name.
func New(transport string, opts Options, logger zerolog.Logger) (Runner, error) {
	switch transport {
	case TransportLocal:
		return NewLocal(logger), nil
	case "", TransportSSH:
		return NewSSH(opts, logger), nil
	case TransportNative:
		return NewNative(opts, logger)
	default:
		return nil, fmt.Errorf("unknown transport %q", transport)
	}
}
