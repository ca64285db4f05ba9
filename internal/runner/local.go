package runner

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"os/user"
	"strings"

	"github.com/rs/zerolog"
)

// Local runs commands on this machine. Commands for a target user other
// than the current one are wrapped in sudo.
type Local struct {
	logger      zerolog.Logger
	currentUser string
}

// NewLocal creates a local runner.
func NewLocal(logger zerolog.Logger) *Local {
	l := &Local{logger: logger.With().Str("component", "runner.local").Logger()}
	if u, err := user.Current(); err == nil {
		l.currentUser = u.Username
	}
	return l
}

// Run implements Runner.
func (l *Local) Run(ctx context.Context, target Target, args ...string) (*Result, error) {
	if len(args) == 0 {
		return nil, &CommandError{Host: target.Host, ExitCode: -1, Err: errors.New("empty command")}
	}

	argv := args
	if target.User != "" && target.User != l.currentUser {
		argv = append([]string{"/usr/bin/sudo", "-u", target.User}, args...)
	}
	l.logger.Debug().Strs("args", argv).Msg("executing")

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()

	res := &Result{
		Stdout: strings.TrimRight(stdout.String(), "\n"),
		Stderr: strings.TrimRight(stderr.String(), "\n"),
	}
	if err == nil {
		return res, nil
	}

	cmdErr := &CommandError{
		Args:   argv,
		Host:   target.Host,
		Stdout: res.Stdout,
		Stderr: res.Stderr,
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		cmdErr.ExitCode = exitErr.ExitCode()
		res.ExitCode = cmdErr.ExitCode
	} else {
		cmdErr.ExitCode = -1
		cmdErr.Err = err
		res.ExitCode = -1
	}
	return res, cmdErr
}
