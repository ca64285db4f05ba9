package runner

import (
	"context"
	"strconv"

	"github.com/rs/zerolog"
)

// SSH runs commands through the system ssh client. Local targets bypass
// ssh entirely.
type SSH struct {
	opts   Options
	local  *Local
	logger zerolog.Logger
}

// NewSSH creates an ssh binary runner.
func NewSSH(opts Options, logger zerolog.Logger) *SSH {
	if opts.Binary == "" {
		opts.Binary = "ssh"
	}
	return &SSH{
		opts:   opts,
		local:  NewLocal(logger),
		logger: logger.With().Str("component", "runner.ssh").Logger(),
	}
}

// Run implements Runner.
func (s *SSH) Run(ctx context.Context, target Target, args ...string) (*Result, error) {
	if target.IsLocal() {
		return s.local.Run(ctx, target, args...)
	}
	// The remote side runs as target.User already, so no sudo wrapping.
	res, err := s.local.Run(ctx, Target{Host: target.Host}, s.Command(target, args)...)
	if cmdErr, ok := err.(*CommandError); ok {
		cmdErr.Args = args
	}
	return res, err
}

// Command builds the ssh argv for running args on target.
func (s *SSH) Command(target Target, args []string) []string {
	argv := []string{s.opts.Binary, "-o", "BatchMode=yes"}
	if s.opts.ConnectTimeout > 0 {
		argv = append(argv, "-o", "ConnectTimeout="+strconv.Itoa(s.opts.ConnectTimeout))
	}
	if s.opts.Port > 0 && s.opts.Port != 22 {
		argv = append(argv, "-p", strconv.Itoa(s.opts.Port))
	}
	if s.opts.IdentityFile != "" {
		argv = append(argv, "-i", s.opts.IdentityFile)
	}
	if s.opts.KnownHosts != "" {
		argv = append(argv, "-o", "UserKnownHostsFile="+s.opts.KnownHosts)
	}
	for _, o := range s.opts.ExtraOptions {
		argv = append(argv, "-o", o)
	}
	return append(argv, target.String(), Quote(args))
}
