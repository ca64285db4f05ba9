package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// Native runs commands over an in-process SSH client. Connections are kept
// per target until Close.
type Native struct {
	opts    Options
	config  func(user string) *ssh.ClientConfig
	dial    func(network, addr string, config *ssh.ClientConfig) (*ssh.Client, error)
	local   *Local
	logger  zerolog.Logger
	mu      sync.Mutex
	clients map[string]*ssh.Client
}

// NewNative creates a native SSH runner using the configured identity file
// and known_hosts database.
func NewNative(opts Options, logger zerolog.Logger) (*Native, error) {
	home, _ := os.UserHomeDir()
	if opts.IdentityFile == "" {
		opts.IdentityFile = filepath.Join(home, ".ssh", "id_rsa")
	}
	if opts.KnownHosts == "" {
		opts.KnownHosts = filepath.Join(home, ".ssh", "known_hosts")
	}
	if opts.Port == 0 {
		opts.Port = 22
	}

	key, err := os.ReadFile(opts.IdentityFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read identity file: %w", err)
	}
	signer, err := ssh.ParsePrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("failed to parse identity file %s: %w", opts.IdentityFile, err)
	}
	hostKeys, err := knownhosts.New(opts.KnownHosts)
	if err != nil {
		return nil, fmt.Errorf("failed to load known hosts: %w", err)
	}

	timeout := time.Duration(opts.ConnectTimeout) * time.Second
	return &Native{
		opts: opts,
		config: func(user string) *ssh.ClientConfig {
			return &ssh.ClientConfig{
				User:            user,
				Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
				HostKeyCallback: hostKeys,
				Timeout:         timeout,
			}
		},
		dial:    ssh.Dial,
		local:   NewLocal(logger),
		logger:  logger.With().Str("component", "runner.native").Logger(),
		clients: make(map[string]*ssh.Client),
	}, nil
}

// client returns the cached connection to target, dialing one if needed.
// Dials run without the lock so a slow host does not stall the others.
func (n *Native) client(target Target) (*ssh.Client, error) {
	key := target.String()

	n.mu.Lock()
	c, ok := n.clients[key]
	n.mu.Unlock()
	if ok {
		return c, nil
	}

	user := target.User
	if user == "" {
		user = "root"
	}
	addr := net.JoinHostPort(target.Host, strconv.Itoa(n.opts.Port))
	c, err := n.dial("tcp", addr, n.config(user))
	if err != nil {
		return nil, err
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	if existing, ok := n.clients[key]; ok {
		c.Close()
		return existing, nil
	}
	n.clients[key] = c
	return c, nil
}

// Run implements Runner.
func (n *Native) Run(ctx context.Context, target Target, args ...string) (*Result, error) {
	if target.IsLocal() {
		return n.local.Run(ctx, target, args...)
	}

	command := Quote(args)
	n.logger.Debug().Str("host", target.Host).Str("command", command).Msg("executing")

	client, err := n.client(target)
	if err != nil {
		return nil, &CommandError{Args: args, Host: target.Host, ExitCode: -1, Err: err}
	}
	session, err := client.NewSession()
	if err != nil {
		n.drop(target)
		return nil, &CommandError{Args: args, Host: target.Host, ExitCode: -1, Err: err}
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	done := make(chan error, 1)
	go func() { done <- session.Run(command) }()

	select {
	case <-ctx.Done():
		session.Close()
		return nil, &CommandError{Args: args, Host: target.Host, ExitCode: -1, Err: ctx.Err()}
	case err = <-done:
	}

	res := &Result{
		Stdout: strings.TrimRight(stdout.String(), "\n"),
		Stderr: strings.TrimRight(stderr.String(), "\n"),
	}
	if err == nil {
		return res, nil
	}

	cmdErr := &CommandError{Args: args, Host: target.Host, Stdout: res.Stdout, Stderr: res.Stderr}
	var exitErr *ssh.ExitError
	if errors.As(err, &exitErr) {
		cmdErr.ExitCode = exitErr.ExitStatus()
	} else {
		cmdErr.ExitCode = -1
		cmdErr.Err = err
	}
	res.ExitCode = cmdErr.ExitCode
	return res, cmdErr
}

func (n *Native) drop(target Target) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if c, ok := n.clients[target.String()]; ok {
		c.Close()
		delete(n.clients, target.String())
	}
}

// Close closes all cached connections.
func (n *Native) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	var errs []error
	for key, c := range n.clients {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
		delete(n.clients, key)
	}
	return errors.Join(errs...)
}
