package runner_test

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sigreer/jbodplan/internal/runner"
	"github.com/sigreer/jbodplan/internal/runner/runnertest"
)

func TestTarget(t *testing.T) {
	tests := []struct {
		target runner.Target
		local  bool
		str    string
	}{
		{runner.Target{}, true, ""},
		{runner.Target{Host: "localhost", User: "root"}, true, "root@localhost"},
		{runner.Target{Host: "127.0.0.1"}, true, "127.0.0.1"},
		{runner.Target{Host: "node1", User: "gpfsadm"}, false, "gpfsadm@node1"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.local, tt.target.IsLocal(), tt.str)
		assert.Equal(t, tt.str, tt.target.String())
	}
}

func TestSSHCommand(t *testing.T) {
	tests := []struct {
		name string
		opts runner.Options
		want []string
	}{
		{
			name: "defaults",
			want: []string{"ssh", "-o", "BatchMode=yes", "root@node1", "lsblk -d '/dev/sd b'"},
		},
		{
			name: "all options",
			opts: runner.Options{
				Binary:         "/usr/bin/ssh",
				Port:           2222,
				IdentityFile:   "/root/.ssh/id_ed25519",
				KnownHosts:     "/etc/jbodplan/known_hosts",
				ConnectTimeout: 5,
				ExtraOptions:   []string{"StrictHostKeyChecking=yes"},
			},
			want: []string{
				"/usr/bin/ssh", "-o", "BatchMode=yes", "-o", "ConnectTimeout=5", "-p", "2222",
				"-i", "/root/.ssh/id_ed25519", "-o", "UserKnownHostsFile=/etc/jbodplan/known_hosts",
				"-o", "StrictHostKeyChecking=yes", "root@node1", "lsblk -d '/dev/sd b'",
			},
		},
		{
			name: "port 22 is implied",
			opts: runner.Options{Port: 22},
			want: []string{"ssh", "-o", "BatchMode=yes", "root@node1", "lsblk -d '/dev/sd b'"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := runner.NewSSH(tt.opts, zerolog.Nop())
			got := s.Command(runner.Target{Host: "node1", User: "root"}, []string{"lsblk", "-d", "/dev/sd b"})
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNew(t *testing.T) {
	r, err := runner.New(runner.TransportLocal, runner.Options{}, zerolog.Nop())
	require.NoError(t, err)
	assert.IsType(t, &runner.Local{}, r)

	r, err = runner.New("", runner.Options{}, zerolog.Nop())
	require.NoError(t, err)
	assert.IsType(t, &runner.SSH{}, r)

	_, err = runner.New("telnet", runner.Options{}, zerolog.Nop())
	assert.ErrorContains(t, err, `unknown transport "telnet"`)

	_, err = runner.New(runner.TransportNative, runner.Options{IdentityFile: "/nonexistent/id_rsa"}, zerolog.Nop())
	assert.ErrorContains(t, err, "failed to read identity file")
}

func TestLocalRun(t *testing.T) {
	l := runner.NewLocal(zerolog.Nop())
	ctx := context.Background()

	res, err := l.Run(ctx, runner.Target{}, "/bin/sh", "-c", "echo out; echo err >&2")
	require.NoError(t, err)
	assert.Equal(t, "out", res.Stdout)
	assert.Equal(t, "err", res.Stderr)

	res, err = l.Run(ctx, runner.Target{}, "/bin/sh", "-c", "echo partial; exit 3")
	var cmdErr *runner.CommandError
	require.ErrorAs(t, err, &cmdErr)
	assert.Equal(t, 3, cmdErr.ExitCode)
	assert.Equal(t, 3, res.ExitCode)
	assert.Equal(t, "partial", cmdErr.Stdout)
	assert.NoError(t, cmdErr.Err)

	_, err = l.Run(ctx, runner.Target{}, "/nonexistent/binary")
	require.ErrorAs(t, err, &cmdErr)
	assert.Equal(t, -1, cmdErr.ExitCode)
	assert.Error(t, cmdErr.Err)

	_, err = l.Run(ctx, runner.Target{})
	assert.ErrorContains(t, err, "empty command")
}

func TestOutput(t *testing.T) {
	r := runnertest.New().
		On("node1", "lsblk -dnr -o ROTA /dev/sdb", runnertest.Response{Stdout: "0\n\n"}).
		On("node1", "parted -s /dev/sdc mklabel gpt", runnertest.Response{Stderr: "Error: Partition(s) on /dev/sdc are being used.", ExitCode: 1})
	target := runner.Target{Host: "node1", User: "root"}

	out, err := runner.Output(context.Background(), r, target, "unused", "lsblk", "-dnr", "-o", "ROTA", "/dev/sdb")
	require.NoError(t, err)
	assert.Equal(t, "0", out)

	_, err = runner.Output(context.Background(), r, target, "Could not partition '/dev/sdc'", "parted", "-s", "/dev/sdc", "mklabel", "gpt")
	var cmdErr *runner.CommandError
	require.ErrorAs(t, err, &cmdErr)
	assert.Equal(t, "Could not partition '/dev/sdc'", cmdErr.Message)
	assert.True(t, cmdErr.Contains("being used"))
	assert.Equal(t, "Could not partition '/dev/sdc': command 'parted -s /dev/sdc mklabel gpt' on node1 returned non-zero exit status 1\n"+
		"Error: Partition(s) on /dev/sdc are being used.", cmdErr.Error())
}

func TestCommandErrorUnwrap(t *testing.T) {
	err := &runner.CommandError{Args: []string{"ssh"}, Host: "node1", ExitCode: -1, Err: context.DeadlineExceeded}
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.Equal(t, "command 'ssh' on node1 failed: context deadline exceeded", err.Error())
}

func TestQuote(t *testing.T) {
	assert.Equal(t, "/bin/sh -c '/bin/ls /sys/bus/scsi/devices/*/block'",
		runner.Quote([]string{"/bin/sh", "-c", "/bin/ls /sys/bus/scsi/devices/*/block"}))
}
