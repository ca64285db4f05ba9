package blockdev

import (
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFixture(t *testing.T) {
	data, err := os.ReadFile("testdata/block_device_mapping.output")
	require.NoError(t, err)

	m, err := Parse(string(data))
	require.NoError(t, err)
	assert.Len(t, m.Devices, 12)

	byID := m.ByID()
	byName := m.ByName()
	assert.Len(t, byID, len(m.Devices))
	assert.Len(t, byName, len(m.Devices))
	for id, name := range byID {
		assert.True(t, strings.HasPrefix(name, "sd"))
		assert.Equal(t, id, byName[name])
	}
	assert.Equal(t, "sda", byID[0])
	assert.Equal(t, 11, byName["sdl"])
	assert.Empty(t, m.Conflicts())
}

func TestParse(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    map[string]string
		wantErr string
	}{
		{
			name:  "single device",
			input: "/sys/bus/scsi/devices/0:2:5:0/block:\nsdf\n",
			want:  map[string]string{"0:2:5:0": "sdf"},
		},
		{
			name:  "without trailing colon",
			input: "/sys/bus/scsi/devices/1:0:3:0/block nvme0n1",
			want:  map[string]string{"1:0:3:0": "nvme0n1"},
		},
		{
			name:  "empty listing",
			input: "  \n",
			want:  map[string]string{},
		},
		{
			name:    "odd token count",
			input:   "/sys/bus/scsi/devices/0:2:5:0/block: sdf extra",
			wantErr: "odd number of tokens",
		},
		{
			name:    "bad bus path",
			input:   "/sys/bus/pci/devices/0000:00:1f.2/block: sda",
			wantErr: "unexpected bus path",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := Parse(tt.input)
			if tt.wantErr != "" {
				require.Error(t, err)
				var perr *ParseError
				assert.ErrorAs(t, err, &perr)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, m.Devices)
		})
	}
}

func TestTargetID(t *testing.T) {
	m, err := Parse("/sys/bus/scsi/devices/0:2:5:0/block: sdf")
	require.NoError(t, err)

	id, ok := m.TargetID("sdf")
	assert.True(t, ok)
	assert.Equal(t, 5, id)

	_, ok = m.TargetID("sdz")
	assert.False(t, ok)
}

func TestConflicts(t *testing.T) {
	m, err := Parse(`/sys/bus/scsi/devices/0:2:1:0/block: sdb
/sys/bus/scsi/devices/1:2:1:0/block: sdk`)
	require.NoError(t, err)

	assert.Equal(t, map[int][]string{1: {"sdb", "sdk"}}, m.Conflicts())
	assert.Len(t, m.ByName(), 2)
	assert.Len(t, m.ByID(), 1)
	assert.Equal(t, "sdk", m.ByID()[1])
}

func TestListCommand(t *testing.T) {
	tests := []struct {
		name    string
		devices map[string]string
	}{
		{name: "one device", devices: map[string]string{"0:2:0:0": "sda"}},
		{name: "two devices", devices: map[string]string{"0:2:0:0": "sda", "0:2:1:0": "sdb"}},
		{name: "none", devices: map[string]string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			root := t.TempDir()
			for id, name := range tt.devices {
				require.NoError(t, os.MkdirAll(filepath.Join(root, id, "block", name), 0o755))
			}
			// a SCSI device without a block directory is skipped
			require.NoError(t, os.MkdirAll(filepath.Join(root, "host0"), 0o755))

			out, err := exec.Command("/bin/sh", "-c", ListCommand(root)).Output()
			require.NoError(t, err)

			m, err := Parse(strings.ReplaceAll(string(out), root, DevicesRoot))
			require.NoError(t, err)
			assert.Equal(t, tt.devices, m.Devices)
		})
	}
}

func TestDefaultCommand(t *testing.T) {
	assert.Equal(t, []string{"/bin/sh", "-c", ListCommand(DevicesRoot)}, DefaultCommand)
	assert.Contains(t, DefaultCommand[2], `echo "$d:"`)
}
