package partition

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
	"golang.org/x/sys/unix"

	"github.com/sigreer/jbodplan/internal/disk"
	"github.com/sigreer/jbodplan/internal/runner"
)

var (
	// ErrNoLabel is returned by ReadTable for a disk without a partition table
	ErrNoLabel = errors.New("unrecognised disk label")
	// ErrNotBlockDevice is returned when a local device path is not a block device
	ErrNotBlockDevice = errors.New("not a block device")
)

var (
	tableRowRe = regexp.MustCompile(`^\d+:.*;$`)
	nonNumeric = regexp.MustCompile(`[^0-9.]`)
)

// ParseError reports parted output that cannot be interpreted
type ParseError struct {
	Device string
	Msg    string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parted output for %s: %s", e.Device, e.Msg)
}

// TablePartition is one row of `parted -m print`. Free space rows have no
// number.
type TablePartition struct {
	Number     int     `json:"number,omitempty"`
	Device     string  `json:"device,omitempty"`
	Start      float64 `json:"start"`
	End        float64 `json:"end"`
	Size       float64 `json:"size"`
	Filesystem string  `json:"filesystem,omitempty"`
	Name       string  `json:"name,omitempty"`
	Flags      string  `json:"flags,omitempty"`
	Free       bool    `json:"free,omitempty"`

	// Type is only meaningful when TypeKnown is set
	Type      disk.PartitionType `json:"type"`
	TypeKnown bool               `json:"type_known"`
}

// Table is a disk's partition table as reported by parted
type Table struct {
	Device             string           `json:"device"`
	Size               string           `json:"size"`
	Transport          string           `json:"transport"`
	LogicalSectorSize  int              `json:"logical_sector_size"`
	PhysicalSectorSize int              `json:"physical_sector_size"`
	Label              string           `json:"label"`
	Model              string           `json:"model"`
	Partitions         []TablePartition `json:"partitions"`
}

// Numbers returns the numbers of the real (non free space) partitions
func (t *Table) Numbers() []int {
	var out []int
	for _, p := range t.Partitions {
		if !p.Free {
			out = append(out, p.Number)
		}
	}
	return out
}

// partitionDevice names partition n of device, e.g. /dev/sdb1 or /dev/nvme0n1p1
func partitionDevice(device string, n int) string {
	if device != "" && device[len(device)-1] >= '0' && device[len(device)-1] <= '9' {
		return device + "p" + strconv.Itoa(n)
	}
	return device + strconv.Itoa(n)
}

func parseNumber(device, field, value string) (float64, error) {
	f, err := strconv.ParseFloat(nonNumeric.ReplaceAllString(value, ""), 64)
	if err != nil {
		return 0, &ParseError{Device: device, Msg: fmt.Sprintf("bad %s %q", field, value)}
	}
	return f, nil
}

// ParseTable reads the output of `parted -sm DEVICE unit U print [free]`:
//
//	BYT;
//	/dev/sdi:1200GB:scsi:512:4096:gpt:IBM ST1200MM0007:;
//	1:24.6kB:1200GB:1200GB::GPFS::hidden;
//
// Partition names may themselves contain ':'.
func ParseTable(output, device string) (*Table, error) {
	t := &Table{Device: device}
	started := false

	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if !started {
			started = line == "BYT;"
			continue
		}

		if strings.HasPrefix(line, device+":") {
			fields := strings.Split(strings.TrimSuffix(line, ";"), ":")
			if len(fields) < 6 {
				return nil, &ParseError{Device: device, Msg: fmt.Sprintf("short device line %q", line)}
			}
			t.Size = fields[1]
			t.Transport = fields[2]
			t.LogicalSectorSize, _ = strconv.Atoi(fields[3])
			t.PhysicalSectorSize, _ = strconv.Atoi(fields[4])
			t.Label = fields[5]
			if len(fields) > 6 {
				t.Model = fields[6]
			}
			continue
		}

		if !tableRowRe.MatchString(line) {
			continue
		}
		values := strings.Split(strings.TrimSuffix(line, ";"), ":")
		if len(values) < 5 {
			return nil, &ParseError{Device: device, Msg: fmt.Sprintf("short partition line %q", line)}
		}

		var p TablePartition
		var err error
		if p.Start, err = parseNumber(device, "start", values[1]); err != nil {
			return nil, err
		}
		if p.End, err = parseNumber(device, "end", values[2]); err != nil {
			return nil, err
		}
		if p.Size, err = parseNumber(device, "size", values[3]); err != nil {
			return nil, err
		}
		p.Filesystem = values[4]
		if len(values) >= 7 {
			p.Name = strings.Join(values[5:len(values)-1], ":")
			p.Flags = values[len(values)-1]
		} else if len(values) == 6 {
			p.Name = values[5]
		}

		// parted numbers free space 1, which is meaningless
		if p.Filesystem == "free" {
			p.Free = true
		} else {
			p.Number, _ = strconv.Atoi(values[0])
			p.Device = partitionDevice(device, p.Number)
		}
		t.Partitions = append(t.Partitions, p)
	}

	if !started {
		return nil, &ParseError{Device: device, Msg: "missing BYT; marker"}
	}
	return t, nil
}

// ReadOptions controls ReadTable
type ReadOptions struct {
	// Unit is the parted unit for start, end and size, default "%"
	Unit string
	// Free includes free space rows
	Free bool
	// ResolveTypes reads /proc/partitions to tell primary from extended
	ResolveTypes bool
	Logger       zerolog.Logger
}

// IsBlockDevice reports whether path is a block device on this machine
func IsBlockDevice(path string) bool {
	var st unix.Stat_t
	if err := unix.Lstat(path, &st); err != nil {
		return false
	}
	return st.Mode&unix.S_IFMT == unix.S_IFBLK
}

// ReadTable runs parted against device on target and parses its table.
// A disk without a partition table yields ErrNoLabel.
func ReadTable(ctx context.Context, r runner.Runner, target runner.Target, device string, opts ReadOptions) (*Table, error) {
	if target.IsLocal() && !IsBlockDevice(device) {
		return nil, fmt.Errorf("%s: %w", device, ErrNotBlockDevice)
	}
	unit := opts.Unit
	if unit == "" {
		unit = "%"
	}

	args := []string{"parted", "-sm", device, "unit", unit, "print"}
	if opts.Free {
		args = append(args, "free")
	}
	out, err := runner.Output(ctx, r, target, fmt.Sprintf("Could not retrieve partition information for %s", device), args...)
	if err != nil {
		var cmdErr *runner.CommandError
		if errors.As(err, &cmdErr) && cmdErr.Contains(ErrNoLabel.Error()) {
			return nil, fmt.Errorf("%s: %w", device, ErrNoLabel)
		}
		return nil, err
	}

	t, err := ParseTable(out, device)
	if err != nil {
		return nil, err
	}
	if opts.ResolveTypes && len(t.Numbers()) > 0 {
		if err := resolveTypes(ctx, r, target, t, opts.Logger); err != nil {
			return nil, err
		}
	}
	return t, nil
}

// resolveTypes marks partitions as primary or extended from
// /proc/partitions, where extended partitions always report 1 block.
func resolveTypes(ctx context.Context, r runner.Runner, target runner.Target, t *Table, logger zerolog.Logger) error {
	out, err := runner.Output(ctx, r, target, "Could not read /proc/partitions", "cat", "/proc/partitions")
	if err != nil {
		return err
	}

	blocks := make(map[string]int64)
	for _, line := range strings.Split(out, "\n") {
		fields := strings.Fields(line)
		if len(fields) != 4 {
			continue
		}
		n, err := strconv.ParseInt(fields[2], 10, 64)
		if err != nil {
			continue
		}
		blocks[fields[3]] = n
	}

	for i := range t.Partitions {
		p := &t.Partitions[i]
		if p.Free {
			continue
		}
		n, ok := blocks[filepath.Base(p.Device)]
		if !ok {
			logger.Warn().Str("partition", p.Device).Msg("partition not found in /proc/partitions")
			continue
		}
		p.Type = disk.Primary
		if n == 1 {
			p.Type = disk.Extended
		}
		p.TypeKnown = true
	}
	return nil
}
