package disk

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
)

// LsblkCommand lists block devices as KEY="value" pairs. COLUMNS keeps
// lsblk from truncating model names on narrow remote terminals.
var LsblkCommand = []string{
	"env", "COLUMNS=100",
	"lsblk", "--ascii", "--bytes", "--noheadings", "-P",
	"--output", "name,type,size,rota,mountpoint,fstype,model",
}

// DefaultMinSize is the size in bytes a disk must exceed to be considered
const DefaultMinSize = 10_000_000

// osMountpoints mark a disk as carrying the operating system
var osMountpoints = map[string]bool{
	"/":      true,
	"/boot":  true,
	"[SWAP]": true,
}

// vmDiskModels are model substrings reported by hypervisor virtual disks
var vmDiskModels = []string{"HARDDISK", "VMware Virtual", "QEMU HARDDISK", "Virtual disk", "VBOX HARDDISK"}

// ParseOptions controls which disks ParseLsblk keeps
type ParseOptions struct {
	// IncludePartitions records existing partitions in Disk.Existing
	IncludePartitions bool
	// IgnoreOSDisks drops disks with a /, /boot or swap partition
	IgnoreOSDisks bool
	// MinSize is the size in bytes a disk must exceed
	MinSize int64
	Logger  zerolog.Logger
}

// DefaultParseOptions ignores OS disks and disks of 10MB or less
func DefaultParseOptions() ParseOptions {
	return ParseOptions{IgnoreOSDisks: true, MinSize: DefaultMinSize, Logger: zerolog.Nop()}
}

type lsblkRow struct {
	Name       string
	Type       string
	Size       int64
	Rota       string
	Mountpoint string
	FSType     string
	Model      string
}

// parseRow reads one `lsblk -P` line. lsblk escapes quotes inside values,
// so splitting on '"' yields alternating keys and values.
func parseRow(line string) (lsblkRow, bool) {
	line = strings.TrimSpace(line)
	if line == "" {
		return lsblkRow{}, false
	}
	parts := strings.Split(line, `"`)
	if len(parts)%2 == 0 {
		return lsblkRow{}, false
	}

	fields := make(map[string]string)
	for i := 0; i+1 < len(parts); i += 2 {
		key := strings.Trim(parts[i], " =")
		fields[key] = parts[i+1]
	}

	name, ok1 := fields["NAME"]
	typ, ok2 := fields["TYPE"]
	sizeStr, ok3 := fields["SIZE"]
	if !ok1 || !ok2 || !ok3 || name == "" {
		return lsblkRow{}, false
	}
	size, err := strconv.ParseInt(sizeStr, 10, 64)
	if err != nil {
		return lsblkRow{}, false
	}
	return lsblkRow{
		Name:       name,
		Type:       typ,
		Size:       size,
		Rota:       fields["ROTA"],
		Mountpoint: fields["MOUNTPOINT"],
		FSType:     fields["FSTYPE"],
		Model:      strings.TrimSpace(fields["MODEL"]),
	}, true
}

// isChild reports whether an lsblk device type lives below a disk
func isChild(typ string) bool {
	switch {
	case typ == "part", typ == "lvm", typ == "crypt", typ == "md", typ == "dm":
		return true
	case strings.HasPrefix(typ, "raid"):
		return true
	}
	return false
}

// ParseLsblk returns the candidate disks found in LsblkCommand output.
//
// Children follow their disk in the listing. A child mounted at an OS
// mountpoint removes the disk it follows when IgnoreOSDisks is set; other
// mountpoints are only reported since the disk will be repartitioned.
func ParseLsblk(output string, opts ParseOptions) (map[string]*Disk, error) {
	log := opts.Logger
	disks := make(map[string]*Disk)
	var current *Disk
	rows, bad := 0, 0

	for _, line := range strings.Split(output, "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		row, ok := parseRow(line)
		if !ok {
			log.Warn().Str("line", line).Msg("unable to parse lsblk row")
			bad++
			continue
		}
		rows++

		switch {
		case row.Type == "disk":
			current = nil
			if row.Size <= opts.MinSize {
				log.Debug().Str("disk", row.Name).Int64("size", row.Size).Msg("ignoring disk below minimum size")
				continue
			}
			var d *Disk
			switch {
			case strings.HasPrefix(row.Name, "xvd"), strings.HasPrefix(row.Name, "vd"):
				d = NewDisk(row.Name, HDD, "virtual", row.Size)
			case row.Rota == "0":
				d = NewDisk(row.Name, SSD, row.Model, row.Size)
			default:
				d = NewDisk(row.Name, HDD, row.Model, row.Size)
			}
			disks[d.Name] = d
			current = d

		case isChild(row.Type):
			if current == nil {
				continue
			}
			if opts.IncludePartitions && row.Type == "part" {
				current.Existing = append(current.Existing, ExistingPartition{
					Name:       row.Name,
					Size:       row.Size,
					Mountpoint: row.Mountpoint,
					FSType:     row.FSType,
				})
			}
			if row.Mountpoint == "" {
				continue
			}
			if osMountpoints[row.Mountpoint] && opts.IgnoreOSDisks {
				log.Debug().Str("disk", current.Name).Str("partition", row.Name).Str("mountpoint", row.Mountpoint).
					Msg("ignoring disk with operating system partition")
				delete(disks, current.Name)
				current = nil
			} else {
				log.Warn().Str("disk", current.Name).Str("partition", row.Name).Str("mountpoint", row.Mountpoint).
					Msg("existing partition will be repartitioned")
			}

		default:
			log.Debug().Str("device", row.Name).Str("type", row.Type).Msg("ignoring device type")
			current = nil
		}
	}

	if rows == 0 && bad > 0 {
		return nil, fmt.Errorf("no parseable lsblk rows in %d lines", bad)
	}
	return disks, nil
}

// OSDisks returns the disks in LsblkCommand output that carry an OS
// mountpoint, in listing order.
func OSDisks(output string) []string {
	var out []string
	seen := make(map[string]bool)
	current := ""

	for _, line := range strings.Split(output, "\n") {
		row, ok := parseRow(line)
		if !ok {
			continue
		}
		switch {
		case row.Type == "disk":
			current = row.Name
		case isChild(row.Type):
			if current != "" && osMountpoints[row.Mountpoint] && !seen[current] {
				seen[current] = true
				out = append(out, current)
			}
		default:
			current = ""
		}
	}
	return out
}

// IsVirtualMachine reports whether any disk model belongs to a hypervisor
func IsVirtualMachine(disks map[string]*Disk) bool {
	for _, d := range disks {
		for _, m := range vmDiskModels {
			if strings.Contains(d.Model, m) {
				return true
			}
		}
	}
	return false
}
