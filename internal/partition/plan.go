// Package partition plans and applies disk partition layouts.
package partition

import (
	"errors"
	"fmt"

	"github.com/sigreer/jbodplan/internal/disk"
)

var (
	// ErrNotEmpty is returned when planning a disk that already has partitions
	ErrNotEmpty = errors.New("disk already has planned partitions")
	// ErrOverAllocated is returned when partitions add up to more than 100%
	ErrOverAllocated = errors.New("partitions exceed 100% of the disk")
	// ErrInvalidPercent is returned for a partition size outside 1..100
	ErrInvalidPercent = errors.New("partition percent out of range")
)

// Range is the span of one partition as percentages of the disk
type Range struct {
	Index int
	Start int
	End   int
}

func (r Range) String() string {
	return fmt.Sprintf("%d: %d%%-%d%%", r.Index, r.Start, r.End)
}

// Plan assigns a single partition covering the whole disk
func Plan(d *disk.Disk, filesystem string) (*disk.Disk, error) {
	return Split(d, filesystem, 100)
}

// Split assigns consecutive partitions of the given percentages
func Split(d *disk.Disk, filesystem string, percents ...int) (*disk.Disk, error) {
	if len(d.Partitions) > 0 {
		return nil, fmt.Errorf("%s: %w", d.Name, ErrNotEmpty)
	}
	planned := disk.NewDisk(d.Name, d.Type, d.Model, d.Size)
	for _, p := range percents {
		planned.AddPartition(disk.NewPartition(filesystem, p))
	}
	if _, err := Ranges(planned); err != nil {
		return nil, err
	}
	for i, p := range planned.Partitions {
		d.SetPartition(i, p)
	}
	return d, nil
}

// Ranges lays out the partitions of d back to back in index order
func Ranges(d *disk.Disk) ([]Range, error) {
	var out []Range
	start := 0
	for _, idx := range d.PartitionIndexes() {
		p := d.Partitions[idx]
		if p.Percent <= 0 || p.Percent > 100 {
			return nil, fmt.Errorf("%s partition %d is %d%%: %w", d.Name, idx, p.Percent, ErrInvalidPercent)
		}
		end := start + p.Percent
		if end > 100 {
			return nil, fmt.Errorf("%s partitions add up to %d%%: %w", d.Name, d.UsedPercent(), ErrOverAllocated)
		}
		out = append(out, Range{Index: idx, Start: start, End: end})
		start = end
	}
	return out, nil
}
