package partition

import (
	"context"
	"fmt"
	"strconv"

	"github.com/sigreer/jbodplan/internal/disk"
	"github.com/sigreer/jbodplan/internal/runner"
)

// CreateLabel writes a new, empty partition table of the given type
func CreateLabel(ctx context.Context, r runner.Runner, target runner.Target, device, label string) error {
	_, err := runner.Output(ctx, r, target, fmt.Sprintf("Could not partition '%s'", device),
		"parted", "-s", device, "mklabel", label)
	return err
}

// CreatePartition creates a primary partition spanning start% to end%
func CreatePartition(ctx context.Context, r runner.Runner, target runner.Target, device string, start, end int, alignment string) error {
	_, err := runner.Output(ctx, r, target, fmt.Sprintf("Could not create partition on '%s'", device),
		"parted", "-s", "-a", alignment, device, "mkpart", disk.Primary.String(),
		strconv.Itoa(start)+"%", strconv.Itoa(end)+"%")
	return err
}

// DeletePartitions removes the numbered partitions in a single parted call
func DeletePartitions(ctx context.Context, r runner.Runner, target runner.Target, device string, numbers ...int) error {
	if len(numbers) == 0 {
		return nil
	}
	args := []string{"parted", "-s", device}
	for _, n := range numbers {
		args = append(args, "rm", strconv.Itoa(n))
	}
	_, err := runner.Output(ctx, r, target, fmt.Sprintf("Could not delete partitions %v on '%s'", numbers, device), args...)
	return err
}

// Refresh asks the kernel to re-read the partition tables of devices
func Refresh(ctx context.Context, r runner.Runner, target runner.Target, devices ...string) error {
	args := append([]string{"partprobe"}, devices...)
	_, err := runner.Output(ctx, r, target, fmt.Sprintf("Could not refresh partition table for devices: %v", devices), args...)
	return err
}

// RotationalType asks lsblk whether device is rotational
func RotationalType(ctx context.Context, r runner.Runner, target runner.Target, device string) (disk.Type, error) {
	out, err := runner.Output(ctx, r, target, fmt.Sprintf("Could not determine the type of the disk: %s", device),
		"lsblk", "-dnr", "-o", "ROTA", device)
	if err != nil {
		return disk.HDD, err
	}
	if out == "0" {
		return disk.SSD, nil
	}
	return disk.HDD, nil
}
