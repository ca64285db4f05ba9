package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sigreer/jbodplan/internal/partition"
	"github.com/sigreer/jbodplan/internal/runner"
)

var wipeCmd = &cobra.Command{
	Use:   "wipe HOST DEVICE",
	Short: "Delete every partition of a disk",
	Long: `Wipe removes all partitions from the partition table of DEVICE and asks
the kernel to re-read it. The partition table itself is kept.`,
	Args: cobra.ExactArgs(2),
	RunE: runWipe,
}

func init() {
	wipeCmd.Flags().Bool("yes", false, "delete the partitions")
}

func runWipe(cmd *cobra.Command, args []string) error {
	yes, _ := cmd.Flags().GetBool("yes")
	target := runner.Target{Host: args[0], User: cfg.User}
	device := args[1]
	out := cmd.OutOrStdout()

	r, closeRunner, err := newRunner()
	if err != nil {
		return err
	}
	defer closeRunner()

	ctx := cmd.Context()
	t, err := partition.ReadTable(ctx, r, target, device, partition.ReadOptions{Logger: logger})
	if errors.Is(err, partition.ErrNoLabel) {
		fmt.Fprintf(out, "%s on %s has no partition table.\n", device, args[0])
		return nil
	}
	if err != nil {
		return err
	}

	numbers := t.Numbers()
	if len(numbers) == 0 {
		fmt.Fprintf(out, "%s on %s has no partitions.\n", device, args[0])
		return nil
	}
	if !yes {
		fmt.Fprintf(out, "This will delete partitions %v of %s on %s. Re-run with --yes to continue.\n", numbers, device, args[0])
		return nil
	}

	if err := partition.DeletePartitions(ctx, r, target, device, numbers...); err != nil {
		return err
	}
	if err := partition.Refresh(ctx, r, target, device); err != nil {
		return err
	}
	logger.Info().Str("host", args[0]).Str("device", device).Ints("partitions", numbers).Msg("partitions deleted")
	fmt.Fprintf(out, "Deleted %d partitions from %s on %s.\n", len(numbers), device, args[0])
	return nil
}
