package main

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/sigreer/jbodplan/internal/db"
	"github.com/sigreer/jbodplan/internal/disk"
	"github.com/sigreer/jbodplan/internal/partition"
)

var partitionCmd = &cobra.Command{
	Use:   "partition",
	Short: "Apply a partition plan to its nodes",
	Long: `Partition applies a plan written by 'jbodplan plan'. For every planned
disk it unmounts existing filesystems, removes their /etc/fstab entries
and mountpoints, writes a new partition table and creates the planned
partitions.

This destroys all data on the planned disks. Without --yes the plan is
only printed.`,
	Args: cobra.NoArgs,
	RunE: runPartition,
}

func init() {
	partitionCmd.Flags().StringP("plan", "p", "", "plan file to apply (required)")
	partitionCmd.Flags().String("user", "", "user to run parted as (default from config)")
	partitionCmd.Flags().Bool("yes", false, "partition the disks")
	_ = partitionCmd.MarkFlagRequired("plan")
}

func runPartition(cmd *cobra.Command, args []string) error {
	planFile, _ := cmd.Flags().GetString("plan")
	user, _ := cmd.Flags().GetString("user")
	yes, _ := cmd.Flags().GetBool("yes")
	if user == "" {
		user = cfg.User
	}

	dm, err := disk.Load(planFile)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if !yes {
		printPlanSummary(out, dm)
		fmt.Fprintf(out, "\nThis will erase %d disks on %d nodes. Re-run with --yes to continue.\n", dm.DiskCount(), len(dm.Nodes))
		return nil
	}

	r, closeRunner, err := newRunner()
	if err != nil {
		return err
	}
	defer closeRunner()

	opts := partition.Options{
		Concurrency: cfg.Partition.Concurrency,
		Label:       cfg.Partition.Label,
		Alignment:   cfg.Partition.Alignment,
	}

	var results []partition.Outcome
	batchID := uuid.NewString()
	var database *db.DB
	if cfg.Inventory.Enabled {
		if database, err = openDB(); err != nil {
			return err
		}
		defer database.Close()
	}
	opts.Observer = func(o partition.Outcome) {
		results = append(results, o)
		if database == nil {
			return
		}
		if err := database.RecordPartitionEvent(eventFromOutcome(batchID, o)); err != nil {
			logger.Warn().Err(err).Str("node", o.Node).Str("disk", o.Disk).Msg("failed to record partition event")
		}
	}

	logger.Info().Str("batch", batchID).Int("disks", dm.DiskCount()).Msg("partitioning")
	execErr := partition.NewExecutor(r, opts, logger).Execute(cmd.Context(), dm, user)

	printOutcomes(out, results)
	if execErr != nil {
		return fmt.Errorf("partitioning failed for %d of %d disks", countFailed(results), len(results))
	}
	return nil
}

// eventFromOutcome converts an executor outcome into an inventory event
func eventFromOutcome(batchID string, o partition.Outcome) *db.PartitionEvent {
	ev := &db.PartitionEvent{
		BatchID:    batchID,
		Node:       o.Node,
		Disk:       o.Disk,
		Partitions: o.Partitions,
		Duration:   o.Duration,
	}
	if o.Err != nil {
		ev.Error = o.Err.Error()
		var diskErr *partition.DiskError
		if errors.As(o.Err, &diskErr) {
			ev.Step = diskErr.Step
			ev.Error = diskErr.Err.Error()
		}
	}
	return ev
}

func countFailed(results []partition.Outcome) int {
	n := 0
	for _, o := range results {
		if o.Err != nil {
			n++
		}
	}
	return n
}

func printOutcomes(w io.Writer, results []partition.Outcome) {
	sort.Slice(results, func(i, j int) bool {
		if results[i].Node != results[j].Node {
			return results[i].Node < results[j].Node
		}
		return results[i].Disk < results[j].Disk
	})
	var rows []table.Row
	for _, o := range results {
		status, step, msg := "ok", "-", "-"
		if o.Err != nil {
			status, msg = "failed", o.Err.Error()
			var diskErr *partition.DiskError
			if errors.As(o.Err, &diskErr) {
				step, msg = diskErr.Step, diskErr.Err.Error()
			}
		}
		rows = append(rows, table.Row{o.Node, "/dev/" + o.Disk, o.Partitions, status, step, o.Duration.Round(time.Millisecond).String(), msg})
	}
	printTable(w, "", table.Row{"Node", "Device", "Partitions", "Status", "Step", "Duration", "Error"}, rows)
}
