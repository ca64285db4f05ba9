package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/sigreer/jbodplan/internal/db"
)

var inventoryCmd = &cobra.Command{
	Use:   "inventory",
	Short: "Query the discovery and partitioning inventory",
	Long: `Query the inventory database.

Every discovery run is recorded with the disks it found, physical drives
are tracked by serial number across runs, and every partitioned disk
leaves a partition event.`,
}

var inventoryRunsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List recent discovery runs",
	Args:  cobra.NoArgs,
	RunE:  runInventoryRuns,
}

var inventoryShowCmd = &cobra.Command{
	Use:   "show RUN",
	Short: "Show the disks found by a discovery run",
	Long: `Show the disks found by a discovery run. With -o the run is written
as a device map that 'jbodplan plan' accepts.`,
	Args: cobra.ExactArgs(1),
	RunE: runInventoryShow,
}

var inventoryEventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Show recent partition events",
	Args:  cobra.NoArgs,
	RunE:  runInventoryEvents,
}

var inventoryDrivesCmd = &cobra.Command{
	Use:   "drives [SERIAL]",
	Short: "List known physical drives",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runInventoryDrives,
}

func init() {
	inventoryCmd.AddCommand(inventoryRunsCmd)
	inventoryCmd.AddCommand(inventoryShowCmd)
	inventoryCmd.AddCommand(inventoryEventsCmd)
	inventoryCmd.AddCommand(inventoryDrivesCmd)

	inventoryRunsCmd.Flags().Int("limit", 20, "maximum number of runs to show")

	inventoryShowCmd.Flags().StringP("output", "o", "", "write the run as a device map (.yaml or .json)")

	inventoryEventsCmd.Flags().Int("limit", 50, "maximum number of events to show")
	inventoryEventsCmd.Flags().String("batch", "", "only show events of one partition batch")
	inventoryEventsCmd.Flags().String("disk", "", "only show events of NODE:DISK")

	inventoryDrivesCmd.Flags().Bool("json", false, "output as JSON")
}

func runInventoryRuns(cmd *cobra.Command, args []string) error {
	limit, _ := cmd.Flags().GetInt("limit")
	database, err := openDB()
	if err != nil {
		return err
	}
	defer database.Close()

	runs, err := database.GetRecentRuns(limit)
	if err != nil {
		return err
	}
	printRuns(cmd.OutOrStdout(), runs)
	return nil
}

func printRuns(w io.Writer, runs []*db.Run) {
	if len(runs) == 0 {
		fmt.Fprintln(w, "No discovery runs recorded.")
		return
	}
	var rows []table.Row
	for _, r := range runs {
		rows = append(rows, table.Row{
			r.ID, r.StartedAt.Local().Format("2006-01-02 15:04:05"),
			r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond).String(),
			r.NodeCount, r.DiskCount, strings.Join(r.Hosts, ","),
		})
	}
	printTable(w, "", table.Row{"Run", "Started", "Duration", "Nodes", "Disks", "Hosts"}, rows)
}

func runInventoryShow(cmd *cobra.Command, args []string) error {
	output, _ := cmd.Flags().GetString("output")
	database, err := openDB()
	if err != nil {
		return err
	}
	defer database.Close()

	run, err := database.GetRun(args[0])
	if err != nil {
		return err
	}
	if run == nil {
		return fmt.Errorf("discovery run %s not found", args[0])
	}
	dm, err := database.RunDeviceMap(run.ID)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if output != "" {
		if err := dm.Save(output); err != nil {
			return err
		}
		fmt.Fprintf(out, "Wrote %d disks on %d nodes to %s\n", dm.DiskCount(), len(dm.Nodes), output)
		return nil
	}
	fmt.Fprintf(out, "Run %s started %s: %s\n", run.ID, humanize.Time(run.StartedAt), typeCounts(dm))
	printDeviceMap(out, dm)
	return nil
}

func runInventoryEvents(cmd *cobra.Command, args []string) error {
	limit, _ := cmd.Flags().GetInt("limit")
	batch, _ := cmd.Flags().GetString("batch")
	diskFilter, _ := cmd.Flags().GetString("disk")

	database, err := openDB()
	if err != nil {
		return err
	}
	defer database.Close()

	var events []*db.PartitionEvent
	switch {
	case batch != "":
		events, err = database.GetBatchEvents(batch)
	case diskFilter != "":
		node, name, ok := strings.Cut(diskFilter, ":")
		if !ok {
			return fmt.Errorf("--disk must be NODE:DISK, got %q", diskFilter)
		}
		events, err = database.GetDiskEvents(node, strings.TrimPrefix(name, "/dev/"), limit)
	default:
		events, err = database.GetRecentEvents(limit)
	}
	if err != nil {
		return err
	}
	printEvents(cmd.OutOrStdout(), events)
	return nil
}

func printEvents(w io.Writer, events []*db.PartitionEvent) {
	if len(events) == 0 {
		fmt.Fprintln(w, "No partition events recorded.")
		return
	}
	var rows []table.Row
	for _, e := range events {
		rows = append(rows, table.Row{
			e.Timestamp.Local().Format("2006-01-02 15:04:05"), e.BatchID, e.Node, "/dev/" + e.Disk,
			e.Partitions, e.Status, dash(e.Step), dash(e.Error),
		})
	}
	printTable(w, "", table.Row{"Time", "Batch", "Node", "Device", "Partitions", "Status", "Step", "Error"}, rows)
}

func runInventoryDrives(cmd *cobra.Command, args []string) error {
	jsonOut, _ := cmd.Flags().GetBool("json")
	database, err := openDB()
	if err != nil {
		return err
	}
	defer database.Close()

	var drives []*db.DriveRecord
	if len(args) == 1 {
		drive, err := database.GetDriveBySerial(args[0])
		if err != nil {
			return err
		}
		if drive == nil {
			return fmt.Errorf("drive %s not found", args[0])
		}
		drives = append(drives, drive)
	} else if drives, err = database.GetAllDrives(); err != nil {
		return err
	}

	if jsonOut {
		return writeJSON(cmd.OutOrStdout(), drives)
	}
	printDrives(cmd.OutOrStdout(), drives)
	return nil
}

func printDrives(w io.Writer, drives []*db.DriveRecord) {
	if len(drives) == 0 {
		fmt.Fprintln(w, "No drives in inventory.")
		return
	}
	var rows []table.Row
	for _, d := range drives {
		rows = append(rows, table.Row{
			d.Serial, d.Node, "/dev/" + d.DeviceName, d.DriveType, dash(d.Model),
			humanize.Bytes(uint64(d.SizeBytes)), d.Location, humanize.Time(d.LastSeen),
		})
	}
	printTable(w, "", table.Row{"Serial", "Node", "Device", "Type", "Model", "Size", "Location", "Last Seen"}, rows)
}
