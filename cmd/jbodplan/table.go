package main

import (
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/sigreer/jbodplan/internal/partition"
	"github.com/sigreer/jbodplan/internal/runner"
)

var tableCmd = &cobra.Command{
	Use:   "table HOST DEVICE",
	Short: "Show the partition table of a disk",
	Example: `  jbodplan table node1 /dev/sdb
  jbodplan table localhost /dev/sdc --free --unit GB`,
	Args: cobra.ExactArgs(2),
	RunE: runTable,
}

func init() {
	tableCmd.Flags().Bool("free", false, "include free space")
	tableCmd.Flags().String("unit", "%", "parted unit for start, end and size")
	tableCmd.Flags().Bool("json", false, "print the table as JSON")
}

func runTable(cmd *cobra.Command, args []string) error {
	free, _ := cmd.Flags().GetBool("free")
	unit, _ := cmd.Flags().GetString("unit")
	jsonOut, _ := cmd.Flags().GetBool("json")
	target := runner.Target{Host: args[0], User: cfg.User}
	device := args[1]

	r, closeRunner, err := newRunner()
	if err != nil {
		return err
	}
	defer closeRunner()

	ctx := cmd.Context()
	t, err := partition.ReadTable(ctx, r, target, device, partition.ReadOptions{
		Unit:         unit,
		Free:         free,
		ResolveTypes: true,
		Logger:       logger,
	})
	if errors.Is(err, partition.ErrNoLabel) {
		fmt.Fprintf(cmd.OutOrStdout(), "%s on %s has no partition table.\n", device, args[0])
		return nil
	}
	if err != nil {
		return err
	}

	diskType, err := partition.RotationalType(ctx, r, target, device)
	if err != nil {
		return err
	}

	if jsonOut {
		return writeJSON(cmd.OutOrStdout(), t)
	}
	title := fmt.Sprintf("%s:%s %s %s %s (%s)", args[0], t.Device, t.Model, t.Size, diskType.Name(), t.Label)
	printPartitionTable(cmd.OutOrStdout(), title, t, unit)
	return nil
}

func printPartitionTable(w io.Writer, title string, t *partition.Table, unit string) {
	num := func(f float64) string {
		return strconv.FormatFloat(f, 'f', -1, 64) + unit
	}
	var rows []table.Row
	for _, p := range t.Partitions {
		if p.Free {
			rows = append(rows, table.Row{"-", "free", num(p.Start), num(p.End), num(p.Size), "-", "-", "-"})
			continue
		}
		typ := "-"
		if p.TypeKnown {
			typ = p.Type.String()
		}
		rows = append(rows, table.Row{p.Number, p.Device, num(p.Start), num(p.End), num(p.Size), typ, dash(p.Filesystem), dash(p.Flags)})
	}
	printTable(w, title, table.Row{"#", "Device", "Start", "End", "Size", "Type", "Filesystem", "Flags"}, rows)
}
