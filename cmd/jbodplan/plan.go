package main

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/sigreer/jbodplan/internal/disk"
	"github.com/sigreer/jbodplan/internal/partition"
)

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Plan partitions for the disks of a discovery",
	Long: `Plan reads a device map written by 'jbodplan discover -o' and assigns
partitions to every disk that has none yet. By default each disk gets one
partition spanning the whole disk; --split divides it by percentage.

Disks that already carry planned partitions are left as they are.`,
	Example: `  jbodplan plan -i nodes.yaml -o plan.yaml
  jbodplan plan -i nodes.yaml -o plan.yaml --filesystem ext4 --split 30,30,40`,
	Args: cobra.NoArgs,
	RunE: runPlan,
}

func init() {
	planCmd.Flags().StringP("input", "i", "", "device map from 'jbodplan discover -o' (required)")
	planCmd.Flags().StringP("output", "o", "", "plan file to write (default: overwrite the input)")
	planCmd.Flags().String("filesystem", "", "filesystem label of new partitions (default from config)")
	planCmd.Flags().String("split", "", "comma separated partition sizes in percent, e.g. 50,50")
	_ = planCmd.MarkFlagRequired("input")
}

func runPlan(cmd *cobra.Command, args []string) error {
	input, _ := cmd.Flags().GetString("input")
	output, _ := cmd.Flags().GetString("output")
	filesystem, _ := cmd.Flags().GetString("filesystem")
	split, _ := cmd.Flags().GetString("split")
	if output == "" {
		output = input
	}
	if filesystem == "" {
		filesystem = cfg.Partition.Filesystem
	}

	percents := []int{100}
	if split != "" {
		var err error
		if percents, err = parseSplit(split); err != nil {
			return err
		}
	}

	dm, err := disk.Load(input)
	if err != nil {
		return err
	}
	planned, skipped, err := planDeviceMap(dm, filesystem, percents)
	if err != nil {
		return err
	}
	if err := dm.Save(output); err != nil {
		return err
	}

	logger.Info().Int("planned", planned).Int("skipped", skipped).Str("output", output).Msg("plan written")
	printPlanSummary(cmd.OutOrStdout(), dm)
	return nil
}

// planDeviceMap splits every disk without partitions. Disks that already
// have a plan are counted as skipped.
func planDeviceMap(dm *disk.DeviceMap, filesystem string, percents []int) (planned, skipped int, err error) {
	for _, nodeName := range dm.SortedNodeNames() {
		node := dm.Nodes[nodeName]
		for _, name := range node.SortedDiskNames() {
			_, err := partition.Split(node.Disks[name], filesystem, percents...)
			switch {
			case errors.Is(err, partition.ErrNotEmpty):
				skipped++
			case err != nil:
				return planned, skipped, fmt.Errorf("%s: %w", nodeName, err)
			default:
				planned++
			}
		}
	}
	return planned, skipped, nil
}

// parseSplit parses "30,30,40" into partition percentages
func parseSplit(s string) ([]int, error) {
	var out []int
	total := 0
	for _, field := range strings.Split(s, ",") {
		field = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(field), "%"))
		n, err := strconv.Atoi(field)
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("invalid partition size %q in --split", field)
		}
		total += n
		out = append(out, n)
	}
	if total > 100 {
		return nil, fmt.Errorf("--split %s adds up to %d%%: %w", s, total, partition.ErrOverAllocated)
	}
	return out, nil
}

func printPlanSummary(w io.Writer, dm *disk.DeviceMap) {
	var rows []table.Row
	for _, nodeName := range dm.SortedNodeNames() {
		node := dm.Nodes[nodeName]
		for _, name := range node.SortedDiskNames() {
			d := node.Disks[name]
			rows = append(rows, table.Row{nodeName, "/dev/" + d.Name, d.Type.Name(), partitionSummary(d), fmt.Sprintf("%d%%", d.UsedPercent())})
		}
	}
	printTable(w, "", table.Row{"Node", "Device", "Type", "Partitions", "Used"}, rows)
}
