package main

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/sigreer/jbodplan/internal/disk"
)

func newTable(w io.Writer) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.Style().Format.Header = text.FormatDefault
	return t
}

func printTable(w io.Writer, title string, header table.Row, rows []table.Row) {
	t := newTable(w)
	if title != "" {
		t.SetTitle(title)
	}
	t.AppendHeader(header)
	t.AppendRows(rows)
	t.Render()
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func partitionSummary(d *disk.Disk) string {
	if len(d.Partitions) == 0 {
		return "-"
	}
	var parts []string
	for _, i := range d.PartitionIndexes() {
		p := d.Partitions[i]
		parts = append(parts, fmt.Sprintf("%d:%s %d%%", i, p.Filesystem, p.Percent))
	}
	return strings.Join(parts, ", ")
}

// printDeviceMap renders one table per node
func printDeviceMap(w io.Writer, dm *disk.DeviceMap) {
	if len(dm.Nodes) == 0 {
		fmt.Fprintln(w, "No nodes.")
		return
	}
	for _, nodeName := range dm.SortedNodeNames() {
		node := dm.Nodes[nodeName]
		title := nodeName
		if node.Virtual {
			title += " (virtual)"
		}
		if len(node.OSDisks) > 0 {
			title += " os: " + strings.Join(node.OSDisks, ",")
		}

		var rows []table.Row
		for _, name := range node.SortedDiskNames() {
			d := node.Disks[name]
			rows = append(rows, table.Row{
				"/dev/" + d.Name, d.Type.Name(), dash(d.Model), humanize.Bytes(uint64(d.Size)),
				strconv.Itoa(d.Location), dash(d.Serial), partitionSummary(d),
			})
		}
		printTable(w, title, table.Row{"Device", "Type", "Model", "Size", "Location", "Serial", "Partitions"}, rows)
	}
}

// typeCounts returns "6 SSD, 5 HDD" style totals over all nodes
func typeCounts(dm *disk.DeviceMap) string {
	counts := make(map[disk.Type]int)
	for _, n := range dm.Nodes {
		for _, d := range n.Disks {
			counts[d.Type]++
		}
	}
	types := disk.Types()
	sort.Slice(types, func(i, j int) bool { return types[i] > types[j] })
	var parts []string
	for _, t := range types {
		parts = append(parts, fmt.Sprintf("%d %s", counts[t], t.Name()))
	}
	return strings.Join(parts, ", ")
}
