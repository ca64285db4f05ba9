package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sigreer/jbodplan/internal/db"
	"github.com/sigreer/jbodplan/internal/disk"
	"github.com/sigreer/jbodplan/internal/partition"
)

func testDeviceMap() *disk.DeviceMap {
	dm := disk.NewDeviceMap()
	n1 := disk.NewNode("node1")
	n1.OSDisks = []string{"sda"}
	n1.Disks["sdb"] = disk.NewDisk("sdb", disk.SSD, "JBOD1", 479559942144)
	n1.Disks["sdc"] = disk.NewDisk("sdc", disk.HDD, "JBOD2", 479559942144)
	n1.Disks["sdc"].AddPartition(disk.NewPartition("ext4", 100))
	dm.AddNode(n1)

	n2 := disk.NewNode("node2")
	n2.Disks["sdb"] = disk.NewDisk("sdb", disk.SSD, "JBOD1", 479559942144)
	n2.Disks["sdb"].Serial = "SSDSN0001"
	dm.AddNode(n2)
	return dm
}

func TestParseSplit(t *testing.T) {
	tests := []struct {
		in      string
		want    []int
		wantErr bool
	}{
		{in: "100", want: []int{100}},
		{in: "50,50", want: []int{50, 50}},
		{in: "30%, 30%, 40%", want: []int{30, 30, 40}},
		{in: "20,20", want: []int{20, 20}},
		{in: "60,50", wantErr: true},
		{in: "50,", wantErr: true},
		{in: "0,100", wantErr: true},
		{in: "half", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parseSplit(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := parseSplit("70,40")
	assert.ErrorIs(t, err, partition.ErrOverAllocated)
}

func TestPlanDeviceMap(t *testing.T) {
	dm := testDeviceMap()

	planned, skipped, err := planDeviceMap(dm, "gpfs", []int{50, 50})
	require.NoError(t, err)
	assert.Equal(t, 2, planned)
	assert.Equal(t, 1, skipped)

	sdb := dm.Nodes["node1"].Disks["sdb"]
	require.Len(t, sdb.Partitions, 2)
	assert.Equal(t, disk.NewPartition("gpfs", 50), sdb.Partitions[1])
	assert.Equal(t, disk.NewPartition("gpfs", 50), sdb.Partitions[2])

	sdc := dm.Nodes["node1"].Disks["sdc"]
	require.Len(t, sdc.Partitions, 1)
	assert.Equal(t, "ext4", sdc.Partitions[1].Filesystem)
}

func TestTypeCounts(t *testing.T) {
	assert.Equal(t, "2 SSD, 1 HDD", typeCounts(testDeviceMap()))
	assert.Equal(t, "0 SSD, 0 HDD", typeCounts(disk.NewDeviceMap()))
}

func TestPrintDeviceMap(t *testing.T) {
	var buf bytes.Buffer
	printDeviceMap(&buf, testDeviceMap())
	out := buf.String()

	assert.Contains(t, out, "node1 os: sda")
	assert.Contains(t, out, "node2")
	assert.Contains(t, out, "/dev/sdb")
	assert.Contains(t, out, "480 GB")
	assert.Contains(t, out, "SSDSN0001")
	assert.Contains(t, out, "1:ext4 100%")

	buf.Reset()
	printDeviceMap(&buf, disk.NewDeviceMap())
	assert.Equal(t, "No nodes.\n", buf.String())
}

func TestEventFromOutcome(t *testing.T) {
	ok := eventFromOutcome("batch-1", partition.Outcome{Node: "node1", Disk: "sdb", Partitions: 2, Duration: 1500 * time.Millisecond})
	assert.Equal(t, &db.PartitionEvent{BatchID: "batch-1", Node: "node1", Disk: "sdb", Partitions: 2, Duration: 1500 * time.Millisecond}, ok)

	failed := eventFromOutcome("batch-1", partition.Outcome{
		Node: "node2", Disk: "sdc", Partitions: 1,
		Err: &partition.DiskError{Node: "node2", Disk: "sdc", Step: partition.StepLabel, Err: errors.New("exit status 1")},
	})
	assert.Equal(t, partition.StepLabel, failed.Step)
	assert.Equal(t, "exit status 1", failed.Error)

	cancelled := eventFromOutcome("batch-1", partition.Outcome{Node: "node2", Disk: "sdd", Err: errors.New("context canceled")})
	assert.Empty(t, cancelled.Step)
	assert.Equal(t, "context canceled", cancelled.Error)
}

func TestPrintOutcomesSortsByDisk(t *testing.T) {
	var buf bytes.Buffer
	printOutcomes(&buf, []partition.Outcome{
		{Node: "node2", Disk: "sdb", Partitions: 1},
		{Node: "node1", Disk: "sdc", Partitions: 1, Err: &partition.DiskError{Step: partition.StepPartition, Err: errors.New("boom")}},
		{Node: "node1", Disk: "sdb", Partitions: 1},
	})
	out := buf.String()

	i1 := bytes.Index(buf.Bytes(), []byte("node1"))
	i2 := bytes.Index(buf.Bytes(), []byte("node2"))
	assert.Less(t, i1, i2)
	assert.Contains(t, out, "mkpart")
	assert.Contains(t, out, "boom")
	assert.Equal(t, 1, countFailed([]partition.Outcome{{}, {Err: errors.New("x")}}))
}

func TestSetupLogger(t *testing.T) {
	var buf bytes.Buffer
	log := setupLogger(&buf, "warn", "console")
	log.Info().Msg("hidden")
	log.Warn().Str("host", "node1").Msg("shown")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry), "non-terminal output stays JSON")
	assert.Equal(t, "shown", entry["message"])
	assert.Equal(t, "node1", entry["host"])

	buf.Reset()
	log = setupLogger(&buf, "bogus", "json")
	log.Debug().Msg("hidden")
	log.Info().Msg("shown")
	assert.Contains(t, buf.String(), `"level":"info"`)
	assert.NotContains(t, buf.String(), "hidden")
}

func writeConfig(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("inventory:\n  enabled: false\npartition:\n  filesystem: gpfs\n"), 0o644))
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var buf bytes.Buffer
	rootCmd.SetOut(&buf)
	rootCmd.SetErr(&buf)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return buf.String(), err
}

func TestPlanCommand(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeConfig(t, dir)
	in := filepath.Join(dir, "nodes.yaml")
	out := filepath.Join(dir, "plan.json")
	require.NoError(t, testDeviceMap().Save(in))

	_, err := execute(t, "--config", cfgPath, "plan", "-i", in, "-o", out, "--split", "30,70")
	require.NoError(t, err)

	dm, err := disk.Load(out)
	require.NoError(t, err)
	sdb := dm.Nodes["node2"].Disks["sdb"]
	require.Len(t, sdb.Partitions, 2)
	assert.Equal(t, disk.NewPartition("gpfs", 30), sdb.Partitions[1])
	assert.Equal(t, disk.NewPartition("gpfs", 70), sdb.Partitions[2])
	assert.Equal(t, "ext4", dm.Nodes["node1"].Disks["sdc"].Partitions[1].Filesystem)
	assert.Equal(t, "SSDSN0001", sdb.Serial)
}

func TestPartitionCommandRequiresConfirmation(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeConfig(t, dir)
	planFile := filepath.Join(dir, "plan.yaml")
	require.NoError(t, testDeviceMap().Save(planFile))

	output, err := execute(t, "--config", cfgPath, "partition", "-p", planFile)
	require.NoError(t, err)
	assert.Contains(t, output, "This will erase 3 disks on 2 nodes")
	assert.Contains(t, output, "/dev/sdc")
}
