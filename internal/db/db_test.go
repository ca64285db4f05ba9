package db

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sigreer/jbodplan/internal/disk"
	"github.com/sigreer/jbodplan/internal/hba"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	d, err := New(filepath.Join(t.TempDir(), "nested", "inventory.db"))
	require.NoError(t, err)
	t.Cleanup(func() { d.Close() })
	return d
}

func testDeviceMap() *disk.DeviceMap {
	dm := disk.NewDeviceMap()

	n1 := disk.NewNode("node1")
	ssd := disk.NewDisk("sdb", disk.SSD, "MR9361-8i", 479559942144)
	ssd.Location = 1
	ssd.Serial = "SSDSN0001"
	n1.Disks["sdb"] = ssd
	n1.Disks["sdc"] = disk.NewDisk("sdc", disk.HDD, "JBOD2", 479559942144)
	dm.AddNode(n1)

	n2 := disk.NewNode("node2")
	n2.Virtual = true
	n2.Disks["vdb"] = disk.NewDisk("vdb", disk.HDD, "", 21474836480)
	dm.AddNode(n2)
	return dm
}

func TestNewMigratesOnce(t *testing.T) {
	path := filepath.Join(t.TempDir(), "inventory.db")
	d, err := New(path)
	require.NoError(t, err)
	assert.Equal(t, path, d.Path())
	require.NoError(t, d.Close())

	d, err = New(path)
	require.NoError(t, err)
	defer d.Close()

	var versions int
	require.NoError(t, d.conn.QueryRow("SELECT COUNT(*) FROM schema_version").Scan(&versions))
	assert.Equal(t, 2, versions)
}

func TestRecordRun(t *testing.T) {
	d := openTestDB(t)
	started := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	d.now = func() time.Time { return started.Add(5 * time.Second) }

	run, err := d.RecordRun(testDeviceMap(), []string{"node1", "node2"}, started)
	require.NoError(t, err)
	_, err = uuid.Parse(run.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, run.NodeCount)
	assert.Equal(t, 3, run.DiskCount)

	got, err := d.GetRun(run.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, []string{"node1", "node2"}, got.Hosts)
	assert.True(t, started.Equal(got.StartedAt))
	assert.True(t, started.Add(5*time.Second).Equal(got.FinishedAt))

	disks, err := d.GetRunDisks(run.ID)
	require.NoError(t, err)
	require.Len(t, disks, 3)
	assert.Equal(t, "sdb", disks[0].Name)
	assert.Equal(t, "SSD", disks[0].DiskType)
	assert.Equal(t, "SSDSN0001", disks[0].Serial)
	assert.Equal(t, 1, disks[0].Location)
	assert.Empty(t, disks[1].Serial)
	assert.Equal(t, "node2", disks[2].Node)
	assert.True(t, disks[2].Virtual)
}

func TestGetRunMissing(t *testing.T) {
	d := openTestDB(t)
	run, err := d.GetRun("does-not-exist")
	require.NoError(t, err)
	assert.Nil(t, run)
}

func TestGetRecentRuns(t *testing.T) {
	d := openTestDB(t)
	base := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	var ids []string
	for i := 0; i < 3; i++ {
		run, err := d.RecordRun(testDeviceMap(), []string{"node1"}, base.Add(time.Duration(i)*time.Hour))
		require.NoError(t, err)
		ids = append(ids, run.ID)
	}

	runs, err := d.GetRecentRuns(2)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, ids[2], runs[0].ID)
	assert.Equal(t, ids[1], runs[1].ID)
}

func TestRunDeviceMap(t *testing.T) {
	d := openTestDB(t)
	orig := testDeviceMap()
	orig.AddDefaultPartitions("gpfs")
	run, err := d.RecordRun(orig, []string{"node1", "node2"}, time.Now())
	require.NoError(t, err)

	dm, err := d.RunDeviceMap(run.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"node1", "node2"}, dm.SortedNodeNames())
	assert.True(t, dm.Nodes["node2"].Virtual)

	sdb := dm.Nodes["node1"].Disks["sdb"]
	assert.Equal(t, disk.SSD, sdb.Type)
	assert.Equal(t, int64(479559942144), sdb.Size)
	assert.Equal(t, "SSDSN0001", sdb.Serial)
	assert.Empty(t, sdb.Partitions)

	_, err = d.RunDeviceMap("does-not-exist")
	assert.Error(t, err)
}

func TestDriveInventory(t *testing.T) {
	d := openTestDB(t)
	first := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	d.now = func() time.Time { return first }
	_, err := d.RecordRun(testDeviceMap(), []string{"node1"}, first)
	require.NoError(t, err)

	// the drive moved to another device name
	later := first.Add(24 * time.Hour)
	d.now = func() time.Time { return later }
	dm := testDeviceMap()
	moved := dm.Nodes["node1"].Disks["sdb"]
	delete(dm.Nodes["node1"].Disks, "sdb")
	moved.Name = "sdd"
	dm.Nodes["node1"].Disks["sdd"] = moved
	run, err := d.RecordRun(dm, []string{"node1"}, later)
	require.NoError(t, err)

	drives, err := d.GetAllDrives()
	require.NoError(t, err)
	require.Len(t, drives, 1)

	drive, err := d.GetDriveBySerial("SSDSN0001")
	require.NoError(t, err)
	require.NotNil(t, drive)
	assert.Equal(t, "sdd", drive.DeviceName)
	assert.Equal(t, "SSD", drive.DriveType)
	assert.Equal(t, run.ID, drive.LastRunID)
	assert.True(t, first.Equal(drive.FirstSeen))
	assert.True(t, later.Equal(drive.LastSeen))

	unknown, err := d.GetDriveBySerial("NOPE")
	require.NoError(t, err)
	assert.Nil(t, unknown)
}

func TestPartitionEvents(t *testing.T) {
	d := openTestDB(t)
	base := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	batch := uuid.NewString()

	ok := &PartitionEvent{BatchID: batch, Node: "node1", Disk: "sdb", Partitions: 3, Duration: 1500 * time.Millisecond, Timestamp: base}
	require.NoError(t, d.RecordPartitionEvent(ok))
	assert.NotZero(t, ok.ID)
	assert.Equal(t, StatusSucceeded, ok.Status)

	failed := &PartitionEvent{BatchID: batch, Node: "node1", Disk: "sdc", Partitions: 1, Step: "mklabel", Error: "device busy", Timestamp: base.Add(time.Second)}
	require.NoError(t, d.RecordPartitionEvent(failed))
	assert.Equal(t, StatusFailed, failed.Status)

	require.NoError(t, d.RecordPartitionEvent(&PartitionEvent{BatchID: "other", Node: "node1", Disk: "sdb", Partitions: 1, Timestamp: base.Add(time.Hour)}))

	events, err := d.GetBatchEvents(batch)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "sdb", events[0].Disk)
	assert.Equal(t, 1500*time.Millisecond, events[0].Duration)
	assert.Empty(t, events[0].Step)
	assert.Equal(t, "mklabel", events[1].Step)
	assert.Equal(t, "device busy", events[1].Error)

	recent, err := d.GetRecentEvents(2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "other", recent[0].BatchID)
	assert.Equal(t, "sdc", recent[1].Disk)

	sdb, err := d.GetDiskEvents("node1", "sdb", 0)
	require.NoError(t, err)
	assert.Len(t, sdb, 2)
}

func TestControllerOutput(t *testing.T) {
	d := openTestDB(t)

	out, err := d.ControllerOutput("node1", hba.LSI)
	require.NoError(t, err)
	assert.Nil(t, out)

	fetched := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	require.NoError(t, d.SaveControllerOutput("node1", hba.LSI, &hba.Output{Logical: `{"Controllers":[]}`, Physical: "pd", FetchedAt: fetched}))
	require.NoError(t, d.SaveControllerOutput("node1", hba.Adaptec, &hba.Output{Logical: "ld", Physical: "pd"}))

	out, err = d.ControllerOutput("node1", hba.LSI)
	require.NoError(t, err)
	require.NotNil(t, out)
	assert.Equal(t, `{"Controllers":[]}`, out.Logical)
	assert.Equal(t, "pd", out.Physical)
	assert.True(t, fetched.Equal(out.FetchedAt))

	refetched := fetched.Add(2 * time.Hour)
	require.NoError(t, d.SaveControllerOutput("node1", hba.LSI, &hba.Output{Logical: "new", Physical: "new", FetchedAt: refetched}))
	out, err = d.ControllerOutput("node1", hba.LSI)
	require.NoError(t, err)
	assert.Equal(t, "new", out.Logical)
	assert.True(t, refetched.Equal(out.FetchedAt))

	out, err = d.ControllerOutput("node2", hba.LSI)
	require.NoError(t, err)
	assert.Nil(t, out)
}
