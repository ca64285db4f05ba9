package reconcile

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sigreer/jbodplan/internal/blockdev"
	"github.com/sigreer/jbodplan/internal/disk"
	"github.com/sigreer/jbodplan/internal/hba"
)

func readFixture(t *testing.T, name string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join("testdata", name))
	require.NoError(t, err)
	return string(data)
}

func countTypes(disks map[string]*disk.Disk) (ssd, hdd int) {
	for _, d := range disks {
		if d.Type == disk.SSD {
			ssd++
		} else {
			hdd++
		}
	}
	return ssd, hdd
}

func loadDisks(t *testing.T, name string) map[string]*disk.Disk {
	t.Helper()
	disks, err := disk.ParseLsblk(readFixture(t, name), disk.DefaultParseOptions())
	require.NoError(t, err)
	require.Len(t, disks, 11)
	return disks
}

func TestAdaptecFixture(t *testing.T) {
	disks := loadDisks(t, "lsblk_adaptec.output")
	info, err := hba.NewAdaptecParser(zerolog.Nop()).Parse(readFixture(t, "arcconf_ld.output"), readFixture(t, "arcconf_pd.output"))
	require.NoError(t, err)

	ssd, hdd := countTypes(disks)
	assert.Equal(t, 0, ssd)
	assert.Equal(t, 11, hdd)

	r := New(zerolog.Nop())
	var contract *ContractError
	assert.ErrorAs(t, r.Adaptec(disks, nil), &contract)
	assert.ErrorAs(t, r.Adaptec(disks, &hba.ControllerInfo{Vendor: hba.LSI}), &contract)

	require.NoError(t, r.Adaptec(disks, info))
	ssd, hdd = countTypes(disks)
	assert.Equal(t, 6, ssd)
	assert.Equal(t, 5, hdd)
	assert.Equal(t, "SSDSN0001", disks["sdb"].Serial)
	assert.Equal(t, "JBOD1", disks["sdb"].Model)

	// idempotent
	require.NoError(t, r.Adaptec(disks, info))
	ssd, hdd = countTypes(disks)
	assert.Equal(t, 6, ssd)
	assert.Equal(t, 5, hdd)
}

func TestLSIFixture(t *testing.T) {
	disks := loadDisks(t, "lsblk_lsi.output")
	info, err := hba.NewLSIParser(zerolog.Nop()).Parse(readFixture(t, "storcli_ld.json"), readFixture(t, "storcli_pd.json"))
	require.NoError(t, err)
	mapping, err := blockdev.Parse(readFixture(t, "block_device_mapping.output"))
	require.NoError(t, err)

	r := New(zerolog.Nop())
	var contract *ContractError
	assert.ErrorAs(t, r.LSI(disks, nil, mapping), &contract)
	assert.ErrorAs(t, r.LSI(disks, &hba.ControllerInfo{Vendor: hba.Adaptec}, mapping), &contract)
	assert.ErrorAs(t, r.LSI(disks, info, nil), &contract)

	require.NoError(t, r.LSI(disks, info, mapping))
	ssd, hdd := countTypes(disks)
	assert.Equal(t, 6, ssd)
	assert.Equal(t, 5, hdd)

	d := disks["sdd"]
	assert.Equal(t, "JBOD3", d.Model)
	assert.Equal(t, 3, d.Location)
	assert.Equal(t, disk.SSD, d.Type)
	assert.Equal(t, "SSDSN0003", d.Serial)

	before := make(map[string]disk.Disk, len(disks))
	for name, d := range disks {
		before[name] = *d
	}
	require.NoError(t, r.LSI(disks, info, mapping))
	for name, d := range disks {
		assert.Equal(t, before[name], *d, name)
	}
}

func TestAdaptecSingleVolume(t *testing.T) {
	info, err := hba.NewAdaptecParser(zerolog.Nop()).Parse(`Controllers found: 1
Logical device number 0
   Logical device name : JBOD1
   Segment 0 : Present (Controller:1,Enclosure:0,Slot:0) SN1`, `Device #0
   Device is a Hard drive
   Serial number : SN1
   SSD : Yes`)
	require.NoError(t, err)

	disks := map[string]*disk.Disk{"sdb": disk.NewDisk("sdb", disk.HDD, "JBOD1", 20000000000)}
	require.NoError(t, New(zerolog.Nop()).Adaptec(disks, info))
	assert.Equal(t, disk.SSD, disks["sdb"].Type)
}

func TestMissingMatchesKeepDisk(t *testing.T) {
	info, err := hba.NewLSIParser(zerolog.Nop()).Parse(
		`{"Controllers":[{"Command Status":{"Controller":0,"Status":"Success"},"Response Data":{
			"/c0/v0":[{"Name":"JBOD0"}],"PDs for VD 0":[{"DID":8}]}}]}`,
		`{"Controllers":[{"Command Status":{"Controller":0,"Status":"Success"},"Response Data":{
			"Drive /c0/e252/s0":[{"DID":8,"Med":"SSD"}],
			"Drive /c0/e252/s0 - Detailed Information":{"Drive /c0/e252/s0 Device attributes":{"SN":"A"}}}}]}`)
	require.NoError(t, err)
	mapping, err := blockdev.Parse(`/sys/bus/scsi/devices/0:2:0:0/block: sdb
/sys/bus/scsi/devices/0:2:4:0/block: sdc`)
	require.NoError(t, err)

	disks := map[string]*disk.Disk{
		"sdb": disk.NewDisk("sdb", disk.HDD, "MR9361-8i", 1),
		"sdc": disk.NewDisk("sdc", disk.HDD, "MR9361-8i", 1), // no volume at target 4
		"sdd": disk.NewDisk("sdd", disk.HDD, "MR9361-8i", 1), // not in mapping
		"sde": disk.NewDisk("sde", disk.SSD, "INTEL SSD", 1), // not controller managed
	}
	require.NoError(t, New(zerolog.Nop()).LSI(disks, info, mapping))

	assert.Equal(t, "JBOD0", disks["sdb"].Model)
	assert.Equal(t, disk.SSD, disks["sdb"].Type)
	assert.Equal(t, "MR9361-8i", disks["sdc"].Model)
	assert.Equal(t, disk.HDD, disks["sdc"].Type)
	assert.Equal(t, "MR9361-8i", disks["sdd"].Model)
	assert.Equal(t, disk.SSD, disks["sde"].Type)
}

func TestApply(t *testing.T) {
	r := New(zerolog.Nop())
	disks := loadDisks(t, "lsblk_adaptec.output")
	info, err := hba.NewAdaptecParser(zerolog.Nop()).Parse(readFixture(t, "arcconf_ld.output"), readFixture(t, "arcconf_pd.output"))
	require.NoError(t, err)

	var contract *ContractError
	assert.ErrorAs(t, r.Apply(disks, nil, nil), &contract)
	assert.ErrorAs(t, r.Apply(disks, &hba.ControllerInfo{Vendor: hba.LSI}, nil), &contract)

	require.NoError(t, r.Apply(disks, info, nil))
	ssd, _ := countTypes(disks)
	assert.Equal(t, 6, ssd)
}

func TestVendors(t *testing.T) {
	mk := func(models ...string) map[string]*disk.Disk {
		out := make(map[string]*disk.Disk)
		for i, m := range models {
			name := string(rune('b' + i))
			out[name] = disk.NewDisk(name, disk.HDD, m, 1)
		}
		return out
	}

	assert.Empty(t, Vendors(mk("ST500NM0011")))
	assert.Equal(t, []hba.Vendor{hba.Adaptec}, Vendors(mk("JBOD1", "ST500")))
	assert.Equal(t, []hba.Vendor{hba.LSI, hba.Adaptec}, Vendors(mk("JBOD1", "MR9361-8i")))

	v, ok := Vendor(mk("JBOD1", "MR9361-8i"))
	require.True(t, ok)
	assert.Equal(t, hba.LSI, v)

	_, ok = Vendor(mk("ST500"))
	assert.False(t, ok)
}
