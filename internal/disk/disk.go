// Package disk models the disks of a set of nodes and the partitions
// planned on them.
package disk

import (
	"sort"
)

// Partition is a planned partition sized as a percentage of its disk
type Partition struct {
	Filesystem string `json:"filesystem" yaml:"filesystem"`
	Percent    int    `json:"percent" yaml:"percent"`
}

// NewPartition returns a partition taking percent of the disk
func NewPartition(filesystem string, percent int) *Partition {
	return &Partition{Filesystem: filesystem, Percent: percent}
}

// ExistingPartition is a partition found on the disk during discovery
type ExistingPartition struct {
	Name       string `json:"name" yaml:"name"`
	Size       int64  `json:"size" yaml:"size"`
	Mountpoint string `json:"mountpoint,omitempty" yaml:"mountpoint,omitempty"`
	FSType     string `json:"fstype,omitempty" yaml:"fstype,omitempty"`
}

// Disk is a Linux block device and its planned partitions
type Disk struct {
	Name  string `json:"name" yaml:"name"`
	Type  Type   `json:"type" yaml:"type"`
	Model string `json:"model" yaml:"model"`
	Size  int64  `json:"size" yaml:"size"`

	// Location is the SCSI target id for controller managed volumes
	Location int    `json:"location" yaml:"location"`
	Serial   string `json:"serial,omitempty" yaml:"serial,omitempty"`

	// Partitions is keyed by partition index starting at 1
	Partitions map[int]*Partition  `json:"partitions" yaml:"partitions"`
	NSDs       []string            `json:"nsd_list,omitempty" yaml:"nsd_list,omitempty"`
	Existing   []ExistingPartition `json:"existing,omitempty" yaml:"existing,omitempty"`
}

// NewDisk creates a disk without partitions
func NewDisk(name string, typ Type, model string, size int64) *Disk {
	return &Disk{
		Name:       name,
		Type:       typ,
		Model:      model,
		Size:       size,
		Partitions: make(map[int]*Partition),
	}
}

// AddPartition appends p at the next index
func (d *Disk) AddPartition(p *Partition) *Disk {
	return d.SetPartition(len(d.Partitions)+1, p)
}

// SetPartition places p at index, replacing any previous partition
func (d *Disk) SetPartition(index int, p *Partition) *Disk {
	if d.Partitions == nil {
		d.Partitions = make(map[int]*Partition)
	}
	d.Partitions[index] = p
	return d
}

// UsedPercent sums the percentages of all partitions
func (d *Disk) UsedPercent() int {
	total := 0
	for _, p := range d.Partitions {
		total += p.Percent
	}
	return total
}

// HasSpaceLeft reports whether the partitions leave part of the disk unused
func (d *Disk) HasSpaceLeft() bool {
	if len(d.Partitions) == 0 {
		return true
	}
	return d.UsedPercent() < 100
}

// PartitionIndexes returns partition indexes in ascending order
func (d *Disk) PartitionIndexes() []int {
	idx := make([]int, 0, len(d.Partitions))
	for i := range d.Partitions {
		idx = append(idx, i)
	}
	sort.Ints(idx)
	return idx
}

// Node is a host and its candidate disks
type Node struct {
	Name    string           `json:"name" yaml:"name"`
	Disks   map[string]*Disk `json:"disks" yaml:"disks"`
	OSDisks []string         `json:"os_disks,omitempty" yaml:"os_disks,omitempty"`
	Virtual bool             `json:"virtual,omitempty" yaml:"virtual,omitempty"`
}

// NewNode creates a node without disks
func NewNode(name string) *Node {
	return &Node{Name: name, Disks: make(map[string]*Disk)}
}

// SortedDiskNames returns disk names in lexical order
func (n *Node) SortedDiskNames() []string {
	names := make([]string, 0, len(n.Disks))
	for name := range n.Disks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// DeviceMap is the node to disk mapping for a set of hosts
type DeviceMap struct {
	Nodes map[string]*Node `json:"nodes" yaml:"nodes"`
}

// NewDeviceMap creates an empty device map
func NewDeviceMap() *DeviceMap {
	return &DeviceMap{Nodes: make(map[string]*Node)}
}

// AddNode registers n, replacing any node of the same name
func (m *DeviceMap) AddNode(n *Node) {
	if m.Nodes == nil {
		m.Nodes = make(map[string]*Node)
	}
	m.Nodes[n.Name] = n
}

// SortedNodeNames returns node names in lexical order
func (m *DeviceMap) SortedNodeNames() []string {
	names := make([]string, 0, len(m.Nodes))
	for name := range m.Nodes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// AddDefaultPartitions sets partition 1 of every disk to a single
// partition using the whole disk.
func (m *DeviceMap) AddDefaultPartitions(filesystem string) *DeviceMap {
	for _, n := range m.Nodes {
		for _, d := range n.Disks {
			d.SetPartition(1, NewPartition(filesystem, 100))
		}
	}
	return m
}

// DiskCount returns the number of disks over all nodes
func (m *DeviceMap) DiskCount() int {
	total := 0
	for _, n := range m.Nodes {
		total += len(n.Disks)
	}
	return total
}
