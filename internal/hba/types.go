package hba

import (
	"fmt"
	"sort"
)

// Vendor identifies a controller dialect
type Vendor string

const (
	Adaptec Vendor = "adaptec"
	LSI     Vendor = "lsi"
)

// Disk model prefixes that lsblk shows for controller exported volumes
const (
	AdaptecModelPrefix = "JBOD"
	LSIModelPrefix     = "MR"
)

// ParseError reports controller tool output that cannot be interpreted
type ParseError struct {
	Vendor Vendor
	Msg    string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%s controller output: %s", e.Vendor, e.Msg)
}

func parseErrorf(vendor Vendor, format string, args ...any) error {
	return &ParseError{Vendor: vendor, Msg: fmt.Sprintf(format, args...)}
}

// PhysicalDevice is a drive attached to a controller
type PhysicalDevice interface {
	// ID is the vendor correlation id used by logical devices
	// (Adaptec: serial number, LSI: DID).
	ID() string
	SerialNumber() string
	IsSSD() bool
	Properties() map[string]string
}

// AdaptecPhysicalDevice is a drive reported by arcconf
type AdaptecPhysicalDevice struct {
	Number int               `json:"number"`
	Props  map[string]string `json:"properties"`
}

func (d *AdaptecPhysicalDevice) ID() string                    { return d.Props["Serial number"] }
func (d *AdaptecPhysicalDevice) SerialNumber() string          { return d.Props["Serial number"] }
func (d *AdaptecPhysicalDevice) IsSSD() bool                   { return d.Props["SSD"] == "Yes" }
func (d *AdaptecPhysicalDevice) Properties() map[string]string { return d.Props }

// LSIPhysicalDevice is a drive reported by storcli
type LSIPhysicalDevice struct {
	Path  string            `json:"path"` // /c0/e252/s3
	Props map[string]string `json:"properties"`
}

func (d *LSIPhysicalDevice) ID() string                    { return d.Props["DID"] }
func (d *LSIPhysicalDevice) SerialNumber() string          { return d.Props["SN"] }
func (d *LSIPhysicalDevice) IsSSD() bool                   { return d.Props["Med"] == "SSD" }
func (d *LSIPhysicalDevice) Properties() map[string]string { return d.Props }

// LogicalDevice is a controller volume exported to the OS as a block device
type LogicalDevice struct {
	Number     int               `json:"number"`
	Vendor     Vendor            `json:"vendor"`
	Properties map[string]string `json:"properties"`
	// PhysicalDevices is keyed by PhysicalDevice.ID. Nil values are
	// unresolved references and never leave the parser.
	PhysicalDevices map[string]PhysicalDevice `json:"-"`
}

func newLogicalDevice(vendor Vendor, number int) *LogicalDevice {
	return &LogicalDevice{
		Number:          number,
		Vendor:          vendor,
		Properties:      make(map[string]string),
		PhysicalDevices: make(map[string]PhysicalDevice),
	}
}

// Name returns the volume name, which Adaptec controllers also report to
// the OS as the disk model.
func (ld *LogicalDevice) Name() string {
	if ld.Vendor == LSI {
		return ld.Properties["Name"]
	}
	// newer arcconf releases capitalize "Device"
	if name, ok := ld.Properties["Logical device name"]; ok {
		return name
	}
	return ld.Properties["Logical Device name"]
}

// IsSSD reports whether the volume is backed only by solid state drives.
// A volume without physical devices is not an SSD.
func (ld *LogicalDevice) IsSSD() bool {
	if len(ld.PhysicalDevices) == 0 {
		return false
	}
	for _, pd := range ld.PhysicalDevices {
		if pd == nil || !pd.IsSSD() {
			return false
		}
	}
	return true
}

// PhysicalDeviceIDs returns the sorted ids of the backing drives
func (ld *LogicalDevice) PhysicalDeviceIDs() []string {
	ids := make([]string, 0, len(ld.PhysicalDevices))
	for id := range ld.PhysicalDevices {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// ControllerInfo contains the logical and physical devices of one controller
type ControllerInfo struct {
	Vendor     Vendor `json:"vendor"`
	Controller int    `json:"controller"`

	// LogicalDevices is keyed by logical device number. For LSI this is
	// also the SCSI target id of the exported block device.
	LogicalDevices map[int]*LogicalDevice `json:"logical_devices"`

	// PhysicalDevices is keyed by PhysicalDevice.ID
	PhysicalDevices map[string]PhysicalDevice `json:"-"`
}

func newControllerInfo(vendor Vendor, controller int) *ControllerInfo {
	return &ControllerInfo{
		Vendor:          vendor,
		Controller:      controller,
		LogicalDevices:  make(map[int]*LogicalDevice),
		PhysicalDevices: make(map[string]PhysicalDevice),
	}
}

// LogicalDevicesByName maps volume name to logical device
func (c *ControllerInfo) LogicalDevicesByName() map[string]*LogicalDevice {
	out := make(map[string]*LogicalDevice, len(c.LogicalDevices))
	for _, ld := range c.LogicalDevices {
		out[ld.Name()] = ld
	}
	return out
}

// PhysicalDevicesBySerial maps drive serial number to physical device
func (c *ControllerInfo) PhysicalDevicesBySerial() map[string]PhysicalDevice {
	out := make(map[string]PhysicalDevice, len(c.PhysicalDevices))
	for _, pd := range c.PhysicalDevices {
		out[pd.SerialNumber()] = pd
	}
	return out
}

// LogicalDeviceNumbers returns logical device numbers in ascending order
func (c *ControllerInfo) LogicalDeviceNumbers() []int {
	nums := make([]int, 0, len(c.LogicalDevices))
	for n := range c.LogicalDevices {
		nums = append(nums, n)
	}
	sort.Ints(nums)
	return nums
}

// resolve replaces the placeholder references of every logical device
// with the physical device of the same id.
func (c *ControllerInfo) resolve() error {
	for _, num := range c.LogicalDeviceNumbers() {
		ld := c.LogicalDevices[num]
		for _, id := range ld.PhysicalDeviceIDs() {
			pd, ok := c.PhysicalDevices[id]
			if !ok {
				return parseErrorf(c.Vendor, "logical device %d references unknown physical device %q", num, id)
			}
			ld.PhysicalDevices[id] = pd
		}
	}
	return nil
}
