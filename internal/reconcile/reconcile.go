// Package reconcile enriches OS disk information with controller metadata.
//
// Disks exported through a RAID/HBA controller show up in lsblk with the
// controller's idea of a model name, and their rotational flag is not
// trustworthy. Adaptec controllers report the logical device name as the
// model; LSI MegaRAID controllers report their own model, so volumes are
// joined through the SCSI target id instead.
package reconcile

import (
	"fmt"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"github.com/sigreer/jbodplan/internal/blockdev"
	"github.com/sigreer/jbodplan/internal/disk"
	"github.com/sigreer/jbodplan/internal/hba"
)

// ContractError reports arguments of the wrong kind
type ContractError struct {
	Msg string
}

func (e *ContractError) Error() string {
	return "reconcile: " + e.Msg
}

// Reconciler applies controller information to disks
type Reconciler struct {
	logger zerolog.Logger
}

// New creates a reconciler
func New(logger zerolog.Logger) *Reconciler {
	return &Reconciler{logger: logger.With().Str("component", "reconcile").Logger()}
}

func sortedNames(disks map[string]*disk.Disk) []string {
	names := make([]string, 0, len(disks))
	for name := range disks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func typeFor(ld *hba.LogicalDevice) disk.Type {
	if ld.IsSSD() {
		return disk.SSD
	}
	return disk.HDD
}

// Adaptec sets the type of every JBOD volume from its logical device
func (r *Reconciler) Adaptec(disks map[string]*disk.Disk, info *hba.ControllerInfo) error {
	if info == nil || info.Vendor != hba.Adaptec {
		return &ContractError{Msg: "Adaptec reconciliation requires Adaptec controller information"}
	}
	byName := info.LogicalDevicesByName()

	for _, name := range sortedNames(disks) {
		d := disks[name]
		if !strings.HasPrefix(d.Model, hba.AdaptecModelPrefix) {
			continue
		}
		ld, ok := byName[d.Model]
		if !ok {
			r.logger.Warn().Str("disk", name).Str("model", d.Model).Msg("no logical device matches disk model")
			continue
		}
		d.Type = typeFor(ld)
		if serial := singleSerial(ld); serial != "" {
			d.Serial = serial
		}
	}
	return nil
}

// LSI replaces the model of every MegaRAID volume with the logical device
// name and sets its type and SCSI location.
func (r *Reconciler) LSI(disks map[string]*disk.Disk, info *hba.ControllerInfo, mapping *blockdev.Mapping) error {
	if info == nil || info.Vendor != hba.LSI {
		return &ContractError{Msg: "LSI reconciliation requires LSI controller information"}
	}
	if mapping == nil {
		return &ContractError{Msg: "LSI reconciliation requires a block device mapping"}
	}
	targets := mapping.ByName()

	for _, name := range sortedNames(disks) {
		d := disks[name]
		if !strings.HasPrefix(d.Model, hba.LSIModelPrefix) {
			continue
		}
		target, ok := targets[name]
		if !ok {
			r.logger.Warn().Str("disk", name).Msg("disk missing from block device mapping")
			continue
		}
		ld, ok := info.LogicalDevices[target]
		if !ok {
			r.logger.Warn().Str("disk", name).Int("target", target).Msg("no logical device for SCSI target")
			continue
		}
		d.Model = ld.Name()
		d.Type = typeFor(ld)
		d.Location = target
		if serial := singleSerial(ld); serial != "" {
			d.Serial = serial
		}
	}
	return nil
}

// singleSerial returns the drive serial of a single drive volume
func singleSerial(ld *hba.LogicalDevice) string {
	if len(ld.PhysicalDevices) != 1 {
		return ""
	}
	for _, pd := range ld.PhysicalDevices {
		if pd != nil {
			return pd.SerialNumber()
		}
	}
	return ""
}

// Apply dispatches on the controller vendor. The disks must include at
// least one volume exported by that controller.
func (r *Reconciler) Apply(disks map[string]*disk.Disk, info *hba.ControllerInfo, mapping *blockdev.Mapping) error {
	if info == nil {
		return &ContractError{Msg: "missing controller information"}
	}
	if !containsVendor(Vendors(disks), info.Vendor) {
		return &ContractError{Msg: fmt.Sprintf("no disk is exported by a %s controller", info.Vendor)}
	}
	switch info.Vendor {
	case hba.Adaptec:
		return r.Adaptec(disks, info)
	case hba.LSI:
		return r.LSI(disks, info, mapping)
	default:
		return &ContractError{Msg: fmt.Sprintf("unsupported vendor %q", info.Vendor)}
	}
}

func containsVendor(vendors []hba.Vendor, v hba.Vendor) bool {
	for _, x := range vendors {
		if x == v {
			return true
		}
	}
	return false
}

// Vendors returns the controller vendors whose volumes appear among disks,
// LSI first.
func Vendors(disks map[string]*disk.Disk) []hba.Vendor {
	var lsi, adaptec bool
	for _, d := range disks {
		switch {
		case strings.HasPrefix(d.Model, hba.LSIModelPrefix):
			lsi = true
		case strings.HasPrefix(d.Model, hba.AdaptecModelPrefix):
			adaptec = true
		}
	}
	var out []hba.Vendor
	if lsi {
		out = append(out, hba.LSI)
	}
	if adaptec {
		out = append(out, hba.Adaptec)
	}
	return out
}

// Vendor returns the controller vendor a node needs, preferring LSI when
// both kinds of volumes are present.
func Vendor(disks map[string]*disk.Disk) (hba.Vendor, bool) {
	vendors := Vendors(disks)
	if len(vendors) == 0 {
		return "", false
	}
	return vendors[0], true
}
