// Package blockdev maps SCSI bus addresses to Linux block device names.
//
// The input alternates a bus path header with the device name found below
// it, as `ls /sys/bus/scsi/devices/*/block` prints when the glob matches
// more than one directory.
package blockdev

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// DevicesRoot is where the kernel lists SCSI devices
const DevicesRoot = "/sys/bus/scsi/devices"

// DefaultCommand lists the block device directory of every SCSI device.
// ls omits the header when the glob matches a single directory, so the
// loop prints it for each one. The glob needs a shell on the target.
var DefaultCommand = []string{"/bin/sh", "-c", ListCommand(DevicesRoot)}

// ListCommand returns the shell loop listing the block devices under root
func ListCommand(root string) string {
	return `for d in ` + root + `/*/block; do [ -d "$d" ] || continue; echo "$d:"; /bin/ls "$d"; done`
}

var busPathRe = regexp.MustCompile(`^/sys/bus/scsi/devices/(\d+):(\d+):(\d+):(\d+)/block:?$`)

// ParseError reports a listing that cannot be interpreted.
type ParseError struct {
	Token string
	Msg   string
}

func (e *ParseError) Error() string {
	if e.Token == "" {
		return "block device mapping: " + e.Msg
	}
	return fmt.Sprintf("block device mapping: %s: %q", e.Msg, e.Token)
}

// Address is a SCSI host:bus:target:lun tuple.
type Address struct {
	Host   int
	Bus    int
	Target int
	LUN    int
}

func (a Address) String() string {
	return fmt.Sprintf("%d:%d:%d:%d", a.Host, a.Bus, a.Target, a.LUN)
}

// Mapping holds the bus address to device name entries of one host.
type Mapping struct {
	// Devices maps the "H:B:T:L" bus id to the device name, e.g. "0:2:5:0" -> "sdf".
	Devices   map[string]string
	addresses map[string]Address
}

// NewMapping creates an empty mapping.
func NewMapping() *Mapping {
	return &Mapping{
		Devices:   make(map[string]string),
		addresses: make(map[string]Address),
	}
}

// Add registers a device under the given bus address.
func (m *Mapping) Add(addr Address, name string) {
	id := addr.String()
	m.Devices[id] = name
	m.addresses[id] = addr
}

// Parse reads the ls listing into a Mapping.
func Parse(listing string) (*Mapping, error) {
	tokens := strings.Fields(listing)
	if len(tokens)%2 != 0 {
		return nil, &ParseError{Msg: fmt.Sprintf("odd number of tokens (%d)", len(tokens))}
	}

	m := NewMapping()
	for i := 0; i < len(tokens); i += 2 {
		path, name := tokens[i], tokens[i+1]
		match := busPathRe.FindStringSubmatch(path)
		if match == nil {
			return nil, &ParseError{Token: path, Msg: "unexpected bus path"}
		}
		var addr Address
		fields := []*int{&addr.Host, &addr.Bus, &addr.Target, &addr.LUN}
		for j, f := range fields {
			n, err := strconv.Atoi(match[j+1])
			if err != nil {
				return nil, &ParseError{Token: path, Msg: "bad bus address"}
			}
			*f = n
		}
		m.Add(addr, name)
	}
	return m, nil
}

// sortedIDs returns bus ids in lexical order so later views are deterministic.
func (m *Mapping) sortedIDs() []string {
	ids := make([]string, 0, len(m.Devices))
	for id := range m.Devices {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// ByID maps SCSI target id to device name.
func (m *Mapping) ByID() map[int]string {
	out := make(map[int]string, len(m.Devices))
	for _, id := range m.sortedIDs() {
		out[m.addresses[id].Target] = m.Devices[id]
	}
	return out
}

// ByName maps device name to SCSI target id.
func (m *Mapping) ByName() map[string]int {
	out := make(map[string]int, len(m.Devices))
	for _, id := range m.sortedIDs() {
		out[m.Devices[id]] = m.addresses[id].Target
	}
	return out
}

// TargetID returns the SCSI target of the named device.
func (m *Mapping) TargetID(name string) (int, bool) {
	for _, id := range m.sortedIDs() {
		if m.Devices[id] == name {
			return m.addresses[id].Target, true
		}
	}
	return 0, false
}

// Conflicts lists target ids shared by more than one device, which happens
// when several host adapters reuse the same target numbering.
func (m *Mapping) Conflicts() map[int][]string {
	seen := make(map[int][]string)
	for _, id := range m.sortedIDs() {
		t := m.addresses[id].Target
		seen[t] = append(seen[t], m.Devices[id])
	}
	out := make(map[int][]string)
	for t, names := range seen {
		if len(names) > 1 {
			out[t] = names
		}
	}
	return out
}
