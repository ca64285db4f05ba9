package disk

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Marshal encodes the device map as YAML or JSON depending on format
func (m *DeviceMap) Marshal(format string) ([]byte, error) {
	switch format {
	case "yaml", "yml":
		return yaml.Marshal(m)
	case "json":
		data, err := json.MarshalIndent(m, "", "  ")
		if err != nil {
			return nil, err
		}
		return append(data, '\n'), nil
	default:
		return nil, fmt.Errorf("unsupported plan format %q", format)
	}
}

// Unmarshal decodes a YAML or JSON device map
func Unmarshal(data []byte, format string) (*DeviceMap, error) {
	m := NewDeviceMap()
	var err error
	switch format {
	case "yaml", "yml":
		err = yaml.Unmarshal(data, m)
	case "json":
		err = json.Unmarshal(data, m)
	default:
		return nil, fmt.Errorf("unsupported plan format %q", format)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse plan: %w", err)
	}
	m.normalize()
	return m, nil
}

// normalize fills in maps and names omitted from hand written plans
func (m *DeviceMap) normalize() {
	if m.Nodes == nil {
		m.Nodes = make(map[string]*Node)
	}
	for name, n := range m.Nodes {
		if n == nil {
			n = NewNode(name)
			m.Nodes[name] = n
		}
		if n.Name == "" {
			n.Name = name
		}
		if n.Disks == nil {
			n.Disks = make(map[string]*Disk)
		}
		for dname, d := range n.Disks {
			if d == nil {
				delete(n.Disks, dname)
				continue
			}
			if d.Name == "" {
				d.Name = dname
			}
			if d.Partitions == nil {
				d.Partitions = make(map[int]*Partition)
			}
		}
	}
}

func formatFromPath(path string) string {
	return strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
}

// Save writes the device map to path, choosing YAML or JSON by extension
func (m *DeviceMap) Save(path string) error {
	data, err := m.Marshal(formatFromPath(path))
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write plan: %w", err)
	}
	return nil
}

// Load reads a device map written by Save
func Load(path string) (*DeviceMap, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read plan: %w", err)
	}
	return Unmarshal(data, formatFromPath(path))
}
