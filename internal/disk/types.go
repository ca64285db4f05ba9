package disk

import (
	"fmt"
	"strings"
)

// Type classifies a disk as rotational or solid state
type Type int

const (
	HDD Type = iota
	SSD
)

var typeNames = [...]struct{ name, value string }{
	HDD: {"HDD", "hdd"},
	SSD: {"SSD", "ssd"},
}

// Types lists all disk types in declaration order
func Types() []Type { return []Type{HDD, SSD} }

func (t Type) valid() bool { return t >= 0 && int(t) < len(typeNames) }

// Name returns the symbolic name, e.g. "SSD"
func (t Type) Name() string {
	if !t.valid() {
		return fmt.Sprintf("Type(%d)", int(t))
	}
	return typeNames[t].name
}

// Value returns the lower case value, e.g. "ssd"
func (t Type) Value() string {
	if !t.valid() {
		return ""
	}
	return typeNames[t].value
}

func (t Type) String() string { return t.Name() }

// ParseType accepts a type name or value in any case
func ParseType(s string) (Type, error) {
	for _, t := range Types() {
		if strings.EqualFold(s, t.Name()) || strings.EqualFold(s, t.Value()) {
			return t, nil
		}
	}
	return 0, fmt.Errorf("unknown disk type %q", s)
}

func (t Type) MarshalText() ([]byte, error) {
	if !t.valid() {
		return nil, fmt.Errorf("invalid disk type %d", int(t))
	}
	return []byte(t.Name()), nil
}

func (t *Type) UnmarshalText(text []byte) error {
	parsed, err := ParseType(string(text))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// PartitionType is the parted partition type
type PartitionType int

const (
	Primary PartitionType = iota
	Extended
)

var partitionTypeNames = [...]string{
	Primary:  "primary",
	Extended: "extended",
}

func (t PartitionType) valid() bool { return t >= 0 && int(t) < len(partitionTypeNames) }

func (t PartitionType) String() string {
	if !t.valid() {
		return fmt.Sprintf("PartitionType(%d)", int(t))
	}
	return partitionTypeNames[t]
}

// ParsePartitionType accepts "primary" or "extended" in any case
func ParsePartitionType(s string) (PartitionType, error) {
	for i, name := range partitionTypeNames {
		if strings.EqualFold(s, name) {
			return PartitionType(i), nil
		}
	}
	return 0, fmt.Errorf("unknown partition type %q", s)
}

func (t PartitionType) MarshalText() ([]byte, error) {
	if !t.valid() {
		return nil, fmt.Errorf("invalid partition type %d", int(t))
	}
	return []byte(t.String()), nil
}

func (t *PartitionType) UnmarshalText(text []byte) error {
	parsed, err := ParsePartitionType(string(text))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}
