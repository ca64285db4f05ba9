package hba

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
)

var (
	arcconfControllersRe = regexp.MustCompile(`Controllers found:\s*(\d+)`)
	arcconfLogicalRe     = regexp.MustCompile(`^Logical [Dd]evice number\s+(\d+)`)
	arcconfDeviceRe      = regexp.MustCompile(`^Device #(\d+)`)
	// Segment 0 : Present (953869MB, SATA, SSD, Controller:1,Enclosure:0,Slot:3) S3Z8NB0K123456
	arcconfSegmentRe = regexp.MustCompile(`^Segment\s+\d+\s*:.*\)\s+(\S+)$`)
)

// AdaptecParser reads `arcconf getconfig 1 ld` and `arcconf getconfig 1 pd`.
// Adaptec controllers report the logical device name as the disk model,
// so JBOD volumes show up in lsblk with a model starting with "JBOD".
type AdaptecParser struct {
	LogicalCommand  []string
	PhysicalCommand []string
	logger          zerolog.Logger
}

// NewAdaptecParser creates the Adaptec dialect with default commands
func NewAdaptecParser(logger zerolog.Logger) *AdaptecParser {
	return &AdaptecParser{
		LogicalCommand:  []string{"/usr/Adaptec_Event_Monitor/arcconf", "getconfig", "1", "ld"},
		PhysicalCommand: []string{"/usr/Adaptec_Event_Monitor/arcconf", "getconfig", "1", "pd"},
		logger:          logger.With().Str("component", "hba.adaptec").Logger(),
	}
}

func (p *AdaptecParser) Vendor() Vendor                   { return Adaptec }
func (p *AdaptecParser) ModelPrefix() string              { return AdaptecModelPrefix }
func (p *AdaptecParser) LogicalDevicesCommand() []string  { return p.LogicalCommand }
func (p *AdaptecParser) PhysicalDevicesCommand() []string { return p.PhysicalCommand }

// Parse builds the controller info from the ld and pd outputs
func (p *AdaptecParser) Parse(logical, physical string) (*ControllerInfo, error) {
	m := arcconfControllersRe.FindStringSubmatch(logical)
	if m == nil {
		return nil, parseErrorf(Adaptec, "missing 'Controllers found' line")
	}
	count, _ := strconv.Atoi(m[1])

	// arcconf is always queried for controller 1
	info := newControllerInfo(Adaptec, 1)
	if count == 0 {
		return info, nil
	}

	pds, err := p.parsePhysical(physical)
	if err != nil {
		return nil, err
	}
	info.PhysicalDevices = pds

	lds, err := p.parseLogical(logical)
	if err != nil {
		return nil, err
	}
	info.LogicalDevices = lds

	if err := info.resolve(); err != nil {
		return nil, err
	}
	return info, nil
}

// splitAttribute splits "Key : Value" on the first separator. A trailing
// " :" yields an empty value.
func splitAttribute(line string) (string, string, bool) {
	if idx := strings.Index(line, " : "); idx >= 0 {
		return strings.TrimSpace(line[:idx]), strings.TrimSpace(line[idx+3:]), true
	}
	if strings.HasSuffix(line, " :") {
		return strings.TrimSpace(strings.TrimSuffix(line, ":")), "", true
	}
	return "", "", false
}

func (p *AdaptecParser) parsePhysical(output string) (map[string]PhysicalDevice, error) {
	var devices []*AdaptecPhysicalDevice
	var current *AdaptecPhysicalDevice

	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)

		if m := arcconfDeviceRe.FindStringSubmatch(line); m != nil {
			num, _ := strconv.Atoi(m[1])
			current = &AdaptecPhysicalDevice{Number: num, Props: make(map[string]string)}
			devices = append(devices, current)
			continue
		}
		if current == nil {
			continue
		}

		if strings.HasPrefix(line, "Device is a") {
			if strings.Contains(line, "Enclosure services device") {
				p.logger.Debug().Int("device", current.Number).Msg("skipping enclosure services device")
				devices = devices[:len(devices)-1]
				current = nil
			}
			continue
		}

		if key, val, ok := splitAttribute(line); ok {
			current.Props[key] = val
		}
	}

	out := make(map[string]PhysicalDevice, len(devices))
	for _, d := range devices {
		serial := d.SerialNumber()
		if serial == "" {
			return nil, parseErrorf(Adaptec, "physical device #%d has no serial number", d.Number)
		}
		out[serial] = d
	}
	return out, nil
}

func (p *AdaptecParser) parseLogical(output string) (map[int]*LogicalDevice, error) {
	devices := make(map[int]*LogicalDevice)
	var current *LogicalDevice

	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)

		if m := arcconfLogicalRe.FindStringSubmatch(line); m != nil {
			num, _ := strconv.Atoi(m[1])
			current = newLogicalDevice(Adaptec, num)
			devices[num] = current
			continue
		}
		if current == nil {
			continue
		}

		if strings.HasPrefix(line, "Segment ") {
			m := arcconfSegmentRe.FindStringSubmatch(line)
			if m == nil {
				return nil, parseErrorf(Adaptec, "logical device %d: unrecognized segment line %q", current.Number, line)
			}
			current.PhysicalDevices[m[1]] = nil
			continue
		}

		if key, val, ok := splitAttribute(line); ok {
			current.Properties[key] = val
		}
	}
	return devices, nil
}
