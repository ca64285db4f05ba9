package hba

import (
	"regexp"
	"strconv"

	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"
)

var (
	storcliVolumeRe      = regexp.MustCompile(`^/c\d+/v(\d+)$`)
	storcliDriveDetailRe = regexp.MustCompile(`^Drive (/c\d+(?:/e\d+)?/s\d+) - Detailed Information$`)
)

// LSIParser reads the JSON output of
//
//	storcli64 /call/vall show all J
//	storcli64 /call/eall/sall show all J
//
// MegaRAID controllers report their own model (e.g. MR9361-8i) to the OS,
// so volumes are matched through the SCSI target id instead of the name.
type LSIParser struct {
	LogicalCommand  []string
	PhysicalCommand []string
	logger          zerolog.Logger
}

// NewLSIParser creates the LSI dialect with default commands
func NewLSIParser(logger zerolog.Logger) *LSIParser {
	return &LSIParser{
		LogicalCommand:  []string{"/opt/MegaRAID/storcli/storcli64", "/call/vall", "show", "all", "J"},
		PhysicalCommand: []string{"/opt/MegaRAID/storcli/storcli64", "/call/eall/sall", "show", "all", "J"},
		logger:          logger.With().Str("component", "hba.lsi").Logger(),
	}
}

func (p *LSIParser) Vendor() Vendor                   { return LSI }
func (p *LSIParser) ModelPrefix() string              { return LSIModelPrefix }
func (p *LSIParser) LogicalDevicesCommand() []string  { return p.LogicalCommand }
func (p *LSIParser) PhysicalDevicesCommand() []string { return p.PhysicalCommand }

// Parse builds the controller info from the volume and drive documents.
// Only the first controller that reports success is used.
func (p *LSIParser) Parse(logical, physical string) (*ControllerInfo, error) {
	ldCtrls, err := p.controllers(logical, "logical")
	if err != nil {
		return nil, err
	}
	if len(ldCtrls) == 0 {
		return nil, parseErrorf(LSI, "no successful controller in logical device output")
	}
	num := ldCtrls[0].number

	pdCtrls, err := p.controllers(physical, "physical")
	if err != nil {
		return nil, err
	}
	var pdData map[string]gjson.Result
	for _, c := range pdCtrls {
		if c.number == num {
			pdData = c.data
			break
		}
	}
	if pdData == nil {
		return nil, parseErrorf(LSI, "controller %d missing or failed in physical device output", num)
	}
	if len(ldCtrls) > 1 {
		p.logger.Warn().Int("controller", num).Int("controllers", len(ldCtrls)).
			Msg("multiple controllers reported, only the first is used")
	}

	info := newControllerInfo(LSI, num)
	if info.PhysicalDevices, err = p.parsePhysical(pdData); err != nil {
		return nil, err
	}
	if info.LogicalDevices, err = p.parseLogical(ldCtrls[0].data); err != nil {
		return nil, err
	}
	if err := info.resolve(); err != nil {
		return nil, err
	}
	return info, nil
}

type storcliController struct {
	number int
	data   map[string]gjson.Result
}

// controllers returns the successful controllers of a storcli document in
// document order, with their "Response Data" keyed by section name.
func (p *LSIParser) controllers(doc, kind string) ([]storcliController, error) {
	if !gjson.Valid(doc) {
		return nil, parseErrorf(LSI, "%s device output is not valid JSON", kind)
	}
	ctrls := gjson.Get(doc, "Controllers")
	if !ctrls.IsArray() {
		return nil, parseErrorf(LSI, "%s device output has no Controllers array", kind)
	}

	var out []storcliController
	for _, c := range ctrls.Array() {
		status := c.Get("Command Status")
		if status.Get("Status").String() != "Success" {
			p.logger.Error().Str("status", status.Raw).Msgf("could not parse %s controller information", kind)
			continue
		}
		data := make(map[string]gjson.Result)
		c.Get("Response Data").ForEach(func(key, value gjson.Result) bool {
			data[key.String()] = value
			return true
		})
		out = append(out, storcliController{
			number: int(status.Get("Controller").Int()),
			data:   data,
		})
	}
	return out, nil
}

// mergeProperties copies the fields of a JSON object into props as strings
func mergeProperties(props map[string]string, obj gjson.Result) {
	obj.ForEach(func(key, value gjson.Result) bool {
		props[key.String()] = value.String()
		return true
	})
}

func (p *LSIParser) parsePhysical(data map[string]gjson.Result) (map[string]PhysicalDevice, error) {
	out := make(map[string]PhysicalDevice)
	for key, detail := range data {
		m := storcliDriveDetailRe.FindStringSubmatch(key)
		if m == nil {
			continue
		}
		path := m[1]
		summary, ok := data["Drive "+path]
		if !ok || !summary.IsArray() || len(summary.Array()) == 0 {
			p.logger.Warn().Str("drive", path).Msg("detailed information without drive summary, skipping")
			continue
		}

		dev := &LSIPhysicalDevice{Path: path, Props: make(map[string]string)}
		mergeProperties(dev.Props, summary.Array()[0])
		detail.ForEach(func(section, value gjson.Result) bool {
			if section.String() != "Inquiry Data" && value.IsObject() {
				mergeProperties(dev.Props, value)
			}
			return true
		})

		id := dev.ID()
		if id == "" {
			return nil, parseErrorf(LSI, "drive %s has no DID", path)
		}
		out[id] = dev
	}
	return out, nil
}

func (p *LSIParser) parseLogical(data map[string]gjson.Result) (map[int]*LogicalDevice, error) {
	out := make(map[int]*LogicalDevice)
	for key, summary := range data {
		m := storcliVolumeRe.FindStringSubmatch(key)
		if m == nil {
			continue
		}
		num, _ := strconv.Atoi(m[1])
		ld := newLogicalDevice(LSI, num)
		if rows := summary.Array(); len(rows) > 0 {
			mergeProperties(ld.Properties, rows[0])
		}

		if props, ok := data["VD"+m[1]+" Properties"]; ok {
			mergeProperties(ld.Properties, props)
		}

		for _, pd := range data["PDs for VD "+m[1]].Array() {
			did := pd.Get("DID")
			if !did.Exists() {
				return nil, parseErrorf(LSI, "volume %d lists a drive without DID", num)
			}
			ld.PhysicalDevices[did.String()] = nil
		}
		out[num] = ld
	}
	return out, nil
}
