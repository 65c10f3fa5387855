package drives

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// LsblkColumns are the columns requested from lsblk; ParseLsblk expects them.
const LsblkColumns = "NAME,PATH,TYPE,SIZE,TRAN,RM,HOTPLUG,MODEL,VENDOR,LABEL,MOUNTPOINT"

// lsblkOutput represents the JSON output from lsblk
type lsblkOutput struct {
	Blockdevices []lsblkDevice `json:"blockdevices"`
}

// lsblkDevice represents a single device in lsblk output
type lsblkDevice struct {
	Name        string        `json:"name"`
	Path        string        `json:"path"`
	Type        string        `json:"type"`
	Size        flexInt       `json:"size"`
	Tran        *string       `json:"tran"`
	RM          flexBool      `json:"rm"`
	Hotplug     flexBool      `json:"hotplug"`
	Model       *string       `json:"model"`
	Vendor      *string       `json:"vendor"`
	Label       *string       `json:"label"`
	Mountpoint  *string       `json:"mountpoint"`
	Mountpoints []*string     `json:"mountpoints"`
	Children    []lsblkDevice `json:"children,omitempty"`
}

// flexBool accepts both JSON booleans and the "0"/"1" strings older lsblk emits.
type flexBool bool

func (b *flexBool) UnmarshalJSON(data []byte) error {
	switch strings.Trim(string(data), `"`) {
	case "true", "1":
		*b = true
	case "false", "0", "null", "":
		*b = false
	default:
		return fmt.Errorf("invalid boolean %s", data)
	}
	return nil
}

// flexInt accepts both JSON numbers and quoted numbers.
type flexInt int64

func (n *flexInt) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	if s == "null" || s == "" {
		*n = 0
		return nil
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid integer %s: %w", data, err)
	}
	*n = flexInt(v)
	return nil
}

// ParseLsblk converts `lsblk -J -b -o LsblkColumns` output into drives.
// Only whole disks become drives; partition mountpoints are merged into
// their parent disk.
func ParseLsblk(data []byte) ([]Drive, error) {
	var output lsblkOutput
	if err := json.Unmarshal(data, &output); err != nil {
		return nil, fmt.Errorf("failed to parse lsblk output: %w", err)
	}

	drives := make([]Drive, 0, len(output.Blockdevices))
	for _, dev := range output.Blockdevices {
		if dev.Type != "disk" {
			continue
		}
		drives = append(drives, toDrive(dev))
	}
	return drives, nil
}

func toDrive(dev lsblkDevice) Drive {
	path := dev.Path
	if path == "" && dev.Name != "" {
		path = "/dev/" + dev.Name
	}

	tran := deref(dev.Tran)
	d := Drive{
		Device:      path,
		Raw:         path,
		Description: strings.TrimSpace(strings.Join(nonEmpty(deref(dev.Vendor), deref(dev.Model)), " ")),
		Size:        int64(dev.Size),
		BusType:     strings.ToUpper(tran),
		IsUSB:       tran == "usb",
		IsCard:      strings.HasPrefix(dev.Name, "mmcblk") || tran == "mmc",
		IsRemovable: bool(dev.RM) || bool(dev.Hotplug),
		Mountpoints: []Mountpoint{},
	}
	if d.Description == "" {
		d.Description = dev.Name
	}

	collectMountpoints(dev, &d)
	return d
}

// collectMountpoints walks dev and its children recursively.
func collectMountpoints(dev lsblkDevice, d *Drive) {
	paths := make([]string, 0, 1+len(dev.Mountpoints))
	if dev.Mountpoint != nil {
		paths = append(paths, *dev.Mountpoint)
	}
	for _, mp := range dev.Mountpoints {
		if mp != nil {
			paths = append(paths, *mp)
		}
	}

	seen := make(map[string]struct{}, len(d.Mountpoints))
	for _, mp := range d.Mountpoints {
		seen[mp.Path] = struct{}{}
	}
	for _, p := range paths {
		if p == "" || strings.HasPrefix(p, "[") {
			// "[SWAP]" and friends are not filesystems
			continue
		}
		if _, dup := seen[p]; dup {
			continue
		}
		seen[p] = struct{}{}
		if p == "/" {
			d.IsSystem = true
		}
		d.Mountpoints = append(d.Mountpoints, Mountpoint{Path: p, Label: deref(dev.Label)})
	}

	for _, child := range dev.Children {
		collectMountpoints(child, d)
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return strings.TrimSpace(*s)
}

func nonEmpty(values ...string) []string {
	out := values[:0]
	for _, v := range values {
		if v != "" {
			out = append(out, v)
		}
	}
	return out
}
