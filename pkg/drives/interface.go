// Package drives enumerates removable block devices and resolves install
// targets and their boot partitions.
package drives

import (
	"context"
	"strings"
)

// BootMarker is the substring identifying a boot partition mountpoint.
const BootMarker = "boot"

// Mountpoint is a mounted filesystem on a drive or one of its partitions.
type Mountpoint struct {
	Path  string `json:"path"`
	Label string `json:"label,omitempty"`
}

// IsBootCandidate reports whether the mountpoint looks like a boot partition.
func (m Mountpoint) IsBootCandidate() bool {
	return strings.Contains(m.Path, BootMarker)
}

// Drive describes a whole block device as listed to the front-end.
type Drive struct {
	Device      string       `json:"device"`
	Raw         string       `json:"raw"`
	Description string       `json:"description"`
	Size        int64        `json:"size"`
	BusType     string       `json:"busType"`
	IsUSB       bool         `json:"isUSB"`
	IsCard      bool         `json:"isCard"`
	IsRemovable bool         `json:"isRemovable"`
	IsSystem    bool         `json:"isSystem"`
	Mountpoints []Mountpoint `json:"mountpoints"`
}

// External reports whether the drive is a removable install target.
func (d Drive) External() bool {
	if d.IsSystem || d.Size == 0 {
		return false
	}
	return d.IsUSB || d.IsCard || d.IsRemovable
}

// Enumerator lists the block devices currently attached.
type Enumerator interface {
	// List returns every whole disk with its partitions' mountpoints merged in.
	List(ctx context.Context) ([]Drive, error)
}

// ListExternal returns only the drives that are valid install targets.
func ListExternal(ctx context.Context, e Enumerator) ([]Drive, error) {
	all, err := e.List(ctx)
	if err != nil {
		return nil, err
	}

	external := make([]Drive, 0, len(all))
	for _, d := range all {
		if d.External() {
			external = append(external, d)
		}
	}
	return external, nil
}
