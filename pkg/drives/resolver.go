package drives

import (
	"context"
	"log/slog"

	"github.com/piflash/piflash/pkg/errors"
	"github.com/piflash/piflash/pkg/security"
)

// Selection is the operator's choice of storage as sent by the front-end.
// Either field may be set; Device wins when both are.
type Selection struct {
	Device string `json:"device"`
	Raw    string `json:"raw"`
}

// Key returns the identifier used to match the selection.
func (s Selection) Key() string {
	if s.Device != "" {
		return s.Device
	}
	return s.Raw
}

// DeviceRef is a resolved install target. It is produced per request and
// never cached: the partition table changes underneath it during a write.
type DeviceRef struct {
	ID          string       `json:"id"`
	Path        string       `json:"path"`
	Mountpoints []Mountpoint `json:"mountpoints"`
}

// Resolver maps selections onto attached devices.
type Resolver struct {
	enum      Enumerator
	validator *security.Validator
}

// NewResolver creates a resolver over enum.
func NewResolver(enum Enumerator, validator *security.Validator) *Resolver {
	return &Resolver{enum: enum, validator: validator}
}

// ResolveTarget locates the writable removable device for sel.
func (r *Resolver) ResolveTarget(ctx context.Context, sel Selection) (*DeviceRef, error) {
	key := sel.Key()
	if key == "" {
		return nil, errors.New(errors.KindInvalidStorageTarget, "Invalid storage device")
	}

	candidates, err := ListExternal(ctx, r.enum)
	if err != nil {
		slog.Error("resolve_target_enumeration_failed", "selection", key, "error", err)
		return nil, errors.WithCause(errors.KindInvalidStorageTarget, "Invalid storage device", err)
	}

	for _, d := range candidates {
		if d.Device != key && d.Raw != key {
			continue
		}

		path := d.Raw
		if path == "" {
			path = d.Device
		}
		if err := r.validator.ValidateDevicePath(path); err != nil {
			return nil, errors.WithCause(errors.KindInvalidStorageTarget, "Invalid storage device", err)
		}

		ref := &DeviceRef{
			ID:          d.Device,
			Path:        path,
			Mountpoints: append([]Mountpoint(nil), d.Mountpoints...),
		}
		slog.Info("resolve_target_found", "device", ref.ID, "path", ref.Path, "mountpoints", len(ref.Mountpoints))
		return ref, nil
	}

	slog.Warn("resolve_target_not_found", "selection", key, "candidates", len(candidates))
	return nil, errors.Newf(errors.KindInvalidStorageTarget, "Invalid storage device: %s is not an attached removable drive", key)
}

// ResolveBootMount re-enumerates and returns the boot partition mount path
// on the physical device behind ref. A device with no mountpoints is normal
// right after a raw write; it is reported, not waited on.
func (r *Resolver) ResolveBootMount(ctx context.Context, ref *DeviceRef) (string, error) {
	all, err := r.enum.List(ctx)
	if err != nil {
		slog.Error("resolve_boot_enumeration_failed", "device", ref.ID, "error", err)
		return "", errors.WithCause(errors.KindBootPartitionNotFound, "Boot partition not found", err)
	}

	for _, d := range all {
		if d.Device != ref.ID && d.Raw != ref.Path {
			continue
		}

		if len(d.Mountpoints) == 0 {
			slog.Warn("resolve_boot_no_mountpoints", "device", ref.ID)
			return "", errors.Newf(errors.KindBootPartitionNotFound, "Boot partition not found: %s exposes no mountpoints", ref.ID)
		}

		for _, mp := range d.Mountpoints {
			if mp.IsBootCandidate() {
				slog.Info("resolve_boot_found", "device", ref.ID, "mount", mp.Path)
				return mp.Path, nil
			}
		}

		slog.Warn("resolve_boot_no_candidate", "device", ref.ID, "mountpoints", len(d.Mountpoints))
		return "", errors.Newf(errors.KindBootPartitionNotFound, "Boot partition not found on %s", ref.ID)
	}

	slog.Warn("resolve_boot_device_gone", "device", ref.ID)
	return "", errors.Newf(errors.KindBootPartitionNotFound, "Boot partition not found: %s is no longer attached", ref.ID)
}
