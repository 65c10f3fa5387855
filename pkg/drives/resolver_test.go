package drives

import (
	"context"
	"fmt"
	"testing"

	"github.com/piflash/piflash/pkg/errors"
	"github.com/piflash/piflash/pkg/security"
)

// fakeEnumerator returns successive snapshots, repeating the last one.
type fakeEnumerator struct {
	snapshots [][]Drive
	err       error
	calls     int
}

func (f *fakeEnumerator) List(ctx context.Context) ([]Drive, error) {
	if f.err != nil {
		return nil, f.err
	}
	i := f.calls
	if i >= len(f.snapshots) {
		i = len(f.snapshots) - 1
	}
	f.calls++
	return f.snapshots[i], nil
}

func usbDrive(mounts ...string) Drive {
	d := Drive{Device: "/dev/sdb", Raw: "/dev/sdb", Size: 32 << 30, IsUSB: true, IsRemovable: true}
	for _, m := range mounts {
		d.Mountpoints = append(d.Mountpoints, Mountpoint{Path: m})
	}
	return d
}

func newResolver(e Enumerator) *Resolver {
	return NewResolver(e, security.NewValidator("/dev"))
}

func TestResolveTarget(t *testing.T) {
	internal := Drive{Device: "/dev/sda", Raw: "/dev/sda", Size: 1 << 40, IsSystem: true, Mountpoints: []Mountpoint{{Path: "/"}}}
	enum := &fakeEnumerator{snapshots: [][]Drive{{internal, usbDrive()}}}
	r := newResolver(enum)

	tests := []struct {
		name     string
		sel      Selection
		wantPath string
		wantKind errors.Kind
	}{
		{"by device", Selection{Device: "/dev/sdb"}, "/dev/sdb", ""},
		{"by raw", Selection{Raw: "/dev/sdb"}, "/dev/sdb", ""},
		{"device preferred over raw", Selection{Device: "/dev/sdb", Raw: "/dev/sdz"}, "/dev/sdb", ""},
		{"neither present", Selection{}, "", errors.KindInvalidStorageTarget},
		{"system disk rejected", Selection{Device: "/dev/sda"}, "", errors.KindInvalidStorageTarget},
		{"unknown device", Selection{Device: "/dev/sdz"}, "", errors.KindInvalidStorageTarget},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ref, err := r.ResolveTarget(context.Background(), tt.sel)
			if tt.wantKind != "" {
				if got := errors.KindOf(err); got != tt.wantKind {
					t.Fatalf("expected kind %s, got %v", tt.wantKind, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if ref.Path != tt.wantPath {
				t.Errorf("path = %s, want %s", ref.Path, tt.wantPath)
			}
		})
	}
}

func TestResolveTarget_EmptyResolvedPath(t *testing.T) {
	odd := Drive{Device: "sdb", Raw: "", Size: 1 << 30, IsUSB: true}
	r := newResolver(&fakeEnumerator{snapshots: [][]Drive{{odd}}})

	_, err := r.ResolveTarget(context.Background(), Selection{Device: "sdb"})
	if !errors.Is(err, errors.KindInvalidStorageTarget) {
		t.Fatalf("expected InvalidStorageTarget, got %v", err)
	}
}

func TestResolveTarget_EnumeratorFailure(t *testing.T) {
	r := newResolver(&fakeEnumerator{err: fmt.Errorf("lsblk missing")})

	_, err := r.ResolveTarget(context.Background(), Selection{Device: "/dev/sdb"})
	if !errors.Is(err, errors.KindInvalidStorageTarget) {
		t.Fatalf("expected InvalidStorageTarget, got %v", err)
	}
}

func TestResolveBootMount_ReEnumerates(t *testing.T) {
	// before the write the card carries an old layout; afterwards the OS
	// has remounted the fresh boot partition
	enum := &fakeEnumerator{snapshots: [][]Drive{
		{usbDrive("/media/pi/data")},
		{usbDrive("/media/pi/rootfs", "/media/pi/bootfs")},
	}}
	r := newResolver(enum)

	ref, err := r.ResolveTarget(context.Background(), Selection{Device: "/dev/sdb"})
	if err != nil {
		t.Fatalf("ResolveTarget failed: %v", err)
	}

	mount, err := r.ResolveBootMount(context.Background(), ref)
	if err != nil {
		t.Fatalf("ResolveBootMount failed: %v", err)
	}
	if mount != "/media/pi/bootfs" {
		t.Errorf("mount = %s, want /media/pi/bootfs", mount)
	}
	if enum.calls != 2 {
		t.Errorf("expected a fresh enumeration, got %d calls", enum.calls)
	}
}

func TestResolveBootMount_NotFound(t *testing.T) {
	ref := &DeviceRef{ID: "/dev/sdb", Path: "/dev/sdb"}

	tests := []struct {
		name     string
		snapshot []Drive
	}{
		{"no mountpoints", []Drive{usbDrive()}},
		{"no boot mountpoint", []Drive{usbDrive("/media/pi/rootfs")}},
		{"device gone", []Drive{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newResolver(&fakeEnumerator{snapshots: [][]Drive{tt.snapshot}})
			_, err := r.ResolveBootMount(context.Background(), ref)
			if !errors.Is(err, errors.KindBootPartitionNotFound) {
				t.Fatalf("expected BootPartitionNotFound, got %v", err)
			}
		})
	}
}
