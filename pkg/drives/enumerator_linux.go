//go:build linux

package drives

import (
	"context"
	"log/slog"
	"os/exec"

	"github.com/piflash/piflash/pkg/errors"
)

// LsblkEnumerator lists block devices through lsblk.
type LsblkEnumerator struct {
	binary string
}

// NewEnumerator creates the Linux lsblk enumerator.
func NewEnumerator() (Enumerator, error) {
	path, err := exec.LookPath("lsblk")
	if err != nil {
		slog.Error("lsblk_not_found", "error", err)
		return nil, errors.Wrap(err, "lsblk is required for drive enumeration")
	}
	return &LsblkEnumerator{binary: path}, nil
}

func (e *LsblkEnumerator) List(ctx context.Context) ([]Drive, error) {
	cmd := exec.CommandContext(ctx, e.binary, "-J", "-b", "-o", LsblkColumns)
	out, err := cmd.Output()
	if err != nil {
		slog.Error("lsblk_failed", "error", err)
		return nil, errors.Wrap(err, "failed to run lsblk")
	}

	drives, err := ParseLsblk(out)
	if err != nil {
		return nil, err
	}

	slog.Debug("drives_enumerated", "count", len(drives))
	return drives, nil
}
