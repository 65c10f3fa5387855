//go:build linux

package writer

import (
	"os"

	"golang.org/x/sys/unix"
)

// reprobe asks the kernel to re-read the partition table, the equivalent of
// partprobe, so the fresh boot partition can be mounted.
func reprobe(f *os.File) error {
	fi, err := f.Stat()
	if err != nil {
		return err
	}
	if fi.Mode()&os.ModeDevice == 0 {
		return nil
	}
	return unix.IoctlSetInt(int(f.Fd()), unix.BLKRRPART, 0)
}
