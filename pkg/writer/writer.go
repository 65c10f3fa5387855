// Package writer streams compressed OS images onto raw devices.
//
// The install pipeline treats a writer as a black box: it is started with an
// image path and a device path, reports progress text on its stdout stream and
// diagnostics on its stderr stream, and finishes with an integer exit status
// where zero means the whole image reached the device.
package writer

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"
)

// Process is a running image write.
type Process interface {
	// Stdout is the progress stream.
	Stdout() io.Reader
	// Stderr is the diagnostic stream.
	Stderr() io.Reader
	// Wait blocks until the write terminates and returns its exit status.
	// Both streams must be drained before calling Wait. A non-nil error
	// means the status could not be determined at all.
	Wait() (int, error)
}

// Writer starts image writes.
type Writer interface {
	Start(ctx context.Context, imagePath, devicePath string) (Process, error)
}

// Compression identifies an image's compression by file extension.
type Compression string

const (
	CompressionNone  Compression = "none"
	CompressionXZ    Compression = "xz"
	CompressionGzip  Compression = "gzip"
	CompressionZstd  Compression = "zstd"
	CompressionBzip2 Compression = "bzip2"
)

// DetectCompression maps an image file name to its compression.
func DetectCompression(imagePath string) (Compression, error) {
	switch strings.ToLower(filepath.Ext(imagePath)) {
	case ".xz":
		return CompressionXZ, nil
	case ".gz":
		return CompressionGzip, nil
	case ".zst", ".zstd", ".zs":
		return CompressionZstd, nil
	case ".bz2", ".bzip2":
		return CompressionBzip2, nil
	case ".img", ".raw", ".iso":
		return CompressionNone, nil
	}
	return "", fmt.Errorf("unknown compression suffix [%s]", filepath.Ext(imagePath))
}

// percentReporter prints an "N%" line to out each time the integer share of
// consumed input changes. 100% is only printed by an explicit report once
// the write completed.
type percentReporter struct {
	total int64
	out   io.Writer
	last  int
}

func newPercentReporter(total int64, out io.Writer) *percentReporter {
	return &percentReporter{total: total, out: out, last: -1}
}

func (p *percentReporter) update(consumed int64) {
	if p.total <= 0 {
		return
	}
	pct := int(consumed * 100 / p.total)
	if pct > 99 {
		pct = 99
	}
	p.report(pct)
}

func (p *percentReporter) report(pct int) {
	if pct == p.last {
		return
	}
	p.last = pct
	fmt.Fprintf(p.out, "%d%%\n", pct)
}
