package writer

import (
	"compress/bzip2"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync/atomic"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/piflash/piflash/pkg/errors"
	"github.com/ulikunitz/xz"
)

// NativeWriter decompresses and writes in-process. It reports progress as
// "N%" lines on stdout, computed from the compressed bytes consumed.
type NativeWriter struct {
	// OpenDevice opens the destination for writing. Defaults to opening the
	// existing path write-only.
	OpenDevice func(path string) (*os.File, error)
}

// NewNativeWriter creates an in-process writer.
func NewNativeWriter() *NativeWriter {
	return &NativeWriter{OpenDevice: func(path string) (*os.File, error) {
		return os.OpenFile(path, os.O_WRONLY, 0)
	}}
}

func (w *NativeWriter) Start(ctx context.Context, imagePath, devicePath string) (Process, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c, err := DetectCompression(imagePath)
	if err != nil {
		return nil, err
	}

	src, err := os.Open(imagePath)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open image")
	}
	info, err := src.Stat()
	if err != nil {
		src.Close()
		return nil, errors.Wrap(err, "failed to stat image")
	}

	dst, err := w.OpenDevice(devicePath)
	if err != nil {
		src.Close()
		return nil, errors.Wrap(err, "failed to open device")
	}

	stdoutR, stdoutW := io.Pipe()
	stderrR, stderrW := io.Pipe()
	p := &nativeProcess{stdout: stdoutR, stderr: stderrR, done: make(chan struct{})}

	slog.Info("native_writer_start", "image", imagePath, "device", devicePath, "compression", c, "compressed_size", info.Size())

	go func() {
		defer close(p.done)
		defer stdoutW.Close()
		defer stderrW.Close()
		defer src.Close()
		defer dst.Close()

		if err := copyImage(c, src, info.Size(), dst, stdoutW); err != nil {
			fmt.Fprintf(stderrW, "piflash-writer: %v\n", err)
			p.code = 1
			return
		}
		if err := dst.Sync(); err != nil {
			fmt.Fprintf(stderrW, "piflash-writer: failed to sync the block device: %v\n", err)
			p.code = 1
			return
		}
		if err := reprobe(dst); err != nil {
			// not fatal: dst may be a partition or a regular file
			fmt.Fprintf(stderrW, "piflash-writer: partition re-probe: %v\n", err)
		}
	}()

	return p, nil
}

func copyImage(c Compression, src io.Reader, compressedSize int64, dst io.Writer, progress io.Writer) error {
	counter := &countingReader{r: src}
	decompressed, err := decompressor(c, counter)
	if err != nil {
		return err
	}
	defer decompressed.Close()

	rep := newPercentReporter(compressedSize, progress)
	n, err := io.Copy(&percentWriter{w: dst, counter: counter, rep: rep}, decompressed)
	if err != nil {
		return fmt.Errorf("error writing %d bytes to disk: %w", n, err)
	}
	rep.report(100)
	return nil
}

func decompressor(c Compression, r io.Reader) (io.ReadCloser, error) {
	switch c {
	case CompressionNone:
		return io.NopCloser(r), nil
	case CompressionXZ:
		reader, err := xz.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("new xz reader: %w", err)
		}
		return io.NopCloser(reader), nil
	case CompressionGzip:
		reader, err := gzip.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("new gzip reader: %w", err)
		}
		return reader, nil
	case CompressionZstd:
		reader, err := zstd.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("new zstd reader: %w", err)
		}
		return reader.IOReadCloser(), nil
	case CompressionBzip2:
		return io.NopCloser(bzip2.NewReader(r)), nil
	}
	return nil, fmt.Errorf("no decompressor for %s", c)
}

type countingReader struct {
	r io.Reader
	n atomic.Int64
}

func (c *countingReader) Read(b []byte) (int, error) {
	n, err := c.r.Read(b)
	c.n.Add(int64(n))
	return n, err
}

// percentWriter forwards writes to the device and reports the share of
// compressed input consumed so far.
type percentWriter struct {
	w       io.Writer
	counter *countingReader
	rep     *percentReporter
}

func (p *percentWriter) Write(b []byte) (int, error) {
	n, err := p.w.Write(b)
	if err != nil {
		return n, err
	}
	p.rep.update(p.counter.n.Load())
	return n, nil
}

type nativeProcess struct {
	stdout io.Reader
	stderr io.Reader
	done   chan struct{}
	code   int
}

func (p *nativeProcess) Stdout() io.Reader { return p.stdout }
func (p *nativeProcess) Stderr() io.Reader { return p.stderr }

func (p *nativeProcess) Wait() (int, error) {
	<-p.done
	return p.code, nil
}
