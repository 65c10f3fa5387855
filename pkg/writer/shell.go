package writer

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"regexp"

	"github.com/piflash/piflash/pkg/errors"
)

var blockSizePattern = regexp.MustCompile(`^[1-9][0-9]*[KMG]?$`)

// decompressors are the shell tools streaming each compression to stdout.
var decompressors = map[Compression]string{
	CompressionNone:  "cat",
	CompressionXZ:    "xzcat",
	CompressionGzip:  "zcat",
	CompressionZstd:  "zstdcat",
	CompressionBzip2: "bzcat",
}

// ShellWriter pipes a decompression tool into dd through bash.
type ShellWriter struct {
	Shell     string
	BlockSize string
	UseSudo   bool
}

// NewShellWriter creates a shell writer using bash.
func NewShellWriter(blockSize string, useSudo bool) (*ShellWriter, error) {
	if !blockSizePattern.MatchString(blockSize) {
		return nil, fmt.Errorf("invalid dd block size %q", blockSize)
	}
	return &ShellWriter{Shell: "bash", BlockSize: blockSize, UseSudo: useSudo}, nil
}

// Script returns the pipeline run by the shell. The compressed image arrives
// on stdin and the device path is passed as a positional parameter, never
// interpolated.
func (w *ShellWriter) Script(c Compression) (string, error) {
	tool, ok := decompressors[c]
	if !ok {
		return "", fmt.Errorf("no decompressor for %s", c)
	}

	dd := "dd"
	if w.UseSudo {
		dd = "sudo dd"
	}
	return fmt.Sprintf(`%s | %s of="$1" bs=%s status=progress conv=fsync`, tool, dd, w.BlockSize), nil
}

// Start runs the pipeline. dd only reports byte counts on stderr, so the
// progress stream is produced here from the compressed bytes fed to the
// decompressor.
func (w *ShellWriter) Start(ctx context.Context, imagePath, devicePath string) (Process, error) {
	c, err := DetectCompression(imagePath)
	if err != nil {
		return nil, err
	}
	script, err := w.Script(c)
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

	stdoutR, stdoutW := io.Pipe()
	stderrR, stderrW := io.Pipe()

	// pipefail makes a decompression failure fail the whole write
	cmd := exec.CommandContext(ctx, w.Shell, "-o", "pipefail", "-c", script, "piflash-writer", devicePath)
	rep := newPercentReporter(info.Size(), stdoutW)
	cmd.Stdin = &progressReader{r: src, rep: rep}
	cmd.Stderr = stderrW

	slog.Info("shell_writer_start", "image", imagePath, "device", devicePath, "compression", c, "block_size", w.BlockSize)
	if err := cmd.Start(); err != nil {
		slog.Error("shell_writer_start_failed", "error", err)
		src.Close()
		stdoutW.Close()
		stderrW.Close()
		return nil, errors.Wrap(err, "failed to start writer")
	}

	p := &execProcess{stdout: stdoutR, stderr: stderrR, done: make(chan struct{})}
	go func() {
		defer close(p.done)
		defer stderrW.Close()
		defer stdoutW.Close()
		defer src.Close()

		// Wait also waits for the stdin and stderr copies to finish
		p.code, p.err = exitStatus(cmd.Wait())
		if p.err == nil && p.code == 0 {
			rep.report(100)
		}
	}()

	return p, nil
}

// progressReader reports the share of the image consumed by the pipeline.
type progressReader struct {
	r   io.Reader
	n   int64
	rep *percentReporter
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	p.n += int64(n)
	p.rep.update(p.n)
	return n, err
}

type execProcess struct {
	stdout io.Reader
	stderr io.Reader
	done   chan struct{}
	code   int
	err    error
}

func (p *execProcess) Stdout() io.Reader { return p.stdout }
func (p *execProcess) Stderr() io.Reader { return p.stderr }

func (p *execProcess) Wait() (int, error) {
	<-p.done
	return p.code, p.err
}

func exitStatus(err error) (int, error) {
	if err == nil {
		return 0, nil
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode(), nil
	}
	return -1, errors.Wrap(err, "failed to reap writer")
}
