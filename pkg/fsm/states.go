package fsm

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/piflash/piflash/pkg/broadcast"
	"github.com/piflash/piflash/pkg/drives"
	"github.com/piflash/piflash/pkg/errors"
	"github.com/piflash/piflash/pkg/progress"
	"github.com/piflash/piflash/pkg/provision"
	"golang.org/x/sync/errgroup"
)

// validate resolves the OS label to an image on disk and the storage
// selection to an attached removable device. Nothing is spawned or
// published from here: failures are answered synchronously.
func (m *Machine) validate(ctx context.Context, req *InstallRequest, resp *InstallResponse) error {
	spec, ok := m.catalog.Lookup(req.OSLabel)
	if !ok {
		slog.Warn("install_unknown_os", "run_id", req.RunID, "os", req.OSLabel)
		return errors.Newf(errors.KindInvalidOsSelection, "Invalid OS selection: %q", req.OSLabel)
	}
	if err := m.validator.ValidateImageFile(spec.File); err != nil {
		return errors.WithCause(errors.KindInvalidOsSelection, "Invalid OS selection", err)
	}

	imagePath := m.catalog.Path(spec)
	if _, err := os.Stat(imagePath); err != nil {
		slog.Error("install_image_missing", "run_id", req.RunID, "path", imagePath, "error", err)
		return errors.WithCause(errors.KindInvalidOsSelection,
			fmt.Sprintf("OS image %s is not available", spec.File), err)
	}

	ref, err := m.resolver.ResolveTarget(ctx, req.Storage)
	if err != nil {
		return err
	}
	if ref.Path == "" {
		return errors.New(errors.KindInvalidStorageTarget, "Invalid storage device")
	}

	resp.ImagePath = imagePath
	resp.DeviceID = ref.ID
	resp.DevicePath = ref.Path

	m.recordTarget(ctx, req.RunID, spec.File, ref.Path)
	slog.Info("install_validated", "run_id", req.RunID, "image", imagePath, "device", ref.Path)
	return nil
}

// write runs the image writer to completion. Progress is published while the
// write is running; the exit status alone decides the outcome.
func (m *Machine) write(ctx context.Context, req *InstallRequest, resp *InstallResponse) error {
	m.lookup(req.RunID).markWriterStarted()
	slog.Info("install_write_started", "run_id", req.RunID, "image", resp.ImagePath, "device", resp.DevicePath)

	proc, err := m.writer.Start(ctx, resp.ImagePath, resp.DevicePath)
	if err != nil {
		slog.Error("install_writer_start_failed", "run_id", req.RunID, "error", err)
		return errors.WithCause(errors.KindWriteFailed, "Failed to write OS image", err)
	}

	monitor := progress.NewMonitor(func(pct int) {
		m.hub.Publish(broadcast.Progress(pct))
	})

	// Both streams are drained before the process is reaped.
	var g errgroup.Group
	g.Go(func() error {
		stdout := proc.Stdout()
		if _, err := monitor.Consume(stdout); err != nil {
			io.Copy(io.Discard, stdout)
		}
		return nil
	})
	g.Go(func() error {
		logDiagnostics(req.RunID, proc.Stderr())
		return nil
	})
	g.Wait()

	code, err := proc.Wait()
	resp.ExitCode = code
	if err != nil {
		slog.Error("install_writer_wait_failed", "run_id", req.RunID, "error", err)
		return errors.WithCause(errors.KindWriteFailed, "Failed to write OS image", err)
	}
	if code != 0 {
		slog.Error("install_write_failed", "run_id", req.RunID, "exit_code", code)
		return errors.WithCause(errors.KindWriteFailed, "Failed to write OS image",
			fmt.Errorf("writer exited with status %d", code))
	}

	slog.Info("install_write_complete", "run_id", req.RunID, "device", resp.DevicePath)
	return nil
}

// provision locates the boot partition on the freshly written device and
// prepares it for first boot.
func (m *Machine) provision(ctx context.Context, req *InstallRequest, resp *InstallResponse) error {
	ref := &drives.DeviceRef{ID: resp.DeviceID, Path: resp.DevicePath}
	bootMount, err := m.resolver.ResolveBootMount(ctx, ref)
	if err != nil {
		return err
	}
	resp.BootMount = bootMount
	m.recordBootMount(ctx, req.RunID, bootMount)

	preq := provision.Request{BootMount: bootMount, ProvisionTPM: req.ProvisionTPM}
	if req.Username != "" {
		preq.Account = &provision.Account{Username: req.Username, PasswordHash: req.PasswordHash}
	}

	report, err := m.stage.Run(ctx, preq)
	if report != nil {
		resp.Completed = resp.Completed[:0]
		for _, st := range report.Completed {
			resp.Completed = append(resp.Completed, string(st))
		}
	}
	if err != nil {
		return err
	}

	slog.Info("install_provisioned", "run_id", req.RunID, "boot_mount", bootMount, "steps", resp.Completed)
	return nil
}

// complete announces the ready device to every observer.
func (m *Machine) complete(ctx context.Context, req *InstallRequest, resp *InstallResponse) error {
	resp.Status = StateCompleted
	m.hub.Publish(broadcast.Done())
	slog.Info("install_complete", "run_id", req.RunID, "device", resp.DevicePath)
	return nil
}

// logDiagnostics logs the writer's diagnostic stream. dd redraws its
// status line with carriage returns, so both \r and \n end a line.
func logDiagnostics(runID string, r io.Reader) {
	sc := bufio.NewScanner(r)
	sc.Split(scanLinesOrCR)
	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		slog.Warn("writer_stderr", "run_id", runID, "line", string(line))
	}
	if err := sc.Err(); err != nil {
		slog.Warn("writer_stderr_read_failed", "run_id", runID, "error", err)
		io.Copy(io.Discard, r)
	}
}

func scanLinesOrCR(data []byte, atEOF bool) (int, []byte, error) {
	if i := bytes.IndexAny(data, "\r\n"); i >= 0 {
		return i + 1, data[:i], nil
	}
	if atEOF && len(data) > 0 {
		return len(data), data, nil
	}
	return 0, nil, nil
}
