package fsm

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/piflash/piflash/pkg/broadcast"
	"github.com/piflash/piflash/pkg/db"
	"github.com/piflash/piflash/pkg/errors"
	"github.com/piflash/piflash/pkg/metrics"
)

// run is the in-memory side of one install: the outcome handed back to the
// caller blocked in Install.
type run struct {
	mu            sync.Mutex
	resp          InstallResponse
	err           error
	writerStarted bool
}

func (r *run) setResponse(resp *InstallResponse) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.resp = *resp
	r.resp.Completed = append([]string(nil), resp.Completed...)
}

func (r *run) setErr(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err == nil {
		r.err = err
	}
}

func (r *run) markWriterStarted() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.writerStarted = true
}

func (r *run) snapshot() InstallResponse {
	r.mu.Lock()
	defer r.mu.Unlock()
	resp := r.resp
	resp.Completed = append([]string(nil), r.resp.Completed...)
	return resp
}

func (r *run) outcome() (InstallResponse, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.resp, r.writerStarted, r.err
}

// Busy reports whether an install is in flight.
func (m *Machine) Busy() bool {
	return m.busy.Load()
}

// Install runs the whole pipeline and returns once the device is either
// ready to boot or the run has failed. Only one install runs at a time;
// a concurrent call fails immediately with KindInstallBusy.
//
// The run is detached from ctx's cancellation: once the writer is spawned
// there is no way to abort it, and a caller going away must not leave a
// half-provisioned device behind unrecorded.
func (m *Machine) Install(ctx context.Context, in Request) (*Result, error) {
	if !m.busy.CompareAndSwap(false, true) {
		slog.Warn("install_rejected_busy", "os", in.OSLabel)
		metrics.Installs.WithLabelValues(string(errors.KindInstallBusy)).Inc()
		return nil, errors.New(errors.KindInstallBusy, "Another install is already in progress")
	}
	defer m.busy.Store(false)

	// Everything past this point runs on a context detached from the caller.
	ctx = context.WithoutCancel(ctx)

	metrics.InstallsInFlight.Set(1)
	defer metrics.InstallsInFlight.Set(0)

	if err := m.validator.ValidateAccount(in.Username, in.Password); err != nil {
		slog.Warn("install_invalid_account", "error", err)
		metrics.Installs.WithLabelValues(string(errors.KindInvalidAccount)).Inc()
		return nil, errors.WithCause(errors.KindInvalidAccount, "Invalid account", err)
	}

	// Hash before anything touches the device: a failure here must not
	// leave a flashed card nobody can log in to.
	var hash string
	if in.Username != "" {
		h, err := m.hasher.Hash(in.Password)
		if err != nil {
			slog.Error("install_hash_failed", "username", in.Username, "error", err)
			metrics.Installs.WithLabelValues(string(errors.KindCredentialHashFailed)).Inc()
			return nil, errors.WithCause(errors.KindCredentialHashFailed, "Failed to hash password", err)
		}
		hash = h
	}

	req := &InstallRequest{
		RunID:        uuid.NewString(),
		OSLabel:      in.OSLabel,
		Storage:      in.Storage,
		Username:     in.Username,
		PasswordHash: hash,
		ProvisionTPM: in.ProvisionTPM,
	}

	record := &db.Install{
		RunID:      req.RunID,
		OSLabel:    req.OSLabel,
		DevicePath: req.Storage.Key(),
		Username:   req.Username,
		TPMSetup:   req.ProvisionTPM,
		Status:     db.StatusValidating,
	}
	if err := m.repo.Create(ctx, record); err != nil {
		return nil, errors.Wrap(err, "failed to record install")
	}

	r := m.track(req.RunID)
	defer m.untrack(req.RunID)

	slog.Info("install_started", "run_id", req.RunID, "os", req.OSLabel, "storage", req.Storage.Key(), "tpm", req.ProvisionTPM)
	started := time.Now()

	execErr := m.execute(ctx, req)

	resp, writerStarted, runErr := r.outcome()
	if writerStarted {
		metrics.InstallDuration.Observe(time.Since(started).Seconds())
	}

	if runErr != nil {
		return nil, runErr
	}
	if execErr != nil {
		// The machine failed outside any state, e.g. it could not be started.
		m.fail(ctx, req, &resp, execErr)
		return nil, execErr
	}
	if resp.Status != StateCompleted {
		// Never reached the final state; report it rather than claim success.
		err := errors.New(errors.KindWriteFailed, "Install ended without completing")
		m.fail(ctx, req, &resp, err)
		return nil, err
	}

	metrics.Installs.WithLabelValues(StateCompleted).Inc()
	slog.Info("install_succeeded", "run_id", req.RunID, "duration", time.Since(started).Round(time.Second))

	return &Result{
		RunID:     req.RunID,
		Message:   SuccessMessage,
		Device:    resp.DevicePath,
		BootMount: resp.BootMount,
		Completed: resp.Completed,
	}, nil
}

// fail records a terminal error. Errors raised once the writer may have
// touched the device are also broadcast, so observers learn the outcome.
func (m *Machine) fail(ctx context.Context, req *InstallRequest, resp *InstallResponse, err error) {
	kind := errors.KindOf(err)
	message := err.Error()
	var ie *errors.InstallError
	if errors.As(err, &ie) {
		message = ie.Message
	}

	resp.Status = StateFailed
	resp.ErrorKind = string(kind)
	resp.ErrorMessage = message

	r := m.lookup(req.RunID)
	r.setErr(err)
	r.setResponse(resp)

	slog.Error("install_failed", "run_id", req.RunID, "kind", kind, "error", err)

	if dbErr := m.repo.UpdateStatus(ctx, req.RunID, db.StatusFailed, string(kind), message); dbErr != nil {
		slog.Warn("install_status_not_recorded", "run_id", req.RunID, "status", db.StatusFailed, "error", dbErr)
	}

	result := string(kind)
	if kind == "" {
		result = "internal"
	}
	metrics.Installs.WithLabelValues(result).Inc()

	if kind == "" || !kind.Synchronous() {
		m.hub.Publish(broadcast.Error(message))
	}
}

func (m *Machine) track(runID string) *run {
	m.mu.Lock()
	defer m.mu.Unlock()
	r := &run{}
	m.runs[runID] = r
	return r
}

func (m *Machine) untrack(runID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.runs, runID)
}

// lookup returns the tracked run. Transitions of a run nobody waits on
// (the machine resumed it after a restart) get a detached record.
func (m *Machine) lookup(runID string) *run {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.runs[runID]; ok {
		return r
	}
	return &run{}
}

func (m *Machine) recordTarget(ctx context.Context, runID, imageFile, devicePath string) {
	inst, err := m.repo.GetByRunID(ctx, runID)
	if err != nil || inst == nil {
		return
	}
	inst.ImageFile = imageFile
	inst.DevicePath = devicePath
	if err := m.repo.Update(ctx, inst); err != nil {
		slog.Warn("install_target_not_recorded", "run_id", runID, "error", err)
	}
}

func (m *Machine) recordBootMount(ctx context.Context, runID, bootMount string) {
	inst, err := m.repo.GetByRunID(ctx, runID)
	if err != nil || inst == nil {
		return
	}
	inst.BootMount = bootMount
	if err := m.repo.Update(ctx, inst); err != nil {
		slog.Warn("install_boot_mount_not_recorded", "run_id", runID, "error", err)
	}
}
