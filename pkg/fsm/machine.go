// Package fsm implements the install pipeline as a finite state machine.
// It orchestrates target validation, the image write with live progress,
// and first-boot provisioning using the superfly/fsm library.
package fsm

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/piflash/piflash/pkg/broadcast"
	"github.com/piflash/piflash/pkg/db"
	"github.com/piflash/piflash/pkg/drives"
	"github.com/piflash/piflash/pkg/errors"
	"github.com/piflash/piflash/pkg/osimage"
	"github.com/piflash/piflash/pkg/provision"
	"github.com/piflash/piflash/pkg/security"
	"github.com/piflash/piflash/pkg/writer"
	"github.com/superfly/fsm"
)

// Deps are the collaborators of the install pipeline.
type Deps struct {
	Repo      *db.Repository
	Catalog   *osimage.Catalog
	Resolver  *drives.Resolver
	Writer    writer.Writer
	Stage     *provision.Stage
	Hasher    provision.Hasher
	Validator *security.Validator
	Hub       *broadcast.Hub
}

type step func(ctx context.Context, req *InstallRequest, resp *InstallResponse) error

// Machine holds dependencies for FSM transitions
type Machine struct {
	repo      *db.Repository
	catalog   *osimage.Catalog
	resolver  *drives.Resolver
	writer    writer.Writer
	stage     *provision.Stage
	hasher    provision.Hasher
	validator *security.Validator
	hub       *broadcast.Hub

	// execute runs one install through every state. It is replaced by
	// Register; until then states run in-process, in the same order.
	execute func(ctx context.Context, req *InstallRequest) error

	busy atomic.Bool

	mu   sync.Mutex
	runs map[string]*run
}

// NewMachine creates a new FSM machine with dependencies
func NewMachine(deps Deps) *Machine {
	m := &Machine{
		repo:      deps.Repo,
		catalog:   deps.Catalog,
		resolver:  deps.Resolver,
		writer:    deps.Writer,
		stage:     deps.Stage,
		hasher:    deps.Hasher,
		validator: deps.Validator,
		hub:       deps.Hub,
		runs:      make(map[string]*run),
	}
	m.execute = m.runInline
	return m
}

// Register registers the install FSM and routes subsequent installs through it.
func (m *Machine) Register(ctx context.Context, manager *fsm.Manager) error {
	start, _, err := fsm.Register[InstallRequest, InstallResponse](manager, "install").
		Start(StateValidating, m.handler(StateValidating, m.validate)).
		To(StateWriting, m.handler(StateWriting, m.write)).
		To(StateProvisioning, m.handler(StateProvisioning, m.provision)).
		To(StateCompleted, m.handler(StateCompleted, m.complete)).
		End(StateFailed).
		Build(ctx)

	if err != nil {
		return errors.Wrap(err, "failed to register FSM")
	}

	m.execute = func(ctx context.Context, req *InstallRequest) error {
		version, err := start(ctx, req.RunID, fsm.NewRequest(req, &InstallResponse{}))
		if err != nil {
			return errors.Wrap(err, "FSM start failed")
		}
		slog.Info("fsm_started", "run_id", req.RunID, "version", version)

		if err := manager.Wait(ctx, version); err != nil {
			return errors.Wrap(err, "FSM execution failed")
		}
		return nil
	}
	return nil
}

// handler adapts a step to an FSM transition. Every failure aborts the
// machine: no state is ever retried.
func (m *Machine) handler(state string, fn step) func(context.Context, *fsm.Request[InstallRequest, InstallResponse]) (*fsm.Response[InstallResponse], error) {
	return func(ctx context.Context, req *fsm.Request[InstallRequest, InstallResponse]) (*fsm.Response[InstallResponse], error) {
		slog.Info("fsm_state_"+state, "run_id", req.Msg.RunID)

		resp := req.W.Msg
		if resp == nil {
			prev := m.lookup(req.Msg.RunID).snapshot()
			resp = &prev
		}

		if retry := fsm.RetryFromContext(ctx); retry > 0 {
			err := fmt.Errorf("state %s interrupted; installs are not retried (attempt %d)", state, retry+1)
			m.fail(ctx, req.Msg, resp, err)
			return nil, fsm.Abort(err)
		}

		if err := m.runState(ctx, state, fn, req.Msg, resp); err != nil {
			return nil, fsm.Abort(err)
		}
		return fsm.NewResponse(resp), nil
	}
}

func (m *Machine) runInline(ctx context.Context, req *InstallRequest) error {
	resp := &InstallResponse{}
	states := []struct {
		name string
		fn   step
	}{
		{StateValidating, m.validate},
		{StateWriting, m.write},
		{StateProvisioning, m.provision},
		{StateCompleted, m.complete},
	}

	for _, s := range states {
		slog.Info("fsm_state_"+s.name, "run_id", req.RunID)
		if err := m.runState(ctx, s.name, s.fn, req, resp); err != nil {
			return err
		}
	}
	return nil
}

// runState records the state transition, runs fn, and records the outcome.
func (m *Machine) runState(ctx context.Context, state string, fn step, req *InstallRequest, resp *InstallResponse) error {
	if err := m.repo.UpdateStatus(ctx, req.RunID, state, "", ""); err != nil {
		slog.Warn("install_status_not_recorded", "run_id", req.RunID, "status", state, "error", err)
	}

	if err := fn(ctx, req, resp); err != nil {
		m.fail(ctx, req, resp, err)
		return err
	}

	m.lookup(req.RunID).setResponse(resp)
	return nil
}
