package db

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func newTestRepo(t *testing.T) *Repository {
	t.Helper()
	repo, err := NewRepository(filepath.Join(t.TempDir(), "installs.db"))
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	return repo
}

func TestRepository_CreateAndGet(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	inst := &Install{
		RunID:      "run-1",
		OSLabel:    "Raspberry Pi OS (64-bit)",
		ImageFile:  "arm64.img.xz",
		DevicePath: "/dev/sda",
		Username:   "pi",
		TPMSetup:   true,
		Status:     StatusValidating,
	}
	if err := repo.Create(ctx, inst); err != nil {
		t.Fatalf("failed to create install: %v", err)
	}
	if inst.ID == 0 {
		t.Error("expected ID to be assigned")
	}

	got, err := repo.GetByRunID(ctx, "run-1")
	if err != nil {
		t.Fatalf("failed to get install: %v", err)
	}
	if got.OSLabel != inst.OSLabel || got.DevicePath != inst.DevicePath || !got.TPMSetup || got.Username != "pi" {
		t.Errorf("retrieved install mismatch: got %+v, want %+v", got, inst)
	}

	missing, err := repo.GetByRunID(ctx, "nope")
	if err != nil || missing != nil {
		t.Errorf("expected nil, nil for missing run, got %v, %v", missing, err)
	}
}

func TestRepository_UpdateStatus(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	repo.Create(ctx, &Install{RunID: "run-1", OSLabel: "x", Status: StatusWriting})

	if err := repo.UpdateStatus(ctx, "run-1", StatusFailed, "WriteFailed", "Failed to write OS image"); err != nil {
		t.Fatalf("failed to update status: %v", err)
	}

	got, _ := repo.GetByRunID(ctx, "run-1")
	if got.Status != StatusFailed || got.ErrorKind != "WriteFailed" || got.ErrorMessage != "Failed to write OS image" {
		t.Errorf("status not updated: %+v", got)
	}
	if !got.Finished() {
		t.Error("failed run should be finished")
	}
}

func TestRepository_UpdateMissing(t *testing.T) {
	repo := newTestRepo(t)

	if err := repo.Update(context.Background(), &Install{RunID: "ghost", Status: StatusFailed}); err == nil {
		t.Error("expected error updating a missing run")
	}
}

func TestRepository_ListAndCleanup(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	repo.Create(ctx, &Install{RunID: "a", OSLabel: "x", Status: StatusCompleted})
	repo.Create(ctx, &Install{RunID: "b", OSLabel: "x", Status: StatusFailed})
	repo.Create(ctx, &Install{RunID: "c", OSLabel: "x", Status: StatusWriting})

	installs, err := repo.List(ctx)
	if err != nil {
		t.Fatalf("failed to list installs: %v", err)
	}
	if len(installs) != 3 {
		t.Fatalf("expected 3 installs, got %d", len(installs))
	}
	if installs[0].RunID != "c" {
		t.Errorf("expected newest first, got %s", installs[0].RunID)
	}

	// Nothing is a day old yet.
	n, err := repo.DeleteOlderThan(ctx, 24*time.Hour)
	if err != nil || n != 0 {
		t.Errorf("DeleteOlderThan = %d, %v; want 0", n, err)
	}

	n, err = repo.DeleteFinished(ctx)
	if err != nil || n != 2 {
		t.Errorf("DeleteFinished = %d, %v; want 2", n, err)
	}

	installs, _ = repo.List(ctx)
	if len(installs) != 1 || installs[0].RunID != "c" {
		t.Errorf("only the in-flight run should remain, got %d", len(installs))
	}
}

func TestRepository_MarkInterrupted(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	repo.Create(ctx, &Install{RunID: "done", OSLabel: "x", Status: StatusCompleted})
	repo.Create(ctx, &Install{RunID: "mid", OSLabel: "x", Status: StatusProvisioning})

	n, err := repo.MarkInterrupted(ctx)
	if err != nil || n != 1 {
		t.Fatalf("MarkInterrupted = %d, %v; want 1", n, err)
	}

	mid, _ := repo.GetByRunID(ctx, "mid")
	if mid.Status != StatusFailed || mid.ErrorKind != KindInterrupted {
		t.Errorf("in-flight run not marked: %+v", mid)
	}
	done, _ := repo.GetByRunID(ctx, "done")
	if done.Status != StatusCompleted {
		t.Errorf("completed run should be untouched: %+v", done)
	}
}
