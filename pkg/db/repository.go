package db

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/piflash/piflash/pkg/errors"
	_ "modernc.org/sqlite"
)

// Repository provides database operations for install runs
type Repository struct {
	db *sql.DB
}

// NewRepository opens (or creates) the database at dbPath
func NewRepository(dbPath string) (*Repository, error) {
	slog.Info("database_init", "db_path", dbPath)

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		slog.Error("database_open_failed", "db_path", dbPath, "error", err)
		return nil, errors.Wrap(err, "failed to open database")
	}
	// The FSM handlers and the HTTP server write concurrently; a single
	// connection serializes them instead of surfacing SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	slog.Info("database_create_schema", "db_path", dbPath)
	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		slog.Error("database_schema_failed", "db_path", dbPath, "error", err)
		return nil, errors.Wrap(err, "failed to create schema")
	}

	slog.Info("database_ready", "db_path", dbPath)
	return &Repository{db: db}, nil
}

// Close closes the database connection
func (r *Repository) Close() error {
	return r.db.Close()
}

const installColumns = `id, run_id, os_label, image_file, device_path, boot_mount, username,
	tpm_setup, status, error_kind, error_message, created_at, updated_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanInstall(s scanner) (*Install, error) {
	var inst Install
	var imageFile, devicePath, bootMount, username, errorKind, errorMessage sql.NullString

	err := s.Scan(
		&inst.ID, &inst.RunID, &inst.OSLabel, &imageFile, &devicePath, &bootMount, &username,
		&inst.TPMSetup, &inst.Status, &errorKind, &errorMessage, &inst.CreatedAt, &inst.UpdatedAt)
	if err != nil {
		return nil, err
	}

	inst.ImageFile = imageFile.String
	inst.DevicePath = devicePath.String
	inst.BootMount = bootMount.String
	inst.Username = username.String
	inst.ErrorKind = errorKind.String
	inst.ErrorMessage = errorMessage.String
	return &inst, nil
}

// Create inserts a new install record
func (r *Repository) Create(ctx context.Context, inst *Install) error {
	slog.Info("database_create_install", "run_id", inst.RunID, "status", inst.Status)

	query := `
		INSERT INTO installs (run_id, os_label, image_file, device_path, boot_mount, username,
		                      tpm_setup, status, error_kind, error_message)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	result, err := r.db.ExecContext(ctx, query,
		inst.RunID, inst.OSLabel, inst.ImageFile, inst.DevicePath, inst.BootMount, inst.Username,
		inst.TPMSetup, inst.Status, inst.ErrorKind, inst.ErrorMessage)
	if err != nil {
		slog.Error("database_insert_failed", "run_id", inst.RunID, "error", err)
		return errors.Wrap(err, "failed to insert install")
	}

	id, err := result.LastInsertId()
	if err != nil {
		slog.Error("database_last_insert_id_failed", "run_id", inst.RunID, "error", err)
		return errors.Wrap(err, "failed to get last insert id")
	}
	inst.ID = id

	slog.Info("database_install_created", "run_id", inst.RunID, "install_id", inst.ID)
	return nil
}

// GetByRunID retrieves an install by run ID. It returns nil, nil when absent.
func (r *Repository) GetByRunID(ctx context.Context, runID string) (*Install, error) {
	query := `SELECT ` + installColumns + ` FROM installs WHERE run_id = ?`

	inst, err := scanInstall(r.db.QueryRowContext(ctx, query, runID))
	if err == sql.ErrNoRows {
		slog.Info("database_install_not_found", "run_id", runID)
		return nil, nil
	}
	if err != nil {
		slog.Error("database_query_failed", "run_id", runID, "error", err)
		return nil, errors.Wrap(err, "failed to query install")
	}
	return inst, nil
}

// Update writes every mutable field of an existing install record
func (r *Repository) Update(ctx context.Context, inst *Install) error {
	slog.Info("database_update_install", "run_id", inst.RunID, "status", inst.Status)

	query := `
		UPDATE installs
		SET image_file = ?, device_path = ?, boot_mount = ?, username = ?, tpm_setup = ?,
		    status = ?, error_kind = ?, error_message = ?, updated_at = CURRENT_TIMESTAMP
		WHERE run_id = ?
	`
	result, err := r.db.ExecContext(ctx, query,
		inst.ImageFile, inst.DevicePath, inst.BootMount, inst.Username, inst.TPMSetup,
		inst.Status, inst.ErrorKind, inst.ErrorMessage, inst.RunID)
	if err != nil {
		slog.Error("database_update_failed", "run_id", inst.RunID, "error", err)
		return errors.Wrap(err, "failed to update install")
	}

	rows, err := result.RowsAffected()
	if err != nil {
		slog.Error("database_rows_affected_failed", "run_id", inst.RunID, "error", err)
		return errors.Wrap(err, "failed to get rows affected")
	}
	if rows == 0 {
		slog.Error("database_install_not_found_for_update", "run_id", inst.RunID)
		return fmt.Errorf("install not found: run_id=%s", inst.RunID)
	}
	return nil
}

// UpdateStatus updates only the status and error fields
func (r *Repository) UpdateStatus(ctx context.Context, runID, status, errorKind, errorMessage string) error {
	slog.Info("database_update_status", "run_id", runID, "status", status)

	query := `UPDATE installs SET status = ?, error_kind = ?, error_message = ?, updated_at = CURRENT_TIMESTAMP WHERE run_id = ?`
	if _, err := r.db.ExecContext(ctx, query, status, errorKind, errorMessage, runID); err != nil {
		slog.Error("database_status_update_failed", "run_id", runID, "status", status, "error", err)
		return errors.Wrap(err, "failed to update status")
	}
	return nil
}

// List retrieves all installs, newest first
func (r *Repository) List(ctx context.Context) ([]*Install, error) {
	query := `SELECT ` + installColumns + ` FROM installs ORDER BY created_at DESC, id DESC`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		slog.Error("database_list_query_failed", "error", err)
		return nil, errors.Wrap(err, "failed to list installs")
	}
	defer rows.Close()

	var installs []*Install
	for rows.Next() {
		inst, err := scanInstall(rows)
		if err != nil {
			slog.Error("database_scan_row_failed", "error", err)
			return nil, errors.Wrap(err, "failed to scan row")
		}
		installs = append(installs, inst)
	}

	if err := rows.Err(); err != nil {
		slog.Error("database_rows_error", "error", err)
		return nil, errors.Wrap(err, "rows error")
	}

	slog.Debug("database_list_complete", "install_count", len(installs))
	return installs, nil
}

// Delete deletes an install by run ID
func (r *Repository) Delete(ctx context.Context, runID string) error {
	slog.Info("database_delete_install", "run_id", runID)

	if _, err := r.db.ExecContext(ctx, `DELETE FROM installs WHERE run_id = ?`, runID); err != nil {
		slog.Error("database_delete_failed", "run_id", runID, "error", err)
		return errors.Wrap(err, "failed to delete install")
	}
	return nil
}

// DeleteFinished removes every completed or failed run and returns how many went.
func (r *Repository) DeleteFinished(ctx context.Context) (int64, error) {
	query := `DELETE FROM installs WHERE status IN (?, ?)`
	return r.deleteWhere(ctx, query, StatusCompleted, StatusFailed)
}

// DeleteOlderThan removes finished runs created more than age ago.
func (r *Repository) DeleteOlderThan(ctx context.Context, age time.Duration) (int64, error) {
	query := `DELETE FROM installs WHERE status IN (?, ?) AND created_at < datetime('now', ?)`
	modifier := fmt.Sprintf("-%d seconds", int64(age.Seconds()))
	return r.deleteWhere(ctx, query, StatusCompleted, StatusFailed, modifier)
}

func (r *Repository) deleteWhere(ctx context.Context, query string, args ...any) (int64, error) {
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		slog.Error("database_delete_failed", "error", err)
		return 0, errors.Wrap(err, "failed to delete installs")
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, errors.Wrap(err, "failed to get rows affected")
	}
	slog.Info("database_installs_deleted", "count", n)
	return n, nil
}

// MarkInterrupted fails every run still in a non-terminal status. It is called
// once at startup: such runs belonged to a process that no longer exists.
func (r *Repository) MarkInterrupted(ctx context.Context) (int64, error) {
	query := `
		UPDATE installs
		SET status = ?, error_kind = ?, error_message = ?, updated_at = CURRENT_TIMESTAMP
		WHERE status NOT IN (?, ?)
	`
	result, err := r.db.ExecContext(ctx, query,
		StatusFailed, KindInterrupted, "Install interrupted before completion",
		StatusCompleted, StatusFailed)
	if err != nil {
		slog.Error("database_mark_interrupted_failed", "error", err)
		return 0, errors.Wrap(err, "failed to mark interrupted installs")
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, errors.Wrap(err, "failed to get rows affected")
	}
	if n > 0 {
		slog.Warn("database_installs_interrupted", "count", n)
	}
	return n, nil
}
