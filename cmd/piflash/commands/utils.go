package commands

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/piflash/piflash/internal/config"
	"github.com/piflash/piflash/pkg/broadcast"
	"github.com/piflash/piflash/pkg/db"
	"github.com/piflash/piflash/pkg/drives"
	"github.com/piflash/piflash/pkg/errors"
	appfsm "github.com/piflash/piflash/pkg/fsm"
	"github.com/piflash/piflash/pkg/osimage"
	"github.com/piflash/piflash/pkg/provision"
	"github.com/piflash/piflash/pkg/security"
	"github.com/piflash/piflash/pkg/writer"
	"github.com/spf13/afero"
	"github.com/superfly/fsm"
)

// loadConfig loads and validates configuration and applies its logging settings.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, errors.Wrap(err, "config load failed")
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "config invalid")
	}
	setupLogger(cfg)
	return cfg, nil
}

func setupLogger(cfg *config.Config) {
	level, _ := config.ParseLevel(cfg.LogLevel)
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler = slog.NewTextHandler(os.Stdout, opts)
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
}

// ensureDirectories creates all necessary directories for the application
func ensureDirectories(sqlitePath, fsmDBPath string) error {
	if err := os.MkdirAll(filepath.Dir(sqlitePath), 0755); err != nil {
		return errors.Wrap(err, "failed to create database directory")
	}

	// Only commands that run installs need the FSM directory
	if fsmDBPath != "" {
		if err := os.MkdirAll(fsmDBPath, 0755); err != nil {
			return errors.Wrap(err, "failed to create FSM directory")
		}
	}

	return nil
}

func openRepository(cfg *config.Config) (*db.Repository, error) {
	if err := ensureDirectories(cfg.SQLitePath, ""); err != nil {
		return nil, err
	}
	repo, err := db.NewRepository(cfg.SQLitePath)
	if err != nil {
		return nil, errors.Wrap(err, "db init failed")
	}
	return repo, nil
}

func newWriter(cfg *config.Config) (writer.Writer, error) {
	if cfg.Writer == config.WriterNative {
		return writer.NewNativeWriter(), nil
	}
	w, err := writer.NewShellWriter(cfg.BlockSize, cfg.UseSudo)
	if err != nil {
		return nil, errors.Wrap(err, "shell writer init failed")
	}
	return w, nil
}

// pipeline is everything an install needs, wired from configuration.
type pipeline struct {
	repo    *db.Repository
	manager *fsm.Manager
	machine *appfsm.Machine
	hub     *broadcast.Hub
	enum    drives.Enumerator
	catalog *osimage.Catalog
}

func newPipeline(ctx context.Context, cfg *config.Config) (*pipeline, error) {
	if err := ensureDirectories(cfg.SQLitePath, cfg.FSMDBPath); err != nil {
		return nil, err
	}

	enum, err := drives.NewEnumerator()
	if err != nil {
		return nil, errors.Wrap(err, "drive enumerator init failed")
	}

	w, err := newWriter(cfg)
	if err != nil {
		return nil, err
	}

	hasher, err := provision.NewBcryptHasher(cfg.BcryptCost)
	if err != nil {
		return nil, errors.Wrap(err, "hasher init failed")
	}

	repo, err := db.NewRepository(cfg.SQLitePath)
	if err != nil {
		return nil, errors.Wrap(err, "db init failed")
	}

	manager, err := fsm.New(fsm.Config{DBPath: cfg.FSMDBPath})
	if err != nil {
		repo.Close()
		return nil, errors.Wrap(err, "FSM manager failed")
	}

	validator := security.NewValidator("/dev")
	catalog := osimage.Default(cfg.ImagesDir)
	hub := broadcast.NewHub()

	machine := appfsm.NewMachine(appfsm.Deps{
		Repo:      repo,
		Catalog:   catalog,
		Resolver:  drives.NewResolver(enum, validator),
		Writer:    w,
		Stage:     provision.NewStage(afero.NewOsFs()),
		Hasher:    hasher,
		Validator: validator,
		Hub:       hub,
	})
	if err := machine.Register(ctx, manager); err != nil {
		manager.Shutdown(10 * time.Second)
		repo.Close()
		return nil, err
	}

	slog.Info("pipeline_ready", "writer", cfg.Writer, "images_dir", cfg.ImagesDir)
	return &pipeline{
		repo:    repo,
		manager: manager,
		machine: machine,
		hub:     hub,
		enum:    enum,
		catalog: catalog,
	}, nil
}

func (p *pipeline) Close() {
	p.manager.Shutdown(10 * time.Second)
	p.repo.Close()
}
