package commands

import (
	"context"
	stderrors "errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/piflash/piflash/internal/server"
	"github.com/piflash/piflash/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the flasher HTTP API and observer websocket",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().String("listen-addr", ":5000", "HTTP listen address")
	serveCmd.Flags().String("events-addr", ":8080", "Standalone observer websocket address (empty to disable)")
	serveCmd.Flags().StringSlice("allowed-origins", []string{"*"}, "CORS origins allowed to call the API")

	viper.BindPFlag("listen-addr", serveCmd.Flags().Lookup("listen-addr"))
	viper.BindPFlag("events-addr", serveCmd.Flags().Lookup("events-addr"))
	viper.BindPFlag("allowed-origins", serveCmd.Flags().Lookup("allowed-origins"))
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	p, err := newPipeline(ctx, cfg)
	if err != nil {
		return err
	}
	defer p.Close()

	// Runs left mid-flight by a previous process can never finish.
	if _, err := p.repo.MarkInterrupted(ctx); err != nil {
		return errors.Wrap(err, "failed to mark interrupted installs")
	}

	srv := server.New(server.Options{
		Installer:      p.machine,
		Enumerator:     p.enum,
		Catalog:        p.catalog,
		Hub:            p.hub,
		EventBuffer:    cfg.EventBuffer,
		AllowedOrigins: cfg.AllowedOrigins,
	})

	errCh := make(chan error, 2)
	go func() { errCh <- srv.Start(cfg.ListenAddr) }()
	if cfg.EventsAddr != "" {
		go func() { errCh <- srv.StartEvents(cfg.EventsAddr) }()
	}

	select {
	case <-ctx.Done():
		slog.Info("shutdown_requested")
	case err := <-errCh:
		if !stderrors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "server failed")
		}
	}

	if p.machine.Busy() {
		slog.Warn("shutdown_during_install", "note", "the install will be marked interrupted on next start")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
