// Package server exposes the install pipeline over HTTP and streams its
// events to websocket observers.
package server

import (
	"context"
	"log/slog"
	"net/http"
	"slices"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/piflash/piflash/pkg/broadcast"
	"github.com/piflash/piflash/pkg/drives"
	"github.com/piflash/piflash/pkg/fsm"
	"github.com/piflash/piflash/pkg/metrics"
	"github.com/piflash/piflash/pkg/osimage"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Installer runs install pipelines.
type Installer interface {
	Install(ctx context.Context, req fsm.Request) (*fsm.Result, error)
	Busy() bool
}

// Options configure a Server.
type Options struct {
	Installer      Installer
	Enumerator     drives.Enumerator
	Catalog        *osimage.Catalog
	Hub            *broadcast.Hub
	EventBuffer    int
	AllowedOrigins []string
}

// Server is the HTTP surface consumed by the flasher front-end.
type Server struct {
	echo     *echo.Echo
	observer *echo.Echo
	opts     Options
	upgrader websocket.Upgrader
}

// New builds the server and registers its routes.
func New(opts Options) *Server {
	if len(opts.AllowedOrigins) == 0 {
		opts.AllowedOrigins = []string{"*"}
	}
	if opts.EventBuffer <= 0 {
		opts.EventBuffer = 64
	}

	s := &Server{opts: opts}
	s.upgrader = websocket.Upgrader{CheckOrigin: s.checkOrigin}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = s.HTTPErrorHandler
	e.Use(middleware.Recover())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{AllowOrigins: opts.AllowedOrigins}))
	e.Use(metrics.Middleware)

	for _, prefix := range []string{"", "/api"} {
		e.GET(prefix+"/drives", s.listDrives)
		e.POST(prefix+"/install", s.install)
	}
	e.GET("/os-versions", s.osVersions)
	e.GET("/events", s.events)
	e.GET("/healthz", s.health)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
	s.echo = e

	// Older front-ends connect to a dedicated websocket port at "/".
	ev := echo.New()
	ev.HideBanner = true
	ev.HidePort = true
	ev.Use(middleware.Recover())
	ev.GET("/", s.events)
	s.observer = ev

	return s
}

// Handler returns the main HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// EventsHandler returns the handler for the standalone observer port.
func (s *Server) EventsHandler() http.Handler {
	return s.observer
}

// Start serves the main handler on addr until Shutdown.
func (s *Server) Start(addr string) error {
	slog.Info("http_server_start", "addr", addr)
	return s.echo.Start(addr)
}

// StartEvents serves the standalone observer port on addr until Shutdown.
func (s *Server) StartEvents(addr string) error {
	slog.Info("events_server_start", "addr", addr)
	return s.observer.Start(addr)
}

// Shutdown stops both listeners gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	evErr := s.observer.Shutdown(ctx)
	if err := s.echo.Shutdown(ctx); err != nil {
		return err
	}
	return evErr
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || slices.Contains(s.opts.AllowedOrigins, "*") {
		return true
	}
	return slices.Contains(s.opts.AllowedOrigins, origin)
}
