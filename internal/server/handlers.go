package server

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/piflash/piflash/pkg/broadcast"
	"github.com/piflash/piflash/pkg/drives"
	"github.com/piflash/piflash/pkg/fsm"
)

type installBody struct {
	SelectedOS string           `json:"selectedOs"`
	Storage    drives.Selection `json:"storage"`
	Username   string           `json:"username"`
	Password   string           `json:"password"`
	TPMSetup   bool             `json:"tpmSetup"`
}

type osVersionsResponse struct {
	AvailableVersions []string `json:"availableVersions"`
}

type healthResponse struct {
	Status          string `json:"status"`
	Drives          string `json:"drives"`
	InstallInFlight bool   `json:"installInFlight"`
	Observers       int    `json:"observers"`
}

func (s *Server) listDrives(c echo.Context) error {
	list, err := drives.ListExternal(c.Request().Context(), s.opts.Enumerator)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "Error listing drives").SetInternal(err)
	}
	return c.JSON(http.StatusOK, list)
}

func (s *Server) osVersions(c echo.Context) error {
	model := c.QueryParam("model")
	return c.JSON(http.StatusOK, osVersionsResponse{
		AvailableVersions: s.opts.Catalog.AvailableVersions(model),
	})
}

// install blocks until the whole pipeline is done. Progress is reported
// out of band to observers of /events.
func (s *Server) install(c echo.Context) error {
	var body installBody
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body").SetInternal(err)
	}

	result, err := s.opts.Installer.Install(c.Request().Context(), fsm.Request{
		OSLabel:      body.SelectedOS,
		Storage:      body.Storage,
		Username:     body.Username,
		Password:     body.Password,
		ProvisionTPM: body.TPMSetup,
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, result)
}

func (s *Server) events(c echo.Context) error {
	conn, err := s.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		// The upgrader has already written the HTTP error.
		return nil
	}
	broadcast.ServeConn(s.opts.Hub, conn, s.opts.EventBuffer)
	return nil
}

func (s *Server) health(c echo.Context) error {
	resp := healthResponse{
		Status:          "ok",
		Drives:          "ok",
		InstallInFlight: s.opts.Installer.Busy(),
		Observers:       s.opts.Hub.Count(),
	}
	if _, err := s.opts.Enumerator.List(c.Request().Context()); err != nil {
		resp.Status = "degraded"
		resp.Drives = err.Error()
	}
	return c.JSON(http.StatusOK, resp)
}
