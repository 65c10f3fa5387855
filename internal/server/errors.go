package server

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/piflash/piflash/pkg/errors"
)

// ErrorResponse is the JSON body of every failed request.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// statusFor maps an install error kind onto an HTTP status.
func statusFor(kind errors.Kind) int {
	switch kind {
	case errors.KindInvalidOsSelection, errors.KindInvalidStorageTarget, errors.KindInvalidAccount:
		return http.StatusBadRequest
	case errors.KindInstallBusy:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// HTTPErrorHandler converts handler errors into ErrorResponse bodies.
func (s *Server) HTTPErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		slog.Info("http_error_after_commit", "path", c.Path(), "error", err)
		return
	}

	status := http.StatusInternalServerError
	body := ErrorResponse{Error: "Internal server error"}

	var ie *errors.InstallError
	var he *echo.HTTPError
	switch {
	case errors.As(err, &ie):
		status = statusFor(ie.Kind)
		body = ErrorResponse{Error: ie.Message, Code: string(ie.Kind)}
	case errors.As(err, &he):
		status = he.Code
		body.Error = fmt.Sprint(he.Message)
	}

	if status >= http.StatusInternalServerError {
		slog.Error("http_request_failed", "path", c.Path(), "status", status, "error", err)
	} else {
		slog.Warn("http_request_rejected", "path", c.Path(), "status", status, "error", err)
	}

	if c.Request().Method == http.MethodHead {
		err = c.NoContent(status)
	} else {
		err = c.JSON(status, body)
	}
	if err != nil {
		slog.Error("http_error_response_failed", "error", err)
	}
}
