// handlers_health.go - Health check handlers
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
)

// HealthHandlerImpl implements the HealthHandler interface
type HealthHandlerImpl struct {
	version string
	backend BackendPinger
}

// NewHealthHandler creates a new health handler. backend may be nil.
func NewHealthHandler(version string, backend BackendPinger) HealthHandler {
	return &HealthHandlerImpl{
		version: version,
		backend: backend,
	}
}

// HandleHealth returns server health status and whether the HR backend answers
func (h *HealthHandlerImpl) HandleHealth(c echo.Context) error {
	resp := map[string]interface{}{
		"status":  "ok",
		"version": h.version,
	}
	if h.backend == nil {
		return c.JSON(http.StatusOK, resp)
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	backendStatus := map[string]interface{}{"url": h.backend.BaseURL(), "reachable": true}
	if err := h.backend.Health(ctx); err != nil {
		backendStatus["reachable"] = false
		backendStatus["error"] = err.Error()
		resp["status"] = "degraded"
	}
	resp["backend"] = backendStatus
	return c.JSON(http.StatusOK, resp)
}
