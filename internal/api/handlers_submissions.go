// handlers_submissions.go - Submission ledger handlers
package api

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
)

// SubmissionHandlerImpl implements the SubmissionHandler interface
type SubmissionHandlerImpl struct {
	ledger SubmissionLister
}

// NewSubmissionHandler creates a new submission handler
func NewSubmissionHandler(ledger SubmissionLister) SubmissionHandler {
	return &SubmissionHandlerImpl{ledger: ledger}
}

// HandleRecentSubmissions returns the latest submission attempts, newest first
func (h *SubmissionHandlerImpl) HandleRecentSubmissions(c echo.Context) error {
	if h.ledger == nil {
		return NewServiceUnavailableError("submission ledger disabled")
	}

	limit := 50
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 500 {
			return NewValidationError("limit", "limit must be between 1 and 500")
		}
		limit = n
	}

	entries, err := h.ledger.Recent(c.Request().Context(), limit)
	if err != nil {
		return NewInternalError("failed to read submissions", err)
	}
	return c.JSON(http.StatusOK, entries)
}
