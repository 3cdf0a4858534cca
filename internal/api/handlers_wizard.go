// handlers_wizard.go - Intake wizard session handlers
package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/incapacidades/backend/internal/models"
	"github.com/incapacidades/backend/internal/requirements"
	"github.com/incapacidades/backend/internal/session"
)

// DefaultWaitTimeout bounds ?wait=true document uploads.
const DefaultWaitTimeout = 15 * time.Second

// WizardHandlerImpl implements the WizardHandler interface
type WizardHandlerImpl struct {
	sessions    SessionManager
	maxBytes    int64
	waitTimeout time.Duration
}

// NewWizardHandler creates a new wizard handler instance
func NewWizardHandler(sessions SessionManager, maxBytes int64, waitTimeout time.Duration) WizardHandler {
	if waitTimeout <= 0 {
		waitTimeout = DefaultWaitTimeout
	}
	return &WizardHandlerImpl{
		sessions:    sessions,
		maxBytes:    maxBytes,
		waitTimeout: waitTimeout,
	}
}

// HandleStartSession opens a new intake session at the identity step
func (h *WizardHandlerImpl) HandleStartSession(c echo.Context) error {
	ws, err := h.sessions.Start()
	if err != nil {
		return toAPIError(err, "")
	}
	return c.JSON(http.StatusCreated, ws)
}

// HandleGetSession returns the current snapshot of a session
func (h *WizardHandlerImpl) HandleGetSession(c echo.Context) error {
	id := c.Param("sessionId")
	ws, ok := h.sessions.Get(id)
	if !ok {
		return NewNotFoundError("session", id)
	}
	return c.JSON(http.StatusOK, ws)
}

// HandleGetSessionMsgpack returns the session snapshot in MessagePack format
func (h *WizardHandlerImpl) HandleGetSessionMsgpack(c echo.Context) error {
	id := c.Param("sessionId")
	ws, ok := h.sessions.Get(id)
	if !ok {
		return NewNotFoundError("session", id)
	}

	data, err := msgpack.Marshal(ws)
	if err != nil {
		return NewInternalError("failed to encode msgpack", err)
	}
	return c.Blob(http.StatusOK, "application/msgpack", data)
}

// HandleDeleteSession abandons a session and its uploads
func (h *WizardHandlerImpl) HandleDeleteSession(c echo.Context) error {
	id := c.Param("sessionId")
	if err := h.sessions.Delete(id); err != nil {
		return toAPIError(err, id)
	}
	return c.NoContent(http.StatusNoContent)
}

// HandleSubmitIdentity looks the claimant up by cedula
func (h *WizardHandlerImpl) HandleSubmitIdentity(c echo.Context) error {
	var req identityRequest
	if err := c.Bind(&req); err != nil {
		return NewBadRequestError("invalid request body", err)
	}
	id := c.Param("sessionId")
	return respond(c, id)(h.sessions.SubmitIdentity(c.Request().Context(), id, req.Cedula))
}

// HandleConfirmIdentity accepts or rejects the looked-up employee
func (h *WizardHandlerImpl) HandleConfirmIdentity(c echo.Context) error {
	var req confirmIdentityRequest
	if err := c.Bind(&req); err != nil {
		return NewBadRequestError("invalid request body", err)
	}
	if req.Confirmed == nil {
		return NewValidationError("confirmed", "requerido")
	}
	id := c.Param("sessionId")
	return respond(c, id)(h.sessions.ConfirmIdentity(id, *req.Confirmed))
}

// HandleSelectCategory records the claim category
func (h *WizardHandlerImpl) HandleSelectCategory(c echo.Context) error {
	var req categoryRequest
	if err := c.Bind(&req); err != nil {
		return NewBadRequestError("invalid request body", err)
	}
	id := c.Param("sessionId")
	return respond(c, id)(h.sessions.SelectCategory(id, requirements.Category(req.Category), req.MotherWorks))
}

// HandleSetDetail records the subtype answers of an "other" claim
func (h *WizardHandlerImpl) HandleSetDetail(c echo.Context) error {
	var req detailRequest
	if err := c.Bind(&req); err != nil {
		return NewBadRequestError("invalid request body", err)
	}
	id := c.Param("sessionId")
	return respond(c, id)(h.sessions.SetDetail(id, session.Detail{
		Subtype:        requirements.Subtype(req.Subtype),
		DaysOfLeave:    req.DaysOfLeave,
		PhantomVehicle: req.PhantomVehicle,
	}))
}

// HandleAttachDocument stores the multipart "file" under "label" and starts
// scoring it. With ?wait=true the response carries the verdict.
func (h *WizardHandlerImpl) HandleAttachDocument(c echo.Context) error {
	id := c.Param("sessionId")
	label := c.FormValue("label")
	if label == "" {
		return NewValidationError("label", "requerido")
	}

	f, err := readFormFile(c, "file", h.maxBytes)
	if err != nil {
		return err
	}

	slot, err := h.sessions.AttachDocument(id, session.Upload{
		Label:    label,
		Filename: f.Name,
		MIMEType: f.MIMEType,
		Data:     f.Data,
	})
	if err != nil {
		return toAPIError(err, id)
	}

	wait, _ := strconv.ParseBool(c.QueryParam("wait"))
	if !wait {
		return c.JSON(http.StatusAccepted, slot)
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), h.waitTimeout)
	defer cancel()
	scored, err := h.sessions.WaitDocument(ctx, id, label)
	if err != nil {
		if ctx.Err() != nil {
			// still scoring; the client can poll the session
			return c.JSON(http.StatusAccepted, slot)
		}
		return toAPIError(err, id)
	}
	return c.JSON(http.StatusOK, scored)
}

// HandleRemoveDocument drops the upload under ?label=
func (h *WizardHandlerImpl) HandleRemoveDocument(c echo.Context) error {
	id := c.Param("sessionId")
	label := c.QueryParam("label")
	if label == "" {
		return NewValidationError("label", "requerido")
	}
	return respond(c, id)(h.sessions.RemoveDocument(id, label))
}

// HandleProceedToContact leaves the upload step once every document is legible
func (h *WizardHandlerImpl) HandleProceedToContact(c echo.Context) error {
	id := c.Param("sessionId")
	return respond(c, id)(h.sessions.ProceedToContact(id))
}

// HandleBack moves the session one step back
func (h *WizardHandlerImpl) HandleBack(c echo.Context) error {
	id := c.Param("sessionId")
	return respond(c, id)(h.sessions.Back(id))
}

// HandleSubmit sends the claim to the HR backend
func (h *WizardHandlerImpl) HandleSubmit(c echo.Context) error {
	var req submitRequest
	if err := c.Bind(&req); err != nil {
		return NewBadRequestError("invalid request body", err)
	}
	id := c.Param("sessionId")
	return respond(c, id)(h.sessions.Submit(c.Request().Context(), id, models.Contact{
		Email:    req.Email,
		Telefono: req.Telefono,
	}))
}

// respond writes a session snapshot or maps the error.
func respond(c echo.Context, id string) func(*models.WizardSession, error) error {
	return func(ws *models.WizardSession, err error) error {
		if err != nil {
			return toAPIError(err, id)
		}
		return c.JSON(http.StatusOK, ws)
	}
}

// Request types

type identityRequest struct {
	Cedula string `json:"cedula"`
}

type confirmIdentityRequest struct {
	Confirmed *bool `json:"confirmed"`
}

type categoryRequest struct {
	Category    string `json:"category"`
	MotherWorks bool   `json:"motherWorks"`
}

type detailRequest struct {
	Subtype        string `json:"subtype"`
	DaysOfLeave    *int   `json:"daysOfLeave"`
	PhantomVehicle bool   `json:"phantomVehicle"`
}

type submitRequest struct {
	Email    string `json:"email"`
	Telefono string `json:"telefono"`
}
