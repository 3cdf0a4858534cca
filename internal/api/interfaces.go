// interfaces.go - Handler interface definitions for clean separation of concerns
package api

import (
	"context"

	"github.com/labstack/echo/v4"

	"github.com/incapacidades/backend/internal/ledger"
	"github.com/incapacidades/backend/internal/models"
	"github.com/incapacidades/backend/internal/quality"
	"github.com/incapacidades/backend/internal/requirements"
	"github.com/incapacidades/backend/internal/session"
)

// HealthHandler handles health check operations
type HealthHandler interface {
	HandleHealth(c echo.Context) error
}

// RequirementsHandler answers stateless document requirement queries
type RequirementsHandler interface {
	HandleGetRequirements(c echo.Context) error
}

// QualityHandler scores a single image without a session
type QualityHandler interface {
	HandleScoreImage(c echo.Context) error
}

// WizardHandler drives intake sessions step by step
type WizardHandler interface {
	HandleStartSession(c echo.Context) error
	HandleGetSession(c echo.Context) error
	HandleGetSessionMsgpack(c echo.Context) error
	HandleDeleteSession(c echo.Context) error
	HandleSubmitIdentity(c echo.Context) error
	HandleConfirmIdentity(c echo.Context) error
	HandleSelectCategory(c echo.Context) error
	HandleSetDetail(c echo.Context) error
	HandleAttachDocument(c echo.Context) error
	HandleRemoveDocument(c echo.Context) error
	HandleProceedToContact(c echo.Context) error
	HandleBack(c echo.Context) error
	HandleSubmit(c echo.Context) error
}

// SubmissionHandler exposes the submission ledger
type SubmissionHandler interface {
	HandleRecentSubmissions(c echo.Context) error
}

// SessionManager defines the interface for session management
// This allows mocking in tests
type SessionManager interface {
	Resolver() *requirements.Resolver
	Start() (*models.WizardSession, error)
	Get(id string) (*models.WizardSession, bool)
	Delete(id string) error
	SubmitIdentity(ctx context.Context, id, cedula string) (*models.WizardSession, error)
	ConfirmIdentity(id string, confirmed bool) (*models.WizardSession, error)
	SelectCategory(id string, category requirements.Category, motherWorks bool) (*models.WizardSession, error)
	SetDetail(id string, d session.Detail) (*models.WizardSession, error)
	AttachDocument(id string, up session.Upload) (*models.DocumentSlot, error)
	WaitDocument(ctx context.Context, id, label string) (*models.DocumentSlot, error)
	RemoveDocument(id, label string) (*models.WizardSession, error)
	ProceedToContact(id string) (*models.WizardSession, error)
	Back(id string) (*models.WizardSession, error)
	Submit(ctx context.Context, id string, contact models.Contact) (*models.WizardSession, error)
}

// Scorer rates an image file
type Scorer interface {
	Score(ctx context.Context, f quality.File) quality.Verdict
}

// BackendPinger checks the HR backend
type BackendPinger interface {
	Health(ctx context.Context) error
	BaseURL() string
}

// SubmissionLister reads the submission ledger
type SubmissionLister interface {
	Recent(ctx context.Context, limit int) ([]ledger.Entry, error)
}
