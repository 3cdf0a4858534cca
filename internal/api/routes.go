// routes.go - Route registration helpers
// This file provides a clean way to register all API routes
package api

import (
	"time"

	"github.com/labstack/echo/v4"

	"github.com/incapacidades/backend/internal/requirements"
)

// Dependencies holds all handler dependencies
type Dependencies struct {
	Sessions         SessionManager
	Resolver         *requirements.Resolver
	Scorer           Scorer
	Backend          BackendPinger
	Ledger           SubmissionLister
	MaxDocumentBytes int64
	WaitTimeout      time.Duration
	Version          string
}

// Handlers holds all handler instances
type Handlers struct {
	Health       HealthHandler
	Requirements RequirementsHandler
	Quality      QualityHandler
	Wizard       WizardHandler
	Submissions  SubmissionHandler
	WebSocket    *WebSocketHandler
}

// NewHandlers creates all handler instances
func NewHandlers(deps *Dependencies) *Handlers {
	resolver := deps.Resolver
	if resolver == nil && deps.Sessions != nil {
		resolver = deps.Sessions.Resolver()
	}
	return &Handlers{
		Health:       NewHealthHandler(deps.Version, deps.Backend),
		Requirements: NewRequirementsHandler(resolver),
		Quality:      NewQualityHandler(deps.Scorer, deps.MaxDocumentBytes),
		Wizard:       NewWizardHandler(deps.Sessions, deps.MaxDocumentBytes, deps.WaitTimeout),
		Submissions:  NewSubmissionHandler(deps.Ledger),
		WebSocket:    NewWebSocketHandler(deps.Sessions, 0),
	}
}

// RegisterRoutes registers all API routes with the Echo instance
func RegisterRoutes(e *echo.Echo, handlers *Handlers) {
	apiGroup := e.Group("/api")

	// Health check
	apiGroup.GET("/health", handlers.Health.HandleHealth)

	// Stateless helpers
	apiGroup.GET("/requirements", handlers.Requirements.HandleGetRequirements)
	apiGroup.POST("/quality", handlers.Quality.HandleScoreImage)

	// Wizard sessions
	sessionGroup := apiGroup.Group("/sessions")
	sessionGroup.POST("", handlers.Wizard.HandleStartSession)
	sessionGroup.GET("/:sessionId", handlers.Wizard.HandleGetSession)
	sessionGroup.DELETE("/:sessionId", handlers.Wizard.HandleDeleteSession)
	sessionGroup.GET("/:sessionId/msgpack", handlers.Wizard.HandleGetSessionMsgpack)
	sessionGroup.GET("/:sessionId/ws", handlers.WebSocket.HandleWebSocket)
	sessionGroup.POST("/:sessionId/identity", handlers.Wizard.HandleSubmitIdentity)
	sessionGroup.POST("/:sessionId/identity/confirm", handlers.Wizard.HandleConfirmIdentity)
	sessionGroup.POST("/:sessionId/category", handlers.Wizard.HandleSelectCategory)
	sessionGroup.POST("/:sessionId/detail", handlers.Wizard.HandleSetDetail)
	sessionGroup.POST("/:sessionId/documents", handlers.Wizard.HandleAttachDocument)
	sessionGroup.DELETE("/:sessionId/documents", handlers.Wizard.HandleRemoveDocument)
	sessionGroup.POST("/:sessionId/contact/proceed", handlers.Wizard.HandleProceedToContact)
	sessionGroup.POST("/:sessionId/back", handlers.Wizard.HandleBack)
	sessionGroup.POST("/:sessionId/submit", handlers.Wizard.HandleSubmit)

	// Submission ledger
	apiGroup.GET("/submissions/recent", handlers.Submissions.HandleRecentSubmissions)
}

// SetupMiddleware configures the error handler and JSON codec
func SetupMiddleware(e *echo.Echo) {
	e.HTTPErrorHandler = ErrorHandler
	e.JSONSerializer = JSONSerializer{}
}
