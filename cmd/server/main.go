package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/incapacidades/backend/internal/api"
	"github.com/incapacidades/backend/internal/backend"
	"github.com/incapacidades/backend/internal/config"
	"github.com/incapacidades/backend/internal/ledger"
	"github.com/incapacidades/backend/internal/quality"
	"github.com/incapacidades/backend/internal/requirements"
	"github.com/incapacidades/backend/internal/session"
)

// Version info (set during build)
var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	// Get the executable's directory for config resolution
	exePath, err := os.Executable()
	if err != nil {
		fmt.Printf("Failed to get executable path: %v\n", err)
		os.Exit(1)
	}
	configPath := filepath.Join(filepath.Dir(exePath), "IncapacidadIntake.config")
	if p := os.Getenv("CONFIG_PATH"); p != "" {
		configPath = p
	}

	// Load XML configuration
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	if err := cfg.EnsureDirectories(); err != nil {
		fmt.Printf("Failed to create directories: %v\n", err)
		os.Exit(1)
	}

	api.IncludeErrorDetails = cfg.Advanced.ShowErrorDetails

	// Document labels, optionally overridden from YAML
	catalog := requirements.DefaultCatalog()
	if cfg.Advanced.LabelCatalogPath != "" {
		catalog, err = requirements.LoadCatalog(cfg.Advanced.LabelCatalogPath)
		if err != nil {
			fmt.Printf("Failed to load label catalog: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Loaded document labels from %s\n", cfg.Advanced.LabelCatalogPath)
	}
	resolver := requirements.NewResolver(catalog)

	scorer := quality.NewScorer(
		time.Duration(cfg.Processing.DecodeTimeoutSeconds)*time.Second,
		cfg.Processing.MaxImagePixels,
	)

	if cfg.Backend.URL == "" {
		fmt.Println("Warning: no backend URL configured; identity lookup and submission will fail")
	}
	backendClient := backend.NewClient(cfg.Backend.URL, cfg.BackendTimeout())

	opts := session.Options{
		Resolver:         resolver,
		Scorer:           scorer,
		Backend:          backendClient,
		MaxSessions:      cfg.Processing.MaxSessions,
		MaxDocumentBytes: cfg.Processing.MaxDocumentBytes,
	}
	deps := &api.Dependencies{
		Resolver:         resolver,
		Scorer:           scorer,
		Backend:          backendClient,
		MaxDocumentBytes: cfg.Processing.MaxDocumentBytes,
		WaitTimeout:      time.Duration(cfg.Processing.WaitTimeoutSeconds) * time.Second,
		Version:          Version,
	}

	// Submission ledger
	var store *ledger.DuckStore
	if cfg.Storage.EnableLedger {
		store, err = ledger.NewDuckStore(cfg.GetDataDir())
		if err != nil {
			fmt.Printf("Failed to open submission ledger: %v\n", err)
			os.Exit(1)
		}
		defer store.Close()
		opts.Ledger = store
		deps.Ledger = store
	}

	sessionMgr := session.NewManager(opts)
	deps.Sessions = sessionMgr

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Start background session cleanup
	go func() {
		ticker := time.NewTicker(cfg.CleanupInterval())
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				sessionMgr.CleanupOldSessions(cfg.SessionTimeout())
			case <-ctx.Done():
				return
			}
		}
	}()

	e := echo.New()
	e.HideBanner = true
	api.SetupMiddleware(e)

	// Configure middleware
	e.Use(middleware.LoggerWithConfig(middleware.LoggerConfig{
		Skipper: func(c echo.Context) bool {
			if !cfg.Advanced.EnableRequestLogging {
				return true
			}
			path := c.Request().URL.Path
			return path == "/api/health" || strings.HasSuffix(path, "/ws")
		},
	}))

	e.Use(middleware.RecoverWithConfig(middleware.RecoverConfig{
		StackSize:         1024 * 4,
		DisablePrintStack: false,
	}))

	e.Use(middleware.TimeoutWithConfig(middleware.TimeoutConfig{
		Timeout: time.Duration(cfg.Server.ReadTimeout) * time.Second,
		Skipper: func(c echo.Context) bool {
			path := c.Request().URL.Path
			return strings.HasSuffix(path, "/documents") ||
				strings.HasSuffix(path, "/submit") ||
				strings.HasSuffix(path, "/ws")
		},
		ErrorMessage: "Request timeout",
	}))

	e.Use(middleware.BodyLimit(cfg.Server.BodyLimit))

	// CORS configuration
	if cfg.Server.EnableCORS {
		origins := strings.Split(cfg.Server.AllowOrigins, ",")
		for i := range origins {
			origins[i] = strings.TrimSpace(origins[i])
		}
		if len(origins) == 0 || (len(origins) == 1 && origins[0] == "") {
			origins = []string{"*"}
		}
		e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
			AllowOrigins: origins,
			AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
			AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept},
		}))
	}

	api.RegisterRoutes(e, api.NewHandlers(deps))

	// Configure server with settings from XML config
	s := &http.Server{
		Addr:         cfg.GetServerAddr(),
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		IdleTimeout:  time.Duration(cfg.Server.IdleTimeout) * time.Second,
	}

	backendURL := cfg.Backend.URL
	if backendURL == "" {
		backendURL = "(not configured)"
	}

	fmt.Printf("\n")
	fmt.Printf("╔═══════════════════════════════════════════════════════════╗\n")
	fmt.Printf("║           Incapacidad Intake Server                       ║\n")
	fmt.Printf("╠═══════════════════════════════════════════════════════════╣\n")
	fmt.Printf("║  Version:    %-45s║\n", Version)
	fmt.Printf("║  Build Time: %-45s║\n", BuildTime)
	fmt.Printf("╠═══════════════════════════════════════════════════════════╣\n")
	fmt.Printf("║  Config:    %-46s║\n", configPath)
	fmt.Printf("║  Listen:    http://%-38s║\n", cfg.GetServerAddr())
	fmt.Printf("║  Backend:   %-46s║\n", backendURL)
	fmt.Printf("║  Data Dir:  %-46s║\n", cfg.GetDataDir())
	fmt.Printf("╚═══════════════════════════════════════════════════════════╝\n")
	fmt.Printf("\n")

	go func() {
		if err := e.StartServer(s); err != nil && err != http.ErrServerClosed {
			fmt.Printf("Server error: %v\n", err)
			stop()
		}
	}()

	<-ctx.Done()
	fmt.Println("Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		fmt.Printf("Shutdown error: %v\n", err)
	}
}
