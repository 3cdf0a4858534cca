// Package config provides XML-based configuration for the intake service.
package config

import (
	"encoding/xml"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// AppConfig represents the root XML configuration structure
type AppConfig struct {
	XMLName xml.Name `xml:"IncapacidadIntake"`

	// Server configuration
	Server ServerConfig `xml:"Server"`

	// HR backend the wizard talks to
	Backend BackendConfig `xml:"Backend"`

	// Storage configuration
	Storage StorageConfig `xml:"Storage"`

	// Processing configuration
	Processing ProcessingConfig `xml:"Processing"`

	// Advanced options
	Advanced AdvancedConfig `xml:"Advanced"`
}

// ServerConfig contains HTTP server settings
type ServerConfig struct {
	Port         int    `xml:"Port"`
	BindAddress  string `xml:"BindAddress"`
	EnableCORS   bool   `xml:"EnableCORS"`
	AllowOrigins string `xml:"AllowOrigins"`
	ReadTimeout  int    `xml:"ReadTimeoutSeconds"`
	WriteTimeout int    `xml:"WriteTimeoutSeconds"`
	IdleTimeout  int    `xml:"IdleTimeoutSeconds"`
	BodyLimit    string `xml:"BodyLimit"`
}

// BackendConfig locates the HR backend
type BackendConfig struct {
	URL            string `xml:"URL"`
	TimeoutSeconds int    `xml:"TimeoutSeconds"`
}

// StorageConfig contains local storage settings
type StorageConfig struct {
	DataDirectory string `xml:"DataDirectory"`
	EnableLedger  bool   `xml:"EnableLedger"`
}

// ProcessingConfig contains session and scoring settings
type ProcessingConfig struct {
	SessionTimeoutMinutes  int   `xml:"SessionTimeoutMinutes"`
	CleanupIntervalMinutes int   `xml:"CleanupIntervalMinutes"`
	MaxSessions            int   `xml:"MaxSessions"`
	MaxDocumentBytes       int64 `xml:"MaxDocumentBytes"`
	DecodeTimeoutSeconds   int   `xml:"DecodeTimeoutSeconds"`
	MaxImagePixels         int   `xml:"MaxImagePixels"`
	WaitTimeoutSeconds     int   `xml:"WaitTimeoutSeconds"`
}

// AdvancedConfig contains advanced/tuning options
type AdvancedConfig struct {
	EnableRequestLogging bool   `xml:"EnableRequestLogging"`
	ShowErrorDetails     bool   `xml:"ShowErrorDetails"`
	LabelCatalogPath     string `xml:"LabelCatalogPath"`
}

// backendURLEnv lists the variables checked for the backend URL, first match wins.
var backendURLEnv = []string{"BACKEND_URL", "REACT_APP_BACKEND_URL", "VITE_BACKEND_URL"}

// DefaultConfig returns the default configuration
func DefaultConfig() *AppConfig {
	return &AppConfig{
		Server: ServerConfig{
			Port:         8090,
			BindAddress:  "0.0.0.0",
			EnableCORS:   true,
			AllowOrigins: "*",
			ReadTimeout:  30,
			WriteTimeout: 60,
			IdleTimeout:  120,
			BodyLimit:    "64M",
		},
		Backend: BackendConfig{
			URL:            "",
			TimeoutSeconds: 30,
		},
		Storage: StorageConfig{
			DataDirectory: "./data",
			EnableLedger:  true,
		},
		Processing: ProcessingConfig{
			SessionTimeoutMinutes:  30,
			CleanupIntervalMinutes: 5,
			MaxSessions:            200,
			MaxDocumentBytes:       10 << 20,
			DecodeTimeoutSeconds:   10,
			MaxImagePixels:         40_000_000,
			WaitTimeoutSeconds:     15,
		},
		Advanced: AdvancedConfig{
			EnableRequestLogging: true,
			ShowErrorDetails:     false,
			LabelCatalogPath:     "",
		},
	}
}

// LoadConfig loads configuration from XML file. A missing file is created
// with the defaults.
func LoadConfig(configPath string) (*AppConfig, error) {
	var config *AppConfig

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		config = DefaultConfig()
		if err := config.Save(configPath); err != nil {
			return nil, fmt.Errorf("failed to create default config: %w", err)
		}
	} else {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}

		config = DefaultConfig()
		if err := xml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	// Apply environment variable overrides
	config.applyEnvironmentOverrides()

	// Resolve relative paths
	config.resolvePaths(filepath.Dir(configPath))

	return config, nil
}

// Save saves the configuration to XML file
func (c *AppConfig) Save(configPath string) error {
	output, err := xml.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	header := []byte(xml.Header + "\n<!-- Incapacidad intake service configuration -->\n<!-- This file is auto-generated on first run -->\n\n")
	content := append(header, output...)

	if err := os.WriteFile(configPath, content, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// applyEnvironmentOverrides allows environment variables to override config values
func (c *AppConfig) applyEnvironmentOverrides() {
	// PORT override
	if port := os.Getenv("PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			c.Server.Port = p
		}
	}

	// DATA_DIR override
	if dataDir := os.Getenv("DATA_DIR"); dataDir != "" {
		c.Storage.DataDirectory = dataDir
	}

	for _, name := range backendURLEnv {
		if u := os.Getenv(name); u != "" {
			c.Backend.URL = u
			break
		}
	}
	c.Backend.URL = strings.TrimRight(strings.TrimSpace(c.Backend.URL), "/")

	if catalog := os.Getenv("LABEL_CATALOG"); catalog != "" {
		c.Advanced.LabelCatalogPath = catalog
	}
}

// resolvePaths converts relative paths to absolute based on config file location
func (c *AppConfig) resolvePaths(configDir string) {
	if !filepath.IsAbs(c.Storage.DataDirectory) {
		c.Storage.DataDirectory = filepath.Join(configDir, c.Storage.DataDirectory)
	}
	if c.Advanced.LabelCatalogPath != "" && !filepath.IsAbs(c.Advanced.LabelCatalogPath) {
		c.Advanced.LabelCatalogPath = filepath.Join(configDir, c.Advanced.LabelCatalogPath)
	}
}

// GetDataDir returns the absolute data directory path
func (c *AppConfig) GetDataDir() string {
	return c.Storage.DataDirectory
}

// GetServerAddr returns the server bind address
func (c *AppConfig) GetServerAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.BindAddress, c.Server.Port)
}

// BackendTimeout returns the per-call backend deadline
func (c *AppConfig) BackendTimeout() time.Duration {
	return time.Duration(c.Backend.TimeoutSeconds) * time.Second
}

// SessionTimeout returns how long an idle session is kept
func (c *AppConfig) SessionTimeout() time.Duration {
	return time.Duration(c.Processing.SessionTimeoutMinutes) * time.Minute
}

// CleanupInterval returns the idle-session sweep period, at least one minute
func (c *AppConfig) CleanupInterval() time.Duration {
	if c.Processing.CleanupIntervalMinutes < 1 {
		return time.Minute
	}
	return time.Duration(c.Processing.CleanupIntervalMinutes) * time.Minute
}

// EnsureDirectories creates all necessary directories
func (c *AppConfig) EnsureDirectories() error {
	if err := os.MkdirAll(c.Storage.DataDirectory, 0755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", c.Storage.DataDirectory, err)
	}
	return nil
}
