// Package api provides the HTTP API server for the Aegis service.
package api

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aegisdq/aegis/internal/api/middleware"
	"github.com/aegisdq/aegis/internal/config"
)

const (
	// DefaultPort is the default HTTP server port.
	DefaultPort = 8080
	// MaxPort is the maximum valid port number.
	MaxPort = 65535
	// DefaultHost is the default server host.
	DefaultHost = "0.0.0.0"
	// DefaultTimeout is the default timeout for HTTP operations.
	DefaultTimeout = 30 * time.Second
	// DefaultLogLevel is the default log level.
	DefaultLogLevel = slog.LevelInfo
	// DefaultCORSMaxAge is the default CORS max age (24 hours).
	DefaultCORSMaxAge = 86400
	// DefaultMaxRequestSize caps request bodies at 1 MiB.
	DefaultMaxRequestSize = 1 << 20
)

// Static validation errors.
var (
	ErrInvalidPort            = errors.New("invalid port")
	ErrEmptyHost              = errors.New("host cannot be empty")
	ErrInvalidReadTimeout     = errors.New("read timeout must be positive")
	ErrInvalidWriteTimeout    = errors.New("write timeout must be positive")
	ErrInvalidShutdownTimeout = errors.New("shutdown timeout must be positive")
)

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port               int
	Host               string
	ReadTimeout        time.Duration
	WriteTimeout       time.Duration
	ShutdownTimeout    time.Duration
	LogLevel           slog.Level
	APIKey             string
	MaxRequestSize     int64
	CORSAllowedOrigins []string
	CORSAllowedMethods []string
	CORSAllowedHeaders []string
	CORSMaxAge         int
}

// LoadServerConfig loads server configuration from environment variables with
// sensible defaults. The operator API key comes from API_KEY; an unset value
// (or the literal dev key) disables authentication.
func LoadServerConfig() ServerConfig {
	return ServerConfig{
		Port:            config.GetEnvInt("AEGIS_PORT", DefaultPort),
		Host:            config.GetEnvStr("AEGIS_HOST", DefaultHost),
		ReadTimeout:     config.GetEnvDuration("AEGIS_READ_TIMEOUT", DefaultTimeout),
		WriteTimeout:    config.GetEnvDuration("AEGIS_WRITE_TIMEOUT", DefaultTimeout),
		ShutdownTimeout: config.GetEnvDuration("AEGIS_SHUTDOWN_TIMEOUT", DefaultTimeout),
		LogLevel:        config.GetEnvLogLevel("LOG_LEVEL", DefaultLogLevel),
		APIKey:          config.GetEnvStr("API_KEY", ""),
		MaxRequestSize:  config.GetEnvInt64("AEGIS_MAX_REQUEST_SIZE", DefaultMaxRequestSize),
		// CORS defaults are development-friendly and should be restricted in
		// production via the environment.
		CORSAllowedOrigins: config.ParseCommaSeparatedList(config.GetEnvStr("AEGIS_CORS_ALLOWED_ORIGINS", "*")),
		CORSAllowedMethods: config.ParseCommaSeparatedList(
			config.GetEnvStr("AEGIS_CORS_ALLOWED_METHODS", "GET,POST,PUT,DELETE,OPTIONS")),
		CORSAllowedHeaders: config.ParseCommaSeparatedList(
			config.GetEnvStr("AEGIS_CORS_ALLOWED_HEADERS", "Content-Type,Authorization,X-Correlation-ID,X-API-Key")),
		CORSMaxAge: config.GetEnvInt("AEGIS_CORS_MAX_AGE", DefaultCORSMaxAge),
	}
}

// Address returns the server address in host:port format.
func (c ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// ToCORSConfig converts ServerConfig CORS fields to the middleware's provider shape.
func (c ServerConfig) ToCORSConfig() CORSConfig {
	return CORSConfig{
		AllowedOrigins: c.CORSAllowedOrigins,
		AllowedMethods: c.CORSAllowedMethods,
		AllowedHeaders: c.CORSAllowedHeaders,
		MaxAge:         c.CORSMaxAge,
	}
}

// ToAuthConfig converts the configured API key to the middleware's auth settings.
func (c ServerConfig) ToAuthConfig() middleware.AuthConfig {
	return middleware.AuthConfig{APIKey: c.APIKey}
}

// CORSConfig holds CORS configuration options.
type CORSConfig struct {
	AllowedOrigins []string
	AllowedMethods []string
	AllowedHeaders []string
	MaxAge         int
}

// GetAllowedOrigins returns the allowed origins for CORS.
func (c CORSConfig) GetAllowedOrigins() []string {
	return c.AllowedOrigins
}

// GetAllowedMethods returns the allowed methods for CORS.
func (c CORSConfig) GetAllowedMethods() []string {
	return c.AllowedMethods
}

// GetAllowedHeaders returns the allowed headers for CORS.
func (c CORSConfig) GetAllowedHeaders() []string {
	return c.AllowedHeaders
}

// GetMaxAge returns the max age for CORS preflight cache.
func (c CORSConfig) GetMaxAge() int {
	return c.MaxAge
}

// Validate validates the server configuration.
func (c ServerConfig) Validate() error {
	if c.Port <= 0 || c.Port > MaxPort {
		return fmt.Errorf("%w: %d, must be between 1 and %d", ErrInvalidPort, c.Port, MaxPort)
	}

	if c.Host == "" {
		return ErrEmptyHost
	}

	if c.ReadTimeout <= 0 {
		return fmt.Errorf("%w: got %v", ErrInvalidReadTimeout, c.ReadTimeout)
	}

	if c.WriteTimeout <= 0 {
		return fmt.Errorf("%w: got %v", ErrInvalidWriteTimeout, c.WriteTimeout)
	}

	if c.ShutdownTimeout <= 0 {
		return fmt.Errorf("%w: got %v", ErrInvalidShutdownTimeout, c.ShutdownTimeout)
	}

	return nil
}
