// Package coverage provides the client for the coverage reporting service:
// environment-driven connection configuration and an authenticated report
// uploader with token caching and bounded retries.
package coverage

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const envPrefix = "GRIDCI_COVERAGE_"

// Config holds the connection settings for the coverage reporting service.
type Config struct {
	// APIURL is the base URL of the coverage service API.
	APIURL string `json:"api_url"`

	// Authentication
	Username string `json:"username"`
	Password string `json:"password"`

	// SSL/TLS settings
	SSLVerify bool   `json:"ssl_verify"`
	SSLCert   string `json:"ssl_cert,omitempty"`

	// Timeout settings
	ConnectTimeout time.Duration `json:"connect_timeout"`
	RequestTimeout time.Duration `json:"request_timeout"`

	// Retry settings
	MaxRetries int           `json:"max_retries"`
	RetryDelay time.Duration `json:"retry_delay"`

	// TokenCacheTTL bounds how long an issued auth token is reused.
	TokenCacheTTL time.Duration `json:"token_cache_ttl"`
}

// Overrides carries programmatic configuration overrides. Nil fields leave
// the environment-derived default untouched.
type Overrides struct {
	APIURL         *string
	Username       *string
	Password       *string
	SSLVerify      *bool
	SSLCert        *string
	ConnectTimeout *time.Duration
	RequestTimeout *time.Duration
	MaxRetries     *int
	RetryDelay     *time.Duration
	TokenCacheTTL  *time.Duration
}

var (
	// ErrMissingCredentials is returned when username or password is absent.
	ErrMissingCredentials = errors.New("both username and password must be provided for authentication")

	// ErrInvalidAPIURL is returned when the API URL has no http(s) scheme.
	ErrInvalidAPIURL = errors.New("API URL must start with http:// or https://")
)

// Load builds a Config from environment defaults, then merges the non-nil
// override fields on top.
//
// The base URL is taken from GRIDCI_COVERAGE_API_URL when set, otherwise
// composed from GRIDCI_COVERAGE_API_HOST, _API_PORT and _API_VERSION.
func Load(overrides *Overrides) Config {
	config := Config{
		APIURL:         defaultAPIURL(),
		Username:       os.Getenv(envPrefix + "USERNAME"),
		Password:       os.Getenv(envPrefix + "PASSWORD"),
		SSLVerify:      strings.EqualFold(envOr("SSL_VERIFY", "false"), "true"),
		SSLCert:        os.Getenv(envPrefix + "SSL_CERT"),
		ConnectTimeout: envDuration("CONNECT_TIMEOUT", 30*time.Second),
		RequestTimeout: envDuration("REQUEST_TIMEOUT", 300*time.Second),
		MaxRetries:     envInt("MAX_RETRIES", 3),
		RetryDelay:     envDuration("RETRY_DELAY", time.Second),
		TokenCacheTTL:  envDuration("TOKEN_CACHE_TTL", 5*time.Minute),
	}

	if overrides == nil {
		return config
	}

	if overrides.APIURL != nil {
		config.APIURL = *overrides.APIURL
	}

	if overrides.Username != nil {
		config.Username = *overrides.Username
	}

	if overrides.Password != nil {
		config.Password = *overrides.Password
	}

	if overrides.SSLVerify != nil {
		config.SSLVerify = *overrides.SSLVerify
	}

	if overrides.SSLCert != nil {
		config.SSLCert = *overrides.SSLCert
	}

	if overrides.ConnectTimeout != nil {
		config.ConnectTimeout = *overrides.ConnectTimeout
	}

	if overrides.RequestTimeout != nil {
		config.RequestTimeout = *overrides.RequestTimeout
	}

	if overrides.MaxRetries != nil {
		config.MaxRetries = *overrides.MaxRetries
	}

	if overrides.RetryDelay != nil {
		config.RetryDelay = *overrides.RetryDelay
	}

	if overrides.TokenCacheTTL != nil {
		config.TokenCacheTTL = *overrides.TokenCacheTTL
	}

	return config
}

// Validate checks that the configuration is usable.
func (c Config) Validate() error {
	if c.Username == "" || c.Password == "" {
		return ErrMissingCredentials
	}

	if !strings.HasPrefix(c.APIURL, "http://") && !strings.HasPrefix(c.APIURL, "https://") {
		return ErrInvalidAPIURL
	}

	return nil
}

// NewConfig is a convenience wrapper around Load and Validate.
func NewConfig(overrides *Overrides) (Config, error) {
	config := Load(overrides)
	if err := config.Validate(); err != nil {
		return Config{}, err
	}

	return config, nil
}

func defaultAPIURL() string {
	if url := os.Getenv(envPrefix + "API_URL"); url != "" {
		return url
	}

	return fmt.Sprintf("https://%s:%s/v%s",
		envOr("API_HOST", "coverage.dmawi.de"),
		envOr("API_PORT", "8080"),
		envOr("API_VERSION", "1"))
}

func envOr(key, fallback string) string {
	if value := os.Getenv(envPrefix + key); value != "" {
		return value
	}

	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	value := os.Getenv(envPrefix + key)
	if value == "" {
		return fallback
	}

	// Plain numbers are read as seconds, duration strings as-is.
	if seconds, err := strconv.ParseFloat(value, 64); err == nil {
		return time.Duration(seconds * float64(time.Second))
	}

	if parsed, err := time.ParseDuration(value); err == nil {
		return parsed
	}

	return fallback
}

func envInt(key string, fallback int) int {
	value := os.Getenv(envPrefix + key)
	if value == "" {
		return fallback
	}

	if parsed, err := strconv.Atoi(value); err == nil {
		return parsed
	}

	return fallback
}
