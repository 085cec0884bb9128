// Package config defines the global configuration structure for the arcana
// backend. Configuration is loaded once at process initialization and is
// immutable thereafter, following 12-Factor principles: code is strictly
// separated from configuration.
//
// Values are resolved via a priority chain:
//
//	OS Environment (Highest) -> Dotenv File (Lowest)
//
// Any missing required value or invalid format causes startup to fail
// immediately (fail fast).
package config

import (
	"time"

	"arcana/internal/types"
)

// SecretString is an alias for types.SecretString, the redacted secret type
// used throughout configuration to prevent accidental logging of sensitive
// values.
type SecretString = types.SecretString

// Config is the top-level configuration struct. It is populated once during
// process initialization and never modified. Sub-components receive only the
// specific config subsets they require.
type Config struct {
	// System metadata
	Environment string `envconfig:"APP_ENV" validate:"required,oneof=local dev staging prod"`
	Service     string `envconfig:"SERVICE_NAME" default:"arcana-api"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`

	// Domain configurations
	Server   ServerConfig
	Database DatabaseConfig
	Auth     AuthConfig
	Quota    QuotaConfig
	Billing  BillingConfig
	Workflow WorkflowConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port string `envconfig:"PORT" default:"8080"`
	// Public base URL of the API, used in logs and redirect bookkeeping
	// (no trailing slash).
	ExternalURL string `envconfig:"API_EXTERNAL_URL" validate:"required,url"`

	// RequestTimeout bounds webhook and health requests. The /v1 group widens
	// its deadline to cover WORKFLOW_TIMEOUT, so this stays short.
	RequestTimeout     time.Duration `envconfig:"REQUEST_TIMEOUT" default:"29s"`
	CorsAllowedOrigins []string      `envconfig:"CORS_ALLOWED_ORIGINS" default:"*"`
}

// DatabaseConfig holds database connection and pool tuning parameters.
type DatabaseConfig struct {
	URL SecretString `envconfig:"DATABASE_URL" validate:"required,url"`

	// Tuning parameters
	MaxConns          int           `envconfig:"DB_MAX_CONNS" default:"10"`
	MinConns          int           `envconfig:"DB_MIN_CONNS" default:"2"`
	MaxConnLifetime   time.Duration `envconfig:"DB_MAX_CONN_LIFETIME" default:"30m"`
	AcquireTimeout    time.Duration `envconfig:"DB_ACQUIRE_TIMEOUT" default:"2s"`
	HealthCheckPeriod time.Duration `envconfig:"DB_HEALTH_CHECK_PERIOD" default:"1m"`
}

// AuthConfig holds the shared secret for verifying bearer tokens issued by
// the identity provider. Tokens are HS256 JWTs; the provider signs them with
// this secret and the API only ever verifies.
type AuthConfig struct {
	JWTSecret SecretString `envconfig:"AUTH_JWT_SECRET" validate:"required,min=32"`
}

// QuotaConfig holds quota ledger tuning.
type QuotaConfig struct {
	// AnonDailyLimit is the fixed per-day request limit for anonymous
	// visitors. Account limits come from the profile's entitlement instead.
	AnonDailyLimit int `envconfig:"ANON_DAILY_LIMIT" default:"5"`
	// FreeDailyLimit seeds the daily limit of newly created free-tier
	// profiles.
	FreeDailyLimit int `envconfig:"FREE_DAILY_LIMIT" default:"10"`
}

// BillingConfig holds the payment gateway credentials.
//
// The gateway signs purchase initiation and payment confirmation with two
// DISTINCT secret words. They must never be merged into one value: the
// gateway recomputes each signature independently and conflating them
// silently breaks interoperability.
type BillingConfig struct {
	MerchantID  string       `envconfig:"FK_MERCHANT_ID" validate:"required"`
	SecretWord1 SecretString `envconfig:"FK_SECRET_WORD1" validate:"required"`
	SecretWord2 SecretString `envconfig:"FK_SECRET_WORD2" validate:"required"`
	PayBaseURL  string       `envconfig:"FK_PAY_URL" default:"https://pay.fk.money/" validate:"url"`
}

// WorkflowConfig holds the AI workflow engine endpoints.
//
// ServiceURLs maps a service ID to its webhook URL; MeowServiceURLs holds the
// meow-mode variants. Both use envconfig map syntax, comma-separated
// "service:url" pairs (the split is on the first colon, so URLs are safe).
// DefaultURL is the fallback when a service has no dedicated endpoint.
type WorkflowConfig struct {
	DefaultURL      string            `envconfig:"WORKFLOW_WEBHOOK_URL" validate:"required,url"`
	ServiceURLs     map[string]string `envconfig:"WORKFLOW_SERVICE_URLS"`
	MeowServiceURLs map[string]string `envconfig:"WORKFLOW_SERVICE_URLS_MEOW"`
	Timeout         time.Duration     `envconfig:"WORKFLOW_TIMEOUT" default:"60s"`
	UserAgent       string            `envconfig:"WORKFLOW_USER_AGENT" default:"arcana-api/1.0"`
}

// ConfigErrorType categorizes configuration loading failures to aid debugging.
type ConfigErrorType string

const (
	// ErrMissingEnv indicates a required environment variable was not found.
	ErrMissingEnv ConfigErrorType = "MISSING_ENV"
	// ErrValidation indicates the configuration failed struct validation rules.
	ErrValidation ConfigErrorType = "VALIDATION_FAILED"
	// ErrParsing indicates a failure when parsing environment variable values
	// into their target types.
	ErrParsing ConfigErrorType = "PARSING_FAILED"
)
