// Package config loads and validates the service configuration from
// environment variables.
//
// Every setting has a safe default except ANTHROPIC_API_KEY, which is
// required. Load returns a *Error for anything malformed; startup aborts on
// it before a single request is accepted, so a half-configured process never
// serves traffic.
package config

import (
	"fmt"
	"time"

	"github.com/bdobrica/Kioku/common/environment"
)

// StoreType selects the memory store variant.
type StoreType string

const (
	// StoreInMemory is the volatile, process-local variant.
	StoreInMemory StoreType = "in_memory"
	// StoreSQLite is the embedded single-file variant.
	StoreSQLite StoreType = "sqlite"
	// StorePostgres is the networked relational variant.
	StorePostgres StoreType = "postgresql"
)

// Error is a fatal configuration problem: a missing required variable or a
// value that fails validation. It is only produced at startup.
type Error struct {
	Key    string
	Reason string
}

func (e *Error) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Key, e.Reason)
}

// Config contains all runtime settings for the agent backend core.
type Config struct {
	// APIKey is the completion collaborator credential (ANTHROPIC_API_KEY).
	APIKey string

	// Host and Port describe the public bind address. They are carried for
	// the serving layer that fronts the coordinator; nothing in the core
	// listens on them.
	Host string
	Port int

	// Completion parameters, forwarded verbatim on every provider call.
	Model       string
	MaxTokens   int
	Temperature float64

	// Memory store selection. StorePath is the sqlite file path, or the
	// connection string when StoreType is postgresql.
	StoreType StoreType
	StorePath string

	// Rate limiter window settings.
	RateLimitRequests int
	RateLimitWindow   time.Duration

	// APIKeyHeader and CORSOrigins are owned by the serving layer and are
	// passed through unmodified.
	APIKeyHeader string
	CORSOrigins  []string

	// Logging and audit switches.
	LogLevel     string
	LogFormat    string
	AuditEnabled bool

	// Per-call deadlines for the blocking collaborators.
	CompletionTimeout time.Duration
	StoreTimeout      time.Duration

	// ContextWindow is how many prior entries are fed back to the provider.
	ContextWindow int

	// Retention policy: per-session entry cap enforced at append time, and
	// an optional age cap enforced by the background sweep.
	RetentionMaxEntries int
	RetentionMaxAge     time.Duration
	PruneInterval       time.Duration

	// ProfilePath optionally points at a YAML agent profile.
	ProfilePath string

	// AdminAddr is the loopback ops plane (health, stats, metrics).
	AdminAddr string

	// MetricsNamespace prefixes every Prometheus instrument.
	MetricsNamespace string
}

// Load reads environment variables, applies defaults, and validates the
// result. All failures are *Error values.
func Load() (Config, error) {
	cfg := Config{
		APIKey:           environment.StringOr("ANTHROPIC_API_KEY", ""),
		Host:             environment.StringOr("HOST", "0.0.0.0"),
		Model:            environment.StringOr("AGENT_MODEL", "claude-3-sonnet-20241022"),
		StoreType:        StoreType(environment.StringOr("MEMORY_STORE_TYPE", string(StoreInMemory))),
		StorePath:        environment.StringOr("MEMORY_STORE_PATH", ""),
		APIKeyHeader:     environment.StringOr("API_KEY_HEADER", "X-API-Key"),
		CORSOrigins:      environment.StringSliceOr("CORS_ORIGINS", []string{"*"}),
		LogLevel:         environment.StringOr("LOG_LEVEL", "info"),
		LogFormat:        environment.StringOr("LOG_FORMAT", "json"),
		ProfilePath:      environment.StringOr("AGENT_PROFILE", ""),
		AdminAddr:        environment.StringOr("ADMIN_ADDR", "127.0.0.1:8900"),
		MetricsNamespace: environment.StringOr("METRICS_NAMESPACE", "kioku"),
	}

	var err error
	if cfg.Port, err = environment.IntOr("PORT", 8000); err != nil {
		return Config{}, &Error{Key: "PORT", Reason: "must be an integer"}
	}
	if cfg.MaxTokens, err = environment.IntOr("AGENT_MAX_TOKENS", 2000); err != nil {
		return Config{}, &Error{Key: "AGENT_MAX_TOKENS", Reason: "must be an integer"}
	}
	if cfg.Temperature, err = environment.Float64Or("AGENT_TEMPERATURE", 0.7); err != nil {
		return Config{}, &Error{Key: "AGENT_TEMPERATURE", Reason: "must be a number"}
	}
	if cfg.RateLimitRequests, err = environment.IntOr("RATE_LIMIT_REQUESTS", 10); err != nil {
		return Config{}, &Error{Key: "RATE_LIMIT_REQUESTS", Reason: "must be an integer"}
	}
	if cfg.RateLimitWindow, err = environment.DurationOr("RATE_LIMIT_WINDOW", 60*time.Second); err != nil {
		return Config{}, &Error{Key: "RATE_LIMIT_WINDOW", Reason: "must be a duration or a number of seconds"}
	}
	if cfg.AuditEnabled, err = environment.BoolOr("ENABLE_AUDIT_LOGS", true); err != nil {
		return Config{}, &Error{Key: "ENABLE_AUDIT_LOGS", Reason: "must be a boolean"}
	}
	if cfg.CompletionTimeout, err = environment.DurationOr("COMPLETION_TIMEOUT", 60*time.Second); err != nil {
		return Config{}, &Error{Key: "COMPLETION_TIMEOUT", Reason: "must be a duration or a number of seconds"}
	}
	if cfg.StoreTimeout, err = environment.DurationOr("MEMORY_STORE_TIMEOUT", 5*time.Second); err != nil {
		return Config{}, &Error{Key: "MEMORY_STORE_TIMEOUT", Reason: "must be a duration or a number of seconds"}
	}
	if cfg.ContextWindow, err = environment.IntOr("AGENT_CONTEXT_WINDOW", 20); err != nil {
		return Config{}, &Error{Key: "AGENT_CONTEXT_WINDOW", Reason: "must be an integer"}
	}
	if cfg.RetentionMaxEntries, err = environment.IntOr("MEMORY_MAX_ENTRIES", 200); err != nil {
		return Config{}, &Error{Key: "MEMORY_MAX_ENTRIES", Reason: "must be an integer"}
	}
	if cfg.RetentionMaxAge, err = environment.DurationOr("MEMORY_MAX_AGE", 0); err != nil {
		return Config{}, &Error{Key: "MEMORY_MAX_AGE", Reason: "must be a duration or a number of seconds"}
	}
	if cfg.PruneInterval, err = environment.DurationOr("MEMORY_PRUNE_INTERVAL", 10*time.Minute); err != nil {
		return Config{}, &Error{Key: "MEMORY_PRUNE_INTERVAL", Reason: "must be a duration or a number of seconds"}
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks invariants that defaults alone cannot guarantee. Exported
// so embedders that assemble a Config programmatically get the same checks
// Load applies.
func (c *Config) Validate() error {
	if c.APIKey == "" {
		return &Error{Key: "ANTHROPIC_API_KEY", Reason: "required"}
	}
	if c.Port <= 0 || c.Port > 65535 {
		return &Error{Key: "PORT", Reason: "must be between 1 and 65535"}
	}
	if c.MaxTokens <= 0 {
		return &Error{Key: "AGENT_MAX_TOKENS", Reason: "must be positive"}
	}
	if c.Temperature < 0 || c.Temperature > 2 {
		return &Error{Key: "AGENT_TEMPERATURE", Reason: "must be between 0 and 2"}
	}
	switch c.StoreType {
	case StoreInMemory:
	case StoreSQLite, StorePostgres:
		if c.StorePath == "" {
			return &Error{Key: "MEMORY_STORE_PATH", Reason: fmt.Sprintf("required for %s store", c.StoreType)}
		}
	default:
		return &Error{Key: "MEMORY_STORE_TYPE", Reason: fmt.Sprintf("unknown store type %q", c.StoreType)}
	}
	if c.RateLimitRequests <= 0 {
		return &Error{Key: "RATE_LIMIT_REQUESTS", Reason: "must be positive"}
	}
	if c.RateLimitWindow <= 0 {
		return &Error{Key: "RATE_LIMIT_WINDOW", Reason: "must be positive"}
	}
	if c.CompletionTimeout <= 0 {
		return &Error{Key: "COMPLETION_TIMEOUT", Reason: "must be positive"}
	}
	if c.StoreTimeout <= 0 {
		return &Error{Key: "MEMORY_STORE_TIMEOUT", Reason: "must be positive"}
	}
	if c.ContextWindow <= 0 {
		return &Error{Key: "AGENT_CONTEXT_WINDOW", Reason: "must be positive"}
	}
	if c.RetentionMaxEntries <= 0 {
		return &Error{Key: "MEMORY_MAX_ENTRIES", Reason: "must be positive"}
	}
	if c.RetentionMaxAge < 0 {
		return &Error{Key: "MEMORY_MAX_AGE", Reason: "must not be negative"}
	}
	if c.PruneInterval <= 0 {
		return &Error{Key: "MEMORY_PRUNE_INTERVAL", Reason: "must be positive"}
	}
	return nil
}

// SensitiveValues lists the config values that must never surface in logs or
// audit details. The postgres connection string is included because DSNs may
// embed credentials.
func (c *Config) SensitiveValues() []string {
	vals := []string{c.APIKey}
	if c.StoreType == StorePostgres && c.StorePath != "" {
		vals = append(vals, c.StorePath)
	}
	return vals
}
