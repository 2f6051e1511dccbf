package llmgateway

import "github.com/relay-labs/llm-gateway/internal/guardrails"

// Config holds the configuration for the gateway.
type Config struct {
	// Server holds HTTP listener settings.
	Server ServerConfig `json:"server" yaml:"server"`
	// Providers lists the upstream providers to register at startup.
	Providers []ProviderConfig `json:"providers,omitempty" yaml:"providers,omitempty"`
	// Guards lists the guardrails applied to every request.
	Guards []guardrails.Guard `json:"guards,omitempty" yaml:"guards,omitempty"`
	// RequestLog configures the persistent request audit log.
	RequestLog RequestLogConfig `json:"request_log,omitempty" yaml:"request_log,omitempty"`
}

// ServerConfig defines HTTP listener settings.
type ServerConfig struct {
	// Addr is the listen address, e.g. ":8080".
	Addr string `json:"addr,omitempty" yaml:"addr,omitempty"`
	// CORSOrigins lists allowed CORS origins; empty disables CORS headers.
	CORSOrigins []string `json:"cors_origins,omitempty" yaml:"cors_origins,omitempty"`
}

// ProviderConfig registers one upstream provider.
type ProviderConfig struct {
	// Name selects the implementation ("openai", "anthropic").
	Name string `json:"name" yaml:"name"`
	// APIKey is the provider credential. When empty, the conventional
	// environment variable (<NAME>_API_KEY) is consulted at startup.
	APIKey string `json:"api_key,omitempty" yaml:"api_key,omitempty"`
	// BaseURL overrides the provider endpoint (optional).
	BaseURL string `json:"base_url,omitempty" yaml:"base_url,omitempty"`
}

// Request log driver names.
const (
	RequestLogNone     = "none"
	RequestLogSQLite   = "sqlite"
	RequestLogPostgres = "postgres"
)

// RequestLogConfig selects and configures the request log sink.
type RequestLogConfig struct {
	// Driver is one of "none" (default), "sqlite", "postgres".
	Driver string `json:"driver,omitempty" yaml:"driver,omitempty"`
	// DSN is the database path (sqlite) or connection string (postgres).
	DSN string `json:"dsn,omitempty" yaml:"dsn,omitempty"`
}
