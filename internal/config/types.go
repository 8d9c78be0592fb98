package config

import "time"

// Config represents the complete blackbox-gw configuration.
type Config struct {
	Service  ServiceConfig  `yaml:"service"`
	State    StateConfig    `yaml:"state"`
	Redis    RedisConfig    `yaml:"redis,omitempty"`
	AI       AIConfig       `yaml:"ai"`
	GitHub   GitHubConfig   `yaml:"github"`
	Slack    SlackConfig    `yaml:"slack"`
	API      APIConfig      `yaml:"api,omitempty"`
	Webhooks WebhooksConfig `yaml:"webhooks"`
}

// ServiceConfig defines core service settings.
type ServiceConfig struct {
	Name     string `yaml:"name"`
	LogLevel string `yaml:"log_level"`
}

// StateConfig defines state storage settings.
type StateConfig struct {
	Path string `yaml:"path"`
}

// RedisConfig defines the hosted rate-limit counter backend. When Addr is
// empty the limiter degrades to its in-process fallback; Required turns
// that degradation into a startup failure instead.
type RedisConfig struct {
	Addr     string `yaml:"addr,omitempty"`
	Password string `yaml:"password,omitempty"`
	DB       int    `yaml:"db,omitempty"`
	Required bool   `yaml:"required,omitempty"`
}

// AIConfig defines the enrichment model endpoint.
type AIConfig struct {
	APIKey  string        `yaml:"api_key"`
	BaseURL string        `yaml:"base_url,omitempty"`
	Model   string        `yaml:"model,omitempty"`
	Timeout time.Duration `yaml:"timeout,omitempty"`
}

// GitHubConfig defines GitHub webhook settings.
type GitHubConfig struct {
	WebhookSecret string `yaml:"webhook_secret"`
}

// SlackConfig defines Slack slash-command settings.
type SlackConfig struct {
	SigningSecret string `yaml:"signing_secret"`
	// MinNarrativeLen discards captured text shorter than this as noise.
	MinNarrativeLen int `yaml:"min_narrative_len,omitempty"`
}

// APIConfig defines the management HTTP API.
type APIConfig struct {
	Enabled bool `yaml:"enabled"`
	Listen  string `yaml:"listen"`
	// Tokens maps bearer token -> account id. The settings UI and the
	// browser extension authenticate with these.
	Tokens map[string]string `yaml:"tokens,omitempty"`
	// CORSOrigins lists origins allowed to call the API from a browser.
	CORSOrigins []string `yaml:"cors_origins,omitempty"`
}

// WebhooksConfig defines the public webhook listener.
type WebhooksConfig struct {
	Listen string `yaml:"listen"`
	// MinNarrativeLen discards GitHub-captured text shorter than this.
	MinNarrativeLen int `yaml:"min_narrative_len,omitempty"`
	// MaxBodySize is the maximum allowed request body size in bytes.
	MaxBodySize int64 `yaml:"max_body_size,omitempty"`
}

// Default values applied by Load when the file omits them.
const (
	DefaultWebhookListen      = "127.0.0.1:8081"
	DefaultAPIListen          = "127.0.0.1:8080"
	DefaultMaxBodySize        = 1048576 // 1 MB
	DefaultGitHubNarrativeLen = 30
	DefaultSlackNarrativeLen  = 40
	DefaultAIModel            = "gpt-4o-mini"
	DefaultAITimeout          = 30 * time.Second
)
