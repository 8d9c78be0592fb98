package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"gopkg.in/yaml.v3"
)

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Load reads and parses configuration from a file.
func Load(configPath string) (*Config, error) {
	// Resolve to absolute path for consistent error messages
	absPath, err := filepath.Abs(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve config path %q: %w", configPath, err)
	}

	info, err := os.Stat(absPath)
	if err != nil {
		return nil, fmt.Errorf("config file not found: %s\n"+
			"Hint: Check the path or run with --config flag", absPath)
	}

	if info.IsDir() {
		// Directory provided - look for config.yaml inside
		absPath = filepath.Join(absPath, "config.yaml")
		if _, err := os.Stat(absPath); err != nil {
			return nil, fmt.Errorf("directory provided but config.yaml not found: %s", absPath)
		}
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	// Apply environment variable interpolation before parsing so secrets
	// never need to live in the file itself.
	interpolated := interpolateEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(interpolated), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	applyDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// DiscoverConfigPath finds the config file by checking standard locations.
// Priority order: $BLACKBOX_GW_CONFIG, ~/.config/blackbox-gw/config.yaml,
// /etc/blackbox-gw/config.yaml, ./config.yaml
func DiscoverConfigPath() (string, error) {
	if path := os.Getenv("BLACKBOX_GW_CONFIG"); path != "" {
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}

	if homeDir, err := os.UserHomeDir(); err == nil {
		userConfig := filepath.Join(homeDir, ".config", "blackbox-gw", "config.yaml")
		if _, err := os.Stat(userConfig); err == nil {
			return userConfig, nil
		}
	}

	systemConfig := "/etc/blackbox-gw/config.yaml"
	if _, err := os.Stat(systemConfig); err == nil {
		return systemConfig, nil
	}

	legacyConfig := "./config.yaml"
	if _, err := os.Stat(legacyConfig); err == nil {
		return legacyConfig, nil
	}

	return "", fmt.Errorf("no config found (checked: $BLACKBOX_GW_CONFIG, ~/.config/blackbox-gw, /etc/blackbox-gw, ./config.yaml)")
}

// interpolateEnv replaces ${VAR} references with environment values.
// Unset variables interpolate to the empty string; validation catches
// required fields that end up empty.
func interpolateEnv(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		name := envVarPattern.FindStringSubmatch(match)[1]
		return os.Getenv(name)
	})
}

func applyDefaults(cfg *Config) {
	if cfg.Service.Name == "" {
		cfg.Service.Name = "blackbox-gw"
	}
	if cfg.Service.LogLevel == "" {
		cfg.Service.LogLevel = "INFO"
	}
	if cfg.Webhooks.Listen == "" {
		cfg.Webhooks.Listen = DefaultWebhookListen
	}
	if cfg.Webhooks.MaxBodySize == 0 {
		cfg.Webhooks.MaxBodySize = DefaultMaxBodySize
	}
	if cfg.Webhooks.MinNarrativeLen == 0 {
		cfg.Webhooks.MinNarrativeLen = DefaultGitHubNarrativeLen
	}
	if cfg.API.Enabled && cfg.API.Listen == "" {
		cfg.API.Listen = DefaultAPIListen
	}
	if cfg.Slack.MinNarrativeLen == 0 {
		cfg.Slack.MinNarrativeLen = DefaultSlackNarrativeLen
	}
	if cfg.AI.Model == "" {
		cfg.AI.Model = DefaultAIModel
	}
	if cfg.AI.Timeout == 0 {
		cfg.AI.Timeout = DefaultAITimeout
	}
}

func validate(cfg *Config) error {
	if cfg.State.Path == "" {
		return fmt.Errorf("state.path is required")
	}
	if cfg.GitHub.WebhookSecret == "" {
		return fmt.Errorf("github.webhook_secret is required")
	}
	if cfg.Slack.SigningSecret == "" {
		return fmt.Errorf("slack.signing_secret is required")
	}
	if cfg.AI.APIKey == "" {
		return fmt.Errorf("ai.api_key is required")
	}
	if cfg.Redis.Required && cfg.Redis.Addr == "" {
		return fmt.Errorf("redis.required is set but redis.addr is empty")
	}
	if cfg.API.Enabled && len(cfg.API.Tokens) == 0 {
		return fmt.Errorf("api.enabled requires at least one entry in api.tokens")
	}
	for token, account := range cfg.API.Tokens {
		if token == "" || account == "" {
			return fmt.Errorf("api.tokens entries must map a non-empty token to a non-empty account id")
		}
	}
	return nil
}
