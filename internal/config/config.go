package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// FatalError indicates configuration that makes a review run impossible
// (missing credentials). It aborts the run before any API call.
type FatalError struct {
	Reason string
}

func (e *FatalError) Error() string {
	return "fatal config error: " + e.Reason
}

// Config represents the application configuration
type Config struct {
	General struct {
		Provider string `koanf:"provider"`
		AI       string `koanf:"ai"`
		LogLevel string `koanf:"log_level"`
		Pretty   bool   `koanf:"pretty"`
	} `koanf:"general"`

	Providers map[string]map[string]interface{} `koanf:"providers"`
	AI        map[string]map[string]interface{} `koanf:"ai"`

	Filter struct {
		Whitelist string `koanf:"whitelist"`
		Blacklist string `koanf:"blacklist"`
	} `koanf:"filter"`

	Batch struct {
		MaxBatchTokens int `koanf:"max_batch_tokens"`
		MaxWorkers     int `koanf:"max_workers"`
	} `koanf:"batch"`

	Retry struct {
		MaxRetries int           `koanf:"max_retries"`
		BaseDelay  time.Duration `koanf:"base_delay"`
		MaxDelay   time.Duration `koanf:"max_delay"`
	} `koanf:"retry"`

	Review struct {
		Timeout     time.Duration `koanf:"timeout"`
		CallTimeout time.Duration `koanf:"call_timeout"`
	} `koanf:"review"`
}

// LoadConfig loads the configuration from a file, environment, and defaults
func LoadConfig(configPath string) (*Config, error) {
	var k = koanf.New(".")

	// Set up default configuration
	k.Load(confmap.Provider(map[string]interface{}{
		"general.provider":       "github",
		"general.ai":             "openai",
		"general.log_level":      "info",
		"batch.max_batch_tokens": 10000,
		"batch.max_workers":      4,
		"retry.max_retries":      3,
		"retry.base_delay":       "1s",
		"retry.max_delay":        "30s",
		"review.timeout":         "10m",
		"review.call_timeout":    "60s",
	}, "."), nil)

	// Load from TOML file if it exists
	if configPath != "" {
		if err := k.Load(file.Provider(configPath), toml.Parser()); err != nil {
			return nil, fmt.Errorf("error loading config: %w", err)
		}
	} else {
		defaultPaths := []string{"./aireviewer.toml", "$HOME/.aireviewer.toml"}
		for _, path := range defaultPaths {
			path = os.ExpandEnv(path)
			if _, err := os.Stat(path); err == nil {
				if err := k.Load(file.Provider(path), toml.Parser()); err == nil {
					break
				}
			}
		}
	}

	// Load from environment variables with prefix AIREVIEWER_
	k.Load(env.Provider("AIREVIEWER_", ".", func(s string) string {
		return strings.Replace(strings.ToLower(
			strings.TrimPrefix(s, "AIREVIEWER_")), "_", ".", -1)
	}), nil)

	// Unmarshal into Config struct
	var config Config
	if err := k.Unmarshal("", &config); err != nil {
		return nil, fmt.Errorf("error unmarshalling config: %w", err)
	}

	// Filter policy comes from the caller environment when set, overriding
	// anything in the config file.
	if wl, ok := os.LookupEnv("PR_REVIEW_WHITELIST"); ok {
		config.Filter.Whitelist = wl
	}
	if bl, ok := os.LookupEnv("PR_REVIEW_BLACKLIST"); ok {
		config.Filter.Blacklist = bl
	}

	applyCredentialEnv(&config)

	return &config, nil
}

// applyCredentialEnv fills provider and AI tokens from the conventional
// environment variables when the config file leaves them unset. Tokens are
// never written back out or logged.
func applyCredentialEnv(config *Config) {
	if config.Providers == nil {
		config.Providers = make(map[string]map[string]interface{})
	}
	if config.AI == nil {
		config.AI = make(map[string]map[string]interface{})
	}

	setIfMissing := func(section map[string]map[string]interface{}, name, key, envVar string) {
		if v := os.Getenv(envVar); v != "" {
			if section[name] == nil {
				section[name] = make(map[string]interface{})
			}
			if _, ok := section[name][key]; !ok {
				section[name][key] = v
			}
		}
	}

	setIfMissing(config.Providers, "github", "token", "GITHUB_TOKEN")
	setIfMissing(config.Providers, "gitlab", "token", "GITLAB_TOKEN")
	setIfMissing(config.AI, "openai", "api_key", "OPENAI_API_KEY")
	setIfMissing(config.AI, "anthropic", "api_key", "ANTHROPIC_API_KEY")
	setIfMissing(config.AI, "googleai", "api_key", "GOOGLE_API_KEY")
}

// Validate validates the configuration. Missing credentials are fatal.
func (c *Config) Validate() error {
	if c.General.Provider == "" {
		return &FatalError{Reason: "hosting provider is required"}
	}
	if c.General.AI == "" {
		return &FatalError{Reason: "AI provider is required"}
	}

	providerConfig, ok := c.Providers[c.General.Provider]
	if !ok {
		return &FatalError{Reason: fmt.Sprintf("configuration for provider %s not found", c.General.Provider)}
	}
	if token, _ := providerConfig["token"].(string); token == "" {
		return &FatalError{Reason: fmt.Sprintf("%s token is required", c.General.Provider)}
	}

	aiConfig, ok := c.AI[c.General.AI]
	if !ok {
		return &FatalError{Reason: fmt.Sprintf("configuration for AI provider %s not found", c.General.AI)}
	}
	if key, _ := aiConfig["api_key"].(string); key == "" {
		return &FatalError{Reason: fmt.Sprintf("%s api_key is required", c.General.AI)}
	}

	return nil
}

// InitConfig initializes a new configuration file
func InitConfig(configPath string) error {
	if _, err := os.Stat(configPath); err == nil {
		return fmt.Errorf("configuration file already exists at %s", configPath)
	}

	sampleConfig := `# ai-reviewer configuration

[general]
provider = "github"
ai = "openai"
log_level = "info"

[providers.github]
token = "your-github-token"

[ai.openai]
api_key = "your-openai-api-key"
model = "gpt-4o-mini"
temperature = 0.2

[filter]
whitelist = ""
blacklist = ""

[batch]
max_batch_tokens = 10000
max_workers = 4
`

	return os.WriteFile(configPath, []byte(sampleConfig), 0644)
}
