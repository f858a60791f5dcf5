package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	Lusha     ProviderConfig  `yaml:"lusha" mapstructure:"lusha"`
	Apollo    ProviderConfig  `yaml:"apollo" mapstructure:"apollo"`
	Anthropic AnthropicConfig `yaml:"anthropic" mapstructure:"anthropic"`
	Retry     RetryConfig     `yaml:"retry" mapstructure:"retry"`
	Webhook   WebhookConfig   `yaml:"webhook" mapstructure:"webhook"`
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	Path        string `yaml:"path" mapstructure:"path"`                 // sqlite file
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"` // postgres DSN
}

// ProviderConfig holds one enrichment provider's credentials and pacing.
// Rate requests are admitted per WindowSecs seconds.
type ProviderConfig struct {
	Key        string `yaml:"key" mapstructure:"key"`
	BaseURL    string `yaml:"base_url" mapstructure:"base_url"`
	Rate       int    `yaml:"rate" mapstructure:"rate"`
	WindowSecs int    `yaml:"rate_window_secs" mapstructure:"rate_window_secs"`
	BatchSize  int    `yaml:"batch_size" mapstructure:"batch_size"`
}

// Window returns the rate-limit window as a duration.
func (p ProviderConfig) Window() time.Duration {
	return time.Duration(p.WindowSecs) * time.Second
}

// AnthropicConfig holds Anthropic API settings for column detection.
type AnthropicConfig struct {
	Key   string `yaml:"key" mapstructure:"key"`
	Model string `yaml:"model" mapstructure:"model"`
}

// RetryConfig configures the retry policy applied to provider calls.
type RetryConfig struct {
	MaxAttempts int     `yaml:"max_attempts" mapstructure:"max_attempts"`
	BackoffBase float64 `yaml:"backoff_base" mapstructure:"backoff_base"`
}

// WebhookConfig configures the callback listener and wait loop.
type WebhookConfig struct {
	Port             int    `yaml:"port" mapstructure:"port"`
	PublicURL        string `yaml:"public_url" mapstructure:"public_url"`
	TimeoutSecs      int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	PollIntervalSecs int    `yaml:"poll_interval_secs" mapstructure:"poll_interval_secs"`
}

// CallbackURL returns the externally reachable URL Apollo should deliver
// phone callbacks to.
func (w WebhookConfig) CallbackURL() string {
	return strings.TrimRight(w.PublicURL, "/") + "/webhooks/apollo"
}

// Timeout returns the callback wait budget as a duration.
func (w WebhookConfig) Timeout() time.Duration {
	return time.Duration(w.TimeoutSecs) * time.Second
}

// PollInterval returns the wait-loop poll interval as a duration.
func (w WebhookConfig) PollInterval() time.Duration {
	return time.Duration(w.PollIntervalSecs) * time.Second
}

// ServerConfig configures the REST API server.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("lead-enrich")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.lead-enrich")

	// Environment
	v.SetEnvPrefix("LEAD_ENRICH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.path", "enrichment.db")
	v.SetDefault("lusha.base_url", "https://api.lusha.com")
	v.SetDefault("lusha.rate", 25)
	v.SetDefault("lusha.rate_window_secs", 1)
	v.SetDefault("lusha.batch_size", 100)
	v.SetDefault("apollo.base_url", "https://api.apollo.io")
	v.SetDefault("apollo.rate", 50)
	v.SetDefault("apollo.rate_window_secs", 60)
	v.SetDefault("apollo.batch_size", 10)
	v.SetDefault("anthropic.model", "claude-haiku-4-5-20251001")
	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.backoff_base", 2.0)
	v.SetDefault("webhook.port", 8001)
	v.SetDefault("webhook.timeout_secs", 600)
	v.SetDefault("webhook.poll_interval_secs", 5)
	v.SetDefault("server.port", 8000)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks that the configuration is usable for the given mode
// ("enrich" runs the pipeline, "serve" runs the API server, "store" only
// touches the database). All problems are reported at once.
func (c *Config) Validate(mode string) error {
	var problems []string

	switch c.Store.Driver {
	case "sqlite":
		if c.Store.Path == "" {
			problems = append(problems, "store.path is required for the sqlite driver")
		}
	case "postgres":
		if c.Store.DatabaseURL == "" {
			problems = append(problems, "store.database_url is required for the postgres driver")
		}
	default:
		problems = append(problems, fmt.Sprintf("store.driver must be sqlite or postgres, got %q", c.Store.Driver))
	}

	switch mode {
	case "store":
		// store access only
	case "enrich", "serve":
		if c.Lusha.Key == "" {
			problems = append(problems, "lusha.key is required")
		}
		if c.Apollo.Key == "" {
			problems = append(problems, "apollo.key is required")
		}
		if c.Webhook.PublicURL == "" {
			problems = append(problems, "webhook.public_url is required")
		}
		if c.Lusha.Rate <= 0 || c.Lusha.WindowSecs <= 0 {
			problems = append(problems, "lusha.rate and lusha.rate_window_secs must be > 0")
		}
		if c.Apollo.Rate <= 0 || c.Apollo.WindowSecs <= 0 {
			problems = append(problems, "apollo.rate and apollo.rate_window_secs must be > 0")
		}
		if c.Lusha.BatchSize < 1 || c.Apollo.BatchSize < 1 {
			problems = append(problems, "batch sizes must be >= 1")
		}
		if c.Webhook.Port <= 0 {
			problems = append(problems, "webhook.port must be > 0")
		}
		if mode == "serve" && c.Server.Port <= 0 {
			problems = append(problems, "server.port must be > 0")
		}
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(problems) > 0 {
		return eris.New("config: " + strings.Join(problems, "; "))
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
