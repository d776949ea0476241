// Package config loads researchd.yaml with viper and hot-reloads it with fsnotify.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/Kocoro-lab/Shannon/go/researchd/internal/agent"
	"github.com/Kocoro-lab/Shannon/go/researchd/internal/auth"
	"github.com/Kocoro-lab/Shannon/go/researchd/internal/history"
	"github.com/Kocoro-lab/Shannon/go/researchd/internal/llm"
	"github.com/Kocoro-lab/Shannon/go/researchd/internal/policy"
	"github.com/Kocoro-lab/Shannon/go/researchd/internal/session"
	"github.com/Kocoro-lab/Shannon/go/researchd/internal/tools"
	"github.com/Kocoro-lab/Shannon/go/researchd/internal/tracing"
)

// EnvPrefix prefixes environment overrides, e.g. RESEARCHD_LLM_API_KEY.
const EnvPrefix = "RESEARCHD"

// EnvConfigPath names the config file when --config is not given.
const EnvConfigPath = "RESEARCHD_CONFIG"

// ServerConfig controls the HTTP and WebSocket listener.
type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	AllowedOrigins  []string      `mapstructure:"allowed_origins"`
	PingInterval    time.Duration `mapstructure:"ping_interval"`
	MaxMessageBytes int64         `mapstructure:"max_message_bytes"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// LoggingConfig selects the zap encoder and level.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Config is the whole service configuration.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Session  session.Config `mapstructure:"session"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Tracing  tracing.Config `mapstructure:"tracing"`
	Pipeline agent.Settings `mapstructure:"pipeline"`
	LLM      llm.Config     `mapstructure:"llm"`
	Tools    tools.Config   `mapstructure:"tools"`
	Policy   policy.Config  `mapstructure:"policy"`
	History  history.Config `mapstructure:"history"`
	Auth     auth.Config    `mapstructure:"auth"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":8080",
			PingInterval:    30 * time.Second,
			MaxMessageBytes: 64 << 10,
			ShutdownTimeout: 10 * time.Second,
		},
		Session:  session.DefaultConfig(),
		Logging:  LoggingConfig{Level: "info", Format: "json"},
		Tracing:  tracing.Config{ServiceName: "researchd", OTLPEndpoint: "localhost:4317", SampleRatio: 1},
		Pipeline: agent.DefaultSettings(),
		LLM:      llm.DefaultConfig(),
		Tools:    tools.DefaultConfig(),
		Policy:   policy.DefaultConfig(),
		History:  history.DefaultConfig(),
		Auth:     auth.Config{Issuer: "researchd", TokenTTL: 24 * time.Hour},
	}
}

// envKeys are bound explicitly so overrides work for keys absent from the file.
var envKeys = []string{
	"server.addr",
	"logging.level",
	"logging.format",
	"tracing.enabled",
	"tracing.otlp_endpoint",
	"llm.provider",
	"llm.model",
	"llm.api_key",
	"llm.base_url",
	"tools.search.provider",
	"tools.search.api_key",
	"tools.fetch.provider",
	"policy.mode",
	"policy.path",
	"history.enabled",
	"history.addr",
	"history.password",
	"auth.enabled",
	"auth.signing_key",
}

// ResolvePath returns explicit, or RESEARCHD_CONFIG, or "" for defaults only.
func ResolvePath(explicit string) string {
	if explicit != "" {
		return explicit
	}
	return os.Getenv(EnvConfigPath)
}

// Load reads path over the defaults and applies RESEARCHD_ environment
// overrides. An empty path loads defaults and environment only.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, k := range envKeys {
		if err := v.BindEnv(k); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", k, err)
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	cfg := Default()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ErrInvalidConfig wraps validation failures.
var ErrInvalidConfig = errors.New("invalid config")

// Validate rejects settings the service cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.Server.Addr == "" {
		errs = append(errs, errors.New("server.addr is required"))
	}
	if c.Session.TaskTimeout <= 0 {
		errs = append(errs, errors.New("session.task_timeout must be positive"))
	}
	if c.Session.AbortGrace < 0 {
		errs = append(errs, errors.New("session.abort_grace must not be negative"))
	}
	if err := c.Pipeline.Discovery.Weights.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("pipeline.discovery.weights: %w", err))
	}
	if q := c.Pipeline.Discovery.QualityThreshold; q < 0 || q > 1 {
		errs = append(errs, fmt.Errorf("pipeline.discovery.quality_threshold %.2f outside [0,1]", q))
	}
	if m := c.Pipeline.Retrieval.MinConfidence; m < 0 || m > 1 {
		errs = append(errs, fmt.Errorf("pipeline.retrieval.min_confidence %.2f outside [0,1]", m))
	}
	if c.Auth.Enabled && c.Auth.SigningKey == "" {
		errs = append(errs, errors.New("auth.signing_key is required when auth is enabled"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
	}
	return nil
}
