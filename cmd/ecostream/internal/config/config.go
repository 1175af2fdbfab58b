// Package config loads the ecostream configuration.
//
// Values come from, in increasing priority: built-in defaults, the YAML
// config file and ECO_* environment variables (ECO_STREAM_GUARD_TIMEOUT
// overrides stream.guard_timeout). The default file lives under
// os.UserConfigDir():
//
//	~/.config/ecostream/config.yaml          (Linux)
//	~/Library/Application Support/ecostream/ (macOS)
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

const (
	appDir     = "ecostream"
	configFile = "config.yaml"
	envPrefix  = "ECO"
)

// Config is the full configuration.
type Config struct {
	Stream    StreamConfig    `mapstructure:"stream" yaml:"stream"`
	TechBlock TechBlockConfig `mapstructure:"techblock" yaml:"techblock"`
	Models    ModelsConfig    `mapstructure:"models" yaml:"models"`
	Hedge     HedgeConfig     `mapstructure:"hedge" yaml:"hedge"`
	Provider  ProviderConfig  `mapstructure:"provider" yaml:"provider"`
	Modules   ModulesConfig   `mapstructure:"modules" yaml:"modules"`
	Cache     CacheConfig     `mapstructure:"cache" yaml:"cache"`
	Memory    MemoryConfig    `mapstructure:"memory" yaml:"memory"`
	Server    ServerConfig    `mapstructure:"server" yaml:"server"`
	Log       LogConfig       `mapstructure:"log" yaml:"log"`
	Debug     DebugConfig     `mapstructure:"debug" yaml:"debug"`

	// File is the config file that was read, empty when none was found.
	File string `mapstructure:"-" yaml:"-"`
}

// StreamConfig tunes the streaming orchestrator.
type StreamConfig struct {
	FirstTokenTimeout time.Duration `mapstructure:"first_token_timeout" yaml:"first_token_timeout"`
	GuardTimeout      time.Duration `mapstructure:"guard_timeout" yaml:"guard_timeout"`
	ModelTimeout      time.Duration `mapstructure:"model_timeout" yaml:"model_timeout"`
	FlushSize         int           `mapstructure:"flush_size" yaml:"flush_size"`
	FlushInterval     time.Duration `mapstructure:"flush_interval" yaml:"flush_interval"`
	Temperature       float64       `mapstructure:"temperature" yaml:"temperature"`
	MaxTokens         int           `mapstructure:"max_tokens" yaml:"max_tokens"`
}

// TechBlockConfig tunes the technical block pipeline.
type TechBlockConfig struct {
	Pending         time.Duration `mapstructure:"pending" yaml:"pending"`
	Deadline        time.Duration `mapstructure:"deadline" yaml:"deadline"`
	FinalizeTimeout time.Duration `mapstructure:"finalize_timeout" yaml:"finalize_timeout"`
	Models          []string      `mapstructure:"models" yaml:"models"`
	FallbackModels  []string      `mapstructure:"fallback_models" yaml:"fallback_models"`
}

// ModelsConfig names the models used per role.
type ModelsConfig struct {
	Main     string `mapstructure:"main" yaml:"main"`
	Fallback string `mapstructure:"fallback" yaml:"fallback"`
	Mini     string `mapstructure:"mini" yaml:"mini"`
}

// HedgeConfig tunes the synchronous fallback race.
type HedgeConfig struct {
	Cutover time.Duration `mapstructure:"cutover" yaml:"cutover"`
}

// ProviderConfig selects the model API.
type ProviderConfig struct {
	// Kind is openai or gemini.
	Kind    string `mapstructure:"kind" yaml:"kind"`
	BaseURL string `mapstructure:"base_url" yaml:"base_url"`
	// APIKey may reference an environment variable as $NAME.
	APIKey string `mapstructure:"api_key" yaml:"api_key"`
}

// ModulesConfig locates the prompt module catalog.
type ModulesConfig struct {
	Dir    string `mapstructure:"dir" yaml:"dir"`
	Strict bool   `mapstructure:"strict" yaml:"strict"`
}

// CacheConfig configures the shared cache. An empty Dir keeps it in
// memory.
type CacheConfig struct {
	Dir        string        `mapstructure:"dir" yaml:"dir"`
	TTL        time.Duration `mapstructure:"ttl" yaml:"ttl"`
	MaxEntries int           `mapstructure:"max_entries" yaml:"max_entries"`
}

// MemoryConfig locates the memory store. An empty Dir disables saving.
type MemoryConfig struct {
	Dir string `mapstructure:"dir" yaml:"dir"`
}

// ServerConfig configures ecostream serve.
type ServerConfig struct {
	Addr         string        `mapstructure:"addr" yaml:"addr"`
	GuardTimeout time.Duration `mapstructure:"guard_timeout" yaml:"guard_timeout"`
	Heartbeat    time.Duration `mapstructure:"heartbeat" yaml:"heartbeat"`
}

// LogConfig configures the default slog logger.
type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

// DebugConfig enables debug traces.
type DebugConfig struct {
	// Logic logs every decision with its signals.
	Logic bool `mapstructure:"logic" yaml:"logic"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Stream: StreamConfig{
			FirstTokenTimeout: 15 * time.Second,
			GuardTimeout:      2 * time.Second,
			ModelTimeout:      30 * time.Second,
			FlushSize:         50,
			FlushInterval:     100 * time.Millisecond,
			Temperature:       0.6,
			MaxTokens:         1200,
		},
		TechBlock: TechBlockConfig{
			Pending:         time.Second,
			Deadline:        5 * time.Second,
			FinalizeTimeout: time.Second,
			Models:          []string{"openai/gpt-5.0", "openai/gpt-5.0-mini"},
			FallbackModels:  []string{"openai/gpt-5-chat", "openai/gpt-5-mini"},
		},
		Models: ModelsConfig{
			Main:     "openai/gpt-5-chat",
			Fallback: "anthropic/claude-3.7-sonnet",
			Mini:     "openai/gpt-5-mini",
		},
		Hedge: HedgeConfig{Cutover: 2500 * time.Millisecond},
		Provider: ProviderConfig{
			Kind:    "openai",
			BaseURL: "https://openrouter.ai/api/v1",
			APIKey:  "$OPENROUTER_API_KEY",
		},
		Modules: ModulesConfig{Dir: "modules"},
		Cache:   CacheConfig{TTL: 30 * time.Minute, MaxEntries: 1000},
		Server: ServerConfig{
			Addr:         ":8080",
			GuardTimeout: 12 * time.Second,
			Heartbeat:    15 * time.Second,
		},
		Log: LogConfig{Level: "info", Format: "text"},
	}
}

// DefaultPath returns the default config file path.
func DefaultPath() (string, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine config directory: %w", err)
	}
	return filepath.Join(base, appDir, configFile), nil
}

// Load reads the configuration. An empty path uses DefaultPath. A missing
// file is not an error: defaults and the environment still apply.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	// Seeding the defaults as a config document makes every key known to
	// viper, so AutomaticEnv can override any of them.
	defaults, err := yaml.Marshal(Default())
	if err != nil {
		return nil, fmt.Errorf("config: encode defaults: %w", err)
	}
	if err := v.ReadConfig(bytes.NewReader(defaults)); err != nil {
		return nil, fmt.Errorf("config: read defaults: %w", err)
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path == "" {
		if path, err = DefaultPath(); err != nil {
			return nil, err
		}
	}
	file := ""
	v.SetConfigFile(path)
	switch err := v.MergeInConfig(); {
	case err == nil:
		file = path
	case errors.Is(err, fs.ErrNotExist):
		slog.Debug("config: no config file, using defaults", "path", path)
	default:
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("config: decode: %w", err)
	}
	cfg.File = file
	return cfg, nil
}

// Write writes cfg as YAML to path, creating the directory. It refuses to
// overwrite an existing file unless force is set.
func Write(cfg *Config, path string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config: %s already exists", path)
		}
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("config: encode: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("config: create dir: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("config: write: %w", err)
	}
	return nil
}

// ResolveAPIKey expands a $NAME reference in the provider key.
func (p ProviderConfig) ResolveAPIKey() string {
	if strings.HasPrefix(p.APIKey, "$") {
		return os.ExpandEnv(p.APIKey)
	}
	return p.APIKey
}

// NewLogger builds a slog logger writing to w.
func (l LogConfig) NewLogger(w io.Writer) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(l.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(l.Format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
