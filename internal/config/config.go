// Package config loads the livevoice command configuration from YAML with
// environment overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/teslashibe/go-livevoice/pkg/audioio"
	"github.com/teslashibe/go-livevoice/pkg/conversation"
)

// Environment variables read by ApplyEnv.
const (
	EnvAPIKey       = "GOOGLE_API_KEY"
	EnvModel        = "LIVEVOICE_MODEL"
	EnvVoice        = "LIVEVOICE_VOICE"
	EnvInstruction  = "LIVEVOICE_INSTRUCTION"
	EnvLogLevel     = "LIVEVOICE_LOG_LEVEL"
	EnvMonitorAddr  = "LIVEVOICE_MONITOR_ADDR"
	EnvMetricsAddr  = "LIVEVOICE_METRICS_ADDR"
	EnvAudioBackend = "LIVEVOICE_AUDIO_BACKEND"
)

// UserConfigName is looked up in the home directory.
const UserConfigName = ".livevoice.yaml"

// SystemConfigPath is tried after the user config.
const SystemConfigPath = "/etc/livevoice/config.yaml"

// Config represents the command configuration
type Config struct {
	// APIKey is normally supplied through GOOGLE_API_KEY rather than the file.
	APIKey string `yaml:"api_key,omitempty"`

	Model             string                  `yaml:"model"`
	Voice             string                  `yaml:"voice"`
	SystemInstruction string                  `yaml:"system_instruction"`
	Generation        conversation.Generation `yaml:"generation"`
	VAD               conversation.VAD        `yaml:"vad"`

	Transcription struct {
		Input  bool `yaml:"input"`
		Output bool `yaml:"output"`
	} `yaml:"transcription"`

	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`

	Audio struct {
		Backend audioio.Backend `yaml:"backend"`
	} `yaml:"audio"`

	Monitor struct {
		Enabled bool   `yaml:"enabled"`
		Addr    string `yaml:"addr"`
	} `yaml:"monitor"`

	Metrics struct {
		Enabled bool   `yaml:"enabled"`
		Addr    string `yaml:"addr"`
	} `yaml:"metrics"`

	Log struct {
		Level string `yaml:"level"`
	} `yaml:"log"`

	// AutoListen starts the microphone right after connecting.
	AutoListen bool `yaml:"auto_listen"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	d := conversation.DefaultConfig()
	cfg := &Config{
		Model:             d.Model,
		Voice:             d.Voice,
		SystemInstruction: "You are a friendly voice assistant. Keep answers short and conversational.",
		Generation:        d.Generation,
		VAD:               d.VAD,
		HandshakeTimeout:  d.HandshakeTimeout,
		AutoListen:        true,
	}
	cfg.Transcription.Input = d.InputTranscription
	cfg.Transcription.Output = d.OutputTranscription
	cfg.Audio.Backend = audioio.BackendAuto
	cfg.Monitor.Enabled = true
	cfg.Monitor.Addr = ":8080"
	cfg.Metrics.Enabled = true
	cfg.Metrics.Addr = ":9090"
	cfg.Log.Level = "info"
	return cfg
}

// Load reads configuration from path on top of the defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return cfg, nil
}

// LoadWithFallback attempts to load configuration from multiple locations.
// Priority: explicit path > ~/.livevoice.yaml > /etc/livevoice/config.yaml.
// Environment overrides are applied to whatever was found.
func LoadWithFallback(explicitPath string) (*Config, error) {
	cfg, err := loadFirst(explicitPath)
	if err != nil {
		return nil, err
	}
	if err := cfg.ApplyEnv(os.Getenv); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadFirst(explicitPath string) (*Config, error) {
	if explicitPath != "" {
		return Load(explicitPath)
	}

	if homeDir, err := os.UserHomeDir(); err == nil {
		userConfigPath := filepath.Join(homeDir, UserConfigName)
		if _, err := os.Stat(userConfigPath); err == nil {
			return Load(userConfigPath)
		}
	}

	if _, err := os.Stat(SystemConfigPath); err == nil {
		return Load(SystemConfigPath)
	}

	// No config file found, use defaults
	return DefaultConfig(), nil
}

// ApplyEnv overrides fields from environment variables looked up with
// getenv.
func (c *Config) ApplyEnv(getenv func(string) string) error {
	set := func(dst *string, key string) {
		if v := getenv(key); v != "" {
			*dst = v
		}
	}
	set(&c.APIKey, EnvAPIKey)
	set(&c.Model, EnvModel)
	set(&c.Voice, EnvVoice)
	set(&c.SystemInstruction, EnvInstruction)
	set(&c.Log.Level, EnvLogLevel)
	set(&c.Monitor.Addr, EnvMonitorAddr)
	set(&c.Metrics.Addr, EnvMetricsAddr)

	if v := getenv(EnvAudioBackend); v != "" {
		switch b := audioio.Backend(v); b {
		case audioio.BackendAuto, audioio.BackendMalgo, audioio.BackendMock:
			c.Audio.Backend = b
		default:
			return fmt.Errorf("%s: unknown audio backend %q", EnvAudioBackend, v)
		}
	}
	if v := getenv("LIVEVOICE_AUTO_LISTEN"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("LIVEVOICE_AUTO_LISTEN: %w", err)
		}
		c.AutoListen = b
	}
	return nil
}

// SessionOptions converts the file settings into session options.
func (c *Config) SessionOptions() []conversation.Option {
	opts := []conversation.Option{
		conversation.WithAPIKey(c.APIKey),
		conversation.WithModel(c.Model),
		conversation.WithVoice(c.Voice),
		conversation.WithSystemInstruction(c.SystemInstruction),
		conversation.WithGeneration(c.Generation),
		conversation.WithVAD(c.VAD),
		conversation.WithTranscription(c.Transcription.Input, c.Transcription.Output),
		conversation.WithAudioBackend(c.Audio.Backend),
		conversation.WithMetrics(c.Metrics.Enabled),
	}
	if c.HandshakeTimeout > 0 {
		opts = append(opts, conversation.WithHandshakeTimeout(c.HandshakeTimeout))
	}
	return opts
}

// Save writes the configuration to path. The API key is never written.
func (c *Config) Save(path string) error {
	out := *c
	out.APIKey = ""

	data, err := yaml.Marshal(&out)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}
