package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ulanzi/decksim/pkg/deckctx"
)

// Default values applied when fields are absent from the config file.
const (
	DefaultServerURL      = "ws://127.0.0.1:39069/"
	DefaultBackoffInitial = 1 * time.Second
	DefaultBackoffMax     = 60 * time.Second
	DefaultLogLevel       = "info"
)

// Config is the top-level probe configuration.
type Config struct {
	Probe ProbeConfig `yaml:"probe"`
}

// ProbeConfig describes the plugin the probe impersonates and how it reaches
// the simulator.
type ProbeConfig struct {
	// ServerURL is the simulator WebSocket address (ws:// or wss://).
	ServerURL string `yaml:"server_url"`

	// PluginUUID is the uuid announced in the connected message. A main
	// service uuid has four segments; an action uuid has more and then
	// Key and ActionID are required.
	PluginUUID string `yaml:"plugin_uuid"`
	Key        string `yaml:"key"`
	ActionID   string `yaml:"action_id"`

	// AnswerRun makes the probe reply to every run with a state message.
	AnswerRun bool `yaml:"answer_run"`

	// Reconnect backoff bounds. Each failed attempt doubles the wait up to
	// BackoffMax, with ±25% jitter.
	BackoffInitial time.Duration `yaml:"backoff_initial"`
	BackoffMax     time.Duration `yaml:"backoff_max"`

	// LogLevel is one of: debug | info | warn | error.
	LogLevel string `yaml:"log_level"`
}

// Identity returns the identity the probe connects with.
func (p ProbeConfig) Identity() deckctx.Identity {
	return deckctx.Identity{UUID: p.PluginUUID, Key: p.Key, ActionID: p.ActionID}
}

// Level maps LogLevel to a slog.Level.
func (p ProbeConfig) Level() slog.Level {
	switch strings.ToLower(p.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Load reads and parses the YAML config file at path.
// Missing optional fields are filled with defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read file: %w", err)
	}

	cfg := defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse yaml: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

func defaults() *Config {
	return &Config{
		Probe: ProbeConfig{
			ServerURL:      DefaultServerURL,
			BackoffInitial: DefaultBackoffInitial,
			BackoffMax:     DefaultBackoffMax,
			LogLevel:       DefaultLogLevel,
		},
	}
}

// validate checks required fields and structural constraints.
func validate(cfg *Config) error {
	p := cfg.Probe
	u, err := url.Parse(p.ServerURL)
	if err != nil {
		return fmt.Errorf("probe.server_url: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("probe.server_url %q: scheme must be ws or wss", p.ServerURL)
	}
	if p.PluginUUID == "" {
		return fmt.Errorf("probe.plugin_uuid is required")
	}
	role, err := deckctx.Classify(p.PluginUUID)
	if err != nil {
		return fmt.Errorf("probe.plugin_uuid: %w", err)
	}
	if role == deckctx.RoleAction {
		if p.Key == "" || p.ActionID == "" {
			return fmt.Errorf("probe: key and action_id are required for action uuid %q", p.PluginUUID)
		}
		if err := deckctx.Validate(p.Identity()); err != nil {
			return fmt.Errorf("probe: action identity: %w", err)
		}
	}
	if p.BackoffInitial <= 0 {
		return fmt.Errorf("probe.backoff_initial must be positive")
	}
	if p.BackoffMax < p.BackoffInitial {
		return fmt.Errorf("probe.backoff_max must not be below backoff_initial")
	}
	switch strings.ToLower(p.LogLevel) {
	case "debug", "info", "warn", "error", "":
	default:
		return fmt.Errorf("probe.log_level %q unknown: want debug|info|warn|error", p.LogLevel)
	}
	return nil
}
