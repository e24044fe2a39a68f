package config

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

// Default values for the server configuration.
const (
	DefaultHost         = "127.0.0.1"
	DefaultHTTPPort     = 39069
	DefaultPluginsDir   = "plugins"
	DefaultPluginSuffix = "ulanziPlugin"
	DefaultStaticDir    = "static"
	DefaultLogLevel     = "info"
	DefaultSendBuffer   = 64
	DefaultLanguage     = "zh_CN"
)

// Languages lists the localizations the simulator can display.
var Languages = []string{"en", "zh_CN", "ja_JP", "de_DE", "zh_HK"}

// Config is the full simulator configuration parsed from config.yaml.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Simulator SimulatorConfig `yaml:"simulator"`
}

// ServerConfig holds process-level settings. Changing them requires a restart.
type ServerConfig struct {
	// Host is the address advertised to plugins in launch hints.
	Host string `yaml:"host"`

	// HTTPPort serves the deck UI, plugin assets and every WebSocket
	// (default 39069).
	HTTPPort int `yaml:"http_port"`

	// PluginsDir is scanned for plugin folders.
	PluginsDir string `yaml:"plugins_dir"`

	// PluginSuffix selects which folders under PluginsDir are plugins.
	PluginSuffix string `yaml:"plugin_suffix"`

	// StaticDir holds the deck UI. Empty disables static serving.
	StaticDir string `yaml:"static_dir"`

	// WatchPlugins reloads the catalog when PluginsDir changes on disk.
	WatchPlugins bool `yaml:"watch_plugins"`

	// LogLevel is one of: debug | info | warn | error.
	LogLevel string `yaml:"log_level"`

	// SendBuffer is the per-connection outbound queue depth. A connection
	// whose queue overflows is dropped.
	SendBuffer int `yaml:"send_buffer"`
}

// SimulatorConfig is the deck-facing configuration. It is sent to the deck
// on connect and can be changed at runtime by the deck's config message or
// by editing the config file.
type SimulatorConfig struct {
	Language   string `yaml:"language" json:"language"`
	LoadAction string `yaml:"load_action" json:"loadAction"`
	RunMain    string `yaml:"run_main" json:"runMain"`

	// ServerPort and RootPath are filled in from ServerConfig and are not
	// read from the simulator: section.
	ServerPort int    `yaml:"-" json:"serverPort"`
	RootPath   string `yaml:"-" json:"rootPath"`
}

// Merge applies the fields present in raw (a deck config object) on top of
// s. Absent fields keep their current value. ServerPort and RootPath belong
// to the process and are ignored.
func (s SimulatorConfig) Merge(raw json.RawMessage) (SimulatorConfig, error) {
	next := s
	if len(raw) == 0 {
		return next, nil
	}
	var in struct {
		Language   *string `json:"language"`
		LoadAction *string `json:"loadAction"`
		RunMain    *string `json:"runMain"`
	}
	if err := json.Unmarshal(raw, &in); err != nil {
		return s, fmt.Errorf("simulator config: %w", err)
	}
	if in.Language != nil {
		next.Language = *in.Language
	}
	if in.LoadAction != nil {
		next.LoadAction = *in.LoadAction
	}
	if in.RunMain != nil {
		next.RunMain = *in.RunMain
	}
	if err := validateSimulator(next); err != nil {
		return s, err
	}
	return next, nil
}

// Level maps LogLevel to a slog.Level.
func (s ServerConfig) Level() slog.Level {
	switch strings.ToLower(s.LogLevel) {
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

// Load reads and parses the config file at path. Missing fields are filled
// with defaults before validation.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %q: %w", path, err)
	}

	cfg := Defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse yaml: %w", err)
	}
	cfg.fill()

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

// Defaults returns a Config pre-populated with default values. It is also
// what the simulator runs with when no config file is given.
func Defaults() *Config {
	cfg := &Config{
		Server: ServerConfig{
			Host:         DefaultHost,
			HTTPPort:     DefaultHTTPPort,
			PluginsDir:   DefaultPluginsDir,
			PluginSuffix: DefaultPluginSuffix,
			StaticDir:    DefaultStaticDir,
			WatchPlugins: true,
			LogLevel:     DefaultLogLevel,
			SendBuffer:   DefaultSendBuffer,
		},
		Simulator: SimulatorConfig{
			Language:   DefaultLanguage,
			LoadAction: "no",
			RunMain:    "no",
		},
	}
	cfg.fill()
	return cfg
}

// fill copies derived values into the simulator section.
func (c *Config) fill() {
	c.Simulator.ServerPort = c.Server.HTTPPort
	if wd, err := os.Getwd(); err == nil {
		c.Simulator.RootPath = wd
	}
}

// validate checks structural constraints on the parsed configuration.
func validate(cfg *Config) error {
	if cfg.Server.HTTPPort <= 0 || cfg.Server.HTTPPort > 65535 {
		return fmt.Errorf("server.http_port %d is out of range [1, 65535]", cfg.Server.HTTPPort)
	}
	if cfg.Server.PluginsDir == "" {
		return fmt.Errorf("server.plugins_dir must not be empty")
	}
	if cfg.Server.SendBuffer <= 0 {
		return fmt.Errorf("server.send_buffer must be positive")
	}
	switch strings.ToLower(cfg.Server.LogLevel) {
	case "debug", "info", "warn", "error", "":
	default:
		return fmt.Errorf("server.log_level %q unknown: want debug|info|warn|error", cfg.Server.LogLevel)
	}
	return validateSimulator(cfg.Simulator)
}

func validateSimulator(s SimulatorConfig) error {
	if !slices.Contains(Languages, s.Language) {
		return fmt.Errorf("simulator.language %q unknown: want one of %s", s.Language, strings.Join(Languages, "|"))
	}
	for name, v := range map[string]string{"load_action": s.LoadAction, "run_main": s.RunMain} {
		if v != "yes" && v != "no" {
			return fmt.Errorf("simulator.%s %q: want yes|no", name, v)
		}
	}
	return nil
}
