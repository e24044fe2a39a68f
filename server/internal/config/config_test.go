package config

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	p := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(p, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return p
}

func TestLoad_Defaults(t *testing.T) {
	p := writeConfig(t, `# empty
`)
	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.HTTPPort != DefaultHTTPPort {
		t.Errorf("http_port: got %d, want %d", cfg.Server.HTTPPort, DefaultHTTPPort)
	}
	if cfg.Server.PluginsDir != DefaultPluginsDir {
		t.Errorf("plugins_dir: got %q, want %q", cfg.Server.PluginsDir, DefaultPluginsDir)
	}
	if !cfg.Server.WatchPlugins {
		t.Error("watch_plugins: want true by default")
	}
	if cfg.Simulator.Language != DefaultLanguage {
		t.Errorf("language: got %q, want %q", cfg.Simulator.Language, DefaultLanguage)
	}
	if cfg.Simulator.ServerPort != DefaultHTTPPort {
		t.Errorf("simulator.ServerPort: got %d, want %d", cfg.Simulator.ServerPort, DefaultHTTPPort)
	}
}

func TestLoad_Full(t *testing.T) {
	p := writeConfig(t, `server:
  host: 192.168.1.20
  http_port: 40000
  plugins_dir: /opt/plugins
  plugin_suffix: sdPlugin
  static_dir: ""
  watch_plugins: false
  log_level: debug
  send_buffer: 8
simulator:
  language: en
  load_action: "yes"
  run_main: "no"
`)
	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Host != "192.168.1.20" {
		t.Errorf("host: got %q", cfg.Server.Host)
	}
	if cfg.Server.HTTPPort != 40000 || cfg.Simulator.ServerPort != 40000 {
		t.Errorf("port: got %d / %d, want 40000", cfg.Server.HTTPPort, cfg.Simulator.ServerPort)
	}
	if cfg.Server.PluginSuffix != "sdPlugin" {
		t.Errorf("plugin_suffix: got %q", cfg.Server.PluginSuffix)
	}
	if cfg.Server.StaticDir != "" {
		t.Errorf("static_dir: got %q, want empty", cfg.Server.StaticDir)
	}
	if cfg.Server.WatchPlugins {
		t.Error("watch_plugins: got true, want false")
	}
	if cfg.Server.Level() != slog.LevelDebug {
		t.Errorf("Level: got %v, want debug", cfg.Server.Level())
	}
	if cfg.Simulator.Language != "en" || cfg.Simulator.LoadAction != "yes" {
		t.Errorf("simulator: got %+v", cfg.Simulator)
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := map[string]string{
		"port":        "server:\n  http_port: 70000\n",
		"plugins_dir": "server:\n  plugins_dir: \"\"\n",
		"buffer":      "server:\n  send_buffer: 0\n",
		"log_level":   "server:\n  log_level: loud\n",
		"language":    "simulator:\n  language: fr_FR\n",
		"load_action": "simulator:\n  load_action: maybe\n",
		"yaml":        "server: [\n",
	}
	for name, content := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := Load(writeConfig(t, content)); err == nil {
				t.Fatal("expected error, got nil")
			}
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load("/nonexistent/path/config.yaml"); err == nil {
		t.Fatal("expected error for missing file, got nil")
	}
}

func TestSimulatorMerge(t *testing.T) {
	base := Defaults().Simulator

	got, err := base.Merge(json.RawMessage(`{"language":"en","serverPort":"1234","rootPath":"/x"}`))
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	if got.Language != "en" {
		t.Errorf("language: got %q, want en", got.Language)
	}
	if got.LoadAction != base.LoadAction {
		t.Errorf("load_action changed: got %q", got.LoadAction)
	}
	if got.ServerPort != base.ServerPort || got.RootPath != base.RootPath {
		t.Errorf("process fields changed: got %d %q", got.ServerPort, got.RootPath)
	}

	if _, err := base.Merge(json.RawMessage(`{"language":"xx"}`)); err == nil {
		t.Error("Merge: expected error for unknown language")
	}
	if same, err := base.Merge(nil); err != nil || same != base {
		t.Errorf("Merge(nil): got %+v, %v", same, err)
	}
}

func TestWatch_ReloadsOnWrite(t *testing.T) {
	p := writeConfig(t, "simulator:\n  language: zh_CN\n")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan *Config, 4)
	go Watch(ctx, p, func(c *Config) { got <- c }) //nolint:errcheck

	// Give the watcher time to register before writing.
	time.Sleep(100 * time.Millisecond)
	if err := os.WriteFile(p, []byte("simulator:\n  language: en\n"), 0o600); err != nil {
		t.Fatalf("rewrite: %v", err)
	}

	select {
	case c := <-got:
		if c.Simulator.Language != "en" {
			t.Errorf("reloaded language: got %q, want en", c.Simulator.Language)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Watch did not report the change")
	}
}

func TestWatch_ReloadsAfterRenameSave(t *testing.T) {
	p := writeConfig(t, "simulator:\n  language: zh_CN\n")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan *Config, 16)
	go Watch(ctx, p, func(c *Config) { got <- c }) //nolint:errcheck
	time.Sleep(100 * time.Millisecond)

	// Save the way atomic editors do: new file beside it, renamed over.
	tmp := filepath.Join(filepath.Dir(p), ".config.yaml.swp")
	if err := os.WriteFile(tmp, []byte("simulator:\n  language: en\n"), 0o600); err != nil {
		t.Fatalf("write temp: %v", err)
	}
	if err := os.Rename(tmp, p); err != nil {
		t.Fatalf("rename: %v", err)
	}
	waitForLanguage(t, got, "en")

	// The replaced inode must not end the watch.
	if err := os.WriteFile(p, []byte("simulator:\n  language: de\n"), 0o600); err != nil {
		t.Fatalf("rewrite: %v", err)
	}
	waitForLanguage(t, got, "de")
}

// waitForLanguage drains reloads until one carries want. An in-place write
// can surface a truncated file first.
func waitForLanguage(t *testing.T, got <-chan *Config, want string) {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case c := <-got:
			if c.Simulator.Language == want {
				return
			}
		case <-deadline:
			t.Fatalf("Watch did not report language %q", want)
		}
	}
}
