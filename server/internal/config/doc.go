// Package config loads the simulator configuration from config.yaml.
//
// Config fields:
//   - Server.Host          address advertised in launch hints (default 127.0.0.1)
//   - Server.HTTPPort      UI, assets and WebSockets (default 39069)
//   - Server.PluginsDir    plugin catalog root (default "plugins")
//   - Server.PluginSuffix  plugin folder suffix (default "ulanziPlugin")
//   - Server.StaticDir     deck UI assets (default "static", "" disables)
//   - Server.WatchPlugins  reload the catalog on disk changes (default true)
//   - Server.LogLevel      debug | info | warn | error
//   - Server.SendBuffer    per-connection outbound queue depth (default 64)
//   - Simulator.Language   en | zh_CN | ja_JP | de_DE | zh_HK (default zh_CN)
//   - Simulator.LoadAction / RunMain  "yes" | "no"
//
// Load(path) applies defaults before unmarshalling, then validates.
// Watch(ctx, path, onChange) reloads the file on every write; only the
// simulator: section takes effect without a restart.
package config
