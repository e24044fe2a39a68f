// Package catalog discovers installed plugins.
//
// Load(dir, suffix, languages) reads every <dir>/*<suffix>/manifest.json plus
// the optional <language>.json localization files next to it. Manifests may
// contain comments and trailing commas. A broken plugin is skipped as a
// whole; the resulting Set is always complete.
//
// Catalog wraps Load with an asynchronous Refresh, an optional fsnotify
// watcher on the plugins directory, and Subscribe for consumers that need to
// react to every new Set (the hub re-broadcasts it to the deck).
//
// Descriptor.LaunchHint produces the "how to start this main service" text
// shown to developers for plugins whose main service is not connected.
package catalog
