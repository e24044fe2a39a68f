// Package config loads and watches the probe configuration file.
//
// The file has a single probe: section naming the simulator address, the
// plugin identity the probe connects with, whether it answers key presses,
// and the reconnect backoff bounds.
//
// Load(path) applies defaults (ws://127.0.0.1:39069/, 1s..60s backoff) and
// validates the identity with the same rules the simulator uses. Watch
// reloads the file on every write; the probe applies answer_run and
// log_level changes live.
package config
