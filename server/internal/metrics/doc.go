// Package metrics sets up the Prometheus registry served at /metrics.
//
// NewRegistry adds the Go runtime and process collectors; the hub registers
// its counters and gauge funcs on the same registry. Handler wraps promhttp.
package metrics
