// Package config implements the configuration store for the SmartAgriNode bridge.
//
// Configuration is layered: built-in defaults, then an optional YAML file, then
// AGRINODE_* environment overrides. The merged result is validated before use.
//
// The fallback timings here drive the simulated device path: how long a sensor
// cycle waits before a synthetic reading is written, and how the synthetic weed
// scan is paced.
package config
