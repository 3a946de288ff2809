// Package config provides engine configuration management.
//
// The config package loads and validates the engine's configuration from
// YAML (runtime endpoint, resource ceilings, session policy, validation
// switches) and owns the static language profile table describing how each
// supported language builds and runs inside a sandbox.
package config
