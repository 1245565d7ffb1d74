// Package config defines beacond's process configuration structure.
//
// This package defines the server configuration structure and validation:
//
//   - spec.go: ServerConfig struct definition
//   - default.go: Default configuration values
//   - verify.go: Business validation (data dir creation, required fields)
//   - sanitize.go: Log sanitization (hide sensitive values)
//
// Configuration is loaded via internal/infra/confloader and supports
// multiple sources: a YAML file and BEACON_-prefixed environment
// variables, overlaid onto the defaults in this package.
package config
