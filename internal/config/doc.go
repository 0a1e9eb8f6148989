// Package config loads the auction watcher's YAML configuration.
//
// Values may reference environment variables as ${VAR}. Unset fields take
// the defaults in defaults.go; Validate rejects out-of-range values.
package config
