// Package config provides configuration management for dbtyaml.
//
// Configuration is read from an optional TOML file, then from environment
// variables, and command line flags are applied last by the caller. The
// package covers:
//   - the directory holding the DBT properties files
//   - the web server address and shutdown timeout
//   - the log level, file and colors
//   - the supported document versions
//
// Values are checked by Validate before the application starts.
package config
