// Package config loads mcptap configuration from file, environment, and
// defaults, with hot reload on file change.
//
// Precedence, highest first: environment variables (MCPTAP_ prefix), the
// config file, built-in defaults. A missing config file is not an error.
package config
