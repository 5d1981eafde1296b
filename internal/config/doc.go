// Package config loads the daemon configuration from a YAML file, an optional
// .env file and EXTRACTBRIDGE_* environment variables, in that order of
// increasing precedence.
package config
