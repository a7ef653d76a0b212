// Package config loads all process configuration from environment
// variables into one explicit Config struct, constructed once at startup
// and passed into each component constructor. Components never read the
// environment themselves.
package config
