// Package config handles configuration loading, parsing, and validation
// from environment variables and an optional config file. Every component
// receives its settings from here once at startup; nothing reads
// configuration on a request or task path.
package config
