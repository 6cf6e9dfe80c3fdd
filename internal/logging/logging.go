// Package logging builds the zap loggers shared by the server and the CLI.
package logging

import "go.uber.org/zap"

// New returns a zap logger. When debug is true it uses the development config
// (human-readable, debug level), otherwise the production config (JSON, info level).
func New(debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

// MustNew is New for command entry points, falling back to a no-op logger.
func MustNew(debug bool) *zap.Logger {
	logger, err := New(debug)
	if err != nil {
		return zap.NewNop()
	}
	return logger
}
