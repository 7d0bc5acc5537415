// Package logging constructs the process-wide zap logger. Every
// component takes a *zap.Logger explicitly through its constructor
// rather than reaching for a package-level singleton.
package logging

import "go.uber.org/zap"

// New builds a production zap logger, or a development logger with
// human-readable output when dev is true (local runs / tests).
func New(dev bool) (*zap.Logger, error) {
	if dev {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
