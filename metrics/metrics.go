// Package metrics constructs the process-wide tally.Scope every component
// reports to. Grounded on metrics/config.go's Backend-selecting shape;
// this module has no statsd/M3 client dependency in its stack, so New
// always returns an in-memory scope -- every component still reports
// through a real tally.Scope, but no samples leave the process.
package metrics

import (
	"io"

	"github.com/uber-go/tally"
)

// Config selects and configures the metrics backend.
type Config struct {
	// Backend names the reporter to use. It is accepted for config-shape
	// compatibility but New does not read it: every value yields the same
	// in-memory scope, and no warning is logged.
	Backend string `yaml:"backend"`
	Prefix  string `yaml:"prefix"`
}

type noopCloser struct{}

func (noopCloser) Close() error { return nil }

// New constructs the root tally.Scope for the process, along with an
// io.Closer for shutdown. The closer does nothing, since the scope has
// no reporter to flush.
func New(config Config) (tally.Scope, io.Closer, error) {
	scope := tally.NewTestScope(config.Prefix, nil)
	return scope, noopCloser{}, nil
}
