package coordination

import (
	"github.com/Iron-Ham/hookline/internal/clock"
	"github.com/Iron-Ham/hookline/internal/logging"
	"github.com/Iron-Ham/hookline/internal/verify"
)

// hubConfig holds optional configuration for a Hub.
type hubConfig struct {
	logger   *logging.Logger
	clock    clock.Clock
	executor verify.Executor
	watch    *bool
}

// Option configures a Hub.
type Option func(*hubConfig)

// WithLogger sets the logger shared by every component. Without it the Hub
// opens a rotating log file in the store directory when logging is enabled.
func WithLogger(l *logging.Logger) Option {
	return func(c *hubConfig) { c.logger = l }
}

// WithClock sets the time source shared by every component.
func WithClock(clk clock.Clock) Option {
	return func(c *hubConfig) { c.clock = clk }
}

// WithExecutor replaces the sandbox that runs gate verification commands.
func WithExecutor(x verify.Executor) Option {
	return func(c *hubConfig) { c.executor = x }
}

// WithWatch overrides store.watch.
func WithWatch(enabled bool) Option {
	return func(c *hubConfig) { c.watch = &enabled }
}
