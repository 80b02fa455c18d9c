package lexstore

import (
	"github.com/hupe1980/lexstore/config"
	"github.com/hupe1980/lexstore/engine"
)

type options struct {
	config           *config.Config
	configFile       string
	configOverrides  map[string]any
	engineOptions    []engine.Option
	metricsCollector MetricsCollector
	logger           *Logger
}

// Option configures Open.
type Option func(*options)

// WithConfig opens the components described by cfg: journal, store,
// index and checkpoint store. Without a configuration everything lives
// in memory.
func WithConfig(cfg *config.Config) Option {
	return func(o *options) {
		o.config = cfg
	}
}

// WithConfigFile loads the configuration from a YAML file, the LEXSTORE_
// environment variables and overrides, in that order of precedence
// (overrides win). It is ignored when WithConfig is also given.
func WithConfigFile(path string, overrides map[string]any) Option {
	return func(o *options) {
		o.configFile = path
		o.configOverrides = overrides
	}
}

// WithEngineOptions passes options to engine.Open. They are applied after
// the configured components. Replacing a configured component leaves the
// configured one open, so combine the two only for settings such as
// engine.WithClock or engine.WithIndexer.
func WithEngineOptions(opts ...engine.Option) Option {
	return func(o *options) {
		o.engineOptions = append(o.engineOptions, opts...)
	}
}

// WithMetrics sets the collector notified of commits, searches, index
// refreshes, checkpoints and recovery.
func WithMetrics(m MetricsCollector) Option {
	return func(o *options) {
		o.metricsCollector = m
	}
}

// WithLogger sets the logger. Defaults to NoopLogger, or to the logger
// described by the configuration when one is given.
func WithLogger(l *Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}
