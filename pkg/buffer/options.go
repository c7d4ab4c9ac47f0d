package buffer

import (
	"log/slog"

	"github.com/c360/twinflow/metric"
)

// Option configures a FailFast buffer using the functional options pattern.
type Option func(*bufferOptions)

// bufferOptions holds internal configuration for buffer instances.
// Stats are ALWAYS collected; metrics are optional and enabled via WithMetrics().
type bufferOptions struct {
	logger *slog.Logger

	// metricsReg is optional - if provided, buffer stats are also exposed as Prometheus metrics
	metricsReg *metric.MetricsRegistry

	// metricsPrefix is used as the component label for Prometheus metrics
	metricsPrefix string

	initialCapacity int
}

// WithMetrics enables Prometheus metrics export for buffer statistics.
// If registry is nil or prefix is empty, this option is ignored.
func WithMetrics(registry *metric.MetricsRegistry, prefix string) Option {
	return func(opts *bufferOptions) {
		if registry != nil && prefix != "" {
			opts.metricsReg = registry
			opts.metricsPrefix = prefix
		}
	}
}

// WithLogger sets the logger used for notification failures.
func WithLogger(logger *slog.Logger) Option {
	return func(opts *bufferOptions) {
		opts.logger = logger
	}
}

// WithInitialCapacity sizes each lane's queue before it first grows.
func WithInitialCapacity(capacity int) Option {
	return func(opts *bufferOptions) {
		opts.initialCapacity = capacity
	}
}

func applyOptions(options ...Option) *bufferOptions {
	opts := &bufferOptions{}

	for _, opt := range options {
		if opt != nil {
			opt(opts)
		}
	}

	if opts.logger == nil {
		opts.logger = slog.Default()
	}

	return opts
}
