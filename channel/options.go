package channel

import "github.com/rs/zerolog"

// Option to configure Manager.
type Option func(m *Manager)

// WithLogger sets logger, disabled by default.
func WithLogger(logger zerolog.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

// WithQOS sets prefetch, applied to every created channel before consumers are replayed.
func WithQOS(prefetchCount, prefetchSize int, global bool) Option {
	return func(m *Manager) {
		m.qos = &qos{
			prefetchCount: prefetchCount,
			prefetchSize:  prefetchSize,
			global:        global,
		}
	}
}

// WithOnError registers a callback for channel errors and processor failures.
// Errors are reported only, the channel is not recovered because of them.
func WithOnError(fn func(error)) Option {
	return func(m *Manager) {
		m.onError = append(m.onError, fn)
	}
}

type qos struct {
	prefetchCount int
	prefetchSize  int
	global        bool
}
