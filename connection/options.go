package connection

import (
	"github.com/cenkalti/backoff/v4"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"

	"github.com/heureka/rabbitguard/retry"
	"github.com/heureka/rabbitguard/transport"
)

// Option to configure Manager.
type Option func(m *Manager)

// WithRetry sets backoff policy configuration for connect retries.
func WithRetry(cfg retry.Config) Option {
	return func(m *Manager) {
		m.retryCfg = cfg
	}
}

// WithAutoReconnectOnInit sets whether failed initial connect is retried.
// If disabled, Connect makes a single attempt and the Manager is closed on failure.
func WithAutoReconnectOnInit(enabled bool) Option {
	return func(m *Manager) {
		m.autoReconnectOnInit = enabled
	}
}

// WithAutoReconnectOnConnectionLost sets whether lost connection is re-established.
// If disabled, the Manager is closed after the first loss.
func WithAutoReconnectOnConnectionLost(enabled bool) Option {
	return func(m *Manager) {
		m.autoReconnectOnConnectionLost = enabled
	}
}

// WithDialer replaces the default amqp091-go dialer.
func WithDialer(dialer transport.Dialer) Option {
	return func(m *Manager) {
		m.dialer = dialer
	}
}

// WithDialConfig allows to configure the dial config of the default dialer.
// Has no effect together with WithDialer.
func WithDialConfig(fns ...func(c *amqp.Config)) Option {
	return func(m *Manager) {
		for _, fn := range fns {
			fn(&m.dialConfig)
		}
	}
}

// WithLogger sets logger, disabled by default.
func WithLogger(logger zerolog.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

// WithTimer sets timer used to wait between attempts.
func WithTimer(timer backoff.Timer) Option {
	return func(m *Manager) {
		m.timer = timer
	}
}

// WithDialAttemptCallback registers a callback for any dial attempt result.
// Will call func with result for each attempt to dial.
func WithDialAttemptCallback(fn func(error)) Option {
	return func(m *Manager) {
		m.onAttempt = append(m.onAttempt, fn)
	}
}

// WithOnClose registers EventClose handler.
func WithOnClose(fn Handler) Option {
	return withHandler(EventClose, fn)
}

// WithOnReconnect registers EventReconnect handler.
func WithOnReconnect(fn Handler) Option {
	return withHandler(EventReconnect, fn)
}

// WithOnError registers EventError handler.
func WithOnError(fn Handler) Option {
	return withHandler(EventError, fn)
}

func withHandler(ev Event, fn Handler) Option {
	return func(m *Manager) {
		m.handlers[ev] = append(m.handlers[ev], fn)
	}
}
