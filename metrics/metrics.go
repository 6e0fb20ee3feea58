// Package metrics exposes connection lifecycle as Prometheus metrics.
package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/heureka/rabbitguard/connection"
)

const namespace = "rabbitguard"

// Connection is an observable connection. Implemented by *connection.Manager.
type Connection interface {
	On(ev connection.Event, handler connection.Handler) error
	State() connection.State
	Attempts() int
}

// Collector counts connection events and dial attempts.
type Collector struct {
	reg          prometheus.Registerer
	closes       prometheus.Counter
	reconnects   prometheus.Counter
	errors       prometheus.Counter
	dialAttempts *prometheus.CounterVec
}

// New creates Collector registered in reg.
func New(reg prometheus.Registerer) *Collector {
	factory := promauto.With(reg)

	return &Collector{
		reg: reg,
		closes: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connection_closes_total",
			Help:      "Total connection closures, requested or not.",
		}),
		reconnects: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconnects_total",
			Help:      "Total successful reconnections.",
		}),
		errors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connection_errors_total",
			Help:      "Total transport errors.",
		}),
		dialAttempts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dial_attempts_total",
			Help:      "Total dial attempts by result.",
		}, []string{"result"}),
	}
}

// DialAttempt counts dial attempt result.
// Pass it to connection.WithDialAttemptCallback.
func (c *Collector) DialAttempt(err error) {
	result := "success"
	if err != nil {
		result = "failure"
	}

	c.dialAttempts.WithLabelValues(result).Inc()
}

// Observe counts conn events and exposes its state and retry attempts.
// Call once per connection.
func (c *Collector) Observe(conn Connection) error {
	handlers := map[connection.Event]connection.Handler{
		connection.EventClose:     func(error) { c.closes.Inc() },
		connection.EventReconnect: func(error) { c.reconnects.Inc() },
		connection.EventError:     func(error) { c.errors.Inc() },
	}

	for _, ev := range connection.Events() {
		if err := conn.On(ev, handlers[ev]); err != nil {
			return fmt.Errorf("observe %s: %w", ev, err)
		}
	}

	factory := promauto.With(c.reg)
	factory.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "connected",
		Help:      "Whether the connection is live.",
	}, func() float64 {
		if conn.State() == connection.Connected {
			return 1
		}

		return 0
	})
	factory.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "retry_attempts",
		Help:      "Retry attempts made so far, never reset.",
	}, func() float64 {
		return float64(conn.Attempts())
	})

	return nil
}
