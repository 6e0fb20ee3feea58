// Package connection keeps a broker connection alive.
//
// Manager dials with retries, watches the live handle and, when it is lost, dials a new one
// with the same backoff policy. Registered restorers run on every new handle before
// EventReconnect is emitted, so dependants (channels, queues, consumers) are back when callers hear about it.
package connection

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"

	"github.com/heureka/rabbitguard/retry"
	"github.com/heureka/rabbitguard/transport"
)

const (
	defaultLocale = "en_US"
)

var (
	// ErrAlreadyStarted is returned when Connect is called more than once.
	ErrAlreadyStarted = errors.New("connection manager already started")
	// ErrClosed is returned when using a closed Manager.
	ErrClosed = errors.New("connection manager closed")
	// ErrNotConnected is returned when there is no live connection.
	ErrNotConnected = errors.New("not connected")
)

// Restorer re-creates resources on a freshly re-established connection.
type Restorer func(ctx context.Context) error

// Manager owns one logical connection.
type Manager struct {
	addr string

	mux        sync.RWMutex
	state      State
	userClosed bool
	conn       transport.Connection
	handlers   map[Event][]Handler
	restorers  []Restorer

	retryCfg                      retry.Config
	policy                        *retry.Policy
	autoReconnectOnInit           bool
	autoReconnectOnConnectionLost bool
	dialer                        transport.Dialer
	dialConfig                    amqp.Config
	timer                         backoff.Timer
	logger                        zerolog.Logger
	onAttempt                     []func(error)

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a Manager for addr. It does not connect until Connect is called.
func New(addr string, ops ...Option) *Manager {
	ctx, cancel := context.WithCancel(context.Background())

	m := Manager{
		addr:                          addr,
		state:                         Idle,
		handlers:                      make(map[Event][]Handler),
		retryCfg:                      retry.DefaultConfig(),
		autoReconnectOnInit:           true,
		autoReconnectOnConnectionLost: true,
		dialConfig: amqp.Config{
			// defaults are the same as in amqp091-go
			Locale: defaultLocale,
		},
		logger: zerolog.Nop(),
		ctx:    ctx,
		cancel: cancel,
	}

	for _, op := range ops {
		op(&m)
	}

	if m.dialer == nil {
		m.dialer = transport.AMQPDialer(m.dialConfig)
	}

	m.policy = retry.NewPolicy(m.retryCfg)

	return &m
}

// Connect dials the broker.
// With auto reconnect on init it retries until it succeeds, ctx is done or the Manager is closed.
// Without it, a failed attempt closes the Manager and the failure is returned.
// Returns the Manager itself for chaining.
func (m *Manager) Connect(ctx context.Context) (*Manager, error) {
	m.mux.Lock()
	switch m.state {
	case Idle:
	case Closed:
		m.mux.Unlock()
		return nil, ErrClosed
	default:
		m.mux.Unlock()
		return nil, ErrAlreadyStarted
	}
	m.state = Connecting
	m.wg.Add(1)
	m.mux.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(m.ctx, cancel)
	defer stop()

	m.logger.Debug().Str("addr", m.addr).Msg("connecting")

	var (
		closed <-chan *amqp.Error
		err    error
	)
	if m.autoReconnectOnInit {
		closed, err = m.retryDial(ctx, false)
	} else {
		closed, err = m.dial(ctx, false)
	}

	if err != nil {
		m.setState(Closed)
		m.wg.Done()

		return nil, fmt.Errorf("connect: %w", err)
	}

	go m.supervise(closed)

	return m, nil
}

// Close closes the connection and stops reconnecting. Pending retry is aborted.
// Waits until the Manager stops. Safe to call multiple times.
func (m *Manager) Close() error {
	m.mux.Lock()
	if m.userClosed {
		m.mux.Unlock()
		return nil
	}
	m.userClosed = true
	if m.state == Idle {
		m.state = Closed
	}
	conn := m.conn
	m.mux.Unlock()

	m.cancel()

	var err error
	if conn != nil && !conn.IsClosed() {
		if cerr := conn.Close(); cerr != nil && !errors.Is(cerr, amqp.ErrClosed) {
			err = fmt.Errorf("close connection: %w", cerr)
		}
	}

	m.wg.Wait()

	return err
}

// On registers handler for the event.
// Fails with ErrInvalidEvent for events other than EventClose, EventReconnect and EventError.
func (m *Manager) On(ev Event, handler Handler) error {
	if !ev.valid() {
		return fmt.Errorf("register handler for %q: %w", ev, ErrInvalidEvent)
	}

	m.mux.Lock()
	defer m.mux.Unlock()

	m.handlers[ev] = append(m.handlers[ev], handler)

	return nil
}

// AddRestorer registers fn to run after every reconnection, in registration order.
// Failing restorer fails the whole attempt, which is then retried.
func (m *Manager) AddRestorer(fn func(ctx context.Context) error) {
	m.mux.Lock()
	defer m.mux.Unlock()

	m.restorers = append(m.restorers, fn)
}

// Current returns the live connection handle.
// The handle is replaced on reconnection, do not keep it.
func (m *Manager) Current() (transport.Connection, error) {
	m.mux.RLock()
	defer m.mux.RUnlock()

	if m.conn == nil {
		return nil, ErrNotConnected
	}

	return m.conn, nil
}

// State returns current state.
func (m *Manager) State() State {
	m.mux.RLock()
	defer m.mux.RUnlock()

	return m.state
}

// Attempts returns number of retry attempts made so far.
func (m *Manager) Attempts() int {
	return m.policy.Attempts()
}

// supervise watches the live handle and drives reconnection. It is the only reconnect cycle.
func (m *Manager) supervise(closed <-chan *amqp.Error) {
	defer m.wg.Done()

	for {
		var err error
		if reason, ok := <-closed; ok && reason != nil {
			err = reason
		}

		m.mux.Lock()
		m.conn = nil
		m.mux.Unlock()

		if err != nil {
			m.logger.Warn().Err(err).Msg("connection lost")
			m.emit(EventError, err)
		}
		m.emit(EventClose, err)

		m.mux.Lock()
		requested := m.userClosed
		if requested || !m.autoReconnectOnConnectionLost {
			m.state = Closed
			m.mux.Unlock()
			m.logger.Debug().Bool("requested", requested).Msg("connection closed")

			return
		}
		m.state = Reconnecting
		m.mux.Unlock()

		next, err := m.reconnect(m.ctx)
		if err != nil {
			m.setState(Closed)
			m.logger.Debug().Err(err).Msg("reconnecting aborted")

			return
		}

		m.logger.Info().Int("attempt", m.policy.Attempts()).Msg("reconnected")
		m.emit(EventReconnect, nil)

		closed = next
	}
}

func (m *Manager) reconnect(ctx context.Context) (<-chan *amqp.Error, error) {
	delay := m.policy.NextBackOff()
	m.logger.Info().Int("attempt", m.policy.Attempts()).Dur("delay", delay).Msg("reconnecting")

	if err := m.wait(ctx, delay); err != nil {
		return nil, err
	}

	return m.retryDial(ctx, true)
}

func (m *Manager) retryDial(ctx context.Context, restore bool) (<-chan *amqp.Error, error) {
	var closed <-chan *amqp.Error

	operation := func() error {
		if err := ctx.Err(); err != nil {
			return backoff.Permanent(err)
		}

		c, err := m.dial(ctx, restore)
		if err != nil {
			return err
		}

		closed = c

		return nil
	}

	notify := func(err error, delay time.Duration) {
		m.logger.Warn().
			Err(err).
			Int("attempt", m.policy.Attempts()).
			Dur("delay", delay).
			Msg("connection attempt failed, retrying")
	}

	if err := backoff.RetryNotifyWithTimer(operation, backoff.WithContext(m.policy, ctx), notify, m.timer); err != nil {
		return nil, err
	}

	return closed, nil
}

// dial makes one attempt. With restore set, restorers run on the new handle before it counts as connected.
func (m *Manager) dial(ctx context.Context, restore bool) (<-chan *amqp.Error, error) {
	conn, err := m.dialer(ctx, m.addr)
	m.notifyAttempt(err)
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}

	closed := conn.NotifyClose(make(chan *amqp.Error, 1))

	m.mux.Lock()
	if m.userClosed {
		m.mux.Unlock()
		_ = conn.Close()

		return nil, backoff.Permanent(ErrClosed)
	}
	m.conn = conn
	restorers := append([]Restorer(nil), m.restorers...)
	m.mux.Unlock()

	if restore {
		for _, fn := range restorers {
			if err := fn(ctx); err != nil {
				err = fmt.Errorf("restore: %w", err)
				m.emit(EventError, err)

				m.mux.Lock()
				m.conn = nil
				m.mux.Unlock()
				_ = conn.Close()

				return nil, err
			}
		}
	}

	m.setState(Connected)
	m.logger.Debug().Str("addr", m.addr).Msg("connected")

	return closed, nil
}

func (m *Manager) wait(ctx context.Context, delay time.Duration) error {
	var timer backoff.Timer = &stdTimer{}
	if m.timer != nil {
		timer = m.timer
	}

	timer.Start(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C():
		return nil
	}
}

func (m *Manager) setState(s State) {
	m.mux.Lock()
	defer m.mux.Unlock()

	m.state = s
}

func (m *Manager) emit(ev Event, err error) {
	m.mux.RLock()
	handlers := append([]Handler(nil), m.handlers[ev]...)
	m.mux.RUnlock()

	for _, fn := range handlers {
		fn(err)
	}
}

func (m *Manager) notifyAttempt(err error) {
	for _, fn := range m.onAttempt {
		fn(err)
	}
}

// stdTimer is a backoff.Timer over time.Timer, used when no timer is configured.
type stdTimer struct {
	timer *time.Timer
}

func (t *stdTimer) C() <-chan time.Time {
	return t.timer.C
}

func (t *stdTimer) Start(duration time.Duration) {
	if t.timer == nil {
		t.timer = time.NewTimer(duration)
	} else {
		t.timer.Reset(duration)
	}
}

func (t *stdTimer) Stop() {
	if t.timer != nil {
		t.timer.Stop()
	}
}
