// Package channel keeps one logical channel over a connection.Manager and replays
// declared queues and consumers every time the channel is re-created.
package channel

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"

	"github.com/heureka/rabbitguard/transport"
)

var (
	// ErrNotInitialized is returned when Manager is used before Init.
	ErrNotInitialized = errors.New("channel not initialized")
	// ErrClosed is returned when Manager is used after Close.
	ErrClosed = errors.New("channel manager closed")
	// ErrUnknownQueue is returned when consuming from a queue which was not declared.
	ErrUnknownQueue = errors.New("unknown queue")
	// ErrUnknownConsumer is returned when cancelling a consumer which is not registered.
	ErrUnknownConsumer = errors.New("unknown consumer")
	// ErrDuplicateConsumer is returned when consumer tag is already registered.
	ErrDuplicateConsumer = errors.New("duplicate consumer")
)

// Connection provides live connection handles and runs restorers after reconnection.
// Implemented by *connection.Manager.
type Connection interface {
	Current() (transport.Connection, error)
	AddRestorer(fn func(ctx context.Context) error)
}

// Manager owns a channel and the ordered registry of queues declared on it.
type Manager struct {
	conn Connection

	mux       sync.Mutex
	ch        transport.Channel
	closed    bool
	registry  *registry
	fastReply string

	qos     *qos
	logger  zerolog.Logger
	onError []func(error)

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates Manager over conn. Channel is created by Init.
// Once initialized, Manager re-initializes itself whenever conn reconnects.
func New(conn Connection, ops ...Option) *Manager {
	ctx, cancel := context.WithCancel(context.Background())

	m := Manager{
		conn:     conn,
		registry: newRegistry(),
		logger:   zerolog.Nop(),
		ctx:      ctx,
		cancel:   cancel,
	}

	for _, op := range ops {
		op(&m)
	}

	conn.AddRestorer(m.restore)

	return &m
}

// Init creates a new channel on the current connection and replays all declared queues
// and their consumers in declaration order. Previous channel is closed.
// Failure to create the channel is returned, not retried.
// If replay fails, the new channel is closed and the previous one stays in use.
func (m *Manager) Init(ctx context.Context) (*Manager, error) {
	m.mux.Lock()
	defer m.mux.Unlock()

	if m.closed {
		return nil, ErrClosed
	}

	if err := m.init(ctx); err != nil {
		return nil, err
	}

	return m, nil
}

func (m *Manager) init(_ context.Context) error {
	conn, err := m.conn.Current()
	if err != nil {
		return fmt.Errorf("current connection: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("create channel: %w", err)
	}

	m.watch(ch.NotifyClose(make(chan *amqp.Error, 1)))

	queues, err := m.replay(ch)
	if err != nil {
		if cerr := ch.Close(); cerr != nil && !errors.Is(cerr, amqp.ErrClosed) {
			m.logger.Warn().Err(cerr).Msg("close incomplete channel")
		}

		return err
	}

	if m.ch != nil && !m.ch.IsClosed() {
		if err := m.ch.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
			m.logger.Warn().Err(err).Msg("close previous channel")
		}
	}
	m.ch = ch

	for i, e := range m.registry.list() {
		e.queue = queues[i]
	}

	m.logger.Debug().Int("queues", len(m.registry.order)).Msg("channel initialized")

	return nil
}

// replay applies QoS, then declares every recorded queue followed by its consumers.
// Resolved queues are returned in registry order, they are not recorded.
func (m *Manager) replay(ch transport.Channel) ([]amqp.Queue, error) {
	if m.qos != nil {
		if err := ch.Qos(m.qos.prefetchCount, m.qos.prefetchSize, m.qos.global); err != nil {
			return nil, fmt.Errorf("set QoS: %w", err)
		}
	}

	entries := m.registry.list()
	queues := make([]amqp.Queue, 0, len(entries))
	for _, e := range entries {
		queue, err := m.declare(ch, e)
		if err != nil {
			return nil, err
		}

		for _, c := range e.consumers {
			if err := m.consume(ch, queue.Name, c); err != nil {
				return nil, err
			}
		}

		queues = append(queues, queue)
	}

	return queues, nil
}

// restore re-initializes an already initialized Manager.
func (m *Manager) restore(ctx context.Context) error {
	m.mux.Lock()
	defer m.mux.Unlock()

	if m.closed || m.ch == nil {
		return nil
	}

	return m.init(ctx)
}

// AssertQueue declares queue and records it for replay.
// Declaring the same name again overwrites its properties, it keeps its replay position and consumers.
// Empty name lets the broker generate one, every such call declares a new queue.
// The current name of a broker named queue refers to its existing record.
func (m *Manager) AssertQueue(name string, props QueueProperties) (amqp.Queue, error) {
	m.mux.Lock()
	defer m.mux.Unlock()

	if err := m.usable(); err != nil {
		return amqp.Queue{}, err
	}

	return m.assertQueue(name, props)
}

func (m *Manager) assertQueue(name string, props QueueProperties) (amqp.Queue, error) {
	queue, err := m.ch.QueueDeclare(name, props.Durable, props.AutoDelete, props.Exclusive, props.NoWait, props.Args)
	if err != nil {
		return amqp.Queue{}, fmt.Errorf("declare queue %q: %w", name, err)
	}

	key, requested := name, name
	switch e, ok := m.registry.find(name); {
	case ok:
		key, requested = e.key, e.requested
	case name == "":
		key = queue.Name
	}

	m.registry.put(key, requested, props, queue)

	return queue, nil
}

// GetQueueByName returns recorded queue, declaring it with props if it was never declared.
func (m *Manager) GetQueueByName(name string, props QueueProperties) (amqp.Queue, error) {
	m.mux.Lock()
	defer m.mux.Unlock()

	if err := m.usable(); err != nil {
		return amqp.Queue{}, err
	}

	if e, ok := m.registry.find(name); ok {
		return e.queue, nil
	}

	return m.assertQueue(name, props)
}

// InitFastReplyQueue declares an exclusive, non-durable, broker named queue and consumes it
// with processor without acknowledgements. Subsequent calls return the same queue and register nothing.
func (m *Manager) InitFastReplyQueue(processor Processor) (amqp.Queue, error) {
	m.mux.Lock()
	defer m.mux.Unlock()

	if err := m.usable(); err != nil {
		return amqp.Queue{}, err
	}

	if e, ok := m.registry.get(m.fastReply); ok {
		return e.queue, nil
	}

	props := fastReplyProperties
	queue, err := m.ch.QueueDeclare("", props.Durable, props.AutoDelete, props.Exclusive, props.NoWait, props.Args)
	if err != nil {
		return amqp.Queue{}, fmt.Errorf("declare fast reply queue: %w", err)
	}

	e := &entry{key: queue.Name, props: props, queue: queue}
	c := &consumer{
		tag:       uuid.NewString(),
		processor: processor,
		props:     ConsumeProperties{AutoAck: true},
	}

	if err := m.consume(m.ch, e.queue.Name, c); err != nil {
		return amqp.Queue{}, err
	}

	e = m.registry.put(e.key, "", props, queue)
	e.consumers = append(e.consumers, c)
	m.fastReply = e.key

	return queue, nil
}

// InitConsumption registers processor as a consumer of an already declared queue, by its name
// or the name the broker generated for it. Registration is replayed after channel re-creation.
// Returns consumer tag.
func (m *Manager) InitConsumption(queueName string, processor Processor, props ConsumeProperties) (string, error) {
	m.mux.Lock()
	defer m.mux.Unlock()

	if err := m.usable(); err != nil {
		return "", err
	}

	e, ok := m.registry.find(queueName)
	if !ok {
		return "", fmt.Errorf("consume %q: %w", queueName, ErrUnknownQueue)
	}

	if props.Tag == "" {
		props.Tag = uuid.NewString()
	}

	if m.registry.hasConsumer(props.Tag) {
		return "", fmt.Errorf("consume %q with tag %q: %w", queueName, props.Tag, ErrDuplicateConsumer)
	}

	c := &consumer{
		tag:       props.Tag,
		processor: processor,
		props:     props,
	}

	if err := m.consume(m.ch, e.queue.Name, c); err != nil {
		return "", err
	}

	e.consumers = append(e.consumers, c)

	return c.tag, nil
}

// CancelConsumption cancels consumer and removes it from replay.
func (m *Manager) CancelConsumption(tag string) error {
	m.mux.Lock()
	defer m.mux.Unlock()

	if err := m.usable(); err != nil {
		return err
	}

	if !m.registry.removeConsumer(tag) {
		return fmt.Errorf("cancel %q: %w", tag, ErrUnknownConsumer)
	}

	if err := m.ch.Cancel(tag, false); err != nil {
		return fmt.Errorf("cancel %q: %w", tag, err)
	}

	return nil
}

// PublishWithContext publishes on the current channel.
//
//nolint:gocritic // interface should be the same as amqp.Channel.PublishWithContext
func (m *Manager) PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error {
	m.mux.Lock()
	if err := m.usable(); err != nil {
		m.mux.Unlock()
		return err
	}
	ch := m.ch
	m.mux.Unlock()

	return ch.PublishWithContext(ctx, exchange, key, mandatory, immediate, msg)
}

// Queues returns declared queues in declaration order.
func (m *Manager) Queues() []amqp.Queue {
	m.mux.Lock()
	defer m.mux.Unlock()

	entries := m.registry.list()
	queues := make([]amqp.Queue, 0, len(entries))
	for _, e := range entries {
		queues = append(queues, e.queue)
	}

	return queues
}

// Close closes the channel and waits for processors to finish.
// Manager is not re-initialized after reconnection anymore.
func (m *Manager) Close() error {
	m.mux.Lock()
	if m.closed {
		m.mux.Unlock()
		return nil
	}
	m.closed = true
	m.cancel()
	ch := m.ch
	m.mux.Unlock()

	var err error
	if ch != nil && !ch.IsClosed() {
		if cerr := ch.Close(); cerr != nil && !errors.Is(cerr, amqp.ErrClosed) {
			err = fmt.Errorf("close channel: %w", cerr)
		}
	}

	m.wg.Wait()

	return err
}

func (m *Manager) usable() error {
	if m.closed {
		return ErrClosed
	}

	if m.ch == nil {
		return ErrNotInitialized
	}

	return nil
}

func (m *Manager) declare(ch transport.Channel, e *entry) (amqp.Queue, error) {
	p := e.props

	queue, err := ch.QueueDeclare(e.requested, p.Durable, p.AutoDelete, p.Exclusive, p.NoWait, p.Args)
	if err != nil {
		return amqp.Queue{}, fmt.Errorf("redeclare queue %q: %w", e.key, err)
	}

	return queue, nil
}

func (m *Manager) consume(ch transport.Channel, queue string, c *consumer) error {
	p := c.props

	deliveries, err := ch.Consume(queue, c.tag, p.AutoAck, p.Exclusive, p.NoLocal, p.NoWait, p.Args)
	if err != nil {
		return fmt.Errorf("consume %q: %w", queue, err)
	}

	logger := m.logger.With().Str("queue", queue).Str("tag", c.tag).Logger()
	logger.Debug().Msg("consuming")

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()

		if err := c.processor.Process(m.ctx, deliveries); err != nil {
			logger.Err(err).Msg("processing deliveries")
			m.notifyError(fmt.Errorf("process %q: %w", queue, err))
		}
	}()

	return nil
}

// watch reports channel errors. The channel is not recovered here.
func (m *Manager) watch(closed <-chan *amqp.Error) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()

		if err, ok := <-closed; ok && err != nil {
			m.logger.Warn().Err(err).Msg("channel closed")
			m.notifyError(err)
		}
	}()
}

func (m *Manager) notifyError(err error) {
	for _, fn := range m.onError {
		fn(err)
	}
}
