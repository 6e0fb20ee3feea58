package rabbittest

import (
	"context"
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/heureka/rabbitguard/transport"
)

// Broker is an in-memory broker for unit tests.
type Broker struct {
	mux           sync.Mutex
	dialFailures  []error
	chanFailures  []error
	declFailures  []error
	connections   []*Connection
	dials         int
	generatedSeq  int
	consumerSeq   int
	deliveryTagID uint64
}

// NewBroker creates a Broker which accepts every dial.
func NewBroker() *Broker {
	return &Broker{}
}

// FailDials makes the next len(errs) dials fail with given errors, in order.
func (b *Broker) FailDials(errs ...error) {
	b.mux.Lock()
	defer b.mux.Unlock()

	b.dialFailures = append(b.dialFailures, errs...)
}

// FailChannels makes the next len(errs) channel creations fail with given errors, in order.
func (b *Broker) FailChannels(errs ...error) {
	b.mux.Lock()
	defer b.mux.Unlock()

	b.chanFailures = append(b.chanFailures, errs...)
}

// FailDeclares makes the next len(errs) queue declarations fail with given errors, in order.
// A nil error lets its declaration through.
func (b *Broker) FailDeclares(errs ...error) {
	b.mux.Lock()
	defer b.mux.Unlock()

	b.declFailures = append(b.declFailures, errs...)
}

// Dial implements transport.Dialer.
func (b *Broker) Dial(_ context.Context, _ string) (transport.Connection, error) {
	b.mux.Lock()
	defer b.mux.Unlock()

	b.dials++
	if len(b.dialFailures) > 0 {
		err := b.dialFailures[0]
		b.dialFailures = b.dialFailures[1:]

		return nil, err
	}

	conn := &Connection{broker: b}
	b.connections = append(b.connections, conn)

	return conn, nil
}

// Dials returns number of dial attempts, successful or not.
func (b *Broker) Dials() int {
	b.mux.Lock()
	defer b.mux.Unlock()

	return b.dials
}

// Connections returns all connections opened so far.
func (b *Broker) Connections() []*Connection {
	b.mux.Lock()
	defer b.mux.Unlock()

	return append([]*Connection(nil), b.connections...)
}

// Last returns the most recently opened connection, nil if there is none.
func (b *Broker) Last() *Connection {
	b.mux.Lock()
	defer b.mux.Unlock()

	if len(b.connections) == 0 {
		return nil
	}

	return b.connections[len(b.connections)-1]
}

func (b *Broker) channelFailure() error {
	b.mux.Lock()
	defer b.mux.Unlock()

	if len(b.chanFailures) == 0 {
		return nil
	}

	err := b.chanFailures[0]
	b.chanFailures = b.chanFailures[1:]

	return err
}

func (b *Broker) declareFailure() error {
	b.mux.Lock()
	defer b.mux.Unlock()

	if len(b.declFailures) == 0 {
		return nil
	}

	err := b.declFailures[0]
	b.declFailures = b.declFailures[1:]

	return err
}

func (b *Broker) generateQueueName() string {
	b.mux.Lock()
	defer b.mux.Unlock()

	b.generatedSeq++

	return fmt.Sprintf("amq.gen-%d", b.generatedSeq)
}

func (b *Broker) generateConsumerTag() string {
	b.mux.Lock()
	defer b.mux.Unlock()

	b.consumerSeq++

	return fmt.Sprintf("ctag-%d", b.consumerSeq)
}

func (b *Broker) nextDeliveryTag() uint64 {
	b.mux.Lock()
	defer b.mux.Unlock()

	b.deliveryTagID++

	return b.deliveryTagID
}

// Connection is an in-memory transport.Connection.
type Connection struct {
	broker *Broker

	mux       sync.Mutex
	closed    bool
	listeners []chan *amqp.Error
	channels  []*Channel
}

// Channel opens a new in-memory channel.
func (c *Connection) Channel() (transport.Channel, error) {
	if err := c.broker.channelFailure(); err != nil {
		return nil, err
	}

	c.mux.Lock()
	defer c.mux.Unlock()

	if c.closed {
		return nil, amqp.ErrClosed
	}

	ch := &Channel{broker: c.broker}
	c.channels = append(c.channels, ch)

	return ch, nil
}

// NotifyClose registers a listener for connection closure.
// Error is sent with a blocking send, receivers should be buffered.
func (c *Connection) NotifyClose(receiver chan *amqp.Error) chan *amqp.Error {
	c.mux.Lock()
	defer c.mux.Unlock()

	if c.closed {
		close(receiver)
		return receiver
	}

	c.listeners = append(c.listeners, receiver)

	return receiver
}

// Close closes connection gracefully.
func (c *Connection) Close() error {
	return c.shutdown(nil)
}

// Break closes connection as if the broker or network failed.
func (c *Connection) Break(err *amqp.Error) {
	_ = c.shutdown(err)
}

// IsClosed reports whether connection was closed.
func (c *Connection) IsClosed() bool {
	c.mux.Lock()
	defer c.mux.Unlock()

	return c.closed
}

// Channels returns all channels opened on this connection.
func (c *Connection) Channels() []*Channel {
	c.mux.Lock()
	defer c.mux.Unlock()

	return append([]*Channel(nil), c.channels...)
}

// LastChannel returns the most recently opened channel, nil if there is none.
func (c *Connection) LastChannel() *Channel {
	c.mux.Lock()
	defer c.mux.Unlock()

	if len(c.channels) == 0 {
		return nil
	}

	return c.channels[len(c.channels)-1]
}

func (c *Connection) shutdown(err *amqp.Error) error {
	c.mux.Lock()
	if c.closed {
		c.mux.Unlock()
		return amqp.ErrClosed
	}
	c.closed = true
	listeners := c.listeners
	c.listeners = nil
	channels := c.channels
	c.mux.Unlock()

	for _, ch := range channels {
		_ = ch.shutdown(err)
	}

	for _, l := range listeners {
		if err != nil {
			l <- err
		}
		close(l)
	}

	return nil
}
