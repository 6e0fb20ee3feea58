package rabbittest

import (
	"context"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Declaration is a recorded queue declaration.
type Declaration struct {
	// Requested is the name passed to QueueDeclare, empty for broker-named queues.
	Requested  string
	Queue      amqp.Queue
	Durable    bool
	AutoDelete bool
	Exclusive  bool
	NoWait     bool
	Args       amqp.Table
}

// Consumption is a recorded consumer registration.
type Consumption struct {
	Queue     string
	Tag       string
	AutoAck   bool
	Exclusive bool
	NoLocal   bool
	NoWait    bool
	Args      amqp.Table
	Cancelled bool

	deliveries chan amqp.Delivery
}

// Publishing is a recorded publish call.
type Publishing struct {
	Exchange  string
	Key       string
	Mandatory bool
	Immediate bool
	Msg       amqp.Publishing
}

// QoS is recorded channel prefetch configuration.
type QoS struct {
	PrefetchCount int
	PrefetchSize  int
	Global        bool
}

// Channel is an in-memory transport.Channel.
// It is also amqp.Acknowledger for deliveries it sends.
type Channel struct {
	broker *Broker

	mux       sync.Mutex
	closed    bool
	listeners []chan *amqp.Error
	declared  []Declaration
	consumers []*Consumption
	published []Publishing
	qos       *QoS
	acked     []uint64
	nacked    []uint64
	rejected  []uint64
}

// QueueDeclare records declaration. Empty name gets a generated "amq.gen-N" name.
func (c *Channel) QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error) {
	if err := c.broker.declareFailure(); err != nil {
		return amqp.Queue{}, err
	}

	resolved := name
	if resolved == "" {
		resolved = c.broker.generateQueueName()
	}

	c.mux.Lock()
	defer c.mux.Unlock()

	if c.closed {
		return amqp.Queue{}, amqp.ErrClosed
	}

	queue := amqp.Queue{Name: resolved}
	c.declared = append(c.declared, Declaration{
		Requested:  name,
		Queue:      queue,
		Durable:    durable,
		AutoDelete: autoDelete,
		Exclusive:  exclusive,
		NoWait:     noWait,
		Args:       args,
	})

	return queue, nil
}

// Consume records consumer registration and returns its deliveries.
func (c *Channel) Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error) {
	if consumer == "" {
		consumer = c.broker.generateConsumerTag()
	}

	c.mux.Lock()
	defer c.mux.Unlock()

	if c.closed {
		return nil, amqp.ErrClosed
	}

	cons := &Consumption{
		Queue:      queue,
		Tag:        consumer,
		AutoAck:    autoAck,
		Exclusive:  exclusive,
		NoLocal:    noLocal,
		NoWait:     noWait,
		Args:       args,
		deliveries: make(chan amqp.Delivery, 64),
	}
	c.consumers = append(c.consumers, cons)

	return cons.deliveries, nil
}

// Cancel stops consumer deliveries.
func (c *Channel) Cancel(consumer string, _ bool) error {
	c.mux.Lock()
	defer c.mux.Unlock()

	if c.closed {
		return amqp.ErrClosed
	}

	for _, cons := range c.consumers {
		if cons.Tag == consumer && !cons.Cancelled {
			cons.Cancelled = true
			close(cons.deliveries)
		}
	}

	return nil
}

// Qos records prefetch settings.
func (c *Channel) Qos(prefetchCount, prefetchSize int, global bool) error {
	c.mux.Lock()
	defer c.mux.Unlock()

	if c.closed {
		return amqp.ErrClosed
	}

	c.qos = &QoS{PrefetchCount: prefetchCount, PrefetchSize: prefetchSize, Global: global}

	return nil
}

// PublishWithContext records publishing.
func (c *Channel) PublishWithContext(_ context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error {
	c.mux.Lock()
	defer c.mux.Unlock()

	if c.closed {
		return amqp.ErrClosed
	}

	c.published = append(c.published, Publishing{
		Exchange:  exchange,
		Key:       key,
		Mandatory: mandatory,
		Immediate: immediate,
		Msg:       msg,
	})

	return nil
}

// NotifyClose registers a listener for channel closure.
// Error is sent with a blocking send, receivers should be buffered.
func (c *Channel) NotifyClose(receiver chan *amqp.Error) chan *amqp.Error {
	c.mux.Lock()
	defer c.mux.Unlock()

	if c.closed {
		close(receiver)
		return receiver
	}

	c.listeners = append(c.listeners, receiver)

	return receiver
}

// Close closes channel gracefully.
func (c *Channel) Close() error {
	return c.shutdown(nil)
}

// Break closes channel as if the broker raised a channel exception.
func (c *Channel) Break(err *amqp.Error) {
	_ = c.shutdown(err)
}

// IsClosed reports whether channel was closed.
func (c *Channel) IsClosed() bool {
	c.mux.Lock()
	defer c.mux.Unlock()

	return c.closed
}

// Deliver sends body to the first active consumer of the queue.
// Returns false if there is no such consumer.
func (c *Channel) Deliver(queue string, body []byte) bool {
	tag := c.broker.nextDeliveryTag()

	c.mux.Lock()
	defer c.mux.Unlock()

	for _, cons := range c.consumers {
		if cons.Queue != queue || cons.Cancelled || c.closed {
			continue
		}

		cons.deliveries <- amqp.Delivery{
			Acknowledger: c,
			ConsumerTag:  cons.Tag,
			DeliveryTag:  tag,
			RoutingKey:   queue,
			Body:         body,
		}

		return true
	}

	return false
}

// Declared returns recorded declarations in order.
func (c *Channel) Declared() []Declaration {
	c.mux.Lock()
	defer c.mux.Unlock()

	return append([]Declaration(nil), c.declared...)
}

// DeclaredNames returns requested names of recorded declarations in order.
func (c *Channel) DeclaredNames() []string {
	c.mux.Lock()
	defer c.mux.Unlock()

	names := make([]string, 0, len(c.declared))
	for _, d := range c.declared {
		names = append(names, d.Requested)
	}

	return names
}

// Consumers returns recorded consumer registrations in order.
func (c *Channel) Consumers() []Consumption {
	c.mux.Lock()
	defer c.mux.Unlock()

	consumers := make([]Consumption, 0, len(c.consumers))
	for _, cons := range c.consumers {
		consumers = append(consumers, *cons)
	}

	return consumers
}

// Published returns recorded publishings in order.
func (c *Channel) Published() []Publishing {
	c.mux.Lock()
	defer c.mux.Unlock()

	return append([]Publishing(nil), c.published...)
}

// QoS returns recorded prefetch settings, nil if Qos was never called.
func (c *Channel) QoS() *QoS {
	c.mux.Lock()
	defer c.mux.Unlock()

	return c.qos
}

// Acked returns acknowledged delivery tags.
func (c *Channel) Acked() []uint64 {
	c.mux.Lock()
	defer c.mux.Unlock()

	return append([]uint64(nil), c.acked...)
}

// Rejected returns rejected delivery tags.
func (c *Channel) Rejected() []uint64 {
	c.mux.Lock()
	defer c.mux.Unlock()

	return append([]uint64(nil), c.rejected...)
}

// Ack implements amqp.Acknowledger.
func (c *Channel) Ack(tag uint64, _ bool) error {
	c.mux.Lock()
	defer c.mux.Unlock()

	c.acked = append(c.acked, tag)

	return nil
}

// Nack implements amqp.Acknowledger.
func (c *Channel) Nack(tag uint64, _, _ bool) error {
	c.mux.Lock()
	defer c.mux.Unlock()

	c.nacked = append(c.nacked, tag)

	return nil
}

// Reject implements amqp.Acknowledger.
func (c *Channel) Reject(tag uint64, _ bool) error {
	c.mux.Lock()
	defer c.mux.Unlock()

	c.rejected = append(c.rejected, tag)

	return nil
}

func (c *Channel) shutdown(err *amqp.Error) error {
	c.mux.Lock()
	if c.closed {
		c.mux.Unlock()
		return amqp.ErrClosed
	}
	c.closed = true
	listeners := c.listeners
	c.listeners = nil
	for _, cons := range c.consumers {
		if !cons.Cancelled {
			cons.Cancelled = true
			close(cons.deliveries)
		}
	}
	c.mux.Unlock()

	for _, l := range listeners {
		if err != nil {
			l <- err
		}
		close(l)
	}

	return nil
}
