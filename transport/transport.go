// Package transport describes what managers need from the broker client library.
// The amqp091-go types satisfy these interfaces (connection through a thin adapter),
// tests can substitute an in-memory broker.
package transport

import (
	"context"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Dialer opens a new broker connection.
// Dial is not cancelled mid-flight, ctx is only checked by implementations able to honour it.
type Dialer func(ctx context.Context, addr string) (Connection, error)

// Connection is a live broker connection handle.
type Connection interface {
	// Channel opens a new channel on the connection.
	Channel() (Channel, error)
	// NotifyClose registers a listener for connection closure.
	// On graceful close the receiver is closed without sending, otherwise the error is sent first.
	NotifyClose(receiver chan *amqp.Error) chan *amqp.Error
	Close() error
	IsClosed() bool
}

// Channel is a live broker channel handle.
// *amqp.Channel implements it.
type Channel interface {
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
	Cancel(consumer string, noWait bool) error
	Qos(prefetchCount, prefetchSize int, global bool) error
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	NotifyClose(receiver chan *amqp.Error) chan *amqp.Error
	Close() error
	IsClosed() bool
}

var _ Channel = (*amqp.Channel)(nil)

// AMQPDialer dials RabbitMQ with amqp.DialConfig.
func AMQPDialer(cfg amqp.Config) Dialer {
	return func(_ context.Context, addr string) (Connection, error) {
		conn, err := amqp.DialConfig(addr, cfg)
		if err != nil {
			return nil, err
		}

		return amqpConnection{conn}, nil
	}
}

// amqpConnection adapts *amqp.Connection, whose Channel returns a concrete type.
type amqpConnection struct {
	*amqp.Connection
}

func (c amqpConnection) Channel() (Channel, error) {
	ch, err := c.Connection.Channel()
	if err != nil {
		return nil, err
	}

	return ch, nil
}
