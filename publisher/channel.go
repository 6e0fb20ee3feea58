package publisher

import (
	"context"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Channel publishes messages. *channel.Manager satisfies it and always
// publishes through the channel restored after the last reconnect.
type Channel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// ChannelFunc type is an adapter to allow the use of
// ordinary functions as Channel.
type ChannelFunc func(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error

// PublishWithContext implements Channel.
func (f ChannelFunc) PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error {
	return f(ctx, exchange, key, mandatory, immediate, msg)
}

// Middleware wraps a Channel to alter what is published.
type Middleware func(Channel) Channel

// Wrap channel with middlewares, the first one being the outermost.
//
//nolint:ireturn // it is OK for a wrapper to return interface.
func Wrap(channel Channel, mws ...Middleware) Channel {
	for i := len(mws) - 1; i >= 0; i-- {
		channel = mws[i](channel)
	}

	return channel
}
