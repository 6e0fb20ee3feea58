package publisher

import (
	"context"
	"strconv"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

// publishing builds a Middleware changing only the message itself.
func publishing(change func(msg *amqp.Publishing)) Middleware {
	return func(channel Channel) Channel {
		return ChannelFunc(func(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error {
			change(&msg)

			return channel.PublishWithContext(ctx, exchange, key, mandatory, immediate, msg)
		})
	}
}

// WithHeaders adds headers to the published message, overriding existing ones with the same name.
func WithHeaders(table amqp.Table) Middleware {
	return publishing(func(msg *amqp.Publishing) {
		headers := make(amqp.Table, len(msg.Headers)+len(table))
		for k, v := range msg.Headers {
			headers[k] = v
		}
		for k, v := range table {
			headers[k] = v
		}
		msg.Headers = headers
	})
}

// WithExpiration sets the per-message TTL.
func WithExpiration(expire time.Duration) Middleware {
	return publishing(func(msg *amqp.Publishing) {
		msg.Expiration = strconv.FormatInt(expire.Milliseconds(), 10)
	})
}

// WithTransientDeliveryMode publishes the message in the Transient delivery mode.
// Transient means higher throughput but messages will not be
// restored on broker restart.
func WithTransientDeliveryMode() Middleware {
	return publishing(func(msg *amqp.Publishing) {
		msg.DeliveryMode = amqp.Transient
	})
}

// WithContentType sets the MIME type of the body, e.g. "application/json".
func WithContentType(contentType string) Middleware {
	return publishing(func(msg *amqp.Publishing) {
		msg.ContentType = contentType
	})
}

// WithMessageID sets a random message ID unless the message already has one.
func WithMessageID() Middleware {
	return publishing(func(msg *amqp.Publishing) {
		if msg.MessageId == "" {
			msg.MessageId = uuid.NewString()
		}
	})
}

// WithReplyTo asks the consumer to answer to the given queue,
// usually the one returned by channel.Manager.InitFastReplyQueue.
func WithReplyTo(queue string) Middleware {
	return publishing(func(msg *amqp.Publishing) {
		msg.ReplyTo = queue
	})
}

// WithMandatory makes the server return the message if no queue is bound
// that matches the routing key.
// See https://www.rabbitmq.com/amqp-0-9-1-reference.html#basic.publish.mandatory.
func WithMandatory() Middleware {
	return func(channel Channel) Channel {
		return ChannelFunc(func(ctx context.Context, exchange, key string, _, immediate bool, msg amqp.Publishing) error {
			return channel.PublishWithContext(ctx, exchange, key, true, immediate, msg)
		})
	}
}

// WithImmediate makes the server return the message when no consumer
// on the matched queue is ready to accept it.
// See https://www.rabbitmq.com/amqp-0-9-1-reference.html#basic.publish.immediate.
func WithImmediate() Middleware {
	return func(channel Channel) Channel {
		return ChannelFunc(func(ctx context.Context, exchange, key string, mandatory, _ bool, msg amqp.Publishing) error {
			return channel.PublishWithContext(ctx, exchange, key, mandatory, true, msg)
		})
	}
}
