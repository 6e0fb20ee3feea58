package publisher

import (
	"context"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Publisher publishes messages to an exchange.
type Publisher struct {
	channel  Channel
	exchange string
	template amqp.Publishing
	mws      []Middleware
}

// New creates new Publisher.
// By default, it publishes with Persistent delivery mode, no content type and no headers.
func New(channel Channel, exchange string, ops ...Option) *Publisher {
	pub := &Publisher{
		channel:  channel,
		exchange: exchange,
		template: amqp.Publishing{DeliveryMode: amqp.Persistent},
	}

	for _, op := range ops {
		op(pub)
	}

	return pub
}

// Publish message with routing key.
func (p *Publisher) Publish(ctx context.Context, key string, body []byte, mws ...Middleware) error {
	if err := p.publish(ctx, p.exchange, key, body, mws); err != nil {
		return fmt.Errorf("publish to %q with key %q: %w", p.exchange, key, err)
	}

	return nil
}

// SendToQueue publishes message directly to the queue through the default exchange.
func (p *Publisher) SendToQueue(ctx context.Context, queue string, body []byte, mws ...Middleware) error {
	if err := p.publish(ctx, "", queue, body, mws); err != nil {
		return fmt.Errorf("send to queue %q: %w", queue, err)
	}

	return nil
}

func (p *Publisher) publish(ctx context.Context, exchange, key string, body []byte, mws []Middleware) error {
	msg := p.template
	if p.template.Headers != nil {
		msg.Headers = make(amqp.Table, len(p.template.Headers))
		for k, v := range p.template.Headers {
			msg.Headers[k] = v
		}
	}
	msg.Body = body

	all := make([]Middleware, 0, len(p.mws)+len(mws))
	all = append(all, p.mws...)
	all = append(all, mws...)

	return Wrap(p.channel, all...).PublishWithContext(ctx, exchange, key, false, false, msg)
}
