package publisher

import (
	amqp "github.com/rabbitmq/amqp091-go"
)

// Option allows to configure Publisher.
type Option func(p *Publisher)

// WithEncoding sets the content type of every message, see config.Options.Encoding.
func WithEncoding(contentType string) Option {
	return func(p *Publisher) {
		p.template.ContentType = contentType
	}
}

// WithConstHeaders sets headers added to every message.
func WithConstHeaders(headers amqp.Table) Option {
	return func(p *Publisher) {
		if p.template.Headers == nil {
			p.template.Headers = make(amqp.Table, len(headers))
		}

		for k, v := range headers {
			p.template.Headers[k] = v
		}
	}
}

// WithTransient publishes every message in the Transient delivery mode.
func WithTransient() Option {
	return func(p *Publisher) {
		p.template.DeliveryMode = amqp.Transient
	}
}

// WithMiddlewares applies middlewares to every publishing,
// before the ones passed to Publish.
func WithMiddlewares(mws ...Middleware) Option {
	return func(p *Publisher) {
		p.mws = append(p.mws, mws...)
	}
}
