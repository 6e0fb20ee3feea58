package process

import (
	"context"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

// One processes deliveries one-by-one.
type One struct {
	handler       DeliveryHandler
	rejectRequeue bool
}

// ByOne creates new One processor.
// It passes delivery body into transaction and acks, or rejects if transaction returned an error.
// Do not use it for consumers with auto-ack.
func ByOne(tx Transaction, rejectRequeue bool, mws ...Middleware) *One {
	return &One{
		handler:       txWithMiddlewares(tx, mws...),
		rejectRequeue: rejectRequeue,
	}
}

// DeliveryHandler specifies how to handle raw delivery.
type DeliveryHandler func(context.Context, amqp.Delivery) error

// Middleware wraps DeliveryHandler.
// Could be used for logging, tracing, etc.
type Middleware func(DeliveryHandler) DeliveryHandler

// Process deliveries until they are closed.
// Returns on the first failed acknowledgement, the channel is most likely gone then.
func (c *One) Process(ctx context.Context, deliveries <-chan amqp.Delivery) error {
	for d := range deliveries {
		err := c.handler(ctx, d)

		if ackErr := ack(d.Acknowledger, d.DeliveryTag, err != nil, c.rejectRequeue); ackErr != nil {
			return ackErr
		}
	}

	return nil
}

// txWithMiddlewares wraps transaction with middlewares, first middleware is the outermost.
func txWithMiddlewares(tx Transaction, mws ...Middleware) DeliveryHandler {
	wrapped := func(ctx context.Context, d amqp.Delivery) error {
		if err := tx(ctx, d.Body); err != nil {
			return fmt.Errorf("delivery transaction: %w", err)
		}

		return nil
	}

	for i := len(mws) - 1; i >= 0; i-- {
		wrapped = mws[i](wrapped)
	}

	return wrapped
}
