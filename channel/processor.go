package channel

import (
	"context"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Processor processes deliveries of one consumer registration.
// Process must return once deliveries are closed, which happens when the channel is closed or
// the consumer is cancelled. It is started again with fresh deliveries after every replay.
type Processor interface {
	Process(ctx context.Context, deliveries <-chan amqp.Delivery) error
}

// ProcessFunc is a function implementing Processor.
type ProcessFunc func(ctx context.Context, deliveries <-chan amqp.Delivery) error

// Process deliveries.
func (fn ProcessFunc) Process(ctx context.Context, deliveries <-chan amqp.Delivery) error {
	return fn(ctx, deliveries)
}

// DeliveryFunc handles a single delivery. Implements Processor.
// Acknowledging is up to the function.
type DeliveryFunc func(ctx context.Context, delivery amqp.Delivery)

// Process calls fn for every delivery.
func (fn DeliveryFunc) Process(ctx context.Context, deliveries <-chan amqp.Delivery) error {
	for d := range deliveries {
		fn(ctx, d)
	}

	return nil
}
