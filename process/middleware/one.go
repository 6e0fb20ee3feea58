// Package middleware provides zerolog based middlewares for processors of the process package.
package middleware

import (
	"context"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"

	"github.com/heureka/rabbitguard/process"
)

// NewDeliveryLogging creates middleware which logs all incoming deliveries.
func NewDeliveryLogging(logger zerolog.Logger) process.Middleware {
	return func(h process.DeliveryHandler) process.DeliveryHandler {
		return func(ctx context.Context, d amqp.Delivery) error {
			logger.Info().
				Int("bytes", len(d.Body)).
				Str("routing_key", d.RoutingKey).
				Str("consumer_tag", d.ConsumerTag).
				Msg("got delivery")

			return h(ctx, d)
		}
	}
}

// NewErrorLogging creates middleware which logs all processing errors.
// The error is passed on, so the delivery is still rejected.
func NewErrorLogging(logger zerolog.Logger) process.Middleware {
	return func(h process.DeliveryHandler) process.DeliveryHandler {
		return func(ctx context.Context, d amqp.Delivery) error {
			err := h(ctx, d)
			if err != nil {
				logger.Err(err).
					Uint64("delivery_tag", d.DeliveryTag).
					Msg("can't handle delivery")
			}

			return err
		}
	}
}
