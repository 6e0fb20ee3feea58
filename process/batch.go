package process

import (
	"context"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Batch processes deliveries in batches.
type Batch struct {
	amount        int
	timeout       time.Duration
	handler       BatchDeliveryHandler
	rejectRequeue bool
}

// InBatches creates new Batch processor. One batch is `amount` of deliveries or whatever arrived until timeout, whichever comes first.
// Every delivery of the batch is acked, or rejected if its status is an error.
func InBatches(amount int, timeout time.Duration, tx BatchTransaction, rejectRequeue bool, mws ...BatchMiddleware) *Batch {
	return &Batch{
		amount:        amount,
		timeout:       timeout,
		handler:       batchTxWithMiddlewares(tx, mws...),
		rejectRequeue: rejectRequeue,
	}
}

// BatchMiddleware wraps BatchDeliveryHandler.
// Could be used for logging, tracing, etc.
type BatchMiddleware func(BatchDeliveryHandler) BatchDeliveryHandler

// BatchDeliveryHandler specifies how to handle batch of deliveries.
// Returns one-to-one errors of processed deliveries.
type BatchDeliveryHandler func(context.Context, []amqp.Delivery) (status []error)

// Process deliveries in batches until they are closed.
// Returns on the first failed acknowledgement, the channel is most likely gone then.
func (c *Batch) Process(ctx context.Context, deliveries <-chan amqp.Delivery) error {
	done := make(chan struct{})
	defer close(done)

	for b := range c.inBatches(deliveries, done) {
		status := c.handler(ctx, b)

		if err := c.ack(b, status); err != nil {
			return err
		}
	}

	return nil
}

func (c *Batch) ack(batch []amqp.Delivery, status []error) error {
	for i := range batch {
		if err := ack(batch[i].Acknowledger, batch[i].DeliveryTag, status[i] != nil, c.rejectRequeue); err != nil {
			return err
		}
	}

	return nil
}

// inBatches splits incoming deliveries into batches. Stops when deliveries or done are closed.
func (c *Batch) inBatches(deliveries <-chan amqp.Delivery, done <-chan struct{}) <-chan []amqp.Delivery {
	batches := make(chan []amqp.Delivery)

	go func() {
		defer close(batches)

		ticker := time.NewTicker(c.timeout)
		defer ticker.Stop()

		batch := make([]amqp.Delivery, 0, c.amount)
		flush := func() bool {
			select {
			case batches <- batch:
				batch = make([]amqp.Delivery, 0, c.amount)
				return true
			case <-done:
				return false
			}
		}

		for {
			select {
			case d, ok := <-deliveries:
				if !ok {
					if len(batch) > 0 {
						flush()
					}

					return
				}

				batch = append(batch, d)
				if len(batch) >= c.amount && !flush() {
					return
				}
			case <-ticker.C:
				if len(batch) > 0 && !flush() {
					return
				}
			case <-done:
				return
			}
		}
	}()

	return batches
}

// batchTxWithMiddlewares wraps transaction with middlewares.
func batchTxWithMiddlewares(tx BatchTransaction, mws ...BatchMiddleware) BatchDeliveryHandler {
	wrapped := func(ctx context.Context, ds []amqp.Delivery) []error {
		bodies := make([][]byte, 0, len(ds))
		for i := range ds {
			bodies = append(bodies, ds[i].Body)
		}

		return tx(ctx, bodies)
	}
	for i := len(mws) - 1; i >= 0; i-- {
		wrapped = mws[i](wrapped)
	}

	return wrapped
}
