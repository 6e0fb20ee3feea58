// Package process turns delivery handling functions into channel.Processor implementations
// which acknowledge every delivery based on the function's outcome.
package process

import (
	"context"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/heureka/rabbitguard/channel"
)

var (
	_ channel.Processor = (*One)(nil)
	_ channel.Processor = (*Batch)(nil)
)

// Transaction defines process function for handling single message body.
type Transaction func(context.Context, []byte) error

// BatchTransaction defines process function for handling batch of message bodies.
// Should return slice of one-to-one errors for each message.
type BatchTransaction func(context.Context, [][]byte) (status []error)

// ack rejects or acks delivery based on if it's failed or not.
func ack(acker amqp.Acknowledger, tag uint64, failed, rejectRequeue bool) error {
	if failed {
		if err := acker.Reject(tag, rejectRequeue); err != nil {
			return fmt.Errorf("reject delivery %d: %w", tag, err)
		}

		return nil
	}

	if err := acker.Ack(tag, false); err != nil {
		return fmt.Errorf("ack delivery %d: %w", tag, err)
	}

	return nil
}
