// Package rabbitguard keeps a RabbitMQ connection alive across network failures
// and restores the channel, declared queues and consumers after every reconnect.
//
// The functions here wire the connection, channel and publisher packages
// from a single config.Options.
package rabbitguard

import (
	"context"
	"fmt"

	"github.com/heureka/rabbitguard/channel"
	"github.com/heureka/rabbitguard/config"
	"github.com/heureka/rabbitguard/connection"
	"github.com/heureka/rabbitguard/publisher"
)

// Dial connects to url with the reconnection behaviour described by opts.
// Options passed in ops are applied after opts and may override them.
func Dial(ctx context.Context, url string, opts config.Options, ops ...connection.Option) (*connection.Manager, error) {
	all := append([]connection.Option{
		connection.WithRetry(opts.Retry()),
		connection.WithAutoReconnectOnInit(opts.AutoReconnectOnInit),
		connection.WithAutoReconnectOnConnectionLost(opts.AutoReconnectOnConnectionLost),
	}, ops...)

	conn, err := connection.New(url, all...).Connect(ctx)
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}

	return conn, nil
}

// NewChannel opens a channel that is restored after every reconnect of conn.
func NewChannel(ctx context.Context, conn *connection.Manager, ops ...channel.Option) (*channel.Manager, error) {
	ch, err := channel.New(conn, ops...).Init(ctx)
	if err != nil {
		return nil, fmt.Errorf("open channel: %w", err)
	}

	return ch, nil
}

// NewPublisher creates a Publisher to exchange, labelling messages with opts.Encoding.
func NewPublisher(ch publisher.Channel, exchange string, opts config.Options, ops ...publisher.Option) *publisher.Publisher {
	return publisher.New(ch, exchange, append([]publisher.Option{publisher.WithEncoding(opts.Encoding)}, ops...)...)
}

// NewConsumer declares queue with props and starts processing it.
// Both the queue and the consumer are restored after reconnect.
// Returns the consumer tag.
func NewConsumer(ch *channel.Manager, queue string, props channel.QueueProperties, processor channel.Processor) (string, error) {
	q, err := ch.AssertQueue(queue, props)
	if err != nil {
		return "", fmt.Errorf("assert queue: %w", err)
	}

	tag, err := ch.InitConsumption(q.Name, processor, channel.ConsumeProperties{})
	if err != nil {
		return "", fmt.Errorf("consume %q: %w", q.Name, err)
	}

	return tag, nil
}
