package rabbittest

import (
	"os"
	"testing"

	amqp "github.com/rabbitmq/amqp091-go"
)

// URL returns RabbitMQ URL from RABBITMQ_URL environment variable.
// Fails the test if it is not set.
func URL(t *testing.T) string {
	t.Helper()

	url := os.Getenv("RABBITMQ_URL")
	if url == "" {
		t.Fatal("please provide rabbitMQ URL via RABBITMQ_URL environment variable")
	}

	return url
}

// AMQPConnection opens a new plain connection to RabbitMQ.
// Closes the connection on test cleanup.
func AMQPConnection(t *testing.T) *amqp.Connection {
	t.Helper()

	conn, err := amqp.Dial(URL(t))
	if err != nil {
		t.Fatalf("dial: %v", err)
	}

	t.Cleanup(func() {
		if err := conn.Close(); err != nil && err != amqp.ErrClosed {
			t.Fatalf("close RabbitMQ connection: %v", err)
		}
	})

	return conn
}

// AMQPChannel opens a new channel on the connection.
// Closes the channel on test cleanup.
func AMQPChannel(t *testing.T, conn *amqp.Connection) *amqp.Channel {
	t.Helper()

	channel, err := conn.Channel()
	if err != nil {
		t.Fatalf("open channel: %s", err)
	}

	t.Cleanup(func() {
		if err := channel.Close(); err != nil && err != amqp.ErrClosed {
			t.Errorf("close RabbitMQ channel: %s", err)
		}
	})

	return channel
}

// DeleteQueue deletes the queue on test cleanup.
func DeleteQueue(t *testing.T, channel *amqp.Channel, name string) {
	t.Helper()

	t.Cleanup(func() {
		if _, err := channel.QueueDelete(name, false, false, false); err != nil {
			t.Errorf("delete queue %q: %s", name, err)
		}
	})
}
