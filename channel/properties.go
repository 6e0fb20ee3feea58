package channel

import amqp "github.com/rabbitmq/amqp091-go"

// QueueProperties are queue declaration parameters, replayed verbatim on every channel re-creation.
type QueueProperties struct {
	Durable    bool
	AutoDelete bool
	Exclusive  bool
	NoWait     bool
	Args       amqp.Table
}

// DefaultQueueProperties declares a durable, non-exclusive queue.
func DefaultQueueProperties() QueueProperties {
	return QueueProperties{
		Durable:    true,
		AutoDelete: false,
		Exclusive:  false,
		NoWait:     false,
		Args:       nil,
	}
}

// ConsumeProperties are consumer registration parameters.
// If Tag is empty, a random one is generated and kept for replays.
type ConsumeProperties struct {
	Tag       string
	AutoAck   bool
	Exclusive bool
	NoLocal   bool
	NoWait    bool
	Args      amqp.Table
}

// fastReplyProperties declare fast reply queue.
var fastReplyProperties = QueueProperties{
	Durable:   false,
	Exclusive: true,
}
