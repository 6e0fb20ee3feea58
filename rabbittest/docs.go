// Package rabbittest provides helpers for testing code built on rabbitguard.
//
// Unit tests use the in-memory Broker, whose Dial method is a transport.Dialer,
// and Timer, a backoff.Timer which fires immediately and records requested delays:
//
//	broker := rabbittest.NewBroker()
//	timer := rabbittest.NewTimer()
//	conn := connection.New("amqp://test", connection.WithDialer(broker.Dial), connection.WithTimer(timer))
//
// Integration tests embed ConnectionSuite, which talks to a real RabbitMQ.
// Set up RABBITMQ_URL environment variable and run tests:
//
//	RABBITMQ_URL=amqp://localhost:5672 go test -tags integration -v ./...
package rabbittest
