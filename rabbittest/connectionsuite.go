package rabbittest

import (
	"context"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/suite"

	"github.com/heureka/rabbitguard/connection"
	"github.com/heureka/rabbitguard/retry"
)

// ConnectionSuite connects a connection.Manager to RabbitMQ on test setup.
type ConnectionSuite struct {
	suite.Suite
	URL        string
	Connection *connection.Manager
}

// SetupSuite connects to RABBITMQ_URL, retrying for up to 10 seconds.
func (s *ConnectionSuite) SetupSuite() {
	s.URL = URL(s.T())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	conn, err := connection.New(
		s.URL,
		connection.WithRetry(retry.Config{
			Strategy: retry.Exponential,
			MinDelay: 10 * time.Millisecond,
			MaxDelay: time.Second,
			Factor:   2,
		}),
		connection.WithLogger(zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()),
	).Connect(ctx)
	if err != nil {
		s.FailNow("can't open connection", "%q: %s", s.URL, err)
	}

	s.Connection = conn
}

// TearDownSuite closes the connection.
func (s *ConnectionSuite) TearDownSuite() {
	if err := s.Connection.Close(); err != nil {
		s.Fail("close connection", err)
	}
}
