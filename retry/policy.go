// Package retry computes reconnection delays.
//
// NextDelay is a pure function of the attempt number, the previous delay and the configuration.
// Policy wraps it into a stateful backoff.BackOff, so it can drive backoff.Retry and friends.
package retry

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// ErrUnknownStrategy is returned for strategy names other than exponential, linear or constant.
var ErrUnknownStrategy = errors.New("unknown reconnect strategy")

// Strategy defines how the delay grows between attempts.
type Strategy string

// Supported strategies.
const (
	Exponential Strategy = "exponential"
	Linear      Strategy = "linear"
	Constant    Strategy = "constant"
)

// Strategies lists all supported strategies.
func Strategies() []Strategy {
	return []Strategy{Exponential, Linear, Constant}
}

// ParseStrategy parses strategy name.
func ParseStrategy(name string) (Strategy, error) {
	for _, s := range Strategies() {
		if string(s) == name {
			return s, nil
		}
	}

	return "", fmt.Errorf("%w: %q", ErrUnknownStrategy, name)
}

// Config of the delay progression.
type Config struct {
	Strategy Strategy
	MinDelay time.Duration
	MaxDelay time.Duration
	// Factor multiplies the previous delay for Exponential strategy,
	// and is added to it as milliseconds for Linear strategy. Constant ignores it.
	Factor float64
}

// DefaultConfig is exponential progression from 200ms up to one minute, doubling each attempt.
func DefaultConfig() Config {
	return Config{
		Strategy: Exponential,
		MinDelay: 200 * time.Millisecond,
		MaxDelay: time.Minute,
		Factor:   2,
	}
}

// Validate checks config is usable.
func (c Config) Validate() error {
	if _, err := ParseStrategy(string(c.Strategy)); err != nil {
		return err
	}
	if c.MinDelay < 0 {
		return fmt.Errorf("min delay %s is negative", c.MinDelay)
	}
	if c.MaxDelay < c.MinDelay {
		return fmt.Errorf("max delay %s is lower than min delay %s", c.MaxDelay, c.MinDelay)
	}
	if c.Factor < 0 {
		return fmt.Errorf("factor %v is negative", c.Factor)
	}

	return nil
}

// NextDelay returns delay for the given attempt.
// The first attempt (0) always waits MinDelay, the result never exceeds MaxDelay.
func NextDelay(attempt int, previous time.Duration, cfg Config) time.Duration {
	if attempt == 0 {
		return cfg.MinDelay
	}

	delay := previous

	switch cfg.Strategy {
	case Exponential:
		delay = time.Duration(float64(previous) * cfg.Factor)
	case Linear:
		delay = previous + time.Duration(cfg.Factor*float64(time.Millisecond))
	case Constant:
	}

	if delay > cfg.MaxDelay {
		delay = cfg.MaxDelay
	}

	return delay
}

var _ backoff.BackOff = (*Policy)(nil)

// Policy keeps attempt count and the last delay.
// Implements backoff.BackOff and never returns backoff.Stop: retries go on until the caller gives up.
type Policy struct {
	mux      sync.Mutex
	cfg      Config
	attempts int
	delay    time.Duration
}

// NewPolicy creates Policy starting at attempt 0.
func NewPolicy(cfg Config) *Policy {
	return &Policy{cfg: cfg}
}

// NextBackOff computes the next delay and counts the attempt.
func (p *Policy) NextBackOff() time.Duration {
	p.mux.Lock()
	defer p.mux.Unlock()

	p.delay = NextDelay(p.attempts, p.delay, p.cfg)
	p.attempts++

	return p.delay
}

// Reset does nothing.
// Progression continues from where it stopped, even after a successful connection.
func (p *Policy) Reset() {}

// Attempts returns how many delays were computed so far.
func (p *Policy) Attempts() int {
	p.mux.Lock()
	defer p.mux.Unlock()

	return p.attempts
}

// Delay returns the most recently computed delay.
func (p *Policy) Delay() time.Duration {
	p.mux.Lock()
	defer p.mux.Unlock()

	return p.delay
}

// Config returns policy configuration.
func (p *Policy) Config() Config {
	return p.cfg
}
