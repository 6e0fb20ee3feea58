package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/heureka/rabbitguard/retry"
)

// Options are validated, complete options.
type Options struct {
	AutoReconnectOnInit           bool
	AutoReconnectOnConnectionLost bool
	ReconnectStrategy             retry.Strategy
	// ReconnectTimeMin, ReconnectTimeMax are in milliseconds.
	ReconnectTimeMin float64
	ReconnectTimeMax float64
	ReconnectFactor  float64
	// Encoding is the content type of published payloads.
	Encoding string
}

// Defaults returns default options.
func Defaults() map[string]any {
	return map[string]any{
		KeyAutoReconnectOnInit:           true,
		KeyAutoReconnectOnConnectionLost: true,
		KeyReconnectStrategy:             string(retry.Exponential),
		KeyReconnectTimeMin:              200,
		KeyReconnectTimeMax:              60000,
		KeyReconnectFactor:               2,
		KeyEncoding:                      "application/json",
	}
}

// AcceptedValues returns options restricted to a set of values.
func AcceptedValues() map[string][]any {
	strategies := make([]any, 0, len(retry.Strategies()))
	for _, s := range retry.Strategies() {
		strategies = append(strategies, string(s))
	}

	return map[string][]any{
		KeyReconnectStrategy: strategies,
	}
}

// Parse validates input against Defaults and AcceptedValues and fills in missing options.
func Parse(input map[string]any) (Options, error) {
	if err := Validate(input, Defaults(), AcceptedValues()); err != nil {
		return Options{}, fmt.Errorf("validate: %w", err)
	}

	prepared := Prepare(input, Defaults())

	strategy, err := retry.ParseStrategy(prepared[KeyReconnectStrategy].(string))
	if err != nil {
		return Options{}, err
	}

	opts := Options{
		AutoReconnectOnInit:           prepared[KeyAutoReconnectOnInit].(bool),
		AutoReconnectOnConnectionLost: prepared[KeyAutoReconnectOnConnectionLost].(bool),
		ReconnectStrategy:             strategy,
		ReconnectTimeMin:              number(prepared[KeyReconnectTimeMin]),
		ReconnectTimeMax:              number(prepared[KeyReconnectTimeMax]),
		ReconnectFactor:               number(prepared[KeyReconnectFactor]),
		Encoding:                      prepared[KeyEncoding].(string),
	}

	if err := opts.Retry().Validate(); err != nil {
		return Options{}, fmt.Errorf("validate retry: %w", err)
	}

	return opts, nil
}

// Load decodes YAML options from r and parses them. Empty input yields defaults.
func Load(r io.Reader) (Options, error) {
	input := make(map[string]any)
	if err := yaml.NewDecoder(r).Decode(&input); err != nil && !errors.Is(err, io.EOF) {
		return Options{}, fmt.Errorf("decode: %w", err)
	}

	return Parse(input)
}

// LoadFile loads YAML options from file.
func LoadFile(path string) (Options, error) {
	f, err := os.Open(path)
	if err != nil {
		return Options{}, fmt.Errorf("open config: %w", err)
	}
	defer f.Close()

	return Load(f)
}

// Retry returns backoff configuration.
func (o Options) Retry() retry.Config {
	return retry.Config{
		Strategy: o.ReconnectStrategy,
		MinDelay: milliseconds(o.ReconnectTimeMin),
		MaxDelay: milliseconds(o.ReconnectTimeMax),
		Factor:   o.ReconnectFactor,
	}
}

func milliseconds(ms float64) time.Duration {
	return time.Duration(ms * float64(time.Millisecond))
}

func number(value any) float64 {
	f, _ := toFloat(value)
	return f
}
