// Package config validates user supplied options against defaults and merges them.
//
// Options are a flat map keyed by option name, typically decoded from YAML:
//
//	autoReconnectOnInit: true
//	autoReconnectOnConnectionLost: true
//	reconnectStrategy: exponential
//	reconnectTimeMin: 200
//	reconnectTimeMax: 60000
//	reconnectFactor: 2
//	encoding: application/json
//
// Delays are in milliseconds.
package config

import (
	"errors"
	"fmt"
	"reflect"
	"sort"
)

var (
	// ErrNotKeyed is returned when options are not a map keyed by strings.
	ErrNotKeyed = errors.New("options must be keyed by option names")
	// ErrUnknownKey is returned for an option not present in defaults.
	ErrUnknownKey = errors.New("unknown option")
	// ErrTypeMismatch is returned when an option's type differs from its default's type.
	ErrTypeMismatch = errors.New("invalid option type")
	// ErrNotAccepted is returned when an option's value is not among its accepted values.
	ErrNotAccepted = errors.New("value not accepted")
)

// Option names.
const (
	KeyAutoReconnectOnInit           = "autoReconnectOnInit"
	KeyAutoReconnectOnConnectionLost = "autoReconnectOnConnectionLost"
	KeyReconnectStrategy             = "reconnectStrategy"
	KeyReconnectTimeMin              = "reconnectTimeMin"
	KeyReconnectTimeMax              = "reconnectTimeMax"
	KeyReconnectFactor               = "reconnectFactor"
	KeyEncoding                      = "encoding"
)

// Validate checks input against defaults.
// Every key of input must exist in defaults and have the same type as its default,
// booleans, strings and numbers are told apart, any Go integer or float is a number.
// A key listed in accepted must have one of the accepted values.
func Validate(input any, defaults map[string]any, accepted map[string][]any) error {
	options, err := keyed(input)
	if err != nil {
		return err
	}

	for _, key := range sortedKeys(options) {
		value := options[key]

		def, ok := defaults[key]
		if !ok {
			return fmt.Errorf("%w: %q", ErrUnknownKey, key)
		}

		if want, got := typeOf(def), typeOf(value); want != got {
			return fmt.Errorf("%w: %q expected %s, got %s", ErrTypeMismatch, key, want, got)
		}

		values, restricted := accepted[key]
		if restricted && !contains(values, value) {
			return fmt.Errorf("%w: %q is %v, accepted values are %v", ErrNotAccepted, key, value, values)
		}
	}

	return nil
}

// Prepare returns complete options: value from input where supplied, default otherwise.
// Input is not modified.
func Prepare(input, defaults map[string]any) map[string]any {
	prepared := make(map[string]any, len(defaults))
	for key, value := range defaults {
		prepared[key] = value
	}

	for key, value := range input {
		prepared[key] = value
	}

	return prepared
}

// keyed converts any map with string keys into map[string]any.
func keyed(input any) (map[string]any, error) {
	if m, ok := input.(map[string]any); ok {
		return m, nil
	}

	v := reflect.ValueOf(input)
	if !v.IsValid() || v.Kind() != reflect.Map || v.Type().Key().Kind() != reflect.String {
		return nil, fmt.Errorf("%w: got %T", ErrNotKeyed, input)
	}

	options := make(map[string]any, v.Len())
	iter := v.MapRange()
	for iter.Next() {
		options[iter.Key().String()] = iter.Value().Interface()
	}

	return options, nil
}

func typeOf(value any) string {
	if value == nil {
		return "null"
	}

	switch reflect.TypeOf(value).Kind() {
	case reflect.Bool:
		return "boolean"
	case reflect.String:
		return "string"
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return "number"
	default:
		return reflect.TypeOf(value).Kind().String()
	}
}

func contains(values []any, value any) bool {
	for _, v := range values {
		if equal(v, value) {
			return true
		}
	}

	return false
}

// equal compares numbers by value regardless of their Go type.
func equal(a, b any) bool {
	if typeOf(a) == "number" && typeOf(b) == "number" {
		fa, _ := toFloat(a)
		fb, _ := toFloat(b)

		return fa == fb
	}

	return fmt.Sprint(a) == fmt.Sprint(b) && typeOf(a) == typeOf(b)
}

func toFloat(value any) (float64, bool) {
	v := reflect.ValueOf(value)

	switch v.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(v.Int()), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return float64(v.Uint()), true
	case reflect.Float32, reflect.Float64:
		return v.Float(), true
	default:
		return 0, false
	}
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	return keys
}
