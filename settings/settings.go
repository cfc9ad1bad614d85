// Package settings holds queue tuning values that every worker must agree
// on, stored in the shared store rather than in process configuration.
//
// Two keys are recognized: max_retries (default 3) and backoff_base
// (default 2). Any other key is stored and returned verbatim. Values are
// read from the store on every call so a change made with
// "queuectl config set" takes effect on the next job without restarting
// workers.
package settings

import (
	"context"
	"fmt"
	"math"
	"strconv"
)

// Recognized keys.
const (
	KeyMaxRetries  = "max_retries"
	KeyBackoffBase = "backoff_base"
)

// Defaults for recognized keys.
const (
	DefaultMaxRetries  = 3
	DefaultBackoffBase = 2.0
)

// Defaults returns the built-in value of every recognized key.
func Defaults() map[string]string {
	return map[string]string{
		KeyMaxRetries:  strconv.Itoa(DefaultMaxRetries),
		KeyBackoffBase: strconv.FormatFloat(DefaultBackoffBase, 'f', -1, 64),
	}
}

// Store defines the persistence contract for settings.
type Store interface {
	// GetSetting returns the stored value and whether the key exists.
	GetSetting(ctx context.Context, key string) (string, bool, error)

	// SetSetting inserts or replaces the value for key.
	SetSetting(ctx context.Context, key, value string) error

	// ListSettings returns every stored key/value pair.
	ListSettings(ctx context.Context) (map[string]string, error)
}

// Validate checks value against the rules of a recognized key. Unknown
// keys accept any value.
func Validate(key, value string) error {
	switch key {
	case KeyMaxRetries:
		if _, err := parseMaxRetries(value); err != nil {
			return err
		}
	case KeyBackoffBase:
		if _, err := parseBackoffBase(value); err != nil {
			return err
		}
	}
	return nil
}

func parseMaxRetries(value string) (int, error) {
	n, err := strconv.Atoi(value)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%s must be a non-negative integer, got %q", KeyMaxRetries, value)
	}
	return n, nil
}

func parseBackoffBase(value string) (float64, error) {
	f, err := strconv.ParseFloat(value, 64)
	if err != nil || f <= 0 || math.IsInf(f, 0) || math.IsNaN(f) {
		return 0, fmt.Errorf("%s must be a positive number, got %q", KeyBackoffBase, value)
	}
	return f, nil
}
