package jobqueue

import (
	"context"
	"fmt"
	"math"
	"strconv"

	"queuectl/store"
)

// Config is the persisted queue configuration shared by every process.
type Config struct {
	MaxRetries  int     `json:"maxRetries"`
	BackoffBase float64 `json:"backoffBase"`
}

func DefaultConfig() Config {
	return Config{MaxRetries: 3, BackoffBase: 2}
}

// Config returns the current configuration, with defaults for missing keys.
func (q *Queue) Config(ctx context.Context) (Config, error) {
	return store.View(ctx, q.st, store.DocConfig, DefaultConfig)
}

// ConfigChange sets one key. Both camelCase and kebab-case keys are accepted.
type ConfigChange struct {
	Key   string
	Value string
}

// SetConfig validates and persists a single key.
func (q *Queue) SetConfig(ctx context.Context, key, value string) (Config, error) {
	return q.ApplyConfig(ctx, ConfigChange{Key: key, Value: value})
}

// ApplyConfig validates every change and persists them together, or none of them.
func (q *Queue) ApplyConfig(ctx context.Context, changes ...ConfigChange) (Config, error) {
	return store.Update(ctx, q.st, store.DocConfig, DefaultConfig, func(c *Config) (Config, error) {
		for _, ch := range changes {
			if err := c.set(ch.Key, ch.Value); err != nil {
				return Config{}, err
			}
		}
		return *c, nil
	})
}

func (c *Config) set(key, value string) error {
	switch key {
	case "maxRetries", "max-retries":
		n, err := strconv.Atoi(value)
		if err != nil || n < 1 {
			return fmt.Errorf("%w: maxRetries must be an integer >= 1, got %q", ErrInvalidArgument, value)
		}
		c.MaxRetries = n
	case "backoffBase", "backoff-base":
		f, err := strconv.ParseFloat(value, 64)
		if err != nil || f <= 0 || math.IsInf(f, 0) || math.IsNaN(f) {
			return fmt.Errorf("%w: backoffBase must be a number > 0, got %q", ErrInvalidArgument, value)
		}
		c.BackoffBase = f
	default:
		return fmt.Errorf("%w: unknown config key %q", ErrInvalidArgument, key)
	}
	return nil
}
