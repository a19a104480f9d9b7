// Package wait retries a condition under a pluggable pacing strategy. The
// bridge uses it for reconnect pacing and webhook retry backoff.
package wait

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	ErrTimeout           = errors.New("wait: timeout exceeded")
	ErrMaxRetriesReached = errors.New("wait: maximum retries reached")
	ErrCanceled          = errors.New("wait: operation canceled")
)

// ConditionFunc returns true when the awaited condition is met.
type ConditionFunc func() (bool, error)

// Strategy yields the pause before each retry. Next returns false when the
// strategy is exhausted.
type Strategy interface {
	Next() (time.Duration, bool)
	Reset()
}

// Options configures wait behavior
type Options struct {
	MaxRetries int
	Timeout    time.Duration
	Strategy   Strategy
	Context    context.Context
}

// DefaultOptions returns default wait options
func DefaultOptions() *Options {
	return &Options{
		MaxRetries: 10,
		Timeout:    30 * time.Second,
		Strategy:   NewFixedStrategy(1 * time.Second),
		Context:    context.Background(),
	}
}

// WithMaxRetries sets the maximum number of attempts
func (o *Options) WithMaxRetries(n int) *Options {
	o.MaxRetries = n
	return o
}

// WithTimeout sets the overall timeout
func (o *Options) WithTimeout(d time.Duration) *Options {
	o.Timeout = d
	return o
}

// WithStrategy sets the pacing strategy
func (o *Options) WithStrategy(s Strategy) *Options {
	o.Strategy = s
	return o
}

// WithContext sets the context for cancellation
func (o *Options) WithContext(ctx context.Context) *Options {
	o.Context = ctx
	return o
}

// Until retries the condition until it returns true, the attempt budget
// runs out, or the timeout/context fires. A condition error stops the loop
// immediately.
func Until(condition ConditionFunc, opts ...*Options) error {
	options := mergeOptions(opts...)

	ctx, cancel := context.WithTimeout(options.Context, options.Timeout)
	defer cancel()

	options.Strategy.Reset()
	attempts := 0

	for {
		ok, err := condition()
		if err != nil {
			return fmt.Errorf("wait: condition error: %w", err)
		}
		if ok {
			return nil
		}

		attempts++
		if options.MaxRetries > 0 && attempts >= options.MaxRetries {
			return ErrMaxRetriesReached
		}

		pause, ok := options.Strategy.Next()
		if !ok {
			return ErrMaxRetriesReached
		}

		select {
		case <-ctx.Done():
			if ctx.Err() == context.DeadlineExceeded {
				return ErrTimeout
			}
			return ErrCanceled
		case <-time.After(pause):
		}
	}
}

// Poll retries a fallible function until it succeeds.
func Poll(fn func() error, opts ...*Options) error {
	return Until(func() (bool, error) {
		return fn() == nil, nil
	}, opts...)
}

func mergeOptions(opts ...*Options) *Options {
	if len(opts) == 0 {
		return DefaultOptions()
	}
	return opts[0]
}
