// Package ratelimit provides admission control for calls against the remote
// synthesis quota.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/narration-service/internal/clock"
)

// DefaultSafetyMargin is added to every computed wait so that the oldest
// admission has left the window by the time the caller wakes up.
const DefaultSafetyMargin = 100 * time.Millisecond

const logFmtLimitReached = "Rate limit %s reached (%d/%s), waiting %s"

// ErrInvalidLimit is returned when a limiter is configured with a
// non-positive ceiling or window.
var ErrInvalidLimit = errors.New("invalid rate limit")

// AdmitHook observes every admission. It runs with the limiter lock held and
// must not block.
type AdmitHook func(admittedAt time.Time, waited time.Duration)

// Option configures a limiter.
type Option func(*options)

type options struct {
	clock  clock.Clock
	margin time.Duration
	hook   AdmitHook
}

// WithClock replaces the wall clock.
func WithClock(c clock.Clock) Option {
	return func(o *options) {
		o.clock = c
	}
}

// WithSafetyMargin overrides DefaultSafetyMargin.
func WithSafetyMargin(margin time.Duration) Option {
	return func(o *options) {
		o.margin = margin
	}
}

// WithAdmitHook registers an observer for admissions.
func WithAdmitHook(hook AdmitHook) Option {
	return func(o *options) {
		o.hook = hook
	}
}

func buildOptions(opts []Option) options {
	o := options{
		clock:  clock.System{},
		margin: DefaultSafetyMargin,
		hook:   nil,
	}

	for _, opt := range opts {
		opt(&o)
	}

	return o
}

func validateLimit(maxRequests int, window time.Duration) error {
	if maxRequests <= 0 {
		return fmt.Errorf("%w: max requests must be positive, got %d", ErrInvalidLimit, maxRequests)
	}

	if window <= 0 {
		return fmt.Errorf("%w: window must be positive, got %s", ErrInvalidLimit, window)
	}

	return nil
}

// SlidingWindowLimiter admits at most maxRequests calls in any trailing
// window. It is safe for concurrent use and is the single point of
// coordination between concurrent pipeline runs in one process.
type SlidingWindowLimiter struct {
	mu          sync.Mutex
	requests    []time.Time
	maxRequests int
	window      time.Duration
	name        string
	opts        options
	log         *logger.Logger
}

// NewSlidingWindowLimiter creates a limiter for maxRequests calls per window.
func NewSlidingWindowLimiter(
	name string,
	maxRequests int,
	window time.Duration,
	log *logger.Logger,
	opts ...Option,
) (*SlidingWindowLimiter, error) {
	err := validateLimit(maxRequests, window)
	if err != nil {
		return nil, err
	}

	return &SlidingWindowLimiter{
		mu:          sync.Mutex{},
		requests:    make([]time.Time, 0, maxRequests),
		maxRequests: maxRequests,
		window:      window,
		name:        name,
		opts:        buildOptions(opts),
		log:         log,
	}, nil
}

// Admit blocks until the call fits under the ceiling, then records it.
// If ctx ends while waiting, nothing is recorded and ctx.Err() is returned.
func (l *SlidingWindowLimiter) Admit(ctx context.Context) error {
	start := l.opts.clock.Now()

	l.mu.Lock()

	for {
		now := l.opts.clock.Now()
		l.purge(now)

		if len(l.requests) < l.maxRequests {
			l.requests = append(l.requests, now)

			if l.opts.hook != nil {
				l.opts.hook(now, now.Sub(start))
			}

			l.mu.Unlock()

			return nil
		}

		wait := l.window - now.Sub(l.requests[0]) + l.opts.margin

		l.mu.Unlock()

		if l.log != nil {
			l.log.Info(logFmtLimitReached, l.name, l.maxRequests, l.window, wait)
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("waiting for rate limit %s: %w", l.name, ctx.Err())
		case <-l.opts.clock.After(wait):
		}

		l.mu.Lock()
	}
}

// Len reports how many admissions are currently inside the window.
func (l *SlidingWindowLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.purge(l.opts.clock.Now())

	return len(l.requests)
}

// purge drops admissions that are window or more old. Callers hold l.mu.
func (l *SlidingWindowLimiter) purge(now time.Time) {
	firstIdx := 0
	for firstIdx < len(l.requests) && now.Sub(l.requests[firstIdx]) >= l.window {
		firstIdx++
	}

	if firstIdx == 0 {
		return
	}

	remaining := copy(l.requests, l.requests[firstIdx:])
	l.requests = l.requests[:remaining]
}
