package main

import (
	"context"
	"errors"
	"log/slog"
	"math/rand/v2"
	"time"

	"i4.energy/across/smsrelay/lifecycle"
	"i4.energy/across/smsrelay/modem"
)

// retryPolicy repeats a failed submission up to MaxRetries times. The pause
// before attempt n is Backoff*2^(n-1), jittered to between half and one and
// a half of that.
type retryPolicy struct {
	MaxRetries int
	Backoff    time.Duration
}

// retryable reports whether another attempt can change the outcome.
func retryable(err error) bool {
	switch {
	case errors.Is(err, modem.ErrInvalidParameter),
		errors.Is(err, modem.ErrEncodeFailed),
		errors.Is(err, modem.ErrDependencyNotReady),
		errors.Is(err, lifecycle.ErrDependencyNotReady),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return false
	}
	return true
}

func (p retryPolicy) delay(attempt int) time.Duration {
	d := p.Backoff << min(attempt-1, 16)
	if d <= 0 {
		return 0
	}
	return d/2 + rand.N(d)
}

// do runs fn until it succeeds, fails with a non-retryable error or the
// retries are used up. The last error is returned.
func (p retryPolicy) do(ctx context.Context, logger *slog.Logger, fn func(context.Context) error) error {
	var err error
	for attempt := 0; ; attempt++ {
		if attempt > 0 {
			wait := p.delay(attempt)
			logger.Warn("Retrying", "attempt", attempt, "of", p.MaxRetries, "in", wait, "error", err)
			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return errors.Join(err, ctx.Err())
			case <-timer.C:
			}
		}
		err = fn(ctx)
		if err == nil || !retryable(err) || attempt >= p.MaxRetries {
			return err
		}
	}
}

// retryingSender retries failed submissions of the wrapped sender.
type retryingSender struct {
	next   SMSSender
	policy retryPolicy
	logger *slog.Logger
}

func (s *retryingSender) Send(ctx context.Context, mode modem.Mode, to, message string) (*modem.Receipt, error) {
	var receipt *modem.Receipt
	err := s.policy.do(ctx, s.logger, func(ctx context.Context) error {
		var err error
		receipt, err = s.next.Send(ctx, mode, to, message)
		return err
	})
	return receipt, err
}
