// Package retry wraps fallible steps with bounded exponential backoff and a recovery hook.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"shop_automation/domain/entities"
	"shop_automation/internal/clock"

	"github.com/sirupsen/logrus"
)

// Operation is a single attempt of a step
type Operation func(ctx context.Context) error

// Recovery runs once after the last failed attempt (reload the page, capture a screenshot).
// Its error is logged and never replaces the step error.
type Recovery func(ctx context.Context, cause error) error

// SleepFunc waits for d or until ctx is done
type SleepFunc = clock.SleepFunc

const recoveryTimeout = 30 * time.Second

// StepError is the error surfaced when a step exhausts its attempts
type StepError struct {
	Step     string
	Attempts int
	Err      error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("%s failed: %v", e.Step, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying. Recovery still runs.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

// Retrier executes operations under a RetryPolicy
type Retrier struct {
	sleep  SleepFunc
	logger *logrus.Logger
}

// Option configures a Retrier
type Option func(*Retrier)

// WithSleep replaces the real timer, mostly for tests
func WithSleep(fn SleepFunc) Option {
	return func(r *Retrier) { r.sleep = fn }
}

// NewRetrier - creates a retrier that logs through logger
func NewRetrier(logger *logrus.Logger, opts ...Option) *Retrier {
	r := &Retrier{sleep: clock.Sleep, logger: logger}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = logrus.New()
	}
	return r
}

// Run attempts op up to policy.MaxAttempts times, sleeping base*multiplier^attempt between
// attempts. When attempts run out (or the error is permanent, or ctx is cancelled) onFailure is
// invoked as a best-effort side channel and the last error is returned wrapped in a StepError.
func (r *Retrier) Run(ctx context.Context, step string, policy entities.RetryPolicy, op Operation, onFailure Recovery) error {
	maxAttempts := policy.MaxAttempts()
	log := r.logger.WithField("step", step)

	var lastErr error
	attempts := 0
	for attempt := 0; attempt < maxAttempts; attempt++ {
		attempts++
		log.WithField("attempt", fmt.Sprintf("%d/%d", attempt+1, maxAttempts)).Debug("running step")

		err := op(ctx)
		if err == nil {
			return nil
		}
		lastErr = err
		log.WithError(err).WithField("attempt", attempt+1).Warn("step attempt failed")

		if IsPermanent(err) || ctx.Err() != nil || attempt == maxAttempts-1 {
			break
		}
		if err := r.sleep(ctx, policy.Delay(attempt)); err != nil {
			lastErr = fmt.Errorf("%w (retry interrupted: %v)", lastErr, err)
			break
		}
	}

	if p, ok := lastErr.(*permanentError); ok {
		lastErr = p.err
	}

	r.Recover(ctx, step, onFailure, lastErr)

	return &StepError{Step: step, Attempts: attempts, Err: lastErr}
}

// Value is Run for operations that produce a result
func Value[T any](ctx context.Context, r *Retrier, step string, policy entities.RetryPolicy, op func(ctx context.Context) (T, error), onFailure Recovery) (T, error) {
	var out T
	err := r.Run(ctx, step, policy, func(ctx context.Context) error {
		v, err := op(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	}, onFailure)
	return out, err
}

// Recover runs onFailure on a context that survives cancellation of ctx. Its error and
// any panic are logged and never reach the caller.
func (r *Retrier) Recover(ctx context.Context, step string, onFailure Recovery, cause error) {
	if onFailure == nil {
		return
	}
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), recoveryTimeout)
	defer cancel()

	log := r.logger.WithField("step", step)
	defer func() {
		if p := recover(); p != nil {
			log.WithField("panic", p).Error("recovery panicked")
		}
	}()

	log.Info("attempting graceful recovery")
	if err := onFailure(rctx, cause); err != nil {
		log.WithError(err).Warn("graceful recovery failed")
	}
}
