// Package retry runs one logical operation in bounded attempts with
// exponential backoff. The waiting is delegated to a SleepFunc so the
// schedule can be driven by a virtual clock in tests.
package retry

import (
	"context"
	"errors"
	"time"

	"github.com/comigor/tenant-chat/internal/logger"
	"github.com/comigor/tenant-chat/internal/transport"
)

const (
	DefaultMaxAttempts    = 3
	DefaultAttemptTimeout = 30 * time.Second
	DefaultBaseDelay      = time.Second
)

// Op is a single attempt. It must honor ctx: the policy cancels it when the
// per-attempt deadline elapses.
type Op func(ctx context.Context) transport.Outcome

// SleepFunc blocks for d or until ctx is done, returning ctx.Err() in the
// latter case.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Sleep is the wall-clock SleepFunc.
func Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Policy bounds retries of an Op. The wait between attempt k and k+1 is
// BaseDelay * 2^k, so with the defaults: 2s, then 4s.
type Policy struct {
	MaxAttempts    int
	AttemptTimeout time.Duration
	BaseDelay      time.Duration
	// RetryHTTPErrors makes non-2xx and malformed responses retryable like
	// network errors and timeouts. When false they end the run immediately.
	RetryHTTPErrors bool
	Sleep           SleepFunc
}

// Default returns the policy used for chat sends.
func Default() Policy {
	return Policy{
		MaxAttempts:     DefaultMaxAttempts,
		AttemptTimeout:  DefaultAttemptTimeout,
		BaseDelay:       DefaultBaseDelay,
		RetryHTTPErrors: true,
		Sleep:           Sleep,
	}
}

// Result is the terminal outcome of a run.
type Result struct {
	// Outcome is the last attempt's outcome.
	Outcome transport.Outcome
	// Attempts is the number of attempts started.
	Attempts int
	// Waited is the total backoff delay requested between attempts.
	Waited time.Duration
	// Canceled is set when the caller's context ended the run.
	Canceled bool
}

// Succeeded reports whether the last attempt succeeded.
func (r Result) Succeeded() bool { return r.Outcome.OK() && !r.Canceled }

// TimedOut reports whether the run ended on a timed-out attempt.
func (r Result) TimedOut() bool { return r.Outcome.Kind == transport.KindTimeout }

type decision int

const (
	decisionDone decision = iota
	decisionRetry
	decisionGiveUp
)

func (d decision) String() string {
	switch d {
	case decisionDone:
		return "done"
	case decisionRetry:
		return "retry"
	default:
		return "give_up"
	}
}

// Delay is the backoff to wait after the given (1-based) attempt fails.
func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		return 0
	}
	return p.BaseDelay << uint(attempt)
}

// Retryable reports whether an outcome warrants another attempt.
func (p Policy) Retryable(o transport.Outcome) bool {
	switch o.Kind {
	case transport.KindNetworkError, transport.KindTimeout:
		return true
	case transport.KindHTTPError:
		return p.RetryHTTPErrors
	default:
		return false
	}
}

// decide is the transition function of the run: given the attempt just
// finished and its outcome, it picks the next step.
func (p Policy) decide(attempt int, o transport.Outcome) decision {
	if o.OK() {
		return decisionDone
	}
	if !p.Retryable(o) || attempt >= p.maxAttempts() {
		return decisionGiveUp
	}
	return decisionRetry
}

func (p Policy) maxAttempts() int {
	if p.MaxAttempts < 1 {
		return 1
	}
	return p.MaxAttempts
}

// Execute runs op until it succeeds, a non-retryable outcome is seen, the
// attempt cap is reached, or ctx ends. Attempt count and backoff survive the
// cancellation of any single attempt.
func (p Policy) Execute(ctx context.Context, op Op) Result {
	sleep := p.Sleep
	if sleep == nil {
		sleep = Sleep
	}

	var res Result
	for {
		if err := ctx.Err(); err != nil {
			res.Canceled = true
			if res.Attempts == 0 {
				res.Outcome = transport.NetworkError(err)
			}
			return res
		}

		res.Attempts++
		res.Outcome = p.attempt(ctx, op)

		if ctx.Err() != nil && !res.Outcome.OK() {
			res.Canceled = true
			return res
		}

		next := p.decide(res.Attempts, res.Outcome)
		if next != decisionDone {
			logger.L.Warn("attempt failed", "attempt", res.Attempts, "kind", res.Outcome.Kind.String(), "error", res.Outcome.String(), "next", next.String())
		}
		if next != decisionRetry {
			return res
		}

		delay := p.Delay(res.Attempts)
		res.Waited += delay
		if err := sleep(ctx, delay); err != nil {
			res.Canceled = true
			return res
		}
	}
}

func (p Policy) attempt(ctx context.Context, op Op) transport.Outcome {
	attemptCtx := ctx
	cancel := context.CancelFunc(func() {})
	if p.AttemptTimeout > 0 {
		attemptCtx, cancel = context.WithTimeout(ctx, p.AttemptTimeout)
	}
	defer cancel()

	out := op(attemptCtx)
	if out.OK() {
		return out
	}
	// An op that surfaced its own deadline as a generic error is still a timeout.
	if ctx.Err() == nil && errors.Is(attemptCtx.Err(), context.DeadlineExceeded) && out.Kind == transport.KindNetworkError {
		return transport.Timeout(out.Err)
	}
	return out
}
