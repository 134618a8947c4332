package remote

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/cerdastangkas/gdrive-uploader/config"
)

// RetryPolicy bounds how transient failures are retried
type RetryPolicy struct {
	MaxAttempts int
	Base        time.Duration
	Max         time.Duration

	// Sleep waits for d or until ctx is done. Tests replace it to run instantly.
	Sleep func(ctx context.Context, d time.Duration) error
}

// NewRetryPolicy derives the policy from the common remote config
func NewRetryPolicy(common *config.CommonRemoteConfig) RetryPolicy {
	return RetryPolicy{
		MaxAttempts: common.MaxRetries,
		Base:        time.Duration(common.BackoffBaseMillis) * time.Millisecond,
		Max:         time.Duration(common.BackoffMaxSeconds) * time.Second,
		Sleep:       sleepContext,
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Backoff returns min(Base * 2^retry, Max)
func (p RetryPolicy) Backoff(retry int) time.Duration {
	if retry > 32 {
		retry = 32
	}
	d := time.Duration(math.Pow(2, float64(retry))) * p.Base
	if p.Max > 0 && (d > p.Max || d <= 0) {
		return p.Max
	}
	return d
}

// State is a step of the retry-then-probe machine
type State int

const (
	StateAttempting State = iota
	StateTransientFailure
	StateProbing
	StateDone
)

func (s State) String() string {
	switch s {
	case StateAttempting:
		return "attempting"
	case StateTransientFailure:
		return "transient-failure"
	case StateProbing:
		return "probing"
	case StateDone:
		return "done"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Op is one remote call returning the id of the object it produced or found
type Op func(ctx context.Context) (string, error)

// Outcome describes how a retried operation ended
type Outcome struct {
	ID       string
	Attempts int
	// Recovered is set when a probe found the object after a reported failure
	Recovered bool
	Err       error
	// Trace lists the states visited, for diagnostics and tests
	Trace []State
}

// Run executes op until it succeeds, fails fatally or the attempt ceiling is reached.
// After a transient failure it waits Base, doubling up to Max, then runs probe (when set).
// Without a probe the final failed attempt returns at once. If the probe finds
// the object the operation is considered done, which keeps retried creates from producing
// duplicates. onRetry, when set, is told before every wait.
func (p RetryPolicy) Run(ctx context.Context, op, probe Op, onRetry func(attempt int, wait time.Duration, err error)) Outcome {
	maxAttempts := p.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	sleep := p.Sleep
	if sleep == nil {
		sleep = sleepContext
	}

	var (
		out      Outcome
		lastErr  error
		failures int
		state    = StateAttempting
	)
	done := func(id string, err error) Outcome {
		out.ID, out.Err = id, err
		out.Trace = append(out.Trace, StateDone)
		return out
	}
	exhausted := func() Outcome {
		return done("", fmt.Errorf("%w after %d attempts: %w", ErrRetriesExhausted, out.Attempts, lastErr))
	}

	for {
		out.Trace = append(out.Trace, state)

		switch state {
		case StateAttempting:
			out.Attempts++
			id, err := op(ctx)
			if err == nil {
				return done(id, nil)
			}
			if !IsTransient(err) {
				return done("", err)
			}
			failures++
			lastErr = err
			state = StateTransientFailure

		case StateTransientFailure:
			if probe == nil && failures >= maxAttempts {
				return exhausted()
			}
			wait := p.Backoff(failures - 1)
			if onRetry != nil {
				onRetry(failures, wait, lastErr)
			}
			if err := sleep(ctx, wait); err != nil {
				return done("", err)
			}
			if probe != nil {
				state = StateProbing
			} else {
				state = StateAttempting
			}

		case StateProbing:
			id, err := probe(ctx)
			switch {
			case err == nil:
				out.Recovered = true
				return done(id, nil)
			case errors.Is(err, ErrNotFound):
				if failures >= maxAttempts {
					return exhausted()
				}
				state = StateAttempting
			case IsTransient(err):
				// the object may exist, so only another probe is safe
				failures++
				lastErr = err
				if failures >= maxAttempts {
					return exhausted()
				}
				state = StateTransientFailure
			default:
				return done("", fmt.Errorf("probe failed: %w", err))
			}
		}
	}
}
