// Package consistent compensates for warehouse replication lag: a valid query
// that matches no rows is re-issued a bounded number of times before the
// record is declared absent.
package consistent

import (
	"context"
	"errors"
	"time"

	"glgapp.org/internal/obs"
	"glgapp.org/internal/warehouse"
)

// ErrNotFoundAfterRetry means every attempt returned an empty result.
var ErrNotFoundAfterRetry = errors.New("record not found after retry budget")

// Policy bounds one read. Total wall time is at most
// (MaxAttempts-1)*Delay plus the latency of MaxAttempts executions.
type Policy struct {
	MaxAttempts int
	Delay       time.Duration
}

func (p Policy) normalized() Policy {
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}
	if p.Delay < 0 {
		p.Delay = 0
	}
	return p
}

// Outcome describes how a read finished.
type Outcome struct {
	Attempts int
	Result   warehouse.Result
}

// Reader issues queries through a Querier and retries empty results.
type Reader struct {
	q     warehouse.Querier
	sleep func(ctx context.Context, d time.Duration) error
}

// Option configures Reader.
type Option func(*Reader)

// WithSleep replaces the wait between attempts (tests).
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(r *Reader) {
		if fn != nil {
			r.sleep = fn
		}
	}
}

// NewReader constructs a Reader.
func NewReader(q warehouse.Querier, opts ...Option) *Reader {
	r := &Reader{q: q, sleep: sleepCtx}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Read runs query until it returns at least one row or the policy is spent.
// Query errors are returned immediately and never retried; an exhausted budget
// yields ErrNotFoundAfterRetry. Cancellation of ctx aborts the wait.
func (r *Reader) Read(ctx context.Context, query warehouse.Query, p Policy) (Outcome, error) {
	p = p.normalized()
	var out Outcome
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		if attempt > 1 {
			if err := r.sleep(ctx, p.Delay); err != nil {
				obs.ObserveReadOutcome(query.Name, "canceled")
				return out, err
			}
		}
		out.Attempts = attempt
		obs.ObserveReadAttempt(query.Name)

		res, err := r.q.Query(ctx, query)
		if err != nil {
			obs.ObserveReadOutcome(query.Name, "error")
			return out, err
		}
		if !res.Empty() {
			out.Result = res
			obs.ObserveReadOutcome(query.Name, "found")
			return out, nil
		}
	}

	obs.ObserveReadOutcome(query.Name, "not_found")
	obs.Info("consistent read exhausted", map[string]any{
		"query":    query.Name,
		"attempts": out.Attempts,
		"delay_ms": p.Delay.Milliseconds(),
	})
	return out, ErrNotFoundAfterRetry
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
