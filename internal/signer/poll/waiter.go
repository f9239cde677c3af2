// Package poll implements the generic retry-until-done-or-timeout primitive
// driving both asynchronous stages of a submission (validation, approval).
package poll

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/dmitrijs2005/addonsign/internal/logging"
)

// Getter is the slice of the API gateway the waiter needs.
type Getter interface {
	JSON(ctx context.Context, method, url string, payload any, errContext string) (map[string]any, error)
}

// TimeoutError reports that a polling stage ran out of its deadline without
// the server ever reaching the awaited state.
type TimeoutError struct {
	Stage   string
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s timed out after %s", e.Stage, e.Timeout)
}

// SuccessFunc inspects one polled response. It returns (result, true, nil)
// to finish the stage, (_, false, nil) to poll again after the interval, or
// a non-nil error to abort the stage immediately.
type SuccessFunc func(resp map[string]any) (result string, done bool, err error)

type Waiter struct {
	api   Getter
	clock Clock
	log   logging.Logger
}

func NewWaiter(api Getter, clock Clock, log logging.Logger) *Waiter {
	if clock == nil {
		clock = RealClock()
	}
	return &Waiter{api: api, clock: clock, log: log}
}

type pollResult struct {
	resp map[string]any
	err  error
}

// WaitRetry polls checkURL until success reports done, errors, or the
// deadline elapses. The first request goes out immediately; the deadline is
// armed once, wall-clock, before it. Exactly one of the three outcomes
// occurs and no request is issued after resolution: the interval timer and
// the deadline are raced in a single select, so the losing timer can never
// trigger a stale poll. The deadline is also raced against each in-flight
// request, and cancels it on firing, so a stalled server cannot hold the
// stage past its budget.
func (w *Waiter) WaitRetry(ctx context.Context, checkURL string, interval, timeout time.Duration, stage string, success SuccessFunc) (string, error) {
	reqCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	deadline := w.clock.After(timeout)

	for attempt := 1; ; attempt++ {
		resCh := make(chan pollResult, 1)
		go func() {
			resp, err := w.api.JSON(reqCtx, http.MethodGet, checkURL, nil, stage)
			resCh <- pollResult{resp: resp, err: err}
		}()

		var res pollResult
		select {
		case res = <-resCh:
		case <-deadline:
			return "", &TimeoutError{Stage: stage, Timeout: timeout}
		case <-ctx.Done():
			return "", ctx.Err()
		}
		if res.err != nil {
			return "", res.err
		}

		result, done, err := success(res.resp)
		if err != nil {
			return "", err
		}
		if done {
			return result, nil
		}

		w.log.Debug(ctx, "not ready yet, will poll again", "stage", stage, "attempt", attempt, "interval", interval)

		select {
		case <-deadline:
			return "", &TimeoutError{Stage: stage, Timeout: timeout}
		case <-ctx.Done():
			return "", ctx.Err()
		case <-w.clock.After(interval):
		}
	}
}
