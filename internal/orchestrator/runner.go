package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/v0xg/clickloop/internal/coords"
	"github.com/v0xg/clickloop/internal/cursor"
	"github.com/v0xg/clickloop/internal/retry"
	"github.com/v0xg/clickloop/internal/task"
	"github.com/v0xg/clickloop/internal/verify"
)

// fatalError stops the whole run, not just the current task
type fatalError struct {
	err error
}

func (e *fatalError) Error() string { return e.err.Error() }
func (e *fatalError) Unwrap() error { return e.err }

// runTask drives one task to a terminal status. The second return value is
// non-nil when the run must stop after this task.
func (o *Orchestrator) runTask(ctx context.Context, t *task.Task, logger *zap.Logger) (TaskResult, error) {
	logger = logger.With(zap.String("task", t.Name()), zap.Stringer("action", t.Action()))
	start := time.Now()

	if err := t.Start(); err != nil {
		// Only pending tasks are queued, so this is a programming error.
		return o.finish(t, start, err), nil
	}

	limit := t.MaxAttempts()
	if limit < 1 {
		limit = o.opts.MaxAttempts
	}

	policy := retry.Policy{
		MaxAttempts: limit,
		Delay:       o.opts.RetryDelay,
		Multiplier:  o.opts.Backoff,
		MaxDelay:    o.opts.MaxRetryDelay,
		OnRetry: func(attempt int, err error) {
			t.RecordFailure(err)
			logger.Info("attempt failed, retrying",
				zap.Int("attempt", attempt),
				zap.Int("max_attempts", limit),
				zap.Error(err))
		},
	}

	_, err := retry.Do(ctx, policy, func(ctx context.Context, attempt int) (struct{}, error) {
		if err := t.BeginAttempt(limit); err != nil {
			return struct{}{}, retry.Permanent(err)
		}
		// a retry counts once it starts, not when it is scheduled
		if attempt > 1 {
			o.metrics.TaskRetried()
		}
		logger.Debug("attempt started", zap.Int("attempt", attempt))

		began := time.Now()
		err := o.attempt(ctx, t)
		o.metrics.ObserveAttempt(t.Action().String(), time.Since(began))
		return struct{}{}, err
	})

	res := o.finish(t, start, err)

	var fatal *fatalError
	switch {
	case err == nil:
		logger.Info("task succeeded", zap.Int("attempts", t.Attempts()))
		return res, nil
	case errors.As(err, &fatal):
		logger.Error("task failed, stopping run", zap.Error(err))
		return res, fatal.err
	case errors.Is(err, retry.ErrCancelled):
		logger.Info("task interrupted by shutdown", zap.Int("attempts", t.Attempts()))
		return res, err
	default:
		logger.Warn("task failed", zap.Int("attempts", t.Attempts()), zap.Error(err))
		return res, nil
	}
}

// finish moves t to its terminal status and counts it
func (o *Orchestrator) finish(t *task.Task, start time.Time, err error) TaskResult {
	if err == nil {
		_ = t.Succeed()
	} else {
		_ = t.Fail(err)
		o.metrics.TaskFailed()
	}
	o.metrics.TaskProcessed()

	return TaskResult{
		Name:     t.Name(),
		Action:   t.Action(),
		Status:   t.Status(),
		Attempts: t.Attempts(),
		Err:      t.LastError(),
		Duration: time.Since(start),
	}
}

// attempt is one resolve -> dispatch -> settle -> verify pass
func (o *Orchestrator) attempt(ctx context.Context, t *task.Task) error {
	target, hasTarget, err := o.resolve(ctx, t)
	if err != nil {
		if ctx.Err() != nil {
			return retry.Permanent(shutdownError(ctx))
		}
		return stopIfUnavailable(err)
	}

	// Once dispatched, an action runs to completion even if shutdown
	// arrives meanwhile.
	if err := o.dispatch(context.WithoutCancel(ctx), t, target, hasTarget); err != nil {
		return o.dispatchFailed(err)
	}
	o.dispatchFailures = 0

	cond, ok := t.Verification()
	if !ok {
		return nil
	}

	if o.opts.SettleDelay > 0 {
		timer := time.NewTimer(o.opts.SettleDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return retry.Permanent(shutdownError(ctx))
		case <-timer.C:
		}
	}

	res := o.verifier.Verify(ctx, cond, o.opts.VerifyTimeout)
	o.metrics.RecordVerification(outcome(res))
	switch {
	case res.Cancelled:
		return retry.Permanent(shutdownError(ctx))
	case res.Passed:
		return nil
	case errors.Is(res.Err, cursor.ErrDriverUnavailable):
		return retry.Permanent(&fatalError{err: &VerificationError{Condition: cond, Result: res}})
	default:
		return &VerificationError{Condition: cond, Result: res}
	}
}

// stopIfUnavailable turns lost connectivity during target lookup into a
// run-stopping error
func stopIfUnavailable(err error) error {
	if errors.Is(err, cursor.ErrDriverUnavailable) {
		return retry.Permanent(&fatalError{err: err})
	}
	return err
}

// resolve finds the surface point for t. Symbolic targets are located fresh
// on every call against the current frame.
func (o *Orchestrator) resolve(ctx context.Context, t *task.Task) (coords.Point, bool, error) {
	target := t.Target()
	if p, ok := target.Point(); ok {
		return p, true, nil
	}
	if target.IsZero() {
		return coords.Point{}, false, nil
	}
	if o.locator == nil {
		return coords.Point{}, false, retry.Permanent(ErrNoLocator)
	}

	p, err := o.locator.Locate(ctx, target.Label())
	if err != nil {
		return coords.Point{}, false, fmt.Errorf("locate %q: %w", target.Label(), err)
	}
	surface := o.mapper.ToSurface(p)
	o.logger.Debug("target located",
		zap.String("label", target.Label()),
		zap.Stringer("capture", p),
		zap.Stringer("surface", surface))
	return surface, true, nil
}

func (o *Orchestrator) dispatch(ctx context.Context, t *task.Task, target coords.Point, hasTarget bool) error {
	if hasTarget {
		if err := o.cursor.MoveTo(ctx, target, o.opts.MoveDuration); err != nil {
			return err
		}
	}

	switch t.Action() {
	case task.ActionMove:
		return nil
	case task.ActionClick:
		return o.cursor.Click(ctx, cursor.ButtonLeft, false)
	case task.ActionDoubleClick:
		return o.cursor.Click(ctx, cursor.ButtonLeft, true)
	case task.ActionType:
		if hasTarget {
			if err := o.cursor.Click(ctx, cursor.ButtonLeft, false); err != nil {
				return err
			}
		}
		return o.cursor.TypeText(ctx, t.Text())
	case task.ActionScroll:
		d := t.Delta()
		return o.cursor.Scroll(ctx, d.X, d.Y)
	default:
		return retry.Permanent(fmt.Errorf("unsupported action %s", t.Action()))
	}
}

// dispatchFailed classifies a dispatch error: lost connectivity and too many
// consecutive driver failures stop the run, anything else is retried.
func (o *Orchestrator) dispatchFailed(err error) error {
	if errors.Is(err, cursor.ErrDriverUnavailable) {
		return stopIfUnavailable(err)
	}

	var dispatchErr *cursor.ActionDispatchError
	if !errors.As(err, &dispatchErr) {
		return err
	}

	o.dispatchFailures++
	if o.opts.MaxDispatchFailures > 0 && o.dispatchFailures >= o.opts.MaxDispatchFailures {
		return retry.Permanent(&fatalError{
			err: fmt.Errorf("%d consecutive dispatch failures: %w", o.dispatchFailures, err),
		})
	}
	return err
}

func shutdownError(ctx context.Context) error {
	return fmt.Errorf("%w: %w", retry.ErrCancelled, context.Cause(ctx))
}

func outcome(r verify.Result) string {
	switch {
	case r.Passed:
		return "passed"
	case r.Cancelled:
		return "cancelled"
	case r.TimedOut:
		return "timeout"
	case r.Err != nil:
		return "error"
	default:
		return "failed"
	}
}
