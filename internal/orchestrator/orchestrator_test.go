package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/v0xg/clickloop/internal/coords"
	"github.com/v0xg/clickloop/internal/cursor"
	"github.com/v0xg/clickloop/internal/metrics"
	"github.com/v0xg/clickloop/internal/retry"
	"github.com/v0xg/clickloop/internal/task"
	"github.com/v0xg/clickloop/internal/verify"
)

type fakeCursor struct {
	mu       sync.Mutex
	ops      []string
	moves    []coords.Point
	pos      coords.Point
	clickErr error
}

func (c *fakeCursor) MoveTo(_ context.Context, p coords.Point, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ops = append(c.ops, "move "+p.String())
	c.moves = append(c.moves, p)
	c.pos = p
	return nil
}

func (c *fakeCursor) Click(_ context.Context, _ cursor.Button, double bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.clickErr != nil {
		return c.clickErr
	}
	if double {
		c.ops = append(c.ops, "double_click")
	} else {
		c.ops = append(c.ops, "click")
	}
	return nil
}

func (c *fakeCursor) TypeText(_ context.Context, text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ops = append(c.ops, "type "+text)
	return nil
}

func (c *fakeCursor) Scroll(_ context.Context, dx, dy float64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ops = append(c.ops, fmt.Sprintf("scroll %g,%g", dx, dy))
	return nil
}

func (c *fakeCursor) Position() coords.Point {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pos
}

func (c *fakeCursor) recorded() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.ops...)
}

type verifierFunc func(ctx context.Context, cond verify.Condition) verify.Result

func (f verifierFunc) Verify(ctx context.Context, cond verify.Condition, _ time.Duration) verify.Result {
	return f(ctx, cond)
}

func alwaysPass() Verifier {
	return verifierFunc(func(context.Context, verify.Condition) verify.Result {
		return verify.Result{Passed: true, Confidence: 1}
	})
}

type locatorFunc func(ctx context.Context, desc string) (coords.Point, error)

func (f locatorFunc) Locate(ctx context.Context, desc string) (coords.Point, error) { return f(ctx, desc) }

func testMapper(t *testing.T) *coords.Mapper {
	t.Helper()
	m, err := coords.NewMapper(coords.Size{Width: 952, Height: 596}, coords.Size{Width: 1008, Height: 1008})
	require.NoError(t, err)
	return m
}

func fastOptions() Options {
	opts := DefaultOptions()
	opts.RetryDelay = 0
	opts.SettleDelay = 0
	return opts
}

func mustTask(t *testing.T) func(*task.Task, error) *task.Task {
	return func(tk *task.Task, err error) *task.Task {
		t.Helper()
		require.NoError(t, err)
		return tk
	}
}

func checked(label string) task.Option {
	return task.WithVerification(verify.Condition{Label: label})
}

func TestRun_PreservesOrder(t *testing.T) {
	must := mustTask(t)
	cur := &fakeCursor{}
	o := New(cur, testMapper(t), alwaysPass(), nil, nil, fastOptions(), zap.NewNop())

	require.NoError(t, o.AddTask(must(task.Click("first", task.At(10, 10), checked("a")))))
	require.NoError(t, o.AddTask(must(task.Type("second", task.At(20, 20), "hello"))))
	require.NoError(t, o.AddTask(must(task.Scroll("third", task.Target{}, 0, 300))))
	require.NoError(t, o.AddTask(must(task.DoubleClick("fourth", task.At(30, 30)))))
	assert.Equal(t, 4, o.Len())

	s := o.Run(context.Background())

	assert.Equal(t, []string{
		"move (10.0, 10.0)", "click",
		"move (20.0, 20.0)", "click", "type hello",
		"scroll 0,300",
		"move (30.0, 30.0)", "double_click",
	}, cur.recorded())
	assert.Equal(t, 4, s.Succeeded)
	assert.Zero(t, s.Failed)
	assert.Zero(t, s.Skipped)
	assert.NoError(t, s.Aborted)
	assert.Equal(t, 0, s.ExitCode())
	assert.NotEmpty(t, s.RunID)
	assert.Zero(t, o.Len())

	for i, name := range []string{"first", "second", "third", "fourth"} {
		assert.Equal(t, name, s.Results[i].Name)
		assert.Equal(t, task.StatusSucceeded, s.Results[i].Status)
		assert.Equal(t, 1, s.Results[i].Attempts)
	}
	assert.Equal(t, metrics.Snapshot{Processed: 4}, s.Metrics)
}

func TestRun_ExhaustsAttemptsWhenVerificationKeepsFailing(t *testing.T) {
	must := mustTask(t)
	calls := 0
	verifier := verifierFunc(func(context.Context, verify.Condition) verify.Result {
		calls++
		return verify.Result{Confidence: 0.3}
	})

	opts := fastOptions()
	opts.MaxAttempts = 3
	opts.RetryDelay = 20 * time.Millisecond
	o := New(&fakeCursor{}, testMapper(t), verifier, nil, nil, opts, nil)

	tk := must(task.Click("submit", task.At(100, 100), checked("form sent")))
	require.NoError(t, o.AddTask(tk))

	start := time.Now()
	s := o.Run(context.Background())

	assert.GreaterOrEqual(t, time.Since(start), 40*time.Millisecond)
	assert.Equal(t, 3, calls)
	assert.Equal(t, 3, tk.Attempts())
	assert.Equal(t, task.StatusFailed, tk.Status())

	var exhausted *retry.ExhaustedError
	require.ErrorAs(t, tk.LastError(), &exhausted)
	assert.Equal(t, 3, exhausted.Attempts)
	var verr *VerificationError
	assert.ErrorAs(t, tk.LastError(), &verr)

	assert.Equal(t, 1, s.Failed)
	assert.Len(t, s.Failures(), 1)
	assert.Equal(t, 1, s.ExitCode())
	assert.Equal(t, metrics.Snapshot{Processed: 1, Failed: 1, Retried: 2}, s.Metrics)
}

func TestRun_RetriesStayOnTheSameTask(t *testing.T) {
	must := mustTask(t)
	cur := &fakeCursor{}
	calls := 0
	verifier := verifierFunc(func(context.Context, verify.Condition) verify.Result {
		calls++
		return verify.Result{Passed: calls >= 2, Confidence: 0.9}
	})
	o := New(cur, testMapper(t), verifier, nil, nil, fastOptions(), nil)

	first := must(task.Click("a", task.At(1, 1), checked("a")))
	second := must(task.Click("b", task.At(2, 2)))
	require.NoError(t, o.AddTask(first))
	require.NoError(t, o.AddTask(second))

	s := o.Run(context.Background())

	assert.Equal(t, []string{
		"move (1.0, 1.0)", "click",
		"move (1.0, 1.0)", "click",
		"move (2.0, 2.0)", "click",
	}, cur.recorded())
	assert.Equal(t, 2, first.Attempts())
	assert.Equal(t, 2, s.Succeeded)
	assert.Equal(t, uint64(1), s.Metrics.Retried)
}

func TestRun_TaskAttemptLimitOverridesDefault(t *testing.T) {
	must := mustTask(t)
	verifier := verifierFunc(func(context.Context, verify.Condition) verify.Result { return verify.Result{} })
	o := New(&fakeCursor{}, testMapper(t), verifier, nil, nil, fastOptions(), nil)

	tk := must(task.Move("hover", task.At(5, 5), checked("tooltip"), task.WithMaxAttempts(5)))
	require.NoError(t, o.AddTask(tk))
	o.Run(context.Background())

	assert.Equal(t, 5, tk.Attempts())
}

func TestRun_ShutdownDuringVerification(t *testing.T) {
	must := mustTask(t)
	cur := &fakeCursor{}

	checkStarted := make(chan struct{})
	gate := verify.NewGate(
		verify.CaptureFunc(func(context.Context) (image.Image, error) {
			return image.NewRGBA(image.Rect(0, 0, 2, 2)), nil
		}),
		checkerFunc(func(ctx context.Context) (bool, float64, error) {
			close(checkStarted)
			<-ctx.Done()
			return false, 0, ctx.Err()
		}),
		verify.DefaultOptions(), nil)

	o := New(cur, testMapper(t), gate, nil, nil, fastOptions(), nil)
	first := must(task.Click("one", task.At(1, 1), checked("dialog")))
	require.NoError(t, o.AddTask(first))
	require.NoError(t, o.AddTask(must(task.Click("two", task.At(2, 2)))))
	require.NoError(t, o.AddTask(must(task.Click("three", task.At(3, 3)))))

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-checkStarted
		cancel()
	}()

	s := o.Run(ctx)

	assert.Equal(t, []string{"move (1.0, 1.0)", "click"}, cur.recorded())
	assert.Equal(t, task.StatusFailed, first.Status())
	assert.ErrorIs(t, first.LastError(), retry.ErrCancelled)
	assert.Equal(t, 1, first.Attempts())

	assert.Equal(t, 1, s.Failed)
	assert.Equal(t, 2, s.Skipped)
	require.Len(t, s.Results, 3)
	assert.True(t, s.Results[1].Skipped)
	assert.Equal(t, task.StatusPending, s.Results[2].Status)
	assert.ErrorIs(t, s.Aborted, context.Canceled)
	assert.Equal(t, 1, s.ExitCode())
}

type checkerFunc func(ctx context.Context) (bool, float64, error)

func (f checkerFunc) Check(ctx context.Context, _ image.Image, _ verify.Condition) (bool, float64, error) {
	return f(ctx)
}

func TestRun_CancelledBeforeStartSkipsEverything(t *testing.T) {
	must := mustTask(t)
	cur := &fakeCursor{}
	o := New(cur, testMapper(t), alwaysPass(), nil, nil, fastOptions(), nil)
	require.NoError(t, o.AddTask(must(task.Click("a", task.At(1, 1)))))
	require.NoError(t, o.AddTask(must(task.Click("b", task.At(1, 1)))))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s := o.Run(ctx)

	assert.Empty(t, cur.recorded())
	assert.Equal(t, 2, s.Skipped)
	assert.Equal(t, 1, s.ExitCode())
}

func TestRun_DriverUnavailableStopsRun(t *testing.T) {
	must := mustTask(t)
	cur := &fakeCursor{clickErr: &cursor.ActionDispatchError{
		Op:  "click",
		Err: fmt.Errorf("websocket closed: %w", cursor.ErrDriverUnavailable),
	}}
	o := New(cur, testMapper(t), alwaysPass(), nil, nil, fastOptions(), nil)

	first := must(task.Click("a", task.At(1, 1)))
	require.NoError(t, o.AddTask(first))
	require.NoError(t, o.AddTask(must(task.Click("b", task.At(2, 2)))))

	s := o.Run(context.Background())

	assert.Equal(t, 1, first.Attempts())
	assert.Equal(t, task.StatusFailed, first.Status())
	assert.ErrorIs(t, s.Aborted, cursor.ErrDriverUnavailable)
	assert.Equal(t, 1, s.Skipped)
}

func TestRun_ConsecutiveDispatchFailuresStopRun(t *testing.T) {
	must := mustTask(t)
	cur := &fakeCursor{clickErr: &cursor.ActionDispatchError{Op: "click", Err: errors.New("node detached")}}
	opts := fastOptions()
	opts.MaxAttempts = 5
	opts.MaxDispatchFailures = 2
	o := New(cur, testMapper(t), alwaysPass(), nil, nil, opts, nil)

	first := must(task.Click("a", task.At(1, 1)))
	require.NoError(t, o.AddTask(first))
	require.NoError(t, o.AddTask(must(task.Click("b", task.At(2, 2)))))

	s := o.Run(context.Background())

	assert.Equal(t, 2, first.Attempts())
	var dispatchErr *cursor.ActionDispatchError
	assert.ErrorAs(t, s.Aborted, &dispatchErr)
	assert.ErrorContains(t, s.Aborted, "2 consecutive dispatch failures")
	assert.Equal(t, 1, s.Skipped)
	assert.Equal(t, uint64(1), s.Metrics.Retried)
}

func TestRun_ResolvesSymbolicTargetsFreshEachAttempt(t *testing.T) {
	must := mustTask(t)
	cur := &fakeCursor{}
	mapper := testMapper(t)

	var asked []string
	locator := locatorFunc(func(_ context.Context, desc string) (coords.Point, error) {
		asked = append(asked, desc)
		return coords.Point{X: 476, Y: 298}, nil
	})

	calls := 0
	verifier := verifierFunc(func(context.Context, verify.Condition) verify.Result {
		calls++
		if calls == 1 {
			// the page is resized between attempts
			require.NoError(t, mapper.Resize(coords.Size{Width: 2016, Height: 2016}))
			return verify.Result{}
		}
		return verify.Result{Passed: true, Confidence: 1}
	})

	o := New(cur, mapper, verifier, locator, nil, fastOptions(), nil)
	require.NoError(t, o.AddTask(must(task.Click("open", task.Labeled("Projects folder"), checked("opened")))))

	s := o.Run(context.Background())

	require.Equal(t, 1, s.Succeeded)
	assert.Equal(t, []string{"Projects folder", "Projects folder"}, asked)
	require.Len(t, cur.moves, 2)
	assert.InDelta(t, 504, cur.moves[0].X, 1)
	assert.InDelta(t, 504, cur.moves[0].Y, 1)
	assert.InDelta(t, 1008, cur.moves[1].X, 1)
	assert.InDelta(t, 1008, cur.moves[1].Y, 1)
}

func TestRun_LocatorFailuresAreRetried(t *testing.T) {
	must := mustTask(t)
	notFound := errors.New("element not found")
	calls := 0
	locator := locatorFunc(func(context.Context, string) (coords.Point, error) {
		calls++
		return coords.Point{}, notFound
	})
	o := New(&fakeCursor{}, testMapper(t), alwaysPass(), locator, nil, fastOptions(), nil)
	tk := must(task.Click("a", task.Labeled("ghost button")))
	require.NoError(t, o.AddTask(tk))

	s := o.Run(context.Background())

	assert.Equal(t, 3, calls)
	assert.ErrorIs(t, tk.LastError(), notFound)
	assert.NoError(t, s.Aborted)
}

func TestRun_SymbolicTargetWithoutLocatorFailsOnce(t *testing.T) {
	must := mustTask(t)
	o := New(&fakeCursor{}, testMapper(t), alwaysPass(), nil, nil, fastOptions(), nil)
	tk := must(task.Click("a", task.Labeled("button")))
	require.NoError(t, o.AddTask(tk))

	o.Run(context.Background())

	assert.Equal(t, 1, tk.Attempts())
	assert.ErrorIs(t, tk.LastError(), ErrNoLocator)
}

func TestRun_OutOfBoundsIsARecoverableFailure(t *testing.T) {
	must := mustTask(t)
	m := testMapper(t)
	ctrl := cursor.New(&nopDriver{size: m.SurfaceSize()}, m, cursor.Options{StepRate: 1000}, nil)
	o := New(ctrl, m, alwaysPass(), nil, nil, fastOptions(), nil)

	tk := must(task.Move("far", task.At(2000, 2000)))
	require.NoError(t, o.AddTask(tk))
	s := o.Run(context.Background())

	var oob *cursor.OutOfBoundsError
	assert.ErrorAs(t, tk.LastError(), &oob)
	assert.Equal(t, 3, tk.Attempts())
	assert.Equal(t, coords.Point{X: 504, Y: 504}, ctrl.Position())
	assert.NoError(t, s.Aborted)
}

type nopDriver struct{ size coords.Size }

func (nopDriver) Move(context.Context, coords.Point) error           { return nil }
func (nopDriver) Click(context.Context, cursor.Button, int) error    { return nil }
func (nopDriver) Type(context.Context, string) error                 { return nil }
func (nopDriver) Scroll(context.Context, float64, float64) error     { return nil }
func (d nopDriver) SurfaceSize(context.Context) (coords.Size, error) { return d.size, nil }

func TestRun_ReportsEachTaskAsItFinishes(t *testing.T) {
	must := mustTask(t)
	var done []string
	opts := fastOptions()
	opts.OnTaskDone = func(r TaskResult) { done = append(done, r.Name+":"+r.Status.String()) }
	o := New(&fakeCursor{}, testMapper(t), alwaysPass(), nil, nil, opts, nil)
	require.NoError(t, o.AddTask(must(task.Click("a", task.At(1, 1)))))
	require.NoError(t, o.AddTask(must(task.Click("b", task.At(1, 1)))))

	o.Run(context.Background())
	assert.Equal(t, []string{"a:succeeded", "b:succeeded"}, done)
}

func TestAddTask_Validation(t *testing.T) {
	must := mustTask(t)
	o := New(&fakeCursor{}, testMapper(t), alwaysPass(), nil, nil, fastOptions(), nil)

	require.NoError(t, o.AddTask(must(task.Click("a", task.At(1, 1)))))
	assert.ErrorIs(t, o.AddTask(must(task.Click("a", task.At(2, 2)))), ErrDuplicateTask)

	started := must(task.Click("b", task.At(1, 1)))
	require.NoError(t, started.Start())
	assert.ErrorIs(t, o.AddTask(started), ErrTaskStarted)

	assert.Equal(t, 1, o.Len())
}

func TestRun_ConnectivityLossWhileLocatingStopsRun(t *testing.T) {
	must := mustTask(t)
	calls := 0
	locator := locatorFunc(func(context.Context, string) (coords.Point, error) {
		calls++
		return coords.Point{}, fmt.Errorf("capture failed: %w", cursor.ErrDriverUnavailable)
	})
	o := New(&fakeCursor{}, testMapper(t), alwaysPass(), locator, nil, fastOptions(), nil)

	first := must(task.Click("a", task.Labeled("first button")))
	require.NoError(t, o.AddTask(first))
	require.NoError(t, o.AddTask(must(task.Click("b", task.Labeled("second button")))))
	require.NoError(t, o.AddTask(must(task.Click("c", task.Labeled("third button")))))

	s := o.Run(context.Background())

	assert.Equal(t, 1, calls)
	assert.Equal(t, task.StatusFailed, first.Status())
	assert.Equal(t, 0, s.Succeeded)
	assert.Equal(t, 1, s.Failed)
	assert.Equal(t, 2, s.Skipped)
	assert.ErrorIs(t, s.Aborted, cursor.ErrDriverUnavailable)
	assert.Equal(t, 1, s.ExitCode())
}

func TestRun_ConnectivityLossWhileVerifyingStopsRun(t *testing.T) {
	must := mustTask(t)
	calls := 0
	verifier := verifierFunc(func(context.Context, verify.Condition) verify.Result {
		calls++
		return verify.Result{Err: fmt.Errorf("capture failed: %w", cursor.ErrDriverUnavailable)}
	})
	o := New(&fakeCursor{}, testMapper(t), verifier, nil, nil, fastOptions(), nil)

	first := must(task.Click("a", task.At(1, 1), checked("dialog")))
	second := must(task.Click("b", task.At(2, 2), checked("menu")))
	require.NoError(t, o.AddTask(first))
	require.NoError(t, o.AddTask(second))

	s := o.Run(context.Background())

	assert.Equal(t, 1, calls)
	assert.Equal(t, 1, first.Attempts())
	var verr *VerificationError
	assert.ErrorAs(t, first.LastError(), &verr)
	assert.Equal(t, task.StatusPending, second.Status())
	assert.Equal(t, 1, s.Skipped)
	assert.ErrorIs(t, s.Aborted, cursor.ErrDriverUnavailable)
	assert.Equal(t, uint64(0), s.Metrics.Retried)
}

func TestRun_RetryInterruptedDuringDelayIsNotCounted(t *testing.T) {
	must := mustTask(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	verifier := verifierFunc(func(context.Context, verify.Condition) verify.Result {
		cancel()
		return verify.Result{}
	})
	opts := fastOptions()
	opts.RetryDelay = time.Second
	o := New(&fakeCursor{}, testMapper(t), verifier, nil, nil, opts, nil)
	tk := must(task.Click("a", task.At(1, 1), checked("dialog")))
	require.NoError(t, o.AddTask(tk))

	s := o.Run(ctx)

	assert.Equal(t, 1, tk.Attempts())
	assert.Equal(t, task.StatusFailed, tk.Status())
	assert.ErrorIs(t, tk.LastError(), retry.ErrCancelled)
	assert.Equal(t, uint64(0), s.Metrics.Retried)
}
