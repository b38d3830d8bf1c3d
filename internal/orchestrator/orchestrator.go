// Package orchestrator runs an ordered queue of tasks through the cursor,
// confirming each step with the verification gate and retrying failed
// attempts within each task's budget.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/v0xg/clickloop/internal/coords"
	"github.com/v0xg/clickloop/internal/cursor"
	"github.com/v0xg/clickloop/internal/metrics"
	"github.com/v0xg/clickloop/internal/task"
	"github.com/v0xg/clickloop/internal/verify"
)

// Locator resolves a symbolic target description to a point in capture space
type Locator interface {
	Locate(ctx context.Context, description string) (coords.Point, error)
}

// Cursor is the slice of *cursor.Controller the orchestrator drives
type Cursor interface {
	MoveTo(ctx context.Context, target coords.Point, hint time.Duration) error
	Click(ctx context.Context, button cursor.Button, double bool) error
	TypeText(ctx context.Context, text string) error
	Scroll(ctx context.Context, dx, dy float64) error
	Position() coords.Point
}

// Verifier is satisfied by *verify.Gate
type Verifier interface {
	Verify(ctx context.Context, cond verify.Condition, timeout time.Duration) verify.Result
}

var (
	ErrDuplicateTask = errors.New("duplicate task name")
	ErrTaskStarted   = errors.New("task already started")
	ErrRunning       = errors.New("orchestrator is running")
	ErrNoLocator     = errors.New("no locator configured for symbolic targets")
)

// VerificationError is an attempt whose verification did not pass
type VerificationError struct {
	Condition verify.Condition
	Result    verify.Result
}

func (e *VerificationError) Error() string {
	return fmt.Sprintf("verification %q failed: %s", e.Condition.Label, e.Result.Reason())
}

func (e *VerificationError) Unwrap() error { return e.Result.Err }

// Options configures the run
type Options struct {
	MaxAttempts         int           // Per task, unless the task sets its own
	RetryDelay          time.Duration // Wait between attempts
	Backoff             float64       // Delay multiplier per retry (<= 1 keeps it constant)
	MaxRetryDelay       time.Duration // Cap for grown delays
	VerifyTimeout       time.Duration // 0 uses the condition or gate default
	SettleDelay         time.Duration // Pause between dispatch and verification
	MoveDuration        time.Duration // Duration hint for cursor moves
	MaxDispatchFailures int           // Consecutive dispatch failures that abort the run (0 = never)

	// OnTaskDone is called after each task reaches a terminal status
	OnTaskDone func(TaskResult)
}

// DefaultOptions returns the run defaults
func DefaultOptions() Options {
	return Options{
		MaxAttempts:         3,
		RetryDelay:          time.Second,
		Backoff:             1,
		SettleDelay:         500 * time.Millisecond,
		MaxDispatchFailures: 3,
	}
}

// Orchestrator owns the task queue. Tasks run strictly one at a time in
// insertion order.
type Orchestrator struct {
	cursor   Cursor
	mapper   *coords.Mapper
	verifier Verifier
	locator  Locator
	metrics  *metrics.Collector
	opts     Options
	logger   *zap.Logger

	mu      sync.Mutex
	queue   []*task.Task
	names   map[string]bool
	running bool

	// consecutive dispatch failures across the whole run
	dispatchFailures int
}

// New creates an orchestrator. locator may be nil when every target is a
// literal point; collector may be nil to count into a private registry.
func New(cur Cursor, mapper *coords.Mapper, verifier Verifier, locator Locator, collector *metrics.Collector, opts Options, logger *zap.Logger) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if collector == nil {
		collector = metrics.NewCollector("clickloop", logger)
	}
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = 1
	}
	return &Orchestrator{
		cursor:   cur,
		mapper:   mapper,
		verifier: verifier,
		locator:  locator,
		metrics:  collector,
		opts:     opts,
		logger:   logger.With(zap.String("component", "orchestrator")),
		names:    make(map[string]bool),
	}
}

// AddTask appends t to the queue. Names are unique per orchestrator and
// only pending tasks are accepted.
func (o *Orchestrator) AddTask(t *task.Task) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.running {
		return ErrRunning
	}
	if t.Status() != task.StatusPending {
		return fmt.Errorf("%w: %s is %s", ErrTaskStarted, t.Name(), t.Status())
	}
	if o.names[t.Name()] {
		return fmt.Errorf("%w: %s", ErrDuplicateTask, t.Name())
	}
	o.names[t.Name()] = true
	o.queue = append(o.queue, t)
	return nil
}

// Len returns the number of queued tasks
func (o *Orchestrator) Len() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.queue)
}

// Metrics returns the collector the run counts into
func (o *Orchestrator) Metrics() *metrics.Collector {
	return o.metrics
}

// Run executes the queue in order and drains it. It returns once every task
// is terminal, a fatal driver error occurs, or ctx is cancelled; tasks that
// never started are reported as skipped.
func (o *Orchestrator) Run(ctx context.Context) *Summary {
	o.mu.Lock()
	queue := o.queue
	o.queue = nil
	o.running = true
	o.mu.Unlock()

	defer func() {
		o.mu.Lock()
		o.running = false
		o.mu.Unlock()
	}()

	s := &Summary{
		RunID:   uuid.NewString(),
		Started: time.Now(),
	}
	logger := o.logger.With(zap.String("run_id", s.RunID))
	logger.Info("run started", zap.Int("tasks", len(queue)))

	for i, t := range queue {
		if err := ctx.Err(); err != nil {
			s.Aborted = fmt.Errorf("shutdown: %w", err)
			s.skip(queue[i:])
			break
		}

		res, abort := o.runTask(ctx, t, logger)
		s.record(res)
		if o.opts.OnTaskDone != nil {
			o.opts.OnTaskDone(res)
		}
		if abort != nil {
			s.Aborted = abort
			s.skip(queue[i+1:])
			break
		}
	}

	s.Duration = time.Since(s.Started)
	s.Metrics = o.metrics.Snapshot()

	fields := []zap.Field{
		zap.Int("succeeded", s.Succeeded),
		zap.Int("failed", s.Failed),
		zap.Int("skipped", s.Skipped),
		zap.Duration("duration", s.Duration),
	}
	if s.Aborted != nil {
		logger.Warn("run aborted", append(fields, zap.Error(s.Aborted))...)
	} else {
		logger.Info("run finished", fields...)
	}
	return s
}
