// Package verify asks an external visual checker whether a step reached its
// expected state, bounding how long the caller waits for an answer.
package verify

import (
	"context"
	"errors"
	"fmt"
	"image"
	"time"

	"go.uber.org/zap"
)

// Condition describes the expected end state. It is passed through to the
// checker without interpretation.
type Condition struct {
	Label         string        `json:"label" yaml:"label"`
	Expected      string        `json:"expected,omitempty" yaml:"expected,omitempty"`
	MinConfidence float64       `json:"min_confidence,omitempty" yaml:"min_confidence,omitempty"` // 0..1
	Timeout       time.Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`               // overrides the gate default
}

func (c Condition) String() string {
	if c.Expected == "" {
		return c.Label
	}
	return fmt.Sprintf("%s: %s", c.Label, c.Expected)
}

// Checker is the visual-verification collaborator. Confidence is in [0, 1].
type Checker interface {
	Check(ctx context.Context, frame image.Image, cond Condition) (passed bool, confidence float64, err error)
}

// Capturer produces the frame a check is run against
type Capturer interface {
	Capture(ctx context.Context) (image.Image, error)
}

// CaptureFunc adapts a function to Capturer
type CaptureFunc func(ctx context.Context) (image.Image, error)

func (f CaptureFunc) Capture(ctx context.Context) (image.Image, error) { return f(ctx) }

// Result of a single verification. A timeout is a plain failure
// (Passed=false, Confidence=0), not an error.
type Result struct {
	Passed     bool
	Confidence float64
	TimedOut   bool
	Cancelled  bool
	Err        error
}

// Reason describes why a result did not pass
func (r Result) Reason() string {
	switch {
	case r.Passed:
		return "passed"
	case r.Cancelled:
		return "cancelled"
	case r.TimedOut:
		return "verification timed out"
	case r.Err != nil:
		return r.Err.Error()
	default:
		return fmt.Sprintf("not confirmed (confidence %.2f)", r.Confidence)
	}
}

// Options configures the gate
type Options struct {
	Timeout       time.Duration // Used when neither the call nor the condition sets one
	MinConfidence float64       // Used when the condition does not set one
}

// DefaultOptions mirrors the thresholds the checker prompts are tuned for
func DefaultOptions() Options {
	return Options{
		Timeout:       30 * time.Second,
		MinConfidence: 0.75,
	}
}

// Gate runs one capture+check per call. It never retries.
type Gate struct {
	capturer Capturer
	checker  Checker
	opts     Options
	logger   *zap.Logger
}

// NewGate creates a verification gate
func NewGate(capturer Capturer, checker Checker, opts Options, logger *zap.Logger) *Gate {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gate{
		capturer: capturer,
		checker:  checker,
		opts:     opts,
		logger:   logger.With(zap.String("component", "verify")),
	}
}

type outcome struct {
	passed     bool
	confidence float64
	err        error
}

// Verify captures a frame and checks cond against it, waiting at most
// timeout (falling back to the condition's and then the gate's default).
// Cancellation of ctx yields Cancelled rather than a timeout.
func (g *Gate) Verify(ctx context.Context, cond Condition, timeout time.Duration) Result {
	if timeout <= 0 {
		timeout = cond.Timeout
	}
	if timeout <= 0 {
		timeout = g.opts.Timeout
	}
	minConfidence := cond.MinConfidence
	if minConfidence <= 0 {
		minConfidence = g.opts.MinConfidence
	}

	if ctx.Err() != nil {
		return Result{Cancelled: true, Err: ctx.Err()}
	}

	checkCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan outcome, 1)
	go func() {
		frame, err := g.capturer.Capture(checkCtx)
		if err != nil {
			done <- outcome{err: fmt.Errorf("capture failed: %w", err)}
			return
		}
		passed, confidence, err := g.checker.Check(checkCtx, frame, cond)
		done <- outcome{passed: passed, confidence: confidence, err: err}
	}()

	start := time.Now()
	select {
	case <-checkCtx.Done():
		if ctx.Err() != nil {
			g.logger.Info("verification cancelled", zap.String("condition", cond.String()))
			return Result{Cancelled: true, Err: ctx.Err()}
		}
		g.logger.Warn("verification timed out",
			zap.String("condition", cond.String()),
			zap.Duration("timeout", timeout))
		return Result{TimedOut: true}

	case out := <-done:
		if out.err != nil {
			if ctx.Err() != nil {
				return Result{Cancelled: true, Err: ctx.Err()}
			}
			if errors.Is(out.err, context.DeadlineExceeded) {
				return Result{TimedOut: true}
			}
			g.logger.Warn("verification check failed", zap.String("condition", cond.String()), zap.Error(out.err))
			return Result{Err: out.err}
		}

		res := Result{
			Passed:     out.passed && out.confidence >= minConfidence,
			Confidence: out.confidence,
		}
		g.logger.Debug("verification finished",
			zap.String("condition", cond.String()),
			zap.Bool("passed", res.Passed),
			zap.Float64("confidence", res.Confidence),
			zap.Duration("elapsed", time.Since(start)))
		return res
	}
}
