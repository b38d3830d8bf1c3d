package verify

import (
	"context"
	"errors"
	"image"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type checkerFunc func(ctx context.Context, frame image.Image, cond Condition) (bool, float64, error)

func (f checkerFunc) Check(ctx context.Context, frame image.Image, cond Condition) (bool, float64, error) {
	return f(ctx, frame, cond)
}

func blankCapture() Capturer {
	return CaptureFunc(func(context.Context) (image.Image, error) {
		return image.NewRGBA(image.Rect(0, 0, 4, 4)), nil
	})
}

func TestGate_Passes(t *testing.T) {
	var seen Condition
	g := NewGate(blankCapture(), checkerFunc(func(_ context.Context, frame image.Image, cond Condition) (bool, float64, error) {
		seen = cond
		require.NotNil(t, frame)
		return true, 0.92, nil
	}), DefaultOptions(), zap.NewNop())

	cond := Condition{Label: "login form", Expected: "email field focused"}
	res := g.Verify(context.Background(), cond, time.Second)

	assert.True(t, res.Passed)
	assert.InDelta(t, 0.92, res.Confidence, 1e-9)
	assert.Equal(t, cond, seen)
	assert.Equal(t, "passed", res.Reason())
}

func TestGate_BelowMinConfidenceFails(t *testing.T) {
	g := NewGate(blankCapture(), checkerFunc(func(context.Context, image.Image, Condition) (bool, float64, error) {
		return true, 0.6, nil
	}), DefaultOptions(), nil)

	res := g.Verify(context.Background(), Condition{Label: "menu"}, time.Second)
	assert.False(t, res.Passed)
	assert.InDelta(t, 0.6, res.Confidence, 1e-9)

	res = g.Verify(context.Background(), Condition{Label: "menu", MinConfidence: 0.5}, time.Second)
	assert.True(t, res.Passed)
}

func TestGate_TimeoutReturnsFailedResult(t *testing.T) {
	g := NewGate(blankCapture(), checkerFunc(func(ctx context.Context, _ image.Image, _ Condition) (bool, float64, error) {
		time.Sleep(200 * time.Millisecond)
		return true, 1, nil
	}), DefaultOptions(), nil)

	start := time.Now()
	res := g.Verify(context.Background(), Condition{Label: "slow"}, 20*time.Millisecond)

	assert.Less(t, time.Since(start), 150*time.Millisecond)
	assert.False(t, res.Passed)
	assert.Zero(t, res.Confidence)
	assert.True(t, res.TimedOut)
	assert.False(t, res.Cancelled)
	assert.NoError(t, res.Err)
}

func TestGate_ConditionTimeoutUsedWhenCallHasNone(t *testing.T) {
	g := NewGate(blankCapture(), checkerFunc(func(ctx context.Context, _ image.Image, _ Condition) (bool, float64, error) {
		<-ctx.Done()
		return false, 0, ctx.Err()
	}), Options{Timeout: time.Hour}, nil)

	res := g.Verify(context.Background(), Condition{Label: "x", Timeout: 10 * time.Millisecond}, 0)
	assert.True(t, res.TimedOut)
}

func TestGate_CancelledWhileWaiting(t *testing.T) {
	g := NewGate(blankCapture(), checkerFunc(func(ctx context.Context, _ image.Image, _ Condition) (bool, float64, error) {
		<-ctx.Done()
		return false, 0, ctx.Err()
	}), DefaultOptions(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(10*time.Millisecond, cancel)

	res := g.Verify(ctx, Condition{Label: "x"}, time.Minute)
	assert.True(t, res.Cancelled)
	assert.False(t, res.Passed)
	assert.Equal(t, "cancelled", res.Reason())
}

func TestGate_CheckerAndCaptureErrors(t *testing.T) {
	boom := errors.New("model unavailable")
	g := NewGate(blankCapture(), checkerFunc(func(context.Context, image.Image, Condition) (bool, float64, error) {
		return false, 0, boom
	}), DefaultOptions(), nil)

	res := g.Verify(context.Background(), Condition{Label: "x"}, time.Second)
	assert.False(t, res.Passed)
	assert.ErrorIs(t, res.Err, boom)

	noFrame := NewGate(CaptureFunc(func(context.Context) (image.Image, error) {
		return nil, errors.New("page closed")
	}), checkerFunc(func(context.Context, image.Image, Condition) (bool, float64, error) {
		t.Fatal("checker must not run without a frame")
		return false, 0, nil
	}), DefaultOptions(), nil)

	res = noFrame.Verify(context.Background(), Condition{Label: "x"}, time.Second)
	assert.False(t, res.Passed)
	assert.ErrorContains(t, res.Err, "capture failed")
}
