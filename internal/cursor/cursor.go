// Package cursor owns the single virtual pointer: its committed position,
// eased motion toward targets and click/type/scroll dispatch through an
// action driver.
package cursor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/v0xg/clickloop/internal/coords"
)

// Button identifies a mouse button
type Button int

const (
	ButtonLeft Button = iota
	ButtonRight
	ButtonMiddle
)

func (b Button) String() string {
	switch b {
	case ButtonRight:
		return "right"
	case ButtonMiddle:
		return "middle"
	default:
		return "left"
	}
}

// ParseButton accepts left, right and middle (empty means left)
func ParseButton(s string) (Button, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "left":
		return ButtonLeft, nil
	case "right":
		return ButtonRight, nil
	case "middle", "center":
		return ButtonMiddle, nil
	default:
		return ButtonLeft, fmt.Errorf("unknown mouse button: %s", s)
	}
}

// Driver performs raw input on the interaction surface. Coordinates are
// always in surface space.
type Driver interface {
	Move(ctx context.Context, p coords.Point) error
	Click(ctx context.Context, button Button, count int) error
	Type(ctx context.Context, text string) error
	Scroll(ctx context.Context, dx, dy float64) error
	SurfaceSize(ctx context.Context) (coords.Size, error)
}

// PositionReporter is implemented by drivers that know where the pointer
// really is. The sync loop uses it to reconcile the committed position.
type PositionReporter interface {
	Position(ctx context.Context) (coords.Point, error)
}

// Phase is the motion state of the cursor
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseMoving
	PhaseFailed
)

func (p Phase) String() string {
	switch p {
	case PhaseMoving:
		return "moving"
	case PhaseFailed:
		return "failed"
	default:
		return "idle"
	}
}

// State is a consistent snapshot of the cursor
type State struct {
	Position coords.Point
	Velocity coords.Point // surface pixels per second, from the last completed move
	Acquired bool
	Phase    Phase
}

// ErrDriverUnavailable is wrapped by drivers when the connection to the
// surface is gone. Callers treat it as fatal rather than retrying.
var ErrDriverUnavailable = errors.New("action driver unavailable")

// OutOfBoundsError is returned for targets outside the surface when
// clamping is disabled
type OutOfBoundsError struct {
	Target  coords.Point
	Surface coords.Size
}

func (e *OutOfBoundsError) Error() string {
	return fmt.Sprintf("target %s outside surface %s", e.Target, e.Surface)
}

// ActionDispatchError wraps a driver failure for a single operation
type ActionDispatchError struct {
	Op  string
	Err error
}

func (e *ActionDispatchError) Error() string {
	return fmt.Sprintf("%s dispatch failed: %v", e.Op, e.Err)
}

func (e *ActionDispatchError) Unwrap() error { return e.Err }

// Options configures motion behavior
type Options struct {
	MaxSpeed     float64       // Ceiling on distance/duration, surface px per second (0 = no cap)
	MinDuration  time.Duration // Floor for every move, including zero-distance ones
	StepRate     float64       // Intermediate move events per second
	Clamp        bool          // Clamp out-of-bounds targets instead of rejecting them
	Tolerance    float64       // Pixel slack for Validate and Near
	SyncInterval time.Duration // Period of the position/size sync loop (0 disables it)
}

// DefaultOptions returns motion settings that look human and stay observable
func DefaultOptions() Options {
	return Options{
		MaxSpeed:     1500,
		MinDuration:  150 * time.Millisecond,
		StepRate:     60,
		Tolerance:    5,
		SyncInterval: 2 * time.Second,
	}
}
