package cursor

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/v0xg/clickloop/internal/coords"
)

// Controller is the only owner of the cursor state. All reads and writes of
// the position go through its methods.
type Controller struct {
	driver Driver
	mapper *coords.Mapper
	opts   Options
	logger *zap.Logger

	// owner admits one motion or input dispatch at a time
	owner chan struct{}

	mu    sync.RWMutex
	state State
}

// New creates a controller with the cursor parked at the surface center.
// Nothing is sent to the driver until Home or MoveTo is called.
func New(driver Driver, mapper *coords.Mapper, opts Options, logger *zap.Logger) *Controller {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Controller{
		driver: driver,
		mapper: mapper,
		opts:   opts,
		logger: logger.With(zap.String("component", "cursor")),
		owner:  make(chan struct{}, 1),
		state:  State{Position: mapper.SurfaceSize().Center()},
	}
}

// Position returns the last committed position. In-flight motion is never
// visible here.
func (c *Controller) Position() coords.Point {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state.Position
}

// State returns a snapshot of the full cursor state
func (c *Controller) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Validate reports whether p is on the surface, allowing Tolerance pixels of slack
func (c *Controller) Validate(p coords.Point) bool {
	s := c.mapper.SurfaceSize()
	tol := c.opts.Tolerance
	return p.X >= -tol && p.Y >= -tol && p.X < float64(s.Width)+tol && p.Y < float64(s.Height)+tol
}

// Near reports whether the committed position is within Tolerance of p on both axes
func (c *Controller) Near(p coords.Point) bool {
	pos := c.Position()
	return math.Abs(pos.X-p.X) <= c.opts.Tolerance && math.Abs(pos.Y-p.Y) <= c.opts.Tolerance
}

// Home places the cursor at the surface center without animation
func (c *Controller) Home(ctx context.Context) error {
	if err := c.acquire(ctx); err != nil {
		return err
	}
	defer c.release()

	center := c.mapper.SurfaceSize().Center()
	if err := c.driver.Move(ctx, center); err != nil {
		c.setPhase(PhaseFailed)
		c.setPhase(PhaseIdle)
		return &ActionDispatchError{Op: "move", Err: err}
	}
	c.commit(center, coords.Point{})
	c.logger.Debug("cursor homed", zap.Stringer("position", center))
	return nil
}

// MoveTo animates the cursor to target with ease-in-out timing. The position
// is committed only once the final point has been dispatched; on failure or
// cancellation it keeps its previous value.
func (c *Controller) MoveTo(ctx context.Context, target coords.Point, hint time.Duration) error {
	if err := c.acquire(ctx); err != nil {
		return err
	}
	defer c.release()

	// Checked under ownership: Sync cannot resize the surface until release.
	surface := c.mapper.SurfaceSize()
	if !surface.Contains(target) {
		if !c.opts.Clamp {
			return &OutOfBoundsError{Target: target, Surface: surface}
		}
		clamped := surface.Clamp(target)
		c.logger.Debug("target clamped", zap.Stringer("requested", target), zap.Stringer("clamped", clamped))
		target = clamped
	}

	from := c.Position()
	dist := from.Distance(target)
	d := motionDuration(dist, hint, c.opts)
	steps := motionSteps(d, c.opts.StepRate)

	limiter := rate.NewLimiter(rate.Every(d/time.Duration(steps)), 1)
	limiter.Allow() // drain the initial token so the motion spans the full duration

	c.setPhase(PhaseMoving)
	for _, p := range path(from, target, steps) {
		if err := limiter.Wait(ctx); err != nil {
			c.setPhase(PhaseIdle)
			if ctx.Err() != nil {
				return fmt.Errorf("move to %s: %w", target, ctx.Err())
			}
			return fmt.Errorf("move to %s: %w", target, err)
		}
		if err := c.driver.Move(ctx, p); err != nil {
			c.setPhase(PhaseFailed)
			c.logger.Warn("move dispatch failed", zap.Stringer("at", p), zap.Error(err))
			c.setPhase(PhaseIdle)
			return &ActionDispatchError{Op: "move", Err: err}
		}
	}

	var velocity coords.Point
	if secs := d.Seconds(); secs > 0 {
		velocity = coords.Point{X: (target.X - from.X) / secs, Y: (target.Y - from.Y) / secs}
	}
	c.commit(target, velocity)

	c.logger.Debug("cursor moved",
		zap.Stringer("from", from),
		zap.Stringer("to", target),
		zap.Duration("duration", d),
		zap.Int("steps", steps))
	return nil
}

// Click presses button at the current position, twice for a double click
func (c *Controller) Click(ctx context.Context, button Button, double bool) error {
	if err := c.acquire(ctx); err != nil {
		return err
	}
	defer c.release()

	count := 1
	if double {
		count = 2
	}
	if err := c.driver.Click(ctx, button, count); err != nil {
		return &ActionDispatchError{Op: "click", Err: err}
	}
	c.logger.Debug("clicked",
		zap.Stringer("button", button),
		zap.Int("count", count),
		zap.Stringer("at", c.Position()))
	return nil
}

// TypeText sends text to whatever currently has focus
func (c *Controller) TypeText(ctx context.Context, text string) error {
	if err := c.acquire(ctx); err != nil {
		return err
	}
	defer c.release()

	if err := c.driver.Type(ctx, text); err != nil {
		return &ActionDispatchError{Op: "type", Err: err}
	}
	c.logger.Debug("typed text", zap.Int("runes", len([]rune(text))))
	return nil
}

// Scroll sends a wheel delta at the current position
func (c *Controller) Scroll(ctx context.Context, dx, dy float64) error {
	if err := c.acquire(ctx); err != nil {
		return err
	}
	defer c.release()

	if err := c.driver.Scroll(ctx, dx, dy); err != nil {
		return &ActionDispatchError{Op: "scroll", Err: err}
	}
	c.logger.Debug("scrolled", zap.Float64("dx", dx), zap.Float64("dy", dy))
	return nil
}

// Sync periodically refreshes the surface size and, when the driver can
// report it, the pointer position. It skips a tick whenever a motion owns the
// cursor and returns when ctx is done.
func (c *Controller) Sync(ctx context.Context) error {
	if c.opts.SyncInterval <= 0 {
		<-ctx.Done()
		return nil
	}

	ticker := time.NewTicker(c.opts.SyncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			c.syncOnce(ctx)
		}
	}
}

func (c *Controller) syncOnce(ctx context.Context) {
	select {
	case c.owner <- struct{}{}:
	default:
		return
	}
	defer func() { <-c.owner }()

	size, err := c.driver.SurfaceSize(ctx)
	if err != nil {
		c.logger.Debug("surface size sync failed", zap.Error(err))
	} else if size != c.mapper.SurfaceSize() {
		if err := c.mapper.Resize(size); err != nil {
			c.logger.Warn("ignoring invalid surface size", zap.Stringer("size", size), zap.Error(err))
		} else {
			c.logger.Info("surface resized", zap.Stringer("size", size))
		}
	}

	surface := c.mapper.SurfaceSize()
	pos := c.Position()

	if r, ok := c.driver.(PositionReporter); ok {
		reported, err := r.Position(ctx)
		if err != nil {
			c.logger.Debug("position sync failed", zap.Error(err))
		} else if !c.Near(reported) {
			c.logger.Debug("cursor drift corrected", zap.Stringer("committed", pos), zap.Stringer("reported", reported))
			pos = reported
		}
	}

	if !surface.Contains(pos) {
		pos = surface.Clamp(pos)
	}

	c.mu.Lock()
	c.state.Position = pos
	c.mu.Unlock()
}

func (c *Controller) acquire(ctx context.Context) error {
	select {
	case c.owner <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	c.mu.Lock()
	c.state.Acquired = true
	c.mu.Unlock()
	return nil
}

func (c *Controller) release() {
	c.mu.Lock()
	c.state.Acquired = false
	c.mu.Unlock()
	<-c.owner
}

func (c *Controller) setPhase(p Phase) {
	c.mu.Lock()
	c.state.Phase = p
	c.mu.Unlock()
}

func (c *Controller) commit(p, velocity coords.Point) {
	c.mu.Lock()
	c.state.Position = p
	c.state.Velocity = velocity
	c.state.Phase = PhaseIdle
	c.mu.Unlock()
}
