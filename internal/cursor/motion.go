package cursor

import (
	"math"
	"time"

	"github.com/v0xg/clickloop/internal/coords"
)

// easeInOutQuad provides smooth acceleration/deceleration
func easeInOutQuad(t float64) float64 {
	if t < 0.5 {
		return 2 * t * t
	}
	return 1 - (-2*t+2)*(-2*t+2)/2
}

func lerp(from, to coords.Point, t float64) coords.Point {
	return coords.Point{
		X: from.X + t*(to.X-from.X),
		Y: from.Y + t*(to.Y-from.Y),
	}
}

// motionDuration picks the longest of the hint, the speed-capped travel time
// and the configured floor
func motionDuration(dist float64, hint time.Duration, opts Options) time.Duration {
	d := hint
	if opts.MaxSpeed > 0 {
		travel := time.Duration(dist / opts.MaxSpeed * float64(time.Second))
		if travel > d {
			d = travel
		}
	}
	if d < opts.MinDuration {
		d = opts.MinDuration
	}
	return d
}

// motionSteps is the number of intermediate move events for a duration
func motionSteps(d time.Duration, stepRate float64) int {
	if stepRate <= 0 {
		return 1
	}
	steps := int(math.Ceil(d.Seconds() * stepRate))
	if steps < 1 {
		steps = 1
	}
	return steps
}

// path returns the eased intermediate points, ending exactly on target
func path(from, to coords.Point, steps int) []coords.Point {
	points := make([]coords.Point, steps)
	for i := 1; i <= steps; i++ {
		t := easeInOutQuad(float64(i) / float64(steps))
		points[i-1] = lerp(from, to, t)
	}
	points[steps-1] = to
	return points
}
