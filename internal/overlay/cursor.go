// Package overlay draws the pointer onto captured frames, so a visual
// checker (and a human watching the recording) can see where it is.
package overlay

import (
	"image"
	"image/color"
	"image/draw"
	"math"

	"github.com/v0xg/clickloop/internal/coords"
)

// Style controls how the pointer marker looks
type Style struct {
	Ring       bool       // Draw a ring around the pointer tip
	RingRadius int        // Ring radius in frame pixels
	RingWidth  int        // Ring stroke width in frame pixels
	RingColor  color.RGBA
}

// DefaultStyle is an arrow inside a red ring
func DefaultStyle() Style {
	return Style{
		Ring:       true,
		RingRadius: 18,
		RingWidth:  3,
		RingColor:  color.RGBA{230, 30, 30, 255},
	}
}

var (
	outlineColor = color.RGBA{0, 0, 0, 255}
	fillColor    = color.RGBA{255, 255, 255, 255}
)

// arrow outline, relative to the tip
var arrowPoints = []struct{ dx, dy int }{
	{0, 0},
	{0, 16},
	{4, 12},
	{7, 18},
	{10, 17},
	{7, 11},
	{12, 11},
}

// Mark returns a copy of frame with the pointer drawn at p (frame pixels).
// Points outside the frame leave the copy unmarked.
func Mark(frame image.Image, p coords.Point, style Style) *image.RGBA {
	bounds := frame.Bounds()
	out := image.NewRGBA(bounds)
	draw.Draw(out, bounds, frame, bounds.Min, draw.Src)

	tip := image.Point{
		X: bounds.Min.X + int(math.Round(p.X)),
		Y: bounds.Min.Y + int(math.Round(p.Y)),
	}
	if !tip.In(bounds) {
		return out
	}

	if style.Ring {
		drawRing(out, tip, style.RingRadius, max(style.RingWidth, 1), style.RingColor)
	}
	drawArrow(out, tip)
	return out
}

func drawArrow(img *image.RGBA, tip image.Point) {
	for dy := 0; dy < 18; dy++ {
		for dx := 0; dx < 13; dx++ {
			if insideArrow(dx, dy) {
				setPixelSafe(img, tip.X+dx, tip.Y+dy, fillColor)
			}
		}
	}

	for i := range arrowPoints {
		a := arrowPoints[i]
		b := arrowPoints[(i+1)%len(arrowPoints)]
		drawLine(img, image.Pt(tip.X+a.dx, tip.Y+a.dy), image.Pt(tip.X+b.dx, tip.Y+b.dy), outlineColor)
	}
}

// insideArrow approximates the arrow body: a triangle plus a short shaft
func insideArrow(dx, dy int) bool {
	switch {
	case dx < 0 || dy < 0 || dy > 16:
		return false
	case dy <= 11:
		return dx <= dy*12/16
	default:
		return dx <= 4
	}
}

// drawRing strokes a circle of the given radius and width around center
func drawRing(img *image.RGBA, center image.Point, radius, width int, c color.RGBA) {
	inner := float64(radius) - float64(width)/2
	outer := float64(radius) + float64(width)/2
	r := int(math.Ceil(outer))

	for dy := -r; dy <= r; dy++ {
		for dx := -r; dx <= r; dx++ {
			d := math.Hypot(float64(dx), float64(dy))
			if d >= inner && d <= outer {
				setPixelSafe(img, center.X+dx, center.Y+dy, c)
			}
		}
	}
}

// drawLine draws a line between two points using Bresenham's algorithm
func drawLine(img *image.RGBA, from, to image.Point, c color.RGBA) {
	dx := abs(to.X - from.X)
	dy := abs(to.Y - from.Y)
	sx, sy := 1, 1
	if from.X > to.X {
		sx = -1
	}
	if from.Y > to.Y {
		sy = -1
	}
	err := dx - dy

	x, y := from.X, from.Y
	for {
		setPixelSafe(img, x, y, c)
		if x == to.X && y == to.Y {
			break
		}
		e2 := 2 * err
		if e2 > -dy {
			err -= dy
			x += sx
		}
		if e2 < dx {
			err += dx
			y += sy
		}
	}
}

func setPixelSafe(img *image.RGBA, x, y int, c color.RGBA) {
	if (image.Point{X: x, Y: y}).In(img.Bounds()) {
		img.SetRGBA(x, y, c)
	}
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
