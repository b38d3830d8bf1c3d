// Package coords converts points between the capture space (pixels of a
// screenshot as handed to the vision collaborators) and the surface space
// (the viewport the browser driver moves and clicks in).
package coords

import (
	"fmt"
	"math"
	"sync/atomic"
)

// Point is a location in either coordinate space
type Point struct {
	X float64 `json:"x" yaml:"x"`
	Y float64 `json:"y" yaml:"y"`
}

// Distance returns the euclidean distance between p and q
func (p Point) Distance(q Point) float64 {
	return math.Hypot(q.X-p.X, q.Y-p.Y)
}

// Round snaps the point to the nearest whole pixel
func (p Point) Round() Point {
	return Point{X: math.Round(p.X), Y: math.Round(p.Y)}
}

func (p Point) String() string {
	return fmt.Sprintf("(%.1f, %.1f)", p.X, p.Y)
}

// Size is a width/height pair in pixels
type Size struct {
	Width  int `json:"width" yaml:"width"`
	Height int `json:"height" yaml:"height"`
}

func (s Size) String() string {
	return fmt.Sprintf("%dx%d", s.Width, s.Height)
}

// Contains reports whether p lies in [0, Width) x [0, Height)
func (s Size) Contains(p Point) bool {
	return p.X >= 0 && p.Y >= 0 && p.X < float64(s.Width) && p.Y < float64(s.Height)
}

// Clamp pulls p into [0, Width-1] x [0, Height-1]
func (s Size) Clamp(p Point) Point {
	return Point{
		X: math.Min(math.Max(0, p.X), float64(s.Width-1)),
		Y: math.Min(math.Max(0, p.Y), float64(s.Height-1)),
	}
}

// Center returns the middle of the area
func (s Size) Center() Point {
	return Point{X: float64(s.Width / 2), Y: float64(s.Height / 2)}
}

// InvalidFrameError is returned when a frame has a non-positive dimension
type InvalidFrameError struct {
	Capture Size
	Surface Size
}

func (e *InvalidFrameError) Error() string {
	return fmt.Sprintf("invalid coordinate frame: capture %s, surface %s", e.Capture, e.Surface)
}

// Frame pairs a capture size with a surface size. Frames are immutable;
// a resize produces a new Frame.
type Frame struct {
	capture Size
	surface Size
	scaleX  float64
	scaleY  float64
}

// NewFrame validates both sizes and derives the capture->surface scale factors
func NewFrame(capture, surface Size) (*Frame, error) {
	if capture.Width <= 0 || capture.Height <= 0 || surface.Width <= 0 || surface.Height <= 0 {
		return nil, &InvalidFrameError{Capture: capture, Surface: surface}
	}
	return &Frame{
		capture: capture,
		surface: surface,
		scaleX:  float64(surface.Width) / float64(capture.Width),
		scaleY:  float64(surface.Height) / float64(capture.Height),
	}, nil
}

func (f *Frame) Capture() Size { return f.capture }
func (f *Frame) Surface() Size { return f.surface }

// Scale returns the per-axis factors such that surface = capture * scale
func (f *Frame) Scale() (x, y float64) { return f.scaleX, f.scaleY }

// ToSurface maps a capture-space point into surface space
func (f *Frame) ToSurface(p Point) Point {
	return Point{X: p.X * f.scaleX, Y: p.Y * f.scaleY}
}

// ToCapture maps a surface-space point into capture space
func (f *Frame) ToCapture(p Point) Point {
	return Point{X: p.X / f.scaleX, Y: p.Y / f.scaleY}
}

// Mapper holds the current frame. Readers always see a complete frame;
// updates replace the whole frame at once.
type Mapper struct {
	frame atomic.Pointer[Frame]
}

// NewMapper builds a mapper for the given sizes
func NewMapper(capture, surface Size) (*Mapper, error) {
	f, err := NewFrame(capture, surface)
	if err != nil {
		return nil, err
	}
	m := &Mapper{}
	m.frame.Store(f)
	return m, nil
}

// Frame returns the current frame snapshot
func (m *Mapper) Frame() *Frame {
	return m.frame.Load()
}

// SetFrame swaps in a new frame. On error the previous frame stays active.
func (m *Mapper) SetFrame(capture, surface Size) error {
	f, err := NewFrame(capture, surface)
	if err != nil {
		return err
	}
	m.frame.Store(f)
	return nil
}

// Resize replaces the surface size, keeping the capture size. A frame swapped
// in concurrently by SetFrame is never overwritten with a stale capture size.
func (m *Mapper) Resize(surface Size) error {
	for {
		old := m.frame.Load()
		f, err := NewFrame(old.Capture(), surface)
		if err != nil {
			return err
		}
		if m.frame.CompareAndSwap(old, f) {
			return nil
		}
	}
}

// CaptureSize is the size of the most recent snapshot space
func (m *Mapper) CaptureSize() Size { return m.Frame().Capture() }

// SurfaceSize is the size of the addressable interaction canvas
func (m *Mapper) SurfaceSize() Size { return m.Frame().Surface() }

// ToSurface maps using a single consistent frame snapshot
func (m *Mapper) ToSurface(p Point) Point {
	return m.Frame().ToSurface(p)
}

// ToCapture maps using a single consistent frame snapshot
func (m *Mapper) ToCapture(p Point) Point {
	return m.Frame().ToCapture(p)
}
