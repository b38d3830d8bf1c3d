package overlay

import (
	"context"
	"image"

	"github.com/v0xg/clickloop/internal/coords"
	"github.com/v0xg/clickloop/internal/verify"
)

// Sink receives every marked frame
type Sink interface {
	Add(frame image.Image)
}

// PositionFunc reports the pointer in surface space
type PositionFunc func() coords.Point

// Capturer wraps a frame source and marks the pointer on each frame it
// returns. Frames are in capture space, so the position is mapped back
// through the current frame.
type Capturer struct {
	source   verify.Capturer
	position PositionFunc
	mapper   *coords.Mapper
	style    Style
	sink     Sink
}

// NewCapturer creates a marking capturer. sink may be nil; a nil position
// passes frames through unmarked.
func NewCapturer(source verify.Capturer, position PositionFunc, mapper *coords.Mapper, style Style, sink Sink) *Capturer {
	return &Capturer{
		source:   source,
		position: position,
		mapper:   mapper,
		style:    style,
		sink:     sink,
	}
}

// Capture implements verify.Capturer
func (c *Capturer) Capture(ctx context.Context) (image.Image, error) {
	frame, err := c.source.Capture(ctx)
	if err != nil {
		return nil, err
	}
	if c.position != nil {
		frame = Mark(frame, c.mapper.ToCapture(c.position()), c.style)
	}
	if c.sink != nil {
		c.sink.Add(frame)
	}
	return frame, nil
}
