// Package recording collects the frames a run captures and writes them out
// as an animated GIF.
package recording

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/gif"
	"io"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/nfnt/resize"
)

// Options configures GIF generation
type Options struct {
	FrameDelay time.Duration // How long each frame is shown
	MaxWidth   uint          // Output width; height keeps the aspect ratio
	MaxFrames  int           // Oldest frames are dropped past this (0 = unlimited)
}

// DefaultOptions shows each verification frame for a second at 800px wide
func DefaultOptions() Options {
	return Options{
		FrameDelay: time.Second,
		MaxWidth:   800,
		MaxFrames:  500,
	}
}

// Recorder is safe for concurrent use
type Recorder struct {
	opts Options

	mu     sync.Mutex
	frames []image.Image
}

// NewRecorder creates an empty recorder
func NewRecorder(opts Options) *Recorder {
	if opts.MaxWidth == 0 {
		opts.MaxWidth = 800
	}
	if opts.FrameDelay <= 0 {
		opts.FrameDelay = time.Second
	}
	return &Recorder{opts: opts}
}

// Add appends a frame
func (r *Recorder) Add(frame image.Image) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frames = append(r.frames, frame)
	if r.opts.MaxFrames > 0 && len(r.frames) > r.opts.MaxFrames {
		r.frames = r.frames[len(r.frames)-r.opts.MaxFrames:]
	}
}

// Len returns the number of frames held
func (r *Recorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.frames)
}

// Save writes the GIF to path and returns its size in bytes. Nothing is
// written when there are no frames.
func (r *Recorder) Save(path string) (int64, error) {
	if r.Len() == 0 {
		return 0, nil
	}

	f, err := os.Create(path)
	if err != nil {
		return 0, fmt.Errorf("failed to create %s: %w", path, err)
	}
	defer f.Close()

	if err := r.Encode(f); err != nil {
		return 0, err
	}

	info, err := f.Stat()
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

// Encode writes the frames held so far as a looping GIF
func (r *Recorder) Encode(w io.Writer) error {
	r.mu.Lock()
	frames := append([]image.Image(nil), r.frames...)
	r.mu.Unlock()

	if len(frames) == 0 {
		return fmt.Errorf("no frames to encode")
	}

	// Delay is in 100ths of a second
	delay := max(int(r.opts.FrameDelay/(10*time.Millisecond)), 1)

	bounds := frames[0].Bounds()
	width := r.opts.MaxWidth
	if uint(bounds.Dx()) < width {
		width = uint(bounds.Dx())
	}
	height := uint(float64(width) * float64(bounds.Dy()) / float64(bounds.Dx()))

	g := &gif.GIF{
		Image:     make([]*image.Paletted, len(frames)),
		Delay:     make([]int, len(frames)),
		LoopCount: 0, // Infinite loop
	}

	palette := generatePalette(frames[0])

	for i, frame := range frames {
		resized := resize.Resize(width, height, frame, resize.Lanczos3)

		paletted := image.NewPaletted(resized.Bounds(), palette)
		draw.FloydSteinberg.Draw(paletted, resized.Bounds(), resized, resized.Bounds().Min)

		g.Image[i] = paletted
		g.Delay[i] = delay
	}

	if err := gif.EncodeAll(w, g); err != nil {
		return fmt.Errorf("failed to encode GIF: %w", err)
	}
	return nil
}

// generatePalette builds a 256-color palette from the most frequent colors
// of img, sampling every 4th pixel
func generatePalette(img image.Image) color.Palette {
	bounds := img.Bounds()
	counts := make(map[color.RGBA]int)

	const step = 4
	for y := bounds.Min.Y; y < bounds.Max.Y; y += step {
		for x := bounds.Min.X; x < bounds.Max.X; x += step {
			r, g, b, a := img.At(x, y).RGBA()
			counts[color.RGBA{R: uint8(r >> 8), G: uint8(g >> 8), B: uint8(b >> 8), A: uint8(a >> 8)}]++
		}
	}

	type colorCount struct {
		c     color.RGBA
		count int
	}
	colors := make([]colorCount, 0, len(counts))
	for c, n := range counts {
		colors = append(colors, colorCount{c, n})
	}
	sort.Slice(colors, func(i, j int) bool {
		if colors[i].count != colors[j].count {
			return colors[i].count > colors[j].count
		}
		return rgbaKey(colors[i].c) < rgbaKey(colors[j].c)
	})

	palette := make(color.Palette, 0, 256)
	palette = append(palette, color.RGBA{0, 0, 0, 0})

	// Keep the marker red available even when the first frame has none
	palette = append(palette, color.RGBA{230, 30, 30, 255})

	for i := 0; i < len(colors) && len(palette) < 256; i++ {
		palette = append(palette, colors[i].c)
	}

	// Pad with grayscale
	for len(palette) < 256 {
		gray := uint8(len(palette))
		palette = append(palette, color.RGBA{gray, gray, gray, 255})
	}
	return palette
}

func rgbaKey(c color.RGBA) uint32 {
	return uint32(c.R)<<24 | uint32(c.G)<<16 | uint32(c.B)<<8 | uint32(c.A)
}
