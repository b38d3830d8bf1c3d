// Package browser drives a Chromium page through go-rod. It is the action
// driver, frame source and pointer reporter for the cursor.
package browser

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/png"
	"io"
	"net"
	"sync"
	"syscall"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/nfnt/resize"
	"go.uber.org/zap"

	"github.com/v0xg/clickloop/internal/coords"
	"github.com/v0xg/clickloop/internal/cursor"
)

// Options configures the browser session
type Options struct {
	Width      int
	Height     int
	Capture    coords.Size   // Size frames are scaled to (zero keeps the surface size)
	Headless   bool
	Timeout    time.Duration // Page load timeout
	ProfileDir string        // Chrome/Chromium profile directory for authenticated sessions
	Bin        string        // Browser binary; looked up when empty
}

// Browser wraps the rod browser and the single page actions go to
type Browser struct {
	browser *rod.Browser
	page    *rod.Page
	capture coords.Size
	logger  *zap.Logger

	// rod's Mouse and Keyboard keep per-page state and are not safe for
	// concurrent use
	mu sync.Mutex
}

// Launch starts a browser, opens url and waits for the page to settle
func Launch(ctx context.Context, url string, opts Options, logger *zap.Logger) (*Browser, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Timeout == 0 {
		opts.Timeout = 30 * time.Second
	}

	bin := opts.Bin
	if bin == "" {
		bin, _ = launcher.LookPath()
	}
	l := launcher.New().Context(ctx).Bin(bin).Headless(opts.Headless)
	if opts.ProfileDir != "" {
		l = l.UserDataDir(opts.ProfileDir)
	}

	u, err := l.Launch()
	if err != nil {
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}

	rb := rod.New().ControlURL(u)
	if err := rb.Connect(); err != nil {
		return nil, fmt.Errorf("failed to connect to browser: %w", err)
	}

	b := &Browser{
		browser: rb,
		capture: opts.Capture,
		logger:  logger.With(zap.String("component", "browser")),
	}

	page, err := rb.Page(proto.TargetCreateTarget{URL: url})
	if err != nil {
		b.Close()
		return nil, fmt.Errorf("failed to open %s: %w", url, err)
	}
	b.page = page

	if err := page.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
		Width:             opts.Width,
		Height:            opts.Height,
		DeviceScaleFactor: 1,
	}); err != nil {
		b.Close()
		return nil, fmt.Errorf("failed to set viewport: %w", err)
	}

	if err := page.Timeout(opts.Timeout).WaitLoad(); err != nil {
		b.Close()
		return nil, fmt.Errorf("page did not load: %w", err)
	}
	// Don't hang on persistent connections (WebSockets, polling, etc.)
	page.Timeout(5*time.Second).WaitRequestIdle(500*time.Millisecond, nil, nil, nil)()

	if b.capture.Width <= 0 || b.capture.Height <= 0 {
		b.capture = coords.Size{Width: opts.Width, Height: opts.Height}
	}

	b.logger.Info("page ready", zap.String("url", url), zap.Int("width", opts.Width), zap.Int("height", opts.Height))
	return b, nil
}

// Close cleans up browser resources
func (b *Browser) Close() {
	if b.page != nil {
		_ = b.page.Close()
	}
	if b.browser != nil {
		_ = b.browser.Close()
	}
}

// Page returns the underlying rod page
func (b *Browser) Page() *rod.Page {
	return b.page
}

// CaptureSize is the size frames are delivered at
func (b *Browser) CaptureSize() coords.Size {
	return b.capture
}

// Move places the pointer at p without interpolation; the cursor controller
// does the easing
func (b *Browser) Move(ctx context.Context, p coords.Point) error {
	return b.do(ctx, "move", func() error {
		return b.page.Mouse.MoveTo(proto.Point{X: p.X, Y: p.Y})
	})
}

// Click presses and releases button count times at the current position
func (b *Browser) Click(ctx context.Context, button cursor.Button, count int) error {
	return b.do(ctx, "click", func() error {
		return b.page.Mouse.Click(mouseButton(button), count)
	})
}

// Type sends text to whatever has focus
func (b *Browser) Type(ctx context.Context, text string) error {
	return b.do(ctx, "type", func() error {
		for _, seg := range segments(text) {
			var err error
			if seg.raw != "" {
				err = b.page.InsertText(seg.raw)
			} else {
				err = b.page.Keyboard.Type(seg.keys...)
			}
			if err != nil {
				return err
			}
		}
		return nil
	})
}

// Scroll sends a wheel delta at the current position
func (b *Browser) Scroll(ctx context.Context, dx, dy float64) error {
	return b.do(ctx, "scroll", func() error {
		return b.page.Mouse.Scroll(dx, dy, scrollSteps(dx, dy))
	})
}

// SurfaceSize returns the current viewport size in CSS pixels
func (b *Browser) SurfaceSize(ctx context.Context) (coords.Size, error) {
	var size coords.Size
	err := b.do(ctx, "measure", func() error {
		res, err := b.page.Eval(`() => ({ w: window.innerWidth, h: window.innerHeight })`)
		if err != nil {
			return err
		}
		size = coords.Size{Width: res.Value.Get("w").Int(), Height: res.Value.Get("h").Int()}
		return nil
	})
	return size, err
}

// Position returns where rod last put the pointer
func (b *Browser) Position(ctx context.Context) (coords.Point, error) {
	if err := ctx.Err(); err != nil {
		return coords.Point{}, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	p := b.page.Mouse.Position()
	return coords.Point{X: p.X, Y: p.Y}, nil
}

// Capture takes a viewport screenshot scaled to the capture size
func (b *Browser) Capture(ctx context.Context) (image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	b.mu.Lock()
	data, err := b.page.Context(ctx).Screenshot(false, &proto.PageCaptureScreenshot{
		Format: proto.PageCaptureScreenshotFormatPng,
	})
	b.mu.Unlock()
	if err != nil {
		return nil, classify("capture", err)
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode screenshot: %w", err)
	}
	return scaleFrame(img, b.capture), nil
}

// ElementCenter returns the center of the first element matching selector,
// in surface space
func (b *Browser) ElementCenter(ctx context.Context, selector string) (coords.Point, error) {
	if err := ctx.Err(); err != nil {
		return coords.Point{}, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	el, err := b.page.Context(ctx).Element(selector)
	if err != nil {
		return coords.Point{}, fmt.Errorf("element not found: %s: %w", selector, err)
	}
	shape, err := el.Shape()
	if err != nil {
		return coords.Point{}, err
	}
	if len(shape.Quads) == 0 {
		return coords.Point{}, fmt.Errorf("element has no shape: %s", selector)
	}
	return quadCenter(shape.Quads[0]), nil
}

// do runs one input operation, refusing to start once ctx is done
func (b *Browser) do(ctx context.Context, op string, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := fn(); err != nil {
		return classify(op, err)
	}
	return nil
}

// classify marks connection loss so callers stop instead of retrying
func classify(op string, err error) error {
	if isDisconnect(err) {
		return fmt.Errorf("%s: %w: %w", op, cursor.ErrDriverUnavailable, err)
	}
	return err
}

func isDisconnect(err error) bool {
	return errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, net.ErrClosed) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.EPIPE)
}

func mouseButton(b cursor.Button) proto.InputMouseButton {
	switch b {
	case cursor.ButtonRight:
		return proto.InputMouseButtonRight
	case cursor.ButtonMiddle:
		return proto.InputMouseButtonMiddle
	default:
		return proto.InputMouseButtonLeft
	}
}

// scrollSteps spreads large wheel deltas over several events, about one
// per 100px
func scrollSteps(dx, dy float64) int {
	d := max(abs(dx), abs(dy))
	steps := int(d / 100)
	return min(max(steps, 1), 20)
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

func quadCenter(q proto.DOMQuad) coords.Point {
	return coords.Point{
		X: (q[0] + q[2] + q[4] + q[6]) / 4,
		Y: (q[1] + q[3] + q[5] + q[7]) / 4,
	}
}

// scaleFrame resizes img to size unless it already matches
func scaleFrame(img image.Image, size coords.Size) image.Image {
	bounds := img.Bounds()
	if size.Width <= 0 || size.Height <= 0 || (bounds.Dx() == size.Width && bounds.Dy() == size.Height) {
		return img
	}
	return resize.Resize(uint(size.Width), uint(size.Height), img, resize.Bilinear)
}
