// Package vision asks a multimodal model where things are on a screenshot
// and whether the page looks the way a step expects.
package vision

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"

	"go.uber.org/zap"

	"github.com/v0xg/clickloop/internal/coords"
	"github.com/v0xg/clickloop/internal/verify"
)

// ErrNotFound is returned when the model cannot see the requested element
var ErrNotFound = errors.New("element not found")

// asker sends one screenshot plus a prompt and returns the reply text
type asker interface {
	ask(ctx context.Context, frame []byte, prompt string) (string, error)
}

// Provider locates elements and checks conditions using one model
type Provider struct {
	name   string
	asker  asker
	logger *zap.Logger
}

// NewProvider creates a new provider based on the provider name
func NewProvider(name, model string, logger *zap.Logger) (*Provider, error) {
	var (
		a   asker
		err error
	)
	switch name {
	case "claude", "anthropic":
		a, err = newClaude(model)
	case "openai", "gpt":
		a, err = newOpenAI(model)
	default:
		return nil, fmt.Errorf("unknown provider: %s (supported: claude, openai)", name)
	}
	if err != nil {
		return nil, err
	}
	return newProvider(name, a, logger), nil
}

func newProvider(name string, a asker, logger *zap.Logger) *Provider {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Provider{
		name:   name,
		asker:  a,
		logger: logger.With(zap.String("component", "vision"), zap.String("provider", name)),
	}
}

// Name returns the provider name
func (p *Provider) Name() string {
	return p.name
}

// Locate returns the center of the described element in frame pixels
func (p *Provider) Locate(ctx context.Context, frame image.Image, description string) (coords.Point, error) {
	data, err := encodeFrame(frame)
	if err != nil {
		return coords.Point{}, err
	}
	size := coords.Size{Width: frame.Bounds().Dx(), Height: frame.Bounds().Dy()}

	reply, err := p.asker.ask(ctx, data, buildLocatePrompt(size.Width, size.Height, description))
	if err != nil {
		return coords.Point{}, err
	}

	x, y, found, err := parseLocation(reply)
	if err != nil {
		return coords.Point{}, fmt.Errorf("failed to parse %s response: %w\nResponse: %s", p.name, err, reply)
	}
	if !found {
		return coords.Point{}, fmt.Errorf("%w: %s", ErrNotFound, description)
	}

	pt := coords.Point{X: x, Y: y}
	if !size.Contains(pt) {
		return coords.Point{}, fmt.Errorf("%w: %s (model answered %s, outside the frame)", ErrNotFound, description, pt)
	}
	p.logger.Debug("element located", zap.String("description", description), zap.Stringer("point", pt))
	return pt, nil
}

// Check implements verify.Checker
func (p *Provider) Check(ctx context.Context, frame image.Image, cond verify.Condition) (bool, float64, error) {
	data, err := encodeFrame(frame)
	if err != nil {
		return false, 0, err
	}

	reply, err := p.asker.ask(ctx, data, buildCheckPrompt(cond))
	if err != nil {
		return false, 0, err
	}

	passed, confidence, details, err := parseVerdict(reply)
	if err != nil {
		return false, 0, fmt.Errorf("failed to parse %s response: %w\nResponse: %s", p.name, err, reply)
	}
	p.logger.Debug("condition checked",
		zap.String("condition", cond.String()),
		zap.Bool("passed", passed),
		zap.Float64("confidence", confidence),
		zap.String("details", details))
	return passed, confidence, nil
}

func encodeFrame(frame image.Image) ([]byte, error) {
	if frame == nil {
		return nil, errors.New("no frame to send")
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, frame); err != nil {
		return nil, fmt.Errorf("failed to encode frame: %w", err)
	}
	return buf.Bytes(), nil
}

// Locator captures a fresh frame for every lookup
type Locator struct {
	capturer verify.Capturer
	provider *Provider
}

// NewLocator pairs a frame source with a provider
func NewLocator(capturer verify.Capturer, provider *Provider) *Locator {
	return &Locator{capturer: capturer, provider: provider}
}

// Locate captures the current frame and returns the element center in
// capture space
func (l *Locator) Locate(ctx context.Context, description string) (coords.Point, error) {
	frame, err := l.capturer.Capture(ctx)
	if err != nil {
		return coords.Point{}, fmt.Errorf("capture failed: %w", err)
	}
	return l.provider.Locate(ctx, frame, description)
}
