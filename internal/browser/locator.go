package browser

import (
	"context"
	"errors"
	"strings"

	"github.com/v0xg/clickloop/internal/coords"
)

// SelectorPrefix marks a target label as a CSS selector
const SelectorPrefix = "css:"

// ErrNoFallback is returned for non-selector labels when no fallback locator is set
var ErrNoFallback = errors.New("label is not a selector and no visual locator is configured")

// Fallback locates labels that are not selectors
type Fallback interface {
	Locate(ctx context.Context, description string) (coords.Point, error)
}

// elementFinder is the part of *Browser the locator needs
type elementFinder interface {
	ElementCenter(ctx context.Context, selector string) (coords.Point, error)
}

// Locator resolves "css:<selector>" labels through the DOM and hands every
// other label to the fallback. Points come back in capture space, like any
// visual locator's.
type Locator struct {
	finder   elementFinder
	mapper   *coords.Mapper
	fallback Fallback
}

// NewLocator creates a locator over b. fallback may be nil.
func NewLocator(b *Browser, mapper *coords.Mapper, fallback Fallback) *Locator {
	return &Locator{finder: b, mapper: mapper, fallback: fallback}
}

// Locate implements the orchestrator's locator contract
func (l *Locator) Locate(ctx context.Context, description string) (coords.Point, error) {
	if sel, ok := strings.CutPrefix(description, SelectorPrefix); ok {
		p, err := l.finder.ElementCenter(ctx, strings.TrimSpace(sel))
		if err != nil {
			return coords.Point{}, err
		}
		return l.mapper.ToCapture(p), nil
	}
	if l.fallback == nil {
		return coords.Point{}, ErrNoFallback
	}
	return l.fallback.Locate(ctx, description)
}
