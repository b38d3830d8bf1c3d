// Package config loads a task file and resolves run settings.
//
// Settings precedence: defaults → file `settings` → environment
// (CLICKLOOP_*) → command-line flags. Flags are applied by the caller.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/v0xg/clickloop/internal/browser"
	"github.com/v0xg/clickloop/internal/coords"
	"github.com/v0xg/clickloop/internal/cursor"
	"github.com/v0xg/clickloop/internal/orchestrator"
	"github.com/v0xg/clickloop/internal/task"
	"github.com/v0xg/clickloop/internal/verify"
)

// File is a parsed task file
type File struct {
	URL      string     `yaml:"url"`
	Settings Settings   `yaml:"settings"`
	Tasks    []task.Def `yaml:"tasks"`
}

// Settings holds every tunable of a run
type Settings struct {
	// Browser
	Width    int         `yaml:"width"`
	Height   int         `yaml:"height"`
	Capture  coords.Size `yaml:"capture"` // Frame size sent to the model (zero = viewport size)
	Headless bool        `yaml:"headless"`
	Profile  string      `yaml:"profile"`

	// Vision
	Provider      string        `yaml:"provider"`
	Model         string        `yaml:"model"`
	MinConfidence float64       `yaml:"min_confidence"`
	VerifyTimeout time.Duration `yaml:"verify_timeout"`
	MarkCursor    bool          `yaml:"mark_cursor"`

	// Orchestration
	MaxAttempts         int           `yaml:"max_attempts"`
	RetryDelay          time.Duration `yaml:"retry_delay"`
	Backoff             float64       `yaml:"backoff"`
	MaxRetryDelay       time.Duration `yaml:"max_retry_delay"`
	SettleDelay         time.Duration `yaml:"settle_delay"`
	MaxDispatchFailures int           `yaml:"max_dispatch_failures"`

	// Cursor
	Clamp        bool          `yaml:"clamp"`
	MaxSpeed     float64       `yaml:"max_speed"`
	MinDuration  time.Duration `yaml:"min_duration"`
	Tolerance    float64       `yaml:"tolerance"`
	SyncInterval time.Duration `yaml:"sync_interval"`

	// Output
	Record      string `yaml:"record"`       // GIF path; empty disables recording
	MetricsAddr string `yaml:"metrics_addr"` // Prometheus listen address; empty disables it
}

// Defaults returns the built-in settings
func Defaults() Settings {
	c := cursor.DefaultOptions()
	o := orchestrator.DefaultOptions()
	v := verify.DefaultOptions()
	return Settings{
		Width:               1280,
		Height:              720,
		Headless:            true,
		Provider:            "claude",
		MinConfidence:       v.MinConfidence,
		VerifyTimeout:       v.Timeout,
		MarkCursor:          true,
		MaxAttempts:         o.MaxAttempts,
		RetryDelay:          o.RetryDelay,
		Backoff:             o.Backoff,
		SettleDelay:         o.SettleDelay,
		MaxDispatchFailures: o.MaxDispatchFailures,
		MaxSpeed:            c.MaxSpeed,
		MinDuration:         c.MinDuration,
		Tolerance:           c.Tolerance,
		SyncInterval:        c.SyncInterval,
	}
}

// Load reads and validates a task file. JSON files are accepted as YAML.
func Load(path string) (*File, []*task.Task, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("read task file: %w", err)
	}
	return Parse(data)
}

// Parse decodes a task file over the defaults, applies the environment and
// builds the tasks
func Parse(data []byte) (*File, []*task.Task, error) {
	f := &File{Settings: Defaults()}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(f); err != nil && !errors.Is(err, io.EOF) {
		return nil, nil, fmt.Errorf("parse task file: %w", err)
	}

	f.Settings.ApplyEnv()

	tasks, err := task.BuildAll(f.Tasks)
	if err != nil {
		return nil, nil, err
	}
	if len(tasks) == 0 {
		return nil, nil, errors.New("task file defines no tasks")
	}
	return f, tasks, nil
}

// ApplyEnv overrides provider, model and profile from CLICKLOOP_* variables
func (s *Settings) ApplyEnv() {
	if v := os.Getenv("CLICKLOOP_DEFAULT_PROVIDER"); v != "" {
		s.Provider = v
	}
	if v := os.Getenv("CLICKLOOP_MODEL"); v != "" {
		s.Model = v
	}
	if v := os.Getenv("CLICKLOOP_PROFILE"); v != "" {
		s.Profile = v
	}
}

// Validate checks the settings for values no component can run with
func (s Settings) Validate() error {
	var errs []error
	if s.Width <= 0 || s.Height <= 0 {
		errs = append(errs, fmt.Errorf("viewport must be positive, got %dx%d", s.Width, s.Height))
	}
	if s.Capture.Width < 0 || s.Capture.Height < 0 || (s.Capture.Width == 0) != (s.Capture.Height == 0) {
		errs = append(errs, fmt.Errorf("capture size must set both width and height, got %s", s.Capture))
	}
	if s.MaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("max_attempts must be at least 1, got %d", s.MaxAttempts))
	}
	if s.MinConfidence < 0 || s.MinConfidence > 1 {
		errs = append(errs, fmt.Errorf("min_confidence must be within [0, 1], got %g", s.MinConfidence))
	}
	if s.RetryDelay < 0 || s.SettleDelay < 0 || s.VerifyTimeout < 0 || s.MaxRetryDelay < 0 {
		errs = append(errs, errors.New("delays and timeouts must not be negative"))
	}
	if s.MaxSpeed < 0 || s.Tolerance < 0 {
		errs = append(errs, errors.New("max_speed and tolerance must not be negative"))
	}
	switch strings.ToLower(s.Provider) {
	case "claude", "anthropic", "openai", "gpt":
	default:
		errs = append(errs, fmt.Errorf("unknown provider: %s (supported: claude, openai)", s.Provider))
	}
	return errors.Join(errs...)
}

// CaptureSize returns the frame size, defaulting to the viewport
func (s Settings) CaptureSize() coords.Size {
	if s.Capture.Width > 0 && s.Capture.Height > 0 {
		return s.Capture
	}
	return coords.Size{Width: s.Width, Height: s.Height}
}

// SurfaceSize is the requested viewport
func (s Settings) SurfaceSize() coords.Size {
	return coords.Size{Width: s.Width, Height: s.Height}
}

// BrowserOptions converts to browser launch options
func (s Settings) BrowserOptions() browser.Options {
	return browser.Options{
		Width:      s.Width,
		Height:     s.Height,
		Capture:    s.CaptureSize(),
		Headless:   s.Headless,
		ProfileDir: s.Profile,
	}
}

// CursorOptions converts to cursor motion options
func (s Settings) CursorOptions() cursor.Options {
	opts := cursor.DefaultOptions()
	opts.MaxSpeed = s.MaxSpeed
	opts.MinDuration = s.MinDuration
	opts.Clamp = s.Clamp
	opts.Tolerance = s.Tolerance
	opts.SyncInterval = s.SyncInterval
	return opts
}

// VerifyOptions converts to verification gate options
func (s Settings) VerifyOptions() verify.Options {
	return verify.Options{
		Timeout:       s.VerifyTimeout,
		MinConfidence: s.MinConfidence,
	}
}

// OrchestratorOptions converts to run options. The verification timeout is
// left to the gate so per-condition timeouts still apply.
func (s Settings) OrchestratorOptions() orchestrator.Options {
	opts := orchestrator.DefaultOptions()
	opts.MaxAttempts = s.MaxAttempts
	opts.RetryDelay = s.RetryDelay
	opts.Backoff = s.Backoff
	opts.MaxRetryDelay = s.MaxRetryDelay
	opts.SettleDelay = s.SettleDelay
	opts.MaxDispatchFailures = s.MaxDispatchFailures
	return opts
}
