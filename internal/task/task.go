// Package task models one declarative automation step: what to do, where,
// and how to confirm it worked, plus its forward-only execution status.
package task

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/v0xg/clickloop/internal/coords"
	"github.com/v0xg/clickloop/internal/verify"
)

// Action is the closed set of things a task can do
type Action int

const (
	ActionMove Action = iota
	ActionClick
	ActionDoubleClick
	ActionType
	ActionScroll
)

var actionNames = map[Action]string{
	ActionMove:        "move",
	ActionClick:       "click",
	ActionDoubleClick: "double_click",
	ActionType:        "type",
	ActionScroll:      "scroll",
}

func (a Action) String() string {
	if s, ok := actionNames[a]; ok {
		return s
	}
	return fmt.Sprintf("action(%d)", int(a))
}

// ParseAction accepts the canonical names plus a few spellings of double click
func ParseAction(s string) (Action, error) {
	norm := strings.ToLower(strings.TrimSpace(s))
	switch norm {
	case "doubleclick", "double-click", "dblclick":
		return ActionDoubleClick, nil
	}
	for a, name := range actionNames {
		if name == norm {
			return a, nil
		}
	}
	return 0, fmt.Errorf("unknown action: %q (supported: move, click, double_click, type, scroll)", s)
}

func (a Action) MarshalText() ([]byte, error) { return []byte(a.String()), nil }

func (a *Action) UnmarshalText(b []byte) error {
	parsed, err := ParseAction(string(b))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// Status only moves forward: Pending -> Running -> Succeeded | Failed
type Status int

const (
	StatusPending Status = iota
	StatusRunning
	StatusSucceeded
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusRunning:
		return "running"
	case StatusSucceeded:
		return "succeeded"
	case StatusFailed:
		return "failed"
	default:
		return "pending"
	}
}

// Terminal reports whether no further transition is possible
func (s Status) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailed
}

var (
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrAttemptsExhausted = errors.New("attempts exhausted")
)

// Target is either a literal surface point or a label for the locator to
// resolve at execution time. The zero Target means "wherever the cursor is".
type Target struct {
	point   coords.Point
	label   string
	literal bool
}

// At targets a literal point in surface space
func At(x, y float64) Target {
	return Target{point: coords.Point{X: x, Y: y}, literal: true}
}

// Labeled targets whatever the locator finds for label
func Labeled(label string) Target {
	return Target{label: label}
}

func (t Target) IsZero() bool   { return !t.literal && t.label == "" }
func (t Target) Symbolic() bool { return !t.literal && t.label != "" }
func (t Target) Label() string  { return t.label }

// Point returns the literal point, if this is a literal target
func (t Target) Point() (coords.Point, bool) {
	return t.point, t.literal
}

func (t Target) String() string {
	switch {
	case t.literal:
		return t.point.String()
	case t.label != "":
		return fmt.Sprintf("%q", t.label)
	default:
		return "current position"
	}
}

// Task is immutable intent plus mutable status. Only the orchestrator that
// runs a task mutates its status.
type Task struct {
	name         string
	action       Action
	target       Target
	text         string
	delta        coords.Point
	verification *verify.Condition
	maxAttempts  int

	status   Status
	attempts int
	lastErr  error
}

// Option customizes a task at construction
type Option func(*Task)

// WithVerification attaches a condition checked after every attempt
func WithVerification(cond verify.Condition) Option {
	return func(t *Task) { t.verification = &cond }
}

// WithMaxAttempts overrides the run-wide attempt limit for this task
func WithMaxAttempts(n int) Option {
	return func(t *Task) { t.maxAttempts = n }
}

// Move moves the cursor to target
func Move(name string, target Target, opts ...Option) (*Task, error) {
	return build(&Task{name: name, action: ActionMove, target: target}, opts)
}

// Click moves to target and clicks once
func Click(name string, target Target, opts ...Option) (*Task, error) {
	return build(&Task{name: name, action: ActionClick, target: target}, opts)
}

// DoubleClick moves to target and clicks twice
func DoubleClick(name string, target Target, opts ...Option) (*Task, error) {
	return build(&Task{name: name, action: ActionDoubleClick, target: target}, opts)
}

// Type focuses target with a click (unless target is zero) and types text
func Type(name string, target Target, text string, opts ...Option) (*Task, error) {
	return build(&Task{name: name, action: ActionType, target: target, text: text}, opts)
}

// Scroll moves to target (unless target is zero) and scrolls by (dx, dy)
func Scroll(name string, target Target, dx, dy float64, opts ...Option) (*Task, error) {
	return build(&Task{name: name, action: ActionScroll, target: target, delta: coords.Point{X: dx, Y: dy}}, opts)
}

func build(t *Task, opts []Option) (*Task, error) {
	for _, opt := range opts {
		opt(t)
	}
	if err := t.validate(); err != nil {
		return nil, err
	}
	return t, nil
}

func (t *Task) validate() error {
	if strings.TrimSpace(t.name) == "" {
		return fmt.Errorf("%s task: name is required", t.action)
	}
	if t.target.literal {
		p := t.target.point
		if math.IsNaN(p.X) || math.IsNaN(p.Y) || math.IsInf(p.X, 0) || math.IsInf(p.Y, 0) || p.X < 0 || p.Y < 0 {
			return fmt.Errorf("task %q: invalid target point %s", t.name, p)
		}
	}

	switch t.action {
	case ActionMove, ActionClick, ActionDoubleClick:
		if t.target.IsZero() {
			return fmt.Errorf("task %q: %s requires a target", t.name, t.action)
		}
	case ActionType:
		if t.text == "" {
			return fmt.Errorf("task %q: type requires text", t.name)
		}
	case ActionScroll:
		if t.delta.X == 0 && t.delta.Y == 0 {
			return fmt.Errorf("task %q: scroll requires a non-zero delta", t.name)
		}
	default:
		return fmt.Errorf("task %q: unknown action %s", t.name, t.action)
	}

	if t.maxAttempts < 0 {
		return fmt.Errorf("task %q: max attempts must not be negative", t.name)
	}
	if v := t.verification; v != nil {
		if strings.TrimSpace(v.Label) == "" {
			return fmt.Errorf("task %q: verification requires a label", t.name)
		}
		if v.MinConfidence < 0 || v.MinConfidence > 1 {
			return fmt.Errorf("task %q: min confidence must be within [0, 1]", t.name)
		}
	}
	return nil
}

func (t *Task) Name() string        { return t.name }
func (t *Task) Action() Action      { return t.action }
func (t *Task) Target() Target      { return t.target }
func (t *Task) Text() string        { return t.text }
func (t *Task) Delta() coords.Point { return t.delta }
func (t *Task) Status() Status      { return t.status }
func (t *Task) Attempts() int       { return t.attempts }
func (t *Task) LastError() error    { return t.lastErr }
func (t *Task) MaxAttempts() int    { return t.maxAttempts }

// Verification returns the task's condition, if it has one
func (t *Task) Verification() (verify.Condition, bool) {
	if t.verification == nil {
		return verify.Condition{}, false
	}
	return *t.verification, true
}

func (t *Task) String() string {
	switch t.action {
	case ActionType:
		return fmt.Sprintf("%s: type %q at %s", t.name, t.text, t.target)
	case ActionScroll:
		return fmt.Sprintf("%s: scroll %s at %s", t.name, t.delta, t.target)
	default:
		return fmt.Sprintf("%s: %s %s", t.name, t.action, t.target)
	}
}

// Start moves a pending task to running
func (t *Task) Start() error {
	if t.status != StatusPending {
		return fmt.Errorf("%w: %s -> running", ErrInvalidTransition, t.status)
	}
	t.status = StatusRunning
	return nil
}

// BeginAttempt counts a new attempt, refusing to go past limit
func (t *Task) BeginAttempt(limit int) error {
	if t.status != StatusRunning {
		return fmt.Errorf("%w: attempt while %s", ErrInvalidTransition, t.status)
	}
	if t.attempts >= limit {
		return fmt.Errorf("task %q: %w (%d/%d)", t.name, ErrAttemptsExhausted, t.attempts, limit)
	}
	t.attempts++
	return nil
}

// RecordFailure remembers the reason an attempt failed
func (t *Task) RecordFailure(err error) {
	t.lastErr = err
}

// Succeed finishes a running task
func (t *Task) Succeed() error {
	if t.status != StatusRunning {
		return fmt.Errorf("%w: %s -> succeeded", ErrInvalidTransition, t.status)
	}
	t.status = StatusSucceeded
	t.lastErr = nil
	return nil
}

// Fail finishes a running task with reason
func (t *Task) Fail(reason error) error {
	if t.status != StatusRunning {
		return fmt.Errorf("%w: %s -> failed", ErrInvalidTransition, t.status)
	}
	t.status = StatusFailed
	t.lastErr = reason
	return nil
}
