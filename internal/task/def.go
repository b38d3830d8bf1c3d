package task

import (
	"errors"
	"fmt"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/v0xg/clickloop/internal/verify"
)

// Def is one task record as written in a task file:
//
//	- name: open-login
//	  action: click
//	  target: "Sign in button"      # or {x: 120, y: 48}
//	  verification:
//	    label: login form
//	    expected: email field is visible
//
// value holds the text for type and the delta for scroll (a number for a
// vertical scroll, [dx, dy] or {dx, dy} otherwise).
type Def struct {
	Name         string            `yaml:"name"`
	Action       string            `yaml:"action"`
	Target       *TargetDef        `yaml:"target,omitempty"`
	Value        yaml.Node         `yaml:"value,omitempty"`
	Verification *verify.Condition `yaml:"verification,omitempty"`
	MaxAttempts  int               `yaml:"max_attempts,omitempty"`
}

// TargetDef accepts either a bare label string or an {x, y} / {label} mapping
type TargetDef struct {
	X     *float64 `yaml:"x,omitempty"`
	Y     *float64 `yaml:"y,omitempty"`
	Label string   `yaml:"label,omitempty"`
}

func (t *TargetDef) UnmarshalYAML(n *yaml.Node) error {
	if n.Kind == yaml.ScalarNode {
		t.Label = n.Value
		return nil
	}
	type plain TargetDef
	return n.Decode((*plain)(t))
}

func (t *TargetDef) target() (Target, error) {
	if t == nil {
		return Target{}, nil
	}
	hasPoint := t.X != nil || t.Y != nil
	switch {
	case hasPoint && t.Label != "":
		return Target{}, errors.New("target must be either a point or a label, not both")
	case hasPoint:
		if t.X == nil || t.Y == nil {
			return Target{}, errors.New("target point needs both x and y")
		}
		return At(*t.X, *t.Y), nil
	default:
		return Labeled(t.Label), nil
	}
}

// Build validates the record and produces a Task
func (d Def) Build() (*Task, error) {
	action, err := ParseAction(d.Action)
	if err != nil {
		return nil, fmt.Errorf("task %q: %w", d.Name, err)
	}
	target, err := d.Target.target()
	if err != nil {
		return nil, fmt.Errorf("task %q: %w", d.Name, err)
	}

	var opts []Option
	if d.Verification != nil {
		opts = append(opts, WithVerification(*d.Verification))
	}
	if d.MaxAttempts != 0 {
		opts = append(opts, WithMaxAttempts(d.MaxAttempts))
	}

	hasValue := d.Value.Kind != 0

	switch action {
	case ActionType:
		if d.Value.Kind != yaml.ScalarNode {
			return nil, fmt.Errorf("task %q: type requires a text value", d.Name)
		}
		return Type(d.Name, target, d.Value.Value, opts...)
	case ActionScroll:
		dx, dy, err := scrollDelta(d.Value)
		if err != nil {
			return nil, fmt.Errorf("task %q: %w", d.Name, err)
		}
		return Scroll(d.Name, target, dx, dy, opts...)
	}

	if hasValue {
		return nil, fmt.Errorf("task %q: %s does not take a value", d.Name, action)
	}
	switch action {
	case ActionMove:
		return Move(d.Name, target, opts...)
	case ActionClick:
		return Click(d.Name, target, opts...)
	default:
		return DoubleClick(d.Name, target, opts...)
	}
}

func scrollDelta(n yaml.Node) (dx, dy float64, err error) {
	switch n.Kind {
	case yaml.ScalarNode:
		dy, err = strconv.ParseFloat(n.Value, 64)
		if err != nil {
			return 0, 0, fmt.Errorf("invalid scroll value %q", n.Value)
		}
		return 0, dy, nil
	case yaml.SequenceNode:
		var pair []float64
		if err := n.Decode(&pair); err != nil || len(pair) != 2 {
			return 0, 0, errors.New("scroll value list must be [dx, dy]")
		}
		return pair[0], pair[1], nil
	case yaml.MappingNode:
		var delta struct {
			DX float64 `yaml:"dx"`
			DY float64 `yaml:"dy"`
		}
		if err := n.Decode(&delta); err != nil {
			return 0, 0, fmt.Errorf("invalid scroll value: %w", err)
		}
		return delta.DX, delta.DY, nil
	default:
		return 0, 0, errors.New("scroll requires a value")
	}
}

// BuildAll builds every record, rejecting duplicate names. All problems are
// reported together.
func BuildAll(defs []Def) ([]*Task, error) {
	tasks := make([]*Task, 0, len(defs))
	seen := make(map[string]bool, len(defs))
	var errs []error

	for i, d := range defs {
		if seen[d.Name] {
			errs = append(errs, fmt.Errorf("task #%d: duplicate name %q", i+1, d.Name))
			continue
		}
		seen[d.Name] = true

		t, err := d.Build()
		if err != nil {
			errs = append(errs, fmt.Errorf("task #%d: %w", i+1, err))
			continue
		}
		tasks = append(tasks, t)
	}

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return tasks, nil
}
