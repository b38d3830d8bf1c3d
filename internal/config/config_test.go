package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/v0xg/clickloop/internal/coords"
	"github.com/v0xg/clickloop/internal/task"
)

const loginFile = `
url: https://example.com/login
settings:
  width: 1008
  height: 1008
  capture: {width: 952, height: 596}
  max_attempts: 5
  retry_delay: 250ms
  clamp: true
  provider: openai
tasks:
  - name: open-login
    action: click
    target: Sign in button
    verification:
      label: login form
      expected: email field is visible
  - name: email
    action: type
    value: user@example.com
`

func TestParse_OverlaysDefaults(t *testing.T) {
	f, tasks, err := Parse([]byte(loginFile))
	require.NoError(t, err)

	assert.Equal(t, "https://example.com/login", f.URL)
	s := f.Settings
	assert.Equal(t, coords.Size{Width: 1008, Height: 1008}, s.SurfaceSize())
	assert.Equal(t, coords.Size{Width: 952, Height: 596}, s.CaptureSize())
	assert.Equal(t, 5, s.MaxAttempts)
	assert.Equal(t, 250*time.Millisecond, s.RetryDelay)
	assert.True(t, s.Clamp)
	assert.Equal(t, "openai", s.Provider)

	d := Defaults()
	assert.Equal(t, d.SettleDelay, s.SettleDelay)
	assert.Equal(t, d.MinConfidence, s.MinConfidence)
	assert.True(t, s.Headless)
	require.NoError(t, s.Validate())

	require.Len(t, tasks, 2)
	assert.Equal(t, task.ActionClick, tasks[0].Action())
	assert.Equal(t, "user@example.com", tasks[1].Text())
}

func TestParse_JSONIsAccepted(t *testing.T) {
	_, tasks, err := Parse([]byte(`{"url": "about:blank", "tasks": [{"name": "a", "action": "move", "target": {"x": 1, "y": 2}}]}`))
	require.NoError(t, err)
	require.Len(t, tasks, 1)
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want string
	}{
		{"no tasks", "url: about:blank\n", "no tasks"},
		{"unknown setting", "settings: {retries: 3}\ntasks: [{name: a, action: click, target: x}]", "retries"},
		{"bad task", "tasks: [{name: a, action: fly, target: x}]", "unknown action"},
		{"not yaml", "tasks: [", "parse task file"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := Parse([]byte(tt.src))
			assert.ErrorContains(t, err, tt.want)
		})
	}
}

func TestLoad_ReadsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tasks.yaml")
	require.NoError(t, os.WriteFile(path, []byte(loginFile), 0o644))

	f, tasks, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/login", f.URL)
	assert.Len(t, tasks, 2)

	_, _, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "read task file")
}

func TestApplyEnv(t *testing.T) {
	t.Setenv("CLICKLOOP_DEFAULT_PROVIDER", "openai")
	t.Setenv("CLICKLOOP_MODEL", "gpt-4o-mini")
	t.Setenv("CLICKLOOP_PROFILE", "")

	s := Defaults()
	s.Profile = "/tmp/profile"
	s.ApplyEnv()

	assert.Equal(t, "openai", s.Provider)
	assert.Equal(t, "gpt-4o-mini", s.Model)
	assert.Equal(t, "/tmp/profile", s.Profile)
}

func TestValidate(t *testing.T) {
	require.NoError(t, Defaults().Validate())

	s := Defaults()
	s.Width = 0
	s.MaxAttempts = 0
	s.MinConfidence = 75
	s.Capture = coords.Size{Width: 100}
	s.Provider = "gemini"

	err := s.Validate()
	require.Error(t, err)
	for _, want := range []string{"viewport", "capture size", "max_attempts", "min_confidence", "unknown provider"} {
		assert.ErrorContains(t, err, want)
	}
}

func TestConversions(t *testing.T) {
	s := Defaults()
	s.Clamp = true
	s.MaxAttempts = 4
	s.VerifyTimeout = 12 * time.Second

	assert.True(t, s.CursorOptions().Clamp)
	assert.Equal(t, 4, s.OrchestratorOptions().MaxAttempts)
	assert.Zero(t, s.OrchestratorOptions().VerifyTimeout)
	assert.Equal(t, 12*time.Second, s.VerifyOptions().Timeout)
	assert.Equal(t, coords.Size{Width: 1280, Height: 720}, s.BrowserOptions().Capture)
}
