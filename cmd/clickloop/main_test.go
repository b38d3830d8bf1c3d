package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/v0xg/clickloop/internal/config"
)

const tasksYAML = `
url: https://example.com
tasks:
  - name: open-login
    action: click
    target: css:#login
    verification: {label: login form}
  - name: email
    action: type
    value: user@example.com
  - name: down
    action: scroll
    value: 300
`

func writeTasks(t *testing.T, src string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tasks.yaml")
	require.NoError(t, os.WriteFile(path, []byte(src), 0o644))
	return path
}

func TestCheckCommand(t *testing.T) {
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"check", writeTasks(t, tasksYAML)})

	require.NoError(t, root.Execute())
	assert.Contains(t, out.String(), "3 tasks for https://example.com")
	assert.Contains(t, out.String(), `[1] click → "css:#login" [verify: login form]  open-login`)
	assert.Contains(t, out.String(), `[2] type → current position (text: "user@example.com")  email`)
	assert.Contains(t, out.String(), "[3] scroll → current position (by (0.0, 300.0))  down")
}

func TestCheckCommand_InvalidFile(t *testing.T) {
	root := newRootCmd()
	root.SetOut(&bytes.Buffer{})
	root.SetArgs([]string{"check", writeTasks(t, "tasks: [{name: a, action: click}]")})

	err := root.Execute()
	assert.ErrorContains(t, err, "requires a target")
}

func TestApplyFlags_OverrideFileSettings(t *testing.T) {
	root := newRootCmd()
	require.NoError(t, root.ParseFlags([]string{
		"--url", "https://override.example",
		"--max-attempts", "7",
		"--retry-delay", "250ms",
		"--clamp",
		"--headful",
		"--no-cursor",
		"--capture-width", "952",
		"--capture-height", "596",
	}))

	file, _, err := config.Parse([]byte(tasksYAML))
	require.NoError(t, err)
	require.NoError(t, applyFlags(root, file))

	s := file.Settings
	assert.Equal(t, "https://override.example", file.URL)
	assert.Equal(t, 7, s.MaxAttempts)
	assert.Equal(t, 250*time.Millisecond, s.RetryDelay)
	assert.True(t, s.Clamp)
	assert.False(t, s.Headless)
	assert.False(t, s.MarkCursor)
	assert.Equal(t, 952, s.CaptureSize().Width)

	d := config.Defaults()
	assert.Equal(t, d.SettleDelay, s.SettleDelay, "unset flags keep file/default values")
	assert.Equal(t, d.Width, s.Width)
}

func TestApplyFlags_Errors(t *testing.T) {
	root := newRootCmd()
	require.NoError(t, root.ParseFlags([]string{"--verify-timeout", "soon"}))
	file, _, err := config.Parse([]byte(tasksYAML))
	require.NoError(t, err)
	assert.ErrorContains(t, applyFlags(root, file), "invalid --verify-timeout")

	root = newRootCmd()
	file, _, err = config.Parse([]byte("tasks: [{name: a, action: move, target: x}]"))
	require.NoError(t, err)
	assert.ErrorContains(t, applyFlags(root, file), "no URL")
}
