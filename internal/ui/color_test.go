package ui

import (
	"bytes"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
)

// captureOutput runs fn with colors off and Output redirected.
func captureOutput(t *testing.T, fn func()) string {
	t.Helper()
	oldNoColor, oldOutput := color.NoColor, Output
	t.Cleanup(func() {
		color.NoColor = oldNoColor
		Output = oldOutput
	})

	var buf bytes.Buffer
	color.NoColor = true
	Output = &buf
	fn()
	return buf.String()
}

func TestMessages(t *testing.T) {
	tests := []struct {
		name string
		fn   func()
		want string
	}{
		{"success", func() { Success("applied %d", 3) }, "✓ applied 3\n"},
		{"error", func() { Error("failed: %s", "boom") }, "✗ failed: boom\n"},
		{"warning", func() { Warning("slow") }, "⚠ slow\n"},
		{"info", func() { Info("path: /home/user/file.txt") }, "path: /home/user/file.txt\n"},
		{"step", func() { Step(2, "push %s", "web") }, "[2] push web\n"},
		{"header", func() { Header("Deploy %s", "prod") }, "Deploy prod\n"},
		{"ship", func() { Ship("done") }, "🚢 done\n"},
		{"mayday", func() { Mayday("failed") }, "🆘 failed\n"},
		{"empty", func() { Info("") }, "\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, captureOutput(t, tt.fn))
		})
	}
}

func TestMultipleMessages(t *testing.T) {
	output := captureOutput(t, func() {
		Info("line 1")
		Warning("line 2")
		Success("line 3")
	})
	assert.Equal(t, "line 1\n⚠ line 2\n✓ line 3\n", output)
}

func TestColorVariables(t *testing.T) {
	assert.NotNil(t, Red)
	assert.NotNil(t, Green)
	assert.NotNil(t, Yellow)
	assert.NotNil(t, Blue)
	assert.NotNil(t, Cyan)
	assert.NotNil(t, Bold)
}
