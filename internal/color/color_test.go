package color

import (
	"testing"

	"github.com/charmbracelet/lipgloss"
	"github.com/stretchr/testify/assert"
)

func TestInitialize(t *testing.T) {
	tests := []struct {
		name       string
		isDarkMode bool
		expected   bool
	}{
		{"set dark mode", true, true},
		{"set light mode", false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			Initialize(tt.isDarkMode)
			assert.Equal(t, tt.expected, lipgloss.HasDarkBackground())
		})
	}
}

func TestForState(t *testing.T) {
	assert.Equal(t, SuccessStyle.GetForeground(), ForState("running").GetForeground())
	assert.Equal(t, ErrorStyle.GetForeground(), ForState("stale").GetForeground())
	assert.Equal(t, WarningStyle.GetForeground(), ForState("pending").GetForeground())
	assert.Equal(t, MutedStyle.GetForeground(), ForState("stopped").GetForeground())
}
