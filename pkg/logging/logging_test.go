package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    LogLevel
		wantErr bool
	}{
		{"debug", LevelDebug, false},
		{"INFO", LevelInfo, false},
		{"", LevelInfo, false},
		{"warning", LevelWarn, false},
		{"error", LevelError, false},
		{"loud", LevelInfo, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLevel(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestJSONOutputCarriesSubsystemAndError(t *testing.T) {
	var buf bytes.Buffer
	Init(FormatJSON, LevelDebug, &buf)
	With(slog.String("project", "abc123"))

	Error("State", errors.New("disk full"), "save failed for %s", "postgres")

	var line map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "save failed for postgres", line["msg"])
	assert.Equal(t, "State", line["subsystem"])
	assert.Equal(t, "disk full", line["error"])
	assert.Equal(t, "abc123", line["project"])
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	InitForCLI(LevelWarn, &buf)

	Debug("Test", "hidden")
	Info("Test", "hidden too")
	assert.Empty(t, buf.String())

	Warn("Test", "shown")
	assert.Contains(t, buf.String(), "shown")
	assert.Contains(t, buf.String(), "subsystem=Test")
}

func TestLoggingBeforeInit(t *testing.T) {
	var buf bytes.Buffer
	mu.Lock()
	prevLogger, prevOutput, prevAttrs := defaultLogger, fallbackOutput, baseAttrs
	defaultLogger, fallbackOutput, baseAttrs = nil, &buf, nil
	mu.Unlock()
	t.Cleanup(func() {
		mu.Lock()
		defaultLogger, fallbackOutput, baseAttrs = prevLogger, prevOutput, prevAttrs
		mu.Unlock()
	})

	Debug("State", "Loaded %d record(s)", 2)
	Info("State", "Saved")
	assert.Empty(t, buf.String())

	Warn("State", "Dropping record for %s", "kafka")
	out := buf.String()
	assert.Contains(t, out, "Dropping record for kafka")
	assert.Contains(t, out, "subsystem=State")
	assert.NotContains(t, out, "LOGGING_ERROR")
}
