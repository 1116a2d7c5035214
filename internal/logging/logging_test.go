package logging

import (
	"testing"

	"go.uber.org/zap/zapcore"
)

func TestNewLevels(t *testing.T) {
	tests := []struct {
		level  string
		format string
		want   zapcore.Level
	}{
		{"debug", "console", zapcore.DebugLevel},
		{"info", "", zapcore.InfoLevel},
		{"WARN", "json", zapcore.WarnLevel},
		{" error ", "json", zapcore.ErrorLevel},
	}
	for _, tt := range tests {
		l, err := New(tt.level, tt.format)
		if err != nil {
			t.Errorf("New(%q, %q): %v", tt.level, tt.format, err)
			continue
		}
		if !l.Core().Enabled(tt.want) {
			t.Errorf("New(%q): level %v not enabled", tt.level, tt.want)
		}
		if tt.want > zapcore.DebugLevel && l.Core().Enabled(tt.want-1) {
			t.Errorf("New(%q): level %v should be disabled", tt.level, tt.want-1)
		}
	}
}

func TestNewRejectsBadInput(t *testing.T) {
	if _, err := New("loud", "console"); err == nil {
		t.Error("expected error for unknown level")
	}
	if _, err := New("info", "xml"); err == nil {
		t.Error("expected error for unknown format")
	}
}
