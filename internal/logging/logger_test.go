package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestParseLevel(t *testing.T) {
	cases := []struct {
		in   string
		want zapcore.Level
	}{
		{"debug", zapcore.DebugLevel},
		{"INFO", zapcore.InfoLevel},
		{" warn ", zapcore.WarnLevel},
		{"warning", zapcore.WarnLevel},
		{"error", zapcore.ErrorLevel},
		{"", zapcore.InfoLevel},
		{"verbose", zapcore.InfoLevel},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, parseLevel(c.in), "parseLevel(%q)", c.in)
	}
}

func TestNopLoggerDoesNotPanic(t *testing.T) {
	l := Nop().With("job", "abc")
	assert.NotPanics(t, func() {
		l.Debug("debug", "k", 1)
		l.Info("info")
		l.Warn("warn", "odd")
		l.Error("error", "err", "boom")
	})
}

func TestNewWritesToCore(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	l := New("ocr", core).With("job", "j1")

	l.Debug("hidden")
	l.Warn("lock release failed", "user", "42")

	entries := logs.All()
	require.Len(t, entries, 1)
	assert.Equal(t, "ocr", entries[0].LoggerName)
	assert.Equal(t, map[string]interface{}{"job": "j1", "user": "42"}, entries[0].ContextMap())
}
