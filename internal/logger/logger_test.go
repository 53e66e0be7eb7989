package logger

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_FormatFromEnvironment(t *testing.T) {
	tests := []struct {
		environment string
		wantJSON    bool
	}{
		{"production", true},
		{"development", false},
		{"staging", false},
	}

	for _, tt := range tests {
		t.Run(tt.environment, func(t *testing.T) {
			var buf bytes.Buffer
			log := New(Config{Writer: &buf, Environment: tt.environment, NoColor: true})
			log.Info("hello", "request_id", "req-1")

			out := buf.String()
			if tt.wantJSON {
				assert.Contains(t, out, `"msg":"hello"`)
				assert.Contains(t, out, `"request_id":"req-1"`)
			} else {
				assert.Contains(t, out, "INF hello request_id=req-1")
			}
		})
	}
}

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"INFO":    slog.LevelInfo,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"bogus":   slog.LevelInfo,
		" warn ":  slog.LevelWarn,
	}
	for in, want := range tests {
		assert.Equal(t, want, ParseLevel(in), in)
	}
}

func TestConsoleHandler_LevelFilter(t *testing.T) {
	var buf bytes.Buffer
	h := NewConsoleHandler(&buf, &slog.HandlerOptions{Level: slog.LevelWarn}, false)

	assert.False(t, h.Enabled(context.Background(), slog.LevelInfo))
	assert.True(t, h.Enabled(context.Background(), slog.LevelError))
}

func TestConsoleHandler_AttrsAndGroups(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(NewConsoleHandler(&buf, nil, false)).
		With("component", "importer").
		WithGroup("batch")

	log.Info("batch finished", "total", 3, slog.Group("failed", "no_match", 1))

	out := buf.String()
	assert.Contains(t, out, "component=importer")
	assert.Contains(t, out, "batch.total=3")
	assert.Contains(t, out, "batch.failed.no_match=1")
	assert.True(t, strings.HasSuffix(out, "\n"))
}

func TestConsoleHandler_QuotesStringsWithSpaces(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(NewConsoleHandler(&buf, nil, false))
	log.Warn("no match", "name", "Half-Life 2")

	assert.Contains(t, buf.String(), `name="Half-Life 2"`)
	assert.Contains(t, buf.String(), "WRN")
}

func TestConsoleHandler_ColorToggle(t *testing.T) {
	var plain, colored bytes.Buffer
	slog.New(NewConsoleHandler(&plain, nil, false)).Info("x")
	slog.New(NewConsoleHandler(&colored, nil, true)).Info("x")

	assert.NotContains(t, plain.String(), "\033[")
	assert.Contains(t, colored.String(), "\033[")
}

func TestFormatValue(t *testing.T) {
	ts := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	assert.Equal(t, "2024-03-01T12:00:00Z", formatValue(slog.TimeValue(ts)))
	assert.Equal(t, "42", formatValue(slog.IntValue(42)))
	assert.Equal(t, "true", formatValue(slog.BoolValue(true)))
}

func TestLogger_WithError(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Writer: &buf, Format: FormatJSON})
	log.WithError(errors.New("boom")).Error("failed")

	require.Contains(t, buf.String(), `"error":"boom"`)
}

func TestLogger_WithComponent(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Writer: &buf, Format: FormatJSON})
	log.WithComponent("notify").Info("sent")

	assert.Contains(t, buf.String(), `"component":"notify"`)
}

func TestItoa(t *testing.T) {
	for _, n := range []int{0, 7, 42, 1234, -15} {
		assert.Equal(t, slog.IntValue(int64(n)).String(), itoa(n))
	}
}
