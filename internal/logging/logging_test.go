package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBufferLogger(t *testing.T, format LogFormat, level LogLevel) (*Logger, *bytes.Buffer) {
	t.Helper()
	buf := &bytes.Buffer{}

	var lv slog.Level
	switch level {
	case LevelDebug:
		lv = slog.LevelDebug
	case LevelWarn:
		lv = slog.LevelWarn
	case LevelError:
		lv = slog.LevelError
	default:
		lv = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: lv}
	var handler slog.Handler
	if format == FormatJSON {
		handler = slog.NewJSONHandler(buf, opts)
	} else {
		handler = slog.NewTextHandler(buf, opts)
	}

	return &Logger{Logger: slog.New(handler), config: Config{Level: level, Format: format}}, buf
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, LevelInfo, cfg.Level)
	assert.Equal(t, FormatText, cfg.Format)
	assert.Equal(t, "stdout", cfg.Output)
	assert.False(t, cfg.AddSource)
}

func TestNewLoggerOutputs(t *testing.T) {
	tests := []struct {
		name   string
		cfg    Config
		hasErr bool
	}{
		{"stdout text", Config{Level: LevelInfo, Format: FormatText, Output: "stdout"}, false},
		{"stderr json", Config{Level: LevelDebug, Format: FormatJSON, Output: "stderr"}, false},
		{"file output", Config{Level: LevelInfo, Format: FormatText,
			Output: filepath.Join(t.TempDir(), "logs", "recondor.log")}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, err := New(tt.cfg)
			if tt.hasErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.NotNil(t, logger)
		})
	}
}

func TestFileOutputCreatesDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "dir")
	path := filepath.Join(dir, "out.log")

	logger, err := New(Config{Level: LevelInfo, Format: FormatText, Output: path})
	require.NoError(t, err)

	logger.Info("hello")
	_, err = os.Stat(path)
	assert.NoError(t, err, "log file should exist after logging")
}

func TestLevelFiltering(t *testing.T) {
	logger, buf := newBufferLogger(t, FormatText, LevelWarn)

	logger.Debug("debug message")
	logger.Info("info message")
	logger.Warn("warn message")
	logger.Error("error message")

	out := buf.String()
	assert.NotContains(t, out, "debug message")
	assert.NotContains(t, out, "info message")
	assert.Contains(t, out, "warn message")
	assert.Contains(t, out, "error message")
}

func TestJSONFormat(t *testing.T) {
	logger, buf := newBufferLogger(t, FormatJSON, LevelInfo)
	logger.Info("structured", "scan_id", "scan-42")

	var record map[string]any
	line := strings.TrimSpace(buf.String())
	require.NoError(t, json.Unmarshal([]byte(line), &record))
	assert.Equal(t, "structured", record["msg"])
	assert.Equal(t, "scan-42", record["scan_id"])
}

func TestContextHelpers(t *testing.T) {
	logger, buf := newBufferLogger(t, FormatText, LevelInfo)

	logger.WithComponent("orchestrator").Info("phase advanced")
	assert.Contains(t, buf.String(), "component=orchestrator")
	buf.Reset()

	logger.WithScanID("scan-7").WithTarget("example.com").Info("scan started")
	out := buf.String()
	assert.Contains(t, out, "scan_id=scan-7")
	assert.Contains(t, out, "target=example.com")
	buf.Reset()

	logger.WithModule("dns").Info("module dispatched")
	assert.Contains(t, buf.String(), "module=dns")
}

func TestScanAndModuleHelpers(t *testing.T) {
	logger, buf := newBufferLogger(t, FormatText, LevelInfo)

	logger.InfoScan("scan queued", "scan-9", "target", "example.org")
	out := buf.String()
	assert.Contains(t, out, "scan_id=scan-9")
	assert.Contains(t, out, "target=example.org")
	buf.Reset()

	logger.ErrorModule("module failed", "whois", assert.AnError)
	out = buf.String()
	assert.Contains(t, out, "module=whois")
	assert.Contains(t, out, "error=")
}

func TestDefaultLoggerReplacement(t *testing.T) {
	original := Default()
	defer SetDefault(original)

	replacement, buf := newBufferLogger(t, FormatText, LevelInfo)
	SetDefault(replacement)

	Info("through package function", "key", "value")
	assert.Contains(t, buf.String(), "through package function")
	assert.Same(t, replacement, Default())
}
