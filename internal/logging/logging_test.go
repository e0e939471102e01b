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

	"github.com/atmx/paper-engine/internal/config"
)

func TestNew_JSONLevelFilter(t *testing.T) {
	var buf bytes.Buffer
	logger, closer := New(config.Logger{Level: "warn", Format: "json"}, &buf)
	defer closer.Close()

	logger.Info("hidden")
	logger.Warn("trade blocked", "narrative", "crypto")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 1, "only the warning should be written: %q", buf.String())

	var rec map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &rec))
	assert.Equal(t, "trade blocked", rec["msg"])
	assert.Equal(t, "crypto", rec["narrative"])
}

func TestNew_TextFormat(t *testing.T) {
	var buf bytes.Buffer
	logger, _ := New(config.Logger{Level: "info", Format: "text"}, &buf)

	logger.Info("started", "port", 8080)
	assert.Contains(t, buf.String(), "msg=started port=8080")
}

func TestNew_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "paper.log")
	var buf bytes.Buffer
	logger, closer := New(config.Logger{Level: "info", Format: "json", File: path, MaxSizeMB: 1}, &buf)

	logger.Info("written twice")
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "written twice")
	assert.Contains(t, buf.String(), "written twice")
}

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug": slog.LevelDebug,
		"INFO":  slog.LevelInfo,
		"warn":  slog.LevelWarn,
		"error": slog.LevelError,
		"loud":  slog.LevelInfo,
	}
	for in, want := range tests {
		assert.Equal(t, want, ParseLevel(in), "ParseLevel(%q)", in)
	}
}
