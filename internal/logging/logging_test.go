package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want zapcore.Level
	}{
		{"", zapcore.InfoLevel},
		{"DEBUG", zapcore.DebugLevel},
		{"warning", zapcore.WarnLevel},
		{" error ", zapcore.ErrorLevel},
	}
	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}

	_, err := ParseLevel("loud")
	assert.Error(t, err)
}

func TestJSONOutput(t *testing.T) {
	var buf bytes.Buffer
	log, err := newWithWriter(Config{Level: "debug", Format: "json"}, &buf)
	require.NoError(t, err)

	log.Named("reader").Debug("dropped frame", zap.Int("bytes", 7))
	require.NoError(t, log.Sync())

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "debug", entry["level"])
	assert.Equal(t, "reader", entry["logger"])
	assert.Equal(t, "dropped frame", entry["msg"])
	assert.EqualValues(t, 7, entry["bytes"])
}

func TestLevelFilters(t *testing.T) {
	var buf bytes.Buffer
	log, err := newWithWriter(Config{Level: "warn"}, &buf)
	require.NoError(t, err)

	log.Info("quiet")
	log.Warn("loud")
	assert.NotContains(t, buf.String(), "quiet")
	assert.Contains(t, buf.String(), "loud")
}

func TestFileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "createlink.log")
	var buf bytes.Buffer
	log, err := newWithWriter(Config{Format: "json", File: FileConfig{Filename: path, MaxSizeMB: 1}}, &buf)
	require.NoError(t, err)

	log.Info("to both")
	require.NoError(t, log.Sync())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "to both")
	assert.Contains(t, buf.String(), "to both")
}

func TestUnknownFormat(t *testing.T) {
	_, err := New(Config{Format: "xml"})
	assert.Error(t, err)
}
