package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"debug", "DEBUG"},
		{"info", "INFO"},
		{"warn", "WARN"},
		{"warning", "WARN"},
		{"ERROR", "ERROR"},
		{"unknown", "INFO"},
		{"", "INFO"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseLevel(tt.input).String())
		})
	}
}

func TestNewWithWriter(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(&buf, "warn")

	logger.Info("dropped")
	logger.Warn("kept", "run_id", "r1")

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	require.Len(t, lines, 1)

	var record map[string]any
	require.NoError(t, json.Unmarshal(lines[0], &record))
	assert.Equal(t, "kept", record["msg"])
	assert.Equal(t, Service, record["service"])
	assert.Equal(t, "r1", record["run_id"])
}

func TestTee(t *testing.T) {
	var stdout bytes.Buffer
	w, closer := Tee(&stdout, FileOptions{})
	assert.Same(t, &stdout, w)
	assert.NoError(t, closer.Close())

	path := filepath.Join(t.TempDir(), "logs", "agent.log")
	w, closer = Tee(&stdout, FileOptions{Path: path, MaxSizeMB: 1})
	NewWithWriter(w, "info").Info("run started", "run_id", "r2")
	require.NoError(t, closer.Close())

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(content), `"run_id":"r2"`)
	assert.Contains(t, stdout.String(), `"run_id":"r2"`)
}
