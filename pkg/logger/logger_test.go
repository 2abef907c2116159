package logger

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLogger_InvalidLevel(t *testing.T) {
	_, err := NewLogger(Config{Level: "loud"})
	require.Error(t, err)
}

func TestNewLogger_WritesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reelpost.log")

	log, err := NewLogger(Config{Level: "debug", Format: "json", Timezone: "UTC", File: path})
	require.NoError(t, err)

	log.Info("post scheduled")
	_ = log.Sync()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"message":"post scheduled"`)
}
