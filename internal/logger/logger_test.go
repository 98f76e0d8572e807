package logger

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLevels(t *testing.T) {
	tests := []struct {
		level string
		want  zerolog.Level
	}{
		{"debug", zerolog.DebugLevel},
		{"INFO", zerolog.InfoLevel},
		{"warn", zerolog.WarnLevel},
		{"error", zerolog.ErrorLevel},
		{"", zerolog.InfoLevel},
		{"bogus", zerolog.InfoLevel},
	}

	for _, tt := range tests {
		log, err := New(Config{Level: tt.level})
		require.NoError(t, err)
		assert.Equal(t, tt.want, log.GetLevel(), "level %q", tt.level)
	}
}

func TestNewConsoleFormat(t *testing.T) {
	_, err := New(Config{Level: "info", Format: "console"})
	require.NoError(t, err)
}

func TestNewFileOutput(t *testing.T) {
	path := t.TempDir() + "/app.log"
	log, err := New(Config{Level: "info", Output: path})
	require.NoError(t, err)
	log.Info().Msg("hello")

	assert.FileExists(t, path)
}
