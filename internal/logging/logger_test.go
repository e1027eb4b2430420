package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLevels(t *testing.T) {
	tests := []struct {
		level string
		want  logrus.Level
	}{
		{"debug", logrus.DebugLevel},
		{"WARN", logrus.WarnLevel},
		{"error", logrus.ErrorLevel},
		{"nonsense", logrus.InfoLevel},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			l, err := New(Config{Level: tt.level, Format: FormatText})
			require.NoError(t, err)
			assert.Equal(t, tt.want, l.GetLevel())
		})
	}
}

func TestNewWritesJSONToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "ckg.log")

	l, err := New(Config{Level: "info", Format: FormatJSON, OutputFile: path})
	require.NoError(t, err)
	l.WithField("project", "demo").Info("graph committed")
	require.NoError(t, l.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(data), `"project":"demo"`))
}

func TestRotateIfNeeded(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ckg.log")
	require.NoError(t, os.WriteFile(path, []byte("0123456789"), 0644))

	err := rotateIfNeeded(Config{OutputFile: path, MaxSize: 5, MaxBackups: 3})
	require.NoError(t, err)

	_, err = os.Stat(path + ".1")
	assert.NoError(t, err)
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}
