package logging

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joeblew999/geocluster/internal/cluster"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"", slog.LevelInfo},
		{"debug", slog.LevelDebug},
		{"INFO", slog.LevelInfo},
		{"Warn", slog.LevelWarn},
		{"error", slog.LevelError},
	}
	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}

	_, err := ParseLevel("loud")
	assert.Error(t, err)
}

func TestSetupWritesFile(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	path := filepath.Join(t.TempDir(), "geocluster.log")
	logger, closer, err := Setup(Config{Level: "info", Filename: path, MaxSize: 1})
	require.NoError(t, err)

	logger.Info("hello", "dataset", "cafes")
	logger.Debug("hidden")
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "msg=hello")
	assert.Contains(t, string(data), "dataset=cafes")
	assert.NotContains(t, string(data), "hidden")
}

func TestObserverLevels(t *testing.T) {
	var buf bytes.Buffer
	o := Observer{Logger: New(&buf, slog.LevelInfo)}

	o.Start(cluster.PhasePrepare)
	o.Stop(cluster.PhasePrepare, time.Millisecond, "10 points")
	assert.Empty(t, buf.String())

	o.Start(cluster.PhaseTotal)
	o.Stop(cluster.PhaseTotal, 2*time.Millisecond, "10 points, 19 nodes")
	assert.Contains(t, buf.String(), "phase=total")
	assert.Contains(t, buf.String(), `detail="10 points, 19 nodes"`)
}
