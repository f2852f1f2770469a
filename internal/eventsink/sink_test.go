package eventsink

import (
	"bufio"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCSVSinkWritesHeaderOnce(t *testing.T) {
	path := filepath.Join(t.TempDir(), "detection.csv")

	sink, err := NewCSVSink(path)
	require.NoError(t, err)
	require.NoError(t, sink.Write(StateEvent{TimestampLocal: time.Now(), Present: true, MeanDistance: 1.2, MeanStrength: 0.4, AgreementPct: 80}))
	require.NoError(t, sink.Close())

	sink2, err := NewCSVSink(path)
	require.NoError(t, err)
	require.NoError(t, sink2.Write(StateEvent{TimestampLocal: time.Now(), Present: false, MeanDistance: math.Inf(1), MeanStrength: 0, AgreementPct: 10}))
	require.NoError(t, sink2.Close())

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	scanner := bufio.NewScanner(f)
	var lines []string
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	require.Len(t, lines, 3)
	assert.Equal(t, "timestamp,present,avg_distance_m,avg_strength,agree_pct", lines[0])
	assert.Contains(t, lines[2], "inf")
}

func TestLoggerFiltersBelowMinLevel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sonar.log")
	logger, err := NewLogger(path, Info)
	require.NoError(t, err)

	logger.Debug("should not appear")
	logger.Info("hello %d", 42)
	require.NoError(t, logger.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	content := string(data)
	assert.NotContains(t, content, "should not appear")
	assert.Contains(t, content, "hello 42")
	assert.Contains(t, content, "[INFO]")
}
