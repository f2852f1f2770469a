package config

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDefaultsAreValid(t *testing.T) {
	cfg, err := Parse([]string{"-log-path", "/tmp/sonar.log", "-scansong-path", "/tmp/scansong.csv"})
	require.NoError(t, err)
	assert.Equal(t, ModePresence, cfg.Mode)
	assert.Equal(t, 250, cfg.TickMs)
}

func TestParseRejectsBadExitEnterOrdering(t *testing.T) {
	_, err := Parse([]string{"-enter-frac", "0.2", "-exit-frac", "0.5",
		"-log-path", "/tmp/sonar.log", "-scansong-path", "/tmp/scansong.csv"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrConfig))
}

func TestParseRejectsUnknownMode(t *testing.T) {
	_, err := Parse([]string{"-mode", "nonsense"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrConfig))
}

func TestParseScanRequiresTrackPath(t *testing.T) {
	_, err := Parse([]string{"-mode", "scan", "-log-path", "/tmp/sonar.log", "-scansong-path", "/tmp/scansong.csv"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrConfig))
}

func TestParseRejectsTickMsBelowOne(t *testing.T) {
	_, err := Parse([]string{"-tick-ms", "0", "-log-path", "/tmp/sonar.log", "-scansong-path", "/tmp/scansong.csv"})
	require.Error(t, err)
}
