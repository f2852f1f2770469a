// Package config parses and validates sonar's command-line configuration.
package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
)

// ErrConfig wraps every configuration validation failure so callers can
// errors.Is against a single sentinel regardless of which flag failed.
var ErrConfig = errors.New("invalid configuration")

// Mode selects which driver main() dispatches to.
type Mode string

const (
	ModePresence Mode = "presence"
	ModeGated    Mode = "gated"
	ModeScan     Mode = "scan"
	ModeOffline  Mode = "offline"
)

func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModePresence, ModeGated, ModeScan, ModeOffline:
		return Mode(s), nil
	default:
		return "", fmt.Errorf("%w: unknown mode %q", ErrConfig, s)
	}
}

// Config holds every tunable the drivers accept, plus derived file
// locations.
type Config struct {
	Mode Mode

	// Tick scheduler / aggregator.
	TickMs    int
	WindowSec int
	AggFrac   float64

	// Hysteresis state machine.
	EnterFrac  float64
	ExitFrac   float64
	MinDwellMs int

	// Presence estimator.
	FrontMinM   float64
	FrontMaxM   float64
	StrengthThr float64
	DistMaxM    float64
	MinRMS      float64
	MinRefRMS   float64

	// Gated controller.
	FpWinS    float64
	FpThr     float64
	FpMargin  float64
	GuardS    float64
	FpArmDBFS float64

	// Spectral feature extractor / fingerprinter (scan, offline).
	FrameMs             float64
	ScanWindowS         float64
	StrideMs            float64
	HfSplitHz           float64
	TopN                int
	MinPercentile       float64
	NmsRadiusS          float64
	MergeGapS           float64
	ClampMinS           float64
	ClampMaxS           float64
	ScanSampleRateHz    int
	OfflineSampleRateHz int

	// File locations.
	LogPath       string
	ScansongPath  string
	EventsinkPath string // presence/gated: CSV path for state-flip events
	TrackPath     string // offline/scan: path to the input audio file
	RefTrackPath  string // offline: second path, used as the mic-side file

	Verbose bool
}

// DefaultConfig returns a Config populated with the stock defaults.
func DefaultConfig() *Config {
	return &Config{
		Mode: ModePresence,

		TickMs:    250,
		WindowSec: 5,
		AggFrac:   0.5,

		EnterFrac:  0.6,
		ExitFrac:   0.3,
		MinDwellMs: 5000,

		FrontMinM:   0.3,
		FrontMaxM:   1.5,
		StrengthThr: 0.2,
		DistMaxM:    1.5,
		MinRMS:      0.0002,
		MinRefRMS:   0.0001,

		FpWinS:    5.0,
		FpThr:     0.6,
		FpMargin:  0.07,
		GuardS:    0.5,
		FpArmDBFS: -40.0,

		FrameMs:             23.0,
		ScanWindowS:         3.0,
		StrideMs:            200.0,
		HfSplitHz:           2500.0,
		TopN:                20,
		MinPercentile:       85.0,
		NmsRadiusS:          1.0,
		MergeGapS:           3.0,
		ClampMinS:           3.0,
		ClampMaxS:           60.0,
		ScanSampleRateHz:    48000,
		OfflineSampleRateHz: 0,
	}
}

// Parse parses args against the defaults and validates the result.
func Parse(args []string) (*Config, error) {
	cfg := DefaultConfig()
	fs := flag.NewFlagSet("sonar", flag.ContinueOnError)

	mode := fs.String("mode", string(cfg.Mode), "driver mode: presence, gated, scan, offline")
	fs.IntVar(&cfg.TickMs, "tick-ms", cfg.TickMs, "aggregator tick period in milliseconds")
	fs.IntVar(&cfg.WindowSec, "window-sec", cfg.WindowSec, "aggregator window length in seconds")
	fs.Float64Var(&cfg.AggFrac, "agg-frac", cfg.AggFrac, "legacy baseline agreement threshold")
	fs.Float64Var(&cfg.EnterFrac, "enter-frac", cfg.EnterFrac, "hysteresis enter threshold")
	fs.Float64Var(&cfg.ExitFrac, "exit-frac", cfg.ExitFrac, "hysteresis exit threshold")
	fs.IntVar(&cfg.MinDwellMs, "min-dwell-ms", cfg.MinDwellMs, "minimum time between state flips")
	fs.Float64Var(&cfg.FrontMinM, "front-min-m", cfg.FrontMinM, "near edge of echo distance band")
	fs.Float64Var(&cfg.FrontMaxM, "front-max-m", cfg.FrontMaxM, "far edge of echo distance band")
	fs.Float64Var(&cfg.StrengthThr, "strength-thr", cfg.StrengthThr, "per-vote minimum prominence")
	fs.Float64Var(&cfg.DistMaxM, "dist-max-m", cfg.DistMaxM, "distance cap on reported votes")
	fs.Float64Var(&cfg.MinRMS, "min-rms", cfg.MinRMS, "microphone energy gate")
	fs.Float64Var(&cfg.MinRefRMS, "min-ref-rms", cfg.MinRefRMS, "loopback energy gate")
	fs.Float64Var(&cfg.FpWinS, "fp-win-s", cfg.FpWinS, "fingerprint window length in seconds")
	fs.Float64Var(&cfg.FpThr, "fp-thr", cfg.FpThr, "minimum fingerprint similarity to accept alignment")
	fs.Float64Var(&cfg.FpMargin, "fp-margin", cfg.FpMargin, "minimum margin over runner-up similarity")
	fs.Float64Var(&cfg.GuardS, "guard-s", cfg.GuardS, "symmetric widening applied to stored segments")
	fs.Float64Var(&cfg.FpArmDBFS, "fp-arm-dbfs", cfg.FpArmDBFS, "loopback RMS threshold to attempt arming")
	fs.Float64Var(&cfg.FrameMs, "frame-ms", cfg.FrameMs, "STFT frame length in milliseconds")
	fs.Float64Var(&cfg.ScanWindowS, "scan-window-s", cfg.ScanWindowS, "analysis window length in seconds")
	fs.Float64Var(&cfg.StrideMs, "stride-ms", cfg.StrideMs, "analysis window stride in milliseconds")
	fs.Float64Var(&cfg.HfSplitHz, "hf-split-hz", cfg.HfSplitHz, "high-frequency ratio split point")
	fs.IntVar(&cfg.TopN, "top-n", cfg.TopN, "maximum segments kept after non-max suppression")
	fs.Float64Var(&cfg.MinPercentile, "min-percentile", cfg.MinPercentile, "score percentile threshold, 0-100")
	fs.Float64Var(&cfg.NmsRadiusS, "nms-radius-s", cfg.NmsRadiusS, "non-max suppression radius in seconds")
	fs.Float64Var(&cfg.MergeGapS, "merge-gap-s", cfg.MergeGapS, "maximum gap to merge adjacent segments")
	fs.Float64Var(&cfg.ClampMinS, "clamp-min-s", cfg.ClampMinS, "minimum segment duration")
	fs.Float64Var(&cfg.ClampMaxS, "clamp-max-s", cfg.ClampMaxS, "maximum segment duration")
	fs.IntVar(&cfg.ScanSampleRateHz, "scan-sample-rate-hz", cfg.ScanSampleRateHz, "sample rate scan decodes tracks to")
	fs.IntVar(&cfg.OfflineSampleRateHz, "offline-sample-rate-hz", cfg.OfflineSampleRateHz, "sample rate offline decodes files to, 0 = native")
	fs.StringVar(&cfg.LogPath, "log-path", "", "log file path, default under the user config dir")
	fs.StringVar(&cfg.ScansongPath, "scansong-path", "", "persisted segment/fingerprint store path")
	fs.StringVar(&cfg.EventsinkPath, "eventsink-path", "", "state-flip event CSV path, default under the user config dir")
	fs.StringVar(&cfg.TrackPath, "track", "", "scan/offline: path to the input audio file")
	fs.StringVar(&cfg.RefTrackPath, "ref-track", "", "offline: path to the microphone-side audio file")
	fs.BoolVar(&cfg.Verbose, "verbose", false, "raise minimum logged level to Debug")

	if err := fs.Parse(args); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfig, err)
	}

	parsedMode, err := ParseMode(*mode)
	if err != nil {
		return nil, err
	}
	cfg.Mode = parsedMode

	if err := cfg.deriveDefaultPaths(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfig, err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) deriveDefaultPaths() error {
	if c.LogPath != "" && c.ScansongPath != "" && c.EventsinkPath != "" {
		return nil
	}
	dir, err := os.UserConfigDir()
	if err != nil {
		dir = "."
	}
	dir = filepath.Join(dir, "sonar-presence")
	if c.LogPath == "" {
		c.LogPath = filepath.Join(dir, "sonar.log")
	}
	if c.ScansongPath == "" {
		c.ScansongPath = filepath.Join(dir, "scansong.csv")
	}
	if c.EventsinkPath == "" {
		c.EventsinkPath = filepath.Join(dir, "presence.csv")
	}
	return nil
}

func (c *Config) validate() error {
	switch {
	case c.TickMs < 1:
		return fmt.Errorf("%w: tick-ms must be >= 1", ErrConfig)
	case c.WindowSec < 1:
		return fmt.Errorf("%w: window-sec must be >= 1", ErrConfig)
	case c.AggFrac < 0 || c.AggFrac > 1:
		return fmt.Errorf("%w: agg-frac must be in [0,1]", ErrConfig)
	case c.EnterFrac < 0 || c.EnterFrac > 1:
		return fmt.Errorf("%w: enter-frac must be in [0,1]", ErrConfig)
	case c.ExitFrac < 0 || c.ExitFrac > 1:
		return fmt.Errorf("%w: exit-frac must be in [0,1]", ErrConfig)
	case c.ExitFrac >= c.EnterFrac:
		return fmt.Errorf("%w: exit-frac must be < enter-frac", ErrConfig)
	case c.MinDwellMs < 0:
		return fmt.Errorf("%w: min-dwell-ms must be >= 0", ErrConfig)
	case c.FrontMinM < 0 || c.FrontMaxM <= c.FrontMinM:
		return fmt.Errorf("%w: front-max-m must be > front-min-m >= 0", ErrConfig)
	case c.StrengthThr < 0 || c.StrengthThr > 1:
		return fmt.Errorf("%w: strength-thr must be in [0,1]", ErrConfig)
	case c.DistMaxM <= 0:
		return fmt.Errorf("%w: dist-max-m must be > 0", ErrConfig)
	case c.MinRMS < 0 || c.MinRefRMS < 0:
		return fmt.Errorf("%w: min-rms and min-ref-rms must be >= 0", ErrConfig)
	case c.FpWinS <= 0:
		return fmt.Errorf("%w: fp-win-s must be > 0", ErrConfig)
	case c.FpThr < 0 || c.FpThr > 1:
		return fmt.Errorf("%w: fp-thr must be in [0,1]", ErrConfig)
	case c.FpMargin < 0:
		return fmt.Errorf("%w: fp-margin must be >= 0", ErrConfig)
	case c.GuardS < 0:
		return fmt.Errorf("%w: guard-s must be >= 0", ErrConfig)
	case c.TopN < 1:
		return fmt.Errorf("%w: top-n must be >= 1", ErrConfig)
	case c.MinPercentile < 0 || c.MinPercentile > 100:
		return fmt.Errorf("%w: min-percentile must be in [0,100]", ErrConfig)
	case c.ClampMaxS < c.ClampMinS:
		return fmt.Errorf("%w: clamp-max-s must be >= clamp-min-s", ErrConfig)
	case c.ScanSampleRateHz < 1:
		return fmt.Errorf("%w: scan-sample-rate-hz must be >= 1", ErrConfig)
	}

	if c.Mode == ModeScan || c.Mode == ModeOffline {
		if c.TrackPath == "" {
			return fmt.Errorf("%w: -track is required in %s mode", ErrConfig, c.Mode)
		}
		if _, err := os.Stat(c.TrackPath); err != nil {
			return fmt.Errorf("%w: track file: %v", ErrConfig, err)
		}
	}
	if c.Mode == ModeOffline {
		if c.RefTrackPath == "" {
			return fmt.Errorf("%w: -ref-track is required in %s mode", ErrConfig, c.Mode)
		}
		if _, err := os.Stat(c.RefTrackPath); err != nil {
			return fmt.Errorf("%w: ref-track file: %v", ErrConfig, err)
		}
	}

	return nil
}
