// Sonar presence detects, from cross-correlation between the host's
// render (loopback) output and a microphone, whether a body is
// physically present in front of the speakers.
package main

import (
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/agalue/sonar-presence/internal/capture"
	"github.com/agalue/sonar-presence/internal/config"
	"github.com/agalue/sonar-presence/internal/decode"
	"github.com/agalue/sonar-presence/internal/eventsink"
	"github.com/agalue/sonar-presence/internal/fingerprint"
	"github.com/agalue/sonar-presence/internal/gated"
	"github.com/agalue/sonar-presence/internal/presence"
	"github.com/agalue/sonar-presence/internal/ringbuffer"
	"github.com/agalue/sonar-presence/internal/scheduler"
	"github.com/agalue/sonar-presence/internal/sink"
	"github.com/agalue/sonar-presence/internal/spectral"
	"github.com/agalue/sonar-presence/internal/store"
)

func main() {
	cfg, err := config.Parse(os.Args[1:])
	if err != nil {
		log.Fatalf("Configuration error: %v", err)
	}

	logger, err := eventsink.NewLogger(cfg.LogPath, levelFor(cfg.Verbose))
	if err != nil {
		log.Fatalf("Failed to open log file: %v", err)
	}
	defer logger.Close()

	logger.Info("sonar-presence starting in %s mode", cfg.Mode)

	var runErr error
	switch cfg.Mode {
	case config.ModePresence:
		runErr = runLive(cfg, logger, nil)
	case config.ModeGated:
		runErr = runLive(cfg, logger, cfg)
	case config.ModeScan:
		runErr = runScan(cfg, logger)
	case config.ModeOffline:
		runErr = runOffline(cfg, logger)
	}

	if runErr == nil {
		os.Exit(0)
	}

	logger.Error("fatal: %v", runErr)
	fmt.Fprintln(os.Stderr, runErr)
	if errors.Is(runErr, capture.ErrCaptureUnavailable) {
		os.Exit(2)
	}
	os.Exit(1)
}

func levelFor(verbose bool) eventsink.Level {
	if verbose {
		return eventsink.Debug
	}
	return eventsink.Info
}

func estimatorParams(cfg *config.Config) presence.Params {
	return presence.Params{
		FrontMinM: float32(cfg.FrontMinM),
		FrontMaxM: float32(cfg.FrontMaxM),
		DistMaxM:  float32(cfg.DistMaxM),
		MinRMS:    float32(cfg.MinRMS),
		MinRefRMS: float32(cfg.MinRefRMS),
	}
}

func hysteresisConfig(cfg *config.Config) presence.HysteresisConfig {
	return presence.HysteresisConfig{
		EnterFrac:   cfg.EnterFrac,
		ExitFrac:    cfg.ExitFrac,
		MinDwell:    time.Duration(cfg.MinDwellMs) * time.Millisecond,
		StrengthThr: float32(cfg.StrengthThr),
		DistMaxM:    float32(cfg.DistMaxM),
	}
}

// runLive drives the presence or gated pipeline against live capture
// devices until Ctrl+C. gatedCfg is non-nil only in gated mode.
func runLive(cfg *config.Config, logger *eventsink.Logger, gatedCfg *config.Config) error {
	loopback, err := capture.NewLoopback(cfg.ScanSampleRateHz)
	if err != nil {
		return fmt.Errorf("loopback capture: %w", err)
	}
	defer loopback.Close()

	mic, err := capture.NewMicrophone(48000)
	if err != nil {
		return fmt.Errorf("microphone capture: %w", err)
	}
	defer mic.Close()

	refBuf := ringbuffer.New(loopback.SampleRate())
	micBuf := ringbuffer.New(mic.SampleRate())

	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); sink.Run(loopback.Blocks(), refBuf) }()
	go func() { defer wg.Done(); sink.Run(mic.Blocks(), micBuf) }()

	csvSink, err := eventsink.NewCSVSink(cfg.EventsinkPath)
	if err != nil {
		return fmt.Errorf("event sink: %w", err)
	}
	defer csvSink.Close()

	agg := presence.NewAggregator(cfg.WindowSec, cfg.TickMs, cfg.AggFrac)
	sm := presence.NewStateMachine(hysteresisConfig(cfg), time.Now())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	runDone := make(chan struct{})
	var stop func()

	if gatedCfg != nil {
		catalog, err := store.Load(gatedCfg.ScansongPath)
		if err != nil {
			return fmt.Errorf("load scansong store: %w", err)
		}
		controller, err := gated.NewController(catalog, gated.Params{
			FpWinS: gatedCfg.FpWinS, FpThr: gatedCfg.FpThr, FpMargin: gatedCfg.FpMargin,
			GuardS: gatedCfg.GuardS, FpArmDBFS: gatedCfg.FpArmDBFS,
		})
		if err != nil {
			return fmt.Errorf("gated controller: %w", err)
		}

		est := estimatorParams(cfg)
		pacer := scheduler.NewPacer(cfg.TickMs)
		go func() {
			pacer.Run(func(now time.Time) {
				vote := controller.Tick(refBuf, micBuf, scheduler.SnapshotLen, est, sm, now)
				scheduler.PushVote(agg, sm, csvSink, logger, vote, now)
			})
			close(runDone)
		}()
		stop = pacer.Stop
	} else {
		sch := scheduler.New(refBuf, micBuf, estimatorParams(cfg), agg, sm, csvSink, logger, cfg.TickMs)
		go func() {
			sch.Run()
			close(runDone)
		}()
		stop = sch.Stop
	}

	<-sigChan
	logger.Info("shutdown signal received")
	stop()

	select {
	case <-runDone:
	case <-time.After(5 * time.Second):
		logger.Warn("scheduler shutdown timed out, forcing exit")
	}

	// Closing the capturers closes their block channels, which ends the
	// sink goroutines.
	loopback.Close()
	mic.Close()
	wg.Wait()
	return nil
}

func scanParams(cfg *config.Config) spectral.Params {
	return spectral.Params{
		FrameMs: cfg.FrameMs, ScanWindowS: cfg.ScanWindowS, StrideMs: cfg.StrideMs,
		HfSplitHz: cfg.HfSplitHz, TopN: cfg.TopN, MinPercentile: cfg.MinPercentile,
		NmsRadiusS: cfg.NmsRadiusS, MergeGapS: cfg.MergeGapS,
		ClampMinS: cfg.ClampMinS, ClampMaxS: cfg.ClampMaxS,
	}
}

// runScan decodes one track file, extracts candidate segments, derives a
// fingerprint, and appends both to the tabular store.
func runScan(cfg *config.Config, logger *eventsink.Logger) error {
	track, err := decode.LoadFile(cfg.TrackPath, cfg.ScanSampleRateHz)
	if err != nil {
		return fmt.Errorf("decode track: %w", err)
	}

	segs := spectral.Analyze(track.Samples, track.SampleRate, scanParams(cfg))
	logger.Info("scan: %d candidate segments found in %s", len(segs), cfg.TrackPath)

	fp, ok := fingerprint.Make(track.Samples, track.SampleRate, cfg.FpWinS)
	if !ok {
		return fmt.Errorf("scan: track too short to fingerprint (need >= %.1fs)", cfg.FpWinS)
	}

	w, err := store.NewWriter(cfg.ScansongPath)
	if err != nil {
		return fmt.Errorf("open scansong store: %w", err)
	}
	defer w.Close()

	if err := w.WriteTrack(cfg.TrackPath, segs, fp, cfg.FrameMs, cfg.ScanWindowS, cfg.StrideMs/1000.0); err != nil {
		return fmt.Errorf("write scansong store: %w", err)
	}
	logger.Info("scan: wrote %d rows for %s", len(segs), cfg.TrackPath)
	return nil
}

// runOffline validates the estimator pipeline against two pre-recorded
// files instead of live capture, reporting to stdout.
func runOffline(cfg *config.Config, logger *eventsink.Logger) error {
	refTrack, err := decode.LoadFile(cfg.TrackPath, cfg.OfflineSampleRateHz)
	if err != nil {
		return fmt.Errorf("decode reference track: %w", err)
	}
	micTrack, err := decode.LoadFile(cfg.RefTrackPath, cfg.OfflineSampleRateHz)
	if err != nil {
		return fmt.Errorf("decode microphone track: %w", err)
	}
	if refTrack.SampleRate != micTrack.SampleRate {
		return fmt.Errorf("offline: sample rate mismatch (%d vs %d)", refTrack.SampleRate, micTrack.SampleRate)
	}

	sampleRate := refTrack.SampleRate
	frame := int(float64(sampleRate) * 1.5)
	n := len(refTrack.Samples)
	if len(micTrack.Samples) < n {
		n = len(micTrack.Samples)
	}

	sm := presence.NewStateMachine(hysteresisConfig(cfg), time.Now())
	agg := presence.NewAggregator(cfg.WindowSec, cfg.TickMs, cfg.AggFrac)

	for start := 0; start+frame <= n; start += frame {
		ref := toFloat32(refTrack.Samples[start : start+frame])
		mic := toFloat32(micTrack.Samples[start : start+frame])
		distance, strength, ok := presence.Estimate(ref, mic, float32(sampleRate), estimatorParams(cfg))
		vote := sm.QualifyVote(distance, strength, ok)
		if aggOut, full := agg.Push(vote); full {
			if flipped := sm.Advance(aggOut, time.Now()); flipped {
				fmt.Printf("t=%.2fs state=%s agreement=%.0f%% mean_distance=%.2fm mean_strength=%.2f\n",
					float64(start)/float64(sampleRate), sm.State(), aggOut.Agreement*100, aggOut.MeanDistance, aggOut.MeanStrength)
			}
		}
	}
	logger.Info("offline: processed %d samples at %dHz", n, sampleRate)
	return nil
}

func toFloat32(x []float64) []float32 {
	out := make([]float32, len(x))
	for i, v := range x {
		out[i] = float32(v)
	}
	return out
}

func init() {
	log.SetFlags(log.Ltime)
	log.SetOutput(os.Stdout)
}
