package eventsink

import (
	"encoding/csv"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

var posInf = math.Inf(1)

// StateEvent is an append-only record emitted on every state flip.
type StateEvent struct {
	TimestampLocal time.Time
	Present        bool
	MeanDistance   float64
	MeanStrength   float64
	AgreementPct   float64
}

// CSVSink appends StateEvents to a CSV file, writing the header once. It
// is write-only from the scheduler. The file stays open until Close, and
// every Write flushes before returning, so no buffered row is held across
// a sleep.
type CSVSink struct {
	file   *os.File
	writer *csv.Writer
}

var csvHeader = []string{"timestamp", "present", "avg_distance_m", "avg_strength", "agree_pct"}

// NewCSVSink opens (creating, if necessary) path for append, writing the
// header row if the file is new/empty.
func NewCSVSink(path string) (*CSVSink, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("eventsink: create csv dir: %w", err)
		}
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("eventsink: open csv file: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("eventsink: stat csv file: %w", err)
	}

	w := csv.NewWriter(f)
	if info.Size() == 0 {
		if err := w.Write(csvHeader); err != nil {
			f.Close()
			return nil, fmt.Errorf("eventsink: write csv header: %w", err)
		}
		w.Flush()
	}

	return &CSVSink{file: f, writer: w}, nil
}

// Write appends one row and flushes. A write error is returned for the
// caller to log and swallow; detection keeps running regardless.
func (s *CSVSink) Write(ev StateEvent) error {
	distance := "inf"
	if ev.MeanDistance != posInf {
		distance = strconv.FormatFloat(ev.MeanDistance, 'f', 2, 64)
	}

	row := []string{
		ev.TimestampLocal.Format("2006-01-02 15:04:05"),
		strconv.FormatBool(ev.Present),
		distance,
		strconv.FormatFloat(ev.MeanStrength, 'f', 2, 64),
		strconv.FormatFloat(ev.AgreementPct, 'f', 0, 64),
	}
	if err := s.writer.Write(row); err != nil {
		return fmt.Errorf("eventsink: write csv row: %w", err)
	}
	s.writer.Flush()
	return s.writer.Error()
}

// Close releases the underlying file.
func (s *CSVSink) Close() error {
	s.writer.Flush()
	return s.file.Close()
}
