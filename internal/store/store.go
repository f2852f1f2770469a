// Package store implements the persisted tabular segment/fingerprint
// store shared between the scan driver (producer) and the gated
// controller (consumer).
package store

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/agalue/sonar-presence/internal/fingerprint"
	"github.com/agalue/sonar-presence/internal/spectral"
)

var columns = []string{
	"url", "start_s", "end_s", "score", "frame_ms", "window_s", "stride_s",
	"bandwidth_z", "flatness_z", "flux_z", "crest_db", "hf_ratio", "dynrange_z",
	"tonality_z", "loudness_dbfs", "notes",
	"fp_type", "fp_bands", "fp_hop_s", "fp_offset_s", "fp_bins_hex",
}

// Segment is the gated controller's view of a stored segment: just the
// time range it needs for window gating.
type Segment struct {
	StartS float64
	EndS   float64
}

// SongWindows is the per-URL bundle the gated controller loads at startup.
type SongWindows struct {
	URL      string
	Segments []Segment
	FP       fingerprint.Fingerprint
}

// Writer appends scan results for one track to the tabular store,
// creating the file and header if necessary.
type Writer struct {
	file   *os.File
	writer *csv.Writer
}

// NewWriter opens path for append, writing the header row if the file is
// new or empty.
func NewWriter(path string) (*Writer, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("store: create dir: %w", err)
		}
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("store: open file: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("store: stat file: %w", err)
	}

	w := csv.NewWriter(f)
	if info.Size() == 0 {
		if err := w.Write(columns); err != nil {
			f.Close()
			return nil, fmt.Errorf("store: write header: %w", err)
		}
		w.Flush()
	}
	return &Writer{file: f, writer: w}, nil
}

// WriteTrack appends one row per segment for url, each row carrying the
// same fingerprint columns (one fingerprint per URL).
func (w *Writer) WriteTrack(url string, segs []spectral.Segment, fp fingerprint.Fingerprint, frameMs, windowS, strideS float64) error {
	hexBins := fingerprint.BinsToHex(fp.Bins)
	for _, s := range segs {
		row := []string{
			url,
			formatFloat(s.StartS),
			formatFloat(s.EndS),
			formatFloat(s.Peak.Score),
			formatFloat(frameMs),
			formatFloat(windowS),
			formatFloat(strideS),
			formatFloat(s.Peak.Z.Bandwidth),
			formatFloat(s.Peak.Z.Flatness),
			formatFloat(s.Peak.Z.Flux),
			formatFloat(s.Peak.CrestDB),
			formatFloat(s.Peak.HfRatio),
			formatFloat(s.Peak.Z.DynRange),
			formatFloat(s.Peak.Z.Tonality),
			formatFloat(s.Peak.LoudnessDBFS),
			"",
			fp.FpType,
			strconv.Itoa(fp.Bands),
			formatFloat(fp.HopS),
			formatFloat(fp.OffsetS),
			hexBins,
		}
		if err := w.writer.Write(row); err != nil {
			return fmt.Errorf("store: write row: %w", err)
		}
	}
	w.writer.Flush()
	return w.writer.Error()
}

// Close flushes and closes the underlying file.
func (w *Writer) Close() error {
	w.writer.Flush()
	return w.file.Close()
}

// Load reads the tabular store at path, grouping rows by URL, sorting
// segments ascending by start_s, and discarding URLs lacking a parseable
// fingerprint.
func Load(path string) ([]SongWindows, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("store: open file: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("store: read csv: %w", err)
	}
	if len(records) == 0 {
		return nil, nil
	}

	header := records[0]
	idx := make(map[string]int, len(header))
	for i, h := range header {
		idx[h] = i
	}

	type accum struct {
		segs []Segment
		fp   fingerprint.Fingerprint
		fpOK bool
	}
	byURL := make(map[string]*accum)
	var order []string

	for _, rec := range records[1:] {
		url := field(rec, idx, "url")
		if url == "" {
			continue
		}
		a, ok := byURL[url]
		if !ok {
			a = &accum{}
			byURL[url] = a
			order = append(order, url)
		}

		startS := parseFloat(field(rec, idx, "start_s"))
		endS := parseFloat(field(rec, idx, "end_s"))
		a.segs = append(a.segs, Segment{StartS: startS, EndS: endS})

		if !a.fpOK {
			bins, err := fingerprint.BinsFromHex(field(rec, idx, "fp_bins_hex"))
			if err == nil && len(bins) > 0 {
				a.fp = fingerprint.Fingerprint{
					FpType:  field(rec, idx, "fp_type"),
					Bands:   int(parseFloat(field(rec, idx, "fp_bands"))),
					HopS:    parseFloat(field(rec, idx, "fp_hop_s")),
					OffsetS: parseFloat(field(rec, idx, "fp_offset_s")),
					Bins:    bins,
				}
				a.fpOK = true
			}
		}
	}

	var out []SongWindows
	for _, url := range order {
		a := byURL[url]
		if !a.fpOK {
			continue
		}
		sort.Slice(a.segs, func(i, j int) bool { return a.segs[i].StartS < a.segs[j].StartS })
		out = append(out, SongWindows{URL: url, Segments: a.segs, FP: a.fp})
	}
	return out, nil
}

func field(rec []string, idx map[string]int, name string) string {
	i, ok := idx[name]
	if !ok || i >= len(rec) {
		return ""
	}
	return rec[i]
}

func parseFloat(s string) float64 {
	v, _ := strconv.ParseFloat(s, 64)
	return v
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
