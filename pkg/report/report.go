// Package report writes the ordered JSONL audit trail: one JSON object
// per input record, emitted and flushed as a streaming, crash-surviving
// line protocol rather than a single end-of-run document.
package report

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/mlawlis/filesanitize/pkg/model"
)

// Version is the report_version value written into every record.
const Version = 1

// flusher is satisfied by *bufio.Writer and similar; Writer flushes
// after every line when the underlying writer supports it, so records
// survive a crash mid-run.
type flusher interface {
	Flush() error
}

// syncer is satisfied by *os.File; Writer syncs after every line when
// possible, for the same crash-survival reason.
type syncer interface {
	Sync() error
}

// Writer appends JSONL records to an underlying io.Writer. It is not
// safe for concurrent use; callers that parallelize work must
// serialize calls to WriteRecord themselves (see pkg/sanitizer).
type Writer struct {
	w   io.Writer
	enc *json.Encoder
}

// New wraps w for JSONL record emission.
func New(w io.Writer) *Writer {
	enc := json.NewEncoder(w)
	return &Writer{w: w, enc: enc}
}

// WriteRecord appends one input record as a single JSON line.
func (rw *Writer) WriteRecord(rec model.Record) error {
	rec.ReportVersion = Version
	if rec.Warnings == nil {
		rec.Warnings = []model.Warning{}
	}
	if err := rw.enc.Encode(rec); err != nil {
		return fmt.Errorf("report: writing record for %s: %w", rec.InputPath, err)
	}
	return rw.flush()
}

// Summary is the optional terminal record appended after every per-input
// record, carrying run totals, timings, and the effective options.
type Summary struct {
	Type          string           `json:"type"`
	ReportVersion int              `json:"report_version"`
	DryRun        bool             `json:"dry_run"`
	ExitCode      int              `json:"exit_code"`
	Files         int64            `json:"files"`
	Warnings      int64            `json:"warnings"`
	Errors        int64            `json:"errors"`
	Counts        map[string]int64 `json:"counts"`
	ToolVersion   string           `json:"tool_version"`
	StartedAt     string           `json:"started_at"`
	EndedAt       string           `json:"ended_at"`
	DurationMS    int64            `json:"duration_ms"`
	Input         string           `json:"input"`
	Out           string           `json:"out"`
	Report        string           `json:"report"`
	Options       map[string]any   `json:"options"`
}

// WriteSummary appends the terminal summary record. Callers must write
// it last, after every per-input record.
func (rw *Writer) WriteSummary(s Summary) error {
	s.Type = "summary"
	s.ReportVersion = Version
	if s.Counts == nil {
		s.Counts = map[string]int64{}
	}
	if s.Options == nil {
		s.Options = map[string]any{}
	}
	if err := rw.enc.Encode(s); err != nil {
		return fmt.Errorf("report: writing summary: %w", err)
	}
	return rw.flush()
}

func (rw *Writer) flush() error {
	if f, ok := rw.w.(flusher); ok {
		if err := f.Flush(); err != nil {
			return fmt.Errorf("report: flush: %w", err)
		}
	}
	if s, ok := rw.w.(syncer); ok {
		_ = s.Sync()
	}
	return nil
}

// SummaryFromRunState builds the count-bearing portion of a Summary
// from an accumulated RunState; callers fill in the remaining run-level
// fields (timings, options, paths) themselves.
func SummaryFromRunState(rs *model.RunState, exitCode int, dryRun bool) Summary {
	counts := make(map[string]int64, len(rs.CountsByAction))
	for action, n := range rs.CountsByAction {
		counts[string(action)] = n
	}
	return Summary{
		DryRun:     dryRun,
		ExitCode:   exitCode,
		Files:      rs.FilesSeen,
		Warnings:   rs.WarningsCount,
		Errors:     rs.ErrorsCount,
		Counts:     counts,
		DurationMS: rs.EndedAt.Sub(rs.StartedAt).Milliseconds(),
	}
}
