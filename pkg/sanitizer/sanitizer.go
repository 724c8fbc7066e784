package sanitizer

import (
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/mlawlis/filesanitize/pkg/classify"
	"github.com/mlawlis/filesanitize/pkg/model"
	"github.com/mlawlis/filesanitize/pkg/policy"
	"github.com/mlawlis/filesanitize/pkg/report"
	"github.com/mlawlis/filesanitize/pkg/walk"

	"github.com/mlawlis/filesanitize/internal/atomicwrite"
)

// Run executes one sanitization pass per opts, writing ordered JSONL
// records (and an optional summary) to rw, and returns the process
// exit code: 0 success, 2 if any record is error/blocked, 3 if
// --fail-on-warnings is set and any warning was emitted.
func Run(opts Options, rw *report.Writer) (int, error) {
	started := time.Now()
	rs := model.NewRunState(opts.MaxFiles, opts.MaxBytes)
	rs.StartedAt = started

	info, err := os.Stat(opts.Input)
	if err != nil {
		return 2, fmt.Errorf("sanitizer: stat %s: %w", opts.Input, err)
	}

	if info.IsDir() {
		if err := runDirectory(opts, rw, rs); err != nil {
			return 2, err
		}
	} else if !opts.cancelled() {
		rs.BytesSeen += info.Size()
		rec := processOne(opts, opts.Input, filepath.Base(opts.Input))
		if err := rw.WriteRecord(rec); err != nil {
			return 2, err
		}
		rs.Record(rec)
	}

	rs.EndedAt = time.Now()
	exitCode := computeExitCode(rs, opts.FailOnWarnings)

	if opts.ReportSummary {
		s := report.SummaryFromRunState(rs, exitCode, opts.DryRun)
		s.ToolVersion = opts.ToolVersion
		s.StartedAt = rs.StartedAt.Format(time.RFC3339)
		s.EndedAt = rs.EndedAt.Format(time.RFC3339)
		s.Input = opts.Input
		s.Out = opts.Out
		s.Report = opts.Report
		s.Options = optionsSnapshot(opts)
		if err := rw.WriteSummary(s); err != nil {
			return 2, err
		}
	}

	return exitCode, nil
}

// computeExitCode applies the exit-code precedence rule: errors/blocks
// take priority over fail-on-warnings, which in turn overrides a clean 0.
func computeExitCode(rs *model.RunState, failOnWarnings bool) int {
	if rs.CountsByAction[model.ActionError] > 0 || rs.CountsByAction[model.ActionBlocked] > 0 {
		return 2
	}
	if failOnWarnings && rs.WarningsCount > 0 {
		return 3
	}
	return 0
}

// runDirectory walks opts.Input via pkg/walk and processes every
// surviving file through processOne, in byte-lexicographic order.
// Collection (cheap: exclude/allowlist/ceiling decisions) and dispatch
// (expensive: classify+sanitize+write) are two separate passes so that
// opts.Workers > 1 can parallelize the latter without ever disturbing
// the order records are finally emitted in.
func runDirectory(opts Options, rw *report.Writer, rs *model.RunState) error {
	wc := walk.Config{
		ExcludeGlobs: opts.ExcludeGlobs,
		MaxFiles:     opts.MaxFiles,
		MaxBytes:     opts.MaxBytes,
	}

	var entries []dispatchEntry

	// A report file sitting under the input root must not be consumed
	// as an input of its own run.
	var absReport string
	if opts.Report != "" && opts.Report != "-" {
		absReport, _ = filepath.Abs(opts.Report)
	}

	// When an allowlist is configured, the walker needs a detected type
	// before it can decide, but detection requires reading the file's
	// prefix; that's why visit (not Config) carries the decision.
	err := walk.Walk(opts.Input, wc, func(e walk.Entry) (walk.VisitResult, error) {
		if len(opts.AllowExts) > 0 {
			detected, err := detectedExtKind(e.AbsPath)
			if err != nil {
				return walk.VisitResult{Allowed: false}, nil
			}
			if !opts.AllowExts[string(detected)] {
				return walk.VisitResult{Allowed: false, BytesRead: e.Size}, nil
			}
		}
		return walk.VisitResult{Allowed: true, BytesRead: e.Size}, nil
	}, func(e walk.Entry) {
		switch e.Kind {
		case walk.KindFile:
			if absReport != "" {
				if ap, err := filepath.Abs(e.AbsPath); err == nil && ap == absReport {
					return
				}
			}
			rs.BytesSeen += e.Size
			entries = append(entries, dispatchEntry{absPath: e.AbsPath, relPath: e.RelPath})
		case walk.KindExcludedDir, walk.KindExcludedFile:
			rec := model.Record{InputPath: e.RelPath, Action: model.ActionExcluded,
				Warnings: []model.Warning{model.W("excluded_by_pattern", "matched an --exclude pattern")}}
			entries = append(entries, dispatchEntry{record: &rec})
		case walk.KindAllowlistSkipped:
			rec := model.Record{InputPath: e.RelPath, Action: model.ActionSkipped,
				Warnings: []model.Warning{model.W("allowlist_skipped", "detected type not in --allow-ext")}}
			entries = append(entries, dispatchEntry{record: &rec})
		case walk.KindTruncated:
			rec := model.Record{InputPath: e.RelPath, Action: model.ActionTruncated}
			entries = append(entries, dispatchEntry{record: &rec})
		}
	})
	if err != nil {
		return err
	}

	runPendingDispatch(opts, entries)

	for _, e := range entries {
		if e.record == nil {
			// Dispatch was cancelled before reaching this entry; the
			// in-flight and remaining items get no record.
			break
		}
		if err := rw.WriteRecord(*e.record); err != nil {
			return err
		}
		rs.Record(*e.record)
	}
	return nil
}

func detectedExtKind(absPath string) (model.ContentType, error) {
	f, err := os.Open(absPath)
	if err != nil {
		return model.TypeUnknown, err
	}
	defer f.Close()
	buf := make([]byte, classify.MinPrefix)
	n, _ := f.Read(buf)
	cls := classify.Classify(buf[:n], path.Ext(absPath), nil)
	return cls.Type, nil
}

// processOne reads, dispatches, policy-gates, and (unless dry-run or
// blocked) atomically writes the sanitized output for a single
// top-level file or directory member, returning its finished record.
func processOne(opts Options, absPath, reportPath string) model.Record {
	data, err := os.ReadFile(absPath)
	if err != nil {
		errMsg := err.Error()
		return model.Record{InputPath: reportPath, Action: model.ActionError, Error: &errMsg}
	}

	item := model.InputItem{
		SourcePath:  absPath,
		DeclaredExt: path.Ext(absPath),
		Relation:    model.TopLevel,
	}
	outcome := dispatchItem(item, data, opts.CopyUnsupported, opts.Archive)

	if outcome.Action == model.ActionError {
		errMsg := outcome.ErrorDetail
		return model.Record{InputPath: reportPath, Action: model.ActionError,
			Warnings: outcome.Warnings, Error: &errMsg}
	}

	codes := make([]string, len(outcome.Warnings))
	for i, w := range outcome.Warnings {
		codes[i] = w.Code
	}
	blocked := policy.ShouldBlock(opts.RiskyPolicy, codes)

	action := outcome.Action
	var outputPath *string
	if blocked {
		action = model.ActionBlocked
	} else if outcome.HasOutput {
		dest := destinationPath(opts, reportPath)
		if !opts.Flat && !opts.Overwrite && fileExists(dest) {
			return model.Record{InputPath: reportPath, Action: model.ActionSkipped,
				Warnings: append(outcome.Warnings, model.W("output_exists", "refusing to overwrite existing output "+dest))}
		}
		if !opts.DryRun {
			if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
				errMsg := err.Error()
				return model.Record{InputPath: reportPath, Action: model.ActionError,
					Warnings: outcome.Warnings, Error: &errMsg}
			}
			if err := atomicwrite.WriteBytes(dest, 0o644, outcome.Output); err != nil {
				errMsg := err.Error()
				return model.Record{InputPath: reportPath, Action: model.ActionError,
					Warnings: outcome.Warnings, Error: &errMsg}
			}
		}
		outputPath = &dest
	}

	if opts.DryRun {
		action = model.DryRunAction(action)
	}

	return model.Record{InputPath: reportPath, OutputPath: outputPath, Action: action, Warnings: outcome.Warnings}
}

// destinationPath computes the output path for reportPath under
// opts.Out, honoring --flat's numeric collision disambiguation.
func destinationPath(opts Options, reportPath string) string {
	if opts.Out == "" {
		return reportPath
	}
	if !opts.Flat {
		return filepath.Join(opts.Out, reportPath)
	}
	base := filepath.Base(reportPath)
	dest := filepath.Join(opts.Out, base)
	ext := filepath.Ext(base)
	stem := strings.TrimSuffix(base, ext)
	for i := 1; fileExists(dest); i++ {
		dest = filepath.Join(opts.Out, fmt.Sprintf("%s(%d)%s", stem, i, ext))
	}
	return dest
}

func fileExists(p string) bool {
	_, err := os.Stat(p)
	return err == nil
}

func optionsSnapshot(opts Options) map[string]any {
	return map[string]any{
		"dry_run":          opts.DryRun,
		"overwrite":        opts.Overwrite,
		"copy_unsupported": opts.CopyUnsupported,
		"flat":             opts.Flat,
		"risky_policy":     string(opts.RiskyPolicy),
		"fail_on_warnings": opts.FailOnWarnings,
		"workers":          opts.Workers,
		"max_files":        opts.MaxFiles,
		"max_bytes":        opts.MaxBytes,
	}
}
