// Command sanitize is the CLI collaborator: it parses flags, resolves
// them into a sanitizer.Options, and wires the Report Writer to either
// stdout or a file. Flags are parsed inside init(), with combinations
// sanity-checked right after pflag.Parse().
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/cheggaaa/pb/v3"
	"github.com/gofrs/flock"
	"github.com/google/uuid"
	"github.com/spf13/pflag"

	"github.com/mlawlis/filesanitize/pkg/archive"
	"github.com/mlawlis/filesanitize/pkg/classify"
	"github.com/mlawlis/filesanitize/pkg/policy"
	"github.com/mlawlis/filesanitize/pkg/report"
	"github.com/mlawlis/filesanitize/pkg/sanitizer"
)

const version = "0.1.0"

var (
	input      string
	out        string
	reportPath string

	reportSummary bool
	dryRun        bool
	flat          bool
	overwrite     bool
	noOverwrite   bool
	copyUnsup     bool
	noCopyUnsup   bool

	excludeGlobs []string
	allowExts    []string

	maxFiles int64
	maxBytes int64

	zipMaxMembers          int64
	zipMaxMemberBytes      int64
	zipMaxTotalBytes       int64
	zipMaxCompressionRatio int64

	nestedPolicy        string
	nestedMaxDepth      int
	nestedMaxTotalBytes int64

	riskyPolicy    string
	failOnWarnings bool
	quiet          bool

	progress bool
	lockFile string
	noLock   bool
	workers  int
	debug    bool
)

func init() {
	pflag.StringVar(&input, "input", "", "file, directory, or .zip archive to sanitize (required)")
	pflag.StringVar(&out, "out", "", "output root (required unless --dry-run with no writes)")
	pflag.StringVar(&reportPath, "report", "-", `JSONL sink; "-" means stdout`)
	pflag.BoolVar(&reportSummary, "report-summary", true, "append a terminal summary record")
	pflag.BoolVar(&dryRun, "dry-run", false, "compute actions without writing any output")
	pflag.BoolVar(&flat, "flat", false, "flatten outputs into one directory, disambiguating collisions numerically")
	pflag.BoolVar(&overwrite, "overwrite", false, "permit overwriting existing outputs")
	pflag.BoolVar(&noOverwrite, "no-overwrite", false, "forbid overwriting existing outputs (default)")
	pflag.BoolVar(&copyUnsup, "copy-unsupported", false, "raw-copy unsupported content types instead of skipping")
	pflag.BoolVar(&noCopyUnsup, "no-copy-unsupported", false, "skip unsupported content types (default)")
	pflag.StringArrayVar(&excludeGlobs, "exclude", nil, "glob to prune during directory traversal (repeatable)")
	pflag.StringArrayVar(&allowExts, "allow-ext", nil, "allow only this detected content type, by extension (repeatable)")
	pflag.Int64Var(&maxFiles, "max-files", 0, "terminate traversal after this many files (0 = unbounded)")
	pflag.Int64Var(&maxBytes, "max-bytes", 0, "terminate traversal after this many bytes (0 = unbounded)")
	pflag.Int64Var(&zipMaxMembers, "zip-max-members", 10000, "maximum ZIP entry count")
	pflag.Int64Var(&zipMaxMemberBytes, "zip-max-member-bytes", 128<<20, "maximum per-member uncompressed bytes")
	pflag.Int64Var(&zipMaxTotalBytes, "zip-max-total-bytes", 1<<30, "maximum aggregate uncompressed bytes")
	pflag.Int64Var(&zipMaxCompressionRatio, "zip-max-compression-ratio", 100, "maximum uncompressed/compressed ratio")
	pflag.StringVar(&nestedPolicy, "nested-archive-policy", "skip", "skip|copy|sanitize: how to handle an archive found inside an archive")
	pflag.IntVar(&nestedMaxDepth, "nested-archive-max-depth", 4, "maximum nested-archive recursion depth")
	pflag.Int64Var(&nestedMaxTotalBytes, "nested-archive-max-total-bytes", 1<<30, "aggregate byte budget across recursive nested sanitize calls")
	pflag.StringVar(&riskyPolicy, "risky-policy", "warn", "warn|block: whether risky findings block the output write")
	pflag.BoolVar(&failOnWarnings, "fail-on-warnings", false, "exit 3 if any warning was emitted")
	pflag.BoolVar(&quiet, "quiet", false, "suppress the human-readable stderr summary")
	pflag.BoolVar(&progress, "progress", false, "show a stderr progress bar (rejected when --report is stdout)")
	pflag.StringVar(&lockFile, "lock-file", "", "advisory single-writer lock path (defaults to a name derived from --out)")
	pflag.BoolVar(&noLock, "no-lock", false, "disable the advisory lock")
	pflag.IntVar(&workers, "workers", 1, "bounded worker pool size for per-item sanitize dispatch")
	pflag.BoolVar(&debug, "debug", false, "enable verbose stderr diagnostics")

	pflag.Parse()
}

func main() {
	// Deferred cleanup (lock release, sink close) must run before the
	// process exits with the computed code.
	os.Exit(run())
}

func run() int {
	runID := uuid.NewString()
	outLog := log.New(os.Stderr, "", log.LstdFlags)
	debugLog := log.New(io.Discard, "", 0)
	if debug {
		debugLog = log.New(os.Stderr, "[DEBUG] ", log.Lshortfile)
	}

	if input == "" {
		fmt.Fprintln(os.Stderr, "sanitize: --input is required")
		pflag.PrintDefaults()
		return 2
	}
	if out == "" && !dryRun {
		fmt.Fprintln(os.Stderr, "sanitize: --out is required unless --dry-run is set")
		return 2
	}
	if progress && reportPath == "-" {
		fmt.Fprintln(os.Stderr, "sanitize: --progress cannot be combined with --report -")
		return 2
	}

	opts := sanitizer.DefaultOptions()
	opts.Input = input
	opts.Out = out
	opts.Report = reportPath
	opts.ReportSummary = reportSummary
	opts.DryRun = dryRun
	opts.Flat = flat
	opts.Overwrite = overwrite && !noOverwrite
	opts.CopyUnsupported = copyUnsup && !noCopyUnsup
	opts.ExcludeGlobs = excludeGlobs
	opts.MaxFiles = maxFiles
	opts.MaxBytes = maxBytes
	opts.Workers = workers
	opts.ToolVersion = version
	opts.FailOnWarnings = failOnWarnings

	opts.AllowExts = map[string]bool{}
	for _, ext := range allowExts {
		t, ok := classify.TypeForExt(ext)
		if !ok {
			fmt.Fprintf(os.Stderr, "sanitize: --allow-ext %s is not a recognized extension\n", ext)
			return 2
		}
		opts.AllowExts[string(t)] = true
	}

	switch policy.Mode(riskyPolicy) {
	case policy.ModeWarn, policy.ModeBlock:
		opts.RiskyPolicy = policy.Mode(riskyPolicy)
	default:
		fmt.Fprintf(os.Stderr, "sanitize: --risky-policy must be warn or block, got %q\n", riskyPolicy)
		return 2
	}

	ac := archive.DefaultConfig()
	ac.MaxMembers = zipMaxMembers
	ac.MaxMemberBytes = zipMaxMemberBytes
	ac.MaxTotalBytes = zipMaxTotalBytes
	ac.MaxCompressionRatio = zipMaxCompressionRatio
	ac.NestedMaxDepth = nestedMaxDepth
	ac.NestedMaxTotalBytes = nestedMaxTotalBytes
	ac.CopyUnsupported = opts.CopyUnsupported
	switch archive.NestedPolicy(nestedPolicy) {
	case archive.NestedSkip, archive.NestedCopy, archive.NestedSanitize:
		ac.NestedPolicy = archive.NestedPolicy(nestedPolicy)
	default:
		fmt.Fprintf(os.Stderr, "sanitize: --nested-archive-policy must be skip, copy, or sanitize, got %q\n", nestedPolicy)
		return 2
	}
	opts.Archive = ac

	debugLog.Printf("run %s starting: input=%s out=%s report=%s", runID, input, out, reportPath)

	if !noLock {
		lockPath := lockFile
		if lockPath == "" {
			lockPath = lockPathFor(out)
		}
		fl := flock.New(lockPath)
		locked, err := fl.TryLock()
		if err != nil {
			outLog.Printf("sanitize: acquiring lock %s: %v", lockPath, err)
			return 2
		}
		if !locked {
			outLog.Printf("sanitize: another run holds the lock at %s; pass --no-lock to override", lockPath)
			return 2
		}
		defer fl.Unlock()
		debugLog.Printf("run %s holds lock %s", runID, lockPath)
	}

	sink, closeSink, err := openReportSink(reportPath)
	if err != nil {
		outLog.Printf("sanitize: opening report sink: %v", err)
		return 2
	}
	defer closeSink()

	var bar *pb.ProgressBar
	if progress {
		bar = pb.StartNew(0)
		defer bar.Finish()
	}
	tally := &summaryTally{}
	rw := report.New(newObservingWriter(sink, tally, bar))

	// An interrupt aborts at the next iteration boundary; the item in
	// flight gets no record and its partial output is cleaned up by the
	// atomic writer.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	opts.Cancelled = func() bool { return ctx.Err() != nil }

	code, err := sanitizer.Run(opts, rw)
	if err != nil {
		outLog.Printf("sanitize: %v", err)
		return code
	}

	debugLog.Printf("run %s finished: exit=%d files=%d warnings=%d errors=%d", runID, code, tally.files, tally.warnings, tally.errors)

	if !quiet {
		printHumanSummary(os.Stderr, tally, code, dryRun)
	}

	return code
}

// lockPathFor derives the default --lock-file location from --out.
func lockPathFor(out string) string {
	if out == "" {
		return os.TempDir() + "/sanitize.lock"
	}
	return strings.TrimRight(out, "/") + ".sanitize.lock"
}

// openReportSink resolves --report into a writer and a cleanup func.
// "-" means stdout, and is never closed; any other path is truncated
// at the start of the run (two identical runs must produce identical
// report files) and closed by the returned func.
func openReportSink(path string) (io.Writer, func(), error) {
	if path == "-" {
		return os.Stdout, func() {}, nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, nil, err
	}
	return f, func() { f.Close() }, nil
}

// summaryTally accumulates the counts printed in the human stderr
// summary, derived by observing each JSONL record as it is written
// rather than by threading additional state through pkg/sanitizer.
type summaryTally struct {
	files    int64
	warnings int64
	errors   int64
	actions  map[string]int64
}

// observingWriter wraps the report sink, parsing each line (one per
// json.Encoder.Encode call, always newline-terminated) to update the
// tally and, if enabled, a progress bar, purely as a side effect of
// forwarding the bytes on unchanged.
type observingWriter struct {
	w     io.Writer
	tally *summaryTally
	bar   *pb.ProgressBar
}

func newObservingWriter(w io.Writer, tally *summaryTally, bar *pb.ProgressBar) *observingWriter {
	tally.actions = map[string]int64{}
	return &observingWriter{w: w, tally: tally, bar: bar}
}

func (o *observingWriter) Write(p []byte) (int, error) {
	n, err := o.w.Write(p)
	if err != nil {
		return n, err
	}
	o.observe(p)
	return n, err
}

func (o *observingWriter) Flush() error {
	if f, ok := o.w.(interface{ Flush() error }); ok {
		return f.Flush()
	}
	return nil
}

func (o *observingWriter) Sync() error {
	if s, ok := o.w.(interface{ Sync() error }); ok {
		return s.Sync()
	}
	return nil
}

func (o *observingWriter) observe(line []byte) {
	var rec struct {
		Type     string `json:"type"`
		Action   string `json:"action"`
		Warnings []struct {
			Code string `json:"code"`
		} `json:"warnings"`
		Error *string `json:"error"`
	}
	if err := json.Unmarshal(bytes.TrimSpace(line), &rec); err != nil {
		return
	}
	if rec.Type == "summary" {
		return
	}
	o.tally.files++
	o.tally.actions[rec.Action]++
	o.tally.warnings += int64(len(rec.Warnings))
	if rec.Error != nil {
		o.tally.errors++
	}
	if o.bar != nil {
		o.bar.Increment()
	}
}

// printHumanSummary writes the stderr summary: a human-readable
// default the CLI provides on top of the JSONL report stream.
func printHumanSummary(w io.Writer, t *summaryTally, exitCode int, dryRun bool) {
	mode := "sanitized"
	if dryRun {
		mode = "would sanitize"
	}
	fmt.Fprintf(w, "%s %d file(s): %d warning(s), %d error(s)\n", mode, t.files, t.warnings, t.errors)
	for action, n := range t.actions {
		fmt.Fprintf(w, "  %-24s %d\n", action, n)
	}
	fmt.Fprintf(w, "exit code: %d\n", exitCode)
}
