// Package sanitizer implements the run orchestrator: it chooses the
// top-level dispatch for an input (file, archive, or directory),
// threads guardrail budgets and the RunState through, applies the
// policy/trust gate, and computes the process exit code from the
// accumulated report counts.
package sanitizer

import (
	"github.com/mlawlis/filesanitize/pkg/archive"
	"github.com/mlawlis/filesanitize/pkg/policy"
)

// Options is the resolved configuration for one run, populated by the
// CLI collaborator (cmd/sanitize) from flags.
type Options struct {
	Input  string
	Out    string
	Report string // "-" means stdout

	DryRun          bool
	Overwrite       bool
	CopyUnsupported bool
	Flat            bool

	ExcludeGlobs []string
	AllowExts    map[string]bool

	MaxFiles int64
	MaxBytes int64

	Archive archive.Config

	RiskyPolicy    policy.Mode
	FailOnWarnings bool
	ReportSummary  bool

	Workers int

	// Cancelled, when non-nil, is polled at iteration boundaries; once
	// it reports true no further items are processed, and no record is
	// emitted for the item that would have been next.
	Cancelled func() bool

	ToolVersion string
}

func (o Options) cancelled() bool { return o.Cancelled != nil && o.Cancelled() }

// DefaultOptions returns an Options populated with the CLI's documented
// flag defaults.
func DefaultOptions() Options {
	return Options{
		Out:             "",
		Report:          "-",
		DryRun:          false,
		Overwrite:       false,
		CopyUnsupported: false,
		Flat:            false,
		AllowExts:       map[string]bool{},
		MaxFiles:        0,
		MaxBytes:        0,
		Archive:         archive.DefaultConfig(),
		RiskyPolicy:     policy.ModeWarn,
		FailOnWarnings:  false,
		ReportSummary:   true,
		Workers:         1,
		ToolVersion:     "dev",
	}
}
