// Package model defines the data shapes shared across the sanitization
// pipeline: the unit of work (InputItem), the closed content-type and
// action vocabularies, warnings, report records, and per-run counters.
package model

import "time"

// ContentType is a closed tag for everything the pipeline can classify.
type ContentType string

const (
	TypeJPEG    ContentType = "image/jpeg"
	TypePNG     ContentType = "image/png"
	TypeWebP    ContentType = "image/webp"
	TypeTIFF    ContentType = "image/tiff"
	TypePDF     ContentType = "application/pdf"
	TypeZIP     ContentType = "application/zip"
	TypeOOXML   ContentType = "application/ooxml"
	TypeUnknown ContentType = "unknown"
)

// Supported reports whether the type has a dedicated handler: a
// per-format sanitizer, or the archive engine for ZIP.
func (c ContentType) Supported() bool {
	switch c {
	case TypeJPEG, TypePNG, TypeWebP, TypeTIFF, TypePDF, TypeZIP, TypeOOXML:
		return true
	default:
		return false
	}
}

// Relationship describes where an InputItem sits in the traversal.
type Relationship int

const (
	TopLevel Relationship = iota
	ArchiveMember
	NestedArchiveMember
)

// InputItem is a single unit of work. Immutable once constructed.
type InputItem struct {
	// SourcePath is a file-system path for top-level inputs, or an
	// archive-member path (possibly with a synthetic "outer.zip!inner"
	// prefix for nested members) otherwise.
	SourcePath string
	// DeclaredExt is the extension taken at face value from SourcePath.
	DeclaredExt string
	// Detected is populated once classification has run.
	Detected ContentType
	Relation Relationship
	// Depth is 0 for top-level and archive-member items, and >=1 for
	// nested-archive members (the archive depth they were found at).
	Depth int
}

// Action is the closed set of outcomes a Record can report.
type Action string

const (
	ActionImageSanitized  Action = "image_sanitized"
	ActionPDFSanitized    Action = "pdf_sanitized"
	ActionZipSanitized    Action = "zip_sanitized"
	ActionOfficeSanitized Action = "office_sanitized"
	ActionCopied          Action = "copied"
	ActionSkipped         Action = "skipped"
	ActionExcluded        Action = "excluded"
	ActionBlocked         Action = "blocked"
	ActionError           Action = "error"
	ActionTruncated       Action = "truncated"

	ActionWouldImageSanitize  Action = "would_image_sanitize"
	ActionWouldPDFSanitize    Action = "would_pdf_sanitize"
	ActionWouldZipSanitize    Action = "would_zip_sanitize"
	ActionWouldOfficeSanitize Action = "would_office_sanitize"
	ActionWouldCopy           Action = "would_copy"
	ActionWouldBlock          Action = "would_block"
)

// DryRunAction maps a would-be real action to its dry-run counterpart.
func DryRunAction(a Action) Action {
	switch a {
	case ActionImageSanitized:
		return ActionWouldImageSanitize
	case ActionPDFSanitized:
		return ActionWouldPDFSanitize
	case ActionZipSanitized:
		return ActionWouldZipSanitize
	case ActionOfficeSanitized:
		return ActionWouldOfficeSanitize
	case ActionCopied:
		return ActionWouldCopy
	case ActionBlocked:
		return ActionWouldBlock
	default:
		return a
	}
}

// Warning is {code, message}; code is the stable, closed identifier and
// message is advisory free text.
type Warning struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func W(code, message string) Warning { return Warning{Code: code, Message: message} }

// Record is one JSONL line: exactly one per processed InputItem.
type Record struct {
	ReportVersion int       `json:"report_version"`
	InputPath     string    `json:"input_path"`
	OutputPath    *string   `json:"output_path"`
	Action        Action    `json:"action"`
	Warnings      []Warning `json:"warnings"`
	Error         *string   `json:"error"`
}

// RunState is the single orchestrator-owned mutable object for a run.
type RunState struct {
	FilesSeen      int64
	BytesSeen      int64
	CountsByAction map[Action]int64
	WarningsCount  int64
	ErrorsCount    int64
	StartedAt      time.Time
	EndedAt        time.Time

	MaxFiles int64
	MaxBytes int64
}

// NewRunState creates a RunState with the given ceilings (0 = unbounded).
func NewRunState(maxFiles, maxBytes int64) *RunState {
	return &RunState{
		CountsByAction: make(map[Action]int64),
		MaxFiles:       maxFiles,
		MaxBytes:       maxBytes,
	}
}

// Record folds a finished Record's outcome into the run counters.
func (rs *RunState) Record(rec Record) {
	rs.FilesSeen++
	rs.CountsByAction[rec.Action]++
	rs.WarningsCount += int64(len(rec.Warnings))
	if rec.Action == ActionError {
		rs.ErrorsCount++
	}
}
