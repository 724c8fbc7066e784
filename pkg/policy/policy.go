// Package policy implements the risky-content trust gate: given a
// built record's warnings, decide whether the output may be written or
// must be blocked, by checking each warning code against a closed set
// of risky codes.
package policy

import "strings"

// Mode is the configured risky_policy value.
type Mode string

const (
	ModeWarn  Mode = "warn"
	ModeBlock Mode = "block"
)

// riskyPrefixes and riskyExact together form the closed set of warning
// codes that, under ModeBlock, block output. Prefixes cover the
// pdf_risk_*, office_macro_*, and zip_nested_archive_* families; every
// other code is matched exactly.
var riskyPrefixes = []string{
	"pdf_risk_",
	"office_macro_",
	"zip_nested_archive_",
}

var riskyExact = map[string]bool{
	"pdf_scan_failed":          true,
	"office_ooxml_scan_failed": true,
	"zip_unsafe_path":          true,
	"zip_symlink_skipped":      true,
	"zip_encrypted_skipped":    true,
	"zip_too_many_members":     true,
	"zip_member_too_large":     true,
	"zip_ratio_exceeded":       true,
	"zip_total_bytes_exceeded": true,
}

// IsRisky reports whether code is in the closed risky-warning-code set.
func IsRisky(code string) bool {
	if riskyExact[code] {
		return true
	}
	for _, p := range riskyPrefixes {
		if strings.HasPrefix(code, p) {
			return true
		}
	}
	return false
}

// ShouldBlock reports whether, under mode, the given warning codes
// require blocking the output write.
func ShouldBlock(mode Mode, codes []string) bool {
	if mode != ModeBlock {
		return false
	}
	for _, c := range codes {
		if IsRisky(c) {
			return true
		}
	}
	return false
}
