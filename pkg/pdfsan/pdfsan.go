// Package pdfsan removes document-info metadata from a PDF (the `/Info`
// dictionary and any XMP metadata stream) and scans the object graph for
// active-content indicators. It never parses a full object/xref model:
// instead it scans the raw byte stream for object bodies and dictionary
// keys, and blanks matched spans in place so no other offset in the
// file needs to move.
package pdfsan

import (
	"bytes"
	"fmt"
	"regexp"

	"github.com/mlawlis/filesanitize/pkg/model"
)

// Result carries the sanitized bytes plus any risk-indicator warnings.
type Result struct {
	Data     []byte
	Warnings []model.Warning
}

var (
	trailerRe = regexp.MustCompile(`(?s)trailer\s*<<(.*?)>>`)
	infoRefRe = regexp.MustCompile(`/Info\s+(\d+)\s+(\d+)\s+R`)

	metadataStreamRe = regexp.MustCompile(`(?s)/Type\s*/Metadata.*?stream\r?\n(.*?)endstream`)

	openActionRe   = regexp.MustCompile(`/OpenAction\b`)
	jsActionRe     = regexp.MustCompile(`/JS\b|/JavaScript\b`)
	aaActionRe     = regexp.MustCompile(`/AA\b`)
	acroFormRe     = regexp.MustCompile(`/AcroForm\b`)
	embeddedFileRe = regexp.MustCompile(`/EmbeddedFiles\b`)
)

// Sanitize returns the redacted PDF bytes and the set of risk warnings
// found. An error return means parsing failed outright: the caller
// must produce action=error and write no output, not a best-effort
// partial copy.
func Sanitize(data []byte) (Result, error) {
	if !bytes.HasPrefix(bytes.TrimLeft(data, "\x00\t\n\r "), []byte("%PDF-")) {
		return Result{}, fmt.Errorf("pdfsan: missing %%PDF- header")
	}
	if !bytes.Contains(data, []byte("%%EOF")) {
		return Result{}, fmt.Errorf("pdfsan: missing %%%%EOF trailer marker")
	}

	out := append([]byte(nil), data...)

	if err := redactInfoDict(out); err != nil {
		return Result{}, err
	}
	redactMetadataStreams(out)

	warnings := scanRiskIndicators(data)

	return Result{Data: out, Warnings: warnings}, nil
}

// redactInfoDict finds each trailer's /Info indirect reference, locates
// that object's byte span, and blanks its dictionary body to spaces,
// in place. An incrementally updated PDF carries one trailer per
// update, each of which may point at its own /Info object, so every
// trailer is consulted. Blanking preserves the object's length (and
// thus every downstream xref offset) while destroying its content.
func redactInfoDict(buf []byte) error {
	trailers := trailerRe.FindAll(buf, -1)
	if trailers == nil {
		// No trailer found (e.g. a linearized or cross-reference-stream
		// PDF with no classic trailer keyword); absence of /Info is not
		// a scan failure, it just means there is nothing to redact.
		return nil
	}
	for _, trailer := range trailers {
		m := infoRefRe.FindSubmatch(trailer)
		if m == nil {
			continue
		}
		objNum := string(m[1])
		genNum := string(m[2])

		objPattern := regexp.MustCompile(`(?s)\b` + objNum + `\s+` + genNum + `\s+obj(.*?)endobj`)
		for _, loc := range objPattern.FindAllSubmatchIndex(buf, -1) {
			blankSpan(buf, loc[2], loc[3])
		}
	}
	return nil
}

// redactMetadataStreams blanks the payload of every XMP metadata stream
// (any stream whose dictionary declares /Type /Metadata) found anywhere
// in the file, in place. Matches are found all at once up front: blanking
// a payload preserves its length but still contains the literal "stream"/
// "endstream" markers the pattern anchors on, so a repeated single-shot
// search would keep rematching the same, now-blank span forever.
func redactMetadataStreams(buf []byte) {
	for _, loc := range metadataStreamRe.FindAllSubmatchIndex(buf, -1) {
		blankSpan(buf, loc[2], loc[3])
	}
}

// blankSpan overwrites buf[start:end] with spaces, leaving every other
// byte offset in the file unchanged.
func blankSpan(buf []byte, start, end int) {
	for i := start; i < end; i++ {
		buf[i] = ' '
	}
}

// scanRiskIndicators reports every active-content indicator present,
// from a closed code list. Detection is textual and deliberately
// coarse: a false positive (flagging a key that happens to appear
// inside an unrelated string) is acceptable because this is a
// scan-and-warn step, never a transform.
func scanRiskIndicators(data []byte) []model.Warning {
	var warnings []model.Warning
	add := func(found bool, code, msg string) {
		if found {
			warnings = append(warnings, model.W(code, msg))
		}
	}
	add(openActionRe.Match(data), "pdf_risk_openaction", "document catalog contains /OpenAction")
	add(jsActionRe.Match(data), "pdf_risk_javascript", "document contains a /JS or /JavaScript action")
	add(aaActionRe.Match(data), "pdf_risk_action", "document contains an /AA additional-actions entry")
	add(acroFormRe.Match(data), "pdf_risk_form", "document contains an /AcroForm")
	add(embeddedFileRe.Match(data), "pdf_risk_embedded_file", "document contains an /EmbeddedFiles name tree")
	return warnings
}
