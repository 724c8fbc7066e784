package pdfsan

import (
	"bytes"
	"testing"

	"github.com/mlawlis/filesanitize/pkg/model"
)

func buildTestPDF(info string, extra string) []byte {
	var buf bytes.Buffer
	buf.WriteString("%PDF-1.4\n")
	buf.WriteString("1 0 obj\n<< /Type /Catalog " + extra + " >>\nendobj\n")
	buf.WriteString("2 0 obj\n<< " + info + " >>\nendobj\n")
	buf.WriteString("trailer\n<< /Root 1 0 R /Info 2 0 R >>\n")
	buf.WriteString("%%EOF\n")
	return buf.Bytes()
}

func TestSanitizeRemovesInfoDictBody(t *testing.T) {
	src := buildTestPDF("/Author (Bob) /Title (Secret)", "")
	res, err := Sanitize(src)
	if err != nil {
		t.Fatalf("Sanitize: %v", err)
	}
	if bytes.Contains(res.Data, []byte("Bob")) || bytes.Contains(res.Data, []byte("Secret")) {
		t.Fatalf("expected /Info body redacted, got %s", res.Data)
	}
	if len(res.Data) != len(src) {
		t.Fatalf("expected length-preserving redaction: got %d want %d", len(res.Data), len(src))
	}
}

func TestSanitizePreservesUnrelatedBytes(t *testing.T) {
	src := buildTestPDF("/Author (Bob)", "")
	res, err := Sanitize(src)
	if err != nil {
		t.Fatalf("Sanitize: %v", err)
	}
	if !bytes.Contains(res.Data, []byte("/Type /Catalog")) {
		t.Fatal("expected catalog object untouched")
	}
	if !bytes.Contains(res.Data, []byte("trailer")) {
		t.Fatal("expected trailer untouched")
	}
}

func TestSanitizeDetectsOpenAction(t *testing.T) {
	src := buildTestPDF("/Author (Bob)", "/OpenAction 3 0 R")
	res, err := Sanitize(src)
	if err != nil {
		t.Fatalf("Sanitize: %v", err)
	}
	if !hasCode(res.Warnings, "pdf_risk_openaction") {
		t.Fatalf("expected pdf_risk_openaction, got %+v", res.Warnings)
	}
}

func TestSanitizeDetectsJavaScriptFormAndEmbeddedFiles(t *testing.T) {
	src := buildTestPDF("/Author (Bob)", "/AA << >> /AcroForm 4 0 R /Names << /EmbeddedFiles 5 0 R >> /OpenAction << /S /JavaScript /JS (app.alert('hi')) >>")
	res, err := Sanitize(src)
	if err != nil {
		t.Fatalf("Sanitize: %v", err)
	}
	for _, code := range []string{"pdf_risk_action", "pdf_risk_form", "pdf_risk_embedded_file", "pdf_risk_javascript", "pdf_risk_openaction"} {
		if !hasCode(res.Warnings, code) {
			t.Errorf("expected %s, got %+v", code, res.Warnings)
		}
	}
}

func TestSanitizeCleanDocumentHasNoWarnings(t *testing.T) {
	src := buildTestPDF("/Author (Bob)", "")
	res, err := Sanitize(src)
	if err != nil {
		t.Fatalf("Sanitize: %v", err)
	}
	if len(res.Warnings) != 0 {
		t.Fatalf("expected no risk warnings, got %+v", res.Warnings)
	}
}

func TestSanitizeRejectsNonPDF(t *testing.T) {
	if _, err := Sanitize([]byte("not a pdf")); err == nil {
		t.Fatal("expected error for missing ", "%PDF-", " header")
	}
}

func TestSanitizeRejectsTruncatedPDF(t *testing.T) {
	src := []byte("%PDF-1.4\n1 0 obj\n<< >>\nendobj\n")
	if _, err := Sanitize(src); err == nil {
		t.Fatal("expected error for missing ", "%%EOF")
	}
}

func TestSanitizeRedactsMetadataStream(t *testing.T) {
	var buf bytes.Buffer
	buf.WriteString("%PDF-1.4\n")
	buf.WriteString("3 0 obj\n<< /Type /Metadata /Subtype /XML /Length 20 >>\nstream\n<x:xmpmeta>secret</x:xmpmeta>\nendstream\nendobj\n")
	buf.WriteString("trailer\n<< /Root 1 0 R >>\n")
	buf.WriteString("%%EOF\n")
	res, err := Sanitize(buf.Bytes())
	if err != nil {
		t.Fatalf("Sanitize: %v", err)
	}
	if bytes.Contains(res.Data, []byte("secret")) {
		t.Fatalf("expected XMP metadata stream redacted, got %s", res.Data)
	}
	if len(res.Data) != buf.Len() {
		t.Fatalf("expected length-preserving redaction")
	}
}

func hasCode(warnings []model.Warning, code string) bool {
	for _, w := range warnings {
		if w.Code == code {
			return true
		}
	}
	return false
}
