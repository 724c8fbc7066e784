// Package classify detects content type from magic bytes and reconciles
// it with a declared file extension, per the closed rule list in the
// content-classifier component. Detection is a pure function of the byte
// prefix and the extension: same inputs always yield the same ContentType
// and warning.
package classify

import (
	"bytes"
	"strings"

	"github.com/mlawlis/filesanitize/pkg/model"
)

// MinPrefix is the minimum number of leading bytes classification needs.
const MinPrefix = 16

var (
	jpegMagic = []byte{0xFF, 0xD8, 0xFF}
	pngMagic  = []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A}
	pdfMagic  = []byte("%PDF-")
	tiffLE    = []byte{0x49, 0x49, 0x2A, 0x00} // "II*\0"
	tiffBE    = []byte{0x4D, 0x4D, 0x00, 0x2A} // "MM\0*"
	zipLocal  = []byte{0x50, 0x4B, 0x03, 0x04}
	zipEmpty  = []byte{0x50, 0x4B, 0x05, 0x06}
)

// sniff returns the type implied purely by magic bytes, ignoring any ZIP
// vs OOXML distinction (the caller resolves that with central-directory
// info it's the only one who has).
func sniff(prefix []byte) model.ContentType {
	switch {
	case bytes.HasPrefix(prefix, jpegMagic):
		return model.TypeJPEG
	case bytes.HasPrefix(prefix, pngMagic):
		return model.TypePNG
	case isWebP(prefix):
		return model.TypeWebP
	case bytes.HasPrefix(prefix, tiffLE), bytes.HasPrefix(prefix, tiffBE):
		return model.TypeTIFF
	case bytes.HasPrefix(prefix, pdfMagic):
		return model.TypePDF
	case bytes.HasPrefix(prefix, zipLocal), bytes.HasPrefix(prefix, zipEmpty):
		return model.TypeZIP
	default:
		return model.TypeUnknown
	}
}

func isWebP(prefix []byte) bool {
	return len(prefix) >= 12 &&
		bytes.Equal(prefix[0:4], []byte("RIFF")) &&
		bytes.Equal(prefix[8:12], []byte("WEBP"))
}

var extToType = map[string]model.ContentType{
	".jpg": model.TypeJPEG, ".jpeg": model.TypeJPEG,
	".png":  model.TypePNG,
	".webp": model.TypeWebP,
	".tif":  model.TypeTIFF, ".tiff": model.TypeTIFF,
	".pdf": model.TypePDF,
	".zip": model.TypeZIP,
	".docx": model.TypeOOXML, ".xlsx": model.TypeOOXML, ".pptx": model.TypeOOXML,
	".docm": model.TypeOOXML, ".xlsm": model.TypeOOXML, ".pptm": model.TypeOOXML,
	".dotm": model.TypeOOXML, ".xltm": model.TypeOOXML, ".potm": model.TypeOOXML,
}

// MacroEnabledExts is the closed set of OOXML extensions that imply macro
// support.
var MacroEnabledExts = map[string]bool{
	".docm": true, ".xlsm": true, ".pptm": true,
	".dotm": true, ".xltm": true, ".potm": true,
}

// TypeForExt reports the ContentType implied by a declared extension
// (case-insensitive), for CLI collaborators that need to translate a
// human-facing "--allow-ext .pdf" flag into the detected-type vocabulary
// the allowlist filters on.
func TypeForExt(ext string) (model.ContentType, bool) {
	t, ok := extToType[strings.ToLower(ext)]
	return t, ok
}

// IsOOXMLContainer reports whether a ZIP central directory names both
// "[Content_Types].xml" and a "docProps/" member, the signature that
// distinguishes an OOXML package from a plain ZIP.
func IsOOXMLContainer(names []string) bool {
	hasContentTypes := false
	hasDocProps := false
	for _, n := range names {
		if n == "[Content_Types].xml" {
			hasContentTypes = true
		}
		if strings.HasPrefix(n, "docProps/") {
			hasDocProps = true
		}
	}
	return hasContentTypes && hasDocProps
}

// Result is the outcome of classifying one candidate.
type Result struct {
	Type    model.ContentType
	Warning *model.Warning
}

// Classify applies the classification rules in order: sniff magic bytes,
// then reconcile against the declared extension. isOOXML should report
// whether a ZIP candidate's central directory satisfies IsOOXMLContainer;
// it is only consulted when the sniffed type is TypeZIP.
func Classify(prefix []byte, declaredExt string, isOOXML func() bool) Result {
	detected := sniff(prefix)
	if detected == model.TypeZIP && isOOXML != nil && isOOXML() {
		detected = model.TypeOOXML
	}

	ext := strings.ToLower(declaredExt)
	extType, hasExt := extToType[ext]

	switch {
	case !hasExt:
		// No extension-based expectation; trust the bytes silently.
		return Result{Type: detected}
	case extType == detected:
		return Result{Type: detected}
	case detected == model.TypeOOXML:
		return Result{
			Type: detected,
			Warning: warn("content_type_detected_ooxml",
				"detected an OOXML package under extension "+ext),
		}
	case detected.Supported():
		// Bytes say something different but supported/known: trust bytes.
		return Result{
			Type: detected,
			Warning: warn("content_type_detected",
				"detected content type "+string(detected)+" does not match extension "+ext),
		}
	case extType.Supported():
		// Extension implies a supported format the bytes don't back up.
		return Result{
			Type: model.TypeUnknown,
			Warning: warn("content_type_mismatch",
				"extension "+ext+" implies "+string(extType)+" but bytes do not match"),
		}
	default:
		return Result{Type: detected}
	}
}

func warn(code, msg string) *model.Warning {
	w := model.W(code, msg)
	return &w
}
