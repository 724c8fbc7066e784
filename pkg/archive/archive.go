// Package archive implements the ZIP archive engine: member hardening
// evaluated on central-directory metadata before any decompression,
// bounded reads, a nested-archive policy, and deterministic
// byte-lexicographic iteration. Structure is checked before any member
// content is trusted, and the output archive is assembled in that same
// byte-lexicographic iteration order.
package archive

import (
	"archive/zip"
	"bytes"
	"fmt"
	"os"
	"path"
	"sort"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/mlawlis/filesanitize/pkg/classify"
	"github.com/mlawlis/filesanitize/pkg/imagesan"
	"github.com/mlawlis/filesanitize/pkg/model"
	"github.com/mlawlis/filesanitize/pkg/ooxmlsan"
	"github.com/mlawlis/filesanitize/pkg/pdfsan"
)

// MemberNames reads just the central directory of a candidate ZIP
// buffer and returns its member names, for classification purposes
// (OOXML container reconciliation) without fully processing the
// archive.
func MemberNames(data []byte) ([]string, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("archive: reading central directory: %w", err)
	}
	names := make([]string, len(zr.File))
	for i, f := range zr.File {
		names[i] = f.Name
	}
	return names, nil
}

// NestedPolicy controls how a ZIP-within-a-ZIP member is handled.
type NestedPolicy string

const (
	NestedSkip     NestedPolicy = "skip"
	NestedCopy     NestedPolicy = "copy"
	NestedSanitize NestedPolicy = "sanitize"
)

// Config holds the configurable ceilings and policies for the archive
// engine.
type Config struct {
	MaxMembers          int64
	MaxMemberBytes      int64
	MaxTotalBytes       int64
	MaxCompressionRatio int64
	NestedPolicy        NestedPolicy
	NestedMaxDepth      int
	NestedMaxTotalBytes int64
	CopyUnsupported     bool
}

// DefaultConfig returns the engine's documented default ceilings.
func DefaultConfig() Config {
	return Config{
		MaxMembers:          10000,
		MaxMemberBytes:      128 << 20,
		MaxTotalBytes:       1 << 30,
		MaxCompressionRatio: 100,
		NestedPolicy:        NestedSkip,
		NestedMaxDepth:      4,
		NestedMaxTotalBytes: 1 << 30,
		CopyUnsupported:     false,
	}
}

// Budget accumulates nested-archive recursion state shared across a
// single top-level Sanitize call and all of its recursive invocations.
type Budget struct {
	NestedBytesUsed int64
}

// Result is the outcome of sanitizing one archive: the rewritten
// package bytes and every warning accumulated across its members, in
// emission order.
type Result struct {
	Data     []byte
	Warnings []model.Warning
}

// Sanitize reads a ZIP archive from data, hardens and reclassifies
// each member in byte-lexicographic order, dispatches supported types
// to the per-format sanitizers (or recurses into nested archives per
// cfg.NestedPolicy), and reassembles a new archive containing only the
// surviving members, in the same byte-lexicographic order they were
// iterated in.
//
// An error return means the archive's own central directory could not
// be read; that is the one failure that takes down the whole record
// (action=error), as opposed to a per-member problem, which is always
// recorded as a warning and a dropped member instead.
func Sanitize(data []byte, cfg Config, depth int, budget *Budget) (Result, error) {
	if budget == nil {
		budget = &Budget{}
	}
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return Result{}, fmt.Errorf("archive: reading central directory: %w", err)
	}

	members := append([]*zip.File(nil), zr.File...)
	sort.Slice(members, func(i, j int) bool {
		return members[i].Name < members[j].Name
	})

	var warnings []model.Warning
	warn := func(code, msg string) {
		warnings = append(warnings, model.W(code, msg))
	}

	if int64(len(members)) > cfg.MaxMembers {
		warn("zip_too_many_members", fmt.Sprintf("archive has %d members, exceeding the configured cap of %d", len(members), cfg.MaxMembers))
		members = members[:cfg.MaxMembers]
	}

	type survivor struct {
		file *zip.File
		data []byte
	}
	var survivors []survivor
	seenNames := make(map[string]bool)
	var totalBytes int64

	for _, f := range members {
		name := norm.NFC.String(f.Name)

		if !safeMemberPath(name) {
			warn("zip_unsafe_path", "member path is unsafe: "+f.Name)
			continue
		}
		if isSymlinkMember(f) {
			warn("zip_symlink_skipped", "member is a symlink: "+f.Name)
			continue
		}
		if f.Flags&0x1 != 0 {
			warn("zip_encrypted_skipped", "member is encrypted: "+f.Name)
			continue
		}
		if seenNames[name] {
			warn("zip_duplicate_skipped", "duplicate member name: "+f.Name)
			continue
		}
		seenNames[name] = true

		if f.Mode().IsDir() {
			// Directory entries have no content to sanitize; pass them
			// through so the output tree shape is preserved.
			survivors = append(survivors, survivor{file: f})
			continue
		}

		uncompressed := int64(f.UncompressedSize64)
		compressed := int64(f.CompressedSize64)
		ratio := uncompressed / max(compressed, 1)
		if ratio > cfg.MaxCompressionRatio {
			warn("zip_ratio_exceeded", fmt.Sprintf("member %s has compression ratio %d, exceeding cap %d", f.Name, ratio, cfg.MaxCompressionRatio))
			continue
		}
		if uncompressed > cfg.MaxMemberBytes {
			warn("zip_member_too_large", fmt.Sprintf("member %s declares %d bytes, exceeding per-member cap %d", f.Name, uncompressed, cfg.MaxMemberBytes))
			continue
		}
		if totalBytes+uncompressed > cfg.MaxTotalBytes {
			warn("zip_total_bytes_exceeded", fmt.Sprintf("member %s would push aggregate archive bytes over cap %d", f.Name, cfg.MaxTotalBytes))
			continue
		}

		rc, err := f.Open()
		if err != nil {
			warn("zip_member_too_large", "member could not be opened: "+f.Name)
			continue
		}
		memberData, err := readAllBounded(rc, cfg.MaxMemberBytes)
		rc.Close()
		if err != nil {
			warn("zip_member_too_large", fmt.Sprintf("member %s exceeded the bounded read cap", f.Name))
			continue
		}
		totalBytes += int64(len(memberData))

		sanitized, memberWarnings, keep := dispatchMember(f.Name, memberData, cfg, depth, budget)
		warnings = append(warnings, memberWarnings...)
		if !keep {
			continue
		}
		survivors = append(survivors, survivor{file: f, data: sanitized})
	}

	var out bytes.Buffer
	zw := zip.NewWriter(&out)
	for _, s := range survivors {
		header := s.file.FileHeader
		w, err := zw.CreateHeader(&header)
		if err != nil {
			return Result{}, fmt.Errorf("archive: writing header for %s: %w", s.file.Name, err)
		}
		if s.data != nil {
			if _, err := w.Write(s.data); err != nil {
				return Result{}, fmt.Errorf("archive: writing member %s: %w", s.file.Name, err)
			}
		}
	}
	if err := zw.Close(); err != nil {
		return Result{}, fmt.Errorf("archive: finalizing output: %w", err)
	}

	return Result{Data: out.Bytes(), Warnings: warnings}, nil
}

// dispatchMember reclassifies a hardened member by content and routes
// it to the matching sanitizer, or to nested-archive handling. keep
// reports whether the member should appear in the output at all.
func dispatchMember(name string, data []byte, cfg Config, depth int, budget *Budget) (out []byte, warnings []model.Warning, keep bool) {
	item := model.InputItem{
		SourcePath:  name,
		DeclaredExt: path.Ext(name),
		Relation:    model.ArchiveMember,
		Depth:       depth,
	}
	if depth > 0 {
		item.Relation = model.NestedArchiveMember
	}
	ext := item.DeclaredExt
	prefixLen := classify.MinPrefix
	if len(data) < prefixLen {
		prefixLen = len(data)
	}
	isOOXMLFn := func() bool {
		names, err := MemberNames(data)
		if err != nil {
			return false
		}
		return classify.IsOOXMLContainer(names)
	}
	cls := classify.Classify(data[:prefixLen], ext, isOOXMLFn)
	item.Detected = cls.Type

	switch item.Detected {
	case model.TypeJPEG, model.TypePNG, model.TypeWebP, model.TypeTIFF:
		san, err := imagesan.Sanitize(item.Detected, data)
		if err != nil {
			return nil, []model.Warning{model.W("image_scan_failed", name+": "+err.Error())}, false
		}
		return san, nil, true

	case model.TypePDF:
		res, err := pdfsan.Sanitize(data)
		if err != nil {
			return nil, []model.Warning{model.W("pdf_scan_failed", name+": "+err.Error())}, false
		}
		return res.Data, res.Warnings, true

	case model.TypeOOXML:
		res, err := ooxmlsan.Sanitize(data, ext)
		if err != nil {
			return nil, []model.Warning{model.W("office_ooxml_scan_failed", name+": "+err.Error())}, false
		}
		return res.Data, res.Warnings, true

	case model.TypeZIP:
		return dispatchNestedArchive(name, data, cfg, depth, budget)

	default:
		if cfg.CopyUnsupported {
			return data, nil, true
		}
		return nil, []model.Warning{model.W("zip_unsupported_skipped", "unsupported member type: "+name)}, false
	}
}

func dispatchNestedArchive(name string, data []byte, cfg Config, depth int, budget *Budget) ([]byte, []model.Warning, bool) {
	switch cfg.NestedPolicy {
	case NestedCopy:
		return data, []model.Warning{model.W("zip_nested_archive_copied", "kept nested archive raw: "+name)}, true
	case NestedSanitize:
		if depth+1 > cfg.NestedMaxDepth || budget.NestedBytesUsed+int64(len(data)) > cfg.NestedMaxTotalBytes {
			return nil, []model.Warning{model.W("zip_nested_archive_failed", "nested archive exceeds depth/byte budget: "+name)}, false
		}
		budget.NestedBytesUsed += int64(len(data))
		res, err := Sanitize(data, cfg, depth+1, budget)
		if err != nil {
			return nil, []model.Warning{model.W("zip_nested_archive_failed", name+": "+err.Error())}, false
		}
		warnings := append([]model.Warning{model.W("zip_nested_archive_sanitized", "recursively sanitized nested archive: "+name)}, res.Warnings...)
		return res.Data, warnings, true
	default: // NestedSkip
		return nil, []model.Warning{model.W("zip_nested_archive_skipped", "dropped nested archive: "+name)}, false
	}
}

// safeMemberPath rejects absolute paths, ".." components, and any path
// that normalizes outside the archive root.
func safeMemberPath(name string) bool {
	if name == "" {
		return false
	}
	if path.IsAbs(name) {
		return false
	}
	cleaned := path.Clean(name)
	if cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return false
	}
	for _, part := range strings.Split(name, "/") {
		if part == ".." {
			return false
		}
	}
	return true
}

// isSymlinkMember reports whether a ZIP entry's Unix external file
// attributes mark it as a symbolic link.
func isSymlinkMember(f *zip.File) bool {
	return f.Mode()&os.ModeSymlink != 0
}
