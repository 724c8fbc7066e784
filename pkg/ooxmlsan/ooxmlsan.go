// Package ooxmlsan rewrites an OOXML ZIP package, dropping the
// document-info members under docProps/ while surfacing (not removing)
// macro indicators. It writes every remaining member in its original
// order, copying its content byte-for-byte; no member is edited.
package ooxmlsan

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/mlawlis/filesanitize/pkg/classify"
	"github.com/mlawlis/filesanitize/pkg/model"
)

// Result carries the rewritten package bytes plus any macro-indicator
// warnings found while scanning member names.
type Result struct {
	Data     []byte
	Warnings []model.Warning
}

// droppedDocProps reports whether name is one of the document-info
// members that must be dropped from sanitized output.
func droppedDocProps(name string) bool {
	switch name {
	case "docProps/core.xml", "docProps/app.xml", "docProps/custom.xml":
		return true
	}
	dir, base := path.Split(name)
	return dir == "docProps/" && strings.HasPrefix(base, "thumbnail.")
}

// Sanitize reads an OOXML ZIP package from data and returns a rewritten
// package omitting docProps/core.xml, docProps/app.xml,
// docProps/custom.xml, and any docProps/thumbnail.* member, with every
// other member preserved bit-for-bit in its original iteration order.
func Sanitize(data []byte, declaredExt string) (Result, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return Result{}, fmt.Errorf("ooxmlsan: reading package: %w", err)
	}

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)

	for _, f := range zr.File {
		if droppedDocProps(f.Name) {
			continue
		}
		header := f.FileHeader
		w, err := zw.CreateHeader(&header)
		if err != nil {
			return Result{}, fmt.Errorf("ooxmlsan: writing header for %s: %w", f.Name, err)
		}
		rc, err := f.Open()
		if err != nil {
			return Result{}, fmt.Errorf("ooxmlsan: opening %s: %w", f.Name, err)
		}
		_, err = io.Copy(w, rc)
		rc.Close()
		if err != nil {
			return Result{}, fmt.Errorf("ooxmlsan: copying %s: %w", f.Name, err)
		}
	}
	if err := zw.Close(); err != nil {
		return Result{}, fmt.Errorf("ooxmlsan: finalizing package: %w", err)
	}

	warnings := scanMacroIndicators(zr, declaredExt)
	return Result{Data: buf.Bytes(), Warnings: warnings}, nil
}

// scanMacroIndicators surfaces, without removing, two macro signals: a
// macro-enabled extension, and the presence of a compiled VBA project
// member anywhere in the package.
func scanMacroIndicators(zr *zip.Reader, declaredExt string) []model.Warning {
	var warnings []model.Warning
	if classify.MacroEnabledExts[strings.ToLower(declaredExt)] {
		warnings = append(warnings, model.W("office_macro_enabled",
			"extension "+declaredExt+" is macro-enabled"))
	}
	for _, f := range zr.File {
		if strings.HasSuffix(f.Name, "/vbaProject.bin") || f.Name == "vbaProject.bin" {
			warnings = append(warnings, model.W("office_macro_indicator_vbaproject",
				"package contains "+f.Name))
			break
		}
	}
	return warnings
}
