package sanitizer

import (
	"fmt"
	"path"

	"github.com/mlawlis/filesanitize/pkg/archive"
	"github.com/mlawlis/filesanitize/pkg/classify"
	"github.com/mlawlis/filesanitize/pkg/imagesan"
	"github.com/mlawlis/filesanitize/pkg/model"
	"github.com/mlawlis/filesanitize/pkg/ooxmlsan"
	"github.com/mlawlis/filesanitize/pkg/pdfsan"
)

// dispatchOutcome is the result of sanitizing one InputItem's bytes,
// before the Policy Gate and atomic write are applied.
type dispatchOutcome struct {
	Action      model.Action
	Output      []byte
	HasOutput   bool
	Warnings    []model.Warning
	ErrorDetail string
}

// dispatchItem classifies item's bytes and routes them to the matching
// sanitizer, or to the archive engine for ZIP/OOXML-as-container
// inputs.
func dispatchItem(item model.InputItem, data []byte, copyUnsupported bool, ac archive.Config) dispatchOutcome {
	name := item.SourcePath
	ext := item.DeclaredExt
	if ext == "" {
		ext = path.Ext(name)
	}
	prefixLen := classify.MinPrefix
	if len(data) < prefixLen {
		prefixLen = len(data)
	}
	isOOXMLFn := func() bool {
		names, err := archive.MemberNames(data)
		if err != nil {
			return false
		}
		return classify.IsOOXMLContainer(names)
	}
	cls := classify.Classify(data[:prefixLen], ext, isOOXMLFn)
	item.Detected = cls.Type

	outcome := dispatchOutcome{}
	if cls.Warning != nil {
		outcome.Warnings = append(outcome.Warnings, *cls.Warning)
	}

	switch item.Detected {
	case model.TypeJPEG, model.TypePNG, model.TypeWebP, model.TypeTIFF:
		out, err := imagesan.Sanitize(item.Detected, data)
		if err != nil {
			outcome.Action = model.ActionError
			outcome.ErrorDetail = fmt.Sprintf("sanitizing %s: %v", name, err)
			return outcome
		}
		outcome.Action = model.ActionImageSanitized
		outcome.Output = out
		outcome.HasOutput = true
		return outcome

	case model.TypePDF:
		res, err := pdfsan.Sanitize(data)
		if err != nil {
			outcome.Action = model.ActionError
			outcome.Warnings = append(outcome.Warnings, model.W("pdf_scan_failed", err.Error()))
			outcome.ErrorDetail = fmt.Sprintf("sanitizing %s: %v", name, err)
			return outcome
		}
		outcome.Action = model.ActionPDFSanitized
		outcome.Output = res.Data
		outcome.HasOutput = true
		outcome.Warnings = append(outcome.Warnings, res.Warnings...)
		return outcome

	case model.TypeOOXML:
		res, err := ooxmlsan.Sanitize(data, ext)
		if err != nil {
			outcome.Action = model.ActionError
			outcome.Warnings = append(outcome.Warnings, model.W("office_ooxml_scan_failed", err.Error()))
			outcome.ErrorDetail = fmt.Sprintf("sanitizing %s: %v", name, err)
			return outcome
		}
		outcome.Action = model.ActionOfficeSanitized
		outcome.Output = res.Data
		outcome.HasOutput = true
		outcome.Warnings = append(outcome.Warnings, res.Warnings...)
		return outcome

	case model.TypeZIP:
		res, err := archive.Sanitize(data, ac, 0, nil)
		if err != nil {
			outcome.Action = model.ActionError
			outcome.ErrorDetail = fmt.Sprintf("sanitizing archive %s: %v", name, err)
			return outcome
		}
		outcome.Action = model.ActionZipSanitized
		outcome.Output = res.Data
		outcome.HasOutput = true
		outcome.Warnings = append(outcome.Warnings, res.Warnings...)
		return outcome

	default:
		if copyUnsupported {
			outcome.Action = model.ActionCopied
			outcome.Output = data
			outcome.HasOutput = true
			return outcome
		}
		outcome.Action = model.ActionSkipped
		return outcome
	}
}
