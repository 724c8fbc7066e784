// Package godog_test runs end-to-end scenarios S1-S6 as Gherkin
// features, via a TestFeatures entry point wiring a
// ScenarioInitializer to godog.TestSuite.
package godog_test

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/cucumber/godog"

	"github.com/mlawlis/filesanitize/pkg/archive"
	"github.com/mlawlis/filesanitize/pkg/model"
	"github.com/mlawlis/filesanitize/pkg/policy"
	"github.com/mlawlis/filesanitize/pkg/report"
	"github.com/mlawlis/filesanitize/pkg/sanitizer"
)

func TestFeatures(t *testing.T) {
	suite := godog.TestSuite{
		ScenarioInitializer: initializeScenario,
		Options: &godog.Options{
			Format:        "pretty",
			Paths:         []string{"features"},
			TestingT:      t,
			StopOnFailure: false,
			Strict:        true,
		},
	}
	if suite.Run() != 0 {
		t.Fatal("non-zero status returned from godog, check output above for failures")
	}
}

// scenarioState carries one scenario's fixture, run configuration, and
// observed results between step definitions.
type scenarioState struct {
	dir       string
	input     string
	out       string
	records   []model.Record
	exitCode  int
	reportBuf bytes.Buffer
	opts      sanitizer.Options
}

func initializeScenario(ctx *godog.ScenarioContext) {
	var s *scenarioState

	ctx.Before(func(goCtx context.Context, sc *godog.Scenario) (context.Context, error) {
		dir, err := os.MkdirTemp("", "sanitize-godog-")
		if err != nil {
			return goCtx, err
		}
		s = &scenarioState{dir: dir, opts: sanitizer.DefaultOptions()}
		return goCtx, nil
	})
	ctx.After(func(goCtx context.Context, sc *godog.Scenario, err error) (context.Context, error) {
		if s != nil {
			os.RemoveAll(s.dir)
		}
		return goCtx, err
	})

	ctx.Step(`^a JPEG fixture "([^"]+)" with an EXIF ImageDescription of "([^"]+)"$`, func(name, description string) error {
		s.input = filepath.Join(s.dir, name)
		return os.WriteFile(s.input, buildJPEGWithEXIF(description), 0o644)
	})

	ctx.Step(`^a PDF fixture "([^"]+)" with an Author of "([^"]+)" and an OpenAction$`, func(name, author string) error {
		s.input = filepath.Join(s.dir, name)
		return os.WriteFile(s.input, buildPDF(author, true), 0o644)
	})

	ctx.Step(`^a ZIP fixture "([^"]+)" containing an unsafe path, a symlink named "([^"]+)", and a clean JPEG member "([^"]+)"$`, func(name, symlinkName, jpegName string) error {
		s.input = filepath.Join(s.dir, name)
		data := buildUnsafeZip(symlinkName, jpegName)
		return os.WriteFile(s.input, data, 0o644)
	})

	ctx.Step(`^a ZIP fixture "([^"]+)" containing a nested ZIP "([^"]+)" with a JPEG member "([^"]+)" carrying EXIF metadata$`, func(name, innerName, memberName string) error {
		s.input = filepath.Join(s.dir, name)
		inner := buildZip(map[string][]byte{memberName: buildJPEGWithEXIF("secret")})
		outer := buildZip(map[string][]byte{innerName: inner})
		return os.WriteFile(s.input, outer, 0o644)
	})

	ctx.Step(`^a directory fixture containing (\d+) JPEG files$`, func(n int) error {
		s.input = s.dir
		names := []string{"a", "b", "c", "d", "e", "f", "g", "h"}
		for i := 0; i < n && i < len(names); i++ {
			p := filepath.Join(s.dir, names[i]+".jpg")
			if err := os.WriteFile(p, buildJPEGWithEXIF(""), 0o644); err != nil {
				return err
			}
		}
		return nil
	})

	ctx.Step(`^a DOCM fixture "([^"]+)" with docProps/core\.xml and a vbaProject\.bin member$`, func(name string) error {
		s.input = filepath.Join(s.dir, name)
		data := buildZip(map[string][]byte{
			"[Content_Types].xml": []byte("<Types/>"),
			"docProps/core.xml":   []byte("<core/>"),
			"word/document.xml":   []byte("<document/>"),
			"word/vbaProject.bin": []byte("binary"),
		})
		return os.WriteFile(s.input, data, 0o644)
	})

	ctx.Step(`^I sanitize it with default options$`, func() error {
		return s.run()
	})
	ctx.Step(`^I sanitize it with risky policy "([^"]+)"$`, func(mode string) error {
		s.opts.RiskyPolicy = policy.Mode(mode)
		return s.run()
	})
	ctx.Step(`^I sanitize it with nested archive policy "([^"]+)" and nested max depth (\d+)$`, func(mode string, depth int) error {
		s.opts.Archive.NestedPolicy = archive.NestedPolicy(mode)
		s.opts.Archive.NestedMaxDepth = depth
		return s.run()
	})
	ctx.Step(`^I sanitize it with max files (\d+)$`, func(n int64) error {
		s.opts.MaxFiles = n
		return s.run()
	})

	ctx.Step(`^the record action is "([^"]+)"$`, func(action string) error {
		if len(s.records) == 0 {
			return fmt.Errorf("no records emitted")
		}
		rec := s.records[0]
		if string(rec.Action) != action {
			return fmt.Errorf("expected action %q, got %q", action, rec.Action)
		}
		return nil
	})
	ctx.Step(`^the record has warning "([^"]+)"$`, func(code string) error {
		for _, w := range s.records[0].Warnings {
			if w.Code == code {
				return nil
			}
		}
		return fmt.Errorf("expected warning %q, got %+v", code, s.records[0].Warnings)
	})
	ctx.Step(`^the exit code is (\d+)$`, func(want int) error {
		if s.exitCode != want {
			return fmt.Errorf("expected exit code %d, got %d", want, s.exitCode)
		}
		return nil
	})
	ctx.Step(`^the output contains no EXIF APP1 marker$`, func() error {
		data, err := os.ReadFile(s.outputPath())
		if err != nil {
			return err
		}
		if bytes.Contains(data, []byte{0xFF, 0xE1}) || bytes.Contains(data, []byte("secret")) {
			return fmt.Errorf("expected no APP1/EXIF marker in sanitized output")
		}
		return nil
	})
	ctx.Step(`^the output archive contains only member "([^"]+)"$`, func(name string) error {
		names, err := zipMemberNames(s.outputPath())
		if err != nil {
			return err
		}
		if len(names) != 1 || names[0] != name {
			return fmt.Errorf("expected only member %q, got %v", name, names)
		}
		return nil
	})
	ctx.Step(`^the output archive contains member "([^"]+)"$`, func(name string) error {
		names, err := zipMemberNames(s.outputPath())
		if err != nil {
			return err
		}
		for _, n := range names {
			if n == name {
				return nil
			}
		}
		return fmt.Errorf("expected member %q, got %v", name, names)
	})
	ctx.Step(`^the output archive contains no member "([^"]+)"$`, func(name string) error {
		names, err := zipMemberNames(s.outputPath())
		if err != nil {
			return err
		}
		for _, n := range names {
			if n == name {
				return fmt.Errorf("expected %q absent, got %v", name, names)
			}
		}
		return nil
	})
	ctx.Step(`^the output archive's nested "([^"]+)" contains member "([^"]+)"$`, func(innerName, memberName string) error {
		data, err := os.ReadFile(s.outputPath())
		if err != nil {
			return err
		}
		zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
		if err != nil {
			return err
		}
		for _, f := range zr.File {
			if f.Name != innerName {
				continue
			}
			rc, err := f.Open()
			if err != nil {
				return err
			}
			var buf bytes.Buffer
			buf.ReadFrom(rc)
			rc.Close()
			innerNames, err := zipMemberNames2(buf.Bytes())
			if err != nil {
				return err
			}
			for _, n := range innerNames {
				if n == memberName {
					return nil
				}
			}
			return fmt.Errorf("expected nested member %q in %q, got %v", memberName, innerName, innerNames)
		}
		return fmt.Errorf("expected nested archive %q in output", innerName)
	})
	ctx.Step(`^exactly (\d+) file records were emitted$`, func(n int) error {
		count := 0
		for _, r := range s.records {
			if r.Action != model.ActionTruncated {
				count++
			}
		}
		if count != n {
			return fmt.Errorf("expected %d file records, got %d (%+v)", n, count, s.records)
		}
		return nil
	})
	ctx.Step(`^a terminal "truncated" record was emitted$`, func() error {
		if len(s.records) == 0 || s.records[len(s.records)-1].Action != model.ActionTruncated {
			return fmt.Errorf("expected a terminal truncated record, got %+v", s.records)
		}
		return nil
	})
}

// outputPath returns the single top-level output file's path: --out is
// always a root directory, so the produced file sits at --out joined
// with the input's base name.
func (s *scenarioState) outputPath() string {
	return filepath.Join(s.out, filepath.Base(s.input))
}

func (s *scenarioState) run() error {
	s.opts.Input = s.input
	s.out = filepath.Join(s.dir, "out")
	if err := os.MkdirAll(s.out, 0o755); err != nil {
		return err
	}
	s.opts.Out = s.out
	s.opts.ReportSummary = false

	rw := report.New(&s.reportBuf)
	code, err := sanitizer.Run(s.opts, rw)
	if err != nil {
		return err
	}
	s.exitCode = code

	s.records = nil
	for _, line := range strings.Split(strings.TrimSpace(s.reportBuf.String()), "\n") {
		if line == "" {
			continue
		}
		var rec model.Record
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			return err
		}
		s.records = append(s.records, rec)
	}
	return nil
}

func zipMemberNames(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return zipMemberNames2(data)
}

func zipMemberNames2(data []byte) ([]string, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, err
	}
	var names []string
	for _, f := range zr.File {
		names = append(names, f.Name)
	}
	return names, nil
}

func buildZip(entries map[string][]byte) []byte {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, data := range entries {
		w, err := zw.Create(name)
		if err != nil {
			panic(err)
		}
		w.Write(data)
	}
	zw.Close()
	return buf.Bytes()
}

func buildUnsafeZip(symlinkName, jpegName string) []byte {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)

	w, _ := zw.Create("../evil.txt")
	w.Write([]byte("escape"))

	hdr := &zip.FileHeader{Name: symlinkName, Method: zip.Deflate}
	hdr.SetMode(os.ModeSymlink | 0o777)
	lw, _ := zw.CreateHeader(hdr)
	lw.Write([]byte(jpegName))

	jw, _ := zw.Create(jpegName)
	jw.Write(buildJPEGWithEXIF(""))

	zw.Close()
	return buf.Bytes()
}

func buildJPEGWithEXIF(description string) []byte {
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	for y := 0; y < 4; y++ {
		for x := 0; x < 4; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 10), G: uint8(y * 10), B: 128, A: 255})
		}
	}
	var base bytes.Buffer
	if err := jpeg.Encode(&base, img, &jpeg.Options{Quality: 90}); err != nil {
		panic(err)
	}
	plain := base.Bytes()
	if description == "" {
		return plain
	}

	payload := append([]byte("Exif\x00\x00"), []byte("ImageDescription="+description)...)
	segLen := 2 + len(payload)
	seg := make([]byte, 0, 4+len(payload))
	seg = append(seg, 0xFF, 0xE1)
	seg = append(seg, byte(segLen>>8), byte(segLen&0xFF))
	seg = append(seg, payload...)

	out := make([]byte, 0, len(plain)+len(seg))
	out = append(out, plain[:2]...) // SOI
	out = append(out, seg...)
	out = append(out, plain[2:]...)
	return out
}

func buildPDF(author string, openAction bool) []byte {
	extra := ""
	if openAction {
		extra = "/OpenAction 3 0 R"
	}
	var buf bytes.Buffer
	buf.WriteString("%PDF-1.4\n")
	buf.WriteString("1 0 obj\n<< /Type /Catalog " + extra + " >>\nendobj\n")
	buf.WriteString("2 0 obj\n<< /Author (" + author + ") >>\nendobj\n")
	buf.WriteString("trailer\n<< /Root 1 0 R /Info 2 0 R >>\n")
	buf.WriteString("%%EOF\n")
	return buf.Bytes()
}
