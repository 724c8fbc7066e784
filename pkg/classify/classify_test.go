package classify

import (
	"testing"

	"github.com/mlawlis/filesanitize/pkg/model"
)

func TestClassifySupportedFixturesRoundTrip(t *testing.T) {
	cases := []struct {
		name   string
		prefix []byte
		ext    string
		want   model.ContentType
	}{
		{"jpeg", append(jpegMagic, 0x00, 0x10), ".jpg", model.TypeJPEG},
		{"png", pngMagic, ".png", model.TypePNG},
		{"tiff-le", tiffLE, ".tif", model.TypeTIFF},
		{"tiff-be", tiffBE, ".tiff", model.TypeTIFF},
		{"pdf", pdfMagic, ".pdf", model.TypePDF},
		{"webp", append([]byte("RIFF\x00\x00\x00\x00WEBP"), 0), ".webp", model.TypeWebP},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			res := Classify(c.prefix, c.ext, nil)
			if res.Type != c.want {
				t.Fatalf("got %v, want %v", res.Type, c.want)
			}
			if res.Warning != nil {
				t.Fatalf("unexpected warning for matching extension: %+v", res.Warning)
			}
		})
	}
}

func TestClassifyPDFRenamedJPGDetectsByBytes(t *testing.T) {
	res := Classify(pdfMagic, ".jpg", nil)
	if res.Type != model.TypePDF {
		t.Fatalf("got %v, want pdf", res.Type)
	}
	if res.Warning == nil || res.Warning.Code != "content_type_detected" {
		t.Fatalf("expected content_type_detected, got %+v", res.Warning)
	}
}

func TestClassifyTextNamedPDFIsUnknownMismatch(t *testing.T) {
	res := Classify([]byte("not a pdf at all"), ".pdf", nil)
	if res.Type != model.TypeUnknown {
		t.Fatalf("got %v, want unknown", res.Type)
	}
	if res.Warning == nil || res.Warning.Code != "content_type_mismatch" {
		t.Fatalf("expected content_type_mismatch, got %+v", res.Warning)
	}
}

func TestClassifyTextNamedZipIsUnknownMismatch(t *testing.T) {
	res := Classify([]byte("not an archive!!"), ".zip", nil)
	if res.Type != model.TypeUnknown {
		t.Fatalf("got %v, want unknown", res.Type)
	}
	if res.Warning == nil || res.Warning.Code != "content_type_mismatch" {
		t.Fatalf("expected content_type_mismatch, got %+v", res.Warning)
	}
}

func TestClassifyZipRenamedJPGDetectsByBytes(t *testing.T) {
	res := Classify(zipLocal, ".jpg", nil)
	if res.Type != model.TypeZIP {
		t.Fatalf("got %v, want zip", res.Type)
	}
	if res.Warning == nil || res.Warning.Code != "content_type_detected" {
		t.Fatalf("expected content_type_detected, got %+v", res.Warning)
	}
}

func TestClassifyZipOOXMLReconciliation(t *testing.T) {
	res := Classify(zipLocal, ".docx", func() bool { return true })
	if res.Type != model.TypeOOXML {
		t.Fatalf("got %v, want ooxml", res.Type)
	}
	if res.Warning != nil {
		t.Fatalf("expected no warning for a matching OOXML extension, got %+v", res.Warning)
	}
}

func TestIsOOXMLContainer(t *testing.T) {
	if !IsOOXMLContainer([]string{"[Content_Types].xml", "docProps/core.xml", "word/document.xml"}) {
		t.Fatal("expected OOXML container detected")
	}
	if IsOOXMLContainer([]string{"[Content_Types].xml", "word/document.xml"}) {
		t.Fatal("expected plain zip, no docProps/")
	}
}

func TestClassifyDeterministic(t *testing.T) {
	r1 := Classify(jpegMagic, ".jpg", nil)
	r2 := Classify(jpegMagic, ".jpg", nil)
	if r1.Type != r2.Type {
		t.Fatal("classification must be a pure function of its inputs")
	}
}
