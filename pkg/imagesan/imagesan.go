// Package imagesan re-encodes images dropping metadata while preserving
// pixel content. Each format gets the treatment best suited to it: JPEG
// is decoded and re-encoded at a fixed quality of 90; PNG and WebP are
// edited at the chunk/RIFF-segment level, never decoded to pixels, so
// their sanitized output is bit-exact on the image data; TIFF is
// decoded and re-encoded with Deflate compression.
package imagesan

import (
	"bytes"
	"fmt"
	"image/jpeg"

	"golang.org/x/image/tiff"

	"github.com/mlawlis/filesanitize/pkg/model"
)

// JPEGQuality is the fixed re-encode quality used for every sanitized JPEG.
const JPEGQuality = 90

// Sanitize dispatches to the format-specific sanitizer for t and returns
// the metadata-free bytes. err is non-nil only on decode/encode failure,
// in which case the caller must produce an "error" action record and
// write no output.
func Sanitize(t model.ContentType, data []byte) ([]byte, error) {
	switch t {
	case model.TypeJPEG:
		return sanitizeJPEG(data)
	case model.TypePNG:
		return sanitizePNG(data)
	case model.TypeWebP:
		return sanitizeWebP(data)
	case model.TypeTIFF:
		return sanitizeTIFF(data)
	default:
		return nil, fmt.Errorf("imagesan: unsupported content type %q", t)
	}
}

func sanitizeJPEG(data []byte) ([]byte, error) {
	img, err := jpeg.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decoding jpeg: %w", err)
	}
	var out bytes.Buffer
	if err := jpeg.Encode(&out, img, &jpeg.Options{Quality: JPEGQuality}); err != nil {
		return nil, fmt.Errorf("encoding jpeg: %w", err)
	}
	return out.Bytes(), nil
}

func sanitizeTIFF(data []byte) ([]byte, error) {
	img, err := tiff.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decoding tiff: %w", err)
	}
	var out bytes.Buffer
	opts := &tiff.Options{Compression: tiff.Deflate, Predictor: true}
	if err := tiff.Encode(&out, img, opts); err != nil {
		return nil, fmt.Errorf("encoding tiff: %w", err)
	}
	return out.Bytes(), nil
}
