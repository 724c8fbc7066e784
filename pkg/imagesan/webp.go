package imagesan

import (
	"encoding/binary"
	"fmt"
)

// webpDroppedChunks are RIFF chunk FourCCs carrying metadata this
// sanitizer strips from a WebP container. VP8/VP8L/VP8X/ALPH/ANIM/ANMF
// and any other chunk pass through untouched.
var webpDroppedChunks = map[string]bool{
	"EXIF": true,
	"XMP ": true,
}

// sanitizeWebP walks the RIFF chunk list inside a WebP container and
// drops EXIF/XMP metadata chunks, copying every other chunk (including
// odd-length chunks' pad byte) verbatim.
func sanitizeWebP(data []byte) ([]byte, error) {
	if len(data) < 12 || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WEBP" {
		return nil, fmt.Errorf("sanitizing webp: bad RIFF/WEBP header")
	}
	body := data[12:]
	out := make([]byte, 0, len(data))

	pos := 0
	for pos < len(body) {
		if pos+8 > len(body) {
			return nil, fmt.Errorf("sanitizing webp: truncated chunk header at offset %d", pos)
		}
		fourCC := string(body[pos : pos+4])
		size := binary.LittleEndian.Uint32(body[pos+4 : pos+8])
		padded := size
		if padded%2 == 1 {
			padded++
		}
		chunkEnd := pos + 8 + int(padded)
		if chunkEnd > len(body) || chunkEnd < pos {
			return nil, fmt.Errorf("sanitizing webp: chunk %q size overruns buffer", fourCC)
		}
		if !webpDroppedChunks[fourCC] {
			start := len(out)
			out = append(out, body[pos:chunkEnd]...)
			if fourCC == "VP8X" && size >= 1 {
				// The VP8X feature flags advertise EXIF (0x08) and XMP
				// (0x04) chunks; clear them so the header doesn't claim
				// chunks the output no longer carries.
				out[start+8] &^= 0x08 | 0x04
			}
		}
		pos = chunkEnd
	}

	riffSize := uint32(4 + len(out)) // "WEBP" + chunks
	header := make([]byte, 12)
	copy(header[0:4], "RIFF")
	binary.LittleEndian.PutUint32(header[4:8], riffSize)
	copy(header[8:12], "WEBP")

	result := make([]byte, 0, len(header)+len(out))
	result = append(result, header...)
	result = append(result, out...)
	return result, nil
}
