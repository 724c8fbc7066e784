package imagesan

import (
	"encoding/binary"
	"fmt"
)

var pngSignature = []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A}

// pngDroppedChunks are ancillary chunk types carrying metadata this
// sanitizer strips. IHDR/PLTE/IDAT/IEND and any other chunk type pass
// through untouched, byte-for-byte.
var pngDroppedChunks = map[string]bool{
	"tEXt": true,
	"zTXt": true,
	"iTXt": true,
	"eXIf": true,
	"tIME": true,
}

// sanitizePNG walks the chunk stream and drops metadata-carrying ancillary
// chunks, copying every other chunk's length+type+data+crc verbatim. It
// never touches pixel data, so the image content is bit-exact.
func sanitizePNG(data []byte) ([]byte, error) {
	if len(data) < 8 || string(data[:8]) != string(pngSignature) {
		return nil, fmt.Errorf("sanitizing png: bad signature")
	}
	out := make([]byte, 0, len(data))
	out = append(out, pngSignature...)

	pos := 8
	for pos < len(data) {
		if pos+8 > len(data) {
			return nil, fmt.Errorf("sanitizing png: truncated chunk header at offset %d", pos)
		}
		length := binary.BigEndian.Uint32(data[pos : pos+4])
		typ := string(data[pos+4 : pos+8])
		chunkEnd := pos + 8 + int(length) + 4
		if chunkEnd > len(data) || chunkEnd < pos {
			return nil, fmt.Errorf("sanitizing png: chunk %q length overruns buffer", typ)
		}
		if !pngDroppedChunks[typ] {
			out = append(out, data[pos:chunkEnd]...)
		}
		if typ == "IEND" {
			break
		}
		pos = chunkEnd
	}
	return out, nil
}
