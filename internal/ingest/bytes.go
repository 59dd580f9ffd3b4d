package ingest

// bytes.go cleans raw file bytes before parsing.
//
// Files are read whole because the input hash covers their raw bytes, so the
// cleanup happens in memory rather than through a wrapping reader:
//
//   - stripBOM: Removes the UTF-8 BOM (0xEF 0xBB 0xBF) Excel prepends on export
//   - sanitizeUTF8: Replaces each invalid byte with '?'

import (
	"bytes"
	"unicode/utf8"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

func stripBOM(data []byte) []byte {
	return bytes.TrimPrefix(data, utf8BOM)
}

// sanitizeUTF8 returns data unchanged when it is valid UTF-8. Otherwise every
// byte that does not start a valid rune becomes '?', keeping column offsets
// predictable for operators comparing against the source file.
func sanitizeUTF8(data []byte) []byte {
	if utf8.Valid(data) {
		return data
	}

	out := make([]byte, 0, len(data))
	for len(data) > 0 {
		r, size := utf8.DecodeRune(data)
		if r == utf8.RuneError && size == 1 {
			out = append(out, '?')
		} else {
			out = append(out, data[:size]...)
		}
		data = data[size:]
	}
	return out
}

// cleanBytes applies both transforms in the order they must run.
func cleanBytes(data []byte) []byte {
	return sanitizeUTF8(stripBOM(data))
}
