package annotation

import (
	"bytes"
	"errors"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"
)

// ErrBinaryContent is returned by Decode when no attempted encoding
// yields text (the content contains NUL bytes under every attempt).
var ErrBinaryContent = errors.New("content is not text under any attempted encoding")

var (
	bomUTF8    = []byte{0xEF, 0xBB, 0xBF}
	bomUTF16LE = []byte{0xFF, 0xFE}
	bomUTF16BE = []byte{0xFE, 0xFF}
)

// Decode converts raw file bytes to a string, trying a short ordered
// list of encodings: UTF-8, BOM-signalled UTF-16 (LE/BE), then Latin-1
// as a lossless fallback. A leading byte-order marker is stripped.
// Content that still contains NUL bytes is rejected as binary.
func Decode(data []byte) (string, error) {
	// UTF-16 BOMs take priority; valid-looking UTF-8 cannot start with them.
	if bytes.HasPrefix(data, bomUTF16LE) {
		return decodeUTF16(data, unicode.LittleEndian)
	}
	if bytes.HasPrefix(data, bomUTF16BE) {
		return decodeUTF16(data, unicode.BigEndian)
	}

	data = bytes.TrimPrefix(data, bomUTF8)

	if utf8.Valid(data) {
		if bytes.IndexByte(data, 0) >= 0 {
			return "", ErrBinaryContent
		}
		return string(data), nil
	}

	// Latin-1 maps every byte to a rune, so it always "succeeds";
	// the NUL check is what separates legacy text from binary.
	if bytes.IndexByte(data, 0) >= 0 {
		return "", ErrBinaryContent
	}
	decoded, err := charmap.ISO8859_1.NewDecoder().Bytes(data)
	if err != nil {
		return "", ErrBinaryContent
	}
	return string(decoded), nil
}

func decodeUTF16(data []byte, endianness unicode.Endianness) (string, error) {
	dec := unicode.UTF16(endianness, unicode.ExpectBOM).NewDecoder()
	decoded, err := dec.Bytes(data)
	if err != nil {
		return "", ErrBinaryContent
	}
	s := strings.TrimPrefix(string(decoded), "\uFEFF")
	if strings.IndexByte(s, 0) >= 0 {
		return "", ErrBinaryContent
	}
	return s, nil
}
