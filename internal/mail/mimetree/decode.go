package mimetree

import (
	"encoding/base64"
	"io"
	"mime/quotedprintable"
	"strings"
	"unicode/utf8"

	htmlcharset "golang.org/x/net/html/charset"
)

// DecodeTransfer reverses the declared content-transfer-encoding. Base64 and
// quoted-printable are decoded; 7bit, 8bit, binary and anything unknown pass
// through unchanged. Decoding is best-effort: malformed input yields
// whatever decoded cleanly.
func DecodeTransfer(data []byte, encoding string) []byte {
	switch strings.ToUpper(strings.TrimSpace(encoding)) {
	case EncodingBase64:
		cleaned := strings.Map(dropSpace, string(data))
		out := make([]byte, base64.StdEncoding.DecodedLen(len(cleaned)))
		n, err := base64.StdEncoding.Decode(out, []byte(cleaned))
		if err != nil && n == 0 {
			return data
		}
		return out[:n]
	case EncodingQuotedPrintable:
		out, err := io.ReadAll(quotedprintable.NewReader(strings.NewReader(string(data))))
		if err != nil && len(out) == 0 {
			return data
		}
		return out
	default:
		return data
	}
}

func dropSpace(r rune) rune {
	switch r {
	case ' ', '\t', '\r', '\n':
		return -1
	}
	return r
}

// ConvertCharset converts text from the declared source charset to UTF-8
// using the shared HTML charset tables. When the charset is unknown, or no
// converter is available, the text is coerced to valid UTF-8 instead.
func ConvertCharset(data []byte, srcCharset string) string {
	srcCharset = strings.TrimSpace(srcCharset)
	if srcCharset != "" {
		if reader, err := htmlcharset.NewReaderLabel(srcCharset, strings.NewReader(string(data))); err == nil {
			if out, err := io.ReadAll(reader); err == nil {
				return string(out)
			}
		}
	}
	return CoerceUTF8(data)
}

// CoerceUTF8 returns the input as valid UTF-8, reinterpreting invalid bytes
// as Latin-1 code points.
func CoerceUTF8(data []byte) string {
	if utf8.Valid(data) {
		return string(data)
	}
	var b strings.Builder
	b.Grow(len(data))
	for _, c := range data {
		b.WriteRune(rune(c))
	}
	return b.String()
}
