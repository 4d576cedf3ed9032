package mimetree

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDecodeTransfer(t *testing.T) {
	tests := []struct {
		name     string
		data     string
		encoding string
		want     string
	}{
		{
			name:     "base64",
			data:     "aGVsbG8gd29ybGQ=",
			encoding: "BASE64",
			want:     "hello world",
		},
		{
			name:     "base64 with line breaks",
			data:     "aGVsbG8g\r\nd29ybGQ=\r\n",
			encoding: "base64",
			want:     "hello world",
		},
		{
			name:     "quoted-printable",
			data:     "caf=C3=A9 au=20lait",
			encoding: "QUOTED-PRINTABLE",
			want:     "café au lait",
		},
		{
			name:     "quoted-printable soft break",
			data:     "long =\r\nline",
			encoding: "quoted-printable",
			want:     "long line",
		},
		{
			name:     "7bit passthrough",
			data:     "plain text",
			encoding: "7BIT",
			want:     "plain text",
		},
		{
			name:     "unknown encoding passthrough",
			data:     "whatever",
			encoding: "X-UUENCODE",
			want:     "whatever",
		},
		{
			name:     "malformed base64 passthrough",
			data:     "!!!not base64!!!",
			encoding: "BASE64",
			want:     "!!!not base64!!!",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DecodeTransfer([]byte(tt.data), tt.encoding)
			require.Equal(t, tt.want, string(got))
		})
	}
}

func TestConvertCharset(t *testing.T) {
	// "café" in ISO-8859-1: é is a single 0xE9 byte.
	latin1 := []byte{'c', 'a', 'f', 0xE9}
	require.Equal(t, "café", ConvertCharset(latin1, "iso-8859-1"))

	// Unknown charset falls back to coercion, which reads bytes as Latin-1.
	require.Equal(t, "café", ConvertCharset(latin1, "x-no-such-charset"))

	// Valid UTF-8 with no declared charset passes through.
	require.Equal(t, "café", ConvertCharset([]byte("café"), ""))
}

func TestCoerceUTF8(t *testing.T) {
	require.Equal(t, "ok", CoerceUTF8([]byte("ok")))
	require.Equal(t, "café", CoerceUTF8([]byte{'c', 'a', 'f', 0xE9}))
}
