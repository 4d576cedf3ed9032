package mimetree

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	structure *Part
	bodies    map[string][]byte

	structureErr error
	bodyErr      error
}

func (f *fakeSource) FetchStructure(seq uint32) (*Part, error) {
	if f.structureErr != nil {
		return nil, f.structureErr
	}
	return f.structure, nil
}

func (f *fakeSource) FetchBodySection(seq uint32, path string) ([]byte, error) {
	if f.bodyErr != nil {
		return nil, f.bodyErr
	}
	body, ok := f.bodies[path]
	if !ok {
		return nil, errors.New("no such part")
	}
	return body, nil
}

func TestFindPartSinglePart(t *testing.T) {
	src := &fakeSource{
		structure: &Part{Type: "TEXT", Subtype: "PLAIN", Encoding: Encoding7Bit},
		bodies:    map[string][]byte{"1": []byte("hello")},
	}
	w := NewWalker(src)
	require.Equal(t, "hello", w.FindPart(1, "TEXT/PLAIN", "utf-8"))
}

func TestFindPartConcatenatesMatches(t *testing.T) {
	src := &fakeSource{
		structure: &Part{
			Type: "MULTIPART", Subtype: "MIXED",
			Children: []*Part{
				{Type: "TEXT", Subtype: "PLAIN", Encoding: Encoding7Bit},
				{Type: "TEXT", Subtype: "HTML", Encoding: Encoding7Bit},
				{Type: "TEXT", Subtype: "PLAIN", Encoding: Encoding7Bit},
			},
		},
		bodies: map[string][]byte{
			"1": []byte("first "),
			"2": []byte("<p>ignored</p>"),
			"3": []byte("second"),
		},
	}
	w := NewWalker(src)
	require.Equal(t, "first second", w.FindPart(1, "text/plain", "utf-8"))
}

func TestFindPartSkipsDispositionParts(t *testing.T) {
	src := &fakeSource{
		structure: &Part{
			Type: "MULTIPART", Subtype: "MIXED",
			Children: []*Part{
				{Type: "TEXT", Subtype: "PLAIN", Encoding: Encoding7Bit},
				{
					Type: "TEXT", Subtype: "PLAIN", Encoding: EncodingBase64,
					Disposition:       "attachment",
					DispositionParams: []Param{{Name: "filename", Value: "log.txt"}},
				},
			},
		},
		bodies: map[string][]byte{
			"1": []byte("body"),
			"2": []byte("bG9nIGNvbnRlbnRz"),
		},
	}
	w := NewWalker(src)
	require.Equal(t, "body", w.FindPart(1, "TEXT/PLAIN", "utf-8"))
}

func TestFindPartDecodesAndConverts(t *testing.T) {
	// base64("caf\xE9") with a declared latin-1 charset.
	src := &fakeSource{
		structure: &Part{
			Type: "TEXT", Subtype: "PLAIN", Encoding: EncodingBase64,
			Params: []Param{{Name: "CHARSET", Value: "iso-8859-1"}},
		},
		bodies: map[string][]byte{"1": []byte("Y2Fm6Q==")},
	}
	w := NewWalker(src)
	require.Equal(t, "café", w.FindPart(1, "TEXT/PLAIN", "utf-8"))
}

func TestFindPartNestedPaths(t *testing.T) {
	src := &fakeSource{
		structure: &Part{
			Type: "MULTIPART", Subtype: "MIXED",
			Children: []*Part{
				{
					Type: "MULTIPART", Subtype: "ALTERNATIVE",
					Children: []*Part{
						{Type: "TEXT", Subtype: "PLAIN", Encoding: Encoding7Bit},
						{Type: "TEXT", Subtype: "HTML", Encoding: Encoding7Bit},
					},
				},
				{Type: "APPLICATION", Subtype: "PDF", Encoding: EncodingBase64},
			},
		},
		bodies: map[string][]byte{"1.1": []byte("nested plain")},
	}
	w := NewWalker(src)
	require.Equal(t, "nested plain", w.FindPart(1, "TEXT/PLAIN", "utf-8"))
}

func TestFindPartErrorsReturnEmpty(t *testing.T) {
	w := NewWalker(&fakeSource{structureErr: errors.New("boom")})
	require.Equal(t, "", w.FindPart(1, "TEXT/PLAIN", "utf-8"))

	w = NewWalker(&fakeSource{
		structure: &Part{Type: "TEXT", Subtype: "PLAIN"},
		bodyErr:   errors.New("boom"),
	})
	require.Equal(t, "", w.FindPart(1, "TEXT/PLAIN", "utf-8"))
}
