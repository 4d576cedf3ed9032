package mimetree

import (
	"log"
	"strings"
)

// Source fetches message structure and raw body sections on demand. Both
// session implementations satisfy it.
type Source interface {
	FetchStructure(seq uint32) (*Part, error)
	FetchBodySection(seq uint32, path string) ([]byte, error)
}

// Walker locates and assembles message parts by media type.
type Walker struct {
	src    Source
	logger *log.Logger
}

// WalkerOption customizes a Walker.
type WalkerOption func(*Walker)

// NewWalker builds a walker over the given part source.
func NewWalker(src Source, opts ...WalkerOption) *Walker {
	w := &Walker{src: src, logger: log.Default()}
	for _, opt := range opts {
		if opt != nil {
			opt(w)
		}
	}
	return w
}

// WithWalkerLogger overrides the logger used for diagnostics.
func WithWalkerLogger(logger *log.Logger) WalkerOption {
	return func(w *Walker) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// FindPart searches the message's MIME tree depth-first for parts whose
// combined TYPE/subtype matches mimeType (case-insensitive), fetches each
// matching body, reverses its transfer encoding, and concatenates the
// results. A non-empty targetCharset requests charset conversion: the text
// is converted from the part's declared CHARSET parameter (US-ASCII is
// ignored) into UTF-8, falling back to a best-effort UTF-8 coercion when no
// charset is declared or no converter is available. Returns the empty
// string when nothing matches or the structure cannot be fetched.
//
// Parts that carry disposition parameters are never treated as body
// candidates; they belong to the attachment scan.
func (w *Walker) FindPart(seq uint32, mimeType, targetCharset string) string {
	part, err := w.src.FetchStructure(seq)
	if err != nil {
		w.logf("mimetree: structure fetch failed for %d: %v", seq, err)
		return ""
	}
	return w.findPart(seq, mimeType, targetCharset, part, "")
}

func (w *Walker) findPart(seq uint32, mimeType, targetCharset string, part *Part, path string) string {
	if part == nil {
		return ""
	}
	if len(part.DispositionParams) == 0 && strings.EqualFold(mimeType, part.MimeType()) {
		if text := w.fetchText(seq, targetCharset, part, pathOrRoot(path)); text != "" {
			return text
		}
	}
	var b strings.Builder
	for i, child := range part.Children {
		if result := w.findPart(seq, mimeType, targetCharset, child, childPath(path, i)); result != "" {
			b.WriteString(result)
		}
	}
	return b.String()
}

func (w *Walker) fetchText(seq uint32, targetCharset string, part *Part, path string) string {
	raw, err := w.src.FetchBodySection(seq, path)
	if err != nil {
		w.logf("mimetree: body fetch failed for %d part %s: %v", seq, path, err)
		return ""
	}
	if len(raw) == 0 {
		return ""
	}
	text := DecodeTransfer(raw, part.Encoding)
	if targetCharset == "" {
		return string(text)
	}
	srcCharset := part.Param("CHARSET")
	if strings.EqualFold(srcCharset, "US-ASCII") {
		srcCharset = ""
	}
	return ConvertCharset(text, srcCharset)
}

func (w *Walker) logf(format string, args ...any) {
	if w == nil || w.logger == nil {
		return
	}
	w.logger.Printf(format, args...)
}
